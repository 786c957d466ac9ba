package settle_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/arenax/settlement-engine/internal/compliance"
	"github.com/arenax/settlement-engine/internal/errs"
	"github.com/arenax/settlement-engine/internal/escrow"
	"github.com/arenax/settlement-engine/internal/model"
	"github.com/arenax/settlement-engine/internal/settle"
	"github.com/arenax/settlement-engine/internal/store"
)

const sol = 1_000_000_000

// newTestEnv creates a service over the in-memory store with an
// initialized platform (admin "admin", treasury "treasury", 250 bps).
func newTestEnv(t *testing.T) (*settle.Service, *store.MemoryStore, *compliance.StaticOracle) {
	t.Helper()
	ms := store.NewMemoryStore()
	oracle := compliance.NewStaticOracle()
	svc := settle.NewService(ms, escrow.NewManager(ms), oracle, nil, 250)

	if _, err := svc.InitializePlatform(context.Background(), "admin", "treasury", 250); err != nil {
		t.Fatalf("init platform: %v", err)
	}
	return svc, ms, oracle
}

// newBettor registers a level-2 user and funds their wallet.
func newBettor(t *testing.T, svc *settle.Service, ms *store.MemoryStore, authority string, balance uint64) {
	t.Helper()
	ctx := context.Background()
	if _, err := svc.CreateUser(ctx, authority, "user_"+authority, 2, 0); err != nil {
		t.Fatalf("create user %s: %v", authority, err)
	}
	if err := ms.CreditWallet(ctx, authority, balance); err != nil {
		t.Fatalf("fund wallet %s: %v", authority, err)
	}
}

func openMatch(t *testing.T, svc *settle.Service, duration time.Duration) *model.Match {
	t.Helper()
	m, err := svc.CreateMatch(context.Background(), "admin", "agent-a", "agent-b", 0, 0, duration)
	if err != nil {
		t.Fatalf("create match: %v", err)
	}
	return m
}

func placeBet(t *testing.T, svc *settle.Service, bettor, matchID string, choice uint8, amt uint64) *model.Bet {
	t.Helper()
	bet, err := svc.PlaceBet(context.Background(), bettor, matchID, choice, amt)
	if err != nil {
		t.Fatalf("place bet %s: %v", bettor, err)
	}
	return bet
}

// --- Platform tests ---

func TestInitializePlatform_FeeCap(t *testing.T) {
	ms := store.NewMemoryStore()
	svc := settle.NewService(ms, escrow.NewManager(ms), compliance.NewStaticOracle(), nil, 250)

	if _, err := svc.InitializePlatform(context.Background(), "admin", "treasury", 1001); !errors.Is(err, errs.ErrInvalidFeePercentage) {
		t.Errorf("expected ErrInvalidFeePercentage for 1001 bps, got %v", err)
	}
	// Exactly at the cap is allowed.
	if _, err := svc.InitializePlatform(context.Background(), "admin", "treasury", 1000); err != nil {
		t.Errorf("1000 bps should be accepted: %v", err)
	}
}

func TestInitializePlatform_Singleton(t *testing.T) {
	svc, _, _ := newTestEnv(t)
	if _, err := svc.InitializePlatform(context.Background(), "other", "t2", 100); !errors.Is(err, errs.ErrAlreadyInitialized) {
		t.Errorf("expected ErrAlreadyInitialized, got %v", err)
	}
}

func TestUpdatePlatformConfig_AdminOnly(t *testing.T) {
	svc, ms, _ := newTestEnv(t)
	ctx := context.Background()

	if err := svc.UpdatePlatformConfig(ctx, "mallory", 100, true); !errors.Is(err, errs.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
	if err := svc.UpdatePlatformConfig(ctx, "admin", 500, true); err != nil {
		t.Fatalf("admin update: %v", err)
	}

	p, _ := ms.GetPlatform(ctx)
	if p.FeeBasisPoints != 500 || !p.IsPaused {
		t.Errorf("config not applied: fee=%d paused=%v", p.FeeBasisPoints, p.IsPaused)
	}
}

func TestPausedPlatformRejectsActivity(t *testing.T) {
	svc, ms, _ := newTestEnv(t)
	ctx := context.Background()
	newBettor(t, svc, ms, "alice", 10*sol)
	m := openMatch(t, svc, time.Hour)

	if err := svc.UpdatePlatformConfig(ctx, "admin", 250, true); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.PlaceBet(ctx, "alice", m.ID, model.Choice1, 1*sol); !errors.Is(err, errs.ErrPlatformPaused) {
		t.Errorf("expected ErrPlatformPaused for bet, got %v", err)
	}
	if _, err := svc.CreateMatch(ctx, "admin", "a", "b", 0, 0, time.Hour); !errors.Is(err, errs.ErrPlatformPaused) {
		t.Errorf("expected ErrPlatformPaused for match, got %v", err)
	}

	// Unpausing restores service.
	if err := svc.UpdatePlatformConfig(ctx, "admin", 250, false); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.PlaceBet(ctx, "alice", m.ID, model.Choice1, 1*sol); err != nil {
		t.Errorf("bet after unpause: %v", err)
	}
}

// --- Bet placement tests ---

func TestPlaceBet_AmountBounds(t *testing.T) {
	svc, ms, _ := newTestEnv(t)
	ctx := context.Background()
	newBettor(t, svc, ms, "alice", 200*sol)
	m := openMatch(t, svc, time.Hour)

	if _, err := svc.PlaceBet(ctx, "alice", m.ID, model.Choice1, 9_999_999); !errors.Is(err, errs.ErrBetAmountOutOfRange) {
		t.Errorf("below minimum: expected ErrBetAmountOutOfRange, got %v", err)
	}
	if _, err := svc.PlaceBet(ctx, "alice", m.ID, model.Choice1, 100*sol+1); !errors.Is(err, errs.ErrBetAmountOutOfRange) {
		t.Errorf("above maximum: expected ErrBetAmountOutOfRange, got %v", err)
	}
	// Both bounds are inclusive.
	if _, err := svc.PlaceBet(ctx, "alice", m.ID, model.Choice1, 10_000_000); err != nil {
		t.Errorf("minimum bet should be accepted: %v", err)
	}
	if _, err := svc.PlaceBet(ctx, "alice", m.ID, model.Choice2, 100*sol); err != nil {
		t.Errorf("maximum bet should be accepted: %v", err)
	}
}

func TestPlaceBet_KycLimit(t *testing.T) {
	svc, ms, _ := newTestEnv(t)
	ctx := context.Background()

	// Level 0 is capped at 1 SOL.
	if _, err := svc.CreateUser(ctx, "newbie", "newbie_user", 0, 0); err != nil {
		t.Fatal(err)
	}
	if err := ms.CreditWallet(ctx, "newbie", 10*sol); err != nil {
		t.Fatal(err)
	}
	m := openMatch(t, svc, time.Hour)

	if _, err := svc.PlaceBet(ctx, "newbie", m.ID, model.Choice1, 2*sol); !errors.Is(err, errs.ErrKycLimitExceeded) {
		t.Errorf("expected ErrKycLimitExceeded, got %v", err)
	}
	if _, err := svc.PlaceBet(ctx, "newbie", m.ID, model.Choice1, 1*sol); err != nil {
		t.Errorf("bet at tier limit should be accepted: %v", err)
	}
}

func TestPlaceBet_ComplianceBlock(t *testing.T) {
	svc, ms, oracle := newTestEnv(t)
	ctx := context.Background()
	newBettor(t, svc, ms, "mallory", 10*sol)
	oracle.Blocklist = map[string]bool{"mallory": true}
	m := openMatch(t, svc, time.Hour)

	if _, err := svc.PlaceBet(ctx, "mallory", m.ID, model.Choice1, 1*sol); !errors.Is(err, errs.ErrComplianceRejected) {
		t.Errorf("expected ErrComplianceRejected, got %v", err)
	}

	// Nothing moved.
	bal, _ := ms.WalletBalance(ctx, "mallory")
	if bal != 10*sol {
		t.Errorf("wallet must be untouched after rejection, got %d", bal)
	}
}

func TestPlaceBet_InvalidChoice(t *testing.T) {
	svc, ms, _ := newTestEnv(t)
	newBettor(t, svc, ms, "alice", 10*sol)
	m := openMatch(t, svc, time.Hour)

	for _, choice := range []uint8{0, 3} {
		if _, err := svc.PlaceBet(context.Background(), "alice", m.ID, choice, 1*sol); !errors.Is(err, errs.ErrInvalidChoice) {
			t.Errorf("choice %d: expected ErrInvalidChoice, got %v", choice, err)
		}
	}
}

func TestPlaceBet_ExpiredWindow(t *testing.T) {
	svc, ms, _ := newTestEnv(t)
	newBettor(t, svc, ms, "alice", 10*sol)
	m := openMatch(t, svc, time.Nanosecond)

	if _, err := svc.PlaceBet(context.Background(), "alice", m.ID, model.Choice1, 1*sol); !errors.Is(err, errs.ErrMatchExpired) {
		t.Errorf("expected ErrMatchExpired, got %v", err)
	}
}

func TestDeactivatedUserCannotBet(t *testing.T) {
	svc, ms, _ := newTestEnv(t)
	ctx := context.Background()
	newBettor(t, svc, ms, "alice", 10*sol)
	m := openMatch(t, svc, time.Hour)

	if err := svc.DeactivateUser(ctx, "mallory", "alice"); !errors.Is(err, errs.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized for third-party deactivate, got %v", err)
	}
	if err := svc.DeactivateUser(ctx, "alice", "alice"); err != nil {
		t.Fatalf("self deactivate: %v", err)
	}
	if _, err := svc.PlaceBet(ctx, "alice", m.ID, model.Choice1, 1*sol); !errors.Is(err, errs.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized for deactivated bettor, got %v", err)
	}
}

// --- Parimutuel settlement ---

func TestParimutuelSettlement(t *testing.T) {
	// Alice and Bob bet 1 SOL each on choice 1, Carol bets 2 SOL on
	// choice 2. Choice 1 wins. Fee is 250 bps of the 4 SOL pool =
	// 0.1 SOL; net pool 3.9 SOL splits evenly: 1.95 SOL per winner.
	svc, ms, _ := newTestEnv(t)
	ctx := context.Background()
	newBettor(t, svc, ms, "alice", 1*sol)
	newBettor(t, svc, ms, "bob", 1*sol)
	newBettor(t, svc, ms, "carol", 2*sol)

	m := openMatch(t, svc, time.Hour)
	aliceBet := placeBet(t, svc, "alice", m.ID, model.Choice1, 1*sol)
	bobBet := placeBet(t, svc, "bob", m.ID, model.Choice1, 1*sol)
	carolBet := placeBet(t, svc, "carol", m.ID, model.Choice2, 2*sol)

	final, err := svc.FinalizeMatch(ctx, "admin", m.ID, model.Choice1, "board-hash-1")
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if final.FeeCollected != 100_000_000 {
		t.Errorf("expected fee 0.1 SOL, got %d", final.FeeCollected)
	}
	if treasury, _ := ms.WalletBalance(ctx, "treasury"); treasury != 100_000_000 {
		t.Errorf("treasury should hold the fee, got %d", treasury)
	}

	for _, tc := range []struct {
		authority string
		betID     string
	}{
		{"alice", aliceBet.ID},
		{"bob", bobBet.ID},
	} {
		claimed, err := svc.ClaimWinnings(ctx, tc.authority, tc.betID)
		if err != nil {
			t.Fatalf("claim %s: %v", tc.authority, err)
		}
		if claimed.Payout != 1_950_000_000 {
			t.Errorf("%s: expected payout 1.95 SOL, got %d", tc.authority, claimed.Payout)
		}
		bal, _ := ms.WalletBalance(ctx, tc.authority)
		if bal != 1_950_000_000 {
			t.Errorf("%s: expected wallet 1.95 SOL, got %d", tc.authority, bal)
		}
	}

	// The loser has no claim.
	if _, err := svc.ClaimWinnings(ctx, "carol", carolBet.ID); !errors.Is(err, errs.ErrNotAWinner) {
		t.Errorf("expected ErrNotAWinner for carol, got %v", err)
	}

	// Escrow fully drained: fee + payouts reconcile to the total pool.
	esc, _ := ms.GetEscrow(ctx, m.EscrowID)
	if esc.Balance != 0 {
		t.Errorf("escrow should be empty after all claims, got %d", esc.Balance)
	}
}

func TestClaimWinnings_BeforeFinalize(t *testing.T) {
	svc, ms, _ := newTestEnv(t)
	newBettor(t, svc, ms, "alice", 1*sol)
	m := openMatch(t, svc, time.Hour)
	bet := placeBet(t, svc, "alice", m.ID, model.Choice1, 1*sol)

	if _, err := svc.ClaimWinnings(context.Background(), "alice", bet.ID); !errors.Is(err, errs.ErrMatchNotFinalized) {
		t.Errorf("expected ErrMatchNotFinalized, got %v", err)
	}
}

func TestClaimWinnings_WrongClaimant(t *testing.T) {
	svc, ms, _ := newTestEnv(t)
	ctx := context.Background()
	newBettor(t, svc, ms, "alice", 1*sol)
	m := openMatch(t, svc, time.Hour)
	bet := placeBet(t, svc, "alice", m.ID, model.Choice1, 1*sol)

	if _, err := svc.FinalizeMatch(ctx, "admin", m.ID, model.Choice1, "h"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.ClaimWinnings(ctx, "mallory", bet.ID); !errors.Is(err, errs.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}

func TestClaimWinnings_ExactlyOnce(t *testing.T) {
	// N racing claims on the same bet: exactly one pays out.
	svc, ms, _ := newTestEnv(t)
	ctx := context.Background()
	newBettor(t, svc, ms, "alice", 1*sol)
	newBettor(t, svc, ms, "bob", 1*sol)

	m := openMatch(t, svc, time.Hour)
	bet := placeBet(t, svc, "alice", m.ID, model.Choice1, 1*sol)
	placeBet(t, svc, "bob", m.ID, model.Choice2, 1*sol)

	if _, err := svc.FinalizeMatch(ctx, "admin", m.ID, model.Choice1, "h"); err != nil {
		t.Fatal(err)
	}

	const racers = 16
	var wg sync.WaitGroup
	results := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = svc.ClaimWinnings(ctx, "alice", bet.ID)
		}(i)
	}
	wg.Wait()

	var wins int
	for _, err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, errs.ErrAlreadyClaimed):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly 1 successful claim, got %d", wins)
	}

	// 2 SOL pool, 0.05 SOL fee, alice is the sole winner: 1.95 SOL once.
	bal, _ := ms.WalletBalance(ctx, "alice")
	if bal != 1_950_000_000 {
		t.Errorf("expected wallet 1.95 SOL after single payout, got %d", bal)
	}
}

// --- Finalization ---

func TestFinalizeMatch_AdminOnly(t *testing.T) {
	svc, _, _ := newTestEnv(t)
	m := openMatch(t, svc, time.Hour)

	if _, err := svc.FinalizeMatch(context.Background(), "mallory", m.ID, model.Choice1, "h"); !errors.Is(err, errs.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}

func TestFinalizeMatch_Race(t *testing.T) {
	svc, ms, _ := newTestEnv(t)
	ctx := context.Background()
	newBettor(t, svc, ms, "alice", 1*sol)
	m := openMatch(t, svc, time.Hour)
	placeBet(t, svc, "alice", m.ID, model.Choice1, 1*sol)

	const racers = 8
	var wg sync.WaitGroup
	results := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			winner := model.Choice1
			if i%2 == 1 {
				winner = model.Choice2
			}
			_, results[i] = svc.FinalizeMatch(ctx, "admin", m.ID, winner, "h")
		}(i)
	}
	wg.Wait()

	var wins int
	for _, err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, errs.ErrAlreadyFinalized):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly 1 successful finalize, got %d", wins)
	}

	// The fee was collected exactly once.
	final, _ := ms.GetMatch(ctx, m.ID)
	if treasury, _ := ms.WalletBalance(ctx, "treasury"); treasury != final.FeeCollected {
		t.Errorf("treasury %d != fee collected %d", treasury, final.FeeCollected)
	}
}

func TestFinalizeMatch_InvalidWinner(t *testing.T) {
	svc, _, _ := newTestEnv(t)
	m := openMatch(t, svc, time.Hour)

	if _, err := svc.FinalizeMatch(context.Background(), "admin", m.ID, 3, "h"); !errors.Is(err, errs.ErrInvalidChoice) {
		t.Errorf("expected ErrInvalidChoice for winner 3, got %v", err)
	}
}

// lateBetStore lands one extra bet immediately before the finalization
// commits, standing in for a bettor racing the finalizer.
type lateBetStore struct {
	store.Store
	bet *model.Bet
}

func (s *lateBetStore) FinalizeMatch(ctx context.Context, id string, winner uint8, boardHash string, feeBasisPoints uint16) error {
	if s.bet != nil {
		bet := s.bet
		s.bet = nil
		if err := s.Store.ApplyBet(ctx, bet); err != nil {
			return err
		}
	}
	return s.Store.FinalizeMatch(ctx, id, winner, boardHash, feeBasisPoints)
}

func TestFinalizeMatch_FeeCoversBetsRacingTheCommit(t *testing.T) {
	ms := store.NewMemoryStore()
	late := &lateBetStore{Store: ms}
	svc := settle.NewService(late, escrow.NewManager(ms), compliance.NewStaticOracle(), nil, 250)
	ctx := context.Background()

	if _, err := svc.InitializePlatform(ctx, "admin", "treasury", 250); err != nil {
		t.Fatal(err)
	}
	newBettor(t, svc, ms, "alice", 1*sol)
	m := openMatch(t, svc, time.Hour)
	placeBet(t, svc, "alice", m.ID, model.Choice1, 1*sol)

	if err := ms.CreditWallet(ctx, "bob", 3*sol); err != nil {
		t.Fatal(err)
	}
	late.bet = &model.Bet{
		ID:       "late-bet",
		Bettor:   "bob",
		MatchID:  m.ID,
		Choice:   model.Choice2,
		Amount:   3 * sol,
		PlacedAt: time.Now().UTC(),
	}

	final, err := svc.FinalizeMatch(ctx, "admin", m.ID, model.Choice1, "h")
	if err != nil {
		t.Fatal(err)
	}

	// 250 bps of the full 4 SOL pool, not of the 1 SOL the finalizer
	// saw before the late bet landed.
	if final.FeeCollected != 100_000_000 {
		t.Errorf("expected fee 0.1 SOL over the final pool, got %d", final.FeeCollected)
	}
	if treasury, _ := ms.WalletBalance(ctx, "treasury"); treasury != 100_000_000 {
		t.Errorf("treasury should hold 0.1 SOL, got %d", treasury)
	}

	// Fee and payout still reconcile: alice takes the whole 3.9 SOL
	// net pool and the escrow drains to zero.
	bets, _ := ms.ListBetsByMatch(ctx, m.ID)
	for _, b := range bets {
		if b.Bettor != "alice" {
			continue
		}
		claimed, err := svc.ClaimWinnings(ctx, "alice", b.ID)
		if err != nil {
			t.Fatalf("claim: %v", err)
		}
		if claimed.Payout != 3_900_000_000 {
			t.Errorf("expected payout 3.9 SOL, got %d", claimed.Payout)
		}
	}
	esc, _ := ms.GetEscrow(ctx, m.EscrowID)
	if esc.Balance != 0 {
		t.Errorf("escrow should be empty after fee and payout, got %d", esc.Balance)
	}
}

// --- Refunds ---

func TestDraw_RefundsFullStakeNoFee(t *testing.T) {
	svc, ms, _ := newTestEnv(t)
	ctx := context.Background()
	newBettor(t, svc, ms, "alice", 1*sol)
	newBettor(t, svc, ms, "bob", 3*sol)

	m := openMatch(t, svc, time.Hour)
	aliceBet := placeBet(t, svc, "alice", m.ID, model.Choice1, 1*sol)
	bobBet := placeBet(t, svc, "bob", m.ID, model.Choice2, 3*sol)

	final, err := svc.FinalizeMatch(ctx, "admin", m.ID, model.ChoiceNone, "h")
	if err != nil {
		t.Fatal(err)
	}
	if final.FeeCollected != 0 {
		t.Errorf("draw must collect no fee, got %d", final.FeeCollected)
	}

	// Winner claims are off the table on a draw.
	if _, err := svc.ClaimWinnings(ctx, "alice", aliceBet.ID); !errors.Is(err, errs.ErrNotAWinner) {
		t.Errorf("expected ErrNotAWinner on draw, got %v", err)
	}

	// Refunds return the exact stake.
	if _, err := svc.ClaimRefund(ctx, "alice", aliceBet.ID); err != nil {
		t.Fatalf("alice refund: %v", err)
	}
	if _, err := svc.ClaimRefund(ctx, "bob", bobBet.ID); err != nil {
		t.Fatalf("bob refund: %v", err)
	}

	aliceBal, _ := ms.WalletBalance(ctx, "alice")
	bobBal, _ := ms.WalletBalance(ctx, "bob")
	if aliceBal != 1*sol || bobBal != 3*sol {
		t.Errorf("stakes not restored: alice=%d bob=%d", aliceBal, bobBal)
	}

	// Refund is exactly-once too.
	if _, err := svc.ClaimRefund(ctx, "alice", aliceBet.ID); !errors.Is(err, errs.ErrAlreadyClaimed) {
		t.Errorf("expected ErrAlreadyClaimed on second refund, got %v", err)
	}
}

func TestExpiredMatch_Refund(t *testing.T) {
	svc, ms, _ := newTestEnv(t)
	ctx := context.Background()
	newBettor(t, svc, ms, "alice", 1*sol)

	m := openMatch(t, svc, time.Minute)
	bet := placeBet(t, svc, "alice", m.ID, model.Choice1, 1*sol)

	// Refund is not available while the match is still open.
	if _, err := svc.ClaimRefund(ctx, "alice", bet.ID); !errors.Is(err, errs.ErrMatchNotFinalized) {
		t.Errorf("expected ErrMatchNotFinalized before expiry, got %v", err)
	}

	if _, err := ms.ExpireMatches(ctx, time.Now().UTC().Add(2*time.Minute)); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.ClaimRefund(ctx, "alice", bet.ID); err != nil {
		t.Fatalf("refund after expiry: %v", err)
	}
	bal, _ := ms.WalletBalance(ctx, "alice")
	if bal != 1*sol {
		t.Errorf("stake not restored, got %d", bal)
	}
}

func TestRefund_RejectedWhenMatchHasWinner(t *testing.T) {
	svc, ms, _ := newTestEnv(t)
	ctx := context.Background()
	newBettor(t, svc, ms, "alice", 1*sol)
	newBettor(t, svc, ms, "bob", 1*sol)

	m := openMatch(t, svc, time.Hour)
	placeBet(t, svc, "alice", m.ID, model.Choice1, 1*sol)
	bobBet := placeBet(t, svc, "bob", m.ID, model.Choice2, 1*sol)

	if _, err := svc.FinalizeMatch(ctx, "admin", m.ID, model.Choice1, "h"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.ClaimRefund(ctx, "bob", bobBet.ID); !errors.Is(err, errs.ErrMatchClosed) {
		t.Errorf("expected ErrMatchClosed for refund on decided match, got %v", err)
	}
}
