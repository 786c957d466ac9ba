package escrow_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/arenax/settlement-engine/internal/errs"
	"github.com/arenax/settlement-engine/internal/escrow"
	"github.com/arenax/settlement-engine/internal/store"
)

const sol = 1_000_000_000

func newManager(t *testing.T) (*escrow.Manager, *store.MemoryStore) {
	t.Helper()
	ms := store.NewMemoryStore()
	return escrow.NewManager(ms), ms
}

func fund(t *testing.T, ms *store.MemoryStore, authority string, amt uint64) {
	t.Helper()
	if err := ms.CreditWallet(context.Background(), authority, amt); err != nil {
		t.Fatalf("fund wallet: %v", err)
	}
}

func TestCreate_ZeroAmountRejected(t *testing.T) {
	mgr, _ := newManager(t)
	if _, err := mgr.Create(context.Background(), "alice", 0); !errors.Is(err, errs.ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestCreate_FundsMoveFromWallet(t *testing.T) {
	mgr, ms := newManager(t)
	ctx := context.Background()
	fund(t, ms, "alice", 10*sol)

	esc, err := mgr.Create(ctx, "alice", 3*sol)
	if err != nil {
		t.Fatal(err)
	}
	if esc.Balance != 3*sol {
		t.Errorf("expected balance 3 SOL, got %d", esc.Balance)
	}
	bal, _ := ms.WalletBalance(ctx, "alice")
	if bal != 7*sol {
		t.Errorf("expected wallet 7 SOL, got %d", bal)
	}
}

func TestCreate_InsufficientWallet(t *testing.T) {
	mgr, ms := newManager(t)
	fund(t, ms, "alice", 1*sol)

	if _, err := mgr.Create(context.Background(), "alice", 2*sol); !errors.Is(err, errs.ErrInsufficientFunds) {
		t.Errorf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestWithdraw_HappyPath(t *testing.T) {
	mgr, ms := newManager(t)
	ctx := context.Background()
	fund(t, ms, "alice", 5*sol)

	esc, err := mgr.Create(ctx, "alice", 5*sol)
	if err != nil {
		t.Fatal(err)
	}

	if err := mgr.Withdraw(ctx, esc.ID, "alice", 3*sol, "alice"); err != nil {
		t.Fatal(err)
	}

	got, _ := ms.GetEscrow(ctx, esc.ID)
	if got.Balance != 2*sol {
		t.Errorf("expected balance 2 SOL, got %d", got.Balance)
	}
	if got.IsLocked {
		t.Error("lock should be released after withdraw")
	}
	bal, _ := ms.WalletBalance(ctx, "alice")
	if bal != 3*sol {
		t.Errorf("expected wallet 3 SOL, got %d", bal)
	}
}

func TestWithdraw_Unauthorized(t *testing.T) {
	mgr, ms := newManager(t)
	ctx := context.Background()
	fund(t, ms, "alice", 5*sol)

	esc, _ := mgr.Create(ctx, "alice", 5*sol)
	if err := mgr.Withdraw(ctx, esc.ID, "mallory", 1*sol, "mallory"); !errors.Is(err, errs.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}

func TestWithdraw_InsufficientRollsBackLock(t *testing.T) {
	mgr, ms := newManager(t)
	ctx := context.Background()
	fund(t, ms, "alice", 2*sol)

	esc, _ := mgr.Create(ctx, "alice", 2*sol)
	if err := mgr.Withdraw(ctx, esc.ID, "alice", 3*sol, "alice"); !errors.Is(err, errs.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	got, _ := ms.GetEscrow(ctx, esc.ID)
	if got.IsLocked {
		t.Error("lock must be released after failed withdraw")
	}
	if got.Balance != 2*sol {
		t.Errorf("balance must be untouched, got %d", got.Balance)
	}

	// The vault is usable again.
	if err := mgr.Withdraw(ctx, esc.ID, "alice", 1*sol, "alice"); err != nil {
		t.Errorf("subsequent withdraw should succeed: %v", err)
	}
}

func TestWithdraw_ConcurrentNeverOverdraws(t *testing.T) {
	// Escrow holds 5 SOL; two racing 3 SOL withdraws. Exactly one may
	// succeed: the other observes the lock or the drained balance.
	mgr, ms := newManager(t)
	ctx := context.Background()
	fund(t, ms, "alice", 5*sol)

	esc, err := mgr.Create(ctx, "alice", 5*sol)
	if err != nil {
		t.Fatal(err)
	}

	const racers = 2
	var wg sync.WaitGroup
	results := make([]error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = mgr.Withdraw(ctx, esc.ID, "alice", 3*sol, "alice")
		}(i)
	}
	wg.Wait()

	var wins int
	for _, err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, errs.ErrEscrowLocked), errors.Is(err, errs.ErrInsufficientFunds):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly 1 successful withdraw, got %d", wins)
	}

	got, _ := ms.GetEscrow(ctx, esc.ID)
	if got.Balance != 2*sol {
		t.Errorf("expected final balance 2 SOL, got %d", got.Balance)
	}
	bal, _ := ms.WalletBalance(ctx, "alice")
	if bal != 3*sol {
		t.Errorf("total withdrawn must not exceed escrow, wallet has %d", bal)
	}
}

func TestDeposit_WhileLockedRejected(t *testing.T) {
	mgr, ms := newManager(t)
	ctx := context.Background()
	fund(t, ms, "alice", 10*sol)

	esc, _ := mgr.Create(ctx, "alice", 5*sol)
	if err := ms.TryLockEscrow(ctx, esc.ID); err != nil {
		t.Fatal(err)
	}

	if err := mgr.Deposit(ctx, esc.ID, "alice", 1*sol); !errors.Is(err, errs.ErrEscrowLocked) {
		t.Errorf("expected ErrEscrowLocked, got %v", err)
	}
	// Failed deposit must return the debited wallet funds.
	bal, _ := ms.WalletBalance(ctx, "alice")
	if bal != 5*sol {
		t.Errorf("wallet must be restored after failed deposit, got %d", bal)
	}
}
