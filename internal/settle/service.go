// Package settle implements the settlement core: platform lifecycle,
// match state machine, bet placement with pool accounting, and the
// exactly-once claim/payout protocol.
//
// All monetary amounts are uint64 lamports routed through
// internal/amount — never raw operators on balances.
package settle

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/arenax/settlement-engine/internal/amount"
	"github.com/arenax/settlement-engine/internal/compliance"
	"github.com/arenax/settlement-engine/internal/errs"
	"github.com/arenax/settlement-engine/internal/escrow"
	"github.com/arenax/settlement-engine/internal/metrics"
	"github.com/arenax/settlement-engine/internal/model"
	"github.com/arenax/settlement-engine/internal/store"
)

// Service coordinates settlement operations. Concurrency correctness
// rests on the store's per-record atomic gates (finalization CAS,
// claimed flag, escrow lock), not on any lock held here — operations on
// independent matches and bets run fully in parallel.
type Service struct {
	store         store.Store
	vaults        *escrow.Manager
	oracle        compliance.Oracle
	hub           *Hub // optional WebSocket hub for settlement events
	defaultFeeBps uint16
}

// NewService creates a settlement service. defaultFeeBps applies when
// platform initialization does not name a fee. Pass nil for hub if
// WebSocket broadcasting is not needed.
func NewService(st store.Store, vaults *escrow.Manager, oracle compliance.Oracle, hub *Hub, defaultFeeBps uint16) *Service {
	return &Service{
		store:         st,
		vaults:        vaults,
		oracle:        oracle,
		hub:           hub,
		defaultFeeBps: defaultFeeBps,
	}
}

// InitializePlatform creates the singleton platform config.
func (s *Service) InitializePlatform(ctx context.Context, admin, treasury string, feeBasisPoints uint16) (*model.Platform, error) {
	if admin == "" || treasury == "" {
		return nil, errs.ErrInvalidAmount
	}
	if err := model.ValidateFeeBasisPoints(feeBasisPoints); err != nil {
		return nil, err
	}

	p := &model.Platform{
		Admin:          admin,
		Treasury:       treasury,
		FeeBasisPoints: feeBasisPoints,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.store.CreatePlatform(ctx, p); err != nil {
		return nil, err
	}

	slog.Info("platform initialized", "admin", admin, "fee_bps", feeBasisPoints)
	return p, nil
}

// UpdatePlatformConfig sets the fee and pause flag. Admin only.
func (s *Service) UpdatePlatformConfig(ctx context.Context, caller string, feeBasisPoints uint16, isPaused bool) error {
	if err := model.ValidateFeeBasisPoints(feeBasisPoints); err != nil {
		return err
	}

	p, err := s.store.GetPlatform(ctx)
	if err != nil {
		return err
	}
	if caller != p.Admin {
		slog.Warn("platform config change rejected", "caller", caller)
		return errs.ErrUnauthorized
	}

	if err := s.store.UpdatePlatformConfig(ctx, feeBasisPoints, isPaused); err != nil {
		return err
	}
	slog.Info("platform config updated", "fee_bps", feeBasisPoints, "paused", isPaused)
	return nil
}

// CreateUser registers a participant. The account address derives from
// the authority, so a second registration collides instead of creating
// a duplicate.
func (s *Service) CreateUser(ctx context.Context, authority, username string, kycLevel, regionFlags uint8) (*model.UserAccount, error) {
	if err := model.ValidateUsername(username); err != nil {
		return nil, err
	}
	if err := model.ValidateKycLevel(kycLevel); err != nil {
		return nil, err
	}
	if err := model.ValidateRegion(regionFlags); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	u := &model.UserAccount{
		Address:         model.DeriveUserAddress(authority),
		Authority:       authority,
		Username:        username,
		KycLevel:        kycLevel,
		RegionFlags:     regionFlags,
		ReputationScore: model.InitialReputation,
		CreatedAt:       now,
		LastActivity:    now,
		IsActive:        true,
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return nil, err
	}

	slog.Info("user created", "authority", authority, "username", username, "kyc_level", kycLevel)
	return u, nil
}

// GetUserByAuthority resolves the derived address and loads the account.
func (s *Service) GetUserByAuthority(ctx context.Context, authority string) (*model.UserAccount, error) {
	return s.store.GetUser(ctx, model.DeriveUserAddress(authority))
}

// DeactivateUser flips the account inactive. Accounts are never
// deleted; history stays. Allowed for the account holder or the admin.
func (s *Service) DeactivateUser(ctx context.Context, caller, authority string) error {
	if caller != authority {
		p, err := s.store.GetPlatform(ctx)
		if err != nil {
			return err
		}
		if caller != p.Admin {
			return errs.ErrUnauthorized
		}
	}

	if err := s.store.DeactivateUser(ctx, model.DeriveUserAddress(authority)); err != nil {
		return err
	}
	slog.Info("user deactivated", "authority", authority, "caller", caller)
	return nil
}

// CreateMatch opens a new wagering event with a dedicated escrow vault.
func (s *Service) CreateMatch(ctx context.Context, creator, agent1, agent2 string, entryFee uint64, maxParticipants uint32, duration time.Duration) (*model.Match, error) {
	if duration <= 0 {
		return nil, errs.ErrInvalidDuration
	}

	p, err := s.store.GetPlatform(ctx)
	if err != nil {
		return nil, err
	}
	if p.IsPaused {
		return nil, errs.ErrPlatformPaused
	}

	matchID := uuid.New().String()
	esc, err := s.vaults.CreateForMatch(ctx, p.Admin, matchID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	m := &model.Match{
		ID:              matchID,
		Creator:         creator,
		AgentChoice1ID:  agent1,
		AgentChoice2ID:  agent2,
		EntryFee:        entryFee,
		MaxParticipants: maxParticipants,
		Status:          model.MatchOpen,
		EscrowID:        esc.ID,
		CreatedAt:       now,
		ExpiresAt:       now.Add(duration),
	}
	if err := s.store.CreateMatch(ctx, m); err != nil {
		return nil, err
	}

	metrics.ActiveMatches.Inc()
	slog.Info("match created",
		"id", m.ID,
		"agent1", agent1,
		"agent2", agent2,
		"expires_at", m.ExpiresAt,
	)

	if s.hub != nil {
		s.hub.Broadcast(Event{Type: "match_created", MatchID: m.ID})
	}
	return m, nil
}

// PlaceBet validates and records a wager. All state movement (wallet
// debit, escrow credit, pool accounting, the bet record, statistics)
// commits atomically in the store or not at all.
func (s *Service) PlaceBet(ctx context.Context, bettor, matchID string, choice uint8, amt uint64) (*model.Bet, error) {
	if err := model.ValidateChoice(choice); err != nil {
		return nil, err
	}

	p, err := s.store.GetPlatform(ctx)
	if err != nil {
		return nil, err
	}
	if p.IsPaused {
		return nil, errs.ErrPlatformPaused
	}

	m, err := s.store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if m.Status != model.MatchOpen {
		return nil, errs.ErrMatchClosed
	}
	now := time.Now().UTC()
	if !now.Before(m.ExpiresAt) {
		// Betting, unlike finalization, is time-gated; keep the expiry
		// rejection distinct from the closed-status one.
		return nil, errs.ErrMatchExpired
	}

	if amt < model.MinBetLamports || amt > model.MaxBetLamports {
		return nil, errs.ErrBetAmountOutOfRange
	}

	account, err := s.GetUserByAuthority(ctx, bettor)
	if err != nil {
		return nil, err
	}
	if !account.IsActive {
		return nil, errs.ErrUnauthorized
	}

	tier, err := s.oracle.GetKycTier(ctx, account.KycLevel)
	if err != nil {
		return nil, fmt.Errorf("kyc tier lookup: %w", err)
	}
	if amt > tier.MaxBetAmount {
		return nil, errs.ErrKycLimitExceeded
	}

	risk, err := s.oracle.CheckFraudRisk(ctx, bettor, amt, "bet")
	if err != nil {
		return nil, fmt.Errorf("fraud screening: %w", err)
	}
	switch risk.RecommendedAction {
	case compliance.ActionBlock:
		metrics.ComplianceRejections.Inc()
		slog.Warn("bet blocked by compliance",
			"bettor", bettor, "amount", amt, "risk_score", risk.RiskScore, "reason", risk.Reason)
		return nil, errs.ErrComplianceRejected
	case compliance.ActionReview:
		// Flagged but not blocked; operators follow up out of band.
		slog.Warn("bet flagged for review",
			"bettor", bettor, "amount", amt, "risk_score", risk.RiskScore, "reason", risk.Reason)
	}

	bet := &model.Bet{
		ID:       uuid.New().String(),
		Bettor:   bettor,
		MatchID:  matchID,
		Choice:   choice,
		Amount:   amt,
		PlacedAt: now,
	}
	if err := s.store.ApplyBet(ctx, bet); err != nil {
		return nil, err
	}

	metrics.BetsTotal.WithLabelValues(choiceLabel(choice)).Inc()
	metrics.BetVolume.Add(float64(amt))
	slog.Info("bet placed",
		"bet_id", bet.ID,
		"bettor", bettor,
		"match", matchID,
		"choice", choice,
		"amount", amt,
	)

	if s.hub != nil {
		s.hub.Broadcast(Event{
			Type:      "bet_placed",
			MatchID:   matchID,
			BetID:     bet.ID,
			Choice:    choice,
			AmountSOL: amount.ToSOL(amt).String(),
		})
	}
	return bet, nil
}

// FinalizeMatch transitions a match to Finalized with the winning
// choice (ChoiceNone for a draw). Only the platform admin — the
// designated result oracle — may finalize. Racing finalizers lose on
// the store's status CAS with ErrAlreadyFinalized; finalization after
// the betting window is allowed while the match is still Open.
func (s *Service) FinalizeMatch(ctx context.Context, finalizer, matchID string, winner uint8, boardHash string) (*model.Match, error) {
	if winner != model.ChoiceNone && winner != model.Choice1 && winner != model.Choice2 {
		return nil, errs.ErrInvalidChoice
	}

	p, err := s.store.GetPlatform(ctx)
	if err != nil {
		return nil, err
	}
	if finalizer != p.Admin {
		slog.Warn("finalize rejected", "finalizer", finalizer, "match", matchID)
		return nil, errs.ErrUnauthorized
	}

	// The store computes the fee from the pool totals inside the same
	// atomic unit as the status flip, so bets racing the finalization
	// are either in the fee base or rejected as late.
	if err := s.store.FinalizeMatch(ctx, matchID, winner, boardHash, p.FeeBasisPoints); err != nil {
		return nil, err
	}

	final, err := s.store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}

	metrics.ActiveMatches.Dec()
	metrics.FinalizationsTotal.WithLabelValues(choiceLabel(winner)).Inc()
	slog.Info("match finalized",
		"match", matchID,
		"winner", winner,
		"fee", final.FeeCollected,
		"board_hash", boardHash,
	)

	if s.hub != nil {
		s.hub.Broadcast(Event{Type: "match_finalized", MatchID: matchID, Winner: winner})
	}
	return final, nil
}

// ClaimWinnings pays a winning bet its parimutuel share of the net
// pool. The payout is computed before the claimed gate flips, so an
// arithmetic fault fails closed with the claim still available; the
// flip and the fund movement then commit as one unit in the store —
// a repeated or reentrant claim fails with ErrAlreadyClaimed and moves
// nothing.
func (s *Service) ClaimWinnings(ctx context.Context, claimant, betID string) (*model.Bet, error) {
	bet, err := s.store.GetBet(ctx, betID)
	if err != nil {
		return nil, err
	}
	if claimant != bet.Bettor {
		slog.Warn("claim rejected", "claimant", claimant, "bet", betID)
		return nil, errs.ErrUnauthorized
	}

	m, err := s.store.GetMatch(ctx, bet.MatchID)
	if err != nil {
		return nil, err
	}
	if m.Status != model.MatchFinalized {
		return nil, errs.ErrMatchNotFinalized
	}
	if m.Winner == model.ChoiceNone || bet.Choice != m.Winner {
		return nil, errs.ErrNotAWinner
	}
	if bet.Claimed {
		return nil, errs.ErrAlreadyClaimed
	}

	payout, err := s.computePayout(m, bet)
	if err != nil {
		slog.Error("payout computation failed closed",
			"bet", betID, "match", m.ID, "err", err)
		return nil, err
	}

	if err := s.store.SettleClaim(ctx, betID, payout); err != nil {
		return nil, err
	}

	metrics.ClaimsTotal.Inc()
	metrics.PayoutVolume.Add(float64(payout))
	slog.Info("winnings claimed",
		"bet", betID,
		"bettor", bet.Bettor,
		"payout", payout,
	)

	if s.hub != nil {
		s.hub.Broadcast(Event{
			Type:      "winnings_claimed",
			MatchID:   m.ID,
			BetID:     betID,
			AmountSOL: amount.ToSOL(payout).String(),
		})
	}
	return s.store.GetBet(ctx, betID)
}

// computePayout is the parimutuel share: netPool * stake / winningPool.
// The fee was already moved to the treasury at finalization, so
// fee + netPool reconciles to the original total pool exactly.
func (s *Service) computePayout(m *model.Match, bet *model.Bet) (uint64, error) {
	totalPool, err := amount.Add(m.PoolChoice1, m.PoolChoice2)
	if err != nil {
		return 0, err
	}
	netPool, err := amount.Sub(totalPool, m.FeeCollected)
	if err != nil {
		return 0, err
	}
	winningPool := m.PoolFor(m.Winner)
	return amount.MulDiv(netPool, bet.Amount, winningPool)
}

// ClaimRefund returns a bet's original stake for a draw or an expired
// match, gated by the same exactly-once claimed flag as ClaimWinnings.
func (s *Service) ClaimRefund(ctx context.Context, claimant, betID string) (*model.Bet, error) {
	bet, err := s.store.GetBet(ctx, betID)
	if err != nil {
		return nil, err
	}
	if claimant != bet.Bettor {
		return nil, errs.ErrUnauthorized
	}

	m, err := s.store.GetMatch(ctx, bet.MatchID)
	if err != nil {
		return nil, err
	}
	switch {
	case m.Status == model.MatchExpired:
	case m.Status == model.MatchFinalized && m.Winner == model.ChoiceNone:
	case m.Status == model.MatchOpen:
		return nil, errs.ErrMatchNotFinalized
	default:
		return nil, fmt.Errorf("%w: refunds apply only to draws and expired matches", errs.ErrMatchClosed)
	}

	if err := s.store.SettleRefund(ctx, betID); err != nil {
		return nil, err
	}

	metrics.RefundsTotal.Inc()
	slog.Info("bet refunded", "bet", betID, "bettor", bet.Bettor, "amount", bet.Amount)

	if s.hub != nil {
		s.hub.Broadcast(Event{
			Type:      "bet_refunded",
			MatchID:   m.ID,
			BetID:     betID,
			AmountSOL: amount.ToSOL(bet.Amount).String(),
		})
	}
	return s.store.GetBet(ctx, betID)
}

func choiceLabel(choice uint8) string {
	switch choice {
	case model.Choice1:
		return "choice1"
	case model.Choice2:
		return "choice2"
	default:
		return "draw"
	}
}
