// Package escrow implements the vault manager: fund custody with an
// explicit lock flag so withdrawal is a single logical step.
//
// The withdraw protocol is the engine's reentrancy defense. A caller
// that re-enters while a withdraw is in flight observes either
// ErrEscrowLocked (the lock is held) or ErrInsufficientFunds (the
// balance already moved) — it can never drain the same funds twice.
package escrow

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/arenax/settlement-engine/internal/amount"
	"github.com/arenax/settlement-engine/internal/errs"
	"github.com/arenax/settlement-engine/internal/model"
	"github.com/arenax/settlement-engine/internal/store"
)

// Manager owns escrow custody operations on top of the store's atomic
// lock and balance primitives.
type Manager struct {
	store store.Store
}

// NewManager creates an escrow manager.
func NewManager(st store.Store) *Manager {
	return &Manager{store: st}
}

// Create opens a new escrow vault funded from the authority's wallet.
// A zero initial amount is rejected: an empty vault has no custody
// purpose and would only invite lock churn.
func (m *Manager) Create(ctx context.Context, authority string, initialAmount uint64) (*model.EscrowAccount, error) {
	if initialAmount == 0 {
		return nil, errs.ErrInvalidAmount
	}

	if err := m.store.DebitWallet(ctx, authority, initialAmount); err != nil {
		return nil, err
	}

	esc := &model.EscrowAccount{
		ID:        uuid.New().String(),
		Authority: authority,
		Balance:   initialAmount,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.store.CreateEscrow(ctx, esc); err != nil {
		// Give the debited funds back; the vault never existed.
		if cerr := m.store.CreditWallet(ctx, authority, initialAmount); cerr != nil {
			slog.Error("escrow create rollback failed", "authority", authority, "err", cerr)
		}
		return nil, err
	}
	return esc, nil
}

// CreateForMatch opens an unfunded vault owned by the platform admin
// and tied to a match; bets fund it through the store's ApplyBet.
func (m *Manager) CreateForMatch(ctx context.Context, authority, matchID string) (*model.EscrowAccount, error) {
	esc := &model.EscrowAccount{
		ID:              uuid.New().String(),
		Authority:       authority,
		AssociatedMatch: matchID,
		CreatedAt:       time.Now().UTC(),
	}
	if err := m.store.CreateEscrow(ctx, esc); err != nil {
		return nil, err
	}
	return esc, nil
}

// Deposit moves funds from the authority's wallet into the vault.
// Fails with ErrEscrowLocked while a withdraw is in flight.
func (m *Manager) Deposit(ctx context.Context, escrowID, authority string, amt uint64) error {
	if amt == 0 {
		return errs.ErrInvalidAmount
	}
	if err := m.store.DebitWallet(ctx, authority, amt); err != nil {
		return err
	}
	if err := m.store.DepositEscrow(ctx, escrowID, amt); err != nil {
		if cerr := m.store.CreditWallet(ctx, authority, amt); cerr != nil {
			slog.Error("escrow deposit rollback failed", "escrow", escrowID, "err", cerr)
		}
		return err
	}
	return nil
}

// Withdraw moves funds out of the vault to a destination wallet.
//
// Protocol: (a) acquire the lock flag, (b) checked-debit the balance —
// rolling the lock back on underflow, (c) transfer to the destination,
// (d) release the lock. A concurrent withdraw between (a) and (d)
// fails with ErrEscrowLocked rather than waiting.
func (m *Manager) Withdraw(ctx context.Context, escrowID, authority string, amt uint64, destination string) error {
	if amt == 0 {
		return errs.ErrInvalidAmount
	}

	esc, err := m.store.GetEscrow(ctx, escrowID)
	if err != nil {
		return err
	}
	if esc.Authority != authority {
		return errs.ErrUnauthorized
	}

	if err := m.store.TryLockEscrow(ctx, escrowID); err != nil {
		return err
	}

	// Preflight the destination credit while holding the lock, so the
	// debit→credit pair below cannot fail halfway on overflow.
	destBalance, err := m.store.WalletBalance(ctx, destination)
	if err == nil {
		_, err = amount.Add(destBalance, amt)
	}
	if err == nil {
		err = m.store.DebitEscrow(ctx, escrowID, amt)
	}
	if err != nil {
		if uerr := m.store.UnlockEscrow(ctx, escrowID); uerr != nil {
			slog.Error("escrow unlock after failed withdraw", "escrow", escrowID, "err", uerr)
		}
		return err
	}

	if err := m.store.CreditWallet(ctx, destination, amt); err != nil {
		// Storage fault between debit and credit: operator attention.
		slog.Error("escrow transfer failed after debit",
			"escrow", escrowID, "destination", destination, "amount", amt, "err", err)
		if uerr := m.store.UnlockEscrow(ctx, escrowID); uerr != nil {
			slog.Error("escrow unlock after failed transfer", "escrow", escrowID, "err", uerr)
		}
		return err
	}

	return m.store.UnlockEscrow(ctx, escrowID)
}
