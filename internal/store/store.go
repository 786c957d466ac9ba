// Package store defines the persistence interface for the settlement
// engine. Implementations include PostgreSQL (source of truth), Redis
// (read-through cache), and in-memory (for testing).
//
// The store is the engine's stand-in for the ledger runtime: every
// method that mutates state executes as one atomic unit, and the
// check-then-act gates (match finalization, bet claims, escrow locks)
// are part of that unit. Callers never observe a half-applied
// operation, and a failed call leaves state exactly as it was.
package store

import (
	"context"
	"time"

	"github.com/arenax/settlement-engine/internal/model"
)

// Store is the persistence interface.
type Store interface {
	// --- Platform singleton ---

	// CreatePlatform persists the platform config. Fails with
	// ErrAlreadyInitialized if one already exists.
	CreatePlatform(ctx context.Context, p *model.Platform) error

	// GetPlatform retrieves the platform config.
	GetPlatform(ctx context.Context) (*model.Platform, error)

	// UpdatePlatformConfig sets the fee and pause flag.
	UpdatePlatformConfig(ctx context.Context, feeBasisPoints uint16, isPaused bool) error

	// --- User accounts ---

	// CreateUser persists a user account keyed by its derived address.
	// A second account for the same authority collides and fails.
	CreateUser(ctx context.Context, u *model.UserAccount) error

	// GetUser retrieves a user account by derived address.
	GetUser(ctx context.Context, address string) (*model.UserAccount, error)

	// DeactivateUser clears the active flag. Accounts are never deleted.
	DeactivateUser(ctx context.Context, address string) error

	// --- Matches ---

	// CreateMatch persists a new match and bumps the platform match
	// counter.
	CreateMatch(ctx context.Context, m *model.Match) error

	// GetMatch retrieves a match by ID.
	GetMatch(ctx context.Context, id string) (*model.Match, error)

	// ListMatches returns all matches, newest first.
	ListMatches(ctx context.Context) ([]model.Match, error)

	// FinalizeMatch transitions a match Open → Finalized, records the
	// winner and board hash, and moves the platform fee from the match
	// escrow to the treasury wallet. The fee is computed from the pool
	// totals inside the same atomic unit as the status transition, so
	// every bet that committed first is part of the fee base; draws
	// collect no fee. The status transition is the atomic gate: when
	// two finalizers race, exactly one call succeeds and the rest fail
	// with ErrAlreadyFinalized.
	FinalizeMatch(ctx context.Context, id string, winner uint8, boardHash string, feeBasisPoints uint16) error

	// ExpireMatches transitions every Open match whose betting window
	// passed before now to Expired, returning how many flipped.
	ExpireMatches(ctx context.Context, now time.Time) (int, error)

	// --- Bets ---

	// ApplyBet atomically places a wager: checks the match is Open,
	// unexpired, and has capacity; debits the bettor's wallet; credits
	// the match escrow and choice pool; inserts the bet record; and
	// updates bettor statistics and platform counters. Any failure
	// leaves no trace of the bet.
	ApplyBet(ctx context.Context, bet *model.Bet) error

	// GetBet retrieves a bet by ID.
	GetBet(ctx context.Context, id string) (*model.Bet, error)

	// ListBetsByMatch returns all bets on a match.
	ListBetsByMatch(ctx context.Context, matchID string) ([]model.Bet, error)

	// SettleClaim atomically pays out a winning bet: flips the claimed
	// flag (failing with ErrAlreadyClaimed if already set), records the
	// payout, debits the match escrow, credits the bettor's wallet, and
	// updates winnings statistics. The claimed flip and the fund
	// movement are one unit — a losing race moves no funds.
	SettleClaim(ctx context.Context, betID string, payout uint64) error

	// SettleRefund atomically returns a bet's original amount from the
	// match escrow, gated by the same claimed flag as SettleClaim, and
	// removes the amount from the choice pool so pool sums only count
	// live bets.
	SettleRefund(ctx context.Context, betID string) error

	// --- Escrow vaults ---

	// CreateEscrow persists a new escrow account.
	CreateEscrow(ctx context.Context, e *model.EscrowAccount) error

	// GetEscrow retrieves an escrow account by ID.
	GetEscrow(ctx context.Context, id string) (*model.EscrowAccount, error)

	// TryLockEscrow sets the lock flag, failing with ErrEscrowLocked if
	// it is already set. The flag set is atomic: of N concurrent
	// callers, exactly one acquires the lock.
	TryLockEscrow(ctx context.Context, id string) error

	// UnlockEscrow clears the lock flag.
	UnlockEscrow(ctx context.Context, id string) error

	// DepositEscrow checked-adds to the escrow balance. Fails with
	// ErrEscrowLocked while a withdraw is in flight.
	DepositEscrow(ctx context.Context, id string, amt uint64) error

	// DebitEscrow checked-subtracts from the escrow balance. Only the
	// lock holder may call it (the escrow manager's withdraw protocol).
	DebitEscrow(ctx context.Context, id string, amt uint64) error

	// --- Wallets (external-ledger balances held on behalf of callers) ---

	// CreditWallet adds funds to an authority's wallet.
	CreditWallet(ctx context.Context, authority string, amt uint64) error

	// DebitWallet removes funds, failing with ErrInsufficientFunds.
	DebitWallet(ctx context.Context, authority string, amt uint64) error

	// WalletBalance returns the current wallet balance.
	WalletBalance(ctx context.Context, authority string) (uint64, error)
}
