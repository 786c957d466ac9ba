// Package model defines the core domain types shared across the
// settlement engine. All internal balances are uint64 lamports; checked
// arithmetic on them lives in internal/amount.
package model

import "time"

// MatchStatus is the lifecycle state of a match. Transitions are
// monotonic: Open → Finalized or Open → Expired, never back.
type MatchStatus string

const (
	MatchOpen      MatchStatus = "open"
	MatchFinalized MatchStatus = "finalized"
	MatchExpired   MatchStatus = "expired"
)

// Bet choices. ChoiceNone on a finalized match denotes a draw, which
// unlocks the refund path instead of winner payouts.
const (
	ChoiceNone uint8 = 0
	Choice1    uint8 = 1
	Choice2    uint8 = 2
)

// Platform is the singleton deployment configuration. Created once;
// fee and pause flag are mutable only by the admin; never deleted.
type Platform struct {
	Admin          string    `json:"admin" db:"admin"`
	Treasury       string    `json:"treasury" db:"treasury"`
	FeeBasisPoints uint16    `json:"fee_basis_points" db:"fee_basis_points"`
	TotalMatches   uint64    `json:"total_matches" db:"total_matches"`
	TotalBets      uint64    `json:"total_bets" db:"total_bets"`
	TotalVolume    uint64    `json:"total_volume" db:"total_volume"`
	IsPaused       bool      `json:"is_paused" db:"is_paused"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

// UserAccount is one participant identity. Address is derived
// deterministically from Authority (see DeriveUserAddress), which makes
// duplicate accounts a structural impossibility rather than a runtime
// check. Never deleted, may be deactivated.
type UserAccount struct {
	Address         string    `json:"address" db:"address"`
	Authority       string    `json:"authority" db:"authority"`
	Username        string    `json:"username" db:"username"`
	KycLevel        uint8     `json:"kyc_level" db:"kyc_level"`
	RegionFlags     uint8     `json:"region_flags" db:"region_flags"`
	TotalMatches    uint64    `json:"total_matches" db:"total_matches"`
	TotalWinnings   uint64    `json:"total_winnings" db:"total_winnings"`
	TotalLosses     uint64    `json:"total_losses" db:"total_losses"`
	ReputationScore uint64    `json:"reputation_score" db:"reputation_score"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
	LastActivity    time.Time `json:"last_activity" db:"last_activity"`
	IsActive        bool      `json:"is_active" db:"is_active"`
}

// InitialReputation is the reputation score assigned at account creation.
const InitialReputation uint64 = 1000

// Match is one wagering event between two agent choices.
//
// Invariants: PoolChoice1 + PoolChoice2 equals the sum of all
// non-refunded bet amounts on this match; Winner is meaningful only
// when Status is MatchFinalized (ChoiceNone there means a draw).
type Match struct {
	ID              string      `json:"id" db:"id"`
	Creator         string      `json:"creator" db:"creator"`
	AgentChoice1ID  string      `json:"agent_choice1_id" db:"agent_choice1_id"`
	AgentChoice2ID  string      `json:"agent_choice2_id" db:"agent_choice2_id"`
	EntryFee        uint64      `json:"entry_fee" db:"entry_fee"`
	MaxParticipants uint32      `json:"max_participants" db:"max_participants"`
	PoolChoice1     uint64      `json:"pool_choice1" db:"pool_choice1"`
	PoolChoice2     uint64      `json:"pool_choice2" db:"pool_choice2"`
	TotalBets       uint64      `json:"total_bets" db:"total_bets"`
	Status          MatchStatus `json:"status" db:"status"`
	Winner          uint8       `json:"winner" db:"winner"`
	FeeCollected    uint64      `json:"fee_collected" db:"fee_collected"`
	EscrowID        string      `json:"escrow_id" db:"escrow_id"`
	CreatedAt       time.Time   `json:"created_at" db:"created_at"`
	ExpiresAt       time.Time   `json:"expires_at" db:"expires_at"`
	FinalBoardHash  string      `json:"final_board_hash,omitempty" db:"final_board_hash"`
}

// TotalPool returns PoolChoice1 + PoolChoice2. Pools are bounded by
// deposit-time checked adds, so the sum cannot wrap.
func (m *Match) TotalPool() uint64 {
	return m.PoolChoice1 + m.PoolChoice2
}

// PoolFor returns the pool accumulated on the given choice.
func (m *Match) PoolFor(choice uint8) uint64 {
	if choice == Choice1 {
		return m.PoolChoice1
	}
	return m.PoolChoice2
}

// Bet is one wager. Immutable after creation except Claimed/Payout,
// which only the claim protocol writes — exactly once.
type Bet struct {
	ID       string    `json:"id" db:"id"`
	Bettor   string    `json:"bettor" db:"bettor"`
	MatchID  string    `json:"match_id" db:"match_id"`
	Choice   uint8     `json:"choice" db:"choice"`
	Amount   uint64    `json:"amount" db:"amount"`
	PlacedAt time.Time `json:"placed_at" db:"placed_at"`
	Claimed  bool      `json:"claimed" db:"claimed"`
	Payout   uint64    `json:"payout" db:"payout"`
}

// EscrowAccount holds pooled funds for a match or standalone custody.
// Balance only decreases through the withdraw protocol, which holds
// IsLocked for the duration of the mutation.
type EscrowAccount struct {
	ID              string    `json:"id" db:"id"`
	Authority       string    `json:"authority" db:"authority"`
	Balance         uint64    `json:"balance" db:"balance"`
	IsLocked        bool      `json:"is_locked" db:"is_locked"`
	AssociatedMatch string    `json:"associated_match,omitempty" db:"associated_match"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}
