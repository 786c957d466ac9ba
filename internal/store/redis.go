package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arenax/settlement-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis
// read-through cache for the hot read paths (matches, bets, users).
// Writes go to the primary store and invalidate the cache; the atomic
// gates all live in the primary, so caching never weakens them.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetMatch(ctx context.Context, id string) (*model.Match, error) {
	data, err := s.rdb.Get(ctx, matchKey(id)).Bytes()
	if err == nil {
		var m model.Match
		if json.Unmarshal(data, &m) == nil {
			return &m, nil
		}
	}

	m, err := s.primary.GetMatch(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, matchKey(id), m)
	return m, nil
}

func (s *CachedStore) GetBet(ctx context.Context, id string) (*model.Bet, error) {
	data, err := s.rdb.Get(ctx, betKey(id)).Bytes()
	if err == nil {
		var b model.Bet
		if json.Unmarshal(data, &b) == nil {
			return &b, nil
		}
	}

	b, err := s.primary.GetBet(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, betKey(id), b)
	return b, nil
}

func (s *CachedStore) GetUser(ctx context.Context, address string) (*model.UserAccount, error) {
	data, err := s.rdb.Get(ctx, userKey(address)).Bytes()
	if err == nil {
		var u model.UserAccount
		if json.Unmarshal(data, &u) == nil {
			return &u, nil
		}
	}

	u, err := s.primary.GetUser(ctx, address)
	if err != nil {
		return nil, err
	}
	s.cacheJSON(ctx, userKey(address), u)
	return u, nil
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) FinalizeMatch(ctx context.Context, id string, winner uint8, boardHash string, feeBasisPoints uint16) error {
	if err := s.primary.FinalizeMatch(ctx, id, winner, boardHash, feeBasisPoints); err != nil {
		return err
	}
	s.rdb.Del(ctx, matchKey(id))
	return nil
}

func (s *CachedStore) ExpireMatches(ctx context.Context, now time.Time) (int, error) {
	n, err := s.primary.ExpireMatches(ctx, now)
	if err != nil {
		return 0, err
	}
	// Expiry flips unknown match IDs; next reads repopulate on miss
	// after the TTL, which is acceptable staleness for a status-only
	// change that PlaceBet re-checks against expires_at anyway.
	return n, nil
}

func (s *CachedStore) ApplyBet(ctx context.Context, bet *model.Bet) error {
	if err := s.primary.ApplyBet(ctx, bet); err != nil {
		return err
	}
	s.rdb.Del(ctx, matchKey(bet.MatchID), userKey(model.DeriveUserAddress(bet.Bettor)))
	return nil
}

func (s *CachedStore) SettleClaim(ctx context.Context, betID string, payout uint64) error {
	if err := s.primary.SettleClaim(ctx, betID, payout); err != nil {
		return err
	}
	s.invalidateBet(ctx, betID)
	return nil
}

func (s *CachedStore) SettleRefund(ctx context.Context, betID string) error {
	if err := s.primary.SettleRefund(ctx, betID); err != nil {
		return err
	}
	s.invalidateBet(ctx, betID)
	return nil
}

func (s *CachedStore) invalidateBet(ctx context.Context, betID string) {
	keys := []string{betKey(betID)}
	if b, err := s.primary.GetBet(ctx, betID); err == nil {
		keys = append(keys, matchKey(b.MatchID), userKey(model.DeriveUserAddress(b.Bettor)))
	}
	s.rdb.Del(ctx, keys...)
}

// --- Passthrough (not cached) ---

func (s *CachedStore) CreatePlatform(ctx context.Context, p *model.Platform) error {
	return s.primary.CreatePlatform(ctx, p)
}

func (s *CachedStore) GetPlatform(ctx context.Context) (*model.Platform, error) {
	return s.primary.GetPlatform(ctx)
}

func (s *CachedStore) UpdatePlatformConfig(ctx context.Context, feeBasisPoints uint16, isPaused bool) error {
	return s.primary.UpdatePlatformConfig(ctx, feeBasisPoints, isPaused)
}

func (s *CachedStore) CreateUser(ctx context.Context, u *model.UserAccount) error {
	return s.primary.CreateUser(ctx, u)
}

func (s *CachedStore) DeactivateUser(ctx context.Context, address string) error {
	if err := s.primary.DeactivateUser(ctx, address); err != nil {
		return err
	}
	s.rdb.Del(ctx, userKey(address))
	return nil
}

func (s *CachedStore) CreateMatch(ctx context.Context, m *model.Match) error {
	return s.primary.CreateMatch(ctx, m)
}

func (s *CachedStore) ListMatches(ctx context.Context) ([]model.Match, error) {
	return s.primary.ListMatches(ctx)
}

func (s *CachedStore) ListBetsByMatch(ctx context.Context, matchID string) ([]model.Bet, error) {
	return s.primary.ListBetsByMatch(ctx, matchID)
}

func (s *CachedStore) CreateEscrow(ctx context.Context, e *model.EscrowAccount) error {
	return s.primary.CreateEscrow(ctx, e)
}

func (s *CachedStore) GetEscrow(ctx context.Context, id string) (*model.EscrowAccount, error) {
	return s.primary.GetEscrow(ctx, id)
}

func (s *CachedStore) TryLockEscrow(ctx context.Context, id string) error {
	return s.primary.TryLockEscrow(ctx, id)
}

func (s *CachedStore) UnlockEscrow(ctx context.Context, id string) error {
	return s.primary.UnlockEscrow(ctx, id)
}

func (s *CachedStore) DepositEscrow(ctx context.Context, id string, amt uint64) error {
	return s.primary.DepositEscrow(ctx, id, amt)
}

func (s *CachedStore) DebitEscrow(ctx context.Context, id string, amt uint64) error {
	return s.primary.DebitEscrow(ctx, id, amt)
}

func (s *CachedStore) CreditWallet(ctx context.Context, authority string, amt uint64) error {
	return s.primary.CreditWallet(ctx, authority, amt)
}

func (s *CachedStore) DebitWallet(ctx context.Context, authority string, amt uint64) error {
	return s.primary.DebitWallet(ctx, authority, amt)
}

func (s *CachedStore) WalletBalance(ctx context.Context, authority string) (uint64, error) {
	return s.primary.WalletBalance(ctx, authority)
}

// --- Cache helpers ---

func (s *CachedStore) cacheJSON(ctx context.Context, key string, v any) {
	if data, err := json.Marshal(v); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
}

func matchKey(id string) string    { return fmt.Sprintf("match:%s", id) }
func betKey(id string) string      { return fmt.Sprintf("bet:%s", id) }
func userKey(addr string) string   { return fmt.Sprintf("user:%s", addr) }
