package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/arenax/settlement-engine/internal/amount"
	"github.com/arenax/settlement-engine/internal/errs"
	"github.com/arenax/settlement-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. The single mutex is the substrate's per-operation
// atomicity guarantee: each Store call commits or fails as one unit,
// exactly what a ledger runtime provides per account mutation.
type MemoryStore struct {
	mu       sync.RWMutex
	platform *model.Platform
	users    map[string]*model.UserAccount // derived address → account
	matches  map[string]*model.Match
	bets     map[string]*model.Bet
	escrows  map[string]*model.EscrowAccount
	wallets  map[string]uint64
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:   make(map[string]*model.UserAccount),
		matches: make(map[string]*model.Match),
		bets:    make(map[string]*model.Bet),
		escrows: make(map[string]*model.EscrowAccount),
		wallets: make(map[string]uint64),
	}
}

// --- Platform ---

func (s *MemoryStore) CreatePlatform(_ context.Context, p *model.Platform) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.platform != nil {
		return errs.ErrAlreadyInitialized
	}
	cp := *p
	s.platform = &cp
	return nil
}

func (s *MemoryStore) GetPlatform(_ context.Context) (*model.Platform, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.platform == nil {
		return nil, fmt.Errorf("%w: platform", errs.ErrNotFound)
	}
	cp := *s.platform
	return &cp, nil
}

func (s *MemoryStore) UpdatePlatformConfig(_ context.Context, feeBasisPoints uint16, isPaused bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.platform == nil {
		return fmt.Errorf("%w: platform", errs.ErrNotFound)
	}
	s.platform.FeeBasisPoints = feeBasisPoints
	s.platform.IsPaused = isPaused
	return nil
}

// --- Users ---

func (s *MemoryStore) CreateUser(_ context.Context, u *model.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[u.Address]; exists {
		return fmt.Errorf("%w: account for authority %s", errs.ErrAlreadyInitialized, u.Authority)
	}
	cp := *u
	s.users[u.Address] = &cp
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, address string) (*model.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[address]
	if !ok {
		return nil, fmt.Errorf("%w: user %s", errs.ErrNotFound, address)
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) DeactivateUser(_ context.Context, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[address]
	if !ok {
		return fmt.Errorf("%w: user %s", errs.ErrNotFound, address)
	}
	u.IsActive = false
	return nil
}

// --- Matches ---

func (s *MemoryStore) CreateMatch(_ context.Context, m *model.Match) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.matches[m.ID]; exists {
		return fmt.Errorf("%w: match %s", errs.ErrAlreadyInitialized, m.ID)
	}
	if s.platform != nil {
		total, err := amount.Add(s.platform.TotalMatches, 1)
		if err != nil {
			return err
		}
		s.platform.TotalMatches = total
	}
	cp := *m
	s.matches[m.ID] = &cp
	return nil
}

func (s *MemoryStore) GetMatch(_ context.Context, id string) (*model.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.matches[id]
	if !ok {
		return nil, fmt.Errorf("%w: match %s", errs.ErrNotFound, id)
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) ListMatches(_ context.Context) ([]model.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matches := make([]model.Match, 0, len(s.matches))
	for _, m := range s.matches {
		matches = append(matches, *m)
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].CreatedAt.After(matches[j].CreatedAt)
	})
	return matches, nil
}

func (s *MemoryStore) FinalizeMatch(_ context.Context, id string, winner uint8, boardHash string, feeBasisPoints uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.matches[id]
	if !ok {
		return fmt.Errorf("%w: match %s", errs.ErrNotFound, id)
	}
	// The status transition is the atomic gate for racing finalizers.
	if m.Status != model.MatchOpen {
		return errs.ErrAlreadyFinalized
	}

	// The fee base is the pool total read under the same lock that
	// flips the status, so a bet that committed first is never missed.
	// A draw refunds every stake in full and collects nothing.
	var fee uint64
	if winner != model.ChoiceNone {
		var err error
		fee, err = amount.MulBps(m.TotalPool(), feeBasisPoints)
		if err != nil {
			return err
		}
	}

	if fee > 0 {
		esc, ok := s.escrows[m.EscrowID]
		if !ok {
			return fmt.Errorf("%w: escrow %s", errs.ErrNotFound, m.EscrowID)
		}
		newBal, err := amount.Sub(esc.Balance, fee)
		if err != nil {
			return err
		}
		if s.platform == nil {
			return fmt.Errorf("%w: platform", errs.ErrNotFound)
		}
		newTreasury, err := amount.Add(s.wallets[s.platform.Treasury], fee)
		if err != nil {
			return err
		}
		esc.Balance = newBal
		s.wallets[s.platform.Treasury] = newTreasury
	}

	m.Status = model.MatchFinalized
	m.Winner = winner
	m.FinalBoardHash = boardHash
	m.FeeCollected = fee

	// Book losses for the losing side's bettors.
	if winner != model.ChoiceNone {
		for _, b := range s.bets {
			if b.MatchID != id || b.Choice == winner {
				continue
			}
			if u, ok := s.users[model.DeriveUserAddress(b.Bettor)]; ok {
				if losses, err := amount.Add(u.TotalLosses, b.Amount); err == nil {
					u.TotalLosses = losses
				}
			}
		}
	}
	return nil
}

func (s *MemoryStore) ExpireMatches(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var flipped int
	for _, m := range s.matches {
		if m.Status == model.MatchOpen && m.ExpiresAt.Before(now) {
			m.Status = model.MatchExpired
			flipped++
		}
	}
	return flipped, nil
}

// --- Bets ---

func (s *MemoryStore) ApplyBet(_ context.Context, bet *model.Bet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.matches[bet.MatchID]
	if !ok {
		return fmt.Errorf("%w: match %s", errs.ErrNotFound, bet.MatchID)
	}
	if m.Status != model.MatchOpen {
		return errs.ErrMatchClosed
	}
	if !bet.PlacedAt.Before(m.ExpiresAt) {
		return errs.ErrMatchExpired
	}
	if m.MaxParticipants > 0 && m.TotalBets >= uint64(m.MaxParticipants) {
		return fmt.Errorf("%w: participant limit reached", errs.ErrMatchClosed)
	}

	esc, ok := s.escrows[m.EscrowID]
	if !ok {
		return fmt.Errorf("%w: escrow %s", errs.ErrNotFound, m.EscrowID)
	}

	// Compute every new value first; commit only when all succeed.
	walletBal := s.wallets[bet.Bettor]
	newWallet, err := amount.Sub(walletBal, bet.Amount)
	if err != nil {
		return errs.ErrInsufficientFunds
	}
	newEscrow, err := amount.Add(esc.Balance, bet.Amount)
	if err != nil {
		return err
	}
	newPool, err := amount.Add(m.PoolFor(bet.Choice), bet.Amount)
	if err != nil {
		return err
	}
	newTotalBets, err := amount.Add(m.TotalBets, 1)
	if err != nil {
		return err
	}

	var bettor *model.UserAccount
	var newUserMatches uint64
	if bettor, ok = s.users[model.DeriveUserAddress(bet.Bettor)]; ok {
		if newUserMatches, err = amount.Add(bettor.TotalMatches, 1); err != nil {
			return err
		}
	}

	var newPlatBets, newPlatVolume uint64
	if s.platform != nil {
		if newPlatBets, err = amount.Add(s.platform.TotalBets, 1); err != nil {
			return err
		}
		if newPlatVolume, err = amount.Add(s.platform.TotalVolume, bet.Amount); err != nil {
			return err
		}
	}

	s.wallets[bet.Bettor] = newWallet
	esc.Balance = newEscrow
	if bet.Choice == model.Choice1 {
		m.PoolChoice1 = newPool
	} else {
		m.PoolChoice2 = newPool
	}
	m.TotalBets = newTotalBets
	if bettor != nil {
		bettor.TotalMatches = newUserMatches
		bettor.LastActivity = bet.PlacedAt
	}
	if s.platform != nil {
		s.platform.TotalBets = newPlatBets
		s.platform.TotalVolume = newPlatVolume
	}

	cp := *bet
	s.bets[bet.ID] = &cp
	return nil
}

func (s *MemoryStore) GetBet(_ context.Context, id string) (*model.Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.bets[id]
	if !ok {
		return nil, fmt.Errorf("%w: bet %s", errs.ErrNotFound, id)
	}
	cp := *b
	return &cp, nil
}

func (s *MemoryStore) ListBetsByMatch(_ context.Context, matchID string) ([]model.Bet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var bets []model.Bet
	for _, b := range s.bets {
		if b.MatchID == matchID {
			bets = append(bets, *b)
		}
	}
	sort.Slice(bets, func(i, j int) bool {
		return bets[i].PlacedAt.Before(bets[j].PlacedAt)
	})
	return bets, nil
}

func (s *MemoryStore) SettleClaim(_ context.Context, betID string, payout uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bets[betID]
	if !ok {
		return fmt.Errorf("%w: bet %s", errs.ErrNotFound, betID)
	}
	// Claimed flip is the atomic gate: of N racing claims, one passes.
	if b.Claimed {
		return errs.ErrAlreadyClaimed
	}

	m, ok := s.matches[b.MatchID]
	if !ok {
		return fmt.Errorf("%w: match %s", errs.ErrNotFound, b.MatchID)
	}
	esc, ok := s.escrows[m.EscrowID]
	if !ok {
		return fmt.Errorf("%w: escrow %s", errs.ErrNotFound, m.EscrowID)
	}
	if esc.IsLocked {
		return errs.ErrEscrowLocked
	}

	newEscrow, err := amount.Sub(esc.Balance, payout)
	if err != nil {
		return errs.ErrInsufficientFunds
	}
	newWallet, err := amount.Add(s.wallets[b.Bettor], payout)
	if err != nil {
		return err
	}

	b.Claimed = true
	b.Payout = payout
	esc.Balance = newEscrow
	s.wallets[b.Bettor] = newWallet

	if u, ok := s.users[model.DeriveUserAddress(b.Bettor)]; ok {
		if winnings, err := amount.Add(u.TotalWinnings, payout); err == nil {
			u.TotalWinnings = winnings
		}
		u.LastActivity = time.Now().UTC()
	}
	return nil
}

func (s *MemoryStore) SettleRefund(_ context.Context, betID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bets[betID]
	if !ok {
		return fmt.Errorf("%w: bet %s", errs.ErrNotFound, betID)
	}
	if b.Claimed {
		return errs.ErrAlreadyClaimed
	}

	m, ok := s.matches[b.MatchID]
	if !ok {
		return fmt.Errorf("%w: match %s", errs.ErrNotFound, b.MatchID)
	}
	esc, ok := s.escrows[m.EscrowID]
	if !ok {
		return fmt.Errorf("%w: escrow %s", errs.ErrNotFound, m.EscrowID)
	}
	if esc.IsLocked {
		return errs.ErrEscrowLocked
	}

	newEscrow, err := amount.Sub(esc.Balance, b.Amount)
	if err != nil {
		return errs.ErrInsufficientFunds
	}
	newPool, err := amount.Sub(m.PoolFor(b.Choice), b.Amount)
	if err != nil {
		return err
	}
	newWallet, err := amount.Add(s.wallets[b.Bettor], b.Amount)
	if err != nil {
		return err
	}

	b.Claimed = true
	b.Payout = b.Amount
	esc.Balance = newEscrow
	if b.Choice == model.Choice1 {
		m.PoolChoice1 = newPool
	} else {
		m.PoolChoice2 = newPool
	}
	s.wallets[b.Bettor] = newWallet
	return nil
}

// --- Escrows ---

func (s *MemoryStore) CreateEscrow(_ context.Context, e *model.EscrowAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.escrows[e.ID]; exists {
		return fmt.Errorf("%w: escrow %s", errs.ErrAlreadyInitialized, e.ID)
	}
	cp := *e
	s.escrows[e.ID] = &cp
	return nil
}

func (s *MemoryStore) GetEscrow(_ context.Context, id string) (*model.EscrowAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.escrows[id]
	if !ok {
		return nil, fmt.Errorf("%w: escrow %s", errs.ErrNotFound, id)
	}
	cp := *e
	return &cp, nil
}

func (s *MemoryStore) TryLockEscrow(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.escrows[id]
	if !ok {
		return fmt.Errorf("%w: escrow %s", errs.ErrNotFound, id)
	}
	if e.IsLocked {
		return errs.ErrEscrowLocked
	}
	e.IsLocked = true
	return nil
}

func (s *MemoryStore) UnlockEscrow(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.escrows[id]
	if !ok {
		return fmt.Errorf("%w: escrow %s", errs.ErrNotFound, id)
	}
	e.IsLocked = false
	return nil
}

func (s *MemoryStore) DepositEscrow(_ context.Context, id string, amt uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.escrows[id]
	if !ok {
		return fmt.Errorf("%w: escrow %s", errs.ErrNotFound, id)
	}
	if e.IsLocked {
		return errs.ErrEscrowLocked
	}
	newBal, err := amount.Add(e.Balance, amt)
	if err != nil {
		return err
	}
	e.Balance = newBal
	return nil
}

func (s *MemoryStore) DebitEscrow(_ context.Context, id string, amt uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.escrows[id]
	if !ok {
		return fmt.Errorf("%w: escrow %s", errs.ErrNotFound, id)
	}
	newBal, err := amount.Sub(e.Balance, amt)
	if err != nil {
		return errs.ErrInsufficientFunds
	}
	e.Balance = newBal
	return nil
}

// --- Wallets ---

func (s *MemoryStore) CreditWallet(_ context.Context, authority string, amt uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	newBal, err := amount.Add(s.wallets[authority], amt)
	if err != nil {
		return err
	}
	s.wallets[authority] = newBal
	return nil
}

func (s *MemoryStore) DebitWallet(_ context.Context, authority string, amt uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	newBal, err := amount.Sub(s.wallets[authority], amt)
	if err != nil {
		return errs.ErrInsufficientFunds
	}
	s.wallets[authority] = newBal
	return nil
}

func (s *MemoryStore) WalletBalance(_ context.Context, authority string) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.wallets[authority], nil
}
