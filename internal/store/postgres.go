package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arenax/settlement-engine/internal/amount"
	"github.com/arenax/settlement-engine/internal/errs"
	"github.com/arenax/settlement-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of
// truth. Lamport amounts are stored as NUMERIC(20,0) so the full uint64
// range round-trips exactly; scans go through TEXT.
//
// Multi-row units (ApplyBet, SettleClaim, FinalizeMatch) run inside a
// read-committed transaction with row locks acquired in a fixed order,
// so concurrent calls serialize per record and the check-then-act
// gates hold. Read committed matters: a locked read re-fetches the row
// version the race winner committed, so the loser fails on the status
// or claimed gate (the 409 family) instead of aborting with a
// serialization failure.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func parseU64(s string) uint64 {
	v, _ := strconv.ParseUint(s, 10, 64)
	return v
}

// --- Platform ---

func (s *PostgresStore) CreatePlatform(ctx context.Context, p *model.Platform) error {
	// Single-row table: the fixed primary key makes a second insert a
	// unique violation, which is the AlreadyInitialized gate.
	_, err := s.pool.Exec(ctx,
		`INSERT INTO platform (id, admin, treasury, fee_basis_points, total_matches, total_bets, total_volume, is_paused, created_at)
		 VALUES (1, $1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7, $8)`,
		p.Admin, p.Treasury, int32(p.FeeBasisPoints),
		u64s(p.TotalMatches), u64s(p.TotalBets), u64s(p.TotalVolume),
		p.IsPaused, p.CreatedAt,
	)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyInitialized
	}
	return err
}

func (s *PostgresStore) GetPlatform(ctx context.Context) (*model.Platform, error) {
	var p model.Platform
	var fee int32
	var matches, bets, volume string

	err := s.pool.QueryRow(ctx,
		`SELECT admin, treasury, fee_basis_points,
		        total_matches::TEXT, total_bets::TEXT, total_volume::TEXT,
		        is_paused, created_at
		 FROM platform WHERE id = 1`).
		Scan(&p.Admin, &p.Treasury, &fee, &matches, &bets, &volume, &p.IsPaused, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: platform", errs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get platform: %w", err)
	}

	p.FeeBasisPoints = uint16(fee)
	p.TotalMatches = parseU64(matches)
	p.TotalBets = parseU64(bets)
	p.TotalVolume = parseU64(volume)
	return &p, nil
}

func (s *PostgresStore) UpdatePlatformConfig(ctx context.Context, feeBasisPoints uint16, isPaused bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE platform SET fee_basis_points = $1, is_paused = $2 WHERE id = 1`,
		int32(feeBasisPoints), isPaused)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: platform", errs.ErrNotFound)
	}
	return nil
}

// --- Users ---

func (s *PostgresStore) CreateUser(ctx context.Context, u *model.UserAccount) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (address, authority, username, kyc_level, region_flags,
		                    total_matches, total_winnings, total_losses, reputation_score,
		                    created_at, last_activity, is_active)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC, $10, $11, $12)`,
		u.Address, u.Authority, u.Username, int16(u.KycLevel), int16(u.RegionFlags),
		u64s(u.TotalMatches), u64s(u.TotalWinnings), u64s(u.TotalLosses), u64s(u.ReputationScore),
		u.CreatedAt, u.LastActivity, u.IsActive,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: account for authority %s", errs.ErrAlreadyInitialized, u.Authority)
	}
	return err
}

const userColumns = `address, authority, username, kyc_level, region_flags,
	total_matches::TEXT, total_winnings::TEXT, total_losses::TEXT, reputation_score::TEXT,
	created_at, last_activity, is_active`

func scanUser(row pgx.Row) (*model.UserAccount, error) {
	var u model.UserAccount
	var kyc, region int16
	var matches, winnings, losses, reputation string

	err := row.Scan(&u.Address, &u.Authority, &u.Username, &kyc, &region,
		&matches, &winnings, &losses, &reputation,
		&u.CreatedAt, &u.LastActivity, &u.IsActive)
	if err != nil {
		return nil, err
	}

	u.KycLevel = uint8(kyc)
	u.RegionFlags = uint8(region)
	u.TotalMatches = parseU64(matches)
	u.TotalWinnings = parseU64(winnings)
	u.TotalLosses = parseU64(losses)
	u.ReputationScore = parseU64(reputation)
	return &u, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, address string) (*model.UserAccount, error) {
	u, err := scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE address = $1`, address))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: user %s", errs.ErrNotFound, address)
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", address, err)
	}
	return u, nil
}

func (s *PostgresStore) DeactivateUser(ctx context.Context, address string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE users SET is_active = FALSE WHERE address = $1`, address)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: user %s", errs.ErrNotFound, address)
	}
	return nil
}

// --- Matches ---

func (s *PostgresStore) CreateMatch(ctx context.Context, m *model.Match) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO matches (id, creator, agent_choice1_id, agent_choice2_id, entry_fee,
		                      max_participants, pool_choice1, pool_choice2, total_bets,
		                      status, winner, fee_collected, escrow_id, created_at, expires_at, final_board_hash)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, $7::NUMERIC, $8::NUMERIC, $9::NUMERIC,
		         $10, $11, $12::NUMERIC, $13, $14, $15, $16)`,
		m.ID, m.Creator, m.AgentChoice1ID, m.AgentChoice2ID, u64s(m.EntryFee),
		int64(m.MaxParticipants), u64s(m.PoolChoice1), u64s(m.PoolChoice2), u64s(m.TotalBets),
		string(m.Status), int16(m.Winner), u64s(m.FeeCollected), m.EscrowID,
		m.CreatedAt, m.ExpiresAt, m.FinalBoardHash,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: match %s", errs.ErrAlreadyInitialized, m.ID)
		}
		return err
	}

	_, err = tx.Exec(ctx,
		`UPDATE platform SET total_matches = total_matches + 1 WHERE id = 1`)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

const matchColumns = `id, creator, agent_choice1_id, agent_choice2_id, entry_fee::TEXT,
	max_participants, pool_choice1::TEXT, pool_choice2::TEXT, total_bets::TEXT,
	status, winner, fee_collected::TEXT, escrow_id, created_at, expires_at, final_board_hash`

func scanMatch(row pgx.Row) (*model.Match, error) {
	var m model.Match
	var entryFee, pool1, pool2, totalBets, feeCollected string
	var maxParticipants int64
	var status string
	var winner int16

	err := row.Scan(&m.ID, &m.Creator, &m.AgentChoice1ID, &m.AgentChoice2ID, &entryFee,
		&maxParticipants, &pool1, &pool2, &totalBets,
		&status, &winner, &feeCollected, &m.EscrowID,
		&m.CreatedAt, &m.ExpiresAt, &m.FinalBoardHash)
	if err != nil {
		return nil, err
	}

	m.EntryFee = parseU64(entryFee)
	m.MaxParticipants = uint32(maxParticipants)
	m.PoolChoice1 = parseU64(pool1)
	m.PoolChoice2 = parseU64(pool2)
	m.TotalBets = parseU64(totalBets)
	m.Status = model.MatchStatus(status)
	m.Winner = uint8(winner)
	m.FeeCollected = parseU64(feeCollected)
	return &m, nil
}

func (s *PostgresStore) GetMatch(ctx context.Context, id string) (*model.Match, error) {
	m, err := scanMatch(s.pool.QueryRow(ctx,
		`SELECT `+matchColumns+` FROM matches WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: match %s", errs.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get match %s: %w", id, err)
	}
	return m, nil
}

func (s *PostgresStore) ListMatches(ctx context.Context) ([]model.Match, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+matchColumns+` FROM matches ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var matches []model.Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, err
		}
		matches = append(matches, *m)
	}
	return matches, rows.Err()
}

func (s *PostgresStore) FinalizeMatch(ctx context.Context, id string, winner uint8, boardHash string, feeBasisPoints uint16) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lock the match row first. The locked read reflects every bet
	// that committed before the lock was granted, so the pool totals
	// the fee derives from cannot go stale; a finalizer losing the
	// race observes the flipped status here and fails on the gate.
	m, err := scanMatch(tx.QueryRow(ctx,
		`SELECT `+matchColumns+` FROM matches WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: match %s", errs.ErrNotFound, id)
	}
	if err != nil {
		return err
	}
	if m.Status != model.MatchOpen {
		return errs.ErrAlreadyFinalized
	}

	// A draw refunds every stake in full and collects nothing.
	var fee uint64
	if winner != model.ChoiceNone {
		fee, err = amount.MulBps(m.TotalPool(), feeBasisPoints)
		if err != nil {
			return err
		}
	}

	_, err = tx.Exec(ctx,
		`UPDATE matches
		 SET status = $2, winner = $3, final_board_hash = $4, fee_collected = $5::NUMERIC
		 WHERE id = $1`,
		id, string(model.MatchFinalized), int16(winner), boardHash, u64s(fee))
	if err != nil {
		return err
	}

	if fee > 0 {
		var treasury string
		if err := tx.QueryRow(ctx, `SELECT treasury FROM platform WHERE id = 1`).Scan(&treasury); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx,
			`UPDATE escrows SET balance = balance - $2::NUMERIC
			 WHERE id = $1 AND balance >= $2::NUMERIC`,
			m.EscrowID, u64s(fee))
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return errs.ErrInsufficientFunds
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO wallets (authority, balance) VALUES ($1, $2::NUMERIC)
			 ON CONFLICT (authority) DO UPDATE SET balance = wallets.balance + $2::NUMERIC`,
			treasury, u64s(fee))
		if err != nil {
			return err
		}
	}

	if winner != model.ChoiceNone {
		_, err = tx.Exec(ctx,
			`UPDATE users u SET total_losses = u.total_losses + l.lost
			 FROM (SELECT b.bettor, SUM(b.amount) AS lost
			       FROM bets b WHERE b.match_id = $1 AND b.choice <> $2
			       GROUP BY b.bettor) l
			 WHERE u.authority = l.bettor`,
			id, int16(winner))
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) ExpireMatches(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE matches SET status = $1 WHERE status = $2 AND expires_at < $3`,
		string(model.MatchExpired), string(model.MatchOpen), now)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// --- Bets ---

func (s *PostgresStore) ApplyBet(ctx context.Context, bet *model.Bet) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lock the match row first; every bet path locks in the same order
	// (match → wallet → escrow) to prevent deadlock.
	m, err := scanMatch(tx.QueryRow(ctx,
		`SELECT `+matchColumns+` FROM matches WHERE id = $1 FOR UPDATE`, bet.MatchID))
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: match %s", errs.ErrNotFound, bet.MatchID)
	}
	if err != nil {
		return err
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

	// Overflow checks on the new pool totals before touching any row.
	if _, err := amount.Add(m.PoolFor(bet.Choice), bet.Amount); err != nil {
		return err
	}

	tag, err := tx.Exec(ctx,
		`UPDATE wallets SET balance = balance - $2::NUMERIC
		 WHERE authority = $1 AND balance >= $2::NUMERIC`,
		bet.Bettor, u64s(bet.Amount))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrInsufficientFunds
	}

	_, err = tx.Exec(ctx,
		`UPDATE escrows SET balance = balance + $2::NUMERIC WHERE id = $1`,
		m.EscrowID, u64s(bet.Amount))
	if err != nil {
		return err
	}

	poolColumn := "pool_choice1"
	if bet.Choice == model.Choice2 {
		poolColumn = "pool_choice2"
	}
	_, err = tx.Exec(ctx,
		`UPDATE matches SET `+poolColumn+` = `+poolColumn+` + $2::NUMERIC,
		        total_bets = total_bets + 1
		 WHERE id = $1`,
		bet.MatchID, u64s(bet.Amount))
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO bets (id, bettor, match_id, choice, amount, placed_at, claimed, payout)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, FALSE, 0)`,
		bet.ID, bet.Bettor, bet.MatchID, int16(bet.Choice), u64s(bet.Amount), bet.PlacedAt)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx,
		`UPDATE users SET total_matches = total_matches + 1, last_activity = $2
		 WHERE authority = $1`,
		bet.Bettor, bet.PlacedAt)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx,
		`UPDATE platform SET total_bets = total_bets + 1,
		        total_volume = total_volume + $1::NUMERIC
		 WHERE id = 1`,
		u64s(bet.Amount))
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

const betColumns = `id, bettor, match_id, choice, amount::TEXT, placed_at, claimed, payout::TEXT`

func scanBet(row pgx.Row) (*model.Bet, error) {
	var b model.Bet
	var choice int16
	var amt, payout string

	err := row.Scan(&b.ID, &b.Bettor, &b.MatchID, &choice, &amt, &b.PlacedAt, &b.Claimed, &payout)
	if err != nil {
		return nil, err
	}

	b.Choice = uint8(choice)
	b.Amount = parseU64(amt)
	b.Payout = parseU64(payout)
	return &b, nil
}

func (s *PostgresStore) GetBet(ctx context.Context, id string) (*model.Bet, error) {
	b, err := scanBet(s.pool.QueryRow(ctx,
		`SELECT `+betColumns+` FROM bets WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: bet %s", errs.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get bet %s: %w", id, err)
	}
	return b, nil
}

func (s *PostgresStore) ListBetsByMatch(ctx context.Context, matchID string) ([]model.Bet, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+betColumns+` FROM bets WHERE match_id = $1 ORDER BY placed_at`, matchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bets []model.Bet
	for rows.Next() {
		b, err := scanBet(rows)
		if err != nil {
			return nil, err
		}
		bets = append(bets, *b)
	}
	return bets, rows.Err()
}

func (s *PostgresStore) SettleClaim(ctx context.Context, betID string, payout uint64) error {
	return s.settle(ctx, betID, payout, false)
}

func (s *PostgresStore) SettleRefund(ctx context.Context, betID string) error {
	return s.settle(ctx, betID, 0, true)
}

// settle pays out or refunds one bet. The claimed-flag conditional
// UPDATE is the exactly-once gate; fund movement happens in the same
// transaction, so a losing racer moves nothing.
func (s *PostgresStore) settle(ctx context.Context, betID string, payout uint64, refund bool) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	b, err := scanBet(tx.QueryRow(ctx,
		`SELECT `+betColumns+` FROM bets WHERE id = $1 FOR UPDATE`, betID))
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: bet %s", errs.ErrNotFound, betID)
	}
	if err != nil {
		return err
	}

	if refund {
		payout = b.Amount
	}

	tag, err := tx.Exec(ctx,
		`UPDATE bets SET claimed = TRUE, payout = $2::NUMERIC
		 WHERE id = $1 AND claimed = FALSE`,
		betID, u64s(payout))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrAlreadyClaimed
	}

	var escrowID string
	var locked bool
	err = tx.QueryRow(ctx,
		`SELECT m.escrow_id, e.is_locked FROM matches m
		 JOIN escrows e ON e.id = m.escrow_id
		 WHERE m.id = $1 FOR UPDATE OF e`,
		b.MatchID).Scan(&escrowID, &locked)
	if err != nil {
		return err
	}
	if locked {
		return errs.ErrEscrowLocked
	}

	tag, err = tx.Exec(ctx,
		`UPDATE escrows SET balance = balance - $2::NUMERIC
		 WHERE id = $1 AND balance >= $2::NUMERIC`,
		escrowID, u64s(payout))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrInsufficientFunds
	}

	if refund {
		poolColumn := "pool_choice1"
		if b.Choice == model.Choice2 {
			poolColumn = "pool_choice2"
		}
		_, err = tx.Exec(ctx,
			`UPDATE matches SET `+poolColumn+` = `+poolColumn+` - $2::NUMERIC WHERE id = $1`,
			b.MatchID, u64s(payout))
		if err != nil {
			return err
		}
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO wallets (authority, balance) VALUES ($1, $2::NUMERIC)
		 ON CONFLICT (authority) DO UPDATE SET balance = wallets.balance + $2::NUMERIC`,
		b.Bettor, u64s(payout))
	if err != nil {
		return err
	}

	if !refund {
		_, err = tx.Exec(ctx,
			`UPDATE users SET total_winnings = total_winnings + $2::NUMERIC, last_activity = NOW()
			 WHERE authority = $1`,
			b.Bettor, u64s(payout))
		if err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// --- Escrows ---

func (s *PostgresStore) CreateEscrow(ctx context.Context, e *model.EscrowAccount) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO escrows (id, authority, balance, is_locked, associated_match, created_at)
		 VALUES ($1, $2, $3::NUMERIC, $4, $5, $6)`,
		e.ID, e.Authority, u64s(e.Balance), e.IsLocked, e.AssociatedMatch, e.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: escrow %s", errs.ErrAlreadyInitialized, e.ID)
	}
	return err
}

func (s *PostgresStore) GetEscrow(ctx context.Context, id string) (*model.EscrowAccount, error) {
	var e model.EscrowAccount
	var balance string

	err := s.pool.QueryRow(ctx,
		`SELECT id, authority, balance::TEXT, is_locked, associated_match, created_at
		 FROM escrows WHERE id = $1`, id).
		Scan(&e.ID, &e.Authority, &balance, &e.IsLocked, &e.AssociatedMatch, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: escrow %s", errs.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get escrow %s: %w", id, err)
	}

	e.Balance = parseU64(balance)
	return &e, nil
}

func (s *PostgresStore) TryLockEscrow(ctx context.Context, id string) error {
	// Conditional UPDATE: at most one concurrent caller flips the flag.
	tag, err := s.pool.Exec(ctx,
		`UPDATE escrows SET is_locked = TRUE WHERE id = $1 AND is_locked = FALSE`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetEscrow(ctx, id); err != nil {
			return err
		}
		return errs.ErrEscrowLocked
	}
	return nil
}

func (s *PostgresStore) UnlockEscrow(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE escrows SET is_locked = FALSE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: escrow %s", errs.ErrNotFound, id)
	}
	return nil
}

func (s *PostgresStore) DepositEscrow(ctx context.Context, id string, amt uint64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE escrows SET balance = balance + $2::NUMERIC
		 WHERE id = $1 AND is_locked = FALSE`,
		id, u64s(amt))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		esc, err := s.GetEscrow(ctx, id)
		if err != nil {
			return err
		}
		if esc.IsLocked {
			return errs.ErrEscrowLocked
		}
		return fmt.Errorf("%w: escrow %s", errs.ErrNotFound, id)
	}
	return nil
}

func (s *PostgresStore) DebitEscrow(ctx context.Context, id string, amt uint64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE escrows SET balance = balance - $2::NUMERIC
		 WHERE id = $1 AND balance >= $2::NUMERIC`,
		id, u64s(amt))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetEscrow(ctx, id); err != nil {
			return err
		}
		return errs.ErrInsufficientFunds
	}
	return nil
}

// --- Wallets ---

func (s *PostgresStore) CreditWallet(ctx context.Context, authority string, amt uint64) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO wallets (authority, balance) VALUES ($1, $2::NUMERIC)
		 ON CONFLICT (authority) DO UPDATE SET balance = wallets.balance + $2::NUMERIC`,
		authority, u64s(amt))
	return err
}

func (s *PostgresStore) DebitWallet(ctx context.Context, authority string, amt uint64) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE wallets SET balance = balance - $2::NUMERIC
		 WHERE authority = $1 AND balance >= $2::NUMERIC`,
		authority, u64s(amt))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrInsufficientFunds
	}
	return nil
}

func (s *PostgresStore) WalletBalance(ctx context.Context, authority string) (uint64, error) {
	var balance string
	err := s.pool.QueryRow(ctx,
		`SELECT balance::TEXT FROM wallets WHERE authority = $1`, authority).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return parseU64(balance), nil
}

// u64s renders a uint64 for a NUMERIC parameter without the int64
// truncation that passing the raw value through pgx would risk.
func u64s(v uint64) string {
	return strconv.FormatUint(v, 10)
}
