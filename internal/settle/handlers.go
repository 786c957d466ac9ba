package settle

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/arenax/settlement-engine/internal/amount"
	"github.com/arenax/settlement-engine/internal/errs"
	"github.com/arenax/settlement-engine/internal/model"
)

// --- Request/Response types ---

// Amounts cross the API as SOL decimal strings and are converted to
// lamports at the boundary; responses carry both representations.

// InitPlatformRequest is the JSON body for POST /platform. A nil
// fee_basis_points falls back to the service's configured default.
type InitPlatformRequest struct {
	Admin          string  `json:"admin"`
	Treasury       string  `json:"treasury"`
	FeeBasisPoints *uint16 `json:"fee_basis_points"`
}

// UpdatePlatformRequest is the JSON body for PUT /platform.
type UpdatePlatformRequest struct {
	Caller         string `json:"caller"`
	FeeBasisPoints uint16 `json:"fee_basis_points"`
	IsPaused       bool   `json:"is_paused"`
}

// CreateUserRequest is the JSON body for POST /users.
type CreateUserRequest struct {
	Authority   string `json:"authority"`
	Username    string `json:"username"`
	KycLevel    uint8  `json:"kyc_level"`
	RegionFlags uint8  `json:"region_flags"`
}

// CreateMatchRequest is the JSON body for POST /matches.
type CreateMatchRequest struct {
	Creator         string          `json:"creator"`
	AgentChoice1ID  string          `json:"agent_choice1_id"`
	AgentChoice2ID  string          `json:"agent_choice2_id"`
	EntryFeeSOL     decimal.Decimal `json:"entry_fee_sol"`
	MaxParticipants uint32          `json:"max_participants"`
	DurationSecs    int64           `json:"duration_secs"`
}

// PlaceBetRequest is the JSON body for POST /bets.
type PlaceBetRequest struct {
	Bettor    string          `json:"bettor"`
	MatchID   string          `json:"match_id"`
	Choice    uint8           `json:"choice"`
	AmountSOL decimal.Decimal `json:"amount_sol"`
}

// FinalizeRequest is the JSON body for POST /matches/{matchID}/finalize.
type FinalizeRequest struct {
	Finalizer      string `json:"finalizer"`
	Winner         uint8  `json:"winner"` // 0 = draw
	FinalBoardHash string `json:"final_board_hash"`
}

// ClaimRequest is the JSON body for claim and refund endpoints.
type ClaimRequest struct {
	Claimant string `json:"claimant"`
}

// EscrowRequest is the JSON body for escrow create/deposit/withdraw.
type EscrowRequest struct {
	Authority   string          `json:"authority"`
	AmountSOL   decimal.Decimal `json:"amount_sol"`
	Destination string          `json:"destination,omitempty"`
}

// WalletCreditRequest is the JSON body for POST /wallets/{authority}/credit.
type WalletCreditRequest struct {
	AmountSOL decimal.Decimal `json:"amount_sol"`
}

// BetResponse is the wire form of a bet.
type BetResponse struct {
	ID        string          `json:"id"`
	Bettor    string          `json:"bettor"`
	MatchID   string          `json:"match_id"`
	Choice    uint8           `json:"choice"`
	Amount    uint64          `json:"amount_lamports"`
	AmountSOL decimal.Decimal `json:"amount_sol"`
	Claimed   bool            `json:"claimed"`
	Payout    uint64          `json:"payout_lamports"`
	PayoutSOL decimal.Decimal `json:"payout_sol"`
	PlacedAt  time.Time       `json:"placed_at"`
}

// MatchResponse is the wire form of a match with pool totals in SOL.
type MatchResponse struct {
	ID              string          `json:"id"`
	Creator         string          `json:"creator"`
	AgentChoice1ID  string          `json:"agent_choice1_id"`
	AgentChoice2ID  string          `json:"agent_choice2_id"`
	Status          string          `json:"status"`
	Winner          uint8           `json:"winner"`
	PoolChoice1     uint64          `json:"pool_choice1_lamports"`
	PoolChoice2     uint64          `json:"pool_choice2_lamports"`
	PoolChoice1SOL  decimal.Decimal `json:"pool_choice1_sol"`
	PoolChoice2SOL  decimal.Decimal `json:"pool_choice2_sol"`
	TotalBets       uint64          `json:"total_bets"`
	FeeCollected    uint64          `json:"fee_collected_lamports"`
	MaxParticipants uint32          `json:"max_participants"`
	EscrowID        string          `json:"escrow_id"`
	FinalBoardHash  string          `json:"final_board_hash,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	ExpiresAt       time.Time       `json:"expires_at"`
}

func betResponse(b *model.Bet) BetResponse {
	return BetResponse{
		ID:        b.ID,
		Bettor:    b.Bettor,
		MatchID:   b.MatchID,
		Choice:    b.Choice,
		Amount:    b.Amount,
		AmountSOL: amount.ToSOL(b.Amount),
		Claimed:   b.Claimed,
		Payout:    b.Payout,
		PayoutSOL: amount.ToSOL(b.Payout),
		PlacedAt:  b.PlacedAt,
	}
}

func matchResponse(m *model.Match) MatchResponse {
	return MatchResponse{
		ID:              m.ID,
		Creator:         m.Creator,
		AgentChoice1ID:  m.AgentChoice1ID,
		AgentChoice2ID:  m.AgentChoice2ID,
		Status:          string(m.Status),
		Winner:          m.Winner,
		PoolChoice1:     m.PoolChoice1,
		PoolChoice2:     m.PoolChoice2,
		PoolChoice1SOL:  amount.ToSOL(m.PoolChoice1),
		PoolChoice2SOL:  amount.ToSOL(m.PoolChoice2),
		TotalBets:       m.TotalBets,
		FeeCollected:    m.FeeCollected,
		MaxParticipants: m.MaxParticipants,
		EscrowID:        m.EscrowID,
		FinalBoardHash:  m.FinalBoardHash,
		CreatedAt:       m.CreatedAt,
		ExpiresAt:       m.ExpiresAt,
	}
}

// --- HTTP Handlers ---

// HandleInitPlatform handles POST /api/v1/platform
func (s *Service) HandleInitPlatform(w http.ResponseWriter, r *http.Request) {
	var req InitPlatformRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	feeBps := s.defaultFeeBps
	if req.FeeBasisPoints != nil {
		feeBps = *req.FeeBasisPoints
	}

	p, err := s.InitializePlatform(r.Context(), req.Admin, req.Treasury, feeBps)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, p)
}

// HandleGetPlatform handles GET /api/v1/platform
func (s *Service) HandleGetPlatform(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.GetPlatform(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// HandleUpdatePlatform handles PUT /api/v1/platform
func (s *Service) HandleUpdatePlatform(w http.ResponseWriter, r *http.Request) {
	var req UpdatePlatformRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.UpdatePlatformConfig(r.Context(), req.Caller, req.FeeBasisPoints, req.IsPaused); err != nil {
		writeServiceError(w, err)
		return
	}

	p, err := s.store.GetPlatform(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// HandleCreateUser handles POST /api/v1/users
func (s *Service) HandleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Authority == "" {
		writeError(w, "authority is required", http.StatusBadRequest)
		return
	}

	u, err := s.CreateUser(r.Context(), req.Authority, req.Username, req.KycLevel, req.RegionFlags)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, u)
}

// HandleGetUser handles GET /api/v1/users/{authority}
func (s *Service) HandleGetUser(w http.ResponseWriter, r *http.Request) {
	authority := chi.URLParam(r, "authority")

	u, err := s.GetUserByAuthority(r.Context(), authority)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// HandleDeactivateUser handles DELETE /api/v1/users/{authority}
func (s *Service) HandleDeactivateUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller string `json:"caller"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := s.DeactivateUser(r.Context(), req.Caller, chi.URLParam(r, "authority")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleCreateMatch handles POST /api/v1/matches
func (s *Service) HandleCreateMatch(w http.ResponseWriter, r *http.Request) {
	var req CreateMatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.AgentChoice1ID == "" || req.AgentChoice2ID == "" {
		writeError(w, "both agent ids are required", http.StatusBadRequest)
		return
	}

	entryFee, err := amount.FromSOL(req.EntryFeeSOL)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	m, err := s.CreateMatch(r.Context(), req.Creator, req.AgentChoice1ID, req.AgentChoice2ID,
		entryFee, req.MaxParticipants, time.Duration(req.DurationSecs)*time.Second)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, matchResponse(m))
}

// HandleListMatches handles GET /api/v1/matches
// Optionally filtered by ?status=open|finalized|expired.
func (s *Service) HandleListMatches(w http.ResponseWriter, r *http.Request) {
	matches, err := s.store.ListMatches(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}

	status := r.URL.Query().Get("status")
	out := make([]MatchResponse, 0, len(matches))
	for i := range matches {
		if status != "" && string(matches[i].Status) != status {
			continue
		}
		out = append(out, matchResponse(&matches[i]))
	}

	writeJSON(w, http.StatusOK, out)
}

// HandleGetMatch handles GET /api/v1/matches/{matchID}
func (s *Service) HandleGetMatch(w http.ResponseWriter, r *http.Request) {
	m, err := s.store.GetMatch(r.Context(), chi.URLParam(r, "matchID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, matchResponse(m))
}

// HandleFinalizeMatch handles POST /api/v1/matches/{matchID}/finalize
func (s *Service) HandleFinalizeMatch(w http.ResponseWriter, r *http.Request) {
	var req FinalizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	m, err := s.FinalizeMatch(r.Context(), req.Finalizer, chi.URLParam(r, "matchID"),
		req.Winner, req.FinalBoardHash)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, matchResponse(m))
}

// HandleListMatchBets handles GET /api/v1/matches/{matchID}/bets
func (s *Service) HandleListMatchBets(w http.ResponseWriter, r *http.Request) {
	bets, err := s.store.ListBetsByMatch(r.Context(), chi.URLParam(r, "matchID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	out := make([]BetResponse, 0, len(bets))
	for i := range bets {
		out = append(out, betResponse(&bets[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

// HandlePlaceBet handles POST /api/v1/bets
func (s *Service) HandlePlaceBet(w http.ResponseWriter, r *http.Request) {
	var req PlaceBetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Bettor == "" || req.MatchID == "" {
		writeError(w, "bettor and match_id are required", http.StatusBadRequest)
		return
	}

	amt, err := amount.FromSOL(req.AmountSOL)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	bet, err := s.PlaceBet(r.Context(), req.Bettor, req.MatchID, req.Choice, amt)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, betResponse(bet))
}

// HandleGetBet handles GET /api/v1/bets/{betID}
func (s *Service) HandleGetBet(w http.ResponseWriter, r *http.Request) {
	bet, err := s.store.GetBet(r.Context(), chi.URLParam(r, "betID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, betResponse(bet))
}

// HandleClaimWinnings handles POST /api/v1/bets/{betID}/claim
func (s *Service) HandleClaimWinnings(w http.ResponseWriter, r *http.Request) {
	var req ClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	bet, err := s.ClaimWinnings(r.Context(), req.Claimant, chi.URLParam(r, "betID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, betResponse(bet))
}

// HandleClaimRefund handles POST /api/v1/bets/{betID}/refund
func (s *Service) HandleClaimRefund(w http.ResponseWriter, r *http.Request) {
	var req ClaimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	bet, err := s.ClaimRefund(r.Context(), req.Claimant, chi.URLParam(r, "betID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, betResponse(bet))
}

// HandleCreateEscrow handles POST /api/v1/escrows
func (s *Service) HandleCreateEscrow(w http.ResponseWriter, r *http.Request) {
	var req EscrowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	amt, err := amount.FromSOL(req.AmountSOL)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	esc, err := s.vaults.Create(r.Context(), req.Authority, amt)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, esc)
}

// HandleGetEscrow handles GET /api/v1/escrows/{escrowID}
func (s *Service) HandleGetEscrow(w http.ResponseWriter, r *http.Request) {
	esc, err := s.store.GetEscrow(r.Context(), chi.URLParam(r, "escrowID"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, esc)
}

// HandleDepositEscrow handles POST /api/v1/escrows/{escrowID}/deposit
func (s *Service) HandleDepositEscrow(w http.ResponseWriter, r *http.Request) {
	var req EscrowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	amt, err := amount.FromSOL(req.AmountSOL)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	escrowID := chi.URLParam(r, "escrowID")
	if err := s.vaults.Deposit(r.Context(), escrowID, req.Authority, amt); err != nil {
		writeServiceError(w, err)
		return
	}

	esc, err := s.store.GetEscrow(r.Context(), escrowID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, esc)
}

// HandleWithdrawEscrow handles POST /api/v1/escrows/{escrowID}/withdraw
func (s *Service) HandleWithdrawEscrow(w http.ResponseWriter, r *http.Request) {
	var req EscrowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	amt, err := amount.FromSOL(req.AmountSOL)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	dest := req.Destination
	if dest == "" {
		dest = req.Authority
	}

	escrowID := chi.URLParam(r, "escrowID")
	if err := s.vaults.Withdraw(r.Context(), escrowID, req.Authority, amt, dest); err != nil {
		writeServiceError(w, err)
		return
	}

	esc, err := s.store.GetEscrow(r.Context(), escrowID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, esc)
}

// HandleGetWallet handles GET /api/v1/wallets/{authority}
func (s *Service) HandleGetWallet(w http.ResponseWriter, r *http.Request) {
	authority := chi.URLParam(r, "authority")

	bal, err := s.store.WalletBalance(r.Context(), authority)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"authority":        authority,
		"balance_lamports": bal,
		"balance_sol":      amount.ToSOL(bal),
	})
}

// HandleCreditWallet handles POST /api/v1/wallets/{authority}/credit
// This is the deposit boundary from the external ledger: funds enter
// the engine's wallet book here.
func (s *Service) HandleCreditWallet(w http.ResponseWriter, r *http.Request) {
	var req WalletCreditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	amt, err := amount.FromSOL(req.AmountSOL)
	if err != nil || amt == 0 {
		writeError(w, "amount_sol must be positive", http.StatusBadRequest)
		return
	}

	authority := chi.URLParam(r, "authority")
	if err := s.store.CreditWallet(r.Context(), authority, amt); err != nil {
		writeServiceError(w, err)
		return
	}

	bal, err := s.store.WalletBalance(r.Context(), authority)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"authority":        authority,
		"balance_lamports": bal,
		"balance_sol":      amount.ToSOL(bal),
	})
}

// writeJSON writes a JSON response with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeServiceError maps a service error to its HTTP status.
func writeServiceError(w http.ResponseWriter, err error) {
	writeError(w, err.Error(), errs.Status(err))
}
