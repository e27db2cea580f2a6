package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/fxwallet/wallet-engine/internal/limits"
	"github.com/fxwallet/wallet-engine/internal/model"
)

// Handler exposes the wallet service over HTTP.
type Handler struct {
	svc      *Service
	validate *validator.Validate
}

// NewHandler creates the HTTP handler set for a wallet service.
func NewHandler(svc *Service) *Handler {
	return &Handler{
		svc:      svc,
		validate: validator.New(),
	}
}

// --- Request types ---

// FundRequest is the JSON body for POST /api/v1/wallet/fund.
type FundRequest struct {
	Owner     string          `json:"owner" validate:"required"`
	Currency  string          `json:"currency" validate:"required,len=3"`
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference" validate:"required"`
}

// ConvertRequest is the JSON body for POST /api/v1/wallet/convert and
// POST /api/v1/wallet/trade.
type ConvertRequest struct {
	Owner          string          `json:"owner" validate:"required"`
	SourceCurrency string          `json:"source_currency" validate:"required,len=3"`
	DestCurrency   string          `json:"dest_currency" validate:"required,len=3"`
	Amount         decimal.Decimal `json:"amount"`
	Reference      string          `json:"reference" validate:"required"`
}

// Fund handles POST /api/v1/wallet/fund.
func (h *Handler) Fund(w http.ResponseWriter, r *http.Request) {
	var req FundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := h.svc.Fund(r.Context(), req.Owner, model.Currency(req.Currency), req.Amount, req.Reference)
	if err != nil {
		writeError(w, err.Error(), statusForError(err))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Convert handles POST /api/v1/wallet/convert.
func (h *Handler) Convert(w http.ResponseWriter, r *http.Request) {
	h.convert(w, r, h.svc.Convert)
}

// Trade handles POST /api/v1/wallet/trade.
func (h *Handler) Trade(w http.ResponseWriter, r *http.Request) {
	h.convert(w, r, h.svc.Trade)
}

type convertFunc func(ctx context.Context, owner string, source, dest model.Currency, amount decimal.Decimal, reference string) (*ConvertResult, error)

func (h *Handler) convert(w http.ResponseWriter, r *http.Request, exec convertFunc) {
	var req ConvertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := exec(r.Context(), req.Owner,
		model.Currency(req.SourceCurrency), model.Currency(req.DestCurrency),
		req.Amount, req.Reference)
	if err != nil {
		writeError(w, err.Error(), statusForError(err))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Preview handles GET /api/v1/rates/preview?source=NGN&dest=USD&amount=100.00.
func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	source := r.URL.Query().Get("source")
	dest := r.URL.Query().Get("dest")
	amountStr := r.URL.Query().Get("amount")

	amount, err := decimal.NewFromString(amountStr)
	if err != nil {
		writeError(w, "amount must be a decimal number", http.StatusBadRequest)
		return
	}

	result, err := h.svc.Preview(r.Context(), model.Currency(source), model.Currency(dest), amount)
	if err != nil {
		writeError(w, err.Error(), statusForError(err))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// ListAccounts handles GET /api/v1/accounts/{ownerID}.
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "ownerID")

	accounts, err := h.svc.ListAccounts(r.Context(), owner)
	if err != nil {
		writeError(w, err.Error(), statusForError(err))
		return
	}
	if accounts == nil {
		accounts = []model.LedgerAccount{}
	}
	writeJSON(w, http.StatusOK, accounts)
}

// GetOperation handles GET /api/v1/operations/{ownerID}/{operationID}.
func (h *Handler) GetOperation(w http.ResponseWriter, r *http.Request) {
	owner := chi.URLParam(r, "ownerID")
	operationID := chi.URLParam(r, "operationID")

	op, err := h.svc.GetOperation(r.Context(), owner, operationID)
	if err != nil {
		writeError(w, err.Error(), statusForError(err))
		return
	}
	writeJSON(w, http.StatusOK, op)
}

// statusForError maps the wallet error taxonomy onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case errors.Is(err, model.ErrInvalidAmount),
		errors.Is(err, model.ErrUnsupportedCurrency),
		errors.Is(err, model.ErrSameCurrency),
		errors.Is(err, ErrMissingReference):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrInsufficientBalance),
		errors.Is(err, limits.ErrOperationLimitExceeded):
		return http.StatusUnprocessableEntity
	case errors.Is(err, model.ErrDuplicateKey),
		errors.Is(err, model.ErrOperationInProgress),
		errors.Is(err, model.ErrOperationFailed),
		errors.Is(err, model.ErrStorageConflict):
		return http.StatusConflict
	case errors.Is(err, model.ErrRateUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
