package entitlement

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/voxlate/voxlate/internal/api"
	"github.com/voxlate/voxlate/internal/auth"
	"github.com/voxlate/voxlate/internal/credit"
)

// Handler exposes the credit balance and purchase endpoints.
type Handler struct {
	ledger     *credit.Ledger
	gate       *Gate
	deviceSalt string
	validate   *validator.Validate
}

func NewHandler(ledger *credit.Ledger, gate *Gate, deviceSalt string) *Handler {
	return &Handler{
		ledger:     ledger,
		gate:       gate,
		deviceSalt: deviceSalt,
		validate:   validator.New(),
	}
}

type BalanceResponse struct {
	RemainingSeconds       int64     `json:"remaining_seconds"`
	WeeklyAllowanceSeconds int64     `json:"weekly_allowance_seconds"`
	LastResetAt            time.Time `json:"last_reset_at"`
	NextResetAt            time.Time `json:"next_reset_at"`
}

// Balance handles GET /v1/credit.
func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}

	b, err := h.ledger.Balance(r.Context(), id)
	if err != nil {
		slog.Error("reading balance", "error", err, "identity", id.Key())
		api.WriteError(w, api.ErrInternalServer)
		return
	}

	api.JSON(w, http.StatusOK, BalanceResponse{
		RemainingSeconds:       b.RemainingSeconds,
		WeeklyAllowanceSeconds: b.WeeklyAllowanceSeconds,
		LastResetAt:            b.LastResetAt,
		NextResetAt:            b.LastResetAt.AddDate(0, 0, 7),
	})
}

type PurchaseRequest struct {
	SignedTransaction string `json:"signed_transaction" validate:"required"`
}

type PurchaseResponse struct {
	TransactionID  string `json:"transaction_id"`
	ProductID      string `json:"product_id"`
	GrantedSeconds int64  `json:"granted_seconds"`
	AlreadyApplied bool   `json:"already_applied"`
}

// Purchase handles POST /v1/purchases: verify and credit a signed store
// transaction.
func (h *Handler) Purchase(w http.ResponseWriter, r *http.Request) {
	var req PurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, api.ErrBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		api.WriteError(w, api.NewValidationError(err.Error()))
		return
	}

	id, ok := h.identity(w, r)
	if !ok {
		return
	}

	res, err := h.gate.ApplyPurchase(r.Context(), id, req.SignedTransaction)
	if err != nil {
		if errors.Is(err, ErrVerificationFailed) {
			api.WriteError(w, api.NewPurchaseVerificationError(err.Error()))
			return
		}
		slog.Error("applying purchase", "error", err, "identity", id.Key())
		api.WriteError(w, api.ErrInternalServer)
		return
	}

	api.JSON(w, http.StatusOK, PurchaseResponse{
		TransactionID:  res.TransactionID,
		ProductID:      res.ProductID,
		GrantedSeconds: res.GrantedSeconds,
		AlreadyApplied: res.AlreadyApplied,
	})
}

func (h *Handler) identity(w http.ResponseWriter, r *http.Request) (credit.Identity, bool) {
	if claims := auth.GetUserClaims(r.Context()); claims != nil {
		return credit.Account(claims.UserID), true
	}
	if deviceID := r.Header.Get("X-Device-ID"); deviceID != "" {
		return credit.Anonymous(credit.HashDeviceID(deviceID, h.deviceSalt)), true
	}
	api.WriteError(w, api.NewBadRequestError("missing X-Device-ID header or bearer token"))
	return credit.Identity{}, false
}
