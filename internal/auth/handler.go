package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/voxlate/voxlate/internal/api"
	"github.com/voxlate/voxlate/internal/credit"
	"github.com/voxlate/voxlate/internal/users"
)

type Handler struct {
	authSvc    *Service
	userSvc    *users.Service
	ledger     *credit.Ledger
	deviceSalt string
	validate   *validator.Validate
}

func NewHandler(authSvc *Service, userSvc *users.Service, ledger *credit.Ledger, deviceSalt string) *Handler {
	return &Handler{
		authSvc:    authSvc,
		userSvc:    userSvc,
		ledger:     ledger,
		deviceSalt: deviceSalt,
		validate:   validator.New(),
	}
}

type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, api.ErrBadRequest)
		return
	}

	if err := h.validate.Struct(req); err != nil {
		api.WriteError(w, api.NewValidationError(err.Error()))
		return
	}

	exists, err := h.userSvc.ExistsByEmail(r.Context(), req.Email)
	if err != nil {
		slog.Error("checking email existence", "error", err)
		api.WriteError(w, api.ErrInternalServer)
		return
	}
	if exists {
		api.WriteError(w, api.ErrEmailAlreadyExists)
		return
	}

	hash, err := HashPassword(req.Password)
	if err != nil {
		slog.Error("hashing password", "error", err)
		api.WriteError(w, api.ErrInternalServer)
		return
	}

	user, err := h.userSvc.Create(r.Context(), req.Email, hash)
	if err != nil {
		slog.Error("creating user", "error", err)
		api.WriteError(w, api.ErrInternalServer)
		return
	}

	h.migrateDeviceCredit(r, user.ID.String())

	tokens, err := h.authSvc.GenerateTokens(r.Context(), user.ID.String(), user.Email)
	if err != nil {
		slog.Error("generating tokens", "error", err)
		api.WriteError(w, api.ErrInternalServer)
		return
	}

	api.JSON(w, http.StatusCreated, tokens)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, api.ErrBadRequest)
		return
	}

	if err := h.validate.Struct(req); err != nil {
		api.WriteError(w, api.NewValidationError(err.Error()))
		return
	}

	user, err := h.userSvc.GetByEmail(r.Context(), req.Email)
	if err != nil {
		slog.Error("getting user by email", "error", err)
		api.WriteError(w, api.ErrInternalServer)
		return
	}
	if user == nil {
		api.WriteError(w, api.ErrInvalidCredentials)
		return
	}

	if err := ComparePassword(user.PasswordHash, req.Password); err != nil {
		api.WriteError(w, api.ErrInvalidCredentials)
		return
	}

	h.migrateDeviceCredit(r, user.ID.String())

	tokens, err := h.authSvc.GenerateTokens(r.Context(), user.ID.String(), user.Email)
	if err != nil {
		slog.Error("generating tokens", "error", err)
		api.WriteError(w, api.ErrInternalServer)
		return
	}

	api.JSON(w, http.StatusOK, tokens)
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.WriteError(w, api.ErrBadRequest)
		return
	}

	if err := h.validate.Struct(req); err != nil {
		api.WriteError(w, api.NewValidationError(err.Error()))
		return
	}

	tokens, err := h.authSvc.RefreshTokens(r.Context(), req.RefreshToken)
	if err != nil {
		slog.Error("refreshing tokens", "error", err)
		api.WriteError(w, api.ErrInvalidToken)
		return
	}

	api.JSON(w, http.StatusOK, tokens)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	claims := GetUserClaims(r.Context())
	if claims == nil {
		api.WriteError(w, api.ErrUnauthorized)
		return
	}

	if err := h.authSvc.Logout(r.Context(), claims.UserID); err != nil {
		slog.Error("logging out", "error", err)
		api.WriteError(w, api.ErrInternalServer)
		return
	}

	api.JSONMessage(w, http.StatusOK, "logged out successfully")
}

// migrateDeviceCredit folds the device's anonymous balance into the account
// on sign-in when the client identifies its device. Migration is idempotent;
// failures are logged and never block authentication.
func (h *Handler) migrateDeviceCredit(r *http.Request, userID string) {
	deviceID := r.Header.Get("X-Device-ID")
	if deviceID == "" {
		return
	}

	anon := credit.Anonymous(credit.HashDeviceID(deviceID, h.deviceSalt))
	if err := h.ledger.Migrate(r.Context(), anon, credit.Account(userID)); err != nil {
		slog.Error("migrating device credit", "error", err, "user_id", userID)
	}
}
