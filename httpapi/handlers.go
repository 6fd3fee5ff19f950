package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/shadowmesh/shadowmesh"
	"github.com/shadowmesh/shadowmesh/credential"
)

// Handler exposes the engine flows over HTTP. Request bodies are small
// fixed-shape JSON objects; responses never leak internal error detail.
type Handler struct {
	engine *shadowmesh.Engine
	logger *zap.Logger
}

// NewHandler binds the engine to the HTTP layer.
func NewHandler(engine *shadowmesh.Engine, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{engine: engine, logger: logger}
}

// RegisterRoutes mounts every credential endpoint under the given router.
func (h *Handler) RegisterRoutes(router chi.Router) {
	router.Route("/admin", func(r chi.Router) {
		r.Post("/login", h.AdminLogin)
		r.Post("/2fa/verify", h.AdminVerify2FA)
		r.Post("/password-reset/request", h.AdminResetRequest)
		r.Post("/password-reset/confirm", h.AdminResetConfirm)

		r.Group(func(r chi.Router) {
			r.Use(h.requireSession(credential.ClassAdmin))
			r.Post("/2fa/setup", h.Setup2FA)
			r.Post("/2fa/enable", h.Enable2FA)
			r.Post("/2fa/disable", h.Disable2FA)
		})
	})

	router.Route("/members", func(r chi.Router) {
		r.Post("/login", h.MemberLogin)
		r.Post("/2fa/send-otp", h.SendBackupOTP)
		r.Post("/2fa/verify", h.MemberVerify2FA)
		r.Post("/password-reset/request", h.MemberResetRequest)
		r.Post("/password-reset/confirm", h.MemberResetConfirm)

		r.Group(func(r chi.Router) {
			r.Use(h.requireSession(credential.ClassMember))
			r.Post("/2fa/setup", h.Setup2FA)
			r.Post("/2fa/enable", h.Enable2FA)
			r.Post("/2fa/disable", h.Disable2FA)
		})
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type codeRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type enableRequest struct {
	Secret string `json:"secret"`
	Code   string `json:"code"`
}

type emailRequest struct {
	Email string `json:"email"`
}

type adminResetConfirmRequest struct {
	Email           string `json:"email"`
	Code            string `json:"code"`
	NewPassword     string `json:"newPassword"`
	ConfirmPassword string `json:"confirmPassword"`
}

type memberResetConfirmRequest struct {
	Token           string `json:"token"`
	NewPassword     string `json:"newPassword"`
	ConfirmPassword string `json:"confirmPassword"`
}

type memberVerifyRequest struct {
	MemberID string `json:"memberId"`
	Code     string `json:"code"`
}

func (h *Handler) AdminLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("email and password are required"))
		return
	}
	result, err := h.engine.AdminLogin(requestContext(r), req.Email, req.Password)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) AdminVerify2FA(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Email == "" || req.Code == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("email and code are required"))
		return
	}
	result, err := h.engine.Verify2FA(requestContext(r), req.Email, req.Code)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) MemberLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("email and password are required"))
		return
	}
	result, err := h.engine.MemberLogin(requestContext(r), req.Email, req.Password)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) Setup2FA(w http.ResponseWriter, r *http.Request) {
	identity := sessionIdentity(r)
	if identity == "" {
		writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized"))
		return
	}
	setup, err := h.engine.Setup2FA(requestContext(r), identity)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, setup)
}

func (h *Handler) Enable2FA(w http.ResponseWriter, r *http.Request) {
	identity := sessionIdentity(r)
	if identity == "" {
		writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized"))
		return
	}
	var req enableRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Secret == "" || req.Code == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("secret and code are required"))
		return
	}
	if err := h.engine.Enable2FA(requestContext(r), identity, req.Secret, req.Code); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, successBody())
}

func (h *Handler) Disable2FA(w http.ResponseWriter, r *http.Request) {
	identity := sessionIdentity(r)
	if identity == "" {
		writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized"))
		return
	}
	if err := h.engine.Disable2FA(requestContext(r), identity); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, successBody())
}

func (h *Handler) MemberVerify2FA(w http.ResponseWriter, r *http.Request) {
	var req memberVerifyRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.MemberID == "" || req.Code == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("memberId and code are required"))
		return
	}
	result, err := h.engine.MemberVerify2FA(requestContext(r), req.MemberID, req.Code)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) SendBackupOTP(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Email == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("email is required"))
		return
	}
	resp, err := h.engine.SendBackupOTP(requestContext(r), req.Email)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) AdminResetRequest(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Email == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("email is required"))
		return
	}
	resp, err := h.engine.RequestAdminReset(requestContext(r), req.Email)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) AdminResetConfirm(w http.ResponseWriter, r *http.Request) {
	var req adminResetConfirmRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Email == "" || req.Code == "" || req.NewPassword == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("email, code, and newPassword are required"))
		return
	}
	if err := h.engine.ConfirmAdminReset(requestContext(r), req.Email, req.Code, req.NewPassword, req.ConfirmPassword); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, successBody())
}

func (h *Handler) MemberResetRequest(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Email == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("email is required"))
		return
	}
	resp, err := h.engine.RequestMemberReset(requestContext(r), req.Email)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) MemberResetConfirm(w http.ResponseWriter, r *http.Request) {
	var req memberResetConfirmRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Token == "" || req.NewPassword == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("token and newPassword are required"))
		return
	}
	if err := h.engine.ConfirmMemberReset(requestContext(r), req.Token, req.NewPassword, req.ConfirmPassword); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, successBody())
}

func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.MetricsSnapshot())
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid request body"))
		return false
	}
	return true
}

// writeError maps the engine taxonomy onto HTTP statuses without ever
// echoing internal error detail.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var lockErr *shadowmesh.LockoutError
	switch {
	case errors.As(err, &lockErr):
		writeJSON(w, http.StatusUnauthorized, errorBody(lockErr.Error()))
	case errors.Is(err, shadowmesh.ErrTooManyRequests):
		writeJSON(w, http.StatusTooManyRequests, errorBody("too many requests, try again later"))
	case errors.Is(err, shadowmesh.ErrInvalidCredentials):
		writeJSON(w, http.StatusUnauthorized, errorBody("invalid credentials"))
	case errors.Is(err, shadowmesh.ErrInvalidCode), errors.Is(err, shadowmesh.ErrCodeExpired):
		writeJSON(w, http.StatusUnauthorized, errorBody("invalid or expired code"))
	case errors.Is(err, shadowmesh.ErrWeakPassword):
		writeJSON(w, http.StatusBadRequest, errorBody("password does not meet the policy"))
	case errors.Is(err, shadowmesh.ErrPasswordMismatch):
		writeJSON(w, http.StatusBadRequest, errorBody("passwords do not match"))
	case errors.Is(err, shadowmesh.ErrInvalidSecret),
		errors.Is(err, shadowmesh.ErrNotConfigured),
		errors.Is(err, shadowmesh.ErrNotEnabled):
		writeJSON(w, http.StatusBadRequest, errorBody("two-factor authentication is not configured"))
	default:
		h.logger.Error("internal error", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal server error"))
	}
}

// requestContext attaches the caller IP for audit and last-login tracking.
func requestContext(r *http.Request) context.Context {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return shadowmesh.WithClientIP(r.Context(), ip)
}

type response struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func successBody() response {
	return response{Success: true}
}

func errorBody(msg string) response {
	return response{Success: false, Error: msg}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
