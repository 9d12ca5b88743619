package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"auth-service/internal/client"
	"auth-service/internal/model"
	"auth-service/internal/repository"
	"auth-service/internal/service"
	"auth-service/internal/util"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AuthHandler handles HTTP requests for authentication operations
type AuthHandler struct {
	auth     *service.AuthService
	otp      *service.OTPService
	sessions *service.SessionService
	store    repository.Store
	search   *client.ESClient
	logger   *zap.Logger
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(
	auth *service.AuthService,
	otp *service.OTPService,
	sessions *service.SessionService,
	store repository.Store,
	search *client.ESClient,
	logger *zap.Logger,
) *AuthHandler {
	return &AuthHandler{
		auth:     auth,
		otp:      otp,
		sessions: sessions,
		store:    store,
		search:   search,
		logger:   logger,
	}
}

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

func successResponse(data interface{}, message string) Response {
	return Response{Success: true, Data: data, Message: message}
}

func errorResponse(err error, message string) Response {
	return Response{Success: false, Error: err.Error(), Message: message}
}

// -------------------- request shapes --------------------

type sendOTPRequest struct {
	Phone       string `json:"phone"`
	CountryCode string `json:"country_code"`
}

type verifyOTPRequest struct {
	Phone       string `json:"phone"`
	CountryCode string `json:"country_code"`
	Code        string `json:"code"`
	deviceFields
}

type resendOTPRequest struct {
	Phone       string `json:"phone"`
	CountryCode string `json:"country_code"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	deviceFields
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type googleLoginRequest struct {
	Subject string `json:"subject"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	deviceFields
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
	deviceFields
}

type emailRequest struct {
	Email string `json:"email"`
}

type tokenRequest struct {
	Token string `json:"token"`
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

type deviceFields struct {
	DeviceID   string `json:"device_id"`
	DeviceName string `json:"device_name"`
}

func (d deviceFields) deviceInfo(r *http.Request) model.DeviceInfo {
	return model.DeviceInfo{
		DeviceID:   d.DeviceID,
		DeviceName: d.DeviceName,
		IPAddress:  r.RemoteAddr,
		UserAgent:  r.UserAgent(),
	}
}

// RegisterRoutes registers all auth routes
func (h *AuthHandler) RegisterRoutes(router chi.Router) {
	router.Route("/auth", func(r chi.Router) {
		// Public routes
		r.Post("/otp/send", h.SendOTP)
		r.Post("/otp/verify", h.VerifyOTP)
		r.Post("/otp/resend", h.ResendOTP)
		r.Post("/login", h.Login)
		r.Post("/register", h.Register)
		r.Post("/google", h.GoogleLogin)
		r.Post("/refresh", h.Refresh)
		r.Post("/verify-email", h.VerifyEmail)
		r.Post("/resend-verification", h.ResendVerificationEmail)
		r.Get("/email-status", h.EmailStatus)
		r.Post("/forgot-password", h.ForgotPassword)
		r.Post("/reset-password", h.ResetPassword)

		// Protected routes
		r.Group(func(r chi.Router) {
			r.Use(Authenticate(h.sessions))
			r.Get("/validate", h.Validate)
			r.Get("/me", h.Me)
			r.Post("/logout", h.Logout)
			r.Post("/logout-all", h.LogoutAll)
			r.Get("/security/events", h.SecurityEvents)
		})
	})
}

// SendOTP issues an OTP challenge for a phone number
func (h *AuthHandler) SendOTP(w http.ResponseWriter, r *http.Request) {
	var req sendOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	result, err := h.otp.SendOTP(r.Context(), req.Phone, req.CountryCode)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to send OTP")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(result, "OTP sent successfully"))
}

// VerifyOTP checks the code and issues a session, creating the account
// on first verification
func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req verifyOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	creds := model.PhoneOTPCredentials{
		Phone:       req.Phone,
		CountryCode: req.CountryCode,
		Code:        req.Code,
	}

	response, created, err := h.auth.LoginWithOTP(r.Context(), creds, req.deviceInfo(r))
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "OTP verification failed")
		return
	}

	status := http.StatusOK
	message := "Logged in"
	if created {
		status = http.StatusCreated
		message = "Account created"
	}

	h.respondWithJSON(w, status, successResponse(response, message))
	h.logger.Info("OTP login",
		util.String("user_id", response.User.ID.String()),
		util.Bool("created", created),
		util.Duration("duration", time.Since(start)),
	)
}

// ResendOTP redelivers the live challenge's code
func (h *AuthHandler) ResendOTP(w http.ResponseWriter, r *http.Request) {
	var req resendOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	result, err := h.otp.ResendOTP(r.Context(), req.Phone, req.CountryCode)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to resend OTP")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(result, "OTP resent"))
}

// Login authenticates an email/password pair
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	creds := model.PasswordCredentials{Email: req.Email, Password: req.Password}

	response, err := h.auth.Login(r.Context(), creds, req.deviceInfo(r))
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Login failed")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(response, "Logged in"))
	h.logger.Info("Password login",
		util.String("user_id", response.User.ID.String()),
		util.Duration("duration", time.Since(start)),
	)
}

// Register creates an email/password account
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	result, err := h.auth.Register(r.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Registration failed")
		return
	}

	h.respondWithJSON(w, http.StatusCreated, successResponse(result, "Account created, verification email sent"))
	h.logger.Info("User registered", util.String("user_id", result.User.ID.String()))
}

// GoogleLogin signs in a verified Google identity assertion
func (h *AuthHandler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	var req googleLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	identity := model.OAuthIdentity{
		Provider: "google",
		Subject:  req.Subject,
		Email:    req.Email,
		Name:     req.Name,
	}

	response, created, err := h.auth.LoginWithGoogle(r.Context(), identity, req.deviceInfo(r))
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Google login failed")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	h.respondWithJSON(w, status, successResponse(response, "Logged in with Google"))
}

// Refresh rotates a refresh token into a new token pair
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}
	if req.RefreshToken == "" {
		h.respondWithError(w, http.StatusBadRequest, errors.New("refresh_token is required"), "Missing refresh token")
		return
	}

	response, err := h.sessions.RefreshTokens(r.Context(), req.RefreshToken, req.deviceInfo(r))
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Token refresh failed")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(response, "Tokens refreshed"))
}

// Validate reports whether the presented access token's session is live.
// Reaching the handler means the middleware already validated it.
func (h *AuthHandler) Validate(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())
	h.respondWithJSON(w, http.StatusOK, successResponse(model.SessionValidation{Valid: true}, "Session valid"))
	h.logger.Debug("Session validated", util.String("user_id", claims.UserID))
}

// Me returns the authenticated user's profile
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		h.respondWithError(w, http.StatusUnauthorized, err, "Invalid session subject")
		return
	}

	user, err := h.store.UserByID(r.Context(), userID)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to load user")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(service.SummarizeUser(user), "User retrieved"))
}

// Logout revokes the caller's sessions on one device
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		h.respondWithError(w, http.StatusUnauthorized, err, "Invalid session subject")
		return
	}

	var req deviceFields
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	if err := h.sessions.Logout(r.Context(), userID, req.DeviceID); err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Logout failed")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Logged out"))
}

// LogoutAll revokes every session of the caller
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFromContext(r.Context())

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		h.respondWithError(w, http.StatusUnauthorized, err, "Invalid session subject")
		return
	}

	count, err := h.sessions.LogoutAllDevices(r.Context(), userID)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Logout failed")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(map[string]int{"revoked_sessions": count}, "Logged out everywhere"))
}

// VerifyEmail consumes an email verification token
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	if err := h.auth.VerifyEmail(r.Context(), req.Token); err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Email verification failed")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Email verified"))
}

// ResendVerificationEmail reissues the verification token. Responds
// identically whether or not the address is known.
func (h *AuthHandler) ResendVerificationEmail(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	if err := h.auth.ResendVerificationEmail(r.Context(), req.Email); err != nil {
		if errors.Is(err, service.ErrInvalidInput) {
			h.respondWithError(w, http.StatusBadRequest, err, "Invalid email")
			return
		}
		h.logger.Error("Resend verification failed", util.ErrorField(err))
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "If the address needs verification, an email is on its way"))
}

// EmailStatus reports whether an address belongs to a verified account
func (h *AuthHandler) EmailStatus(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")

	verified, err := h.auth.EmailVerifiedStatus(r.Context(), email)
	if err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Failed to check email status")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(map[string]bool{"verified": verified}, "Email status retrieved"))
}

// ForgotPassword requests a password reset email. Responds identically
// whether or not the address is known.
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	if err := h.auth.ForgotPassword(r.Context(), req.Email); err != nil {
		if errors.Is(err, service.ErrInvalidInput) {
			h.respondWithError(w, http.StatusBadRequest, err, "Invalid email")
			return
		}
		// Internal failures are logged, not exposed.
		h.logger.Error("Forgot password failed", util.ErrorField(err))
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "If the address is registered, a reset email is on its way"))
}

// ResetPassword sets a new password from a reset token
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	if err := h.auth.ResetPassword(r.Context(), req.Token, req.NewPassword); err != nil {
		h.respondWithError(w, h.getStatusCode(err), err, "Password reset failed")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(nil, "Password reset, all sessions revoked"))
}

// SecurityEvents searches the caller's security events in Elasticsearch
func (h *AuthHandler) SecurityEvents(w http.ResponseWriter, r *http.Request) {
	if h.search == nil {
		h.respondWithError(w, http.StatusServiceUnavailable, errors.New("search backend not configured"), "Security search unavailable")
		return
	}

	claims := ClaimsFromContext(r.Context())

	query := map[string]interface{}{
		"query": map[string]interface{}{
			"term": map[string]interface{}{
				"user_id": claims.UserID,
			},
		},
		"sort": []map[string]interface{}{
			{"created_at": map[string]interface{}{"order": "desc"}},
		},
		"size": 50,
	}

	results, err := h.search.Search(r.Context(), query)
	if err != nil {
		h.respondWithError(w, http.StatusBadGateway, err, "Security search failed")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(results, "Security events retrieved"))
}

// -------------------- response plumbing --------------------

// respondWithJSON sends a JSON response
func (h *AuthHandler) respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

// respondWithError sends an error response
func (h *AuthHandler) respondWithError(w http.ResponseWriter, statusCode int, err error, message string) {
	h.logger.Warn("HTTP error response",
		util.ErrorField(err),
		util.Int("status_code", statusCode),
		util.String("message", message),
	)
	h.respondWithJSON(w, statusCode, errorResponse(err, message))
}

// getStatusCode determines the appropriate HTTP status code for an error
func (h *AuthHandler) getStatusCode(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrNotAuthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, service.ErrNotFound), errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, service.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
