package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"aepblueprint/internal/app/apiresp"

	"github.com/go-chi/chi/v5"
)

type contextKey string

const userContextKey contextKey = "auth_user"

const SessionCookieName = "aep_session"

const maxUserImportBytes = 5 << 20

type Handler struct {
	svc          *Service
	secureCookie bool
}

type apiResponse struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

type loginRequest struct {
	Email string `json:"email"`
}

type callbackRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

type updateRoleRequest struct {
	Role string `json:"role"`
}

// NewHandler builds the auth handler. secureCookie marks the session cookie
// Secure and should be on outside development.
func NewHandler(svc *Service, secureCookie bool) *Handler {
	return &Handler{svc: svc, secureCookie: secureCookie}
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid request body"})
		return
	}

	err := h.svc.RequestCode(r.Context(), req.Email)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidEmail):
			writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid email"})
		case errors.Is(err, ErrDomainNotAllowed):
			writeJSON(w, r, http.StatusForbidden, apiResponse{OK: false, Error: "email domain not allowed"})
		case errors.Is(err, ErrForbidden):
			writeJSON(w, r, http.StatusForbidden, apiResponse{OK: false, Error: "account is not active"})
		case errors.Is(err, ErrRateLimited):
			writeJSON(w, r, http.StatusTooManyRequests, apiResponse{OK: false, Error: "login code requested too frequently"})
		default:
			writeJSON(w, r, http.StatusInternalServerError, apiResponse{OK: false, Error: "internal error"})
		}
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: map[string]string{"status": "login code sent"}})
}

func (h *Handler) Callback(w http.ResponseWriter, r *http.Request) {
	var req callbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid request body"})
		return
	}

	user, err := h.svc.VerifyCode(r.Context(), req.Email, req.Code)
	if err != nil {
		switch {
		case errors.Is(err, ErrRateLimited):
			writeJSON(w, r, http.StatusTooManyRequests, apiResponse{OK: false, Error: "too many attempts"})
		case errors.Is(err, ErrInvalidCode):
			writeJSON(w, r, http.StatusUnauthorized, apiResponse{OK: false, Error: "invalid code"})
		case errors.Is(err, ErrCodeExpired):
			writeJSON(w, r, http.StatusUnauthorized, apiResponse{OK: false, Error: "code expired"})
		case errors.Is(err, ErrDomainNotAllowed):
			writeJSON(w, r, http.StatusForbidden, apiResponse{OK: false, Error: "email domain not allowed"})
		case errors.Is(err, ErrForbidden):
			writeJSON(w, r, http.StatusForbidden, apiResponse{OK: false, Error: "account is not active"})
		default:
			writeJSON(w, r, http.StatusInternalServerError, apiResponse{OK: false, Error: "internal error"})
		}
		return
	}

	if err := h.establishSession(w, r, user); err != nil {
		writeJSON(w, r, http.StatusInternalServerError, apiResponse{OK: false, Error: "cannot create session"})
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: user})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	_ = h.svc.RevokeSession(r.Context(), readSessionToken(r))

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: map[string]string{"status": "logged_out"}})
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, apiResponse{OK: false, Error: "unauthorized"})
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: user})
}

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.ListUsers(r.Context())
	if err != nil {
		writeJSON(w, r, http.StatusInternalServerError, apiResponse{OK: false, Error: "internal error"})
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: items})
}

func (h *Handler) UpdateUserRole(w http.ResponseWriter, r *http.Request) {
	admin, ok := CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, apiResponse{OK: false, Error: "unauthorized"})
		return
	}
	var req updateRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "invalid request body"})
		return
	}

	user, err := h.svc.UpdateUserRole(r.Context(), admin.ID, chi.URLParam(r, "id"), req.Role)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidRole):
			writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: "role must be admin, editor or viewer"})
		case errors.Is(err, ErrUserNotFound):
			writeJSON(w, r, http.StatusNotFound, apiResponse{OK: false, Error: err.Error()})
		case errors.Is(err, ErrForbidden):
			writeJSON(w, r, http.StatusForbidden, apiResponse{OK: false, Error: "admins cannot demote themselves"})
		default:
			writeJSON(w, r, http.StatusInternalServerError, apiResponse{OK: false, Error: "internal error"})
		}
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: user})
}

func (h *Handler) ExportUsers(w http.ResponseWriter, r *http.Request) {
	data, err := h.svc.ExportUsersExcel(r.Context())
	if err != nil {
		writeJSON(w, r, http.StatusInternalServerError, apiResponse{OK: false, Error: "internal error"})
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="aep-users.xlsx"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *Handler) ImportUsers(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUserImportBytes)
	report, err := h.svc.ImportUsersExcel(r.Context(), r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, r, http.StatusRequestEntityTooLarge, apiResponse{OK: false, Error: "file too large"})
			return
		}
		writeJSON(w, r, http.StatusBadRequest, apiResponse{OK: false, Error: err.Error()})
		return
	}
	writeJSON(w, r, http.StatusOK, apiResponse{OK: true, Data: report})
}

func (h *Handler) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := h.svc.SessionUser(r.Context(), readSessionToken(r))
		if err != nil {
			if errors.Is(err, ErrDomainNotAllowed) {
				writeJSON(w, r, http.StatusForbidden, apiResponse{OK: false, Error: "email domain not allowed"})
				return
			}
			writeJSON(w, r, http.StatusUnauthorized, apiResponse{OK: false, Error: "unauthorized"})
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
	})
}

func RequireRoles(roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := CurrentUser(r.Context())
			if !ok {
				writeJSON(w, r, http.StatusUnauthorized, apiResponse{OK: false, Error: "unauthorized"})
				return
			}
			if _, exists := allowed[user.Role]; !exists {
				writeJSON(w, r, http.StatusForbidden, apiResponse{OK: false, Error: "forbidden"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func CurrentUser(ctx context.Context) (*User, bool) {
	u, ok := ctx.Value(userContextKey).(*User)
	return u, ok && u != nil
}

// ContextWithUser injects an authenticated user into context.
func ContextWithUser(ctx context.Context, user *User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

func (h *Handler) establishSession(w http.ResponseWriter, r *http.Request, user *User) error {
	token, expiresAt, err := h.svc.CreateSession(r.Context(), user.ID)
	if err != nil {
		return err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	return nil
}

func readSessionToken(r *http.Request) string {
	c, err := r.Cookie(SessionCookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, payload apiResponse) {
	if payload.OK {
		apiresp.WriteOK(w, r, code, payload.Data)
		return
	}
	apiresp.WriteError(w, r, code, payload.Error)
}
