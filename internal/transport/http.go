// Package transport exposes a hub over HTTP. It is the boundary layer: it
// authenticates the caller, enforces the consent gate, and translates
// pipeline errors into status codes before anything reaches the dispatcher.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"hubgate/internal/consent"
	"hubgate/internal/hub"
	"hubgate/internal/identity"
	"hubgate/internal/router"
	"hubgate/internal/types"
	"hubgate/internal/utils"
)

type HTTPTransport struct {
	hub     *hub.Hub
	logger  *utils.Logger
	addr    string
	baseURL string
	http    *http.Server
}

func NewHTTPTransport(h *hub.Hub, addr, baseURL string, logger *utils.Logger) *HTTPTransport {
	return &HTTPTransport{hub: h, logger: logger, addr: addr, baseURL: baseURL}
}

// Handler builds the route table. Exposed separately so tests can drive it
// through httptest.
func (t *HTTPTransport) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", t.handleHubCard)
	mux.HandleFunc("GET /health", t.handleHealth)
	mux.HandleFunc("GET /actions", t.handleActions)
	mux.HandleFunc("GET /consent-form", t.handleConsentForm)

	mux.HandleFunc("POST /auth/magic-link", t.handleMagicLink)
	mux.HandleFunc("POST /auth/verify", t.handleVerify)
	mux.HandleFunc("GET /auth/session", t.handleSession)
	mux.HandleFunc("POST /auth/logout", t.handleLogout)

	mux.HandleFunc("POST /consent", t.handleRecordConsent)
	mux.HandleFunc("DELETE /consent", t.handleRevokeConsent)
	mux.HandleFunc("GET /consent/status", t.handleConsentStatus)

	mux.HandleFunc("POST /action", t.handleAction)
	mux.HandleFunc("POST /action/{id}", t.handleActionByID)
	return mux
}

func (t *HTTPTransport) Start(ctx context.Context) error {
	t.http = &http.Server{Addr: t.addr, Handler: t.Handler()}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = t.http.Shutdown(ctxShutdown)
	}()
	t.logger.Infof("serving hub on %s", t.addr)
	return t.http.ListenAndServe()
}

func (t *HTTPTransport) handleHubCard(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, t.hub.HubCard(t.baseURL))
}

func (t *HTTPTransport) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, t.hub.HealthCheck(r.Context()))
}

func (t *HTTPTransport) handleActions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"actions": t.hub.Actions()})
}

func (t *HTTPTransport) handleConsentForm(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, t.hub.Consent().FormContent())
}

type magicLinkRequest struct {
	Email string `json:"email"`
}

func (t *HTTPTransport) handleMagicLink(w http.ResponseWriter, r *http.Request) {
	var req magicLinkRequest
	if !decodeBody(w, r, &req) {
		return
	}
	token, err := t.hub.RequestMagicLink(r.Context(), req.Email)
	if errors.Is(err, identity.ErrInvalidDomain) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		t.internalError(w, "magic link request failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"message":   "Magic link sent to " + req.Email,
		"dev_token": token,
	})
}

type verifyRequest struct {
	Token string `json:"token"`
}

func (t *HTTPTransport) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	result, err := t.hub.VerifyMagicLink(r.Context(), req.Token)
	if errors.Is(err, identity.ErrInvalidOrExpiredLink) || errors.Is(err, identity.ErrLinkExpired) {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	if err != nil {
		t.internalError(w, "magic link verification failed", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (t *HTTPTransport) handleSession(w http.ResponseWriter, r *http.Request) {
	token := sessionToken(r)
	if token == "" {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
		return
	}
	user, err := t.hub.CheckAuth(r.Context(), token)
	if err != nil {
		t.internalError(w, "session check failed", err)
		return
	}
	if user == nil {
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
		return
	}
	hasConsent, err := t.hub.CheckConsent(r.Context(), user.UserID)
	if err != nil {
		t.internalError(w, "consent check failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"authenticated": true,
		"user":          user,
		"has_consent":   hasConsent,
	})
}

func (t *HTTPTransport) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token := sessionToken(r); token != "" {
		if _, err := t.hub.Identity().InvalidateSession(r.Context(), token); err != nil {
			t.internalError(w, "logout failed", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Logged out"})
}

func (t *HTTPTransport) handleRecordConsent(w http.ResponseWriter, r *http.Request) {
	user := t.requireAuth(w, r)
	if user == nil {
		return
	}
	record, err := t.hub.RecordConsent(r.Context(), user.UserID)
	if err != nil {
		t.internalError(w, "consent recording failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "record": record})
}

func (t *HTTPTransport) handleRevokeConsent(w http.ResponseWriter, r *http.Request) {
	user := t.requireAuth(w, r)
	if user == nil {
		return
	}
	err := t.hub.RevokeConsent(r.Context(), user.UserID)
	if errors.Is(err, consent.ErrNotRevocable) || errors.Is(err, consent.ErrNoRecord) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		t.internalError(w, "consent revocation failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Consent has been revoked"})
}

func (t *HTTPTransport) handleConsentStatus(w http.ResponseWriter, r *http.Request) {
	user := t.requireAuth(w, r)
	if user == nil {
		return
	}
	info, err := t.hub.Consent().GetConsentInfo(r.Context(), user.UserID)
	if err != nil {
		t.internalError(w, "consent lookup failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"has_consent":  info != nil && !info.Revoked,
		"consent_info": info,
	})
}

type actionRequest struct {
	ActionID string    `json:"action_id"`
	Params   types.Map `json:"params"`
}

func (t *HTTPTransport) handleAction(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	t.executeAction(w, r, req.ActionID, req.Params)
}

func (t *HTTPTransport) handleActionByID(w http.ResponseWriter, r *http.Request) {
	var params types.Map
	if r.ContentLength > 0 {
		if !decodeBody(w, r, &params) {
			return
		}
	}
	t.executeAction(w, r, r.PathValue("id"), params)
}

// executeAction is the consent gate plus dispatch: consent is checked here,
// before HandleAction, never inside it.
func (t *HTTPTransport) executeAction(w http.ResponseWriter, r *http.Request, actionID string, params types.Map) {
	user := t.requireAuth(w, r)
	if user == nil {
		return
	}
	if t.hub.Config().ConsentRequired {
		hasConsent, err := t.hub.CheckConsent(r.Context(), user.UserID)
		if err != nil {
			t.internalError(w, "consent check failed", err)
			return
		}
		if !hasConsent {
			writeError(w, http.StatusForbidden, "Consent required before using this hub")
			return
		}
	}
	if params == nil {
		params = types.Map{}
	}

	result, err := t.hub.HandleAction(r.Context(), actionID, user.UserID, params)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, result)
	case errors.Is(err, hub.ErrUnknownAction), errors.Is(err, hub.ErrUnknownAgent):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, hub.ErrPermissionDenied), errors.Is(err, router.ErrPermissionDenied):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, hub.ErrNotInitialized):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		// Network and protocol failures get a generic response.
		t.internalError(w, "action failed", err)
	}
}

func sessionToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	if cookie, err := r.Cookie("session_token"); err == nil {
		return cookie.Value
	}
	return ""
}

func (t *HTTPTransport) requireAuth(w http.ResponseWriter, r *http.Request) *identity.User {
	token := sessionToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return nil
	}
	user, err := t.hub.CheckAuth(r.Context(), token)
	if err != nil {
		t.internalError(w, "session check failed", err)
		return nil
	}
	if user == nil {
		writeError(w, http.StatusUnauthorized, "Invalid or expired session")
		return nil
	}
	return user
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (t *HTTPTransport) internalError(w http.ResponseWriter, msg string, err error) {
	t.logger.Errorf("%s: %v", msg, err)
	writeError(w, http.StatusInternalServerError, msg)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]any{"success": false, "error": detail})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	_ = enc.Encode(payload)
}
