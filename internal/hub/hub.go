// Package hub orchestrates action requests end to end: lookup, permission
// check, precondition check, routing, and lifecycle hooks.
package hub

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"hubgate/internal/config"
	"hubgate/internal/consent"
	"hubgate/internal/identity"
	"hubgate/internal/router"
	"hubgate/internal/store"
	"hubgate/internal/types"
	"hubgate/internal/utils"
)

var (
	ErrNotInitialized   = errors.New("hub not initialized")
	ErrUnknownAction    = errors.New("unknown action")
	ErrUnknownAgent     = errors.New("unknown agent")
	ErrPermissionDenied = errors.New("skill not available in this hub")
)

// Options carries the injectable collaborators. Zero values select the
// reference behavior: an in-memory store and the JSON-RPC HTTP caller.
type Options struct {
	Store  store.Store
	Caller router.Caller
	Hooks  Hooks
}

// Hub is one configured gateway instance. The agent registry and action
// list are built once by Initialize and read-only afterwards; all mutable
// state lives in the store.
type Hub struct {
	def    config.Definition
	logger *utils.Logger
	hooks  Hooks
	caller router.Caller

	mu      sync.RWMutex // guards agent liveness fields
	agents  map[string]*config.AgentConnection
	actions []config.HubAction

	router   *router.Router
	identity *identity.Manager
	consent  *consent.Manager
	store    store.Store

	initialized bool
	startedAt   time.Time
	stopCh      chan struct{}
	stopOnce    sync.Once
}

func New(def config.Definition, logger *utils.Logger, opts Options) *Hub {
	st := opts.Store
	if st == nil {
		st = store.NewMemory()
	}
	return &Hub{
		def:    def,
		logger: logger,
		hooks:  opts.Hooks,
		caller: opts.Caller,
		store:  st,
		stopCh: make(chan struct{}),
	}
}

// Initialize loads the definition into the live registries and constructs
// the router and the gating managers. Must be called before HandleAction.
func (h *Hub) Initialize(ctx context.Context) error {
	if err := h.def.Validate(); err != nil {
		return err
	}
	h.logger.Infof("initializing hub %s v%s", h.def.Hub.Name, h.def.Hub.Version)

	h.agents = h.def.Connections()
	for name, conn := range h.agents {
		h.logger.Infof("registered agent %s at %s", name, conn.URL)
		h.logger.Debugf("  exposed: %v hidden: %v internal: %v",
			conn.Exposure.Exposed, conn.Exposure.Hidden, conn.Exposure.Internal)
	}
	h.actions = append([]config.HubAction{}, h.def.Actions...)
	h.logger.Infof("loaded %d actions", len(h.actions))

	if h.caller == nil {
		h.caller = router.NewHTTPCaller(h.logger)
	}
	h.router = router.New(h.agents, h.actions, h.caller, h.def.PreconditionAgent, h.logger)
	h.identity = identity.NewManager(h.def.Auth, h.store, h.logger)
	h.consent = consent.NewManager(h.def.Consent, h.store, h.logger)

	h.initialized = true
	h.startedAt = time.Now().UTC()

	if h.hooks.OnInitialize != nil {
		h.runHook("on_initialize", func() error { return h.hooks.OnInitialize(ctx) })
	}
	h.logger.Infof("hub %s initialized", h.def.Hub.Slug)
	return nil
}

// HandleAction executes one user action: resolve it, check that its skill
// is user-callable on its agent, evaluate the precondition if one is
// declared, then route the call and return the unwrapped result.
//
// Authentication and consent are enforced by the boundary layer before this
// is invoked; the single authorization gate here is the exposure check, and
// it runs before any network call.
func (h *Hub) HandleAction(ctx context.Context, actionID, userID string, params types.Map) (types.Value, error) {
	if !h.initialized {
		return types.Value{}, ErrNotInitialized
	}

	action, ok := h.actionByID(actionID)
	if !ok {
		return types.Value{}, fmt.Errorf("%w: %s", ErrUnknownAction, actionID)
	}
	agent, ok := h.agents[action.Agent]
	if !ok {
		return types.Value{}, fmt.Errorf("%w: %s", ErrUnknownAgent, action.Agent)
	}
	if !agent.Exposure.IsUserCallable(action.Skill) {
		return types.Value{}, fmt.Errorf("%w: %s", ErrPermissionDenied, action.Skill)
	}

	if h.hooks.OnActionStart != nil {
		h.runHook("on_action_start", func() error {
			return h.hooks.OnActionStart(ctx, actionID, userID, params)
		})
	}

	if action.Precondition != "" {
		check := h.router.CheckPrecondition(ctx, action.Precondition, userID, params)
		if !check.Satisfied {
			failed := types.Map{
				"status":  types.String("precondition_failed"),
				"message": types.String(check.Message),
			}
			if check.ActionRequired != "" {
				failed["action_required"] = types.String(check.ActionRequired)
			}
			return types.Object(failed), nil
		}
	}

	result, err := h.router.RouteAction(ctx, action, userID, params)
	if err != nil {
		return types.Value{}, err
	}

	if h.hooks.OnActionComplete != nil {
		h.runHook("on_action_complete", func() error {
			return h.hooks.OnActionComplete(ctx, actionID, userID, result)
		})
	}
	return result, nil
}

func (h *Hub) actionByID(actionID string) (config.HubAction, bool) {
	for _, action := range h.actions {
		if action.ID == actionID {
			return action, true
		}
	}
	return config.HubAction{}, false
}

// CheckAuth resolves a session token; nil means not authenticated.
func (h *Hub) CheckAuth(ctx context.Context, sessionToken string) (*identity.User, error) {
	if !h.initialized {
		return nil, ErrNotInitialized
	}
	return h.identity.ValidateSession(ctx, sessionToken)
}

// RequestMagicLink mints a login token for email.
func (h *Hub) RequestMagicLink(ctx context.Context, email string) (string, error) {
	if !h.initialized {
		return "", ErrNotInitialized
	}
	return h.identity.SendMagicLink(ctx, email)
}

// VerifyMagicLink exchanges a login token for a session and fires the
// login hook.
func (h *Hub) VerifyMagicLink(ctx context.Context, token string) (identity.LoginResult, error) {
	if !h.initialized {
		return identity.LoginResult{}, ErrNotInitialized
	}
	result, err := h.identity.VerifyMagicLink(ctx, token)
	if err != nil {
		return identity.LoginResult{}, err
	}
	if h.hooks.OnUserLogin != nil {
		h.runHook("on_user_login", func() error {
			return h.hooks.OnUserLogin(ctx, result.UserID, result.Email)
		})
	}
	return result, nil
}

// CheckConsent reports whether userID has active consent.
func (h *Hub) CheckConsent(ctx context.Context, userID string) (bool, error) {
	if !h.initialized {
		return false, ErrNotInitialized
	}
	return h.consent.HasConsented(ctx, userID)
}

// RecordConsent updates the ledger and fires the consent hook.
func (h *Hub) RecordConsent(ctx context.Context, userID string) (store.ConsentRecord, error) {
	if !h.initialized {
		return store.ConsentRecord{}, ErrNotInitialized
	}
	record, err := h.consent.RecordConsent(ctx, userID)
	if err != nil {
		return store.ConsentRecord{}, err
	}
	if h.hooks.OnUserConsent != nil {
		h.runHook("on_user_consent", func() error {
			return h.hooks.OnUserConsent(ctx, userID)
		})
	}
	return record, nil
}

// RevokeConsent flips the user's consent record to revoked.
func (h *Hub) RevokeConsent(ctx context.Context, userID string) error {
	if !h.initialized {
		return ErrNotInitialized
	}
	return h.consent.RevokeConsent(ctx, userID)
}

func (h *Hub) Config() config.HubConfig    { return h.def.Hub }
func (h *Hub) Actions() []config.HubAction { return h.actions }
func (h *Hub) Router() *router.Router      { return h.router }
func (h *Hub) Identity() *identity.Manager { return h.identity }
func (h *Hub) Consent() *consent.Manager   { return h.consent }

// CardAgent is the public view of a registered agent: only its exposed
// skills appear.
type CardAgent struct {
	Name          string   `json:"name"`
	URL           string   `json:"url"`
	ExposedSkills []string `json:"exposed_skills"`
}

// Card is the hub's capability descriptor.
type Card struct {
	Name        string             `json:"name"`
	Slug        string             `json:"slug"`
	Description string             `json:"description"`
	Version     string             `json:"version"`
	URL         string             `json:"url"`
	Theme       config.Theme       `json:"theme"`
	Agents      []CardAgent        `json:"agents"`
	Actions     []config.HubAction `json:"actions"`
	Auth        CardAuth           `json:"auth"`
	Consent     CardConsent        `json:"consent"`
}

type CardAuth struct {
	Required bool   `json:"required"`
	Method   string `json:"method"`
}

type CardConsent struct {
	Required bool `json:"required"`
}

// HubCard builds the capability descriptor served at the hub root.
func (h *Hub) HubCard(baseURL string) Card {
	agents := make([]CardAgent, 0, len(h.agents))
	for name, conn := range h.agents {
		agents = append(agents, CardAgent{
			Name:          name,
			URL:           conn.URL,
			ExposedSkills: conn.Exposure.Exposed,
		})
	}
	return Card{
		Name:        h.def.Hub.Name,
		Slug:        h.def.Hub.Slug,
		Description: h.def.Hub.Description,
		Version:     h.def.Hub.Version,
		URL:         baseURL + "/" + h.def.Hub.Slug,
		Theme:       h.def.Hub.Theme,
		Agents:      agents,
		Actions:     h.actions,
		Auth:        CardAuth{Required: h.def.Hub.AuthRequired, Method: h.def.Auth.Method},
		Consent:     CardConsent{Required: h.def.Hub.ConsentRequired},
	}
}

// AgentHealth is one agent's entry in the health report.
type AgentHealth struct {
	URL           string   `json:"url"`
	Healthy       bool     `json:"healthy"`
	ExposedSkills []string `json:"exposed_skills"`
}

// HealthStatus is the hub-wide health report.
type HealthStatus struct {
	Status       string                 `json:"status"`
	Hub          string                 `json:"hub,omitempty"`
	Version      string                 `json:"version,omitempty"`
	StartedAt    string                 `json:"started_at,omitempty"`
	Agents       map[string]AgentHealth `json:"agents,omitempty"`
	ActionsCount int                    `json:"actions_count"`
}

// HealthCheck reports hub status and refreshes agent liveness stamps.
func (h *Hub) HealthCheck(ctx context.Context) HealthStatus {
	if !h.initialized {
		return HealthStatus{Status: "not_initialized"}
	}
	now := time.Now().UTC().Format(time.RFC3339)
	agents := make(map[string]AgentHealth, len(h.agents))
	h.mu.Lock()
	for name, conn := range h.agents {
		conn.Healthy = true
		conn.LastHealthCheck = now
		agents[name] = AgentHealth{
			URL:           conn.URL,
			Healthy:       conn.Healthy,
			ExposedSkills: conn.Exposure.Exposed,
		}
	}
	h.mu.Unlock()
	return HealthStatus{
		Status:       "healthy",
		Hub:          h.def.Hub.Name,
		Version:      h.def.Hub.Version,
		StartedAt:    h.startedAt.Format(time.RFC3339),
		Agents:       agents,
		ActionsCount: len(h.actions),
	}
}

// StartCleanup runs the expired-record sweep on a fixed interval until
// Stop is called.
func (h *Hub) StartCleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ticker.C:
				if err := h.identity.CleanupExpired(context.Background()); err != nil {
					h.logger.Warnf("cleanup sweep failed: %v", err)
				}
			case <-h.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop halts background work and releases router connections.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.stopCh) })
	if h.router != nil {
		_ = h.router.Close()
	}
	_ = h.store.Close()
}
