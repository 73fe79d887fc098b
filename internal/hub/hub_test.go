package hub

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hubgate/internal/config"
	"hubgate/internal/types"
	"hubgate/internal/utils"
)

// fakeCaller satisfies router.Caller without any network. The default
// response is {"result": "ok"}.
type fakeCaller struct {
	calls     int
	lastAgent string
	lastMsg   types.Message
	respond   func(agent string, msg types.Message) (types.Value, error)
}

func (c *fakeCaller) SendMessage(ctx context.Context, agent *config.AgentConnection, msg types.Message) (types.Value, error) {
	c.calls++
	c.lastAgent = agent.Name
	c.lastMsg = msg
	if c.respond != nil {
		return c.respond(agent.Name, msg)
	}
	return types.Object(types.Map{"result": types.String("ok")}), nil
}

func (c *fakeCaller) Close() error { return nil }

func testDefinition() config.Definition {
	def := config.Default()
	def.Hub.Name = "Tutoring Hub"
	def.Hub.Slug = "tutoring"
	def.Agents = map[string]config.AgentDef{
		"tutor": {
			URL: "http://tutor.internal",
			Exposure: config.SkillExposure{
				Exposed:  []string{"grade"},
				Hidden:   []string{"reset_scores"},
				Internal: []string{"provision"},
			},
		},
		"tracker": {
			URL:      "http://tracker.internal",
			Exposure: config.SkillExposure{Internal: []string{"check_pending"}},
		},
	}
	def.Actions = []config.HubAction{
		{ID: "grade_work", Label: "Grade my work", Agent: "tutor", Skill: "grade"},
		{ID: "submit_work", Label: "Submit", Agent: "tutor", Skill: "grade", Precondition: "tracker.check_pending"},
	}
	return def
}

func newTestHub(t *testing.T, def config.Definition, opts Options) (*Hub, *fakeCaller) {
	t.Helper()
	caller := &fakeCaller{}
	if opts.Caller == nil {
		opts.Caller = caller
	} else {
		caller = opts.Caller.(*fakeCaller)
	}
	h := New(def, utils.NewLogger("error"), opts)
	require.NoError(t, h.Initialize(context.Background()))
	t.Cleanup(h.Stop)
	return h, caller
}

func TestHandleActionBeforeInitialize(t *testing.T) {
	h := New(testDefinition(), utils.NewLogger("error"), Options{Caller: &fakeCaller{}})
	_, err := h.HandleAction(context.Background(), "grade_work", "bob", nil)
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestHandleActionSuccess(t *testing.T) {
	h, caller := newTestHub(t, testDefinition(), Options{})

	result, err := h.HandleAction(context.Background(), "grade_work", "bob", types.Map{"work_id": types.String("w1")})
	require.NoError(t, err)

	got, ok := result.StringField("result")
	require.True(t, ok)
	assert.Equal(t, "ok", got)
	assert.Equal(t, 1, caller.calls)
	assert.Equal(t, "tutor", caller.lastAgent)
}

func TestHandleActionUnknownAction(t *testing.T) {
	h, caller := newTestHub(t, testDefinition(), Options{})

	_, err := h.HandleAction(context.Background(), "nonsense", "bob", nil)
	assert.ErrorIs(t, err, ErrUnknownAction)
	assert.Zero(t, caller.calls)
}

func TestHandleActionUnknownAgent(t *testing.T) {
	h, caller := newTestHub(t, testDefinition(), Options{})
	// The definition validator rejects dangling agent references, so force
	// one in to exercise the runtime guard.
	h.actions = append(h.actions, config.HubAction{ID: "orphan", Agent: "ghost", Skill: "s"})

	_, err := h.HandleAction(context.Background(), "orphan", "bob", nil)
	assert.ErrorIs(t, err, ErrUnknownAgent)
	assert.Zero(t, caller.calls)
}

func TestHandleActionHiddenSkillDenied(t *testing.T) {
	h, caller := newTestHub(t, testDefinition(), Options{})
	h.actions = append(h.actions, config.HubAction{ID: "reset", Agent: "tutor", Skill: "reset_scores"})

	_, err := h.HandleAction(context.Background(), "reset", "bob", nil)
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.Zero(t, caller.calls)
}

func TestHandleActionInternalSkillDeniedToUsers(t *testing.T) {
	h, caller := newTestHub(t, testDefinition(), Options{})
	h.actions = append(h.actions, config.HubAction{ID: "provision", Agent: "tutor", Skill: "provision"})

	_, err := h.HandleAction(context.Background(), "provision", "bob", nil)
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.Zero(t, caller.calls)
}

func TestHandleActionPreconditionFailedShortCircuits(t *testing.T) {
	caller := &fakeCaller{}
	routed := 0
	caller.respond = func(agent string, msg types.Message) (types.Value, error) {
		if agent == "tracker" {
			return types.Object(types.Map{
				"has_pending":     types.Boolean(false),
				"action_required": types.String("generate_work"),
			}), nil
		}
		routed++
		return types.Object(types.Map{"result": types.String("ok")}), nil
	}
	h, _ := newTestHub(t, testDefinition(), Options{Caller: caller})

	result, err := h.HandleAction(context.Background(), "submit_work", "bob", nil)
	require.NoError(t, err)

	status, _ := result.StringField("status")
	assert.Equal(t, "precondition_failed", status)
	message, _ := result.StringField("message")
	assert.Equal(t, "No pending work found", message)
	hint, _ := result.StringField("action_required")
	assert.Equal(t, "generate_work", hint)
	assert.Zero(t, routed)
}

func TestHandleActionPreconditionSatisfied(t *testing.T) {
	caller := &fakeCaller{}
	caller.respond = func(agent string, msg types.Message) (types.Value, error) {
		if agent == "tracker" {
			return types.Object(types.Map{"has_pending": types.Boolean(true)}), nil
		}
		return types.Object(types.Map{"result": types.String("graded")}), nil
	}
	h, _ := newTestHub(t, testDefinition(), Options{Caller: caller})

	result, err := h.HandleAction(context.Background(), "submit_work", "bob", nil)
	require.NoError(t, err)
	got, _ := result.StringField("result")
	assert.Equal(t, "graded", got)
}

func TestHandleActionRoutingErrorPropagates(t *testing.T) {
	caller := &fakeCaller{}
	boom := errors.New("agent unreachable")
	caller.respond = func(agent string, msg types.Message) (types.Value, error) {
		return types.Value{}, boom
	}
	h, _ := newTestHub(t, testDefinition(), Options{Caller: caller})

	_, err := h.HandleAction(context.Background(), "grade_work", "bob", nil)
	assert.ErrorIs(t, err, boom)
}

func TestHooksFireAroundAction(t *testing.T) {
	var events []string
	hooks := Hooks{
		OnInitialize: func(ctx context.Context) error {
			events = append(events, "initialize")
			return nil
		},
		OnActionStart: func(ctx context.Context, actionID, userID string, params types.Map) error {
			events = append(events, "start:"+actionID+":"+userID)
			return nil
		},
		OnActionComplete: func(ctx context.Context, actionID, userID string, result types.Value) error {
			events = append(events, "complete:"+actionID)
			return nil
		},
	}
	h, _ := newTestHub(t, testDefinition(), Options{Hooks: hooks})

	_, err := h.HandleAction(context.Background(), "grade_work", "bob", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"initialize", "start:grade_work:bob", "complete:grade_work"}, events)
}

func TestFailingHooksDoNotBreakTheAction(t *testing.T) {
	hooks := Hooks{
		OnActionStart: func(ctx context.Context, actionID, userID string, params types.Map) error {
			return errors.New("hook exploded")
		},
		OnActionComplete: func(ctx context.Context, actionID, userID string, result types.Value) error {
			panic("hook panicked")
		},
	}
	h, caller := newTestHub(t, testDefinition(), Options{Hooks: hooks})

	result, err := h.HandleAction(context.Background(), "grade_work", "bob", nil)
	require.NoError(t, err)
	got, _ := result.StringField("result")
	assert.Equal(t, "ok", got)
	assert.Equal(t, 1, caller.calls)
}

func TestAuthFlowThroughHub(t *testing.T) {
	def := testDefinition()
	def.Auth.EmailDomain = "example.edu"
	h, _ := newTestHub(t, def, Options{})
	ctx := context.Background()

	token, err := h.RequestMagicLink(ctx, "bob@example.edu")
	require.NoError(t, err)

	login, err := h.VerifyMagicLink(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "bob", login.UserID)

	user, err := h.CheckAuth(ctx, login.SessionToken)
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "bob@example.edu", user.Email)

	user, err = h.CheckAuth(ctx, "bogus")
	require.NoError(t, err)
	assert.Nil(t, user)
}

func TestVerifyMagicLinkFiresLoginHook(t *testing.T) {
	var loggedIn string
	hooks := Hooks{
		OnUserLogin: func(ctx context.Context, userID, email string) error {
			loggedIn = userID
			return nil
		},
	}
	h, _ := newTestHub(t, testDefinition(), Options{Hooks: hooks})
	ctx := context.Background()

	token, err := h.RequestMagicLink(ctx, "alice@anywhere.org")
	require.NoError(t, err)
	_, err = h.VerifyMagicLink(ctx, token)
	require.NoError(t, err)
	assert.NotEmpty(t, loggedIn)
}

func TestRecordConsentFiresHook(t *testing.T) {
	var consented string
	hooks := Hooks{
		OnUserConsent: func(ctx context.Context, userID string) error {
			consented = userID
			return nil
		},
	}
	h, _ := newTestHub(t, testDefinition(), Options{Hooks: hooks})
	ctx := context.Background()

	ok, err := h.CheckConsent(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = h.RecordConsent(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", consented)

	ok, err = h.CheckConsent(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, h.RevokeConsent(ctx, "u1"))
	ok, err = h.CheckConsent(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHubCardExposesOnlyExposedSkills(t *testing.T) {
	h, _ := newTestHub(t, testDefinition(), Options{})

	card := h.HubCard("http://localhost:8080")
	assert.Equal(t, "Tutoring Hub", card.Name)
	assert.Equal(t, "http://localhost:8080/tutoring", card.URL)
	assert.Len(t, card.Actions, 2)

	byName := make(map[string]CardAgent, len(card.Agents))
	for _, agent := range card.Agents {
		byName[agent.Name] = agent
	}
	require.Contains(t, byName, "tutor")
	assert.Equal(t, []string{"grade"}, byName["tutor"].ExposedSkills)
	require.Contains(t, byName, "tracker")
	assert.Empty(t, byName["tracker"].ExposedSkills)
}

func TestHealthCheck(t *testing.T) {
	uninitialized := New(testDefinition(), utils.NewLogger("error"), Options{Caller: &fakeCaller{}})
	assert.Equal(t, "not_initialized", uninitialized.HealthCheck(context.Background()).Status)

	h, _ := newTestHub(t, testDefinition(), Options{})
	status := h.HealthCheck(context.Background())
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, 2, status.ActionsCount)
	require.Contains(t, status.Agents, "tutor")
	assert.True(t, status.Agents["tutor"].Healthy)
}

func TestRouterAccessibleForTrustedCalls(t *testing.T) {
	caller := &fakeCaller{}
	caller.respond = func(agent string, msg types.Message) (types.Value, error) {
		return types.Object(types.Map{"done": types.Boolean(true)}), nil
	}
	h, _ := newTestHub(t, testDefinition(), Options{Caller: caller})

	result, err := h.Router().CallAgentSkill(context.Background(), "tracker", "check_pending", nil)
	require.NoError(t, err)
	done, _ := result.BoolField("done")
	assert.True(t, done)
}
