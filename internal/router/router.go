// Package router translates hub actions into agent call envelopes, sends
// them, and unwraps the responses.
package router

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"hubgate/internal/config"
	"hubgate/internal/types"
	"hubgate/internal/utils"
)

var (
	ErrAgentNotFound     = errors.New("agent not found")
	ErrPermissionDenied  = errors.New("skill not available")
	ErrMalformedResponse = errors.New("malformed agent response")
)

// AgentError is an error object reported by an agent inside an otherwise
// successful response.
type AgentError struct {
	Code    int
	Message string
}

func (e *AgentError) Error() string {
	return fmt.Sprintf("agent error %d: %s", e.Code, e.Message)
}

// Caller sends one call envelope to an agent and returns the decoded
// logical result object, before artifact unwrapping.
type Caller interface {
	SendMessage(ctx context.Context, agent *config.AgentConnection, msg types.Message) (types.Value, error)
	Close() error
}

// Router owns the dispatch path from a resolved action to its agent. It
// enforces the hub-callable check, builds the envelope, and interprets the
// response. Preconditions are evaluated here as well.
type Router struct {
	agents            map[string]*config.AgentConnection
	actions           []config.HubAction
	caller            Caller
	logger            *utils.Logger
	preconditionAgent string
}

func New(agents map[string]*config.AgentConnection, actions []config.HubAction, caller Caller, preconditionAgent string, logger *utils.Logger) *Router {
	return &Router{
		agents:            agents,
		actions:           actions,
		caller:            caller,
		logger:            logger,
		preconditionAgent: preconditionAgent,
	}
}

// RouteAction sends an action to its target agent and returns the unwrapped
// result. The skill must be hub-callable; the stricter user-callable check
// belongs to the dispatcher and has already run for user-initiated calls.
func (r *Router) RouteAction(ctx context.Context, action config.HubAction, userID string, params types.Map) (types.Value, error) {
	agent, ok := r.agents[action.Agent]
	if !ok {
		return types.Value{}, fmt.Errorf("%w: %s", ErrAgentNotFound, action.Agent)
	}
	if !agent.Exposure.IsHubCallable(action.Skill) {
		return types.Value{}, fmt.Errorf("%w: skill %s on agent %s", ErrPermissionDenied, action.Skill, action.Agent)
	}

	r.logger.Infof("routing action %q to %s.%s", action.ID, action.Agent, action.Skill)

	msg := buildMessage(action.Skill, userID, params)
	result, err := r.caller.SendMessage(ctx, agent, msg)
	if err != nil {
		r.logger.Errorf("action %q failed: %v", action.ID, err)
		return types.Value{}, err
	}
	r.logger.Infof("action %q completed", action.ID)
	return extractResult(result), nil
}

// PreconditionResult is the outcome of a precondition check. Raw carries
// the agent's payload unchanged when the response did not follow the
// pending-work convention.
type PreconditionResult struct {
	Satisfied      bool        `json:"satisfied"`
	Message        string      `json:"message,omitempty"`
	ActionRequired string      `json:"action_required,omitempty"`
	Raw            types.Value `json:"-"`
}

// CheckPrecondition evaluates ref ("agent.skill", or a bare skill on the
// designated precondition agent) for userID.
//
// An unregistered precondition agent fails open: a misconfigured reference
// must never permanently block the action. A call that reaches the agent
// and errors fails closed. The asymmetry is deliberate.
func (r *Router) CheckPrecondition(ctx context.Context, ref, userID string, params types.Map) PreconditionResult {
	agentName := r.preconditionAgent
	skillName := ref
	if before, after, found := strings.Cut(ref, "."); found {
		agentName, skillName = before, after
	}

	agent, ok := r.agents[agentName]
	if !ok {
		r.logger.Warnf("precondition agent not found: %s", agentName)
		return PreconditionResult{Satisfied: true}
	}

	msg := buildMessage(skillName, userID, params)
	result, err := r.caller.SendMessage(ctx, agent, msg)
	if err != nil {
		r.logger.Errorf("precondition check %s.%s failed: %v", agentName, skillName, err)
		return PreconditionResult{Satisfied: false, Message: err.Error()}
	}

	payload := extractResult(result)
	if hasPending, ok := payload.BoolField("has_pending"); ok {
		out := PreconditionResult{Satisfied: hasPending, Raw: payload}
		if message, ok := payload.StringField("message"); ok {
			out.Message = message
		} else {
			out.Message = "No pending work found"
		}
		if !hasPending {
			if hint, ok := payload.StringField("action_required"); ok {
				out.ActionRequired = hint
			}
		}
		return out
	}

	// Any other shape passes through as the precondition result.
	out := PreconditionResult{Raw: payload}
	out.Satisfied, _ = payload.BoolField("satisfied")
	out.Message, _ = payload.StringField("message")
	out.ActionRequired, _ = payload.StringField("action_required")
	return out
}

// CallAgentSkill is the unchecked call path for trusted hub logic, e.g. a
// lifecycle hook provisioning a resource on another agent. It bypasses the
// exposure checks entirely; never expose it to user input.
func (r *Router) CallAgentSkill(ctx context.Context, agentName, skillID string, params types.Map) (types.Value, error) {
	agent, ok := r.agents[agentName]
	if !ok {
		return types.Value{}, fmt.Errorf("%w: %s", ErrAgentNotFound, agentName)
	}
	msg := buildMessage(skillID, "hub", params)
	result, err := r.caller.SendMessage(ctx, agent, msg)
	if err != nil {
		return types.Value{}, err
	}
	return extractResult(result), nil
}

// Close releases the underlying caller's connections.
func (r *Router) Close() error {
	return r.caller.Close()
}

// buildMessage wraps a skill invocation in the conventional envelope: one
// data part holding the skill id and the caller's user id merged into the
// parameter bag.
func buildMessage(skillID, userID string, params types.Map) types.Message {
	messageID := uuid.NewString()
	data := types.Object(types.Map{
		"skill": types.String(skillID),
		"parameters": types.Object(params.Merge(types.Map{
			"user_id": types.String(userID),
		})),
	})
	return types.Message{
		Kind:      "message",
		MessageID: messageID,
		Role:      "user",
		Parts:     []types.Part{types.DataPart(data)},
	}
}

// extractResult unwraps the logical payload from a result object: the first
// data-bearing part of the first artifact when artifacts are present, the
// result unchanged otherwise.
func extractResult(result types.Value) types.Value {
	artifacts, ok := result.Field("artifacts")
	if !ok {
		return result
	}
	list, ok := artifacts.AsList()
	if !ok || len(list) == 0 {
		return result
	}
	parts, ok := list[0].Field("parts")
	if !ok {
		return result
	}
	partList, ok := parts.AsList()
	if !ok {
		return result
	}
	for _, part := range partList {
		if kind, _ := part.StringField("kind"); kind == "data" {
			if data, ok := part.Field("data"); ok {
				return data
			}
		}
	}
	return result
}
