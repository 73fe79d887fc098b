package router

import (
	"context"
	"fmt"
	"sync"
	"time"

	sdka2a "github.com/a2aproject/a2a-go/a2a"
	"github.com/a2aproject/a2a-go/a2aclient"

	"hubgate/internal/config"
	"hubgate/internal/types"
	"hubgate/internal/utils"
)

// A2ACaller dispatches envelopes through the A2A SDK client, for agents
// that speak the full protocol surface rather than bare JSON-RPC. Clients
// are created lazily per agent and reused.
type A2ACaller struct {
	mu      sync.Mutex
	clients map[string]*a2aclient.Client
	logger  *utils.Logger
}

func NewA2ACaller(logger *utils.Logger) *A2ACaller {
	return &A2ACaller{clients: make(map[string]*a2aclient.Client), logger: logger}
}

func (c *A2ACaller) SendMessage(ctx context.Context, agent *config.AgentConnection, msg types.Message) (types.Value, error) {
	client, err := c.clientFor(ctx, agent)
	if err != nil {
		return types.Value{}, err
	}

	timeout := time.Duration(agent.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = config.DefaultAgentTimeoutSeconds * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sdkMsg := &sdka2a.Message{
		ID:    msg.MessageID,
		Role:  sdka2a.MessageRole(msg.Role),
		Parts: toSDKParts(msg.Parts),
	}
	result, err := client.SendMessage(callCtx, &sdka2a.MessageSendParams{Message: sdkMsg})
	if err != nil {
		c.logger.Errorf("a2a call to agent %s failed: %v", agent.Name, err)
		return types.Value{}, fmt.Errorf("call agent %s: %w", agent.Name, err)
	}

	switch resp := result.(type) {
	case *sdka2a.Task:
		return taskToValue(resp)
	case *sdka2a.Message:
		return messageToValue(resp)
	}
	return types.Value{}, fmt.Errorf("%w from %s: unexpected result type %T", ErrMalformedResponse, agent.Name, result)
}

func (c *A2ACaller) clientFor(ctx context.Context, agent *config.AgentConnection) (*a2aclient.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if client, ok := c.clients[agent.Name]; ok {
		return client, nil
	}
	client, err := a2aclient.NewFromEndpoints(ctx, []sdka2a.AgentInterface{
		{URL: agent.URL, Transport: sdka2a.TransportProtocolJSONRPC},
	})
	if err != nil {
		return nil, fmt.Errorf("connect to agent %s: %w", agent.Name, err)
	}
	c.clients[agent.Name] = client
	return client, nil
}

func (c *A2ACaller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name, client := range c.clients {
		_ = client.Destroy()
		delete(c.clients, name)
	}
	return nil
}

func toSDKParts(parts []types.Part) sdka2a.ContentParts {
	if len(parts) == 0 {
		return nil
	}
	out := make(sdka2a.ContentParts, 0, len(parts))
	for _, p := range parts {
		switch p.Kind {
		case "text":
			out = append(out, &sdka2a.TextPart{Text: p.Text})
		case "data":
			if p.Data == nil {
				continue
			}
			if dataMap, ok := p.Data.Interface().(map[string]any); ok {
				out = append(out, &sdka2a.DataPart{Data: dataMap})
			}
		}
	}
	return out
}

// partsToValue renders SDK parts in the wire shape so the router's
// artifact unwrapping applies uniformly to both callers.
func partsToValue(parts sdka2a.ContentParts) (types.Value, error) {
	items := make([]types.Value, 0, len(parts))
	for _, p := range parts {
		switch pt := p.(type) {
		case *sdka2a.TextPart:
			items = append(items, types.Object(types.Map{
				"kind": types.String("text"),
				"text": types.String(pt.Text),
			}))
		case *sdka2a.DataPart:
			data, err := types.FromAny(pt.Data)
			if err != nil {
				return types.Value{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
			}
			items = append(items, types.Object(types.Map{
				"kind": types.String("data"),
				"data": data,
			}))
		}
	}
	return types.List(items...), nil
}

func messageToValue(msg *sdka2a.Message) (types.Value, error) {
	parts, err := partsToValue(msg.Parts)
	if err != nil {
		return types.Value{}, err
	}
	return types.Object(types.Map{
		"kind":      types.String("message"),
		"messageId": types.String(msg.ID),
		"role":      types.String(string(msg.Role)),
		"parts":     parts,
	}), nil
}

func taskToValue(task *sdka2a.Task) (types.Value, error) {
	out := types.Map{
		"kind":   types.String("task"),
		"id":     types.String(string(task.ID)),
		"status": types.Object(types.Map{"state": types.String(string(task.Status.State))}),
	}
	if len(task.Artifacts) > 0 {
		artifacts := make([]types.Value, 0, len(task.Artifacts))
		for _, art := range task.Artifacts {
			parts, err := partsToValue(art.Parts)
			if err != nil {
				return types.Value{}, err
			}
			artifacts = append(artifacts, types.Object(types.Map{
				"artifactId": types.String(string(art.ID)),
				"name":       types.String(art.Name),
				"parts":      parts,
			}))
		}
		out["artifacts"] = types.List(artifacts...)
	}
	return types.Object(out), nil
}
