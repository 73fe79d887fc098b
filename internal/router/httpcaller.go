package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"hubgate/internal/config"
	"hubgate/internal/jsonrpc"
	"hubgate/internal/types"
	"hubgate/internal/utils"
)

type messageSendParams struct {
	Message types.Message `json:"message"`
}

// HTTPCaller posts JSON-RPC message/send envelopes straight to an agent's
// address. Every call carries the agent's configured timeout; there are no
// retries here, that policy belongs to the connection configuration.
type HTTPCaller struct {
	client *http.Client
	logger *utils.Logger
}

func NewHTTPCaller(logger *utils.Logger) *HTTPCaller {
	return &HTTPCaller{client: &http.Client{}, logger: logger}
}

func (c *HTTPCaller) SendMessage(ctx context.Context, agent *config.AgentConnection, msg types.Message) (types.Value, error) {
	params, err := json.Marshal(messageSendParams{Message: msg})
	if err != nil {
		return types.Value{}, fmt.Errorf("encode envelope: %w", err)
	}
	envelope := jsonrpc.Request{JSONRPC: "2.0", ID: msg.MessageID, Method: "message/send", Params: params}
	body, err := json.Marshal(envelope)
	if err != nil {
		return types.Value{}, fmt.Errorf("encode envelope: %w", err)
	}

	timeout := time.Duration(agent.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = config.DefaultAgentTimeoutSeconds * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, agent.URL, bytes.NewReader(body))
	if err != nil {
		return types.Value{}, fmt.Errorf("build request for %s: %w", agent.Name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Errorf("call to agent %s failed: %v", agent.Name, err)
		return types.Value{}, fmt.Errorf("call agent %s: %w", agent.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return types.Value{}, fmt.Errorf("agent %s returned status %d", agent.Name, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return types.Value{}, fmt.Errorf("read response from %s: %w", agent.Name, err)
	}

	var rpcResp jsonrpc.Response
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		c.logger.Errorf("invalid JSON from agent %s: %v", agent.Name, err)
		return types.Value{}, fmt.Errorf("%w from %s: %v", ErrMalformedResponse, agent.Name, err)
	}
	if rpcResp.Error != nil {
		return types.Value{}, &AgentError{Code: rpcResp.Error.Code, Message: rpcResp.Error.Message}
	}

	var result types.Value
	if len(rpcResp.Result) == 0 {
		return types.Value{}, fmt.Errorf("%w from %s: response has neither result nor error", ErrMalformedResponse, agent.Name)
	}
	if err := json.Unmarshal(rpcResp.Result, &result); err != nil {
		return types.Value{}, fmt.Errorf("%w from %s: %v", ErrMalformedResponse, agent.Name, err)
	}
	return result, nil
}

func (c *HTTPCaller) Close() error {
	c.client.CloseIdleConnections()
	return nil
}
