package hub

import (
	"context"

	"hubgate/internal/types"
)

// Hooks are the hub's optional lifecycle callbacks. They exist for logging,
// telemetry, and provisioning side effects; a hook failure never alters a
// result or aborts the pipeline.
type Hooks struct {
	OnInitialize     func(ctx context.Context) error
	OnUserLogin      func(ctx context.Context, userID, email string) error
	OnUserConsent    func(ctx context.Context, userID string) error
	OnActionStart    func(ctx context.Context, actionID, userID string, params types.Map) error
	OnActionComplete func(ctx context.Context, actionID, userID string, result types.Value) error
}

// runHook invokes fn log-and-continue: errors and panics are contained.
func (h *Hub) runHook(name string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Errorf("hook %s panicked: %v", name, r)
		}
	}()
	if err := fn(); err != nil {
		h.logger.Errorf("hook %s failed: %v", name, err)
	}
}
