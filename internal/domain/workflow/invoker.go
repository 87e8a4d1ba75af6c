package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// CollaboratorFunc is one callable external collaborator.
type CollaboratorFunc func(ctx context.Context, params map[string]interface{}, idempotencyKey string) (map[string]interface{}, error)

// InvokerRegistry dispatches action steps to named collaborators.
type InvokerRegistry struct {
	mu            sync.RWMutex
	collaborators map[string]CollaboratorFunc
	log           zerolog.Logger
}

func NewInvokerRegistry(log zerolog.Logger) *InvokerRegistry {
	return &InvokerRegistry{collaborators: make(map[string]CollaboratorFunc), log: log}
}

func (r *InvokerRegistry) Register(name string, fn CollaboratorFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.collaborators[name] = fn
}

func (r *InvokerRegistry) Invoke(ctx context.Context, name string, params map[string]interface{}, idempotencyKey string) (map[string]interface{}, error) {
	r.mu.RLock()
	fn, ok := r.collaborators[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown collaborator %q", name)
	}
	r.log.Debug().Str("collaborator", name).Str("idempotency_key", idempotencyKey).Msg("invoking collaborator")
	return fn(ctx, params, idempotencyKey)
}

// RegisterMockCollaborators installs stand-ins for the external systems, for
// development environments without live integrations. Results are canned but
// keyed responses stay stable across retries.
func RegisterMockCollaborators(r *InvokerRegistry) {
	r.Register("insurance_verification", func(_ context.Context, params map[string]interface{}, _ string) (map[string]interface{}, error) {
		provider, _ := params["provider"].(string)
		return map[string]interface{}{"verified": true, "provider": provider}, nil
	})
	r.Register("scheduling", func(_ context.Context, _ map[string]interface{}, _ string) (map[string]interface{}, error) {
		return map[string]interface{}{"scheduled_at": time.Now().Add(24 * time.Hour).Format(time.RFC3339)}, nil
	})
	r.Register("ai_scoring", func(_ context.Context, _ map[string]interface{}, _ string) (map[string]interface{}, error) {
		return map[string]interface{}{"risk_score": 0.42}, nil
	})
}
