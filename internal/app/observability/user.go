package observability

import (
	"context"
	"sync"
)

type ctxKey struct{}

var userHolderKey = ctxKey{}

type userHolder struct {
	mu sync.Mutex
	id string
}

func (h *userHolder) set(id string) {
	h.mu.Lock()
	h.id = id
	h.mu.Unlock()
}

func (h *userHolder) userID() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.id
}

func withUserHolder(ctx context.Context, h *userHolder) context.Context {
	return context.WithValue(ctx, userHolderKey, h)
}
