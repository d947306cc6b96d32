package providers

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/BrunoS-V/telegram-vip-bot/internal/services/payments"
)

var (
	// ErrMalformedCallback marks payloads no normalizer can make sense of.
	// They are logged and acknowledged, never forwarded to the engine.
	ErrMalformedCallback = errors.New("malformed provider callback")
	// ErrStatusFetchFailed marks a failed authoritative status fetch. It is
	// transient: the provider's retry mechanism resubmits the callback.
	ErrStatusFetchFailed = errors.New("provider status fetch failed")
)

// CallbackRequest is the raw material of one provider callback: the query
// string and the body, before any provider-specific interpretation.
type CallbackRequest struct {
	Query url.Values
	Body  []byte
}

// Normalizer turns one provider's callback shape into a canonical payment
// event. Implementations perform no side effects besides the single
// authoritative status fetch the push-style family requires.
type Normalizer interface {
	Kind() string
	Normalize(ctx context.Context, req CallbackRequest) (payments.Event, error)
}

type Registry struct {
	byKind map[string]Normalizer
}

func NewRegistry(normalizers ...Normalizer) *Registry {
	byKind := make(map[string]Normalizer, len(normalizers))
	for _, n := range normalizers {
		if n == nil {
			continue
		}
		byKind[strings.ToLower(n.Kind())] = n
	}
	return &Registry{byKind: byKind}
}

func (r *Registry) Lookup(kind string) (Normalizer, bool) {
	if r == nil {
		return nil, false
	}
	n, ok := r.byKind[strings.ToLower(strings.TrimSpace(kind))]
	return n, ok
}
