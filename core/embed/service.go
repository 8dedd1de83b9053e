package embed

import (
	"context"
	"sync"
	"sync/atomic"

	loupeerrors "github.com/adalundhe/loupe/core/errors"
)

// Service fronts the selected provider with a circuit breaker and the hash
// embedder as a last resort. A remote provider that fails or whose breaker
// is open degrades the call to deterministic vectors instead of returning an
// error; Degraded reports the switch so callers can surface it as a
// coverage gap. Fallback vectors live in a different space than remote
// ones, so against a remotely-embedded index they simply match nothing; the
// similarity gate downstream keeps them from producing noise.
type Service struct {
	primary  Embedder
	fallback Embedder
	breaker  *loupeerrors.CircuitBreaker
	provider string
	degraded atomic.Bool

	mu        sync.RWMutex
	lastError error
}

// NewService wraps primary with fallback behavior. A nil breaker is allowed
// for local providers; a nil primary serves everything from the fallback.
func NewService(provider string, primary Embedder, breaker *loupeerrors.CircuitBreaker) *Service {
	dim := DefaultDimension
	if primary != nil {
		dim = primary.Dimension()
	}
	return &Service{
		primary:  primary,
		fallback: NewHashEmbedder(dim),
		breaker:  breaker,
		provider: provider,
	}
}

// Provider returns the configured provider name.
func (s *Service) Provider() string {
	return s.provider
}

// Degraded reports whether the most recent call fell back to the hash
// embedder.
func (s *Service) Degraded() bool {
	return s.degraded.Load()
}

func (s *Service) Dimension() int {
	if s.primary != nil {
		return s.primary.Dimension()
	}
	return s.fallback.Dimension()
}

func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	if !s.allow() {
		return s.fallback.Embed(ctx, text)
	}

	vec, err := s.primary.Embed(ctx, text)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.markDegraded(err)
		return s.fallback.Embed(ctx, text)
	}

	s.markHealthy()
	return vec, nil
}

func (s *Service) EmbedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	if !s.allow() {
		return s.fallback.EmbedBatch(ctx, batch)
	}

	vecs, err := s.primary.EmbedBatch(ctx, batch)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.markDegraded(err)
		return s.fallback.EmbedBatch(ctx, batch)
	}

	s.markHealthy()
	return vecs, nil
}

// LastError returns the classified error from the most recent provider
// failure, nil if the provider is healthy.
func (s *Service) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastError
}

// BreakerState returns the breaker state, CircuitClosed when unguarded.
func (s *Service) BreakerState() loupeerrors.CircuitState {
	if s.breaker == nil {
		return loupeerrors.CircuitClosed
	}
	return s.breaker.State()
}

// allow reports whether the primary provider may be called.
func (s *Service) allow() bool {
	if s.primary == nil {
		s.degraded.Store(true)
		return false
	}
	if s.breaker != nil && !s.breaker.Allow() {
		s.degraded.Store(true)
		return false
	}
	return true
}

func (s *Service) markDegraded(err error) {
	s.degraded.Store(true)
	s.mu.Lock()
	s.lastError = loupeerrors.ClassifyProvider(s.provider, err)
	s.mu.Unlock()
	if s.breaker != nil {
		s.breaker.RecordResult(false)
	}
}

func (s *Service) markHealthy() {
	s.degraded.Store(false)
	s.mu.Lock()
	s.lastError = nil
	s.mu.Unlock()
	if s.breaker != nil {
		s.breaker.RecordResult(true)
	}
}
