package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/layer-3/warden/core"
)

// DefaultRefreshTimeout bounds a single refresh exchange
const DefaultRefreshTimeout = 15 * time.Second

// flight is one refresh exchange shared by every caller that hit an
// authorization failure while it was outstanding. done is closed once pair
// and err are final.
type flight struct {
	done    chan struct{}
	waiters int
	pair    core.TokenPair
	err     error
}

// RefreshCoordinator makes sure at most one refresh is in flight and hands
// its outcome to every caller waiting on it
type RefreshCoordinator struct {
	deps    Deps
	timeout time.Duration

	onRefreshed  func(core.TokenPair)
	onTerminated func(error)

	mu       sync.Mutex
	inflight *flight
	closed   bool
}

// CoordinatorOption configures a RefreshCoordinator
type CoordinatorOption func(*RefreshCoordinator)

// WithRefreshTimeout bounds the refresh call. Callers cannot cancel it.
func WithRefreshTimeout(d time.Duration) CoordinatorOption {
	return func(c *RefreshCoordinator) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithTerminationHandler is called once per failed refresh, before waiters are released
func WithTerminationHandler(fn func(error)) CoordinatorOption {
	return func(c *RefreshCoordinator) { c.onTerminated = fn }
}

// WithRefreshedHandler is called once per successful refresh, before waiters are released
func WithRefreshedHandler(fn func(core.TokenPair)) CoordinatorOption {
	return func(c *RefreshCoordinator) { c.onRefreshed = fn }
}

// NewRefreshCoordinator creates a coordinator for one authenticated session
func NewRefreshCoordinator(deps Deps, opts ...CoordinatorOption) *RefreshCoordinator {
	c := &RefreshCoordinator{
		deps:    deps.withDefaults(),
		timeout: DefaultRefreshTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Refresh returns an access token to replay a request that failed
// authorization while carrying staleAccessToken.
//
// The first caller starts the exchange and every caller arriving while it is
// outstanding waits for the same outcome. If the store holds a token other
// than the one the request carried, a refresh has completed since the request
// was sent and that token is returned without another exchange.
func (c *RefreshCoordinator) Refresh(ctx context.Context, staleAccessToken string) (string, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", core.ErrNoSession
	}
	if f := c.inflight; f != nil {
		f.waiters++
		c.mu.Unlock()
		return c.wait(ctx, f)
	}

	current, ok := c.deps.Tokens.Get(ctx)
	if ok && current.AccessToken != staleAccessToken {
		c.mu.Unlock()
		return current.AccessToken, nil
	}

	f := &flight{done: make(chan struct{})}
	c.inflight = f
	c.mu.Unlock()

	go c.run(ctx, f, current)

	return c.wait(ctx, f)
}

// Close detaches the coordinator from its session. Once Close returns the
// coordinator never writes to the token store again, and an outstanding
// flight settles with core.ErrNoSession.
func (c *RefreshCoordinator) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

// InFlight reports whether a refresh is outstanding
func (c *RefreshCoordinator) InFlight() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inflight != nil
}

func (c *RefreshCoordinator) wait(ctx context.Context, f *flight) (string, error) {
	select {
	case <-f.done:
		if f.err != nil {
			return "", f.err
		}
		return f.pair.AccessToken, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// run performs the exchange detached from the leader's cancellation and
// settles the flight
func (c *RefreshCoordinator) run(parent context.Context, f *flight, current core.TokenPair) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), c.timeout)
	defer cancel()

	logger := c.deps.Logger
	pair, err := c.exchange(ctx, current)
	if err != nil {
		err = fmt.Errorf("%w: %w", core.ErrRefreshFailed, err)
	}

	c.mu.Lock()
	detached := c.closed
	if detached {
		pair, err = core.TokenPair{}, core.ErrNoSession
	} else if err != nil {
		if clearErr := c.deps.Tokens.Clear(ctx); clearErr != nil {
			logger.Error("token_clear_failed", "err", clearErr)
		}
	} else if setErr := c.deps.Tokens.Set(ctx, pair); setErr != nil {
		logger.Error("token_persist_failed", "err", setErr)
	}
	f.pair, f.err = pair, err
	waiters := f.waiters
	c.inflight = nil
	c.mu.Unlock()

	c.deps.Metrics.RefreshSettled(err, waiters)

	switch {
	case detached:
		logger.Debug("token_refresh_discarded", "waiters", waiters)
	case err != nil:
		logger.Warn("token_refresh_failed", "waiters", waiters, "err", err)
		if c.onTerminated != nil {
			c.onTerminated(err)
		}
	default:
		logger.Debug("token_refreshed", "waiters", waiters)
		if c.onRefreshed != nil {
			c.onRefreshed(pair)
		}
	}

	close(f.done)
}

// exchange trades the refresh token read when the flight started
func (c *RefreshCoordinator) exchange(ctx context.Context, current core.TokenPair) (core.TokenPair, error) {
	if current.RefreshToken == "" {
		return core.TokenPair{}, core.ErrNoRefreshToken
	}

	pair, err := c.deps.Gateway.Refresh(ctx, current.RefreshToken)
	if err != nil {
		return core.TokenPair{}, err
	}
	if pair.AccessToken == "" {
		return core.TokenPair{}, fmt.Errorf("gateway returned an empty access token: %w", core.ErrRefreshTokenInvalid)
	}
	return pair, nil
}
