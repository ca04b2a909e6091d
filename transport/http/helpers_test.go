package http

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/warden/adapters/gateway"
	"github.com/layer-3/warden/adapters/metrics"
	"github.com/layer-3/warden/adapters/store"
	"github.com/layer-3/warden/core"
	"github.com/layer-3/warden/internal/authtest"
	"github.com/layer-3/warden/service"
)

type stack struct {
	auth     *authtest.Server
	manager  *service.Manager
	tokens   *store.TokenStore
	registry *prometheus.Registry
	client   *http.Client
	router   *gin.Engine
}

func newStack(t *testing.T) *stack {
	t.Helper()
	gin.SetMode(gin.TestMode)

	auth := authtest.NewServer()
	t.Cleanup(auth.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	kv := store.NewMemoryKV()
	tokens := store.NewTokenStore(kv, logger)
	registry := prometheus.NewRegistry()

	manager := service.NewManager(service.Deps{
		Tokens:   tokens,
		Sessions: store.NewSessionStore(kv, logger),
		Gateway:  gateway.NewHTTPGateway(auth.URL, nil, tokens),
		Metrics:  metrics.NewCollector(registry),
		Logger:   logger,
	}, core.DefaultSessionConfig(), 0)
	t.Cleanup(manager.Close)

	target, err := url.Parse(auth.URL)
	require.NoError(t, err)
	transport := NewAuthTransport(manager, nil)

	return &stack{
		auth:     auth,
		manager:  manager,
		tokens:   tokens,
		registry: registry,
		client:   &http.Client{Transport: transport},
		router:   SetupRouter(manager, NewAPIProxy(target, transport, logger), registry, logger),
	}
}

func (s *stack) login(t *testing.T) {
	t.Helper()
	_, err := s.manager.Login(context.Background(), core.Credentials{Username: authtest.Username, Password: authtest.Password})
	require.NoError(t, err)
}

func (s *stack) accessToken(t *testing.T) string {
	t.Helper()
	pair, ok := s.tokens.Get(context.Background())
	require.True(t, ok)
	return pair.AccessToken
}
