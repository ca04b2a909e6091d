// Package warden assembles the client-side session components into a
// ready-to-use client and sidecar router.
package warden

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/layer-3/warden/adapters/events"
	"github.com/layer-3/warden/adapters/gateway"
	"github.com/layer-3/warden/adapters/metrics"
	"github.com/layer-3/warden/adapters/store"
	"github.com/layer-3/warden/config"
	"github.com/layer-3/warden/ports"
	"github.com/layer-3/warden/service"
	transport "github.com/layer-3/warden/transport/http"
)

var _ Client = (*Warden)(nil)

// Warden owns one session manager and everything it depends on
type Warden struct {
	*service.Manager

	client   *http.Client
	router   *gin.Engine
	registry *prometheus.Registry
	logger   *slog.Logger
	closers  []func() error
}

// New builds a Warden from cfg. Close releases the storage and event backends.
func New(cfg *config.Config, logger *slog.Logger) (*Warden, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	w := &Warden{
		registry: prometheus.NewRegistry(),
		logger:   logger,
	}

	kv, err := w.openKV(cfg.Store)
	if err != nil {
		_ = w.Close()
		return nil, err
	}

	publisher, err := w.openPublisher(cfg)
	if err != nil {
		_ = w.Close()
		return nil, err
	}

	apiURL, err := url.Parse(cfg.Upstream.APIURL)
	if err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("invalid api url: %w", err)
	}

	w.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	tokens := store.NewTokenStore(kv, logger)
	w.Manager = service.NewManager(service.Deps{
		Tokens:   tokens,
		Sessions: store.NewSessionStore(kv, logger),
		Gateway:  gateway.NewHTTPGateway(cfg.Upstream.AuthURL, &http.Client{Timeout: cfg.Upstream.Timeout}, tokens),
		Events:   publisher,
		Metrics:  metrics.NewCollector(w.registry),
		Logger:   logger,
	}, cfg.Session.ToCore(), cfg.Session.RefreshTimeout)

	authTransport := transport.NewAuthTransport(w.Manager, nil)
	w.client = &http.Client{Transport: authTransport, Timeout: cfg.Upstream.Timeout}
	w.router = transport.SetupRouter(w.Manager, transport.NewAPIProxy(apiURL, authTransport, logger), w.registry, logger)

	return w, nil
}

// HTTPClient returns a client that authorizes requests with the session
func (w *Warden) HTTPClient() *http.Client {
	return w.client
}

// Router returns the sidecar HTTP API
func (w *Warden) Router() *gin.Engine {
	return w.router
}

// Registry returns the prometheus registry holding the session metrics
func (w *Warden) Registry() *prometheus.Registry {
	return w.registry
}

// Close waits for background calls and releases backends in reverse order
func (w *Warden) Close() error {
	if w.Manager != nil {
		w.Manager.Close()
	}

	var errs []error
	for i := len(w.closers) - 1; i >= 0; i-- {
		if err := w.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	w.closers = nil
	return errors.Join(errs...)
}

func (w *Warden) openKV(cfg config.StoreConfig) (ports.KV, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return store.NewMemoryKV(), nil

	case config.DriverBadger:
		kv, err := store.OpenBadgerKV(cfg.Dir, w.logger)
		if err != nil {
			return nil, err
		}
		w.closers = append(w.closers, kv.Close)
		return kv, nil

	case config.DriverRedis:
		client, err := w.redisClient(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		return store.NewRedisKV(client, cfg.Prefix), nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func (w *Warden) openPublisher(cfg *config.Config) (ports.EventPublisher, error) {
	if !cfg.Events.Enabled {
		return events.Nop{}, nil
	}

	client, err := w.redisClient(cfg.Store.RedisURL)
	if err != nil {
		return nil, err
	}

	publisher, err := redisstream.NewPublisher(
		redisstream.PublisherConfig{
			Client: client,
		},
		watermill.NewSlogLogger(w.logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis publisher: %w", err)
	}
	w.closers = append(w.closers, publisher.Close)

	return events.NewWatermillPublisher(publisher, cfg.Events.Topic), nil
}

func (w *Warden) redisClient(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	w.closers = append(w.closers, client.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}
