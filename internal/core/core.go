// Package core wires the persistent store, HTTP client, auth façade and
// session manager into the object collaborators use.
package core

import (
	"context"

	"go.uber.org/zap"

	"github.com/spec-kit/garage-core/internal/authapi"
	"github.com/spec-kit/garage-core/internal/client"
	"github.com/spec-kit/garage-core/internal/config"
	"github.com/spec-kit/garage-core/internal/events"
	"github.com/spec-kit/garage-core/internal/observability"
	"github.com/spec-kit/garage-core/internal/service"
	"github.com/spec-kit/garage-core/internal/session"
	"github.com/spec-kit/garage-core/internal/store"
	"github.com/spec-kit/garage-core/internal/worker"
)

// Core is the assembled data-access layer.
type Core struct {
	Store   *store.Store
	Client  *client.Client
	Auth    *authapi.API
	Session *session.Manager
	Cleanup *worker.CleanupWorker
	Metrics *observability.Metrics
	Events  events.Dispatcher

	opened *store.Opened
}

// Option customizes New.
type Option func(*options)

type options struct {
	clientOpts []client.Option
}

// WithClientOptions passes extra options to the HTTP client.
func WithClientOptions(opts ...client.Option) Option {
	return func(o *options) { o.clientOpts = append(o.clientOpts, opts...) }
}

// New opens the configured store and builds every component on top of it.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*Core, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	opened, err := store.Open(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	metrics := observability.NewMetrics()
	dispatcher := events.NewInMemoryDispatcher()
	worker.StartNotificationWorker(service.NewNotificationService(dispatcher, observability.Component(logger, "session-events")))

	clientOpts := append([]client.Option{
		client.WithLogger(observability.Component(logger, "http")),
		client.WithMetrics(metrics),
	}, o.clientOpts...)
	httpClient := client.New(
		client.ConfigFrom(cfg.Client),
		session.StoreCredentials(opened.Store, cfg.Session.TokenKey),
		clientOpts...,
	)
	api := authapi.New(httpClient)

	return &Core{
		Store:  opened.Store,
		Client: httpClient,
		Auth:   api,
		Session: session.NewManager(cfg.Session, session.Dependencies{
			Auth:       api,
			Store:      opened.Store,
			Dispatcher: dispatcher,
			Logger:     observability.Component(logger, "session"),
		}),
		Cleanup: worker.NewCleanupWorker(opened.Store, cfg.Store.CleanupInterval(), observability.Component(logger, "cleanup")),
		Metrics: metrics,
		Events:  dispatcher,
		opened:  opened,
	}, nil
}

// Close releases the store and its connections.
func (c *Core) Close() {
	c.opened.Close()
}
