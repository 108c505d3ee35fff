package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/samvad-hq/samvad-relay/internal/config"
	"github.com/samvad-hq/samvad-relay/internal/logger"
	"github.com/samvad-hq/samvad-relay/internal/relay"
	"github.com/samvad-hq/samvad-relay/internal/server"
	"github.com/samvad-hq/samvad-relay/internal/storage"
	"github.com/samvad-hq/samvad-relay/pkg/clientip"
	"github.com/samvad-hq/samvad-relay/pkg/httpclient"
	"github.com/samvad-hq/samvad-relay/pkg/profiles"
	"github.com/samvad-hq/samvad-relay/pkg/publishers"
	"github.com/samvad-hq/samvad-relay/pkg/request"
)

// Relay is the relay daemon runtime. It owns the history store, the publisher
// fanout, the relay service and the HTTP server.
type Relay struct {
	cfg     *config.Config
	log     logger.Logger
	store   storage.Store
	fanout  *publishers.Fanout
	service *relay.Service
	server  *server.Server
}

// NewRelay builds the runtime from config files.
func NewRelay(ctx context.Context, cfg *config.Config, log logger.Logger) (*Relay, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if log == nil {
		log = &logger.NopLogger{}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	profileReg, err := loadProfiles(cfg.ProfilesFile)
	if err != nil {
		return nil, err
	}
	profileIDs := make([]string, 0)
	for _, p := range profileReg.All() {
		profileIDs = append(profileIDs, p.ID)
	}
	log.InfoObj("profiles registry loaded", "profiles_meta", map[string]any{
		"count": len(profileIDs),
		"ids":   profileIDs,
	})

	fanout, err := buildFanout(ctx, cfg.PublishersFile, log)
	if err != nil {
		return nil, err
	}

	store, err := storage.NewStore(cfg.StorageType, cfg.BBoltPath, storage.Options{
		TTL:             cfg.HistoryTTL,
		CleanupInterval: cfg.HistoryCleanupInterval,
	})
	if err != nil {
		_ = fanout.Close()
		return nil, fmt.Errorf("init storage: %w", err)
	}
	log.InfoObj("storage initialized", "storage_config", map[string]any{
		"type":                     cfg.StorageType,
		"path":                     cfg.BBoltPath,
		"history_ttl_seconds":      int(cfg.HistoryTTL.Seconds()),
		"cleanup_interval_seconds": int(cfg.HistoryCleanupInterval.Seconds()),
	})

	requester := request.New(
		request.WithTransport(request.ProtocolHTTP, httpclient.NewRestyClient(cfg.RequestTimeout)),
		request.WithTransport(request.ProtocolHTTPS, httpclient.NewTLSRestyClient(cfg.RequestTimeout)),
		request.WithForwardQueries(cfg.ForwardQueries),
		request.WithLogger(log),
	)

	service, err := relay.NewService(relay.Deps{
		Requester: requester,
		Store:     store,
		Events:    fanout,
		Profiles:  profileReg,
		Timeout:   cfg.RequestTimeout,
		Logger:    log,
	})
	if err != nil {
		_ = fanout.Close()
		_ = store.Close()
		return nil, fmt.Errorf("init relay service: %w", err)
	}

	resolver := clientip.NewResolver(cfg.TrustedProxies)
	srv := server.New(cfg.ListenAddr, service, resolver, log)

	return &Relay{
		cfg:     cfg,
		log:     log,
		store:   store,
		fanout:  fanout,
		service: service,
		server:  srv,
	}, nil
}

// loadProfiles reads the profiles file. A blank path yields an empty registry.
func loadProfiles(path string) (*profiles.Registry, error) {
	if strings.TrimSpace(path) == "" {
		return profiles.NewRegistry(nil)
	}
	reg, err := profiles.LoadRegistry(path)
	if err != nil {
		return nil, fmt.Errorf("load profiles registry: %w", err)
	}
	return reg, nil
}

// buildFanout instantiates the enabled publishers. A blank path disables events.
func buildFanout(ctx context.Context, path string, log logger.Logger) (*publishers.Fanout, error) {
	if strings.TrimSpace(path) == "" {
		log.InfoObj("no publishers file configured; relay events disabled", "publishers_file", path)
		return publishers.NewFanout(nil), nil
	}

	reg, err := publishers.LoadRegistry(path)
	if err != nil {
		return nil, fmt.Errorf("load publishers registry: %w", err)
	}
	enabled := reg.Enabled()
	pubs, err := publishers.BuildAll(ctx, publishers.DefaultRegistry(), enabled, log)
	if err != nil {
		return nil, fmt.Errorf("build publishers: %w", err)
	}

	summaries := make([]map[string]string, 0, len(enabled))
	for _, pubCfg := range enabled {
		summaries = append(summaries, map[string]string{
			"id":   pubCfg.ID,
			"type": pubCfg.Type,
		})
	}
	log.InfoObj("publishers registry loaded", "publishers_meta", map[string]any{
		"count":      len(summaries),
		"publishers": summaries,
	})
	return publishers.NewFanout(pubs), nil
}

// Handler exposes the HTTP router.
func (a *Relay) Handler() http.Handler {
	return a.server.Handler()
}

// Run serves HTTP until ctx is cancelled, then drains in-flight requests and
// background calls within the shutdown timeout and releases the store and
// publishers.
func (a *Relay) Run(ctx context.Context) error {
	if a == nil || a.server == nil {
		return fmt.Errorf("relay is not initialized")
	}
	defer a.close()

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.server.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		a.log.InfoObj("relay shutting down", "reason", ctx.Err().Error())
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// close aborts and waits for background calls, then releases the storage
// backend and publishers, logging any failure.
func (a *Relay) close() {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()
	if err := a.service.Shutdown(ctx); err != nil {
		a.log.ErrorObj("relay calls did not drain", "error", err.Error())
	}
	if err := a.fanout.Close(); err != nil {
		a.log.ErrorObj("publishers close failed", "error", err.Error())
	}
	if err := a.store.Close(); err != nil {
		a.log.ErrorObj("storage close failed", "error", err.Error())
	}
}
