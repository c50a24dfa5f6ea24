// Package app assembles the sync service: storage, credentials, the Google
// client factory, the orchestrator, and the admin API.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	calendar "google.golang.org/api/calendar/v3"

	"github.com/atelierhq/task-calendar-sync/internal/api"
	"github.com/atelierhq/task-calendar-sync/internal/config"
	"github.com/atelierhq/task-calendar-sync/internal/credentials"
	"github.com/atelierhq/task-calendar-sync/internal/gate"
	"github.com/atelierhq/task-calendar-sync/internal/provider"
	"github.com/atelierhq/task-calendar-sync/internal/security"
	"github.com/atelierhq/task-calendar-sync/internal/selftest"
	"github.com/atelierhq/task-calendar-sync/internal/store"
	"github.com/atelierhq/task-calendar-sync/internal/syncer"
)

type Application struct {
	cfg      config.Config
	store    *store.Store
	gate     *gate.Switch
	resolver *credentials.Resolver
	clients  provider.GoogleFactory
	orch     *syncer.Orchestrator
	logger   *slog.Logger
}

// New opens the database and wires every collaborator. The returned
// Application owns the store; call Close when done.
func New(cfg config.Config, logger *slog.Logger) (*Application, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	oauthConf := &oauth2.Config{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{calendar.CalendarEventsScope},
	}
	resolver := credentials.NewResolver(st, credentials.Vault{Secret: cfg.VaultSecret}, oauthConf)
	clients := provider.GoogleFactory{Timeout: cfg.RequestTimeout}
	g := gate.NewSwitch()

	orch := syncer.New(syncer.Options{
		Source:        st,
		Gate:          g,
		Resolver:      resolver,
		Clients:       clients,
		Store:         st,
		Logger:        logger,
		EventDuration: cfg.EventDuration,
	})

	return &Application{
		cfg:      cfg,
		store:    st,
		gate:     g,
		resolver: resolver,
		clients:  clients,
		orch:     orch,
		logger:   logger,
	}, nil
}

func (a *Application) Close() error {
	return a.store.Close()
}

// Orchestrator exposes the sync engine for embedding callers.
func (a *Application) Orchestrator() *syncer.Orchestrator {
	return a.orch
}

func (a *Application) Run(ctx context.Context) error {
	server := api.New(api.Options{
		Syncer:   a.orch,
		Tasks:    a.store,
		Enroller: a.resolver,
		SelfTest: a.selfTest,
		Auth: security.BearerAuth{
			Enabled: a.cfg.RequireBearerToken,
			Token:   a.cfg.BearerToken,
		},
		Logger: a.logger,
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	wg := sync.WaitGroup{}

	if a.cfg.BindAddress != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.ServeTCP(ctx, a.cfg.BindAddress); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("tcp server: %w", err)
			}
		}()
	}
	if a.cfg.UnixSocketPath != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.ServeUnix(ctx, a.cfg.UnixSocketPath); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("unix server: %w", err)
			}
		}()
	}

	select {
	case err := <-errCh:
		cancel()
		wg.Wait()
		return err
	case <-ctx.Done():
		wg.Wait()
		return nil
	}
}

func (a *Application) selfTest(ctx context.Context) selftest.Report {
	return selftest.Run(ctx, selftest.Deps{
		Gate:      a.gate,
		Resolver:  a.resolver,
		Clients:   a.clients,
		Store:     a.store,
		Logger:    a.logger,
		AccountID: a.cfg.SelfTestAccount,
	})
}
