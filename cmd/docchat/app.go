package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"docchat/internal/config"
	"docchat/internal/gateway"
	"docchat/internal/prefs"
	"docchat/internal/session"

	"github.com/spf13/cobra"
)

// app is the wired object graph behind every command.
type app struct {
	ctrl    *session.Controller
	store   prefs.ClosableStore
	catalog prefs.Catalog
}

func (c *cli) open() (*app, error) {
	gw, err := gateway.New(c.cfg.APIBaseURL, credentials(c.cfg),
		gateway.WithTimeout(c.cfg.Timeout),
		gateway.WithLogger(c.logger))
	if err != nil {
		return nil, err
	}

	catalog := prefs.DefaultCatalog.With(c.cfg.ExtraModels...)
	store, err := prefs.Open(c.cfg.PrefsBackend, c.cfg.PrefsPath, prefs.Options{
		Catalog: catalog,
		Logger:  c.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("open preferences: %w", err)
	}

	ctrl := session.NewController(gw, store,
		session.WithLogger(c.logger),
		session.WithCatalog(catalog))
	return &app{ctrl: ctrl, store: store, catalog: catalog}, nil
}

func (a *app) Close() error {
	return a.store.Close()
}

// credentials prefers a token file, which is re-read on every request, over a
// static token.
func credentials(cfg config.AppConfig) gateway.Credentials {
	switch {
	case cfg.TokenFile != "":
		return gateway.TokenFile(cfg.TokenFile)
	case cfg.Token != "":
		return gateway.StaticToken(cfg.Token)
	default:
		return gateway.Anonymous{}
	}
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}
