package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"calview/internal/cache"
	"calview/internal/config"
	"calview/internal/fallback"
	"calview/internal/ics"
	"calview/internal/layout"
	appLog "calview/internal/log"
	"calview/internal/model"
	"calview/internal/normalize"
	"calview/internal/upstream"
	"calview/internal/view"
)

// app is the wired object graph shared by every subcommand.
type app struct {
	cfg      *config.Config
	loc      *time.Location
	ctl      *view.Controller
	fallback *fallback.Store
}

func (a *app) Close() {
	if a.fallback == nil {
		return
	}
	if err := a.fallback.Close(); err != nil {
		appLog.Error("failed to close fallback store", err)
	}
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	backend, err := newBackend(ctx, cfg, loc)
	if err != nil {
		return nil, err
	}

	calendar := upstream.CalendarSource(backend)
	if len(cfg.ICS) > 0 {
		fetcher := ics.NewFetcher(cfg.ICSCacheDir, nil)
		merged := &upstream.MergedCalendar{Primary: backend}
		for _, feed := range cfg.ICS {
			merged.Feeds = append(merged.Feeds, ics.NewSource(ics.Feed{ID: feed.ID, Name: feed.Name, URL: feed.URL}, fetcher, loc))
		}
		calendar = merged
	}

	a := &app{cfg: cfg, loc: loc}
	cacheOpts := cache.Options{Duration: cfg.Cache.Duration, Policy: cfg.RetryPolicy()}
	if cfg.Fallback.Path != "" {
		store, err := fallback.Open(cfg.Fallback.Path)
		if err != nil {
			return nil, fmt.Errorf("open fallback store: %w", err)
		}
		a.fallback = store
		cacheOpts.Fallback = store
	}

	mode, err := model.ParseViewMode(cfg.DefaultView)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.ctl = view.New(view.Sources{
		Calendar:       calendar,
		Tasks:          backend,
		CalendarWriter: backend,
		TaskWriter:     backend,
	}, view.Options{
		Mode:            mode,
		Location:        loc,
		Cache:           cacheOpts,
		WidthPolicy:     layout.ParseWidthPolicy(cfg.Layout.WidthPolicy),
		NotificationTTL: cfg.NotificationTTL,
	})

	appLog.Info("effective config",
		"backend", cfg.Backend,
		"timezone", loc.String(),
		"default_view", mode,
		"cache_duration", cfg.Cache.Duration,
		"refresh", cfg.RefreshCron,
		"ics_count", len(cfg.ICS),
		"fallback", cfg.Fallback.Path != "",
	)
	return a, nil
}

func newBackend(ctx context.Context, cfg *config.Config, loc *time.Location) (upstream.Backend, error) {
	n := normalize.New(loc)
	switch cfg.Backend {
	case config.BackendREST:
		return upstream.NewREST(cfg.REST.BaseURL,
			upstream.WithToken(cfg.REST.Token),
			upstream.WithNormalizer(n),
			upstream.WithDebugLogging(cfg.LogLevel == "debug"),
		)
	case config.BackendGoogle:
		oc, err := upstream.GoogleOAuthConfig(cfg.Google.CredentialsFile)
		if err != nil {
			return nil, err
		}
		hc, err := upstream.GoogleHTTPClient(ctx, oc, cfg.Google.TokenFile)
		if err != nil {
			return nil, err
		}
		return upstream.NewGoogle(ctx, hc, cfg.Google.CalendarID, n)
	}
	return nil, errors.New("unknown backend " + cfg.Backend)
}
