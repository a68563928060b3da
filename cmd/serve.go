package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ireland-samantha/zia-gateway/internal/config"
	"github.com/ireland-samantha/zia-gateway/internal/discord"
	"github.com/ireland-samantha/zia-gateway/internal/gateway"
	"github.com/ireland-samantha/zia-gateway/internal/persona"
	"github.com/ireland-samantha/zia-gateway/internal/router"
	"github.com/ireland-samantha/zia-gateway/internal/slack"
	"github.com/ireland-samantha/zia-gateway/internal/storage"
	"github.com/ireland-samantha/zia-gateway/internal/web"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the enabled front-ends",
		Long: `Start every enabled front-end (Slack, Discord, web) against one shared
gateway. The process stops on SIGINT or SIGTERM, or when any front-end fails.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if !cfg.Slack.Enabled && !cfg.Discord.Enabled && !cfg.Web.Enabled {
		return &config.ConfigError{Problems: []string{"no front-end enabled: set slack.enabled, discord.enabled or web.enabled"}}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting ZIA gateway...",
		"storage", cfg.Storage.Backend,
		"endpoints", len(cfg.Route.Endpoints),
		"model", cfg.Route.Model,
	)

	store, err := storage.New(ctx, cfg.Storage, storageLimits(cfg), logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close store", "error", err)
		}
	}()

	gw, err := buildGateway(cfg, store, logger)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Slack.Enabled {
		slackLogger := logger.With("adapter", slack.Platform)
		handler := slack.NewHandler(gw, slackLogger)
		debug := strings.EqualFold(cfg.Log.Level, "debug")
		bot, err := slack.NewBot(cfg.Slack, debug, handler.HandleMessage, slackLogger)
		if err != nil {
			return err
		}
		g.Go(func() error { return bot.Run(gctx) })
	}

	if cfg.Discord.Enabled {
		bot, err := discord.NewBot(cfg.Discord, gw, logger.With("adapter", discord.Platform))
		if err != nil {
			return err
		}
		g.Go(func() error { return bot.Run(gctx) })
	}

	if cfg.Web.Enabled {
		users, err := web.OpenUserStore(cfg.Web.UsersFile)
		if err != nil {
			return err
		}
		srv := web.New(cfg.Web, gw, users, logger.With("adapter", web.Platform))
		g.Go(func() error { return srv.Run(gctx) })
	}

	logger.Info("ZIA gateway is running. Press Ctrl+C to stop.")
	err = g.Wait()
	if err != nil && ctx.Err() == nil && !errors.Is(err, context.Canceled) {
		logger.Error("Front-end stopped", "error", err)
		return err
	}

	logger.Info("ZIA gateway stopped.")
	return nil
}

// buildGateway wires personas, overrides and endpoints around store.
func buildGateway(cfg *config.Config, store gateway.Store, logger *slog.Logger) (*gateway.Gateway, error) {
	set, err := buildPersonas(cfg)
	if err != nil {
		return nil, err
	}

	overrides := cfg.PersonaOverrides()
	rules := make([]persona.Override, 0, len(overrides))
	for _, o := range overrides {
		rules = append(rules, persona.Override{Platform: o.Platform, Match: o.Match, Persona: o.Persona})
	}
	resolver, err := persona.NewResolver(set, rules, logger)
	if err != nil {
		return nil, &config.ConfigError{Err: err}
	}

	rt, err := router.FromConfig(cfg.Route, logger)
	if err != nil {
		return nil, err
	}

	logger.Info("Personas loaded", "names", set.Names(), "overrides", len(rules))

	return gateway.New(store, resolver, rt, gateway.Options{
		Model:     cfg.Route.Model,
		MaxTokens: cfg.Route.MaxTokens,
		LoadLimit: cfg.Memory.LoadLimit,
	}, logger), nil
}

// buildPersonas merges persona_dir files with config personas; config wins.
func buildPersonas(cfg *config.Config) (*persona.Set, error) {
	var fromDir map[string]string
	if cfg.PersonaDir != "" {
		var err error
		fromDir, err = persona.LoadDir(cfg.PersonaDir)
		if err != nil {
			return nil, &config.ConfigError{Err: fmt.Errorf("persona_dir: %w", err)}
		}
	}

	set, err := persona.NewSet(persona.Merge(fromDir, cfg.PersonaContents()))
	if err != nil {
		return nil, &config.ConfigError{Err: err}
	}
	return set, nil
}
