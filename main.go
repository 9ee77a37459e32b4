package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/newedge/merchant-portal/config"
	"github.com/newedge/merchant-portal/internal/localstore"
	"github.com/newedge/merchant-portal/internal/portal"
	"github.com/newedge/merchant-portal/internal/realtime"
	"github.com/newedge/merchant-portal/internal/refresh"
	"github.com/newedge/merchant-portal/internal/session"
	"github.com/newedge/merchant-portal/internal/shell"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	config.LoadEnvFile()
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if missing := cfg.CheckRequired(); len(missing) > 0 {
		log.Fatal().Msgf("missing required config: %s", strings.Join(missing, ", "))
	}

	kv, err := localstore.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open local store")
	}
	defer kv.Close()
	log.Info().Str("dbPath", cfg.DBPath).Msg("local store opened")

	sessionStore := session.NewStore(kv)
	client := portal.NewClient(portal.ClientOpts{
		BaseURL:       cfg.APIBaseURL,
		LoginEmailURL: cfg.LoginEmailEndpoint,
		LoginPhoneURL: cfg.LoginPhoneEndpoint,
		ProfileURL:    cfg.ProfileEndpoint,
	})

	// Create context that cancels on SIGINT or SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if sessionStore.Load() == nil {
		if err := loginFromRemembered(ctx, kv, sessionStore, client); err != nil {
			log.Fatal().Err(err).Msg("not logged in")
		}
	}

	// The refresh failure policy folds every refresh error into logout; a
	// logout cancels the whole session lifecycle.
	sessionCtx, endSession := context.WithCancel(ctx)
	defer endSession()

	coordinator, err := refresh.New(sessionStore, refresh.Config{
		Endpoint:             cfg.RefreshEndpoint,
		Interval:             cfg.RefreshInterval,
		KeepSessionOnFailure: cfg.KeepSessionOnFailure,
	}, endSession)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create refresh coordinator")
	}

	// Boot-time check: a session persisted across restarts may hold an
	// expired token. Shares the single-flight guard with the loop below.
	if out := coordinator.CheckNow(ctx); out == refresh.OutcomeLoggedOut {
		log.Info().Msg("session expired, login required")
		return
	}

	sh, err := shell.New(kv, sessionStore, client, realtime.Options{
		URL:     cfg.SocketURL,
		Path:    cfg.SocketPath,
		DevMode: cfg.SocketDevMode,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build portal shell")
	}
	defer sh.Close()

	if err := sh.Start(sessionCtx); err != nil {
		log.Fatal().Err(err).Msg("failed to start portal shell")
	}
	log.Info().Msg(sh.Banner())

	g, gctx := errgroup.WithContext(sessionCtx)
	g.Go(func() error {
		return coordinator.Run(gctx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("shutdown with error")
	} else {
		log.Info().Msg("shutdown complete")
	}
}

// loginFromRemembered logs in with the opt-in plaintext credential cache.
// Without cached credentials there is nothing a headless process can do.
func loginFromRemembered(ctx context.Context, kv localstore.Store, store *session.Store, client *portal.Client) error {
	remembered := shell.LoadRemembered(kv)
	if remembered == nil {
		return errors.New("no session and no remembered credentials")
	}

	var payload json.RawMessage
	var err error
	if remembered.Tab == "phone" {
		payload, err = client.LoginPhone(ctx, remembered.PhoneDigits, remembered.Password)
	} else {
		payload, err = client.LoginEmail(ctx, remembered.Email, remembered.Password)
	}
	if err != nil {
		return err
	}

	if _, err := store.Save(payload); err != nil {
		return err
	}
	log.Info().Msg("logged in with remembered credentials")
	return nil
}
