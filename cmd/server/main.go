package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/bazel-auth-broker/brokerjwt"
	"github.com/jrsteele09/bazel-auth-broker/idp"
	"github.com/jrsteele09/bazel-auth-broker/internal/config"
	"github.com/jrsteele09/bazel-auth-broker/keymanager"
	"github.com/jrsteele09/bazel-auth-broker/orchestrator"
	"github.com/jrsteele09/bazel-auth-broker/server"
	"github.com/jrsteele09/bazel-auth-broker/session"
	"github.com/jrsteele09/bazel-auth-broker/team"
	"github.com/jrsteele09/bazel-auth-broker/vaultclient"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Exit codes per spec.md §6.
const (
	exitOK           = 0
	exitConfigError  = 1
	exitRuntimeError = 2

	gcInterval       = 30 * time.Second
	gcGrace          = 60 * time.Second
	shutdownTimeout  = 5 * time.Second
	discoveryTimeout = 10 * time.Second
)

func main() {
	os.Exit(run())
}

// run wires every component and serves until a stop signal or a fatal
// runtime error, returning the process exit code (spec.md §6: 0 clean
// shutdown, 1 configuration error, 2 fatal runtime error).
func run() (exitCode int) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("recovered from panic in main")
			exitCode = exitRuntimeError
		}
	}()

	cfg := config.New()
	displayAppname(cfg.GetAppName())
	configureLogging(cfg.GetEnv())

	keys, err := keymanager.Load(cfg.GetPrivateKeyPath(), cfg.GetPublicKeyPath(), cfg.GetKeyID())
	if err != nil {
		log.Error().Err(err).Msg("configuration error: failed to load signing keys")
		return exitConfigError
	}

	teamCfg, err := config.LoadTeamConfig()
	if err != nil {
		log.Error().Err(err).Msg("configuration error: failed to load team configuration")
		return exitConfigError
	}

	discoverCtx, cancelDiscover := context.WithTimeout(context.Background(), discoveryTimeout)
	idpClient, err := idp.New(discoverCtx, idp.Config{
		IssuerURL:    cfg.GetIdPIssuerURL(),
		ClientID:     cfg.GetIdPClientID(),
		ClientSecret: cfg.GetIdPClientSecret(),
		RedirectURL:  cfg.GetIdPRedirectURI(),
		Scopes:       cfg.GetIdPScopes(),
	})
	cancelDiscover()
	if err != nil {
		log.Error().Err(err).Msg("configuration error: failed to discover oidc provider")
		return exitConfigError
	}

	vaultClient, err := vaultclient.New(vaultclient.Config{
		Addr:          cfg.GetVaultAddr(),
		ParentToken:   cfg.GetVaultParentToken(),
		Timeout:       cfg.GetVaultTimeout(),
		RetryBackoffs: cfg.GetVaultRetryBackoffs(),
	})
	if err != nil {
		log.Error().Err(err).Msg("configuration error: failed to build vault client")
		return exitConfigError
	}

	sessions := session.NewInMemoryStore(cfg.GetSessionMax())
	gcCtx, cancelGC := context.WithCancel(context.Background())
	defer cancelGC()
	sessions.RunGC(gcCtx, gcInterval, gcGrace)

	resolver := team.NewResolver(teamCfg)
	issuer := brokerjwt.NewIssuer(keys)

	orch := orchestrator.New(idpClient, sessions, resolver, issuer, vaultClient, orchestrator.Config{
		BrokerIssuer:      cfg.GetBrokerIssuer(),
		BrokerJWTAudience: cfg.GetBrokerJWTAudience(),
		SessionTTL:        cfg.GetSessionTTL(),
		ExchangeTTL:       cfg.GetExchangeTTL(),
	})

	handler := server.New(cfg, orch, keys, vaultClient, cfg.GetCookieHashKey(), cfg.GetCookieBlockKey())
	httpServer := &http.Server{Addr: cfg.GetBind(), Handler: handler}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("broker listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info().Msg("shutdown signal received")
	case err := <-serveErr:
		log.Error().Err(err).Msg("fatal runtime error")
		return exitRuntimeError
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("fatal runtime error during shutdown")
		return exitRuntimeError
	}

	log.Info().Msg("broker stopped cleanly")
	return exitOK
}

// configureLogging swaps in the teacher's console writer for local
// development; anything else keeps zerolog's default JSON output.
func configureLogging(env string) {
	if env == "DEV" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
