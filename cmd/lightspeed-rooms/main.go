package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/pflag"
	"github.com/tcriess/lightspeed-rooms/api"
	"github.com/tcriess/lightspeed-rooms/auth"
	"github.com/tcriess/lightspeed-rooms/config"
	"github.com/tcriess/lightspeed-rooms/filter"
	"github.com/tcriess/lightspeed-rooms/globals"
	"github.com/tcriess/lightspeed-rooms/persistence"
	"github.com/tcriess/lightspeed-rooms/room"
	"github.com/tcriess/lightspeed-rooms/ws"
)

const shutdownTimeout = 10 * time.Second

var (
	configPath = pflag.StringP("config", "c", "", "path to config file or directory")
	envFile    = pflag.String("env-file", "", "dotenv file with LSROOMS_* variables (optional)")
	sslCert    = pflag.String("ssl-cert", "", "SSL cert for websocket (optional)")
	sslKey     = pflag.String("ssl-key", "", "SSL key for websocket (optional)")
)

func main() {
	flagSet := config.GetFlagSet()
	pflag.CommandLine.AddFlagSet(flagSet)
	pflag.Parse()

	err := config.LoadEnvFile(*envFile)
	if err != nil {
		globals.AppLogger.Error("could not load env file", "error", err)
		os.Exit(1)
	}

	globalConfig, err := config.ReadConfiguration(*configPath, flagSet)
	if err != nil {
		globals.AppLogger.Error("could not read configuration", "error", err)
		os.Exit(1)
	}
	globals.AppLogger.SetLevel(hclog.LevelFromString(globalConfig.LogLevel))

	if globalConfig.LockFile != "" {
		lock := flock.New(globalConfig.LockFile)
		locked, err := lock.TryLock()
		if err != nil {
			globals.AppLogger.Error("could not acquire lock", "file", globalConfig.LockFile, "error", err)
			os.Exit(1)
		}
		if !locked {
			globals.AppLogger.Error("another instance is running", "file", globalConfig.LockFile)
			os.Exit(1)
		}
		defer lock.Unlock()
	}

	if err := run(globalConfig); err != nil {
		globals.AppLogger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	persister, err := persistence.NewPersister(cfg)
	if err != nil {
		return err
	}
	defer persister.Close()

	policy, err := filter.NewPolicy(cfg.ChatConfig)
	if err != nil {
		return err
	}

	hub := ws.NewHub(cfg, room.NewRegistry(), persister, policy)
	err = hub.StartStats(cfg.ChatConfig.StatsCron)
	if err != nil {
		return err
	}
	defer hub.Shutdown()

	authenticator := auth.NewAuthenticator(cfg.AuthConfig)
	var accounts *auth.Accounts
	if users, err := persistence.UserStoreOf(persister); err != nil {
		globals.AppLogger.Warn("registration and login disabled", "error", err)
	} else {
		accounts = auth.NewAccounts(cfg.AuthConfig, users, authenticator.Issuer())
	}

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: api.NewServer(hub, authenticator, accounts),
	}

	errChan := make(chan error, 1)
	go func() {
		globals.AppLogger.Info("listening", "addr", cfg.Addr)
		if *sslCert != "" && *sslKey != "" {
			errChan <- srv.ListenAndServeTLS(*sslCert, *sslKey)
		} else {
			errChan <- srv.ListenAndServe()
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-errChan:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case sig := <-c:
		globals.AppLogger.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	// websocket connections are hijacked, Shutdown does not wait for them; the hub closes them
	return srv.Shutdown(ctx)
}
