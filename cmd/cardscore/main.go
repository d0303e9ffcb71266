package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/pflag"
	"github.com/tcriess/cardscore/api"
	"github.com/tcriess/cardscore/config"
	"github.com/tcriess/cardscore/globals"
	"github.com/tcriess/cardscore/ledger"
	"github.com/tcriess/cardscore/persistence"
	"github.com/tcriess/cardscore/store"
	"github.com/tcriess/cardscore/ws"
)

var (
	configPath = pflag.StringP("config", "c", "", "path to config file or directory")
	sslCert    = pflag.String("ssl-cert", "", "SSL cert (optional)")
	sslKey     = pflag.String("ssl-key", "", "SSL key (optional)")
)

const shutdownTimeout = 10 * time.Second

func main() {
	flagSet := config.GetFlagSet()
	pflag.CommandLine.AddFlagSet(flagSet)
	pflag.Parse()

	globalConfig, err := config.ReadConfiguration(*configPath, flagSet)
	if err != nil {
		globals.AppLogger.Error("could not read configuration", "error", err)
		os.Exit(1)
	}
	globals.AppLogger.SetLevel(hclog.LevelFromString(globalConfig.LogLevel))

	persister, err := persistence.NewPersister(globalConfig)
	if err != nil {
		globals.AppLogger.Error("could not create persister", "error", err)
		os.Exit(1)
	}
	st := store.New(persister, globalConfig.NameCacheSize)
	defer func() {
		st.Checkpoint()
		if err := st.Close(); err != nil {
			globals.AppLogger.Error("could not close persister", "error", err)
		}
	}()

	checkpoints, err := st.StartCheckpoints(globalConfig.PersistenceConfig.Checkpoint)
	if err != nil {
		globals.AppLogger.Error("invalid checkpoint schedule", "error", err)
		return
	}
	if checkpoints != nil {
		defer func() { <-checkpoints.Stop().Done() }()
	}

	svc := ledger.NewService(st)
	registry := ws.NewRegistry(svc)
	svc.SetWatcher(registry)
	defer registry.Close()

	server := &http.Server{
		Addr:    globalConfig.Addr,
		Handler: api.NewHandler(svc, registry),
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)
		sig := <-c
		globals.AppLogger.Info("shutting down", "signal", sig.String())
		registry.Close()
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			globals.AppLogger.Error("could not shut down cleanly", "error", err)
		}
	}()

	globals.AppLogger.Info("listening", "addr", globalConfig.Addr, "persistence", globalConfig.PersistenceConfig.Type)
	if *sslCert != "" && *sslKey != "" {
		err = server.ListenAndServeTLS(*sslCert, *sslKey)
	} else {
		err = server.ListenAndServe()
	}
	if err != http.ErrServerClosed {
		globals.AppLogger.Error("stopped listening", "error", err)
		return
	}
	<-done
}
