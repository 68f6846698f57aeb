package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ardanlabs/coopledger/app/services/ledger/handlers"
	"github.com/ardanlabs/coopledger/business/sys/metrics"
	"github.com/ardanlabs/coopledger/foundation/blockchain/database"
	"github.com/ardanlabs/coopledger/foundation/blockchain/genesis"
	"github.com/ardanlabs/coopledger/foundation/blockchain/state"
	"github.com/ardanlabs/coopledger/foundation/blockchain/worker"
	"github.com/ardanlabs/coopledger/foundation/events"
	"github.com/ardanlabs/coopledger/foundation/logger"
	"github.com/ardanlabs/conf/v3"
	"go.uber.org/zap"
)

// build is the git version of this program. It is set using build flags in the makefile.
var build = "develop"

func main() {

	// Construct the application logger.
	log, err := logger.New("LEDGER")
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer log.Sync()

	// Perform the startup and shutdown sequence.
	if err := run(log); err != nil {
		log.Errorw("startup", "ERROR", err)
		log.Sync()
		os.Exit(1)
	}
}

func run(log *zap.SugaredLogger) error {

	// =========================================================================
	// Configuration

	// This is all the configuration for the application and the default values.
	// Configuration values will be passed through the application as individual
	// values.
	cfg := struct {
		conf.Version
		Web struct {
			ReadTimeout     time.Duration `conf:"default:5s"`
			WriteTimeout    time.Duration `conf:"default:60s"`
			IdleTimeout     time.Duration `conf:"default:120s"`
			ShutdownTimeout time.Duration `conf:"default:20s"`
			DebugHost       string        `conf:"default:0.0.0.0:7080"`
			PublicHost      string        `conf:"default:0.0.0.0:8080"`
			CorsOrigin      string        `conf:"default:*"`
		}
		Storage struct {
			Engine     string `conf:"default:badger"`
			BadgerPath string `conf:"default:zblock/ledger"`
			SyncWrites bool   `conf:"default:true"`
			DSN        string `conf:"mask"`
		}
		State struct {
			GenesisPath    string        `conf:"default:zblock/genesis.json"`
			RetainPayloads bool          `conf:"default:true"`
			SealInterval   time.Duration `conf:"default:5m"`
			HealthInterval time.Duration `conf:"default:10m"`
			HealthMerkle   bool          `conf:"default:true"`
			HealthPayloads bool          `conf:"default:false"`
		}
	}{
		Version: conf.Version{
			Build: build,
			Desc:  "cooperative transaction ledger",
		},
	}

	// Parse will set the defaults and then look for any overriding values
	// in environment variables and command line flags.
	const prefix = "LEDGER"
	help, err := conf.Parse(prefix, &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	// =========================================================================
	// App Starting

	log.Infow("starting service", "version", build)
	defer log.Infow("shutdown complete")

	// Display the current configuration to the logs.
	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Infow("startup", "config", out)

	// =========================================================================
	// Ledger Support

	gen, err := genesis.Load(cfg.State.GenesisPath)
	if err != nil {
		return fmt.Errorf("loading genesis: %w", err)
	}

	log.Infow("startup", "status", "genesis loaded", "ledger", gen.LedgerID, "difficulty", gen.Difficulty, "transPerBlock", gen.TransPerBlock, "sealRetries", gen.SealRetries)

	storage, err := openStorage(log, storageConfig{
		Engine:     cfg.Storage.Engine,
		BadgerPath: cfg.Storage.BadgerPath,
		SyncWrites: cfg.Storage.SyncWrites,
		DSN:        cfg.Storage.DSN,
	})
	if err != nil {
		return err
	}

	log.Infow("startup", "status", "storage opened", "engine", cfg.Storage.Engine)

	// The ledger packages accept a function of this signature to allow the
	// application to log. Viewer events are also sent to any websocket
	// client that is connected into the system through the events package.
	evts := events.New()
	ev := func(v string, args ...any) {
		s := fmt.Sprintf(v, args...)
		log.Infow(s, "traceid", "00000000-0000-0000-0000-000000000000")
		evts.Send(s)
	}

	mtr := metrics.New()

	// The state value represents the ledger and manages the storage
	// and provides an API for application support.
	st, err := state.New(state.Config{
		Genesis:        gen,
		Storage:        storage,
		RetainPayloads: cfg.State.RetainPayloads,
		Metrics:        mtr,
		EvHandler:      ev,
	})
	if err != nil {
		storage.Close()
		return err
	}
	defer st.Shutdown()

	// The worker package implements the background sealing and the periodic
	// integrity check. The worker will register itself with the state.
	worker.Run(st, worker.Config{
		SealInterval:   cfg.State.SealInterval,
		HealthInterval: cfg.State.HealthInterval,
		HealthOptions: database.ValidateOptions{
			Merkle:   cfg.State.HealthMerkle,
			Payloads: cfg.State.HealthPayloads,
		},
	}, ev)

	// =========================================================================
	// Start Debug Service

	log.Infow("startup", "status", "debug v1 router started", "host", cfg.Web.DebugHost)

	// The Debug function returns a mux to listen and serve on for all the debug
	// related endpoints. This includes the standard library endpoints.
	debugMux := handlers.DebugMux(build, log, st, mtr)

	// Start the service listening for debug requests.
	// Not concerned with shutting this down with load shedding.
	go func() {
		if err := http.ListenAndServe(cfg.Web.DebugHost, debugMux); err != nil {
			log.Errorw("shutdown", "status", "debug v1 router closed", "host", cfg.Web.DebugHost, "ERROR", err)
		}
	}()

	// =========================================================================
	// Service Start/Stop Support

	// Make a channel to listen for an interrupt or terminate signal from the OS.
	// Use a buffered channel because the signal package requires it.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	// Make a channel to listen for errors coming from the listener. Use a
	// buffered channel so the goroutine can exit if we don't collect this error.
	serverErrors := make(chan error, 1)

	// =========================================================================
	// Start Public Service

	log.Infow("startup", "status", "initializing V1 public API support")

	// Construct the mux for the public API calls.
	publicMux := handlers.PublicMux(handlers.MuxConfig{
		Shutdown:   shutdown,
		Log:        log,
		State:      st,
		Evts:       evts,
		Metrics:    mtr,
		CorsOrigin: cfg.Web.CorsOrigin,
	})

	// Construct a server to service the requests against the mux.
	public := http.Server{
		Addr:         cfg.Web.PublicHost,
		Handler:      publicMux,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		ErrorLog:     zap.NewStdLog(log.Desugar()),
	}

	// Start the service listening for api requests.
	go func() {
		log.Infow("startup", "status", "public api router started", "host", public.Addr)
		serverErrors <- public.ListenAndServe()
	}()

	// =========================================================================
	// Shutdown

	// Blocking main and waiting for shutdown.
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		log.Infow("shutdown", "status", "shutdown started", "signal", sig)
		defer log.Infow("shutdown", "status", "shutdown complete", "signal", sig)

		// Release any web sockets that are currently active.
		log.Infow("shutdown", "status", "shutdown web socket channels")
		evts.Shutdown()

		// Give outstanding requests a deadline for completion.
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Web.ShutdownTimeout)
		defer cancel()

		// Asking listener to shut down and shed load.
		log.Infow("shutdown", "status", "shutdown public API started")
		if err := public.Shutdown(ctx); err != nil {
			public.Close()
			return fmt.Errorf("could not stop public service gracefully: %w", err)
		}
	}

	return nil
}
