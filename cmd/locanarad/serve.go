package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyodotdev/locanara/internal/catalog"
	"github.com/hyodotdev/locanara/internal/common/fsutil"
	"github.com/hyodotdev/locanara/internal/config"
	"github.com/hyodotdev/locanara/internal/engine"
	"github.com/hyodotdev/locanara/internal/httpapi"
	"github.com/hyodotdev/locanara/internal/memory"
	"github.com/hyodotdev/locanara/internal/router"
	"github.com/hyodotdev/locanara/internal/service"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	}
}

func serve(cfg config.Config) error {
	log := newLogger(cfg.Log)

	cat, err := catalog.Open(cfg.ModelsDir, log)
	if err != nil {
		return err
	}
	if !fsutil.PathExists(cat.Dir()) {
		log.Warn().Str("dir", cat.Dir()).Msg("models directory does not exist yet")
	}
	var watcher *catalog.Watcher
	if cfg.WatchModels {
		watcher, err = catalog.Watch(cat)
		if err != nil {
			log.Warn().Err(err).Msg("model dir watch disabled")
		} else {
			defer watcher.Close()
		}
	}

	mon := memory.New(memory.Config{
		WarningPercent:  cfg.Memory.WarningPercent,
		CriticalPercent: cfg.Memory.CriticalPercent,
		SampleInterval:  cfg.Memory.PollInterval(),
		Logger:          log,
	})
	mon.Start()
	defer mon.Stop()

	threads := cfg.Engine.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	loader := engine.NewAdapterLoader(cfg.Engine.ContextSize, threads, log)

	rtr := router.New(router.Config{
		Catalog:       cat,
		Memory:        mon,
		Loader:        loader,
		DefaultModel:  cfg.DefaultModel,
		DrainDelay:    cfg.Drain.DrainDelay(),
		DrainTimeout:  cfg.Drain.DrainTimeout(),
		MaxQueueDepth: cfg.Drain.MaxQueueDepth,
		MaxWait:       cfg.Drain.MaxWait(),
		Logger:        log,
	})
	defer rtr.Close()
	mon.Subscribe(rtr.HandleMemoryEvent)

	initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := rtr.Initialize(initCtx); err != nil {
		initCancel()
		return err
	}
	initCancel()

	svc := service.New(service.Deps{
		Router:  rtr,
		Memory:  mon,
		Catalog: cat,
		Logger:  log,
	})

	baseCtx, baseCancel := context.WithCancel(context.Background())
	defer baseCancel()
	httpapi.SetBaseContext(baseCtx)
	httpapi.SetLogger(log)

	srv := &http.Server{Addr: cfg.Addr, Handler: httpapi.NewMux(svc)}
	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", cfg.Addr).
			Str("models_dir", cat.Dir()).
			Bool("llama_built", engine.LlamaBuilt()).
			Msg("locanarad listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-stop:
	}

	// Cancel in-flight generations, then drain connections.
	baseCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown error")
	}
	return nil
}
