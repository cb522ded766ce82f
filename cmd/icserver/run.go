package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/admire-eurohpc/ic/pkg/common"
	"github.com/admire-eurohpc/ic/pkg/ic/adminapi"
	"github.com/admire-eurohpc/ic/pkg/ic/server"
)

// runServer contains the server's startup, run, and graceful-shutdown
// sequence, kept separate from main so it can carry a real doc comment
// without cluttering the package doc.
func runServer() {
	configFile := os.Getenv("IC_CONFIG_FILE")
	if configFile == "" {
		configFile = common.DefaultConfigFile
	}

	cfg, err := common.LoadConfig(configFile)
	if err != nil {
		common.Error("icserver: failed to load config %s: %v", configFile, err)
		os.Exit(1)
	}

	logLevel := common.ParseLogLevel(cfg.Logging.Level)
	var log *common.Logger
	if cfg.Logging.Console {
		log = common.NewConsoleLogger(os.Stdout, logLevel)
	} else {
		log = common.NewLogger(os.Stdout, logLevel)
	}
	log.Info("icserver: version %s starting", common.Version)

	srv, err := server.New(cfg, log)
	if err != nil {
		log.Critical("icserver: failed to build server: %v", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := srv.Start(ctx); err != nil {
		log.Critical("icserver: failed to start: %v", err)
		os.Exit(1)
	}

	var adminSrv *adminHTTPServer
	if cfg.AdminAPI.Enabled {
		adminSrv = startAdminAPI(cfg, srv, log)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	log.Info("icserver: waiting for shutdown signal")
	<-quit

	log.Info("icserver: shutting down")
	cancel()
	if adminSrv != nil {
		adminSrv.stop()
	}
	if err := srv.Stop(); err != nil {
		log.Warning("icserver: shutdown error: %v", err)
	}
	log.Info("icserver: stopped")
}

// adminHTTPServer wraps the admin API's http.Server lifetime separately
// from the RPC listener's, since it's optional per Config.AdminAPI.Enabled.
type adminHTTPServer struct {
	stopFn func()
}

func (a *adminHTTPServer) stop() { a.stopFn() }

func startAdminAPI(cfg *common.Config, backend adminapi.Backend, log *common.Logger) *adminHTTPServer {
	router := adminapi.NewRouter(adminapi.Config{
		Address:            cfg.AdminAPI.Address,
		RateLimitPerSecond: cfg.AdminAPI.RateLimitPerSecond,
		CORSAllowedOrigins: cfg.AdminAPI.CORSAllowedOrigins,
	}, backend, log)

	httpSrv := &http.Server{Addr: cfg.AdminAPI.Address, Handler: router}

	go func() {
		log.Info("icserver: admin API listening on %s", cfg.AdminAPI.Address)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("icserver: admin API stopped: %v", err)
		}
	}()

	return &adminHTTPServer{stopFn: func() {
		ctx, cancel := context.WithTimeout(context.Background(), common.DefaultShutdownTimeout)
		defer cancel()
		_ = httpSrv.Shutdown(ctx)
	}}
}
