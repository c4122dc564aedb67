package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"inspectfleet/internal/cache"
	"inspectfleet/internal/core/dispatch"
	"inspectfleet/internal/core/fleet"
	"inspectfleet/internal/core/queue"
	"inspectfleet/internal/core/session"
	"inspectfleet/internal/service/httpapi"
	"inspectfleet/internal/shared/config"
	"inspectfleet/internal/shared/logger"
	"inspectfleet/internal/shared/settings"
	"inspectfleet/internal/shared/types"
	"inspectfleet/proxypool"
)

func main() {
	configDir := flag.String("configdir", "configs", "Path to config directory")
	flag.Parse()

	iniPath := filepath.Join(*configDir, "inspectfleet.ini")
	accountsPath := filepath.Join(*configDir, "accounts.json")
	settingsPath := filepath.Join(*configDir, "settings.json")

	cfg := new(types.Config)
	if err := config.LoadIni(cfg, iniPath); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal: failed to load config file '%s': %v\n", iniPath, err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.LogConf); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal: failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	accounts, err := config.LoadAccounts(accountsPath)
	if err != nil {
		logger.Fatal().Err(err).Msgf("failed to load accounts file '%s'", accountsPath)
	}

	proxyURLs, err := config.LoadProxyList(cfg.AccountsConf.ProxiesPath)
	if err != nil {
		logger.Warn().Err(err).Msg("no proxy list available, falling back to direct connections")
		proxyURLs = nil
	}

	mgr, err := settings.NewManager(settingsPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize runtime settings")
	}

	pool := proxypool.New(cfg.ProxyPoolConf, proxyURLs)

	sup := fleet.New(cfg.FleetConf, cfg.RequestDelay(), cfg.InspectTTL(), pool, session.NewSimulatedClient, cfg.ProxyPoolConf.RetryDelayDuration())

	var cacheBackend cache.Cache
	if cfg.CacheConf.PostgresDSN == "" {
		cacheBackend = cache.NewMemory()
	} else {
		cacheBackend, err = cache.NewPostgres(context.Background(), cfg.CacheConf.PostgresDSN)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to postgres cache backend")
		}
	}

	dispatcher := dispatch.New(pool, sup.Available, sup.SessionFor, cacheBackend)
	q := queue.New(pool, sup.ReadyCount, dispatcher.Handle)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sup.Start(ctx, accounts)
	q.Start(ctx)

	server := httpapi.New(httpapi.Config{
		AdminUser:   cfg.ServerConf.AdminUser,
		AdminPass:   cfg.ServerConf.AdminPass,
		MaxAttempts: cfg.QueueConf.MaxAttempts,
	}, sup, pool, q, mgr, cacheBackend)

	addr := fmt.Sprintf(":%d", cfg.ServerConf.Port)
	go func() {
		if err := server.ListenAndServe(addr); err != nil {
			logger.Fatal().Err(err).Msg("http surface exited")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info().Msg("shutting down")
	q.Stop()
	sup.Stop()
}
