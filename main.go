package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"strconv"
	"syscall"
	"time"

	_ "net/http/pprof"

	"github.com/rs/zerolog"

	"github.com/cs2inspect/gateway/internal/bot"
	"github.com/cs2inspect/gateway/internal/cache"
	"github.com/cs2inspect/gateway/internal/config"
	"github.com/cs2inspect/gateway/internal/coordinator"
	"github.com/cs2inspect/gateway/internal/credstore"
	"github.com/cs2inspect/gateway/internal/events"
	"github.com/cs2inspect/gateway/internal/httpapi"
	"github.com/cs2inspect/gateway/internal/manager"
	"github.com/cs2inspect/gateway/internal/shard"
	"github.com/cs2inspect/gateway/internal/store/postgres"
	"github.com/cs2inspect/gateway/internal/transport"
	"github.com/cs2inspect/gateway/internal/transport/mock"
	"github.com/cs2inspect/gateway/internal/transport/wsclient"
)

var zlog = zerolog.New(zerolog.ConsoleWriter{
	Out:        os.Stdout,
	TimeFormat: time.Stamp,
}).With().Timestamp().Logger()

func init() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

var cpuprofile = flag.String("cpuprofile", "", "write cpu profile to `file`")
var memprofile = flag.String("memprofile", "", "write memory profile to `file`")

func main() {
	flag.Parse()

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			log.Fatal("could not create CPU profile: ", err)
		}
		defer f.Close()
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal("could not start CPU profile: ", err)
		}
		defer pprof.StopCPUProfile()
	}

	cfg, err := config.Load()
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to load configuration")
	}

	creds, err := credstore.LoadCredentials(cfg.CredentialsPath)
	if err != nil {
		zlog.Warn().Err(err).Str("path", cfg.CredentialsPath).Msg("could not load credential file, starting with an empty fleet")
	}

	blacklist, err := credstore.LoadBlacklist(cfg.BlacklistPath)
	if err != nil {
		zlog.Warn().Err(err).Str("path", cfg.BlacklistPath).Msg("could not load blacklist, treating as empty")
	}
	creds = filterBlacklisted(creds, blacklist)
	zlog.Info().Int("accounts", len(creds)).Msg("loaded bot fleet credentials")

	botsPerWorker := cfg.BotsPerWorker
	if !cfg.WorkerEnabled {
		// Single-thread fallback (spec §6 WORKER_ENABLED=false): force the
		// whole fleet into one shard instead of spreading across many.
		botsPerWorker = len(creds)
		if botsPerWorker == 0 {
			botsPerWorker = 1
		}
		zlog.Info().Msg("WORKER_ENABLED=false, running the fleet as a single shard")
	}

	newTransport := transportFactory(cfg)

	mgrCfg := manager.Config{
		BotsPerWorker: botsPerWorker,
		MaxRetries:    cfg.MaxRetries,
		Shard: shard.Config{
			Bot: bot.Config{
				CooldownTime:         cfg.BotCooldownTime,
				InspectTimeout:       cfg.InspectTimeout,
				MaxReconnectAttempts: cfg.MaxReconnectAttempts,
				BaseReconnectDelay:   cfg.BaseReconnectDelay,
				MaxReconnectDelay:    cfg.MaxReconnectDelay,
			},
			MaxInitRetries:      cfg.MaxRetries,
			HealthCheckInterval: cfg.HealthCheckInterval,
			StatsUpdateInterval: cfg.StatsUpdateInterval,
			ProxyURL:            cfg.ProxyURL,
		},
	}

	mgr := manager.New(creds, mgrCfg, newTransport, zlog)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	zlog.Info().Msg("initializing bot fleet")
	mgr.Start(ctx)

	assetCache := cache.New(cfg.RedisAddress, cfg.RedisPassword, cfg.RedisDB, cfg.RedisPrefix, time.Hour, zlog)
	defer assetCache.Close()

	store, err := postgres.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to connect to persistence store")
	}
	defer store.Close()
	if err := store.EnsureSchema(ctx); err != nil {
		zlog.Fatal().Err(err).Msg("failed to ensure persistence schema")
	}

	bridge, err := events.New(events.Config{
		Enabled:   cfg.EventsEnabled,
		Address:   cfg.NatsAddress,
		ClusterID: cfg.NatsClusterID,
		ClientID:  cfg.NatsClientID,
		Channel:   cfg.NatsChannel,
	}, zlog)
	if err != nil {
		zlog.Fatal().Err(err).Msg("failed to connect to event bridge")
	}
	go bridge.Run()
	defer bridge.Close()

	co := coordinator.New(coordinator.Config{
		QueueTimeout: cfg.QueueTimeout,
		MaxQueueSize: cfg.MaxQueueSize,
		AllowRefresh: cfg.AllowRefresh,
	}, mgr, assetCache, store, bridge, zlog)

	router := httpapi.NewRouter(httpapi.Config{
		RateLimitPerMin: cfg.HTTPRateLimitPerMin,
	}, co, mgr, zlog)

	srv := &http.Server{
		Addr:    ":" + strconv.Itoa(cfg.Port),
		Handler: router,
	}

	go func() {
		zlog.Info().Int("port", cfg.Port).Msg("inspect gateway listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Fatal().Err(err).Msg("http server failed")
		}
	}()

	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	<-sc

	zlog.Info().Msg("shutting down")
	co.Shutdown()
	mgr.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Warn().Err(err).Msg("http server did not shut down cleanly")
	}

	if *memprofile != "" {
		f, err := os.Create(*memprofile)
		if err != nil {
			log.Fatal("could not create memory profile: ", err)
		}
		defer f.Close()
		runtime.GC()
		if err := pprof.WriteHeapProfile(f); err != nil {
			log.Fatal("could not write memory profile: ", err)
		}
	}
}

func filterBlacklisted(creds []credstore.Credential, blacklist map[string]struct{}) []credstore.Credential {
	if len(blacklist) == 0 {
		return creds
	}
	out := creds[:0]
	for _, c := range creds {
		if _, banned := blacklist[c.Username]; banned {
			continue
		}
		out = append(out, c)
	}
	return out
}

// transportFactory picks the Transport implementation new bots are built
// with: the deterministic mock for local development, or the
// gorilla/websocket-backed client dialing cfg.TransportURL otherwise.
func transportFactory(cfg config.Config) shard.NewTransport {
	if cfg.UseMockTransport {
		return func(username string) transport.Transport {
			return mock.New()
		}
	}
	return func(username string) transport.Transport {
		return wsclient.New(cfg.TransportURL)
	}
}

