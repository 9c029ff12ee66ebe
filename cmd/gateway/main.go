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

	"github.com/gin-gonic/gin"
	flag "github.com/spf13/pflag"
	"gorm.io/gorm"

	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/internal/access"
	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/internal/auth"
	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/internal/cache"
	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/internal/config"
	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/internal/directory"
	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/internal/gateway"
	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/internal/handler"
	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/internal/hub"
	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/internal/relay"
	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/internal/store"
	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/pkg/database"
	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/pkg/jwt"
	pkglog "github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/pkg/log"
	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/pkg/middleware"
	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/pkg/pubsub"
	"github.com/Juan24rangel/Plataforma-de-trabajo-colaborativo/pkg/snowflake"
)

func main() {
	configPath := flag.StringP("config", "c", "", "path to config file (default ./config/config.yaml)")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		l := pkglog.L()
		l.Fatal().Err(err).Msg("failed to load config")
	}

	// Initialize structured logger
	serviceName := cfg.Log.ServiceName
	if serviceName == "" {
		serviceName = "chat-gateway"
	}
	pkglog.Init(pkglog.Config{
		Level:       cfg.Log.Level,
		Pretty:      cfg.Log.Pretty || cfg.Log.Level == "debug",
		ServiceName: serviceName,
	})
	logger := pkglog.L()

	// Connect to database using GORM
	db, err := database.New(&cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	models := directory.Models()
	if cfg.Store.Driver == "gorm" || cfg.Store.Driver == "" {
		models = append(models, &store.MessageModel{})
	}
	if err := database.AutoMigrate(db, models...); err != nil {
		logger.Fatal().Err(err).Msg("failed to auto-migrate")
	}
	logger.Info().Str("driver", cfg.Database.Driver).Msg("database migration completed")

	// Membership directory, optionally behind the redis room cache
	var dir directory.Directory = directory.NewGormDirectory(db)
	if cfg.Cache.Enabled {
		roomCache, err := cache.NewRedisRoomCache(cfg.Redis, cfg.Cache.Prefix)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer roomCache.Close()
		dir = directory.NewCachedDirectory(dir, roomCache, cfg.Cache.TTL)
		logger.Info().Dur("ttl", cfg.Cache.TTL).Msg("redis room cache enabled")
	}

	// Token verifier
	tokens, err := jwt.NewManager(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.AccessDuration)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create token manager")
	}
	verifier := auth.NewVerifier(tokens, dir)
	evaluator := access.NewEvaluator(dir)

	// Message store
	ids, err := snowflake.NewNode(cfg.Snowflake.MachineID, cfg.Snowflake.Epoch)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create id generator")
	}
	st, closeStore, err := newStore(cfg, db, ids)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Store.Driver).Msg("failed to initialize message store")
	}
	defer closeStore()
	logger.Info().Str("driver", cfg.Store.Driver).Msg("message store ready")

	registry := hub.NewRegistry(logger)

	var opts []gateway.Option
	if cfg.Relay.Driver != "" && cfg.Relay.Driver != "none" {
		bus, err := pubsub.NewPubSub(pubsub.Config{
			Driver: cfg.Relay.Driver,
			Redis: pubsub.RedisConfig{
				Address:  cfg.Redis.Address,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			},
			Kafka: cfg.Relay.Kafka,
		})
		if err != nil {
			logger.Fatal().Err(err).Str("driver", cfg.Relay.Driver).Msg("failed to connect relay bus")
		}
		defer bus.Close()

		rl := relay.New(registry, bus, cfg.Relay.Channel)
		if err := rl.Start(context.Background()); err != nil {
			logger.Fatal().Err(err).Msg("failed to start relay")
		}
		defer rl.Close()
		opts = append(opts, gateway.WithFanout(rl))
	}

	gw := gateway.New(cfg.WebSocket, cfg.Gateway, verifier, evaluator, registry, st, opts...)

	// Setup Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(pkglog.GinMiddleware(logger))

	handler.NewHandler(gw, evaluator, st, registry, middleware.NewAuthMiddleware(verifier)).RegisterRoutes(r)

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("addr", server.Addr).
			Bool("reject_anonymous", cfg.Gateway.RejectAnonymous).
			Bool("conceal_room_existence", cfg.Gateway.ConcealRoomExistence).
			Str("relay", cfg.Relay.Driver).
			Msg("chat gateway starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down chat gateway")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Hijacked websocket connections are not tracked by the HTTP server.
	if err := gw.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("connections still open at shutdown deadline")
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("chat gateway stopped")
}

func newStore(cfg *config.Config, db *gorm.DB, ids *snowflake.Node) (store.Store, func(), error) {
	switch cfg.Store.Driver {
	case "gorm", "":
		return store.NewGormStore(db), func() {}, nil
	case "cassandra":
		cs, err := store.NewCassandraStore(cfg.Cassandra, ids)
		if err != nil {
			return nil, nil, err
		}
		return cs, func() { cs.Close() }, nil
	case "memory":
		return store.NewMemoryStore(ids), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}
