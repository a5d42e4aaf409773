package main

import (
	"context"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	orderapi "github.com/desain-gratis/order-notifier/delivery/order-api"
	ordersocket "github.com/desain-gratis/order-notifier/delivery/order-socket"
	"github.com/desain-gratis/order-notifier/lib/notifier/api"
	"github.com/desain-gratis/order-notifier/lib/notifier/impl"
	"github.com/desain-gratis/order-notifier/repository/limiter"
	limiter_inmemory "github.com/desain-gratis/order-notifier/repository/limiter/inmemory"
	limiter_redis "github.com/desain-gratis/order-notifier/repository/limiter/redis"
	"github.com/desain-gratis/order-notifier/usecase/ordernotify/handler"
	jwthmac "github.com/desain-gratis/order-notifier/utility/secret/hmac"
)

type app struct {
	hub    *impl.Hub
	socket *ordersocket.Server
	redis  redis.UniversalClient
}

// Close ends the sockets, then the hub. Call after the HTTP server stopped.
func (a *app) Close() {
	if a.socket != nil {
		a.socket.Close()
	}
	a.hub.Shutdown()
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			log.Err(err).Msgf("failed to close redis")
		}
	}
}

func enableNotifierModule(ctx context.Context, cfg config, router *httprouter.Router) (*app, error) {
	a := &app{}

	a.hub = impl.NewHub(impl.Config{
		PendingWindow: cfg.Hub.PendingWindow,
		PendingLimit:  cfg.Hub.PendingLimit,
		SweepInterval: cfg.Hub.SweepInterval,
		StaleAfter:    cfg.Hub.StaleAfter,
	})
	a.hub.Init(ctx)

	var limiterRepo limiter.Repository = limiter_inmemory.New()
	if cfg.Limiter.RedisAddress != "" {
		a.redis = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{cfg.Limiter.RedisAddress},
			Password: cfg.Limiter.RedisPassword,
			DB:       cfg.Limiter.RedisDB,
		})

		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := a.redis.Ping(pingCtx).Err(); err != nil {
			log.Err(err).Msgf("redis %v not reachable yet, limiter fails open until it is", cfg.Limiter.RedisAddress)
		}
		cancel()

		limiterRepo = limiter_redis.New(a.redis)
	}
	subscribeLimiter := limiter.New(limiterRepo, cfg.Limiter.Max, cfg.Limiter.Window)

	streamAPI := api.NewStreamAPI(a.hub, subscribeLimiter, api.StreamConfig{
		HeartbeatInterval: cfg.Stream.HeartbeatInterval,
		WriteTimeout:      cfg.Stream.WriteTimeout,
		QueueSize:         cfg.Stream.QueueSize,
	})

	router.GET("/notifications/subscribe", streamAPI.Subscribe)
	router.GET("/notifications/metrics", streamAPI.Metrics)
	router.Handler(http.MethodGet, "/metrics", promhttp.Handler())

	gateway := ordersocket.NewGateway()

	var joinToken *orderapi.JoinTokenConfig
	if cfg.Socket.Enabled {
		keys, n, err := jwthmac.NewKeyring(cfg.Socket.SecretFile, cfg.Socket.JoinKeyID)
		if err != nil {
			return nil, err
		}
		log.Info().Msgf("loaded %v join key(s)", n)

		var verifier ordersocket.JoinVerifier = ordersocket.NewTokenVerifier(keys)
		if cfg.Socket.AllowUnverifiedJoin {
			log.Warn().Msgf("socket joins are NOT verified: any client can join any room")
			verifier = ordersocket.ClaimVerifier{}
		}

		if keys.CanSign() {
			joinToken = &orderapi.JoinTokenConfig{
				Signer: keys,
				KeyID:  keys.SigningKeyID,
				TTL:    cfg.Socket.JoinTokenTTL,
			}
		}

		a.socket = ordersocket.NewServer(ordersocket.Config{
			PingInterval:   cfg.Socket.PingInterval,
			WriteTimeout:   cfg.Socket.WriteTimeout,
			QueueSize:      cfg.Socket.QueueSize,
			OriginPatterns: cfg.Socket.OriginPatterns,
		}, verifier)

		gateway.Attach(a.socket)
		if cfg.Socket.MirrorHub {
			a.hub.Attach(a.socket)
		}

		router.GET("/orders", a.socket.Handler)
	}

	if cfg.HTTP.Debug {
		orderAPI := orderapi.New(handler.New(a.hub, gateway), joinToken)

		log.Warn().Msgf("debug endpoints enabled")
		router.POST("/notifications/publish", streamAPI.Publish)
		router.POST("/debug/orders", orderAPI.Place)
		router.POST("/debug/orders/:id/:action", orderAPI.Action)
		router.POST("/debug/join-token", orderAPI.JoinToken)
	}

	return a, nil
}

func newCORS(allowedOrigins []string) *cors.Cors {
	return cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           int((10 * time.Minute).Seconds()),
	})
}
