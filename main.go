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

	"github.com/rs/zerolog/log"

	"internship-chat/internal/chat"
	"internship-chat/internal/config"
	"internship-chat/internal/db"
	grpcclient "internship-chat/internal/grpc"
	"internship-chat/internal/handlers"
	"internship-chat/internal/logging"
	"internship-chat/internal/observability"
	"internship-chat/internal/rabbitmq"
	"internship-chat/internal/repositories"
	"internship-chat/internal/telemetry"
	"internship-chat/internal/ws"
)

func main() {
	dotenvErr := config.LoadDotEnv()
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat, cfg.ServiceName)
	if dotenvErr != nil {
		log.Debug().Err(dotenvErr).Msg(".env not loaded")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := observability.InitTracer(ctx, cfg.OTLPEndpoint, cfg.ServiceName, cfg.Environment)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init tracer")
	}

	database, err := db.Connect(ctx, cfg.DBDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to db")
	}
	defer database.Close()

	authConn, err := grpcclient.Dial(cfg.AuthGRPCAddr)
	if err != nil {
		log.Fatal().Err(err).Str("addr", cfg.AuthGRPCAddr).Msg("failed to connect to auth grpc")
	}
	defer authConn.Close()
	authClient := grpcclient.NewAuthClient(authConn)

	publisher := rabbitmq.NewPublisher(cfg.AMQPURL, cfg.AMQPExchange)
	defer publisher.Close()
	log.Info().Str("mode", rabbitmq.PublisherMode(publisher)).Str("noop_reason", rabbitmq.PublisherNoopReason(publisher)).Msg("event publisher ready")
	observability.SetPublisher(publisher)
	auditor := telemetry.NewAuditEmitter(publisher, observability.RoutingKeyAudit, cfg.ServiceName, cfg.Environment)

	conversations := repositories.NewConversationRepo(database)
	messages := repositories.NewMessageRepo(database)
	resolver := chat.NewResolver(conversations)
	guard := chat.NewGuard(resolver, cfg.ObserverRoles)
	serviceOpts := []chat.Option{chat.WithAuditor(auditor)}

	hub := ws.NewHub()
	if cfg.RedisURL != "" {
		relay, err := ws.NewRedisRelay(ctx, cfg.RedisURL, hub)
		if err != nil {
			log.Warn().Err(err).Msg("redis relay disabled")
		} else {
			// several nodes share rooms, so writers are serialised in postgres
			lockDB, err := db.ConnectLockPool(ctx, cfg.DBDSN, cfg.LockPoolSize)
			if err != nil {
				log.Fatal().Err(err).Msg("failed to open lock pool")
			}
			defer lockDB.Close()
			serviceOpts = append(serviceOpts, chat.WithLocker(repositories.NewAdvisoryLocker(lockDB)))

			hub.SetRelay(relay)
			defer relay.Close()
			go func() {
				if err := relay.Run(ctx); err != nil {
					log.Error().Err(err).Msg("redis relay stopped")
				}
			}()
		}
	}

	service := chat.NewService(resolver, guard, messages, hub, serviceOpts...)
	hub.SetAccessPolicy(service)

	if cfg.AMQPURL != "" {
		consumer, err := rabbitmq.NewAssignmentConsumer(cfg.AMQPURL, cfg.AMQPExchange, cfg.AssignmentQueue, service)
		if err != nil {
			log.Warn().Err(err).Msg("assignment consumer disabled")
		} else {
			defer consumer.Close()
			go func() {
				if err := consumer.Run(ctx); err != nil {
					log.Error().Err(err).Msg("assignment consumer stopped")
				}
			}()
		}
	}

	router := newRouter(routerDeps{
		serviceName:   cfg.ServiceName,
		chat:          handlers.NewChatHandler(service),
		assignments:   handlers.NewAssignmentHandler(service),
		gateway:       ws.NewGateway(hub, authClient, service, cfg.WSSendBuffer),
		auth:          authClient,
		db:            database,
		auditor:       auditor,
		internalToken: cfg.InternalToken,
		debugRoutes:   cfg.DebugRoutes,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}
	hub.Close()
	if err := shutdownTracer(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("tracer shutdown failed")
	}
	log.Info().Msg("server exited properly")
}
