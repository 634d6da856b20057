package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"

	"github.com/PaulBabatuyi/realtime-dm/internal/auth"
	"github.com/PaulBabatuyi/realtime-dm/internal/chat"
	"github.com/PaulBabatuyi/realtime-dm/internal/config"
	"github.com/PaulBabatuyi/realtime-dm/internal/data"
	"github.com/PaulBabatuyi/realtime-dm/internal/db"
	"github.com/PaulBabatuyi/realtime-dm/internal/logging"
	"github.com/PaulBabatuyi/realtime-dm/internal/middleware"
	"github.com/PaulBabatuyi/realtime-dm/internal/realtime"
	"github.com/PaulBabatuyi/realtime-dm/internal/rpc"
)

const shutdownTimeout = 10 * time.Second

// backend is the storage selected by configuration.
type backend struct {
	store data.Store
	users data.UserStore
	mongo *db.Client
}

// openBackend connects to the configured store. For MongoDB it also makes
// sure the indexes exist.
func openBackend(ctx context.Context, cfg config.Config) (*backend, error) {
	if cfg.Store.Driver == config.DriverMemory {
		m := data.NewMemoryStore()
		return &backend{store: m, users: m}, nil
	}

	client, err := db.New(ctx, cfg.Store.MongoURI, cfg.Store.Database)
	if err != nil {
		return nil, err
	}
	if err := client.CreateIndexes(ctx); err != nil {
		_ = client.Close(context.Background())
		return nil, fmt.Errorf("create indexes: %w", err)
	}
	return &backend{
		store: data.NewMongoStore(client.Mongo(), data.MongoCollections{
			Conversations: client.ConversationsCollection(),
			Participants:  client.ParticipantsCollection(),
			Messages:      client.MessagesCollection(),
			Summaries:     client.SummariesCollection(),
		}),
		users: data.NewUsersStore(client.UsersCollection()),
		mongo: client,
	}, nil
}

func (b *backend) Close(ctx context.Context) error {
	if b.mongo == nil {
		return nil
	}
	return b.mongo.Close(ctx)
}

// newJWTManager prefers a key set so tokens can be rotated, and falls back
// to the single secret.
func newJWTManager(cfg config.JWTConfig) *auth.JWTManager {
	if len(cfg.Keys) > 0 {
		return auth.NewJWTManagerFromKeys(cfg.Keys, cfg.ActiveKid, cfg.TTL)
	}
	return auth.NewJWTManager(cfg.Secret, cfg.TTL)
}

// newGRPCServer assembles the server options: optional TLS, the JSON codec,
// and the logging -> rate limit -> auth interceptor chain.
func newGRPCServer(cfg config.Config, srv *Server, limiter *middleware.LimiterStore, jwtMgr *auth.JWTManager, log zerolog.Logger) (*grpc.Server, error) {
	var opts []grpc.ServerOption

	if cfg.TLS.Cert != "" && cfg.TLS.Key != "" {
		creds, err := credentials.NewServerTLSFromFile(cfg.TLS.Cert, cfg.TLS.Key)
		if err != nil {
			return nil, fmt.Errorf("load TLS certs: %w", err)
		}
		opts = append(opts, grpc.Creds(creds))
	} else if cfg.TLS.Require {
		return nil, errors.New("REQUIRE_TLS is true but TLS_CERT/TLS_KEY are not configured")
	}

	limited := map[string]bool{
		rpc.MethodRegister: true,
		rpc.MethodLogin:    true,
	}
	opts = append(opts,
		grpc.ForceServerCodec(rpc.Codec{}),
		grpc.ChainUnaryInterceptor(
			middleware.LoggingUnaryInterceptor(log),
			middleware.RateLimitUnaryInterceptor(limiter, limited),
			authUnaryInterceptor(jwtMgr),
		),
		grpc.ChainStreamInterceptor(
			middleware.LoggingStreamInterceptor(log),
			authStreamInterceptor(jwtMgr),
		),
	)

	gs := grpc.NewServer(opts...)
	rpc.RegisterMessagingServer(gs, srv)
	return gs, nil
}

// serve runs both transports until ctx ends or one of them fails, then shuts
// everything down in dependency order.
func serve(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	b, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = b.Close(context.Background())
	}()

	// The fan-out pipeline outlives ctx so queued batches drain on shutdown.
	fanCtx, stopFan := context.WithCancel(context.Background())
	defer stopFan()

	hub := realtime.NewHub(logging.Component(log, "hub"))
	seq := realtime.NewSequencer(hub, cfg.Fanout.GapTimeout, logging.Component(log, "sequencer"))
	go seq.Run(fanCtx)

	var sink realtime.Sink = seq
	if cfg.Fanout.RedisURL != "" {
		client, err := realtime.DialRedis(ctx, cfg.Fanout.RedisURL)
		if err != nil {
			return err
		}
		defer func() {
			_ = client.Close()
		}()
		relay := realtime.NewRedisRelay(client, cfg.Fanout.RedisTopic, seq, logging.Component(log, "relay"))
		if err := relay.Start(fanCtx); err != nil {
			return err
		}
		defer func() {
			_ = relay.Close()
		}()
		sink = relay
	}

	dispatcher := realtime.NewDispatcher(sink, cfg.Fanout.Shards, cfg.Fanout.QueueSize, logging.Component(log, "dispatcher"))
	dispatcher.Start(fanCtx)
	defer dispatcher.Close()

	engine := chat.NewEngine(b.store, b.users, dispatcher, logging.Component(log, "engine"), chat.Options{
		MaxBodyLength: cfg.Chat.MaxBodyLength,
	})
	jwtMgr := newJWTManager(cfg.JWT)

	srv := newServer(b.users, engine, jwtMgr, hub, logging.Component(log, "server"))
	srv.connBuffer = cfg.Fanout.ConnBuffer

	// small burst to allow a couple of quick retries
	limiter := middleware.NewLimiterStore(cfg.RateLimitRPM, 3, time.Minute)
	defer limiter.Stop()

	grpcServer, err := newGRPCServer(cfg, srv, limiter, jwtMgr, logging.Component(log, "grpc"))
	if err != nil {
		return err
	}
	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}
	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           srv.routes(limiter),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info().Str("addr", lis.Addr().String()).Msg("gRPC server listening")
		errCh <- grpcServer.Serve(lis)
	}()
	go func() {
		log.Info().Str("addr", httpServer.Addr).Msg("HTTP gateway listening")
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case runErr = <-errCh:
		log.Error().Err(runErr).Msg("server failed, shutting down")
	}

	srv.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown")
	}

	stopped := make(chan struct{})
	go func() {
		grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		log.Warn().Msg("graceful stop timed out, forcing")
		grpcServer.Stop()
	}
	return runErr
}
