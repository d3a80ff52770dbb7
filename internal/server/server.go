package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/victornm/quizsync/internal/api"
	"github.com/victornm/quizsync/internal/codegen"
	"github.com/victornm/quizsync/internal/event"
	"github.com/victornm/quizsync/internal/leaderboard"
	"github.com/victornm/quizsync/internal/session"
	"github.com/victornm/quizsync/internal/store"
	"github.com/victornm/quizsync/internal/telemetry"
)

type Config struct {
	HTTP struct {
		Port         int32
		Path         string
		MaxBodyBytes int64
		JoinURL      string
	}

	GRPC struct {
		Port int32
	}

	Store struct {
		// Driver is one of memory, redis or postgres.
		Driver string
	}

	Redis struct {
		Addrs  []string
		Pass   string
		Prefix string
	}

	Postgres struct {
		Addr    string
		User    string
		Pass    string
		Name    string
		Migrate bool
	}

	Session struct {
		IdleTTL       time.Duration
		ReapInterval  time.Duration
		MaxScoreDelta int64
		CodeLength    int
		CodeAttempts  int
	}
}

// DefaultConfig returns the configuration used for every key the config file and environment leave
// unset.
func DefaultConfig() Config {
	var c Config

	c.HTTP.Port = 8080
	c.HTTP.Path = api.DefaultPath
	c.HTTP.MaxBodyBytes = api.DefaultMaxBodyBytes
	c.GRPC.Port = 9090

	c.Store.Driver = store.DriverMemory
	c.Redis.Addrs = []string{"localhost:6379"}
	c.Redis.Prefix = "quizsync"
	c.Postgres.Addr = "localhost:5432"
	c.Postgres.Name = "quizsync"
	c.Postgres.Migrate = true

	c.Session.IdleTTL = 6 * time.Hour
	c.Session.ReapInterval = time.Minute
	c.Session.MaxScoreDelta = session.DefaultMaxScoreDelta
	c.Session.CodeLength = codegen.DefaultLength
	c.Session.CodeAttempts = codegen.DefaultMaxAttempts

	return c
}

type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis    redis.UniversalClient
		postgres *pgxpool.Pool
	}

	store store.Store

	service struct {
		session     *session.Service
		leaderboard *leaderboard.Service
	}

	http   *http.Server
	grpc   *grpc.Server
	health *health.Server

	ctx    context.Context
	cancel context.CancelFunc
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.eb = event.NewBus()
	telemetry.MonitorSessions(s.eb)

	if err := s.initStore(); err != nil {
		return nil, fmt.Errorf("server: init store: %w", err)
	}

	s.initService()
	s.initAPI()
	return s, nil
}

func (s *Server) initStore() error {
	switch s.c.Store.Driver {
	case "", store.DriverMemory:
		s.store = store.NewMemory()

	case store.DriverRedis:
		if err := s.initRedis(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		s.store = store.NewRedis(s.infra.redis, s.c.Redis.Prefix)

	case store.DriverPostgres:
		if err := s.initPostgres(); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}

		pg := store.NewPostgres(s.infra.postgres)
		if s.c.Postgres.Migrate {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			if err := pg.Migrate(ctx); err != nil {
				return fmt.Errorf("postgres: %w", err)
			}
		}
		s.store = pg

	default:
		return fmt.Errorf("unknown store driver %q", s.c.Store.Driver)
	}

	slog.Info("server: store ready", "driver", s.c.Store.Driver)
	return nil
}

var newRedisClient = redis.NewUniversalClient

func (s *Server) initRedis() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	r := newRedisClient(&redis.UniversalOptions{
		Addrs:    s.c.Redis.Addrs,
		Password: s.c.Redis.Pass,
	})

	if err := telemetry.MonitorRedis(r); err != nil {
		return errors.Join(err, r.Close())
	}

	if err := r.Ping(ctx).Err(); err != nil {
		return errors.Join(err, r.Close())
	}

	s.infra.redis = r
	return nil
}

func (s *Server) initPostgres() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pc := s.c.Postgres
	cc, err := pgxpool.ParseConfig(fmt.Sprintf("postgres://%s:%s@%s/%s", pc.User, pc.Pass, pc.Addr, pc.Name))
	if err != nil {
		return err
	}

	db, err := pgxpool.NewWithConfig(ctx, cc)
	if err != nil {
		return err
	}

	if err := db.Ping(ctx); err != nil {
		db.Close()
		return err
	}

	s.infra.postgres = db
	return nil
}

func (s *Server) initService() {
	s.service.session = session.NewService(session.Config{
		Store:    s.store,
		EventBus: s.eb,
		Codes: codegen.NewGenerator(codegen.Config{
			Length:      s.c.Session.CodeLength,
			MaxAttempts: s.c.Session.CodeAttempts,
		}),
		MaxScoreDelta: s.c.Session.MaxScoreDelta,
	})

	s.service.leaderboard = leaderboard.NewService(leaderboard.Config{
		Session: s.service.session,
	})
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery(), telemetry.GinMetrics())

	api.New(api.Config{
		Router:       e,
		Session:      s.service.session,
		Leaderboard:  s.service.leaderboard,
		Path:         s.c.HTTP.Path,
		MaxBodyBytes: s.c.HTTP.MaxBodyBytes,
		JoinURL:      s.c.HTTP.JoinURL,
	})

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}

	s.grpc = grpc.NewServer(telemetry.GRPCServerOptions(slog.Default())...)
	s.health = health.NewServer()
	healthpb.RegisterHealthServer(s.grpc, s.health)
}

func (s *Server) Start() {
	ctx := context.TODO()

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.c.GRPC.Port))
	if err != nil {
		slog.ErrorContext(ctx, "grpc server: listen failed", "error", err)
		panic(err)
	}

	var eg errgroup.Group
	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: gRPC listening on port %d", s.c.GRPC.Port))
		return s.grpc.Serve(lis)
	})

	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	eg.Go(func() error {
		s.reapLoop(s.ctx)
		return nil
	})

	s.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	err = eg.Wait()
	if err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

// reapLoop ends sessions idle for longer than the configured TTL until ctx is done.
func (s *Server) reapLoop(ctx context.Context) {
	if s.c.Session.IdleTTL <= 0 || s.c.Session.ReapInterval <= 0 {
		slog.InfoContext(ctx, "server: idle session expiry disabled")
		return
	}

	t := time.NewTicker(s.c.Session.ReapInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.reap(ctx)
		}
	}
}

func (s *Server) reap(ctx context.Context) {
	if _, err := s.service.session.ExpireIdle(ctx, s.c.Session.IdleTTL); err != nil {
		slog.ErrorContext(ctx, "server: expire idle sessions failed", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.health.Shutdown()
	s.cancel()

	s.grpc.GracefulStop()
	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	s.eb.Stop()

	if s.infra.redis != nil {
		if err := s.infra.redis.Close(); err != nil {
			slog.ErrorContext(ctx, "server: close redis failed", "error", err)
		}
	}
	if s.infra.postgres != nil {
		s.infra.postgres.Close()
	}

	slog.InfoContext(ctx, "server: shutdown completed")
}
