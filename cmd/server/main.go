package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"github.com/iliyamo/cohort-pools/internal/config"
	"github.com/iliyamo/cohort-pools/internal/database"
	"github.com/iliyamo/cohort-pools/internal/handler"
	"github.com/iliyamo/cohort-pools/internal/lock"
	"github.com/iliyamo/cohort-pools/internal/logging"
	"github.com/iliyamo/cohort-pools/internal/middleware"
	"github.com/iliyamo/cohort-pools/internal/queue"
	"github.com/iliyamo/cohort-pools/internal/ratelimit"
	"github.com/iliyamo/cohort-pools/internal/repository"
	"github.com/iliyamo/cohort-pools/internal/router"
	"github.com/iliyamo/cohort-pools/internal/scheduler"
	"github.com/iliyamo/cohort-pools/internal/service"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logging.New(os.Stderr, cfg.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dialect, err := database.ParseDialect(cfg.DB.Driver)
	if err != nil {
		return err
	}
	db, err := database.OpenDialect(dialect, cfg.DB.User, cfg.DB.Pass, cfg.DB.Host, cfg.DB.Port, cfg.DB.Name, cfg.DB.Path)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := database.Migrate(ctx, db, dialect); err != nil {
		return err
	}

	deps := service.Deps{
		Store:  repository.NewStore(db),
		Policy: cfg.Pool,
		Log:    log,
	}

	rdb := config.NewRedisClient(cfg.Redis)
	if rdb != nil {
		defer rdb.Close()
		deps.Limiter = ratelimit.NewRedis(rdb, "limit")
		if cfg.Pool.CityLock {
			deps.Locker = lock.NewRedis(rdb, "lock")
		}
		log.Info("redis connected", "addr", cfg.Redis.Address())
	} else {
		log.Warn("redis unavailable; using in-process limits, no response cache", "addr", cfg.Redis.Address())
	}

	if cfg.NotifyViaAMQP {
		pub := queue.NewPublisher(cfg.AMQPURL, logging.For(log, logging.Notifications))
		defer pub.Close()
		deps.Notifier = service.NewBrokerNotifier(pub, log)
	} else {
		deps.Notifier = service.NewLogNotifier(logging.For(log, logging.Notifications))
	}
	if cfg.NotifyConsumer {
		c := &queue.Consumer{URL: cfg.AMQPURL, LogPath: cfg.NotifyLogPath, Log: logging.For(log, logging.Notifications)}
		go func() {
			if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error("notification consumer stopped", "error", err)
			}
		}()
	}

	svc := service.New(deps)

	sched := scheduler.New(scheduler.Sweeps(svc), cfg.Pool.SweepInterval, logging.For(log, logging.Scheduler))
	go sched.Run(ctx)

	httpLog := logging.For(log, logging.HTTP)
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestLoggerWithConfig(echomw.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v echomw.RequestLoggerValues) error {
			attrs := []any{"method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency}
			if v.Error != nil {
				httpLog.Error("request", append(attrs, "error", v.Error)...)
				return nil
			}
			httpLog.Info("request", attrs...)
			return nil
		},
	}))

	limit := middleware.NewTokenBucket(cfg.RateLimit, rdb, httpLog)
	cache := middleware.NewRedisCache(cfg.Cache, rdb)

	pools := handler.NewPoolHandler(svc, httpLog)
	router.RegisterRoutes(e, db, rdb)
	router.RegisterPublic(e, pools, limit, cache)
	router.RegisterMember(e, router.MemberHandlers{
		Pools:   pools,
		Account: handler.NewAccountHandler(svc, httpLog),
		Chat:    handler.NewChatHandler(svc, httpLog),
	}, cfg.JWTSecret, limit)
	router.RegisterAdmin(e, handler.NewAdminHandler(svc, httpLog), cfg.JWTSecret)

	addr := ":" + cfg.Port
	errc := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", addr, "env", cfg.Env, "db", string(dialect))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(sctx); err != nil {
		return err
	}
	return nil
}
