package main // Entry point package

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/cinema-tickets/internal/auth"
	"github.com/iliyamo/cinema-tickets/internal/catalog"
	"github.com/iliyamo/cinema-tickets/internal/config"
	"github.com/iliyamo/cinema-tickets/internal/database"
	"github.com/iliyamo/cinema-tickets/internal/handler"
	"github.com/iliyamo/cinema-tickets/internal/logging"
	"github.com/iliyamo/cinema-tickets/internal/middleware"
	"github.com/iliyamo/cinema-tickets/internal/notify"
	"github.com/iliyamo/cinema-tickets/internal/queue"
	"github.com/iliyamo/cinema-tickets/internal/repository"
	"github.com/iliyamo/cinema-tickets/internal/router"
	"github.com/iliyamo/cinema-tickets/internal/service"
)

func main() {
	cfg := config.Load()
	log := logging.New(cfg.LogLevel, cfg.LogFormat, nil)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg, log)
	if err != nil {
		log.WithError(err).WithField("driver", cfg.StorageDriver).Fatal("open store")
	}
	defer store.Close()

	rdb := config.NewRedisClient(log)
	if rdb != nil {
		defer rdb.Close()
	}

	hub := notify.NewHub(log, 0)
	defer hub.Close()
	transports, closeTransports := buildTransports(ctx, cfg, hub, rdb, log)
	defer closeTransports()
	dispatcher := notify.NewDispatcher(log, cfg.Notify.Buffer, transports...)
	defer dispatcher.Close()

	var movieCache catalog.Cache
	if rdb != nil {
		movieCache = catalog.NewRedisCache(rdb, "catalog")
	}
	movies := catalog.NewTMDB(catalog.Config{
		BaseURL:   cfg.TMDB.BaseURL,
		APIKey:    cfg.TMDB.APIKey,
		ReadToken: cfg.TMDB.ReadToken,
		Language:  cfg.TMDB.Language,
		Timeout:   cfg.TMDB.Timeout,
		CacheTTL:  cfg.TMDB.CacheTTL,
	}, movieCache, log)

	reservations := service.NewReservationService(store, dispatcher, log,
		service.WithMaxPerRequest(cfg.Reservation.MaxPerRequest),
		service.WithOnePerUser(cfg.Reservation.OnePerUser),
		service.WithCommitTimeout(cfg.Reservation.CommitTimeout),
	)
	screenings := service.NewScreeningService(store, movies, dispatcher, log)
	guard := auth.NewJWTGuard(cfg.JWTSecret)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.RequestIDWithConfig(echomw.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(logging.RequestLogger(log))
	e.Use(echomw.Recover())
	e.Use(middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb, log))

	screeningHandler := handler.NewScreeningHandler(screenings)
	reservationHandler := handler.NewReservationHandler(reservations)
	router.RegisterRoutes(e)
	router.RegisterAuth(e, handler.NewAuthHandler(store, cfg.JWTSecret, cfg.AccessTTL, cfg.BcryptCost), guard)
	router.RegisterPublic(e, screeningHandler, handler.NewMovieHandler(movies), hub,
		middleware.NewRedisCache(config.LoadCacheConfig(), rdb, log))
	router.RegisterUser(e, reservationHandler, guard)
	router.RegisterManager(e, screeningHandler, reservationHandler, guard)

	addr := ":" + cfg.Port
	go func() {
		log.WithFields(logrus.Fields{
			"addr":       addr,
			"env":        cfg.Env,
			"driver":     cfg.StorageDriver,
			"transports": cfg.Notify.Transports,
		}).Info("listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("http server")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
}

// openStore builds the storage driver selected by STORAGE_DRIVER.
func openStore(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (repository.Store, error) {
	switch cfg.StorageDriver {
	case config.DriverFile:
		return repository.NewFileStore(cfg.DataFile, log)
	case config.DriverMySQL:
		db, err := database.Open(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		if err := database.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
		return repository.NewMySQLStore(db), nil
	}
	log.Warn("memory store in use, data is lost on restart")
	return repository.NewMemoryStore(), nil
}

// buildTransports connects the configured notification transports.  A
// transport that cannot connect is skipped; seat updates are best-effort.
// With amqp enabled the hub is fed by the exchange consumer, so every
// instance's WebSocket clients see every instance's updates exactly once.
func buildTransports(ctx context.Context, cfg config.Config, hub *notify.Hub, rdb *redis.Client, log logrus.FieldLogger) ([]notify.Transport, func()) {
	var (
		out     []notify.Transport
		closers []func()
	)
	n := cfg.Notify

	if n.Enabled(config.TransportAMQP) {
		pub := queue.NewPublisher(n.RabbitURL, n.Exchange, log)
		out = append(out, pub)
		closers = append(closers, func() { _ = pub.Close() })
		if n.Enabled(config.TransportWS) {
			go func() {
				if err := queue.StartSeatsConsumer(ctx, n.RabbitURL, n.Exchange, hub, log); err != nil && ctx.Err() == nil {
					log.WithError(err).Error("seat update consumer stopped")
				}
			}()
		}
	} else if n.Enabled(config.TransportWS) {
		out = append(out, hub)
	}

	if n.Enabled(config.TransportMQTT) {
		m, err := notify.NewMQTTNotifier(notify.MQTTConfig{
			BrokerURL:   n.MQTTBroker,
			ClientID:    n.MQTTClient,
			Username:    n.MQTTUser,
			Password:    n.MQTTPass,
			TopicPrefix: n.MQTTPrefix,
			QoS:         byte(n.MQTTQoS),
		}, log)
		if err != nil {
			log.WithError(err).Warn("mqtt transport disabled")
		} else {
			out = append(out, m)
			closers = append(closers, m.Close)
		}
	}

	if n.Enabled(config.TransportRedis) {
		if rdb == nil {
			log.Warn("redis transport disabled, no redis connection")
		} else if rs, err := notify.NewRedisStreamNotifier(rdb, n.RedisStream, logging.NewWatermill(log)); err != nil {
			log.WithError(err).Warn("redis stream transport disabled")
		} else {
			out = append(out, rs)
			closers = append(closers, func() { _ = rs.Close() })
		}
	}

	return out, func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
}
