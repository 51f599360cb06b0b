package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	glog "github.com/labstack/gommon/log"

	"github.com/iliyamo/cinema-seat-lock/internal/config"
	"github.com/iliyamo/cinema-seat-lock/internal/database"
	"github.com/iliyamo/cinema-seat-lock/internal/handler"
	"github.com/iliyamo/cinema-seat-lock/internal/middleware"
	"github.com/iliyamo/cinema-seat-lock/internal/queue"
	"github.com/iliyamo/cinema-seat-lock/internal/repository"
	"github.com/iliyamo/cinema-seat-lock/internal/router"
	"github.com/iliyamo/cinema-seat-lock/internal/seatlock"
	"github.com/iliyamo/cinema-seat-lock/internal/service"
)

func main() {
	cfg := config.Load()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()

	e := echo.New()
	e.HideBanner = true
	e.Logger.SetLevel(glog.INFO)
	e.Use(echomw.Recover())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	coord := seatlock.New(repository.NewSeatRepo(db), seatlock.Options{
		LockTTL:        cfg.SeatLock.LockTTL,
		SweepInterval:  cfg.SeatLock.SweepInterval,
		SessionTimeout: cfg.SeatLock.SessionTimeout,
		OutboxSize:     cfg.SeatLock.OutboxSize,
		Logger:         e.Logger,
	})
	go coord.Run(ctx)

	reservations := repository.NewReservationRepo(db)
	bookings := &handler.BookingHandler{
		Coord:     coord,
		Finalizer: seatlock.NewFinalizer(coord, reservations),
		Store:     reservations,
	}
	if cfg.AMQPURL != "" {
		bookings.Publisher = service.NewBookingPublisher(cfg.AMQPURL, e.Logger)
		consumer := &queue.Consumer{URL: cfg.AMQPURL, LogPath: cfg.BookingLog, Sink: coord, Logger: e.Logger}
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				e.Logger.Errorf("booking consumer stopped: %v", err)
			}
		}()
	} else {
		e.Logger.Warn("RABBITMQ_URL not set; booking events are not published")
	}

	rdb := config.NewRedisClient()
	if rdb == nil {
		e.Logger.Warn("redis unreachable; rate limits are per process")
	} else {
		defer rdb.Close()
	}

	router.RegisterRoutes(e, router.Routes{
		Health: handler.Health(db, coord),
		Seats:  &handler.SeatHandler{Coord: coord},
		Room: &handler.RoomHandler{
			Coord:          coord,
			Limiter:        middleware.NewLimiter(config.LoadLockRateLimitConfig(), rdb),
			AllowedOrigins: cfg.SeatLock.AllowedOrigins,
			ReadTimeout:    cfg.SeatLock.SessionTimeout + 15*time.Second,
			Logger:         e.Logger,
		},
		Bookings:    bookings,
		JWTSecret:   cfg.JWTSecret,
		CommitLimit: middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb),
	})

	go func() {
		addr := ":" + cfg.Port
		e.Logger.Infof("listening on %s (env=%s)", addr, cfg.Env)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			e.Logger.Fatal(err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		e.Logger.Errorf("shutdown: %v", err)
	}
}
