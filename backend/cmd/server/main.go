package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	json "github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/sourcegraph/conc"
	"github.com/yanun0323/logs"

	"github.com/user/tradekub/backend/internal/auth"
	"github.com/user/tradekub/backend/internal/bootstrap"
	"github.com/user/tradekub/backend/internal/config"
	"github.com/user/tradekub/backend/internal/handlers"
	"github.com/user/tradekub/backend/internal/middleware"
	"github.com/user/tradekub/backend/internal/orders"
	"github.com/user/tradekub/backend/internal/telemetry"
	internalws "github.com/user/tradekub/backend/internal/websocket"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logs.Errorf("load config: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:   cfg.Telemetry.OTLPInsecure,
		ServiceName:    cfg.Telemetry.ServiceName,
		ExportInterval: cfg.Telemetry.ExportInterval,
	})
	if err != nil {
		logs.Errorf("initialise telemetry: %v", err)
		os.Exit(1)
	}

	auth.Configure(cfg.Auth.JWTSecret, cfg.Auth.Issuer)

	store, err := bootstrap.OpenStore(ctx, cfg.Storage)
	if err != nil {
		logs.Errorf("open order store: %v", err)
		os.Exit(1)
	}
	defer store.Close()

	// Match feed hub, notified after every committed create or cancel
	hub := internalws.NewHub(cfg.MatchFeed.Buffer)

	svc := orders.NewService(store, hub,
		orders.WithRetry(cfg.Orders.RetryMaxTries, cfg.Orders.RetryMaxElapsed),
		orders.WithMeter(tp.Meter("github.com/user/tradekub/backend/internal/orders")),
	)

	app := fiber.New(fiber.Config{
		AppName:     "tradekub back office",
		JSONEncoder: json.Marshal,
		JSONDecoder: json.Unmarshal,
	})
	app.Use(recover.New())
	app.Use(logger.New())

	handlers.RegisterRoutes(app, handlers.Routes{
		Orders:     handlers.NewOrderHandler(svc),
		Hub:        hub,
		FeedBuffer: cfg.MatchFeed.ClientBuffer,
		Throttle:   middleware.Throttle(cfg.Orders.ThrottlePerSec, cfg.Orders.ThrottleBurst),
	})

	var lifecycle conc.WaitGroup
	hubCtx, stopHub := context.WithCancel(context.Background())
	lifecycle.Go(func() {
		hub.Run(hubCtx)
	})
	lifecycle.Go(func() {
		logs.Infof("Starting server on %s", cfg.Server.Addr)
		if err := app.Listen(cfg.Server.Addr); err != nil {
			logs.Errorf("http server: %v", err)
			stop()
		}
	})

	<-ctx.Done()
	logs.Info("Shutdown signal received, stopping server...")

	// Stopping the hub first closes every feed subscriber, so open websocket
	// handlers return and the HTTP shutdown does not wait out its timeout.
	stopHub()
	<-hub.Done()
	if err := app.ShutdownWithTimeout(cfg.Server.ShutdownTimeout); err != nil {
		logs.Errorf("shutdown http server: %v", err)
	}
	lifecycle.Wait()

	flushCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := tp.Shutdown(flushCtx); err != nil {
		logs.Errorf("shutdown telemetry: %v", err)
	}
	logs.Info("Server stopped")
}
