package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/limiter"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rajivgeraev/flippy-api/internal/activity"
	"github.com/rajivgeraev/flippy-api/internal/config"
	"github.com/rajivgeraev/flippy-api/internal/db"
	"github.com/rajivgeraev/flippy-api/internal/middleware"
	"github.com/rajivgeraev/flippy-api/internal/services/auth"
	"github.com/rajivgeraev/flippy-api/internal/services/catalog"
	"github.com/rajivgeraev/flippy-api/internal/services/exchange"
	"github.com/rajivgeraev/flippy-api/internal/services/matching"
	"github.com/rajivgeraev/flippy-api/internal/utils"
	"github.com/rajivgeraev/flippy-api/internal/websocket"
	"github.com/rajivgeraev/flippy-api/pkg/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Запустить HTTP API и WebSocket-сервер",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := bootstrap()
		if err != nil {
			return err
		}
		defer log.Sync()

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		return serve(ctx, cfg, log)
	},
}

func serve(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	// Инициализируем хранилище
	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if pg, ok := store.(*db.PostgresStore); ok {
		if err := pg.Migrate(ctx); err != nil {
			return err
		}
	}

	// Аудит: всегда в лог, при наличии NATS ещё и в шину
	audit := activity.Multi{activity.NewZapSink(log)}
	if cfg.NATSURL != "" {
		nc, err := activity.Connect(cfg.NATSURL, log)
		if err != nil {
			return err
		}
		defer nc.Drain()
		audit = append(audit, activity.NewNATSSink(nc, cfg.ActivitySubject, log))
	}

	jwtService := utils.NewJWTService(cfg.JWTSecret, cfg.JWTExpiration)
	resolver := auth.NewResolver(jwtService, store)
	hub := websocket.NewManager(log)
	defer hub.Shutdown()

	// Создаём сервисы
	catalogService := catalog.NewCatalogService(store)
	authService := auth.NewAuthService(cfg.TelegramBotToken, store, jwtService, audit, log)
	exchangeService := exchange.NewExchangeService(store, catalogService, audit, hub, log)
	matchingService := matching.NewMatchingService(store, catalogService, log)

	app := newApp(cfg, log)
	authMiddleware := middleware.AuthMiddleware(resolver)

	// Регистрируем маршруты
	authService.SetupRoutes(app, authMiddleware)
	catalogService.SetupRoutes(app, authMiddleware)
	exchangeService.SetupRoutes(app, authMiddleware)
	matchingService.SetupRoutes(app, authMiddleware)

	wsServer := &http.Server{
		Addr:              ":" + cfg.WebsocketPort,
		Handler:           wsMux(hub, resolver),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info("✅ WebSocket сервер запущен", zap.String("port", cfg.WebsocketPort))
		if err := wsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		log.Info("✅ Flippy API запущен", zap.String("port", cfg.Port), zap.String("store", cfg.StoreDriver))
		if err := app.Listen(":"+cfg.Port, fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("Получен сигнал остановки")
	case err := <-errCh:
		log.Error("Сервер остановлен с ошибкой", zap.Error(err))
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := wsServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("Ошибка остановки WebSocket сервера", zap.Error(err))
	}
	return app.ShutdownWithContext(shutdownCtx)
}

// newApp создаёт Fiber с общими middleware
func newApp(cfg *config.Config, log *logger.Logger) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      "Flippy API",
		ErrorHandler: middleware.ErrorHandler(log),
	})

	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(middleware.RequestLogger(log))
	app.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
	}))

	app.Get("/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Use("/api", limiter.New(limiter.Config{
		Max:        cfg.RateLimitRequests,
		Expiration: cfg.RateLimitWindow,
	}))
	return app
}

// wsMux маршруты WebSocket-сервера
func wsMux(hub *websocket.Manager, resolver websocket.TokenResolver) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/ws", hub.Handler(resolver))
	return mux
}
