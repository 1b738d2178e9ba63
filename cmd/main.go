package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/reflection"
	"google.golang.org/protobuf/types/known/wrapperspb"
	"gorm.io/gorm"

	"github.com/Leganyst/bookingbot/internal/auth"
	"github.com/Leganyst/bookingbot/internal/bot"
	"github.com/Leganyst/bookingbot/internal/config"
	"github.com/Leganyst/bookingbot/internal/control"
	"github.com/Leganyst/bookingbot/internal/db"
	"github.com/Leganyst/bookingbot/internal/events"
	"github.com/Leganyst/bookingbot/internal/httpapi"
	"github.com/Leganyst/bookingbot/internal/logging"
	"github.com/Leganyst/bookingbot/internal/metrics"
	"github.com/Leganyst/bookingbot/internal/model"
	"github.com/Leganyst/bookingbot/internal/repository"
	"github.com/Leganyst/bookingbot/internal/service"
)

var version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "bookingbot",
		Short:         "Multi-tenant booking bot platform",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), configPath)
		},
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (default $CONFIG_FILE)")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Migrate the schema and run HTTP, gRPC and the bots",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return serve(cmd.Context(), configPath)
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply the database schema and exit",
			RunE: func(_ *cobra.Command, _ []string) error {
				cfg, err := config.Load(configPath)
				if err != nil {
					return err
				}
				gormDB, err := openDB(cfg)
				if err != nil {
					return err
				}
				defer closeDB(gormDB)
				return nil
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(_ *cobra.Command, _ []string) {
				fmt.Printf("bookingbot %s\n", version)
			},
		},
		botCmd(),
	)
	return cmd
}

// botCmd — администрирование ботов через gRPC работающего сервера.
func botCmd() *cobra.Command {
	var (
		addr  string
		token string
		org   int64
	)
	cmd := &cobra.Command{
		Use:   "bot",
		Short: "Inspect and control organization bots over gRPC",
	}
	cmd.PersistentFlags().StringVar(&addr, "addr", "localhost:50051", "gRPC address of the server")
	cmd.PersistentFlags().StringVar(&token, "token", os.Getenv("BOOKINGBOT_TOKEN"), "dashboard JWT")
	cmd.PersistentFlags().Int64Var(&org, "org", 0, "organization id (super_admin only)")

	dial := func(ctx context.Context) (*control.BotControlClient, context.Context, func(), error) {
		conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return nil, nil, nil, fmt.Errorf("dial %s: %w", addr, err)
		}
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token)
		return control.NewBotControlClient(conn), ctx, func() { _ = conn.Close() }, nil
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "status",
			Short: "Show the bot connection state",
			RunE: func(cmd *cobra.Command, _ []string) error {
				client, ctx, done, err := dial(cmd.Context())
				if err != nil {
					return err
				}
				defer done()
				st, err := client.Status(ctx, wrapperspb.Int64(org))
				if err != nil {
					return err
				}
				out, _ := st.MarshalJSON()
				fmt.Println(string(out))
				return nil
			},
		},
		&cobra.Command{
			Use:   "stop",
			Short: "Stop the bot and forget its credential",
			RunE: func(cmd *cobra.Command, _ []string) error {
				client, ctx, done, err := dial(cmd.Context())
				if err != nil {
					return err
				}
				defer done()
				_, err = client.Deactivate(ctx, wrapperspb.Int64(org))
				return err
			},
		},
	)
	return cmd
}

func openDB(cfg *config.Config) (*gorm.DB, error) {
	gormDB, err := db.NewGormDB(&cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("init db: %w", err)
	}
	if err := model.AutoMigrate(gormDB); err != nil {
		closeDB(gormDB)
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return gormDB, nil
}

func closeDB(gormDB *gorm.DB) {
	if sqlDB, err := gormDB.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func serve(parent context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. БД и миграции.
	gormDB, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer closeDB(gormDB)
	store := repository.NewStore(gormDB)
	m := metrics.New()

	// 2. Рассылка событий; relay только при заданном Redis.
	hubOpts := []events.Option{events.WithMetrics(m), events.WithSendBuffer(cfg.Events.SendBuffer)}
	if cfg.Events.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Events.RedisAddr,
			Password: cfg.Events.RedisPassword,
			DB:       cfg.Events.RedisDB,
		})
		defer func() { _ = rdb.Close() }()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping %s: %w", cfg.Events.RedisAddr, err)
		}
		hubOpts = append(hubOpts, events.WithRelay(events.NewRedisRelay(rdb, cfg.Events.RedisChannel, logger)))
	}
	hub := events.NewHub(store, logger, hubOpts...)
	defer hub.Close()

	// 3. Сервисы.
	booking := service.NewBookingService(store, hub, cfg.Booking, logger, service.WithBookingMetrics(m))
	authSvc := service.NewAuthService(store.Users, auth.NewTokens(cfg.JWTSecret, cfg.JWTTTL), logger)

	// 4. Боты. Initialize не блокирует: сервер поднимается, пока боты стартуют.
	dialog := bot.NewConversation(booking, cfg.Bot.DialogTTL, cfg.Booking.SelectableDays, logger)
	platformOpts := []bot.TelegramOption{bot.WithPollTimeout(cfg.Bot.PollTimeout)}
	if cfg.Bot.APIEndpoint != "" {
		platformOpts = append(platformOpts, bot.WithEndpoint(cfg.Bot.APIEndpoint))
	}
	if cfg.Bot.WebhookURL != "" {
		platformOpts = append(platformOpts, bot.WithWebhook(cfg.Bot.WebhookURL, cfg.Bot.WebhookSecret))
	}
	manager := bot.NewManager(
		bot.NewTelegramPlatform(logger, platformOpts...),
		store.Organizations,
		dialog,
		hub,
		cfg.Bot,
		logger,
		bot.WithManagerMetrics(m),
	)
	manager.Initialize(ctx)

	// 5. gRPC.
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(control.AuthInterceptor(authSvc)))
	control.RegisterBotControlServer(grpcServer, control.NewControlService(manager, booking, logger))
	reflection.Register(grpcServer)
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.GRPCAddr, err)
	}

	// 6. HTTP.
	httpServer := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpapi.NewHandler(httpapi.Deps{
			Booking:        booking,
			Auth:           authSvc,
			Bots:           manager,
			Hub:            hub,
			Store:          store,
			Metrics:        m,
			Logger:         logger,
			CORSOrigins:    cfg.CORSOrigins,
			LoginPerMinute: cfg.LoginPerMinute,
			WebhookSecret:  cfg.Bot.WebhookSecret,
		}),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("gRPC server listening", zap.String("addr", cfg.GRPCAddr))
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		logger.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return hub.Run(gctx)
	})

	// 7. Грейсфул-шатдаун по сигналу или падению одного из серверов.
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", zap.Error(err))
		}
		grpcServer.GracefulStop()
		if err := manager.Shutdown(shutdownCtx); err != nil {
			logger.Warn("bot shutdown", zap.Error(err))
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("stopped")
	return nil
}
