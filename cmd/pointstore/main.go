package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"PPost/global"
	"PPost/global/config"
	"PPost/logger"
	mid "PPost/middleware"
	"PPost/middleware/security"
	"PPost/module/point"
	"PPost/module/point/service"
	"PPost/module/watch"
	"PPost/service/rpc"
	"PPost/service/workerpool"
	tok "PPost/tools/security"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "pointstore",
	Short: "PPost point store: checkpoints, aging sweeps and live watches",
	Long: `pointstore keeps the reported checkpoints, ages them on a sweep and
serves the control link the messaging front-end attaches to.

Mongo, redis and nats are optional; without them points live in memory.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadStore(configPath)
		if err != nil {
			return err
		}
		level := cfg.LogLevel
		if logLevel != "" {
			level = logLevel
		}
		if err := logger.SetLevel(level); err != nil {
			return err
		}
		logger.SetFile(cfg.LogFile)
		defer logger.Sync()
		logger.Infof("[boot] %s starting, level=%s config=%q", cmd.Name(), level, configPath)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return run(ctx, cfg)
	},
}

func run(ctx context.Context, cfg *config.StoreConfig) error {
	log := logger.Named(cfg.NodeType)

	st, err := global.ConfigMgo(ctx, cfg.Mongo, log)
	if err != nil {
		return fmt.Errorf("mongo: %w", err)
	}
	users, closeRedis, err := global.ConfigRedis(ctx, cfg.Redis, cfg.UserTTL, log)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer closeRedis()
	events, closeNats, err := global.ConfigNats(cfg.Nats, log)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer closeNats()

	ch := rpc.NewChannel(rpc.Options{CallTimeout: cfg.Link.CallTimeout, Log: log.Named("rpc")})
	defer ch.Close()

	svc := service.New(service.Options{
		Store:   st,
		Channel: ch,
		Pool:    workerpool.New(workerpool.Options{Size: cfg.Pool.Size, Threshold: cfg.Pool.Threshold, Log: log.Named("pool")}),
		Users:   users,
		Events:  events,
		Timing: point.Timing{
			Created: cfg.Lifecycle.Created, Confirmed: cfg.Lifecycle.Confirmed,
			Weak: cfg.Lifecycle.Weak, Strong: cfg.Lifecycle.Strong,
		},
		SweepInterval:    cfg.Lifecycle.SweepInterval,
		SweepParallelism: cfg.Lifecycle.Parallelism,
		Watch:            watch.Options{Expiry: cfg.Watch.Expiry, Radius: cfg.Watch.Radius},
		IDs:              global.ConfigIds(cfg.NodeID),
		Log:              log,
	})

	r := mid.NewEngine(global.ConfigMiddleware(log))
	tokOpts := tok.DefaultOptions([]byte(cfg.Link.Secret))
	tokOpts.TTL = cfg.Link.TokenTTL
	if !tokOpts.Enabled() {
		log.Warn("[boot] link secret empty, /link is open")
	}
	auth := security.Middleware(security.DefaultOptions(tokOpts))

	g, gctx := errgroup.WithContext(ctx)
	service.NewServer(svc).Routes(gctx, r, auth, rpc.WSOptions{PongWait: cfg.Link.PongWait, Log: log.Named("ws")})
	g.Go(func() error { return svc.Run(gctx) })
	g.Go(func() error { return global.RunHTTP(gctx, cfg.HTTP.Addr, r, log) })

	err = g.Wait()
	if ctx.Err() != nil {
		log.Info("[boot] shutdown complete")
		return nil
	}
	log.Error("[boot] stopped", zap.Error(err))
	return err
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (optional)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug|info|warn|error (overrides the config)")
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
