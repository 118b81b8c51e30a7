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
	"PPost/module/bot"
	"PPost/service/rpc"
	"PPost/tools/security"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "frontend",
	Short: "PPost messaging front-end: chat updates in, checkpoint alerts out",
	Long: `frontend accepts chat platform updates on /updates, keeps the control
link to the point store attached and turns its events into chat messages.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadFrontend(configPath)
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

func run(ctx context.Context, cfg *config.FrontendConfig) error {
	log := logger.Named(cfg.NodeType)

	token := ""
	if cfg.Link.Secret != "" {
		opts := security.DefaultOptions([]byte(cfg.Link.Secret))
		opts.TTL = cfg.Link.TokenTTL
		t, exp, err := security.IssueLinkToken(opts, cfg.Peer)
		if err != nil {
			return fmt.Errorf("link token: %w", err)
		}
		token = t
		log.Info("[boot] link token issued", zap.Time("expireAt", exp))
	}

	ch := rpc.NewChannel(rpc.Options{CallTimeout: cfg.Link.CallTimeout, Log: log.Named("rpc")})
	defer ch.Close()

	b := bot.New(bot.Options{
		Channel:     ch,
		Messenger:   bot.NewLogMessenger(cfg.MapURL, log.Named("messenger")),
		Radius:      cfg.WatchRadius,
		MapURL:      cfg.MapURL,
		RateLimit:   cfg.RateLimit,
		RateBurst:   cfg.RateBurst,
		WatchExpiry: cfg.WatchExpiry,
		Log:         log.Named("bot"),
	})
	dialer := rpc.NewDialer(rpc.DialerConfig{
		URL:        cfg.Link.URL,
		Token:      token,
		MaxBackoff: cfg.Link.MaxBackoff,
		WS:         rpc.WSOptions{PongWait: cfg.Link.PongWait},
		Log:        log.Named("dialer"),
	}, ch)

	r := mid.NewEngine(global.ConfigMiddleware(log))
	b.Routes(r, cfg.WebhookSecret)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dialer.Run(gctx) })
	g.Go(func() error { return global.RunHTTP(gctx, cfg.HTTP.Addr, r, log) })

	err := g.Wait()
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
