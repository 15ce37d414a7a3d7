package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"WebdevReplay/internal/config"
	"WebdevReplay/internal/database"
	"WebdevReplay/internal/grpcserver"
	"WebdevReplay/internal/httpserver"
	"WebdevReplay/internal/ingest"
	"WebdevReplay/internal/logger"
	"WebdevReplay/internal/logstore"
	"WebdevReplay/internal/wsserver"
)

var (
	configPath string
	watch      bool
)

var rootCmd = &cobra.Command{
	Use:   "log-server",
	Short: "Receive webdev exercise events over HTTP, WebSocket and gRPC",
	Long: `log-server persists the log events sent by webdev exercise widgets to
<logs.directory>/webdev/<package>/<problem>.log and optionally mirrors them to PostgreSQL.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return run(ctx)
	},
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "config file (default ./configs/webdev.yaml or ./webdev.yaml)")
	rootCmd.Flags().BoolVar(&watch, "watch", true, "reload the config file when it changes")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	mgr, err := config.NewManager(config.WithConfigPath(configPath), config.WithWatchEnabled(watch))
	if err != nil {
		return err
	}
	cfg := mgr.Config()

	if err := logger.Init(cfg.Logging.Level, cfg.Logging.Format); err != nil {
		return err
	}
	defer logger.Sync()

	mgr.OnChange(func(c *config.Config) {
		if err := logger.Init(c.Logging.Level, c.Logging.Format); err != nil {
			logger.L().Warn("keep previous logger", zap.Error(err))
		}
	})

	store, err := logstore.New(cfg.Logs.Directory)
	if err != nil {
		return err
	}

	stream := logger.NewEventStream()
	go stream.Run()
	defer stream.Close()

	ingestOpts := []ingest.Option{ingest.WithPublisher(stream)}
	apiOpts := []httpserver.Option{
		httpserver.WithEventStream(stream),
		httpserver.WithAllowedOrigins(cfg.Server.AllowedOrigins),
	}

	if cfg.Database.Enabled {
		dbCfg := database.DefaultConfig(cfg.Database.DSN)
		if cfg.Database.MaxConns > 0 {
			dbCfg.MaxConns = cfg.Database.MaxConns
		}
		pool, err := database.Connect(ctx, dbCfg)
		if err != nil {
			return err
		}
		defer pool.Close()

		repo := database.NewLogRepository(pool)
		if err := repo.EnsureSchema(ctx); err != nil {
			return err
		}
		ingestOpts = append(ingestOpts, ingest.WithRepository(repo))
		apiOpts = append(apiOpts, httpserver.WithSessionLookup(repo))
		logger.L().Info("database mirror enabled")
	}

	handler := ingest.NewHandler(store, ingestOpts...)
	logger.L().Info("log store ready", zap.String("root", store.Root()))

	g, gctx := errgroup.WithContext(ctx)

	if cfg.Server.HTTPAddr != "" {
		api := httpserver.NewAPIServer(cfg.Server.HTTPAddr, handler, apiOpts...)
		g.Go(api.Start)
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			return api.Shutdown(sctx)
		})
	}

	if cfg.Server.WSAddr != "" {
		ws := wsserver.New(wsserver.DefaultServerConfig(cfg.Server.WSAddr), handler)
		if err := ws.Start(); err != nil {
			return err
		}
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			return ws.Shutdown(sctx)
		})
	}

	if cfg.Server.GRPCAddr != "" {
		ln, err := net.Listen("tcp", cfg.Server.GRPCAddr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", cfg.Server.GRPCAddr, err)
		}
		gs := grpcserver.NewServer()
		grpcserver.Register(gs, grpcserver.NewHostServer(handler))
		logger.L().Info("starting gRPC ingest server", zap.String("addr", ln.Addr().String()))
		g.Go(func() error {
			return gs.Serve(ln)
		})
		g.Go(func() error {
			<-gctx.Done()
			gs.GracefulStop()
			return nil
		})
	}

	err = g.Wait()
	logger.L().Info("log-server stopped")
	return err
}
