package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/zhouzirui/tongue-twister/backend/internal/config"
	"github.com/zhouzirui/tongue-twister/backend/internal/handler"
	"github.com/zhouzirui/tongue-twister/backend/internal/history"
	"github.com/zhouzirui/tongue-twister/backend/internal/library"
	"github.com/zhouzirui/tongue-twister/backend/internal/service/coach"
	"github.com/zhouzirui/tongue-twister/backend/internal/service/evaluation"
	"github.com/zhouzirui/tongue-twister/backend/internal/service/speech"
	"github.com/zhouzirui/tongue-twister/backend/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logger.New(logger.Options{Service: "tongue-twister"}).Fatal("failed to load configuration", zap.Error(err))
	}

	log := logger.New(cfg.Log.Options("tongue-twister"))
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)

	if envErr != nil {
		log.Info("no .env file loaded, using system environment only", zap.Error(envErr))
	}

	// 绕口令库
	lib, err := library.Open(cfg.Library.Path)
	if err != nil {
		log.Fatal("failed to load twister library", zap.String("path", cfg.Library.Path), zap.Error(err))
	}
	log.Info("twister library loaded", zap.Int("count", lib.Len()))

	if cfg.Library.Watch && cfg.Library.Path != "" {
		watcher := library.NewWatcher(lib, cfg.Library.Path, log)
		if err := watcher.Start(ctx); err != nil {
			log.Warn("twister library watcher disabled", zap.Error(err))
		} else {
			defer watcher.Stop()
		}
	}

	services := handler.Services{
		Library:      lib,
		HistoryLimit: cfg.Storage.HistoryLimit,
	}
	deps := evaluation.Dependencies{}

	// 结果缓存与练习历史
	if cfg.Storage.CacheEnabled {
		store, err := history.New(history.Options{Dir: cfg.Storage.Dir, TTL: cfg.Storage.CacheTTL}, log)
		if err != nil {
			log.Warn("local storage unavailable, cache and history disabled", zap.Error(err))
		} else {
			if n, err := store.CleanupExpired(); err != nil {
				log.Warn("cleanup expired cache failed", zap.Error(err))
			} else if n > 0 {
				log.Info("expired cache entries removed", zap.Int("count", n))
			}
			deps.Cache = store
			deps.Recorder = store
			services.History = store
		}
	}

	// 语音评测端点
	if cfg.ISE.Enabled {
		ise, err := speech.NewService(cfg.ISE.Endpoint(), log)
		if err != nil {
			log.Warn("speech evaluation unavailable", zap.Error(err))
		} else {
			log.Info("speech evaluation service initialized", zap.String("host", cfg.ISE.Host))
			defer ise.Cleanup()
			deps.Evaluator = ise
			services.Sessions = ise
		}
	} else {
		log.Warn("讯飞评测凭证未配置，评测接口将返回 503")
	}

	// 练习教练
	if cfg.AI.CoachEnabled {
		if cfg.AI.Enabled() {
			chatModel, err := cfg.AI.NewChatModel(ctx)
			if err != nil {
				log.Warn("failed to initialize chat model", zap.Error(err))
			} else if coachSvc, err := coach.NewService(ctx, chatModel, coach.Config{Enabled: true}, log); err != nil {
				log.Warn("failed to initialize coach", zap.Error(err))
			} else if coachSvc.Enabled() {
				deps.Coach = coachSvc
				log.Info("coach enabled", zap.String("model", cfg.AI.Model))
			}
		} else {
			log.Info("Ark 凭证未配置，跳过练习教练")
		}
	}

	if deps.Evaluator != nil {
		opts := evaluation.DefaultOptions()
		opts.Thresholds = cfg.Audio.Thresholds()
		opts.Preprocess = cfg.Audio.Preprocess
		opts.ConnectRetries = cfg.ISE.ConnectRetries

		pipeline, err := evaluation.NewService(deps, opts, log)
		if err != nil {
			log.Fatal("failed to build evaluation pipeline", zap.Error(err))
		}
		services.Evaluator = pipeline
	}

	router := handler.NewRouter(services, log)

	startServer(ctx, cfg.Server, router, log)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler, log *zap.Logger) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Info("tongue twister backend listening", zap.String("addr", addr))
	if err := runServer(ctx, srv); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
