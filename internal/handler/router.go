package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	evaluationHandler "github.com/zhouzirui/tongue-twister/backend/internal/handler/evaluation"
	historyHandler "github.com/zhouzirui/tongue-twister/backend/internal/handler/history"
	twisterHandler "github.com/zhouzirui/tongue-twister/backend/internal/handler/twister"
	"github.com/zhouzirui/tongue-twister/backend/internal/library"
	middlewarePkg "github.com/zhouzirui/tongue-twister/backend/internal/middleware"
	"github.com/zhouzirui/tongue-twister/backend/pkg/logger"
)

// Services 路由依赖的服务，除 Library 外均可为空
type Services struct {
	Evaluator    evaluationHandler.Evaluator
	Sessions     evaluationHandler.SessionCounter
	Library      *library.Library
	History      historyHandler.Store
	HistoryLimit int
}

// NewRouter wires HTTP routes to core services.
func NewRouter(svc Services, log *zap.Logger) http.Handler {
	log = logger.OrNop(log)
	if svc.Library == nil {
		svc.Library = library.NewDefault()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger(log.Named("http")))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	evalHandler := evaluationHandler.New(svc.Evaluator, svc.Library, svc.Sessions, log)
	twisters := twisterHandler.New(svc.Library)

	r.Route("/api", func(api chi.Router) {
		evalHandler.RegisterRoutes(api)
		twisters.RegisterRoutes(api)

		// 历史记录依赖本地存储，未启用时不注册
		if svc.History != nil {
			historyHandler.New(svc.History, svc.HistoryLimit, log).RegisterRoutes(api)
		}
	})

	return r
}
