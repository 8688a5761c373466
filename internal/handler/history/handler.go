package history

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/tongue-twister/backend/internal/history"
	"github.com/zhouzirui/tongue-twister/backend/pkg/logger"
	"github.com/zhouzirui/tongue-twister/backend/pkg/utils"
)

// Store 练习历史的读取与删除
type Store interface {
	List(limit int) ([]history.Record, error)
	Delete(id string) error
	ClearHistory() error
	Stats() (history.Stats, error)
}

// Handler 练习历史的HTTP处理器
type Handler struct {
	store        Store
	defaultLimit int
	logger       *zap.Logger
}

// New 创建历史处理器，defaultLimit 为未指定 limit 时的返回条数
func New(store Store, defaultLimit int, log *zap.Logger) *Handler {
	if defaultLimit <= 0 {
		defaultLimit = 50
	}
	return &Handler{
		store:        store,
		defaultLimit: defaultLimit,
		logger:       logger.OrNop(log).Named("http.history"),
	}
}

// RegisterRoutes 注册历史相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/history", func(hr chi.Router) {
		hr.Get("/", h.handleList)
		hr.Get("/progress", h.handleProgress)
		hr.Get("/summary", h.handleSummary)
		hr.Get("/stats", h.handleStats)
		hr.Delete("/", h.handleClear)
		hr.Delete("/{id}", h.handleDelete)
	})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r, h.defaultLimit)
	if !ok {
		return
	}
	records, err := h.store.List(limit)
	if err != nil {
		h.internalError(w, "list history failed", err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, records)
}

// handleProgress 最近 limit 次练习的进步分析，默认 10 次
func (h *Handler) handleProgress(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r, 10)
	if !ok {
		return
	}
	records, err := h.store.List(0)
	if err != nil {
		h.internalError(w, "list history failed", err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, history.AnalyzeProgress(records, limit))
}

func (h *Handler) handleSummary(w http.ResponseWriter, _ *http.Request) {
	records, err := h.store.List(0)
	if err != nil {
		h.internalError(w, "list history failed", err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, history.Summarize(records))
}

func (h *Handler) handleStats(w http.ResponseWriter, _ *http.Request) {
	stats, err := h.store.Stats()
	if err != nil {
		h.internalError(w, "history stats failed", err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	err := h.store.Delete(chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, history.ErrNotFound):
		utils.RespondError(w, http.StatusNotFound, err.Error())
	case err != nil:
		h.internalError(w, "delete history failed", err)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handler) handleClear(w http.ResponseWriter, _ *http.Request) {
	if err := h.store.ClearHistory(); err != nil {
		h.internalError(w, "clear history failed", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) internalError(w http.ResponseWriter, msg string, err error) {
	h.logger.Error(msg, zap.Error(err))
	utils.RespondError(w, http.StatusInternalServerError, msg)
}

func parseLimit(w http.ResponseWriter, r *http.Request, fallback int) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		utils.RespondError(w, http.StatusBadRequest, "limit must be a positive integer")
		return 0, false
	}
	return n, true
}
