package twister

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/tongue-twister/backend/internal/library"
	"github.com/zhouzirui/tongue-twister/backend/pkg/utils"
)

// Handler 绕口令库的HTTP处理器
type Handler struct {
	library *library.Library
}

// New 创建绕口令处理器
func New(lib *library.Library) *Handler {
	return &Handler{library: lib}
}

// RegisterRoutes 注册绕口令相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/twisters", func(tr chi.Router) {
		tr.Get("/", h.handleList)
		tr.Get("/random", h.handleRandom)
		tr.Get("/stats", h.handleStats)
		tr.Get("/practice", h.handlePractice)
		tr.Get("/{id}", h.handleGet)
	})
}

// handleList 支持 difficulty、category 过滤与 q 关键词搜索
func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter, ok := parseFilter(w, query.Get("difficulty"), query.Get("category"))
	if !ok {
		return
	}

	items := h.library.List()
	if keyword := strings.TrimSpace(query.Get("q")); keyword != "" {
		items = h.library.Search(keyword)
	}

	out := make([]library.Twister, 0, len(items))
	for _, t := range items {
		if (filter.Difficulty == "" || t.Difficulty == filter.Difficulty) &&
			(filter.Category == "" || t.Category == filter.Category) {
			out = append(out, t)
		}
	}
	utils.RespondJSON(w, http.StatusOK, out)
}

func (h *Handler) handleRandom(w http.ResponseWriter, r *http.Request) {
	filter, ok := parseFilter(w, r.URL.Query().Get("difficulty"), r.URL.Query().Get("category"))
	if !ok {
		return
	}
	t, found := h.library.Random(filter)
	if !found {
		utils.RespondError(w, http.StatusNotFound, "no twister matches the filter")
		return
	}
	utils.RespondJSON(w, http.StatusOK, t)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	t, ok := h.library.Lookup(chi.URLParam(r, "id"))
	if !ok {
		utils.RespondError(w, http.StatusNotFound, library.ErrNotFound.Error())
		return
	}
	utils.RespondJSON(w, http.StatusOK, t)
}

func (h *Handler) handleStats(w http.ResponseWriter, _ *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"total":        h.library.Len(),
		"difficulties": h.library.DifficultyStats(),
		"categories":   h.library.CategoryStats(),
	})
}

// handlePractice 按难度递增返回练习序列，max 为最高难度，count 默认 5
func (h *Handler) handlePractice(w http.ResponseWriter, r *http.Request) {
	ceiling := library.Difficulty(r.URL.Query().Get("max"))
	if ceiling == "" {
		ceiling = library.DifficultyExpert
	}
	if ceiling.Rank() < 0 {
		utils.RespondError(w, http.StatusBadRequest, "invalid max difficulty")
		return
	}

	count := 5
	if raw := r.URL.Query().Get("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			utils.RespondError(w, http.StatusBadRequest, "count must be a positive integer")
			return
		}
		count = n
	}
	utils.RespondJSON(w, http.StatusOK, h.library.PracticeSequence(ceiling, count))
}

func parseFilter(w http.ResponseWriter, difficulty, category string) (library.Filter, bool) {
	filter := library.Filter{
		Difficulty: library.Difficulty(strings.TrimSpace(difficulty)),
		Category:   library.Category(strings.TrimSpace(category)),
	}
	if filter.Difficulty != "" && filter.Difficulty.Rank() < 0 {
		utils.RespondError(w, http.StatusBadRequest, "invalid difficulty")
		return filter, false
	}
	return filter, true
}
