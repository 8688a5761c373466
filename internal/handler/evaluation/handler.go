package evaluation

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/tongue-twister/backend/internal/library"
	"github.com/zhouzirui/tongue-twister/backend/internal/model/evaluation"
	"github.com/zhouzirui/tongue-twister/backend/internal/service/audio"
	evalsvc "github.com/zhouzirui/tongue-twister/backend/internal/service/evaluation"
	"github.com/zhouzirui/tongue-twister/backend/internal/service/speech"
	"github.com/zhouzirui/tongue-twister/backend/pkg/logger"
	"github.com/zhouzirui/tongue-twister/backend/pkg/utils"
)

// 上传音频大小上限
const maxUploadBytes = 32 << 20

var errTextRequired = errors.New("text or twisterId is required")

// Evaluator 抽象评测流水线，便于测试与替换实现
type Evaluator interface {
	Evaluate(ctx context.Context, req evalsvc.Request) (*evalsvc.Report, error)
}

// SessionCounter 报告进行中的端点会话数
type SessionCounter interface {
	ActiveSessions() int
}

// Handler 评测接口的HTTP处理器
type Handler struct {
	evaluator Evaluator
	twisters  library.Store
	sessions  SessionCounter
	logger    *zap.Logger
}

// New 创建评测处理器。evaluator 为 nil 时评测接口返回 503。
func New(evaluator Evaluator, twisters library.Store, sessions SessionCounter, log *zap.Logger) *Handler {
	return &Handler{
		evaluator: evaluator,
		twisters:  twisters,
		sessions:  sessions,
		logger:    logger.OrNop(log).Named("http.evaluation"),
	}
}

// RegisterRoutes 注册评测相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/evaluations", func(er chi.Router) {
		er.Post("/", h.handleEvaluate)
		er.Post("/stream", h.handleEvaluateStream)
		er.Get("/health", h.handleHealth)
		er.Get("/live", h.handleLive)
	})
}

type healthResponse struct {
	Status         string `json:"status"`
	EvaluatorReady bool   `json:"evaluatorReady"`
	ActiveSessions int    `json:"activeSessions"`
	Twisters       int    `json:"twisters"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{Status: "ok", EvaluatorReady: h.evaluator != nil}
	if !resp.EvaluatorReady {
		resp.Status = "degraded"
	}
	if h.sessions != nil {
		resp.ActiveSessions = h.sessions.ActiveSessions()
	}
	if h.twisters != nil {
		resp.Twisters = len(h.twisters.List())
	}
	utils.RespondJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	if h.evaluator == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "evaluation service unavailable")
		return
	}

	req, status, err := h.parseRequest(r)
	if err != nil {
		utils.RespondError(w, status, err.Error())
		return
	}

	report, err := h.evaluator.Evaluate(r.Context(), req)
	if err != nil {
		h.respondEvalError(w, report, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, report)
}

// handleEvaluateStream 以 SSE 推送每个结果帧，最后推送完整结果
func (h *Handler) handleEvaluateStream(w http.ResponseWriter, r *http.Request) {
	if h.evaluator == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "evaluation service unavailable")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	req, status, err := h.parseRequest(r)
	if err != nil {
		utils.RespondError(w, status, err.Error())
		return
	}

	utils.SetupSSEHeaders(w)
	utils.SendSSEEvent(w, flusher, "start", map[string]any{
		"text":      req.Text,
		"twisterId": req.TwisterID,
	})

	req.OnFrame = func(ev speech.FrameEvent) {
		utils.SendSSEEvent(w, flusher, "frame", ev)
	}

	report, err := h.evaluator.Evaluate(r.Context(), req)
	if err != nil {
		kind := evaluation.KindOf(err)
		body := utils.ErrorBody{Error: publicMessage(err), Kind: kind.String()}
		if report != nil && kind == evaluation.KindAudioInvalid {
			body.Details = report.Verdict
		}
		utils.SendSSEEvent(w, flusher, "error", body)
		return
	}
	utils.SendSSEEvent(w, flusher, "result", report)
}

// parseRequest 解析 multipart 表单：audio 为 WAV 文件，text 与 twisterId 二选一
func (h *Handler) parseRequest(r *http.Request) (evalsvc.Request, int, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return evalsvc.Request{}, http.StatusBadRequest, errors.New("failed to parse multipart form")
	}
	defer r.MultipartForm.RemoveAll()

	req := evalsvc.Request{
		Text:      strings.TrimSpace(r.FormValue("text")),
		TwisterID: strings.TrimSpace(r.FormValue("twisterId")),
		SkipCache: r.FormValue("noCache") == "true",
	}

	if req.TwisterID != "" {
		if h.twisters == nil {
			return req, http.StatusNotFound, library.ErrNotFound
		}
		tw, ok := h.twisters.Lookup(req.TwisterID)
		if !ok {
			return req, http.StatusNotFound, library.ErrNotFound
		}
		if req.Text == "" {
			req.Text = tw.Text
		}
	}
	if req.Text == "" {
		return req, http.StatusBadRequest, errTextRequired
	}

	file, _, err := r.FormFile("audio")
	if err != nil {
		return req, http.StatusBadRequest, errors.New("audio file is required")
	}
	defer file.Close()

	buf, err := audio.DecodeWAV(file)
	if err != nil {
		h.logger.Info("reject audio upload", zap.Error(err))
		return req, http.StatusUnsupportedMediaType, errors.New("audio must be a 16-bit PCM WAV file")
	}
	req.Audio = buf
	return req, 0, nil
}

func (h *Handler) respondEvalError(w http.ResponseWriter, report *evalsvc.Report, err error) {
	if errors.Is(err, evaluation.ErrNoReferenceText) {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	kind := evaluation.KindOf(err)
	status := StatusFor(kind)
	if status >= http.StatusInternalServerError {
		h.logger.Error("evaluation failed", zap.Stringer("kind", kind), zap.Error(err))
	}

	var details any
	if report != nil && kind == evaluation.KindAudioInvalid {
		details = report.Verdict
	}
	utils.RespondErrorKind(w, status, kind.String(), publicMessage(err), details)
}

// StatusFor 错误分类对应的 HTTP 状态码
func StatusFor(kind evaluation.Kind) int {
	switch kind {
	case evaluation.KindAudioInvalid:
		return http.StatusUnprocessableEntity
	case evaluation.KindAuth, evaluation.KindConnect, evaluation.KindSend:
		return http.StatusBadGateway
	case evaluation.KindTimeout:
		return http.StatusGatewayTimeout
	case evaluation.KindCanceled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func publicMessage(err error) string {
	switch evaluation.KindOf(err) {
	case evaluation.KindAudioInvalid:
		return "音频质量不合格"
	case evaluation.KindAuth:
		return "评测服务鉴权失败"
	case evaluation.KindConnect, evaluation.KindSend:
		return "无法连接评测服务"
	case evaluation.KindTimeout:
		return "评测服务响应超时"
	case evaluation.KindCanceled:
		return "评测已取消"
	default:
		return "评测失败"
	}
}
