package evaluation

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhouzirui/tongue-twister/backend/internal/library"
	"github.com/zhouzirui/tongue-twister/backend/internal/model/evaluation"
	evalsvc "github.com/zhouzirui/tongue-twister/backend/internal/service/evaluation"
	"github.com/zhouzirui/tongue-twister/backend/internal/service/speech"
	"github.com/zhouzirui/tongue-twister/backend/pkg/utils"
)

const (
	wsReadTimeout  = 60 * time.Second
	wsPingInterval = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

type inboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ConfigMessage 一次录音的参考文本与音频格式
type ConfigMessage struct {
	Text       string `json:"text"`
	TwisterID  string `json:"twisterId"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
	NoCache    bool   `json:"noCache"`
}

// AudioMessage 16 位 PCM 音频分片，AudioData 以 base64 编码
type AudioMessage struct {
	AudioData  []byte `json:"audioData"`
	IsFinal    bool   `json:"isFinal"`
	ChunkIndex int    `json:"chunkIndex"`
}

type outgoingMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	Data      any    `json:"data,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// liveState 单个连接上的录音状态，提交评测后重置以便下一次录音
type liveState struct {
	id     string
	config ConfigMessage
	ready  bool
	pcm    []byte
	// busy 评测协程运行期间为 true，同一连接同时只允许一次评测
	busy atomic.Bool
	wg   sync.WaitGroup
}

func (s *liveState) reset() {
	s.pcm = s.pcm[:0]
}

// wsWriter 串行化写操作
type wsWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
	log  *zap.Logger
}

func (w *wsWriter) send(kind, sessionID string, data any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	msg := outgoingMessage{Type: kind, SessionID: sessionID, Data: data, Timestamp: time.Now().Unix()}
	if err := w.conn.WriteJSON(msg); err != nil {
		w.log.Debug("websocket write failed", zap.String("type", kind), zap.Error(err))
	}
}

func (w *wsWriter) sendError(sessionID, kind, message string, details any) {
	w.send("error", sessionID, utils.ErrorBody{Error: message, Kind: kind, Details: details})
}

// handleLive 浏览器实时录音评测：先发送 config，再以二进制帧或 audio 消息发送 PCM，
// 以 isFinal 或 end 消息结束一次录音
func (h *Handler) handleLive(w http.ResponseWriter, r *http.Request) {
	if h.evaluator == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "evaluation service unavailable")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	state := &liveState{id: uuid.NewString()}
	// 读循环退出时先取消进行中的评测，等待其结束后再关闭连接
	defer state.wg.Wait()
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	out := &wsWriter{conn: conn, log: h.logger}
	log := h.logger.With(zap.String("connection", state.id))
	log.Info("live evaluation connected")

	conn.SetReadLimit(maxUploadBytes)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})
	go pingLoop(ctx, conn)

	out.send("connected", state.id, nil)

	for {
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Info("live evaluation read error", zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))

		if msgType == websocket.BinaryMessage {
			h.appendAudio(out, state, payload)
			continue
		}

		var msg inboundMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			out.sendError(state.id, "bad_request", "invalid message", nil)
			continue
		}
		h.handleLiveMessage(ctx, out, state, msg, log)
	}
}

func (h *Handler) handleLiveMessage(ctx context.Context, out *wsWriter, state *liveState, msg inboundMessage, log *zap.Logger) {
	switch msg.Type {
	case "config":
		var cfg ConfigMessage
		if err := json.Unmarshal(msg.Data, &cfg); err != nil {
			out.sendError(state.id, "bad_request", "invalid config payload", nil)
			return
		}
		if err := h.applyConfig(state, cfg); err != nil {
			out.sendError(state.id, "bad_request", err.Error(), nil)
			return
		}
		out.send("ready", state.id, state.config)
	case "audio":
		var audio AudioMessage
		if err := json.Unmarshal(msg.Data, &audio); err != nil {
			out.sendError(state.id, "bad_request", "invalid audio payload", nil)
			return
		}
		h.appendAudio(out, state, audio.AudioData)
		if audio.IsFinal {
			h.evaluateLive(ctx, out, state, log)
		}
	case "end":
		h.evaluateLive(ctx, out, state, log)
	case "reset":
		state.reset()
		out.send("ready", state.id, state.config)
	default:
		out.sendError(state.id, "bad_request", "unsupported message type: "+msg.Type, nil)
	}
}

// applyConfig 校验参考文本并记录音频格式，未指定时按 16kHz 单声道处理
func (h *Handler) applyConfig(state *liveState, cfg ConfigMessage) error {
	cfg.Text = strings.TrimSpace(cfg.Text)
	cfg.TwisterID = strings.TrimSpace(cfg.TwisterID)
	if cfg.TwisterID != "" {
		if h.twisters == nil {
			return library.ErrNotFound
		}
		tw, ok := h.twisters.Lookup(cfg.TwisterID)
		if !ok {
			return library.ErrNotFound
		}
		if cfg.Text == "" {
			cfg.Text = tw.Text
		}
	}
	if cfg.Text == "" {
		return errTextRequired
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = evaluation.TargetSampleRate
	}
	if cfg.Channels <= 0 {
		cfg.Channels = evaluation.TargetChannels
	}

	state.config = cfg
	state.ready = true
	state.reset()
	return nil
}

func (h *Handler) appendAudio(out *wsWriter, state *liveState, chunk []byte) {
	if !state.ready {
		out.sendError(state.id, "bad_request", "config must be sent before audio", nil)
		return
	}
	if len(state.pcm)+len(chunk) > maxUploadBytes {
		out.sendError(state.id, evaluation.KindAudioInvalid.String(), "录音过长", nil)
		state.reset()
		return
	}
	state.pcm = append(state.pcm, chunk...)
}

// evaluateLive 取走当前录音并在独立协程中评测，读循环继续运行以便及时发现断开
func (h *Handler) evaluateLive(ctx context.Context, out *wsWriter, state *liveState, log *zap.Logger) {
	if !state.ready {
		out.sendError(state.id, "bad_request", "config must be sent before audio", nil)
		return
	}
	if !state.busy.CompareAndSwap(false, true) {
		out.sendError(state.id, "busy", "evaluation already in progress", nil)
		return
	}

	req := evalsvc.Request{
		Text:      state.config.Text,
		TwisterID: state.config.TwisterID,
		Audio:     evaluation.NewPCM16(append([]byte(nil), state.pcm...), state.config.SampleRate, state.config.Channels),
		SkipCache: state.config.NoCache,
		OnFrame: func(ev speech.FrameEvent) {
			out.send("frame", ev.SessionID, ev)
		},
	}
	state.reset()

	state.wg.Add(1)
	go func() {
		defer state.wg.Done()
		h.runLive(ctx, out, state, req, log)
	}()
}

func (h *Handler) runLive(ctx context.Context, out *wsWriter, state *liveState, req evalsvc.Request, log *zap.Logger) {
	report, err := h.evaluator.Evaluate(ctx, req)
	state.busy.Store(false)
	if err != nil {
		if ctx.Err() != nil {
			log.Info("live evaluation canceled", zap.Error(ctx.Err()))
			return
		}
		kind := evaluation.KindOf(err)
		if StatusFor(kind) >= http.StatusInternalServerError {
			log.Error("live evaluation failed", zap.Stringer("kind", kind), zap.Error(err))
		}
		var details any
		if report != nil && kind == evaluation.KindAudioInvalid {
			details = report.Verdict
		}
		out.sendError(state.id, kind.String(), publicMessage(err), details)
		return
	}
	out.send("result", report.Result.SessionID, report)
}

// pingLoop 定期发送 ping，WriteControl 可与其他写操作并发
func pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}
