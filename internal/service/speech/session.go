package speech

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhouzirui/tongue-twister/backend/internal/model/evaluation"
)

// State 会话生命周期
type State int

const (
	StateDisconnected State = iota
	StateConnected
	StateConfigSent
	StateStreaming
	StateAwaitingFinal
	StateClosed
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateConfigSent:
		return "config_sent"
	case StateStreaming:
		return "streaming"
	case StateAwaitingFinal:
		return "awaiting_final"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// 端点返回的鉴权/授权类错误码
var authErrorCodes = map[int]bool{
	10105: true,
	10110: true,
	10313: true,
	11200: true,
	11201: true,
}

// FrameEvent 收到带结果数据的帧时的通知
type FrameEvent struct {
	SessionID string       `json:"sessionId"`
	Index     int          `json:"index"`
	Status    int          `json:"status"`
	Final     bool         `json:"final"`
	Kind      FragmentKind `json:"kind"`
	Scores    Scores       `json:"scores"`
}

// FrameHandler 帧回调
type FrameHandler func(FrameEvent)

type inbound struct {
	data []byte
	err  error
}

// Session 与评测端点的一次性会话：一次会话只发送一段音频
type Session struct {
	id      string
	cfg     evaluation.ISEConfig
	creds   credentials
	dialer  *websocket.Dialer
	logger  *zap.Logger
	now     func() time.Time
	onClose func(id string)

	mu    sync.Mutex
	state State
	conn  *websocket.Conn

	done      chan struct{}
	closeOnce sync.Once
}

func newSession(id string, cfg evaluation.ISEConfig, creds credentials, dialer *websocket.Dialer, log *zap.Logger) *Session {
	return &Session{
		id:     id,
		cfg:    cfg,
		creds:  creds,
		dialer: dialer,
		logger: log.With(zap.String("session_id", id)),
		now:    time.Now,
		done:   make(chan struct{}),
	}
}

// ID 会话标识
func (s *Session) ID() string {
	return s.id
}

// State 当前状态
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect 生成签名地址并建立 websocket 连接，失败时不重试
func (s *Session) Connect(ctx context.Context) error {
	if err := s.expect(opConnect, StateDisconnected); err != nil {
		return err
	}

	endpoint := redactedEndpoint(s.cfg.Scheme, s.cfg.Host, s.cfg.Path)
	target := signedURL(s.cfg.Scheme, s.cfg.Host, s.cfg.Path, s.creds, s.now())

	conn, resp, err := s.dialer.DialContext(ctx, target, nil)
	if err != nil {
		s.markErrored()
		kind := evaluation.KindConnect
		var status int
		if resp != nil {
			status = resp.StatusCode
			if status == http.StatusUnauthorized || status == http.StatusForbidden {
				kind = evaluation.KindAuth
			}
		}
		s.logger.Error("ise connect failed", zap.String("endpoint", endpoint), zap.Int("http_status", status), zap.Error(stripURL(err)))
		return &evaluation.Error{Kind: kind, Op: opConnect + " " + endpoint, Code: status, Err: stripURL(err)}
	}

	s.mu.Lock()
	if s.isClosed() {
		s.mu.Unlock()
		conn.Close()
		return s.canceled(opConnect)
	}
	s.conn = conn
	s.state = StateConnected
	s.mu.Unlock()

	s.logger.Debug("ise connected", zap.String("endpoint", endpoint))
	return nil
}

// SendConfig 发送会话参数与评测文本
func (s *Session) SendConfig(text string) error {
	if err := s.expect("send config", StateConnected); err != nil {
		return err
	}

	msg := newConfigMessage(s.creds.appID, s.cfg.Engine, s.cfg.Category, text)
	if err := s.write("send config", msg); err != nil {
		return err
	}

	s.setState(StateConfigSent)
	return nil
}

// StreamAudio 按 chunkSize 切分音频并按固定间隔发送，最后一块标记为结束帧
func (s *Session) StreamAudio(ctx context.Context, data []byte, chunkSize int) error {
	if err := s.expect("stream audio", StateConfigSent, StateStreaming); err != nil {
		return err
	}

	chunks := chunkAudio(data, chunkSize)
	for i, chunk := range chunks {
		last := i == len(chunks)-1
		if err := s.write("stream audio", newAudioMessage(chunk, last)); err != nil {
			return err
		}

		if last {
			s.setState(StateAwaitingFinal)
			break
		}
		if i == 0 {
			s.setState(StateStreaming)
		}

		select {
		case <-ctx.Done():
			s.markErrored()
			return s.contextError("stream audio", ctx.Err())
		case <-s.done:
			return s.canceled("stream audio")
		case <-time.After(s.cfg.Pacing):
		}
	}

	s.logger.Debug("audio streamed", zap.Int("bytes", len(data)), zap.Int("chunks", len(chunks)))
	return nil
}

// ReceiveResults 读取结果帧直到收到最终帧、连接正常关闭或超时。
// 超时从进入本方法开始计算，不随收到的帧续期。
func (s *Session) ReceiveResults(ctx context.Context, onFrame FrameHandler) (*Outcome, error) {
	if err := s.expect("receive results", StateAwaitingFinal); err != nil {
		return nil, err
	}

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	timer := time.NewTimer(s.cfg.ReceiveTimeout)
	defer timer.Stop()

	msgs := make(chan inbound, 8)
	go s.readLoop(conn, msgs)

	outcome := &Outcome{SessionID: s.id}
	for {
		select {
		case <-ctx.Done():
			s.markErrored()
			s.Close()
			return nil, s.contextError("receive results", ctx.Err())
		case <-s.done:
			return nil, s.canceled("receive results")
		case <-timer.C:
			s.markErrored()
			s.Close()
			s.logger.Warn("ise receive timeout", zap.Duration("timeout", s.cfg.ReceiveTimeout), zap.Int("frames", outcome.Frames))
			return nil, evaluation.NewError(evaluation.KindTimeout, "receive results",
				fmt.Errorf("no final frame within %s", s.cfg.ReceiveTimeout))
		case in := <-msgs:
			if in.err != nil {
				if s.isClosed() {
					return nil, s.canceled("receive results")
				}
				if websocket.IsCloseError(in.err, websocket.CloseNormalClosure) {
					s.logger.Debug("ise closed connection before final frame", zap.Int("frames", outcome.Frames))
					return s.finish(outcome), nil
				}
				s.markErrored()
				s.Close()
				return nil, evaluation.NewError(evaluation.KindConnect, "receive results", in.err)
			}

			final, err := s.handleFrame(outcome, in.data, onFrame)
			if err != nil {
				s.markErrored()
				s.Close()
				return nil, err
			}
			if final {
				return s.finish(outcome), nil
			}
		}
	}
}

// handleFrame 处理一帧；非零状态码为终止错误，解码失败只记录日志
func (s *Session) handleFrame(outcome *Outcome, data []byte, onFrame FrameHandler) (bool, error) {
	index := outcome.Frames
	outcome.Frames++
	outcome.Raw = append(outcome.Raw, json.RawMessage(append([]byte(nil), data...)))

	msg, err := parseResultMessage(data)
	if err != nil {
		s.logger.Warn("ise frame decode failed", zap.Int("frame", index), zap.Error(err))
		return false, nil
	}

	if msg.Code != 0 {
		kind := evaluation.KindConnect
		if authErrorCodes[msg.Code] {
			kind = evaluation.KindAuth
		}
		s.logger.Error("ise returned error", zap.Int("code", msg.Code), zap.String("message", msg.Message), zap.String("sid", msg.SID))
		return false, &evaluation.Error{Kind: kind, Op: "receive results", Code: msg.Code, Err: errors.New(msg.Message)}
	}

	payload, ok := msg.Payload()
	if !ok {
		s.logger.Debug("ise status frame without payload", zap.Int("frame", index))
		return msg.Final(), nil
	}

	frag, err := DecodePayload(payload)
	if err != nil {
		s.logger.Warn("ise payload decode failed", zap.Int("frame", index), zap.Error(err))
		return msg.Final(), nil
	}
	outcome.Fragments = append(outcome.Fragments, frag)

	s.logger.Debug("ise result frame",
		zap.Int("frame", index),
		zap.Stringer("kind", frag.Kind),
		zap.String("encoding", frag.Encoding),
		zap.Float64("total", frag.Scores.Total),
	)

	if onFrame != nil {
		onFrame(FrameEvent{
			SessionID: s.id,
			Index:     index,
			Status:    msg.Data.Status,
			Final:     msg.Final(),
			Kind:      frag.Kind,
			Scores:    frag.Scores,
		})
	}
	return msg.Final(), nil
}

func (s *Session) finish(outcome *Outcome) *Outcome {
	outcome.Result = mergeFragments(outcome.Fragments)
	s.Close()
	return outcome
}

func (s *Session) readLoop(conn *websocket.Conn, out chan<- inbound) {
	for {
		_, data, err := conn.ReadMessage()
		select {
		case out <- inbound{data: data, err: err}:
		case <-s.done:
			return
		}
		if err != nil {
			return
		}
	}
}

// Close 释放连接，可重复调用，可在其他 goroutine 阻塞于 StreamAudio/ReceiveResults 时调用
func (s *Session) Close() error {
	var closeErr error
	s.closeOnce.Do(func() {
		close(s.done)

		s.mu.Lock()
		conn := s.conn
		if s.state != StateErrored {
			s.state = StateClosed
		}
		s.mu.Unlock()

		if conn != nil {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			closeErr = conn.Close()
		}
		if s.onClose != nil {
			s.onClose(s.id)
		}
	})
	return closeErr
}

func (s *Session) write(op string, v any) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if err := conn.WriteJSON(v); err != nil {
		if s.isClosed() {
			return s.canceled(op)
		}
		s.markErrored()
		return evaluation.NewError(evaluation.KindSend, op, err)
	}
	return nil
}

func (s *Session) expect(op string, allowed ...State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range allowed {
		if s.state == st {
			return nil
		}
	}
	if s.state == StateClosed {
		return evaluation.NewError(evaluation.KindState, op, evaluation.ErrSessionClosed)
	}
	return evaluation.NewError(evaluation.KindState, op, fmt.Errorf("%w: %s", evaluation.ErrInvalidState, s.state))
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed || s.state == StateErrored {
		return
	}
	s.state = state
}

func (s *Session) markErrored() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateClosed {
		s.state = StateErrored
	}
}

func (s *Session) isClosed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *Session) canceled(op string) error {
	return evaluation.NewError(evaluation.KindCanceled, op, evaluation.ErrSessionClosed)
}

func (s *Session) contextError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return evaluation.NewError(evaluation.KindTimeout, op, err)
	}
	return evaluation.NewError(evaluation.KindCanceled, op, err)
}

// stripURL 去掉错误中携带的完整 URL（其中包含签名）
func stripURL(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("%s: %w", urlErr.Op, urlErr.Err)
	}
	return err
}
