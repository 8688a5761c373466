package speech

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zhouzirui/tongue-twister/backend/internal/model/evaluation"
	"github.com/zhouzirui/tongue-twister/backend/pkg/logger"
)

// Service 语音评测服务：持有端点配置与拨号器，每次评测创建独立会话
type Service struct {
	config   evaluation.ISEConfig
	creds    credentials
	dialer   *websocket.Dialer
	sessions *SessionManager
	logger   *zap.Logger
}

// NewService 创建语音评测服务实例，凭证缺失时返回错误
func NewService(config *evaluation.ISEConfig, log *zap.Logger) (*Service, error) {
	creds, err := resolveCredentials(config)
	if err != nil {
		return nil, err
	}

	cfg := withDefaults(*config)
	return &Service{
		config: cfg,
		creds:  creds,
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		sessions: NewSessionManager(),
		logger:   logger.OrNop(log).Named("ise"),
	}, nil
}

func withDefaults(cfg evaluation.ISEConfig) evaluation.ISEConfig {
	def := evaluation.DefaultISEConfig()
	if strings.TrimSpace(cfg.Scheme) == "" {
		cfg.Scheme = def.Scheme
	}
	if strings.TrimSpace(cfg.Host) == "" {
		cfg.Host = def.Host
	}
	if strings.TrimSpace(cfg.Path) == "" {
		cfg.Path = def.Path
	}
	if cfg.Engine == "" {
		cfg.Engine = def.Engine
	}
	if cfg.Category == "" {
		cfg.Category = def.Category
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = def.ChunkSize
	}
	if cfg.Pacing < 0 {
		cfg.Pacing = def.Pacing
	}
	if cfg.ReceiveTimeout <= 0 {
		cfg.ReceiveTimeout = def.ReceiveTimeout
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	return cfg
}

// NewSession 创建一个尚未连接的会话并登记到会话管理器
func (s *Service) NewSession() *Session {
	session := newSession(uuid.NewString(), s.config, s.creds, s.dialer, s.logger)
	session.onClose = s.sessions.Remove
	s.sessions.Add(session)
	return session
}

// Evaluate 完整执行一次会话：连接、发送参数、推送音频、接收结果，结束后关闭会话
func (s *Service) Evaluate(ctx context.Context, text string, pcm []byte, onFrame FrameHandler) (*Outcome, error) {
	session := s.NewSession()
	defer session.Close()

	if err := session.Connect(ctx); err != nil {
		return nil, err
	}
	if err := session.SendConfig(text); err != nil {
		return nil, err
	}
	if err := session.StreamAudio(ctx, pcm, s.config.ChunkSize); err != nil {
		return nil, err
	}

	outcome, err := session.ReceiveResults(ctx, onFrame)
	if err != nil {
		return nil, err
	}

	s.logger.Info("ise evaluation finished",
		zap.String("session_id", session.ID()),
		zap.Int("frames", outcome.Frames),
		zap.Stringer("result", outcome.Result.Kind),
		zap.Float64("total", outcome.Result.Scores.Total),
	)
	return outcome, nil
}

// ActiveSessions 正在进行的会话数
func (s *Service) ActiveSessions() int {
	return s.sessions.Len()
}

// Cleanup 关闭所有进行中的会话
func (s *Service) Cleanup() {
	s.sessions.CloseAll()
}
