package evaluation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/tongue-twister/backend/internal/model/evaluation"
	"github.com/zhouzirui/tongue-twister/backend/internal/service/audio"
	"github.com/zhouzirui/tongue-twister/backend/internal/service/scoring"
	"github.com/zhouzirui/tongue-twister/backend/internal/service/speech"
	"github.com/zhouzirui/tongue-twister/backend/pkg/logger"
)

// Evaluator 执行一次端点会话
type Evaluator interface {
	Evaluate(ctx context.Context, text string, pcm []byte, onFrame speech.FrameHandler) (*speech.Outcome, error)
}

// Cache 评测结果缓存，键的生成由缓存自身负责
type Cache interface {
	Key(text string, audio []byte) string
	Get(key string) (evaluation.EvaluationResult, bool)
	Put(key string, result evaluation.EvaluationResult) error
}

// Recorder 练习历史
type Recorder interface {
	Record(result evaluation.EvaluationResult) (string, error)
}

// Coach 补充个性化建议
type Coach interface {
	Tips(ctx context.Context, result evaluation.EvaluationResult) []string
}

// Dependencies 流水线依赖，Evaluator 之外均可为空
type Dependencies struct {
	Evaluator Evaluator
	Cache     Cache
	Recorder  Recorder
	Coach     Coach
}

// Options 流水线参数
type Options struct {
	Thresholds     audio.Thresholds
	Preprocess     bool
	ConnectRetries int
	RetryDelay     time.Duration
}

// DefaultOptions 默认开启预处理，连接失败重试 1 次
func DefaultOptions() Options {
	return Options{
		Thresholds:     audio.DefaultThresholds(),
		Preprocess:     true,
		ConnectRetries: 1,
		RetryDelay:     500 * time.Millisecond,
	}
}

// Request 单次评测请求
type Request struct {
	Text      string
	TwisterID string
	Audio     evaluation.AudioBuffer
	OnFrame   speech.FrameHandler
	SkipCache bool
}

// Report 评测结果以及音频质量检查
type Report struct {
	Result    evaluation.EvaluationResult `json:"result"`
	Verdict   evaluation.QualityVerdict   `json:"verdict"`
	Cached    bool                        `json:"cached"`
	HistoryID string                      `json:"historyId,omitempty"`
}

// Service 评测流水线：质量检查、格式转换、预处理、端点会话、聚合评分
type Service struct {
	conditioner *audio.Conditioner
	aggregator  *scoring.Aggregator
	deps        Dependencies
	opts        Options
	logger      *zap.Logger
}

// NewService 创建评测流水线
func NewService(deps Dependencies, opts Options, log *zap.Logger) (*Service, error) {
	if deps.Evaluator == nil {
		return nil, errors.New("evaluator is required")
	}
	if opts.ConnectRetries < 0 {
		opts.ConnectRetries = 0
	}

	l := logger.OrNop(log)
	return &Service{
		conditioner: audio.NewConditioner(opts.Thresholds, l.Named("audio")),
		aggregator:  scoring.NewAggregator(l),
		deps:        deps,
		opts:        opts,
		logger:      l.Named("evaluation"),
	}, nil
}

// Evaluate 执行完整评测。音频不合格时返回 KindAudioInvalid 错误，同时 Report 中带有质量检查结果。
func (s *Service) Evaluate(ctx context.Context, req Request) (report *Report, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("evaluation pipeline panic", zap.Any("panic", r))
			report = nil
			err = evaluation.NewError(evaluation.KindPipeline, "evaluate", fmt.Errorf("panic: %v", r))
		}
	}()

	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, evaluation.ErrNoReferenceText
	}

	verdict := s.conditioner.Validate(req.Audio)
	if !verdict.Valid {
		s.logger.Info("audio rejected", zap.Strings("issues", verdict.Issues))
		return &Report{Verdict: verdict}, evaluation.NewError(evaluation.KindAudioInvalid, "validate",
			errors.New(strings.Join(verdict.Issues, "; ")))
	}

	var key string
	if s.deps.Cache != nil && !req.SkipCache {
		key = s.deps.Cache.Key(text, req.Audio.Data)
		if cached, ok := s.deps.Cache.Get(key); ok {
			s.logger.Info("evaluation cache hit", zap.String("key", key))
			return &Report{Result: cached, Verdict: verdict, Cached: true}, nil
		}
	}

	buf, err := s.conditioner.Normalize(req.Audio)
	if err != nil {
		return &Report{Verdict: verdict}, evaluation.NewError(evaluation.KindPipeline, "normalize", err)
	}
	if s.opts.Preprocess {
		buf = s.conditioner.Preprocess(buf)
	}

	outcome, err := s.evaluate(ctx, text, buf.Data, req.OnFrame)
	if err != nil {
		return &Report{Verdict: verdict}, err
	}

	result := s.aggregator.Aggregate(outcome.Result.SentenceScore(text), text, buf.Duration())
	// 只有 Partial 片段时分数全为 0，同样视为无结果
	result.NoResult = outcome.Result.Kind != speech.FragmentComplete
	result.SessionID = outcome.SessionID
	result.TwisterID = req.TwisterID
	result.Raw = outcome.Raw

	if result.NoResult {
		s.logger.Warn("no evaluation result decoded",
			zap.String("session_id", outcome.SessionID),
			zap.Int("frames", outcome.Frames),
		)
		return &Report{Result: result, Verdict: verdict}, nil
	}

	if s.deps.Coach != nil {
		result.Tips = scoring.AppendTips(result.Tips, s.deps.Coach.Tips(ctx, result)...)
	}

	report = &Report{Result: result, Verdict: verdict}
	if key != "" {
		if err := s.deps.Cache.Put(key, result); err != nil {
			s.logger.Warn("cache result failed", zap.Error(err))
		}
	}
	if s.deps.Recorder != nil {
		id, err := s.deps.Recorder.Record(result)
		if err != nil {
			s.logger.Warn("record history failed", zap.Error(err))
		}
		report.HistoryID = id
	}

	s.logger.Info("evaluation completed",
		zap.String("session_id", result.SessionID),
		zap.Float64("overall", result.Overall),
		zap.String("grade", string(result.Grade)),
		zap.Bool("low_confidence", result.LowConfidence),
	)
	return report, nil
}

// evaluate 连接类错误按配置重试，其余错误直接返回
func (s *Service) evaluate(ctx context.Context, text string, pcm []byte, onFrame speech.FrameHandler) (*speech.Outcome, error) {
	for attempt := 0; ; attempt++ {
		outcome, err := s.deps.Evaluator.Evaluate(ctx, text, pcm, onFrame)
		if err == nil {
			return outcome, nil
		}
		if attempt >= s.opts.ConnectRetries || !speech.IsRetryableError(err) {
			s.logger.Error("ise evaluation failed",
				zap.Int("attempt", attempt+1),
				zap.Stringer("kind", evaluation.KindOf(err)),
				zap.Error(err),
			)
			return nil, err
		}

		s.logger.Warn("ise connection failed, retrying", zap.Int("attempt", attempt+1), zap.Error(err))
		select {
		case <-ctx.Done():
			return nil, evaluation.NewError(evaluation.KindCanceled, "evaluate", ctx.Err())
		case <-time.After(s.opts.RetryDelay):
		}
	}
}
