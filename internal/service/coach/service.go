package coach

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"

	"github.com/zhouzirui/tongue-twister/backend/internal/model/evaluation"
	"github.com/zhouzirui/tongue-twister/backend/internal/service/scoring"
	"github.com/zhouzirui/tongue-twister/backend/pkg/logger"
)

// MaxTips 单次评测由大模型补充的建议上限
const MaxTips = 2

// 错误清单最多列出的字数
const maxErrorWords = 8

// Config 控制练习教练的行为。
type Config struct {
	Enabled bool
}

// Service 根据评测结果向大模型请求个性化练习建议，失败时不返回任何建议。
type Service struct {
	enabled bool
	chain   compose.Runnable[map[string]any, *schema.Message]
	logger  *zap.Logger
}

// NewService 创建练习教练。chatModel 为 nil 或未启用时返回一个禁用的实例。
func NewService(ctx context.Context, chatModel model.ChatModel, cfg Config, log *zap.Logger) (*Service, error) {
	svc := &Service{
		enabled: cfg.Enabled && chatModel != nil,
		logger:  logger.OrNop(log).Named("coach"),
	}
	if !svc.enabled {
		return svc, nil
	}

	template := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage(coachSystemPrompt),
		schema.UserMessage(coachUserPrompt),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(template)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile coach chain: %w", err)
	}
	svc.chain = runnable
	return svc, nil
}

// Enabled 返回教练是否可用。
func (s *Service) Enabled() bool {
	return s != nil && s.enabled && s.chain != nil
}

// Tips 返回至多两条补充建议。
func (s *Service) Tips(ctx context.Context, result evaluation.EvaluationResult) []string {
	if !s.Enabled() {
		return nil
	}

	weakest, value := scoring.Weakest(result.Score)
	input := map[string]any{
		"text":     result.Score.Text,
		"overall":  fmt.Sprintf("%.1f", result.Overall),
		"weakest":  fmt.Sprintf("%s %.1f", weakest.Label(), value),
		"errors":   formatErrors(result.Score.Words),
		"existing": strings.Join(result.Tips, "；"),
	}

	msg, err := s.chain.Invoke(ctx, input)
	if err != nil {
		s.logger.Warn("coach invoke failed", zap.Error(err))
		return nil
	}
	if msg == nil || strings.TrimSpace(msg.Content) == "" {
		return nil
	}

	tips, err := parseTips(msg.Content)
	if err != nil {
		s.logger.Warn("coach output parse failed", zap.Error(err))
		return nil
	}
	return tips
}

type coachPayload struct {
	Tips []string `json:"tips"`
}

// parseTips 解析模型返回的 JSON，过滤空白项并截断到上限
func parseTips(content string) ([]string, error) {
	trimmed := strings.TrimSpace(content)
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("missing json object")
	}

	var payload coachPayload
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), &payload); err != nil {
		return nil, err
	}

	tips := make([]string, 0, MaxTips)
	for _, tip := range payload.Tips {
		tip = strings.TrimSpace(tip)
		if tip == "" {
			continue
		}
		tips = append(tips, tip)
		if len(tips) == MaxTips {
			break
		}
	}
	return tips, nil
}

func formatErrors(words []evaluation.WordResult) string {
	var lines []string
	for _, w := range words {
		if len(w.Errors) == 0 {
			continue
		}
		parts := make([]string, 0, len(w.Errors))
		for _, e := range w.Errors {
			kind := "声母"
			if e.IsVowel {
				kind = "韵母"
			}
			parts = append(parts, fmt.Sprintf("%s%s(等级%d)", kind, e.Phoneme, e.Severity))
		}
		lines = append(lines, fmt.Sprintf("%s[%s]: %s", w.Content, w.Symbol, strings.Join(parts, ", ")))
		if len(lines) == maxErrorWords {
			break
		}
	}
	if len(lines) == 0 {
		return "无明显音素错误"
	}
	return strings.Join(lines, "\n")
}

const coachSystemPrompt = "你是一名普通话绕口令练习教练。请根据评测结果给出具体、可操作的练习建议，每条不超过 30 个字，不要重复已有建议。\n输出要求：只返回一个 JSON 对象，格式为 {{\"tips\": [\"建议1\", \"建议2\"]}}，最多两条，不得输出多余文本。"

const coachUserPrompt = "绕口令：{text}\n总分：{overall}\n最弱维度：{weakest}\n\n发音错误：\n{errors}\n\n已有建议：{existing}\n\n请给出 JSON。"
