package speech

import (
	"fmt"
	"strings"

	"github.com/zhouzirui/tongue-twister/backend/internal/model/evaluation"
)

type credentials struct {
	appID     string
	apiKey    string
	apiSecret string
}

// resolveCredentials 返回规范化后的 AppID / APIKey / APISecret，缺失时给出明确错误（不包含密钥内容）。
func resolveCredentials(cfg *evaluation.ISEConfig) (credentials, error) {
	if cfg == nil {
		return credentials{}, fmt.Errorf("讯飞评测配置未初始化: %w", evaluation.ErrCredentialsMissing)
	}

	creds := credentials{
		appID:     strings.TrimSpace(cfg.AppID),
		apiKey:    strings.TrimSpace(cfg.APIKey),
		apiSecret: strings.TrimSpace(cfg.APISecret),
	}

	var missing []string
	if creds.appID == "" {
		missing = append(missing, "AppID")
	}
	if creds.apiKey == "" {
		missing = append(missing, "APIKey")
	}
	if creds.apiSecret == "" {
		missing = append(missing, "APISecret")
	}
	if len(missing) > 0 {
		return credentials{}, fmt.Errorf("讯飞评测配置缺少 %s: %w", strings.Join(missing, "/"), evaluation.ErrCredentialsMissing)
	}

	return creds, nil
}
