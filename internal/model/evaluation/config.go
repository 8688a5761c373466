package evaluation

import "time"

// ISEConfig 语音评测服务配置
type ISEConfig struct {
	// 讯飞开放平台凭证
	AppID     string `json:"appId"`
	APIKey    string `json:"-"`
	APISecret string `json:"-"`

	// 端点
	Scheme string `json:"scheme"` // wss，测试时可为 ws
	Host   string `json:"host"`
	Path   string `json:"path"`

	// 业务参数
	Engine   string `json:"engine"`   // ent
	Category string `json:"category"` // read_sentence

	// 传输参数
	ChunkSize        int           `json:"chunkSize"`
	Pacing           time.Duration `json:"pacing"`
	ReceiveTimeout   time.Duration `json:"receiveTimeout"`
	HandshakeTimeout time.Duration `json:"handshakeTimeout"`
}

// DefaultISEConfig 返回讯飞 ISE 默认端点参数（不含凭证）
func DefaultISEConfig() ISEConfig {
	return ISEConfig{
		Scheme:           "wss",
		Host:             "ise-api.xfyun.cn",
		Path:             "/v2/open-ise",
		Engine:           "cn_vip",
		Category:         "read_sentence",
		ChunkSize:        1280,
		Pacing:           40 * time.Millisecond,
		ReceiveTimeout:   30 * time.Second,
		HandshakeTimeout: 30 * time.Second,
	}
}
