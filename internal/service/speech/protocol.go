package speech

import (
	"encoding/base64"
	"encoding/json"
)

// data.status 取值
const (
	StatusFirstFrame    = 0
	StatusContinueFrame = 1
	StatusLastFrame     = 2
)

// business.aus 取值
const (
	ausFirst  = 1
	ausMiddle = 2
	ausLast   = 4
)

const (
	cmdSessionBegin = "ssb"
	cmdAudioWrite   = "auw"

	audioEncoding = "raw"
	audioFormat   = "audio/L16;rate=16000"
	textEncoding  = "utf-8"
	serviceSub    = "ise"

	// 讯飞要求评测文本以 BOM 开头
	textBOM = "\uFEFF"

	DefaultChunkSize = 1280
)

// ConfigMessage 会话参数（首帧）
type ConfigMessage struct {
	Common   CommonParams   `json:"common"`
	Business ConfigBusiness `json:"business"`
	Data     StatusData     `json:"data"`
}

type CommonParams struct {
	AppID string `json:"app_id"`
}

type ConfigBusiness struct {
	Sub      string `json:"sub"`
	Ent      string `json:"ent"`
	Category string `json:"category"`
	Cmd      string `json:"cmd"`
	Text     string `json:"text"`
	Tte      string `json:"tte"`
	TtpSkip  bool   `json:"ttp_skip"`
	Aue      string `json:"aue"`
	Auf      string `json:"auf"`
	Aus      int    `json:"aus"`
}

type StatusData struct {
	Status int `json:"status"`
}

// AudioMessage 音频帧
type AudioMessage struct {
	Business AudioBusiness `json:"business"`
	Data     AudioData     `json:"data"`
}

type AudioBusiness struct {
	Aue string `json:"aue"`
	Cmd string `json:"cmd"`
	Aus int    `json:"aus"`
}

type AudioData struct {
	Status   int    `json:"status"`
	Data     string `json:"data"`
	DataType int    `json:"data_type"`
}

// ResultMessage 服务端下行帧
type ResultMessage struct {
	Code    int           `json:"code"`
	Message string        `json:"message,omitempty"`
	SID     string        `json:"sid,omitempty"`
	Data    *ResultStatus `json:"data,omitempty"`
}

type ResultStatus struct {
	Status int     `json:"status"`
	Data   *string `json:"data"`
}

// Final 是否为最后一帧
func (m ResultMessage) Final() bool {
	return m.Data != nil && m.Data.Status == StatusLastFrame
}

// Payload 返回 base64 编码的结果数据，无数据时返回 false
func (m ResultMessage) Payload() (string, bool) {
	if m.Data == nil || m.Data.Data == nil || *m.Data.Data == "" {
		return "", false
	}
	return *m.Data.Data, true
}

func newConfigMessage(appID, engine, category, text string) ConfigMessage {
	return ConfigMessage{
		Common: CommonParams{AppID: appID},
		Business: ConfigBusiness{
			Sub:      serviceSub,
			Ent:      engine,
			Category: category,
			Cmd:      cmdSessionBegin,
			Text:     textBOM + text,
			Tte:      textEncoding,
			TtpSkip:  true,
			Aue:      audioEncoding,
			Auf:      audioFormat,
			Aus:      ausFirst,
		},
		Data: StatusData{Status: StatusFirstFrame},
	}
}

func newAudioMessage(chunk []byte, last bool) AudioMessage {
	msg := AudioMessage{
		Business: AudioBusiness{Aue: audioEncoding, Cmd: cmdAudioWrite, Aus: ausMiddle},
		Data: AudioData{
			Status:   StatusContinueFrame,
			Data:     base64.StdEncoding.EncodeToString(chunk),
			DataType: 1,
		},
	}
	if last {
		msg.Business.Aus = ausLast
		msg.Data.Status = StatusLastFrame
	}
	return msg
}

// chunkAudio 按固定大小切分，最后一块可能更短；空输入返回一个空块以便发送结束帧
func chunkAudio(data []byte, size int) [][]byte {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if len(data) == 0 {
		return [][]byte{{}}
	}
	chunks := make([][]byte, 0, (len(data)+size-1)/size)
	for start := 0; start < len(data); start += size {
		end := min(start+size, len(data))
		chunks = append(chunks, data[start:end])
	}
	return chunks
}

func parseResultMessage(raw []byte) (ResultMessage, error) {
	var msg ResultMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return ResultMessage{}, err
	}
	return msg, nil
}
