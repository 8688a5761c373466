package speech

import (
	"bytes"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/simplifiedchinese"

	"github.com/zhouzirui/tongue-twister/backend/internal/model/evaluation"
)

// FragmentKind 单帧解码结果的类别
type FragmentKind int

const (
	// FragmentEmpty 没有找到评测结果节点
	FragmentEmpty FragmentKind = iota
	// FragmentPartial 找到结果节点但所有得分为 0 且未被拒识
	FragmentPartial
	// FragmentComplete 可作为最终结果
	FragmentComplete
)

func (k FragmentKind) String() string {
	switch k {
	case FragmentPartial:
		return "partial"
	case FragmentComplete:
		return "complete"
	default:
		return "empty"
	}
}

func (k FragmentKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Scores 端点给出的原始分数
type Scores struct {
	Accuracy  float64 `json:"accuracy"`
	Fluency   float64 `json:"fluency"`
	Integrity float64 `json:"integrity"`
	Phone     float64 `json:"phone"`
	Tone      float64 `json:"tone"`
	Emotion   float64 `json:"emotion"`
	Total     float64 `json:"total"`
}

func (s Scores) allZero() bool {
	return s == Scores{}
}

// Fragment 单帧解码结果；Kind 为 FragmentEmpty 时其余字段均为零值
type Fragment struct {
	Kind       FragmentKind
	Scores     Scores
	Rejected   bool
	ExceptInfo string
	Words      []evaluation.WordResult
	Encoding   string
}

// SentenceScore 转换为句子级得分（速度与时长由聚合阶段填写）
func (f Fragment) SentenceScore(text string) evaluation.SentenceScore {
	return evaluation.SentenceScore{
		Text:          text,
		Pronunciation: f.Scores.Phone,
		Fluency:       f.Scores.Fluency,
		Integrity:     f.Scores.Integrity,
		Tone:          f.Scores.Tone,
		Accuracy:      f.Scores.Accuracy,
		Emotion:       f.Scores.Emotion,
		Total:         f.Scores.Total,
		Words:         f.Words,
		Rejected:      f.Rejected,
		ExceptInfo:    f.ExceptInfo,
	}
}

// textDecoder 一次文本解码尝试
type textDecoder struct {
	name   string
	decode func([]byte) (string, bool)
}

// textDecoders 按顺序尝试，最后一项总是成功
var textDecoders = []textDecoder{
	{name: "utf-8", decode: decodeUTF8},
	{name: "gbk", decode: decodeGBK},
	{name: "utf-8-replace", decode: decodeUTF8Lossy},
}

func decodeUTF8(b []byte) (string, bool) {
	if !utf8.Valid(b) {
		return "", false
	}
	return string(b), true
}

func decodeGBK(b []byte) (string, bool) {
	out, err := simplifiedchinese.GBK.NewDecoder().Bytes(b)
	if err != nil || !utf8.Valid(out) || bytes.ContainsRune(out, utf8.RuneError) {
		return "", false
	}
	return string(out), true
}

func decodeUTF8Lossy(b []byte) (string, bool) {
	return strings.ToValidUTF8(string(b), string(utf8.RuneError)), true
}

func decodeText(b []byte) (string, string) {
	for _, d := range textDecoders {
		if s, ok := d.decode(b); ok {
			return s, d.name
		}
	}
	return "", ""
}

// xmlNode 通用 XML 节点
type xmlNode struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Nodes   []xmlNode  `xml:",any"`
}

func (n *xmlNode) attr(name string) string {
	for _, a := range n.Attrs {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

func (n *xmlNode) children(name string) []*xmlNode {
	var out []*xmlNode
	for i := range n.Nodes {
		if n.Nodes[i].XMLName.Local == name {
			out = append(out, &n.Nodes[i])
		}
	}
	return out
}

// find 深度优先查找第一个满足条件的节点（含自身）
func (n *xmlNode) find(match func(*xmlNode) bool) *xmlNode {
	if match(n) {
		return n
	}
	for i := range n.Nodes {
		if found := n.Nodes[i].find(match); found != nil {
			return found
		}
	}
	return nil
}

// DecodePayload 解析 base64 编码的评测结果。base64 非法时返回 DecodeFailure，
// 其余情况（包括无法解析的 XML）返回 FragmentEmpty 而不是错误。
func DecodePayload(payload string) (Fragment, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return Fragment{}, evaluation.NewError(evaluation.KindDecode, "decode payload", fmt.Errorf("invalid base64: %w", err))
	}
	return DecodeDocument(raw), nil
}

// DecodeDocument 解析评测结果 XML 文档
func DecodeDocument(raw []byte) Fragment {
	text, encoding := decodeText(raw)

	dec := xml.NewDecoder(strings.NewReader(text))
	// 文本已统一为 UTF-8，忽略文档声明的编码
	dec.CharsetReader = func(_ string, input io.Reader) (io.Reader, error) { return input, nil }

	var root xmlNode
	if err := dec.Decode(&root); err != nil {
		return Fragment{Kind: FragmentEmpty, Encoding: encoding}
	}

	node := findSentenceNode(&root)
	if node == nil {
		return Fragment{Kind: FragmentEmpty, Encoding: encoding}
	}

	frag := Fragment{
		Scores: Scores{
			Accuracy:  parseScore(node.attr("accuracy_score")),
			Fluency:   parseScore(node.attr("fluency_score")),
			Integrity: parseScore(node.attr("integrity_score")),
			Phone:     parseScore(node.attr("phone_score")),
			Tone:      parseScore(node.attr("tone_score")),
			Emotion:   parseScore(node.attr("emotion_score")),
			Total:     parseScore(node.attr("total_score")),
		},
		Rejected:   node.attr("is_rejected") == "true",
		ExceptInfo: node.attr("except_info"),
		Words:      parseWords(node),
		Encoding:   encoding,
	}

	frag.Kind = FragmentComplete
	if frag.Scores.allZero() && !frag.Rejected {
		frag.Kind = FragmentPartial
	}
	return frag
}

// findSentenceNode 优先取 rec_paper 下的 read_sentence，否则取文档中第一个 read_sentence
func findSentenceNode(root *xmlNode) *xmlNode {
	paper := root.find(func(n *xmlNode) bool { return n.XMLName.Local == "rec_paper" })
	if paper != nil {
		if nested := paper.children("read_sentence"); len(nested) > 0 {
			return nested[0]
		}
	}
	return root.find(func(n *xmlNode) bool { return n.XMLName.Local == "read_sentence" })
}

func parseWords(node *xmlNode) []evaluation.WordResult {
	var words []evaluation.WordResult
	for _, sentence := range node.children("sentence") {
		for _, w := range sentence.children("word") {
			word := evaluation.WordResult{
				Content:  w.attr("content"),
				Symbol:   w.attr("symbol"),
				BeginPos: parseInt(w.attr("beg_pos")),
				EndPos:   parseInt(w.attr("end_pos")),
				Duration: parseInt(w.attr("time_len")),
			}
			for _, syll := range w.children("syll") {
				for _, phone := range syll.children("phone") {
					if perr, ok := phoneError(phone); ok {
						word.Errors = append(word.Errors, perr)
					}
				}
			}
			words = append(words, word)
		}
	}
	return words
}

func phoneError(phone *xmlNode) (evaluation.PhoneticError, bool) {
	marker := strings.TrimSpace(phone.attr("perr_msg"))
	if marker == "" || marker == "0" {
		return evaluation.PhoneticError{}, false
	}
	level, err := strconv.Atoi(marker)
	if err != nil || level <= 0 {
		return evaluation.PhoneticError{}, false
	}
	level = min(level, int(evaluation.SeveritySevere))
	return evaluation.PhoneticError{
		Phoneme:  phone.attr("content"),
		Severity: evaluation.Severity(level),
		IsVowel:  phone.attr("is_yun") == "1",
		Tone:     phone.attr("mono_tone"),
	}, true
}

// parseScore 非有限值记 0，其余截断到 [0, 100]
func parseScore(raw string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return math.Max(0, math.Min(100, v))
}

func parseInt(raw string) int {
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0
	}
	return v
}
