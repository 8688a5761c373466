package history

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/zhouzirui/tongue-twister/backend/internal/model/evaluation"
	"github.com/zhouzirui/tongue-twister/backend/pkg/logger"
)

// DefaultTTL 结果缓存有效期
const DefaultTTL = 7 * 24 * time.Hour

const (
	resultsDir = "results"
	historyDir = "history"
)

var ErrNotFound = errors.New("history record not found")

// Options 存储配置
type Options struct {
	Dir string
	TTL time.Duration
}

// Store 基于 JSON 文件的结果缓存与练习历史
type Store struct {
	dir    string
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time

	mu     sync.Mutex
	memory map[string]cacheEntry
}

type cacheEntry struct {
	Key       string                      `json:"key"`
	Text      string                      `json:"text"`
	CreatedAt time.Time                   `json:"createdAt"`
	Result    evaluation.EvaluationResult `json:"result"`
}

// Record 一次练习的历史记录
type Record struct {
	ID              string           `json:"id"`
	CreatedAt       time.Time        `json:"createdAt"`
	TwisterID       string           `json:"twisterId,omitempty"`
	Text            string           `json:"text"`
	Overall         float64          `json:"overall"`
	Pronunciation   float64          `json:"pronunciation"`
	Fluency         float64          `json:"fluency"`
	Integrity       float64          `json:"integrity"`
	Tone            float64          `json:"tone"`
	Speed           float64          `json:"speed"`
	Duration        float64          `json:"duration"`
	Grade           evaluation.Grade `json:"grade"`
	FeedbackSummary string           `json:"feedbackSummary"`
	Feedback        []string         `json:"feedback,omitempty"`
	Tips            []string         `json:"tips,omitempty"`
	LowConfidence   bool             `json:"lowConfidence,omitempty"`
}

// Stats 存储占用情况
type Stats struct {
	MemoryEntries int   `json:"memoryEntries"`
	ResultFiles   int   `json:"resultFiles"`
	HistoryFiles  int   `json:"historyFiles"`
	TotalBytes    int64 `json:"totalBytes"`
}

// New 创建存储并确保目录存在
func New(opts Options, log *zap.Logger) (*Store, error) {
	if strings.TrimSpace(opts.Dir) == "" {
		return nil, fmt.Errorf("history dir is required")
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	for _, sub := range []string{resultsDir, historyDir} {
		if err := os.MkdirAll(filepath.Join(opts.Dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("创建存储目录失败: %w", err)
		}
	}

	return &Store{
		dir:    opts.Dir,
		ttl:    ttl,
		logger: logger.OrNop(log).Named("history"),
		now:    time.Now,
		memory: make(map[string]cacheEntry),
	}, nil
}

// Key md5(text)，有音频时追加音频 md5 的前 8 位
func Key(text string, audio []byte) string {
	textSum := md5.Sum([]byte(text))
	key := hex.EncodeToString(textSum[:])
	if len(audio) == 0 {
		return key
	}
	audioSum := md5.Sum(audio)
	return key + "_" + hex.EncodeToString(audioSum[:])[:8]
}

// Key 同包级 Key
func (s *Store) Key(text string, audio []byte) string {
	return Key(text, audio)
}

// Get 读取未过期的缓存结果；过期或损坏的文件会被删除
func (s *Store) Get(key string) (evaluation.EvaluationResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.memory[key]; ok {
		if s.valid(entry.CreatedAt) {
			return entry.Result, true
		}
		delete(s.memory, key)
	}

	path := s.resultPath(key)
	var entry cacheEntry
	if err := readJSON(path, &entry); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("corrupt cache entry removed", zap.String("key", key), zap.Error(err))
			_ = os.Remove(path)
		}
		return evaluation.EvaluationResult{}, false
	}
	if !s.valid(entry.CreatedAt) {
		_ = os.Remove(path)
		return evaluation.EvaluationResult{}, false
	}

	s.memory[key] = entry
	return entry.Result, true
}

// Put 写入缓存，同时清理过期条目
func (s *Store) Put(key string, result evaluation.EvaluationResult) error {
	entry := cacheEntry{Key: key, Text: result.Score.Text, CreatedAt: s.now(), Result: result}

	s.mu.Lock()
	s.memory[key] = entry
	err := writeJSON(s.resultPath(key), entry)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("保存缓存失败: %w", err)
	}

	if _, err := s.CleanupExpired(); err != nil {
		s.logger.Warn("cache cleanup failed", zap.Error(err))
	}
	return nil
}

// CleanupExpired 删除过期缓存，返回删除的文件数
func (s *Store) CleanupExpired() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, entry := range s.memory {
		if !s.valid(entry.CreatedAt) {
			delete(s.memory, key)
		}
	}

	files, err := filepath.Glob(filepath.Join(s.dir, resultsDir, "*.json"))
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, path := range files {
		var entry cacheEntry
		if err := readJSON(path, &entry); err == nil && s.valid(entry.CreatedAt) {
			continue
		}
		if err := os.Remove(path); err == nil {
			removed++
		}
	}
	if removed > 0 {
		s.logger.Debug("expired cache removed", zap.Int("count", removed))
	}
	return removed, nil
}

// Clear 清空结果缓存
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memory = make(map[string]cacheEntry)
	return removeAll(filepath.Join(s.dir, resultsDir))
}

// Record 保存一条历史记录，返回记录 ID
func (s *Store) Record(result evaluation.EvaluationResult) (string, error) {
	createdAt := result.CreatedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}
	id := createdAt.Format("20060102_150405") + "_" + uuid.NewString()[:8]

	rec := Record{
		ID:              id,
		CreatedAt:       createdAt,
		TwisterID:       result.TwisterID,
		Text:            result.Score.Text,
		Overall:         result.Overall,
		Pronunciation:   result.Score.Pronunciation,
		Fluency:         result.Score.Fluency,
		Integrity:       result.Score.Integrity,
		Tone:            result.Score.Tone,
		Speed:           result.Score.Speed,
		Duration:        result.Score.Duration,
		Grade:           result.Grade,
		FeedbackSummary: result.FeedbackSummary,
		Feedback:        result.Feedback,
		Tips:            result.Tips,
		LowConfidence:   result.LowConfidence,
	}

	if err := writeJSON(filepath.Join(s.dir, historyDir, id+".json"), rec); err != nil {
		return "", fmt.Errorf("保存历史记录失败: %w", err)
	}
	s.logger.Debug("history recorded", zap.String("id", id), zap.Float64("overall", rec.Overall))
	return id, nil
}

// List 按时间倒序返回最多 limit 条记录，limit<=0 表示全部；无法解析的文件被跳过
func (s *Store) List(limit int) ([]Record, error) {
	files, err := filepath.Glob(filepath.Join(s.dir, historyDir, "*.json"))
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(files))
	for _, path := range files {
		var rec Record
		if err := readJSON(path, &rec); err != nil {
			s.logger.Warn("skip unreadable history record", zap.String("file", filepath.Base(path)), zap.Error(err))
			continue
		}
		records = append(records, rec)
	}

	sort.SliceStable(records, func(i, j int) bool {
		if records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].ID > records[j].ID
		}
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// Delete 删除一条历史记录
func (s *Store) Delete(id string) error {
	if id == "" || filepath.Base(id) != id || strings.HasPrefix(id, ".") {
		return ErrNotFound
	}
	err := os.Remove(filepath.Join(s.dir, historyDir, id+".json"))
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	return err
}

// ClearHistory 清空历史记录
func (s *Store) ClearHistory() error {
	return removeAll(filepath.Join(s.dir, historyDir))
}

// Stats 统计文件数量与占用字节数
func (s *Store) Stats() (Stats, error) {
	s.mu.Lock()
	stats := Stats{MemoryEntries: len(s.memory)}
	s.mu.Unlock()

	for _, sub := range []string{resultsDir, historyDir} {
		files, err := filepath.Glob(filepath.Join(s.dir, sub, "*.json"))
		if err != nil {
			return Stats{}, err
		}
		for _, path := range files {
			info, err := os.Stat(path)
			if err != nil {
				continue
			}
			stats.TotalBytes += info.Size()
		}
		if sub == resultsDir {
			stats.ResultFiles = len(files)
		} else {
			stats.HistoryFiles = len(files)
		}
	}
	return stats, nil
}

func (s *Store) valid(createdAt time.Time) bool {
	return s.now().Sub(createdAt) <= s.ttl
}

func (s *Store) resultPath(key string) string {
	return filepath.Join(s.dir, resultsDir, filepath.Base(key)+".json")
}

func writeJSON(path string, v any) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func removeAll(dir string) error {
	files, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return err
	}
	for _, path := range files {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}
