package library

import (
	"errors"
	"math/rand"
	"sort"
	"strings"
	"sync"
)

var (
	ErrNotFound    = errors.New("twister not found")
	ErrDuplicateID = errors.New("twister id already exists")
)

// Filter Random 的筛选条件，零值表示不限
type Filter struct {
	Difficulty Difficulty
	Category   Category
}

func (f Filter) match(t Twister) bool {
	if f.Difficulty != "" && t.Difficulty != f.Difficulty {
		return false
	}
	if f.Category != "" && t.Category != f.Category {
		return false
	}
	return true
}

// Store 供评测流程与 HTTP 层查询绕口令
type Store interface {
	List() []Twister
	Lookup(id string) (Twister, bool)
	Random(filter Filter) (Twister, bool)
}

// Library 内存中的绕口令库，可被文件监听整体替换
type Library struct {
	mu    sync.RWMutex
	items []Twister
	intn  func(n int) int
}

// New 以给定条目创建绕口令库
func New(items []Twister) *Library {
	return &Library{
		items: append([]Twister(nil), items...),
		intn:  rand.Intn,
	}
}

// NewDefault 使用内置条目
func NewDefault() *Library {
	return New(Seed())
}

// List 全部条目的副本
func (l *Library) List() []Twister {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Twister(nil), l.items...)
}

// Len 条目数量
func (l *Library) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}

// Lookup 按 ID 查找
func (l *Library) Lookup(id string) (Twister, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, item := range l.items {
		if item.ID == id {
			return item, true
		}
	}
	return Twister{}, false
}

// Random 在满足条件的条目中随机选择一条
func (l *Library) Random(filter Filter) (Twister, bool) {
	candidates := l.where(filter.match)
	if len(candidates) == 0 {
		return Twister{}, false
	}
	return candidates[l.intn(len(candidates))], true
}

// Search 在标题、正文、描述、关键词中做不区分大小写的匹配
func (l *Library) Search(keyword string) []Twister {
	keyword = strings.ToLower(strings.TrimSpace(keyword))
	if keyword == "" {
		return nil
	}
	return l.where(func(t Twister) bool {
		if strings.Contains(strings.ToLower(t.Title), keyword) ||
			strings.Contains(strings.ToLower(t.Text), keyword) ||
			strings.Contains(strings.ToLower(t.Description), keyword) {
			return true
		}
		for _, kw := range t.Keywords {
			if strings.Contains(strings.ToLower(kw), keyword) {
				return true
			}
		}
		return false
	})
}

// ByDifficulty 指定难度的条目
func (l *Library) ByDifficulty(d Difficulty) []Twister {
	return l.where(Filter{Difficulty: d}.match)
}

// ByCategory 指定分类的条目
func (l *Library) ByCategory(c Category) []Twister {
	return l.where(Filter{Category: c}.match)
}

// DifficultyStats 各难度条目数，包含数量为 0 的难度
func (l *Library) DifficultyStats() map[Difficulty]int {
	stats := make(map[Difficulty]int, len(Difficulties))
	for _, d := range Difficulties {
		stats[d] = 0
	}
	for _, t := range l.List() {
		stats[t.Difficulty]++
	}
	return stats
}

// CategoryStats 各分类条目数，包含数量为 0 的分类
func (l *Library) CategoryStats() map[Category]int {
	stats := make(map[Category]int, len(Categories))
	for _, c := range Categories {
		stats[c] = 0
	}
	for _, t := range l.List() {
		stats[t.Category]++
	}
	return stats
}

// Add 添加条目，ID 重复时返回 ErrDuplicateID
func (l *Library) Add(t Twister) error {
	if err := t.Validate(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, item := range l.items {
		if item.ID == t.ID {
			return ErrDuplicateID
		}
	}
	l.items = append(l.items, t)
	return nil
}

// Remove 删除条目
func (l *Library) Remove(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, item := range l.items {
		if item.ID == id {
			l.items = append(l.items[:i:i], l.items[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

// Replace 整体替换条目
func (l *Library) Replace(items []Twister) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = append([]Twister(nil), items...)
}

// PracticeSequence 从不超过 ceiling 难度的条目中选出至多 count 条，按难度递增排列
func (l *Library) PracticeSequence(ceiling Difficulty, count int) []Twister {
	limit := ceiling.Rank()
	if limit < 0 || count <= 0 {
		return nil
	}

	candidates := l.where(func(t Twister) bool {
		rank := t.Difficulty.Rank()
		return rank >= 0 && rank <= limit
	})
	if len(candidates) > count {
		// 部分 Fisher-Yates 洗牌取前 count 条
		for i := 0; i < count; i++ {
			j := i + l.intn(len(candidates)-i)
			candidates[i], candidates[j] = candidates[j], candidates[i]
		}
		candidates = candidates[:count]
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Difficulty.Rank() < candidates[j].Difficulty.Rank()
	})
	return candidates
}

func (l *Library) where(pred func(Twister) bool) []Twister {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []Twister
	for _, item := range l.items {
		if pred(item) {
			out = append(out, item)
		}
	}
	return out
}
