package library

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// catalogue YAML 文件的顶层结构
type catalogue struct {
	Twisters []Twister `yaml:"twisters"`
}

// LoadFile 读取 YAML 绕口令目录，任何条目无效或 ID 重复都会导致整体失败
func LoadFile(path string) ([]Twister, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取绕口令目录失败: %w", err)
	}

	var doc catalogue
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("解析绕口令目录失败: %w", err)
	}
	if len(doc.Twisters) == 0 {
		return nil, fmt.Errorf("绕口令目录 %s 为空", path)
	}

	seen := make(map[string]bool, len(doc.Twisters))
	for _, t := range doc.Twisters {
		if err := t.Validate(); err != nil {
			return nil, err
		}
		if seen[t.ID] {
			return nil, fmt.Errorf("twister %s: %w", t.ID, ErrDuplicateID)
		}
		seen[t.ID] = true
	}
	return doc.Twisters, nil
}

// SaveFile 把条目写为 YAML 目录
func SaveFile(path string, items []Twister) error {
	data, err := yaml.Marshal(catalogue{Twisters: items})
	if err != nil {
		return fmt.Errorf("序列化绕口令目录失败: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Open 目录文件存在时从文件加载，路径为空或文件不存在时使用内置条目
func Open(path string) (*Library, error) {
	if path == "" {
		return NewDefault(), nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return NewDefault(), nil
	}

	items, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	return New(items), nil
}
