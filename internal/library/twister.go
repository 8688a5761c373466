package library

import "fmt"

// Difficulty 难度等级
type Difficulty string

const (
	DifficultyBeginner     Difficulty = "beginner"
	DifficultyIntermediate Difficulty = "intermediate"
	DifficultyAdvanced     Difficulty = "advanced"
	DifficultyExpert       Difficulty = "expert"
)

// Difficulties 由易到难
var Difficulties = []Difficulty{DifficultyBeginner, DifficultyIntermediate, DifficultyAdvanced, DifficultyExpert}

// Rank 返回难度序号，未知难度返回 -1
func (d Difficulty) Rank() int {
	for i, v := range Difficulties {
		if v == d {
			return i
		}
	}
	return -1
}

// Label 中文名称
func (d Difficulty) Label() string {
	switch d {
	case DifficultyBeginner:
		return "初级"
	case DifficultyIntermediate:
		return "中级"
	case DifficultyAdvanced:
		return "高级"
	case DifficultyExpert:
		return "专家级"
	default:
		return string(d)
	}
}

// Category 绕口令分类
type Category string

const (
	CategoryAnimals Category = "animals"
	CategoryFood    Category = "food"
	CategoryNature  Category = "nature"
	CategoryPeople  Category = "people"
	CategoryObjects Category = "objects"
	CategoryActions Category = "actions"
	CategoryClassic Category = "classic"
	CategoryModern  Category = "modern"
)

// Categories 全部分类
var Categories = []Category{
	CategoryAnimals, CategoryFood, CategoryNature, CategoryPeople,
	CategoryObjects, CategoryActions, CategoryClassic, CategoryModern,
}

func (c Category) valid() bool {
	for _, v := range Categories {
		if v == c {
			return true
		}
	}
	return false
}

// Twister 一条绕口令，评测只使用 Text 作为参考文本
type Twister struct {
	ID             string     `json:"id" yaml:"id"`
	Title          string     `json:"title" yaml:"title"`
	Text           string     `json:"text" yaml:"text"`
	Difficulty     Difficulty `json:"difficulty" yaml:"difficulty"`
	Category       Category   `json:"category" yaml:"category"`
	Description    string     `json:"description,omitempty" yaml:"description,omitempty"`
	Keywords       []string   `json:"keywords,omitempty" yaml:"keywords,omitempty"`
	Tips           []string   `json:"tips,omitempty" yaml:"tips,omitempty"`
	PracticePoints []string   `json:"practicePoints,omitempty" yaml:"practice_points,omitempty"`
}

// Validate 校验必填字段与枚举取值
func (t Twister) Validate() error {
	switch {
	case t.ID == "":
		return fmt.Errorf("twister id is required")
	case t.Text == "":
		return fmt.Errorf("twister %s: text is required", t.ID)
	case t.Difficulty.Rank() < 0:
		return fmt.Errorf("twister %s: unknown difficulty %q", t.ID, t.Difficulty)
	case !t.Category.valid():
		return fmt.Errorf("twister %s: unknown category %q", t.ID, t.Category)
	}
	return nil
}

// Seed 内置的绕口令
func Seed() []Twister {
	return []Twister{
		{
			ID:             "tw001",
			Title:          "四是四，十是十",
			Text:           "四是四，十是十，十四是十四，四十是四十。",
			Difficulty:     DifficultyBeginner,
			Category:       CategoryClassic,
			Description:    "经典数字绕口令，练习平翘舌音",
			Keywords:       []string{"数字", "平翘舌"},
			Tips:           []string{"注意'四'和'十'的发音区别", "'十四'和'四十'要读清楚"},
			PracticePoints: []string{"平舌音si", "翘舌音shi"},
		},
		{
			ID:             "tw002",
			Title:          "吃葡萄不吐葡萄皮",
			Text:           "吃葡萄不吐葡萄皮，不吃葡萄倒吐葡萄皮。",
			Difficulty:     DifficultyIntermediate,
			Category:       CategoryFood,
			Description:    "食物类绕口令，练习唇音和舌音配合",
			Keywords:       []string{"葡萄", "唇音"},
			Tips:           []string{"'葡萄'的'pu'和'tao'要清晰", "注意'吐'字的发音"},
			PracticePoints: []string{"唇音p", "舌音t"},
		},
		{
			ID:             "tw003",
			Title:          "红凤凰",
			Text:           "红凤凰，黄凤凰，红粉凤凰，粉红凤凰。",
			Difficulty:     DifficultyAdvanced,
			Category:       CategoryAnimals,
			Description:    "动物类绕口令，练习鼻音和边音",
			Keywords:       []string{"凤凰", "颜色", "鼻音"},
			Tips:           []string{"'凤凰'的'feng'和'huang'要分清", "注意颜色词的连读"},
			PracticePoints: []string{"鼻音ng", "边音l"},
		},
		{
			ID:             "tw004",
			Title:          "哥哥弟弟坡前坐",
			Text:           "哥哥弟弟坡前坐，坡上卧着一只鹅，坡下流着一条河，哥哥说：宽宽的河，弟弟说：白白的鹅。鹅要过河，河要渡鹅，不知是鹅过河，还是河渡鹅。",
			Difficulty:     DifficultyExpert,
			Category:       CategoryClassic,
			Description:    "经典长篇绕口令，综合练习多种音素",
			Keywords:       []string{"哥弟", "河鹅", "综合练习"},
			Tips:           []string{"注意'哥'、'鹅'、'河'的区别", "长句要保持节奏感"},
			PracticePoints: []string{"声母g、h区别", "韵母e、o区别", "语调变化"},
		},
		{
			ID:             "tw005",
			Title:          "小猫钓鱼",
			Text:           "小猫钓鱼，钓到小鱼，小鱼跳，小猫笑。",
			Difficulty:     DifficultyBeginner,
			Category:       CategoryAnimals,
			Description:    "简单动物绕口令，适合初学者",
			Keywords:       []string{"小猫", "钓鱼", "简单"},
			Tips:           []string{"注意'小'字的发音", "'钓'和'跳'要区分"},
			PracticePoints: []string{"声母x", "韵母iao"},
		},
	}
}
