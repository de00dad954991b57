// internal/models/project.go
package models

import "time"

// Project 表示一个创作项目，是持久化和LLM上下文序列化的单位
//
// Project 拥有其包含的全部实体；实体不在项目之间共享。
// 删除项目时必须释放所有独占拥有的资源（包括外部存储的图像）。
type Project struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Genre       string `json:"genre"`
	Description string `json:"description"`

	// 大纲森林（有序根章节序列）
	Outline []*OutlineSection `json:"outline"`

	// 角色列表，保持插入顺序
	Characters []*Character `json:"characters"`

	Notes     []*Note     `json:"notes"`
	TaskLists []*TaskList `json:"task_lists"`

	CreatedAt   time.Time `json:"created_at"`
	LastUpdated time.Time `json:"last_updated"`
}

// ProjectMetadata 用于项目选择列表
type ProjectMetadata struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	Genre          string    `json:"genre"`
	Description    string    `json:"description"`
	CharacterCount int       `json:"character_count"`
	SectionCount   int       `json:"section_count"`
	CreatedAt      time.Time `json:"created_at"`
	LastUpdated    time.Time `json:"last_updated"`
}

// Note 表示一条项目笔记
type Note struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"created_at"`
	LastUpdated time.Time `json:"last_updated"`
}

// TaskList 表示一个任务清单
type TaskList struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Tasks       []*Task   `json:"tasks"`
	CreatedAt   time.Time `json:"created_at"`
	LastUpdated time.Time `json:"last_updated"`
}

// Task 表示清单中的一项任务
type Task struct {
	ID          string `json:"id"`
	Text        string `json:"text"`
	IsCompleted bool   `json:"is_completed"`
}

// FindCharacter 按ID查找角色，未找到返回 nil
func (p *Project) FindCharacter(characterID string) *Character {
	for _, c := range p.Characters {
		if c.ID == characterID {
			return c
		}
	}
	return nil
}

// FindNote 按ID查找笔记，未找到返回 nil
func (p *Project) FindNote(noteID string) *Note {
	for _, n := range p.Notes {
		if n.ID == noteID {
			return n
		}
	}
	return nil
}

// FindTaskList 按ID查找任务清单，未找到返回 nil
func (p *Project) FindTaskList(listID string) *TaskList {
	for _, tl := range p.TaskLists {
		if tl.ID == listID {
			return tl
		}
	}
	return nil
}

// EntityKind 标识项目中可被选中/聚焦的实体类别
//
// 作为封闭的标签变体使用：每个消费点都应对全部取值做穷尽匹配，
// 新增类别是编译期可检查的修改。
type EntityKind string

const (
	EntityKindSection   EntityKind = "section"
	EntityKindCharacter EntityKind = "character"
	EntityKindNote      EntityKind = "note"
	EntityKindTaskList  EntityKind = "task_list"
)

// FocusedEntity 表示当前被聚焦的实体（用于上下文序列化时附带完整详情）
type FocusedEntity struct {
	Kind EntityKind `json:"kind"`
	ID   string     `json:"id"`
}
