// internal/models/intent.go
package models

// IntentKind 标识一次变更意图的类型
//
// 取值与暴露给模型的工具目录一一对应。
type IntentKind string

const (
	IntentAddSection    IntentKind = "addOutlineSection"
	IntentUpdateSection IntentKind = "updateOutlineSection"
	IntentDeleteSection IntentKind = "deleteOutlineSection"
	IntentMoveSection   IntentKind = "moveOutlineSection"
	IntentAddCharacter  IntentKind = "addCharacter"
	IntentUpdateCharacter IntentKind = "updateCharacter"
	IntentDeleteCharacter IntentKind = "deleteCharacter"
)

// Intent 是变更意图的封闭集合
//
// 只有本文件中的具体类型实现该接口；调度器对其做穷尽的类型分支。
// 来自模型的自由JSON参数必须先经过校验转换成这些类型之一，
// 无法映射的内容在进入调度器之前即被拒绝。
type Intent interface {
	Kind() IntentKind
}

// AddSectionIntent 新增大纲章节
type AddSectionIntent struct {
	Title    string `json:"title"`
	Content  string `json:"content,omitempty"`
	ParentID string `json:"parent_id,omitempty"` // 为空表示追加为新的根章节
}

func (AddSectionIntent) Kind() IntentKind { return IntentAddSection }

// UpdateSectionIntent 更新大纲章节，nil 字段保持原值
type UpdateSectionIntent struct {
	SectionID string  `json:"section_id"`
	Title     *string `json:"title,omitempty"`
	Content   *string `json:"content,omitempty"`
}

func (UpdateSectionIntent) Kind() IntentKind { return IntentUpdateSection }

// DeleteSectionIntent 删除大纲章节及其整棵子树
type DeleteSectionIntent struct {
	SectionID string `json:"section_id"`
}

func (DeleteSectionIntent) Kind() IntentKind { return IntentDeleteSection }

// MoveSectionIntent 移动大纲章节（连同子树）
//
// 解析顺序：TargetSiblingID 优先（此时 Position 必填，节点放到该兄弟
// 节点当前父节点之下的相邻位置）；否则 TargetParentID 生效（成为其最后
// 一个子节点）；两者都为空时节点成为最后一个根章节。
type MoveSectionIntent struct {
	SectionID       string       `json:"section_id"`
	TargetParentID  string       `json:"target_parent_id,omitempty"`
	TargetSiblingID string       `json:"target_sibling_id,omitempty"`
	Position        MovePosition `json:"position,omitempty"`
}

func (MoveSectionIntent) Kind() IntentKind { return IntentMoveSection }

// AddCharacterIntent 新增角色
type AddCharacterIntent struct {
	Character Character `json:"character"`
}

func (AddCharacterIntent) Kind() IntentKind { return IntentAddCharacter }

// UpdateCharacterIntent 更新角色（部分字段）
type UpdateCharacterIntent struct {
	CharacterID string          `json:"character_id"`
	Update      CharacterUpdate `json:"update"`
}

func (UpdateCharacterIntent) Kind() IntentKind { return IntentUpdateCharacter }

// DeleteCharacterIntent 删除角色，并触发交叉引用清理
type DeleteCharacterIntent struct {
	CharacterID string `json:"character_id"`
}

func (DeleteCharacterIntent) Kind() IntentKind { return IntentDeleteCharacter }

// MutationResult 是调度器返回的结构化结果
//
// 调度器永远返回结果而不抛出异常：远端模型驱动的调用方无法从
// 未处理的失败中恢复。
type MutationResult struct {
	Success bool   `json:"success"`
	Summary string `json:"summary,omitempty"`

	// 失败时填充
	ErrorKind string `json:"error_kind,omitempty"`
	Message   string `json:"message,omitempty"`

	// 本次变更涉及的实体ID（成功时填充）
	AffectedIDs []string `json:"affected_ids,omitempty"`
}
