// internal/models/outline.go
package models

import "time"

// OutlineSection 表示大纲中的一个章节节点
//
// 大纲是一个有序的任意深度森林：除根节点外每个节点恰好有一个父节点
// （隐含在树位置中），兄弟节点之间的顺序有意义，必须在所有查询中保持。
type OutlineSection struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`

	// 有序子章节，可为空
	Children []*OutlineSection `json:"children"`

	// 与本章节关联的角色ID集合（弱引用，只记录关联，不拥有角色）
	CharacterIDs []string `json:"character_ids,omitempty"`

	// 原始图像数据或以 "image-" 开头的存储键（见 storage.ImageStore）
	ImageURL string `json:"image_url,omitempty"`

	CreatedAt   time.Time `json:"created_at"`
	LastUpdated time.Time `json:"last_updated"`
}

// HasCharacter 判断章节是否关联了指定角色
func (s *OutlineSection) HasCharacter(characterID string) bool {
	for _, id := range s.CharacterIDs {
		if id == characterID {
			return true
		}
	}
	return false
}

// AddCharacterRef 关联角色ID（幂等）
func (s *OutlineSection) AddCharacterRef(characterID string) bool {
	if s.HasCharacter(characterID) {
		return false
	}
	s.CharacterIDs = append(s.CharacterIDs, characterID)
	return true
}

// RemoveCharacterRef 移除角色ID关联（幂等），返回是否发生了变化
func (s *OutlineSection) RemoveCharacterRef(characterID string) bool {
	for i, id := range s.CharacterIDs {
		if id == characterID {
			s.CharacterIDs = append(s.CharacterIDs[:i], s.CharacterIDs[i+1:]...)
			return true
		}
	}
	return false
}

// MovePosition 指定移动时相对于目标兄弟节点的位置
type MovePosition string

const (
	MoveBefore MovePosition = "before"
	MoveAfter  MovePosition = "after"
)

// Valid 判断位置取值是否合法
func (p MovePosition) Valid() bool {
	return p == MoveBefore || p == MoveAfter
}
