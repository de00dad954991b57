// internal/models/character.go
package models

import "time"

// Character 表示项目中的一个角色
//
// Name 和 Description 为必填；其余叙事档案字段均为可选的自由文本，
// 按原样存储。ID 在项目内唯一。
type Character struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`

	// 叙事档案字段（全部可选）
	Origin      string            `json:"origin,omitempty"`
	Appearance  string            `json:"appearance,omitempty"`
	Personality string            `json:"personality,omitempty"`
	Background  string            `json:"background,omitempty"`
	Motivation  string            `json:"motivation,omitempty"`
	Voice       string            `json:"voice,omitempty"`
	Relationships map[string]string `json:"relationships,omitempty"`

	// 未在上面建模的自由档案字段，按原样保存
	Extra map[string]string `json:"extra,omitempty"`

	// 原始图像数据或以 "image-" 开头的存储键
	ImageURL string `json:"image_url,omitempty"`

	CreatedAt   time.Time `json:"created_at"`
	LastUpdated time.Time `json:"last_updated"`
}

// CharacterUpdate 表示对角色的部分更新，nil 字段保持原值不变
type CharacterUpdate struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Origin      *string `json:"origin,omitempty"`
	Appearance  *string `json:"appearance,omitempty"`
	Personality *string `json:"personality,omitempty"`
	Background  *string `json:"background,omitempty"`
	Motivation  *string `json:"motivation,omitempty"`
	Voice       *string `json:"voice,omitempty"`
	ImageURL    *string `json:"image_url,omitempty"`

	Relationships map[string]string `json:"relationships,omitempty"`
	Extra         map[string]string `json:"extra,omitempty"`
}

// IsEmpty 判断更新是否不包含任何字段
func (u *CharacterUpdate) IsEmpty() bool {
	return u.Name == nil && u.Description == nil && u.Origin == nil &&
		u.Appearance == nil && u.Personality == nil && u.Background == nil &&
		u.Motivation == nil && u.Voice == nil && u.ImageURL == nil &&
		len(u.Relationships) == 0 && len(u.Extra) == 0
}
