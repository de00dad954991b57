// internal/services/character_service.go
package services

import (
	"fmt"
	"time"

	apperrors "github.com/Corphon/StoryLoomMCP/internal/errors"
	"github.com/Corphon/StoryLoomMCP/internal/models"
	"github.com/Corphon/StoryLoomMCP/internal/utils"
)

// CharacterService 处理角色相关的业务逻辑
//
// 角色列表保持插入顺序，不做任何隐式重排。
type CharacterService struct {
	CrossRefService *CrossRefService
}

// NewCharacterService 创建角色服务
func NewCharacterService(crossRefService *CrossRefService) *CharacterService {
	return &CharacterService{CrossRefService: crossRefService}
}

// AddCharacter 新增角色并返回它
//
// name 和 description 为必填；其余叙事档案字段按原样存储。
func (s *CharacterService) AddCharacter(project *models.Project, character models.Character) (*models.Character, error) {
	if character.Name == "" {
		return nil, apperrors.NewInvalidOperationError("角色缺少必填字段: name", nil)
	}
	if character.Description == "" {
		return nil, apperrors.NewInvalidOperationError("角色缺少必填字段: description", nil)
	}

	now := time.Now()
	character.ID = utils.NewCharacterID()
	character.CreatedAt = now
	character.LastUpdated = now

	project.Characters = append(project.Characters, &character)
	return &character, nil
}

// UpdateCharacter 部分更新角色，只覆盖提供的字段
func (s *CharacterService) UpdateCharacter(project *models.Project, characterID string, update models.CharacterUpdate) error {
	character := project.FindCharacter(characterID)
	if character == nil {
		return apperrors.NewNotFoundError(
			fmt.Sprintf("角色不存在: %s", characterID), nil)
	}

	if update.IsEmpty() {
		return nil
	}

	if update.Name != nil {
		if *update.Name == "" {
			return apperrors.NewInvalidOperationError("角色name不能更新为空", nil)
		}
		character.Name = *update.Name
	}
	if update.Description != nil {
		character.Description = *update.Description
	}
	if update.Origin != nil {
		character.Origin = *update.Origin
	}
	if update.Appearance != nil {
		character.Appearance = *update.Appearance
	}
	if update.Personality != nil {
		character.Personality = *update.Personality
	}
	if update.Background != nil {
		character.Background = *update.Background
	}
	if update.Motivation != nil {
		character.Motivation = *update.Motivation
	}
	if update.Voice != nil {
		character.Voice = *update.Voice
	}
	if update.ImageURL != nil {
		character.ImageURL = *update.ImageURL
	}

	// 关系和自由档案字段按键合并
	if len(update.Relationships) > 0 {
		if character.Relationships == nil {
			character.Relationships = make(map[string]string, len(update.Relationships))
		}
		for k, v := range update.Relationships {
			character.Relationships[k] = v
		}
	}
	if len(update.Extra) > 0 {
		if character.Extra == nil {
			character.Extra = make(map[string]string, len(update.Extra))
		}
		for k, v := range update.Extra {
			character.Extra[k] = v
		}
	}

	character.LastUpdated = time.Now()
	return nil
}

// DeleteCharacter 删除角色并清理交叉引用
//
// 返回被删除的角色记录和受影响（character_ids 被修改）的章节ID；
// 交叉引用清理是删除路径不可跳过的一部分。
func (s *CharacterService) DeleteCharacter(project *models.Project, characterID string) (*models.Character, []string, error) {
	for i, character := range project.Characters {
		if character.ID != characterID {
			continue
		}

		project.Characters = append(project.Characters[:i], project.Characters[i+1:]...)
		affected := s.CrossRefService.OnCharacterDeleted(project, characterID)
		return character, affected, nil
	}

	return nil, nil, apperrors.NewNotFoundError(
		fmt.Sprintf("角色不存在: %s", characterID), nil)
}
