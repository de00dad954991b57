// internal/services/crossref_service.go
package services

import (
	"fmt"

	apperrors "github.com/Corphon/StoryLoomMCP/internal/errors"
	"github.com/Corphon/StoryLoomMCP/internal/models"
)

// CrossRefService 维护大纲章节与角色之间的多对多关联
//
// 关联是派生数据：直接读写各章节的 character_ids 字段，从不独立
// 持久化。关联只记录引用，不代表所有权——删除角色必须从所有章节
// 的 character_ids 中清除它，删除章节则不影响角色记录。
type CrossRefService struct {
	OutlineService *OutlineService
}

// NewCrossRefService 创建交叉引用服务
func NewCrossRefService(outlineService *OutlineService) *CrossRefService {
	return &CrossRefService{OutlineService: outlineService}
}

// Associate 建立章节与角色的关联（幂等）
//
// 任一ID无法解析时返回未找到错误；已存在的关联是无操作。
func (s *CrossRefService) Associate(project *models.Project, sectionID, characterID string) error {
	section := s.OutlineService.FindByID(project, sectionID)
	if section == nil {
		return apperrors.NewNotFoundError(
			fmt.Sprintf("章节不存在: %s", sectionID), nil)
	}

	if project.FindCharacter(characterID) == nil {
		return apperrors.NewNotFoundError(
			fmt.Sprintf("角色不存在: %s", characterID), nil)
	}

	section.AddCharacterRef(characterID)
	return nil
}

// Dissociate 解除章节与角色的关联（幂等）
func (s *CrossRefService) Dissociate(project *models.Project, sectionID, characterID string) error {
	section := s.OutlineService.FindByID(project, sectionID)
	if section == nil {
		return apperrors.NewNotFoundError(
			fmt.Sprintf("章节不存在: %s", sectionID), nil)
	}

	if project.FindCharacter(characterID) == nil {
		return apperrors.NewNotFoundError(
			fmt.Sprintf("角色不存在: %s", characterID), nil)
	}

	section.RemoveCharacterRef(characterID)
	return nil
}

// OnCharacterDeleted 从整个大纲的所有章节中清除指定角色的引用
//
// 返回受影响的章节ID（深度优先顺序）。角色删除路径必须调用本方法，
// 不允许跳过。
func (s *CrossRefService) OnCharacterDeleted(project *models.Project, characterID string) []string {
	var affected []string
	s.OutlineService.WalkDepthFirst(project, func(section *models.OutlineSection, depth int) bool {
		if section.RemoveCharacterRef(characterID) {
			affected = append(affected, section.ID)
		}
		return true
	})
	return affected
}

// CharactersForSection 返回章节关联的全部角色（只读投影）
func (s *CrossRefService) CharactersForSection(project *models.Project, sectionID string) ([]*models.Character, error) {
	section := s.OutlineService.FindByID(project, sectionID)
	if section == nil {
		return nil, apperrors.NewNotFoundError(
			fmt.Sprintf("章节不存在: %s", sectionID), nil)
	}

	characters := make([]*models.Character, 0, len(section.CharacterIDs))
	for _, id := range section.CharacterIDs {
		if c := project.FindCharacter(id); c != nil {
			characters = append(characters, c)
		}
	}
	return characters, nil
}

// SectionsForCharacter 返回引用指定角色的全部章节（只读投影）
func (s *CrossRefService) SectionsForCharacter(project *models.Project, characterID string) ([]*models.OutlineSection, error) {
	if project.FindCharacter(characterID) == nil {
		return nil, apperrors.NewNotFoundError(
			fmt.Sprintf("角色不存在: %s", characterID), nil)
	}

	var sections []*models.OutlineSection
	s.OutlineService.WalkDepthFirst(project, func(section *models.OutlineSection, depth int) bool {
		if section.HasCharacter(characterID) {
			sections = append(sections, section)
		}
		return true
	})
	return sections, nil
}
