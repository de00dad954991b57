// internal/services/dispatcher_service.go
package services

import (
	"fmt"
	"sync"

	apperrors "github.com/Corphon/StoryLoomMCP/internal/errors"
	"github.com/Corphon/StoryLoomMCP/internal/models"
	"github.com/Corphon/StoryLoomMCP/internal/utils"
)

// DispatcherState 调度器的两个有效状态
type DispatcherState string

const (
	DispatcherIdle     DispatcherState = "idle"
	DispatcherApplying DispatcherState = "applying"
)

// 结果中的规范错误类型名
const (
	ErrorKindNotFound    = "NotFoundError"
	ErrorKindInvalidOp   = "InvalidOperationError"
	ErrorKindUnsupported = "UnsupportedOperationError"
	ErrorKindExternal    = "ExternalCollaboratorError"
	ErrorKindInternal    = "InternalError"
)

// DispatcherService 是所有变更意图的唯一入口
//
// 意图来自用户直接操作或模型提出的工具调用，逐个处理到完成
// （成功或失败）后才接受下一个，保证并发的第二个意图永远看不到
// 部分应用的状态。
//
// 调度器总是返回结构化结果，绝不让异常逃逸到调用方：远端模型
// 驱动的调用方无法从未处理的失败中恢复。
type DispatcherService struct {
	OutlineService   *OutlineService
	CharacterService *CharacterService

	mu    sync.Mutex
	state DispatcherState
}

// NewDispatcherService 创建变更调度器
func NewDispatcherService(outlineService *OutlineService, characterService *CharacterService) *DispatcherService {
	return &DispatcherService{
		OutlineService:   outlineService,
		CharacterService: characterService,
		state:            DispatcherIdle,
	}
}

// State 返回当前状态（Idle或Applying）
func (s *DispatcherService) State() DispatcherState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// errorKindName 把内部错误类型映射为结果中的规范名称
func errorKindName(err error) string {
	switch apperrors.KindOf(err) {
	case apperrors.ErrorTypeNotFound:
		return ErrorKindNotFound
	case apperrors.ErrorTypeInvalidOp, apperrors.ErrorTypeValidation:
		return ErrorKindInvalidOp
	case apperrors.ErrorTypeUnsupported:
		return ErrorKindUnsupported
	default:
		return ErrorKindExternal
	}
}

func failureResult(err error) models.MutationResult {
	return models.MutationResult{
		Success:   false,
		ErrorKind: errorKindName(err),
		Message:   err.Error(),
	}
}

// Apply 验证并应用一个变更意图，返回结构化结果
//
// 目标ID无法解析时返回 NotFoundError 结果；未知意图类型返回
// UnsupportedOperationError 结果。失败的变更不会留下任何部分
// 结构变化。
func (s *DispatcherService) Apply(project *models.Project, intent models.Intent) (result models.MutationResult) {
	s.mu.Lock()
	s.state = DispatcherApplying
	defer func() {
		// 调度器边界：任何内部panic都转成结构化失败结果
		if r := recover(); r != nil {
			utils.GetLogger().Errorf("调度器内部错误: %v", r)
			result = models.MutationResult{
				Success:   false,
				ErrorKind: ErrorKindInternal,
				Message:   fmt.Sprintf("内部错误: %v", r),
			}
		}
		s.state = DispatcherIdle
		s.mu.Unlock()
	}()

	if project == nil {
		return models.MutationResult{
			Success:   false,
			ErrorKind: ErrorKindInvalidOp,
			Message:   "未提供项目",
		}
	}
	if intent == nil {
		return models.MutationResult{
			Success:   false,
			ErrorKind: ErrorKindUnsupported,
			Message:   "未提供意图",
		}
	}

	switch it := intent.(type) {
	case models.AddSectionIntent:
		section, err := s.OutlineService.AddSection(project, it.Title, it.Content, it.ParentID)
		if err != nil {
			return failureResult(err)
		}
		return models.MutationResult{
			Success:     true,
			Summary:     fmt.Sprintf("新增章节 %q (%s)", section.Title, section.ID),
			AffectedIDs: []string{section.ID},
		}

	case models.UpdateSectionIntent:
		if err := s.OutlineService.UpdateSection(project, it.SectionID, it.Title, it.Content); err != nil {
			return failureResult(err)
		}
		return models.MutationResult{
			Success:     true,
			Summary:     fmt.Sprintf("更新章节 %s", it.SectionID),
			AffectedIDs: []string{it.SectionID},
		}

	case models.DeleteSectionIntent:
		removed, err := s.OutlineService.DeleteSection(project, it.SectionID)
		if err != nil {
			return failureResult(err)
		}
		return models.MutationResult{
			Success:     true,
			Summary:     fmt.Sprintf("删除章节 %q 及其子树 (%s)", removed.Title, removed.ID),
			AffectedIDs: []string{removed.ID},
		}

	case models.MoveSectionIntent:
		if err := s.OutlineService.MoveSection(project, it.SectionID, it.TargetParentID, it.TargetSiblingID, it.Position); err != nil {
			return failureResult(err)
		}
		return models.MutationResult{
			Success:     true,
			Summary:     fmt.Sprintf("移动章节 %s", it.SectionID),
			AffectedIDs: []string{it.SectionID},
		}

	case models.AddCharacterIntent:
		character, err := s.CharacterService.AddCharacter(project, it.Character)
		if err != nil {
			return failureResult(err)
		}
		return models.MutationResult{
			Success:     true,
			Summary:     fmt.Sprintf("新增角色 %q (%s)", character.Name, character.ID),
			AffectedIDs: []string{character.ID},
		}

	case models.UpdateCharacterIntent:
		if err := s.CharacterService.UpdateCharacter(project, it.CharacterID, it.Update); err != nil {
			return failureResult(err)
		}
		return models.MutationResult{
			Success:     true,
			Summary:     fmt.Sprintf("更新角色 %s", it.CharacterID),
			AffectedIDs: []string{it.CharacterID},
		}

	case models.DeleteCharacterIntent:
		removed, affected, err := s.CharacterService.DeleteCharacter(project, it.CharacterID)
		if err != nil {
			return failureResult(err)
		}
		return models.MutationResult{
			Success:     true,
			Summary:     fmt.Sprintf("删除角色 %q，清理了%d个章节的引用", removed.Name, len(affected)),
			AffectedIDs: append([]string{removed.ID}, affected...),
		}

	default:
		return models.MutationResult{
			Success:   false,
			ErrorKind: ErrorKindUnsupported,
			Message:   fmt.Sprintf("无法识别的意图类型: %T", intent),
		}
	}
}
