// internal/services/context_service.go
package services

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	apperrors "github.com/Corphon/StoryLoomMCP/internal/errors"
	"github.com/Corphon/StoryLoomMCP/internal/models"
	"github.com/Corphon/StoryLoomMCP/internal/storage"
	"github.com/Corphon/StoryLoomMCP/internal/utils"
)

const conversationFileName = "conversation.json"

// DefaultHistoryWindow 默认带入提示词的最近消息条数
const DefaultHistoryWindow = 20

// ContextService 负责两件事：
//  1. 把项目聚合序列化为模型可寻址的文本上下文（纯函数，
//     每行实体都带ID，模型靠这些ID发起工具调用）
//  2. 维护每个项目的会话历史（持久化在项目目录下）
type ContextService struct {
	Storage *storage.FileStorage

	// 按项目ID的历史文件锁
	historyLocks sync.Map
}

// NewContextService 创建上下文服务
func NewContextService(fileStorage *storage.FileStorage) *ContextService {
	return &ContextService{Storage: fileStorage}
}

// ---- 项目上下文序列化 ----

// BuildContext 把项目状态序列化为提示词上下文
//
// 输出包含项目概况、角色清单、带ID标注的大纲列表、笔记和任务
// 清单；focused 非nil时附带被聚焦实体的完整详情。不修改项目。
func (s *ContextService) BuildContext(project *models.Project, outlineService *OutlineService, focused *models.FocusedEntity) (string, error) {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("# 项目: %s\n", project.Title))
	if project.Genre != "" {
		sb.WriteString(fmt.Sprintf("类型: %s\n", project.Genre))
	}
	if project.Description != "" {
		sb.WriteString(fmt.Sprintf("简介: %s\n", project.Description))
	}

	sb.WriteString("\n## 角色\n")
	if len(project.Characters) == 0 {
		sb.WriteString("（暂无角色）\n")
	}
	for _, c := range project.Characters {
		sb.WriteString(fmt.Sprintf("- %s [%s]", c.Name, c.ID))
		if c.Description != "" {
			sb.WriteString(": " + firstLine(c.Description))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("\n## 大纲\n")
	listing := outlineService.SerializeWithIDs(project)
	if listing == "" {
		sb.WriteString("（暂无大纲）\n")
	} else {
		sb.WriteString(listing)
	}

	if len(project.Notes) > 0 {
		sb.WriteString("\n## 笔记\n")
		for _, n := range project.Notes {
			sb.WriteString(fmt.Sprintf("- %s [%s]\n", n.Title, n.ID))
		}
	}

	if len(project.TaskLists) > 0 {
		sb.WriteString("\n## 任务清单\n")
		for _, tl := range project.TaskLists {
			done := 0
			for _, t := range tl.Tasks {
				if t.IsCompleted {
					done++
				}
			}
			sb.WriteString(fmt.Sprintf("- %s [%s] (%d/%d 已完成)\n", tl.Title, tl.ID, done, len(tl.Tasks)))
		}
	}

	if focused != nil {
		detail, err := s.focusedDetail(project, outlineService, focused)
		if err != nil {
			return "", err
		}
		sb.WriteString("\n## 当前聚焦\n")
		sb.WriteString(detail)
	}

	return sb.String(), nil
}

// focusedDetail 序列化被聚焦实体的完整详情
//
// 对 EntityKind 的全部取值做穷尽匹配；未知类别返回不支持错误而
// 不是被静默忽略。
func (s *ContextService) focusedDetail(project *models.Project, outlineService *OutlineService, focused *models.FocusedEntity) (string, error) {
	switch focused.Kind {
	case models.EntityKindSection:
		section := outlineService.FindByID(project, focused.ID)
		if section == nil {
			return "", apperrors.NewNotFoundError(
				fmt.Sprintf("聚焦的章节不存在: %s", focused.ID), nil)
		}
		var sb strings.Builder
		sb.WriteString(fmt.Sprintf("章节: %s [%s]\n", section.Title, section.ID))
		if section.Content != "" {
			sb.WriteString(section.Content + "\n")
		}
		if len(section.CharacterIDs) > 0 {
			names := make([]string, 0, len(section.CharacterIDs))
			for _, id := range section.CharacterIDs {
				if c := project.FindCharacter(id); c != nil {
					names = append(names, fmt.Sprintf("%s [%s]", c.Name, c.ID))
				}
			}
			sb.WriteString("出场角色: " + strings.Join(names, ", ") + "\n")
		}
		return sb.String(), nil

	case models.EntityKindCharacter:
		character := project.FindCharacter(focused.ID)
		if character == nil {
			return "", apperrors.NewNotFoundError(
				fmt.Sprintf("聚焦的角色不存在: %s", focused.ID), nil)
		}
		var sb strings.Builder
		sb.WriteString(fmt.Sprintf("角色: %s [%s]\n", character.Name, character.ID))
		writeField := func(label, value string) {
			if value != "" {
				sb.WriteString(fmt.Sprintf("%s: %s\n", label, value))
			}
		}
		writeField("描述", character.Description)
		writeField("出身", character.Origin)
		writeField("外貌", character.Appearance)
		writeField("性格", character.Personality)
		writeField("背景", character.Background)
		writeField("动机", character.Motivation)
		writeField("语言风格", character.Voice)
		for other, rel := range character.Relationships {
			sb.WriteString(fmt.Sprintf("关系 %s: %s\n", other, rel))
		}
		for k, v := range character.Extra {
			sb.WriteString(fmt.Sprintf("%s: %s\n", k, v))
		}
		return sb.String(), nil

	case models.EntityKindNote:
		note := project.FindNote(focused.ID)
		if note == nil {
			return "", apperrors.NewNotFoundError(
				fmt.Sprintf("聚焦的笔记不存在: %s", focused.ID), nil)
		}
		return fmt.Sprintf("笔记: %s [%s]\n%s\n", note.Title, note.ID, note.Content), nil

	case models.EntityKindTaskList:
		list := project.FindTaskList(focused.ID)
		if list == nil {
			return "", apperrors.NewNotFoundError(
				fmt.Sprintf("聚焦的任务清单不存在: %s", focused.ID), nil)
		}
		var sb strings.Builder
		sb.WriteString(fmt.Sprintf("任务清单: %s [%s]\n", list.Title, list.ID))
		for _, t := range list.Tasks {
			mark := "[ ]"
			if t.IsCompleted {
				mark = "[x]"
			}
			sb.WriteString(fmt.Sprintf("- %s %s [%s]\n", mark, t.Text, t.ID))
		}
		return sb.String(), nil

	default:
		return "", apperrors.NewUnsupportedOperationError(
			fmt.Sprintf("不支持的聚焦实体类别: %s", focused.Kind), nil)
	}
}

// firstLine 取多行文本的第一行
func firstLine(text string) string {
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		return text[:i]
	}
	return text
}

// ---- 会话历史 ----

func conversationDir(projectID string) string {
	return filepath.Join("projects", projectID, "chat")
}

func (s *ContextService) historyLock(projectID string) *sync.Mutex {
	lock, _ := s.historyLocks.LoadOrStore(projectID, &sync.Mutex{})
	return lock.(*sync.Mutex)
}

// loadHistoryLocked 读取项目的完整会话历史，文件不存在时返回空切片
func (s *ContextService) loadHistoryLocked(projectID string) ([]*models.ChatMessage, error) {
	if !s.Storage.FileExists(conversationDir(projectID), conversationFileName) {
		return []*models.ChatMessage{}, nil
	}

	var messages []*models.ChatMessage
	if err := s.Storage.LoadJSONFile(conversationDir(projectID), conversationFileName, &messages); err != nil {
		return nil, fmt.Errorf("加载会话历史失败: %w", err)
	}
	return messages, nil
}

// AddMessage 追加一条会话消息并持久化
func (s *ContextService) AddMessage(projectID, role, content string) (*models.ChatMessage, error) {
	lock := s.historyLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	messages, err := s.loadHistoryLocked(projectID)
	if err != nil {
		return nil, err
	}

	message := &models.ChatMessage{
		ID:        utils.NewID("msg"),
		ProjectID: projectID,
		Role:      role,
		Content:   content,
		Timestamp: time.Now(),
	}
	messages = append(messages, message)

	if err := s.Storage.SaveJSONFile(conversationDir(projectID), conversationFileName, messages); err != nil {
		return nil, fmt.Errorf("保存会话历史失败: %w", err)
	}
	return message, nil
}

// GetRecentMessages 返回最近 limit 条会话消息（按时间顺序）
//
// limit <= 0 时使用默认窗口。
func (s *ContextService) GetRecentMessages(projectID string, limit int) ([]*models.ChatMessage, error) {
	lock := s.historyLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	messages, err := s.loadHistoryLocked(projectID)
	if err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = DefaultHistoryWindow
	}
	if len(messages) > limit {
		messages = messages[len(messages)-limit:]
	}
	return messages, nil
}

// GetAllMessages 返回项目的完整会话历史
func (s *ContextService) GetAllMessages(projectID string) ([]*models.ChatMessage, error) {
	lock := s.historyLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	return s.loadHistoryLocked(projectID)
}

// ClearHistory 清空项目的会话历史
func (s *ContextService) ClearHistory(projectID string) error {
	lock := s.historyLock(projectID)
	lock.Lock()
	defer lock.Unlock()

	if !s.Storage.FileExists(conversationDir(projectID), conversationFileName) {
		return nil
	}
	return s.Storage.SaveJSONFile(conversationDir(projectID), conversationFileName, []*models.ChatMessage{})
}
