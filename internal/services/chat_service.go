// internal/services/chat_service.go
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	apperrors "github.com/Corphon/StoryLoomMCP/internal/errors"
	"github.com/Corphon/StoryLoomMCP/internal/llm"
	"github.com/Corphon/StoryLoomMCP/internal/models"
	"github.com/Corphon/StoryLoomMCP/internal/utils"
)

// ChatService 编排与模型的对话回合
//
// 一个回合：组装项目上下文和会话历史 → 调用提供商 → 把模型提出的
// 工具调用逐个转换为意图并交给调度器 → 持久化被改动的项目 →
// 返回 {text, toolResults}。
//
// 模型产出的参数始终是未受信任的输入：转换失败的调用以结构化
// 失败结果回报，绝不让格式错误中断整个回合。
type ChatService struct {
	Provider       llm.Provider
	ProjectService *ProjectService
	ContextService *ContextService
	OutlineService *OutlineService
	Dispatcher     *DispatcherService
}

// NewChatService 创建对话服务
func NewChatService(provider llm.Provider, projectService *ProjectService, contextService *ContextService, outlineService *OutlineService, dispatcher *DispatcherService) *ChatService {
	return &ChatService{
		Provider:       provider,
		ProjectService: projectService,
		ContextService: contextService,
		OutlineService: outlineService,
		Dispatcher:     dispatcher,
	}
}

// systemPrompt 是助手的固定角色设定
const systemPrompt = `你是一位创意写作助理，帮助作者管理小说项目：大纲、角色、笔记和任务。
修改项目数据必须通过提供的工具完成，引用实体时使用上下文中方括号标注的ID。
不要编造ID；目标不明确时先向作者确认。`

// ToolCatalogue 返回暴露给模型的完整工具目录
//
// 工具名与意图类型一一对应，参数schema即意图的线格式。
func ToolCatalogue() []llm.Tool {
	return []llm.Tool{
		{
			Name:        string(models.IntentAddSection),
			Description: "新增大纲章节。parent_id为空时作为新的根章节追加。",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"title": {"type": "string", "description": "章节标题"},
					"content": {"type": "string", "description": "章节内容"},
					"parent_id": {"type": "string", "description": "父章节ID，为空表示根章节"}
				},
				"required": ["title"]
			}`),
		},
		{
			Name:        string(models.IntentUpdateSection),
			Description: "更新大纲章节的标题或内容，未提供的字段保持不变。",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"section_id": {"type": "string", "description": "要更新的章节ID"},
					"title": {"type": "string", "description": "新标题"},
					"content": {"type": "string", "description": "新内容"}
				},
				"required": ["section_id"]
			}`),
		},
		{
			Name:        string(models.IntentDeleteSection),
			Description: "删除大纲章节及其全部子章节。",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"section_id": {"type": "string", "description": "要删除的章节ID"}
				},
				"required": ["section_id"]
			}`),
		},
		{
			Name:        string(models.IntentMoveSection),
			Description: "移动大纲章节（连同子树）。指定target_sibling_id和position可精确定位；只指定target_parent_id则成为其最后一个子章节；都不指定则成为最后一个根章节。",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"section_id": {"type": "string", "description": "要移动的章节ID"},
					"target_parent_id": {"type": "string", "description": "目标父章节ID"},
					"target_sibling_id": {"type": "string", "description": "目标兄弟章节ID"},
					"position": {"type": "string", "enum": ["before", "after"], "description": "相对目标兄弟章节的位置"}
				},
				"required": ["section_id"]
			}`),
		},
		{
			Name:        string(models.IntentAddCharacter),
			Description: "新增角色。name和description为必填。",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"name": {"type": "string", "description": "角色姓名"},
					"description": {"type": "string", "description": "角色简介"},
					"origin": {"type": "string"},
					"appearance": {"type": "string"},
					"personality": {"type": "string"},
					"background": {"type": "string"},
					"motivation": {"type": "string"},
					"voice": {"type": "string"}
				},
				"required": ["name", "description"]
			}`),
		},
		{
			Name:        string(models.IntentUpdateCharacter),
			Description: "更新角色档案，未提供的字段保持不变。relationships和extra按键合并。",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"character_id": {"type": "string", "description": "要更新的角色ID"},
					"name": {"type": "string"},
					"description": {"type": "string"},
					"origin": {"type": "string"},
					"appearance": {"type": "string"},
					"personality": {"type": "string"},
					"background": {"type": "string"},
					"motivation": {"type": "string"},
					"voice": {"type": "string"},
					"relationships": {"type": "object", "additionalProperties": {"type": "string"}},
					"extra": {"type": "object", "additionalProperties": {"type": "string"}}
				},
				"required": ["character_id"]
			}`),
		},
		{
			Name:        string(models.IntentDeleteCharacter),
			Description: "删除角色，并自动清理所有章节对它的引用。",
			Parameters: json.RawMessage(`{
				"type": "object",
				"properties": {
					"character_id": {"type": "string", "description": "要删除的角色ID"}
				},
				"required": ["character_id"]
			}`),
		},
	}
}

// CoerceToolCall 把模型的工具调用转换为意图
//
// 这是未受信任输入进入调度器前的唯一通道：未知工具名返回不支持
// 错误，参数缺失或格式错误返回非法操作错误。转换成功不代表目标
// 存在，ID解析由调度器负责。
func CoerceToolCall(call models.ToolCall) (models.Intent, error) {
	args := call.Arguments
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}

	switch models.IntentKind(call.Name) {
	case models.IntentAddSection:
		var intent models.AddSectionIntent
		if err := json.Unmarshal(args, &intent); err != nil {
			return nil, apperrors.NewInvalidOperationError(
				fmt.Sprintf("工具 %s 参数格式错误", call.Name), err)
		}
		if intent.Title == "" {
			return nil, apperrors.NewInvalidOperationError(
				fmt.Sprintf("工具 %s 缺少必填参数: title", call.Name), nil)
		}
		return intent, nil

	case models.IntentUpdateSection:
		var intent models.UpdateSectionIntent
		if err := json.Unmarshal(args, &intent); err != nil {
			return nil, apperrors.NewInvalidOperationError(
				fmt.Sprintf("工具 %s 参数格式错误", call.Name), err)
		}
		if intent.SectionID == "" {
			return nil, apperrors.NewInvalidOperationError(
				fmt.Sprintf("工具 %s 缺少必填参数: section_id", call.Name), nil)
		}
		return intent, nil

	case models.IntentDeleteSection:
		var intent models.DeleteSectionIntent
		if err := json.Unmarshal(args, &intent); err != nil {
			return nil, apperrors.NewInvalidOperationError(
				fmt.Sprintf("工具 %s 参数格式错误", call.Name), err)
		}
		if intent.SectionID == "" {
			return nil, apperrors.NewInvalidOperationError(
				fmt.Sprintf("工具 %s 缺少必填参数: section_id", call.Name), nil)
		}
		return intent, nil

	case models.IntentMoveSection:
		var intent models.MoveSectionIntent
		if err := json.Unmarshal(args, &intent); err != nil {
			return nil, apperrors.NewInvalidOperationError(
				fmt.Sprintf("工具 %s 参数格式错误", call.Name), err)
		}
		if intent.SectionID == "" {
			return nil, apperrors.NewInvalidOperationError(
				fmt.Sprintf("工具 %s 缺少必填参数: section_id", call.Name), nil)
		}
		if intent.Position != "" && !intent.Position.Valid() {
			return nil, apperrors.NewInvalidOperationError(
				fmt.Sprintf("工具 %s 的position取值非法: %s", call.Name, intent.Position), nil)
		}
		return intent, nil

	case models.IntentAddCharacter:
		var character models.Character
		if err := json.Unmarshal(args, &character); err != nil {
			return nil, apperrors.NewInvalidOperationError(
				fmt.Sprintf("工具 %s 参数格式错误", call.Name), err)
		}
		if character.Name == "" || character.Description == "" {
			return nil, apperrors.NewInvalidOperationError(
				fmt.Sprintf("工具 %s 缺少必填参数: name和description", call.Name), nil)
		}
		return models.AddCharacterIntent{Character: character}, nil

	case models.IntentUpdateCharacter:
		var raw struct {
			CharacterID string `json:"character_id"`
			models.CharacterUpdate
		}
		if err := json.Unmarshal(args, &raw); err != nil {
			return nil, apperrors.NewInvalidOperationError(
				fmt.Sprintf("工具 %s 参数格式错误", call.Name), err)
		}
		if raw.CharacterID == "" {
			return nil, apperrors.NewInvalidOperationError(
				fmt.Sprintf("工具 %s 缺少必填参数: character_id", call.Name), nil)
		}
		return models.UpdateCharacterIntent{CharacterID: raw.CharacterID, Update: raw.CharacterUpdate}, nil

	case models.IntentDeleteCharacter:
		var intent models.DeleteCharacterIntent
		if err := json.Unmarshal(args, &intent); err != nil {
			return nil, apperrors.NewInvalidOperationError(
				fmt.Sprintf("工具 %s 参数格式错误", call.Name), err)
		}
		if intent.CharacterID == "" {
			return nil, apperrors.NewInvalidOperationError(
				fmt.Sprintf("工具 %s 缺少必填参数: character_id", call.Name), nil)
		}
		return intent, nil

	default:
		return nil, apperrors.NewUnsupportedOperationError(
			fmt.Sprintf("未知的工具: %s", call.Name), nil)
	}
}

// ProcessMessage 处理一条用户消息，完成一个完整的对话回合
func (s *ChatService) ProcessMessage(ctx context.Context, projectID, userMessage string, focused *models.FocusedEntity) (*models.ChatTurn, error) {
	if strings.TrimSpace(userMessage) == "" {
		return nil, apperrors.NewValidationError("消息内容不能为空", nil)
	}
	if s.Provider == nil {
		return nil, apperrors.NewExternalError("未配置LLM提供商", nil, false)
	}

	project, err := s.ProjectService.LoadProject(projectID)
	if err != nil {
		return nil, err
	}

	projectContext, err := s.ContextService.BuildContext(project, s.OutlineService, focused)
	if err != nil {
		return nil, err
	}

	history, err := s.ContextService.GetRecentMessages(projectID, DefaultHistoryWindow)
	if err != nil {
		return nil, err
	}

	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: models.RoleUser, Content: "当前项目状态：\n\n" + projectContext})
	for _, m := range history {
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, llm.Message{Role: models.RoleUser, Content: userMessage})

	if _, err := s.ContextService.AddMessage(projectID, models.RoleUser, userMessage); err != nil {
		return nil, err
	}

	response, err := s.Provider.Chat(ctx, llm.ChatRequest{
		Messages:     messages,
		SystemPrompt: systemPrompt,
		Tools:        ToolCatalogue(),
	})
	if err != nil {
		return nil, apperrors.NewExternalError("LLM调用失败", err, llm.IsRetryable(err))
	}

	turn := &models.ChatTurn{
		Text:       response.Text,
		TokensUsed: response.TokensUsed,
		ModelName:  response.ModelName,
	}

	// 工具调用按模型给出的顺序逐个应用；单个失败不影响后续调用
	mutated := false
	for _, call := range response.ToolCalls {
		result := s.applyToolCall(project, call)
		if result.Success {
			mutated = true
		}
		turn.ToolResults = append(turn.ToolResults, models.ToolCallResult{
			ToolCall: models.ToolCall{ID: call.ID, Name: call.Name, Arguments: call.Arguments},
			Result:   result,
		})
	}

	if mutated {
		if _, err := s.ProjectService.UpdateProject(project); err != nil {
			return nil, err
		}
	}

	if turn.Text != "" {
		if _, err := s.ContextService.AddMessage(projectID, models.RoleAssistant, turn.Text); err != nil {
			utils.GetLogger().Warnf("保存助手回复失败: %v", err)
		}
	}

	return turn, nil
}

// applyToolCall 转换并应用单个工具调用，任何失败都收敛为结构化结果
func (s *ChatService) applyToolCall(project *models.Project, call llm.ToolCall) models.MutationResult {
	intent, err := CoerceToolCall(models.ToolCall{ID: call.ID, Name: call.Name, Arguments: call.Arguments})
	if err != nil {
		return failureResult(err)
	}
	return s.Dispatcher.Apply(project, intent)
}

// StreamMessage 以流式方式处理一条用户消息（纯文本，不携带工具调用）
//
// 项目上下文和历史组装与 ProcessMessage 一致；调用方（websocket
// 处理器）负责消费增量。
func (s *ChatService) StreamMessage(ctx context.Context, projectID, userMessage string, focused *models.FocusedEntity) (<-chan llm.StreamResponse, error) {
	if strings.TrimSpace(userMessage) == "" {
		return nil, apperrors.NewValidationError("消息内容不能为空", nil)
	}
	if s.Provider == nil {
		return nil, apperrors.NewExternalError("未配置LLM提供商", nil, false)
	}

	project, err := s.ProjectService.LoadProject(projectID)
	if err != nil {
		return nil, err
	}

	projectContext, err := s.ContextService.BuildContext(project, s.OutlineService, focused)
	if err != nil {
		return nil, err
	}

	history, err := s.ContextService.GetRecentMessages(projectID, DefaultHistoryWindow)
	if err != nil {
		return nil, err
	}

	messages := make([]llm.Message, 0, len(history)+2)
	messages = append(messages, llm.Message{Role: models.RoleUser, Content: "当前项目状态：\n\n" + projectContext})
	for _, m := range history {
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, llm.Message{Role: models.RoleUser, Content: userMessage})

	if _, err := s.ContextService.AddMessage(projectID, models.RoleUser, userMessage); err != nil {
		return nil, err
	}

	stream, err := s.Provider.StreamChat(ctx, llm.ChatRequest{
		Messages:     messages,
		SystemPrompt: systemPrompt,
	})
	if err != nil {
		return nil, apperrors.NewExternalError("LLM流式调用失败", err, llm.IsRetryable(err))
	}
	return stream, nil
}

// RecordAssistantText 把流式回合收尾时的完整助手文本写入历史
func (s *ChatService) RecordAssistantText(projectID, text string) {
	if text == "" {
		return
	}
	if _, err := s.ContextService.AddMessage(projectID, models.RoleAssistant, text); err != nil {
		utils.GetLogger().Warnf("保存助手回复失败: %v", err)
	}
}
