// internal/api/handlers.go
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Corphon/StoryLoomMCP/internal/config"
	"github.com/Corphon/StoryLoomMCP/internal/llm"
	"github.com/Corphon/StoryLoomMCP/internal/models"
	"github.com/Corphon/StoryLoomMCP/internal/services"
	"github.com/Corphon/StoryLoomMCP/internal/storage"
)

// Handler 处理API请求
type Handler struct {
	// 核心服务
	ProjectService   *services.ProjectService   // 项目服务
	OutlineService   *services.OutlineService   // 大纲服务
	CharacterService *services.CharacterService // 角色服务
	CrossRefService  *services.CrossRefService  // 交叉引用服务
	Dispatcher       *services.DispatcherService
	ContextService   *services.ContextService // 上下文服务
	ChatService      *services.ChatService    // 对话服务
	ImageService     *services.ImageService   // 图像服务
	GeneratorService *services.GeneratorService
	ImageStore       *storage.ImageStore
	WebSocketHandler *WebSocketHandler // WebSocket 处理器
	Response         *ResponseHelper   // 响应助手
}

// APIResponse 标准API响应格式
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Message   string      `json:"message,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"` // 用于调试和追踪
}

// APIError 标准错误格式
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// ========================================
// 请求结构
// ========================================

// CreateProjectRequest 创建项目的请求结构
type CreateProjectRequest struct {
	Title       string `json:"title" binding:"required"`
	Genre       string `json:"genre"`
	Description string `json:"description"`
}

// UpdateProjectRequest 更新项目基本信息的请求结构
type UpdateProjectRequest struct {
	Title       *string `json:"title"`
	Genre       *string `json:"genre"`
	Description *string `json:"description"`
}

// BootstrapProjectRequest 从创意生成项目的请求结构
type BootstrapProjectRequest struct {
	Premise string `json:"premise" binding:"required"` // 一句话创意
}

// AddSectionRequest 新增章节的请求结构
type AddSectionRequest struct {
	Title    string `json:"title" binding:"required"`
	Content  string `json:"content"`
	ParentID string `json:"parent_id"`
}

// UpdateSectionRequest 更新章节的请求结构
type UpdateSectionRequest struct {
	Title   *string `json:"title"`
	Content *string `json:"content"`
}

// MoveSectionRequest 移动章节的请求结构
type MoveSectionRequest struct {
	TargetParentID  string              `json:"target_parent_id"`
	TargetSiblingID string              `json:"target_sibling_id"`
	Position        models.MovePosition `json:"position"`
}

// AddCharacterRequest 新增角色的请求结构
type AddCharacterRequest struct {
	models.Character
}

// NoteRequest 笔记请求结构
type NoteRequest struct {
	Title   *string `json:"title"`
	Content *string `json:"content"`
}

// TaskListRequest 任务清单请求结构
type TaskListRequest struct {
	Title string `json:"title" binding:"required"`
}

// TaskRequest 任务请求结构
type TaskRequest struct {
	Text        *string `json:"text"`
	IsCompleted *bool   `json:"is_completed"`
}

// ChatRequest 对话请求结构
type ChatRequest struct {
	ProjectID string                `json:"project_id" binding:"required"`
	Message   string                `json:"message" binding:"required"`
	Focused   *models.FocusedEntity `json:"focused"` // 当前聚焦的实体，可选
}

// GenerateImageRequest 图像生成请求结构
type GenerateImageRequest struct {
	Style       string `json:"style"`
	AspectRatio string `json:"aspect_ratio"`
}

// ImageCandidatesRequest 候选图生成请求结构
type ImageCandidatesRequest struct {
	Description string `json:"description" binding:"required"`
	AspectRatio string `json:"aspect_ratio"`
	Count       int    `json:"count"`
}

// ========================================
// 项目处理器
// ========================================

// GetProjects 获取全部项目的元数据列表
func (h *Handler) GetProjects(c *gin.Context) {
	projects, err := h.ProjectService.LoadAllProjects()
	if err != nil {
		h.Response.InternalError(c, "加载项目列表失败", err.Error())
		return
	}
	h.Response.Success(c, projects)
}

// CreateProject 创建新项目
func (h *Handler) CreateProject(c *gin.Context) {
	var req CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "请求参数无效", err.Error())
		return
	}

	project := h.ProjectService.NewProject(req.Title, req.Genre, req.Description)
	created, err := h.ProjectService.CreateProject(project)
	if err != nil {
		h.Response.Error(c, http.StatusInternalServerError, ErrorProjectCreateFailed, "创建项目失败", err.Error())
		return
	}
	h.Response.Created(c, created)
}

// BootstrapProject 从一句创意生成项目骨架
func (h *Handler) BootstrapProject(c *gin.Context) {
	var req BootstrapProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "请求参数无效", err.Error())
		return
	}

	project, err := h.GeneratorService.BootstrapProject(c.Request.Context(), req.Premise)
	if err != nil {
		h.Response.ServiceError(c, err)
		return
	}
	h.Response.Created(c, project, "项目生成成功")
}

// GetProject 获取项目聚合
func (h *Handler) GetProject(c *gin.Context) {
	project, err := h.ProjectService.LoadProject(c.Param("id"))
	if err != nil {
		h.Response.ServiceError(c, err)
		return
	}
	h.Response.Success(c, project)
}

// UpdateProject 更新项目基本信息
func (h *Handler) UpdateProject(c *gin.Context) {
	var req UpdateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "请求参数无效", err.Error())
		return
	}

	project, err := h.ProjectService.LoadProject(c.Param("id"))
	if err != nil {
		h.Response.ServiceError(c, err)
		return
	}

	if req.Title != nil {
		project.Title = *req.Title
	}
	if req.Genre != nil {
		project.Genre = *req.Genre
	}
	if req.Description != nil {
		project.Description = *req.Description
	}

	updated, err := h.ProjectService.UpdateProject(project)
	if err != nil {
		h.Response.ServiceError(c, err)
		return
	}
	h.Response.Success(c, updated)
}

// DeleteProject 删除项目
func (h *Handler) DeleteProject(c *gin.Context) {
	if _, err := h.ProjectService.DeleteProject(c.Param("id")); err != nil {
		h.Response.ServiceError(c, err)
		return
	}
	h.Response.Success(c, nil, "项目已删除")
}

// GetProjectContext 获取项目的提示词上下文（调试用）
func (h *Handler) GetProjectContext(c *gin.Context) {
	project, err := h.ProjectService.LoadProject(c.Param("id"))
	if err != nil {
		h.Response.ServiceError(c, err)
		return
	}

	var focused *models.FocusedEntity
	if kind := c.Query("focused_kind"); kind != "" {
		focused = &models.FocusedEntity{
			Kind: models.EntityKind(kind),
			ID:   c.Query("focused_id"),
		}
	}

	text, err := h.ContextService.BuildContext(project, h.OutlineService, focused)
	if err != nil {
		h.Response.ServiceError(c, err)
		return
	}
	h.Response.Success(c, gin.H{"context": text})
}

// ========================================
// 变更处理器（统一走调度器）
// ========================================

// applyIntent 加载项目、应用意图、成功则持久化，并把结果写回响应
//
// 所有结构变更端点共用这一条路径，与模型工具调用走同一个调度器，
// 保证两类入口的语义一致。
func (h *Handler) applyIntent(c *gin.Context, projectID string, intent models.Intent) {
	project, err := h.ProjectService.LoadProject(projectID)
	if err != nil {
		h.Response.ServiceError(c, err)
		return
	}

	result := h.Dispatcher.Apply(project, intent)
	if !result.Success {
		h.respondMutationFailure(c, result)
		return
	}

	if _, err := h.ProjectService.UpdateProject(project); err != nil {
		h.Response.ServiceError(c, err)
		return
	}
	h.Response.Success(c, result)
}

// respondMutationFailure 把调度器的失败结果翻译为HTTP错误
func (h *Handler) respondMutationFailure(c *gin.Context, result models.MutationResult) {
	switch result.ErrorKind {
	case services.ErrorKindNotFound:
		h.Response.Error(c, http.StatusNotFound, ErrorNotFound, result.Message)
	case services.ErrorKindInvalidOp:
		h.Response.Error(c, http.StatusBadRequest, ErrorMutationRejected, result.Message)
	case services.ErrorKindUnsupported:
		h.Response.Error(c, http.StatusUnprocessableEntity, ErrorUnsupportedOperation, result.Message)
	default:
		h.Response.InternalError(c, result.Message)
	}
}

// AddSection 新增大纲章节
func (h *Handler) AddSection(c *gin.Context) {
	var req AddSectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "请求参数无效", err.Error())
		return
	}
	h.applyIntent(c, c.Param("id"), models.AddSectionIntent{
		Title:    req.Title,
		Content:  req.Content,
		ParentID: req.ParentID,
	})
}

// UpdateSection 更新大纲章节
func (h *Handler) UpdateSection(c *gin.Context) {
	var req UpdateSectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "请求参数无效", err.Error())
		return
	}
	h.applyIntent(c, c.Param("id"), models.UpdateSectionIntent{
		SectionID: c.Param("section_id"),
		Title:     req.Title,
		Content:   req.Content,
	})
}

// DeleteSection 删除大纲章节及其子树
func (h *Handler) DeleteSection(c *gin.Context) {
	h.applyIntent(c, c.Param("id"), models.DeleteSectionIntent{
		SectionID: c.Param("section_id"),
	})
}

// MoveSection 移动大纲章节
func (h *Handler) MoveSection(c *gin.Context) {
	var req MoveSectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "请求参数无效", err.Error())
		return
	}
	h.applyIntent(c, c.Param("id"), models.MoveSectionIntent{
		SectionID:       c.Param("section_id"),
		TargetParentID:  req.TargetParentID,
		TargetSiblingID: req.TargetSiblingID,
		Position:        req.Position,
	})
}

// GetOutline 获取带ID标注的大纲列表
func (h *Handler) GetOutline(c *gin.Context) {
	project, err := h.ProjectService.LoadProject(c.Param("id"))
	if err != nil {
		h.Response.ServiceError(c, err)
		return
	}
	h.Response.Success(c, gin.H{
		"outline": project.Outline,
		"listing": h.OutlineService.SerializeWithIDs(project),
	})
}

// GetCharacters 获取项目角色列表
func (h *Handler) GetCharacters(c *gin.Context) {
	project, err := h.ProjectService.LoadProject(c.Param("id"))
	if err != nil {
		h.Response.ServiceError(c, err)
		return
	}
	h.Response.Success(c, project.Characters)
}

// AddCharacter 新增角色
func (h *Handler) AddCharacter(c *gin.Context) {
	var req AddCharacterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "请求参数无效", err.Error())
		return
	}
	h.applyIntent(c, c.Param("id"), models.AddCharacterIntent{Character: req.Character})
}

// UpdateCharacter 更新角色档案
func (h *Handler) UpdateCharacter(c *gin.Context) {
	var update models.CharacterUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		h.Response.BadRequest(c, "请求参数无效", err.Error())
		return
	}
	h.applyIntent(c, c.Param("id"), models.UpdateCharacterIntent{
		CharacterID: c.Param("character_id"),
		Update:      update,
	})
}

// DeleteCharacter 删除角色并清理引用
func (h *Handler) DeleteCharacter(c *gin.Context) {
	h.applyIntent(c, c.Param("id"), models.DeleteCharacterIntent{
		CharacterID: c.Param("character_id"),
	})
}

// ========================================
// 交叉引用处理器
// ========================================

// AssociateCharacter 建立章节与角色的关联
func (h *Handler) AssociateCharacter(c *gin.Context) {
	project, err := h.ProjectService.LoadProject(c.Param("id"))
	if err != nil {
		h.Response.ServiceError(c, err)
		return
	}

	if err := h.CrossRefService.Associate(project, c.Param("section_id"), c.Param("character_id")); err != nil {
		h.Response.ServiceError(c, err)
		return
	}

	if _, err := h.ProjectService.UpdateProject(project); err != nil {
		h.Response.ServiceError(c, err)
		return
	}
	h.Response.Success(c, nil, "关联已建立")
}

// DissociateCharacter 解除章节与角色的关联
func (h *Handler) DissociateCharacter(c *gin.Context) {
	project, err := h.ProjectService.LoadProject(c.Param("id"))
	if err != nil {
		h.Response.ServiceError(c, err)
		return
	}

	if err := h.CrossRefService.Dissociate(project, c.Param("section_id"), c.Param("character_id")); err != nil {
		h.Response.ServiceError(c, err)
		return
	}

	if _, err := h.ProjectService.UpdateProject(project); err != nil {
		h.Response.ServiceError(c, err)
		return
	}
	h.Response.Success(c, nil, "关联已解除")
}

// GetSectionCharacters 获取章节关联的角色
func (h *Handler) GetSectionCharacters(c *gin.Context) {
	project, err := h.ProjectService.LoadProject(c.Param("id"))
	if err != nil {
		h.Response.ServiceError(c, err)
		return
	}

	characters, err := h.CrossRefService.CharactersForSection(project, c.Param("section_id"))
	if err != nil {
		h.Response.ServiceError(c, err)
		return
	}
	h.Response.Success(c, characters)
}

// GetCharacterSections 获取引用角色的章节
func (h *Handler) GetCharacterSections(c *gin.Context) {
	project, err := h.ProjectService.LoadProject(c.Param("id"))
	if err != nil {
		h.Response.ServiceError(c, err)
		return
	}

	sections, err := h.CrossRefService.SectionsForCharacter(project, c.Param("character_id"))
	if err != nil {
		h.Response.ServiceError(c, err)
		return
	}
	h.Response.Success(c, sections)
}

// ========================================
// 笔记与任务处理器
// ========================================

// withProject 加载项目、执行修改、持久化的公共模板
func (h *Handler) withProject(c *gin.Context, fn func(project *models.Project) (interface{}, error)) {
	project, err := h.ProjectService.LoadProject(c.Param("id"))
	if err != nil {
		h.Response.ServiceError(c, err)
		return
	}

	data, err := fn(project)
	if err != nil {
		h.Response.ServiceError(c, err)
		return
	}

	if _, err := h.ProjectService.UpdateProject(project); err != nil {
		h.Response.ServiceError(c, err)
		return
	}
	h.Response.Success(c, data)
}

// AddNote 新增笔记
func (h *Handler) AddNote(c *gin.Context) {
	var req NoteRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Title == nil {
		h.Response.BadRequest(c, "请求参数无效: 缺少title")
		return
	}
	content := ""
	if req.Content != nil {
		content = *req.Content
	}
	h.withProject(c, func(project *models.Project) (interface{}, error) {
		return h.ProjectService.AddNote(project, *req.Title, content), nil
	})
}

// UpdateNote 更新笔记
func (h *Handler) UpdateNote(c *gin.Context) {
	var req NoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "请求参数无效", err.Error())
		return
	}
	h.withProject(c, func(project *models.Project) (interface{}, error) {
		return nil, h.ProjectService.UpdateNote(project, c.Param("note_id"), req.Title, req.Content)
	})
}

// DeleteNote 删除笔记
func (h *Handler) DeleteNote(c *gin.Context) {
	h.withProject(c, func(project *models.Project) (interface{}, error) {
		return nil, h.ProjectService.DeleteNote(project, c.Param("note_id"))
	})
}

// AddTaskList 新增任务清单
func (h *Handler) AddTaskList(c *gin.Context) {
	var req TaskListRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "请求参数无效", err.Error())
		return
	}
	h.withProject(c, func(project *models.Project) (interface{}, error) {
		return h.ProjectService.AddTaskList(project, req.Title), nil
	})
}

// DeleteTaskList 删除任务清单
func (h *Handler) DeleteTaskList(c *gin.Context) {
	h.withProject(c, func(project *models.Project) (interface{}, error) {
		return nil, h.ProjectService.DeleteTaskList(project, c.Param("list_id"))
	})
}

// AddTask 向清单添加任务
func (h *Handler) AddTask(c *gin.Context) {
	var req TaskRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Text == nil {
		h.Response.BadRequest(c, "请求参数无效: 缺少text")
		return
	}
	h.withProject(c, func(project *models.Project) (interface{}, error) {
		return h.ProjectService.AddTask(project, c.Param("list_id"), *req.Text)
	})
}

// UpdateTask 更新任务
func (h *Handler) UpdateTask(c *gin.Context) {
	var req TaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "请求参数无效", err.Error())
		return
	}
	h.withProject(c, func(project *models.Project) (interface{}, error) {
		return nil, h.ProjectService.UpdateTask(project, c.Param("list_id"), c.Param("task_id"), req.Text, req.IsCompleted)
	})
}

// DeleteTask 删除任务
func (h *Handler) DeleteTask(c *gin.Context) {
	h.withProject(c, func(project *models.Project) (interface{}, error) {
		return nil, h.ProjectService.DeleteTask(project, c.Param("list_id"), c.Param("task_id"))
	})
}

// ========================================
// 对话处理器
// ========================================

// Chat 处理一条用户消息（完整回合，含工具调用）
func (h *Handler) Chat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "请求参数无效", err.Error())
		return
	}

	turn, err := h.ChatService.ProcessMessage(c.Request.Context(), req.ProjectID, req.Message, req.Focused)
	if err != nil {
		h.Response.ServiceError(c, err)
		return
	}
	h.Response.Success(c, turn)
}

// GetMessages 获取项目的会话历史
func (h *Handler) GetMessages(c *gin.Context) {
	messages, err := h.ContextService.GetAllMessages(c.Param("id"))
	if err != nil {
		h.Response.ServiceError(c, err)
		return
	}
	h.Response.Success(c, messages)
}

// ClearMessages 清空项目的会话历史
func (h *Handler) ClearMessages(c *gin.Context) {
	if err := h.ContextService.ClearHistory(c.Param("id")); err != nil {
		h.Response.ServiceError(c, err)
		return
	}
	h.Response.Success(c, nil, "会话历史已清空")
}

// ========================================
// 图像处理器
// ========================================

// GenerateCharacterImage 为角色生成形象图
func (h *Handler) GenerateCharacterImage(c *gin.Context) {
	var req GenerateImageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "请求参数无效", err.Error())
		return
	}

	character, err := h.ImageService.GenerateCharacterImage(
		c.Request.Context(), c.Param("id"), c.Param("character_id"), req.Style, req.AspectRatio)
	if err != nil {
		h.Response.ServiceError(c, err)
		return
	}
	h.Response.Success(c, character)
}

// GenerateSectionImage 为章节生成插图
func (h *Handler) GenerateSectionImage(c *gin.Context) {
	var req GenerateImageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "请求参数无效", err.Error())
		return
	}

	section, err := h.ImageService.GenerateSectionImage(
		c.Request.Context(), c.Param("id"), c.Param("section_id"), req.Style, req.AspectRatio)
	if err != nil {
		h.Response.ServiceError(c, err)
		return
	}
	h.Response.Success(c, section)
}

// GenerateImageCandidates 并发生成候选图（全有或全无）
func (h *Handler) GenerateImageCandidates(c *gin.Context) {
	var req ImageCandidatesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "请求参数无效", err.Error())
		return
	}

	candidates, err := h.ImageService.GenerateCandidates(
		c.Request.Context(), req.Description, req.AspectRatio, req.Count)
	if err != nil {
		h.Response.ServiceError(c, err)
		return
	}
	h.Response.Success(c, gin.H{"candidates": candidates})
}

// GetImage 按存储键读取图像数据
func (h *Handler) GetImage(c *gin.Context) {
	key := c.Param("key")
	if !storage.IsImageKey(key) {
		h.Response.BadRequest(c, "无效的图像键")
		return
	}

	data, err := h.ImageStore.Get(key)
	if err != nil {
		h.Response.NotFound(c, "图像", err.Error())
		return
	}
	c.Data(http.StatusOK, "image/png", data)
}

// ========================================
// 设置处理器
// ========================================

// GetSettings 获取当前配置（密钥脱敏）
func (h *Handler) GetSettings(c *gin.Context) {
	cfg := config.GetCurrentConfig()
	h.Response.Success(c, gin.H{
		"llm_provider":     cfg.LLMProvider,
		"image_provider":   cfg.ImageProvider,
		"debug_mode":       cfg.DebugMode,
		"api_key_set":      cfg.LLMConfig["api_key"] != "",
		"available":        llm.ListProviders(),
		"supported_models": llm.GetSupportedModelsForProvider(cfg.LLMProvider),
	})
}

// UpdateLLMConfig 更新LLM提供商配置并热切换
func (h *Handler) UpdateLLMConfig(c *gin.Context) {
	var req struct {
		Provider string            `json:"provider" binding:"required"`
		Config   map[string]string `json:"config"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "请求参数无效", err.Error())
		return
	}

	provider, err := llm.GetProvider(req.Provider, req.Config)
	if err != nil {
		h.Response.Error(c, http.StatusBadRequest, ErrorLLMConfigInvalid, "提供商配置无效", err.Error())
		return
	}

	if err := config.UpdateLLMConfig(req.Provider, req.Config); err != nil {
		h.Response.InternalError(c, "保存配置失败", err.Error())
		return
	}

	// 热切换：对话、图像、生成三条路径共用同一个提供商实例
	h.ChatService.Provider = provider
	h.ImageService.Provider = provider
	h.GeneratorService.Provider = provider

	h.Response.Success(c, gin.H{"provider": provider.GetName()}, "LLM配置已更新")
}

// GetLLMModels 获取各提供商支持的模型列表
func (h *Handler) GetLLMModels(c *gin.Context) {
	result := make(map[string][]string)
	for _, name := range llm.ListProviders() {
		result[name] = llm.GetSupportedModelsForProvider(name)
	}
	h.Response.Success(c, result)
}
