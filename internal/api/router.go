// internal/api/router.go
package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Corphon/StoryLoomMCP/internal/config"
	"github.com/Corphon/StoryLoomMCP/internal/di"
	"github.com/Corphon/StoryLoomMCP/internal/services"
	"github.com/Corphon/StoryLoomMCP/internal/storage"
)

// SetupRouter 配置HTTP路由
func SetupRouter() (*gin.Engine, error) {
	cfg := config.GetCurrentConfig()

	// 获取依赖注入容器
	container := di.GetContainer()

	// ✅ 只从容器获取服务，不再创建新实例
	projectService, ok := container.Get("project").(*services.ProjectService)
	if !ok {
		return nil, fmt.Errorf("项目服务未正确初始化")
	}

	outlineService, ok := container.Get("outline").(*services.OutlineService)
	if !ok {
		return nil, fmt.Errorf("大纲服务未正确初始化")
	}

	characterService, ok := container.Get("character").(*services.CharacterService)
	if !ok {
		return nil, fmt.Errorf("角色服务未正确初始化")
	}

	crossRefService, ok := container.Get("crossref").(*services.CrossRefService)
	if !ok {
		return nil, fmt.Errorf("交叉引用服务未正确初始化")
	}

	dispatcher, ok := container.Get("dispatcher").(*services.DispatcherService)
	if !ok {
		return nil, fmt.Errorf("调度器未正确初始化")
	}

	contextService, ok := container.Get("context").(*services.ContextService)
	if !ok {
		return nil, fmt.Errorf("上下文服务未正确初始化")
	}

	chatService, ok := container.Get("chat").(*services.ChatService)
	if !ok {
		return nil, fmt.Errorf("对话服务未正确初始化")
	}

	imageService, ok := container.Get("image").(*services.ImageService)
	if !ok {
		return nil, fmt.Errorf("图像服务未正确初始化")
	}

	generatorService, ok := container.Get("generator").(*services.GeneratorService)
	if !ok {
		return nil, fmt.Errorf("生成服务未正确初始化")
	}

	imageStore, ok := container.Get("image_store").(*storage.ImageStore)
	if !ok {
		return nil, fmt.Errorf("图像存储未正确初始化")
	}

	handler := &Handler{
		ProjectService:   projectService,
		OutlineService:   outlineService,
		CharacterService: characterService,
		CrossRefService:  crossRefService,
		Dispatcher:       dispatcher,
		ContextService:   contextService,
		ChatService:      chatService,
		ImageService:     imageService,
		GeneratorService: generatorService,
		ImageStore:       imageStore,
		WebSocketHandler: NewWebSocketHandler(chatService),
		Response:         NewResponseHelper(),
	}

	if !cfg.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()

	r.Use(corsMiddleware())
	r.Use(RequestIDMiddleware())
	r.Use(DefaultRateLimit())

	// WebSocket 支持
	r.GET("/ws/projects/:id/chat", handler.WebSocketHandler.ChatWebSocket)

	// ===============================
	// API路由组
	// ===============================
	api := r.Group("/api")
	{
		// ===============================
		// 项目相关路由
		// ===============================
		projectsGroup := api.Group("/projects")
		{
			projectsGroup.GET("", handler.GetProjects)
			projectsGroup.POST("", handler.CreateProject)
			projectsGroup.POST("/bootstrap", GenerationRateLimit(), handler.BootstrapProject)
			projectsGroup.GET("/:id", handler.GetProject)
			projectsGroup.PUT("/:id", handler.UpdateProject)
			projectsGroup.DELETE("/:id", handler.DeleteProject)
			projectsGroup.GET("/:id/context", handler.GetProjectContext)

			// 大纲相关路由
			projectsGroup.GET("/:id/outline", handler.GetOutline)
			sectionsGroup := projectsGroup.Group("/:id/sections")
			{
				sectionsGroup.POST("", handler.AddSection)
				sectionsGroup.PUT("/:section_id", handler.UpdateSection)
				sectionsGroup.DELETE("/:section_id", handler.DeleteSection)
				sectionsGroup.POST("/:section_id/move", handler.MoveSection)
				sectionsGroup.POST("/:section_id/image", GenerationRateLimit(), handler.GenerateSectionImage)

				// 章节-角色交叉引用
				sectionsGroup.GET("/:section_id/characters", handler.GetSectionCharacters)
				sectionsGroup.PUT("/:section_id/characters/:character_id", handler.AssociateCharacter)
				sectionsGroup.DELETE("/:section_id/characters/:character_id", handler.DissociateCharacter)
			}

			// 角色相关路由
			charactersGroup := projectsGroup.Group("/:id/characters")
			{
				charactersGroup.GET("", handler.GetCharacters)
				charactersGroup.POST("", handler.AddCharacter)
				charactersGroup.PUT("/:character_id", handler.UpdateCharacter)
				charactersGroup.DELETE("/:character_id", handler.DeleteCharacter)
				charactersGroup.GET("/:character_id/sections", handler.GetCharacterSections)
				charactersGroup.POST("/:character_id/image", GenerationRateLimit(), handler.GenerateCharacterImage)
			}

			// 笔记相关路由
			notesGroup := projectsGroup.Group("/:id/notes")
			{
				notesGroup.POST("", handler.AddNote)
				notesGroup.PUT("/:note_id", handler.UpdateNote)
				notesGroup.DELETE("/:note_id", handler.DeleteNote)
			}

			// 任务清单相关路由
			taskListsGroup := projectsGroup.Group("/:id/tasklists")
			{
				taskListsGroup.POST("", handler.AddTaskList)
				taskListsGroup.DELETE("/:list_id", handler.DeleteTaskList)
				taskListsGroup.POST("/:list_id/tasks", handler.AddTask)
				taskListsGroup.PUT("/:list_id/tasks/:task_id", handler.UpdateTask)
				taskListsGroup.DELETE("/:list_id/tasks/:task_id", handler.DeleteTask)
			}

			// 会话历史
			projectsGroup.GET("/:id/messages", handler.GetMessages)
			projectsGroup.DELETE("/:id/messages", handler.ClearMessages)
		}

		// ===============================
		// 聊天相关路由
		// ===============================
		api.POST("/chat", ChatRateLimit(), handler.Chat)

		// ===============================
		// 图像相关路由
		// ===============================
		api.POST("/images/candidates", GenerationRateLimit(), handler.GenerateImageCandidates)
		api.GET("/images/:key", handler.GetImage)

		// ===============================
		// 设置相关路由
		// ===============================
		settingsGroup := api.Group("/settings")
		{
			settingsGroup.GET("", handler.GetSettings)
			settingsGroup.PUT("/llm", handler.UpdateLLMConfig)
		}
		api.GET("/llm/models", handler.GetLLMModels)

		// 调试路由
		api.GET("/ws/status", func(c *gin.Context) {
			status := handler.WebSocketHandler.Status()
			status["timestamp"] = time.Now().Format(time.RFC3339)
			c.JSON(http.StatusOK, status)
		})
	}

	return r, nil
}

// corsMiddleware 实现跨域资源共享
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
