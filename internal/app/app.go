// internal/app/app.go
package app

import (
	"fmt"
	"path/filepath"

	"github.com/Corphon/StoryLoomMCP/internal/config"
	"github.com/Corphon/StoryLoomMCP/internal/di"
	"github.com/Corphon/StoryLoomMCP/internal/llm"
	"github.com/Corphon/StoryLoomMCP/internal/services"
	"github.com/Corphon/StoryLoomMCP/internal/storage"
	"github.com/Corphon/StoryLoomMCP/internal/utils"
)

// InitServices 按依赖顺序创建并注册所有服务
//
// 路由层只从容器取服务，不自行创建实例；这里是唯一的装配点。
func InitServices() error {
	cfg := config.GetCurrentConfig()
	container := di.GetContainer()

	// 1. 存储层
	fileStorage, err := storage.NewFileStorage(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("初始化文件存储失败: %w", err)
	}
	fileStorage.StartCacheCleanup()
	container.Register("storage", fileStorage)

	imageStore, err := storage.NewImageStore(filepath.Join(cfg.DataDir, "images"))
	if err != nil {
		return fmt.Errorf("初始化图像存储失败: %w", err)
	}
	container.Register("image_store", imageStore)

	// 2. 核心服务（无外部依赖）
	outlineService := services.NewOutlineService()
	container.Register("outline", outlineService)

	crossRefService := services.NewCrossRefService(outlineService)
	container.Register("crossref", crossRefService)

	characterService := services.NewCharacterService(crossRefService)
	container.Register("character", characterService)

	dispatcher := services.NewDispatcherService(outlineService, characterService)
	container.Register("dispatcher", dispatcher)

	// 3. 持久化与上下文
	projectService := services.NewProjectService(fileStorage, imageStore, outlineService)
	container.Register("project", projectService)

	contextService := services.NewContextService(fileStorage)
	container.Register("context", contextService)

	// 4. LLM提供商（未配置密钥时服务仍然启动，对话功能降级）
	var provider llm.Provider
	if cfg.LLMProvider != "" && cfg.LLMConfig["api_key"] != "" {
		provider, err = llm.GetProvider(cfg.LLMProvider, cfg.LLMConfig)
		if err != nil {
			utils.GetLogger().Warnf("初始化LLM提供商 %s 失败: %v", cfg.LLMProvider, err)
			provider = nil
		}
	} else {
		utils.GetLogger().Warnf("未配置LLM提供商，对话和生成功能在配置前不可用")
	}
	if provider != nil {
		container.Register("llm_provider", provider)
	}

	// 5. LLM相关服务
	chatService := services.NewChatService(provider, projectService, contextService, outlineService, dispatcher)
	container.Register("chat", chatService)

	imageService := services.NewImageService(provider, projectService, outlineService)
	container.Register("image", imageService)

	generatorService := services.NewGeneratorService(provider, projectService, outlineService, characterService)
	container.Register("generator", generatorService)

	return nil
}
