// internal/services/generator_service.go
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

// GeneratorService 从一句创意出发搭建项目初始骨架
//
// 模型被要求输出固定形状的JSON；解析出的草案通过大纲/角色服务
// 写入聚合，保证生成内容同样满足结构不变量。模型输出不可靠时
// 回退为仅含基本信息的空项目。
type GeneratorService struct {
	Provider         llm.Provider
	ProjectService   *ProjectService
	OutlineService   *OutlineService
	CharacterService *CharacterService
}

// NewGeneratorService 创建生成服务
func NewGeneratorService(provider llm.Provider, projectService *ProjectService, outlineService *OutlineService, characterService *CharacterService) *GeneratorService {
	return &GeneratorService{
		Provider:         provider,
		ProjectService:   projectService,
		OutlineService:   outlineService,
		CharacterService: characterService,
	}
}

// 生成草案的线格式
type projectDraft struct {
	Title       string         `json:"title"`
	Genre       string         `json:"genre"`
	Description string         `json:"description"`
	Outline     []sectionDraft `json:"outline"`
	Characters  []struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Personality string `json:"personality"`
		Motivation  string `json:"motivation"`
	} `json:"characters"`
	Notes []struct {
		Title   string `json:"title"`
		Content string `json:"content"`
	} `json:"notes"`
}

type sectionDraft struct {
	Title    string         `json:"title"`
	Content  string         `json:"content"`
	Children []sectionDraft `json:"children"`
}

const generatorSystemPrompt = `你是一位小说策划助理。根据作者给出的创意，输出一个JSON对象，
不要输出任何JSON之外的文字。形状如下：
{
  "title": "书名",
  "genre": "类型",
  "description": "一段简介",
  "outline": [{"title": "...", "content": "...", "children": [...]}],
  "characters": [{"name": "...", "description": "...", "personality": "...", "motivation": "..."}],
  "notes": [{"title": "...", "content": "..."}]
}
大纲控制在两层以内，角色3到5个。`

// BootstrapProject 根据创意生成并持久化一个新项目
func (s *GeneratorService) BootstrapProject(ctx context.Context, premise string) (*models.Project, error) {
	if strings.TrimSpace(premise) == "" {
		return nil, apperrors.NewValidationError("创意描述不能为空", nil)
	}
	if s.Provider == nil {
		return nil, apperrors.NewExternalError("未配置LLM提供商", nil, false)
	}

	response, err := s.Provider.Chat(ctx, llm.ChatRequest{
		Messages:     []llm.Message{{Role: models.RoleUser, Content: premise}},
		SystemPrompt: generatorSystemPrompt,
	})
	if err != nil {
		return nil, apperrors.NewExternalError("项目生成失败", err, llm.IsRetryable(err))
	}

	draft, err := parseDraft(response.Text)
	if err != nil {
		utils.GetLogger().Warnf("项目草案解析失败，回退为空项目: %v", err)
		project := s.ProjectService.NewProject("未命名项目", "", premise)
		return s.ProjectService.CreateProject(project)
	}

	if draft.Title == "" {
		draft.Title = "未命名项目"
	}
	project := s.ProjectService.NewProject(draft.Title, draft.Genre, draft.Description)

	for _, root := range draft.Outline {
		if err := s.addSectionTree(project, root, ""); err != nil {
			return nil, err
		}
	}

	for _, c := range draft.Characters {
		if c.Name == "" || c.Description == "" {
			continue
		}
		if _, err := s.CharacterService.AddCharacter(project, models.Character{
			Name:        c.Name,
			Description: c.Description,
			Personality: c.Personality,
			Motivation:  c.Motivation,
		}); err != nil {
			return nil, err
		}
	}

	for _, n := range draft.Notes {
		if n.Title == "" {
			continue
		}
		s.ProjectService.AddNote(project, n.Title, n.Content)
	}

	return s.ProjectService.CreateProject(project)
}

// addSectionTree 按草案递归写入章节子树
func (s *GeneratorService) addSectionTree(project *models.Project, draft sectionDraft, parentID string) error {
	if draft.Title == "" {
		return nil
	}
	section, err := s.OutlineService.AddSection(project, draft.Title, draft.Content, parentID)
	if err != nil {
		return err
	}
	for _, child := range draft.Children {
		if err := s.addSectionTree(project, child, section.ID); err != nil {
			return err
		}
	}
	return nil
}

// parseDraft 从模型输出中提取JSON草案
//
// 模型偶尔会把JSON包在代码块或说明文字里，取第一个 '{' 到最后
// 一个 '}' 之间的内容再解析。
func parseDraft(text string) (*projectDraft, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("输出中没有JSON对象")
	}

	var draft projectDraft
	if err := json.Unmarshal([]byte(text[start:end+1]), &draft); err != nil {
		return nil, err
	}
	return &draft, nil
}
