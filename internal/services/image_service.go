// internal/services/image_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/Corphon/StoryLoomMCP/internal/errors"
	"github.com/Corphon/StoryLoomMCP/internal/llm"
	"github.com/Corphon/StoryLoomMCP/internal/models"
	"github.com/Corphon/StoryLoomMCP/internal/storage"
)

// DefaultImageMimeType 提供商未声明类型时的兜底
const DefaultImageMimeType = "image/png"

// MaxImageCandidates 单次候选图生成的并发上限
const MaxImageCandidates = 4

// ImageService 封装图像生成协作方
//
// 生成结果以 data: URL 形式写入实体的 image_url 字段，持久化时
// 由项目服务外置到图像存储。协作方失败统一转换为带重试标记的
// 外部协作方错误：内容安全拦截不可重试，其余视为瞬时。
type ImageService struct {
	Provider       llm.Provider
	ProjectService *ProjectService
	OutlineService *OutlineService
}

// NewImageService 创建图像服务
func NewImageService(provider llm.Provider, projectService *ProjectService, outlineService *OutlineService) *ImageService {
	return &ImageService{
		Provider:       provider,
		ProjectService: projectService,
		OutlineService: outlineService,
	}
}

// imageProvider 探测当前提供商的图像生成能力
func (s *ImageService) imageProvider() (llm.ImageProvider, error) {
	if s.Provider == nil {
		return nil, apperrors.NewExternalError("未配置LLM提供商", nil, false)
	}
	ip, ok := s.Provider.(llm.ImageProvider)
	if !ok {
		return nil, apperrors.NewUnsupportedOperationError(
			fmt.Sprintf("提供商 %s 不支持图像生成", s.Provider.GetName()), nil)
	}
	return ip, nil
}

// generate 调用协作方生成一张图，返回 data: URL
func (s *ImageService) generate(ctx context.Context, description, aspectRatio string) (string, error) {
	ip, err := s.imageProvider()
	if err != nil {
		return "", err
	}

	resp, err := ip.GenerateImage(ctx, llm.ImageRequest{
		Description: description,
		AspectRatio: aspectRatio,
	})
	if err != nil {
		if errors.Is(err, llm.ErrContentBlocked) {
			return "", apperrors.NewExternalError("图像生成被内容安全策略拦截", err, false)
		}
		return "", apperrors.NewExternalError("图像生成失败", err, true)
	}

	mimeType := resp.MimeType
	if mimeType == "" {
		mimeType = DefaultImageMimeType
	}
	return storage.EncodeRawPayload(mimeType, resp.Base64Data), nil
}

// GenerateCharacterImage 为角色生成形象图并更新其 image_url
func (s *ImageService) GenerateCharacterImage(ctx context.Context, projectID, characterID, style, aspectRatio string) (*models.Character, error) {
	project, err := s.ProjectService.LoadProject(projectID)
	if err != nil {
		return nil, err
	}

	character := project.FindCharacter(characterID)
	if character == nil {
		return nil, apperrors.NewNotFoundError(
			fmt.Sprintf("角色不存在: %s", characterID), nil)
	}

	dataURL, err := s.generate(ctx, characterImagePrompt(character, style), aspectRatio)
	if err != nil {
		return nil, err
	}

	character.ImageURL = dataURL
	if _, err := s.ProjectService.UpdateProject(project); err != nil {
		return nil, err
	}
	return character, nil
}

// GenerateSectionImage 为大纲章节生成插图并更新其 image_url
func (s *ImageService) GenerateSectionImage(ctx context.Context, projectID, sectionID, style, aspectRatio string) (*models.OutlineSection, error) {
	project, err := s.ProjectService.LoadProject(projectID)
	if err != nil {
		return nil, err
	}

	section := s.OutlineService.FindByID(project, sectionID)
	if section == nil {
		return nil, apperrors.NewNotFoundError(
			fmt.Sprintf("章节不存在: %s", sectionID), nil)
	}

	dataURL, err := s.generate(ctx, sectionImagePrompt(section, style), aspectRatio)
	if err != nil {
		return nil, err
	}

	section.ImageURL = dataURL
	if _, err := s.ProjectService.UpdateProject(project); err != nil {
		return nil, err
	}
	return section, nil
}

// GenerateCandidates 并发生成多张候选图（全有或全无）
//
// 任何一张失败即整体失败并取消其余请求，不返回部分结果：候选集
// 的意义在于让作者在同一批次里比较挑选。
func (s *ImageService) GenerateCandidates(ctx context.Context, description, aspectRatio string, count int) ([]string, error) {
	if count <= 0 {
		count = 1
	}
	if count > MaxImageCandidates {
		count = MaxImageCandidates
	}

	candidates := make([]string, count)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < count; i++ {
		i := i
		g.Go(func() error {
			dataURL, err := s.generate(gctx, description, aspectRatio)
			if err != nil {
				return err
			}
			candidates[i] = dataURL
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return candidates, nil
}

// characterImagePrompt 组合角色档案为图像描述
func characterImagePrompt(character *models.Character, style string) string {
	var parts []string
	parts = append(parts, "角色肖像: "+character.Name)
	if character.Appearance != "" {
		parts = append(parts, "外貌: "+character.Appearance)
	} else if character.Description != "" {
		parts = append(parts, character.Description)
	}
	if character.Personality != "" {
		parts = append(parts, "气质: "+character.Personality)
	}
	if style != "" {
		parts = append(parts, "风格: "+style)
	}
	return strings.Join(parts, "。")
}

// sectionImagePrompt 组合章节信息为图像描述
func sectionImagePrompt(section *models.OutlineSection, style string) string {
	var parts []string
	parts = append(parts, "场景插图: "+section.Title)
	if section.Content != "" {
		parts = append(parts, firstLine(section.Content))
	}
	if style != "" {
		parts = append(parts, "风格: "+style)
	}
	return strings.Join(parts, "。")
}
