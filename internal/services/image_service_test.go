// internal/services/image_service_test.go
package services

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Corphon/StoryLoomMCP/internal/errors"
	"github.com/Corphon/StoryLoomMCP/internal/llm"
	"github.com/Corphon/StoryLoomMCP/internal/models"
	"github.com/Corphon/StoryLoomMCP/internal/storage"
)

func newImageFixture(t *testing.T, provider llm.Provider) (*ImageService, *ProjectService, *OutlineService) {
	t.Helper()
	ps, outline, _ := newProjectFixture(t)
	return NewImageService(provider, ps, outline), ps, outline
}

func TestGenerateCharacterImage(t *testing.T) {
	provider := &fakeProvider{}
	is, ps, _ := newImageFixture(t, provider)

	project := ps.NewProject("迷雾之城", "", "")
	project.Characters = append(project.Characters,
		&models.Character{ID: "char_1", Name: "凯伦", Description: "密探"})
	_, err := ps.CreateProject(project)
	require.NoError(t, err)

	character, err := is.GenerateCharacterImage(context.Background(), project.ID, "char_1", "水彩", "1:1")
	require.NoError(t, err)

	// 生成结果立即持久化并外置为存储键
	assert.Equal(t, storage.ImageKeyFor("char_1"), character.ImageURL)

	loaded, err := ps.LoadProject(project.ID)
	require.NoError(t, err)
	assert.True(t, storage.IsImageKey(loaded.Characters[0].ImageURL))
}

func TestGenerateImageCharacterNotFound(t *testing.T) {
	is, ps, _ := newImageFixture(t, &fakeProvider{})

	project := ps.NewProject("迷雾之城", "", "")
	_, err := ps.CreateProject(project)
	require.NoError(t, err)

	_, err = is.GenerateCharacterImage(context.Background(), project.ID, "char_ghost", "", "")
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFoundError(err))
}

func TestContentBlockedIsNotRetryable(t *testing.T) {
	provider := &fakeProvider{
		imageErr: fmt.Errorf("生成失败: %w", llm.ErrContentBlocked),
	}
	is, ps, outline := newImageFixture(t, provider)

	project := ps.NewProject("迷雾之城", "", "")
	section, err := outline.AddSection(project, "第一幕", "", "")
	require.NoError(t, err)
	_, err = ps.CreateProject(project)
	require.NoError(t, err)

	_, err = is.GenerateSectionImage(context.Background(), project.ID, section.ID, "", "")
	require.Error(t, err)
	assert.True(t, apperrors.IsExternalError(err))
	assert.False(t, apperrors.IsRetryable(err), "内容安全拦截不可重试")
}

func TestTransientFailureIsRetryable(t *testing.T) {
	provider := &fakeProvider{imageErr: errors.New("connection reset")}
	is, ps, outline := newImageFixture(t, provider)

	project := ps.NewProject("迷雾之城", "", "")
	section, err := outline.AddSection(project, "第一幕", "", "")
	require.NoError(t, err)
	_, err = ps.CreateProject(project)
	require.NoError(t, err)

	_, err = is.GenerateSectionImage(context.Background(), project.ID, section.ID, "", "")
	require.Error(t, err)
	assert.True(t, apperrors.IsRetryable(err))
}

func TestGenerateCandidatesAllOrNothing(t *testing.T) {
	provider := &fakeProvider{}
	is, _, _ := newImageFixture(t, provider)

	candidates, err := is.GenerateCandidates(context.Background(), "雾中的城门", "16:9", 3)
	require.NoError(t, err)
	require.Len(t, candidates, 3)
	for _, c := range candidates {
		assert.False(t, storage.IsImageKey(c), "候选图是原始data:负载，未入库")
		_, _, err := storage.DecodeRawPayload(c)
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&provider.imageCalls))
}

func TestGenerateCandidatesFailureReturnsNothing(t *testing.T) {
	provider := &fakeProvider{imageErr: errors.New("boom")}
	is, _, _ := newImageFixture(t, provider)

	candidates, err := is.GenerateCandidates(context.Background(), "雾中的城门", "", 4)
	require.Error(t, err)
	assert.Nil(t, candidates, "任何一张失败都不返回部分结果")
}

func TestGenerateCandidatesCountClamped(t *testing.T) {
	provider := &fakeProvider{}
	is, _, _ := newImageFixture(t, provider)

	candidates, err := is.GenerateCandidates(context.Background(), "城门", "", 99)
	require.NoError(t, err)
	assert.Len(t, candidates, MaxImageCandidates)

	candidates, err = is.GenerateCandidates(context.Background(), "城门", "", 0)
	require.NoError(t, err)
	assert.Len(t, candidates, 1)
}

func TestProviderWithoutImageCapability(t *testing.T) {
	is, ps, _ := newImageFixture(t, textOnlyProvider{})

	project := ps.NewProject("迷雾之城", "", "")
	project.Characters = append(project.Characters,
		&models.Character{ID: "char_1", Name: "凯伦", Description: "密探"})
	_, err := ps.CreateProject(project)
	require.NoError(t, err)

	_, err = is.GenerateCharacterImage(context.Background(), project.ID, "char_1", "", "")
	require.Error(t, err)
	assert.True(t, apperrors.IsUnsupportedOperationError(err))
}

// textOnlyProvider 只实现对话能力，不支持图像生成
type textOnlyProvider struct{}

func (textOnlyProvider) Initialize(config map[string]string) error { return nil }
func (textOnlyProvider) GetName() string                           { return "text-only" }
func (textOnlyProvider) GetSupportedModels() []string              { return nil }
func (textOnlyProvider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	return &llm.ChatResponse{}, nil
}
func (textOnlyProvider) StreamChat(ctx context.Context, req llm.ChatRequest) (<-chan llm.StreamResponse, error) {
	ch := make(chan llm.StreamResponse)
	close(ch)
	return ch, nil
}
