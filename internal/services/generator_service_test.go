// internal/services/generator_service_test.go
package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Corphon/StoryLoomMCP/internal/errors"
	"github.com/Corphon/StoryLoomMCP/internal/llm"
)

const draftJSON = `{
  "title": "迷雾之城",
  "genre": "奇幻",
  "description": "一座被遗忘的城市",
  "outline": [
    {"title": "第一幕", "content": "开端", "children": [
      {"title": "场景1", "content": "城门"},
      {"title": "场景2", "content": "酒馆"}
    ]},
    {"title": "第二幕", "content": "转折"}
  ],
  "characters": [
    {"name": "凯伦", "description": "密探", "personality": "多疑", "motivation": "为家族洗清污名"},
    {"name": "", "description": "没有名字的人"}
  ],
  "notes": [
    {"title": "世界观", "content": "雾是有意识的"}
  ]
}`

func newGeneratorFixture(t *testing.T, provider llm.Provider) (*GeneratorService, *ProjectService) {
	t.Helper()
	ps, outline, _ := newProjectFixture(t)
	crossref := NewCrossRefService(outline)
	characters := NewCharacterService(crossref)
	return NewGeneratorService(provider, ps, outline, characters), ps
}

func TestParseDraft(t *testing.T) {
	draft, err := parseDraft(draftJSON)
	require.NoError(t, err)
	assert.Equal(t, "迷雾之城", draft.Title)
	assert.Len(t, draft.Outline, 2)
	assert.Len(t, draft.Outline[0].Children, 2)
}

func TestParseDraftWrappedInCodeFence(t *testing.T) {
	wrapped := "好的，以下是项目草案：\n```json\n" + draftJSON + "\n```\n希望有帮助。"
	draft, err := parseDraft(wrapped)
	require.NoError(t, err)
	assert.Equal(t, "迷雾之城", draft.Title)
}

func TestParseDraftRejectsGarbage(t *testing.T) {
	for _, input := range []string{"", "没有JSON", "{broken json"} {
		_, err := parseDraft(input)
		assert.Error(t, err, "输入: %q", input)
	}
}

func TestBootstrapProject(t *testing.T) {
	provider := &fakeProvider{chatResponse: &llm.ChatResponse{Text: draftJSON}}
	gs, ps := newGeneratorFixture(t, provider)

	project, err := gs.BootstrapProject(context.Background(), "雾中城市的间谍故事")
	require.NoError(t, err)
	assert.Equal(t, "迷雾之城", project.Title)
	assert.Equal(t, "奇幻", project.Genre)

	// 大纲按草案成树，DFS序覆盖全部章节
	ids := gs.OutlineService.SectionIDsInOrder(project)
	assert.Len(t, ids, 4)
	require.Len(t, project.Outline, 2)
	assert.Equal(t, "第一幕", project.Outline[0].Title)
	require.Len(t, project.Outline[0].Children, 2)
	assert.Equal(t, "场景2", project.Outline[0].Children[1].Title)

	// 无名角色被跳过
	require.Len(t, project.Characters, 1)
	assert.Equal(t, "凯伦", project.Characters[0].Name)
	assert.Equal(t, "为家族洗清污名", project.Characters[0].Motivation)

	require.Len(t, project.Notes, 1)
	assert.Equal(t, "世界观", project.Notes[0].Title)

	// 已持久化
	loaded, err := ps.LoadProject(project.ID)
	require.NoError(t, err)
	assert.Equal(t, "迷雾之城", loaded.Title)
}

func TestBootstrapProjectFallsBackOnUnparsableOutput(t *testing.T) {
	provider := &fakeProvider{chatResponse: &llm.ChatResponse{Text: "抱歉，我无法完成这个任务。"}}
	gs, ps := newGeneratorFixture(t, provider)

	project, err := gs.BootstrapProject(context.Background(), "雾中城市的间谍故事")
	require.NoError(t, err)
	assert.Equal(t, "未命名项目", project.Title)
	assert.Equal(t, "雾中城市的间谍故事", project.Description, "创意保留为项目简介")
	assert.Empty(t, project.Outline)

	_, err = ps.LoadProject(project.ID)
	assert.NoError(t, err)
}

func TestBootstrapProjectEmptyPremise(t *testing.T) {
	gs, _ := newGeneratorFixture(t, &fakeProvider{})

	_, err := gs.BootstrapProject(context.Background(), "   ")
	require.Error(t, err)
	assert.True(t, apperrors.IsValidationError(err))
}

func TestBootstrapProjectWithoutProvider(t *testing.T) {
	gs, _ := newGeneratorFixture(t, nil)

	_, err := gs.BootstrapProject(context.Background(), "雾中城市的间谍故事")
	require.Error(t, err)
	assert.True(t, apperrors.IsExternalError(err))
	assert.False(t, apperrors.IsRetryable(err))
}
