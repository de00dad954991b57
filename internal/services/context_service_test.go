// internal/services/context_service_test.go
package services

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Corphon/StoryLoomMCP/internal/errors"
	"github.com/Corphon/StoryLoomMCP/internal/models"
	"github.com/Corphon/StoryLoomMCP/internal/storage"
)

func newContextFixture(t *testing.T) (*ContextService, *OutlineService) {
	t.Helper()
	fileStorage, err := storage.NewFileStorage(t.TempDir())
	require.NoError(t, err)
	return NewContextService(fileStorage), NewOutlineService()
}

func TestBuildContextContainsAddressableIDs(t *testing.T) {
	cs, outline := newContextFixture(t)
	project := newTestProject()
	act1, scene1, _, _ := buildScenario(t, outline, project)

	character := &models.Character{ID: "char_1", Name: "凯伦", Description: "密探\n多行简介"}
	project.Characters = append(project.Characters, character)
	project.Notes = append(project.Notes, &models.Note{ID: "note_1", Title: "世界观"})

	text, err := cs.BuildContext(project, outline, nil)
	require.NoError(t, err)

	// 每个实体都以 [id] 形式可寻址
	assert.Contains(t, text, "凯伦 [char_1]")
	assert.Contains(t, text, "第一幕 ["+act1.ID+"]")
	assert.Contains(t, text, "场景1 ["+scene1.ID+"]")
	assert.Contains(t, text, "世界观 [note_1]")
	assert.Contains(t, text, "密探", "角色摘要只取第一行")
	assert.NotContains(t, text, "多行简介")
}

func TestBuildContextEmptyProject(t *testing.T) {
	cs, outline := newContextFixture(t)
	project := newTestProject()

	text, err := cs.BuildContext(project, outline, nil)
	require.NoError(t, err)
	assert.Contains(t, text, "暂无角色")
	assert.Contains(t, text, "暂无大纲")
}

func TestBuildContextFocusedSection(t *testing.T) {
	cs, outline := newContextFixture(t)
	project := newTestProject()
	act1, _, _, _ := buildScenario(t, outline, project)
	project.Characters = append(project.Characters, &models.Character{ID: "char_1", Name: "凯伦", Description: "密探"})
	act1.CharacterIDs = []string{"char_1"}

	text, err := cs.BuildContext(project, outline, &models.FocusedEntity{
		Kind: models.EntityKindSection,
		ID:   act1.ID,
	})
	require.NoError(t, err)
	assert.Contains(t, text, "当前聚焦")
	assert.Contains(t, text, "开端", "聚焦章节附带完整内容")
	assert.Contains(t, text, "凯伦 [char_1]")
}

func TestBuildContextFocusedCharacter(t *testing.T) {
	cs, outline := newContextFixture(t)
	project := newTestProject()
	project.Characters = append(project.Characters, &models.Character{
		ID:          "char_1",
		Name:        "凯伦",
		Description: "密探",
		Motivation:  "为家族洗清污名",
	})

	text, err := cs.BuildContext(project, outline, &models.FocusedEntity{
		Kind: models.EntityKindCharacter,
		ID:   "char_1",
	})
	require.NoError(t, err)
	assert.Contains(t, text, "为家族洗清污名")
}

func TestBuildContextFocusedGhostEntity(t *testing.T) {
	cs, outline := newContextFixture(t)
	project := newTestProject()

	_, err := cs.BuildContext(project, outline, &models.FocusedEntity{
		Kind: models.EntityKindNote,
		ID:   "note_ghost",
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFoundError(err))
}

func TestBuildContextUnknownFocusKind(t *testing.T) {
	cs, outline := newContextFixture(t)
	project := newTestProject()

	_, err := cs.BuildContext(project, outline, &models.FocusedEntity{
		Kind: "chapter",
		ID:   "x",
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsUnsupportedOperationError(err))
}

func TestConversationHistoryPersistence(t *testing.T) {
	cs, _ := newContextFixture(t)

	_, err := cs.AddMessage("proj_1", models.RoleUser, "你好")
	require.NoError(t, err)
	_, err = cs.AddMessage("proj_1", models.RoleAssistant, "你好，需要什么帮助？")
	require.NoError(t, err)

	messages, err := cs.GetAllMessages("proj_1")
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, models.RoleUser, messages[0].Role)
	assert.Equal(t, "你好", messages[0].Content)
}

func TestRecentMessagesWindow(t *testing.T) {
	cs, _ := newContextFixture(t)

	for i := 0; i < 25; i++ {
		_, err := cs.AddMessage("proj_1", models.RoleUser, fmt.Sprintf("消息%d", i))
		require.NoError(t, err)
	}

	recent, err := cs.GetRecentMessages("proj_1", 10)
	require.NoError(t, err)
	require.Len(t, recent, 10)
	assert.Equal(t, "消息15", recent[0].Content)
	assert.Equal(t, "消息24", recent[9].Content)

	// limit<=0 使用默认窗口
	recent, err = cs.GetRecentMessages("proj_1", 0)
	require.NoError(t, err)
	assert.Len(t, recent, DefaultHistoryWindow)
}

func TestClearHistory(t *testing.T) {
	cs, _ := newContextFixture(t)

	_, err := cs.AddMessage("proj_1", models.RoleUser, "你好")
	require.NoError(t, err)
	require.NoError(t, cs.ClearHistory("proj_1"))

	messages, err := cs.GetAllMessages("proj_1")
	require.NoError(t, err)
	assert.Empty(t, messages)

	// 清空不存在的历史是无操作
	assert.NoError(t, cs.ClearHistory("proj_ghost"))
}
