// internal/services/chat_service_test.go
package services

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Corphon/StoryLoomMCP/internal/errors"
	"github.com/Corphon/StoryLoomMCP/internal/models"
)

func TestToolCatalogueMatchesIntentKinds(t *testing.T) {
	catalogue := ToolCatalogue()
	require.Len(t, catalogue, 7)

	kinds := map[string]bool{}
	for _, tool := range catalogue {
		assert.NotEmpty(t, tool.Description)
		assert.True(t, json.Valid(tool.Parameters), "参数schema必须是合法JSON: %s", tool.Name)
		kinds[tool.Name] = true
	}

	for _, kind := range []models.IntentKind{
		models.IntentAddSection, models.IntentUpdateSection, models.IntentDeleteSection,
		models.IntentMoveSection, models.IntentAddCharacter, models.IntentUpdateCharacter,
		models.IntentDeleteCharacter,
	} {
		assert.True(t, kinds[string(kind)], "缺少工具: %s", kind)
	}
}

func TestCoerceAddSection(t *testing.T) {
	intent, err := CoerceToolCall(models.ToolCall{
		Name:      string(models.IntentAddSection),
		Arguments: json.RawMessage(`{"title":"第三幕","parent_id":"sec_abc"}`),
	})
	require.NoError(t, err)

	add, ok := intent.(models.AddSectionIntent)
	require.True(t, ok)
	assert.Equal(t, "第三幕", add.Title)
	assert.Equal(t, "sec_abc", add.ParentID)
}

func TestCoerceUpdateSectionDistinguishesAbsentFromEmpty(t *testing.T) {
	intent, err := CoerceToolCall(models.ToolCall{
		Name:      string(models.IntentUpdateSection),
		Arguments: json.RawMessage(`{"section_id":"sec_abc","content":""}`),
	})
	require.NoError(t, err)

	update, ok := intent.(models.UpdateSectionIntent)
	require.True(t, ok)
	assert.Nil(t, update.Title, "未提供的字段是nil")
	require.NotNil(t, update.Content, "显式提供的空串不是nil")
	assert.Equal(t, "", *update.Content)
}

func TestCoerceUnknownToolRejected(t *testing.T) {
	_, err := CoerceToolCall(models.ToolCall{
		Name:      "renameProject",
		Arguments: json.RawMessage(`{}`),
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsUnsupportedOperationError(err))
}

func TestCoerceMissingRequiredField(t *testing.T) {
	cases := []models.ToolCall{
		{Name: string(models.IntentAddSection), Arguments: json.RawMessage(`{"content":"无标题"}`)},
		{Name: string(models.IntentUpdateSection), Arguments: json.RawMessage(`{"title":"x"}`)},
		{Name: string(models.IntentDeleteSection), Arguments: json.RawMessage(`{}`)},
		{Name: string(models.IntentMoveSection), Arguments: json.RawMessage(`{}`)},
		{Name: string(models.IntentAddCharacter), Arguments: json.RawMessage(`{"name":"无简介"}`)},
		{Name: string(models.IntentUpdateCharacter), Arguments: json.RawMessage(`{"name":"x"}`)},
		{Name: string(models.IntentDeleteCharacter), Arguments: json.RawMessage(`{}`)},
	}

	for _, call := range cases {
		_, err := CoerceToolCall(call)
		require.Error(t, err, "工具 %s 缺少必填字段应被拒绝", call.Name)
		assert.True(t, apperrors.IsInvalidOperationError(err), "工具 %s", call.Name)
	}
}

func TestCoerceMalformedJSONRejected(t *testing.T) {
	_, err := CoerceToolCall(models.ToolCall{
		Name:      string(models.IntentAddSection),
		Arguments: json.RawMessage(`{"title": `),
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsInvalidOperationError(err))
}

func TestCoerceInvalidMovePositionRejected(t *testing.T) {
	_, err := CoerceToolCall(models.ToolCall{
		Name:      string(models.IntentMoveSection),
		Arguments: json.RawMessage(`{"section_id":"sec_abc","target_sibling_id":"sec_def","position":"above"}`),
	})
	require.Error(t, err)
	assert.True(t, apperrors.IsInvalidOperationError(err))
}

func TestCoerceUpdateCharacterMergesFlatFields(t *testing.T) {
	intent, err := CoerceToolCall(models.ToolCall{
		Name: string(models.IntentUpdateCharacter),
		Arguments: json.RawMessage(`{
			"character_id": "char_abc",
			"voice": "冷静克制",
			"relationships": {"艾拉": "旧识"}
		}`),
	})
	require.NoError(t, err)

	update, ok := intent.(models.UpdateCharacterIntent)
	require.True(t, ok)
	assert.Equal(t, "char_abc", update.CharacterID)
	require.NotNil(t, update.Update.Voice)
	assert.Equal(t, "冷静克制", *update.Update.Voice)
	assert.Equal(t, "旧识", update.Update.Relationships["艾拉"])
	assert.Nil(t, update.Update.Name)
}

// 转换后的意图进入调度器后，目标不存在的情况以结构化结果回报
func TestCoercedIntentFlowsThroughDispatcher(t *testing.T) {
	_, _, d := newDispatcherFixture()
	project := newTestProject()

	intent, err := CoerceToolCall(models.ToolCall{
		Name:      string(models.IntentDeleteSection),
		Arguments: json.RawMessage(`{"section_id":"sec_ghost"}`),
	})
	require.NoError(t, err, "转换成功不代表目标存在")

	result := d.Apply(project, intent)
	assert.False(t, result.Success)
	assert.Equal(t, ErrorKindNotFound, result.ErrorKind)
}
