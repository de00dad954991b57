// internal/services/character_service_test.go
package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Corphon/StoryLoomMCP/internal/errors"
	"github.com/Corphon/StoryLoomMCP/internal/models"
)

func newCharacterFixture() (*OutlineService, *CrossRefService, *CharacterService) {
	outline := NewOutlineService()
	crossref := NewCrossRefService(outline)
	return outline, crossref, NewCharacterService(crossref)
}

func TestAddCharacter(t *testing.T) {
	_, _, cs := newCharacterFixture()
	project := newTestProject()

	kaelen, err := cs.AddCharacter(project, models.Character{
		Name:        "凯伦",
		Description: "流亡的王室密探",
		Motivation:  "为家族洗清污名",
	})
	require.NoError(t, err)
	require.NotEmpty(t, kaelen.ID)
	assert.Len(t, project.Characters, 1)
}

func TestAddCharacterRequiredFields(t *testing.T) {
	_, _, cs := newCharacterFixture()
	project := newTestProject()

	_, err := cs.AddCharacter(project, models.Character{Description: "无名者"})
	require.Error(t, err)
	assert.True(t, apperrors.IsInvalidOperationError(err))

	_, err = cs.AddCharacter(project, models.Character{Name: "无简介者"})
	require.Error(t, err)
	assert.True(t, apperrors.IsInvalidOperationError(err))

	assert.Empty(t, project.Characters)
}

func TestCharacterInsertionOrderPreserved(t *testing.T) {
	_, _, cs := newCharacterFixture()
	project := newTestProject()

	names := []string{"甲", "乙", "丙"}
	for _, name := range names {
		_, err := cs.AddCharacter(project, models.Character{Name: name, Description: "测试"})
		require.NoError(t, err)
	}

	for i, c := range project.Characters {
		assert.Equal(t, names[i], c.Name)
	}
}

func TestUpdateCharacterPartial(t *testing.T) {
	_, _, cs := newCharacterFixture()
	project := newTestProject()

	kaelen, err := cs.AddCharacter(project, models.Character{
		Name:        "凯伦",
		Description: "密探",
		Relationships: map[string]string{"艾拉": "旧识"},
	})
	require.NoError(t, err)

	voice := "冷静克制"
	err = cs.UpdateCharacter(project, kaelen.ID, models.CharacterUpdate{
		Voice:         &voice,
		Relationships: map[string]string{"维恩": "宿敌"},
	})
	require.NoError(t, err)

	assert.Equal(t, "凯伦", kaelen.Name, "未提供的字段保持原值")
	assert.Equal(t, "冷静克制", kaelen.Voice)
	assert.Equal(t, "旧识", kaelen.Relationships["艾拉"], "关系按键合并")
	assert.Equal(t, "宿敌", kaelen.Relationships["维恩"])
}

func TestUpdateCharacterEmptyNameRejected(t *testing.T) {
	_, _, cs := newCharacterFixture()
	project := newTestProject()

	kaelen, err := cs.AddCharacter(project, models.Character{Name: "凯伦", Description: "密探"})
	require.NoError(t, err)

	empty := ""
	err = cs.UpdateCharacter(project, kaelen.ID, models.CharacterUpdate{Name: &empty})
	require.Error(t, err)
	assert.True(t, apperrors.IsInvalidOperationError(err))
	assert.Equal(t, "凯伦", kaelen.Name)
}

func TestUpdateCharacterNotFound(t *testing.T) {
	_, _, cs := newCharacterFixture()
	project := newTestProject()

	name := "幽灵"
	err := cs.UpdateCharacter(project, "char_ghost", models.CharacterUpdate{Name: &name})
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFoundError(err))
}

func TestDeleteCharacterCleansCrossRefs(t *testing.T) {
	outline, crossref, cs := newCharacterFixture()
	project := newTestProject()
	_, scene1, scene2, act2 := buildScenario(t, outline, project)

	kaelen, err := cs.AddCharacter(project, models.Character{Name: "凯伦", Description: "密探"})
	require.NoError(t, err)

	// 三个章节引用凯伦
	require.NoError(t, crossref.Associate(project, scene1.ID, kaelen.ID))
	require.NoError(t, crossref.Associate(project, scene2.ID, kaelen.ID))
	require.NoError(t, crossref.Associate(project, act2.ID, kaelen.ID))

	removed, affected, err := cs.DeleteCharacter(project, kaelen.ID)
	require.NoError(t, err)
	assert.Equal(t, kaelen.ID, removed.ID)
	assert.Equal(t, []string{scene1.ID, scene2.ID, act2.ID}, affected,
		"受影响章节按深度优先顺序返回，且恰好是引用过该角色的章节")

	// 引用被彻底清除
	outline.WalkDepthFirst(project, func(section *models.OutlineSection, depth int) bool {
		assert.False(t, section.HasCharacter(kaelen.ID))
		return true
	})
	assert.Empty(t, project.Characters)
}

func TestDeleteCharacterNotFound(t *testing.T) {
	_, _, cs := newCharacterFixture()
	project := newTestProject()

	_, _, err := cs.DeleteCharacter(project, "char_ghost")
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFoundError(err))
}
