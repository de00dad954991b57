// internal/services/crossref_service_test.go
package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Corphon/StoryLoomMCP/internal/errors"
	"github.com/Corphon/StoryLoomMCP/internal/models"
)

func TestAssociateIdempotent(t *testing.T) {
	outline, crossref, cs := newCharacterFixture()
	project := newTestProject()
	_, scene1, _, _ := buildScenario(t, outline, project)

	kaelen, err := cs.AddCharacter(project, models.Character{Name: "凯伦", Description: "密探"})
	require.NoError(t, err)

	require.NoError(t, crossref.Associate(project, scene1.ID, kaelen.ID))
	require.NoError(t, crossref.Associate(project, scene1.ID, kaelen.ID))
	assert.Equal(t, []string{kaelen.ID}, scene1.CharacterIDs, "重复关联是无操作")
}

func TestAssociateUnresolvedIDs(t *testing.T) {
	outline, crossref, cs := newCharacterFixture()
	project := newTestProject()
	_, scene1, _, _ := buildScenario(t, outline, project)

	kaelen, err := cs.AddCharacter(project, models.Character{Name: "凯伦", Description: "密探"})
	require.NoError(t, err)

	err = crossref.Associate(project, "sec_ghost", kaelen.ID)
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFoundError(err))

	err = crossref.Associate(project, scene1.ID, "char_ghost")
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFoundError(err))
	assert.Empty(t, scene1.CharacterIDs)
}

func TestDissociateIdempotent(t *testing.T) {
	outline, crossref, cs := newCharacterFixture()
	project := newTestProject()
	_, scene1, _, _ := buildScenario(t, outline, project)

	kaelen, err := cs.AddCharacter(project, models.Character{Name: "凯伦", Description: "密探"})
	require.NoError(t, err)

	require.NoError(t, crossref.Associate(project, scene1.ID, kaelen.ID))
	require.NoError(t, crossref.Dissociate(project, scene1.ID, kaelen.ID))
	require.NoError(t, crossref.Dissociate(project, scene1.ID, kaelen.ID), "解除不存在的关联是无操作")
	assert.Empty(t, scene1.CharacterIDs)
}

func TestCrossRefProjections(t *testing.T) {
	outline, crossref, cs := newCharacterFixture()
	project := newTestProject()
	_, scene1, scene2, _ := buildScenario(t, outline, project)

	kaelen, err := cs.AddCharacter(project, models.Character{Name: "凯伦", Description: "密探"})
	require.NoError(t, err)
	aila, err := cs.AddCharacter(project, models.Character{Name: "艾拉", Description: "学者"})
	require.NoError(t, err)

	require.NoError(t, crossref.Associate(project, scene1.ID, kaelen.ID))
	require.NoError(t, crossref.Associate(project, scene1.ID, aila.ID))
	require.NoError(t, crossref.Associate(project, scene2.ID, kaelen.ID))

	characters, err := crossref.CharactersForSection(project, scene1.ID)
	require.NoError(t, err)
	require.Len(t, characters, 2)
	assert.Equal(t, "凯伦", characters[0].Name)
	assert.Equal(t, "艾拉", characters[1].Name)

	sections, err := crossref.SectionsForCharacter(project, kaelen.ID)
	require.NoError(t, err)
	require.Len(t, sections, 2)
	assert.Equal(t, scene1.ID, sections[0].ID)
	assert.Equal(t, scene2.ID, sections[1].ID)
}

func TestSectionDeletionDoesNotTouchCharacters(t *testing.T) {
	outline, crossref, cs := newCharacterFixture()
	project := newTestProject()
	act1, scene1, _, _ := buildScenario(t, outline, project)

	kaelen, err := cs.AddCharacter(project, models.Character{Name: "凯伦", Description: "密探"})
	require.NoError(t, err)
	require.NoError(t, crossref.Associate(project, scene1.ID, kaelen.ID))

	// 删除引用角色的章节：关联只是弱引用，角色记录不受影响
	_, err = outline.DeleteSection(project, act1.ID)
	require.NoError(t, err)
	assert.NotNil(t, project.FindCharacter(kaelen.ID))
}
