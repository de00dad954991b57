// internal/services/outline_service_test.go
package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/StoryLoomMCP/internal/models"
	apperrors "github.com/Corphon/StoryLoomMCP/internal/errors"
)

func newTestProject() *models.Project {
	return &models.Project{
		ID:      "proj_test",
		Title:   "测试项目",
		Outline: []*models.OutlineSection{},
	}
}

// buildScenario 构造 第一幕/场景1,场景2 + 第二幕 的标准测试大纲
func buildScenario(t *testing.T, s *OutlineService, project *models.Project) (act1, scene1, scene2, act2 *models.OutlineSection) {
	t.Helper()

	var err error
	act1, err = s.AddSection(project, "第一幕", "开端", "")
	require.NoError(t, err)
	scene1, err = s.AddSection(project, "场景1", "", act1.ID)
	require.NoError(t, err)
	scene2, err = s.AddSection(project, "场景2", "", act1.ID)
	require.NoError(t, err)
	act2, err = s.AddSection(project, "第二幕", "发展", "")
	require.NoError(t, err)
	return act1, scene1, scene2, act2
}

func TestAddSection(t *testing.T) {
	s := NewOutlineService()
	project := newTestProject()

	root, err := s.AddSection(project, "第一幕", "开端", "")
	require.NoError(t, err)
	require.NotEmpty(t, root.ID)
	assert.Len(t, project.Outline, 1)

	child, err := s.AddSection(project, "场景1", "", root.ID)
	require.NoError(t, err)
	require.Len(t, root.Children, 1)
	assert.Equal(t, child.ID, root.Children[0].ID)

	// 所有章节ID唯一
	assert.NotEqual(t, root.ID, child.ID)
}

func TestAddSectionParentNotFound(t *testing.T) {
	s := NewOutlineService()
	project := newTestProject()

	_, err := s.AddSection(project, "孤儿章节", "", "sec_ghost")
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFoundError(err))
	assert.Empty(t, project.Outline, "失败的操作不应留下部分变更")
}

func TestUpdateSection(t *testing.T) {
	s := NewOutlineService()
	project := newTestProject()
	act1, _, _, _ := buildScenario(t, s, project)

	newTitle := "第一幕（修订）"
	require.NoError(t, s.UpdateSection(project, act1.ID, &newTitle, nil))
	assert.Equal(t, "第一幕（修订）", act1.Title)
	assert.Equal(t, "开端", act1.Content, "未提供的字段保持原值")
}

func TestUpdateSectionNoFieldsIsNoOp(t *testing.T) {
	s := NewOutlineService()
	project := newTestProject()
	act1, _, _, _ := buildScenario(t, s, project)
	before := act1.LastUpdated

	require.NoError(t, s.UpdateSection(project, act1.ID, nil, nil))
	assert.Equal(t, before, act1.LastUpdated, "空更新不应触碰任何属性")
}

func TestDeleteSectionCascades(t *testing.T) {
	s := NewOutlineService()
	project := newTestProject()
	act1, scene1, scene2, act2 := buildScenario(t, s, project)

	removed, err := s.DeleteSection(project, act1.ID)
	require.NoError(t, err)
	assert.Equal(t, act1.ID, removed.ID)
	assert.Len(t, removed.Children, 2, "删除返回完整子树")

	// 子树内的节点不再可达
	assert.Nil(t, s.FindByID(project, scene1.ID))
	assert.Nil(t, s.FindByID(project, scene2.ID))
	require.Len(t, project.Outline, 1)
	assert.Equal(t, act2.ID, project.Outline[0].ID)
}

func TestMoveSectionToParent(t *testing.T) {
	s := NewOutlineService()
	project := newTestProject()
	_, scene1, _, act2 := buildScenario(t, s, project)

	require.NoError(t, s.MoveSection(project, scene1.ID, act2.ID, "", ""))
	require.Len(t, act2.Children, 1)
	assert.Equal(t, scene1.ID, act2.Children[0].ID, "成为目标父节点的最后一个子节点")
}

func TestMoveSectionBeforeSibling(t *testing.T) {
	s := NewOutlineService()
	project := newTestProject()
	act1, scene1, scene2, _ := buildScenario(t, s, project)

	// 场景2移到场景1之前
	require.NoError(t, s.MoveSection(project, scene2.ID, "", scene1.ID, models.MoveBefore))
	require.Len(t, act1.Children, 2)
	assert.Equal(t, scene2.ID, act1.Children[0].ID)
	assert.Equal(t, scene1.ID, act1.Children[1].ID)
}

func TestMoveSectionAfterSiblingAcrossParents(t *testing.T) {
	s := NewOutlineService()
	project := newTestProject()
	act1, scene1, scene2, act2 := buildScenario(t, s, project)

	// 兄弟目标优先于父目标：即使同时给出act1，也应落到act2旁边
	require.NoError(t, s.MoveSection(project, scene1.ID, act1.ID, act2.ID, models.MoveAfter))
	require.Len(t, project.Outline, 3)
	assert.Equal(t, act2.ID, project.Outline[1].ID)
	assert.Equal(t, scene1.ID, project.Outline[2].ID)
	require.Len(t, act1.Children, 1)
	assert.Equal(t, scene2.ID, act1.Children[0].ID)
}

func TestMoveSectionToRoot(t *testing.T) {
	s := NewOutlineService()
	project := newTestProject()
	_, scene1, _, _ := buildScenario(t, s, project)

	require.NoError(t, s.MoveSection(project, scene1.ID, "", "", ""))
	require.Len(t, project.Outline, 3)
	assert.Equal(t, scene1.ID, project.Outline[2].ID, "成为最后一个根章节")
}

func TestMoveSectionSelfParentRejected(t *testing.T) {
	s := NewOutlineService()
	project := newTestProject()
	act1, _, _, _ := buildScenario(t, s, project)

	err := s.MoveSection(project, act1.ID, act1.ID, "", "")
	require.Error(t, err)
	assert.True(t, apperrors.IsInvalidOperationError(err))
}

func TestMoveSectionIntoOwnSubtreeRejected(t *testing.T) {
	s := NewOutlineService()
	project := newTestProject()
	act1, scene1, _, _ := buildScenario(t, s, project)

	err := s.MoveSection(project, act1.ID, scene1.ID, "", "")
	require.Error(t, err)
	assert.True(t, apperrors.IsInvalidOperationError(err))

	// 结构未被破坏：act1仍是根，scene1仍在其下
	require.Len(t, project.Outline, 2)
	assert.Equal(t, act1.ID, project.Outline[0].ID)
	assert.NotNil(t, s.FindByID(project, scene1.ID))
}

func TestMoveSectionSiblingNotFoundNoFallback(t *testing.T) {
	s := NewOutlineService()
	project := newTestProject()
	act1, scene1, _, _ := buildScenario(t, s, project)

	err := s.MoveSection(project, scene1.ID, "", "sec_ghost", models.MoveBefore)
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFoundError(err), "兄弟节点无法解析必须报错，不能静默回退")

	// 位置未变
	assert.Equal(t, scene1.ID, act1.Children[0].ID)
}

func TestMoveSectionMissingPositionRejected(t *testing.T) {
	s := NewOutlineService()
	project := newTestProject()
	_, scene1, scene2, _ := buildScenario(t, s, project)

	err := s.MoveSection(project, scene1.ID, "", scene2.ID, "")
	require.Error(t, err)
	assert.True(t, apperrors.IsInvalidOperationError(err))
}

func TestMoveSectionRelativeToSelfIsNoOp(t *testing.T) {
	s := NewOutlineService()
	project := newTestProject()
	act1, scene1, scene2, _ := buildScenario(t, s, project)

	require.NoError(t, s.MoveSection(project, scene1.ID, "", scene1.ID, models.MoveBefore))
	assert.Equal(t, scene1.ID, act1.Children[0].ID)
	assert.Equal(t, scene2.ID, act1.Children[1].ID)
}

func TestSerializeWithIDsRoundTrip(t *testing.T) {
	s := NewOutlineService()
	project := newTestProject()
	buildScenario(t, s, project)

	listing := s.SerializeWithIDs(project)
	parsed := ParseIDsFromListing(listing)
	assert.Equal(t, s.SectionIDsInOrder(project), parsed,
		"序列化输出的ID顺序与深度优先遍历一致")
}

func TestSerializeWithIDsIndentation(t *testing.T) {
	s := NewOutlineService()
	project := newTestProject()
	act1, scene1, _, _ := buildScenario(t, s, project)

	listing := s.SerializeWithIDs(project)
	assert.Contains(t, listing, "- 第一幕 ["+act1.ID+"]")
	assert.Contains(t, listing, "  - 场景1 ["+scene1.ID+"]")
}

func TestCountSections(t *testing.T) {
	s := NewOutlineService()
	project := newTestProject()
	assert.Equal(t, 0, s.CountSections(project))

	buildScenario(t, s, project)
	assert.Equal(t, 4, s.CountSections(project))
}

func TestWalkDepthFirstDeepTree(t *testing.T) {
	s := NewOutlineService()
	project := newTestProject()

	// 线性深树，深度远超普通递归的舒适区
	parentID := ""
	for i := 0; i < 5000; i++ {
		section, err := s.AddSection(project, "层级", "", parentID)
		require.NoError(t, err)
		parentID = section.ID
	}

	assert.Equal(t, 5000, s.CountSections(project))
	deepest := s.FindByID(project, parentID)
	require.NotNil(t, deepest)
}
