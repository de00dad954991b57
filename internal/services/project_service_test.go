// internal/services/project_service_test.go
package services

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Corphon/StoryLoomMCP/internal/errors"
	"github.com/Corphon/StoryLoomMCP/internal/models"
	"github.com/Corphon/StoryLoomMCP/internal/storage"
)

func newProjectFixture(t *testing.T) (*ProjectService, *OutlineService, *storage.ImageStore) {
	t.Helper()

	fileStorage, err := storage.NewFileStorage(t.TempDir())
	require.NoError(t, err)
	imageStore, err := storage.NewImageStore(t.TempDir())
	require.NoError(t, err)

	outline := NewOutlineService()
	return NewProjectService(fileStorage, imageStore, outline), outline, imageStore
}

func rawImagePayload() string {
	return storage.EncodeRawPayload("image/png",
		base64.StdEncoding.EncodeToString([]byte("png-bytes")))
}

func TestCreateAndLoadProject(t *testing.T) {
	ps, _, _ := newProjectFixture(t)

	project := ps.NewProject("迷雾之城", "奇幻", "一座被遗忘的城市")
	created, err := ps.CreateProject(project)
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)

	loaded, err := ps.LoadProject(created.ID)
	require.NoError(t, err)
	assert.Equal(t, "迷雾之城", loaded.Title)
	assert.Equal(t, "奇幻", loaded.Genre)
}

func TestLoadProjectNotFound(t *testing.T) {
	ps, _, _ := newProjectFixture(t)

	_, err := ps.LoadProject("proj_ghost")
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFoundError(err))
}

func TestUpdateProjectNotFound(t *testing.T) {
	ps, _, _ := newProjectFixture(t)

	project := ps.NewProject("未保存", "", "")
	_, err := ps.UpdateProject(project)
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFoundError(err))
}

func TestLoadAllProjectsMetadata(t *testing.T) {
	ps, outline, _ := newProjectFixture(t)

	project := ps.NewProject("迷雾之城", "奇幻", "")
	_, err := outline.AddSection(project, "第一幕", "", "")
	require.NoError(t, err)
	project.Characters = append(project.Characters, &models.Character{ID: "char_1", Name: "凯伦", Description: "密探"})

	_, err = ps.CreateProject(project)
	require.NoError(t, err)

	metadata, err := ps.LoadAllProjects()
	require.NoError(t, err)
	require.Len(t, metadata, 1)
	assert.Equal(t, 1, metadata[0].SectionCount)
	assert.Equal(t, 1, metadata[0].CharacterCount)
}

func TestPersistExternalizesRawImages(t *testing.T) {
	ps, outline, imageStore := newProjectFixture(t)

	project := ps.NewProject("迷雾之城", "", "")
	section, err := outline.AddSection(project, "第一幕", "", "")
	require.NoError(t, err)
	section.ImageURL = rawImagePayload()

	character := &models.Character{ID: "char_1", Name: "凯伦", Description: "密探", ImageURL: rawImagePayload()}
	project.Characters = append(project.Characters, character)

	_, err = ps.CreateProject(project)
	require.NoError(t, err)

	// 聚合内的字段被替换为存储键，原始数据落在图像存储里
	assert.Equal(t, storage.ImageKeyFor(section.ID), section.ImageURL)
	assert.Equal(t, storage.ImageKeyFor(character.ID), character.ImageURL)
	assert.True(t, imageStore.Exists(section.ImageURL))
	assert.True(t, imageStore.Exists(character.ImageURL))

	// 重新加载后持有的仍是键，不是原始数据
	loaded, err := ps.LoadProject(project.ID)
	require.NoError(t, err)
	assert.True(t, storage.IsImageKey(loaded.Characters[0].ImageURL))
}

func TestPersistKeepsExistingImageKeys(t *testing.T) {
	ps, outline, imageStore := newProjectFixture(t)

	project := ps.NewProject("迷雾之城", "", "")
	section, err := outline.AddSection(project, "第一幕", "", "")
	require.NoError(t, err)
	section.ImageURL = rawImagePayload()

	_, err = ps.CreateProject(project)
	require.NoError(t, err)
	key := section.ImageURL

	// 第二次保存不应改写已外置的键
	_, err = ps.UpdateProject(project)
	require.NoError(t, err)
	assert.Equal(t, key, section.ImageURL)
	assert.True(t, imageStore.Exists(key))
}

func TestDeleteProjectReleasesImages(t *testing.T) {
	ps, outline, imageStore := newProjectFixture(t)

	project := ps.NewProject("迷雾之城", "", "")
	section, err := outline.AddSection(project, "第一幕", "", "")
	require.NoError(t, err)
	section.ImageURL = rawImagePayload()
	project.Characters = append(project.Characters,
		&models.Character{ID: "char_1", Name: "凯伦", Description: "密探", ImageURL: rawImagePayload()})

	_, err = ps.CreateProject(project)
	require.NoError(t, err)

	sectionKey := section.ImageURL
	characterKey := project.Characters[0].ImageURL
	require.True(t, imageStore.Exists(sectionKey))
	require.True(t, imageStore.Exists(characterKey))

	ok, err := ps.DeleteProject(project.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.False(t, imageStore.Exists(sectionKey), "删除项目必须释放其拥有的全部图像")
	assert.False(t, imageStore.Exists(characterKey))

	_, err = ps.LoadProject(project.ID)
	assert.True(t, apperrors.IsNotFoundError(err))
}

func TestNoteLifecycle(t *testing.T) {
	ps, _, _ := newProjectFixture(t)
	project := ps.NewProject("迷雾之城", "", "")

	note := ps.AddNote(project, "世界观", "雾是有意识的")
	require.NotEmpty(t, note.ID)

	content := "雾是古神的呼吸"
	require.NoError(t, ps.UpdateNote(project, note.ID, nil, &content))
	assert.Equal(t, "世界观", note.Title, "nil字段保持原值")
	assert.Equal(t, "雾是古神的呼吸", note.Content)

	require.NoError(t, ps.DeleteNote(project, note.ID))
	assert.Empty(t, project.Notes)

	err := ps.DeleteNote(project, note.ID)
	assert.True(t, apperrors.IsNotFoundError(err))
}

func TestTaskLifecycle(t *testing.T) {
	ps, _, _ := newProjectFixture(t)
	project := ps.NewProject("迷雾之城", "", "")

	list := ps.AddTaskList(project, "第一卷待办")
	task, err := ps.AddTask(project, list.ID, "补写凯伦的背景")
	require.NoError(t, err)
	assert.False(t, task.IsCompleted)

	done := true
	require.NoError(t, ps.UpdateTask(project, list.ID, task.ID, nil, &done))
	assert.True(t, task.IsCompleted)
	assert.Equal(t, "补写凯伦的背景", task.Text)

	require.NoError(t, ps.DeleteTask(project, list.ID, task.ID))
	assert.Empty(t, list.Tasks)

	require.NoError(t, ps.DeleteTaskList(project, list.ID))
	assert.Empty(t, project.TaskLists)
}

func TestTaskOperationsOnGhostList(t *testing.T) {
	ps, _, _ := newProjectFixture(t)
	project := ps.NewProject("迷雾之城", "", "")

	_, err := ps.AddTask(project, "list_ghost", "任务")
	assert.True(t, apperrors.IsNotFoundError(err))

	text := "x"
	err = ps.UpdateTask(project, "list_ghost", "task_ghost", &text, nil)
	assert.True(t, apperrors.IsNotFoundError(err))
}
