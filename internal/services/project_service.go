// internal/services/project_service.go
package services

import (
	"fmt"
	"path/filepath"
	"time"

	apperrors "github.com/Corphon/StoryLoomMCP/internal/errors"
	"github.com/Corphon/StoryLoomMCP/internal/models"
	"github.com/Corphon/StoryLoomMCP/internal/storage"
	"github.com/Corphon/StoryLoomMCP/internal/utils"
)

const projectFileName = "project.json"

// ProjectService 管理项目聚合的生命周期和持久化
//
// 项目是持久化的单位：每个项目一个目录，聚合整体序列化为一个
// JSON文件。持久化前，所有仍持有原始图像数据的 image_url 字段
// 会被写入独立的二进制图像存储并替换为存储键；删除项目时释放
// 其拥有的全部图像。
type ProjectService struct {
	Storage *storage.FileStorage
	Images  *storage.ImageStore

	OutlineService *OutlineService
}

// NewProjectService 创建项目服务
func NewProjectService(fileStorage *storage.FileStorage, imageStore *storage.ImageStore, outlineService *OutlineService) *ProjectService {
	return &ProjectService{
		Storage:        fileStorage,
		Images:         imageStore,
		OutlineService: outlineService,
	}
}

func projectDir(projectID string) string {
	return filepath.Join("projects", projectID)
}

// NewProject 构造一个空项目聚合
func (s *ProjectService) NewProject(title, genre, description string) *models.Project {
	now := time.Now()
	return &models.Project{
		ID:          utils.NewProjectID(),
		Title:       title,
		Genre:       genre,
		Description: description,
		Outline:     []*models.OutlineSection{},
		Characters:  []*models.Character{},
		Notes:       []*models.Note{},
		TaskLists:   []*models.TaskList{},
		CreatedAt:   now,
		LastUpdated: now,
	}
}

// LoadAllProjects 加载全部项目的元数据列表
func (s *ProjectService) LoadAllProjects() ([]*models.ProjectMetadata, error) {
	if !s.Storage.DirExists("projects") {
		return []*models.ProjectMetadata{}, nil
	}

	ids, err := s.Storage.ListDirs("projects")
	if err != nil {
		return nil, fmt.Errorf("列出项目目录失败: %w", err)
	}

	metadata := make([]*models.ProjectMetadata, 0, len(ids))
	for _, id := range ids {
		project, err := s.LoadProject(id)
		if err != nil {
			utils.GetLogger().Warnf("跳过无法加载的项目 %s: %v", id, err)
			continue
		}
		metadata = append(metadata, &models.ProjectMetadata{
			ID:             project.ID,
			Title:          project.Title,
			Genre:          project.Genre,
			Description:    project.Description,
			CharacterCount: len(project.Characters),
			SectionCount:   s.OutlineService.CountSections(project),
			CreatedAt:      project.CreatedAt,
			LastUpdated:    project.LastUpdated,
		})
	}

	return metadata, nil
}

// LoadProject 按ID加载项目聚合
func (s *ProjectService) LoadProject(projectID string) (*models.Project, error) {
	if !s.Storage.FileExists(projectDir(projectID), projectFileName) {
		return nil, apperrors.NewNotFoundError(
			fmt.Sprintf("项目不存在: %s", projectID), nil)
	}

	var project models.Project
	if err := s.Storage.LoadJSONFile(projectDir(projectID), projectFileName, &project); err != nil {
		return nil, fmt.Errorf("加载项目失败: %w", err)
	}

	return &project, nil
}

// CreateProject 持久化一个新项目
func (s *ProjectService) CreateProject(project *models.Project) (*models.Project, error) {
	if project.ID == "" {
		project.ID = utils.NewProjectID()
	}
	if project.CreatedAt.IsZero() {
		project.CreatedAt = time.Now()
	}

	if err := s.externalizeImages(project); err != nil {
		return nil, err
	}

	project.LastUpdated = time.Now()
	if err := s.Storage.SaveJSONFile(projectDir(project.ID), projectFileName, project); err != nil {
		return nil, fmt.Errorf("保存项目失败: %w", err)
	}

	return project, nil
}

// UpdateProject 持久化对已有项目的修改
//
// 项目ID未知时返回未找到错误。
func (s *ProjectService) UpdateProject(project *models.Project) (*models.Project, error) {
	if !s.Storage.FileExists(projectDir(project.ID), projectFileName) {
		return nil, apperrors.NewNotFoundError(
			fmt.Sprintf("项目不存在: %s", project.ID), nil)
	}

	if err := s.externalizeImages(project); err != nil {
		return nil, err
	}

	project.LastUpdated = time.Now()
	if err := s.Storage.SaveJSONFile(projectDir(project.ID), projectFileName, project); err != nil {
		return nil, fmt.Errorf("保存项目失败: %w", err)
	}

	return project, nil
}

// DeleteProject 整体删除项目，并释放其独占拥有的外部图像
func (s *ProjectService) DeleteProject(projectID string) (bool, error) {
	project, err := s.LoadProject(projectID)
	if err != nil {
		if apperrors.IsNotFoundError(err) {
			return false, err
		}
		return false, err
	}

	// 先释放图像再删目录：目录删除后键列表就找不回来了
	keys := s.collectImageKeys(project)
	if err := s.Images.DeleteAll(keys); err != nil {
		utils.GetLogger().Warnf("释放项目图像失败 %s: %v", projectID, err)
	}

	if err := s.Storage.DeleteDir(projectDir(projectID)); err != nil {
		return false, fmt.Errorf("删除项目目录失败: %w", err)
	}

	return true, nil
}

// externalizeImages 把聚合内仍持有原始图像数据的字段写入图像存储
//
// 原始数据（data: URL）被替换为 "image-"+实体ID 形式的存储键；
// 已经是存储键的字段保持不变。
func (s *ProjectService) externalizeImages(project *models.Project) error {
	for _, character := range project.Characters {
		key, err := s.externalizeOne(character.ID, character.ImageURL)
		if err != nil {
			return err
		}
		if key != "" {
			character.ImageURL = key
		}
	}

	var walkErr error
	s.OutlineService.WalkDepthFirst(project, func(section *models.OutlineSection, depth int) bool {
		key, err := s.externalizeOne(section.ID, section.ImageURL)
		if err != nil {
			walkErr = err
			return false
		}
		if key != "" {
			section.ImageURL = key
		}
		return true
	})

	return walkErr
}

// externalizeOne 处理单个 image_url 字段，返回新的存储键（无需替换时为空）
func (s *ProjectService) externalizeOne(entityID, imageURL string) (string, error) {
	if imageURL == "" || storage.IsImageKey(imageURL) {
		return "", nil
	}

	_, data, err := storage.DecodeRawPayload(imageURL)
	if err != nil {
		return "", fmt.Errorf("实体 %s 的图像数据无效: %w", entityID, err)
	}

	key := storage.ImageKeyFor(entityID)
	if err := s.Images.Put(key, data); err != nil {
		return "", err
	}

	return key, nil
}

// collectImageKeys 收集聚合内全部图像存储键
func (s *ProjectService) collectImageKeys(project *models.Project) []string {
	var keys []string
	for _, character := range project.Characters {
		if storage.IsImageKey(character.ImageURL) {
			keys = append(keys, character.ImageURL)
		}
	}
	s.OutlineService.WalkDepthFirst(project, func(section *models.OutlineSection, depth int) bool {
		if storage.IsImageKey(section.ImageURL) {
			keys = append(keys, section.ImageURL)
		}
		return true
	})
	return keys
}

// ---- 笔记与任务清单 ----
// 笔记和任务没有结构不变量，只要求ID唯一；这些操作只修改内存中的
// 聚合，由调用方决定何时持久化。

// AddNote 新增笔记
func (s *ProjectService) AddNote(project *models.Project, title, content string) *models.Note {
	now := time.Now()
	note := &models.Note{
		ID:          utils.NewNoteID(),
		Title:       title,
		Content:     content,
		CreatedAt:   now,
		LastUpdated: now,
	}
	project.Notes = append(project.Notes, note)
	return note
}

// UpdateNote 更新笔记，nil字段保持原值
func (s *ProjectService) UpdateNote(project *models.Project, noteID string, title, content *string) error {
	note := project.FindNote(noteID)
	if note == nil {
		return apperrors.NewNotFoundError(fmt.Sprintf("笔记不存在: %s", noteID), nil)
	}

	if title == nil && content == nil {
		return nil
	}
	if title != nil {
		note.Title = *title
	}
	if content != nil {
		note.Content = *content
	}
	note.LastUpdated = time.Now()
	return nil
}

// DeleteNote 删除笔记
func (s *ProjectService) DeleteNote(project *models.Project, noteID string) error {
	for i, note := range project.Notes {
		if note.ID == noteID {
			project.Notes = append(project.Notes[:i], project.Notes[i+1:]...)
			return nil
		}
	}
	return apperrors.NewNotFoundError(fmt.Sprintf("笔记不存在: %s", noteID), nil)
}

// AddTaskList 新增任务清单
func (s *ProjectService) AddTaskList(project *models.Project, title string) *models.TaskList {
	now := time.Now()
	list := &models.TaskList{
		ID:          utils.NewTaskListID(),
		Title:       title,
		Tasks:       []*models.Task{},
		CreatedAt:   now,
		LastUpdated: now,
	}
	project.TaskLists = append(project.TaskLists, list)
	return list
}

// DeleteTaskList 删除任务清单
func (s *ProjectService) DeleteTaskList(project *models.Project, listID string) error {
	for i, list := range project.TaskLists {
		if list.ID == listID {
			project.TaskLists = append(project.TaskLists[:i], project.TaskLists[i+1:]...)
			return nil
		}
	}
	return apperrors.NewNotFoundError(fmt.Sprintf("任务清单不存在: %s", listID), nil)
}

// AddTask 向清单添加任务
func (s *ProjectService) AddTask(project *models.Project, listID, text string) (*models.Task, error) {
	list := project.FindTaskList(listID)
	if list == nil {
		return nil, apperrors.NewNotFoundError(fmt.Sprintf("任务清单不存在: %s", listID), nil)
	}

	task := &models.Task{
		ID:   utils.NewTaskID(),
		Text: text,
	}
	list.Tasks = append(list.Tasks, task)
	list.LastUpdated = time.Now()
	return task, nil
}

// UpdateTask 更新任务文本/完成状态，nil字段保持原值
func (s *ProjectService) UpdateTask(project *models.Project, listID, taskID string, text *string, isCompleted *bool) error {
	list := project.FindTaskList(listID)
	if list == nil {
		return apperrors.NewNotFoundError(fmt.Sprintf("任务清单不存在: %s", listID), nil)
	}

	for _, task := range list.Tasks {
		if task.ID != taskID {
			continue
		}
		if text != nil {
			task.Text = *text
		}
		if isCompleted != nil {
			task.IsCompleted = *isCompleted
		}
		list.LastUpdated = time.Now()
		return nil
	}

	return apperrors.NewNotFoundError(fmt.Sprintf("任务不存在: %s", taskID), nil)
}

// DeleteTask 从清单中删除任务
func (s *ProjectService) DeleteTask(project *models.Project, listID, taskID string) error {
	list := project.FindTaskList(listID)
	if list == nil {
		return apperrors.NewNotFoundError(fmt.Sprintf("任务清单不存在: %s", listID), nil)
	}

	for i, task := range list.Tasks {
		if task.ID == taskID {
			list.Tasks = append(list.Tasks[:i], list.Tasks[i+1:]...)
			list.LastUpdated = time.Now()
			return nil
		}
	}

	return apperrors.NewNotFoundError(fmt.Sprintf("任务不存在: %s", taskID), nil)
}
