// internal/services/outline_service.go
package services

import (
	"fmt"
	"strings"
	"time"

	apperrors "github.com/Corphon/StoryLoomMCP/internal/errors"
	"github.com/Corphon/StoryLoomMCP/internal/models"
	"github.com/Corphon/StoryLoomMCP/internal/utils"
)

// OutlineService 处理大纲树的结构操作
//
// 大纲森林由 Project 聚合显式传入，服务本身不持有状态。
// 所有遍历都用显式栈迭代实现：树深度只受用户数据限制，
// 递归实现可能耗尽调用栈。
//
// 每个操作都先完成全部校验再修改结构，失败的操作不会留下
// 任何部分变更。
type OutlineService struct{}

// NewOutlineService 创建大纲服务
func NewOutlineService() *OutlineService {
	return &OutlineService{}
}

// sectionRef 定位森林中的一个节点：父节点（根节点为nil）及其在
// 兄弟序列中的下标
type sectionRef struct {
	section *models.OutlineSection
	parent  *models.OutlineSection
	index   int
}

// findRef 深度优先查找节点及其位置，未找到返回nil
func (s *OutlineService) findRef(project *models.Project, sectionID string) *sectionRef {
	type frame struct {
		section *models.OutlineSection
		parent  *models.OutlineSection
		index   int
	}

	// 以逆序压栈保证弹出顺序即深度优先的兄弟顺序
	stack := make([]frame, 0, len(project.Outline))
	for i := len(project.Outline) - 1; i >= 0; i-- {
		stack = append(stack, frame{project.Outline[i], nil, i})
	}

	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if top.section.ID == sectionID {
			return &sectionRef{section: top.section, parent: top.parent, index: top.index}
		}

		for i := len(top.section.Children) - 1; i >= 0; i-- {
			stack = append(stack, frame{top.section.Children[i], top.section, i})
		}
	}

	return nil
}

// FindByID 深度优先查找章节，未找到返回nil
func (s *OutlineService) FindByID(project *models.Project, sectionID string) *models.OutlineSection {
	ref := s.findRef(project, sectionID)
	if ref == nil {
		return nil
	}
	return ref.section
}

// WalkDepthFirst 按深度优先顺序访问整个森林，fn返回false时停止
func (s *OutlineService) WalkDepthFirst(project *models.Project, fn func(section *models.OutlineSection, depth int) bool) {
	type frame struct {
		section *models.OutlineSection
		depth   int
	}

	stack := make([]frame, 0, len(project.Outline))
	for i := len(project.Outline) - 1; i >= 0; i-- {
		stack = append(stack, frame{project.Outline[i], 0})
	}

	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if !fn(top.section, top.depth) {
			return
		}

		for i := len(top.section.Children) - 1; i >= 0; i-- {
			stack = append(stack, frame{top.section.Children[i], top.depth + 1})
		}
	}
}

// containsID 判断 sectionID 是否在以 root 为根的子树内（含root自身）
func (s *OutlineService) containsID(root *models.OutlineSection, sectionID string) bool {
	stack := []*models.OutlineSection{root}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if top.ID == sectionID {
			return true
		}
		stack = append(stack, top.Children...)
	}
	return false
}

// AddSection 新增章节并返回它
//
// parentID 为空时追加为新的根章节；parentID 无法解析时返回未找到错误。
func (s *OutlineService) AddSection(project *models.Project, title, content, parentID string) (*models.OutlineSection, error) {
	now := time.Now()
	section := &models.OutlineSection{
		ID:          utils.NewSectionID(),
		Title:       title,
		Content:     content,
		Children:    []*models.OutlineSection{},
		CreatedAt:   now,
		LastUpdated: now,
	}

	if parentID == "" {
		project.Outline = append(project.Outline, section)
		return section, nil
	}

	parent := s.FindByID(project, parentID)
	if parent == nil {
		return nil, apperrors.NewNotFoundError(
			fmt.Sprintf("父章节不存在: %s", parentID), nil)
	}

	parent.Children = append(parent.Children, section)
	return section, nil
}

// UpdateSection 更新章节标题/内容
//
// nil 字段保持原值不变；两个字段都为 nil 时是无操作，
// 不会触碰任何属性（包括更新时间）。
func (s *OutlineService) UpdateSection(project *models.Project, sectionID string, title, content *string) error {
	section := s.FindByID(project, sectionID)
	if section == nil {
		return apperrors.NewNotFoundError(
			fmt.Sprintf("章节不存在: %s", sectionID), nil)
	}

	if title == nil && content == nil {
		return nil
	}

	if title != nil {
		section.Title = *title
	}
	if content != nil {
		section.Content = *content
	}
	section.LastUpdated = time.Now()

	return nil
}

// DeleteSection 删除章节及其整棵子树（级联），返回被移除的子树
func (s *OutlineService) DeleteSection(project *models.Project, sectionID string) (*models.OutlineSection, error) {
	ref := s.findRef(project, sectionID)
	if ref == nil {
		return nil, apperrors.NewNotFoundError(
			fmt.Sprintf("章节不存在: %s", sectionID), nil)
	}

	s.detach(project, ref)
	return ref.section, nil
}

// detach 把节点从当前位置摘下，保持兄弟顺序
func (s *OutlineService) detach(project *models.Project, ref *sectionRef) {
	if ref.parent == nil {
		project.Outline = append(project.Outline[:ref.index], project.Outline[ref.index+1:]...)
		return
	}
	ref.parent.Children = append(ref.parent.Children[:ref.index], ref.parent.Children[ref.index+1:]...)
}

// MoveSection 把章节（连同子树）移动到新位置
//
// 解析顺序：targetSiblingID 优先（position 必填，节点放到该兄弟节点
// 当前父节点之下的相邻位置，覆盖 targetParentID）；其次 targetParentID
// （成为其最后一个子节点）；两者都为空时成为最后一个根章节。
//
// 会形成环的移动（自身作为父节点、移动到自己的后代之下）返回非法
// 操作错误；兄弟节点无法解析返回未找到错误，绝不静默回退到根。
// 移动到当前位置是合法的无操作。
func (s *OutlineService) MoveSection(project *models.Project, sectionID, targetParentID, targetSiblingID string, position models.MovePosition) error {
	ref := s.findRef(project, sectionID)
	if ref == nil {
		return apperrors.NewNotFoundError(
			fmt.Sprintf("章节不存在: %s", sectionID), nil)
	}
	moving := ref.section

	if targetSiblingID != "" {
		if !position.Valid() {
			return apperrors.NewInvalidOperationError(
				"指定了目标兄弟节点但缺少position(before|after)", nil)
		}

		// 相对自己移动：位置不变，合法的无操作
		if targetSiblingID == sectionID {
			return nil
		}

		siblingRef := s.findRef(project, targetSiblingID)
		if siblingRef == nil {
			return apperrors.NewNotFoundError(
				fmt.Sprintf("目标兄弟节点不存在: %s", targetSiblingID), nil)
		}

		// 新父节点是兄弟节点当前的父节点；它落在被移动子树内则会成环
		if siblingRef.parent != nil && s.containsID(moving, siblingRef.parent.ID) {
			return apperrors.NewInvalidOperationError(
				"移动会形成环: 目标位置在被移动章节的子树内", nil)
		}
		// 兄弟节点本身在被移动子树内同样非法
		if s.containsID(moving, targetSiblingID) {
			return apperrors.NewInvalidOperationError(
				"移动会形成环: 目标兄弟节点在被移动章节的子树内", nil)
		}

		s.detach(project, ref)

		// 摘除后重新定位兄弟节点：同一父节点下兄弟下标可能已变化
		siblingRef = s.findRef(project, targetSiblingID)
		insertAt := siblingRef.index
		if position == models.MoveAfter {
			insertAt++
		}

		if siblingRef.parent == nil {
			project.Outline = insertSection(project.Outline, insertAt, moving)
		} else {
			siblingRef.parent.Children = insertSection(siblingRef.parent.Children, insertAt, moving)
		}
		return nil
	}

	if targetParentID != "" {
		if targetParentID == sectionID {
			return apperrors.NewInvalidOperationError(
				"移动会形成环: 章节不能成为自己的父节点", nil)
		}

		parent := s.FindByID(project, targetParentID)
		if parent == nil {
			return apperrors.NewNotFoundError(
				fmt.Sprintf("目标父章节不存在: %s", targetParentID), nil)
		}

		if s.containsID(moving, targetParentID) {
			return apperrors.NewInvalidOperationError(
				"移动会形成环: 目标父章节在被移动章节的子树内", nil)
		}

		s.detach(project, ref)
		parent.Children = append(parent.Children, moving)
		return nil
	}

	// 目标都为空：成为最后一个根章节
	s.detach(project, ref)
	project.Outline = append(project.Outline, moving)
	return nil
}

// insertSection 在下标处插入节点
func insertSection(sections []*models.OutlineSection, index int, section *models.OutlineSection) []*models.OutlineSection {
	if index < 0 {
		index = 0
	}
	if index > len(sections) {
		index = len(sections)
	}
	sections = append(sections, nil)
	copy(sections[index+1:], sections[index:])
	sections[index] = section
	return sections
}

// SerializeWithIDs 生成带缩进和ID标注的大纲文本列表
//
// 每行是章节标题加ID，缩进反映深度；当前状态的纯函数，
// 用于向模型呈现可寻址的上下文。
func (s *OutlineService) SerializeWithIDs(project *models.Project) string {
	var sb strings.Builder
	s.WalkDepthFirst(project, func(section *models.OutlineSection, depth int) bool {
		sb.WriteString(strings.Repeat("  ", depth))
		sb.WriteString("- ")
		sb.WriteString(section.Title)
		sb.WriteString(" [")
		sb.WriteString(section.ID)
		sb.WriteString("]\n")
		return true
	})
	return sb.String()
}

// SectionIDsInOrder 按深度优先顺序返回全部章节ID
func (s *OutlineService) SectionIDsInOrder(project *models.Project) []string {
	var ids []string
	s.WalkDepthFirst(project, func(section *models.OutlineSection, depth int) bool {
		ids = append(ids, section.ID)
		return true
	})
	return ids
}

// ParseIDsFromListing 从 SerializeWithIDs 的输出中解析ID序列
func ParseIDsFromListing(listing string) []string {
	var ids []string
	for _, line := range strings.Split(listing, "\n") {
		open := strings.LastIndex(line, "[")
		end := strings.LastIndex(line, "]")
		if open >= 0 && end > open {
			ids = append(ids, line[open+1:end])
		}
	}
	return ids
}

// CountSections 返回森林中的章节总数
func (s *OutlineService) CountSections(project *models.Project) int {
	count := 0
	s.WalkDepthFirst(project, func(section *models.OutlineSection, depth int) bool {
		count++
		return true
	})
	return count
}
