// internal/models/chat.go
package models

import (
	"encoding/json"
	"time"
)

// 对话角色常量
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ChatMessage 表示会话历史中的一条消息
type ChatMessage struct {
	ID        string                 `json:"id,omitempty"`
	ProjectID string                 `json:"project_id,omitempty"`
	Role      string                 `json:"role"`
	Content   string                 `json:"content"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// ToolCall 表示模型提出的一次结构化工具调用
//
// Arguments 是来自模型的未受信任的自由JSON，必须经过校验转换
// 才能变成 Intent。
type ToolCall struct {
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolCallResult 表示一次工具调用对应的变更结果
type ToolCallResult struct {
	ToolCall ToolCall       `json:"tool_call"`
	Result   MutationResult `json:"result"`
}

// ChatTurn 表示一轮完整的助手回合：自由文本加零或多个工具调用结果
type ChatTurn struct {
	Text        string           `json:"text"`
	ToolResults []ToolCallResult `json:"tool_results,omitempty"`
	TokensUsed  int              `json:"tokens_used,omitempty"`
	ModelName   string           `json:"model_name,omitempty"`
}
