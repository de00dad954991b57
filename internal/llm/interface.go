// internal/llm/interface.go
package llm

import (
	"context"
	"encoding/json"
	"errors"
)

// 错误定义
var (
	ErrUnknownProvider = errors.New("未知的AI提供者")

	// ErrContentBlocked 标记内容安全拦截，区别于瞬时网络错误；
	// 提供商适配器用 %w 包装它，调用方用 errors.Is 判断
	ErrContentBlocked = errors.New("内容安全拦截")
)

// IsRetryable 判断提供商错误是否值得重试
//
// 内容安全拦截是确定性拒绝，重试同一请求不会有不同结果；
// 其余（网络、限流、服务端）错误视为瞬时。
func IsRetryable(err error) bool {
	return err != nil && !errors.Is(err, ErrContentBlocked)
}

// Message 会话历史中的一条消息（统一形状，与提供商无关）
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Tool 声明一个模型可以调用的工具
//
// Parameters 是JSON Schema对象；各提供商适配器负责把它翻译成
// 自己的函数调用线格式。
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolCall 模型提出的一次工具调用（统一形状）
type ToolCall struct {
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ChatRequest 请求参数标准化
type ChatRequest struct {
	Messages     []Message              `json:"messages"`
	SystemPrompt string                 `json:"system_prompt,omitempty"`
	Tools        []Tool                 `json:"tools,omitempty"`
	MaxTokens    int                    `json:"max_tokens,omitempty"`
	Temperature  float32                `json:"temperature,omitempty"`
	TopP         float32                `json:"top_p,omitempty"`
	Model        string                 `json:"model,omitempty"`
	ExtraParams  map[string]interface{} `json:"extra_params,omitempty"`
}

// ChatResponse 响应结构标准化：自由文本加零或多个工具调用
type ChatResponse struct {
	Text         string     `json:"text"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	FinishReason string     `json:"finish_reason,omitempty"`
	TokensUsed   int        `json:"tokens_used,omitempty"`
	PromptTokens int        `json:"prompt_tokens,omitempty"`
	OutputTokens int        `json:"output_tokens,omitempty"`
	ModelName    string     `json:"model_name,omitempty"`
	ProviderName string     `json:"provider_name,omitempty"`
}

// StreamResponse 流式响应
type StreamResponse struct {
	Text         string `json:"text"`
	FinishReason string `json:"finish_reason,omitempty"`
	ModelName    string `json:"model_name,omitempty"`
	Done         bool   `json:"done"`
}

// ImageRequest 图像生成请求
type ImageRequest struct {
	Description string `json:"description"`
	AspectRatio string `json:"aspect_ratio,omitempty"` // 如 "1:1"、"16:9"
	Model       string `json:"model,omitempty"`
}

// ImageResponse 图像生成响应：单个不透明的图像数据（传输中base64编码）
type ImageResponse struct {
	Base64Data string `json:"base64_data"`
	MimeType   string `json:"mime_type,omitempty"`
	ModelName  string `json:"model_name,omitempty"`
}

// Provider 定义所有LLM提供者必须实现的接口
//
// 任何后端实现都接受同一套会话历史形状，并输出统一的
// {text, toolCalls} 结果形状；提供商按配置选择，绝不内联分支。
type Provider interface {
	// 初始化提供者，传入配置
	Initialize(config map[string]string) error

	// 获取提供者名称
	GetName() string

	// 获取支持的模型列表
	GetSupportedModels() []string

	// 会话生成（含工具调用）
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// 流式文本响应（流式路径不携带工具调用）
	StreamChat(ctx context.Context, req ChatRequest) (<-chan StreamResponse, error)
}

// ImageProvider 可选能力：图像生成
//
// 不是每个提供商都支持；调用方通过类型断言探测。
type ImageProvider interface {
	GenerateImage(ctx context.Context, req ImageRequest) (*ImageResponse, error)
}

// ProviderFactory 提供者工厂函数类型
type ProviderFactory func() Provider

var providers = make(map[string]ProviderFactory)

// Register 注册提供者工厂（由各提供商包的 init 调用）
func Register(name string, factory ProviderFactory) {
	providers[name] = factory
}

// GetProvider 创建并初始化指定名称的提供者实例
func GetProvider(name string, config map[string]string) (Provider, error) {
	factory, exists := providers[name]
	if !exists {
		return nil, ErrUnknownProvider
	}

	provider := factory()
	if err := provider.Initialize(config); err != nil {
		return nil, err
	}
	return provider, nil
}

// ListProviders 返回所有已注册的提供者名称
func ListProviders() []string {
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	return names
}

// GetSupportedModelsForProvider 获取指定提供商支持的模型列表
func GetSupportedModelsForProvider(name string) []string {
	factory, exists := providers[name]
	if !exists {
		return []string{}
	}
	return factory().GetSupportedModels()
}
