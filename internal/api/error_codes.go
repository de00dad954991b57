// internal/api/error_codes.go
package api

// API错误代码常量
const (
	// 通用错误
	ErrorBadRequest    = "BAD_REQUEST"
	ErrorNotFound      = "NOT_FOUND"
	ErrorInternalError = "INTERNAL_ERROR"
	ErrorConflict      = "CONFLICT"
	ErrorForbidden     = "FORBIDDEN"

	// 项目相关错误
	ErrorProjectNotFound     = "PROJECT_NOT_FOUND"
	ErrorProjectCreateFailed = "PROJECT_CREATE_FAILED"
	ErrorProjectInvalid      = "PROJECT_INVALID"

	// 大纲相关错误
	ErrorSectionNotFound = "SECTION_NOT_FOUND"
	ErrorInvalidMove     = "INVALID_MOVE"

	// 角色相关错误
	ErrorCharacterNotFound = "CHARACTER_NOT_FOUND"
	ErrorCharacterInvalid  = "CHARACTER_INVALID"

	// 变更相关错误
	ErrorMutationRejected     = "MUTATION_REJECTED"
	ErrorUnsupportedOperation = "UNSUPPORTED_OPERATION"

	// LLM服务相关错误
	ErrorLLMServiceUnavailable = "LLM_SERVICE_UNAVAILABLE"
	ErrorLLMConfigInvalid      = "LLM_CONFIG_INVALID"
	ErrorContentBlocked        = "CONTENT_BLOCKED"

	// 图像相关错误
	ErrorImageNotFound         = "IMAGE_NOT_FOUND"
	ErrorImageGenerationFailed = "IMAGE_GENERATION_FAILED"
)
