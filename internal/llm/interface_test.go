// internal/llm/interface_test.go
package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	initErr error
}

func (s *stubProvider) Initialize(config map[string]string) error { return s.initErr }
func (s *stubProvider) GetName() string                           { return "stub" }
func (s *stubProvider) GetSupportedModels() []string              { return []string{"stub-1", "stub-2"} }
func (s *stubProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	return &ChatResponse{}, nil
}
func (s *stubProvider) StreamChat(ctx context.Context, req ChatRequest) (<-chan StreamResponse, error) {
	ch := make(chan StreamResponse)
	close(ch)
	return ch, nil
}

func TestGetProvider(t *testing.T) {
	Register("stub", func() Provider { return &stubProvider{} })

	provider, err := GetProvider("stub", map[string]string{"api_key": "k"})
	require.NoError(t, err)
	assert.Equal(t, "stub", provider.GetName())
}

func TestGetProviderUnknown(t *testing.T) {
	_, err := GetProvider("no-such-provider", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestGetProviderInitializeFailure(t *testing.T) {
	initErr := errors.New("缺少api_key")
	Register("stub-broken", func() Provider { return &stubProvider{initErr: initErr} })

	_, err := GetProvider("stub-broken", nil)
	assert.ErrorIs(t, err, initErr)
}

func TestGetSupportedModelsForProvider(t *testing.T) {
	Register("stub", func() Provider { return &stubProvider{} })

	assert.Equal(t, []string{"stub-1", "stub-2"}, GetSupportedModelsForProvider("stub"))
	assert.Empty(t, GetSupportedModelsForProvider("no-such-provider"))
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, IsRetryable(nil))
	assert.True(t, IsRetryable(errors.New("connection reset")))

	// 内容安全拦截是确定性失败，重试不会有不同结果
	assert.False(t, IsRetryable(ErrContentBlocked))
	assert.False(t, IsRetryable(fmt.Errorf("生成失败: %w", ErrContentBlocked)))
}
