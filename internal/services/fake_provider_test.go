// internal/services/fake_provider_test.go
package services

import (
	"context"
	"encoding/base64"
	"sync/atomic"

	"github.com/Corphon/StoryLoomMCP/internal/llm"
)

// fakeProvider 测试用的LLM提供商替身
type fakeProvider struct {
	chatResponse *llm.ChatResponse
	chatErr      error
	streamChunks []string

	imageErr   error
	imageCalls int32

	lastRequest llm.ChatRequest
}

func (f *fakeProvider) Initialize(config map[string]string) error { return nil }
func (f *fakeProvider) GetName() string                           { return "fake" }
func (f *fakeProvider) GetSupportedModels() []string              { return []string{"fake-1"} }

func (f *fakeProvider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	f.lastRequest = req
	if f.chatErr != nil {
		return nil, f.chatErr
	}
	if f.chatResponse != nil {
		return f.chatResponse, nil
	}
	return &llm.ChatResponse{Text: "好的。", ModelName: "fake-1"}, nil
}

func (f *fakeProvider) StreamChat(ctx context.Context, req llm.ChatRequest) (<-chan llm.StreamResponse, error) {
	f.lastRequest = req
	if f.chatErr != nil {
		return nil, f.chatErr
	}

	ch := make(chan llm.StreamResponse, len(f.streamChunks)+1)
	for _, chunk := range f.streamChunks {
		ch <- llm.StreamResponse{Text: chunk}
	}
	ch <- llm.StreamResponse{Done: true}
	close(ch)
	return ch, nil
}

func (f *fakeProvider) GenerateImage(ctx context.Context, req llm.ImageRequest) (*llm.ImageResponse, error) {
	atomic.AddInt32(&f.imageCalls, 1)
	if f.imageErr != nil {
		return nil, f.imageErr
	}
	return &llm.ImageResponse{
		Base64Data: base64.StdEncoding.EncodeToString([]byte("fake image: " + req.Description)),
		MimeType:   "image/png",
		ModelName:  "fake-image-1",
	}, nil
}
