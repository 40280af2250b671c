package embedding

import (
	"context"
	"strings"
	"sync"

	openai "github.com/sashabaranov/go-openai"

	"github.com/aihub/knowledge-engine/internal/kberrors"
)

// Embedder 定义文本向量化接口
// modelRef为空时使用实现方的默认模型
type Embedder interface {
	Embed(ctx context.Context, text, modelRef string) ([]float32, error)
	Dimensions() int
	Ready() bool
}

// NoopEmbedder 默认占位实现
type NoopEmbedder struct{}

func (n *NoopEmbedder) Embed(ctx context.Context, text, modelRef string) ([]float32, error) {
	return nil, kberrors.NewEmbeddingUnavailable(nil)
}

func (n *NoopEmbedder) Dimensions() int {
	return 0
}

func (n *NoopEmbedder) Ready() bool {
	return false
}

var embeddingDimensions = map[string]int{
	"text-embedding-3-large": 3072,
	"text-embedding-3-small": 1536,
	"text-embedding-ada-002": 1536,
}

// OpenAIEmbedder 使用OpenAI Embedding API
type OpenAIEmbedder struct {
	client       *openai.Client
	defaultModel string
	dimensions   int
	limiter      sync.Mutex
}

// NewOpenAIEmbedder 创建OpenAI向量化客户端
// apiKey为空时返回占位实现
func NewOpenAIEmbedder(apiKey, baseURL, defaultModel string) Embedder {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return &NoopEmbedder{}
	}
	if defaultModel == "" {
		defaultModel = "text-embedding-3-small"
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	client := openai.NewClientWithConfig(cfg)

	dims, ok := embeddingDimensions[defaultModel]
	if !ok {
		dims = 1536
	}

	return &OpenAIEmbedder{
		client:       client,
		defaultModel: defaultModel,
		dimensions:   dims,
	}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text, modelRef string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, kberrors.NewInvalidConfig("embedding text is empty")
	}
	if e.client == nil {
		return nil, kberrors.NewEmbeddingUnavailable(nil)
	}

	model := modelRef
	if model == "" {
		model = e.defaultModel
	}

	e.limiter.Lock()
	defer e.limiter.Unlock()

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(model),
		Input: []string{text},
	})
	if err != nil {
		return nil, kberrors.NewEmbeddingUnavailable(err)
	}
	if len(resp.Data) == 0 {
		return nil, kberrors.NewEmbeddingUnavailable(nil)
	}

	embedding := resp.Data[0].Embedding
	result := make([]float32, len(embedding))
	copy(result, embedding)
	return result, nil
}

func (e *OpenAIEmbedder) Dimensions() int {
	return e.dimensions
}

func (e *OpenAIEmbedder) Ready() bool {
	return e.client != nil
}
