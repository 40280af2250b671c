package models

import (
	"github.com/go-playground/validator/v10"

	"github.com/aihub/knowledge-engine/internal/kberrors"
)

// 检索方式
const (
	SearchMethodSemantic = "semantic" // 纯向量
	SearchMethodKeyword  = "keyword"  // 纯全文
	SearchMethodHybrid   = "hybrid"   // 加权融合
)

// 重排序模式
const (
	RerankingModeNone          = "none"
	RerankingModeWeightedScore = "weighted-score"
)

var validate = validator.New()

// RetrieveConfig 检索配置（知识库级，可被文档覆盖）
type RetrieveConfig struct {
	SearchMethod          string  `json:"search_method" validate:"omitempty,oneof=semantic keyword hybrid"`
	TopK                  int     `json:"top_k" validate:"omitempty,gte=1,lte=100"`
	ScoreThreshold        float64 `json:"score_threshold" validate:"gte=0,lte=1"`
	ScoreThresholdEnabled bool    `json:"score_threshold_enabled"`
	RerankingMode         string  `json:"reranking_mode" validate:"omitempty,oneof=none weighted-score"`
	RerankingEnable       bool    `json:"reranking_enable"`
}

// DefaultRetrieveConfig 默认检索配置
func DefaultRetrieveConfig() RetrieveConfig {
	return RetrieveConfig{
		SearchMethod:  SearchMethodSemantic,
		TopK:          10,
		RerankingMode: RerankingModeNone,
	}
}

// Normalized 补全零值字段后的副本
func (c RetrieveConfig) Normalized() RetrieveConfig {
	if c.SearchMethod == "" {
		c.SearchMethod = SearchMethodSemantic
	}
	if c.TopK <= 0 {
		c.TopK = 10
	}
	if c.RerankingMode == "" {
		c.RerankingMode = RerankingModeNone
	}
	return c
}

// Validate 校验检索配置，非法时返回InvalidConfig
func (c RetrieveConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return kberrors.NewInvalidConfig("invalid retrieve config: %v", err)
	}
	switch c.SearchMethod {
	case "", SearchMethodSemantic, SearchMethodKeyword, SearchMethodHybrid:
	default:
		return kberrors.NewInvalidConfig("unknown search method %q", c.SearchMethod)
	}
	return nil
}

// FragmentConfig 分块配置（文档级）
type FragmentConfig struct {
	ChunkSize      int      `json:"chunk_size" validate:"omitempty,gte=1,lte=8192"`
	ChunkOverlap   int      `json:"chunk_overlap" validate:"gte=0"`
	FixedSeparator string   `json:"fixed_separator"`
	Separators     []string `json:"separators"`
	KeepSeparator  bool     `json:"keep_separator"`

	// 预处理开关
	RemoveExtraWhitespace bool `json:"remove_extra_whitespace"`
	RemoveURLs            bool `json:"remove_urls"`

	// 同步成功后在片段行缓存向量副本
	CacheVectors bool `json:"cache_vectors"`
}

// DefaultFragmentConfig 默认分块配置
func DefaultFragmentConfig() FragmentConfig {
	return FragmentConfig{
		ChunkSize:      500,
		ChunkOverlap:   50,
		FixedSeparator: "\n\n",
	}
}

// Normalized 补全零值字段后的副本
func (c FragmentConfig) Normalized() FragmentConfig {
	if c.ChunkSize <= 0 {
		c.ChunkSize = 500
	}
	if c.FixedSeparator == "" {
		c.FixedSeparator = "\n\n"
	}
	return c
}

// Validate 校验分块配置，overlap必须小于chunk size
func (c FragmentConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return kberrors.NewInvalidConfig("invalid fragment config: %v", err)
	}
	if c.ChunkSize > 0 && c.ChunkOverlap >= c.ChunkSize {
		return kberrors.NewInvalidConfig("chunk overlap %d must be less than chunk size %d", c.ChunkOverlap, c.ChunkSize)
	}
	return nil
}
