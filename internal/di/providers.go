package di

import (
	"fmt"

	"go.uber.org/dig"
	"go.uber.org/zap"

	"github.com/aihub/knowledge-engine/internal/backfill"
	"github.com/aihub/knowledge-engine/internal/config"
	"github.com/aihub/knowledge-engine/internal/database"
	"github.com/aihub/knowledge-engine/internal/embedding"
	"github.com/aihub/knowledge-engine/internal/ingest"
	"github.com/aihub/knowledge-engine/internal/keyword"
	"github.com/aihub/knowledge-engine/internal/logger"
	"github.com/aihub/knowledge-engine/internal/retrieval"
	"github.com/aihub/knowledge-engine/internal/store"
	"github.com/aihub/knowledge-engine/internal/vectordb"

	"github.com/redis/go-redis/v9"
)

// RegisterProviders 注册所有依赖提供者
func RegisterProviders(container *dig.Container) error {
	// 注册配置
	if err := container.Provide(func() (*config.Config, error) {
		if config.AppConfig == nil {
			return nil, fmt.Errorf("config not loaded")
		}
		return config.AppConfig, nil
	}); err != nil {
		return err
	}

	// 注册日志
	if err := container.Provide(func() *zap.Logger {
		return logger.GetLogger()
	}); err != nil {
		return err
	}

	// 注册数据库
	if err := container.Provide(database.InitDB); err != nil {
		return err
	}
	if err := container.Provide(database.NewTxManager); err != nil {
		return err
	}

	// 注册仓库
	if err := container.Provide(store.NewKnowledgeBaseStore); err != nil {
		return err
	}
	if err := container.Provide(store.NewDocumentStore); err != nil {
		return err
	}
	if err := container.Provide(store.NewFragmentStore); err != nil {
		return err
	}

	// 注册向量化
	if err := container.Provide(func(cfg *config.Config) embedding.Embedder {
		if cfg.Embedding.OpenAIAPIKey == "" {
			return &embedding.NoopEmbedder{}
		}
		return embedding.NewOpenAIEmbedder(cfg.Embedding.OpenAIAPIKey, cfg.Embedding.BaseURL, cfg.Embedding.DefaultModel)
	}); err != nil {
		return err
	}

	// 注册向量库
	if err := container.Provide(func(cfg *config.Config) (vectordb.Store, error) {
		return vectordb.NewMilvusStore(vectordb.MilvusOptions{
			Address:    cfg.Milvus.Address,
			Username:   cfg.Milvus.Username,
			Password:   cfg.Milvus.Password,
			Database:   cfg.Milvus.Database,
			VectorSize: cfg.Milvus.VectorSize,
			Distance:   cfg.Milvus.Distance,
			UseTLS:     cfg.Milvus.UseTLS,
		})
	}); err != nil {
		return err
	}

	// 注册全文索引，未启用时退化为占位实现
	if err := container.Provide(func(cfg *config.Config) (keyword.Indexer, error) {
		if !cfg.Elastic.Enabled {
			return &keyword.NoopIndexer{}, nil
		}
		return keyword.NewElasticIndexer(cfg.Elastic.Addresses, cfg.Elastic.Username, cfg.Elastic.Password, cfg.Elastic.APIKey)
	}); err != nil {
		return err
	}

	// 注册入库编排器
	if err := container.Provide(func(
		cfg *config.Config,
		kbStore store.KnowledgeBaseStore,
		docStore store.DocumentStore,
		fragmentStore store.FragmentStore,
		tx *database.TxManager,
		embedder embedding.Embedder,
		vectorStore vectordb.Store,
		indexer keyword.Indexer,
		log *zap.Logger,
	) *ingest.Orchestrator {
		return ingest.NewOrchestrator(kbStore, docStore, fragmentStore, tx, embedder, vectorStore, indexer, cfg.Milvus.CollectionPrefix, log)
	}); err != nil {
		return err
	}

	// 注册检索引擎
	if err := container.Provide(func(
		cfg *config.Config,
		kbStore store.KnowledgeBaseStore,
		fragmentStore store.FragmentStore,
		embedder embedding.Embedder,
		vectorStore vectordb.Store,
		indexer keyword.Indexer,
		log *zap.Logger,
	) *retrieval.Engine {
		return retrieval.NewEngine(kbStore, fragmentStore, embedder, vectorStore, indexer, cfg.Milvus.CollectionPrefix, log)
	}); err != nil {
		return err
	}

	// 注册回填任务
	if err := container.Provide(func(cfg *config.Config, rdb *redis.Client) backfill.CursorStore {
		return backfill.NewRedisCursorStore(rdb, cfg.Backfill.CursorKey)
	}); err != nil {
		return err
	}
	if err := container.Provide(database.InitRedis); err != nil {
		return err
	}
	if err := container.Provide(func(
		cfg *config.Config,
		kbStore store.KnowledgeBaseStore,
		docStore store.DocumentStore,
		fragmentStore store.FragmentStore,
		tx *database.TxManager,
		cursor backfill.CursorStore,
		log *zap.Logger,
	) *backfill.Job {
		return backfill.NewJob(kbStore, docStore, fragmentStore, tx, cursor, backfill.Options{
			PageSize:         cfg.Backfill.PageSize,
			FragmentPageSize: cfg.Backfill.FragmentPageSize,
			PageDelay:        cfg.Backfill.PageDelay,
		}, log)
	}); err != nil {
		return err
	}

	return nil
}
