package ingest

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aihub/knowledge-engine/internal/chunker"
	"github.com/aihub/knowledge-engine/internal/database"
	"github.com/aihub/knowledge-engine/internal/embedding"
	"github.com/aihub/knowledge-engine/internal/kberrors"
	"github.com/aihub/knowledge-engine/internal/keyword"
	"github.com/aihub/knowledge-engine/internal/metrics"
	"github.com/aihub/knowledge-engine/internal/models"
	"github.com/aihub/knowledge-engine/internal/store"
	"github.com/aihub/knowledge-engine/internal/vectordb"
)

// IngestRequest 文档入库请求
type IngestRequest struct {
	KnowledgeCode string
	DocumentCode  string
	BusinessID    string
	Content       string
	Metadata      map[string]any
}

// IngestResult 入库结果统计
type IngestResult struct {
	Total    int
	Synced   int
	Failed   int
	Version  uint64
	PointIDs []string
}

// Orchestrator 入库编排器
// 负责分块、片段落库、逐片段向量同步与状态汇总
type Orchestrator struct {
	kbStore       store.KnowledgeBaseStore
	docStore      store.DocumentStore
	fragmentStore store.FragmentStore
	tx            database.Transactor
	embedder      embedding.Embedder
	vectorStore   vectordb.Store
	indexer       keyword.Indexer
	prefix        string
	logger        *zap.Logger

	rebuilds *rebuildQueue
}

// NewOrchestrator 创建入库编排器
func NewOrchestrator(
	kbStore store.KnowledgeBaseStore,
	docStore store.DocumentStore,
	fragmentStore store.FragmentStore,
	tx database.Transactor,
	embedder embedding.Embedder,
	vectorStore vectordb.Store,
	indexer keyword.Indexer,
	collectionPrefix string,
	logger *zap.Logger,
) *Orchestrator {
	o := &Orchestrator{
		kbStore:       kbStore,
		docStore:      docStore,
		fragmentStore: fragmentStore,
		tx:            tx,
		embedder:      embedder,
		vectorStore:   vectorStore,
		indexer:       indexer,
		prefix:        collectionPrefix,
		logger:        logger.Named("ingest"),
	}
	o.rebuilds = newRebuildQueue(o.runRebuild, logger)
	return o
}

// Start 启动后台重建队列，在ctx取消时停止
func (o *Orchestrator) Start(ctx context.Context) {
	o.rebuilds.start(ctx)
}

// Ingest 将文档内容分块后落库并逐片段同步到向量库
//
// 片段替换在单个数据库事务内完成；向量库point的清理在事务提交后
// 执行，未被任何片段引用的残留point不影响检索正确性。
// 单个片段同步失败不会中断整体流程，其余片段继续同步。
func (o *Orchestrator) Ingest(ctx context.Context, scope store.Scope, req IngestRequest) (*IngestResult, error) {
	kb, err := o.kbStore.GetByCode(ctx, scope, req.KnowledgeCode)
	if err != nil {
		return nil, err
	}

	doc, err := o.docStore.GetByCode(ctx, scope, req.DocumentCode)
	if err != nil {
		return nil, err
	}
	if doc.KnowledgeBaseCode != kb.Code {
		return nil, kberrors.NewInvalidConfig("document %s does not belong to knowledge base %s", req.DocumentCode, req.KnowledgeCode)
	}

	cfg := doc.FragmentConfig.Normalized()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	chunks, err := o.splitContent(req.Content, cfg)
	if err != nil {
		return nil, err
	}

	fragments, version, stalePointIDs, err := o.replaceFragments(ctx, scope, kb.Code, doc.Code, req, chunks)
	if err != nil {
		return nil, err
	}

	// 事务已提交，旧point不再被引用，删除失败只留下孤立数据
	collection := vectordb.CollectionName(o.prefix, kb.Code)
	if len(stalePointIDs) > 0 {
		if err := o.vectorStore.DeleteByPointIDs(ctx, collection, stalePointIDs); err != nil {
			o.logger.Warn("failed to delete stale vector points",
				zap.String("knowledge_code", kb.Code), zap.Int("count", len(stalePointIDs)), zap.Error(err))
		}
		if err := o.indexer.RemoveByPointIDs(ctx, collection, stalePointIDs); err != nil {
			o.logger.Warn("failed to remove stale keyword documents",
				zap.String("knowledge_code", kb.Code), zap.Error(err))
		}
	}

	result := &IngestResult{Total: len(fragments), Version: version}
	for _, fragment := range fragments {
		if err := o.syncFragment(ctx, scope, kb, collection, fragment, cfg.CacheVectors); err != nil {
			result.Failed++
			o.logger.Warn("fragment sync failed",
				zap.Uint64("fragment_id", fragment.ID),
				zap.String("knowledge_code", kb.Code),
				zap.Error(err))
			continue
		}
		result.Synced++
		result.PointIDs = append(result.PointIDs, fragment.PointID)
	}

	if err := o.rollupSyncStatus(ctx, scope, kb.Code); err != nil {
		o.logger.Warn("sync status rollup failed", zap.String("knowledge_code", kb.Code), zap.Error(err))
	}

	metrics.IngestDocumentsTotal.Inc()
	o.logger.Info("document ingested",
		zap.String("knowledge_code", kb.Code),
		zap.String("document_code", doc.Code),
		zap.Int("fragments", result.Total),
		zap.Int("synced", result.Synced),
		zap.Int("failed", result.Failed))
	return result, nil
}

// splitContent 规范编码、预处理并分块
func (o *Orchestrator) splitContent(content string, cfg models.FragmentConfig) ([]string, error) {
	text := chunker.NormalizeEncoding(content)
	text = chunker.Preprocess(text, chunker.PreprocessOptions{
		RemoveExtraWhitespace: cfg.RemoveExtraWhitespace,
		RemoveURLs:            cfg.RemoveURLs,
	})
	c, err := chunker.New(chunker.Options{
		ChunkSize:      cfg.ChunkSize,
		ChunkOverlap:   cfg.ChunkOverlap,
		FixedSeparator: cfg.FixedSeparator,
		Separators:     cfg.Separators,
		KeepSeparator:  cfg.KeepSeparator,
	})
	if err != nil {
		return nil, err
	}
	return c.Split(text), nil
}

// replaceFragments 在单个事务内用新分块替换文档的全部片段
// 返回新片段（带数据库ID）、新版本号和被替换片段的pointId列表
func (o *Orchestrator) replaceFragments(
	ctx context.Context,
	scope store.Scope,
	knowledgeCode, documentCode string,
	req IngestRequest,
	chunks []string,
) ([]*models.KnowledgeBaseFragment, uint64, []string, error) {
	var fresh []*models.KnowledgeBaseFragment
	var version uint64
	var stalePointIDs []string

	err := o.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		existing, err := o.fragmentStore.Query(txCtx, scope, store.FragmentQuery{
			KnowledgeCode:         knowledgeCode,
			DocumentCode:          documentCode,
			IsDefaultDocumentCode: true,
		})
		if err != nil {
			return err
		}
		for _, f := range existing {
			if f.Version >= version {
				version = f.Version + 1
			}
			if f.PointID != "" {
				stalePointIDs = append(stalePointIDs, f.PointID)
			}
		}

		fresh = make([]*models.KnowledgeBaseFragment, 0, len(chunks))
		for i, chunk := range chunks {
			fresh = append(fresh, &models.KnowledgeBaseFragment{
				KnowledgeCode: knowledgeCode,
				DocumentCode:  documentCode,
				BusinessID:    fragmentBusinessID(req.BusinessID, i),
				Content:       chunk,
				Metadata:      req.Metadata,
				SyncStatus:    models.SyncStatusNotSynced,
				Version:       version,
			})
		}
		return o.fragmentStore.ReplaceDocumentFragments(txCtx, scope, knowledgeCode, documentCode, fresh)
	})
	if err != nil {
		return nil, 0, nil, err
	}
	return fresh, version, stalePointIDs, nil
}

// syncFragment 同步单个片段：Syncing → 向量化 → 写入向量库 → Synced
// 任一步失败转入SyncFailed并记录截断后的失败信息
func (o *Orchestrator) syncFragment(
	ctx context.Context,
	scope store.Scope,
	kb *models.KnowledgeBase,
	collection string,
	fragment *models.KnowledgeBaseFragment,
	cacheVector bool,
) error {
	if err := o.fragmentStore.ChangeSyncStatus(ctx, scope, fragment.ID, models.SyncStatusSyncing, ""); err != nil {
		return err
	}
	fragment.SyncStatus = models.SyncStatusSyncing

	fail := func(cause error) error {
		msg := models.TruncateSyncStatusMessage(cause.Error())
		if err := o.fragmentStore.ChangeSyncStatus(ctx, scope, fragment.ID, models.SyncStatusSyncFailed, msg); err != nil {
			o.logger.Error("failed to record sync failure",
				zap.Uint64("fragment_id", fragment.ID), zap.Error(err))
		}
		fragment.SyncStatus = models.SyncStatusSyncFailed
		metrics.FragmentSyncTotal.WithLabelValues(string(models.SyncStatusSyncFailed)).Inc()
		return cause
	}

	vector, err := o.embedder.Embed(ctx, fragment.Content, kb.Model)
	if err != nil {
		return fail(err)
	}

	pointID := uuid.NewString()
	err = o.vectorStore.Upsert(ctx, collection, []vectordb.Point{{
		ID:     pointID,
		Vector: vector,
		Payload: map[string]any{
			"text":     fragment.Content,
			"metadata": fragment.Metadata,
		},
	}})
	if err != nil {
		return fail(err)
	}

	fragment.PointID = pointID
	if cacheVector {
		fragment.Vector = vector
	}
	if err := o.fragmentStore.Save(ctx, scope, fragment); err != nil {
		return fail(fmt.Errorf("persist point id: %w", err))
	}

	// 关键词索引尽力而为，失败不影响片段同步结果
	if o.indexer.Ready() {
		if err := o.indexer.IndexFragment(ctx, collection, keyword.FragmentDoc{
			PointID:       pointID,
			FragmentID:    fragment.ID,
			KnowledgeCode: fragment.KnowledgeCode,
			DocumentCode:  fragment.DocumentCode,
			Content:       fragment.Content,
			Metadata:      fragment.Metadata,
		}); err != nil {
			o.logger.Warn("keyword indexing failed",
				zap.Uint64("fragment_id", fragment.ID), zap.Error(err))
		}
	}

	if err := o.fragmentStore.ChangeSyncStatus(ctx, scope, fragment.ID, models.SyncStatusSynced, ""); err != nil {
		return fail(err)
	}
	fragment.SyncStatus = models.SyncStatusSynced
	metrics.FragmentSyncTotal.WithLabelValues(string(models.SyncStatusSynced)).Inc()
	return nil
}

// RetrySyncFailed 重试知识库内同步失败且重试次数未超限的片段
func (o *Orchestrator) RetrySyncFailed(ctx context.Context, scope store.Scope, knowledgeCode string, maxSyncTimes uint) (int, error) {
	kb, err := o.kbStore.GetByCode(ctx, scope, knowledgeCode)
	if err != nil {
		return 0, err
	}
	failed := models.SyncStatusSyncFailed
	fragments, err := o.fragmentStore.Query(ctx, scope, store.FragmentQuery{
		KnowledgeCode: knowledgeCode,
		SyncStatus:    &failed,
		MaxSyncTimes:  &maxSyncTimes,
	})
	if err != nil {
		return 0, err
	}

	collection := vectordb.CollectionName(o.prefix, kb.Code)
	retried := 0
	for _, fragment := range fragments {
		cacheVector := len(fragment.Vector) > 0
		if err := o.syncFragment(ctx, scope, kb, collection, fragment, cacheVector); err != nil {
			continue
		}
		retried++
	}

	if err := o.rollupSyncStatus(ctx, scope, knowledgeCode); err != nil {
		o.logger.Warn("sync status rollup failed", zap.String("knowledge_code", knowledgeCode), zap.Error(err))
	}
	return retried, nil
}

// rollupSyncStatus 由片段状态汇总知识库级同步状态
func (o *Orchestrator) rollupSyncStatus(ctx context.Context, scope store.Scope, knowledgeCode string) error {
	fragments, err := o.fragmentStore.Query(ctx, scope, store.FragmentQuery{KnowledgeCode: knowledgeCode})
	if err != nil {
		return err
	}
	statuses := make([]models.SyncStatus, 0, len(fragments))
	for _, f := range fragments {
		statuses = append(statuses, f.SyncStatus)
	}
	status, ok := store.AggregateSyncStatus(statuses)
	if !ok {
		return nil
	}
	return o.kbStore.UpdateSyncStatus(ctx, scope, knowledgeCode, status)
}

// DocumentSyncStatus 返回知识库内各文档的聚合同步状态
func (o *Orchestrator) DocumentSyncStatus(ctx context.Context, scope store.Scope, knowledgeCode string, documentCodes []string) (map[string]models.SyncStatus, error) {
	statuses, err := o.fragmentStore.SyncStatusByDocumentCodes(ctx, scope, knowledgeCode, documentCodes)
	if err != nil {
		return nil, err
	}
	return store.AggregateDocumentSyncStatus(statuses), nil
}

func fragmentBusinessID(base string, index int) string {
	if base == "" {
		return ""
	}
	return fmt.Sprintf("%s:%d", base, index)
}
