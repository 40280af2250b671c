package ingest

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/aihub/knowledge-engine/internal/models"
	"github.com/aihub/knowledge-engine/internal/store"
	"github.com/aihub/knowledge-engine/internal/vectordb"
)

const rebuildQueueCapacity = 16

// rebuildTask 单次重建任务，done在任务结束后收到最终错误并关闭
type rebuildTask struct {
	scope         store.Scope
	knowledgeCode string
	done          chan error
}

// rebuildQueue 进程内重建队列
// 重建串行执行，避免同一向量库collection被并发重建
type rebuildQueue struct {
	tasks   chan rebuildTask
	run     func(ctx context.Context, task rebuildTask) error
	logger  *zap.Logger
	started bool
	mu      sync.Mutex
}

func newRebuildQueue(run func(ctx context.Context, task rebuildTask) error, logger *zap.Logger) *rebuildQueue {
	return &rebuildQueue{
		tasks:  make(chan rebuildTask, rebuildQueueCapacity),
		run:    run,
		logger: logger.Named("rebuild"),
	}
}

func (q *rebuildQueue) start(ctx context.Context) {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case task := <-q.tasks:
				err := q.run(ctx, task)
				if err != nil {
					q.logger.Error("rebuild failed",
						zap.String("knowledge_code", task.knowledgeCode), zap.Error(err))
				}
				task.done <- err
				close(task.done)
			}
		}
	}()
}

func (q *rebuildQueue) enqueue(ctx context.Context, task rebuildTask) error {
	select {
	case q.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Rebuild 触发知识库全量重建
//
// 所有片段先统一转入Rebuilding并清零重试计数，重建任务随后在后台
// 队列中串行执行。force为false且已有片段处于Rebuilding时直接返回
// 已完成的空通道，同一知识库不会叠加多个待执行的重建。
// 返回的通道在重建结束后收到最终错误并关闭。
func (o *Orchestrator) Rebuild(ctx context.Context, scope store.Scope, knowledgeCode string, force bool) (<-chan error, error) {
	if _, err := o.kbStore.GetByCode(ctx, scope, knowledgeCode); err != nil {
		return nil, err
	}

	if !force {
		rebuilding := models.SyncStatusRebuilding
		count, err := o.fragmentStore.Count(ctx, scope, store.FragmentQuery{
			KnowledgeCode: knowledgeCode,
			SyncStatus:    &rebuilding,
		})
		if err != nil {
			return nil, err
		}
		if count > 0 {
			o.logger.Info("rebuild already pending, skipping",
				zap.String("knowledge_code", knowledgeCode))
			done := make(chan error)
			close(done)
			return done, nil
		}
	}

	if err := o.fragmentStore.RebuildByKnowledgeCode(ctx, scope, knowledgeCode); err != nil {
		return nil, err
	}
	if err := o.kbStore.UpdateSyncStatus(ctx, scope, knowledgeCode, models.SyncStatusSyncing); err != nil {
		return nil, err
	}

	task := rebuildTask{scope: scope, knowledgeCode: knowledgeCode, done: make(chan error, 1)}
	if err := o.rebuilds.enqueue(ctx, task); err != nil {
		return nil, err
	}
	o.logger.Info("rebuild enqueued", zap.String("knowledge_code", knowledgeCode))
	return task.done, nil
}

// runRebuild 执行一次全量重建：清空collection后逐片段重新同步
func (o *Orchestrator) runRebuild(ctx context.Context, task rebuildTask) error {
	kb, err := o.kbStore.GetByCode(ctx, task.scope, task.knowledgeCode)
	if err != nil {
		return err
	}
	collection := vectordb.CollectionName(o.prefix, kb.Code)

	if err := o.vectorStore.DeleteCollection(ctx, collection); err != nil {
		o.logger.Warn("failed to drop collection before rebuild",
			zap.String("collection", collection), zap.Error(err))
	}
	if err := o.indexer.DeleteIndex(ctx, collection); err != nil {
		o.logger.Warn("failed to drop keyword index before rebuild",
			zap.String("collection", collection), zap.Error(err))
	}

	fragments, err := o.fragmentStore.Query(ctx, task.scope, store.FragmentQuery{
		KnowledgeCode: task.knowledgeCode,
	})
	if err != nil {
		return err
	}

	var failed int
	for _, fragment := range fragments {
		cacheVector := len(fragment.Vector) > 0
		fragment.Vector = nil
		if err := o.syncFragment(ctx, task.scope, kb, collection, fragment, cacheVector); err != nil {
			failed++
		}
	}

	if err := o.rollupSyncStatus(ctx, task.scope, task.knowledgeCode); err != nil {
		o.logger.Warn("sync status rollup failed",
			zap.String("knowledge_code", task.knowledgeCode), zap.Error(err))
	}

	o.logger.Info("rebuild finished",
		zap.String("knowledge_code", task.knowledgeCode),
		zap.Int("fragments", len(fragments)),
		zap.Int("failed", failed))
	return nil
}
