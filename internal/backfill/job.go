package backfill

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/aihub/knowledge-engine/internal/database"
	"github.com/aihub/knowledge-engine/internal/metrics"
	"github.com/aihub/knowledge-engine/internal/models"
	"github.com/aihub/knowledge-engine/internal/store"
)

// DefaultDocumentName 回填时创建的默认文档名称
const DefaultDocumentName = "default"

// errNoFragments 标记知识库没有待归档的片段，用于回滚默认文档的创建
var errNoFragments = errors.New("no untagged fragments")

// Options 回填任务参数
type Options struct {
	// PageSize 每页扫描的知识库数量
	PageSize int
	// FragmentPageSize 每批重归档的片段数量
	FragmentPageSize int
	// PageDelay 相邻两页之间的间隔，避免压垮数据库
	PageDelay time.Duration
}

func (o Options) normalized() Options {
	if o.PageSize <= 0 {
		o.PageSize = 100
	}
	if o.FragmentPageSize <= 0 {
		o.FragmentPageSize = 100
	}
	return o
}

// Summary 单次运行的统计
type Summary struct {
	Scanned  int
	Migrated int
	Skipped  int
	Failed   int
}

// Job 文档模型回填任务
//
// 历史数据中片段直接挂在知识库下，没有文档行。任务为每个这样的
// 知识库创建默认文档并把片段重新归档到该文档。游标记录进度，
// 任务可随时中断并从上次提交的位置恢复。
type Job struct {
	kbStore       store.KnowledgeBaseStore
	docStore      store.DocumentStore
	fragmentStore store.FragmentStore
	tx            database.Transactor
	cursor        CursorStore
	opts          Options
	logger        *zap.Logger
}

// NewJob 创建回填任务
func NewJob(
	kbStore store.KnowledgeBaseStore,
	docStore store.DocumentStore,
	fragmentStore store.FragmentStore,
	tx database.Transactor,
	cursor CursorStore,
	opts Options,
	logger *zap.Logger,
) *Job {
	return &Job{
		kbStore:       kbStore,
		docStore:      docStore,
		fragmentStore: fragmentStore,
		tx:            tx,
		cursor:        cursor,
		opts:          opts.normalized(),
		logger:        logger.Named("backfill"),
	}
}

// Run 执行一次全量回填
//
// 按id升序游标分页扫描知识库，单个知识库的迁移在独立事务内完成，
// 某个知识库失败只记录日志不中断整体。游标在整页处理完成后才推进，
// 失败的知识库会在下次运行时重新扫描到。
func (j *Job) Run(ctx context.Context) (*Summary, error) {
	cursor, err := j.cursor.Get(ctx)
	if err != nil {
		return nil, err
	}
	j.logger.Info("backfill started", zap.Uint64("cursor", cursor))

	summary := &Summary{}
	for {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		kbs, err := j.kbStore.ListAfterID(ctx, store.SystemScope, cursor, j.opts.PageSize)
		if err != nil {
			return summary, err
		}
		if len(kbs) == 0 {
			break
		}

		for _, kb := range kbs {
			if err := ctx.Err(); err != nil {
				return summary, err
			}
			summary.Scanned++

			migrated, err := j.processKnowledgeBase(ctx, kb)
			switch {
			case err != nil:
				summary.Failed++
				metrics.BackfillKnowledgeBasesTotal.WithLabelValues("failed").Inc()
				j.logger.Error("knowledge base backfill failed",
					zap.String("knowledge_code", kb.Code), zap.Error(err))
			case migrated:
				summary.Migrated++
				metrics.BackfillKnowledgeBasesTotal.WithLabelValues("migrated").Inc()
			default:
				summary.Skipped++
				metrics.BackfillKnowledgeBasesTotal.WithLabelValues("skipped").Inc()
			}
		}

		cursor = kbs[len(kbs)-1].ID
		if err := j.cursor.Set(ctx, cursor); err != nil {
			return summary, err
		}

		if len(kbs) < j.opts.PageSize {
			break
		}
		if j.opts.PageDelay > 0 {
			select {
			case <-time.After(j.opts.PageDelay):
			case <-ctx.Done():
				return summary, ctx.Err()
			}
		}
	}

	j.logger.Info("backfill finished",
		zap.Int("scanned", summary.Scanned),
		zap.Int("migrated", summary.Migrated),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed))
	return summary, nil
}

// processKnowledgeBase 迁移单个知识库，返回是否发生了迁移
// 已有文档行的知识库视为已在新模型下，直接跳过
func (j *Job) processKnowledgeBase(ctx context.Context, kb *models.KnowledgeBase) (bool, error) {
	docCount, err := j.docStore.CountByKnowledgeCode(ctx, store.SystemScope, kb.Code)
	if err != nil {
		return false, err
	}
	if docCount > 0 {
		j.logger.Debug("knowledge base already on document model, skipped",
			zap.String("knowledge_code", kb.Code))
		return false, nil
	}

	var migratedFragments int
	err = j.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		doc := &models.KnowledgeBaseDocument{
			Code:              defaultDocumentCode(kb.Code),
			KnowledgeBaseCode: kb.Code,
			Name:              DefaultDocumentName,
			Enabled:           true,
			FragmentConfig:    models.DefaultFragmentConfig(),
		}
		if err := j.docStore.Create(txCtx, store.SystemScope, doc); err != nil {
			return err
		}

		// 片段更新后不再匹配空document_code条件，每轮都取第一页
		for {
			fragments, err := j.fragmentStore.Query(txCtx, store.SystemScope, store.FragmentQuery{
				KnowledgeCode: kb.Code,
				OnlyUntagged:  true,
				Page:          1,
				PageSize:      j.opts.FragmentPageSize,
			})
			if err != nil {
				return err
			}
			if len(fragments) == 0 {
				break
			}
			for _, f := range fragments {
				f.DocumentCode = doc.Code
			}
			if err := j.fragmentStore.SaveBatch(txCtx, store.SystemScope, fragments); err != nil {
				return err
			}
			migratedFragments += len(fragments)
			if len(fragments) < j.opts.FragmentPageSize {
				break
			}
		}

		// 没有历史片段就不留下空的默认文档
		if migratedFragments == 0 {
			return errNoFragments
		}
		return nil
	})
	if errors.Is(err, errNoFragments) {
		j.logger.Debug("knowledge base has no untagged fragments, skipped",
			zap.String("knowledge_code", kb.Code))
		return false, nil
	}
	if err != nil {
		return false, err
	}

	j.logger.Info("knowledge base migrated",
		zap.String("knowledge_code", kb.Code),
		zap.Int("fragments", migratedFragments))
	return true, nil
}

func defaultDocumentCode(knowledgeCode string) string {
	return knowledgeCode + "-default"
}
