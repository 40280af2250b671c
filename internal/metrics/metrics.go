package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// 引擎指标集合
var (
	// FragmentSyncTotal 片段同步转换计数，按目标状态区分
	FragmentSyncTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "knowledge",
		Subsystem: "ingest",
		Name:      "fragment_sync_total",
		Help:      "Fragment sync status transitions by target status",
	}, []string{"status"})

	// IngestDocumentsTotal 文档入库计数
	IngestDocumentsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "knowledge",
		Subsystem: "ingest",
		Name:      "documents_total",
		Help:      "Documents ingested",
	})

	// RetrievalRequestsTotal 检索请求计数
	RetrievalRequestsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "knowledge",
		Subsystem: "retrieval",
		Name:      "requests_total",
		Help:      "Similarity retrieval requests",
	})

	// RetrievalDuration 检索耗时分布
	RetrievalDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "knowledge",
		Subsystem: "retrieval",
		Name:      "duration_seconds",
		Help:      "Similarity retrieval latency",
		Buckets:   prometheus.DefBuckets,
	})

	// BackfillKnowledgeBasesTotal 回填处理计数，按结果区分
	BackfillKnowledgeBasesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "knowledge",
		Subsystem: "backfill",
		Name:      "knowledge_bases_total",
		Help:      "Knowledge bases processed by the backfill job",
	}, []string{"result"})
)
