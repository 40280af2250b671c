package vectordb

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/aihub/knowledge-engine/internal/kberrors"
	"github.com/aihub/knowledge-engine/internal/logger"
)

// MilvusOptions Milvus客户端配置
type MilvusOptions struct {
	Address    string
	Username   string
	Password   string
	Database   string
	VectorSize int
	Distance   string
	UseTLS     bool
	Timeout    time.Duration
}

type milvusStore struct {
	milvusClient client.Client
	vectorSize   int
	distance     string
	// 已确认存在的collection，避免重复探测
	known map[string]bool
	log   *zap.Logger
}

// NewMilvusStore 创建Milvus向量存储
func NewMilvusStore(opts MilvusOptions) (Store, error) {
	if opts.Address == "" {
		opts.Address = "localhost:19530"
	}
	if opts.VectorSize == 0 {
		opts.VectorSize = 1536
	}
	if opts.Database == "" {
		opts.Database = "default"
	}

	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	milvusClient, err := client.NewClient(ctx, client.Config{
		Address:       opts.Address,
		DBName:        opts.Database,
		Username:      opts.Username,
		Password:      opts.Password,
		EnableTLSAuth: opts.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	return &milvusStore{
		milvusClient: milvusClient,
		vectorSize:   opts.VectorSize,
		distance:     formatDistance(opts.Distance),
		known:        make(map[string]bool),
		log:          logger.Named("milvus"),
	}, nil
}

func formatDistance(value string) string {
	switch strings.ToUpper(value) {
	case "DOT", "IP", "INNER_PRODUCT":
		return "IP"
	case "L2", "EUCLIDEAN":
		return "L2"
	default:
		return "COSINE"
	}
}

func (s *milvusStore) ensureCollection(ctx context.Context, name string) error {
	if s.known[name] {
		return nil
	}

	hasCollection, err := s.milvusClient.HasCollection(ctx, name)
	if err != nil {
		return kberrors.NewVectorStoreUnavailable(err)
	}
	if hasCollection {
		s.known[name] = true
		return nil
	}

	schema := &entity.Schema{
		CollectionName: name,
		Fields: []*entity.Field{
			{
				Name:       "point_id",
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				TypeParams: map[string]string{"max_length": "64"},
			},
			{
				Name:       "content",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "65535"},
			},
			{
				Name:       "metadata",
				DataType:   entity.FieldTypeVarChar,
				TypeParams: map[string]string{"max_length": "65535"},
			},
			{
				Name:     "vector",
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": fmt.Sprintf("%d", s.vectorSize),
				},
			},
		},
	}

	if err := s.milvusClient.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return kberrors.NewVectorStoreUnavailable(err)
	}

	index, indexErr := s.newIndex()
	if indexErr != nil {
		return kberrors.NewVectorStoreUnavailable(indexErr)
	}
	if err := s.milvusClient.CreateIndex(ctx, name, "vector", index, false); err != nil {
		// 索引创建失败不影响写入，降级为暴力检索
		s.log.Warn("failed to create index", zap.String("collection", name), zap.Error(err))
	}

	if err := s.milvusClient.LoadCollection(ctx, name, false); err != nil {
		s.log.Warn("failed to load collection", zap.String("collection", name), zap.Error(err))
	}

	s.known[name] = true
	return nil
}

func (s *milvusStore) newIndex() (entity.Index, error) {
	switch s.distance {
	case "IP":
		return entity.NewIndexHNSW(entity.IP, 8, 64)
	case "L2":
		return entity.NewIndexHNSW(entity.L2, 8, 64)
	default:
		return entity.NewIndexHNSW(entity.COSINE, 8, 64)
	}
}

func (s *milvusStore) Upsert(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	if err := s.ensureCollection(ctx, collection); err != nil {
		return err
	}

	ids := make([]string, len(points))
	contents := make([]string, len(points))
	metadatas := make([]string, len(points))
	vectors := make([][]float32, len(points))

	for i, p := range points {
		if len(p.Vector) != s.vectorSize {
			return kberrors.NewInvalidConfig("vector dimension %d does not match collection dimension %d", len(p.Vector), s.vectorSize)
		}
		ids[i] = p.ID
		contents[i] = payloadText(p.Payload)
		metadatas[i] = payloadMetadata(p.Payload)
		vectors[i] = p.Vector
	}

	_, err := s.milvusClient.Upsert(ctx, collection, "",
		entity.NewColumnVarChar("point_id", ids),
		entity.NewColumnVarChar("content", contents),
		entity.NewColumnVarChar("metadata", metadatas),
		entity.NewColumnFloatVector("vector", s.vectorSize, vectors),
	)
	if err != nil {
		return kberrors.NewVectorStoreUnavailable(err)
	}

	if err := s.milvusClient.Flush(ctx, collection, false); err != nil {
		s.log.Warn("failed to flush collection", zap.String("collection", collection), zap.Error(err))
	}
	return nil
}

func (s *milvusStore) Search(ctx context.Context, collection string, queryVector []float32, topK int, filter string) ([]SearchHit, error) {
	if len(queryVector) == 0 {
		return nil, nil
	}
	if err := s.ensureCollection(ctx, collection); err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = 10
	}

	sp, _ := entity.NewIndexHNSWSearchParam(64)
	searchResults, err := s.milvusClient.Search(
		ctx,
		collection,
		[]string{},
		filter,
		[]string{"point_id", "content", "metadata"},
		[]entity.Vector{entity.FloatVector(queryVector)},
		"vector",
		entity.MetricType(s.distance),
		topK,
		sp,
	)
	if err != nil {
		return nil, kberrors.NewVectorStoreUnavailable(err)
	}

	if len(searchResults) == 0 {
		return []SearchHit{}, nil
	}
	result := searchResults[0]
	if result.Err != nil {
		return nil, kberrors.NewVectorStoreUnavailable(result.Err)
	}
	if result.ResultCount == 0 {
		return []SearchHit{}, nil
	}

	var pointIDs, contents, metadatas []string
	for _, field := range result.Fields {
		col, ok := field.(*entity.ColumnVarChar)
		if !ok {
			continue
		}
		switch field.Name() {
		case "point_id":
			pointIDs = col.Data()
		case "content":
			contents = col.Data()
		case "metadata":
			metadatas = col.Data()
		}
	}

	hits := make([]SearchHit, 0, result.ResultCount)
	for i := 0; i < result.ResultCount; i++ {
		hit := SearchHit{Payload: map[string]interface{}{}}
		if i < len(pointIDs) {
			hit.PointID = pointIDs[i]
		}
		if i < len(contents) {
			hit.Payload["text"] = contents[i]
		}
		if i < len(metadatas) && metadatas[i] != "" {
			var meta map[string]interface{}
			if err := json.Unmarshal([]byte(metadatas[i]), &meta); err == nil {
				hit.Payload["metadata"] = meta
			}
		}
		if i < len(result.Scores) {
			hit.Score = float64(result.Scores[i])
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

func (s *milvusStore) DeleteByPointIDs(ctx context.Context, collection string, pointIDs []string) error {
	if len(pointIDs) == 0 {
		return nil
	}
	if err := s.ensureCollection(ctx, collection); err != nil {
		return err
	}

	quoted := make([]string, len(pointIDs))
	for i, id := range pointIDs {
		quoted[i] = fmt.Sprintf("%q", id)
	}
	expr := fmt.Sprintf("point_id in [%s]", strings.Join(quoted, ","))

	if err := s.milvusClient.Delete(ctx, collection, "", expr); err != nil {
		return kberrors.NewVectorStoreUnavailable(err)
	}
	return nil
}

func (s *milvusStore) DeleteCollection(ctx context.Context, collection string) error {
	hasCollection, err := s.milvusClient.HasCollection(ctx, collection)
	if err != nil {
		return kberrors.NewVectorStoreUnavailable(err)
	}
	if !hasCollection {
		return nil
	}
	if err := s.milvusClient.DropCollection(ctx, collection); err != nil {
		return kberrors.NewVectorStoreUnavailable(err)
	}
	delete(s.known, collection)
	return nil
}

func (s *milvusStore) Ready() bool {
	if s.milvusClient == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := s.milvusClient.ListCollections(ctx)
	return err == nil
}

func payloadText(payload map[string]interface{}) string {
	if payload == nil {
		return ""
	}
	if text, ok := payload["text"].(string); ok {
		return text
	}
	return ""
}

func payloadMetadata(payload map[string]interface{}) string {
	if payload == nil {
		return ""
	}
	meta, ok := payload["metadata"]
	if !ok || meta == nil {
		return ""
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return ""
	}
	return string(data)
}
