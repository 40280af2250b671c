package keyword

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// ElasticIndexer 基于Elasticsearch的全文索引
type ElasticIndexer struct {
	client     *elasticsearch.Client
	indexCache map[string]bool
	mu         sync.Mutex
}

// NewElasticIndexer 创建ES索引器，未配置地址时返回占位实现
func NewElasticIndexer(addresses []string, username, password, apiKey string) (Indexer, error) {
	if len(addresses) == 0 {
		return &NoopIndexer{}, nil
	}

	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: addresses,
		Username:  username,
		Password:  password,
		APIKey:    apiKey,
	})
	if err != nil {
		return nil, err
	}

	return &ElasticIndexer{
		client:     client,
		indexCache: make(map[string]bool),
	}, nil
}

func (e *ElasticIndexer) ensureIndex(ctx context.Context, name string) error {
	e.mu.Lock()
	if e.indexCache[name] {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	existsReq := esapi.IndicesExistsRequest{Index: []string{name}}
	resp, err := existsReq.Do(ctx, e.client)
	if err != nil {
		return fmt.Errorf("check index error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == 200 {
		e.mu.Lock()
		e.indexCache[name] = true
		e.mu.Unlock()
		return nil
	}

	mapping := map[string]interface{}{
		"mappings": map[string]interface{}{
			"properties": map[string]interface{}{
				"point_id":       map[string]interface{}{"type": "keyword"},
				"fragment_id":    map[string]interface{}{"type": "keyword"},
				"knowledge_code": map[string]interface{}{"type": "keyword"},
				"document_code":  map[string]interface{}{"type": "keyword"},
				"content":        map[string]interface{}{"type": "text"},
				"metadata":       map[string]interface{}{"type": "object", "enabled": true},
			},
		},
	}

	body, _ := json.Marshal(mapping)
	createReq := esapi.IndicesCreateRequest{
		Index: name,
		Body:  bytes.NewReader(body),
	}
	createResp, err := createReq.Do(ctx, e.client)
	if err != nil {
		return fmt.Errorf("create index error: %w", err)
	}
	defer createResp.Body.Close()

	if createResp.IsError() {
		return fmt.Errorf("create index error: %s", createResp.String())
	}

	e.mu.Lock()
	e.indexCache[name] = true
	e.mu.Unlock()
	return nil
}

func (e *ElasticIndexer) IndexFragment(ctx context.Context, index string, doc FragmentDoc) error {
	if err := e.ensureIndex(ctx, index); err != nil {
		return err
	}

	payload, _ := json.Marshal(map[string]interface{}{
		"point_id":       doc.PointID,
		"fragment_id":    fmt.Sprintf("%d", doc.FragmentID),
		"knowledge_code": doc.KnowledgeCode,
		"document_code":  doc.DocumentCode,
		"content":        doc.Content,
		"metadata":       doc.Metadata,
	})

	req := esapi.IndexRequest{
		Index:      index,
		DocumentID: doc.PointID,
		Body:       bytes.NewReader(payload),
		Refresh:    "true",
	}
	resp, err := req.Do(ctx, e.client)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return fmt.Errorf("index fragment error: %s", resp.String())
	}
	return nil
}

func (e *ElasticIndexer) RemoveByPointIDs(ctx context.Context, index string, pointIDs []string) error {
	if len(pointIDs) == 0 {
		return nil
	}

	query := map[string]interface{}{
		"query": map[string]interface{}{
			"terms": map[string]interface{}{
				"point_id": pointIDs,
			},
		},
	}

	body, _ := json.Marshal(query)
	req := esapi.DeleteByQueryRequest{
		Index: []string{index},
		Body:  bytes.NewReader(body),
	}
	resp, err := req.Do(ctx, e.client)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return fmt.Errorf("delete by point ids error: %s", resp.String())
	}
	return nil
}

func (e *ElasticIndexer) Search(ctx context.Context, index, query string, topK int) ([]Match, error) {
	if topK <= 0 {
		topK = 10
	}
	if err := e.ensureIndex(ctx, index); err != nil {
		return nil, err
	}

	// match_phrase精确匹配权重更高，match为降级匹配
	body := map[string]interface{}{
		"size": topK,
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"should": []interface{}{
					map[string]interface{}{
						"match_phrase": map[string]interface{}{
							"content": map[string]interface{}{
								"query": query,
								"boost": 3.0,
							},
						},
					},
					map[string]interface{}{
						"match": map[string]interface{}{
							"content": map[string]interface{}{
								"query":                query,
								"operator":             "and",
								"minimum_should_match": "70%",
								"boost":                1.0,
							},
						},
					},
				},
				"minimum_should_match": 1,
			},
		},
		"highlight": map[string]interface{}{
			"fields": map[string]interface{}{
				"content": map[string]interface{}{
					"fragment_size":       150,
					"number_of_fragments": 1,
					"pre_tags":            []string{"<mark>"},
					"post_tags":           []string{"</mark>"},
				},
			},
		},
	}

	payload, _ := json.Marshal(body)
	searchReq := esapi.SearchRequest{
		Index: []string{index},
		Body:  bytes.NewReader(payload),
	}
	resp, err := searchReq.Do(ctx, e.client)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.IsError() {
		return nil, fmt.Errorf("keyword search error: %s", resp.String())
	}

	var result struct {
		Hits struct {
			Hits []struct {
				ID        string                 `json:"_id"`
				Score     float64                `json:"_score"`
				Source    map[string]interface{} `json:"_source"`
				Highlight map[string][]string    `json:"highlight"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	matches := make([]Match, 0, len(result.Hits.Hits))
	for _, hit := range result.Hits.Hits {
		m := Match{
			PointID: hit.ID,
			Score:   hit.Score,
		}
		if content, ok := hit.Source["content"].(string); ok {
			m.Content = content
		}
		if hl, ok := hit.Highlight["content"]; ok && len(hl) > 0 {
			m.Highlight = hl[0]
		}
		matches = append(matches, m)
	}
	return matches, nil
}

func (e *ElasticIndexer) DeleteIndex(ctx context.Context, index string) error {
	req := esapi.IndicesDeleteRequest{Index: []string{index}}
	resp, err := req.Do(ctx, e.client)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.IsError() && resp.StatusCode != 404 {
		return fmt.Errorf("delete index error: %s", resp.String())
	}

	e.mu.Lock()
	delete(e.indexCache, index)
	e.mu.Unlock()
	return nil
}

func (e *ElasticIndexer) Ready() bool {
	return e.client != nil
}
