package models

import (
	"time"

	"gorm.io/gorm"
)

// SyncStatusMessageMaxLen 同步失败信息的存储上限（字符数）
const SyncStatusMessageMaxLen = 900

// KnowledgeBase 知识库表
type KnowledgeBase struct {
	ID               uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	Code             string          `gorm:"uniqueIndex;size:64;not null" json:"code"`
	OrganizationCode string          `gorm:"column:organization_code;size:64;not null;index" json:"organization_code"`
	Name             string          `gorm:"size:200;not null" json:"name"`
	Model            string          `gorm:"size:100" json:"model"` // 向量化模型名
	VectorDBConfig   string          `gorm:"type:text;column:vector_db_config" json:"vector_db_config"`
	RetrieveConfig   RetrieveConfig  `gorm:"type:json;serializer:json;column:retrieve_config" json:"retrieve_config"`
	Enabled          bool            `gorm:"default:true" json:"enabled"`
	SyncStatus       SyncStatus      `gorm:"column:sync_status;size:20;default:NOT_SYNCED" json:"sync_status"`
	CreateTime       time.Time       `gorm:"column:create_time;autoCreateTime" json:"create_time"`
	UpdateTime       time.Time       `gorm:"column:update_time;autoUpdateTime" json:"update_time"`
	DeletedAt        gorm.DeletedAt  `gorm:"index" json:"-"`
}

func (KnowledgeBase) TableName() string {
	return "knowledge_base"
}

// KnowledgeBaseDocument 知识库文档表
type KnowledgeBaseDocument struct {
	ID                uint64          `gorm:"primaryKey;autoIncrement" json:"id"`
	Code              string          `gorm:"uniqueIndex;size:64;not null" json:"code"`
	KnowledgeBaseCode string          `gorm:"column:knowledge_base_code;size:64;not null;index" json:"knowledge_base_code"`
	Name              string          `gorm:"size:200;not null" json:"name"`
	Enabled           bool            `gorm:"default:true" json:"enabled"`
	DocMetadata       map[string]any  `gorm:"type:json;serializer:json;column:doc_metadata" json:"doc_metadata"`
	FragmentConfig    FragmentConfig  `gorm:"type:json;serializer:json;column:fragment_config" json:"fragment_config"`
	EmbeddingConfig   map[string]any  `gorm:"type:json;serializer:json;column:embedding_config" json:"embedding_config"`
	RetrieveConfig    *RetrieveConfig `gorm:"type:json;serializer:json;column:retrieve_config" json:"retrieve_config"` // 非空时覆盖知识库配置
	CreateTime        time.Time       `gorm:"column:create_time;autoCreateTime" json:"create_time"`
	UpdateTime        time.Time       `gorm:"column:update_time;autoUpdateTime" json:"update_time"`
	DeletedAt         gorm.DeletedAt  `gorm:"index" json:"-"`
}

func (KnowledgeBaseDocument) TableName() string {
	return "knowledge_base_document"
}

// KnowledgeBaseFragment 知识库片段表
// document_code为空的历史片段归属知识库默认文档
type KnowledgeBaseFragment struct {
	ID                uint64         `gorm:"primaryKey;autoIncrement" json:"id"`
	KnowledgeCode     string         `gorm:"column:knowledge_code;size:64;not null;index" json:"knowledge_code"`
	DocumentCode      string         `gorm:"column:document_code;size:64;index" json:"document_code"`
	BusinessID        string         `gorm:"column:business_id;size:128;index" json:"business_id"`
	PointID           string         `gorm:"column:point_id;size:64;index" json:"point_id"` // 向量库point标识，同步后写入
	Content           string         `gorm:"type:text;not null" json:"content"`
	Metadata          map[string]any `gorm:"type:json;serializer:json" json:"metadata"`
	Vector            []float32      `gorm:"type:json;serializer:json" json:"-"` // 可选的向量缓存
	SyncStatus        SyncStatus     `gorm:"column:sync_status;size:20;not null;default:NOT_SYNCED;index" json:"sync_status"`
	SyncTimes         uint           `gorm:"column:sync_times;not null;default:0" json:"sync_times"`
	SyncStatusMessage string         `gorm:"column:sync_status_message;size:900" json:"sync_status_message"`
	Version           uint64         `gorm:"not null;default:0" json:"version"`
	CreateTime        time.Time      `gorm:"column:create_time;autoCreateTime" json:"create_time"`
	UpdateTime        time.Time      `gorm:"column:update_time;autoUpdateTime" json:"update_time"`
	DeletedAt         gorm.DeletedAt `gorm:"index" json:"-"`
}

func (KnowledgeBaseFragment) TableName() string {
	return "knowledge_base_fragment"
}

// TruncateSyncStatusMessage 按字符截断同步信息，保证UTF-8安全
func TruncateSyncStatusMessage(msg string) string {
	runes := []rune(msg)
	if len(runes) <= SyncStatusMessageMaxLen {
		return msg
	}
	return string(runes[:SyncStatusMessageMaxLen])
}
