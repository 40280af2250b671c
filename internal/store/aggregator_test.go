package store

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/aihub/knowledge-engine/internal/models"
)

func TestAggregateSyncStatus(t *testing.T) {
	tests := []struct {
		name     string
		statuses []models.SyncStatus
		want     models.SyncStatus
	}{
		{
			name:     "any syncing wins",
			statuses: []models.SyncStatus{models.SyncStatusSynced, models.SyncStatusSyncing, models.SyncStatusSyncFailed},
			want:     models.SyncStatusSyncing,
		},
		{
			name:     "rebuilding counts as syncing",
			statuses: []models.SyncStatus{models.SyncStatusSynced, models.SyncStatusRebuilding},
			want:     models.SyncStatusSyncing,
		},
		{
			name:     "all not synced",
			statuses: []models.SyncStatus{models.SyncStatusNotSynced, models.SyncStatusNotSynced},
			want:     models.SyncStatusNotSynced,
		},
		{
			name:     "mixed terminal is synced",
			statuses: []models.SyncStatus{models.SyncStatusSynced, models.SyncStatusSyncFailed},
			want:     models.SyncStatusSynced,
		},
		{
			name:     "failed mixed with not synced is synced",
			statuses: []models.SyncStatus{models.SyncStatusSyncFailed, models.SyncStatusNotSynced},
			want:     models.SyncStatusSynced,
		},
		{
			name:     "single synced",
			statuses: []models.SyncStatus{models.SyncStatusSynced},
			want:     models.SyncStatusSynced,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := AggregateSyncStatus(tt.statuses)
			assert.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAggregateSyncStatusEmpty(t *testing.T) {
	_, ok := AggregateSyncStatus(nil)
	assert.False(t, ok)
}

func TestAggregateDocumentSyncStatus(t *testing.T) {
	statuses := map[string][]models.SyncStatus{
		"doc-a": {models.SyncStatusSynced, models.SyncStatusSynced},
		"doc-b": {models.SyncStatusSyncing, models.SyncStatusSynced},
		"doc-c": {models.SyncStatusNotSynced},
		"doc-d": {},
	}

	result := AggregateDocumentSyncStatus(statuses)

	assert.Equal(t, models.SyncStatusSynced, result["doc-a"])
	assert.Equal(t, models.SyncStatusSyncing, result["doc-b"])
	assert.Equal(t, models.SyncStatusNotSynced, result["doc-c"])
	// 零片段的文档不出现在结果中
	_, ok := result["doc-d"]
	assert.False(t, ok)
}
