package store

import "github.com/aihub/knowledge-engine/internal/models"

// AggregateDocumentSyncStatus 由片段状态集合推导文档级同步状态
//
// 规则（按文档独立求值）：
//   - 任一片段Syncing → 文档Syncing
//   - 全部NotSynced → 文档NotSynced
//   - 其余情况 → 文档Synced（含混有SyncFailed的集合：部分失败不影响
//     文档整体可用，失败明细由片段级状态提供）
//
// 零片段的文档不出现在结果中
func AggregateDocumentSyncStatus(statuses map[string][]models.SyncStatus) map[string]models.SyncStatus {
	result := make(map[string]models.SyncStatus, len(statuses))
	for code, list := range statuses {
		if len(list) == 0 {
			continue
		}
		result[code] = aggregateOne(list)
	}
	return result
}

// AggregateSyncStatus 由片段状态集合推导单个聚合状态
// 集合为空时第二个返回值为false，调用方应保持原状态不变
func AggregateSyncStatus(list []models.SyncStatus) (models.SyncStatus, bool) {
	if len(list) == 0 {
		return "", false
	}
	return aggregateOne(list), true
}

func aggregateOne(list []models.SyncStatus) models.SyncStatus {
	allNotSynced := true
	for _, s := range list {
		switch s {
		case models.SyncStatusSyncing, models.SyncStatusRebuilding:
			return models.SyncStatusSyncing
		case models.SyncStatusNotSynced:
		default:
			allNotSynced = false
		}
	}
	if allNotSynced {
		return models.SyncStatusNotSynced
	}
	return models.SyncStatusSynced
}
