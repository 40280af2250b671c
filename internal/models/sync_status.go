package models

// SyncStatus 片段向量同步状态
type SyncStatus string

const (
	// SyncStatusNotSynced 尚未同步
	SyncStatusNotSynced SyncStatus = "NOT_SYNCED"
	// SyncStatusSyncing 同步中
	SyncStatusSyncing SyncStatus = "SYNCING"
	// SyncStatusSynced 已同步（终态）
	SyncStatusSynced SyncStatus = "SYNCED"
	// SyncStatusSyncFailed 同步失败（终态）
	SyncStatusSyncFailed SyncStatus = "SYNC_FAILED"
	// SyncStatusRebuilding 全量重建中，可从任意状态进入
	SyncStatusRebuilding SyncStatus = "REBUILDING"
)

// AllSyncStatuses 全部合法状态
var AllSyncStatuses = []SyncStatus{
	SyncStatusNotSynced,
	SyncStatusSyncing,
	SyncStatusSynced,
	SyncStatusSyncFailed,
	SyncStatusRebuilding,
}

// Valid 检查状态合法性
func (s SyncStatus) Valid() bool {
	switch s {
	case SyncStatusNotSynced, SyncStatusSyncing, SyncStatusSynced, SyncStatusSyncFailed, SyncStatusRebuilding:
		return true
	}
	return false
}

// Terminal 是否为终态
// 仅进入终态的转换才累计sync_times
func (s SyncStatus) Terminal() bool {
	return s == SyncStatusSynced || s == SyncStatusSyncFailed
}

// SyncTimesDelta 状态转换对sync_times的增量
// 进入终态+1，进入Rebuilding清零（由调用方以重置语义处理），其余转换不变
func SyncTimesDelta(to SyncStatus) int {
	if to.Terminal() {
		return 1
	}
	return 0
}
