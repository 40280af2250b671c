package models

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"

	"github.com/aihub/knowledge-engine/internal/kberrors"
)

func TestSyncStatusValid(t *testing.T) {
	for _, s := range AllSyncStatuses {
		assert.True(t, s.Valid(), "status %s should be valid", s)
	}
	assert.False(t, SyncStatus("UNKNOWN").Valid())
	assert.False(t, SyncStatus("").Valid())
}

func TestSyncStatusTerminal(t *testing.T) {
	assert.True(t, SyncStatusSynced.Terminal())
	assert.True(t, SyncStatusSyncFailed.Terminal())
	assert.False(t, SyncStatusNotSynced.Terminal())
	assert.False(t, SyncStatusSyncing.Terminal())
	assert.False(t, SyncStatusRebuilding.Terminal())
}

func TestSyncTimesDelta(t *testing.T) {
	// 仅进入终态累计重试次数
	assert.Equal(t, 1, SyncTimesDelta(SyncStatusSynced))
	assert.Equal(t, 1, SyncTimesDelta(SyncStatusSyncFailed))
	assert.Equal(t, 0, SyncTimesDelta(SyncStatusSyncing))
	assert.Equal(t, 0, SyncTimesDelta(SyncStatusNotSynced))
	assert.Equal(t, 0, SyncTimesDelta(SyncStatusRebuilding))
}

func TestTruncateSyncStatusMessageShort(t *testing.T) {
	msg := "connection refused"
	assert.Equal(t, msg, TruncateSyncStatusMessage(msg))
}

func TestTruncateSyncStatusMessageLong(t *testing.T) {
	msg := strings.Repeat("a", 1500)
	out := TruncateSyncStatusMessage(msg)
	assert.Equal(t, SyncStatusMessageMaxLen, len([]rune(out)))
}

func TestTruncateSyncStatusMessageUTF8Safe(t *testing.T) {
	// 多字节字符不被截断出非法序列
	msg := strings.Repeat("错误信息：嵌入服务不可用。", 200)
	out := TruncateSyncStatusMessage(msg)
	assert.True(t, utf8.ValidString(out))
	assert.Equal(t, SyncStatusMessageMaxLen, len([]rune(out)))
}

func TestRetrieveConfigNormalized(t *testing.T) {
	cfg := RetrieveConfig{}.Normalized()
	assert.Equal(t, SearchMethodSemantic, cfg.SearchMethod)
	assert.Equal(t, 10, cfg.TopK)
	assert.Equal(t, RerankingModeNone, cfg.RerankingMode)

	custom := RetrieveConfig{SearchMethod: SearchMethodHybrid, TopK: 5}.Normalized()
	assert.Equal(t, SearchMethodHybrid, custom.SearchMethod)
	assert.Equal(t, 5, custom.TopK)
}

func TestRetrieveConfigValidate(t *testing.T) {
	valid := RetrieveConfig{SearchMethod: SearchMethodHybrid, TopK: 10, ScoreThreshold: 0.5}
	assert.NoError(t, valid.Validate())

	bad := RetrieveConfig{SearchMethod: "fuzzy"}
	err := bad.Validate()
	assert.Error(t, err)
	assert.True(t, kberrors.IsCode(err, kberrors.CodeInvalidConfig))
}

func TestFragmentConfigValidateOverlap(t *testing.T) {
	ok := FragmentConfig{ChunkSize: 500, ChunkOverlap: 50}
	assert.NoError(t, ok.Validate())

	bad := FragmentConfig{ChunkSize: 100, ChunkOverlap: 100}
	err := bad.Validate()
	assert.Error(t, err)
	assert.True(t, kberrors.IsCode(err, kberrors.CodeInvalidConfig))
}

func TestFragmentConfigNormalized(t *testing.T) {
	cfg := FragmentConfig{}.Normalized()
	assert.Equal(t, 500, cfg.ChunkSize)
	assert.Equal(t, "\n\n", cfg.FixedSeparator)
}
