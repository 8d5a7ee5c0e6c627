package result_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scarfbench/scarf/internal/errs"
	"github.com/scarfbench/scarf/internal/result"
)

func prepared() *result.Metadata {
	return &result.Metadata{
		EvalID:          "agent__layer__app__spring__quarkus",
		Agent:           "agent",
		Layer:           "layer",
		App:             "app",
		SourceFramework: "spring",
		TargetFramework: "quarkus",
		Status:          result.StatusPrepared,
	}
}

func TestWriteAndReadMetadata(t *testing.T) {
	dir := t.TempDir()
	meta := prepared()
	require.NoError(t, result.WriteMetadata(dir, meta))

	got, err := result.ReadMetadata(dir)
	require.NoError(t, err)
	assert.Equal(t, meta, got)

	raw, err := os.ReadFile(filepath.Join(dir, "metadata.json"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "\n  \"eval_id\": \"agent__layer__app__spring__quarkus\",")
	assert.Contains(t, string(raw), "\"source_framework\": \"spring\"")

	leftovers, err := filepath.Glob(filepath.Join(dir, ".metadata-*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestReadMetadataErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		kind    error
	}{
		{"invalid json", "{not json", errs.ErrCorruptMetadata},
		{"missing field", `{"eval_id":"a__b__c__d__e","agent":"a","layer":"b","app":"c","source_framework":"d","status":"PREPARED"}`, errs.ErrCorruptMetadata},
		{"unknown status", `{"eval_id":"a__b__c__d__e","agent":"a","layer":"b","app":"c","source_framework":"d","target_framework":"e","status":"RUNNING"}`, errs.ErrCorruptMetadata},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(dir, "metadata.json"), []byte(tt.content), 0o644))
			_, err := result.ReadMetadata(dir)
			assert.ErrorIs(t, err, tt.kind)
		})
	}

	_, err := result.ReadMetadata(t.TempDir())
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestWriteMetadataRejectsInvalid(t *testing.T) {
	meta := prepared()
	meta.Status = "DONE"
	err := result.WriteMetadata(t.TempDir(), meta)
	assert.ErrorIs(t, err, errs.ErrCorruptMetadata)
}

func TestStatusTransitions(t *testing.T) {
	assert.True(t, result.StatusPrepared.CanTransition(result.StatusAgentComplete))
	assert.True(t, result.StatusPrepared.CanTransition(result.StatusAgentFailed))
	assert.False(t, result.StatusAgentComplete.CanTransition(result.StatusAgentFailed))
	assert.False(t, result.StatusAgentFailed.CanTransition(result.StatusPrepared))
	assert.False(t, result.StatusPrepared.CanTransition(result.StatusPrepared))
}

func TestUpdateStatus(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, result.WriteMetadata(dir, prepared()))
	locker := result.NewLocker()

	meta, err := result.UpdateStatus(locker, dir, result.StatusAgentComplete)
	require.NoError(t, err)
	assert.Equal(t, result.StatusAgentComplete, meta.Status)

	// Terminal status is not overwritten by a later dispatch.
	_, err = result.UpdateStatus(locker, dir, result.StatusAgentFailed)
	require.Error(t, err)
	got, err := result.ReadMetadata(dir)
	require.NoError(t, err)
	assert.Equal(t, result.StatusAgentComplete, got.Status)
}

func TestUpdateStatusConcurrentWriters(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, result.WriteMetadata(dir, prepared()))
	locker := result.NewLocker()

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			next := result.StatusAgentComplete
			if i%2 == 1 {
				next = result.StatusAgentFailed
			}
			if _, err := result.UpdateStatus(locker, dir, next); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, succeeded, "exactly one writer may move the instance out of PREPARED")

	got, err := result.ReadMetadata(dir)
	require.NoError(t, err)
	assert.True(t, got.Status.Terminal())
}
