package results

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", zaptest.NewLogger(t))
	require.NoError(t, err)
	return s
}

func sampleResult(run string, length int, depth float64, score int) *RunResult {
	return &RunResult{
		RunName:       run,
		Provider:      "openai",
		Model:         "gpt-4o",
		ContextLength: length,
		DepthPercent:  depth,
		Needle:        "The secret ingredient is freeze-dried marshmallows.",
		Question:      "What is the secret ingredient?",
		Response:      "Freeze-dried marshmallows.",
		Score:         score,
		ElapsedMS:     1200,
	}
}

func TestSaveAssignsIDAndTimestamp(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := sampleResult("run1", 1000, 50, 10)
	require.NoError(t, s.Save(ctx, r))

	assert.NotEmpty(t, r.ID)
	assert.False(t, r.CreatedAt.IsZero())
}

func TestExists(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	ok, err := s.Exists(ctx, "run1", "gpt-4o", 1000, 50)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Save(ctx, sampleResult("run1", 1000, 50, 10)))

	ok, err = s.Exists(ctx, "run1", "gpt-4o", 1000, 50)
	require.NoError(t, err)
	assert.True(t, ok)

	// 相邻单元不受影响。
	ok, err = s.Exists(ctx, "run1", "gpt-4o", 1000, 75)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.Exists(ctx, "run2", "gpt-4o", 1000, 50)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListOrdersByLengthThenDepth(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, sampleResult("run1", 2000, 0, 7)))
	require.NoError(t, s.Save(ctx, sampleResult("run1", 1000, 50, 10)))
	require.NoError(t, s.Save(ctx, sampleResult("run1", 1000, 0, 10)))
	require.NoError(t, s.Save(ctx, sampleResult("other", 500, 0, 1)))

	list, err := s.List(ctx, "run1")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, 1000, list[0].ContextLength)
	assert.Equal(t, float64(0), list[0].DepthPercent)
	assert.Equal(t, 1000, list[1].ContextLength)
	assert.Equal(t, float64(50), list[1].DepthPercent)
	assert.Equal(t, 2000, list[2].ContextLength)
}

func TestSummary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, sampleResult("run1", 1000, 50, 10)))
	require.NoError(t, s.Save(ctx, sampleResult("run1", 1000, 50, 4)))
	require.NoError(t, s.Save(ctx, sampleResult("run1", 2000, 50, 1)))

	summary, err := s.Summary(ctx, "run1")
	require.NoError(t, err)
	require.Len(t, summary, 2)

	assert.Equal(t, 1000, summary[0].ContextLength)
	assert.InDelta(t, 7.0, summary[0].MeanScore, 0.001)
	assert.Equal(t, 2, summary[0].Count)

	assert.Equal(t, 2000, summary[1].ContextLength)
	assert.InDelta(t, 1.0, summary[1].MeanScore, 0.001)
}

func TestExport(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "export")

	require.NoError(t, s.Save(ctx, sampleResult("run1", 1000, 50, 10)))
	require.NoError(t, s.Save(ctx, sampleResult("run1", 2000, 25, 7)))

	require.NoError(t, s.Export(ctx, "run1", dir))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	data, err := os.ReadFile(filepath.Join(dir, "gpt-4o_len1000_depth50.json"))
	require.NoError(t, err)

	var r RunResult
	require.NoError(t, json.Unmarshal(data, &r))
	assert.Equal(t, 10, r.Score)
	assert.Equal(t, "run1", r.RunName)
}

func TestOpenPersistsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.db")
	logger := zaptest.NewLogger(t)
	ctx := context.Background()

	s, err := Open(path, logger)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, sampleResult("run1", 1000, 50, 10)))

	// 重新打开后数据仍在。
	s2, err := Open(path, logger)
	require.NoError(t, err)
	ok, err := s2.Exists(ctx, "run1", "gpt-4o", 1000, 50)
	require.NoError(t, err)
	assert.True(t, ok)
}
