package ledger

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lifelog/internal/state"
	"lifelog/internal/types"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "ledger.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func stateWithUsage(t *testing.T, threadID string, records int) *state.State {
	t.Helper()
	st := state.New(threadID)
	require.NoError(t, st.AppendMessage(types.NewUserMessage("yesterday I had a long run at the park")))
	require.NoError(t, st.AppendMessage(types.NewAssistantMessage("logged it", nil)))
	for i := 0; i < records; i++ {
		st.RecordUsage("gemini", "gemini-2.5-flash", types.UsageMetadata{
			InputTokens: 100, OutputTokens: 50, TotalTokens: 150,
		})
	}
	return st
}

func TestSyncFromStateCreatesEntry(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	st := stateWithUsage(t, "t1", 2)
	require.NoError(t, l.SyncFromState(ctx, "t1", st))

	e, err := l.Get(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "yesterday I had a long run at the park", e.Title)
	assert.Equal(t, 2, e.MessageCount)
	assert.Equal(t, 200, e.TotalInputTokens)
	assert.Equal(t, 100, e.TotalOutputTokens)
	assert.Equal(t, "gemini", e.ModelProvider)

	rows, err := l.UsageRows(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestSyncFromStateIsIdempotent(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	st := stateWithUsage(t, "t1", 3)
	require.NoError(t, l.SyncFromState(ctx, "t1", st))
	require.NoError(t, l.SyncFromState(ctx, "t1", st))
	require.NoError(t, l.SyncFromState(ctx, "t1", st))

	rows, err := l.UsageRows(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, rows, 3, "replaying the same snapshot must not duplicate usage rows")
}

func TestSyncWatermarkAdvancesWithNewRecords(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	st := stateWithUsage(t, "t1", 1)
	require.NoError(t, l.SyncFromState(ctx, "t1", st))

	st.RecordUsage("gemini", "gemini-2.5-flash", types.UsageMetadata{InputTokens: 7, OutputTokens: 3, TotalTokens: 10})
	require.NoError(t, l.SyncFromState(ctx, "t1", st))

	rows, err := l.UsageRows(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 7, rows[1].InputTokens)
}

func TestSyncStaleSnapshotNeverRewinds(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.SyncFromState(ctx, "t1", stateWithUsage(t, "t1", 3)))

	// A stale snapshot with fewer records must not insert or rewind.
	require.NoError(t, l.SyncFromState(ctx, "t1", stateWithUsage(t, "t1", 1)))

	rows, err := l.UsageRows(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestTitleStickiness(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	st := stateWithUsage(t, "t1", 1)
	require.NoError(t, l.SyncFromState(ctx, "t1", st))

	// An empty-history snapshot would derive the default title; the
	// real title must survive.
	empty := state.New("t1")
	require.NoError(t, l.SyncFromState(ctx, "t1", empty))

	e, err := l.Get(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "yesterday I had a long run at the park", e.Title)
}

func TestTitleTruncation(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	st := state.New("t1")
	require.NoError(t, st.AppendMessage(types.NewUserMessage(strings.Repeat("word ", 40))))
	require.NoError(t, l.SyncFromState(ctx, "t1", st))

	e, err := l.Get(ctx, "t1")
	require.NoError(t, err)
	assert.LessOrEqual(t, len(e.Title), 64, "title must be bounded")
	assert.True(t, strings.HasSuffix(e.Title, "…"))
}

func TestTitleTruncationKeepsValidUTF8(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	st := state.New("t1")
	require.NoError(t, st.AppendMessage(types.NewUserMessage(strings.Repeat("é", 60))))
	require.NoError(t, l.SyncFromState(ctx, "t1", st))

	e, err := l.Get(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, utf8.ValidString(e.Title), "title must never split a rune: %q", e.Title)
	assert.True(t, strings.HasSuffix(e.Title, "…"))
}

func TestRecordUsageNeverDeduplicates(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.RecordUsage(ctx, "t1", "gemini", "gemini-2.5-flash", 10, 5))
	require.NoError(t, l.RecordUsage(ctx, "t1", "gemini", "gemini-2.5-flash", 10, 5))

	rows, err := l.UsageRows(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestSoftDeleteAndRestore(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.SyncFromState(ctx, "t1", stateWithUsage(t, "t1", 2)))
	require.NoError(t, l.SoftDelete(ctx, "t1"))

	visible, err := l.List(ctx, 10, false)
	require.NoError(t, err)
	assert.Empty(t, visible)

	all, err := l.List(ctx, 10, true)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].IsDeleted)

	// Usage history survives deletion.
	rows, err := l.UsageRows(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	require.NoError(t, l.Restore(ctx, "t1"))
	visible, err = l.List(ctx, 10, false)
	require.NoError(t, err)
	assert.Len(t, visible, 1)
}

func TestSearchMatchesTitle(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.SyncFromState(ctx, "t1", stateWithUsage(t, "t1", 0)))

	st2 := state.New("t2")
	require.NoError(t, st2.AppendMessage(types.NewUserMessage("what did I eat last week")))
	require.NoError(t, l.SyncFromState(ctx, "t2", st2))

	hits, err := l.Search(ctx, "long run", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "t1", hits[0].ThreadID)
}

func TestUsageByModelAggregates(t *testing.T) {
	l := openTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.RecordUsage(ctx, "t1", "gemini", "gemini-2.5-flash", 100, 40))
	require.NoError(t, l.RecordUsage(ctx, "t2", "gemini", "gemini-2.5-flash", 50, 10))
	require.NoError(t, l.RecordUsage(ctx, "t2", "gemini", "gemini-2.5-pro", 30, 20))

	totals, err := l.UsageByModel(ctx, time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, totals, 2)

	byModel := map[string]ModelTotals{}
	for _, tot := range totals {
		byModel[tot.ModelName] = tot
	}
	assert.Equal(t, 150, byModel["gemini-2.5-flash"].InputTokens)
	assert.Equal(t, 2, byModel["gemini-2.5-flash"].Calls)
	assert.Equal(t, 20, byModel["gemini-2.5-pro"].OutputTokens)
}

func TestGetAbsentThread(t *testing.T) {
	l := openTestLedger(t)
	e, err := l.Get(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, e)
}

func TestCloseIsIdempotent(t *testing.T) {
	l := openTestLedger(t)
	require.NoError(t, l.Close())
	require.NoError(t, l.Close())
}
