package checkpoint

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atlathelper/internal/agent/state"
	"github.com/atlathelper/internal/database"
)

func testSavers(t *testing.T) map[string]Saver {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "checkpoints.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	sqlite, err := NewSQLiteSaver(db)
	require.NoError(t, err)

	return map[string]Saver{
		"memory": NewMemorySaver(),
		"sqlite": sqlite,
	}
}

func TestLoadUnknownThreadReturnsNil(t *testing.T) {
	for name, saver := range testSavers(t) {
		t.Run(name, func(t *testing.T) {
			st, err := saver.Load(context.Background(), "never-seen")
			require.NoError(t, err)
			assert.Nil(t, st)
		})
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	for name, saver := range testSavers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			st := state.New()
			st.AppendUser("show my open tickets")
			st.Intent = state.IntentTicket
			st.SetContext("cloud_id", "abc-123")
			require.NoError(t, st.SetPendingSelection([]state.Site{
				{ID: "a", Name: "Site A"}, {ID: "b", Name: "Site B"},
			}))

			require.NoError(t, saver.Save(ctx, "t1", st))

			got, err := saver.Load(ctx, "t1")
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, st.Messages, got.Messages)
			assert.Equal(t, st.Intent, got.Intent)
			assert.Equal(t, st.AwaitingInput, got.AwaitingInput)
			assert.Equal(t, st.AvailableSites, got.AvailableSites)
			assert.Equal(t, "abc-123", got.GetContext("cloud_id"))
		})
	}
}

func TestSaveReplacesWholeRecord(t *testing.T) {
	for name, saver := range testSavers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			first := state.New()
			first.AppendUser("one")
			require.NoError(t, first.SetPendingSelection([]state.Site{{ID: "a", Name: "A"}, {ID: "b", Name: "B"}}))
			require.NoError(t, saver.Save(ctx, "t1", first))

			second := state.New()
			second.AppendUser("one")
			second.AppendAssistant("done")
			require.NoError(t, saver.Save(ctx, "t1", second))

			got, err := saver.Load(ctx, "t1")
			require.NoError(t, err)
			assert.Empty(t, got.AwaitingInput)
			assert.Empty(t, got.AvailableSites)
			assert.Len(t, got.Messages, 2)
		})
	}
}

func TestThreadsAreIsolated(t *testing.T) {
	for name, saver := range testSavers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a := state.New()
			a.AppendUser("thread a")
			b := state.New()
			b.AppendUser("thread b")

			require.NoError(t, saver.Save(ctx, "a", a))
			require.NoError(t, saver.Save(ctx, "b", b))

			gotA, err := saver.Load(ctx, "a")
			require.NoError(t, err)
			gotB, err := saver.Load(ctx, "b")
			require.NoError(t, err)
			assert.Equal(t, "thread a", gotA.LastUserMessage())
			assert.Equal(t, "thread b", gotB.LastUserMessage())
		})
	}
}

func TestMemorySaverIsolatesCallers(t *testing.T) {
	ctx := context.Background()
	saver := NewMemorySaver()
	st := state.New()
	st.AppendUser("hello")
	require.NoError(t, saver.Save(ctx, "t1", st))

	// Mutating the original after save must not leak into the store.
	st.Messages[0].Content = "changed"
	got, err := saver.Load(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Messages[0].Content)
}
