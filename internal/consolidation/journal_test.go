package consolidation

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/companion-kernel/internal/store"
)

func newJournal(t *testing.T) *Journal {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	j, err := NewJournal(db)
	require.NoError(t, err)
	return j
}

func TestJournalLatestEmpty(t *testing.T) {
	j := newJournal(t)
	r, err := j.Latest()
	require.NoError(t, err)
	assert.Nil(t, r)
}

func TestJournalSaveAndList(t *testing.T) {
	j := newJournal(t)
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	j.now = func() time.Time { return at }

	_, err := j.Save("c1", "first")
	require.NoError(t, err)
	at = at.Add(time.Hour)
	_, err = j.Save("c2", "second")
	require.NoError(t, err)

	list, err := j.List(10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "c2", list[0].CycleID)
	assert.Equal(t, "first", list[1].Text)
	assert.True(t, list[0].CreatedAt.Equal(at))

	latest, err := j.Latest()
	require.NoError(t, err)
	assert.Equal(t, "second", latest.Text)
}

func TestExtractCuriosity(t *testing.T) {
	assert.Empty(t, ExtractCuriosity("A calm day."))
	assert.Equal(t, []string{"i wonder", "i'm curious"},
		ExtractCuriosity("I wonder if they sleep enough. I'm curious about the trip."))
}
