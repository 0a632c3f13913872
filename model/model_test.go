package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPhaseRanksAreForwardOrdered(t *testing.T) {
	order := []Phase{
		PhaseQueued, PhaseFetchingContent, PhaseGeneratingLyrics, PhaseGeneratingArtwork,
		PhaseGeneratingMusic, PhaseSaving, PhaseCompleted,
	}
	for i := 1; i < len(order); i++ {
		assert.Less(t, order[i-1].Rank(), order[i].Rank(), "%s before %s", order[i-1], order[i])
	}
	assert.Greater(t, PhaseFailed.Rank(), PhaseSaving.Rank())
	assert.Equal(t, -1, Phase("bogus").Rank())
	assert.True(t, PhaseFailed.Terminal())
	assert.False(t, PhaseSaving.Terminal())
}

func TestLibraryTableRouting(t *testing.T) {
	assert.Equal(t, CatalogTracksTable, LibraryTable(VisibilityShared))
	assert.Equal(t, CatalogTracksTable, LibraryTable(VisibilityPublic))
	assert.Equal(t, PersonalTracksTable, LibraryTable(VisibilityPersonal))
	assert.Equal(t, VisibilityPersonal, ParseVisibility("nonsense"))
	assert.Equal(t, VisibilityPublic, ParseVisibility("public"))
}

func TestLyricsFreshFor(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := &LyricsArtifact{CreatedAt: created}

	assert.True(t, l.FreshFor(created.Add(-time.Hour)))
	assert.True(t, l.FreshFor(created), "equal timestamps keep the cache valid")
	assert.False(t, l.FreshFor(created.Add(time.Second)))
}

func TestSyncedLineListRoundTripsThroughColumn(t *testing.T) {
	lines := SyncedLineList{{Text: "hello", StartMs: 0, EndMs: 900, Words: []SyncedWord{{Text: "hello", EndMs: 900}}}}
	v, err := lines.Value()
	require.NoError(t, err)

	var scanned SyncedLineList
	require.NoError(t, scanned.Scan(v))
	assert.Equal(t, lines, scanned)

	require.NoError(t, scanned.Scan(nil))
	assert.Nil(t, scanned)
	assert.Error(t, scanned.Scan(42))
}
