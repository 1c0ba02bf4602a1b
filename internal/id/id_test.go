package id

import (
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Sortable(t *testing.T) {
	ids := make([]string, 100)
	for i := range ids {
		ids[i] = New()
	}

	assert.True(t, sort.StringsAreSorted(ids))
	assert.Len(t, ids[0], 26)
}

func TestAt_RoundTripsTimestamp(t *testing.T) {
	ts := time.Date(2025, 3, 1, 12, 30, 0, 0, time.UTC)

	got, err := Time(At(ts))
	require.NoError(t, err)
	assert.Equal(t, ts, got)
}

func TestTime_Invalid(t *testing.T) {
	_, err := Time("not-a-ulid")
	assert.Error(t, err)
}
