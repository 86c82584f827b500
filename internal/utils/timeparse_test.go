package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTime(t *testing.T) {
	want := time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)

	for _, v := range []any{
		"2025-03-04T05:06:07Z",
		"2025-03-04T13:06:07+08:00",
		"2025-03-04 05:06:07",
		float64(want.Unix()),
		want.UnixMilli(),
	} {
		got, ok := ParseTime(v)
		require.True(t, ok, v)
		assert.True(t, want.Equal(got), "%v: %v", v, got)
	}

	for _, v := range []any{"soon", nil, true} {
		_, ok := ParseTime(v)
		assert.False(t, ok, v)
	}
}

func TestParseWindowBound(t *testing.T) {
	from, err := ParseWindowBound("2025-02-03", false)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 2, 3, 0, 0, 0, 0, time.UTC), from)

	to, err := ParseWindowBound("2025-02-03", true)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 2, 3, 23, 59, 59, 999999999, time.UTC), to)

	exact, err := ParseWindowBound("2025-02-03T10:00:00+02:00", true)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 2, 3, 8, 0, 0, 0, time.UTC), exact)

	open, err := ParseWindowBound("", true)
	require.NoError(t, err)
	assert.True(t, open.IsZero())

	_, err = ParseWindowBound("last tuesday", false)
	assert.Error(t, err)
}
