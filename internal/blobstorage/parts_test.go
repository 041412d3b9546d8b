package blobstorage

import (
	"errors"
	"testing"

	"github.com/dmitrijs2005/gridstore/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTotalParts(t *testing.T) {
	cases := []struct {
		size, chunk, want int64
	}{
		{0, 1024, 1},
		{1, 1024, 1},
		{1024, 1024, 1},
		{1025, 1024, 2},
		{2500, 1024, 3},
		{3072, 1024, 3},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, TotalParts(tc.size, tc.chunk), "size=%d chunk=%d", tc.size, tc.chunk)
	}
}

func TestSplitChunks(t *testing.T) {
	data := make([]byte, 2500)
	for i := range data {
		data[i] = byte(i)
	}

	chunks := SplitChunks(data, 1024)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 1024)
	assert.Len(t, chunks[1], 1024)
	assert.Len(t, chunks[2], 452)
	assert.Equal(t, data[2048:], chunks[2])

	empty := SplitChunks(nil, 1024)
	require.Len(t, empty, 1)
	assert.Empty(t, empty[0])
}

func TestValidateManifest(t *testing.T) {
	ordered, err := ValidateManifest([]Part{{3, "c"}, {1, "a"}, {2, "b"}}, 3)
	require.NoError(t, err)
	assert.Equal(t, []Part{{1, "a"}, {2, "b"}, {3, "c"}}, ordered)

	bad := [][]Part{
		{{1, "a"}, {2, "b"}},
		{{1, "a"}, {2, "b"}, {2, "b"}},
		{{1, "a"}, {2, "b"}, {4, "d"}},
		{{0, "z"}, {1, "a"}, {2, "b"}},
		{{1, "a"}, {2, ""}, {3, "c"}},
		{{1, "a"}, {2, "b"}, {3, "c"}, {4, "d"}},
	}
	for i, parts := range bad {
		_, err := ValidateManifest(parts, 3)
		assert.True(t, errors.Is(err, common.ErrUploadIncomplete), "case %d: got %v", i, err)
	}
}
