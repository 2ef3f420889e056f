package pagination

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeysetToken(t *testing.T) {
	k := Keyset{CreatedAt: time.Date(2024, 3, 4, 9, 0, 0, 123, time.UTC), ID: 1795}

	got, err := Decode(k.Encode())
	require.NoError(t, err)
	assert.True(t, k.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, k.ID, got.ID)

	first, err := Decode("  ")
	require.NoError(t, err)
	assert.Nil(t, first)

	for _, bad := range []string{"not-base64!", "bm9kb3Q", "eC4x", "MTAuMA"} {
		_, err := Decode(bad)
		assert.ErrorIs(t, err, ErrInvalidToken, bad)
	}
}

func TestTrim(t *testing.T) {
	rows := []int{1, 2, 3}
	keyset := func(v int) Keyset { return Keyset{CreatedAt: time.Unix(int64(v), 0), ID: 7} }

	kept, info := Trim(rows, 3, keyset)
	assert.Len(t, kept, 3)
	assert.False(t, info.HasMore)
	assert.Empty(t, info.NextPageToken)

	kept, info = Trim(rows, 2, keyset)
	assert.Equal(t, []int{1, 2}, kept)
	assert.True(t, info.HasMore)
	next, err := Decode(info.NextPageToken)
	require.NoError(t, err)
	assert.Equal(t, int64(2), next.CreatedAt.Unix())
}

func TestSize(t *testing.T) {
	assert.Equal(t, DefaultPageSize, Pagination{}.Size())
	assert.Equal(t, MaxPageSize, Pagination{PageSize: 1000}.Size())
	assert.Equal(t, 7, Pagination{PageSize: 7}.Size())
}
