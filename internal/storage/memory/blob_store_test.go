package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("position,name\n1,Cafe\n")
	uri, err := store.PutObject(context.Background(), "exports/job-1.csv", "text/csv", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, "memory://exports/job-1.csv", uri)

	payload[0] = 'P'
	body, contentType, ok := store.Object("exports/job-1.csv")
	require.True(t, ok)
	require.Equal(t, "text/csv", contentType)
	require.Equal(t, "position,name\n1,Cafe\n", string(body))

	_, _, ok = store.Object("missing")
	require.False(t, ok)
}
