package httpcache

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerializeKeepsStatusHeadersBodyAndTime(t *testing.T) {
	stored := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	snapshot := &Snapshot{
		StatusCode: http.StatusNotFound,
		Header:     http.Header{"Content-Type": []string{"text/markdown"}, "Etag": []string{`"abc"`}},
		Body:       []byte("# not here\n"),
		StoredAt:   stored,
	}

	data, err := Serialize(snapshot)
	require.NoError(t, err)
	assert.True(t, len(data) > len(PREFIX))
	assert.Equal(t, PREFIX, string(data[:len(PREFIX)]))

	got, err := Deserialize(data)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, got.StatusCode)
	assert.Equal(t, "text/markdown", got.Header.Get("Content-Type"))
	assert.Equal(t, `"abc"`, got.Header.Get("Etag"))
	assert.Empty(t, got.Header.Get(storedAtHeader))
	assert.Equal(t, snapshot.Body, got.Body)
	assert.True(t, stored.Equal(got.StoredAt))
}

func TestDeserializeRejectsForeignData(t *testing.T) {
	_, err := Deserialize([]byte("short"))
	require.Error(t, err)

	_, err = Deserialize([]byte("---SOMETHING-ELSE--\nHTTP/1.1 200 OK\r\n\r\n"))
	require.Error(t, err)
}

func TestSnapshotStorable(t *testing.T) {
	tests := []struct {
		name     string
		snapshot Snapshot
		want     bool
	}{
		{name: "ok", snapshot: Snapshot{StatusCode: 200, Header: http.Header{}}, want: true},
		{name: "not found", snapshot: Snapshot{StatusCode: 404, Header: http.Header{}}, want: true},
		{name: "partial content", snapshot: Snapshot{StatusCode: 206, Header: http.Header{}}, want: false},
		{name: "vary star", snapshot: Snapshot{StatusCode: 200, Header: http.Header{"Vary": []string{"*"}}}, want: false},
		{name: "vary header", snapshot: Snapshot{StatusCode: 200, Header: http.Header{"Vary": []string{"Accept"}}}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.snapshot.Storable())
		})
	}
}

func TestSnapshotResponsesAreIndependent(t *testing.T) {
	snapshot, err := NewSnapshot(testResponse("shared"))
	require.NoError(t, err)

	first := snapshot.Response(nil)
	second := snapshot.Response(nil)
	first.Header.Set("Content-Type", "text/plain")

	assert.Equal(t, "application/json", second.Header.Get("Content-Type"))
	assert.Equal(t, int64(len("shared")), second.ContentLength)
}
