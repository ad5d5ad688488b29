package recording

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/huddlehq/huddle-recorder/internal/api"
	"github.com/huddlehq/huddle-recorder/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArchiveKey(t *testing.T) {
	a := NewS3Archive(&ArchiveConfig{Bucket: "b", Prefix: "segments/", AccessKeyID: "k", SecretAccessKey: "s"})
	seg := &api.Segment{
		MeetingID: "m-1",
		SessionID: "s-1",
		Sequence:  7,
		StartedAt: time.UnixMilli(1700000000000),
	}
	assert.Equal(t, "segments/m-1/s-1/000007-recording_1700000000000.wav", a.Key(seg))
}

func TestArchivePutsObject(t *testing.T) {
	type request struct {
		method, path, role, contentType string
	}
	got := make(chan request, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		got <- request{
			method:      r.Method,
			path:        r.URL.Path,
			role:        r.Header.Get("X-Amz-Meta-Recorder-Role"),
			contentType: r.Header.Get("Content-Type"),
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	path, err := writeSegment(t.TempDir(), make([]byte, types.BytesForDuration(100*time.Millisecond)))
	require.NoError(t, err)

	a := NewS3Archive(&ArchiveConfig{
		Endpoint:        srv.URL,
		Bucket:          "meetings",
		Prefix:          "segments/",
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
	})
	seg := &api.Segment{MeetingID: "m-1", SessionID: "s-1", Sequence: 1, Role: types.RoleBackup, Path: path}

	key, err := a.Archive(context.Background(), seg)
	require.NoError(t, err)
	assert.Equal(t, a.Key(seg), key)

	req := <-got
	assert.Equal(t, http.MethodPut, req.method)
	assert.Equal(t, "/meetings/"+key, req.path)
	assert.Equal(t, "backup", req.role)
	assert.Equal(t, "audio/wav", req.contentType)
}

func TestArchiveMissingFile(t *testing.T) {
	a := NewS3Archive(&ArchiveConfig{Bucket: "b", AccessKeyID: "k", SecretAccessKey: "s"})
	_, err := a.Archive(context.Background(), &api.Segment{Path: filepath.Join(t.TempDir(), "gone.wav")})
	assert.Error(t, err)
}

func TestArchiveConnectionRequiresConfig(t *testing.T) {
	err := TestArchiveConnection(context.Background(), &ArchiveConfig{Bucket: "b"})
	assert.Error(t, err)
}

func TestSweepSpool(t *testing.T) {
	dir := t.TempDir()
	stale, err := writeSegment(dir, make([]byte, 320))
	require.NoError(t, err)
	fresh, err := writeSegment(dir, make([]byte, 320))
	require.NoError(t, err)
	other := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(other, []byte("x"), 0o600))

	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))
	require.NoError(t, os.Chtimes(other, old, old))

	assert.Equal(t, 1, SweepSpool(dir, StaleSegmentAge))
	assert.NoFileExists(t, stale)
	assert.FileExists(t, fresh)
	assert.FileExists(t, other)
}
