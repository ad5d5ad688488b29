package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/huddlehq/huddle-recorder/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileWritesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "config.json")

	cfg := New(path)
	require.NoError(t, cfg.Load())

	_, err := os.Stat(path)
	require.NoError(t, err)

	snap := cfg.Snapshot()
	assert.Equal(t, DefaultServerURL, snap.ServerURL)
	assert.Equal(t, types.SegmentDuration, snap.SegmentDuration)
	assert.Equal(t, types.QualityInterval, snap.QualityInterval)
	assert.Equal(t, types.ConnectTimeout, snap.ConnectTimeout)
	assert.Equal(t, types.ReconnectBaseDelay, snap.BaseDelay)
	assert.Equal(t, types.MaxReconnectAttempts, snap.MaxAttempts)
	assert.Equal(t, DefaultStatusListen, snap.StatusListen)
	assert.True(t, snap.EchoCancellation)
	assert.True(t, snap.NoiseSuppression)
	assert.True(t, snap.AutoGain)
	assert.False(t, snap.HasArchive())
	assert.False(t, snap.HasOAuth())
}

func TestLoadAppliesFileValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	raw := map[string]any{
		"server":     map[string]any{"base_url": "https://meet.example.com/"},
		"meeting":    map[string]any{"id": "m-42"},
		"audio":      map[string]any{"noise_suppression": false},
		"recording":  map[string]any{"segment_ms": 2000, "stop_when_passive": true},
		"connection": map[string]any{"max_attempts": 3},
		"status":     map[string]any{"disabled": true},
		"archive": map[string]any{
			"bucket": "segments", "access_key_id": "AK", "secret_access_key": "SK",
		},
	}
	data, err := json.Marshal(raw)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	cfg := New(path)
	require.NoError(t, cfg.Load())
	snap := cfg.Snapshot()

	assert.Equal(t, "https://meet.example.com", snap.ServerURL)
	assert.Equal(t, "m-42", snap.MeetingID)
	assert.False(t, snap.NoiseSuppression)
	assert.True(t, snap.AutoGain)
	assert.Equal(t, 2*time.Second, snap.SegmentDuration)
	assert.True(t, snap.StopWhenPassive)
	assert.Equal(t, 3, snap.MaxAttempts)
	assert.Empty(t, snap.StatusListen)
	assert.True(t, snap.HasArchive())
	assert.Equal(t, DefaultArchiveRegion, snap.ArchiveRegion)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		field string
	}{
		{"bad url", `{"server":{"base_url":"not a url"}}`, "server.base_url"},
		{"segment too short", `{"recording":{"segment_ms":10}}`, "recording.segment_ms"},
		{"bad log format", `{"log":{"format":"xml"}}`, "log.format"},
		{"bad listen", `{"status":{"listen":"nope"}}`, "status.listen"},
		{"temp dir traversal", `{"recording":{"temp_dir":"/var/tmp/../../etc"}}`, "recording.temp_dir"},
		{"journal traversal", `{"log":{"event_log_path":"../events.jsonl"}}`, "log.event_log_path"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.json")
			require.NoError(t, os.WriteFile(path, []byte(tt.raw), 0o600))

			err := New(path).Load()
			require.Error(t, err)

			var verr *types.ValidationError
			require.ErrorAs(t, err, &verr)
			fields := make([]string, 0, len(verr.Errors))
			for _, fe := range verr.Errors {
				fields = append(fields, fe.Field)
			}
			assert.Contains(t, fields, tt.field)
		})
	}
}

func TestLoadRejectsMalformedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{"), 0o600))

	assert.ErrorContains(t, New(path).Load(), "parse config")
}

func TestSetAudioInputPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := New(path)
	require.NoError(t, cfg.Load())
	require.NoError(t, cfg.SetAudioInput("hw:1"))

	reloaded := New(path)
	require.NoError(t, reloaded.Load())
	assert.Equal(t, "hw:1", reloaded.AudioInput())
}
