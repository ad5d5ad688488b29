// Package metrics defines the Prometheus collectors exposed on the local
// status server.
package metrics

import (
	"github.com/huddlehq/huddle-recorder/internal/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Channels
	channelOpen = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "huddle_recorder_channel_open",
			Help: "Whether a channel is currently open (1) or not (0)",
		},
		[]string{"channel"},
	)

	channelReconnectAttempts = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "huddle_recorder_channel_reconnect_attempts",
			Help: "Reconnect attempts since the channel was last open",
		},
		[]string{"channel"},
	)

	channelExhausted = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "huddle_recorder_channel_exhausted",
			Help: "Whether a channel has spent its reconnect budget",
		},
		[]string{"channel"},
	)

	messagesReceivedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "huddle_recorder_messages_received_total",
			Help: "Total number of inbound channel messages",
		},
		[]string{"channel"},
	)

	messagesDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "huddle_recorder_messages_dropped_total",
			Help: "Total number of outbound messages dropped because the channel was not open",
		},
		[]string{"channel"},
	)

	// Role
	currentRole = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "huddle_recorder_role",
			Help: "Currently assigned recorder role (1 for the active role)",
		},
		[]string{"role"},
	)

	decisionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "huddle_recorder_decisions_total",
			Help: "Total number of coordination decisions applied",
		},
	)

	// Capture and upload
	recordingActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "huddle_recorder_recording_active",
			Help: "Whether audio capture is running",
		},
	)

	captureBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "huddle_recorder_capture_bytes_total",
			Help: "Total number of PCM bytes captured",
		},
	)

	segmentsCutTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "huddle_recorder_segments_cut_total",
			Help: "Total number of audio segments cut",
		},
	)

	segmentsUploadedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "huddle_recorder_segments_uploaded_total",
			Help: "Total number of audio segments accepted by the server",
		},
	)

	segmentsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "huddle_recorder_segments_dropped_total",
			Help: "Total number of audio segments dropped",
		},
		[]string{"reason"},
	)

	uploadDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "huddle_recorder_upload_duration_seconds",
			Help:    "Duration of segment uploads",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
	)

	segmentLevelDBFS = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "huddle_recorder_segment_level_dbfs",
			Help: "Signal level of the last cut segment in dBFS",
		},
		[]string{"kind"},
	)

	archiveFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "huddle_recorder_archive_failures_total",
			Help: "Total number of segments that could not be mirrored to the archive",
		},
	)

	// Quality
	qualitySnapshotsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "huddle_recorder_quality_snapshots_total",
			Help: "Total number of quality snapshots computed",
		},
	)

	qualityScore = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "huddle_recorder_quality_score",
			Help: "Latest quality snapshot per metric",
		},
		[]string{"metric"},
	)
)

// Drop reasons for segments.
const (
	DropQueueFull    = "queue_full"
	DropUploadFailed = "upload_failed"
	DropEncodeFailed = "encode_failed"
)

var roles = []types.Role{types.RoleUnassigned, types.RolePrimary, types.RoleBackup, types.RolePassive}

// ObserveChannel records a channel state.
func ObserveChannel(st types.ChannelState) {
	ch := string(st.Channel)
	channelOpen.WithLabelValues(ch).Set(boolValue(st.Status == types.StatusOpen))
	channelReconnectAttempts.WithLabelValues(ch).Set(float64(st.ReconnectAttempts))
	channelExhausted.WithLabelValues(ch).Set(boolValue(st.Exhausted))
}

// MessageReceived counts one inbound frame.
func MessageReceived(ch types.ChannelName) {
	messagesReceivedTotal.WithLabelValues(string(ch)).Inc()
}

// MessageDropped counts one outbound message that could not be sent.
func MessageDropped(ch types.ChannelName) {
	messagesDroppedTotal.WithLabelValues(string(ch)).Inc()
}

// SetRole marks role as the active role.
func SetRole(role types.Role) {
	for _, r := range roles {
		currentRole.WithLabelValues(string(r)).Set(boolValue(r == role))
	}
}

// DecisionApplied counts one applied coordination decision.
func DecisionApplied() {
	decisionsTotal.Inc()
}

// SetRecording records whether capture is running.
func SetRecording(active bool) {
	recordingActive.Set(boolValue(active))
}

// CaptureBytes counts captured PCM.
func CaptureBytes(n int) {
	captureBytesTotal.Add(float64(n))
}

// SegmentCut counts one cut segment.
func SegmentCut() {
	segmentsCutTotal.Inc()
}

// ObserveSegmentLevel records the RMS and peak level of the last cut segment.
func ObserveSegmentLevel(rmsDB, peakDB float64) {
	segmentLevelDBFS.WithLabelValues("rms").Set(rmsDB)
	segmentLevelDBFS.WithLabelValues("peak").Set(peakDB)
}

// SegmentUploaded records a successful upload and its duration in seconds.
func SegmentUploaded(seconds float64) {
	segmentsUploadedTotal.Inc()
	uploadDurationSeconds.Observe(seconds)
}

// SegmentDropped counts one dropped segment.
func SegmentDropped(reason string) {
	segmentsDroppedTotal.WithLabelValues(reason).Inc()
}

// ArchiveFailed counts one failed archive copy.
func ArchiveFailed() {
	archiveFailuresTotal.Inc()
}

// ObserveQuality records the latest quality snapshot.
func ObserveQuality(m types.QualityMetrics) {
	qualitySnapshotsTotal.Inc()
	qualityScore.WithLabelValues("volume_level").Set(m.VolumeLevel)
	qualityScore.WithLabelValues("background_noise").Set(m.BackgroundNoise)
	qualityScore.WithLabelValues("clarity_score").Set(m.ClarityScore)
	qualityScore.WithLabelValues("proximity_score").Set(m.ProximityScore)
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
