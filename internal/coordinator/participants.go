package coordinator

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/huddlehq/huddle-recorder/internal/types"
)

// refreshTimeout bounds one meeting status fetch.
const refreshTimeout = 10 * time.Second

// StatusFetcher loads the meeting status. *api.Client satisfies it.
type StatusFetcher interface {
	MeetingStatus(ctx context.Context, meetingID string) (*types.MeetingStatus, error)
}

// ParticipantView is a read-only snapshot of the meeting's participants. It
// is never patched: every participant event triggers a full re-fetch that
// replaces the snapshot.
type ParticipantView struct {
	fetcher   StatusFetcher
	meetingID string

	mu        sync.RWMutex
	status    types.MeetingStatus
	fetchedAt time.Time
	inFlight  bool
	dirty     bool

	updated chan struct{}
}

// NewParticipantView returns an empty view.
func NewParticipantView(fetcher StatusFetcher, meetingID string) *ParticipantView {
	return &ParticipantView{
		fetcher:   fetcher,
		meetingID: meetingID,
		status:    types.MeetingStatus{MeetingID: meetingID},
		updated:   make(chan struct{}, 1),
	}
}

// Refresh fetches the meeting status and replaces the snapshot.
func (v *ParticipantView) Refresh(ctx context.Context) ([]types.Participant, error) {
	ctx, cancel := context.WithTimeout(ctx, refreshTimeout)
	defer cancel()

	status, err := v.fetcher.MeetingStatus(ctx, v.meetingID)
	if err != nil {
		return nil, err
	}

	v.mu.Lock()
	v.status = *status
	v.status.Participants = slices.Clone(status.Participants)
	v.fetchedAt = time.Now()
	out := slices.Clone(v.status.Participants)
	v.mu.Unlock()

	slog.Debug("participant view refreshed", "participants", len(out), "recording", status.RecordingParticipants)
	select {
	case v.updated <- struct{}{}:
	default:
	}
	return out, nil
}

// Invalidate schedules a background refresh. Invalidations that arrive while
// a refresh is running are coalesced into one more refresh.
func (v *ParticipantView) Invalidate() {
	v.mu.Lock()
	if v.inFlight {
		v.dirty = true
		v.mu.Unlock()
		return
	}
	v.inFlight = true
	v.mu.Unlock()

	go v.refreshLoop()
}

func (v *ParticipantView) refreshLoop() {
	for {
		if _, err := v.Refresh(context.Background()); err != nil {
			slog.Warn("failed to refresh participants", "meeting_id", v.meetingID, "error", err)
		}

		v.mu.Lock()
		if !v.dirty {
			v.inFlight = false
			v.mu.Unlock()
			return
		}
		v.dirty = false
		v.mu.Unlock()
	}
}

// Updated signals that a refresh replaced the snapshot.
func (v *ParticipantView) Updated() <-chan struct{} {
	return v.updated
}

// Participants returns a copy of the current participant list.
func (v *ParticipantView) Participants() []types.Participant {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return slices.Clone(v.status.Participants)
}

// Status returns a copy of the last meeting status and when it was fetched.
func (v *ParticipantView) Status() (types.MeetingStatus, time.Time) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	st := v.status
	st.Participants = slices.Clone(v.status.Participants)
	return st, v.fetchedAt
}
