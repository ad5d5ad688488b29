// Package coordinator applies recorder role decisions to the local capture
// pipeline.
//
// Election happens on the server: the elector ranks participants by the
// quality updates they report and broadcasts a decision naming one primary
// recorder and any number of backups. This package performs no election. It
// resolves what a decision means for this session and starts or stops capture
// accordingly. The last decision received always wins.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/huddlehq/huddle-recorder/internal/metrics"
	"github.com/huddlehq/huddle-recorder/internal/types"
	"github.com/huddlehq/huddle-recorder/internal/util"
)

// ErrNoDecision is returned for a decision message without a decision.
var ErrNoDecision = errors.New("coordination message carries no decision")

// Recorder is the capture pipeline as seen by the coordinator.
type Recorder interface {
	Start(ctx context.Context) error
	Stop() error
	Running() bool
	SetRole(role types.Role)
}

// Policy controls how roles map to capture actions.
type Policy struct {
	// StopWhenPassive stops capture on a passive assignment. When false a
	// passive device keeps recording and tags its uploads passive.
	StopWhenPassive bool
}

// Change describes an applied decision.
type Change struct {
	From       types.Role
	To         types.Role
	DecisionID int64
	Started    bool // capture was started for this decision
	Stopped    bool // capture was stopped for this decision
}

// Changed reports whether the role differs from the previous one.
func (c Change) Changed() bool {
	return c.From != c.To
}

// Coordinator holds this session's role.
type Coordinator struct {
	sessionID string
	recorder  Recorder
	policy    Policy

	mu          sync.RWMutex
	role        types.Role
	decisionID  int64
	unavailable bool
}

// New returns a coordinator with no role assigned.
func New(sessionID string, recorder Recorder, policy Policy) *Coordinator {
	metrics.SetRole(types.RoleUnassigned)
	return &Coordinator{
		sessionID: sessionID,
		recorder:  recorder,
		policy:    policy,
		role:      types.RoleUnassigned,
	}
}

// Role returns the current role.
func (c *Coordinator) Role() types.Role {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.role
}

// Available reports whether the coordination channel is usable. The role is
// kept while it is not.
func (c *Coordinator) Available() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.unavailable
}

// SetAvailable records coordination availability and reports whether it changed.
func (c *Coordinator) SetAvailable(available bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.unavailable == !available {
		return false
	}
	c.unavailable = !available
	if c.unavailable {
		slog.Warn("coordination unavailable, keeping last role", "role", c.role)
	} else {
		slog.Info("coordination available", "role", c.role)
	}
	return true
}

// HandleMessage decodes a coordination_decision_message and applies it.
func (c *Coordinator) HandleMessage(ctx context.Context, data []byte) (Change, error) {
	var msg types.CoordinationDecisionEvent
	if err := json.Unmarshal(data, &msg); err != nil {
		return Change{}, util.WrapError("decode coordination decision", err)
	}
	if msg.Decision == nil {
		slog.Info("ignoring empty coordination decision")
		return Change{}, ErrNoDecision
	}
	return c.Apply(ctx, *msg.Decision)
}

// Apply resolves d for this session and acts on the resulting role. The role
// is updated even when acting on it fails; the returned error is the capture
// failure.
func (c *Coordinator) Apply(ctx context.Context, d types.Decision) (Change, error) {
	role := d.RoleFor(c.sessionID)

	c.mu.Lock()
	change := Change{From: c.role, To: role, DecisionID: d.DecisionID}
	c.role = role
	c.decisionID = d.DecisionID
	c.mu.Unlock()

	c.recorder.SetRole(role)
	metrics.SetRole(role)
	metrics.DecisionApplied()

	if change.Changed() {
		slog.Info("recorder role changed", "from", change.From, "to", role,
			"primary", d.PrimaryRecorder, "backups", len(d.BackupRecorders), "decision_id", d.DecisionID)
	} else {
		slog.Debug("recorder role confirmed", "role", role, "decision_id", d.DecisionID)
	}

	switch role {
	case types.RolePrimary:
		if !c.recorder.Running() {
			if err := c.recorder.Start(ctx); err != nil {
				return change, err
			}
			change.Started = true
		}
	case types.RoleBackup:
		// Capture continues as it is; uploads are tagged backup.
	case types.RolePassive:
		if c.policy.StopWhenPassive && c.recorder.Running() {
			if err := c.recorder.Stop(); err != nil {
				slog.Warn("failed to stop capture for passive role", "error", err)
			}
			change.Stopped = true
		}
	}
	return change, nil
}
