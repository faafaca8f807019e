// Package backup runs MySQLBackups and owns the transitions of their status.
package backup

import (
	"errors"
	"fmt"
	"reflect"
	"time"

	v2alpha1 "gitlab.prplanit.com/precisionplanit/mysql-operator/api/v2alpha1"
)

// ErrTerminal is returned for a transition out of Completed or Error.
var ErrTerminal = errors.New("backup already finished")

// EventKind names a lifecycle transition.
type EventKind string

const (
	Admit   EventKind = "Admit"
	Start   EventKind = "Start"
	Succeed EventKind = "Succeed"
	Fail    EventKind = "Fail"
)

// Event is one lifecycle transition request. StartTime and EndTime are
// ignored where they do not apply.
type Event struct {
	Kind      EventKind
	Output    string
	StartTime time.Time
	EndTime   time.Time
	// Info is engine metadata merged into the status on Succeed.
	Info map[string]any
	// Err is the cause recorded on Fail.
	Err error
}

// Apply computes the status after ev. changed is false when ev is a replay
// of a transition already applied. No transition leaves a terminal phase.
func Apply(cur v2alpha1.BackupStatus, ev Event) (v2alpha1.BackupStatus, bool, error) {
	next, err := transition(cur, ev)
	if err != nil {
		return cur, false, err
	}
	if reflect.DeepEqual(next, cur) {
		return cur, false, nil
	}
	if cur.Status.Terminal() {
		return cur, false, fmt.Errorf("%w: cannot %s a backup in %s", ErrTerminal, ev.Kind, cur.Status)
	}
	return next, true, nil
}

func transition(cur v2alpha1.BackupStatus, ev Event) (v2alpha1.BackupStatus, error) {
	next := cur
	next.Extra = copyMap(cur.Extra)

	switch ev.Kind {
	case Admit:
		if cur.Status == "" {
			next.Status = v2alpha1.BackupPending
		}
	case Start:
		switch cur.Status {
		case "", v2alpha1.BackupPending:
		case v2alpha1.BackupRunning:
			if cur.StartTime != timestamp(ev.StartTime) || cur.Output != ev.Output {
				return cur, fmt.Errorf("backup already running since %s into %s", cur.StartTime, cur.Output)
			}
		}
		next.Status = v2alpha1.BackupRunning
		next.StartTime = timestamp(ev.StartTime)
		next.Output = ev.Output
	case Succeed:
		next = finish(next, v2alpha1.BackupCompleted, ev)
		m := next.ToMap()
		for k, v := range ev.Info {
			if !lifecycleField[k] {
				m[k] = v
			}
		}
		next = v2alpha1.BackupStatusFromMap(m)
	case Fail:
		next = finish(next, v2alpha1.BackupError, ev)
		if ev.Err != nil {
			next.Message = ev.Err.Error()
		}
	default:
		return cur, fmt.Errorf("unknown backup event %q", ev.Kind)
	}
	return next, nil
}

// lifecycleField lists status keys engine metadata cannot override.
var lifecycleField = map[string]bool{
	"status": true, "startTime": true, "completionTime": true, "elapsedTime": true,
}

func finish(s v2alpha1.BackupStatus, phase v2alpha1.BackupPhase, ev Event) v2alpha1.BackupStatus {
	start := ev.StartTime
	if start.IsZero() {
		if t, err := time.Parse(time.RFC3339, s.StartTime); err == nil {
			start = t
		}
	}
	s.Status = phase
	if !start.IsZero() {
		s.StartTime = timestamp(start)
		s.ElapsedTime = ElapsedTime(start, ev.EndTime)
	}
	s.CompletionTime = timestamp(ev.EndTime)
	if ev.Output != "" {
		s.Output = ev.Output
	}
	return s
}

// ElapsedTime formats end-start as zero-padded HH:MM:SS. Hours are not
// wrapped at 24; a negative span formats as 00:00:00.
func ElapsedTime(start, end time.Time) string {
	d := end.Sub(start)
	if d < 0 {
		d = 0
	}
	secs := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, secs/60%60, secs%60)
}

// ArtifactName is the output name of a backup started at t.
func ArtifactName(backup string, t time.Time) string {
	return backup + "-" + t.UTC().Format("20060102-150405")
}

func timestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
