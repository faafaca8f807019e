// Package peering decides which operator replica acts on resources. All
// replicas observe; only the holder of the peering Lease reconciles.
package peering

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	v2alpha1 "gitlab.prplanit.com/precisionplanit/mysql-operator/api/v2alpha1"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/common"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/metrics"

	"github.com/google/uuid"
	coordinationv1 "k8s.io/api/coordination/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

// Candidate is one replica competing for the Lease.
type Candidate struct {
	Identity string
	// Priority is the process start time in microseconds.
	Priority int64
}

// Record is the state stored on the Lease.
type Record struct {
	Holder    string
	Priority  int64
	RenewTime time.Time
}

// Verdict is the outcome of comparing a candidate with the current record.
type Verdict int

const (
	Standby Verdict = iota
	Acquire
	Renew
)

func (v Verdict) String() string {
	switch v {
	case Acquire:
		return "acquire"
	case Renew:
		return "renew"
	}
	return "standby"
}

// Decide compares me with the current holder. A higher priority preempts
// the holder; equal priorities are ordered by identity. An expired record
// is free for anyone.
func Decide(rec Record, me Candidate, now time.Time, ttl time.Duration) Verdict {
	switch {
	case rec.Holder == "":
		return Acquire
	case rec.Holder == me.Identity:
		return Renew
	case !rec.RenewTime.IsZero() && now.After(rec.RenewTime.Add(ttl)):
		return Acquire
	case me.Priority > rec.Priority:
		return Acquire
	case me.Priority == rec.Priority && me.Identity > rec.Holder:
		return Acquire
	}
	return Standby
}

// Identity returns the replica identity: the configured hostname or a
// random UUID.
func Identity(hostname string) string {
	if hostname != "" {
		return hostname
	}
	return uuid.NewString()
}

// Elector keeps this replica's claim on the Lease up to date.
type Elector struct {
	Client    client.Client
	Namespace string
	Name      string
	Me        Candidate

	LeaseDuration time.Duration
	RetryPeriod   time.Duration
	Now           func() time.Time

	active atomic.Bool
}

// NewElector returns an Elector for the Lease ns/name whose priority is
// derived from started.
func NewElector(c client.Client, ns, name, identity string, started time.Time) *Elector {
	return &Elector{
		Client:        c,
		Namespace:     ns,
		Name:          name,
		Me:            Candidate{Identity: identity, Priority: started.UnixMicro()},
		LeaseDuration: 15 * time.Second,
		RetryPeriod:   5 * time.Second,
	}
}

// Active reports whether this replica currently holds the Lease.
func (e *Elector) Active() bool {
	return e.active.Load()
}

// NeedLeaderElection is false: peering must run on every replica.
func (e *Elector) NeedLeaderElection() bool {
	return false
}

// Start refreshes the claim every RetryPeriod until ctx is done.
func (e *Elector) Start(ctx context.Context) error {
	common.InfoLog("Peering as %s (priority %d) on lease %s/%s", e.Me.Identity, e.Me.Priority, e.Namespace, e.Name)
	ticker := time.NewTicker(e.RetryPeriod)
	defer ticker.Stop()
	for {
		if _, err := e.TryAcquire(ctx); err != nil {
			common.WarnLog("Peering: %v", err)
		}
		select {
		case <-ctx.Done():
			e.setActive(false)
			return nil
		case <-ticker.C:
		}
	}
}

// TryAcquire runs one round of the protocol. Losing a compare-and-swap
// race leaves this replica on standby until the next round.
func (e *Elector) TryAcquire(ctx context.Context) (bool, error) {
	now := e.now()
	lease := &coordinationv1.Lease{}
	err := e.Client.Get(ctx, types.NamespacedName{Namespace: e.Namespace, Name: e.Name}, lease)
	if apierrors.IsNotFound(err) {
		lease = &coordinationv1.Lease{ObjectMeta: metav1.ObjectMeta{Namespace: e.Namespace, Name: e.Name}}
		e.claim(lease, now, true)
		if err := e.Client.Create(ctx, lease); err != nil {
			e.setActive(false)
			if apierrors.IsAlreadyExists(err) {
				return false, nil
			}
			return false, fmt.Errorf("failed to create lease %s/%s: %w", e.Namespace, e.Name, err)
		}
		e.setActive(true)
		return true, nil
	}
	if err != nil {
		e.setActive(false)
		return false, fmt.Errorf("failed to get lease %s/%s: %w", e.Namespace, e.Name, err)
	}

	v := Decide(RecordOf(lease), e.Me, now, e.LeaseDuration)
	if v == Standby {
		e.setActive(false)
		return false, nil
	}
	e.claim(lease, now, v == Acquire)
	if err := e.Client.Update(ctx, lease); err != nil {
		e.setActive(false)
		if apierrors.IsConflict(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to %s lease %s/%s: %w", v, e.Namespace, e.Name, err)
	}
	e.setActive(true)
	return true, nil
}

func (e *Elector) claim(lease *coordinationv1.Lease, now time.Time, acquire bool) {
	ts := metav1.NewMicroTime(now)
	lease.Spec.HolderIdentity = ptr.To(e.Me.Identity)
	lease.Spec.LeaseDurationSeconds = ptr.To(int32(e.LeaseDuration / time.Second))
	lease.Spec.RenewTime = &ts
	if acquire {
		lease.Spec.AcquireTime = &ts
		lease.Spec.LeaseTransitions = ptr.To(ptr.Deref(lease.Spec.LeaseTransitions, 0) + 1)
	}
	ann := lease.GetAnnotations()
	if ann == nil {
		ann = map[string]string{}
	}
	ann[v2alpha1.AnnotationPeeringPriority] = strconv.FormatInt(e.Me.Priority, 10)
	lease.SetAnnotations(ann)
}

func (e *Elector) setActive(active bool) {
	if e.active.Swap(active) != active {
		if active {
			common.InfoLog("Peering: %s is now active", e.Me.Identity)
		} else {
			common.InfoLog("Peering: %s is on standby", e.Me.Identity)
		}
	}
	metrics.SetPeeringActive(active)
}

func (e *Elector) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// RecordOf reads the peering record from a Lease. A missing or malformed
// priority counts as zero.
func RecordOf(lease *coordinationv1.Lease) Record {
	rec := Record{Holder: ptr.Deref(lease.Spec.HolderIdentity, "")}
	if lease.Spec.RenewTime != nil {
		rec.RenewTime = lease.Spec.RenewTime.UTC()
	}
	if p, err := strconv.ParseInt(lease.GetAnnotations()[v2alpha1.AnnotationPeeringPriority], 10, 64); err == nil {
		rec.Priority = p
	}
	return rec
}
