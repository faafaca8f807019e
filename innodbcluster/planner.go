package innodbcluster

import (
	"errors"
	"sort"
	"time"

	v2alpha1 "gitlab.prplanit.com/precisionplanit/mysql-operator/api/v2alpha1"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/common"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/events"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/mysql"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/provision"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/spec"
)

const waitingForDonor = "waiting for an online member to clone from"

// Quorum is the number of online members a group of n needs.
func Quorum(n int) int {
	return n/2 + 1
}

// Compute plans one reconcile of a cluster. c is nil when specErr is set.
func Compute(c *spec.ClusterSpec, specErr error, o Observed, now time.Time) Plan {
	prev := o.Status
	next := prev
	next.Provisioned = append([]int(nil), prev.Provisioned...)
	next.LastProbeTime = now.UTC().Format(time.RFC3339)

	if o.Deleting {
		return Plan{Status: next, Actions: []Action{Finalize{}}}
	}

	if specErr == nil {
		specErr = checkVersionChange(c, prev)
	}
	if specErr != nil {
		return planSpecError(specErr, o, prev, next)
	}

	p := &planner{c: c, o: o, prev: prev, next: next, n: c.Instances}
	return p.plan(now)
}

// checkVersionChange rejects downgrades of a provisioned cluster.
func checkVersionChange(c *spec.ClusterSpec, prev v2alpha1.ClusterStatus) error {
	if prev.Version == "" || len(prev.Provisioned) == 0 {
		return nil
	}
	cmp, err := spec.CompareVersions(c.Version, prev.Version)
	if err != nil {
		return common.NewSpecError("spec.version %q cannot be compared with running version %q", c.Version, prev.Version)
	}
	if cmp < 0 {
		return common.NewSpecError("spec.version is %s but the cluster runs %s and downgrades are not supported", c.Version, prev.Version)
	}
	return nil
}

func planSpecError(err error, o Observed, prev, next v2alpha1.ClusterStatus) Plan {
	next.Status = v2alpha1.ClusterError
	next.Message = common.MessageOf(err)
	next.OnlineInstances = countOnline(o.Members, -1)

	var evs []events.Event
	if prev.Status != next.Status || prev.Message != next.Message {
		evs = append(evs, events.FromError(err, common.ReasonInvalidArgument))
	}
	return Plan{Status: next, Events: evs}
}

type planner struct {
	c    *spec.ClusterSpec
	o    Observed
	prev v2alpha1.ClusterStatus
	next v2alpha1.ClusterStatus
	n    int

	online  int
	actions []Action
	events  []events.Event
	message string
}

func (p *planner) plan(now time.Time) Plan {
	p.online = countOnline(p.o.Members, p.n)
	p.adoptMembers()

	partition := p.planVersion()
	replicas := p.planScaleIn()
	p.actions = append([]Action{EnsureResources{Replicas: replicas, Version: p.c.Version, Partition: partition}}, p.actions...)

	faults := p.planFaults(partition)
	p.planProvisioning()
	p.planRejoin()

	p.next.OnlineInstances = p.online
	p.next.Message = p.message
	switch {
	case len(faults) > 0 && p.online < Quorum(p.n):
		p.next.Status = v2alpha1.ClusterError
	case len(p.o.Pods) == 0 && len(p.next.Provisioned) == 0:
		p.next.Status = v2alpha1.ClusterPending
	case p.unprovisioned():
		p.next.Status = v2alpha1.ClusterInitializing
	case p.online >= Quorum(p.n):
		p.next.Status = v2alpha1.ClusterOnline
	default:
		p.next.Status = v2alpha1.ClusterOffline
	}

	if len(faults) > 0 && p.prev.Message != p.next.Message {
		p.events = append(p.events, faults[0].Event())
	}
	if p.prev.Status == v2alpha1.ClusterError && p.next.Status != v2alpha1.ClusterError {
		p.events = append(p.events, events.Normal(common.ReasonRecovered,
			map[string]any{"from": p.prev.Status, "to": p.next.Status}))
	}
	if p.next.Status == v2alpha1.ClusterOnline && p.prev.Status != v2alpha1.ClusterOnline {
		p.events = append(p.events, events.Normal(common.ReasonOnline,
			map[string]any{"online": p.online, "instances": p.n}))
		if p.next.CreateTime == "" {
			p.next.CreateTime = now.UTC().Format(time.RFC3339)
		}
	}

	return Plan{Status: p.next, Actions: p.actions, Events: p.events}
}

// adoptMembers records instances that are already group members as
// provisioned, covering a status write lost after a successful join.
func (p *planner) adoptMembers() {
	for i, m := range p.o.Members {
		if i < p.n && (m.State == mysql.MemberOnline || m.State == mysql.MemberRecovering) {
			p.next.Provisioned = addIndex(p.next.Provisioned, i)
		}
	}
}

// planVersion drives a rolling upgrade one instance at a time from the
// highest index down and returns the StatefulSet partition to apply.
func (p *planner) planVersion() int {
	if p.next.Version == "" || len(p.next.Provisioned) == 0 {
		p.next.Version = p.c.Version
		p.next.UpgradePartition = nil
		return 0
	}
	if p.c.Version == p.next.Version {
		// target matches what runs: either steady, or an upgrade reverted
		p.next.UpgradePartition = nil
		return 0
	}

	part := p.n
	if p.prev.UpgradePartition != nil {
		part = min(*p.prev.UpgradePartition, p.n-1)
	} else if p.canTakeDown(p.n - 1) {
		part = p.n - 1
		p.events = append(p.events, events.Normal(common.ReasonUpgradeStarted,
			map[string]any{"from": p.next.Version, "to": p.c.Version, "partition": part}))
	}

	if part < p.n {
		m := p.o.Members[part]
		if m.Online() && m.Version == p.c.Version {
			if part == 0 {
				p.events = append(p.events, events.Normal(common.ReasonUpgradeCompleted,
					map[string]any{"to": p.c.Version}))
				p.next.Version = p.c.Version
				p.next.UpgradePartition = nil
				return 0
			}
			if p.canTakeDown(part - 1) {
				part--
			}
		}
		p.next.UpgradePartition = &part
	}
	return part
}

// canTakeDown reports whether restarting instance idx keeps quorum.
func (p *planner) canTakeDown(idx int) bool {
	m, ok := p.o.Members[idx]
	if !ok || !m.Online() || p.n == 1 {
		return true
	}
	return p.online-1 >= Quorum(p.n)
}

// planScaleIn removes provisioned instances beyond the desired count from
// the group, highest first, before the StatefulSet shrinks.
func (p *planner) planScaleIn() int {
	var extra []int
	for _, i := range p.next.Provisioned {
		if i >= p.n {
			extra = append(extra, i)
		}
	}
	if len(extra) == 0 {
		return p.n
	}
	if p.online == 0 {
		for _, i := range extra {
			p.next.Provisioned = removeIndex(p.next.Provisioned, i)
		}
		return p.n
	}
	p.actions = append(p.actions, RemoveInstance{Index: extra[len(extra)-1]})
	return max(p.n, p.o.StatefulSet.Replicas, extra[len(extra)-1]+1)
}

// planFaults classifies pods and deletes faulted pods created from a
// stale revision so the StatefulSet recreates them from the fixed template.
func (p *planner) planFaults(partition int) []Fault {
	var faults []Fault
	for _, idx := range sortedKeys(p.o.Pods) {
		pod := p.o.Pods[idx]
		f, ok := ClassifyPod(pod)
		if !ok {
			continue
		}
		faults = append(faults, f)
		update := p.o.StatefulSet.UpdateRevision
		if pod.Revision != "" && update != "" && pod.Revision != update && idx >= partition {
			p.actions = append(p.actions, DeletePod{Index: idx, Name: pod.Name, Reason: f.Detail})
		}
	}
	if len(faults) > 0 {
		p.message = common.MessageOf(faults[0].Err())
	}
	return faults
}

// planProvisioning seeds the lowest unprovisioned instance whose pod is
// ready. At most one instance is seeded per pass.
func (p *planner) planProvisioning() {
	for i := 0; i < p.n; i++ {
		if containsIndex(p.next.Provisioned, i) {
			continue
		}
		pod, ok := p.o.Pods[i]
		if !ok || !pod.Ready || pod.Deleting {
			if len(p.next.Provisioned) == 0 {
				// nothing can join before the first instance exists
				return
			}
			continue
		}
		seed, err := provision.Select(p.c, i, provision.View{
			Provisioned: p.next.Provisioned,
			Members:     memberList(p.o.Members),
		})
		if errors.Is(err, provision.ErrNoDonor) {
			if p.message == "" {
				p.message = waitingForDonor
			}
			return
		}
		if err != nil {
			p.message = err.Error()
			return
		}
		if len(p.next.Provisioned) == 0 {
			p.actions = append(p.actions, CreateCluster{Index: i, Seed: seed})
		} else {
			p.actions = append(p.actions, JoinInstance{Index: i, Seed: seed})
		}
		return
	}
}

// planRejoin returns provisioned instances that left the group. When no
// member is online at all the group is rebooted from one instance once
// every provisioned instance is reachable.
func (p *planner) planRejoin() {
	var outside []int
	allReady := true
	recovering := false
	for _, i := range p.next.Provisioned {
		if i >= p.n {
			continue
		}
		pod, ok := p.o.Pods[i]
		if !ok || !pod.Ready {
			allReady = false
			continue
		}
		switch p.o.Members[i].State {
		case mysql.MemberOffline, mysql.MemberError:
			outside = append(outside, i)
		case mysql.MemberRecovering:
			recovering = true
		}
	}
	if len(outside) == 0 {
		return
	}
	if p.online > 0 {
		for _, i := range outside {
			p.actions = append(p.actions, RejoinInstance{Index: i})
		}
		return
	}
	if allReady && !recovering {
		p.actions = append(p.actions, RebootCluster{Index: outside[0]})
	}
}

func (p *planner) unprovisioned() bool {
	for i := 0; i < p.n; i++ {
		if !containsIndex(p.next.Provisioned, i) {
			return true
		}
	}
	return false
}

// MarkProvisioned records a successful seed of instance i.
func (p *Plan) MarkProvisioned(i int) {
	p.Status.Provisioned = addIndex(p.Status.Provisioned, i)
}

// MarkRemoved records that instance i left the group for good.
func (p *Plan) MarkRemoved(i int) {
	p.Status.Provisioned = removeIndex(p.Status.Provisioned, i)
}

// countOnline counts online members below limit, or all when limit < 0.
func countOnline(members map[int]mysql.Member, limit int) int {
	n := 0
	for i, m := range members {
		if (limit < 0 || i < limit) && m.Online() {
			n++
		}
	}
	return n
}

func memberList(members map[int]mysql.Member) []mysql.Member {
	out := make([]mysql.Member, 0, len(members))
	for _, i := range sortedKeys(members) {
		out = append(out, members[i])
	}
	return out
}

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

func containsIndex(list []int, i int) bool {
	for _, v := range list {
		if v == i {
			return true
		}
	}
	return false
}

func addIndex(list []int, i int) []int {
	if containsIndex(list, i) {
		return list
	}
	list = append(list, i)
	sort.Ints(list)
	return list
}

func removeIndex(list []int, i int) []int {
	out := list[:0:0]
	for _, v := range list {
		if v != i {
			out = append(out, v)
		}
	}
	return out
}
