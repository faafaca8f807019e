package innodbcluster

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/ptr"

	v2alpha1 "gitlab.prplanit.com/precisionplanit/mysql-operator/api/v2alpha1"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/common"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/mysql"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/provision"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/spec"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func cluster(instances int, version string) *spec.ClusterSpec {
	return &spec.ClusterSpec{Namespace: "default", Name: "mycluster", Instances: instances, Version: version}
}

func readyPods(indexes ...int) map[int]PodState {
	pods := map[int]PodState{}
	for _, i := range indexes {
		pods[i] = PodState{Index: i, Name: podName(i), Ready: true}
	}
	return pods
}

func podName(i int) string {
	return "mycluster-" + string(rune('0'+i))
}

func member(i int, state mysql.MemberState, version string) mysql.Member {
	role := mysql.RoleSecondary
	if i == 0 {
		role = mysql.RolePrimary
	}
	return mysql.Member{Index: i, Pod: podName(i), State: state, Role: role, Version: version}
}

func onlineMembers(version string, indexes ...int) map[int]mysql.Member {
	out := map[int]mysql.Member{}
	for _, i := range indexes {
		out[i] = member(i, mysql.MemberOnline, version)
	}
	return out
}

func reasons(p Plan) []string {
	var out []string
	for _, e := range p.Events {
		out = append(out, e.Reason)
	}
	return out
}

func TestQuorum(t *testing.T) {
	for n, want := range map[int]int{1: 1, 2: 2, 3: 2, 4: 3, 5: 3, 9: 5} {
		assert.Equal(t, want, Quorum(n), "instances=%d", n)
	}
}

func TestCompute_Bootstrap(t *testing.T) {
	tests := map[string]struct {
		spec        *spec.ClusterSpec
		observed    Observed
		wantPhase   v2alpha1.ClusterPhase
		wantActions []Action
		wantEvents  []string
	}{
		"no pods yet": {
			spec:        cluster(1, "8.4.6"),
			observed:    Observed{},
			wantPhase:   v2alpha1.ClusterPending,
			wantActions: []Action{EnsureResources{Replicas: 1, Version: "8.4.6"}},
		},
		"first pod ready creates the group": {
			spec:      cluster(1, "8.4.6"),
			observed:  Observed{Pods: readyPods(0)},
			wantPhase: v2alpha1.ClusterInitializing,
			wantActions: []Action{
				EnsureResources{Replicas: 1, Version: "8.4.6"},
				CreateCluster{Index: 0, Seed: provision.SeedEmpty{}},
			},
		},
		"first pod not ready waits": {
			spec:        cluster(3, "8.4.6"),
			observed:    Observed{Pods: map[int]PodState{0: {Index: 0, Name: "mycluster-0"}}},
			wantPhase:   v2alpha1.ClusterInitializing,
			wantActions: []Action{EnsureResources{Replicas: 3, Version: "8.4.6"}},
		},
		"single instance online": {
			spec: cluster(1, "8.4.6"),
			observed: Observed{
				Pods:    readyPods(0),
				Members: onlineMembers("8.4.6", 0),
				Status:  v2alpha1.ClusterStatus{Status: v2alpha1.ClusterInitializing, Provisioned: []int{0}, Version: "8.4.6"},
			},
			wantPhase:   v2alpha1.ClusterOnline,
			wantActions: []Action{EnsureResources{Replicas: 1, Version: "8.4.6"}},
			wantEvents:  []string{common.ReasonOnline},
		},
		"scale out joins the next ready pod from the primary": {
			spec: cluster(3, "8.4.6"),
			observed: Observed{
				Pods:    readyPods(0, 1),
				Members: onlineMembers("8.4.6", 0),
				Status:  v2alpha1.ClusterStatus{Status: v2alpha1.ClusterOnline, Provisioned: []int{0}, Version: "8.4.6"},
			},
			wantPhase: v2alpha1.ClusterInitializing,
			wantActions: []Action{
				EnsureResources{Replicas: 3, Version: "8.4.6"},
				JoinInstance{Index: 1, Seed: provision.SeedPeerClone{Donor: member(0, mysql.MemberOnline, "8.4.6")}},
			},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			plan := Compute(tc.spec, nil, tc.observed, now)
			assert.Equal(t, tc.wantPhase, plan.Status.Status)
			if diff := cmp.Diff(tc.wantActions, plan.Actions); diff != "" {
				t.Errorf("actions mismatch (-want +got):\n%s", diff)
			}
			assert.Equal(t, tc.wantEvents, reasons(plan))
		})
	}
}

func TestCompute_OnlineSetsCreateTimeOnce(t *testing.T) {
	o := Observed{
		Pods:    readyPods(0),
		Members: onlineMembers("8.4.6", 0),
		Status:  v2alpha1.ClusterStatus{Status: v2alpha1.ClusterInitializing, Provisioned: []int{0}, Version: "8.4.6"},
	}
	first := Compute(cluster(1, "8.4.6"), nil, o, now)
	require.Equal(t, "2026-03-01T12:00:00Z", first.Status.CreateTime)
	assert.Equal(t, 1, first.Status.OnlineInstances)

	o.Status = first.Status
	second := Compute(cluster(1, "8.4.6"), nil, o, now.Add(time.Minute))
	assert.Equal(t, "2026-03-01T12:00:00Z", second.Status.CreateTime)
	assert.Equal(t, "2026-03-01T12:01:00Z", second.Status.LastProbeTime)
	assert.Empty(t, second.Events)
}

func TestCompute_SpecErrorAndRecovery(t *testing.T) {
	specErr := common.NewSpecError("spec.version is 8.8.8 but must be between 8.0.24 and 8.4.6")
	o := Observed{Pods: readyPods(0), Members: onlineMembers("8.4.6", 0),
		Status: v2alpha1.ClusterStatus{Status: v2alpha1.ClusterOnline, Provisioned: []int{0}, Version: "8.4.6"}}

	failed := Compute(nil, specErr, o, now)
	assert.Equal(t, v2alpha1.ClusterError, failed.Status.Status)
	assert.Equal(t, specErr.Message, failed.Status.Message)
	assert.Empty(t, failed.Actions)
	assert.Equal(t, []string{common.ReasonInvalidArgument}, reasons(failed))

	o.Status = failed.Status
	again := Compute(nil, specErr, o, now)
	assert.Empty(t, again.Events, "unchanged error is not re-posted")

	recovered := Compute(cluster(1, "8.4.6"), nil, o, now)
	assert.Equal(t, v2alpha1.ClusterOnline, recovered.Status.Status)
	assert.Empty(t, recovered.Status.Message)
	assert.Equal(t, []string{common.ReasonRecovered, common.ReasonOnline}, reasons(recovered))
}

func TestCompute_DeletionFinalizesFromAnyState(t *testing.T) {
	o := Observed{Deleting: true, Status: v2alpha1.ClusterStatus{Status: v2alpha1.ClusterError, Message: "bad"}}
	plan := Compute(nil, common.NewSpecError("bad"), o, now)
	assert.Equal(t, []Action{Finalize{}}, plan.Actions)
	assert.Equal(t, v2alpha1.ClusterError, plan.Status.Status)
}

func TestCompute_RejectsDowngrade(t *testing.T) {
	o := Observed{Pods: readyPods(0), Members: onlineMembers("8.4.6", 0),
		Status: v2alpha1.ClusterStatus{Status: v2alpha1.ClusterOnline, Provisioned: []int{0}, Version: "8.4.6"}}
	plan := Compute(cluster(1, "8.0.40"), nil, o, now)
	assert.Equal(t, v2alpha1.ClusterError, plan.Status.Status)
	assert.Contains(t, plan.Status.Message, "downgrades are not supported")
	assert.Empty(t, plan.Actions)
}

func TestCompute_RollingUpgrade(t *testing.T) {
	c := cluster(3, "8.4.6")
	o := Observed{
		Pods:    readyPods(0, 1, 2),
		Members: onlineMembers("8.0.40", 0, 1, 2),
		Status:  v2alpha1.ClusterStatus{Status: v2alpha1.ClusterOnline, Provisioned: []int{0, 1, 2}, Version: "8.0.40"},
	}

	start := Compute(c, nil, o, now)
	require.Equal(t, ptr.To(2), start.Status.UpgradePartition)
	assert.Equal(t, "8.0.40", start.Status.Version)
	assert.Equal(t, EnsureResources{Replicas: 3, Version: "8.4.6", Partition: 2}, start.Actions[0])
	assert.Equal(t, []string{common.ReasonUpgradeStarted}, reasons(start))

	// instance 2 restarting: hold
	o.Status = start.Status
	o.Members[2] = member(2, mysql.MemberRecovering, "8.4.6")
	hold := Compute(c, nil, o, now)
	assert.Equal(t, ptr.To(2), hold.Status.UpgradePartition)

	o.Members[2] = member(2, mysql.MemberOnline, "8.4.6")
	step := Compute(c, nil, o, now)
	assert.Equal(t, ptr.To(1), step.Status.UpgradePartition)
	assert.Equal(t, EnsureResources{Replicas: 3, Version: "8.4.6", Partition: 1}, step.Actions[0])

	o.Status = step.Status
	o.Members[1] = member(1, mysql.MemberOnline, "8.4.6")
	step = Compute(c, nil, o, now)
	assert.Equal(t, ptr.To(0), step.Status.UpgradePartition)

	o.Status = step.Status
	o.Members[0] = member(0, mysql.MemberOnline, "8.4.6")
	done := Compute(c, nil, o, now)
	assert.Nil(t, done.Status.UpgradePartition)
	assert.Equal(t, "8.4.6", done.Status.Version)
	assert.Equal(t, []string{common.ReasonUpgradeCompleted}, reasons(done))
}

func TestCompute_UpgradeWaitsForQuorum(t *testing.T) {
	members := onlineMembers("8.0.40", 0, 1)
	members[2] = member(2, mysql.MemberOnline, "8.0.40")
	members[1] = member(1, mysql.MemberOffline, "8.0.40")
	o := Observed{
		Pods:    readyPods(0, 1, 2),
		Members: members,
		Status:  v2alpha1.ClusterStatus{Status: v2alpha1.ClusterOnline, Provisioned: []int{0, 1, 2}, Version: "8.0.40"},
	}
	plan := Compute(cluster(3, "8.4.6"), nil, o, now)
	assert.Nil(t, plan.Status.UpgradePartition)
	assert.Equal(t, EnsureResources{Replicas: 3, Version: "8.4.6", Partition: 3}, plan.Actions[0])
	assert.Contains(t, plan.Actions, Action(RejoinInstance{Index: 1}))
}

func TestCompute_Faults(t *testing.T) {
	pullBackOff := []WaitingReason{{Container: "mysql", Reason: "ImagePullBackOff"}}

	t.Run("stale faulted pod is deleted while quorum holds", func(t *testing.T) {
		pods := readyPods(0, 1)
		pods[2] = PodState{Index: 2, Name: "mycluster-2", Revision: "rev-1", Waiting: pullBackOff}
		o := Observed{
			StatefulSet: StatefulSetState{Exists: true, Replicas: 3, UpdateRevision: "rev-2"},
			Pods:        pods,
			Members:     onlineMembers("8.4.6", 0, 1),
			Status:      v2alpha1.ClusterStatus{Status: v2alpha1.ClusterOnline, Provisioned: []int{0, 1, 2}, Version: "8.4.6"},
		}
		plan := Compute(cluster(3, "8.4.6"), nil, o, now)
		assert.Equal(t, v2alpha1.ClusterOnline, plan.Status.Status)
		assert.Contains(t, plan.Status.Message, "mycluster-2")
		assert.Contains(t, plan.Actions, Action(DeletePod{Index: 2, Name: "mycluster-2", Reason: "ImagePullBackOff"}))
		assert.Equal(t, []string{common.ReasonImagePullFailed}, reasons(plan))
	})

	t.Run("fault below quorum is an error", func(t *testing.T) {
		o := Observed{
			StatefulSet: StatefulSetState{Exists: true, Replicas: 1, UpdateRevision: "rev-1"},
			Pods:        map[int]PodState{0: {Index: 0, Name: "mycluster-0", Revision: "rev-1", Waiting: pullBackOff}},
		}
		plan := Compute(cluster(1, "8.4.6"), nil, o, now)
		assert.Equal(t, v2alpha1.ClusterError, plan.Status.Status)
		assert.Equal(t, []Action{EnsureResources{Replicas: 1, Version: "8.4.6"}}, plan.Actions)

		o.Status = plan.Status
		again := Compute(cluster(1, "8.4.6"), nil, o, now)
		assert.Empty(t, again.Events)
	})
}

func TestCompute_ScaleIn(t *testing.T) {
	o := Observed{
		StatefulSet: StatefulSetState{Exists: true, Replicas: 3},
		Pods:        readyPods(0, 1, 2),
		Members:     onlineMembers("8.4.6", 0, 1, 2),
		Status:      v2alpha1.ClusterStatus{Status: v2alpha1.ClusterOnline, Provisioned: []int{0, 1, 2}, Version: "8.4.6"},
	}
	plan := Compute(cluster(1, "8.4.6"), nil, o, now)
	assert.Equal(t, []Action{
		EnsureResources{Replicas: 3, Version: "8.4.6"},
		RemoveInstance{Index: 2},
	}, plan.Actions)

	plan.MarkRemoved(2)
	plan.MarkRemoved(1)
	assert.Equal(t, []int{0}, plan.Status.Provisioned)
}

func TestCompute_RejoinAndReboot(t *testing.T) {
	base := v2alpha1.ClusterStatus{Status: v2alpha1.ClusterOnline, Provisioned: []int{0, 1, 2}, Version: "8.4.6"}

	t.Run("offline member rejoins a live group", func(t *testing.T) {
		members := onlineMembers("8.4.6", 0, 2)
		members[1] = member(1, mysql.MemberOffline, "8.4.6")
		plan := Compute(cluster(3, "8.4.6"), nil, Observed{Pods: readyPods(0, 1, 2), Members: members, Status: base}, now)
		assert.Equal(t, v2alpha1.ClusterOnline, plan.Status.Status)
		assert.Equal(t, 2, plan.Status.OnlineInstances)
		assert.Contains(t, plan.Actions, Action(RejoinInstance{Index: 1}))
	})

	t.Run("complete outage reboots from the lowest instance", func(t *testing.T) {
		members := map[int]mysql.Member{}
		for i := 0; i < 3; i++ {
			members[i] = member(i, mysql.MemberOffline, "8.4.6")
		}
		plan := Compute(cluster(3, "8.4.6"), nil, Observed{Pods: readyPods(0, 1, 2), Members: members, Status: base}, now)
		assert.Equal(t, v2alpha1.ClusterOffline, plan.Status.Status)
		assert.Equal(t, []Action{
			EnsureResources{Replicas: 3, Version: "8.4.6"},
			RebootCluster{Index: 0},
		}, plan.Actions)
	})

	t.Run("outage waits for every pod", func(t *testing.T) {
		members := map[int]mysql.Member{0: member(0, mysql.MemberOffline, "8.4.6")}
		plan := Compute(cluster(3, "8.4.6"), nil, Observed{Pods: readyPods(0), Members: members, Status: base}, now)
		assert.Equal(t, []Action{EnsureResources{Replicas: 3, Version: "8.4.6"}}, plan.Actions)
	})
}

func TestCompute_AdoptsExistingMembers(t *testing.T) {
	o := Observed{
		Pods:    readyPods(0, 1),
		Members: onlineMembers("8.4.6", 0, 1),
		Status:  v2alpha1.ClusterStatus{Status: v2alpha1.ClusterInitializing, Provisioned: []int{0}, Version: "8.4.6"},
	}
	plan := Compute(cluster(2, "8.4.6"), nil, o, now)
	assert.Equal(t, []int{0, 1}, plan.Status.Provisioned)
	assert.Equal(t, v2alpha1.ClusterOnline, plan.Status.Status)
	assert.Equal(t, []int{0}, o.Status.Provisioned, "observed status is not mutated")
}
