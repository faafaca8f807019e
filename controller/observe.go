package controller

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	v2alpha1 "gitlab.prplanit.com/precisionplanit/mysql-operator/api/v2alpha1"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/common"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/innodbcluster"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/mysql"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/spec"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

// MemberProber reports the group membership of one instance.
type MemberProber interface {
	Probe(ctx context.Context, host string) (mysql.Status, error)
}

// ProberFactory builds a prober authenticating with creds.
type ProberFactory func(creds mysql.Credentials) MemberProber

// SQLProbers connects to instances over the MySQL protocol.
func SQLProbers(creds mysql.Credentials) MemberProber {
	return mysql.NewProber(creds)
}

// ObserveStatefulSet reads the instance StatefulSet of c.
func ObserveStatefulSet(ctx context.Context, cl client.Client, ns, name string) (innodbcluster.StatefulSetState, error) {
	sts := &appsv1.StatefulSet{}
	err := cl.Get(ctx, types.NamespacedName{Namespace: ns, Name: name}, sts)
	if apierrors.IsNotFound(err) {
		return innodbcluster.StatefulSetState{}, nil
	}
	if err != nil {
		return innodbcluster.StatefulSetState{}, fmt.Errorf("failed to get StatefulSet %s/%s: %w", ns, name, err)
	}
	state := innodbcluster.StatefulSetState{
		Exists:         true,
		Replicas:       int(ptr.Deref(sts.Spec.Replicas, 0)),
		UpdateRevision: sts.Status.UpdateRevision,
	}
	if ru := sts.Spec.UpdateStrategy.RollingUpdate; ru != nil {
		state.Partition = int(ptr.Deref(ru.Partition, 0))
	}
	return state, nil
}

// ObservePods lists the server pods of a cluster keyed by instance index.
func ObservePods(ctx context.Context, cl client.Client, ns, name string) (map[int]innodbcluster.PodState, error) {
	list := &corev1.PodList{}
	if err := cl.List(ctx, list, client.InNamespace(ns), client.MatchingLabels(v2alpha1.ClusterSelector(name))); err != nil {
		return nil, fmt.Errorf("failed to list pods of %s/%s: %w", ns, name, err)
	}
	pods := map[int]innodbcluster.PodState{}
	for i := range list.Items {
		idx, ok := podIndex(name, list.Items[i].Name)
		if !ok {
			continue
		}
		pods[idx] = PodStateOf(idx, &list.Items[i])
	}
	return pods, nil
}

func podIndex(cluster, pod string) (int, bool) {
	suffix, ok := strings.CutPrefix(pod, cluster+"-")
	if !ok {
		return 0, false
	}
	idx, err := strconv.Atoi(suffix)
	if err != nil || idx < 0 {
		return 0, false
	}
	return idx, true
}

// PodStateOf condenses a pod into what the planner reads.
func PodStateOf(idx int, pod *corev1.Pod) innodbcluster.PodState {
	s := innodbcluster.PodState{
		Index:    idx,
		Name:     pod.Name,
		Phase:    pod.Status.Phase,
		Deleting: pod.DeletionTimestamp != nil,
		Revision: pod.Labels[appsv1.ControllerRevisionHashLabelKey],
	}
	for _, cond := range pod.Status.Conditions {
		if cond.Type == corev1.PodReady {
			s.Ready = cond.Status == corev1.ConditionTrue
		}
	}
	statuses := append(append([]corev1.ContainerStatus(nil), pod.Status.InitContainerStatuses...), pod.Status.ContainerStatuses...)
	for _, cs := range statuses {
		if cs.RestartCount > s.RestartCount {
			s.RestartCount = cs.RestartCount
		}
		if w := cs.State.Waiting; w != nil && w.Reason != "" {
			s.Waiting = append(s.Waiting, innodbcluster.WaitingReason{Container: cs.Name, Reason: w.Reason, Message: w.Message})
		}
	}
	return s
}

// ObserveMembers probes every running pod. Pods that cannot be queried are
// UNREACHABLE.
func ObserveMembers(ctx context.Context, namespace, cluster string, pods map[int]innodbcluster.PodState, prober MemberProber) map[int]mysql.Member {
	members := map[int]mysql.Member{}
	for idx, pod := range pods {
		m := mysql.Member{
			Index: idx,
			Pod:   pod.Name,
			Host:  v2alpha1.InstanceHost(namespace, cluster, idx),
			State: mysql.MemberUnreachable,
		}
		if pod.Phase == corev1.PodRunning && !pod.Deleting {
			st, err := prober.Probe(ctx, m.Host)
			if err != nil {
				common.DebugLog("Probe of %s failed: %v", m.Host, err)
			} else {
				m.State, m.Role, m.Version = st.State, st.Role, st.Version
			}
		}
		members[idx] = m
	}
	return members
}

// PodMembers observes the members of a cluster from its pods, probing
// with the cluster's admin account.
type PodMembers struct {
	Client    client.Client
	NewProber ProberFactory
}

func (p *PodMembers) Members(ctx context.Context, c *spec.ClusterSpec) ([]mysql.Member, mysql.Credentials, error) {
	acc, err := LoadAccounts(ctx, p.Client, c)
	if err != nil {
		return nil, mysql.Credentials{}, err
	}
	pods, err := ObservePods(ctx, p.Client, c.Namespace, c.Name)
	if err != nil {
		return nil, mysql.Credentials{}, err
	}
	factory := p.NewProber
	if factory == nil {
		factory = SQLProbers
	}
	byIndex := ObserveMembers(ctx, c.Namespace, c.Name, pods, factory(acc.Admin))
	members := make([]mysql.Member, 0, len(byIndex))
	for _, m := range byIndex {
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool { return members[i].Index < members[j].Index })
	return members, acc.Admin, nil
}
