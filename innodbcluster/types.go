// Package innodbcluster computes, from the desired spec and the observed
// state of a cluster, the actions that move it forward and its aggregate
// status. It performs no I/O.
package innodbcluster

import (
	v2alpha1 "gitlab.prplanit.com/precisionplanit/mysql-operator/api/v2alpha1"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/events"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/mysql"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/provision"

	corev1 "k8s.io/api/core/v1"
)

// PodState is the observed state of one instance pod.
type PodState struct {
	Index    int
	Name     string
	Phase    corev1.PodPhase
	Ready    bool
	Deleting bool
	// Revision is the controller-revision-hash the pod was created from.
	Revision string
	// Waiting holds the waiting reasons of init and main containers.
	Waiting      []WaitingReason
	RestartCount int32
}

// WaitingReason is one container's waiting reason and message.
type WaitingReason struct {
	Container string
	Reason    string
	Message   string
}

// StatefulSetState is the observed state of the instance StatefulSet.
type StatefulSetState struct {
	Exists         bool
	Replicas       int
	Partition      int
	UpdateRevision string
}

// Observed is everything the planner reads about a cluster.
type Observed struct {
	Deleting    bool
	StatefulSet StatefulSetState
	// Pods is keyed by instance index.
	Pods map[int]PodState
	// Members is keyed by instance index.
	Members map[int]mysql.Member
	Status  v2alpha1.ClusterStatus
}

// Action is one externally visible step the controller executes.
type Action interface {
	Describe() string
}

// EnsureResources creates or updates the service, secrets and StatefulSet.
type EnsureResources struct {
	Replicas  int
	Version   string
	Partition int
}

// CreateCluster seeds instance Index and creates the replication group on it.
type CreateCluster struct {
	Index int
	Seed  provision.Seed
}

// JoinInstance seeds instance Index and adds it to the group.
type JoinInstance struct {
	Index int
	Seed  provision.Seed
}

// RejoinInstance returns an already provisioned instance to the group.
type RejoinInstance struct {
	Index int
}

// RebootCluster restores the group from a complete outage on instance Index.
type RebootCluster struct {
	Index int
}

// RemoveInstance removes instance Index from the group before scale-in.
type RemoveInstance struct {
	Index int
}

// DeletePod deletes a faulted pod so it is recreated from the current template.
type DeletePod struct {
	Index  int
	Name   string
	Reason string
}

// Finalize removes owned resources and releases the finalizer.
type Finalize struct{}

// Plan is the outcome of one planning pass.
type Plan struct {
	Status  v2alpha1.ClusterStatus
	Actions []Action
	Events  []events.Event
}
