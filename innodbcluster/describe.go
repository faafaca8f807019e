package innodbcluster

import "fmt"

func (a EnsureResources) Describe() string {
	return fmt.Sprintf("ensure resources (replicas=%d version=%s partition=%d)", a.Replicas, a.Version, a.Partition)
}

func (a CreateCluster) Describe() string {
	return fmt.Sprintf("create cluster on instance %d (seed=%s)", a.Index, a.Seed.Method())
}

func (a JoinInstance) Describe() string {
	return fmt.Sprintf("join instance %d (seed=%s)", a.Index, a.Seed.Method())
}

func (a RejoinInstance) Describe() string { return fmt.Sprintf("rejoin instance %d", a.Index) }
func (a RebootCluster) Describe() string  { return fmt.Sprintf("reboot cluster from instance %d", a.Index) }
func (a RemoveInstance) Describe() string { return fmt.Sprintf("remove instance %d", a.Index) }
func (a DeletePod) Describe() string      { return fmt.Sprintf("delete pod %s (%s)", a.Name, a.Reason) }
func (Finalize) Describe() string         { return "finalize" }
