package v2alpha1

import (
	"sort"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
)

// ClusterPhase is the aggregate state of an InnoDBCluster.
type ClusterPhase string

const (
	ClusterPending      ClusterPhase = "PENDING"
	ClusterInitializing ClusterPhase = "INITIALIZING"
	ClusterOnline       ClusterPhase = "ONLINE"
	ClusterOffline      ClusterPhase = "OFFLINE"
	ClusterError        ClusterPhase = "ERROR"
)

// ClusterStatus is the persisted status of an InnoDBCluster.
type ClusterStatus struct {
	Status          ClusterPhase
	OnlineInstances int
	Message         string
	LastProbeTime   string
	CreateTime      string
	// Provisioned lists the instance indexes whose data has been seeded.
	Provisioned []int
	// Version is the version every provisioned instance runs.
	Version string
	// UpgradePartition is the StatefulSet partition while a rolling upgrade
	// is in progress, nil otherwise.
	UpgradePartition *int
}

// ClusterStatusFrom reads the status stanza of an InnoDBCluster.
func ClusterStatusFrom(obj *unstructured.Unstructured) ClusterStatus {
	var s ClusterStatus
	status, ok := obj.Object["status"].(map[string]any)
	if !ok {
		return s
	}
	if c, ok := status["cluster"].(map[string]any); ok {
		s.Status = ClusterPhase(asString(c["status"]))
		if n, ok := AsInt64(c["onlineInstances"]); ok {
			s.OnlineInstances = int(n)
		}
		s.Message = asString(c["message"])
		s.LastProbeTime = asString(c["lastProbeTime"])
	}
	s.CreateTime = asString(status["createTime"])
	s.Version = asString(status["version"])
	if list, ok := status["provisioned"].([]any); ok {
		for _, v := range list {
			if n, ok := AsInt64(v); ok {
				s.Provisioned = append(s.Provisioned, int(n))
			}
		}
		sort.Ints(s.Provisioned)
	}
	if n, ok := AsInt64(status["upgradePartition"]); ok {
		p := int(n)
		s.UpgradePartition = &p
	}
	return s
}

// ToMap renders the status in its wire form.
func (s ClusterStatus) ToMap() map[string]any {
	cluster := map[string]any{
		"status":          string(s.Status),
		"onlineInstances": int64(s.OnlineInstances),
	}
	if s.Message != "" {
		cluster["message"] = s.Message
	}
	if s.LastProbeTime != "" {
		cluster["lastProbeTime"] = s.LastProbeTime
	}
	out := map[string]any{"cluster": cluster}
	if s.CreateTime != "" {
		out["createTime"] = s.CreateTime
	}
	if s.Version != "" {
		out["version"] = s.Version
	}
	if len(s.Provisioned) > 0 {
		list := make([]any, 0, len(s.Provisioned))
		for _, i := range s.Provisioned {
			list = append(list, int64(i))
		}
		out["provisioned"] = list
	}
	if s.UpgradePartition != nil {
		out["upgradePartition"] = int64(*s.UpgradePartition)
	}
	return out
}

// IsProvisioned reports whether instance index has been seeded.
func (s ClusterStatus) IsProvisioned(index int) bool {
	for _, i := range s.Provisioned {
		if i == index {
			return true
		}
	}
	return false
}

// BackupPhase is the lifecycle state of a MySQLBackup.
type BackupPhase string

const (
	BackupPending   BackupPhase = "Pending"
	BackupRunning   BackupPhase = "Running"
	BackupCompleted BackupPhase = "Completed"
	BackupError     BackupPhase = "Error"
)

// Terminal reports whether no further transition is allowed from p.
func (p BackupPhase) Terminal() bool {
	return p == BackupCompleted || p == BackupError
}

// BackupStatus is the persisted status of a MySQLBackup. Extra carries
// engine-reported metadata merged in on success.
type BackupStatus struct {
	Status         BackupPhase
	StartTime      string
	CompletionTime string
	ElapsedTime    string
	Output         string
	Message        string
	Extra          map[string]any
}

var backupStatusFields = map[string]bool{
	"status": true, "startTime": true, "completionTime": true,
	"elapsedTime": true, "output": true, "message": true,
}

// BackupStatusFrom reads the status stanza of a MySQLBackup.
func BackupStatusFrom(obj *unstructured.Unstructured) BackupStatus {
	status, _ := obj.Object["status"].(map[string]any)
	return BackupStatusFromMap(status)
}

// BackupStatusFromMap parses a backup status in wire form. Unknown keys
// are kept in Extra.
func BackupStatusFromMap(m map[string]any) BackupStatus {
	s := BackupStatus{
		Status:         BackupPhase(asString(m["status"])),
		StartTime:      asString(m["startTime"]),
		CompletionTime: asString(m["completionTime"]),
		ElapsedTime:    asString(m["elapsedTime"]),
		Output:         asString(m["output"]),
		Message:        asString(m["message"]),
	}
	for k, v := range m {
		if backupStatusFields[k] {
			continue
		}
		if s.Extra == nil {
			s.Extra = map[string]any{}
		}
		s.Extra[k] = v
	}
	return s
}

// ToMap renders the status in its wire form.
func (s BackupStatus) ToMap() map[string]any {
	out := map[string]any{}
	for k, v := range s.Extra {
		out[k] = v
	}
	set := func(k, v string) {
		if v != "" {
			out[k] = v
		}
	}
	set("status", string(s.Status))
	set("startTime", s.StartTime)
	set("completionTime", s.CompletionTime)
	set("elapsedTime", s.ElapsedTime)
	set("output", s.Output)
	set("message", s.Message)
	return out
}

// AsInt64 converts the numeric forms found in decoded documents.
func AsInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n != float64(int64(n)) {
			return 0, false
		}
		return int64(n), true
	}
	return 0, false
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
