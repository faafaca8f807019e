package v2alpha1

import "fmt"

// Names of the objects the operator derives from a cluster.
const (
	// DataVolumeName is the volumeClaimTemplate holding each instance's datadir.
	DataVolumeName = "datadir"
	// ServerContainer runs mysqld.
	ServerContainer = "mysql"
	// SidecarContainer runs mysqlsh next to mysqld for administrative commands.
	SidecarContainer = "sidecar"
	// BackupContainer runs the backup entrypoint inside a backup Job.
	BackupContainer = "operator-backup-job"
)

// InstanceServiceName is the headless service giving each pod a stable DNS name.
func InstanceServiceName(cluster string) string {
	return cluster + "-instances"
}

// PrivateSecretName holds the operator's admin account for a cluster.
func PrivateSecretName(cluster string) string {
	return cluster + "-privsecrets"
}

// PodName is the StatefulSet pod of instance index.
func PodName(cluster string, index int) string {
	return fmt.Sprintf("%s-%d", cluster, index)
}

// DataClaimName is the PVC the StatefulSet creates for instance index.
func DataClaimName(cluster string, index int) string {
	return fmt.Sprintf("%s-%s", DataVolumeName, PodName(cluster, index))
}

// InstanceHost is the in-cluster DNS name of instance index.
func InstanceHost(namespace, cluster string, index int) string {
	return fmt.Sprintf("%s.%s.%s.svc.cluster.local", PodName(cluster, index), InstanceServiceName(cluster), namespace)
}

// BackupJobName is the Job that executes a MySQLBackup.
func BackupJobName(backup string) string {
	return backup + "-job"
}
