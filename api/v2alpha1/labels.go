package v2alpha1

// Labels set on every object the operator creates for a cluster.
const (
	LabelName      = "app.kubernetes.io/name"
	LabelInstance  = "app.kubernetes.io/instance"
	LabelComponent = "app.kubernetes.io/component"
	LabelManagedBy = "app.kubernetes.io/managed-by"
	LabelCreatedBy = "app.kubernetes.io/created-by"

	// LabelCluster selects the pods of one InnoDBCluster.
	LabelCluster = "mysql.oracle.com/cluster"
	// LabelBackup marks Jobs and snapshots created for one MySQLBackup.
	LabelBackup = "mysql.oracle.com/backup"
	// LabelSchedule marks MySQLBackups created by a backup schedule.
	LabelSchedule = "mysql.oracle.com/backup-schedule"

	ManagedByValue = "mysql-operator"
)

// Annotations written by the operator.
const (
	// AnnotationPeeringPriority records the priority of the current holder
	// on the peering Lease.
	AnnotationPeeringPriority = "mysql.oracle.com/peering-priority"
)

// Finalizers held by the operator until cleanup completes.
const (
	ClusterFinalizer = "mysql.oracle.com/cluster"
	BackupFinalizer  = "mysql.oracle.com/backup-data"
)

// Component names.
const (
	ComponentServer = "database"
	ComponentBackup = "backup"
)

// ClusterLabels returns the standard labels for objects owned by a cluster.
func ClusterLabels(cluster, component string) map[string]string {
	return map[string]string{
		LabelName:      "mysql-innodbcluster",
		LabelInstance:  cluster,
		LabelComponent: component,
		LabelManagedBy: ManagedByValue,
		LabelCreatedBy: ManagedByValue,
		LabelCluster:   cluster,
	}
}

// ClusterSelector returns the pod selector for a cluster's server pods.
func ClusterSelector(cluster string) map[string]string {
	return map[string]string{
		LabelCluster:   cluster,
		LabelComponent: ComponentServer,
	}
}
