package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

const namespace = "mysql_operator"

// --- Cluster metrics ---

var (
	ClusterOnlineInstances = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "cluster_online_instances",
		Help:      "Number of ONLINE group members at the last reconcile.",
	}, []string{"namespace", "cluster"})

	ClusterStatus = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "cluster_status",
		Help:      "Current cluster phase (1=active). Labels: status=PENDING|INITIALIZING|ONLINE|OFFLINE|ERROR.",
	}, []string{"namespace", "cluster", "status"})
)

// --- Backup metrics ---

var (
	BackupTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "backup_total",
		Help:      "Total number of backup executions.",
	}, []string{"namespace", "cluster", "method", "status"})

	BackupLastDurationSeconds = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "backup_last_duration_seconds",
		Help:      "Duration of the last backup in seconds.",
	}, []string{"namespace", "cluster", "method"})

	BackupLastSuccessTimestamp = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "backup_last_success_timestamp",
		Help:      "Unix timestamp of the last successful backup.",
	}, []string{"namespace", "cluster", "method"})

	ScheduledBackupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scheduled_backups_total",
		Help:      "Total number of MySQLBackups created by backup schedules.",
	}, []string{"namespace", "cluster", "schedule", "status"})
)

// --- Operator health metrics ---

var (
	ManagedSchedules = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "managed_schedules",
		Help:      "Number of backup schedules registered with the cron scheduler.",
	})

	ControllerReconcileTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "controller_reconcile_total",
		Help:      "Total number of controller reconciliation loops.",
	}, []string{"kind", "status"})

	PeeringActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "peering_active",
		Help:      "1 when this replica holds the peering lease and acts on resources.",
	})
)

// clusterPhases mirrors the phases of an InnoDBCluster.
var clusterPhases = []string{"PENDING", "INITIALIZING", "ONLINE", "OFFLINE", "ERROR"}

func init() {
	// Served at :8080/metrics by the manager.
	metrics.Registry.MustRegister(
		// Cluster
		ClusterOnlineInstances,
		ClusterStatus,
		// Backup
		BackupTotal,
		BackupLastDurationSeconds,
		BackupLastSuccessTimestamp,
		ScheduledBackupsTotal,
		// Operator
		ManagedSchedules,
		ControllerReconcileTotal,
		PeeringActive,
	)
}

// RecordBackup records the outcome of one backup execution.
func RecordBackup(ns, cluster, method string, success bool, d time.Duration) {
	status := "failure"
	if success {
		status = "success"
	}
	BackupTotal.With(prometheus.Labels{
		"namespace": ns, "cluster": cluster, "method": method, "status": status,
	}).Inc()
	labels := prometheus.Labels{"namespace": ns, "cluster": cluster, "method": method}
	BackupLastDurationSeconds.With(labels).Set(d.Seconds())
	if success {
		BackupLastSuccessTimestamp.With(labels).Set(float64(time.Now().Unix()))
	}
}

// RecordClusterStatus publishes the phase and online count of a cluster.
func RecordClusterStatus(ns, cluster, phase string, online int) {
	ClusterOnlineInstances.With(prometheus.Labels{"namespace": ns, "cluster": cluster}).Set(float64(online))
	for _, p := range clusterPhases {
		val := float64(0)
		if p == phase {
			val = 1
		}
		ClusterStatus.With(prometheus.Labels{"namespace": ns, "cluster": cluster, "status": p}).Set(val)
	}
}

// ForgetCluster drops the series of a deleted cluster.
func ForgetCluster(ns, cluster string) {
	ClusterOnlineInstances.Delete(prometheus.Labels{"namespace": ns, "cluster": cluster})
	ClusterStatus.DeletePartialMatch(prometheus.Labels{"namespace": ns, "cluster": cluster})
}

// RecordScheduledBackup counts a MySQLBackup created, or not, by a schedule tick.
func RecordScheduledBackup(ns, cluster, schedule string, success bool) {
	status := "failure"
	if success {
		status = "success"
	}
	ScheduledBackupsTotal.With(prometheus.Labels{
		"namespace": ns, "cluster": cluster, "schedule": schedule, "status": status,
	}).Inc()
}

// RecordManagedSchedules updates the number of registered schedules.
func RecordManagedSchedules(count int) {
	ManagedSchedules.Set(float64(count))
}

// RecordReconcile increments the reconcile counter.
func RecordReconcile(kind, status string) {
	ControllerReconcileTotal.With(prometheus.Labels{"kind": kind, "status": status}).Inc()
}

// SetPeeringActive publishes whether this replica is the active peer.
func SetPeeringActive(active bool) {
	if active {
		PeeringActive.Set(1)
		return
	}
	PeeringActive.Set(0)
}
