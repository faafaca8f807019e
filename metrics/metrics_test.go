package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordBackup(t *testing.T) {
	RecordBackup("ns-a", "c1", "dumpInstance", true, 90*time.Second)
	RecordBackup("ns-a", "c1", "dumpInstance", false, 3*time.Second)

	ok := BackupTotal.With(prometheus.Labels{"namespace": "ns-a", "cluster": "c1", "method": "dumpInstance", "status": "success"})
	failed := BackupTotal.With(prometheus.Labels{"namespace": "ns-a", "cluster": "c1", "method": "dumpInstance", "status": "failure"})
	assert.Equal(t, float64(1), testutil.ToFloat64(ok))
	assert.Equal(t, float64(1), testutil.ToFloat64(failed))

	labels := prometheus.Labels{"namespace": "ns-a", "cluster": "c1", "method": "dumpInstance"}
	assert.Equal(t, float64(3), testutil.ToFloat64(BackupLastDurationSeconds.With(labels)))
	assert.Greater(t, testutil.ToFloat64(BackupLastSuccessTimestamp.With(labels)), float64(0))
}

func TestRecordClusterStatus(t *testing.T) {
	RecordClusterStatus("ns-b", "c2", "OFFLINE", 1)
	RecordClusterStatus("ns-b", "c2", "ONLINE", 3)

	assert.Equal(t, float64(3), testutil.ToFloat64(ClusterOnlineInstances.With(prometheus.Labels{"namespace": "ns-b", "cluster": "c2"})))
	for _, p := range clusterPhases {
		want := float64(0)
		if p == "ONLINE" {
			want = 1
		}
		got := testutil.ToFloat64(ClusterStatus.With(prometheus.Labels{"namespace": "ns-b", "cluster": "c2", "status": p}))
		assert.Equal(t, want, got, p)
	}

	before := testutil.CollectAndCount(ClusterStatus)
	ForgetCluster("ns-b", "c2")
	assert.Equal(t, before-len(clusterPhases), testutil.CollectAndCount(ClusterStatus))
}

func TestSetPeeringActive(t *testing.T) {
	SetPeeringActive(true)
	assert.Equal(t, float64(1), testutil.ToFloat64(PeeringActive))
	SetPeeringActive(false)
	assert.Equal(t, float64(0), testutil.ToFloat64(PeeringActive))
}
