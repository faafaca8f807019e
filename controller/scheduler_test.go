package controller

import (
	"context"
	"strings"
	"testing"
	"time"

	v2alpha1 "gitlab.prplanit.com/precisionplanit/mysql-operator/api/v2alpha1"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/client-go/tools/record"
)

func scheduledClusterDoc(schedules ...any) map[string]any {
	return map[string]any{
		"secretName":      "mypwds",
		"backupProfiles":  []any{pvcProfile("nightly")},
		"backupSchedules": schedules,
	}
}

func TestScheduledBackupName(t *testing.T) {
	at := time.Date(2026, 3, 1, 2, 30, 5, 0, time.FixedZone("CET", 3600))
	assert.Equal(t, "mycluster-daily-20260301013005", ScheduledBackupName("mycluster", "daily", at))
}

func TestSchedulerRegister(t *testing.T) {
	s := NewScheduler(newFakeClient(t, nil), nil)
	c := parseCluster(t, "mycluster", scheduledClusterDoc(
		map[string]any{"name": "daily", "schedule": "0 2 * * *", "backupProfileName": "nightly"},
		map[string]any{"name": "hourly", "schedule": "@hourly", "backupProfileName": "nightly", "enabled": false},
	))

	s.Register("default/mycluster", c)
	assert.Equal(t, 1, s.ManagedCount())
	assert.Equal(t, []string{"daily"}, s.Schedules("default/mycluster"))
	entries := len(s.cron.Entries())
	assert.Equal(t, 1, entries)

	s.Register("default/mycluster", c)
	assert.Len(t, s.cron.Entries(), entries, "unchanged schedules keep their entries")

	c2 := parseCluster(t, "mycluster", scheduledClusterDoc(
		map[string]any{"name": "daily", "schedule": "30 3 * * *", "backupProfileName": "nightly"},
		map[string]any{"name": "hourly", "schedule": "@hourly", "backupProfileName": "nightly"},
	))
	s.Register("default/mycluster", c2)
	assert.Equal(t, []string{"daily", "hourly"}, s.Schedules("default/mycluster"))
	assert.Len(t, s.cron.Entries(), 2)

	s.Deregister("default/mycluster")
	assert.Zero(t, s.ManagedCount())
	assert.Empty(t, s.cron.Entries())
	assert.Nil(t, s.Schedules("default/mycluster"))
}

func TestSchedulerRegisterWithoutSchedules(t *testing.T) {
	s := NewScheduler(newFakeClient(t, nil), nil)
	c := parseCluster(t, "mycluster", scheduledClusterDoc(
		map[string]any{"name": "daily", "schedule": "0 2 * * *", "backupProfileName": "nightly"},
	))
	s.Register("default/mycluster", c)
	require.Equal(t, 1, s.ManagedCount())

	s.Register("default/mycluster", parseCluster(t, "mycluster", map[string]any{"secretName": "mypwds"}))
	assert.Zero(t, s.ManagedCount())
	assert.Empty(t, s.cron.Entries())
}

func TestRunScheduleByProfileName(t *testing.T) {
	cluster := newCluster("mycluster", scheduledClusterDoc(
		map[string]any{"name": "daily", "schedule": "0 2 * * *", "backupProfileName": "nightly", "deleteBackupData": true},
	), nil)
	cl := newFakeClient(t, nil, cluster)
	rec := record.NewFakeRecorder(5)
	s := NewScheduler(cl, rec)
	s.Now = func() time.Time { return t0 }

	name, err := s.RunSchedule(context.Background(), testNamespace, "mycluster", "daily")
	require.NoError(t, err)
	assert.Equal(t, "mycluster-daily-20260301020000", name)

	backup := v2alpha1.NewMySQLBackup()
	require.NoError(t, cl.Get(context.Background(), clusterKey(name), backup))
	assert.Equal(t, map[string]string{
		v2alpha1.LabelCluster:   "mycluster",
		v2alpha1.LabelSchedule:  "daily",
		v2alpha1.LabelCreatedBy: v2alpha1.ManagedByValue,
	}, backup.GetLabels())
	specDoc, _, _ := unstructured.NestedMap(backup.Object, "spec")
	want := map[string]any{"clusterName": "mycluster", "backupProfileName": "nightly", "deleteBackupData": true}
	if diff := cmp.Diff(want, specDoc); diff != "" {
		t.Errorf("backup spec mismatch (-want +got):\n%s", diff)
	}

	evs := drain(rec)
	require.Len(t, evs, 1)
	assert.Equal(t, "Normal Scheduled Created backup "+name+" for schedule daily", evs[0])
}

func TestRunScheduleCopiesEmbeddedProfile(t *testing.T) {
	cluster := newCluster("mycluster", scheduledClusterDoc(
		map[string]any{"name": "weekly", "schedule": "0 4 * * 0", "backupProfile": pvcProfile("adhoc")},
	), nil)
	cl := newFakeClient(t, nil, cluster)
	s := NewScheduler(cl, nil)
	s.Now = func() time.Time { return t0 }

	name, err := s.RunSchedule(context.Background(), testNamespace, "mycluster", "weekly")
	require.NoError(t, err)

	backup := v2alpha1.NewMySQLBackup()
	require.NoError(t, cl.Get(context.Background(), clusterKey(name), backup))
	claim, _, _ := unstructured.NestedString(backup.Object, "spec", "backupProfile", "dumpInstance", "storage", "persistentVolumeClaim", "claimName")
	assert.Equal(t, "backups", claim)
	_, found, _ := unstructured.NestedFieldNoCopy(backup.Object, "spec", "deleteBackupData")
	assert.False(t, found)
}

func TestRunScheduleErrors(t *testing.T) {
	cluster := newCluster("mycluster", scheduledClusterDoc(
		map[string]any{"name": "daily", "schedule": "0 2 * * *", "backupProfileName": "nightly"},
	), nil)
	cl := newFakeClient(t, nil, cluster)
	s := NewScheduler(cl, nil)
	s.Now = func() time.Time { return t0 }
	ctx := context.Background()

	_, err := s.RunSchedule(ctx, testNamespace, "mycluster", "gone")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schedule gone no longer exists")

	_, err = s.RunSchedule(ctx, testNamespace, "absent", "daily")
	require.Error(t, err)

	_, err = s.RunSchedule(ctx, testNamespace, "mycluster", "daily")
	require.NoError(t, err)
	_, err = s.RunSchedule(ctx, testNamespace, "mycluster", "daily")
	require.Error(t, err, "a second tick in the same second collides")
	assert.True(t, strings.Contains(err.Error(), "already exists"), err.Error())
}

func TestTickSkipsOnStandby(t *testing.T) {
	cluster := newCluster("mycluster", scheduledClusterDoc(
		map[string]any{"name": "daily", "schedule": "0 2 * * *", "backupProfileName": "nightly"},
	), nil)
	cl := newFakeClient(t, nil, cluster)
	s := NewScheduler(cl, nil)
	s.Now = func() time.Time { return t0 }
	s.Active = func() bool { return false }

	s.tick(testNamespace, "mycluster", "daily")

	list := v2alpha1.NewMySQLBackupList()
	require.NoError(t, cl.List(context.Background(), list))
	assert.Empty(t, list.Items)

	s.Active = func() bool { return true }
	s.tick(testNamespace, "mycluster", "daily")
	require.NoError(t, cl.List(context.Background(), list))
	assert.Len(t, list.Items, 1)
}
