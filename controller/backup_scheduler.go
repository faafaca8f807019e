package controller

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	v2alpha1 "gitlab.prplanit.com/precisionplanit/mysql-operator/api/v2alpha1"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/common"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/events"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/metrics"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
)

const scheduleTimeout = time.Minute

// tick is called by cron for one schedule of a cluster.
func (s *Scheduler) tick(namespace, cluster, schedule string) {
	log := slog.With("cluster", namespace+"/"+cluster, "schedule", schedule)
	if s.Active != nil && !s.Active() {
		log.Debug("Standby replica, skipping scheduled backup")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), scheduleTimeout)
	defer cancel()

	name, err := s.RunSchedule(ctx, namespace, cluster, schedule)
	metrics.RecordScheduledBackup(namespace, cluster, schedule, err == nil)
	if err != nil {
		log.Error("Failed to create scheduled backup", "error", err)
		return
	}
	log.Info("Created scheduled backup", "backup", name)
}

// RunSchedule creates the MySQLBackup for one tick of schedule. The
// schedule is re-read from the cluster so the backup carries its current
// profile in wire form.
func (s *Scheduler) RunSchedule(ctx context.Context, namespace, cluster, schedule string) (string, error) {
	obj := v2alpha1.NewInnoDBCluster()
	if err := s.client.Get(ctx, types.NamespacedName{Namespace: namespace, Name: cluster}, obj); err != nil {
		return "", fmt.Errorf("failed to get InnoDBCluster %s/%s: %w", namespace, cluster, err)
	}
	entry, err := scheduleEntry(obj, schedule)
	if err != nil {
		return "", err
	}

	backupSpec := map[string]any{"clusterName": cluster}
	if v, ok := entry["deleteBackupData"].(bool); ok {
		backupSpec["deleteBackupData"] = v
	}
	switch {
	case entry["backupProfileName"] != nil:
		backupSpec["backupProfileName"] = entry["backupProfileName"]
	case entry["backupProfile"] != nil:
		backupSpec["backupProfile"] = runtime.DeepCopyJSONValue(entry["backupProfile"])
	default:
		return "", common.NewSpecError("spec.backupSchedules[%s]: one of backupProfileName or backupProfile is required", schedule)
	}

	name := ScheduledBackupName(cluster, schedule, s.now())
	backup := v2alpha1.NewMySQLBackup()
	backup.SetNamespace(namespace)
	backup.SetName(name)
	backup.SetLabels(map[string]string{
		v2alpha1.LabelCluster:   cluster,
		v2alpha1.LabelSchedule:  schedule,
		v2alpha1.LabelCreatedBy: v2alpha1.ManagedByValue,
	})
	backup.Object["spec"] = backupSpec
	if err := s.client.Create(ctx, backup); err != nil {
		return "", fmt.Errorf("failed to create MySQLBackup %s/%s: %w", namespace, name, err)
	}

	if s.recorder != nil {
		ev := events.Normal(common.ReasonScheduled, map[string]any{"backup": name, "schedule": schedule})
		s.recorder.Event(obj, ev.Type, ev.Reason, ev.Message)
	}
	return name, nil
}

func scheduleEntry(obj *unstructured.Unstructured, schedule string) (map[string]any, error) {
	list, _, _ := unstructured.NestedSlice(obj.Object, "spec", "backupSchedules")
	for _, item := range list {
		entry, ok := item.(map[string]any)
		if ok && entry["name"] == schedule {
			return entry, nil
		}
	}
	return nil, fmt.Errorf("schedule %s no longer exists on %s/%s", schedule, obj.GetNamespace(), obj.GetName())
}

// ScheduledBackupName names the backup created at t for schedule.
func ScheduledBackupName(cluster, schedule string, t time.Time) string {
	return fmt.Sprintf("%s-%s-%s", cluster, schedule, t.UTC().Format("20060102150405"))
}
