package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	v2alpha1 "gitlab.prplanit.com/precisionplanit/mysql-operator/api/v2alpha1"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/backup"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/common"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/events"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/metrics"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/spec"

	batchv1 "k8s.io/api/batch/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/tools/record"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"
	"sigs.k8s.io/controller-runtime/pkg/log"
)

const kindBackup = "MySQLBackup"

// BackupReconciler admits MySQLBackups and runs each in a Job.
type BackupReconciler struct {
	Client       client.Client
	Recorder     record.EventRecorder
	Lookup       spec.ClusterLookup
	Orchestrator *backup.Orchestrator
	Defaults     common.Defaults
	Active       func() bool
	Now          func() time.Time
}

// SetupWithManager registers the reconciler; Job status changes are
// routed back to the owning backup.
func (r *BackupReconciler) SetupWithManager(mgr ctrl.Manager, workers int) error {
	return ctrl.NewControllerManagedBy(mgr).
		Named("mysqlbackup").
		For(v2alpha1.NewMySQLBackup()).
		Owns(&batchv1.Job{}).
		WithOptions(controller.Options{MaxConcurrentReconciles: workers}).
		Complete(r)
}

func (r *BackupReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	obj := v2alpha1.NewMySQLBackup()
	if err := r.Client.Get(ctx, req.NamespacedName, obj); err != nil {
		if apierrors.IsNotFound(err) {
			return ctrl.Result{}, nil
		}
		metrics.RecordReconcile(kindBackup, "error")
		return ctrl.Result{}, err
	}
	if r.Active != nil && !r.Active() {
		return ctrl.Result{RequeueAfter: r.Defaults.ResyncInterval}, nil
	}

	res, err := r.reconcile(ctx, obj)
	if err != nil {
		metrics.RecordReconcile(kindBackup, "error")
		return res, err
	}
	metrics.RecordReconcile(kindBackup, "success")
	return res, nil
}

func (r *BackupReconciler) reconcile(ctx context.Context, obj *unstructured.Unstructured) (ctrl.Result, error) {
	logger := log.FromContext(ctx)
	key := client.ObjectKeyFromObject(obj)

	if obj.GetDeletionTimestamp() != nil {
		return ctrl.Result{}, r.finalize(ctx, obj)
	}
	status := v2alpha1.BackupStatusFrom(obj)
	if status.Status.Terminal() {
		return ctrl.Result{}, nil
	}

	doc, _, _ := unstructured.NestedMap(obj.Object, "spec")
	b, err := spec.ParseBackupSpec(ctx, key.Namespace, key.Name, doc, r.Lookup)
	if err != nil {
		if !common.IsTerminal(err) {
			return ctrl.Result{}, err
		}
		now := r.now()
		r.Orchestrator.Fail(ctx, key, now, now, err)
		r.event(obj, events.FromError(err, common.ReasonBackupFailed))
		return ctrl.Result{}, nil
	}

	if b.DeleteBackupData && controllerutil.AddFinalizer(obj, v2alpha1.BackupFinalizer) {
		if err := r.Client.Update(ctx, obj); err != nil {
			return ctrl.Result{}, fmt.Errorf("failed to add finalizer to %s: %w", key, err)
		}
	}
	if status.Status == "" {
		if _, err := r.Orchestrator.Transition(ctx, key, backup.Event{Kind: backup.Admit}); err != nil {
			return ctrl.Result{}, fmt.Errorf("failed to admit %s: %w", key, err)
		}
	}

	job := &batchv1.Job{}
	jobKey := types.NamespacedName{Namespace: key.Namespace, Name: v2alpha1.BackupJobName(key.Name)}
	err = r.Client.Get(ctx, jobKey, job)
	switch {
	case apierrors.IsNotFound(err):
		return ctrl.Result{}, r.createJob(ctx, obj, b)
	case err != nil:
		return ctrl.Result{}, fmt.Errorf("failed to get Job %s: %w", jobKey, err)
	}

	if msg, failed := JobFailed(job); failed {
		logger.Info("Backup Job failed", "backup", key.String(), "job", job.Name, "message", msg)
		start := r.now()
		if t, err := time.Parse(time.RFC3339, status.StartTime); err == nil {
			start = t
		}
		cause := errors.New("backup job " + job.Name + " failed: " + msg)
		r.Orchestrator.Fail(ctx, key, start, r.now(), cause)
		r.event(obj, events.Warning(common.ReasonBackupFailed, map[string]any{"error": cause.Error()}))
	}
	return ctrl.Result{}, nil
}

func (r *BackupReconciler) createJob(ctx context.Context, obj *unstructured.Unstructured, b *spec.BackupSpec) error {
	job, err := BuildBackupJob(b, r.Defaults)
	if err != nil {
		return err
	}
	if err := controllerutil.SetControllerReference(obj, job, r.Client.Scheme()); err != nil {
		return err
	}
	if err := r.Client.Create(ctx, job); err != nil && !apierrors.IsAlreadyExists(err) {
		return fmt.Errorf("failed to create Job %s/%s: %w", job.Namespace, job.Name, err)
	}
	common.InfoLog("Created backup Job %s/%s for cluster %s", job.Namespace, job.Name, b.ClusterName)
	return nil
}

// finalize deletes the backup artifact when the backup asked for it.
func (r *BackupReconciler) finalize(ctx context.Context, obj *unstructured.Unstructured) error {
	if !controllerutil.ContainsFinalizer(obj, v2alpha1.BackupFinalizer) {
		return nil
	}
	if del, _, _ := unstructured.NestedBool(obj.Object, "spec", "deleteBackupData"); del {
		if err := r.Orchestrator.DeleteData(ctx, obj); err != nil {
			return fmt.Errorf("failed to delete data of %s/%s: %w", obj.GetNamespace(), obj.GetName(), err)
		}
	}
	controllerutil.RemoveFinalizer(obj, v2alpha1.BackupFinalizer)
	return client.IgnoreNotFound(r.Client.Update(ctx, obj))
}

func (r *BackupReconciler) event(obj client.Object, ev events.Event) {
	if r.Recorder != nil {
		r.Recorder.Event(obj, ev.Type, ev.Reason, ev.Message)
	}
}

func (r *BackupReconciler) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}
