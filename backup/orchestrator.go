package backup

import (
	"context"
	"fmt"
	"time"

	v2alpha1 "gitlab.prplanit.com/precisionplanit/mysql-operator/api/v2alpha1"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/common"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/engine"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/events"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/metrics"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/mysql"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/shell"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/spec"

	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/tools/record"
	"k8s.io/client-go/util/retry"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

// MemberSource observes the members of a cluster and the credentials of
// the operator's admin account on it.
type MemberSource interface {
	Members(ctx context.Context, c *spec.ClusterSpec) ([]mysql.Member, mysql.Credentials, error)
}

// Orchestrator executes MySQLBackups and records their lifecycle.
type Orchestrator struct {
	Client   client.Client
	Lookup   spec.ClusterLookup
	Members  MemberSource
	Runner   shell.Runner
	Recorder record.EventRecorder
	Now      func() time.Time
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// Transition applies ev to the stored status of backup key. Conflicting
// writers are retried against a fresh read; the patch carries the read
// resourceVersion so a concurrent update is never overwritten.
func (o *Orchestrator) Transition(ctx context.Context, key types.NamespacedName, ev Event) (v2alpha1.BackupStatus, error) {
	var result v2alpha1.BackupStatus
	err := retry.RetryOnConflict(retry.DefaultRetry, func() error {
		obj := v2alpha1.NewMySQLBackup()
		if err := o.Client.Get(ctx, key, obj); err != nil {
			return err
		}
		next, changed, err := Apply(v2alpha1.BackupStatusFrom(obj), ev)
		if err != nil {
			return err
		}
		result = next
		if !changed {
			return nil
		}
		return PatchStatus(ctx, o.Client, obj, next)
	})
	return result, err
}

// PatchStatus writes s as the status of obj with an optimistic lock.
func PatchStatus(ctx context.Context, c client.Client, obj *unstructured.Unstructured, s v2alpha1.BackupStatus) error {
	orig := obj.DeepCopy()
	obj.Object["status"] = s.ToMap()
	return c.Status().Patch(ctx, obj, client.MergeFromWithOptions(orig, client.MergeFromWithOptimisticLock{}))
}

// Start moves the backup to Running. Repeating it with the same arguments
// is a no-op.
func (o *Orchestrator) Start(ctx context.Context, key types.NamespacedName, output string, start time.Time) error {
	_, err := o.Transition(ctx, key, Event{Kind: Start, Output: output, StartTime: start})
	return err
}

// Succeed moves the backup to Completed and merges info into its status.
func (o *Orchestrator) Succeed(ctx context.Context, key types.NamespacedName, start, end time.Time, info map[string]any) error {
	_, err := o.Transition(ctx, key, Event{Kind: Succeed, StartTime: start, EndTime: end, Info: info})
	return err
}

// Fail moves the backup to Error with cause as its message. The attempt
// has already concluded, so a failure to record it is only logged.
func (o *Orchestrator) Fail(ctx context.Context, key types.NamespacedName, start, end time.Time, cause error) {
	if _, err := o.Transition(ctx, key, Event{Kind: Fail, StartTime: start, EndTime: end, Err: cause}); err != nil {
		common.ErrorLog("Backup %s: failed to record failure %q: %v", key, cause, err)
	}
}

// Run performs one execution of backup key: validate, resolve the profile
// against the live cluster, start, dispatch once to the backup method and
// record the outcome. A backup already finished is left untouched.
func (o *Orchestrator) Run(ctx context.Context, key types.NamespacedName) error {
	obj := v2alpha1.NewMySQLBackup()
	if err := o.Client.Get(ctx, key, obj); err != nil {
		return fmt.Errorf("failed to get MySQLBackup %s: %w", key, err)
	}
	cur := v2alpha1.BackupStatusFrom(obj)
	if cur.Status.Terminal() {
		common.InfoLog("Backup %s already %s", key, cur.Status)
		return nil
	}

	start, output := o.now(), ""
	if cur.Status == v2alpha1.BackupRunning && cur.Output != "" {
		if t, err := time.Parse(time.RFC3339, cur.StartTime); err == nil {
			start, output = t, cur.Output
		}
	}
	if output == "" {
		output = ArtifactName(key.Name, start)
	}

	doc, _, _ := unstructured.NestedMap(obj.Object, "spec")
	b, err := spec.ParseBackupSpec(ctx, key.Namespace, key.Name, doc, o.Lookup)
	if err != nil {
		return o.abort(ctx, obj, start, err)
	}
	// the profile may have changed on the cluster since admission
	cluster, err := spec.ResolveCluster(ctx, o.Lookup, key.Namespace, b.ClusterName)
	if err != nil {
		return o.abort(ctx, obj, start, err)
	}
	profile, err := cluster.ResolveProfile(b.Source)
	if err != nil {
		return o.abort(ctx, obj, start, err)
	}
	method, err := engine.Get(profile.Method.Method())
	if err != nil {
		return o.abort(ctx, obj, start, err)
	}

	if err := o.Start(ctx, key, output, start); err != nil {
		return fmt.Errorf("failed to start backup %s: %w", key, err)
	}
	o.event(obj, events.Normal(common.ReasonBackupStarted, map[string]any{"method": method.Name(), "output": output}))

	req := &engine.Request{
		Namespace: key.Namespace,
		Backup:    key.Name,
		Cluster:   cluster,
		Profile:   profile,
		Output:    output,
		Client:    o.Client,
		Runner:    o.Runner,
	}
	info, err := o.execute(ctx, method, req)
	end := o.now()
	metrics.RecordBackup(key.Namespace, b.ClusterName, method.Name(), err == nil, end.Sub(start))
	if err != nil {
		o.Fail(ctx, key, start, end, err)
		o.event(obj, events.Warning(common.ReasonBackupFailed, map[string]any{"error": err.Error()}))
		return err
	}
	if err := o.Succeed(ctx, key, start, end, info); err != nil {
		return fmt.Errorf("backup %s finished but its status was not recorded: %w", key, err)
	}
	o.event(obj, events.Normal(common.ReasonBackupCompleted, map[string]any{"output": output, "elapsed": ElapsedTime(start, end)}))
	return nil
}

func (o *Orchestrator) execute(ctx context.Context, method engine.Method, req *engine.Request) (map[string]any, error) {
	if o.Members != nil {
		members, creds, err := o.Members.Members(ctx, req.Cluster)
		if err != nil {
			return nil, err
		}
		req.Members, req.Credentials = members, creds
	}
	return method.Backup(ctx, req)
}

// abort fails a backup that cannot run. Spec and reference errors are
// surfaced with their own reason.
func (o *Orchestrator) abort(ctx context.Context, obj *unstructured.Unstructured, start time.Time, err error) error {
	key := client.ObjectKeyFromObject(obj)
	o.Fail(ctx, key, start, o.now(), err)
	o.event(obj, events.FromError(err, common.ReasonBackupFailed))
	return err
}

// DeleteData removes the artifact of a finished backup through its
// method. When the cluster no longer resolves, the embedded profile or the
// method recorded in the status is used instead; backups with neither are
// skipped.
func (o *Orchestrator) DeleteData(ctx context.Context, obj *unstructured.Unstructured) error {
	status := v2alpha1.BackupStatusFrom(obj)
	if status.Output == "" {
		return nil
	}
	doc, _, _ := unstructured.NestedMap(obj.Object, "spec")
	var profile *spec.BackupProfile
	methodName := ""
	b, err := spec.ParseBackupSpec(ctx, obj.GetNamespace(), obj.GetName(), doc, o.Lookup)
	switch {
	case err == nil:
		profile, methodName = b.Profile, b.Profile.Method.Method()
	case common.IsTerminal(err):
		profile, methodName = recordedMethod(doc, status)
		if methodName == "" {
			common.WarnLog("Backup %s/%s: not deleting %s: %s", obj.GetNamespace(), obj.GetName(), status.Output, common.MessageOf(err))
			return nil
		}
	default:
		return err
	}

	method, err := engine.Get(methodName)
	if err != nil {
		return err
	}
	return method.Delete(ctx, &engine.Request{
		Namespace: obj.GetNamespace(),
		Backup:    obj.GetName(),
		Profile:   profile,
		Output:    status.Output,
		Client:    o.Client,
	})
}

// recordedMethod recovers the method of a backup without its cluster.
func recordedMethod(doc map[string]any, status v2alpha1.BackupStatus) (*spec.BackupProfile, string) {
	if src, err := spec.ParseProfileSource(doc); err == nil {
		if e, ok := src.(spec.EmbeddedProfile); ok {
			return e.Profile, e.Profile.Method.Method()
		}
	}
	if m, ok := status.Extra["method"].(string); ok {
		return nil, m
	}
	return nil, ""
}

func (o *Orchestrator) event(obj *unstructured.Unstructured, ev events.Event) {
	if o.Recorder == nil {
		return
	}
	o.Recorder.Event(obj, ev.Type, ev.Reason, ev.Message)
}
