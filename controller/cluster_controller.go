package controller

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	v2alpha1 "gitlab.prplanit.com/precisionplanit/mysql-operator/api/v2alpha1"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/common"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/events"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/innodbcluster"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/metrics"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/mysql"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/provision"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/spec"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/tools/record"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"
	"sigs.k8s.io/controller-runtime/pkg/handler"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/reconcile"
)

const kindCluster = "InnoDBCluster"

// ClusterReconciler drives InnoDBClusters: it observes the StatefulSet,
// pods and group members, plans the next steps and executes them.
type ClusterReconciler struct {
	Client    client.Client
	Recorder  record.EventRecorder
	Defaults  common.Defaults
	Admin     *ClusterAdmin
	NewProber ProberFactory
	Scheduler *Scheduler
	// Active reports whether this replica holds the peering lease.
	Active func() bool
	Now    func() time.Time
}

// SetupWithManager registers the reconciler. Pods are mapped to their
// cluster so member changes trigger a reconcile.
func (r *ClusterReconciler) SetupWithManager(mgr ctrl.Manager, workers int) error {
	return ctrl.NewControllerManagedBy(mgr).
		Named("innodbcluster").
		For(v2alpha1.NewInnoDBCluster()).
		Owns(&appsv1.StatefulSet{}).
		Watches(&corev1.Pod{}, handler.EnqueueRequestsFromMapFunc(podToCluster)).
		WithOptions(controller.Options{MaxConcurrentReconciles: workers}).
		Complete(r)
}

func podToCluster(_ context.Context, obj client.Object) []reconcile.Request {
	labels := obj.GetLabels()
	name := labels[v2alpha1.LabelCluster]
	if name == "" || labels[v2alpha1.LabelComponent] != v2alpha1.ComponentServer {
		return nil
	}
	return []reconcile.Request{{NamespacedName: types.NamespacedName{Namespace: obj.GetNamespace(), Name: name}}}
}

func (r *ClusterReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	obj := v2alpha1.NewInnoDBCluster()
	if err := r.Client.Get(ctx, req.NamespacedName, obj); err != nil {
		if apierrors.IsNotFound(err) {
			r.Scheduler.Deregister(req.String())
			metrics.ForgetCluster(req.Namespace, req.Name)
			metrics.RecordReconcile(kindCluster, "success")
			return ctrl.Result{}, nil
		}
		metrics.RecordReconcile(kindCluster, "error")
		return ctrl.Result{}, err
	}
	if r.Active != nil && !r.Active() {
		return ctrl.Result{RequeueAfter: r.Defaults.ResyncInterval}, nil
	}

	res, err := r.reconcile(ctx, obj)
	if err != nil {
		metrics.RecordReconcile(kindCluster, "error")
		return res, err
	}
	metrics.RecordReconcile(kindCluster, "success")
	return res, nil
}

func (r *ClusterReconciler) reconcile(ctx context.Context, obj *unstructured.Unstructured) (ctrl.Result, error) {
	logger := log.FromContext(ctx)
	ns, name := obj.GetNamespace(), obj.GetName()
	deleting := obj.GetDeletionTimestamp() != nil

	if deleting && !controllerutil.ContainsFinalizer(obj, v2alpha1.ClusterFinalizer) {
		return ctrl.Result{}, nil
	}
	if !deleting && controllerutil.AddFinalizer(obj, v2alpha1.ClusterFinalizer) {
		if err := r.Client.Update(ctx, obj); err != nil {
			return ctrl.Result{}, fmt.Errorf("failed to add finalizer to %s/%s: %w", ns, name, err)
		}
	}

	doc, _, _ := unstructured.NestedMap(obj.Object, "spec")
	c, specErr := spec.ParseClusterSpec(ns, name, doc, r.Defaults)
	if specErr != nil && !common.IsTerminal(specErr) {
		return ctrl.Result{}, specErr
	}

	o := innodbcluster.Observed{Deleting: deleting, Status: v2alpha1.ClusterStatusFrom(obj)}
	var err error
	if o.StatefulSet, err = ObserveStatefulSet(ctx, r.Client, ns, name); err != nil {
		return ctrl.Result{}, err
	}
	if o.Pods, err = ObservePods(ctx, r.Client, ns, name); err != nil {
		return ctrl.Result{}, err
	}
	ex := &executor{r: r, owner: obj, c: c}
	switch {
	case deleting:
	case c != nil:
		if err := ex.loadAccounts(ctx); err != nil {
			logger.V(1).Info("Accounts not available yet", "cluster", c.Key(), "error", err.Error())
		} else {
			o.Members = ObserveMembers(ctx, ns, name, o.Pods, r.prober(ex.acc.Admin))
		}
	case len(o.Pods) > 0:
		// an invalid definition still reports the members that serve
		if admin, err := LoadAdminAccount(ctx, r.Client, ns, name); err != nil {
			logger.V(1).Info("Admin account not available", "cluster", ns+"/"+name, "error", err.Error())
		} else {
			o.Members = ObserveMembers(ctx, ns, name, o.Pods, r.prober(admin))
		}
	}
	ex.members = memberSlice(o.Members)

	plan := innodbcluster.Compute(c, specErr, o, r.now())
	for _, a := range plan.Actions {
		logger.V(1).Info("Executing", "cluster", ns+"/"+name, "action", a.Describe())
	}
	if deleting {
		return ctrl.Result{}, ex.finalize(ctx)
	}

	execErr := ex.run(ctx, &plan)
	for _, ev := range plan.Events {
		r.event(obj, ev)
	}
	if err := r.patchStatus(ctx, obj, plan.Status); err != nil {
		if apierrors.IsConflict(err) {
			logger.V(1).Info("Status conflict, requeueing", "cluster", ns+"/"+name)
			return ctrl.Result{RequeueAfter: time.Second}, nil
		}
		return ctrl.Result{}, errors.Join(execErr, fmt.Errorf("failed to patch status of %s/%s: %w", ns, name, err))
	}
	metrics.RecordClusterStatus(ns, name, string(plan.Status.Status), plan.Status.OnlineInstances)

	if c != nil {
		r.Scheduler.Register(c.Key(), c)
	}
	if execErr != nil {
		return ctrl.Result{}, execErr
	}
	return ctrl.Result{RequeueAfter: r.Defaults.ResyncInterval}, nil
}

func (r *ClusterReconciler) patchStatus(ctx context.Context, obj *unstructured.Unstructured, s v2alpha1.ClusterStatus) error {
	orig := obj.DeepCopy()
	obj.Object["status"] = s.ToMap()
	return r.Client.Status().Patch(ctx, obj, client.MergeFromWithOptions(orig, client.MergeFromWithOptimisticLock{}))
}

func (r *ClusterReconciler) event(obj client.Object, ev events.Event) {
	if r.Recorder != nil {
		r.Recorder.Event(obj, ev.Type, ev.Reason, ev.Message)
	}
}

func (r *ClusterReconciler) prober(creds mysql.Credentials) MemberProber {
	if r.NewProber != nil {
		return r.NewProber(creds)
	}
	return SQLProbers(creds)
}

func (r *ClusterReconciler) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

// executor applies the actions of one plan.
type executor struct {
	r       *ClusterReconciler
	owner   *unstructured.Unstructured
	c       *spec.ClusterSpec
	acc     Accounts
	hasAcc  bool
	members []mysql.Member
}

func (e *executor) loadAccounts(ctx context.Context) error {
	if e.hasAcc {
		return nil
	}
	acc, err := LoadAccounts(ctx, e.r.Client, e.c)
	if err != nil {
		return err
	}
	e.acc, e.hasAcc = acc, true
	return nil
}

// run executes actions in order and stops at the first failure, which is
// recorded in the plan's status message.
func (e *executor) run(ctx context.Context, plan *innodbcluster.Plan) error {
	for _, action := range plan.Actions {
		if err := e.apply(ctx, plan, action); err != nil {
			common.ErrorLog("Cluster %s: %s failed: %v", e.c.Key(), action.Describe(), err)
			plan.Status.Message = fmt.Sprintf("%s failed: %s", action.Describe(), common.MessageOf(err))
			return err
		}
	}
	return nil
}

func (e *executor) apply(ctx context.Context, plan *innodbcluster.Plan, action innodbcluster.Action) error {
	admin := e.r.Admin
	switch a := action.(type) {
	case innodbcluster.EnsureResources:
		return e.ensureResources(ctx, a)
	case innodbcluster.CreateCluster:
		if err := e.loadAccounts(ctx); err != nil {
			return err
		}
		if err := admin.CreateCluster(ctx, e.c, a.Index, a.Seed, e.acc); err != nil {
			e.provisioningFailed(a.Index, a.Seed, err)
			return err
		}
		plan.MarkProvisioned(a.Index)
	case innodbcluster.JoinInstance:
		if err := e.loadAccounts(ctx); err != nil {
			return err
		}
		if err := admin.JoinInstance(ctx, e.c, a.Index, a.Seed, e.acc); err != nil {
			e.provisioningFailed(a.Index, a.Seed, err)
			return err
		}
		plan.MarkProvisioned(a.Index)
	case innodbcluster.RejoinInstance:
		via, ok := provision.Donor(e.members, a.Index)
		if !ok {
			return nil
		}
		if err := e.loadAccounts(ctx); err != nil {
			return err
		}
		return admin.RejoinInstance(ctx, e.c, a.Index, via, e.acc)
	case innodbcluster.RebootCluster:
		if err := e.loadAccounts(ctx); err != nil {
			return err
		}
		return admin.RebootCluster(ctx, e.c, a.Index, e.acc)
	case innodbcluster.RemoveInstance:
		via, ok := provision.Donor(e.members, a.Index)
		if !ok {
			return nil
		}
		if err := e.loadAccounts(ctx); err != nil {
			return err
		}
		if err := admin.RemoveInstance(ctx, e.c, a.Index, via, e.acc); err != nil {
			return err
		}
		plan.MarkRemoved(a.Index)
	case innodbcluster.DeletePod:
		pod := &corev1.Pod{ObjectMeta: metav1.ObjectMeta{Namespace: e.c.Namespace, Name: a.Name}}
		if err := e.r.Client.Delete(ctx, pod); client.IgnoreNotFound(err) != nil {
			return fmt.Errorf("failed to delete pod %s/%s: %w", e.c.Namespace, a.Name, err)
		}
		common.InfoLog("Deleted faulted pod %s/%s (%s)", e.c.Namespace, a.Name, a.Reason)
	case innodbcluster.Finalize:
		return e.finalize(ctx)
	default:
		return fmt.Errorf("unhandled action %T", action)
	}
	return nil
}

func (e *executor) provisioningFailed(index int, seed provision.Seed, err error) {
	e.r.event(e.owner, events.Warning(common.ReasonProvisioningFailed, map[string]any{
		"index": index, "method": seed.Method(), "error": err.Error(),
	}))
}

// ensureResources creates or updates the objects a cluster owns.
func (e *executor) ensureResources(ctx context.Context, a innodbcluster.EnsureResources) error {
	cl, c := e.r.Client, e.c
	scheme := cl.Scheme()

	desiredSvc := BuildService(c)
	svc := &corev1.Service{ObjectMeta: metav1.ObjectMeta{Namespace: c.Namespace, Name: desiredSvc.Name}}
	if _, err := controllerutil.CreateOrUpdate(ctx, cl, svc, func() error {
		svc.Labels = desiredSvc.Labels
		svc.Spec.ClusterIP = desiredSvc.Spec.ClusterIP
		svc.Spec.PublishNotReadyAddresses = desiredSvc.Spec.PublishNotReadyAddresses
		svc.Spec.Selector = desiredSvc.Spec.Selector
		svc.Spec.Ports = desiredSvc.Spec.Ports
		return controllerutil.SetControllerReference(e.owner, svc, scheme)
	}); err != nil {
		return fmt.Errorf("failed to ensure Service %s: %w", desiredSvc.Name, err)
	}

	if err := e.ensurePrivateSecret(ctx); err != nil {
		return err
	}

	if desiredCM := BuildExtraConfig(c); desiredCM != nil {
		cm := &corev1.ConfigMap{ObjectMeta: metav1.ObjectMeta{Namespace: c.Namespace, Name: desiredCM.Name}}
		if _, err := controllerutil.CreateOrUpdate(ctx, cl, cm, func() error {
			cm.Labels = desiredCM.Labels
			cm.Data = desiredCM.Data
			return controllerutil.SetControllerReference(e.owner, cm, scheme)
		}); err != nil {
			return fmt.Errorf("failed to ensure ConfigMap %s: %w", desiredCM.Name, err)
		}
	}

	desired, err := BuildStatefulSet(c, a.Replicas, a.Partition, a.Version)
	if err != nil {
		return err
	}
	sts := &appsv1.StatefulSet{ObjectMeta: metav1.ObjectMeta{Namespace: c.Namespace, Name: desired.Name}}
	if _, err := controllerutil.CreateOrUpdate(ctx, cl, sts, func() error {
		if sts.ResourceVersion == "" {
			sts.Spec = desired.Spec
		} else {
			// selector, serviceName and claim templates are immutable
			sts.Spec.Replicas = desired.Spec.Replicas
			sts.Spec.UpdateStrategy = desired.Spec.UpdateStrategy
			sts.Spec.PersistentVolumeClaimRetentionPolicy = desired.Spec.PersistentVolumeClaimRetentionPolicy
			sts.Spec.Template = desired.Spec.Template
		}
		sts.Labels = desired.Labels
		return controllerutil.SetControllerReference(e.owner, sts, scheme)
	}); err != nil {
		return fmt.Errorf("failed to ensure StatefulSet %s: %w", desired.Name, err)
	}
	return nil
}

// ensurePrivateSecret creates the admin account secret once. Its password
// is never rotated by the operator.
func (e *executor) ensurePrivateSecret(ctx context.Context) error {
	key := types.NamespacedName{Namespace: e.c.Namespace, Name: v2alpha1.PrivateSecretName(e.c.Name)}
	err := e.r.Client.Get(ctx, key, &corev1.Secret{})
	if err == nil || !apierrors.IsNotFound(err) {
		return err
	}
	secret, err := BuildPrivateSecret(e.c)
	if err != nil {
		return err
	}
	if err := controllerutil.SetControllerReference(e.owner, secret, e.r.Client.Scheme()); err != nil {
		return err
	}
	if err := e.r.Client.Create(ctx, secret); err != nil && !apierrors.IsAlreadyExists(err) {
		return fmt.Errorf("failed to create Secret %s: %w", key, err)
	}
	return nil
}

// finalize deletes the owned objects, and the data volumes when the
// retention policy says so, then releases the finalizer.
func (e *executor) finalize(ctx context.Context) error {
	cl := e.r.Client
	ns, name := e.owner.GetNamespace(), e.owner.GetName()
	owned := []client.Object{
		&appsv1.StatefulSet{ObjectMeta: metav1.ObjectMeta{Namespace: ns, Name: name}},
		&corev1.Service{ObjectMeta: metav1.ObjectMeta{Namespace: ns, Name: v2alpha1.InstanceServiceName(name)}},
		&corev1.Secret{ObjectMeta: metav1.ObjectMeta{Namespace: ns, Name: v2alpha1.PrivateSecretName(name)}},
		&corev1.ConfigMap{ObjectMeta: metav1.ObjectMeta{Namespace: ns, Name: ExtraConfigName(name)}},
	}
	for _, obj := range owned {
		if err := cl.Delete(ctx, obj, client.PropagationPolicy(metav1.DeletePropagationBackground)); client.IgnoreNotFound(err) != nil {
			return fmt.Errorf("failed to delete %T %s/%s: %w", obj, ns, obj.GetName(), err)
		}
	}

	retention := spec.RetentionDelete
	if e.c != nil {
		retention = e.c.VolumeRetention.WhenDeleted
	}
	if retention == spec.RetentionDelete {
		if err := cl.DeleteAllOf(ctx, &corev1.PersistentVolumeClaim{}, client.InNamespace(ns),
			client.MatchingLabels(v2alpha1.ClusterSelector(name))); err != nil {
			return fmt.Errorf("failed to delete data volumes of %s/%s: %w", ns, name, err)
		}
	}

	e.r.Scheduler.Deregister(ns + "/" + name)
	metrics.ForgetCluster(ns, name)
	if controllerutil.RemoveFinalizer(e.owner, v2alpha1.ClusterFinalizer) {
		if err := cl.Update(ctx, e.owner); client.IgnoreNotFound(err) != nil {
			return fmt.Errorf("failed to remove finalizer from %s/%s: %w", ns, name, err)
		}
	}
	common.InfoLog("Cluster %s/%s finalized", ns, name)
	return nil
}

func memberSlice(members map[int]mysql.Member) []mysql.Member {
	out := make([]mysql.Member, 0, len(members))
	for _, m := range members {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}
