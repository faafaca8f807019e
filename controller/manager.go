package controller

import (
	"context"
	"fmt"
	"time"

	v2alpha1 "gitlab.prplanit.com/precisionplanit/mysql-operator/api/v2alpha1"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/backup"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/common"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/k8s"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/peering"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/labels"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/cache"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"
)

// Options configures the operator process.
type Options struct {
	Kubeconfig     string
	MetricsAddress string
	ProbeAddress   string
	Defaults       common.Defaults
}

// Run starts the operator: controller-runtime manager, peering elector and
// backup scheduler. It returns when ctx is cancelled.
func Run(ctx context.Context, opts Options) error {
	started := time.Now()
	ctrl.SetLogger(common.Logr())

	// the exec-based runners use the global clients
	c, err := k8s.Init(opts.Kubeconfig)
	if err != nil {
		return fmt.Errorf("kubernetes init failed: %w", err)
	}

	d := opts.Defaults
	mgr, err := ctrl.NewManager(c.RestConfig, ctrl.Options{
		Scheme: k8s.NewScheme(),
		Metrics: metricsserver.Options{
			BindAddress: opts.MetricsAddress,
		},
		HealthProbeBindAddress: opts.ProbeAddress,
		Cache: cache.Options{
			SyncPeriod: &d.ResyncInterval,
			ByObject: map[client.Object]cache.ByObject{
				&corev1.Pod{}: {Label: labels.SelectorFromSet(labels.Set{v2alpha1.LabelManagedBy: v2alpha1.ManagedByValue})},
			},
		},
		Client: client.Options{
			// user secrets are read rarely and carry no operator labels
			Cache: &client.CacheOptions{DisableFor: []client.Object{&corev1.Secret{}}},
		},
	})
	if err != nil {
		return fmt.Errorf("unable to create manager: %w", err)
	}

	elector := peering.NewElector(mgr.GetClient(), d.Namespace, d.PeeringName, peering.Identity(d.Identity), started)
	if err := mgr.Add(elector); err != nil {
		return fmt.Errorf("unable to add peering elector: %w", err)
	}

	recorder := mgr.GetEventRecorderFor("mysql-operator")
	sched := NewScheduler(mgr.GetClient(), recorder)
	sched.Active = elector.Active

	if err := SetupControllers(mgr, d, sched, elector.Active); err != nil {
		return fmt.Errorf("unable to setup controllers: %w", err)
	}

	if err := mgr.AddHealthzCheck("healthz", healthz.Ping); err != nil {
		return fmt.Errorf("unable to setup health check: %w", err)
	}
	if err := mgr.AddReadyzCheck("readyz", healthz.Ping); err != nil {
		return fmt.Errorf("unable to setup ready check: %w", err)
	}

	sched.Start()
	defer sched.Stop()

	common.InfoLog("Starting mysql-operator as %s (peering %s/%s)", elector.Me.Identity, d.Namespace, d.PeeringName)
	return mgr.Start(ctx)
}

// SetupControllers registers the InnoDBCluster and MySQLBackup reconcilers.
func SetupControllers(mgr ctrl.Manager, d common.Defaults, sched *Scheduler, active func() bool) error {
	cl := mgr.GetClient()
	recorder := mgr.GetEventRecorderFor("mysql-operator")
	lookup := &ClusterLookup{Client: cl, Defaults: d}

	clusters := &ClusterReconciler{
		Client:    cl,
		Recorder:  recorder,
		Defaults:  d,
		Admin:     &ClusterAdmin{Client: cl, RunnerFor: SidecarRunners},
		NewProber: SQLProbers,
		Scheduler: sched,
		Active:    active,
	}
	if err := clusters.SetupWithManager(mgr, d.MaxConcurrentReconciles); err != nil {
		return fmt.Errorf("innodbcluster controller: %w", err)
	}

	backups := &BackupReconciler{
		Client:   cl,
		Recorder: recorder,
		Lookup:   lookup,
		Orchestrator: &backup.Orchestrator{
			Client:   cl,
			Lookup:   lookup,
			Recorder: recorder,
		},
		Defaults: d,
		Active:   active,
	}
	if err := backups.SetupWithManager(mgr, d.MaxConcurrentReconciles); err != nil {
		return fmt.Errorf("mysqlbackup controller: %w", err)
	}
	return nil
}
