package main

import (
	"fmt"
	"time"

	"gitlab.prplanit.com/precisionplanit/mysql-operator/backup"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/common"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/controller"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/k8s"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/output"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/shell"

	"github.com/spf13/cobra"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/types"
	typedcorev1 "k8s.io/client-go/kubernetes/typed/core/v1"
	"k8s.io/client-go/tools/record"
)

func init() {
	backupCmd.Flags().StringVar(&cfg.Name, "name", common.Env("BACKUP_NAME", ""), "MySQLBackup to execute")
}

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Execute one MySQLBackup (entrypoint of the backup Job)",
	RunE: func(cmd *cobra.Command, args []string) error {
		setVerbose(false)
		if cfg.Namespace == "" || cfg.Name == "" {
			return fmt.Errorf("required flags: --namespace/-n, --name")
		}

		c, err := k8s.Init(cfg.Kubeconfig)
		if err != nil {
			return fmt.Errorf("kubernetes init failed: %w", err)
		}
		broadcaster := record.NewBroadcaster()
		broadcaster.StartRecordingToSink(&typedcorev1.EventSinkImpl{Interface: c.Clientset.CoreV1().Events("")})
		defer broadcaster.Shutdown()
		recorder := broadcaster.NewRecorder(k8s.NewScheme(), corev1.EventSource{Component: "mysql-operator-backup"})

		d := common.LoadDefaults()
		lookup := &controller.ClusterLookup{Client: c.Runtime, Defaults: d}
		o := &backup.Orchestrator{
			Client:   c.Runtime,
			Lookup:   lookup,
			Members:  &controller.PodMembers{Client: c.Runtime, NewProber: controller.SQLProbers},
			Runner:   shell.LocalRunner{},
			Recorder: recorder,
		}

		output.Header("backup", "MySQLBackup", cfg.Name, cfg.Namespace)
		start := time.Now()
		if err := o.Run(cmd.Context(), types.NamespacedName{Namespace: cfg.Namespace, Name: cfg.Name}); err != nil {
			output.Fail("Backup %s/%s: %s", cfg.Namespace, cfg.Name, common.MessageOf(err))
			return err
		}
		output.Complete(fmt.Sprintf("Backup complete (%s)", time.Since(start).Truncate(time.Second)))
		return nil
	},
}
