package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	v2alpha1 "gitlab.prplanit.com/precisionplanit/mysql-operator/api/v2alpha1"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/k8s"

	"github.com/spf13/cobra"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

var allNamespaces bool

var getCmd = &cobra.Command{
	Use:   "get",
	Short: "Display operator resources (clusters, backups)",
}

func init() {
	getCmd.PersistentFlags().BoolVarP(&allNamespaces, "all-namespaces", "A", false, "List across all namespaces")
	getCmd.AddCommand(getClustersCmd, getBackupsCmd)
}

// --- get clusters ---

var getClustersCmd = &cobra.Command{
	Use:     "clusters",
	Short:   "List InnoDBClusters and their status",
	Aliases: []string{"ic", "innodbclusters"},
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := initGetClient()
		if err != nil {
			return err
		}
		list := v2alpha1.NewInnoDBClusterList()
		if err := rt.List(cmd.Context(), list, listScope()...); err != nil {
			return fmt.Errorf("failed to list InnoDBClusters: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "NAMESPACE\tNAME\tSTATUS\tONLINE\tINSTANCES\tVERSION\tAGE\n")
		for i := range list.Items {
			obj := &list.Items[i]
			s := v2alpha1.ClusterStatusFrom(obj)
			instances, _, _ := unstructured.NestedFieldNoCopy(obj.Object, "spec", "instances")
			n, _ := v2alpha1.AsInt64(instances)
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
				obj.GetNamespace(), obj.GetName(), orDash(string(s.Status)), s.OnlineInstances, n,
				orDash(s.Version), formatAge(time.Since(obj.GetCreationTimestamp().Time)))
		}
		return w.Flush()
	},
}

// --- get backups ---

var getBackupsCmd = &cobra.Command{
	Use:     "backups",
	Short:   "List MySQLBackups and their status",
	Aliases: []string{"mbk", "mysqlbackups"},
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := initGetClient()
		if err != nil {
			return err
		}
		list := v2alpha1.NewMySQLBackupList()
		if err := rt.List(cmd.Context(), list, listScope()...); err != nil {
			return fmt.Errorf("failed to list MySQLBackups: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "NAMESPACE\tNAME\tCLUSTER\tSTATUS\tOUTPUT\tELAPSED\tAGE\n")
		for i := range list.Items {
			obj := &list.Items[i]
			s := v2alpha1.BackupStatusFrom(obj)
			cluster, _, _ := unstructured.NestedString(obj.Object, "spec", "clusterName")
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				obj.GetNamespace(), obj.GetName(), orDash(cluster), orDash(string(s.Status)),
				orDash(s.Output), orDash(s.ElapsedTime), formatAge(time.Since(obj.GetCreationTimestamp().Time)))
		}
		return w.Flush()
	},
}

// --- helpers ---

// initGetClient initializes the Kubernetes clients for read-only commands.
func initGetClient() (client.Client, error) {
	setVerbose(false)
	c, err := k8s.Init(cfg.Kubeconfig)
	if err != nil {
		return nil, fmt.Errorf("kubernetes init failed: %w", err)
	}
	return c.Runtime, nil
}

func listScope() []client.ListOption {
	if allNamespaces || cfg.Namespace == "" {
		return nil
	}
	return []client.ListOption{client.InNamespace(cfg.Namespace)}
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// formatAge formats a duration into a human-readable age string.
func formatAge(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	return fmt.Sprintf("%dd", int(d.Hours()/24))
}
