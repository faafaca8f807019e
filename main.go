package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"gitlab.prplanit.com/precisionplanit/mysql-operator/common"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/controller"

	// Register backup methods via init()
	_ "gitlab.prplanit.com/precisionplanit/mysql-operator/engine/dump"
	_ "gitlab.prplanit.com/precisionplanit/mysql-operator/engine/snapshot"

	"github.com/spf13/cobra"
)

// Shared flags bound to the root command
var cfg common.Config

func main() {
	common.InitLogging(false)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "mysql-operator",
	Short: "Kubernetes operator for MySQL InnoDB Cluster",
	Long: `mysql-operator reconciles InnoDBCluster resources into a self-healing
group replication cluster and executes MySQLBackup resources, on demand
or from the backup schedules of a cluster.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	metricsAddress string
	probeAddress   string
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&cfg.Namespace, "namespace", "n", common.Env("NAMESPACE", ""), "Kubernetes namespace")
	pf.StringVar(&cfg.Kubeconfig, "kubeconfig", common.EnvRaw("KUBECONFIG", ""), "Path to kubeconfig file")
	pf.BoolVarP(&cfg.Verbose, "verbose", "v", common.EnvBool("VERBOSE", false), "Verbose output (debug logging)")

	serveCmd.Flags().StringVar(&metricsAddress, "metrics-bind-address", common.Env("METRICS_BIND_ADDRESS", ":8080"), "Prometheus metrics listen address")
	serveCmd.Flags().StringVar(&probeAddress, "health-probe-bind-address", common.Env("HEALTH_PROBE_BIND_ADDRESS", ":8081"), "Health probe listen address")

	rootCmd.AddCommand(serveCmd, backupCmd, getCmd)
}

// setVerbose re-initializes logging at debug level when --verbose is set.
func setVerbose(json bool) {
	if cfg.Verbose {
		os.Setenv(common.EnvPrefix+"LOG_LEVEL", "debug")
	}
	common.InitLogging(json)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the operator (controllers, peering and backup scheduler)",
	Long: `Starts the operator which reconciles InnoDBCluster and MySQLBackup
resources. Replicas arbitrate through a peering Lease; only the active
replica acts.

Endpoints:
  :8080/metrics   Prometheus metrics
  :8081/healthz   Liveness probe
  :8081/readyz    Readiness probe`,
	RunE: func(cmd *cobra.Command, args []string) error {
		setVerbose(true)
		return controller.Run(cmd.Context(), controller.Options{
			Kubeconfig:     cfg.Kubeconfig,
			MetricsAddress: metricsAddress,
			ProbeAddress:   probeAddress,
			Defaults:       common.LoadDefaults(),
		})
	},
}
