package controller

import (
	"context"
	"fmt"
	"maps"

	v2alpha1 "gitlab.prplanit.com/precisionplanit/mysql-operator/api/v2alpha1"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/common"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/mysql"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/provision"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/shell"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/spec"

	"sigs.k8s.io/controller-runtime/pkg/client"
)

// RunnerFactory returns the runner executing mysqlsh for pod.
type RunnerFactory func(namespace, pod string) shell.Runner

// SidecarRunners executes mysqlsh inside the sidecar of each instance pod.
func SidecarRunners(namespace, pod string) shell.Runner {
	return shell.PodRunner{Namespace: namespace, Pod: pod, Container: v2alpha1.SidecarContainer}
}

// ClusterAdmin performs the group administration steps of a cluster with
// MySQL Shell.
type ClusterAdmin struct {
	Client    client.Client
	RunnerFor RunnerFactory
}

func (a *ClusterAdmin) session(c *spec.ClusterSpec, index int, creds mysql.Credentials) *shell.Client {
	runnerFor := a.RunnerFor
	if runnerFor == nil {
		runnerFor = SidecarRunners
	}
	host := v2alpha1.InstanceHost(c.Namespace, c.Name, index)
	return shell.NewClient(runnerFor(c.Namespace, v2alpha1.PodName(c.Name, index)),
		shell.URI(creds.User, host, mysql.DefaultPort), creds.Password)
}

// configure creates the admin account on instance index, logging in as login.
func (a *ClusterAdmin) configure(ctx context.Context, c *spec.ClusterSpec, index int, login mysql.Credentials, acc Accounts) error {
	s := a.session(c, index, login)
	s.Env = map[string]string{shell.EnvAdminPassword: acc.Admin.Password}
	_, err := s.Run(ctx, "configureInstance", shell.ConfigureAdmin(acc.Admin.User))
	return err
}

// CreateCluster seeds instance index and creates the group on it.
func (a *ClusterAdmin) CreateCluster(ctx context.Context, c *spec.ClusterSpec, index int, seed provision.Seed, acc Accounts) error {
	login := acc.Root
	switch s := seed.(type) {
	case provision.SeedEmpty:
	case provision.SeedClone:
		donorPassword, err := secretValue(ctx, a.Client, c.Namespace, s.SecretName, keyRootPassword)
		if err != nil {
			return err
		}
		script, err := shell.CloneFrom(s.DonorURL, s.RootUser)
		if err != nil {
			return common.NewSpecError("spec.initDB.clone.donorUrl: %v", err)
		}
		sess := a.session(c, index, acc.Root)
		sess.Env = map[string]string{shell.EnvDonorPassword: donorPassword}
		if _, err := sess.Run(ctx, "clone", script); err != nil {
			return err
		}
		// the clone replaced the local accounts with the donor's
		login = mysql.Credentials{User: s.RootUser, Password: donorPassword}
	case provision.SeedDump:
		path := s.Path
		if path == "" {
			path = s.Name
		}
		target := s.Storage.Target(path)
		opts := maps.Clone(target.Options)
		if opts == nil {
			opts = map[string]any{}
		}
		maps.Copy(opts, s.Options)
		if _, err := a.session(c, index, acc.Root).Run(ctx, "loadDump", shell.LoadDump(target.URL, opts)); err != nil {
			return err
		}
	default:
		return fmt.Errorf("seed %s cannot create a cluster", seed.Method())
	}

	if err := a.configure(ctx, c, index, login, acc); err != nil {
		return err
	}
	_, err := a.session(c, index, acc.Admin).Run(ctx, "createCluster", shell.CreateCluster(c.Name))
	return err
}

// JoinInstance adds instance index to the group through its donor, which
// seeds it with clone.
func (a *ClusterAdmin) JoinInstance(ctx context.Context, c *spec.ClusterSpec, index int, seed provision.Seed, acc Accounts) error {
	peer, ok := seed.(provision.SeedPeerClone)
	if !ok {
		return fmt.Errorf("seed %s cannot join an instance", seed.Method())
	}
	if err := a.configure(ctx, c, index, acc.Root, acc); err != nil {
		return err
	}
	target := v2alpha1.InstanceHost(c.Namespace, c.Name, index)
	_, err := a.session(c, peer.Donor.Index, acc.Admin).Run(ctx, "addInstance", shell.AddInstance(target))
	return err
}

// RejoinInstance returns instance index to the group through member via.
func (a *ClusterAdmin) RejoinInstance(ctx context.Context, c *spec.ClusterSpec, index int, via mysql.Member, acc Accounts) error {
	target := v2alpha1.InstanceHost(c.Namespace, c.Name, index)
	_, err := a.session(c, via.Index, acc.Admin).Run(ctx, "rejoinInstance", shell.RejoinInstance(target))
	return err
}

// RebootCluster restores the group from instance index after a complete outage.
func (a *ClusterAdmin) RebootCluster(ctx context.Context, c *spec.ClusterSpec, index int, acc Accounts) error {
	_, err := a.session(c, index, acc.Admin).Run(ctx, "rebootClusterFromCompleteOutage", shell.RebootCluster(c.Name))
	return err
}

// RemoveInstance removes instance index from the group through member via.
func (a *ClusterAdmin) RemoveInstance(ctx context.Context, c *spec.ClusterSpec, index int, via mysql.Member, acc Accounts) error {
	target := v2alpha1.InstanceHost(c.Namespace, c.Name, index)
	_, err := a.session(c, via.Index, acc.Admin).Run(ctx, "removeInstance", shell.RemoveInstance(target))
	return err
}
