package engine

import (
	"context"
	"fmt"
	"sort"

	"gitlab.prplanit.com/precisionplanit/mysql-operator/mysql"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/shell"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/spec"

	"sigs.k8s.io/controller-runtime/pkg/client"
)

// Request is everything a backup method needs for one execution.
type Request struct {
	Namespace string
	// Backup is the name of the MySQLBackup being executed.
	Backup  string
	Cluster *spec.ClusterSpec
	Profile *spec.BackupProfile
	// Output is the artifact name the backup is recorded under.
	Output string

	// Members is the observed membership of the cluster, used to pick
	// the instance to back up.
	Members     []mysql.Member
	Credentials mysql.Credentials

	Client client.Client
	Runner shell.Runner
}

// Method defines the interface that each backup method must implement.
type Method interface {
	// Name returns the BackupProfile key the method serves.
	Name() string

	// Backup writes the artifact and returns metadata merged into the
	// backup status.
	Backup(ctx context.Context, req *Request) (map[string]any, error)

	// Delete removes the artifact recorded under req.Output.
	Delete(ctx context.Context, req *Request) error
}

// registry maps method names to constructor functions.
var registry = map[string]func() Method{}

// Register adds a method constructor to the registry.
func Register(name string, constructor func() Method) {
	registry[name] = constructor
}

// Get returns a new method instance by name, or an error if not found.
func Get(name string) (Method, error) {
	constructor, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown backup method %q (valid: %v)", name, ValidMethods())
	}
	return constructor(), nil
}

// ValidMethods returns the sorted list of registered method names.
func ValidMethods() []string {
	names := make([]string, 0, len(registry))
	for k := range registry {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// PickSource returns the member a backup reads from: an online secondary
// if there is one, so the primary keeps serving writes, else the primary.
func PickSource(members []mysql.Member) (mysql.Member, error) {
	var primary *mysql.Member
	for i := range members {
		m := members[i]
		if !m.Online() {
			continue
		}
		if m.Role != mysql.RolePrimary {
			return m, nil
		}
		if primary == nil {
			primary = &members[i]
		}
	}
	if primary == nil {
		return mysql.Member{}, fmt.Errorf("no online member to back up from")
	}
	return *primary, nil
}
