package spec

import (
	"context"
	"errors"
	"fmt"

	"gitlab.prplanit.com/precisionplanit/mysql-operator/common"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
)

// ErrClusterNotFound is returned by a ClusterLookup when the named cluster
// does not exist.
var ErrClusterNotFound = errors.New("cluster not found")

// ClusterLookup resolves a cluster by name. Implementations return an
// error wrapping ErrClusterNotFound (or a Kubernetes NotFound) for a
// missing cluster; any other error is passed through unchanged.
type ClusterLookup interface {
	Resolve(ctx context.Context, namespace, name string) (*ClusterSpec, error)
}

// ProfileSource selects the profile of a backup. Implementations are
// EmbeddedProfile and ProfileReference.
type ProfileSource interface {
	profileSource()
}

// EmbeddedProfile is an ad-hoc profile declared on the backup itself.
type EmbeddedProfile struct {
	Profile *BackupProfile
}

// ProfileReference names a profile declared on the target cluster.
type ProfileReference struct {
	Name string
}

func (EmbeddedProfile) profileSource()  {}
func (ProfileReference) profileSource() {}

// BackupSpec is the validated desired state of a MySQLBackup.
type BackupSpec struct {
	Namespace   string
	Name        string
	ClusterName string
	Source      ProfileSource
	// Profile is a deep copy of the profile resolved at validation time.
	Profile          *BackupProfile
	DeleteBackupData bool

	// Inherited from the cluster at validation time.
	OperatorImage           string
	OperatorImagePullPolicy corev1.PullPolicy
	ImagePullSecrets        []corev1.LocalObjectReference
	ServiceAccountName      string
}

// Key returns namespace/name.
func (b *BackupSpec) Key() string {
	return b.Namespace + "/" + b.Name
}

// ParseBackupSpec validates the .spec document of a MySQLBackup. It reads the target
// cluster through lookup to check the reference and inherit the execution
// environment.
func ParseBackupSpec(ctx context.Context, namespace, name string, doc map[string]any, lookup ClusterLookup) (*BackupSpec, error) {
	s := newSection(doc, "spec")
	b := &BackupSpec{Namespace: namespace, Name: name}
	var err error

	if b.ClusterName, err = s.requiredString("clusterName"); err != nil {
		return nil, err
	}
	if b.Source, err = parseProfileSource(s); err != nil {
		return nil, err
	}
	if b.DeleteBackupData, err = s.optionalBool("deleteBackupData", false); err != nil {
		return nil, err
	}

	cluster, err := ResolveCluster(ctx, lookup, namespace, b.ClusterName)
	if err != nil {
		return nil, err
	}

	b.OperatorImage = cluster.OperatorImage
	b.OperatorImagePullPolicy = cluster.OperatorImagePullPolicy
	b.ImagePullSecrets = append([]corev1.LocalObjectReference(nil), cluster.ImagePullSecrets...)
	b.ServiceAccountName = cluster.ServiceAccountName

	if b.Profile, err = cluster.ResolveProfile(b.Source); err != nil {
		return nil, err
	}
	return b, nil
}

// ResolveCluster reads a cluster through lookup, turning a missing cluster
// into a ReferenceError.
func ResolveCluster(ctx context.Context, lookup ClusterLookup, namespace, name string) (*ClusterSpec, error) {
	cluster, err := lookup.Resolve(ctx, namespace, name)
	if err != nil {
		if errors.Is(err, ErrClusterNotFound) || apierrors.IsNotFound(err) {
			return nil, common.NewReferenceError("Invalid clusterName %s/%s", namespace, name)
		}
		return nil, err
	}
	return cluster, nil
}

// ParseProfileSource reads the profile source of a MySQLBackup .spec
// document without resolving its cluster.
func ParseProfileSource(doc map[string]any) (ProfileSource, error) {
	return parseProfileSource(newSection(doc, "spec"))
}

// parseProfileSource reads the backupProfileName / backupProfile union of s.
// An empty backupProfile mapping counts as unset.
func parseProfileSource(s section) (ProfileSource, error) {
	ref, err := s.optionalString("backupProfileName", "")
	if err != nil {
		return nil, err
	}
	embedded, err := s.optionalDict("backupProfile")
	if err != nil {
		return nil, err
	}

	if len(embedded) == 0 {
		embedded = nil
	}

	if ref != "" && embedded != nil {
		return nil, common.NewSpecError("Only one of %s or %s must be set",
			s.path("backupProfileName"), s.path("backupProfile"))
	}
	switch {
	case ref != "":
		return ProfileReference{Name: ref}, nil
	case embedded != nil:
		p, err := ParseBackupProfile(embedded, s.path("backupProfile"))
		if err != nil {
			return nil, err
		}
		return EmbeddedProfile{Profile: p}, nil
	}
	return nil, common.NewSpecError("One of %s or %s must be set",
		s.path("backupProfileName"), s.path("backupProfile"))
}

// String renders the source for logs.
func (r ProfileReference) String() string { return "profile " + r.Name }

func (e EmbeddedProfile) String() string {
	return fmt.Sprintf("embedded profile %s (%s)", e.Profile.Name, e.Profile.Method.Method())
}
