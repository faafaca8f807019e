package spec

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"gitlab.prplanit.com/precisionplanit/mysql-operator/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

type fakeLookup struct {
	clusters map[string]*ClusterSpec
	err      error
	calls    int
}

func (f *fakeLookup) Resolve(_ context.Context, namespace, name string) (*ClusterSpec, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	c, ok := f.clusters[namespace+"/"+name]
	if !ok {
		return nil, fmt.Errorf("%s/%s: %w", namespace, name, ErrClusterNotFound)
	}
	return c, nil
}

func lookupWithCluster(t *testing.T) *fakeLookup {
	t.Helper()
	c, err := ParseClusterSpec("ns", "mycluster", map[string]any{
		"secretName":         "mypwds",
		"imagePullPolicy":    "Always",
		"imagePullSecrets":   []any{map[string]any{"name": "regcred"}},
		"serviceAccountName": "mysql-sa",
		"backupProfiles": []any{
			map[string]any{"name": "fulldump-oci", "dumpInstance": map[string]any{"storage": ociStorage()}},
		},
	}, testDefaults())
	require.NoError(t, err)
	return &fakeLookup{clusters: map[string]*ClusterSpec{"ns/mycluster": c}}
}

func TestParseBackupSpecArity(t *testing.T) {
	embedded := map[string]any{"name": "adhoc", "dumpInstance": map[string]any{"storage": ociStorage()}}

	tests := map[string]struct {
		doc     map[string]any
		kind    common.ErrorKind
		wantErr string
		profile string
	}{
		"by name": {
			doc:     map[string]any{"clusterName": "mycluster", "backupProfileName": "fulldump-oci"},
			profile: "fulldump-oci",
		},
		"embedded": {
			doc:     map[string]any{"clusterName": "mycluster", "backupProfile": embedded},
			profile: "adhoc",
		},
		"both": {
			doc:     map[string]any{"clusterName": "mycluster", "backupProfileName": "fulldump-oci", "backupProfile": embedded},
			kind:    common.SpecError,
			wantErr: "Only one of spec.backupProfileName or spec.backupProfile must be set",
		},
		"neither": {
			doc:     map[string]any{"clusterName": "mycluster"},
			kind:    common.SpecError,
			wantErr: "One of spec.backupProfileName or spec.backupProfile must be set",
		},
		"empty embedded profile": {
			doc:     map[string]any{"clusterName": "mycluster", "backupProfile": map[string]any{}},
			kind:    common.SpecError,
			wantErr: "One of spec.backupProfileName or spec.backupProfile must be set",
		},
		"empty embedded profile beside a name": {
			doc:     map[string]any{"clusterName": "mycluster", "backupProfileName": "fulldump-oci", "backupProfile": map[string]any{}},
			profile: "fulldump-oci",
		},
		"missing cluster name": {
			doc:     map[string]any{"backupProfileName": "fulldump-oci"},
			kind:    common.SpecError,
			wantErr: "missing required field spec.clusterName",
		},
		"unknown cluster": {
			doc:     map[string]any{"clusterName": "nope", "backupProfileName": "fulldump-oci"},
			kind:    common.ReferenceError,
			wantErr: "Invalid clusterName ns/nope",
		},
		"unknown profile": {
			doc:     map[string]any{"clusterName": "mycluster", "backupProfileName": "nope"},
			kind:    common.ReferenceError,
			wantErr: "Invalid backupProfileName 'nope' in cluster ns/mycluster",
		},
		"embedded profile invalid": {
			doc:     map[string]any{"clusterName": "mycluster", "backupProfile": map[string]any{"name": "x"}},
			kind:    common.SpecError,
			wantErr: "One of dumpInstance or snapshot must be set in a spec.backupProfile.x",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			b, err := ParseBackupSpec(context.Background(), "ns", "backup1", tc.doc, lookupWithCluster(t))
			if tc.wantErr != "" {
				require.Error(t, err)
				assert.True(t, common.IsKind(err, tc.kind), "kind of %v", err)
				assert.Contains(t, err.Error(), tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.profile, b.Profile.Name)
		})
	}
}

func TestParseBackupSpecInheritsClusterEnvironment(t *testing.T) {
	lookup := lookupWithCluster(t)
	b, err := ParseBackupSpec(context.Background(), "ns", "backup1", map[string]any{
		"clusterName":       "mycluster",
		"backupProfileName": "fulldump-oci",
		"deleteBackupData":  true,
	}, lookup)
	require.NoError(t, err)

	assert.Equal(t, "registry.local/mysql/mysql-operator:8.4.6", b.OperatorImage)
	assert.Equal(t, corev1.PullAlways, b.OperatorImagePullPolicy)
	assert.Equal(t, []corev1.LocalObjectReference{{Name: "regcred"}}, b.ImagePullSecrets)
	assert.Equal(t, "mysql-sa", b.ServiceAccountName)
	assert.True(t, b.DeleteBackupData)
	assert.Equal(t, 1, lookup.calls)

	// the resolved profile is a copy, not an alias into the cluster spec
	b.Profile.Method.Storage().(*OCIObjectStorage).BucketName = "mutated"
	cluster := lookup.clusters["ns/mycluster"]
	assert.Equal(t, "dumps", cluster.BackupProfiles[0].Method.Storage().(*OCIObjectStorage).BucketName)
}

func TestParseBackupSpecLookupErrors(t *testing.T) {
	doc := map[string]any{"clusterName": "mycluster", "backupProfileName": "fulldump-oci"}

	notFound := apierrors.NewNotFound(schema.GroupResource{Group: "mysql.oracle.com", Resource: "innodbclusters"}, "mycluster")
	_, err := ParseBackupSpec(context.Background(), "ns", "b", doc, &fakeLookup{err: notFound})
	require.Error(t, err)
	assert.True(t, common.IsKind(err, common.ReferenceError))

	transport := errors.New("connection refused")
	_, err = ParseBackupSpec(context.Background(), "ns", "b", doc, &fakeLookup{err: transport})
	require.Error(t, err)
	assert.Same(t, transport, err)

	// arity is checked before the cluster is read
	lookup := &fakeLookup{err: transport}
	_, err = ParseBackupSpec(context.Background(), "ns", "b", map[string]any{"clusterName": "c"}, lookup)
	assert.True(t, common.IsKind(err, common.SpecError))
	assert.Zero(t, lookup.calls)
}

func TestParseProfileSource(t *testing.T) {
	src, err := ParseProfileSource(map[string]any{"clusterName": "gone", "backupProfileName": "nightly"})
	require.NoError(t, err)
	assert.Equal(t, ProfileReference{Name: "nightly"}, src)

	src, err = ParseProfileSource(map[string]any{"clusterName": "gone", "backupProfile": map[string]any{
		"name": "adhoc", "snapshot": map[string]any{"storage": map[string]any{
			"persistentVolumeClaim": map[string]any{"claimName": "backup-pvc"},
		}},
	}})
	require.NoError(t, err)
	embedded, ok := src.(EmbeddedProfile)
	require.True(t, ok)
	assert.Equal(t, MethodSnapshot, embedded.Profile.Method.Method())
}
