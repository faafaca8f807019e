package v2alpha1

import (
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

var (
	// GroupVersion is the API group and version for the MySQL operator CRDs.
	GroupVersion = schema.GroupVersion{Group: "mysql.oracle.com", Version: "v2alpha1"}

	InnoDBClusterGVK     = GroupVersion.WithKind("InnoDBCluster")
	InnoDBClusterListGVK = GroupVersion.WithKind("InnoDBClusterList")
	MySQLBackupGVK       = GroupVersion.WithKind("MySQLBackup")
	MySQLBackupListGVK   = GroupVersion.WithKind("MySQLBackupList")

	InnoDBClusterGVR = GroupVersion.WithResource("innodbclusters")
	MySQLBackupGVR   = GroupVersion.WithResource("mysqlbackups")

	// VolumeSnapshotGVK is the CSI snapshot kind used by snapshot backups.
	VolumeSnapshotGVK = schema.GroupVersionKind{
		Group: "snapshot.storage.k8s.io", Version: "v1", Kind: "VolumeSnapshot",
	}
	VolumeSnapshotListGVK = schema.GroupVersionKind{
		Group: "snapshot.storage.k8s.io", Version: "v1", Kind: "VolumeSnapshotList",
	}

	// SchemeBuilder registers the CRD kinds as unstructured types.
	SchemeBuilder = runtime.NewSchemeBuilder(addKnownTypes)

	// AddToScheme adds the operator kinds to a runtime.Scheme.
	AddToScheme = SchemeBuilder.AddToScheme
)

// The operator works on these kinds through unstructured objects; they are
// registered so clients and RESTMappers built from the scheme recognize them.
func addKnownTypes(scheme *runtime.Scheme) error {
	for _, gvk := range []schema.GroupVersionKind{InnoDBClusterGVK, MySQLBackupGVK, VolumeSnapshotGVK} {
		scheme.AddKnownTypeWithName(gvk, &unstructured.Unstructured{})
	}
	for _, gvk := range []schema.GroupVersionKind{InnoDBClusterListGVK, MySQLBackupListGVK, VolumeSnapshotListGVK} {
		scheme.AddKnownTypeWithName(gvk, &unstructured.UnstructuredList{})
	}
	return nil
}

// NewInnoDBCluster returns an empty unstructured InnoDBCluster.
func NewInnoDBCluster() *unstructured.Unstructured {
	u := &unstructured.Unstructured{}
	u.SetGroupVersionKind(InnoDBClusterGVK)
	return u
}

// NewInnoDBClusterList returns an empty unstructured InnoDBClusterList.
func NewInnoDBClusterList() *unstructured.UnstructuredList {
	u := &unstructured.UnstructuredList{}
	u.SetGroupVersionKind(InnoDBClusterListGVK)
	return u
}

// NewMySQLBackup returns an empty unstructured MySQLBackup.
func NewMySQLBackup() *unstructured.Unstructured {
	u := &unstructured.Unstructured{}
	u.SetGroupVersionKind(MySQLBackupGVK)
	return u
}

// NewMySQLBackupList returns an empty unstructured MySQLBackupList.
func NewMySQLBackupList() *unstructured.UnstructuredList {
	u := &unstructured.UnstructuredList{}
	u.SetGroupVersionKind(MySQLBackupListGVK)
	return u
}

// NewVolumeSnapshot returns an empty unstructured VolumeSnapshot.
func NewVolumeSnapshot() *unstructured.Unstructured {
	u := &unstructured.Unstructured{}
	u.SetGroupVersionKind(VolumeSnapshotGVK)
	return u
}
