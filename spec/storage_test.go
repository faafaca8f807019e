package spec

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
)

func TestParseStorageArity(t *testing.T) {
	_, err := ParseStorage(map[string]any{}, "spec.initDB.dump.storage")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "One of ociObjectStorage, s3, persistentVolumeClaim must be set in spec.initDB.dump.storage")

	_, err = ParseStorage(map[string]any{
		"ociObjectStorage":      map[string]any{"bucketName": "b", "credentials": "c"},
		"persistentVolumeClaim": map[string]any{"claimName": "pvc"},
	}, "spec.x.storage")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Only one of ociObjectStorage, persistentVolumeClaim may be set in spec.x.storage")

	_, err = ParseStorage(map[string]any{
		"ociObjectStorage": map[string]any{"bucketName": "b"},
	}, "spec.x.storage")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing required field spec.x.storage.ociObjectStorage.credentials")
}

func TestStorageConfigure(t *testing.T) {
	tests := map[string]struct {
		storage Storage
		volume  corev1.Volume
		mount   corev1.VolumeMount
	}{
		"oci": {
			storage: &OCIObjectStorage{BucketName: "b", Credentials: "oci-creds"},
			volume: corev1.Volume{Name: "oci-credentials", VolumeSource: corev1.VolumeSource{
				Secret: &corev1.SecretVolumeSource{SecretName: "oci-creds"},
			}},
			mount: corev1.VolumeMount{Name: "oci-credentials", MountPath: "/.oci", ReadOnly: true},
		},
		"s3": {
			storage: &S3Storage{BucketName: "b", Config: "aws"},
			volume: corev1.Volume{Name: "s3-credentials", VolumeSource: corev1.VolumeSource{
				Secret: &corev1.SecretVolumeSource{SecretName: "aws"},
			}},
			mount: corev1.VolumeMount{Name: "s3-credentials", MountPath: "/mysqlsh/.aws", ReadOnly: true},
		},
		"pvc": {
			storage: &PersistentVolumeClaimStorage{ClaimName: "backups"},
			volume: corev1.Volume{Name: "backup-storage", VolumeSource: corev1.VolumeSource{
				PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{ClaimName: "backups"},
			}},
			mount: corev1.VolumeMount{Name: "backup-storage", MountPath: "/mnt/storage"},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			pod := &corev1.PodSpec{Containers: []corev1.Container{{Name: "operator-backup-job"}}}
			require.NoError(t, tc.storage.Configure(pod, "operator-backup-job"))
			// a second call must not duplicate wiring
			require.NoError(t, tc.storage.Configure(pod, "operator-backup-job"))

			if diff := cmp.Diff([]corev1.Volume{tc.volume}, pod.Volumes); diff != "" {
				t.Errorf("volumes mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff([]corev1.VolumeMount{tc.mount}, pod.Containers[0].VolumeMounts); diff != "" {
				t.Errorf("mounts mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestStorageConfigureUnknownContainer(t *testing.T) {
	pod := &corev1.PodSpec{Containers: []corev1.Container{{Name: "mysql"}}}
	err := (&PersistentVolumeClaimStorage{ClaimName: "x"}).Configure(pod, "missing")
	assert.Error(t, err)
}

func TestStorageTarget(t *testing.T) {
	oci := (&OCIObjectStorage{Prefix: "/backups/", BucketName: "dumps"}).Target("dump-test-20200729-004252")
	assert.Equal(t, "backups/dump-test-20200729-004252", oci.URL)
	assert.Equal(t, "dumps", oci.Options["osBucketName"])

	s3 := (&S3Storage{BucketName: "b", Endpoint: "https://minio:9000"}).Target("d")
	assert.Equal(t, "d", s3.URL)
	assert.Equal(t, "default", s3.Options["s3Profile"])
	assert.Equal(t, "https://minio:9000", s3.Options["s3EndpointOverride"])

	pvc := (&PersistentVolumeClaimStorage{ClaimName: "x"}).Target("d")
	assert.Equal(t, "/mnt/storage/d", pvc.URL)
}
