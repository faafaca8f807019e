package spec

import (
	"fmt"
	"path"
	"strings"

	"gitlab.prplanit.com/precisionplanit/mysql-operator/common"

	corev1 "k8s.io/api/core/v1"
)

// Storage backend keys as they appear in a StorageSpec.
const (
	BackendOCIObjectStorage      = "ociObjectStorage"
	BackendS3                    = "s3"
	BackendPersistentVolumeClaim = "persistentVolumeClaim"
)

// AllBackends lists every supported storage backend.
var AllBackends = []string{BackendOCIObjectStorage, BackendS3, BackendPersistentVolumeClaim}

// Mount points used inside backup and restore containers.
const (
	ociConfigDir   = "/.oci"
	s3ConfigDir    = "/mysqlsh/.aws"
	pvcStorageDir  = "/mnt/storage"
	ociVolumeName  = "oci-credentials"
	s3VolumeName   = "s3-credentials"
	pvcVolumeName  = "backup-storage"
	defaultProfile = "DEFAULT"
)

// Storage is a backup destination. Implementations are
// *OCIObjectStorage, *S3Storage and *PersistentVolumeClaimStorage.
type Storage interface {
	// Backend returns the StorageSpec key of the variant.
	Backend() string
	// Configure injects the volumes, mounts and environment a pod needs to
	// reach the storage from the named container.
	Configure(pod *corev1.PodSpec, container string) error
	// Target returns where an artifact called name is written and the
	// mysqlsh options that address it.
	Target(name string) Target

	copyStorage() Storage
}

// Target addresses one artifact on a storage backend.
type Target struct {
	URL     string
	Options map[string]any
}

// OCIObjectStorage writes to an OCI Object Storage bucket.
type OCIObjectStorage struct {
	Prefix     string
	BucketName string
	// Credentials names a Secret holding an OCI config file and key.
	Credentials string
}

// S3Storage writes to an S3 compatible bucket.
type S3Storage struct {
	Prefix     string
	BucketName string
	// Config names a Secret holding AWS "config" and "credentials" files.
	Config   string
	Profile  string
	Endpoint string
}

// PersistentVolumeClaimStorage writes to a mounted volume claim.
type PersistentVolumeClaimStorage struct {
	ClaimName string
	ReadOnly  bool
}

func (*OCIObjectStorage) Backend() string             { return BackendOCIObjectStorage }
func (*S3Storage) Backend() string                    { return BackendS3 }
func (*PersistentVolumeClaimStorage) Backend() string { return BackendPersistentVolumeClaim }

func (s *OCIObjectStorage) copyStorage() Storage             { c := *s; return &c }
func (s *S3Storage) copyStorage() Storage                    { c := *s; return &c }
func (s *PersistentVolumeClaimStorage) copyStorage() Storage { c := *s; return &c }

func (s *OCIObjectStorage) Configure(pod *corev1.PodSpec, container string) error {
	c, err := findContainer(pod, container)
	if err != nil {
		return err
	}
	addVolume(pod, corev1.Volume{
		Name: ociVolumeName,
		VolumeSource: corev1.VolumeSource{
			Secret: &corev1.SecretVolumeSource{SecretName: s.Credentials},
		},
	})
	addMount(c, corev1.VolumeMount{Name: ociVolumeName, MountPath: ociConfigDir, ReadOnly: true})
	return nil
}

func (s *OCIObjectStorage) Target(name string) Target {
	return Target{
		URL: joinPrefix(s.Prefix, name),
		Options: map[string]any{
			"osBucketName":  s.BucketName,
			"ociConfigFile": ociConfigDir + "/config",
			"ociProfile":    defaultProfile,
		},
	}
}

func (s *S3Storage) Configure(pod *corev1.PodSpec, container string) error {
	c, err := findContainer(pod, container)
	if err != nil {
		return err
	}
	addVolume(pod, corev1.Volume{
		Name: s3VolumeName,
		VolumeSource: corev1.VolumeSource{
			Secret: &corev1.SecretVolumeSource{SecretName: s.Config},
		},
	})
	addMount(c, corev1.VolumeMount{Name: s3VolumeName, MountPath: s3ConfigDir, ReadOnly: true})
	return nil
}

func (s *S3Storage) Target(name string) Target {
	opts := map[string]any{
		"s3BucketName":      s.BucketName,
		"s3ConfigFile":      s3ConfigDir + "/config",
		"s3CredentialsFile": s3ConfigDir + "/credentials",
		"s3Profile":         s.profile(),
	}
	if s.Endpoint != "" {
		opts["s3EndpointOverride"] = s.Endpoint
	}
	return Target{URL: joinPrefix(s.Prefix, name), Options: opts}
}

func (s *S3Storage) profile() string {
	if s.Profile == "" {
		return "default"
	}
	return s.Profile
}

func (s *PersistentVolumeClaimStorage) Configure(pod *corev1.PodSpec, container string) error {
	c, err := findContainer(pod, container)
	if err != nil {
		return err
	}
	addVolume(pod, corev1.Volume{
		Name: pvcVolumeName,
		VolumeSource: corev1.VolumeSource{
			PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{
				ClaimName: s.ClaimName,
				ReadOnly:  s.ReadOnly,
			},
		},
	})
	addMount(c, corev1.VolumeMount{Name: pvcVolumeName, MountPath: pvcStorageDir, ReadOnly: s.ReadOnly})
	return nil
}

func (s *PersistentVolumeClaimStorage) Target(name string) Target {
	return Target{URL: path.Join(pvcStorageDir, name), Options: map[string]any{}}
}

// ParseStorage parses a StorageSpec. Exactly one backend among allowed (all
// backends when none are given) must be set.
func ParseStorage(doc map[string]any, prefix string, allowed ...string) (Storage, error) {
	if len(allowed) == 0 {
		allowed = AllBackends
	}
	s := newSection(doc, prefix)

	for _, b := range AllBackends {
		if s.has(b) && !contains(allowed, b) {
			return nil, common.NewSpecError("%s is not supported here, expected one of %s",
				s.path(b), strings.Join(allowed, ", "))
		}
	}

	var found []string
	for _, b := range allowed {
		if s.has(b) {
			found = append(found, b)
		}
	}
	switch len(found) {
	case 0:
		return nil, common.NewSpecError("One of %s must be set in %s", strings.Join(allowed, ", "), prefix)
	case 1:
	default:
		return nil, common.NewSpecError("Only one of %s may be set in %s", strings.Join(found, ", "), prefix)
	}

	backend := found[0]
	body, err := s.requiredDict(backend)
	if err != nil {
		return nil, err
	}
	b := s.child(backend, body)

	switch backend {
	case BackendOCIObjectStorage:
		st := &OCIObjectStorage{}
		if st.Prefix, err = b.optionalString("prefix", ""); err != nil {
			return nil, err
		}
		if st.BucketName, err = b.requiredString("bucketName"); err != nil {
			return nil, err
		}
		if st.Credentials, err = b.requiredString("credentials"); err != nil {
			return nil, err
		}
		return st, nil
	case BackendS3:
		st := &S3Storage{}
		if st.Prefix, err = b.optionalString("prefix", ""); err != nil {
			return nil, err
		}
		if st.BucketName, err = b.requiredString("bucketName"); err != nil {
			return nil, err
		}
		if st.Config, err = b.requiredString("config"); err != nil {
			return nil, err
		}
		if st.Profile, err = b.optionalString("profile", ""); err != nil {
			return nil, err
		}
		if st.Endpoint, err = b.optionalString("endpoint", ""); err != nil {
			return nil, err
		}
		return st, nil
	case BackendPersistentVolumeClaim:
		st := &PersistentVolumeClaimStorage{}
		if st.ClaimName, err = b.requiredString("claimName"); err != nil {
			return nil, err
		}
		if st.ReadOnly, err = b.optionalBool("readOnly", false); err != nil {
			return nil, err
		}
		return st, nil
	}
	return nil, fmt.Errorf("unhandled storage backend %q", backend)
}

func findContainer(pod *corev1.PodSpec, name string) (*corev1.Container, error) {
	for i := range pod.Containers {
		if pod.Containers[i].Name == name {
			return &pod.Containers[i], nil
		}
	}
	for i := range pod.InitContainers {
		if pod.InitContainers[i].Name == name {
			return &pod.InitContainers[i], nil
		}
	}
	return nil, fmt.Errorf("container %q not found in pod spec", name)
}

func addVolume(pod *corev1.PodSpec, v corev1.Volume) {
	for i := range pod.Volumes {
		if pod.Volumes[i].Name == v.Name {
			pod.Volumes[i] = v
			return
		}
	}
	pod.Volumes = append(pod.Volumes, v)
}

func addMount(c *corev1.Container, m corev1.VolumeMount) {
	for i := range c.VolumeMounts {
		if c.VolumeMounts[i].Name == m.Name {
			c.VolumeMounts[i] = m
			return
		}
	}
	c.VolumeMounts = append(c.VolumeMounts, m)
}

func joinPrefix(prefix, name string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
