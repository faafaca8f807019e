package spec

import (
	"fmt"

	"gitlab.prplanit.com/precisionplanit/mysql-operator/common"

	"github.com/hashicorp/go-version"
	"github.com/robfig/cron/v3"
	corev1 "k8s.io/api/core/v1"
)

// Instance count bounds for an InnoDBCluster.
const (
	MinInstances = 1
	MaxInstances = 9

	DefaultBaseServerID = 1000
	maxBaseServerID     = 4294967195
)

// Volume retention policies.
const (
	RetentionDelete = "Delete"
	RetentionRetain = "Retain"
)

// ScheduleParser accepts five-field crontab expressions, an optional
// leading seconds field, and descriptors such as @daily.
var ScheduleParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ClusterSpec is the validated desired state of an InnoDBCluster.
type ClusterSpec struct {
	Namespace string
	Name      string

	Instances          int
	Version            string
	ImageRepository    string
	ImagePullPolicy    corev1.PullPolicy
	ImagePullSecrets   []corev1.LocalObjectReference
	ServiceAccountName string
	SecretName         string
	BaseServerID       int64
	MyCnf              string

	// InitDB is nil when the first instance starts with an empty data set.
	InitDB          InitDB
	BackupProfiles  []*BackupProfile
	BackupSchedules []BackupSchedule
	VolumeRetention RetentionPolicy

	OperatorImage           string
	OperatorImagePullPolicy corev1.PullPolicy
}

// InitDB seeds the first instance of a new cluster. Implementations are
// *CloneInitDB and *DumpInitDB.
type InitDB interface {
	initDB()
}

// CloneInitDB clones the first instance from an external donor.
type CloneInitDB struct {
	DonorURL string
	RootUser string
	// SecretName holds the donor password under key rootPassword.
	SecretName string
}

// DumpInitDB loads a dump into the first instance.
type DumpInitDB struct {
	Name    string
	Path    string
	Options map[string]any
	Storage Storage
}

func (*CloneInitDB) initDB() {}
func (*DumpInitDB) initDB()  {}

// BackupSchedule creates a MySQLBackup on every tick of Schedule.
type BackupSchedule struct {
	Name             string
	Schedule         string
	Source           ProfileSource
	DeleteBackupData bool
	Enabled          bool
}

// RetentionPolicy controls what happens to data volumes on cluster
// deletion and on scale-in.
type RetentionPolicy struct {
	WhenDeleted string
	WhenScaled  string
}

// Key returns namespace/name.
func (c *ClusterSpec) Key() string {
	return c.Namespace + "/" + c.Name
}

// Image returns the server image reference.
func (c *ClusterSpec) Image() string {
	return c.ImageRepository + "/mysql-server:" + c.Version
}

// BackupProfile returns a deep copy of the named profile, or nil.
func (c *ClusterSpec) BackupProfile(name string) *BackupProfile {
	for _, p := range c.BackupProfiles {
		if p.Name == name {
			return p.DeepCopy()
		}
	}
	return nil
}

// ResolveProfile returns a deep copy of the profile a source selects.
func (c *ClusterSpec) ResolveProfile(src ProfileSource) (*BackupProfile, error) {
	switch s := src.(type) {
	case EmbeddedProfile:
		return s.Profile.DeepCopy(), nil
	case ProfileReference:
		p := c.BackupProfile(s.Name)
		if p == nil {
			return nil, common.NewReferenceError("Invalid backupProfileName '%s' in cluster %s", s.Name, c.Key())
		}
		return p, nil
	}
	return nil, fmt.Errorf("unhandled profile source %T", src)
}

// ValidateVersion checks v against the supported range.
func ValidateVersion(v string, d common.Defaults) error {
	want, err := version.NewVersion(v)
	if err != nil {
		return common.NewSpecError("spec.version %q is not a valid version", v)
	}
	lo, err := version.NewVersion(d.MinVersion)
	if err != nil {
		return fmt.Errorf("invalid minimum supported version %q: %w", d.MinVersion, err)
	}
	hi, err := version.NewVersion(d.MaxVersion)
	if err != nil {
		return fmt.Errorf("invalid maximum supported version %q: %w", d.MaxVersion, err)
	}
	if want.LessThan(lo) || want.GreaterThan(hi) {
		return common.NewSpecError("spec.version is %s but must be between %s and %s", v, d.MinVersion, d.MaxVersion)
	}
	return nil
}

// ParseClusterSpec validates the .spec document of an InnoDBCluster, filling omitted
// values from d.
func ParseClusterSpec(namespace, name string, doc map[string]any, d common.Defaults) (*ClusterSpec, error) {
	s := newSection(doc, "spec")
	c := &ClusterSpec{Namespace: namespace, Name: name}
	var err error

	if c.SecretName, err = s.requiredString("secretName"); err != nil {
		return nil, err
	}

	instances, err := s.optionalInt("instances", 1)
	if err != nil {
		return nil, err
	}
	if instances < MinInstances || instances > MaxInstances {
		return nil, common.NewSpecError("spec.instances must be between %d and %d, got %d", MinInstances, MaxInstances, instances)
	}
	c.Instances = int(instances)

	if c.Version, err = s.optionalString("version", d.Version); err != nil {
		return nil, err
	}
	if err := ValidateVersion(c.Version, d); err != nil {
		return nil, err
	}

	if c.ImageRepository, err = s.optionalString("imageRepository", d.ImageRepository); err != nil {
		return nil, err
	}
	policy, err := s.optionalString("imagePullPolicy", d.ImagePullPolicy)
	if err != nil {
		return nil, err
	}
	switch corev1.PullPolicy(policy) {
	case corev1.PullAlways, corev1.PullIfNotPresent, corev1.PullNever:
		c.ImagePullPolicy = corev1.PullPolicy(policy)
	default:
		return nil, common.NewSpecError("spec.imagePullPolicy must be one of Always, IfNotPresent, Never, got %q", policy)
	}
	if c.ImagePullSecrets, err = parsePullSecrets(s); err != nil {
		return nil, err
	}
	if c.ServiceAccountName, err = s.optionalString("serviceAccountName", ""); err != nil {
		return nil, err
	}

	if c.BaseServerID, err = s.optionalInt("baseServerId", DefaultBaseServerID); err != nil {
		return nil, err
	}
	if c.BaseServerID < 0 || c.BaseServerID > maxBaseServerID {
		return nil, common.NewSpecError("spec.baseServerId must be between 0 and %d", maxBaseServerID)
	}
	if c.MyCnf, err = s.optionalString("mycnf", ""); err != nil {
		return nil, err
	}

	if c.InitDB, err = parseInitDB(s); err != nil {
		return nil, err
	}
	if c.BackupProfiles, err = parseBackupProfiles(s); err != nil {
		return nil, err
	}
	if c.BackupSchedules, err = parseBackupSchedules(s, c); err != nil {
		return nil, err
	}
	if c.VolumeRetention, err = parseRetention(s); err != nil {
		return nil, err
	}

	c.OperatorImage = d.OperatorImage
	c.OperatorImagePullPolicy = c.ImagePullPolicy
	return c, nil
}

func parsePullSecrets(s section) ([]corev1.LocalObjectReference, error) {
	list, err := s.optionalList("imagePullSecrets")
	if err != nil {
		return nil, err
	}
	var out []corev1.LocalObjectReference
	for i, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, common.NewSpecError("spec.imagePullSecrets[%d] expected to be a dict", i)
		}
		name, err := newSection(m, fmt.Sprintf("spec.imagePullSecrets[%d]", i)).requiredString("name")
		if err != nil {
			return nil, err
		}
		out = append(out, corev1.LocalObjectReference{Name: name})
	}
	return out, nil
}

func parseInitDB(s section) (InitDB, error) {
	doc, err := s.optionalDict("initDB")
	if err != nil || doc == nil {
		return nil, err
	}
	sec := s.child("initDB", doc)

	cloneDoc, err := sec.optionalDict("clone")
	if err != nil {
		return nil, err
	}
	dumpDoc, err := sec.optionalDict("dump")
	if err != nil {
		return nil, err
	}
	switch {
	case cloneDoc != nil && dumpDoc != nil:
		return nil, common.NewSpecError("Only one of clone or dump may be set in %s", sec.prefix)
	case cloneDoc != nil:
		return parseCloneInitDB(sec.child("clone", cloneDoc))
	case dumpDoc != nil:
		return parseDumpInitDB(sec.child("dump", dumpDoc))
	}
	return nil, common.NewSpecError("One of clone or dump must be set in %s", sec.prefix)
}

func parseCloneInitDB(s section) (*CloneInitDB, error) {
	c := &CloneInitDB{}
	var err error
	if c.DonorURL, err = s.requiredString("donorUrl"); err != nil {
		return nil, err
	}
	if c.RootUser, err = s.optionalString("rootUser", "root"); err != nil {
		return nil, err
	}
	ref, err := s.requiredDict("secretKeyRef")
	if err != nil {
		return nil, err
	}
	if c.SecretName, err = s.child("secretKeyRef", ref).requiredString("name"); err != nil {
		return nil, err
	}
	return c, nil
}

func parseDumpInitDB(s section) (*DumpInitDB, error) {
	d := &DumpInitDB{}
	var err error
	if d.Name, err = s.requiredString("name"); err != nil {
		return nil, err
	}
	if d.Path, err = s.optionalString("path", ""); err != nil {
		return nil, err
	}
	opts, err := s.optionalDict("options")
	if err != nil {
		return nil, err
	}
	d.Options = copyDocument(opts)
	storageDoc, err := s.requiredDict("storage")
	if err != nil {
		return nil, err
	}
	if d.Storage, err = ParseStorage(storageDoc, s.path("storage")); err != nil {
		return nil, err
	}
	return d, nil
}

func parseBackupProfiles(s section) ([]*BackupProfile, error) {
	list, err := s.optionalList("backupProfiles")
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var out []*BackupProfile
	for i, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, common.NewSpecError("spec.backupProfiles[%d] expected to be a dict", i)
		}
		p, err := ParseBackupProfile(m, "spec.backupProfiles")
		if err != nil {
			return nil, err
		}
		if seen[p.Name] {
			return nil, common.NewSpecError("spec.backupProfiles has duplicate profile name %q", p.Name)
		}
		seen[p.Name] = true
		out = append(out, p)
	}
	return out, nil
}

func parseBackupSchedules(s section, c *ClusterSpec) ([]BackupSchedule, error) {
	list, err := s.optionalList("backupSchedules")
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var out []BackupSchedule
	for i, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, common.NewSpecError("spec.backupSchedules[%d] expected to be a dict", i)
		}
		bs := newSection(m, "spec.backupSchedules")
		sched := BackupSchedule{}
		if sched.Name, err = bs.requiredString("name"); err != nil {
			return nil, err
		}
		if seen[sched.Name] {
			return nil, common.NewSpecError("spec.backupSchedules has duplicate schedule name %q", sched.Name)
		}
		seen[sched.Name] = true
		bs = newSection(m, "spec.backupSchedules."+sched.Name)

		if sched.Schedule, err = bs.requiredString("schedule"); err != nil {
			return nil, err
		}
		if _, err := ScheduleParser.Parse(sched.Schedule); err != nil {
			return nil, common.NewSpecError("%s is not a valid cron expression: %v", bs.path("schedule"), err)
		}
		if sched.Source, err = parseProfileSource(bs); err != nil {
			return nil, err
		}
		if ref, ok := sched.Source.(ProfileReference); ok && c.BackupProfile(ref.Name) == nil {
			return nil, common.NewReferenceError("Invalid backupProfileName '%s' in %s", ref.Name, bs.prefix)
		}
		if sched.DeleteBackupData, err = bs.optionalBool("deleteBackupData", false); err != nil {
			return nil, err
		}
		if sched.Enabled, err = bs.optionalBool("enabled", true); err != nil {
			return nil, err
		}
		out = append(out, sched)
	}
	return out, nil
}

func parseRetention(s section) (RetentionPolicy, error) {
	r := RetentionPolicy{WhenDeleted: RetentionDelete, WhenScaled: RetentionRetain}
	doc, err := s.optionalDict("podVolumeRetention")
	if err != nil || doc == nil {
		return r, err
	}
	rs := s.child("podVolumeRetention", doc)
	for key, dst := range map[string]*string{"whenDeleted": &r.WhenDeleted, "whenScaled": &r.WhenScaled} {
		v, err := rs.optionalString(key, *dst)
		if err != nil {
			return r, err
		}
		if v != RetentionDelete && v != RetentionRetain {
			return r, common.NewSpecError("%s must be Delete or Retain, got %q", rs.path(key), v)
		}
		*dst = v
	}
	return r, nil
}

// CompareVersions returns -1, 0 or 1 as a is older than, equal to or newer than b.
func CompareVersions(a, b string) (int, error) {
	va, err := version.NewVersion(a)
	if err != nil {
		return 0, err
	}
	vb, err := version.NewVersion(b)
	if err != nil {
		return 0, err
	}
	return va.Compare(vb), nil
}
