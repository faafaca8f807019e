package spec

import (
	"gitlab.prplanit.com/precisionplanit/mysql-operator/common"

	corev1 "k8s.io/api/core/v1"
)

// Backup method names as they appear in a BackupProfile.
const (
	MethodDumpInstance = "dumpInstance"
	MethodSnapshot     = "snapshot"
)

// BackupMethod is the capability a BackupProfile selects. Implementations
// are *DumpInstance and *Snapshot.
type BackupMethod interface {
	// Method returns the BackupProfile key of the variant.
	Method() string
	Storage() Storage

	copyMethod() BackupMethod
}

// DumpInstance is a logical dump written with mysqlsh util.dumpInstance.
type DumpInstance struct {
	DumpOptions map[string]any
	Sink        Storage
}

// Snapshot is a CSI volume snapshot of an instance's data volume.
type Snapshot struct {
	Sink                    Storage
	VolumeSnapshotClassName string
}

func (*DumpInstance) Method() string { return MethodDumpInstance }
func (*Snapshot) Method() string     { return MethodSnapshot }

func (d *DumpInstance) Storage() Storage { return d.Sink }
func (s *Snapshot) Storage() Storage     { return s.Sink }

func (d *DumpInstance) copyMethod() BackupMethod {
	return &DumpInstance{DumpOptions: copyDocument(d.DumpOptions), Sink: d.Sink.copyStorage()}
}

func (s *Snapshot) copyMethod() BackupMethod {
	return &Snapshot{Sink: s.Sink.copyStorage(), VolumeSnapshotClassName: s.VolumeSnapshotClassName}
}

// BackupProfile is a named backup configuration.
type BackupProfile struct {
	Name   string
	Method BackupMethod
}

// DeepCopy returns a copy sharing no state with p.
func (p *BackupProfile) DeepCopy() *BackupProfile {
	if p == nil {
		return nil
	}
	return &BackupProfile{Name: p.Name, Method: p.Method.copyMethod()}
}

// Configure wires the profile's storage into a pod spec.
func (p *BackupProfile) Configure(pod *corev1.PodSpec, container string) error {
	return p.Method.Storage().Configure(pod, container)
}

// ParseBackupProfile parses one BackupProfile. Exactly one of dumpInstance
// and snapshot must be set; errors name the path under prefix.<name>.
func ParseBackupProfile(doc map[string]any, prefix string) (*BackupProfile, error) {
	s := newSection(doc, prefix)
	name, err := s.requiredString("name")
	if err != nil {
		return nil, err
	}
	prefix += "." + name
	s = newSection(doc, prefix)

	dumpDoc, err := s.optionalDict(MethodDumpInstance)
	if err != nil {
		return nil, err
	}
	snapDoc, err := s.optionalDict(MethodSnapshot)
	if err != nil {
		return nil, err
	}

	// an empty method mapping counts as unset
	if len(dumpDoc) == 0 {
		dumpDoc = nil
	}
	if len(snapDoc) == 0 {
		snapDoc = nil
	}

	if dumpDoc != nil && snapDoc != nil {
		return nil, common.NewSpecError("Only one of dumpInstance or snapshot may be set in %s", prefix)
	}

	p := &BackupProfile{Name: name}
	switch {
	case dumpDoc != nil:
		p.Method, err = parseDumpInstance(s.child(MethodDumpInstance, dumpDoc))
	case snapDoc != nil:
		p.Method, err = parseSnapshot(s.child(MethodSnapshot, snapDoc))
	default:
		return nil, common.NewSpecError("One of dumpInstance or snapshot must be set in a %s", prefix)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func parseDumpInstance(s section) (*DumpInstance, error) {
	opts, err := s.optionalDict("dumpOptions")
	if err != nil {
		return nil, err
	}
	storageDoc, err := s.requiredDict("storage")
	if err != nil {
		return nil, err
	}
	sink, err := ParseStorage(storageDoc, s.path("storage"))
	if err != nil {
		return nil, err
	}
	if opts == nil {
		opts = map[string]any{}
	}
	return &DumpInstance{DumpOptions: copyDocument(opts), Sink: sink}, nil
}

func parseSnapshot(s section) (*Snapshot, error) {
	storageDoc, err := s.requiredDict("storage")
	if err != nil {
		return nil, err
	}
	sink, err := ParseStorage(storageDoc, s.path("storage"), BackendOCIObjectStorage, BackendPersistentVolumeClaim)
	if err != nil {
		return nil, err
	}
	class, err := s.optionalString("volumeSnapshotClassName", "")
	if err != nil {
		return nil, err
	}
	return &Snapshot{Sink: sink, VolumeSnapshotClassName: class}, nil
}
