package controller

import (
	"reflect"
	"sync"
	"time"

	"gitlab.prplanit.com/precisionplanit/mysql-operator/common"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/metrics"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/spec"

	"github.com/robfig/cron/v3"
	"k8s.io/client-go/tools/record"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

// scheduledCluster tracks the cron entries of one cluster.
type scheduledCluster struct {
	namespace string
	name      string
	schedules []spec.BackupSchedule
	ids       []cron.EntryID
}

// Scheduler creates MySQLBackups from the backupSchedules of every
// cluster it has been handed by the cluster reconciler.
type Scheduler struct {
	cron     *cron.Cron
	client   client.Client
	recorder record.EventRecorder
	managed  map[string]*scheduledCluster // key: "namespace/name"
	mu       sync.RWMutex

	// Active gates ticks on standby replicas.
	Active func() bool
	Now    func() time.Time
}

// NewScheduler creates a scheduler writing MySQLBackups through c.
func NewScheduler(c client.Client, recorder record.EventRecorder) *Scheduler {
	return &Scheduler{
		cron:     cron.New(cron.WithParser(spec.ScheduleParser)),
		client:   c,
		recorder: recorder,
		managed:  make(map[string]*scheduledCluster),
	}
}

// Start begins the cron scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
	common.InfoLog("Backup scheduler started")
}

// Stop halts the cron scheduler and waits for running ticks.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	common.InfoLog("Backup scheduler stopped")
}

// Register adds or updates the schedules of cluster c. Entries are only
// re-created when the enabled schedules changed.
func (s *Scheduler) Register(key string, c *spec.ClusterSpec) {
	var enabled []spec.BackupSchedule
	for _, sch := range c.BackupSchedules {
		if sch.Enabled {
			enabled = append(enabled, sch)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.managed[key]; ok {
		if reflect.DeepEqual(existing.schedules, enabled) {
			return
		}
		s.deregisterLocked(key)
	}
	if len(enabled) == 0 {
		return
	}

	entry := &scheduledCluster{namespace: c.Namespace, name: c.Name, schedules: enabled}
	for _, sch := range enabled {
		name := sch.Name
		id, err := s.cron.AddFunc(sch.Schedule, func() {
			s.tick(entry.namespace, entry.name, name)
		})
		if err != nil {
			common.ErrorLog("Failed to schedule backup %s for %s: %v", name, key, err)
			continue
		}
		entry.ids = append(entry.ids, id)
		common.InfoLog("Scheduled backup %s for %s (%s)", name, key, sch.Schedule)
	}

	s.managed[key] = entry
	s.updateManagedGauge()
}

// Deregister removes every schedule of a cluster.
func (s *Scheduler) Deregister(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deregisterLocked(key)
}

func (s *Scheduler) deregisterLocked(key string) {
	entry, ok := s.managed[key]
	if !ok {
		return
	}
	for _, id := range entry.ids {
		s.cron.Remove(id)
	}
	delete(s.managed, key)
	common.InfoLog("Deregistered %s from scheduler", key)
	s.updateManagedGauge()
}

// ManagedCount returns the number of clusters with active schedules.
func (s *Scheduler) ManagedCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.managed)
}

// Schedules returns the schedule names registered for key.
func (s *Scheduler) Schedules(key string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.managed[key]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(entry.schedules))
	for _, sch := range entry.schedules {
		names = append(names, sch.Name)
	}
	return names
}

// updateManagedGauge must be called with s.mu held.
func (s *Scheduler) updateManagedGauge() {
	metrics.RecordManagedSchedules(len(s.managed))
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}
