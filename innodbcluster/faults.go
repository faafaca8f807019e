package innodbcluster

import (
	"fmt"

	"gitlab.prplanit.com/precisionplanit/mysql-operator/common"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/events"
)

// CrashLoopThreshold is the restart count after which a crash looping
// container is treated as a fault instead of a transient restart.
const CrashLoopThreshold = 3

// waitingFaults maps container waiting reasons the kubelet cannot resolve
// on its own to the event reason they surface with.
var waitingFaults = map[string]string{
	"ErrImagePull":               common.ReasonImagePullFailed,
	"ImagePullBackOff":           common.ReasonImagePullFailed,
	"ErrImageNeverPull":          common.ReasonImagePullFailed,
	"InvalidImageName":           common.ReasonImagePullFailed,
	"CreateContainerConfigError": common.ReasonContainerConfigError,
	"CreateContainerError":       common.ReasonContainerConfigError,
}

// Fault is an unrecoverable pod condition caused by the cluster definition.
type Fault struct {
	Index    int
	Pod      string
	Reason   string
	Detail   string
	Restarts int32
}

// ClassifyPod returns the fault of a pod, if any.
func ClassifyPod(p PodState) (Fault, bool) {
	if p.Deleting {
		return Fault{}, false
	}
	for _, w := range p.Waiting {
		if reason, ok := waitingFaults[w.Reason]; ok {
			return Fault{Index: p.Index, Pod: p.Name, Reason: reason, Detail: w.Reason}, true
		}
	}
	for _, w := range p.Waiting {
		if w.Reason == "CrashLoopBackOff" && p.RestartCount >= CrashLoopThreshold {
			return Fault{Index: p.Index, Pod: p.Name, Reason: common.ReasonCrashLoop, Detail: w.Reason, Restarts: p.RestartCount}, true
		}
	}
	return Fault{}, false
}

func (f Fault) data() map[string]any {
	return map[string]any{"pod": f.Pod, "detail": f.Detail, "restarts": f.Restarts}
}

// Event returns the warning posted for the fault.
func (f Fault) Event() events.Event {
	return events.Warning(f.Reason, f.data())
}

// Err returns the fault as a RuntimeFault error.
func (f Fault) Err() error {
	return common.NewRuntimeFault(f.Reason, "%s", events.Message(f.Reason, f.data()))
}

func (f Fault) String() string {
	return fmt.Sprintf("%s: %s", f.Pod, f.Detail)
}
