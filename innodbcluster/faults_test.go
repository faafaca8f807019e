package innodbcluster

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"gitlab.prplanit.com/precisionplanit/mysql-operator/common"
)

func TestClassifyPod(t *testing.T) {
	tests := map[string]struct {
		pod        PodState
		wantFault  bool
		wantReason string
	}{
		"healthy": {
			pod: PodState{Name: "c-0", Ready: true},
		},
		"image pull backoff": {
			pod:        PodState{Name: "c-0", Waiting: []WaitingReason{{Container: "mysql", Reason: "ImagePullBackOff"}}},
			wantFault:  true,
			wantReason: common.ReasonImagePullFailed,
		},
		"config error in init container": {
			pod:        PodState{Name: "c-0", Waiting: []WaitingReason{{Container: "initconf", Reason: "CreateContainerConfigError"}}},
			wantFault:  true,
			wantReason: common.ReasonContainerConfigError,
		},
		"crash loop below threshold": {
			pod: PodState{Name: "c-0", RestartCount: 1, Waiting: []WaitingReason{{Reason: "CrashLoopBackOff"}}},
		},
		"crash loop at threshold": {
			pod:        PodState{Name: "c-0", RestartCount: CrashLoopThreshold, Waiting: []WaitingReason{{Reason: "CrashLoopBackOff"}}},
			wantFault:  true,
			wantReason: common.ReasonCrashLoop,
		},
		"pull fault wins over crash loop": {
			pod: PodState{Name: "c-0", RestartCount: 5, Waiting: []WaitingReason{
				{Container: "sidecar", Reason: "CrashLoopBackOff"},
				{Container: "mysql", Reason: "ErrImagePull"},
			}},
			wantFault:  true,
			wantReason: common.ReasonImagePullFailed,
		},
		"deleting pod is ignored": {
			pod: PodState{Name: "c-0", Deleting: true, Waiting: []WaitingReason{{Reason: "ImagePullBackOff"}}},
		},
		"transient container creating": {
			pod: PodState{Name: "c-0", Waiting: []WaitingReason{{Reason: "ContainerCreating"}}},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			f, ok := ClassifyPod(tc.pod)
			assert.Equal(t, tc.wantFault, ok)
			assert.Equal(t, tc.wantReason, f.Reason)
		})
	}
}

func TestFault_EventAndError(t *testing.T) {
	f := Fault{Index: 1, Pod: "mycluster-1", Reason: common.ReasonCrashLoop, Detail: "CrashLoopBackOff", Restarts: 4}

	ev := f.Event()
	assert.Equal(t, "Warning", ev.Type)
	assert.Equal(t, common.ReasonCrashLoop, ev.Reason)
	assert.Equal(t, "Pod mycluster-1 is crash looping after 4 restarts", ev.Message)

	err := f.Err()
	assert.True(t, common.IsKind(err, common.RuntimeFault))
	assert.Equal(t, common.ReasonCrashLoop, common.ReasonOf(err, ""))
	assert.Equal(t, ev.Message, common.MessageOf(err))
	assert.Equal(t, "mycluster-1: CrashLoopBackOff", f.String())
}
