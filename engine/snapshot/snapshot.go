// Package snapshot implements the snapshot backup method: a CSI
// VolumeSnapshot of one member's data volume.
package snapshot

import (
	"context"
	"fmt"
	"time"

	v2alpha1 "gitlab.prplanit.com/precisionplanit/mysql-operator/api/v2alpha1"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/common"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/engine"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/output"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/spec"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/api/resource"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/apimachinery/pkg/util/wait"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

const (
	defaultPollInterval = 5 * time.Second
	defaultTimeout      = 30 * time.Minute
)

func init() {
	engine.Register(spec.MethodSnapshot, func() engine.Method { return &Method{} })
}

// Method implements the snapshot backup method.
type Method struct {
	PollInterval time.Duration
	Timeout      time.Duration
}

func (m *Method) Name() string { return spec.MethodSnapshot }

func (m *Method) Backup(ctx context.Context, req *engine.Request) (map[string]any, error) {
	s, ok := req.Profile.Method.(*spec.Snapshot)
	if !ok {
		return nil, fmt.Errorf("profile %s is not a snapshot profile", req.Profile.Name)
	}
	src, err := engine.PickSource(req.Members)
	if err != nil {
		return nil, err
	}
	claim := v2alpha1.DataClaimName(req.Cluster.Name, src.Index)

	output.Section("Volume Snapshot")
	output.Field("Source", claim)
	output.Field("Snapshot", req.Output)

	snap := Build(req, claim, s.VolumeSnapshotClassName)
	if err := req.Client.Create(ctx, snap); err != nil && !apierrors.IsAlreadyExists(err) {
		return nil, fmt.Errorf("failed to create VolumeSnapshot %s: %w", req.Output, err)
	}
	common.InfoLog("Waiting for VolumeSnapshot %s/%s of %s", req.Namespace, req.Output, claim)

	ready, err := m.waitReady(ctx, req.Client, types.NamespacedName{Namespace: req.Namespace, Name: req.Output})
	if err != nil {
		return nil, err
	}

	info := map[string]any{
		"method":       spec.MethodSnapshot,
		"source":       claim,
		"snapshotName": req.Output,
	}
	if size, found, _ := unstructured.NestedString(ready.Object, "status", "restoreSize"); found {
		info["restoreSize"] = size
		if q, err := resource.ParseQuantity(size); err == nil {
			output.Success("Snapshot %s ready (%s)", req.Output, output.FormatBytes(q.Value()))
		}
	}
	return info, nil
}

// Build returns the VolumeSnapshot of claim for a backup request.
func Build(req *engine.Request, claim, className string) *unstructured.Unstructured {
	snap := v2alpha1.NewVolumeSnapshot()
	snap.SetNamespace(req.Namespace)
	snap.SetName(req.Output)
	labels := v2alpha1.ClusterLabels(req.Cluster.Name, v2alpha1.ComponentBackup)
	labels[v2alpha1.LabelBackup] = req.Backup
	snap.SetLabels(labels)

	source := map[string]any{"persistentVolumeClaimName": claim}
	specMap := map[string]any{"source": source}
	if className != "" {
		specMap["volumeSnapshotClassName"] = className
	}
	snap.Object["spec"] = specMap
	return snap
}

func (m *Method) waitReady(ctx context.Context, c client.Client, key types.NamespacedName) (*unstructured.Unstructured, error) {
	interval, timeout := m.PollInterval, m.Timeout
	if interval == 0 {
		interval = defaultPollInterval
	}
	if timeout == 0 {
		timeout = defaultTimeout
	}

	snap := v2alpha1.NewVolumeSnapshot()
	err := wait.PollUntilContextTimeout(ctx, interval, timeout, true, func(ctx context.Context) (bool, error) {
		if err := c.Get(ctx, key, snap); err != nil {
			return false, err
		}
		if msg, found, _ := unstructured.NestedString(snap.Object, "status", "error", "message"); found && msg != "" {
			return false, fmt.Errorf("VolumeSnapshot %s failed: %s", key.Name, msg)
		}
		ready, _, _ := unstructured.NestedBool(snap.Object, "status", "readyToUse")
		return ready, nil
	})
	if err != nil {
		return nil, fmt.Errorf("VolumeSnapshot %s not ready: %w", key.Name, err)
	}
	return snap, nil
}

// Delete removes the VolumeSnapshot recorded as the backup's output.
func (m *Method) Delete(ctx context.Context, req *engine.Request) error {
	snap := v2alpha1.NewVolumeSnapshot()
	snap.SetNamespace(req.Namespace)
	snap.SetName(req.Output)
	if err := req.Client.Delete(ctx, snap); err != nil && !apierrors.IsNotFound(err) {
		return fmt.Errorf("failed to delete VolumeSnapshot %s: %w", req.Output, err)
	}
	common.InfoLog("Deleted VolumeSnapshot %s/%s", req.Namespace, req.Output)
	return nil
}
