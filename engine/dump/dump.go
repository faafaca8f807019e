// Package dump implements the dumpInstance backup method: a logical dump
// of one online member written by mysqlsh util.dumpInstance.
package dump

import (
	"context"
	"fmt"
	"time"

	"gitlab.prplanit.com/precisionplanit/mysql-operator/common"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/engine"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/mysql"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/output"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/shell"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/spec"
)

func init() {
	engine.Register(spec.MethodDumpInstance, func() engine.Method { return &Method{} })
}

// Method implements the dumpInstance backup method.
type Method struct{}

func (m *Method) Name() string { return spec.MethodDumpInstance }

func (m *Method) Backup(ctx context.Context, req *engine.Request) (map[string]any, error) {
	d, ok := req.Profile.Method.(*spec.DumpInstance)
	if !ok {
		return nil, fmt.Errorf("profile %s is not a dumpInstance profile", req.Profile.Name)
	}
	if req.Runner == nil {
		return nil, fmt.Errorf("no command runner configured")
	}

	src, err := engine.PickSource(req.Members)
	if err != nil {
		return nil, err
	}
	target := d.Sink.Target(req.Output)

	output.Section("Dump Backup")
	output.Field("Source", src.Pod)
	output.Field("Storage", d.Sink.Backend())
	output.Field("Target", target.URL)

	opts := Options(d.DumpOptions, target.Options)
	sh := shell.NewClient(req.Runner, shell.URI(req.Credentials.User, src.Host, mysql.DefaultPort), req.Credentials.Password)

	start := time.Now()
	common.InfoLog("Running util.dumpInstance on %s into %s", src.Host, target.URL)
	info, err := sh.Dump(ctx, target.URL, opts)
	if err != nil {
		return nil, fmt.Errorf("dump of %s failed: %w", src.Pod, err)
	}

	info["source"] = src.Pod
	info["method"] = spec.MethodDumpInstance
	if _, ok := info["duration"]; !ok {
		info["duration"] = time.Since(start).Round(time.Second).String()
	}
	output.Success("Dump %s written from %s", req.Output, src.Pod)
	return info, nil
}

// Delete leaves dump artifacts in place. Removing objects from a bucket
// or files from a claim needs credentials the operator does not hold.
func (m *Method) Delete(_ context.Context, req *engine.Request) error {
	where := "its storage"
	if req.Profile != nil {
		where = req.Profile.Method.Storage().Backend() + " storage"
	}
	common.WarnLog("Backup %s/%s: dump %s is kept in %s; remove it there",
		req.Namespace, req.Backup, req.Output, where)
	return nil
}

// Options merges the profile's dumpOptions with the storage options that
// address the target. Storage options win on conflict.
func Options(dumpOptions, storage map[string]any) map[string]any {
	out := make(map[string]any, len(dumpOptions)+len(storage))
	for k, v := range dumpOptions {
		out[k] = v
	}
	for k, v := range storage {
		out[k] = v
	}
	return out
}
