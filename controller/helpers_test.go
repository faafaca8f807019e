package controller

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	v2alpha1 "gitlab.prplanit.com/precisionplanit/mysql-operator/api/v2alpha1"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/common"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/mysql"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/shell"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/spec"

	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/tools/record"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"
	"sigs.k8s.io/controller-runtime/pkg/client/interceptor"
)

const testNamespace = "default"

var t0 = time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC)

func testDefaults() common.Defaults {
	return common.Defaults{
		ImageRepository:         "registry.local/mysql",
		Version:                 "8.4.6",
		MinVersion:              "8.0.24",
		MaxVersion:              "8.4.6",
		ImagePullPolicy:         "IfNotPresent",
		OperatorImage:           "registry.local/mysql/mysql-operator:8.4.6",
		ResyncInterval:          30 * time.Second,
		MaxConcurrentReconciles: 1,
	}
}

func newFakeClient(t *testing.T, funcs *interceptor.Funcs, objs ...client.Object) client.Client {
	t.Helper()
	scheme := runtime.NewScheme()
	require.NoError(t, clientgoscheme.AddToScheme(scheme))
	require.NoError(t, v2alpha1.AddToScheme(scheme))
	builder := fake.NewClientBuilder().
		WithScheme(scheme).
		WithObjects(objs...).
		WithStatusSubresource(v2alpha1.NewInnoDBCluster(), v2alpha1.NewMySQLBackup())
	if funcs != nil {
		builder = builder.WithInterceptorFuncs(*funcs)
	}
	return builder.Build()
}

func newCluster(name string, specDoc, status map[string]any) *unstructured.Unstructured {
	obj := v2alpha1.NewInnoDBCluster()
	obj.SetNamespace(testNamespace)
	obj.SetName(name)
	obj.Object["spec"] = specDoc
	if status != nil {
		obj.Object["status"] = status
	}
	return obj
}

func rootSecret() *corev1.Secret {
	return &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{Namespace: testNamespace, Name: "mypwds"},
		Data:       map[string][]byte{keyRootPassword: []byte("rootpw")},
	}
}

func adminSecret(cluster string) *corev1.Secret {
	return &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{Namespace: testNamespace, Name: v2alpha1.PrivateSecretName(cluster)},
		Data: map[string][]byte{
			keyAdminUser:     []byte(AdminUser),
			keyAdminPassword: []byte("adminpw"),
		},
	}
}

func readyPod(cluster string, index int) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Namespace: testNamespace,
			Name:      v2alpha1.PodName(cluster, index),
			Labels:    v2alpha1.ClusterLabels(cluster, v2alpha1.ComponentServer),
		},
		Status: corev1.PodStatus{
			Phase:      corev1.PodRunning,
			Conditions: []corev1.PodCondition{{Type: corev1.PodReady, Status: corev1.ConditionTrue}},
		},
	}
}

func clusterKey(name string) types.NamespacedName {
	return types.NamespacedName{Namespace: testNamespace, Name: name}
}

func getCluster(t *testing.T, c client.Client, name string) *unstructured.Unstructured {
	t.Helper()
	obj := v2alpha1.NewInnoDBCluster()
	require.NoError(t, c.Get(context.Background(), clusterKey(name), obj))
	return obj
}

// fakeProber answers from a fixed table; unknown hosts are unreachable.
type fakeProber map[string]mysql.Status

func (f fakeProber) Probe(_ context.Context, host string) (mysql.Status, error) {
	s, ok := f[host]
	if !ok {
		return mysql.Status{}, errors.New("connection refused")
	}
	return s, nil
}

func (f fakeProber) factory(mysql.Credentials) MemberProber { return f }

func host(cluster string, index int) string {
	return v2alpha1.InstanceHost(testNamespace, cluster, index)
}

type runCall struct {
	pod    string
	argv   []string
	env    map[string]string
	stdin  string
	script string
}

// recordingRunner records every mysqlsh invocation per pod. A script
// containing a key of failOn fails with its error.
type recordingRunner struct {
	mu     sync.Mutex
	calls  []runCall
	failOn map[string]error
}

func (r *recordingRunner) For(_, pod string) shell.Runner {
	return podRecorder{r: r, pod: pod}
}

func (r *recordingRunner) Calls() []runCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]runCall(nil), r.calls...)
}

type podRecorder struct {
	r   *recordingRunner
	pod string
}

func (p podRecorder) Run(_ context.Context, argv []string, env map[string]string, stdin io.Reader) (*shell.Result, error) {
	in := ""
	if stdin != nil {
		b, _ := io.ReadAll(stdin)
		in = string(b)
	}
	call := runCall{pod: p.pod, argv: argv, env: env, stdin: in, script: argv[len(argv)-1]}
	p.r.mu.Lock()
	p.r.calls = append(p.r.calls, call)
	p.r.mu.Unlock()
	for needle, err := range p.r.failOn {
		if strings.Contains(call.script, needle) {
			return &shell.Result{Stderr: err.Error()}, err
		}
	}
	return &shell.Result{}, nil
}

func drain(rec *record.FakeRecorder) []string {
	var out []string
	for {
		select {
		case e := <-rec.Events:
			out = append(out, e)
		default:
			return out
		}
	}
}

func parseCluster(t *testing.T, name string, doc map[string]any) *spec.ClusterSpec {
	t.Helper()
	c, err := spec.ParseClusterSpec(testNamespace, name, doc, testDefaults())
	require.NoError(t, err)
	return c
}

func pvcProfile(name string) map[string]any {
	return map[string]any{
		"name": name,
		"dumpInstance": map[string]any{
			"storage": map[string]any{"persistentVolumeClaim": map[string]any{"claimName": "backups"}},
		},
	}
}
