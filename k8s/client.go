package k8s

import (
	"fmt"
	"sync"

	v2alpha1 "gitlab.prplanit.com/precisionplanit/mysql-operator/api/v2alpha1"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/common"

	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

// Clients holds the initialized Kubernetes client set.
type Clients struct {
	Clientset kubernetes.Interface
	// Runtime reads and writes the operator kinds and core objects
	// directly against the API server, without a cache.
	Runtime    client.Client
	RestConfig *rest.Config
}

var (
	clients     *Clients
	clientsOnce sync.Once
	clientsErr  error
)

// NewScheme returns a scheme holding the core kinds and the operator's
// custom resources.
func NewScheme() *runtime.Scheme {
	s := runtime.NewScheme()
	_ = clientgoscheme.AddToScheme(s)
	_ = v2alpha1.AddToScheme(s)
	return s
}

// RestConfig resolves the API server configuration. An empty kubeconfig
// falls back to $KUBECONFIG, then in-cluster, then ~/.kube/config.
func RestConfig(kubeconfig string) (*rest.Config, error) {
	if kubeconfig == "" {
		kubeconfig = common.EnvRaw("KUBECONFIG", "")
	}
	if kubeconfig != "" {
		return clientcmd.BuildConfigFromFlags("", kubeconfig)
	}
	cfg, err := rest.InClusterConfig()
	if err == nil {
		return cfg, nil
	}
	loadingRules := clientcmd.NewDefaultClientConfigLoadingRules()
	return clientcmd.NewNonInteractiveDeferredLoadingClientConfig(
		loadingRules, &clientcmd.ConfigOverrides{}).ClientConfig()
}

// Init builds the clients once per process; later calls return the first
// result. The backup Job and the operator share this path.
func Init(kubeconfig string) (*Clients, error) {
	clientsOnce.Do(func() {
		clients, clientsErr = newClients(kubeconfig)
	})
	return clients, clientsErr
}

func newClients(kubeconfig string) (*Clients, error) {
	cfg, err := RestConfig(kubeconfig)
	if err != nil {
		return nil, fmt.Errorf("resolving kubeconfig: %w", err)
	}
	cfg = rest.CopyConfig(cfg)
	cfg.UserAgent = rest.DefaultKubernetesUserAgent() + " mysql-operator"
	cfg.QPS = float32(common.EnvInt("KUBE_API_QPS", 20))
	cfg.Burst = common.EnvInt("KUBE_API_BURST", 40)

	cs, err := kubernetes.NewForConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating clientset: %w", err)
	}
	rt, err := client.New(cfg, client.Options{Scheme: NewScheme()})
	if err != nil {
		return nil, fmt.Errorf("creating runtime client: %w", err)
	}
	return &Clients{Clientset: cs, Runtime: rt, RestConfig: cfg}, nil
}

// GetClients returns the clients built by Init, or nil before it ran.
func GetClients() *Clients {
	return clients
}
