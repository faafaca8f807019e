package controller

import (
	"context"
	"fmt"

	v2alpha1 "gitlab.prplanit.com/precisionplanit/mysql-operator/api/v2alpha1"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/common"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/spec"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

// ClusterLookup resolves InnoDBClusters through a Kubernetes client.
type ClusterLookup struct {
	Client   client.Reader
	Defaults common.Defaults
}

// Resolve reads and validates namespace/name.
func (l *ClusterLookup) Resolve(ctx context.Context, namespace, name string) (*spec.ClusterSpec, error) {
	obj := v2alpha1.NewInnoDBCluster()
	if err := l.Client.Get(ctx, types.NamespacedName{Namespace: namespace, Name: name}, obj); err != nil {
		if apierrors.IsNotFound(err) {
			return nil, fmt.Errorf("%s/%s: %w", namespace, name, spec.ErrClusterNotFound)
		}
		return nil, common.NewTransportError(err, "failed to get InnoDBCluster %s/%s", namespace, name)
	}
	doc, _, _ := unstructured.NestedMap(obj.Object, "spec")
	return spec.ParseClusterSpec(namespace, name, doc, l.Defaults)
}
