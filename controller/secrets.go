package controller

import (
	"context"
	"fmt"

	v2alpha1 "gitlab.prplanit.com/precisionplanit/mysql-operator/api/v2alpha1"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/common"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/mysql"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/spec"

	"github.com/sethvargo/go-password/password"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"
)

// AdminUser is the account the operator administers the group with.
const AdminUser = "mysqladmin"

// Keys of the user supplied root secret and the private admin secret.
const (
	keyRootUser     = "rootUser"
	keyRootHost     = "rootHost"
	keyRootPassword = "rootPassword"

	keyAdminUser     = "clusterAdminUsername"
	keyAdminPassword = "clusterAdminPassword"

	defaultRootUser = "root"
)

// Accounts are the credentials used against a cluster's instances.
type Accounts struct {
	Root  mysql.Credentials
	Admin mysql.Credentials
}

// BuildPrivateSecret returns the admin account secret with a freshly
// generated password.
func BuildPrivateSecret(c *spec.ClusterSpec) (*corev1.Secret, error) {
	pw, err := password.Generate(32, 8, 0, false, true)
	if err != nil {
		return nil, fmt.Errorf("failed to generate admin password: %w", err)
	}
	return &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:      v2alpha1.PrivateSecretName(c.Name),
			Namespace: c.Namespace,
			Labels:    v2alpha1.ClusterLabels(c.Name, v2alpha1.ComponentServer),
		},
		Type: corev1.SecretTypeOpaque,
		StringData: map[string]string{
			keyAdminUser:     AdminUser,
			keyAdminPassword: pw,
		},
	}, nil
}

// LoadAccounts reads the root and admin credentials of a cluster. Both
// passwords are registered for log redaction.
func LoadAccounts(ctx context.Context, cl client.Client, c *spec.ClusterSpec) (Accounts, error) {
	var acc Accounts
	root, err := readSecret(ctx, cl, c.Namespace, c.SecretName)
	if err != nil {
		return acc, err
	}
	acc.Root = mysql.Credentials{User: string(root[keyRootUser]), Password: string(root[keyRootPassword])}
	if acc.Root.User == "" {
		acc.Root.User = defaultRootUser
	}
	if acc.Root.Password == "" {
		return acc, fmt.Errorf("secret %s/%s has no %s", c.Namespace, c.SecretName, keyRootPassword)
	}

	common.RegisterSecret(acc.Root.Password)

	if acc.Admin, err = LoadAdminAccount(ctx, cl, c.Namespace, c.Name); err != nil {
		return acc, err
	}
	return acc, nil
}

// LoadAdminAccount reads the operator's admin account from the private
// secret of a cluster. It needs no parsed spec, so members stay observable
// while the cluster definition is invalid.
func LoadAdminAccount(ctx context.Context, cl client.Client, namespace, cluster string) (mysql.Credentials, error) {
	data, err := readSecret(ctx, cl, namespace, v2alpha1.PrivateSecretName(cluster))
	if err != nil {
		return mysql.Credentials{}, err
	}
	admin := mysql.Credentials{User: string(data[keyAdminUser]), Password: string(data[keyAdminPassword])}
	common.RegisterSecret(admin.Password)
	return admin, nil
}

// secretValue returns one key of a secret.
func secretValue(ctx context.Context, cl client.Client, ns, name, key string) (string, error) {
	data, err := readSecret(ctx, cl, ns, name)
	if err != nil {
		return "", err
	}
	v, ok := data[key]
	if !ok {
		return "", fmt.Errorf("key %q not found in Secret %s/%s", key, ns, name)
	}
	common.RegisterSecret(string(v))
	return string(v), nil
}

func readSecret(ctx context.Context, cl client.Client, ns, name string) (map[string][]byte, error) {
	s := &corev1.Secret{}
	if err := cl.Get(ctx, types.NamespacedName{Namespace: ns, Name: name}, s); err != nil {
		return nil, fmt.Errorf("Secret %s/%s not found: %w", ns, name, err)
	}
	data := map[string][]byte{}
	for k, v := range s.Data {
		data[k] = v
	}
	// StringData is present on objects that never went through the API server.
	for k, v := range s.StringData {
		data[k] = []byte(v)
	}
	return data, nil
}
