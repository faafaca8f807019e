package k8s

import (
	"testing"

	v2alpha1 "gitlab.prplanit.com/precisionplanit/mysql-operator/api/v2alpha1"

	"github.com/stretchr/testify/assert"
	"k8s.io/apimachinery/pkg/runtime/schema"
)

func TestNewSchemeRecognizesOperatorKinds(t *testing.T) {
	s := NewScheme()
	for _, gvk := range []schema.GroupVersionKind{
		v2alpha1.InnoDBClusterGVK,
		v2alpha1.MySQLBackupGVK,
		{Group: "apps", Version: "v1", Kind: "StatefulSet"},
		{Group: "batch", Version: "v1", Kind: "Job"},
	} {
		assert.True(t, s.Recognizes(gvk), gvk.String())
	}
}

func TestShellQuote(t *testing.T) {
	assert.Equal(t, "'plain'", ShellQuote("plain"))
	assert.Equal(t, `'it'\''s'`, ShellQuote("it's"))
}
