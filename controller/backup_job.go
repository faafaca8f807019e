package controller

import (
	"fmt"

	v2alpha1 "gitlab.prplanit.com/precisionplanit/mysql-operator/api/v2alpha1"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/common"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/spec"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/utils/ptr"
)

// BuildBackupJob returns the Job executing backup b. It runs the operator
// image with the backup subcommand and the profile's storage wired in. The
// operator's defaults are passed down so the Job validates the cluster
// against the same version range.
func BuildBackupJob(b *spec.BackupSpec, defaults common.Defaults) (*batchv1.Job, error) {
	labels := v2alpha1.ClusterLabels(b.ClusterName, v2alpha1.ComponentBackup)
	labels[v2alpha1.LabelBackup] = b.Name

	pod := corev1.PodSpec{
		RestartPolicy:      corev1.RestartPolicyNever,
		ServiceAccountName: b.ServiceAccountName,
		ImagePullSecrets:   b.ImagePullSecrets,
		Containers: []corev1.Container{{
			Name:            v2alpha1.BackupContainer,
			Image:           b.OperatorImage,
			ImagePullPolicy: b.OperatorImagePullPolicy,
			Command:         []string{"mysql-operator"},
			Args:            []string{"backup", "--namespace", b.Namespace, "--name", b.Name},
			Env:             jobEnv(defaults),
		}},
	}
	if err := b.Profile.Configure(&pod, v2alpha1.BackupContainer); err != nil {
		return nil, fmt.Errorf("failed to wire storage of %s: %w", b.Key(), err)
	}

	return &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      v2alpha1.BackupJobName(b.Name),
			Namespace: b.Namespace,
			Labels:    labels,
		},
		Spec: batchv1.JobSpec{
			BackoffLimit: ptr.To(int32(0)),
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec:       pod,
			},
		},
	}, nil
}

func jobEnv(defaults common.Defaults) []corev1.EnvVar {
	env := []corev1.EnvVar{{
		Name:      "POD_NAMESPACE",
		ValueFrom: &corev1.EnvVarSource{FieldRef: &corev1.ObjectFieldSelector{FieldPath: "metadata.namespace"}},
	}}
	for _, s := range defaults.Settings() {
		env = append(env, corev1.EnvVar{Name: s.Name, Value: s.Value})
	}
	return env
}

// JobFailed reports whether job has given up.
func JobFailed(job *batchv1.Job) (string, bool) {
	for _, cond := range job.Status.Conditions {
		if cond.Type == batchv1.JobFailed && cond.Status == corev1.ConditionTrue {
			msg := cond.Message
			if msg == "" {
				msg = cond.Reason
			}
			return msg, true
		}
	}
	return "", false
}
