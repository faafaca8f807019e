package controller

import (
	"fmt"

	v2alpha1 "gitlab.prplanit.com/precisionplanit/mysql-operator/api/v2alpha1"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/mysql"
	"gitlab.prplanit.com/precisionplanit/mysql-operator/spec"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/utils/ptr"
)

const (
	dataDir           = "/var/lib/mysql"
	extraConfigDir    = "/etc/my.cnf.d"
	extraConfigVolume = "mycnf"
	extraConfigKey    = "99-extra.cnf"

	groupReplicationPort = 33061
	xProtocolPort        = 33060

	// DefaultDataVolumeSize is requested for each instance's datadir.
	DefaultDataVolumeSize = "2Gi"
)

// ExtraConfigName is the ConfigMap holding spec.mycnf.
func ExtraConfigName(cluster string) string {
	return cluster + "-mycnf"
}

// BuildService returns the headless service giving each instance a stable
// DNS name. Unready pods are published so peers can reach recovering members.
func BuildService(c *spec.ClusterSpec) *corev1.Service {
	return &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      v2alpha1.InstanceServiceName(c.Name),
			Namespace: c.Namespace,
			Labels:    v2alpha1.ClusterLabels(c.Name, v2alpha1.ComponentServer),
		},
		Spec: corev1.ServiceSpec{
			ClusterIP:                corev1.ClusterIPNone,
			PublishNotReadyAddresses: true,
			Selector:                 v2alpha1.ClusterSelector(c.Name),
			Ports: []corev1.ServicePort{
				{Name: "mysql", Port: mysql.DefaultPort, TargetPort: intstr.FromInt32(mysql.DefaultPort)},
				{Name: "mysqlx", Port: xProtocolPort, TargetPort: intstr.FromInt32(xProtocolPort)},
				{Name: "gr-xcom", Port: groupReplicationPort, TargetPort: intstr.FromInt32(groupReplicationPort)},
			},
		},
	}
}

// BuildExtraConfig returns the ConfigMap carrying spec.mycnf, or nil when
// the cluster sets none.
func BuildExtraConfig(c *spec.ClusterSpec) *corev1.ConfigMap {
	if c.MyCnf == "" {
		return nil
	}
	return &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{
			Name:      ExtraConfigName(c.Name),
			Namespace: c.Namespace,
			Labels:    v2alpha1.ClusterLabels(c.Name, v2alpha1.ComponentServer),
		},
		Data: map[string]string{extraConfigKey: c.MyCnf},
	}
}

func retentionType(policy string) appsv1.PersistentVolumeClaimRetentionPolicyType {
	if policy == spec.RetentionRetain {
		return appsv1.RetainPersistentVolumeClaimRetentionPolicyType
	}
	return appsv1.DeletePersistentVolumeClaimRetentionPolicyType
}

// BuildStatefulSet returns the instance StatefulSet running version with
// replicas pods. Pods at or above partition are updated first.
func BuildStatefulSet(c *spec.ClusterSpec, replicas, partition int, version string) (*appsv1.StatefulSet, error) {
	size, err := resource.ParseQuantity(DefaultDataVolumeSize)
	if err != nil {
		return nil, err
	}
	labels := v2alpha1.ClusterLabels(c.Name, v2alpha1.ComponentServer)

	server := corev1.Container{
		Name:            v2alpha1.ServerContainer,
		Image:           c.ImageRepository + "/mysql-server:" + version,
		ImagePullPolicy: c.ImagePullPolicy,
		Command:         []string{"sh", "-c", serverCommand(c)},
		Env: []corev1.EnvVar{
			secretEnv("MYSQL_ROOT_PASSWORD", c.SecretName, keyRootPassword, false),
			secretEnv("MYSQL_ROOT_HOST", c.SecretName, keyRootHost, true),
		},
		Ports: []corev1.ContainerPort{
			{Name: "mysql", ContainerPort: mysql.DefaultPort},
			{Name: "mysqlx", ContainerPort: xProtocolPort},
			{Name: "gr-xcom", ContainerPort: groupReplicationPort},
		},
		VolumeMounts: []corev1.VolumeMount{{Name: v2alpha1.DataVolumeName, MountPath: dataDir}},
		ReadinessProbe: &corev1.Probe{
			ProbeHandler: corev1.ProbeHandler{
				TCPSocket: &corev1.TCPSocketAction{Port: intstr.FromInt32(mysql.DefaultPort)},
			},
			PeriodSeconds:    5,
			FailureThreshold: 3,
		},
	}
	sidecar := corev1.Container{
		Name:            v2alpha1.SidecarContainer,
		Image:           c.OperatorImage,
		ImagePullPolicy: c.OperatorImagePullPolicy,
		Command:         []string{"sleep", "infinity"},
	}

	pod := corev1.PodSpec{
		ServiceAccountName: c.ServiceAccountName,
		ImagePullSecrets:   c.ImagePullSecrets,
		Subdomain:          v2alpha1.InstanceServiceName(c.Name),
		Containers:         []corev1.Container{server, sidecar},
	}
	if c.MyCnf != "" {
		pod.Volumes = append(pod.Volumes, corev1.Volume{
			Name: extraConfigVolume,
			VolumeSource: corev1.VolumeSource{ConfigMap: &corev1.ConfigMapVolumeSource{
				LocalObjectReference: corev1.LocalObjectReference{Name: ExtraConfigName(c.Name)},
			}},
		})
		pod.Containers[0].VolumeMounts = append(pod.Containers[0].VolumeMounts, corev1.VolumeMount{
			Name: extraConfigVolume, MountPath: extraConfigDir, ReadOnly: true,
		})
	}
	// the sidecar loads initDB dumps, so it needs the dump storage
	if dump, ok := c.InitDB.(*spec.DumpInitDB); ok {
		if err := dump.Storage.Configure(&pod, v2alpha1.SidecarContainer); err != nil {
			return nil, fmt.Errorf("failed to wire initDB storage: %w", err)
		}
	}

	return &appsv1.StatefulSet{
		ObjectMeta: metav1.ObjectMeta{
			Name:      c.Name,
			Namespace: c.Namespace,
			Labels:    labels,
		},
		Spec: appsv1.StatefulSetSpec{
			Replicas:            ptr.To(int32(replicas)),
			ServiceName:         v2alpha1.InstanceServiceName(c.Name),
			PodManagementPolicy: appsv1.ParallelPodManagement,
			Selector:            &metav1.LabelSelector{MatchLabels: v2alpha1.ClusterSelector(c.Name)},
			UpdateStrategy: appsv1.StatefulSetUpdateStrategy{
				Type: appsv1.RollingUpdateStatefulSetStrategyType,
				RollingUpdate: &appsv1.RollingUpdateStatefulSetStrategy{
					Partition: ptr.To(int32(partition)),
				},
			},
			PersistentVolumeClaimRetentionPolicy: &appsv1.StatefulSetPersistentVolumeClaimRetentionPolicy{
				WhenDeleted: retentionType(c.VolumeRetention.WhenDeleted),
				WhenScaled:  retentionType(c.VolumeRetention.WhenScaled),
			},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec:       pod,
			},
			VolumeClaimTemplates: []corev1.PersistentVolumeClaim{{
				ObjectMeta: metav1.ObjectMeta{Name: v2alpha1.DataVolumeName, Labels: labels},
				Spec: corev1.PersistentVolumeClaimSpec{
					AccessModes: []corev1.PersistentVolumeAccessMode{corev1.ReadWriteOnce},
					Resources: corev1.VolumeResourceRequirements{
						Requests: corev1.ResourceList{corev1.ResourceStorage: size},
					},
				},
			}},
		},
	}, nil
}

// serverCommand starts mysqld with a server id derived from the pod ordinal
// and a report host resolvable by its peers.
func serverCommand(c *spec.ClusterSpec) string {
	return fmt.Sprintf(
		"exec mysqld --server-id=$((%d + ${HOSTNAME##*-})) --report-host=${HOSTNAME}.%s --datadir=%s",
		c.BaseServerID, v2alpha1.InstanceServiceName(c.Name), dataDir)
}

func secretEnv(name, secret, key string, optional bool) corev1.EnvVar {
	ref := &corev1.SecretKeySelector{
		LocalObjectReference: corev1.LocalObjectReference{Name: secret},
		Key:                  key,
	}
	if optional {
		ref.Optional = ptr.To(true)
	}
	return corev1.EnvVar{Name: name, ValueFrom: &corev1.EnvVarSource{SecretKeyRef: ref}}
}
