package common

import (
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

const EnvPrefix = "MYSQL_OPERATOR_"

// Env reads MYSQL_OPERATOR_<KEY> from the environment with a fallback default.
func Env(key, fallback string) string {
	if v, ok := os.LookupEnv(EnvPrefix + key); ok {
		return v
	}
	return fallback
}

// EnvBool reads MYSQL_OPERATOR_<KEY> as a boolean.
// Accepts "1", "t", "true", "yes", "on" (case-insensitive).
func EnvBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(EnvPrefix + key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "t", "true", "yes", "on":
		return true
	case "0", "f", "false", "no", "off", "":
		return false
	}
	return fallback
}

// EnvInt reads MYSQL_OPERATOR_<KEY> as an integer with a fallback default.
func EnvInt(key string, fallback int) int {
	v, ok := os.LookupEnv(EnvPrefix + key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fallback
	}
	return n
}

// EnvDuration reads MYSQL_OPERATOR_<KEY> as a Go duration ("30s", "5m").
// A bare integer is taken as seconds.
func EnvDuration(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(EnvPrefix + key)
	if !ok {
		return fallback
	}
	v = strings.TrimSpace(v)
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

// EnvRaw reads a raw environment variable (no prefix) with a fallback default.
// Used for standard env vars like KUBECONFIG that don't use the MYSQL_OPERATOR_ prefix.
func EnvRaw(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

// Defaults holds the process-wide fallback values applied when a resource
// omits them. Resolved once at startup and treated as read-only afterwards.
type Defaults struct {
	ImageRepository         string
	Version                 string
	MinVersion              string
	MaxVersion              string
	ImagePullPolicy         string
	OperatorImage           string
	ResyncInterval          time.Duration
	MaxConcurrentReconciles int
	PeeringName             string
	Namespace               string
	Identity                string
}

// LoadDefaults resolves Defaults from the environment.
func LoadDefaults() Defaults {
	version := Env("DEFAULT_VERSION", "8.4.6")
	repo := Env("DEFAULT_REPOSITORY", "container-registry.oracle.com/mysql")
	return Defaults{
		ImageRepository:         repo,
		Version:                 version,
		MinVersion:              Env("MIN_SUPPORTED_VERSION", "8.0.24"),
		MaxVersion:              Env("MAX_SUPPORTED_VERSION", version),
		ImagePullPolicy:         Env("IMAGE_PULL_POLICY", "IfNotPresent"),
		OperatorImage:           Env("OPERATOR_IMAGE", repo+"/mysql-operator:"+version),
		ResyncInterval:          EnvDuration("RESYNC_INTERVAL", 30*time.Second),
		MaxConcurrentReconciles: EnvInt("MAX_CONCURRENT_RECONCILES", 4),
		PeeringName:             Env("PEERING_NAME", "mysql-operator"),
		Namespace:               EnvRaw("POD_NAMESPACE", "mysql-operator"),
		Identity:                EnvRaw("HOSTNAME", ""),
	}
}

// Setting is one prefixed environment variable.
type Setting struct {
	Name  string
	Value string
}

// Settings renders the values a child process, such as a backup Job, reads
// back through LoadDefaults to validate resources the same way. Empty
// values are omitted; the result is sorted by name.
func (d Defaults) Settings() []Setting {
	values := map[string]string{
		"DEFAULT_REPOSITORY":    d.ImageRepository,
		"DEFAULT_VERSION":       d.Version,
		"MIN_SUPPORTED_VERSION": d.MinVersion,
		"MAX_SUPPORTED_VERSION": d.MaxVersion,
		"IMAGE_PULL_POLICY":     d.ImagePullPolicy,
		"OPERATOR_IMAGE":        d.OperatorImage,
	}
	out := make([]Setting, 0, len(values))
	for k, v := range values {
		if v != "" {
			out = append(out, Setting{Name: EnvPrefix + k, Value: v})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
