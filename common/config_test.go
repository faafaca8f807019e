package common

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEnvHelpers(t *testing.T) {
	t.Setenv(EnvPrefix+"FLAG", "yes")
	t.Setenv(EnvPrefix+"COUNT", "7")
	t.Setenv(EnvPrefix+"BROKEN", "seven")
	t.Setenv(EnvPrefix+"INTERVAL", "90")
	t.Setenv(EnvPrefix+"TIMEOUT", "2m")

	assert.True(t, EnvBool("FLAG", false))
	assert.False(t, EnvBool("MISSING", false))
	assert.Equal(t, 7, EnvInt("COUNT", 1))
	assert.Equal(t, 1, EnvInt("BROKEN", 1))
	assert.Equal(t, 90*time.Second, EnvDuration("INTERVAL", time.Second))
	assert.Equal(t, 2*time.Minute, EnvDuration("TIMEOUT", time.Second))
	assert.Equal(t, "fallback", Env("MISSING", "fallback"))
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv(EnvPrefix+"DEFAULT_VERSION", "8.0.36")
	t.Setenv(EnvPrefix+"DEFAULT_REPOSITORY", "registry.local/mysql")
	t.Setenv(EnvPrefix+"MAX_CONCURRENT_RECONCILES", "2")
	t.Setenv("HOSTNAME", "operator-0")

	d := LoadDefaults()
	assert.Equal(t, "8.0.36", d.Version)
	assert.Equal(t, "8.0.36", d.MaxVersion)
	assert.Equal(t, "registry.local/mysql/mysql-operator:8.0.36", d.OperatorImage)
	assert.Equal(t, 2, d.MaxConcurrentReconciles)
	assert.Equal(t, "operator-0", d.Identity)
	assert.Equal(t, "mysql-operator", d.PeeringName)
}

func TestSettingsRoundTrip(t *testing.T) {
	d := Defaults{
		ImageRepository: "registry.local/mysql",
		Version:         "9.0.0",
		MinVersion:      "8.0.24",
		MaxVersion:      "9.1.0",
		OperatorImage:   "registry.local/mysql/mysql-operator:9.0.0",
	}
	settings := d.Settings()
	assert.Len(t, settings, 5, "empty pull policy is omitted")
	for _, s := range settings {
		t.Setenv(s.Name, s.Value)
	}

	got := LoadDefaults()
	assert.Equal(t, "9.0.0", got.Version)
	assert.Equal(t, "9.1.0", got.MaxVersion)
	assert.Equal(t, "8.0.24", got.MinVersion)
	assert.Equal(t, d.OperatorImage, got.OperatorImage)
	assert.Equal(t, "IfNotPresent", got.ImagePullPolicy)
}
