// Package events renders the messages of the events posted on cluster and
// backup resources. Every message is keyed by its stable reason.
package events

import (
	"bytes"
	"fmt"
	"text/template"

	"gitlab.prplanit.com/precisionplanit/mysql-operator/common"

	"github.com/Masterminds/sprig/v3"
	corev1 "k8s.io/api/core/v1"
)

// Event is a typed event to post on a resource.
type Event struct {
	Type    string
	Reason  string
	Message string
}

var messageTemplates = map[string]string{
	common.ReasonInvalidArgument:      `{{ .message }}`,
	common.ReasonInvalidReference:     `{{ .message }}`,
	common.ReasonTransportError:       `{{ .message }}`,
	common.ReasonImagePullFailed:      `Pod {{ .pod }} cannot pull its image ({{ .detail | default "unknown" }})`,
	common.ReasonContainerConfigError: `Pod {{ .pod }} cannot start its container ({{ .detail | default "unknown" }})`,
	common.ReasonCrashLoop:            `Pod {{ .pod }} is crash looping after {{ .restarts }} restarts`,
	common.ReasonProvisioningFailed:   `Instance {{ .index }} could not be provisioned by {{ .method }}: {{ .error | trunc 512 }}`,
	common.ReasonRecovered:            `Cluster recovered from {{ .from }} to {{ .to }}`,
	common.ReasonOnline:               `Cluster is ONLINE with {{ .online }} of {{ .instances }} {{ if eq (int .instances) 1 }}instance{{ else }}instances{{ end }}`,
	common.ReasonUpgradeStarted:       `Rolling upgrade from {{ .from }} to {{ .to }} started at instance {{ .partition }}`,
	common.ReasonUpgradeCompleted:     `All instances run {{ .to }}`,
	common.ReasonBackupStarted:        `Backup started with {{ .method }} into {{ .output }}`,
	common.ReasonBackupCompleted:      `Backup {{ .output }} completed in {{ .elapsed }}`,
	common.ReasonBackupFailed:         `Backup failed: {{ .error | trunc 512 }}`,
	common.ReasonScheduled:            `Created backup {{ .backup }} for schedule {{ .schedule }}`,
}

var templates = func() map[string]*template.Template {
	out := make(map[string]*template.Template, len(messageTemplates))
	for reason, text := range messageTemplates {
		out[reason] = template.Must(template.New(reason).Funcs(sprig.TxtFuncMap()).Parse(text))
	}
	return out
}()

// Message renders the message for reason. Unknown reasons and render
// failures fall back to data["message"], then to the reason itself.
func Message(reason string, data map[string]any) string {
	if t, ok := templates[reason]; ok {
		var buf bytes.Buffer
		if err := t.Execute(&buf, data); err == nil {
			return buf.String()
		}
	}
	if m, ok := data["message"]; ok {
		return fmt.Sprint(m)
	}
	return reason
}

// Normal builds a Normal event.
func Normal(reason string, data map[string]any) Event {
	return Event{Type: corev1.EventTypeNormal, Reason: reason, Message: Message(reason, data)}
}

// Warning builds a Warning event.
func Warning(reason string, data map[string]any) Event {
	return Event{Type: corev1.EventTypeWarning, Reason: reason, Message: Message(reason, data)}
}

// FromError builds a Warning event for a classified error, using its
// reason and message. Unclassified errors get the fallback reason.
func FromError(err error, fallback string) Event {
	return Warning(common.ReasonOf(err, fallback), map[string]any{"message": common.MessageOf(err), "error": err.Error()})
}
