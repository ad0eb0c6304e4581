package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evidentry/evidentry/pkg/contracts"
)

func sampleEvent() contracts.Event {
	return contracts.Event{
		ID:        "ev-1",
		SubjectID: "subj-1",
		EventType: "claim_filed",
	}
}

func TestRenderHighValueClaimDefault(t *testing.T) {
	r, err := NewRenderer(nil)
	require.NoError(t, err)

	subject, body, err := r.Render("high_value_claim", sampleEvent(),
		map[string]any{"claim_ref": "CL-42", "amount": 250000},
		map[string]any{"threshold": 100000})
	require.NoError(t, err)

	assert.Equal(t, "High-value claim CL-42 requires review", subject)
	assert.Contains(t, body, "amount 250000")
	assert.Contains(t, body, "Subject ID: subj-1")
	assert.Contains(t, body, "Threshold: 100000")
}

func TestRenderWorkflowNotificationFallbackTitle(t *testing.T) {
	r, err := NewRenderer(nil)
	require.NoError(t, err)

	subject, body, err := r.Render("workflow_notification", sampleEvent(), nil, nil)
	require.NoError(t, err)

	assert.Equal(t, "Workflow: Notification", subject)
	assert.Contains(t, body, "Event type: claim_filed")
}

func TestRenderUnknownKeyFails(t *testing.T) {
	r, err := NewRenderer(nil)
	require.NoError(t, err)

	_, _, err = r.Render("nonexistent", sampleEvent(), nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nonexistent")
}

func TestCustomTemplatesReplaceDefaults(t *testing.T) {
	r, err := NewRenderer(map[string]TemplatePair{
		"escalation": {
			Subject: `Escalation for {{.Event.SubjectID}}`,
			Body:    `{{index .Data "note"}}`,
		},
	})
	require.NoError(t, err)

	subject, body, err := r.Render("escalation", sampleEvent(), nil, map[string]any{"note": "call the adjuster"})
	require.NoError(t, err)
	assert.Equal(t, "Escalation for subj-1", subject)
	assert.Equal(t, "call the adjuster", body)

	// Defaults are not merged in when custom templates are supplied.
	_, _, err = r.Render("high_value_claim", sampleEvent(), nil, nil)
	require.Error(t, err)
}

func TestNewRendererRejectsMalformedTemplate(t *testing.T) {
	_, err := NewRenderer(map[string]TemplatePair{
		"broken": {Subject: `{{.Event`, Body: ``},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}
