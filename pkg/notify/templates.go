// Package notify provides the notification pieces used by workflow
// actions: a named-template renderer and a default log-only sink.
package notify

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/evidentry/evidentry/pkg/contracts"
)

// templateContext is what every notification template renders against.
type templateContext struct {
	Event   *contracts.Event
	Payload map[string]any
	Data    map[string]any
}

// TemplatePair is a subject/body template source pair.
type TemplatePair struct {
	Subject string
	Body    string
}

// defaultTemplates ship in-repo; tenants without custom templates get these.
var defaultTemplates = map[string]TemplatePair{
	"high_value_claim": {
		Subject: `High-value claim {{index .Payload "claim_ref"}} requires review`,
		Body: `A claim was submitted with amount {{index .Payload "amount"}}.
Subject ID: {{.Event.SubjectID}}
{{with .Data}}Threshold: {{index . "threshold"}}{{end}}`,
	},
	"workflow_notification": {
		Subject: `Workflow: {{with index .Payload "title"}}{{.}}{{else}}Notification{{end}}`,
		Body: `Event type: {{.Event.EventType}}
Payload: {{printf "%v" .Payload}}`,
	},
}

// Renderer renders subject and body for a workflow notify action from a
// template key. Templates are parsed once at construction.
type Renderer struct {
	compiled map[string]compiledPair
}

type compiledPair struct {
	subject *template.Template
	body    *template.Template
}

// NewRenderer parses the given templates, falling back to the in-repo
// defaults when templates is nil.
func NewRenderer(templates map[string]TemplatePair) (*Renderer, error) {
	if templates == nil {
		templates = defaultTemplates
	}
	compiled := make(map[string]compiledPair, len(templates))
	for key, pair := range templates {
		subjectTpl, err := template.New(key + ".subject").Parse(pair.Subject)
		if err != nil {
			return nil, fmt.Errorf("parse template %q subject: %w", key, err)
		}
		bodyTpl, err := template.New(key + ".body").Parse(pair.Body)
		if err != nil {
			return nil, fmt.Errorf("parse template %q body: %w", key, err)
		}
		compiled[key] = compiledPair{subject: subjectTpl, body: bodyTpl}
	}
	return &Renderer{compiled: compiled}, nil
}

// Render produces the subject and body for the template key. An unknown key
// is an error so the workflow action records a failure instead of sending
// an empty message.
func (r *Renderer) Render(key string, event contracts.Event, payload, data map[string]any) (string, string, error) {
	pair, ok := r.compiled[key]
	if !ok {
		return "", "", fmt.Errorf("unknown workflow template %q", key)
	}
	ctx := templateContext{
		Event:   &event,
		Payload: orEmpty(payload),
		Data:    orEmpty(data),
	}

	var subject, body strings.Builder
	if err := pair.subject.Execute(&subject, ctx); err != nil {
		return "", "", fmt.Errorf("render %q subject: %w", key, err)
	}
	if err := pair.body.Execute(&body, ctx); err != nil {
		return "", "", fmt.Errorf("render %q body: %w", key, err)
	}
	return subject.String(), body.String(), nil
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
