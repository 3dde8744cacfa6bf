package provisioner

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/agentboard/controlplane/internal/models"
)

// TemplateVars is the data made available to every template in the
// catalogue. Board is nil when rendering the gateway main agent.
type TemplateVars struct {
	Agent      *models.Agent
	Board      *models.Board
	Gateway    *models.Gateway
	Token      string
	Workspace  string
	SessionKey string
}

func render(t *template.Template, vars TemplateVars) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("failed to render template %s: %w", t.Name(), err)
	}
	return buf.String(), nil
}
