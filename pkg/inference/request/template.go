package request

import (
	"strings"
	"text/template"

	"github.com/Masterminds/sprig"
	"github.com/pkg/errors"
)

// PromptTemplate is the prompt of a templated prompt cell. Variables are
// rendered with text/template and the sprig function map.
type PromptTemplate struct {
	Name string
	tmpl *template.Template
}

func NewPromptTemplate(name string, text string) (*PromptTemplate, error) {
	tmpl, err := template.New(name).
		Funcs(sprig.TxtFuncMap()).
		Option("missingkey=error").
		Parse(text)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse prompt template %s", name)
	}
	return &PromptTemplate{Name: name, tmpl: tmpl}, nil
}

func (p *PromptTemplate) Render(vars map[string]interface{}) (string, error) {
	var promptBuffer strings.Builder
	if err := p.tmpl.Execute(&promptBuffer, vars); err != nil {
		return "", errors.Wrapf(err, "failed to execute prompt template %s", p.Name)
	}
	return strings.TrimSpace(promptBuffer.String()), nil
}
