// Package component turns component modules resolved from a remote into
// renderable HTML fragments.
package component

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"

	"mfehost/pkg/federation"
)

// Component renders one remote component with the given props.
type Component interface {
	Name() string
	Render(props map[string]any) (template.HTML, error)
}

// Template is a component backed by an html/template definition. Every
// declared prop is required at render time.
type Template struct {
	name  string
	props []string
	tmpl  *template.Template
}

var _ Component = (*Template)(nil)

// FromDefinition compiles a component module.
func FromDefinition(def federation.ModuleDefinition) (*Template, error) {
	if def.Kind != federation.KindComponent {
		return nil, fmt.Errorf("module %q is a %s, not a component", def.Name, def.Kind)
	}
	name := def.Name
	if name == "" {
		name = "component"
	}

	tmpl, err := template.New(name).Option("missingkey=error").Parse(def.Template)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s template: %w", name, err)
	}
	return &Template{name: name, props: def.Props, tmpl: tmpl}, nil
}

// FromHandle compiles the component a loader resolved.
func FromHandle(h *federation.ModuleHandle) (*Template, error) {
	c, err := FromDefinition(h.Definition)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", h.Ref, err)
	}
	return c, nil
}

func (c *Template) Name() string { return c.name }

// Props lists the props the component requires.
func (c *Template) Props() []string {
	out := make([]string, len(c.props))
	copy(out, c.props)
	return out
}

func (c *Template) Render(props map[string]any) (template.HTML, error) {
	var missing []string
	for _, p := range c.props {
		if _, ok := props[p]; !ok {
			missing = append(missing, p)
		}
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("%s: missing required props: %s", c.name, strings.Join(missing, ", "))
	}

	var buf bytes.Buffer
	if err := c.tmpl.Execute(&buf, props); err != nil {
		return "", fmt.Errorf("failed to render %s: %w", c.name, err)
	}
	// Output of html/template is already escaped.
	return template.HTML(buf.String()), nil
}
