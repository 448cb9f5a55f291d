package notification

import (
	_ "embed"
	"fmt"
	"regexp"

	"gopkg.in/yaml.v3"
)

//go:embed templates.yaml
var templatesYAML []byte

type template struct {
	Title string `yaml:"title"`
	Body  string `yaml:"body"`
}

const defaultTemplate = "default"

var (
	templates   = mustLoadTemplates(templatesYAML)
	placeholder = regexp.MustCompile(`\{\{\s*(\w+)\s*\}\}`)
)

func mustLoadTemplates(raw []byte) map[string]template {
	var out map[string]template
	if err := yaml.Unmarshal(raw, &out); err != nil {
		panic(fmt.Sprintf("parse notification templates: %v", err))
	}
	if _, ok := out[defaultTemplate]; !ok {
		panic("notification templates: missing default entry")
	}
	return out
}

// Render fills the template of t with vars. It has no side effects.
func Render(t Type, vars map[string]any) (title, body string) {
	tpl, ok := templates[string(t)]
	if !ok {
		tpl = templates[defaultTemplate]
	}
	return interpolate(tpl.Title, vars), interpolate(tpl.Body, vars)
}

func interpolate(s string, vars map[string]any) string {
	return placeholder.ReplaceAllStringFunc(s, func(m string) string {
		name := placeholder.FindStringSubmatch(m)[1]
		v, ok := vars[name]
		if !ok || v == nil {
			return ""
		}
		return fmt.Sprint(v)
	})
}

// resolveContent applies explicit title/body overrides on top of the template.
func resolveContent(p Payload) (title, body string) {
	title, body = Render(p.Type, p.Variables)
	if p.Title != "" {
		title = p.Title
	}
	if p.Body != "" {
		body = p.Body
	}
	return title, body
}
