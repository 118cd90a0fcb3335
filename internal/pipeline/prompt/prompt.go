// Package prompt loads and renders the YAML-defined LLM prompts the
// pipeline stages use, grounded on data_query_scripts/util.py's
// get_prompt: one YAML file per prompt family, each entry naming its
// required template variables and a system/user template pair.
// Jinja2's {{ var }} syntax in the original maps directly onto Go's
// text/template {{.Var}} once the YAML is loaded, so no new templating
// dependency is needed beyond the stdlib.
package prompt

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/metaground/retrieval-engine/internal/errs"
)

// Definition is one named prompt's YAML shape.
type Definition struct {
	RequiredVars   []string `yaml:"required_vars"`
	SystemTemplate string   `yaml:"system_template"`
	UserTemplate   string   `yaml:"user_template"`
}

// Rendered is a ready-to-send system/user message pair.
type Rendered struct {
	System string
	User   string
}

// Loader caches parsed prompt-family YAML files under dir.
type Loader struct {
	dir string

	mu    sync.Mutex
	cache map[string]map[string]Definition
}

// NewLoader builds a Loader rooted at dir (one "<family>.yml" file per
// family, each a map of prompt_name -> Definition).
func NewLoader(dir string) *Loader {
	return &Loader{dir: dir, cache: make(map[string]map[string]Definition)}
}

func (l *Loader) family(name string) (map[string]Definition, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if defs, ok := l.cache[name]; ok {
		return defs, nil
	}
	data, err := os.ReadFile(filepath.Join(l.dir, name+".yml"))
	if err != nil {
		return nil, errs.New(errs.KindConfig, "load_prompt_family", err)
	}
	var defs map[string]Definition
	if err := yaml.Unmarshal(data, &defs); err != nil {
		return nil, errs.New(errs.KindConfig, "parse_prompt_family", err)
	}
	l.cache[name] = defs
	return defs, nil
}

// Render loads promptFile (without extension), looks up promptName
// within it, validates that every required_vars key is present in
// vars, and renders both templates.
func (l *Loader) Render(promptFile, promptName string, vars map[string]interface{}) (Rendered, error) {
	defs, err := l.family(promptFile)
	if err != nil {
		return Rendered{}, err
	}
	def, ok := defs[promptName]
	if !ok {
		return Rendered{}, errs.New(errs.KindConfig, "render_prompt", fmt.Errorf("unknown prompt %q in %q", promptName, promptFile))
	}
	for _, v := range def.RequiredVars {
		if _, ok := vars[v]; !ok {
			return Rendered{}, errs.New(errs.KindConfig, "render_prompt", fmt.Errorf("missing prompt variable %q for %s/%s", v, promptFile, promptName))
		}
	}

	system, err := renderTemplate(def.SystemTemplate, vars)
	if err != nil {
		return Rendered{}, err
	}
	user, err := renderTemplate(def.UserTemplate, vars)
	if err != nil {
		return Rendered{}, err
	}
	return Rendered{System: system, User: user}, nil
}

func renderTemplate(text string, vars map[string]interface{}) (string, error) {
	tmpl, err := template.New("prompt").Parse(text)
	if err != nil {
		return "", errs.New(errs.KindConfig, "parse_prompt_template", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, vars); err != nil {
		return "", errs.New(errs.KindConfig, "render_prompt_template", err)
	}
	return buf.String(), nil
}
