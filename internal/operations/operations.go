// Package operations holds the declarative catalog of callable operations.
package operations

import (
	_ "embed"
	"errors"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"poetry-tutor/internal/models"
	"poetry-tutor/internal/prompt"
)

//go:embed catalog.yaml
var catalogYAML []byte

// Native operation implementations that do not call the text-generation service.
const (
	NativeSum = "sum"
)

const maxTemperature = 2.0

// Operation is one compiled catalog entry. Operations are immutable once the
// catalog is loaded and safe to share between goroutines.
type Operation struct {
	Name        string
	Description string
	Required    []string
	Message     string
	Temperature float64
	Model       string
	Expansions  []Expansion
	Template    *prompt.Template
	Native      string
}

// Expansion decomposes a list field positionally into named values.
type Expansion struct {
	Field   string
	Targets []string
}

// Generative reports whether the operation calls the text-generation service.
func (o *Operation) Generative() bool {
	return o.Native == ""
}

// Expand returns values extended with every expansion target. Missing
// positions are bound to an empty string; a scalar counts as a one-element
// list.
func (o *Operation) Expand(values map[string]any) map[string]any {
	if len(o.Expansions) == 0 {
		return values
	}
	out := make(map[string]any, len(values)+len(o.Expansions)*3)
	for k, v := range values {
		out[k] = v
	}
	for _, exp := range o.Expansions {
		var items []any
		switch v := values[exp.Field].(type) {
		case []any:
			items = v
		case nil:
		default:
			items = []any{v}
		}
		for i, target := range exp.Targets {
			if i < len(items) {
				out[target] = items[i]
			} else {
				out[target] = ""
			}
		}
	}
	return out
}

// Catalog indexes operations by callable name.
type Catalog struct {
	ops   map[string]*Operation
	order []string
}

// Default loads the catalog compiled into the binary.
func Default() (*Catalog, error) {
	return Parse(catalogYAML)
}

// Lookup returns the operation registered under name.
func (c *Catalog) Lookup(name string) (*Operation, bool) {
	op, ok := c.ops[name]
	return op, ok
}

// All returns every operation sorted by name.
func (c *Catalog) All() []*Operation {
	out := make([]*Operation, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.ops[name])
	}
	return out
}

// Models lists the distinct model overrides declared by operations.
func (c *Catalog) Models() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, name := range c.order {
		model := c.ops[name].Model
		if model == "" {
			continue
		}
		if _, ok := seen[model]; ok {
			continue
		}
		seen[model] = struct{}{}
		out = append(out, model)
	}
	return out
}

type catalogFile struct {
	Operations []definition `yaml:"operations"`
}

type definition struct {
	Name        string              `yaml:"name"`
	Description string              `yaml:"description"`
	Required    []string            `yaml:"required"`
	Message     string              `yaml:"message"`
	Temperature *float64            `yaml:"temperature"`
	Model       string              `yaml:"model"`
	Expand      map[string][]string `yaml:"expand"`
	Native      string              `yaml:"native"`
	Template    templateDefinition  `yaml:"template"`
}

type templateDefinition struct {
	Instruction string `yaml:"instruction"`
	System      string `yaml:"system"`
	Human       string `yaml:"human"`
}

// Parse decodes and validates a YAML catalog.
func Parse(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse operation catalog: %w", err)
	}
	if len(file.Operations) == 0 {
		return nil, errors.New("operation catalog is empty")
	}

	c := &Catalog{ops: make(map[string]*Operation, len(file.Operations))}
	for _, def := range file.Operations {
		op, err := compile(def)
		if err != nil {
			return nil, err
		}
		if _, exists := c.ops[op.Name]; exists {
			return nil, fmt.Errorf("operation %s declared twice", op.Name)
		}
		c.ops[op.Name] = op
		c.order = append(c.order, op.Name)
	}
	sort.Strings(c.order)
	return c, nil
}

func compile(def definition) (*Operation, error) {
	name := strings.TrimSpace(def.Name)
	if name == "" {
		return nil, errors.New("operation name must not be empty")
	}
	if len(def.Required) == 0 {
		return nil, fmt.Errorf("operation %s: at least one required field must be declared", name)
	}
	if strings.TrimSpace(def.Message) == "" {
		return nil, fmt.Errorf("operation %s: validation message must not be empty", name)
	}

	op := &Operation{
		Name:        name,
		Description: def.Description,
		Required:    append([]string(nil), def.Required...),
		Message:     def.Message,
		Model:       strings.TrimSpace(def.Model),
		Native:      def.Native,
	}

	if def.Native != "" {
		if def.Native != NativeSum {
			return nil, fmt.Errorf("operation %s: unknown native implementation %q", name, def.Native)
		}
		if def.Template != (templateDefinition{}) {
			return nil, fmt.Errorf("operation %s: native operations must not declare a template", name)
		}
		return op, nil
	}

	if def.Temperature == nil {
		return nil, fmt.Errorf("operation %s: temperature must be set", name)
	}
	if *def.Temperature < 0 || *def.Temperature > maxTemperature {
		return nil, fmt.Errorf("operation %s: temperature %v out of range [0, %v]", name, *def.Temperature, maxTemperature)
	}
	op.Temperature = *def.Temperature

	bound := make(map[string]struct{}, len(def.Required))
	for _, field := range def.Required {
		bound[field] = struct{}{}
	}

	fields := make([]string, 0, len(def.Expand))
	for field := range def.Expand {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		if _, ok := bound[field]; !ok {
			return nil, fmt.Errorf("operation %s: expansion of %q requires it to be a required field", name, field)
		}
		targets := def.Expand[field]
		if len(targets) == 0 {
			return nil, fmt.Errorf("operation %s: expansion of %q has no targets", name, field)
		}
		op.Expansions = append(op.Expansions, Expansion{Field: field, Targets: append([]string(nil), targets...)})
		for _, target := range targets {
			bound[target] = struct{}{}
		}
	}

	tmpl, err := compileTemplate(name, def.Template)
	if err != nil {
		return nil, err
	}
	for _, variable := range tmpl.Variables() {
		if _, ok := bound[variable]; !ok {
			return nil, fmt.Errorf("operation %s: placeholder {%s} is not bound to a request field", name, variable)
		}
	}
	op.Template = tmpl

	return op, nil
}

func compileTemplate(name string, def templateDefinition) (*prompt.Template, error) {
	switch {
	case def.Instruction != "" && (def.System != "" || def.Human != ""):
		return nil, fmt.Errorf("operation %s: template must be either an instruction or a system/human pair", name)
	case def.Instruction != "":
		return prompt.Parse(name, prompt.Part{Role: models.RoleUser, Text: def.Instruction})
	case def.System != "" && def.Human != "":
		return prompt.Parse(name,
			prompt.Part{Role: models.RoleSystem, Text: def.System},
			prompt.Part{Role: models.RoleUser, Text: def.Human},
		)
	default:
		return nil, fmt.Errorf("operation %s: template is missing", name)
	}
}
