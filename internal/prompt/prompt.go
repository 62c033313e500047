// Package prompt renders static prompt templates with single-brace
// placeholders such as {poem}. Doubled braces produce literal braces.
package prompt

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"poetry-tutor/internal/models"
)

// ErrMissingValue is returned when a placeholder has no bound value.
var ErrMissingValue = errors.New("missing value for placeholder")

// Part is one unparsed message segment of a template.
type Part struct {
	Role string
	Text string
}

// Template is an immutable, parsed sequence of message segments.
type Template struct {
	name     string
	segments []segment
}

type segment struct {
	role  string
	nodes []node
}

// node is either literal text or, when variable is set, a placeholder.
type node struct {
	literal  string
	variable string
}

// Parse compiles the given parts. Every part must have a role and a body.
func Parse(name string, parts ...Part) (*Template, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("template %s: at least one part is required", name)
	}

	t := &Template{name: name, segments: make([]segment, 0, len(parts))}
	for i, part := range parts {
		switch part.Role {
		case models.RoleSystem, models.RoleUser, models.RoleAssistant:
		default:
			return nil, fmt.Errorf("template %s: part %d has unsupported role %q", name, i, part.Role)
		}
		if strings.TrimSpace(part.Text) == "" {
			return nil, fmt.Errorf("template %s: part %d is empty", name, i)
		}
		nodes, err := parseText(part.Text)
		if err != nil {
			return nil, fmt.Errorf("template %s: part %d: %w", name, i, err)
		}
		t.segments = append(t.segments, segment{role: part.Role, nodes: nodes})
	}
	return t, nil
}

func parseText(text string) ([]node, error) {
	var (
		nodes   []node
		literal strings.Builder
	)

	flush := func() {
		if literal.Len() > 0 {
			nodes = append(nodes, node{literal: literal.String()})
			literal.Reset()
		}
	}

	for i := 0; i < len(text); i++ {
		c := text[i]
		switch c {
		case '{':
			if i+1 < len(text) && text[i+1] == '{' {
				literal.WriteByte('{')
				i++
				continue
			}
			end := strings.IndexByte(text[i+1:], '}')
			if end < 0 {
				return nil, fmt.Errorf("unclosed placeholder at offset %d", i)
			}
			name := text[i+1 : i+1+end]
			if !isIdentifier(name) {
				return nil, fmt.Errorf("invalid placeholder name %q at offset %d", name, i)
			}
			flush()
			nodes = append(nodes, node{variable: name})
			i += end + 1
		case '}':
			if i+1 < len(text) && text[i+1] == '}' {
				literal.WriteByte('}')
				i++
				continue
			}
			return nil, fmt.Errorf("single '}' at offset %d", i)
		default:
			literal.WriteByte(c)
		}
	}
	flush()
	return nodes, nil
}

func isIdentifier(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

// Name returns the template name given to Parse.
func (t *Template) Name() string {
	return t.name
}

// Variables lists the distinct placeholder names in sorted order.
func (t *Template) Variables() []string {
	seen := make(map[string]struct{})
	for _, seg := range t.segments {
		for _, n := range seg.nodes {
			if n.variable != "" {
				seen[n.variable] = struct{}{}
			}
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Render substitutes every placeholder with its formatted value. Values not
// referenced by the template are ignored.
func (t *Template) Render(values map[string]any) (Rendered, error) {
	messages := make([]models.Message, 0, len(t.segments))
	for _, seg := range t.segments {
		var b strings.Builder
		for _, n := range seg.nodes {
			if n.variable == "" {
				b.WriteString(n.literal)
				continue
			}
			value, ok := values[n.variable]
			if !ok {
				return Rendered{}, fmt.Errorf("template %s: %w %q", t.name, ErrMissingValue, n.variable)
			}
			b.WriteString(Format(value))
		}
		messages = append(messages, models.Message{Role: seg.role, Content: b.String()})
	}
	return Rendered{Messages: messages}, nil
}

// Rendered is the conversation produced by a template.
type Rendered struct {
	Messages []models.Message
}

// String joins the conversation for diagnostics. A single segment is
// returned verbatim.
func (r Rendered) String() string {
	if len(r.Messages) == 1 {
		return r.Messages[0].Content
	}
	lines := make([]string, 0, len(r.Messages))
	for _, msg := range r.Messages {
		lines = append(lines, roleLabel(msg.Role)+": "+msg.Content)
	}
	return strings.Join(lines, "\n")
}

func roleLabel(role string) string {
	switch role {
	case models.RoleSystem:
		return "System"
	case models.RoleUser:
		return "Human"
	case models.RoleAssistant:
		return "AI"
	default:
		return role
	}
}

// Format renders a decoded JSON value the way it appears inside a prompt:
// strings verbatim, numbers in shortest form, lists joined with commas,
// null as empty and objects as compact JSON.
func Format(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case []string:
		return strings.Join(v, ",")
	case []any:
		items := make([]string, len(v))
		for i, item := range v {
			items[i] = Format(item)
		}
		return strings.Join(items, ",")
	case map[string]any:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(data)
	default:
		return fmt.Sprint(v)
	}
}
