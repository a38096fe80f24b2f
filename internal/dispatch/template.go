// Package dispatch renders the configured bridge command template and
// invokes it as a subprocess, parsing the trailing result marker
// (spec.md §4.7).
//
// The template is modeled as a tagged AST of literal fragments and
// placeholder names, parsed once at construction, per the "config-driven
// command template" design note in spec.md §9 — not as embedded
// string-format tokens re-parsed on every dispatch.
package dispatch

import (
	"fmt"
	"strings"

	"al.essio.dev/pkg/shellescape"
)

// TaskFields are the values substituted into a rendered command.
type TaskFields struct {
	Role        string
	Repo        string
	TaskKind    string
	TaskNumber  string
	TaskTitle   string
	TaskURL     string
	ContextJSON string
}

func (f TaskFields) value(placeholder string) (string, bool) {
	switch placeholder {
	case "role":
		return f.Role, true
	case "repo":
		return f.Repo, true
	case "task_kind":
		return f.TaskKind, true
	case "task_number", "issue_number":
		return f.TaskNumber, true
	case "task_title", "issue_title":
		return f.TaskTitle, true
	case "task_url", "issue_url":
		return f.TaskURL, true
	case "context_json":
		return f.ContextJSON, true
	default:
		return "", false
	}
}

// basePlaceholders is the supported placeholder vocabulary without their
// _q shell-escaped counterparts (spec.md §4.7).
var basePlaceholders = map[string]bool{
	"role": true, "repo": true, "task_kind": true, "task_number": true,
	"task_title": true, "task_url": true, "context_json": true,
	"issue_number": true, "issue_title": true, "issue_url": true,
}

// fragment is one piece of a parsed template: either a literal string or a
// placeholder reference.
type fragment struct {
	literal     string
	placeholder string // empty for a literal fragment
	quoted      bool   // true for a "_q" suffixed placeholder
}

// Template is a parsed command template.
type Template struct {
	fragments    []fragment
	placeholders map[string]bool // base names referenced, quoted or not
}

// ErrUnsupportedPlaceholder is returned by Parse when the template
// references a placeholder outside the supported vocabulary.
type ErrUnsupportedPlaceholder struct {
	Placeholder string
}

func (e *ErrUnsupportedPlaceholder) Error() string {
	return fmt.Sprintf("unsupported template placeholder %q", e.Placeholder)
}

// Parse parses a template string such as
// `bridge --role {role_q} --repo {repo_q}` into a Template, rejecting any
// placeholder outside the supported set at parse time (spec.md §4.7 step 2).
func Parse(tmpl string) (*Template, error) {
	t := &Template{placeholders: map[string]bool{}}

	rest := tmpl
	for {
		start := strings.IndexByte(rest, '{')
		if start == -1 {
			t.fragments = append(t.fragments, fragment{literal: rest})
			break
		}
		if start > 0 {
			t.fragments = append(t.fragments, fragment{literal: rest[:start]})
		}
		rest = rest[start+1:]

		end := strings.IndexByte(rest, '}')
		if end == -1 {
			return nil, fmt.Errorf("unterminated placeholder in template: %q", tmpl)
		}
		name := rest[:end]
		rest = rest[end+1:]

		base, quoted := strings.CutSuffix(name, "_q")
		if !basePlaceholders[base] {
			return nil, &ErrUnsupportedPlaceholder{Placeholder: name}
		}

		t.fragments = append(t.fragments, fragment{placeholder: base, quoted: quoted})
		t.placeholders[base] = true
	}

	return t, nil
}

// HasTaskKind reports whether the template references {task_kind} or
// {task_kind_q} (used to decide whether the built-in default template
// applies, spec.md §4.7 step 3).
func (t *Template) HasTaskKind() bool {
	return t.placeholders["task_kind"]
}

// Render substitutes fields into the template, shell-escaping every "_q"
// placeholder (spec.md §4.7 step 4). Render is a pure function of its
// inputs: identical fields always produce identical output.
func (t *Template) Render(fields TaskFields) string {
	var b strings.Builder
	for _, f := range t.fragments {
		if f.placeholder == "" {
			b.WriteString(f.literal)
			continue
		}
		v, _ := fields.value(f.placeholder)
		if f.quoted {
			v = shellescape.Quote(v)
		}
		b.WriteString(v)
	}
	return b.String()
}

// DefaultTemplateSource is the built-in template substituted when the configured
// template omits {task_kind*} for a PR follow-up (spec.md §4.7 step 3).
const DefaultTemplateSource = `openclaw-bridge dispatch --role {role_q} --task-kind {task_kind_q} ` +
	`--repo {repo_q} --number {task_number_q} --title {task_title_q} --url {task_url_q} ` +
	`--context {context_json_q}`
