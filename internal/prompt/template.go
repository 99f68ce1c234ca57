package prompt

import (
	"fmt"
	"regexp"
	"strings"
)

var placeholder = regexp.MustCompile(`\{\{(\w+)\}\}`)

// Template is prompt text with {{name}} placeholders, parsed once.
// Substituted values are inserted verbatim and never re-scanned, so user
// text containing braces cannot inject further placeholders.
type Template struct {
	text string
	vars []string
}

// Parse rejects text with a "{{" that does not open a valid placeholder.
func Parse(text string) (*Template, error) {
	stripped := placeholder.ReplaceAllString(text, "")
	if strings.Contains(stripped, "{{") {
		return nil, fmt.Errorf("malformed placeholder in template %.40q", text)
	}

	t := &Template{text: text}
	seen := make(map[string]bool)
	for _, m := range placeholder.FindAllStringSubmatch(text, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			t.vars = append(t.vars, m[1])
		}
	}
	return t, nil
}

func MustParse(text string) *Template {
	t, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return t
}

// Variables lists placeholder names in order of first use.
func (t *Template) Variables() []string {
	return append([]string(nil), t.vars...)
}

// Execute fills every placeholder; a missing value is an error.
func (t *Template) Execute(vars map[string]string) (string, error) {
	var missing []string
	for _, v := range t.vars {
		if _, ok := vars[v]; !ok {
			missing = append(missing, v)
		}
	}
	if len(missing) > 0 {
		return "", fmt.Errorf("missing template variables: %s", strings.Join(missing, ", "))
	}

	return placeholder.ReplaceAllStringFunc(t.text, func(match string) string {
		return vars[match[2:len(match)-2]]
	}), nil
}
