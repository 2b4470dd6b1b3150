package prompts

import (
	"fmt"
	"sort"
	"strings"
)

// Render substitutes {name} placeholders. Doubled braces produce literal
// braces, so JSON examples in templates are written as {{ and }}.
func Render(content string, vars map[string]string) (string, error) {
	return expand(content, func(name string) (string, error) {
		val, ok := vars[name]
		if !ok {
			return "", fmt.Errorf("%w: missing value for {%s}", ErrInvalidInput, name)
		}
		return val, nil
	})
}

// Placeholders returns the distinct placeholder names used in content.
func Placeholders(content string) ([]string, error) {
	seen := map[string]struct{}{}
	_, err := expand(content, func(name string) (string, error) {
		seen[name] = struct{}{}
		return "", nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func expand(content string, lookup func(name string) (string, error)) (string, error) {
	var b strings.Builder
	b.Grow(len(content))
	for i := 0; i < len(content); i++ {
		ch := content[i]
		switch ch {
		case '{':
			if i+1 < len(content) && content[i+1] == '{' {
				b.WriteByte('{')
				i++
				continue
			}
			end := strings.IndexByte(content[i+1:], '}')
			if end < 0 {
				return "", fmt.Errorf("%w: unclosed placeholder at offset %d", ErrInvalidInput, i)
			}
			name := content[i+1 : i+1+end]
			if name == "" || strings.ContainsAny(name, "{ \n\t\"") {
				return "", fmt.Errorf("%w: malformed placeholder at offset %d", ErrInvalidInput, i)
			}
			val, err := lookup(name)
			if err != nil {
				return "", err
			}
			b.WriteString(val)
			i += end + 1
		case '}':
			if i+1 < len(content) && content[i+1] == '}' {
				b.WriteByte('}')
				i++
				continue
			}
			return "", fmt.Errorf("%w: single '}' at offset %d", ErrInvalidInput, i)
		default:
			b.WriteByte(ch)
		}
	}
	return b.String(), nil
}

// Validate checks that content parses and only uses placeholders the type
// supplies at render time.
func Validate(t Type, content string) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("%w: content is required", ErrInvalidInput)
	}
	allowed, ok := allowedPlaceholders[t]
	if !ok {
		return ErrUnknownType
	}
	names, err := Placeholders(content)
	if err != nil {
		return err
	}
	for _, name := range names {
		found := false
		for _, a := range allowed {
			if a == name {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%w: placeholder {%s} is not available for %s", ErrInvalidInput, name, t)
		}
	}
	return nil
}
