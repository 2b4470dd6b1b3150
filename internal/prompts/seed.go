package prompts

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type seedFile struct {
	Prompts []struct {
		Type    string `yaml:"type"`
		Content string `yaml:"content"`
	} `yaml:"prompts"`
}

// LoadDefaults returns seed content per type. An empty path uses the embedded
// defaults; a file overrides only the types it lists.
func LoadDefaults(path string) (map[Type]string, error) {
	out, err := parseSeed(defaultsYAML)
	if err != nil {
		return nil, fmt.Errorf("embedded defaults: %w", err)
	}
	if path == "" {
		return out, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompt seed: %w", err)
	}
	overrides, err := parseSeed(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	for t, content := range overrides {
		out[t] = content
	}
	return out, nil
}

func parseSeed(data []byte) (map[Type]string, error) {
	var file seedFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	out := make(map[Type]string, len(file.Prompts))
	for _, p := range file.Prompts {
		t, ok := ParseType(p.Type)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownType, p.Type)
		}
		if err := Validate(t, p.Content); err != nil {
			return nil, fmt.Errorf("%s: %w", t, err)
		}
		out[t] = p.Content
	}
	return out, nil
}
