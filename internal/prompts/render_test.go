package prompts

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestRenderSubstitutesAndUnescapes(t *testing.T) {
	out, err := Render(`Rated {rating}/7: {{"bullet": {{"text": "{bulletText}"}}}}`, map[string]string{
		"rating":     "3",
		"bulletText": "I ship",
	})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	want := `Rated 3/7: {"bullet": {"text": "I ship"}}`
	if out != want {
		t.Fatalf("Render() = %q, want %q", out, want)
	}
}

func TestRenderErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "missing var", content: "hello {name}"},
		{name: "unclosed", content: "hello {name"},
		{name: "stray close", content: "hello }"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Render(tt.content, nil); !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestPlaceholders(t *testing.T) {
	got, err := Placeholders("{resume} and {jobDescription} and {resume} {{literal}}")
	if err != nil {
		t.Fatalf("Placeholders: %v", err)
	}
	want := []string{"jobDescription", "resume"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Placeholders() = %v, want %v", got, want)
	}
}

func TestValidateRejectsForeignPlaceholder(t *testing.T) {
	err := Validate(TypeControl, "Profile for {resume} using {bulletData}")
	if !errors.Is(err, ErrInvalidInput) || !strings.Contains(err.Error(), "bulletData") {
		t.Fatalf("expected placeholder error, got %v", err)
	}
	if err := Validate(TypeFinalSynthesis, "Profile for {resume} using {bulletData}"); err != nil {
		t.Fatalf("expected valid final_synthesis prompt, got %v", err)
	}
}

func TestEmbeddedDefaultsCoverEveryType(t *testing.T) {
	defaults, err := LoadDefaults("")
	if err != nil {
		t.Fatalf("LoadDefaults: %v", err)
	}
	for _, typ := range AllTypes {
		if strings.TrimSpace(defaults[typ]) == "" {
			t.Fatalf("missing default for %s", typ)
		}
	}

	out, err := Render(defaults[TypeBSEGeneration], map[string]string{"resume": "R", "jobDescription": "J"})
	if err != nil {
		t.Fatalf("render bse default: %v", err)
	}
	if !strings.Contains(out, `"bullets": [`) {
		t.Fatalf("expected literal JSON braces in rendered bse prompt")
	}
}
