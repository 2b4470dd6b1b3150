package admin

import (
	"reflect"
	"testing"
)

func TestFlatten(t *testing.T) {
	got := Flatten(map[string]any{
		"a": map[string]any{"b": 1.0, "c": map[string]any{"d": "x"}},
		"e": []any{"y"},
		"f": nil,
	})
	want := map[string]any{
		"a_b":   1.0,
		"a_c_d": "x",
		"e":     []any{"y"},
		"f":     nil,
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected flatten result: %#v", got)
	}
}

func TestCell(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{"text", "text"},
		{true, "true"},
		{7.0, "7"},
		{2.5, "2.5"},
		{[]any{"a", 1.0}, `["a",1]`},
	}
	for _, tt := range tests {
		if got := cell(tt.in); got != tt.want {
			t.Fatalf("cell(%#v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
