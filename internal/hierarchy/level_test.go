package hierarchy_test

import (
	"reflect"
	"testing"

	"tagrouter/internal/hierarchy"
)

func TestParseAllOrdersAndDeduplicates(t *testing.T) {
	levels, err := hierarchy.ParseAll([]string{"Tertiary", "primary", " tertiary "})
	if err != nil {
		t.Fatalf("ParseAll returned error: %v", err)
	}
	want := []hierarchy.Level{hierarchy.Primary, hierarchy.Tertiary}
	if !reflect.DeepEqual(levels, want) {
		t.Fatalf("unexpected levels: got %v want %v", levels, want)
	}
}

func TestParseRejectsUnknownLevel(t *testing.T) {
	if _, err := hierarchy.Parse("quaternary"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestAncestorsAndDescendants(t *testing.T) {
	tests := []struct {
		level       hierarchy.Level
		ancestors   []hierarchy.Level
		descendants []hierarchy.Level
	}{
		{hierarchy.Primary, nil, []hierarchy.Level{hierarchy.Secondary, hierarchy.Tertiary}},
		{hierarchy.Secondary, []hierarchy.Level{hierarchy.Primary}, []hierarchy.Level{hierarchy.Tertiary}},
		{hierarchy.Tertiary, []hierarchy.Level{hierarchy.Primary, hierarchy.Secondary}, nil},
	}
	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			if got := hierarchy.Ancestors(tt.level); !reflect.DeepEqual(got, tt.ancestors) {
				t.Errorf("Ancestors(%s) = %v, want %v", tt.level, got, tt.ancestors)
			}
			if got := hierarchy.Descendants(tt.level); !reflect.DeepEqual(got, tt.descendants) {
				t.Errorf("Descendants(%s) = %v, want %v", tt.level, got, tt.descendants)
			}
		})
	}
}
