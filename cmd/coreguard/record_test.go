package main

import (
	"reflect"
	"testing"
)

func TestSplitFileList(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"empty", "", nil},
		{"single", "a.ts", []string{"a.ts"}},
		{"multiple", "a.ts,b.ts", []string{"a.ts", "b.ts"}},
		{"whitespace", " a.ts , b.ts ", []string{"a.ts", "b.ts"}},
		{"trailing comma", "a.ts,", []string{"a.ts"}},
		{"only commas", ",,", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitFileList(tt.input)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("splitFileList(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestSplitCSV(t *testing.T) {
	got := splitCSV("ts, tsx ,")
	want := []string{"ts", "tsx"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("splitCSV = %v, want %v", got, want)
	}
	if splitCSV("") != nil {
		t.Error("splitCSV of empty string should be nil")
	}
}
