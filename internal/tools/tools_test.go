package tools

import (
	"errors"
	"fmt"
	"testing"
)

type searchArgs struct {
	Query string `json:"query"`
	Num   int    `json:"num_results"`
}

func (a *searchArgs) Validate() error {
	if a.Query == "" {
		return fmt.Errorf("query is required")
	}
	return nil
}

func TestDecodeArgs(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		args    map[string]any
		wantErr bool
		want    searchArgs
	}{
		{"all fields", map[string]any{"query": "sztu", "num_results": 3}, false, searchArgs{"sztu", 3}},
		{"optional omitted", map[string]any{"query": "sztu"}, false, searchArgs{"sztu", 0}},
		{"missing required", map[string]any{"num_results": 3}, true, searchArgs{}},
		{"unknown field", map[string]any{"query": "x", "page": 2}, true, searchArgs{}},
		{"wrong type", map[string]any{"query": 42}, true, searchArgs{}},
		{"nil map", nil, true, searchArgs{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var got searchArgs
			err := DecodeArgs(tt.args, &got)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if !errors.Is(err, ErrInvalidArguments) {
					t.Errorf("error %v does not wrap ErrInvalidArguments", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestObjectSchema(t *testing.T) {
	t.Parallel()

	s := ObjectSchema(map[string]Property{
		"keyword": {Type: "string", Description: "search keyword"},
	}, "keyword")

	if s["type"] != "object" {
		t.Errorf("type = %v, want object", s["type"])
	}
	props, ok := s["properties"].(map[string]any)
	if !ok || props["keyword"] == nil {
		t.Fatalf("missing keyword property: %v", s)
	}
	req, ok := s["required"].([]string)
	if !ok || len(req) != 1 || req[0] != "keyword" {
		t.Errorf("required = %v", s["required"])
	}

	if _, ok := ObjectSchema(nil)["required"]; ok {
		t.Error("expected no required key for empty required list")
	}
}
