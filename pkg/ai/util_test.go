package ai

import (
	"reflect"
	"strings"
	"testing"
)

type payload struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestUnmarshalFlexible(t *testing.T) {
	want := payload{Name: "graph", Count: 3}

	cases := []struct {
		name  string
		input string
	}{
		{"plain", `{"name": "graph", "count": 3}`},
		{"fenced", "```json\n{\"name\": \"graph\", \"count\": 3}\n```"},
		{"double encoded", `"{\"name\": \"graph\", \"count\": 3}"`},
		{"unquoted keys", `{name: "graph", count: 3}`},
		{"trailing comma", `{"name": "graph", "count": 3,}`},
		{"surrounding whitespace", "  \n{\"name\": \"graph\", \"count\": 3}\n  "},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var got payload
			if err := UnmarshalFlexible(tc.input, &got); err != nil {
				t.Fatalf("UnmarshalFlexible: %v", err)
			}
			if !reflect.DeepEqual(got, want) {
				t.Errorf("got %+v, want %+v", got, want)
			}
		})
	}
}

func TestUnmarshalFlexibleRejectsGarbage(t *testing.T) {
	var got payload
	if err := UnmarshalFlexible("not even close to json", &got); err == nil {
		t.Error("expected an error for unparseable input")
	}
}

func TestBuildRecognitionPrompt(t *testing.T) {
	prompt := BuildRecognitionPrompt(nil)
	for _, entityType := range DefaultEntityTypes {
		if !strings.Contains(prompt, entityType) {
			t.Errorf("default prompt missing entity type %q", entityType)
		}
	}

	custom := BuildRecognitionPrompt([]string{"SERVICE", "TEAM"})
	if !strings.Contains(custom, "SERVICE, TEAM") {
		t.Errorf("custom prompt missing joined types: %s", custom)
	}
	if strings.Contains(custom, "CREATIVE_WORK") {
		t.Error("custom prompt leaked default types")
	}
}
