package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	srv "github.com/mohammad-safakhou/kernelplanner/internal/server"
)

var sample = []srv.PluginView{{
	Name:        "Calculator",
	Description: "Basic arithmetic",
	Functions: []srv.FunctionView{{
		Name:        "multiply",
		Description: "Multiply two numbers",
		Parameters:  map[string]any{"type": "object", "required": []any{"a", "b"}},
	}},
}}

func TestWriteCatalogueJSON(t *testing.T) {
	var buf bytes.Buffer
	if err := writeCatalogue(&buf, "json", sample); err != nil {
		t.Fatalf("write: %v", err)
	}
	var got []srv.PluginView
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].Functions[0].Name != "multiply" {
		t.Fatalf("unexpected catalogue %+v", got)
	}
}

func TestWriteCatalogueYAML(t *testing.T) {
	var buf bytes.Buffer
	if err := writeCatalogue(&buf, "yaml", sample); err != nil {
		t.Fatalf("write: %v", err)
	}
	if !strings.Contains(buf.String(), "name: Calculator") {
		t.Fatalf("yaml output missing plugin name:\n%s", buf.String())
	}
	var got []srv.PluginView
	if err := yaml.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got[0].Functions[0].Description != "Multiply two numbers" {
		t.Fatalf("unexpected catalogue %+v", got)
	}
}

func TestWriteCatalogueRejectsUnknownFormat(t *testing.T) {
	if err := writeCatalogue(&bytes.Buffer{}, "xml", sample); err == nil {
		t.Fatalf("expected error for xml")
	}
}
