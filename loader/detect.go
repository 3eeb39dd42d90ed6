// Package loader reads registry, catalog snapshot, and config documents.
// Documents may be written in JSON or YAML; YAML is normalized to JSON so
// every caller decodes through a single typed path.
package loader

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format identifies the encoding of a document on disk.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// DetectFormat picks the parse format from the file extension.
// .yaml and .yml are YAML, everything else is treated as JSON.
func DetectFormat(path string) Format {
	if isYAML(path) {
		return FormatYAML
	}
	return FormatJSON
}

// ToJSON returns data as JSON bytes, converting from YAML when the path
// says the document is YAML.
func ToJSON(data []byte, path string) ([]byte, error) {
	if DetectFormat(path) == FormatYAML {
		return yamlToJSON(data)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("parsing JSON: invalid document")
	}
	return data, nil
}

// isYAML returns true if the file path has a YAML extension.
func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// yamlToJSON converts raw bytes from YAML format to JSON bytes.
// YAML -> any -> JSON bytes -> typed struct.
func yamlToJSON(data []byte) ([]byte, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}
	out, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("converting YAML to JSON: %w", err)
	}
	return out, nil
}
