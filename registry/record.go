package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/petal-labs/toolreg/loader"
)

// Record is one source row: a library identifier, a tool index and a
// display name. It decodes from either an object
// ({"library": ..., "index": ..., "name": ...}) or the legacy positional
// form [library, index, name].
type Record struct {
	Library string `json:"library" yaml:"library"`
	Index   int    `json:"index" yaml:"index"`
	Name    string `json:"name" yaml:"name"`
}

// UnmarshalJSON accepts both the object and the positional row form.
func (r *Record) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return r.unmarshalRow(trimmed)
	}

	type plain Record
	var p plain
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return fmt.Errorf("registry record: %w", err)
	}
	*r = Record(p)
	return nil
}

func (r *Record) unmarshalRow(data []byte) error {
	var row []json.RawMessage
	if err := json.Unmarshal(data, &row); err != nil {
		return fmt.Errorf("registry record row: %w", err)
	}
	if len(row) != 3 {
		return fmt.Errorf("registry record row: got %d fields, want 3", len(row))
	}
	var rec Record
	if err := json.Unmarshal(row[0], &rec.Library); err != nil {
		return fmt.Errorf("registry record row: library: %w", err)
	}
	if err := json.Unmarshal(row[1], &rec.Index); err != nil {
		return fmt.Errorf("registry record row: index: %w", err)
	}
	if err := json.Unmarshal(row[2], &rec.Name); err != nil {
		return fmt.Errorf("registry record row: name: %w", err)
	}
	*r = rec
	return nil
}

type sourceDocument struct {
	Tools []Record `json:"tools"`
}

// Decode parses a registry source document. The document is either a bare
// list of records or an object with a "tools" list; name selects JSON or
// YAML parsing by extension.
func Decode(data []byte, name string) ([]Record, error) {
	jsonData, err := loader.ToJSON(data, name)
	if err != nil {
		return nil, fmt.Errorf("registry: %s: %w", name, err)
	}

	trimmed := bytes.TrimSpace(jsonData)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var records []Record
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, fmt.Errorf("registry: %s: %w", name, err)
		}
		return records, nil
	}

	var doc sourceDocument
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("registry: %s: %w", name, err)
	}
	return doc.Tools, nil
}

// ReadFile decodes the registry source at path without validating it.
func ReadFile(path string) ([]Record, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path from caller
	if err != nil {
		return nil, fmt.Errorf("registry: reading %s: %w", path, err)
	}
	return Decode(data, path)
}

// LoadFile decodes and validates the registry source at path.
func LoadFile(path string) (*Registry, error) {
	records, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Load(records)
}
