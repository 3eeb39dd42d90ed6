package loader

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
)

// ReadFile reads a JSON or YAML document and returns it as JSON bytes.
func ReadFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path from caller
	if err != nil {
		return nil, fmt.Errorf("reading file %s: %w", path, err)
	}
	out, err := ToJSON(data, path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return out, nil
}

// DecodeFile reads the document at path into v.
func DecodeFile(path string, v any) error {
	data, err := ReadFile(path)
	if err != nil {
		return err
	}
	if err := decodeStrict(data, v); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// Decode converts data (encoded per the extension of name) into v.
// Unknown fields are rejected so typos in hand-edited files surface early.
func Decode(data []byte, name string, v any) error {
	out, err := ToJSON(data, name)
	if err != nil {
		return err
	}
	return decodeStrict(out, v)
}

func decodeStrict(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decoding document: %w", err)
	}
	return nil
}
