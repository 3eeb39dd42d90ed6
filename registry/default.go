package registry

import (
	_ "embed"
)

//go:embed data/tools.yaml
var defaultSource []byte

// DefaultSourceName is the file name reported for the embedded registry.
const DefaultSourceName = "tools.yaml"

// DefaultRecords returns the rows of the built-in tool list.
func DefaultRecords() ([]Record, error) {
	return Decode(defaultSource, DefaultSourceName)
}

// Default loads the built-in tool list shipped with the module.
func Default() (*Registry, error) {
	records, err := DefaultRecords()
	if err != nil {
		return nil, err
	}
	return Load(records)
}
