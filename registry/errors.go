package registry

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies an integrity violation.
type ErrorKind string

const (
	KindDuplicateKey ErrorKind = "DUPLICATE_KEY"
	KindEmptyName    ErrorKind = "EMPTY_NAME"
	KindEmptyLibrary ErrorKind = "EMPTY_LIBRARY"
	KindInvalidIndex ErrorKind = "INVALID_INDEX"
	// Whitespace kinds are only ever reported as warnings.
	KindNameWhitespace    ErrorKind = "NAME_WHITESPACE"
	KindLibraryWhitespace ErrorKind = "LIBRARY_WHITESPACE"
)

// Sentinels matched by ConfigError.Is.
var (
	ErrDuplicateKey = errors.New("registry: duplicate key")
	ErrEmptyName    = errors.New("registry: empty display name")
	ErrEmptyLibrary = errors.New("registry: empty library identifier")
	ErrInvalidIndex = errors.New("registry: invalid tool index")
)

// ConfigError reports a registry integrity violation. It is fatal: a
// registry that produces one is never resolved.
type ConfigError struct {
	Kind    ErrorKind `json:"kind"`
	Ordinal int       `json:"ordinal"`
	// OtherOrdinal is the earlier conflicting row for duplicate keys, -1 otherwise.
	OtherOrdinal int    `json:"other_ordinal"`
	Library      string `json:"library"`
	Index        int    `json:"index"`
	Message      string `json:"message"`
}

func (e *ConfigError) Error() string {
	if e == nil {
		return ""
	}
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = "integrity violation"
	}
	return fmt.Sprintf("registry: %s: %s", e.Kind, msg)
}

// Is lets errors.Is match a ConfigError against the sentinel of its kind.
func (e *ConfigError) Is(target error) bool {
	if e == nil {
		return false
	}
	switch e.Kind {
	case KindDuplicateKey:
		return target == ErrDuplicateKey
	case KindEmptyName:
		return target == ErrEmptyName
	case KindEmptyLibrary:
		return target == ErrEmptyLibrary
	case KindInvalidIndex:
		return target == ErrInvalidIndex
	}
	return false
}

// AsConfigError extracts a *ConfigError from err.
func AsConfigError(err error) (*ConfigError, bool) {
	var cfgErr *ConfigError
	if errors.As(err, &cfgErr) {
		return cfgErr, true
	}
	return nil, false
}
