package registry

import (
	"fmt"
	"strings"
)

// Severity defines diagnostic severity produced by Check.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Diagnostic is a structured integrity finding for one source row.
type Diagnostic struct {
	Ordinal      int       `json:"ordinal"`
	OtherOrdinal int       `json:"other_ordinal"`
	Library      string    `json:"library"`
	Index        int       `json:"index"`
	Code         ErrorKind `json:"code"`
	Severity     Severity  `json:"severity"`
	Message      string    `json:"message"`
}

// Err converts the diagnostic into a ConfigError.
func (d Diagnostic) Err() *ConfigError {
	return &ConfigError{
		Kind:         d.Code,
		Ordinal:      d.Ordinal,
		OtherOrdinal: d.OtherOrdinal,
		Library:      d.Library,
		Index:        d.Index,
		Message:      d.Message,
	}
}

// HasErrors returns true when at least one error-severity diagnostic exists.
func HasErrors(diags []Diagnostic) bool {
	for _, d := range diags {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Check validates records without building a registry and returns every
// finding in row order. It never consults a catalog.
func Check(records []Record) []Diagnostic {
	var diags []Diagnostic
	seen := make(map[Key]int, len(records))

	for i, rec := range records {
		base := Diagnostic{
			Ordinal:      i,
			OtherOrdinal: -1,
			Library:      rec.Library,
			Index:        rec.Index,
			Severity:     SeverityError,
		}

		switch lib := strings.TrimSpace(rec.Library); {
		case lib == "":
			d := base
			d.Code = KindEmptyLibrary
			d.Message = fmt.Sprintf("row %d has an empty library identifier", i)
			diags = append(diags, d)
		case lib != rec.Library:
			// Keys compare the raw identifier, so a padded library is a
			// different library from its trimmed spelling.
			d := base
			d.Code = KindLibraryWhitespace
			d.Severity = SeverityWarning
			d.Message = fmt.Sprintf("row %d library %q has surrounding whitespace", i, rec.Library)
			diags = append(diags, d)
		}
		if rec.Index < 0 {
			d := base
			d.Code = KindInvalidIndex
			d.Message = fmt.Sprintf("row %d has negative tool index %d", i, rec.Index)
			diags = append(diags, d)
		}
		switch {
		case strings.TrimSpace(rec.Name) == "":
			d := base
			d.Code = KindEmptyName
			d.Message = fmt.Sprintf("row %d (%s/%d) has an empty display name", i, rec.Library, rec.Index)
			diags = append(diags, d)
		case strings.TrimSpace(rec.Name) != rec.Name:
			d := base
			d.Code = KindNameWhitespace
			d.Severity = SeverityWarning
			d.Message = fmt.Sprintf("row %d (%s/%d) display name %q has surrounding whitespace", i, rec.Library, rec.Index, rec.Name)
			diags = append(diags, d)
		}

		key := Key{Library: rec.Library, Index: rec.Index}
		if first, dup := seen[key]; dup {
			d := base
			d.Code = KindDuplicateKey
			d.OtherOrdinal = first
			d.Message = fmt.Sprintf("%s is registered at rows %d and %d", key, first, i)
			diags = append(diags, d)
			continue
		}
		seen[key] = i
	}
	return diags
}
