package plugin

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"adbdesk/models"

	"github.com/pkg/errors"
	"github.com/tidwall/gjson"
)

var idPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)

// requiredFields are checked in this order; the first missing one is reported.
var requiredFields = []string{"id", "name", "version", "main", "capabilities"}

// ValidationError reports the first manifest field that failed validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid plugin manifest: " + e.Reason
	}
	return fmt.Sprintf("invalid plugin manifest: %s %s", e.Field, e.Reason)
}

// ParseManifest validates and decodes a plugin.json document.
// null, "", 0 and false all count as a missing required field.
func ParseManifest(raw []byte) (models.PluginManifest, error) {
	var manifest models.PluginManifest

	if !gjson.ValidBytes(raw) {
		return manifest, &ValidationError{Reason: "is not valid JSON"}
	}
	doc := gjson.ParseBytes(raw)
	if !doc.IsObject() {
		return manifest, &ValidationError{Reason: "must be a JSON object"}
	}
	for _, field := range requiredFields {
		if !present(doc.Get(field)) {
			return manifest, &ValidationError{Field: field, Reason: "is required"}
		}
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&manifest); err != nil {
		return manifest, decodeError(err)
	}

	if !idPattern.MatchString(manifest.ID) {
		return manifest, &ValidationError{Field: "id", Reason: fmt.Sprintf("%q has an invalid format", manifest.ID)}
	}
	return manifest, nil
}

func present(r gjson.Result) bool {
	switch r.Type {
	case gjson.Null, gjson.False:
		return false
	case gjson.String:
		return r.Str != ""
	case gjson.Number:
		return r.Num != 0
	default:
		return r.Exists()
	}
}

func decodeError(err error) *ValidationError {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return &ValidationError{Field: typeErr.Field, Reason: "must be of type " + typeErr.Type.String()}
	}
	// encoding/json has no typed error for unknown fields.
	if name, ok := strings.CutPrefix(err.Error(), "json: unknown field "); ok {
		return &ValidationError{Field: strings.Trim(name, `"`), Reason: "is not a known field"}
	}
	return &ValidationError{Reason: err.Error()}
}
