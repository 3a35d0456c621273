package effect

import (
	"fmt"
	"strings"

	"github.com/canvas-medical/canvas-plugins-sub000/internal/platform/fhir"
)

// Detail types.
const (
	DetailValue   = "value"
	DetailMissing = "missing"
)

// ErrorDetail describes one failed check.
type ErrorDetail struct {
	Type    string      `json:"type"`
	Message string      `json:"message"`
	Field   string      `json:"field,omitempty"`
	Value   interface{} `json:"value"`
}

func NewDetail(typ, field, message string, value interface{}) ErrorDetail {
	return ErrorDetail{Type: typ, Message: message, Field: field, Value: value}
}

// ValidationError carries every detail collected for one effect and method.
type ValidationError struct {
	Effect  string
	Method  Method
	Details []ErrorDetail
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	noun := "errors"
	if len(e.Details) == 1 {
		noun = "error"
	}
	fmt.Fprintf(&b, "%d validation %s for %s", len(e.Details), noun, TypeName(e.Effect, e.Method))
	for _, d := range e.Details {
		b.WriteString("\n  ")
		if d.Field != "" {
			b.WriteString(d.Field)
			b.WriteString(": ")
		}
		fmt.Fprintf(&b, "%s [type=%s, input_value=%v]", d.Message, d.Type, d.Value)
	}
	return b.String()
}

// Validate returns a *ValidationError when details is non-empty.
func Validate(effectType string, method Method, details []ErrorDetail) error {
	if len(details) == 0 {
		return nil
	}
	return &ValidationError{Effect: effectType, Method: method, Details: details}
}

// Outcome renders the details as a FHIR OperationOutcome, one issue each.
func (e *ValidationError) Outcome() *fhir.OperationOutcome {
	b := fhir.NewOutcomeBuilder()
	for _, d := range e.Details {
		code := fhir.IssueTypeValue
		if d.Type == DetailMissing {
			code = fhir.IssueTypeRequired
		}
		b.AddIssueWithLocation(fhir.IssueSeverityError, code, d.Message, d.Field)
	}
	return b.Build()
}
