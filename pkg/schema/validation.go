package schema

import "strings"

// ValidationSeverity indicates whether an issue is an error or warning.
type ValidationSeverity string

const (
	SeverityError   ValidationSeverity = "error"
	SeverityWarning ValidationSeverity = "warning"
)

// ValidationIssue is a single field-level validation problem.
type ValidationIssue struct {
	Field    string             `json:"field"`
	Message  string             `json:"message"`
	Severity ValidationSeverity `json:"severity"`
}

// String renders the issue as "field: message".
func (i ValidationIssue) String() string {
	if i.Field == "" {
		return i.Message
	}
	return i.Field + ": " + i.Message
}

// ValidationResult aggregates issues from the validation pipeline.
type ValidationResult struct {
	Errors   []ValidationIssue `json:"errors,omitempty"`
	Warnings []ValidationIssue `json:"warnings,omitempty"`
}

// Valid returns true if there are no errors (warnings are acceptable).
func (r *ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

// AddError appends an error-severity issue.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationIssue{Field: field, Message: message, Severity: SeverityError})
}

// AddWarning appends a warning-severity issue.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationIssue{Field: field, Message: message, Severity: SeverityWarning})
}

// Merge combines another ValidationResult into this one.
func (r *ValidationResult) Merge(other *ValidationResult) {
	if other == nil {
		return
	}
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
}

// ToError converts the result to a FlowError whose message joins every
// error, prefixed with summary. Returns nil if valid.
func (r *ValidationResult) ToError(summary string) error {
	if r.Valid() {
		return nil
	}
	parts := make([]string, len(r.Errors))
	for i, issue := range r.Errors {
		parts[i] = issue.String()
	}
	return NewError(ErrCodeValidation, summary+": "+strings.Join(parts, "; ")).
		WithDetails(map[string]any{
			"error_count":   len(r.Errors),
			"warning_count": len(r.Warnings),
			"errors":        r.Errors,
			"warnings":      r.Warnings,
		})
}
