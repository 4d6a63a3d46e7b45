// Package validation checks behavior configurations before a workflow is
// persisted. Checks are pure and synchronous.
package validation

import (
	"fmt"
	"log/slog"

	"github.com/rendis/flowkit/pkg/schema"
)

// Validator checks behavior configurations.
type Validator interface {
	// ValidateBehaviorConfig returns the field-level errors of one config.
	// Field names are relative to the config.
	ValidateBehaviorConfig(behaviorType string, config map[string]any) []schema.ValidationIssue
	// ValidateBehaviors checks every behavior. Error fields are prefixed
	// with "<type>.". Unvalidated types produce warnings, never errors.
	ValidateBehaviors(behaviors []schema.BehaviorDefinition) *schema.ValidationResult
	// Unvalidated reports whether configs of behaviorType are accepted
	// without any check.
	Unvalidated(behaviorType string) bool
}

// configCheck validates one behavior type's configuration.
type configCheck func(config map[string]any) []schema.ValidationIssue

// BehaviorValidator validates the behavior types it has checks for and
// accepts every other type. Safe for concurrent use.
type BehaviorValidator struct {
	checks map[schema.BehaviorType]configCheck
	logger *slog.Logger
}

// NewBehaviorValidator compiles the built-in config schemas.
func NewBehaviorValidator(logger *slog.Logger) (*BehaviorValidator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	schemas, err := compileConfigSchemas()
	if err != nil {
		return nil, err
	}

	v := &BehaviorValidator{
		checks: make(map[schema.BehaviorType]configCheck),
		logger: logger,
	}
	v.checks[schema.BehaviorEmployerDetection] = withSemantics(schemas[schema.BehaviorEmployerDetection], nil)
	v.checks[schema.BehaviorInvoiceMapping] = withSemantics(schemas[schema.BehaviorInvoiceMapping], checkInvoiceMappingSemantics)
	return v, nil
}

func (v *BehaviorValidator) ValidateBehaviorConfig(behaviorType string, config map[string]any) []schema.ValidationIssue {
	bt := schema.BehaviorType(behaviorType)
	if check, ok := v.checks[bt]; ok {
		return check(config)
	}
	if !bt.Known() {
		v.logger.Warn("unknown behavior type accepted without validation", "behavior_type", behaviorType)
	}
	return nil
}

func (v *BehaviorValidator) ValidateBehaviors(behaviors []schema.BehaviorDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	for i, b := range behaviors {
		if b.Type == "" {
			result.AddError(fmt.Sprintf("behaviors[%d].type", i), "is required")
			continue
		}
		for _, issue := range v.ValidateBehaviorConfig(b.Type, b.Config) {
			result.AddError(b.Type+"."+issue.Field, issue.Message)
		}
		if !schema.BehaviorType(b.Type).Known() {
			result.AddWarning(b.Type, "unknown behavior type, configuration not validated")
		}
	}
	return result
}

// Unvalidated is true for unknown types. Known types without a dedicated
// check are on the allow-list and count as validated.
func (v *BehaviorValidator) Unvalidated(behaviorType string) bool {
	bt := schema.BehaviorType(behaviorType)
	if _, ok := v.checks[bt]; ok {
		return false
	}
	return !bt.Known()
}

var _ Validator = (*BehaviorValidator)(nil)
