package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/santhosh-tekuri/jsonschema/v6/kind"

	"github.com/rendis/flowkit/pkg/schema"
)

const schemaBaseURL = "https://flowkit.dev/schemas/behaviors/"

// Config schemas. Extra properties are allowed so shared keys such as
// "condition" pass through.
var configSchemas = map[schema.BehaviorType]string{
	schema.BehaviorEmployerDetection: `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["employerSourceField", "employerMapping"],
  "properties": {
    "employerSourceField": { "type": "string", "minLength": 1 },
    "employerMapping": {
      "type": "object",
      "additionalProperties": { "type": "string" }
    },
    "defaultPaymentTerms": { "enum": ["net30", "net60", "net90", "immediate"] },
    "requireMapping": { "type": "boolean" }
  }
}`,
	schema.BehaviorInvoiceMapping: `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["organizationSourceField", "invoiceMapping"],
  "properties": {
    "organizationSourceField": { "type": "string", "minLength": 1 },
    "invoiceMapping": {
      "type": "object",
      "additionalProperties": { "type": ["string", "null"] }
    },
    "defaultPaymentTerms": { "enum": ["net30", "net60", "net90", "immediate"] },
    "requireMapping": { "type": "boolean" },
    "invoiceType": { "enum": ["employer", "manual", "platform"] }
  }
}`,
}

func compileConfigSchemas() (map[schema.BehaviorType]*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	compiled := make(map[schema.BehaviorType]*jsonschema.Schema, len(configSchemas))
	for bt, src := range configSchemas {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
		if err != nil {
			return nil, fmt.Errorf("unmarshal %s schema: %w", bt, err)
		}
		url := schemaBaseURL + string(bt) + ".json"
		if err := c.AddResource(url, doc); err != nil {
			return nil, fmt.Errorf("add %s schema resource: %w", bt, err)
		}
		sch, err := c.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compile %s schema: %w", bt, err)
		}
		compiled[bt] = sch
	}
	return compiled, nil
}

// withSemantics runs the schema check and, only when the shape is valid,
// the semantic check.
func withSemantics(sch *jsonschema.Schema, semantic configCheck) configCheck {
	return func(config map[string]any) []schema.ValidationIssue {
		if config == nil {
			config = map[string]any{}
		}
		doc, err := toJSONValue(config)
		if err != nil {
			return []schema.ValidationIssue{issue("", "config is not serializable: "+err.Error())}
		}
		if err := sch.Validate(doc); err != nil {
			return toIssues(err)
		}
		if semantic == nil {
			return nil
		}
		return semantic(config)
	}
}

// checkInvoiceMappingSemantics enforces what the schema cannot express: a
// required mapping must map at least one key to an organization.
func checkInvoiceMappingSemantics(config map[string]any) []schema.ValidationIssue {
	if required, _ := config["requireMapping"].(bool); !required {
		return nil
	}
	mapping, _ := config["invoiceMapping"].(map[string]any)
	for _, orgID := range mapping {
		if orgID != nil {
			return nil
		}
	}
	return []schema.ValidationIssue{
		issue("invoiceMapping", "must map at least one entry to an organization when requireMapping is true"),
	}
}

// toJSONValue round-trips a Go value through JSON so numbers become
// json.Number, as the jsonschema library requires.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

func toIssues(err error) []schema.ValidationIssue {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return []schema.ValidationIssue{issue("", err.Error())}
	}
	return collectViolations(verr)
}

// collectViolations walks a ValidationError tree and turns every leaf into
// an issue keyed by the dotted instance path.
func collectViolations(verr *jsonschema.ValidationError) []schema.ValidationIssue {
	if len(verr.Causes) > 0 {
		var issues []schema.ValidationIssue
		for _, cause := range verr.Causes {
			issues = append(issues, collectViolations(cause)...)
		}
		return issues
	}

	field := strings.Join(verr.InstanceLocation, ".")
	switch k := verr.ErrorKind.(type) {
	case *kind.Required:
		issues := make([]schema.ValidationIssue, 0, len(k.Missing))
		for _, name := range k.Missing {
			issues = append(issues, issue(joinField(field, name), "is required"))
		}
		return issues
	case *kind.Type:
		return []schema.ValidationIssue{issue(field, fmt.Sprintf("must be %s, got %s", strings.Join(k.Want, " or "), k.Got))}
	case *kind.Enum:
		return []schema.ValidationIssue{issue(field, fmt.Sprintf("must be one of %s", formatEnum(k.Want)))}
	case *kind.MinLength:
		return []schema.ValidationIssue{issue(field, "must not be empty")}
	default:
		return []schema.ValidationIssue{issue(field, "is invalid ("+strings.Join(verr.ErrorKind.KeywordPath(), "/")+")")}
	}
}

func issue(field, message string) schema.ValidationIssue {
	return schema.ValidationIssue{Field: field, Message: message, Severity: schema.SeverityError}
}

func joinField(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "." + name
}

func formatEnum(values []any) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, ", ")
}
