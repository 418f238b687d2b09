package report

import (
	"github.com/invopop/jsonschema"
)

// Schema returns the JSON schema of VerificationReport as printed at the end
// of every run.
func Schema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	return reflector.Reflect(&VerificationReport{})
}

// JSONSchema describes Steps as an object keyed by stage name.
func (Steps) JSONSchema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	outcome := reflector.Reflect(&StageOutcome{})
	outcome.Version = ""
	return &jsonschema.Schema{
		Type:                 "object",
		Description:          "stage outcomes keyed by stage name, in pipeline order",
		AdditionalProperties: outcome,
	}
}
