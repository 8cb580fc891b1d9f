package tools

import (
	"context"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/hmochat-go/internal/identity"
)

// VerifyToolName is the name advertised for member validation.
const VerifyToolName = "verify_user_information"

// VerifyTool validates the member details the model has collected and
// confirmed with the user.
type VerifyTool struct{}

// NewVerifyTool constructs a VerifyTool.
func NewVerifyTool() *VerifyTool {
	return &VerifyTool{}
}

// Name returns the tool name registered with the model.
func (t *VerifyTool) Name() string { return VerifyToolName }

// Description returns the LLM-facing description of this tool.
func (t *VerifyTool) Description() string {
	return "Verify user information after all fields have been collected and approved by the user. " +
		"All values must be given in Hebrew."
}

// Info returns the Eino tool metadata including the JSON input schema.
func (t *VerifyTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: t.Name(),
		Desc: t.Description(),
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"full_name": {
				Type:     schema.String,
				Desc:     "The full name of the user.",
				Required: true,
			},
			"id_number": {
				Type:     schema.String,
				Desc:     "ID number of the user (9 digits).",
				Required: true,
			},
			"gender": {
				Type:     schema.String,
				Desc:     "Gender of the user.",
				Enum:     identity.Genders,
				Required: true,
			},
			"age": {
				Type:     schema.Number,
				Desc:     "The age of the user.",
				Required: true,
			},
			"health_fund": {
				Type:     schema.String,
				Desc:     "Health fund the user is registered with.",
				Enum:     identity.HealthFunds,
				Required: true,
			},
			"hmo_card_number": {
				Type:     schema.String,
				Desc:     "HMO card number (9 digits).",
				Required: true,
			},
			"insurance_tier": {
				Type:     schema.String,
				Desc:     "Insurance tier of the user.",
				Enum:     identity.InsuranceTiers,
				Required: true,
			},
		}),
	}, nil
}

// Verify parses and validates the tool arguments. message is the text fed
// back to the model; ok reports whether id is a valid record.
func (t *VerifyTool) Verify(argumentsInJSON string) (id identity.Identity, message string, ok bool) {
	raw, err := identity.Parse(argumentsInJSON)
	if err != nil {
		return identity.Identity{}, err.Error(), false
	}
	id, err = identity.Validate(raw)
	return id, identity.Message(err), err == nil
}

// InvokableRun validates the member record and returns the validation
// message. A failed validation is a normal result, not an error.
func (t *VerifyTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...tool.Option) (string, error) {
	_, msg, _ := t.Verify(argumentsInJSON)
	return msg, nil
}
