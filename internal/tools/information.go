package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

// InformationToolName is the name advertised for knowledge-base lookups.
const InformationToolName = "get_information"

// InformationTool answers member questions from the services knowledge base.
type InformationTool struct {
	// searcher runs the filtered retrieval.
	searcher InformationSearcher

	// topK is the number of results requested per lookup (0 = searcher default).
	topK int
}

// informationInput is the JSON-serialisable input schema for InformationTool.
type informationInput struct {
	// Query is the model-generated Hebrew query.
	Query string `json:"query"`

	// HMO is the health fund display value (e.g. "מכבי").
	HMO string `json:"hmo"`

	// Tier is the insurance tier display value (e.g. "זהב").
	Tier string `json:"tier"`
}

// NewInformationTool constructs an InformationTool backed by searcher.
func NewInformationTool(searcher InformationSearcher, topK int) *InformationTool {
	return &InformationTool{searcher: searcher, topK: topK}
}

// Name returns the tool name registered with the model.
func (t *InformationTool) Name() string { return InformationToolName }

// Description returns the LLM-facing description of this tool.
func (t *InformationTool) Description() string {
	return "A function that retrieves information based on a user query."
}

// Info returns the Eino tool metadata including the JSON input schema.
func (t *InformationTool) Info(ctx context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name: t.Name(),
		Desc: t.Description(),
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"query": {
				Type:     schema.String,
				Desc:     "The generated query in Hebrew.",
				Required: true,
			},
			"hmo": {
				Type:     schema.String,
				Desc:     "The user's health fund.",
				Required: true,
			},
			"tier": {
				Type:     schema.String,
				Desc:     "The user's insurance tier.",
				Required: true,
			},
		}),
	}, nil
}

// InvokableRun searches the knowledge base and returns the result set as
// JSON. Missing hmo or tier arguments default to the verified member's
// values carried in ctx. Retrieval failures are reported inside the JSON.
func (t *InformationTool) InvokableRun(ctx context.Context, argumentsInJSON string, opts ...tool.Option) (string, error) {
	var input informationInput
	if err := json.Unmarshal([]byte(argumentsInJSON), &input); err != nil {
		return "", fmt.Errorf("get_information: invalid input: %w", err)
	}
	if id, ok := IdentityFromContext(ctx); ok {
		if input.HMO == "" {
			input.HMO = id.HealthFund
		}
		if input.Tier == "" {
			input.Tier = id.InsuranceTier
		}
	}

	res := t.searcher.Search(ctx, input.Query, input.HMO, input.Tier, t.topK)
	out, err := json.Marshal(res)
	if err != nil {
		return "", fmt.Errorf("get_information: encoding result: %w", err)
	}
	return string(out), nil
}
