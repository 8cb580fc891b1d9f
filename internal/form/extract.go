package form

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// ErrUnparseable is returned when the model reply is not the expected JSON.
var ErrUnparseable = errors.New("model reply is not valid form JSON")

const extractionSystemPrompt = "You are an expert assistant in processing forms and documents in Hebrew submitted to the National Insurance Institute."

// fieldsTemplate is the JSON shape the model must return.
const fieldsTemplate = `{
  "lastName": "",
  "firstName": "",
  "idNumber": "",
  "gender": "",
  "dateOfBirth": {"day": "", "month": "", "year": ""},
  "address": {
    "street": "", "houseNumber": "", "entrance": "", "apartment": "",
    "city": "", "postalCode": "", "poBox": ""
  },
  "landlinePhone": "",
  "mobilePhone": "",
  "jobType": "",
  "dateOfInjury": {"day": "", "month": "", "year": ""},
  "timeOfInjury": "",
  "accidentLocation": "",
  "accidentAddress": "",
  "accidentDescription": "",
  "injuredBodyPart": "",
  "signature": "",
  "formFillingDate": {"day": "", "month": "", "year": ""},
  "formReceiptDateAtClinic": {"day": "", "month": "", "year": ""},
  "medicalInstitutionFields": {"healthFundMember": "", "natureOfAccident": "", "medicalDiagnoses": ""}
}`

const extractionPromptTemplate = `You are an expert in extracting information from National Insurance Institute forms (ביטוח לאומי) in Hebrew.

The following text is from a form requesting medical treatment for a self-employed worker injured at work (Form BL/283).

Form text:
{{text}}

Checkbox states in the form (when state=selected, the checkbox is checked):
{{marks}}

Important information about the form structure:
1. Gender (gender): the form has two options, "זכר" (male) and "נקבה" (female). Extract the value based on which checkbox is selected.
2. Accident Location (accidentLocation): the options are "במפעל" (at workplace), "ת. דרכים בעבודה" (traffic accident at work), "ת. דרכים בדרך לעבודה/מהעבודה" (traffic accident on the way to/from work), "תאונה בדרך ללא רכב" (non-vehicle accident on the way) and "אחר" (other). Extract the selected option.
3. Health Fund (healthFundMember): the options are "כללית", "מאוחדת", "מכבי" and "לאומית". Extract the selected option.

Date fields:
1. Form Filling Date (תאריך מילוי הטופס) appears first in the form, near section #1.
2. Form Receipt Date at Clinic (תאריך קבלת הטופס בקופה) appears in the first section, after the Form Filling Date.
3. Date of Birth (תאריך לידה) appears in the personal details section with the person's name and ID.
4. Date of Injury (תאריך הפגיעה) appears in the accident details section.

For each date, look for numbers in DD/MM/YYYY format or numbers split into day (יום), month (חודש) and year (שנה) boxes.

Return the extracted information in exactly this JSON structure:
{{template}}

For fields that do not appear or cannot be extracted, use an empty string.
Do not invent information that does not exist in the form.
Reply with the JSON object only.`

// Extractor maps a Layout onto Fields with a chat model.
type Extractor struct {
	model model.BaseChatModel
}

// NewExtractor constructs an Extractor.
func NewExtractor(m model.BaseChatModel) *Extractor {
	return &Extractor{model: m}
}

// Extract asks the model for the form fields. On ErrUnparseable the raw
// reply is returned alongside the error for debugging.
func (e *Extractor) Extract(ctx context.Context, layout Layout) (Fields, string, error) {
	marks, err := json.Marshal(layout.SelectionMarks)
	if err != nil {
		return Fields{}, "", fmt.Errorf("form: encoding selection marks: %w", err)
	}
	prompt := strings.NewReplacer(
		"{{text}}", layout.Text,
		"{{marks}}", string(marks),
		"{{template}}", fieldsTemplate,
	).Replace(extractionPromptTemplate)

	resp, err := e.model.Generate(ctx,
		[]*schema.Message{
			schema.SystemMessage(extractionSystemPrompt),
			schema.UserMessage(prompt),
		},
		model.WithTemperature(0),
		model.WithTopP(0.4),
	)
	if err != nil {
		return Fields{}, "", fmt.Errorf("form: extraction completion failed: %w", err)
	}
	if resp == nil {
		return Fields{}, "", fmt.Errorf("form: extraction completion returned no message")
	}

	fields, err := ParseFields(resp.Content)
	if err != nil {
		return Fields{}, resp.Content, err
	}
	return fields, resp.Content, nil
}

// ParseFields decodes a model reply, tolerating a surrounding ```json fence.
func ParseFields(reply string) (Fields, error) {
	s := strings.TrimSpace(reply)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	var f Fields
	if err := json.Unmarshal([]byte(s), &f); err != nil {
		return Fields{}, fmt.Errorf("%w: %w", ErrUnparseable, err)
	}
	return f, nil
}
