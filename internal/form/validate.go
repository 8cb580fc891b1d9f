package form

import (
	"unicode"
)

// Validation lists the problems found in extracted fields.
type Validation struct {
	MissingRequiredFields []string `json:"missing_required_fields"`
	FormatIssues          []string `json:"format_issues"`
}

// OK reports whether no problems were found.
func (v Validation) OK() bool {
	return len(v.MissingRequiredFields) == 0 && len(v.FormatIssues) == 0
}

// Validate checks required fields, date completeness, the ID number and the
// phone numbers.
func Validate(f Fields) Validation {
	v := Validation{MissingRequiredFields: []string{}, FormatIssues: []string{}}

	required := []struct {
		name   string
		filled bool
	}{
		{"lastName", f.LastName != ""},
		{"firstName", f.FirstName != ""},
		{"idNumber", f.IDNumber != ""},
		{"dateOfInjury", !f.DateOfInjury.IsZero()},
		{"timeOfInjury", f.TimeOfInjury != ""},
		{"accidentDescription", f.AccidentDescription != ""},
	}
	for _, r := range required {
		if !r.filled {
			v.MissingRequiredFields = append(v.MissingRequiredFields, r.name)
		}
	}

	dates := []struct {
		name string
		d    Date
	}{
		{"dateOfBirth", f.DateOfBirth},
		{"dateOfInjury", f.DateOfInjury},
		{"formFillingDate", f.FormFillingDate},
		{"formReceiptDateAtClinic", f.FormReceiptDateAtClinic},
	}
	for _, d := range dates {
		if !d.d.IsZero() && !d.d.Complete() {
			v.FormatIssues = append(v.FormatIssues, d.name+" is incomplete")
		}
	}

	if f.IDNumber != "" && (len(f.IDNumber) != 9 || !allDigits(f.IDNumber)) {
		v.FormatIssues = append(v.FormatIssues, "idNumber should be 9 digits")
	}

	phones := []struct{ name, value string }{
		{"landlinePhone", f.LandlinePhone},
		{"mobilePhone", f.MobilePhone},
	}
	for _, p := range phones {
		if p.value == "" {
			continue
		}
		if n := countDigits(p.value); n < 7 || n > 10 {
			v.FormatIssues = append(v.FormatIssues, p.name+" has invalid format")
		}
	}
	return v
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func countDigits(s string) int {
	n := 0
	for _, r := range s {
		if unicode.IsDigit(r) {
			n++
		}
	}
	return n
}
