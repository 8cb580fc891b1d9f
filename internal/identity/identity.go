// Package identity validates the member details collected at the start of a
// chat session. Validation runs a fixed sequence of field checks; the first
// failing check determines the human-readable reason handed back to the model.
package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
)

// ErrValidation is wrapped by every *ValidationError.
var ErrValidation = errors.New("identity validation failed")

// SuccessMessage is the tool output for a record that passed every check.
const SuccessMessage = "Validation successful."

// Accepted literal values.
var (
	Genders        = []string{"זכר", "נקבה", "אחר"}
	HealthFunds    = []string{"מכבי", "מאוחדת", "כללית"}
	InsuranceTiers = []string{"זהב", "כסף", "ארד"}
)

// Identity is a validated member record. All fields are non-empty.
type Identity struct {
	FullName      string `json:"full_name"`
	IDNumber      string `json:"id_number"`
	Gender        string `json:"gender"`
	Age           int    `json:"age"`
	HealthFund    string `json:"health_fund"`
	HMOCardNumber string `json:"hmo_card_number"`
	InsuranceTier string `json:"insurance_tier"`
}

// RawIdentity is an unvalidated record as proposed by the model. Age may be a
// JSON number or a numeric string.
type RawIdentity struct {
	FullName      string          `json:"full_name"`
	IDNumber      string          `json:"id_number"`
	Gender        string          `json:"gender"`
	Age           json.RawMessage `json:"age"`
	HealthFund    string          `json:"health_fund"`
	HMOCardNumber string          `json:"hmo_card_number"`
	InsuranceTier string          `json:"insurance_tier"`
}

// ValidationError names the field that failed and why.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// Unwrap lets callers match with errors.Is(err, ErrValidation).
func (e *ValidationError) Unwrap() error { return ErrValidation }

// Parse decodes tool-call arguments into a RawIdentity.
func Parse(argumentsJSON string) (RawIdentity, error) {
	var raw RawIdentity
	if err := json.Unmarshal([]byte(argumentsJSON), &raw); err != nil {
		return RawIdentity{}, fmt.Errorf("identity: invalid arguments: %w", err)
	}
	return raw, nil
}

// Validate checks raw in a fixed order: id number, age, HMO card number,
// gender, health fund, insurance tier, then full name. The first failure is
// returned as a *ValidationError and no Identity is produced.
func Validate(raw RawIdentity) (Identity, error) {
	if !nineDigits(raw.IDNumber) {
		return Identity{}, &ValidationError{"id_number", "Invalid ID number format. It must be a 9-digit number."}
	}

	age, ok := parseAge(raw.Age)
	if !ok || age < 0 || age > 120 {
		return Identity{}, &ValidationError{"age", "Invalid age. It must be between 0 and 120."}
	}

	if !nineDigits(raw.HMOCardNumber) {
		return Identity{}, &ValidationError{"hmo_card_number", "Invalid HMO card number format. It must be a 9-digit number."}
	}

	if !slices.Contains(Genders, raw.Gender) {
		return Identity{}, &ValidationError{"gender", "Invalid gender. Must be one of: " + strings.Join(Genders, ", ") + "."}
	}

	if !slices.Contains(HealthFunds, raw.HealthFund) {
		return Identity{}, &ValidationError{"health_fund", "Invalid health fund. Must be one of: " + strings.Join(HealthFunds, ", ") + "."}
	}

	if !slices.Contains(InsuranceTiers, raw.InsuranceTier) {
		return Identity{}, &ValidationError{"insurance_tier", "Invalid insurance tier. Must be one of: " + strings.Join(InsuranceTiers, ", ") + "."}
	}

	name := strings.TrimSpace(raw.FullName)
	if name == "" {
		return Identity{}, &ValidationError{"full_name", "Invalid full name. It must not be empty."}
	}

	return Identity{
		FullName:      name,
		IDNumber:      raw.IDNumber,
		Gender:        raw.Gender,
		Age:           age,
		HealthFund:    raw.HealthFund,
		HMOCardNumber: raw.HMOCardNumber,
		InsuranceTier: raw.InsuranceTier,
	}, nil
}

// Message renders a Validate error as tool output.
func Message(err error) string {
	if err == nil {
		return SuccessMessage
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve.Reason
	}
	return err.Error()
}

func nineDigits(s string) bool {
	if len(s) != 9 {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// parseAge accepts a JSON integer (30 or 30.0) or a string of ASCII digits.
func parseAge(raw json.RawMessage) (int, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		if n != math.Trunc(n) || n > math.MaxInt32 || n < math.MinInt32 {
			return 0, false
		}
		return int(n), true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	s = strings.TrimSpace(s)
	if s == "" || strings.IndexFunc(s, func(r rune) bool { return r < '0' || r > '9' }) >= 0 {
		return 0, false
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return v, true
}
