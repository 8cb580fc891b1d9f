package form

import (
	"encoding/json"
	"strings"
)

// Date is a form date split into its boxes. Values are kept as printed.
type Date struct {
	Day   string `json:"day"`
	Month string `json:"month"`
	Year  string `json:"year"`
}

// UnmarshalJSON accepts the object form and, for replies that ignore the
// template, a plain "DD/MM/YYYY" string.
func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		parts := strings.FieldsFunc(s, func(r rune) bool { return r == '/' || r == '.' || r == '-' })
		*d = Date{}
		if len(parts) == 3 {
			*d = Date{Day: parts[0], Month: parts[1], Year: parts[2]}
		}
		return nil
	}
	type plain Date
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	*d = Date(p)
	return nil
}

// IsZero reports whether no part of the date was filled.
func (d Date) IsZero() bool { return d.Day == "" && d.Month == "" && d.Year == "" }

// Complete reports whether every part of the date was filled.
func (d Date) Complete() bool { return d.Day != "" && d.Month != "" && d.Year != "" }

// Address is the injured person's address block.
type Address struct {
	Street      string `json:"street"`
	HouseNumber string `json:"houseNumber"`
	Entrance    string `json:"entrance"`
	Apartment   string `json:"apartment"`
	City        string `json:"city"`
	PostalCode  string `json:"postalCode"`
	POBox       string `json:"poBox"`
}

// MedicalInstitutionFields is the section filled in by the clinic.
type MedicalInstitutionFields struct {
	HealthFundMember string `json:"healthFundMember"`
	NatureOfAccident string `json:"natureOfAccident"`
	MedicalDiagnoses string `json:"medicalDiagnoses"`
}

// Fields is the structured content of an accident report form. Fields that
// do not appear on the form are empty strings.
type Fields struct {
	LastName                 string                   `json:"lastName"`
	FirstName                string                   `json:"firstName"`
	IDNumber                 string                   `json:"idNumber"`
	Gender                   string                   `json:"gender"`
	DateOfBirth              Date                     `json:"dateOfBirth"`
	Address                  Address                  `json:"address"`
	LandlinePhone            string                   `json:"landlinePhone"`
	MobilePhone              string                   `json:"mobilePhone"`
	JobType                  string                   `json:"jobType"`
	DateOfInjury             Date                     `json:"dateOfInjury"`
	TimeOfInjury             string                   `json:"timeOfInjury"`
	AccidentLocation         string                   `json:"accidentLocation"`
	AccidentAddress          string                   `json:"accidentAddress"`
	AccidentDescription      string                   `json:"accidentDescription"`
	InjuredBodyPart          string                   `json:"injuredBodyPart"`
	Signature                string                   `json:"signature"`
	FormFillingDate          Date                     `json:"formFillingDate"`
	FormReceiptDateAtClinic  Date                     `json:"formReceiptDateAtClinic"`
	MedicalInstitutionFields MedicalInstitutionFields `json:"medicalInstitutionFields"`
}
