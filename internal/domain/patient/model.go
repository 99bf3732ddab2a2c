// Package patient holds the reconciled patient registry: patients keyed by
// medical record number, their demographics, and their visit history keyed by
// visit account number.
package patient

import (
	"errors"
	"time"
)

var (
	ErrNotFound       = errors.New("patient not found")
	ErrDuplicateMRN   = errors.New("mrn already exists")
	ErrDuplicateVisit = errors.New("visit account number already exists")
)

// Patient is the registry entry for one medical record number. Person carries
// the demographics and is always present once reconciliation has run; Visits
// are ordered by visit date, then id.
type Patient struct {
	ID        int64     `json:"id"`
	MRN       string    `json:"mrn"`
	CreatedAt time.Time `json:"created_at"`
	Person    *Person   `json:"person,omitempty"`
	Visits    []*Visit  `json:"visits"`
}

// Person holds the demographics for a patient. It shares its id with the
// owning patient row.
type Person struct {
	ID        int64     `json:"id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	BirthDate time.Time `json:"birth_date"`
}

// Visit is a single encounter, unique by account number across all patients.
type Visit struct {
	ID            int64     `json:"id"`
	AccountNumber string    `json:"visit_account_number"`
	PatientID     int64     `json:"patient_id"`
	VisitDate     time.Time `json:"visit_date"`
	Reason        string    `json:"reason"`
}

// PersonChanges lists the demographic fields that differ from the stored
// profile. Nil fields are left untouched by an update.
type PersonChanges struct {
	FirstName *string
	LastName  *string
	BirthDate *time.Time
}

// Empty reports whether no field changed. Reconciliation uses it to suppress
// no-op updates.
func (c PersonChanges) Empty() bool {
	return c.FirstName == nil && c.LastName == nil && c.BirthDate == nil
}

// Diff compares the stored demographics field by field and returns only the
// fields that changed.
func (p *Person) Diff(firstName, lastName string, birthDate time.Time) PersonChanges {
	var c PersonChanges
	if p.FirstName != firstName {
		c.FirstName = &firstName
	}
	if p.LastName != lastName {
		c.LastName = &lastName
	}
	if !p.BirthDate.Equal(birthDate) {
		c.BirthDate = &birthDate
	}
	return c
}

// Filter restricts a patient listing. Zero-value fields are ignored; set
// fields must all match.
type Filter struct {
	MRN       string
	FirstName string
	LastName  string
}
