// Package intake implements the batch ingestion pipeline: validation of raw
// records, CSV artifact encoding, asynchronous dispatch, and idempotent
// reconciliation into the patient registry.
package intake

import (
	"errors"
	"fmt"
	"time"
)

// ErrEmptyBatch rejects an ingest request whose record array is empty.
var ErrEmptyBatch = errors.New("batch must contain at least one record")

// RawRecord is one untrusted input record as posted by the client. All fields
// arrive as strings; validation produces the typed Record.
type RawRecord struct {
	MRN                string `json:"mrn"`
	FirstName          string `json:"first_name"`
	LastName           string `json:"last_name"`
	BirthDate          string `json:"birth_date"`
	VisitAccountNumber string `json:"visit_account_number"`
	VisitDate          string `json:"visit_date"`
	Reason             string `json:"reason"`
}

// Record is a validated, canonical record ready for encoding and
// reconciliation.
type Record struct {
	MRN                string
	FirstName          string
	LastName           string
	BirthDate          time.Time
	VisitAccountNumber string
	VisitDate          time.Time
	Reason             string
}

// Rejection reports why one record failed validation. Index is the record's
// position in the posted batch.
type Rejection struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// NoValidRecordsError is returned when every record in a batch failed
// validation; nothing is stored or enqueued.
type NoValidRecordsError struct {
	Rejections []Rejection
}

func (e *NoValidRecordsError) Error() string {
	return fmt.Sprintf("no valid records in batch (%d rejected)", len(e.Rejections))
}

// RecordError is one failed record from a reconciliation run, identified by
// its natural keys.
type RecordError struct {
	Index              int    `json:"index"`
	MRN                string `json:"mrn"`
	VisitAccountNumber string `json:"visit_account_number"`
	Error              string `json:"error"`
}

// Result is the outcome of reconciling one artifact. A record counts as
// updated only when at least one demographic field actually changed; replaying
// an identical batch yields zero created/updated/added and all visits skipped.
type Result struct {
	CSVFilename     string        `json:"csv_filename"`
	TotalRecords    int           `json:"total_records"`
	PatientsCreated int           `json:"patients_created"`
	PersonsUpdated  int           `json:"persons_updated"`
	VisitsAdded     int           `json:"visits_added"`
	VisitsSkipped   int           `json:"visits_skipped"`
	Errors          []RecordError `json:"errors"`
	ErrorCount      int           `json:"error_count"`
}
