package intake

import (
	"fmt"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

// ValidateRecord normalizes one raw record into its canonical form, or
// returns a rejection naming the first problem found. Every field except
// reason is required; dates must be ISO-8601 calendar dates.
func ValidateRecord(index int, raw RawRecord) (*Record, *Rejection) {
	reject := func(format string, args ...interface{}) (*Record, *Rejection) {
		return nil, &Rejection{Index: index, Reason: fmt.Sprintf(format, args...)}
	}

	required := []struct {
		name  string
		value string
	}{
		{"mrn", raw.MRN},
		{"first_name", raw.FirstName},
		{"last_name", raw.LastName},
		{"birth_date", raw.BirthDate},
		{"visit_account_number", raw.VisitAccountNumber},
		{"visit_date", raw.VisitDate},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return reject("%s is required", f.name)
		}
	}

	birthDate, err := time.Parse(dateLayout, strings.TrimSpace(raw.BirthDate))
	if err != nil {
		return reject("birth_date %q is not a valid ISO-8601 date", raw.BirthDate)
	}
	visitDate, err := time.Parse(dateLayout, strings.TrimSpace(raw.VisitDate))
	if err != nil {
		return reject("visit_date %q is not a valid ISO-8601 date", raw.VisitDate)
	}

	return &Record{
		MRN:                strings.TrimSpace(raw.MRN),
		FirstName:          strings.TrimSpace(raw.FirstName),
		LastName:           strings.TrimSpace(raw.LastName),
		BirthDate:          birthDate,
		VisitAccountNumber: strings.TrimSpace(raw.VisitAccountNumber),
		VisitDate:          visitDate,
		Reason:             strings.TrimSpace(raw.Reason),
	}, nil
}

// ValidateBatch validates every record in order. Bad records are excluded and
// reported; valid records proceed.
func ValidateBatch(raws []RawRecord) ([]Record, []Rejection) {
	records := make([]Record, 0, len(raws))
	var rejections []Rejection

	for i, raw := range raws {
		rec, rej := ValidateRecord(i, raw)
		if rej != nil {
			rejections = append(rejections, *rej)
			continue
		}
		records = append(records, *rec)
	}
	return records, rejections
}
