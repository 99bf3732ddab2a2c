package intake

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"sync"
	"time"
)

var csvHeader = []string{
	"mrn", "first_name", "last_name", "birth_date",
	"visit_account_number", "visit_date", "reason",
}

// EncodeCSV renders canonical records as a CSV artifact with the fixed header
// row. Dates are YYYY-MM-DD; free text is quoted per RFC 4180 so every record
// round-trips losslessly.
func EncodeCSV(records []Record) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	for i, rec := range records {
		row := []string{
			rec.MRN, rec.FirstName, rec.LastName,
			rec.BirthDate.Format(dateLayout),
			rec.VisitAccountNumber,
			rec.VisitDate.Format(dateLayout),
			rec.Reason,
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("write record %d: %w", i, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeCSV parses an artifact produced by EncodeCSV back into canonical
// records, verifying the header.
func DecodeCSV(data []byte) ([]Record, error) {
	r := csv.NewReader(bytes.NewReader(data))
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("artifact has no header row")
	}

	header := rows[0]
	if len(header) != len(csvHeader) {
		return nil, fmt.Errorf("unexpected header: %v", header)
	}
	for i, col := range csvHeader {
		if header[i] != col {
			return nil, fmt.Errorf("unexpected header column %d: %q", i, header[i])
		}
	}

	records := make([]Record, 0, len(rows)-1)
	for i, row := range rows[1:] {
		birthDate, err := time.Parse(dateLayout, row[3])
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid birth_date %q", i, row[3])
		}
		visitDate, err := time.Parse(dateLayout, row[5])
		if err != nil {
			return nil, fmt.Errorf("row %d: invalid visit_date %q", i, row[5])
		}
		records = append(records, Record{
			MRN:                row[0],
			FirstName:          row[1],
			LastName:           row[2],
			BirthDate:          birthDate,
			VisitAccountNumber: row[4],
			VisitDate:          visitDate,
			Reason:             row[6],
		})
	}
	return records, nil
}

// KeyGenerator derives unique artifact keys of the form
// patient_intake_<YYYYMMDD_HHMMSS>[_<n>].csv. Keys generated within the same
// second get a monotonic counter suffix.
type KeyGenerator struct {
	mu      sync.Mutex
	now     func() time.Time
	lastTS  string
	counter int
}

func NewKeyGenerator() *KeyGenerator {
	return &KeyGenerator{now: func() time.Time { return time.Now().UTC() }}
}

func (g *KeyGenerator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	ts := g.now().Format("20060102_150405")
	if ts == g.lastTS {
		g.counter++
		return fmt.Sprintf("patient_intake_%s_%d.csv", ts, g.counter)
	}
	g.lastTS = ts
	g.counter = 0
	return fmt.Sprintf("patient_intake_%s.csv", ts)
}
