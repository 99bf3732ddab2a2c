package intake

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/intake/intake/internal/domain/patient"
	"github.com/intake/intake/internal/platform/db"
)

// Reconciler folds decoded records into the patient registry. Each record is
// processed in its own transaction so one failure never rolls back earlier
// records; a failed record is logged, counted, and processing continues.
type Reconciler struct {
	repo   patient.Repository
	pool   db.Beginner
	logger zerolog.Logger
}

// NewReconciler wires a Reconciler. pool may be nil, in which case records
// run without an enclosing transaction (used with in-memory repositories).
func NewReconciler(repo patient.Repository, pool db.Beginner, logger zerolog.Logger) *Reconciler {
	return &Reconciler{repo: repo, pool: pool, logger: logger}
}

// recordOutcome is accumulated inside the record's transaction and applied to
// the result only after commit.
type recordOutcome struct {
	created      bool
	updated      bool
	visitAdded   bool
	visitSkipped bool
}

// Run processes records strictly in input order and returns the aggregate
// result. It never returns an error: per-record failures land in
// Result.Errors.
func (r *Reconciler) Run(ctx context.Context, filename string, records []Record) *Result {
	result := &Result{
		CSVFilename:  filename,
		TotalRecords: len(records),
		Errors:       []RecordError{},
	}

	for i, rec := range records {
		outcome, err := r.processRecord(ctx, rec)
		if err != nil {
			r.logger.Error().
				Err(err).
				Str("mrn", rec.MRN).
				Str("visit_account_number", rec.VisitAccountNumber).
				Int("index", i).
				Msg("record reconciliation failed")
			result.Errors = append(result.Errors, RecordError{
				Index:              i,
				MRN:                rec.MRN,
				VisitAccountNumber: rec.VisitAccountNumber,
				Error:              err.Error(),
			})
			continue
		}

		if outcome.created {
			result.PatientsCreated++
		}
		if outcome.updated {
			result.PersonsUpdated++
		}
		if outcome.visitAdded {
			result.VisitsAdded++
		}
		if outcome.visitSkipped {
			result.VisitsSkipped++
			r.logger.Debug().
				Str("mrn", rec.MRN).
				Str("visit_account_number", rec.VisitAccountNumber).
				Msg("duplicate visit skipped")
		}
	}

	result.ErrorCount = len(result.Errors)
	return result
}

func (r *Reconciler) processRecord(ctx context.Context, rec Record) (recordOutcome, error) {
	var outcome recordOutcome
	work := func(ctx context.Context) error {
		return r.reconcileOne(ctx, rec, &outcome)
	}

	if r.pool == nil {
		if err := work(ctx); err != nil {
			return recordOutcome{}, err
		}
		return outcome, nil
	}
	if err := db.WithTx(ctx, r.pool, work); err != nil {
		return recordOutcome{}, err
	}
	return outcome, nil
}

func (r *Reconciler) reconcileOne(ctx context.Context, rec Record, outcome *recordOutcome) error {
	pat, err := r.repo.GetByMRN(ctx, rec.MRN)
	switch {
	case errors.Is(err, patient.ErrNotFound):
		created, createErr := r.repo.CreateWithPerson(ctx, rec.MRN, &patient.Person{
			FirstName: rec.FirstName,
			LastName:  rec.LastName,
			BirthDate: rec.BirthDate,
		})
		if errors.Is(createErr, patient.ErrDuplicateMRN) {
			// Lost the race to a concurrent run; the row exists now, so
			// fall into the update path.
			pat, err = r.repo.GetByMRN(ctx, rec.MRN)
			if err != nil {
				return fmt.Errorf("refetch after duplicate mrn: %w", err)
			}
		} else if createErr != nil {
			return fmt.Errorf("create patient: %w", createErr)
		} else {
			outcome.created = true
			pat = created
		}
	case err != nil:
		return fmt.Errorf("lookup patient: %w", err)
	}

	if !outcome.created {
		changes := pat.Person.Diff(rec.FirstName, rec.LastName, rec.BirthDate)
		if !changes.Empty() {
			if err := r.repo.UpdatePerson(ctx, pat.ID, changes); err != nil {
				return fmt.Errorf("update person: %w", err)
			}
			outcome.updated = true
		}
	}

	err = r.repo.AddVisit(ctx, &patient.Visit{
		AccountNumber: rec.VisitAccountNumber,
		PatientID:     pat.ID,
		VisitDate:     rec.VisitDate,
		Reason:        rec.Reason,
	})
	if errors.Is(err, patient.ErrDuplicateVisit) {
		outcome.visitSkipped = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("add visit: %w", err)
	}
	outcome.visitAdded = true
	return nil
}
