package patient

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/intake/intake/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (r *repoPG) conn(ctx context.Context) querier {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const patientCols = `p.id, p.mrn, p.created_at,
	pr.id, pr.first_name, pr.last_name, pr.birth_date`

func (r *repoPG) GetByMRN(ctx context.Context, mrn string) (*Patient, error) {
	pat, err := scanPatient(r.conn(ctx).QueryRow(ctx, `
		SELECT `+patientCols+`
		FROM patients p
		JOIN persons pr ON pr.id = p.id
		WHERE p.mrn = $1`, mrn))
	if err != nil {
		return nil, err
	}
	pat.Visits, err = r.ListVisits(ctx, pat.ID)
	if err != nil {
		return nil, err
	}
	return pat, nil
}

func (r *repoPG) GetByID(ctx context.Context, id int64) (*Patient, error) {
	pat, err := scanPatient(r.conn(ctx).QueryRow(ctx, `
		SELECT `+patientCols+`
		FROM patients p
		JOIN persons pr ON pr.id = p.id
		WHERE p.id = $1`, id))
	if err != nil {
		return nil, err
	}
	pat.Visits, err = r.ListVisits(ctx, pat.ID)
	if err != nil {
		return nil, err
	}
	return pat, nil
}

// CreateWithPerson inserts the patient row and its person row in a single
// statement. ON CONFLICT DO NOTHING keeps the surrounding transaction usable
// when the MRN already exists; the missing RETURNING row signals the
// duplicate.
func (r *repoPG) CreateWithPerson(ctx context.Context, mrn string, person *Person) (*Patient, error) {
	pat := &Patient{MRN: mrn}
	err := r.conn(ctx).QueryRow(ctx, `
		WITH new_patient AS (
			INSERT INTO patients (mrn) VALUES ($1)
			ON CONFLICT (mrn) DO NOTHING
			RETURNING id, created_at
		)
		INSERT INTO persons (id, first_name, last_name, birth_date)
		SELECT np.id, $2, $3, $4 FROM new_patient np
		RETURNING id, (SELECT created_at FROM new_patient)`,
		mrn, person.FirstName, person.LastName, person.BirthDate,
	).Scan(&pat.ID, &pat.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrDuplicateMRN
	}
	if err != nil {
		return nil, err
	}

	person.ID = pat.ID
	pat.Person = person
	pat.Visits = []*Visit{}
	return pat, nil
}

// UpdatePerson writes only the changed columns.
func (r *repoPG) UpdatePerson(ctx context.Context, id int64, changes PersonChanges) error {
	set, args := buildPersonSet(changes)
	if set == "" {
		return nil
	}
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE persons SET `+set+` WHERE id = $1`,
		append([]interface{}{id}, args...)...,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// buildPersonSet renders the SET list for the fields present in changes.
// Placeholders start at $2; $1 is the person id.
func buildPersonSet(changes PersonChanges) (string, []interface{}) {
	var clauses []string
	var args []interface{}

	add := func(column string, value interface{}) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf("%s = $%d", column, len(args)+1))
	}
	if changes.FirstName != nil {
		add("first_name", *changes.FirstName)
	}
	if changes.LastName != nil {
		add("last_name", *changes.LastName)
	}
	if changes.BirthDate != nil {
		add("birth_date", *changes.BirthDate)
	}
	return strings.Join(clauses, ", "), args
}

func (r *repoPG) AddVisit(ctx context.Context, visit *Visit) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO visits (visit_account_number, patient_id, visit_date, reason)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (visit_account_number) DO NOTHING
		RETURNING id`,
		visit.AccountNumber, visit.PatientID, visit.VisitDate, visit.Reason,
	).Scan(&visit.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrDuplicateVisit
	}
	return err
}

func (r *repoPG) List(ctx context.Context, filter Filter, limit, offset int) ([]*Patient, int, error) {
	where, args := buildFilter(filter)

	var total int
	countSQL := `SELECT COUNT(*) FROM patients p JOIN persons pr ON pr.id = p.id` + where
	if err := r.conn(ctx).QueryRow(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	dataSQL := fmt.Sprintf(`
		SELECT `+patientCols+`
		FROM patients p
		JOIN persons pr ON pr.id = p.id
		%s
		ORDER BY p.id
		LIMIT $%d OFFSET $%d`, where, len(args)+1, len(args)+2)
	rows, err := r.conn(ctx).Query(ctx, dataSQL, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	patients, err := collectPatients(rows)
	if err != nil {
		return nil, 0, err
	}
	if err := r.attachVisits(ctx, patients); err != nil {
		return nil, 0, err
	}
	return patients, total, nil
}

func (r *repoPG) ListVisits(ctx context.Context, patientID int64) ([]*Visit, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, visit_account_number, patient_id, visit_date, reason
		FROM visits WHERE patient_id = $1
		ORDER BY visit_date, id`, patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	visits := []*Visit{}
	for rows.Next() {
		var v Visit
		if err := rows.Scan(&v.ID, &v.AccountNumber, &v.PatientID, &v.VisitDate, &v.Reason); err != nil {
			return nil, err
		}
		visits = append(visits, &v)
	}
	return visits, rows.Err()
}

// attachVisits loads the visits for a page of patients in one query.
func (r *repoPG) attachVisits(ctx context.Context, patients []*Patient) error {
	if len(patients) == 0 {
		return nil
	}

	ids := make([]int64, len(patients))
	byID := make(map[int64]*Patient, len(patients))
	for i, p := range patients {
		ids[i] = p.ID
		byID[p.ID] = p
		p.Visits = []*Visit{}
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, visit_account_number, patient_id, visit_date, reason
		FROM visits WHERE patient_id = ANY($1)
		ORDER BY visit_date, id`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var v Visit
		if err := rows.Scan(&v.ID, &v.AccountNumber, &v.PatientID, &v.VisitDate, &v.Reason); err != nil {
			return err
		}
		if p, ok := byID[v.PatientID]; ok {
			p.Visits = append(p.Visits, &v)
		}
	}
	return rows.Err()
}

func buildFilter(filter Filter) (string, []interface{}) {
	var clauses []string
	var args []interface{}

	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("p.mrn", filter.MRN)
	add("pr.first_name", filter.FirstName)
	add("pr.last_name", filter.LastName)

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	var pr Person
	err := row.Scan(&p.ID, &p.MRN, &p.CreatedAt, &pr.ID, &pr.FirstName, &pr.LastName, &pr.BirthDate)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.Person = &pr
	return &p, nil
}

func collectPatients(rows pgx.Rows) ([]*Patient, error) {
	patients := []*Patient{}
	for rows.Next() {
		var p Patient
		var pr Person
		if err := rows.Scan(&p.ID, &p.MRN, &p.CreatedAt, &pr.ID, &pr.FirstName, &pr.LastName, &pr.BirthDate); err != nil {
			return nil, err
		}
		p.Person = &pr
		patients = append(patients, &p)
	}
	return patients, rows.Err()
}
