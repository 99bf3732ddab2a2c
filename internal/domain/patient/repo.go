package patient

import "context"

// Repository is the persistence contract for the patient registry.
//
// CreateWithPerson inserts the patient row and its person row atomically and
// returns ErrDuplicateMRN when the MRN is already taken. UpdatePerson writes
// only the fields set in changes. AddVisit returns ErrDuplicateVisit when the
// visit account number is already present. GetByMRN and GetByID return
// ErrNotFound for unknown keys.
type Repository interface {
	GetByMRN(ctx context.Context, mrn string) (*Patient, error)
	GetByID(ctx context.Context, id int64) (*Patient, error)
	CreateWithPerson(ctx context.Context, mrn string, person *Person) (*Patient, error)
	UpdatePerson(ctx context.Context, id int64, changes PersonChanges) error
	AddVisit(ctx context.Context, visit *Visit) error
	List(ctx context.Context, filter Filter, limit, offset int) ([]*Patient, int, error)
	ListVisits(ctx context.Context, patientID int64) ([]*Visit, error)
}
