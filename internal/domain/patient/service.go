package patient

import "context"

// Service exposes read access to the reconciled registry. Writes happen only
// through batch reconciliation.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) GetPatient(ctx context.Context, id int64) (*Patient, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) GetPatientByMRN(ctx context.Context, mrn string) (*Patient, error) {
	return s.repo.GetByMRN(ctx, mrn)
}

func (s *Service) ListPatients(ctx context.Context, filter Filter, limit, offset int) ([]*Patient, int, error) {
	return s.repo.List(ctx, filter, limit, offset)
}
