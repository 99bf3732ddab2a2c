package patient

import (
	"context"
	"sort"
	"testing"
	"time"
)

// -- Mock Repository --

type mockRepo struct {
	nextID   int64
	patients map[int64]*Patient
	byMRN    map[string]int64
	visits   map[string]*Visit
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		patients: make(map[int64]*Patient),
		byMRN:    make(map[string]int64),
		visits:   make(map[string]*Visit),
	}
}

func (m *mockRepo) GetByMRN(ctx context.Context, mrn string) (*Patient, error) {
	id, ok := m.byMRN[mrn]
	if !ok {
		return nil, ErrNotFound
	}
	return m.GetByID(ctx, id)
}

func (m *mockRepo) GetByID(ctx context.Context, id int64) (*Patient, error) {
	p, ok := m.patients[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *p
	var err error
	out.Visits, err = m.ListVisits(ctx, id)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (m *mockRepo) CreateWithPerson(_ context.Context, mrn string, person *Person) (*Patient, error) {
	if _, exists := m.byMRN[mrn]; exists {
		return nil, ErrDuplicateMRN
	}
	m.nextID++
	person.ID = m.nextID
	p := &Patient{
		ID:        m.nextID,
		MRN:       mrn,
		CreatedAt: time.Now().UTC(),
		Person:    person,
		Visits:    []*Visit{},
	}
	m.patients[p.ID] = p
	m.byMRN[mrn] = p.ID
	return p, nil
}

func (m *mockRepo) UpdatePerson(_ context.Context, id int64, changes PersonChanges) error {
	p, ok := m.patients[id]
	if !ok {
		return ErrNotFound
	}
	if changes.FirstName != nil {
		p.Person.FirstName = *changes.FirstName
	}
	if changes.LastName != nil {
		p.Person.LastName = *changes.LastName
	}
	if changes.BirthDate != nil {
		p.Person.BirthDate = *changes.BirthDate
	}
	return nil
}

func (m *mockRepo) AddVisit(_ context.Context, visit *Visit) error {
	if _, exists := m.visits[visit.AccountNumber]; exists {
		return ErrDuplicateVisit
	}
	m.nextID++
	visit.ID = m.nextID
	m.visits[visit.AccountNumber] = visit
	return nil
}

func (m *mockRepo) List(ctx context.Context, filter Filter, limit, offset int) ([]*Patient, int, error) {
	var matched []*Patient
	for _, p := range m.patients {
		if filter.MRN != "" && p.MRN != filter.MRN {
			continue
		}
		if filter.FirstName != "" && p.Person.FirstName != filter.FirstName {
			continue
		}
		if filter.LastName != "" && p.Person.LastName != filter.LastName {
			continue
		}
		matched = append(matched, p)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })

	total := len(matched)
	if offset >= total {
		return []*Patient{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}

	page := make([]*Patient, 0, end-offset)
	for _, p := range matched[offset:end] {
		full, err := m.GetByID(ctx, p.ID)
		if err != nil {
			return nil, 0, err
		}
		page = append(page, full)
	}
	return page, total, nil
}

func (m *mockRepo) ListVisits(_ context.Context, patientID int64) ([]*Visit, error) {
	visits := []*Visit{}
	for _, v := range m.visits {
		if v.PatientID == patientID {
			visits = append(visits, v)
		}
	}
	sort.Slice(visits, func(i, j int) bool {
		if !visits[i].VisitDate.Equal(visits[j].VisitDate) {
			return visits[i].VisitDate.Before(visits[j].VisitDate)
		}
		return visits[i].ID < visits[j].ID
	})
	return visits, nil
}

func date(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func seedPatient(t *testing.T, repo *mockRepo, mrn, first, last, birth string) *Patient {
	t.Helper()
	p, err := repo.CreateWithPerson(context.Background(), mrn, &Person{
		FirstName: first,
		LastName:  last,
		BirthDate: date(birth),
	})
	if err != nil {
		t.Fatalf("seed patient %s: %v", mrn, err)
	}
	return p
}

// -- Service Tests --

func TestService_GetPatient(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)
	seeded := seedPatient(t, repo, "MRN001", "Ada", "Lovelace", "1815-12-10")

	p, err := svc.GetPatient(context.Background(), seeded.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.MRN != "MRN001" {
		t.Errorf("expected MRN001, got %s", p.MRN)
	}
	if p.Person == nil || p.Person.FirstName != "Ada" {
		t.Error("expected person demographics to be loaded")
	}
}

func TestService_GetPatient_NotFound(t *testing.T) {
	svc := NewService(newMockRepo())

	_, err := svc.GetPatient(context.Background(), 999)
	if err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestService_GetPatientByMRN(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)
	seedPatient(t, repo, "MRN002", "Grace", "Hopper", "1906-12-09")

	p, err := svc.GetPatientByMRN(context.Background(), "MRN002")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Person.LastName != "Hopper" {
		t.Errorf("expected Hopper, got %s", p.Person.LastName)
	}
}

func TestService_ListPatients_Filter(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)
	seedPatient(t, repo, "MRN001", "Ada", "Lovelace", "1815-12-10")
	seedPatient(t, repo, "MRN002", "Grace", "Hopper", "1906-12-09")
	seedPatient(t, repo, "MRN003", "Grace", "Murray", "1906-12-09")

	patients, total, err := svc.ListPatients(context.Background(), Filter{FirstName: "Grace"}, 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 2 {
		t.Errorf("expected total 2, got %d", total)
	}
	if len(patients) != 2 {
		t.Fatalf("expected 2 patients, got %d", len(patients))
	}

	patients, total, err = svc.ListPatients(context.Background(), Filter{FirstName: "Grace", LastName: "Murray"}, 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 1 || patients[0].MRN != "MRN003" {
		t.Errorf("expected only MRN003, got total %d", total)
	}
}

func TestService_ListPatients_Pagination(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)
	seedPatient(t, repo, "MRN001", "A", "One", "1990-01-01")
	seedPatient(t, repo, "MRN002", "B", "Two", "1990-01-02")
	seedPatient(t, repo, "MRN003", "C", "Three", "1990-01-03")

	page1, total, err := svc.ListPatients(context.Background(), Filter{}, 2, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 3 {
		t.Errorf("expected total 3, got %d", total)
	}
	if len(page1) != 2 {
		t.Fatalf("expected 2 on first page, got %d", len(page1))
	}

	page2, _, err := svc.ListPatients(context.Background(), Filter{}, 2, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page2) != 1 {
		t.Fatalf("expected 1 on second page, got %d", len(page2))
	}
	if page2[0].MRN != "MRN003" {
		t.Errorf("expected MRN003 on second page, got %s", page2[0].MRN)
	}
}

func TestService_ListPatients_VisitsOrdered(t *testing.T) {
	repo := newMockRepo()
	svc := NewService(repo)
	p := seedPatient(t, repo, "MRN001", "Ada", "Lovelace", "1815-12-10")

	for _, v := range []struct {
		acct string
		day  string
	}{
		{"V100", "2026-03-05"},
		{"V101", "2026-01-15"},
		{"V102", "2026-03-05"},
	} {
		if err := repo.AddVisit(context.Background(), &Visit{
			AccountNumber: v.acct,
			PatientID:     p.ID,
			VisitDate:     date(v.day),
		}); err != nil {
			t.Fatalf("add visit %s: %v", v.acct, err)
		}
	}

	got, err := svc.GetPatient(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"V101", "V100", "V102"}
	if len(got.Visits) != len(want) {
		t.Fatalf("expected %d visits, got %d", len(want), len(got.Visits))
	}
	for i, acct := range want {
		if got.Visits[i].AccountNumber != acct {
			t.Errorf("visit %d: expected %s, got %s", i, acct, got.Visits[i].AccountNumber)
		}
	}
}

func TestPerson_Diff(t *testing.T) {
	p := &Person{FirstName: "Ada", LastName: "Lovelace", BirthDate: date("1815-12-10")}

	if c := p.Diff("Ada", "Lovelace", date("1815-12-10")); !c.Empty() {
		t.Errorf("expected identical demographics to yield no changes, got %+v", c)
	}

	c := p.Diff("Ada", "Byron", date("1815-12-10"))
	if c.Empty() || c.LastName == nil || *c.LastName != "Byron" {
		t.Errorf("expected only last name change, got %+v", c)
	}
	if c.FirstName != nil || c.BirthDate != nil {
		t.Errorf("unchanged fields must stay nil, got %+v", c)
	}

	c = p.Diff("Ada", "Lovelace", date("1815-12-11"))
	if c.BirthDate == nil || !c.BirthDate.Equal(date("1815-12-11")) {
		t.Errorf("expected birth date change, got %+v", c)
	}
}
