package transmission

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vitalmed/sngpc/internal/platform/anvisa"
	"github.com/vitalmed/sngpc/internal/platform/clock"
)

// -- Mocks --

type mockReportRepo struct {
	reports map[uuid.UUID]*Report
}

func newMockReportRepo() *mockReportRepo {
	return &mockReportRepo{reports: make(map[uuid.UUID]*Report)}
}

func (m *mockReportRepo) Create(_ context.Context, r *Report) error {
	for _, existing := range m.reports {
		if existing.Year == r.Year && existing.Month == r.Month {
			return fmt.Errorf("duplicate report for period")
		}
	}
	r.ID = uuid.New()
	r.CreatedAt = time.Now()
	r.UpdatedAt = r.CreatedAt
	m.reports[r.ID] = r
	return nil
}

func (m *mockReportRepo) GetByID(_ context.Context, id uuid.UUID) (*Report, error) {
	r, ok := m.reports[id]
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	return r, nil
}

func (m *mockReportRepo) Get(_ context.Context, year, month int) (*Report, error) {
	for _, r := range m.reports {
		if r.Year == year && r.Month == month {
			return r, nil
		}
	}
	return nil, nil
}

func (m *mockReportRepo) List(_ context.Context, limit, offset int) ([]*Report, int, error) {
	var result []*Report
	for _, r := range m.reports {
		result = append(result, r)
	}
	total := len(result)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return result[offset:end], total, nil
}

func (m *mockReportRepo) UpdateCounts(_ context.Context, id uuid.UUID, prescriptionCount, itemCount int, generatedAt time.Time) error {
	r, ok := m.reports[id]
	if !ok {
		return fmt.Errorf("not found")
	}
	r.PrescriptionCount = prescriptionCount
	r.ItemCount = itemCount
	r.GeneratedAt = generatedAt
	r.Status = ReportGenerated
	return nil
}

func (m *mockReportRepo) MarkTransmitting(_ context.Context, id uuid.UUID) (bool, error) {
	r, ok := m.reports[id]
	if !ok {
		return false, nil
	}
	if r.Status != ReportGenerated && r.Status != ReportTransmissionFailed {
		return false, nil
	}
	r.Status = ReportTransmitting
	return true, nil
}

func (m *mockReportRepo) SetStatus(_ context.Context, id uuid.UUID, status ReportStatus) error {
	r, ok := m.reports[id]
	if !ok {
		return fmt.Errorf("not found")
	}
	r.Status = status
	return nil
}

type mockTransmissionRepo struct {
	attempts map[uuid.UUID]*Transmission
}

func newMockTransmissionRepo() *mockTransmissionRepo {
	return &mockTransmissionRepo{attempts: make(map[uuid.UUID]*Transmission)}
}

func (m *mockTransmissionRepo) Create(_ context.Context, t *Transmission) error {
	for _, existing := range m.attempts {
		if existing.ReportID == t.ReportID && existing.AttemptNumber == t.AttemptNumber {
			return fmt.Errorf("duplicate attempt number")
		}
	}
	t.ID = uuid.New()
	t.CreatedAt = time.Now()
	m.attempts[t.ID] = t
	return nil
}

func (m *mockTransmissionRepo) GetByID(_ context.Context, id uuid.UUID) (*Transmission, error) {
	t, ok := m.attempts[id]
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	return t, nil
}

func (m *mockTransmissionRepo) ListByReport(_ context.Context, reportID uuid.UUID) ([]*Transmission, error) {
	var result []*Transmission
	for i := 1; ; i++ {
		found := false
		for _, t := range m.attempts {
			if t.ReportID == reportID && t.AttemptNumber == i {
				result = append(result, t)
				found = true
				break
			}
		}
		if !found {
			return result, nil
		}
	}
}

func (m *mockTransmissionRepo) CountByReport(_ context.Context, reportID uuid.UUID) (int, error) {
	n := 0
	for _, t := range m.attempts {
		if t.ReportID == reportID {
			n++
		}
	}
	return n, nil
}

func (m *mockTransmissionRepo) MarkInProgress(_ context.Context, id uuid.UUID) error {
	m.attempts[id].Status = StatusInProgress
	return nil
}

func (m *mockTransmissionRepo) SetPayload(_ context.Context, id uuid.UUID, hash string, size int) error {
	m.attempts[id].PayloadHash = &hash
	m.attempts[id].PayloadSize = &size
	return nil
}

func (m *mockTransmissionRepo) MarkSuccessful(_ context.Context, id uuid.UUID, protocol string, latencyMS int64, at time.Time) error {
	t := m.attempts[id]
	t.Status = StatusSuccessful
	t.ProtocolNumber = &protocol
	t.LatencyMS = &latencyMS
	t.CompletedAt = &at
	return nil
}

func (m *mockTransmissionRepo) MarkFailed(_ context.Context, id uuid.UUID, code, message string, latencyMS int64, at time.Time) error {
	t := m.attempts[id]
	t.Status = StatusFailed
	t.ErrorCode = &code
	t.ErrorMessage = &message
	t.LatencyMS = &latencyMS
	t.CompletedAt = &at
	return nil
}

func (m *mockTransmissionRepo) Statistics(_ context.Context, start, end time.Time) (*Statistics, error) {
	var s Statistics
	var latencySum, latencyCount int64
	for _, t := range m.attempts {
		if t.StartedAt.Before(start) || !t.StartedAt.Before(end) {
			continue
		}
		s.TotalAttempts++
		switch t.Status {
		case StatusSuccessful:
			s.Successful++
		case StatusFailed:
			s.Failed++
		}
		if t.LatencyMS != nil {
			latencySum += *t.LatencyMS
			latencyCount++
		}
	}
	if s.TotalAttempts > 0 {
		s.SuccessRate = float64(s.Successful) / float64(s.TotalAttempts)
	}
	if latencyCount > 0 {
		s.AvgLatencyMS = float64(latencySum) / float64(latencyCount)
	}
	return &s, nil
}

type mockReportSource struct {
	prescriptions int
	items         int
	movements     []anvisa.Movement
}

func (m *mockReportSource) PeriodCounts(_ context.Context, _, _ time.Time) (int, int, error) {
	return m.prescriptions, m.items, nil
}

func (m *mockReportSource) MovementsForPeriod(_ context.Context, _, _ time.Time) ([]anvisa.Movement, error) {
	return m.movements, nil
}

type failingBuilder struct{}

func (failingBuilder) Build(_ anvisa.ReportData) ([]byte, error) {
	return nil, fmt.Errorf("schema violation")
}

var testClock = clock.At(time.Date(2025, 8, 5, 10, 0, 0, 0, time.UTC))

func testOptions() Options {
	return Options{
		MaxAttempts:  5,
		Endpoint:     "https://sngpc.anvisa.gov.br/ws",
		Timeout:      5 * time.Second,
		PharmacyCNPJ: "12.345.678/0001-90",
		PharmacyName: "Farmacia Central",
	}
}

func newTestService(client anvisa.Client) (*Service, *mockReportRepo, *mockTransmissionRepo, *mockReportSource) {
	reports := newMockReportRepo()
	attempts := newMockTransmissionRepo()
	source := &mockReportSource{prescriptions: 12, items: 15}
	svc := NewService(reports, attempts, source, anvisa.NewXMLBuilder(), client, testClock, zerolog.Nop(), testOptions())
	return svc, reports, attempts, source
}

func generatedReport(t *testing.T, svc *Service) *Report {
	t.Helper()
	r, err := svc.GenerateReport(context.Background(), 2025, 7)
	if err != nil {
		t.Fatalf("generate report failed: %v", err)
	}
	return r
}

// -- Generation --

func TestGenerateReport(t *testing.T) {
	svc, _, _, _ := newTestService(&anvisa.StaticClient{})
	r := generatedReport(t, svc)

	if r.Status != ReportGenerated {
		t.Errorf("expected generated, got %s", r.Status)
	}
	if r.PrescriptionCount != 12 || r.ItemCount != 15 {
		t.Errorf("unexpected counts: %+v", r)
	}
	if !r.GeneratedAt.Equal(testClock.Now()) {
		t.Errorf("expected clock-supplied generated_at, got %v", r.GeneratedAt)
	}
}

func TestGenerateReport_RefreshesUntransmitted(t *testing.T) {
	svc, repo, _, source := newTestService(&anvisa.StaticClient{})
	first := generatedReport(t, svc)

	source.prescriptions = 20
	source.items = 25
	second, err := svc.GenerateReport(context.Background(), 2025, 7)
	if err != nil {
		t.Fatalf("regeneration failed: %v", err)
	}
	if second.ID != first.ID {
		t.Error("regeneration must reuse the existing row")
	}
	if second.PrescriptionCount != 20 || second.ItemCount != 25 {
		t.Errorf("counts not refreshed: %+v", second)
	}
	if len(repo.reports) != 1 {
		t.Errorf("expected 1 report row, got %d", len(repo.reports))
	}
}

func TestGenerateReport_TransmittedIsImmutable(t *testing.T) {
	svc, repo, _, _ := newTestService(&anvisa.StaticClient{})
	r := generatedReport(t, svc)
	repo.SetStatus(context.Background(), r.ID, ReportTransmitted)

	_, err := svc.GenerateReport(context.Background(), 2025, 7)
	if err != ErrReportAlreadyTransmitted {
		t.Errorf("expected ErrReportAlreadyTransmitted, got %v", err)
	}
}

func TestGenerateReport_InvalidPeriod(t *testing.T) {
	svc, _, _, _ := newTestService(&anvisa.StaticClient{})
	if _, err := svc.GenerateReport(context.Background(), 2025, 0); err == nil {
		t.Error("expected error for month 0")
	}
}

// -- Transmission --

func TestTransmitReport_Success(t *testing.T) {
	svc, repo, _, _ := newTestService(&anvisa.StaticClient{})
	r := generatedReport(t, svc)

	tr, err := svc.TransmitReport(context.Background(), r.ID, "pharmacist-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.Status != StatusSuccessful {
		t.Errorf("expected successful, got %s", tr.Status)
	}
	if tr.AttemptNumber != 1 {
		t.Errorf("expected attempt 1, got %d", tr.AttemptNumber)
	}
	if tr.ProtocolNumber == nil || *tr.ProtocolNumber != "SNGPC-000001" {
		t.Errorf("unexpected protocol: %v", tr.ProtocolNumber)
	}
	if tr.PayloadHash == nil || tr.PayloadSize == nil || *tr.PayloadSize == 0 {
		t.Error("expected payload hash and size to be recorded")
	}
	if repo.reports[r.ID].Status != ReportTransmitted {
		t.Errorf("expected report transmitted, got %s", repo.reports[r.ID].Status)
	}
}

func TestTransmitReport_FailureIsAbsorbed(t *testing.T) {
	svc, repo, _, _ := newTestService(&anvisa.StaticClient{FailFirst: 1})
	r := generatedReport(t, svc)

	tr, err := svc.TransmitReport(context.Background(), r.ID, "u")
	if err != nil {
		t.Fatalf("failure must be absorbed into the row, got error: %v", err)
	}
	if tr.Status != StatusFailed {
		t.Errorf("expected failed, got %s", tr.Status)
	}
	if tr.ErrorCode == nil || tr.ErrorMessage == nil {
		t.Error("expected error code and message on the failed row")
	}
	if repo.reports[r.ID].Status != ReportTransmissionFailed {
		t.Errorf("expected report transmission_failed, got %s", repo.reports[r.ID].Status)
	}
}

func TestTransmitReport_BuildFailureIsAbsorbed(t *testing.T) {
	reports := newMockReportRepo()
	attempts := newMockTransmissionRepo()
	svc := NewService(reports, attempts, &mockReportSource{}, failingBuilder{},
		&anvisa.StaticClient{}, testClock, zerolog.Nop(), testOptions())
	r := generatedReport(t, svc)

	tr, err := svc.TransmitReport(context.Background(), r.ID, "u")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.Status != StatusFailed {
		t.Errorf("expected failed, got %s", tr.Status)
	}
	if tr.ErrorCode == nil || *tr.ErrorCode != "payload_build_failed" {
		t.Errorf("unexpected error code: %v", tr.ErrorCode)
	}
}

func TestTransmitReport_RetryAfterFailure(t *testing.T) {
	svc, repo, _, _ := newTestService(&anvisa.StaticClient{FailFirst: 1})
	r := generatedReport(t, svc)

	first, _ := svc.TransmitReport(context.Background(), r.ID, "u")
	if first.Status != StatusFailed {
		t.Fatalf("expected first attempt to fail")
	}

	second, err := svc.TransmitReport(context.Background(), r.ID, "u")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Status != StatusSuccessful || second.AttemptNumber != 2 {
		t.Errorf("expected successful attempt 2, got %s attempt %d", second.Status, second.AttemptNumber)
	}
	if repo.reports[r.ID].Status != ReportTransmitted {
		t.Errorf("expected transmitted, got %s", repo.reports[r.ID].Status)
	}
}

func TestTransmitReport_CapEnforced(t *testing.T) {
	svc, _, attempts, _ := newTestService(&anvisa.StaticClient{FailFirst: 100})
	r := generatedReport(t, svc)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		tr, err := svc.TransmitReport(ctx, r.ID, "u")
		if err != nil {
			t.Fatalf("attempt %d errored: %v", i+1, err)
		}
		if tr.Status != StatusFailed {
			t.Fatalf("attempt %d: expected failed, got %s", i+1, tr.Status)
		}
	}

	_, err := svc.TransmitReport(ctx, r.ID, "u")
	if err != ErrAttemptCapExceeded {
		t.Errorf("expected ErrAttemptCapExceeded on 6th attempt, got %v", err)
	}
	if n, _ := attempts.CountByReport(ctx, r.ID); n != 5 {
		t.Errorf("expected exactly 5 attempts, got %d", n)
	}
}

func TestTransmitReport_NotTransmittableStates(t *testing.T) {
	svc, repo, _, _ := newTestService(&anvisa.StaticClient{})
	r := generatedReport(t, svc)

	for _, status := range []ReportStatus{ReportTransmitting, ReportTransmitted} {
		repo.SetStatus(context.Background(), r.ID, status)
		if _, err := svc.TransmitReport(context.Background(), r.ID, "u"); err != ErrReportNotTransmittable {
			t.Errorf("status %s: expected ErrReportNotTransmittable, got %v", status, err)
		}
	}
}

func TestTransmitReport_NotFound(t *testing.T) {
	svc, _, _, _ := newTestService(&anvisa.StaticClient{})
	if _, err := svc.TransmitReport(context.Background(), uuid.New(), "u"); err != ErrReportNotFound {
		t.Errorf("expected ErrReportNotFound, got %v", err)
	}
}

// -- Retry --

func TestRetryTransmission(t *testing.T) {
	svc, _, _, _ := newTestService(&anvisa.StaticClient{FailFirst: 1})
	r := generatedReport(t, svc)

	failed, _ := svc.TransmitReport(context.Background(), r.ID, "pharmacist-1")
	retried, err := svc.RetryTransmission(context.Background(), failed.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if retried.Status != StatusSuccessful {
		t.Errorf("expected successful, got %s", retried.Status)
	}
	if retried.InitiatedBy != "pharmacist-1" {
		t.Errorf("retry must keep the original initiator, got %q", retried.InitiatedBy)
	}
}

func TestRetryTransmission_OnlyFailed(t *testing.T) {
	svc, _, _, _ := newTestService(&anvisa.StaticClient{})
	r := generatedReport(t, svc)

	ok, _ := svc.TransmitReport(context.Background(), r.ID, "u")
	if ok.Status != StatusSuccessful {
		t.Fatalf("expected successful seed attempt")
	}
	_, err := svc.RetryTransmission(context.Background(), ok.ID)
	if err != ErrTransmissionNotRetryable {
		t.Errorf("expected ErrTransmissionNotRetryable, got %v", err)
	}
}

func TestRetryTransmission_NotFound(t *testing.T) {
	svc, _, _, _ := newTestService(&anvisa.StaticClient{})
	if _, err := svc.RetryTransmission(context.Background(), uuid.New()); err != ErrTransmissionNotFound {
		t.Errorf("expected ErrTransmissionNotFound, got %v", err)
	}
}

// -- History and statistics --

func TestGetTransmissionHistory(t *testing.T) {
	svc, _, _, _ := newTestService(&anvisa.StaticClient{FailFirst: 2})
	r := generatedReport(t, svc)
	ctx := context.Background()

	svc.TransmitReport(ctx, r.ID, "u")
	svc.TransmitReport(ctx, r.ID, "u")
	svc.TransmitReport(ctx, r.ID, "u")

	history, err := svc.GetTransmissionHistory(ctx, r.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(history))
	}
	for i, tr := range history {
		if tr.AttemptNumber != i+1 {
			t.Errorf("attempt numbers must be strictly increasing, got %d at index %d", tr.AttemptNumber, i)
		}
	}
	if history[2].Status != StatusSuccessful {
		t.Errorf("expected final attempt successful, got %s", history[2].Status)
	}
}

func TestGetStatistics(t *testing.T) {
	svc, _, _, _ := newTestService(&anvisa.StaticClient{FailFirst: 1})
	r := generatedReport(t, svc)
	ctx := context.Background()

	svc.TransmitReport(ctx, r.ID, "u")
	svc.TransmitReport(ctx, r.ID, "u")

	start := testClock.Now().AddDate(0, 0, -1)
	end := testClock.Now().AddDate(0, 0, 1)
	stats, err := svc.GetStatistics(ctx, start, end)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.TotalAttempts != 2 || stats.Successful != 1 || stats.Failed != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
	if stats.SuccessRate != 0.5 {
		t.Errorf("expected success rate 0.5, got %v", stats.SuccessRate)
	}
}

func TestGetStatistics_InvalidWindow(t *testing.T) {
	svc, _, _, _ := newTestService(&anvisa.StaticClient{})
	now := testClock.Now()
	if _, err := svc.GetStatistics(context.Background(), now, now.AddDate(0, 0, -1)); err == nil {
		t.Error("expected error for inverted window")
	}
}

type failingStatusRepo struct {
	*mockReportRepo
}

func (f *failingStatusRepo) SetStatus(context.Context, uuid.UUID, ReportStatus) error {
	return fmt.Errorf("connection reset")
}

func TestTransmitReport_StatusFlipFailureIsLogged(t *testing.T) {
	reports := &failingStatusRepo{mockReportRepo: newMockReportRepo()}
	attempts := newMockTransmissionRepo()
	var buf bytes.Buffer
	svc := NewService(reports, attempts, &mockReportSource{prescriptions: 1, items: 1},
		anvisa.NewXMLBuilder(), &anvisa.StaticClient{}, testClock, zerolog.New(&buf), testOptions())

	r := generatedReport(t, svc)
	tr, err := svc.TransmitReport(context.Background(), r.ID, "u")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.Status != StatusSuccessful {
		t.Errorf("expected successful attempt despite the status flip failure, got %s", tr.Status)
	}
	if !strings.Contains(buf.String(), "failed to update report status") {
		t.Error("expected the status flip failure to appear in the log")
	}
}
