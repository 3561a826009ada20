package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vitalmed/sngpc/internal/platform/clock"
	"github.com/vitalmed/sngpc/internal/platform/db"
	"github.com/vitalmed/sngpc/internal/platform/telemetry"
)

var (
	// ErrDuplicateRegistration is returned when a prescription already has
	// a ledger entry. One registration per prescription.
	ErrDuplicateRegistration = errors.New("prescription already registered in the ledger")
	// ErrPrescriptionNotFound is returned when the dispensed prescription
	// does not exist.
	ErrPrescriptionNotFound = errors.New("dispensed prescription not found")
	// ErrEmptyPrescription is returned when the prescription has no items.
	ErrEmptyPrescription = errors.New("prescription has no items")
)

// StockEntryInput is the payload for registering an inbound stock
// movement from a supplier document.
type StockEntryInput struct {
	EntryDate          *time.Time `json:"entry_date,omitempty"`
	MedicationName     string     `json:"medication_name"`
	ActiveIngredient   *string    `json:"active_ingredient,omitempty"`
	ListClassification *string    `json:"list_classification,omitempty"`
	Concentration      *string    `json:"concentration,omitempty"`
	PharmaceuticalForm *string    `json:"pharmaceutical_form,omitempty"`
	Quantity           float64    `json:"quantity"`
	DocumentRef        string     `json:"document_ref"`
	SupplierName       *string    `json:"supplier_name,omitempty"`
	SupplierCNPJ       *string    `json:"supplier_cnpj,omitempty"`
}

type Service struct {
	entries   Repository
	dispenses DispenseSource
	clk       clock.Clock
	log       zerolog.Logger
	tel       *telemetry.TelemetryProvider
}

func NewService(entries Repository, dispenses DispenseSource, clk clock.Clock, log zerolog.Logger) *Service {
	return &Service{entries: entries, dispenses: dispenses, clk: clk, log: log}
}

// SetTelemetry attaches an optional telemetry provider to the service.
func (s *Service) SetTelemetry(tp *telemetry.TelemetryProvider) {
	s.tel = tp
}

func (s *Service) count(op string) {
	if s.tel != nil {
		s.tel.OperationCounter("registry", op)
	}
}

// recordLedgerSize refreshes the entries_total gauge after a write.
func (s *Service) recordLedgerSize(ctx context.Context) {
	if s.tel == nil {
		return
	}
	if n, err := s.entries.CountEntries(ctx); err == nil {
		s.tel.HealthMetrics().SetRegistryEntriesTotal(n)
	}
}

// Now exposes the service clock so the HTTP layer derives default query
// windows from the same time source as the ledger itself.
func (s *Service) Now() time.Time {
	return s.clk.Now()
}

// RegisterPrescriptionEntry records the outbound movement for a
// dispensed prescription. The prescription's first item is taken as the
// controlled substance; prescriptions carrying more than one item are
// logged so the remaining items can be audited by hand.
// TODO: register every controlled item once prescription items carry a
// list-classification flag to filter on.
func (s *Service) RegisterPrescriptionEntry(ctx context.Context, prescriptionID uuid.UUID, userID string) (*RegistryEntry, error) {
	docRef := prescriptionID.String()
	exists, err := s.entries.HasDocument(ctx, DocumentPrescription, docRef)
	if err != nil {
		return nil, fmt.Errorf("check prescription registration: %w", err)
	}
	if exists {
		return nil, ErrDuplicateRegistration
	}

	p, err := s.dispenses.GetDispensed(ctx, prescriptionID)
	if err != nil {
		return nil, fmt.Errorf("load dispensed prescription: %w", err)
	}
	if p == nil {
		return nil, ErrPrescriptionNotFound
	}
	if len(p.Items) == 0 {
		return nil, ErrEmptyPrescription
	}
	if len(p.Items) > 1 {
		s.log.Warn().
			Str("tenant_id", db.TenantFromContext(ctx)).
			Str("prescription_id", docRef).
			Int("item_count", len(p.Items)).
			Msg("prescription has multiple items, only the first is registered")
	}

	item := p.Items[0]
	if item.Quantity <= 0 {
		return nil, fmt.Errorf("dispensed quantity must be positive, got %v", item.Quantity)
	}
	name := MedicationKey(item.MedicationName)
	if name == "" {
		return nil, fmt.Errorf("dispensed item has no medication name")
	}

	prev, err := s.latestBalance(ctx, name)
	if err != nil {
		return nil, err
	}

	e := &RegistryEntry{
		EntryDate:          p.DispensedAt,
		MedicationName:     name,
		ActiveIngredient:   item.ActiveIngredient,
		ListClassification: item.ListClassification,
		Concentration:      item.Concentration,
		PharmaceuticalForm: item.PharmaceuticalForm,
		QuantityOut:        item.Quantity,
		Balance:            prev - item.Quantity,
		MovementType:       MovementOutbound,
		DocumentType:       DocumentPrescription,
		DocumentRef:        docRef,
		PatientName:        &p.PatientName,
		PrescriberName:     &p.PrescriberName,
		PrescriberCRM:      &p.PrescriberCRM,
		RegisteredBy:       userID,
	}
	if err := s.entries.Create(ctx, e); err != nil {
		s.log.Error().Err(err).
			Str("tenant_id", db.TenantFromContext(ctx)).
			Str("prescription_id", docRef).
			Msg("ledger entry creation failed")
		return nil, fmt.Errorf("create ledger entry: %w", err)
	}
	s.count("register_prescription")
	s.recordLedgerSize(ctx)
	return e, nil
}

// RegisterStockEntry records an inbound stock movement.
func (s *Service) RegisterStockEntry(ctx context.Context, in *StockEntryInput, userID string) (*RegistryEntry, error) {
	name := MedicationKey(in.MedicationName)
	if name == "" {
		return nil, fmt.Errorf("medication_name is required")
	}
	if in.Quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive, got %v", in.Quantity)
	}
	if in.DocumentRef == "" {
		return nil, fmt.Errorf("document_ref is required")
	}

	prev, err := s.latestBalance(ctx, name)
	if err != nil {
		return nil, err
	}

	date := s.clk.Now()
	if in.EntryDate != nil {
		date = *in.EntryDate
	}
	e := &RegistryEntry{
		EntryDate:          date,
		MedicationName:     name,
		ActiveIngredient:   in.ActiveIngredient,
		ListClassification: in.ListClassification,
		Concentration:      in.Concentration,
		PharmaceuticalForm: in.PharmaceuticalForm,
		QuantityIn:         in.Quantity,
		Balance:            prev + in.Quantity,
		MovementType:       MovementInbound,
		DocumentType:       DocumentSupplierInvoice,
		DocumentRef:        in.DocumentRef,
		SupplierName:       in.SupplierName,
		SupplierCNPJ:       in.SupplierCNPJ,
		RegisteredBy:       userID,
	}
	if err := s.entries.Create(ctx, e); err != nil {
		s.log.Error().Err(err).
			Str("tenant_id", db.TenantFromContext(ctx)).
			Str("medication", name).
			Msg("ledger entry creation failed")
		return nil, fmt.Errorf("create ledger entry: %w", err)
	}
	s.count("register_stock")
	s.recordLedgerSize(ctx)
	return e, nil
}

func (s *Service) latestBalance(ctx context.Context, name string) (float64, error) {
	latest, err := s.entries.Latest(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("load latest balance: %w", err)
	}
	if latest == nil {
		return 0, nil
	}
	return latest.Balance, nil
}

func (s *Service) GetByPeriod(ctx context.Context, start, end time.Time, limit, offset int) ([]*RegistryEntry, int, error) {
	if end.Before(start) {
		return nil, 0, fmt.Errorf("period end %s precedes start %s", end.Format("2006-01-02"), start.Format("2006-01-02"))
	}
	return s.entries.GetByPeriod(ctx, start, end, limit, offset)
}

func (s *Service) GetByMedication(ctx context.Context, name string, limit, offset int) ([]*RegistryEntry, int, error) {
	return s.entries.GetByMedication(ctx, MedicationKey(name), limit, offset)
}

// GetCurrentBalance returns the latest entry's balance for a
// medication, or 0 when it has no ledger history.
func (s *Service) GetCurrentBalance(ctx context.Context, name string) (float64, error) {
	return s.latestBalance(ctx, MedicationKey(name))
}
