package registry

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository persists ledger entries. The ledger is append-only, so
// there is no update or delete.
type Repository interface {
	Create(ctx context.Context, e *RegistryEntry) error
	GetByID(ctx context.Context, id uuid.UUID) (*RegistryEntry, error)
	GetByPeriod(ctx context.Context, start, end time.Time, limit, offset int) ([]*RegistryEntry, int, error)
	GetByMedication(ctx context.Context, name string, limit, offset int) ([]*RegistryEntry, int, error)
	// Latest returns the most recent entry for a medication, or (nil, nil)
	// when the medication has no ledger history.
	Latest(ctx context.Context, name string) (*RegistryEntry, error)
	// HasDocument reports whether an entry already references the given
	// source document.
	HasDocument(ctx context.Context, docType DocumentType, docRef string) (bool, error)
	// CountEntries returns the total number of ledger entries.
	CountEntries(ctx context.Context) (int64, error)
}

// DispensedItem is one medication line of a dispensed prescription as
// supplied by the prescription module.
type DispensedItem struct {
	MedicationName     string   `json:"medication_name"`
	ActiveIngredient   *string  `json:"active_ingredient,omitempty"`
	ListClassification *string  `json:"list_classification,omitempty"`
	Concentration      *string  `json:"concentration,omitempty"`
	PharmaceuticalForm *string  `json:"pharmaceutical_form,omitempty"`
	Quantity           float64  `json:"quantity"`
}

// DispensedPrescription is the read-side view of a prescription the
// ledger registers against. Prescription records themselves are owned
// by the wider platform; the ledger only consumes them.
type DispensedPrescription struct {
	ID             uuid.UUID       `json:"id"`
	DispensedAt    time.Time       `json:"dispensed_at"`
	PatientName    string          `json:"patient_name"`
	PrescriberName string          `json:"prescriber_name"`
	PrescriberCRM  string          `json:"prescriber_crm"`
	Items          []DispensedItem `json:"items"`
}

// DispenseSource supplies dispensed prescription data. It returns
// (nil, nil) when the prescription does not exist or was not dispensed.
type DispenseSource interface {
	GetDispensed(ctx context.Context, prescriptionID uuid.UUID) (*DispensedPrescription, error)
}
