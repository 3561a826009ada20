// Package registry implements the controlled-substance ledger: an
// append-only record of every inbound and outbound movement with the
// running balance that resulted from it.
package registry

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// MovementType classifies a ledger entry as stock received or dispensed.
type MovementType string

const (
	MovementInbound  MovementType = "inbound"
	MovementOutbound MovementType = "outbound"
)

// DocumentType identifies the source document backing an entry.
type DocumentType string

const (
	DocumentPrescription    DocumentType = "prescription"
	DocumentSupplierInvoice DocumentType = "supplier_invoice"
)

// RegistryEntry is one immutable controlled-substance movement.
// Entries are never updated or deleted after creation.
type RegistryEntry struct {
	ID                 uuid.UUID    `db:"id" json:"id"`
	EntryDate          time.Time    `db:"entry_date" json:"entry_date"`
	MedicationName     string       `db:"medication_name" json:"medication_name"`
	ActiveIngredient   *string      `db:"active_ingredient" json:"active_ingredient,omitempty"`
	ListClassification *string      `db:"list_classification" json:"list_classification,omitempty"`
	Concentration      *string      `db:"concentration" json:"concentration,omitempty"`
	PharmaceuticalForm *string      `db:"pharmaceutical_form" json:"pharmaceutical_form,omitempty"`
	QuantityIn         float64      `db:"quantity_in" json:"quantity_in"`
	QuantityOut        float64      `db:"quantity_out" json:"quantity_out"`
	Balance            float64      `db:"balance" json:"balance"`
	MovementType       MovementType `db:"movement_type" json:"movement_type"`
	DocumentType       DocumentType `db:"document_type" json:"document_type"`
	DocumentRef        string       `db:"document_ref" json:"document_ref"`
	PatientName        *string      `db:"patient_name" json:"patient_name,omitempty"`
	PrescriberName     *string      `db:"prescriber_name" json:"prescriber_name,omitempty"`
	PrescriberCRM      *string      `db:"prescriber_crm" json:"prescriber_crm,omitempty"`
	SupplierName       *string      `db:"supplier_name" json:"supplier_name,omitempty"`
	SupplierCNPJ       *string      `db:"supplier_cnpj" json:"supplier_cnpj,omitempty"`
	RegisteredBy       string       `db:"registered_by" json:"registered_by"`
	CreatedAt          time.Time    `db:"created_at" json:"created_at"`
}

// MedicationKey normalizes a free-text medication name into the ledger's
// grouping key: surrounding whitespace trimmed, internal runs collapsed
// to a single space. Medication identity is free text rather than a
// catalog reference; callers must go through this function so a
// normalized catalog key can replace it later without touching them.
func MedicationKey(name string) string {
	return strings.Join(strings.Fields(name), " ")
}

// Replay folds a date-ordered slice of entries into the running balance
// after each one, seeded at zero. It is a pure function over the signed
// quantities and ignores the Balance column stored on the entries, which
// makes it usable both for computing balances on write and for
// re-verifying stored balances on audit.
func Replay(entries []*RegistryEntry) []float64 {
	balances := make([]float64, len(entries))
	bal := 0.0
	for i, e := range entries {
		bal += e.QuantityIn - e.QuantityOut
		balances[i] = bal
	}
	return balances
}
