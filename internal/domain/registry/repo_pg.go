package registry

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vitalmed/sngpc/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type entryRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &entryRepoPG{pool: pool}
}

func (r *entryRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const entryCols = `id, entry_date, medication_name, active_ingredient, list_classification,
	concentration, pharmaceutical_form, quantity_in, quantity_out, balance,
	movement_type, document_type, document_ref, patient_name, prescriber_name,
	prescriber_crm, supplier_name, supplier_cnpj, registered_by, created_at`

func (r *entryRepoPG) scanEntry(row pgx.Row) (*RegistryEntry, error) {
	var e RegistryEntry
	err := row.Scan(&e.ID, &e.EntryDate, &e.MedicationName, &e.ActiveIngredient, &e.ListClassification,
		&e.Concentration, &e.PharmaceuticalForm, &e.QuantityIn, &e.QuantityOut, &e.Balance,
		&e.MovementType, &e.DocumentType, &e.DocumentRef, &e.PatientName, &e.PrescriberName,
		&e.PrescriberCRM, &e.SupplierName, &e.SupplierCNPJ, &e.RegisteredBy, &e.CreatedAt)
	return &e, err
}

func (r *entryRepoPG) Create(ctx context.Context, e *RegistryEntry) error {
	e.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO registry_entry (id, entry_date, medication_name, active_ingredient,
			list_classification, concentration, pharmaceutical_form,
			quantity_in, quantity_out, balance, movement_type,
			document_type, document_ref, patient_name, prescriber_name,
			prescriber_crm, supplier_name, supplier_cnpj, registered_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		e.ID, e.EntryDate, e.MedicationName, e.ActiveIngredient,
		e.ListClassification, e.Concentration, e.PharmaceuticalForm,
		e.QuantityIn, e.QuantityOut, e.Balance, e.MovementType,
		e.DocumentType, e.DocumentRef, e.PatientName, e.PrescriberName,
		e.PrescriberCRM, e.SupplierName, e.SupplierCNPJ, e.RegisteredBy)
	return err
}

func (r *entryRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*RegistryEntry, error) {
	return r.scanEntry(r.conn(ctx).QueryRow(ctx,
		`SELECT `+entryCols+` FROM registry_entry WHERE id = $1`, id))
}

func (r *entryRepoPG) GetByPeriod(ctx context.Context, start, end time.Time, limit, offset int) ([]*RegistryEntry, int, error) {
	var total int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM registry_entry WHERE entry_date >= $1 AND entry_date <= $2`,
		start, end).Scan(&total)
	if err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+entryCols+` FROM registry_entry
		WHERE entry_date >= $1 AND entry_date <= $2
		ORDER BY entry_date, created_at
		LIMIT $3 OFFSET $4`, start, end, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return r.collect(rows, total)
}

func (r *entryRepoPG) GetByMedication(ctx context.Context, name string, limit, offset int) ([]*RegistryEntry, int, error) {
	var total int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM registry_entry WHERE medication_name = $1`, name).Scan(&total)
	if err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+entryCols+` FROM registry_entry
		WHERE medication_name = $1
		ORDER BY entry_date, created_at
		LIMIT $2 OFFSET $3`, name, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return r.collect(rows, total)
}

func (r *entryRepoPG) collect(rows pgx.Rows, total int) ([]*RegistryEntry, int, error) {
	var items []*RegistryEntry
	for rows.Next() {
		e, err := r.scanEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, e)
	}
	return items, total, rows.Err()
}

func (r *entryRepoPG) Latest(ctx context.Context, name string) (*RegistryEntry, error) {
	e, err := r.scanEntry(r.conn(ctx).QueryRow(ctx, `
		SELECT `+entryCols+` FROM registry_entry
		WHERE medication_name = $1
		ORDER BY entry_date DESC, created_at DESC
		LIMIT 1`, name))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (r *entryRepoPG) HasDocument(ctx context.Context, docType DocumentType, docRef string) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM registry_entry WHERE document_type = $1 AND document_ref = $2)`,
		docType, docRef).Scan(&exists)
	return exists, err
}

func (r *entryRepoPG) CountEntries(ctx context.Context) (int64, error) {
	var n int64
	err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM registry_entry`).Scan(&n)
	return n, err
}

// dispenseSourcePG reads dispensed prescriptions from the platform's
// prescription tables. The tables are owned elsewhere; this repo only
// selects from them.
type dispenseSourcePG struct{ pool *pgxpool.Pool }

func NewDispenseSourcePG(pool *pgxpool.Pool) DispenseSource {
	return &dispenseSourcePG{pool: pool}
}

func (r *dispenseSourcePG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

func (r *dispenseSourcePG) GetDispensed(ctx context.Context, prescriptionID uuid.UUID) (*DispensedPrescription, error) {
	var p DispensedPrescription
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT id, dispensed_at, patient_name, prescriber_name, prescriber_crm
		FROM prescription
		WHERE id = $1 AND status = 'dispensed'`, prescriptionID).
		Scan(&p.ID, &p.DispensedAt, &p.PatientName, &p.PrescriberName, &p.PrescriberCRM)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT medication_name, active_ingredient, list_classification,
			concentration, pharmaceutical_form, quantity
		FROM prescription_item
		WHERE prescription_id = $1
		ORDER BY position`, prescriptionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var it DispensedItem
		if err := rows.Scan(&it.MedicationName, &it.ActiveIngredient, &it.ListClassification,
			&it.Concentration, &it.PharmaceuticalForm, &it.Quantity); err != nil {
			return nil, err
		}
		p.Items = append(p.Items, it)
	}
	return &p, rows.Err()
}
