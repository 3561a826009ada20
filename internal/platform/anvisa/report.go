// Package anvisa implements the outbound integration with the ANVISA SNGPC
// web service: building the monthly XML report, signing it with the pharmacy
// certificate, and submitting it over HTTPS. The Client interface keeps the
// transmission pipeline decoupled from the wire protocol so tests and dev
// deployments can use the deterministic in-memory client.
package anvisa

import (
	"encoding/xml"
	"fmt"
	"time"
)

// MovementKind mirrors the SNGPC movement codes: inbound stock entries and
// outbound dispensations.
type MovementKind string

const (
	MovementEntrada MovementKind = "entrada"
	MovementSaida   MovementKind = "saida"
)

// Movement is a single ledger line in the monthly report.
type Movement struct {
	Kind           MovementKind
	Date           time.Time
	MedicationName string
	Quantity       float64
	Unit           string
	DocumentNumber string // invoice number for entries, prescription number for dispensations
	PatientName    string // dispensations only
	PrescriberName string // dispensations only
	PrescriberCRM  string // dispensations only
}

// ReportData is everything the builder needs to produce the monthly XML.
type ReportData struct {
	Year         int
	Month        int
	PharmacyCNPJ string
	PharmacyName string
	Movements    []Movement
}

// ReportBuilder produces the XML payload submitted to the SNGPC web service.
type ReportBuilder interface {
	Build(data ReportData) ([]byte, error)
}

// XML document shapes. Element names follow the SNGPC message schema.
type xmlReport struct {
	XMLName   xml.Name      `xml:"mensagemSNGPC"`
	Version   string        `xml:"versao,attr"`
	Header    xmlHeader     `xml:"cabecalho"`
	Movements []xmlMovement `xml:"corpo>movimento"`
}

type xmlHeader struct {
	CNPJ         string `xml:"cnpjEmissor"`
	PharmacyName string `xml:"nomeEmissor"`
	Period       string `xml:"periodo"` // YYYY-MM
	GeneratedAt  string `xml:"dataGeracao"`
}

type xmlMovement struct {
	Kind           string  `xml:"tipo"`
	Date           string  `xml:"data"`
	MedicationName string  `xml:"medicamento"`
	Quantity       float64 `xml:"quantidade"`
	Unit           string  `xml:"unidade"`
	DocumentNumber string  `xml:"numeroDocumento,omitempty"`
	PatientName    string  `xml:"nomePaciente,omitempty"`
	PrescriberName string  `xml:"nomePrescritor,omitempty"`
	PrescriberCRM  string  `xml:"crmPrescritor,omitempty"`
}

// XMLBuilder renders ReportData into the SNGPC message format.
type XMLBuilder struct {
	// Now is injectable for deterministic dataGeracao values in tests.
	Now func() time.Time
}

// NewXMLBuilder returns a builder using the wall clock.
func NewXMLBuilder() *XMLBuilder {
	return &XMLBuilder{Now: time.Now}
}

// Build validates the report data and renders the XML payload.
func (b *XMLBuilder) Build(data ReportData) ([]byte, error) {
	if data.Year < 2000 || data.Year > 2100 {
		return nil, fmt.Errorf("invalid report year %d", data.Year)
	}
	if data.Month < 1 || data.Month > 12 {
		return nil, fmt.Errorf("invalid report month %d", data.Month)
	}
	if data.PharmacyCNPJ == "" {
		return nil, fmt.Errorf("pharmacy CNPJ is required")
	}

	doc := xmlReport{
		Version: "2.0",
		Header: xmlHeader{
			CNPJ:         data.PharmacyCNPJ,
			PharmacyName: data.PharmacyName,
			Period:       fmt.Sprintf("%04d-%02d", data.Year, data.Month),
			GeneratedAt:  b.Now().UTC().Format(time.RFC3339),
		},
	}

	for _, m := range data.Movements {
		doc.Movements = append(doc.Movements, xmlMovement{
			Kind:           string(m.Kind),
			Date:           m.Date.Format("2006-01-02"),
			MedicationName: m.MedicationName,
			Quantity:       m.Quantity,
			Unit:           m.Unit,
			DocumentNumber: m.DocumentNumber,
			PatientName:    m.PatientName,
			PrescriberName: m.PrescriberName,
			PrescriberCRM:  m.PrescriberCRM,
		})
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal report: %w", err)
	}

	return append([]byte(xml.Header), out...), nil
}
