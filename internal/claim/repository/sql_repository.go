package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/medaudit/internal/claim/domain"
	"github.com/smallbiznis/medaudit/pkg/db"
	"gorm.io/gorm"
)

type sqlRepo struct {
	db *gorm.DB
}

// NewSQL returns the relational claim store.
func NewSQL(conn *gorm.DB) domain.Repository {
	return &sqlRepo{db: conn}
}

type transactionRow struct {
	ID               snowflake.ID `gorm:"column:id"`
	InvoiceNumber    string       `gorm:"column:invoice_number"`
	ProviderNit      string       `gorm:"column:provider_nit"`
	ProviderName     string       `gorm:"column:provider_name"`
	InvoiceIssuerNit *string      `gorm:"column:invoice_issuer_nit"`
	IssuedAt         *time.Time   `gorm:"column:issued_at"`
	ReceivedAt       time.Time    `gorm:"column:received_at"`
	ProcessingState  string       `gorm:"column:processing_state"`
	CreatedAt        time.Time    `gorm:"column:created_at"`
	UpdatedAt        time.Time    `gorm:"column:updated_at"`
}

type patientRow struct {
	PatientIndex   int    `gorm:"column:patient_index"`
	DocumentType   string `gorm:"column:document_type"`
	DocumentNumber string `gorm:"column:document_number"`
}

type serviceLineRow struct {
	PatientIndex        int        `gorm:"column:patient_index"`
	ServiceType         string     `gorm:"column:service_type"`
	ServiceIndex        int        `gorm:"column:service_index"`
	ServiceCode         string     `gorm:"column:service_code"`
	ServiceDate         time.Time  `gorm:"column:service_date"`
	BilledValue         int64      `gorm:"column:billed_value"`
	AuthorizationNumber *string    `gorm:"column:authorization_number"`
	Quantity            *int       `gorm:"column:quantity"`
	DischargeDate       *time.Time `gorm:"column:discharge_date"`
}

func (l serviceLineRow) toDomain() domain.ServiceLine {
	return domain.ServiceLine{
		Type:                domain.ServiceType(l.ServiceType),
		ServiceCode:         l.ServiceCode,
		ServiceDate:         l.ServiceDate.UTC(),
		BilledValue:         l.BilledValue,
		AuthorizationNumber: l.AuthorizationNumber,
		Quantity:            l.Quantity,
		DischargeDate:       l.DischargeDate,
	}
}

func (r *sqlRepo) Insert(ctx context.Context, claim *domain.ClaimTransaction) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec(
			`INSERT INTO claim_transactions (id, invoice_number, provider_nit, provider_name, invoice_issuer_nit, issued_at, received_at, processing_state, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			claim.ID,
			claim.InvoiceNumber,
			claim.ProviderNit,
			claim.ProviderName,
			claim.InvoiceIssuerNit,
			claim.IssuedAt,
			claim.ReceivedAt,
			string(claim.ProcessingState),
			claim.CreatedAt,
			claim.UpdatedAt,
		).Error; err != nil {
			return err
		}

		for pi, user := range claim.Users {
			if err := tx.Exec(
				`INSERT INTO claim_patients (transaction_id, patient_index, document_type, document_number)
				 VALUES (?, ?, ?, ?)`,
				claim.ID, pi, user.DocumentType, user.DocumentNumber,
			).Error; err != nil {
				return err
			}
			for _, st := range domain.ServiceTypes {
				for si, line := range user.Services.Lines(st) {
					if err := tx.Exec(
						`INSERT INTO claim_service_lines (transaction_id, patient_index, service_type, service_index, service_code, service_date, billed_value, authorization_number, quantity, discharge_date)
						 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
						claim.ID,
						pi,
						string(st),
						si,
						line.ServiceCode,
						line.ServiceDate,
						line.BilledValue,
						line.AuthorizationNumber,
						line.Quantity,
						line.DischargeDate,
					).Error; err != nil {
						return err
					}
				}
			}
		}
		return nil
	})
	if err != nil && db.IsDuplicateKeyErr(err) {
		return domain.ErrDuplicateInvoice
	}
	return err
}

func (r *sqlRepo) FindByID(ctx context.Context, id snowflake.ID) (*domain.ClaimTransaction, error) {
	var row transactionRow
	err := r.db.WithContext(ctx).Raw(
		`SELECT id, invoice_number, provider_nit, provider_name, invoice_issuer_nit, issued_at, received_at, processing_state, created_at, updated_at
		 FROM claim_transactions WHERE id = ?`,
		id,
	).Scan(&row).Error
	if err != nil {
		return nil, err
	}
	if row.ID == 0 {
		return nil, nil
	}
	return r.load(ctx, row)
}

func (r *sqlRepo) FindByInvoiceAndProvider(ctx context.Context, invoiceNumber, providerNit string) (*domain.ClaimTransaction, error) {
	var row transactionRow
	err := r.db.WithContext(ctx).Raw(
		`SELECT id, invoice_number, provider_nit, provider_name, invoice_issuer_nit, issued_at, received_at, processing_state, created_at, updated_at
		 FROM claim_transactions WHERE invoice_number = ? AND provider_nit = ?`,
		invoiceNumber,
		providerNit,
	).Scan(&row).Error
	if err != nil {
		return nil, err
	}
	if row.ID == 0 {
		return nil, nil
	}
	return r.load(ctx, row)
}

func (r *sqlRepo) load(ctx context.Context, row transactionRow) (*domain.ClaimTransaction, error) {
	var patients []patientRow
	if err := r.db.WithContext(ctx).Raw(
		`SELECT patient_index, document_type, document_number
		 FROM claim_patients WHERE transaction_id = ? ORDER BY patient_index ASC`,
		row.ID,
	).Scan(&patients).Error; err != nil {
		return nil, err
	}

	var lines []serviceLineRow
	if err := r.db.WithContext(ctx).Raw(
		`SELECT patient_index, service_type, service_index, service_code, service_date, billed_value, authorization_number, quantity, discharge_date
		 FROM claim_service_lines WHERE transaction_id = ?
		 ORDER BY patient_index ASC, service_type ASC, service_index ASC`,
		row.ID,
	).Scan(&lines).Error; err != nil {
		return nil, err
	}

	claim := &domain.ClaimTransaction{
		ID:               row.ID,
		InvoiceNumber:    row.InvoiceNumber,
		ProviderNit:      row.ProviderNit,
		ProviderName:     row.ProviderName,
		InvoiceIssuerNit: row.InvoiceIssuerNit,
		IssuedAt:         row.IssuedAt,
		ReceivedAt:       row.ReceivedAt.UTC(),
		ProcessingState:  domain.ProcessingState(row.ProcessingState),
		Users:            make([]domain.PatientRecord, len(patients)),
		CreatedAt:        row.CreatedAt.UTC(),
		UpdatedAt:        row.UpdatedAt.UTC(),
	}
	for i, p := range patients {
		if p.PatientIndex != i {
			return nil, errors.New("claim_patients index gap")
		}
		claim.Users[i] = domain.PatientRecord{
			DocumentType:   p.DocumentType,
			DocumentNumber: p.DocumentNumber,
		}
	}
	// Lines arrive ordered by service_index within each list, so appending
	// restores the stored positions.
	for _, l := range lines {
		if l.PatientIndex < 0 || l.PatientIndex >= len(claim.Users) {
			return nil, errors.New("claim_service_lines references unknown patient")
		}
		if err := claim.Users[l.PatientIndex].Services.Append(domain.ServiceType(l.ServiceType), l.toDomain()); err != nil {
			return nil, err
		}
	}
	claim.Normalize()
	return claim, nil
}

func (r *sqlRepo) FindServiceLine(ctx context.Context, ref domain.ServiceRef) (*domain.ServiceLine, error) {
	var row serviceLineRow
	err := r.db.WithContext(ctx).Raw(
		`SELECT patient_index, service_type, service_index, service_code, service_date, billed_value, authorization_number, quantity, discharge_date
		 FROM claim_service_lines
		 WHERE transaction_id = ? AND patient_index = ? AND service_type = ? AND service_index = ?`,
		ref.TransactionID,
		ref.PatientIndex,
		string(ref.ServiceType),
		ref.ServiceIndex,
	).Scan(&row).Error
	if err != nil {
		return nil, err
	}
	if row.ServiceType == "" {
		return nil, nil
	}
	line := row.toDomain()
	return &line, nil
}

func (r *sqlRepo) CompareAndSetState(ctx context.Context, id snowflake.ID, from, to domain.ProcessingState, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).Exec(
		`UPDATE claim_transactions SET processing_state = ?, updated_at = ?
		 WHERE id = ? AND processing_state = ?`,
		string(to), at, id, string(from),
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
