package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jhoicas/Facturacion-api/internal/domain"
	"github.com/jhoicas/Facturacion-api/internal/domain/entity"
	"github.com/jhoicas/Facturacion-api/internal/domain/repository"
)

var _ repository.SubmissionRepository = (*SubmissionRepo)(nil)

// SubmissionRepo persiste los registros de envío DIAN. Nunca borra filas.
type SubmissionRepo struct {
	pool *pgxpool.Pool
}

// NewSubmissionRepository construye el repositorio.
func NewSubmissionRepository(pool *pgxpool.Pool) *SubmissionRepo {
	return &SubmissionRepo{pool: pool}
}

// Save inserta o actualiza el registro completo.
func (r *SubmissionRepo) Save(ctx context.Context, rec *entity.SubmissionRecord) error {
	invoice, err := json.Marshal(rec.Invoice)
	if err != nil {
		return fmt.Errorf("serializar factura: %w", err)
	}
	history, err := json.Marshal(rec.History)
	if err != nil {
		return fmt.Errorf("serializar historial: %w", err)
	}
	warnings, err := json.Marshal(nonNil(rec.Warnings))
	if err != nil {
		return fmt.Errorf("serializar advertencias: %w", err)
	}
	var outcome []byte
	if rec.Outcome != nil {
		if outcome, err = json.Marshal(rec.Outcome); err != nil {
			return fmt.Errorf("serializar respuesta: %w", err)
		}
	}

	const q = `
		INSERT INTO dian_submissions
			(id, resolution_id, state, environment, prefix, number, full_number, cufe,
			 unsigned_xml, signed_xml, qr_base64, request_payload, response_payload,
			 invoice, outcome, history, warnings, last_stage, last_error,
			 created_at, updated_at, sent_at, approved_at, rejected_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, $10, $11, $12, $13,
		        $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state, prefix = EXCLUDED.prefix, number = EXCLUDED.number,
			full_number = EXCLUDED.full_number, cufe = EXCLUDED.cufe,
			unsigned_xml = EXCLUDED.unsigned_xml, signed_xml = EXCLUDED.signed_xml,
			qr_base64 = EXCLUDED.qr_base64, request_payload = EXCLUDED.request_payload,
			response_payload = EXCLUDED.response_payload, invoice = EXCLUDED.invoice,
			outcome = EXCLUDED.outcome, history = EXCLUDED.history, warnings = EXCLUDED.warnings,
			last_stage = EXCLUDED.last_stage, last_error = EXCLUDED.last_error,
			updated_at = EXCLUDED.updated_at, sent_at = EXCLUDED.sent_at,
			approved_at = EXCLUDED.approved_at, rejected_at = EXCLUDED.rejected_at
		WHERE dian_submissions.state <> 'APPROVED'`
	tag, err := r.pool.Exec(ctx, q,
		rec.ID, rec.ResolutionID, string(rec.State), rec.Environment,
		rec.Prefix, rec.Number, rec.FullNumber, rec.CUFE,
		rec.UnsignedXML, rec.SignedXML, rec.QRBase64, rec.RequestPayload, rec.ResponsePayload,
		invoice, outcome, history, warnings, rec.LastStage, rec.LastError,
		rec.CreatedAt, rec.UpdatedAt, rec.SentAt, rec.ApprovedAt, rec.RejectedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("número %d ya aprobado en la resolución: %w", rec.Number, domain.ErrConflict)
		}
		return fmt.Errorf("guardar dian_submission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("registro %s aprobado, no admite cambios: %w", rec.ID, domain.ErrConflict)
	}
	return nil
}

// Get devuelve domain.ErrNotFound si no existe.
func (r *SubmissionRepo) Get(ctx context.Context, id string) (*entity.SubmissionRecord, error) {
	const q = `
		SELECT id, resolution_id, state, environment, prefix, number, full_number, COALESCE(cufe, ''),
		       unsigned_xml, signed_xml, qr_base64, request_payload, response_payload,
		       invoice, outcome, history, warnings, last_stage, last_error,
		       created_at, updated_at, sent_at, approved_at, rejected_at
		FROM dian_submissions WHERE id = $1`
	var (
		rec                                 entity.SubmissionRecord
		state                               string
		invoice, outcome, history, warnings []byte
	)
	err := r.pool.QueryRow(ctx, q, id).Scan(
		&rec.ID, &rec.ResolutionID, &state, &rec.Environment,
		&rec.Prefix, &rec.Number, &rec.FullNumber, &rec.CUFE,
		&rec.UnsignedXML, &rec.SignedXML, &rec.QRBase64, &rec.RequestPayload, &rec.ResponsePayload,
		&invoice, &outcome, &history, &warnings, &rec.LastStage, &rec.LastError,
		&rec.CreatedAt, &rec.UpdatedAt, &rec.SentAt, &rec.ApprovedAt, &rec.RejectedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("registro %s: %w", id, domain.ErrNotFound)
		}
		return nil, notFoundIfInvalid(fmt.Errorf("get dian_submission: %w", err), "registro", id)
	}
	rec.State = entity.SubmissionState(state)

	if err := json.Unmarshal(invoice, &rec.Invoice); err != nil {
		return nil, fmt.Errorf("leer factura: %w", err)
	}
	if err := json.Unmarshal(history, &rec.History); err != nil {
		return nil, fmt.Errorf("leer historial: %w", err)
	}
	if err := json.Unmarshal(warnings, &rec.Warnings); err != nil {
		return nil, fmt.Errorf("leer advertencias: %w", err)
	}
	if len(outcome) > 0 {
		rec.Outcome = &entity.SubmissionOutcome{}
		if err := json.Unmarshal(outcome, rec.Outcome); err != nil {
			return nil, fmt.Errorf("leer respuesta: %w", err)
		}
	}
	return &rec, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
