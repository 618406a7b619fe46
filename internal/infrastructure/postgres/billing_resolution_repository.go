package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jhoicas/Facturacion-api/internal/domain"
	"github.com/jhoicas/Facturacion-api/internal/domain/entity"
	"github.com/jhoicas/Facturacion-api/internal/domain/repository"
)

var _ repository.BillingResolutionRepository = (*BillingResolutionRepo)(nil)

// BillingResolutionRepo implementa BillingResolutionRepository sobre PostgreSQL.
// El cursor (current_number) solo lo modifica SequenceAllocator.
type BillingResolutionRepo struct {
	pool *pgxpool.Pool
}

// NewBillingResolutionRepository construye el repositorio.
func NewBillingResolutionRepository(pool *pgxpool.Pool) *BillingResolutionRepo {
	return &BillingResolutionRepo{pool: pool}
}

const resolutionColumns = `
	id, company_id, resolution_number, prefix, range_from, range_to, current_number,
	date_from, date_to, technical_key, is_active, created_at, updated_at`

// Create inserta la resolución o actualiza sus datos si ya existe (sin tocar el cursor).
// Un range_to menor que el último consecutivo asignado devuelve domain.ErrConflict.
func (r *BillingResolutionRepo) Create(ctx context.Context, res *entity.SequenceResolution) error {
	if res.RangeFrom < 1 || res.RangeTo < res.RangeFrom {
		return errors.Join(domain.ErrConfiguration, fmt.Errorf("rango de resolución inválido [%d, %d]", res.RangeFrom, res.RangeTo))
	}
	const q = `
		INSERT INTO billing_resolutions
			(id, company_id, resolution_number, prefix, range_from, range_to,
			 date_from, date_to, technical_key, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())
		ON CONFLICT (id) DO UPDATE
		SET resolution_number = EXCLUDED.resolution_number, prefix = EXCLUDED.prefix,
		    range_to = EXCLUDED.range_to, date_from = EXCLUDED.date_from, date_to = EXCLUDED.date_to,
		    technical_key = EXCLUDED.technical_key, is_active = EXCLUDED.is_active, updated_at = now()
		WHERE billing_resolutions.current_number <= EXCLUDED.range_to
		  AND billing_resolutions.range_from     <= EXCLUDED.range_to`
	tag, err := r.pool.Exec(ctx, q,
		res.ID, res.CompanyID, res.ResolutionNumber, res.Prefix, res.RangeFrom, res.RangeTo,
		res.DateFrom, res.DateTo, res.TechnicalKey, res.IsActive,
	)
	if err != nil {
		return fmt.Errorf("insert billing_resolution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var cursor int64
		_ = r.pool.QueryRow(ctx, `SELECT current_number FROM billing_resolutions WHERE id = $1`, res.ID).Scan(&cursor)
		return errors.Join(domain.ErrConflict,
			fmt.Errorf("resolución %s: range_to %d no cubre el consecutivo ya asignado %d", res.ID, res.RangeTo, cursor))
	}
	return nil
}

// GetByID devuelve nil, nil si no existe.
func (r *BillingResolutionRepo) GetByID(ctx context.Context, id string) (*entity.SequenceResolution, error) {
	q := `SELECT ` + resolutionColumns + ` FROM billing_resolutions WHERE id = $1`
	res, err := scanResolution(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || isInvalidUUID(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get billing_resolution by id: %w", err)
	}
	return res, nil
}

// GetActiveByCompanyAndPrefix devuelve la resolución vigente más reciente, o nil, nil.
func (r *BillingResolutionRepo) GetActiveByCompanyAndPrefix(ctx context.Context, companyID, prefix string) (*entity.SequenceResolution, error) {
	q := `SELECT ` + resolutionColumns + `
		FROM billing_resolutions
		WHERE company_id = $1
		  AND prefix     = $2
		  AND is_active  = true
		  AND date_to   >= CURRENT_DATE
		ORDER BY date_from DESC
		LIMIT 1`
	res, err := scanResolution(r.pool.QueryRow(ctx, q, companyID, prefix))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get active billing_resolution: %w", err)
	}
	return res, nil
}

// ── helpers ───────────────────────────────────────────────────────────────────

// pgxScanner abstrae pgx.Row y pgx.Rows.
type pgxScanner interface {
	Scan(dest ...any) error
}

func scanResolution(row pgxScanner) (*entity.SequenceResolution, error) {
	var res entity.SequenceResolution
	err := row.Scan(
		&res.ID, &res.CompanyID, &res.ResolutionNumber, &res.Prefix,
		&res.RangeFrom, &res.RangeTo, &res.Cursor,
		&res.DateFrom, &res.DateTo, &res.TechnicalKey,
		&res.IsActive, &res.CreatedAt, &res.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &res, nil
}
