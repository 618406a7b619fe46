package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jhoicas/Facturacion-api/internal/domain"
	"github.com/jhoicas/Facturacion-api/internal/domain/entity"
)

// SequenceAllocator asigna consecutivos con bloqueo de fila (SELECT ... FOR UPDATE)
// y un UPDATE condicionado al rango. Es seguro entre procesos.
type SequenceAllocator struct {
	tx   *TxRunner
	repo *BillingResolutionRepo
}

// NewSequenceAllocator construye el asignador sobre el pool.
func NewSequenceAllocator(pool *pgxpool.Pool) *SequenceAllocator {
	return &SequenceAllocator{tx: NewTxRunner(pool), repo: NewBillingResolutionRepository(pool)}
}

// Allocate reserva el siguiente número. Si el rango está agotado el cursor no cambia.
func (a *SequenceAllocator) Allocate(ctx context.Context, resolutionID string) (int64, error) {
	var number int64
	err := a.tx.Run(ctx, func(tx pgx.Tx) error {
		const lock = `
			SELECT resolution_number, range_from, range_to, current_number
			FROM billing_resolutions
			WHERE id = $1
			FOR UPDATE`
		var (
			resNumber        string
			from, to, cursor int64
		)
		err := tx.QueryRow(ctx, lock, resolutionID).Scan(&resNumber, &from, &to, &cursor)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("resolución %s: %w", resolutionID, domain.ErrNotFound)
			}
			return notFoundIfInvalid(fmt.Errorf("bloquear resolución: %w", err), "resolución", resolutionID)
		}

		const next = `
			UPDATE billing_resolutions
			SET current_number = CASE WHEN current_number = 0 THEN range_from ELSE current_number + 1 END,
			    updated_at     = now()
			WHERE id = $1
			  AND (CASE WHEN current_number = 0 THEN range_from ELSE current_number + 1 END) <= range_to
			RETURNING current_number`
		err = tx.QueryRow(ctx, next, resolutionID).Scan(&number)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("resolución %s (rango %d-%d, cursor %d): %w",
				resNumber, from, to, cursor, domain.ErrRangeExhausted)
		}
		if err != nil {
			return fmt.Errorf("incrementar consecutivo: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return number, nil
}

// Resolution devuelve el estado actual de la resolución.
func (a *SequenceAllocator) Resolution(ctx context.Context, resolutionID string) (*entity.SequenceResolution, error) {
	res, err := a.repo.GetByID(ctx, resolutionID)
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, fmt.Errorf("resolución %s: %w", resolutionID, domain.ErrNotFound)
	}
	return res, nil
}
