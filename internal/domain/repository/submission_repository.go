package repository

import (
	"context"

	"github.com/jhoicas/Facturacion-api/internal/domain/entity"
)

// SubmissionRepository persiste los registros de envío a la DIAN.
// Los registros nunca se eliminan; Save inserta o actualiza por ID.
type SubmissionRepository interface {
	Save(ctx context.Context, rec *entity.SubmissionRecord) error

	// Get retorna domain.ErrNotFound si el registro no existe.
	Get(ctx context.Context, id string) (*entity.SubmissionRecord, error)
}
