package repository

import (
	"context"

	"github.com/jhoicas/Facturacion-api/internal/domain/entity"
)

// BillingResolutionRepository define el puerto de persistencia para resoluciones DIAN.
type BillingResolutionRepository interface {
	Create(ctx context.Context, res *entity.SequenceResolution) error
	GetByID(ctx context.Context, id string) (*entity.SequenceResolution, error)

	// GetActiveByCompanyAndPrefix devuelve la resolución activa y vigente para la empresa y prefijo.
	// Sin resolución activa no se puede numerar ni incluir DianExtensions.
	GetActiveByCompanyAndPrefix(ctx context.Context, companyID, prefix string) (*entity.SequenceResolution, error)
}
