// Package memory implementaciones en memoria de los puertos de facturación,
// usadas en modo mock y en pruebas.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jhoicas/Facturacion-api/internal/domain"
	"github.com/jhoicas/Facturacion-api/internal/domain/entity"
)

// SequenceAllocator asigna consecutivos protegidos por un mutex.
type SequenceAllocator struct {
	mu          sync.Mutex
	resolutions map[string]*entity.SequenceResolution
}

// NewSequenceAllocator construye el asignador con las resoluciones dadas.
func NewSequenceAllocator(resolutions ...entity.SequenceResolution) *SequenceAllocator {
	a := &SequenceAllocator{resolutions: make(map[string]*entity.SequenceResolution, len(resolutions))}
	for _, r := range resolutions {
		a.Put(r)
	}
	return a
}

// Put registra o reemplaza una resolución.
func (a *SequenceAllocator) Put(r entity.SequenceResolution) {
	a.mu.Lock()
	defer a.mu.Unlock()
	cp := r
	a.resolutions[r.ID] = &cp
}

// Allocate devuelve el siguiente número; el cursor no cambia si el rango está agotado.
func (a *SequenceAllocator) Allocate(_ context.Context, resolutionID string) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	r, ok := a.resolutions[resolutionID]
	if !ok {
		return 0, fmt.Errorf("resolución %s: %w", resolutionID, domain.ErrNotFound)
	}
	if r.Exhausted() {
		return 0, fmt.Errorf("resolución %s (rango %d-%d, cursor %d): %w",
			r.ResolutionNumber, r.RangeFrom, r.RangeTo, r.Cursor, domain.ErrRangeExhausted)
	}
	r.Cursor = r.Next()
	r.UpdatedAt = time.Now()
	return r.Cursor, nil
}

// Resolution devuelve una copia del estado actual de la resolución.
func (a *SequenceAllocator) Resolution(_ context.Context, resolutionID string) (*entity.SequenceResolution, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	r, ok := a.resolutions[resolutionID]
	if !ok {
		return nil, fmt.Errorf("resolución %s: %w", resolutionID, domain.ErrNotFound)
	}
	cp := *r
	return &cp, nil
}
