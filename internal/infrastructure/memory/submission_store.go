package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/jhoicas/Facturacion-api/internal/domain"
	"github.com/jhoicas/Facturacion-api/internal/domain/entity"
	"github.com/jhoicas/Facturacion-api/internal/domain/repository"
)

var _ repository.SubmissionRepository = (*SubmissionStore)(nil)

// SubmissionStore guarda copias de los registros de envío.
type SubmissionStore struct {
	mu      sync.RWMutex
	records map[string]entity.SubmissionRecord
}

// NewSubmissionStore construye el store vacío.
func NewSubmissionStore() *SubmissionStore {
	return &SubmissionStore{records: map[string]entity.SubmissionRecord{}}
}

func (s *SubmissionStore) Save(_ context.Context, rec *entity.SubmissionRecord) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("registro sin ID: %w", domain.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = cloneRecord(rec)
	return nil
}

func (s *SubmissionStore) Get(_ context.Context, id string) (*entity.SubmissionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("registro %s: %w", id, domain.ErrNotFound)
	}
	cp := cloneRecord(&rec)
	return &cp, nil
}

// cloneRecord copia los slices para que el llamador no comparta memoria con el store.
func cloneRecord(r *entity.SubmissionRecord) entity.SubmissionRecord {
	cp := *r
	cp.History = append([]entity.StateChange(nil), r.History...)
	cp.Warnings = append([]string(nil), r.Warnings...)
	cp.UnsignedXML = append([]byte(nil), r.UnsignedXML...)
	cp.SignedXML = append([]byte(nil), r.SignedXML...)
	cp.Invoice.Lines = append([]entity.InvoiceLine(nil), r.Invoice.Lines...)
	if r.Outcome != nil {
		o := *r.Outcome
		o.Errors = append([]string(nil), r.Outcome.Errors...)
		cp.Outcome = &o
	}
	return cp
}
