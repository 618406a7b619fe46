package dian

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/beevik/etree"
	"github.com/rs/zerolog"

	"github.com/jhoicas/Facturacion-api/internal/domain"
	"github.com/jhoicas/Facturacion-api/internal/domain/entity"
)

// Estado que el mock asigna a todo documento recibido.
const mockApprovedStatus = "Aprobada"

// MockDocument documento recibido por el mock.
type MockDocument struct {
	CUFE      string
	IssuerNIT string
	XML       []byte
	Status    string
	SentAt    time.Time
}

// MockStore almacén en memoria del mock, indexado por CUFE. Se inyecta; no hay estado global.
type MockStore struct {
	mu   sync.RWMutex
	docs map[string]MockDocument
}

// NewMockStore crea el almacén vacío.
func NewMockStore() *MockStore {
	return &MockStore{docs: make(map[string]MockDocument)}
}

func (s *MockStore) put(d MockDocument) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[d.CUFE] = d
}

// Get devuelve el documento registrado para el CUFE.
func (s *MockStore) Get(cufe string) (MockDocument, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[cufe]
	return d, ok
}

// Len cantidad de documentos recibidos.
func (s *MockStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// MockClient implementa billing.Submitter sin llamar a la DIAN; aprueba todo documento legible.
type MockClient struct {
	store *MockStore
	now   func() time.Time
	log   zerolog.Logger
}

// NewMockClient crea el mock sobre el store dado.
func NewMockClient(store *MockStore, log zerolog.Logger) *MockClient {
	if store == nil {
		store = NewMockStore()
	}
	return &MockClient{store: store, now: time.Now, log: log.With().Str("component", "dian_mock").Logger()}
}

// Submit lee cbc:UUID del documento, lo registra y responde aprobado.
func (m *MockClient) Submit(ctx context.Context, signedXML []byte, issuerNIT string) (*entity.SubmissionOutcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Join(domain.ErrNetwork, err)
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(signedXML); err != nil || doc.Root() == nil {
		return nil, errors.Join(domain.ErrInvalidInput, fmt.Errorf("mock: XML ilegible: %v", err))
	}
	uuid := doc.Root().FindElement(".//cbc:UUID")
	if uuid == nil || strings.TrimSpace(uuid.Text()) == "" {
		return nil, errors.Join(domain.ErrInvalidInput, errors.New("mock: el documento no tiene cbc:UUID"))
	}
	cufe := strings.TrimSpace(uuid.Text())

	m.store.put(MockDocument{
		CUFE:      cufe,
		IssuerNIT: issuerNIT,
		XML:       append([]byte(nil), signedXML...),
		Status:    mockApprovedStatus,
		SentAt:    m.now(),
	})
	m.log.Info().Str("cufe", cufe).Msg("factura aprobada (modo prueba)")

	xmlName, _ := DIANFilenames(issuerNIT, documentID(signedXML))
	return &entity.SubmissionOutcome{
		Valid:             true,
		StatusCode:        "00",
		StatusDescription: "Procesamiento exitoso",
		StatusMessage:     "Factura aprobada por DIAN (MODO PRUEBA)",
		CUFE:              cufe,
		FileName:          xmlName,
	}, nil
}

// QueryStatus responde con el estado registrado o no encontrada.
func (m *MockClient) QueryStatus(ctx context.Context, cufe string) (*entity.StatusOutcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Join(domain.ErrNetwork, err)
	}
	d, ok := m.store.Get(cufe)
	if !ok {
		return &entity.StatusOutcome{Found: false, CUFE: cufe, StatusMessage: "Factura no encontrada en sistema mock"}, nil
	}
	return &entity.StatusOutcome{
		Found:         true,
		CUFE:          cufe,
		Status:        d.Status,
		StatusMessage: "Factura encontrada en sistema mock",
	}, nil
}

// Ping siempre conectado.
func (m *MockClient) Ping(context.Context) error { return nil }
