package billing_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"math/big"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/Facturacion-api/internal/application/billing"
	"github.com/jhoicas/Facturacion-api/internal/domain"
	domaindian "github.com/jhoicas/Facturacion-api/internal/domain/dian"
	"github.com/jhoicas/Facturacion-api/internal/domain/entity"
	"github.com/jhoicas/Facturacion-api/internal/infrastructure/dian"
	"github.com/jhoicas/Facturacion-api/internal/infrastructure/dian/signer"
	"github.com/jhoicas/Facturacion-api/internal/infrastructure/memory"
	"github.com/jhoicas/Facturacion-api/internal/infrastructure/qr"
	"github.com/jhoicas/Facturacion-api/pkg/logger"
)

const expectedCUFE = "79b4358365f5446711a1dad9138917a664ae26383f8fa9b15bb63c1f3934336997ee848ec088e0ba0935c2200fb6b2aa"

var issuedAt = time.Date(2024, 3, 15, 10, 30, 0, 0, domaindian.ColombiaZone())

func clock() time.Time { return issuedAt }

// ── dobles de prueba ──────────────────────────────────────────────────────────

type staticLoader struct {
	cert *signer.Certificate
	err  error
}

func (l staticLoader) Load(string, string, string) (*signer.Certificate, error) { return l.cert, l.err }

type step struct {
	out *entity.SubmissionOutcome
	err error
}

// scriptedSubmitter responde en orden los pasos dados; sin pasos pendientes aprueba.
type scriptedSubmitter struct {
	mu    sync.Mutex
	steps []step
	sent  [][]byte
}

func (s *scriptedSubmitter) Submit(_ context.Context, signedXML []byte, _ string) (*entity.SubmissionOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, signedXML)
	if len(s.steps) == 0 {
		return &entity.SubmissionOutcome{Valid: true, StatusCode: "00", StatusDescription: "Procesado Correctamente."}, nil
	}
	st := s.steps[0]
	s.steps = s.steps[1:]
	return st.out, st.err
}

func (s *scriptedSubmitter) QueryStatus(_ context.Context, cufe string) (*entity.StatusOutcome, error) {
	return &entity.StatusOutcome{Found: true, CUFE: cufe, Status: "Aprobada"}, nil
}

type failingQR struct{}

func (failingQR) Render(qr.QRData) (*qr.Image, error)           { return nil, qr.ErrQR }
func (failingQR) RenderLink(string, string) (*qr.Image, error) { return nil, qr.ErrQR }

// linkOnlyQR no puede codificar el payload completo pero sí el enlace.
type linkOnlyQR struct{ *qr.Renderer }

func (linkOnlyQR) Render(qr.QRData) (*qr.Image, error) { return nil, qr.ErrQR }

// ── fixtures ──────────────────────────────────────────────────────────────────

func certificate(t *testing.T, notBefore, notAfter time.Time) *signer.Certificate {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(7),
		Subject:      pkix.Name{CommonName: "Óptica Central SAS"},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	leaf, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return signer.NewCertificate(key, leaf)
}

func validCert(t *testing.T) *signer.Certificate {
	return certificate(t, issuedAt.AddDate(-1, 0, 0), issuedAt.AddDate(1, 0, 0))
}

func dianConfig() entity.DianConfig {
	return entity.DianConfig{
		Environment: entity.EnvironmentTest,
		Issuer: entity.Issuer{
			DocumentType: "NIT", NIT: "900123456", DV: "8", LegalName: "Óptica Central SAS",
			FiscalResponsibilities: []string{"O-13"},
		},
		ResolutionID: "r1",
		Resolution: entity.ResolutionInfo{
			ResolutionNumber: "18760000001",
			Prefix:           "FE",
			RangeFrom:        1,
			RangeTo:          10000,
			DateFrom:         time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			DateTo:           time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC),
			TechnicalKey:     "ClaveTest123",
		},
		CertPath: "certificado.p12",
		QRURL:    "https://catalogo-vpfe-hab.dian.gov.co",
	}
}

func invoice() entity.InvoiceData {
	lines, totals := entity.ComputeTotals([]entity.InvoiceLine{{
		Description: "Montura",
		Quantity:    decimal.NewFromInt(1),
		UnitPrice:   decimal.NewFromInt(100000),
		TaxRate:     decimal.NewFromInt(19),
	}})
	return entity.InvoiceData{
		IssuedAt: issuedAt,
		Receiver: entity.Receiver{DocumentType: "CC", DocumentNumber: "1020304050", Name: "Ana Pérez"},
		Lines:    lines,
		Totals:   totals,
	}
}

type harness struct {
	orch      *billing.Orchestrator
	allocator *memory.SequenceAllocator
	store     *memory.SubmissionStore
	mock      *dian.MockStore
	cfg       entity.DianConfig
}

type option func(*billing.Dependencies)

func newHarness(t *testing.T, cursor int64, opts ...option) *harness {
	t.Helper()
	cfg := dianConfig()
	h := &harness{
		allocator: memory.NewSequenceAllocator(entity.SequenceResolution{
			ID: "r1", ResolutionInfo: cfg.Resolution, Cursor: cursor, IsActive: true,
		}),
		store: memory.NewSubmissionStore(),
		mock:  dian.NewMockStore(),
		cfg:   cfg,
	}
	deps := billing.Dependencies{
		Allocator: h.allocator,
		Builder:   dian.NewXMLBuilderService(dian.DefaultNamespaces(), logger.Nop().Zerolog()),
		Certs:     staticLoader{cert: validCert(t)},
		Signer:    signer.NewDigitalSignatureService(clock),
		QR:        qr.NewRenderer(0),
		Submitter: dian.NewMockClient(h.mock, logger.Nop().Zerolog()),
		Store:     h.store,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	h.orch = billing.NewOrchestrator(deps, logger.Nop().Zerolog()).WithClock(clock)
	return h
}

func withSubmitter(s billing.Submitter) option {
	return func(d *billing.Dependencies) { d.Submitter = s }
}

func states(rec *entity.SubmissionRecord) []entity.SubmissionState {
	out := []entity.SubmissionState{}
	for _, h := range rec.History {
		out = append(out, h.To)
	}
	return out
}

func stageOf(t *testing.T, err error) *billing.StageError {
	t.Helper()
	var se *billing.StageError
	require.True(t, errors.As(err, &se), "se esperaba StageError, llegó %v", err)
	return se
}

// ── Flujo completo ────────────────────────────────────────────────────────────

func TestProcess_FlujoCompletoConMock(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	rec, err := h.orch.Process(ctx, h.cfg, invoice())
	require.NoError(t, err)

	assert.Equal(t, entity.StateApproved, rec.State)
	assert.Equal(t, []entity.SubmissionState{
		entity.StateSequenced, entity.StateDocumentBuilt, entity.StateSigned,
		entity.StateSubmitting, entity.StateApproved,
	}, states(rec))
	assert.Equal(t, int64(1), rec.Number)
	assert.Equal(t, "FE1", rec.FullNumber)
	assert.Equal(t, expectedCUFE, rec.CUFE)
	assert.NotEmpty(t, rec.QRBase64)
	assert.NotNil(t, rec.ApprovedAt)
	assert.Equal(t, "00", rec.Outcome.StatusCode)
	assert.Empty(t, rec.LastError)

	leaf, err := signer.NewDigitalSignatureService(clock).Verify(rec.SignedXML)
	require.NoError(t, err)
	assert.Equal(t, "Óptica Central SAS", leaf.Subject.CommonName)

	doc, ok := h.mock.Get(expectedCUFE)
	require.True(t, ok)
	assert.Equal(t, rec.SignedXML, doc.XML)

	stored, err := h.store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StateApproved, stored.State)
	assert.Len(t, stored.History, 5)

	st, err := h.orch.QueryStatus(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, st.Found)
	assert.Equal(t, "Aprobada", st.Status)
}

func TestProcess_ConcurrenteNumerosUnicos(t *testing.T) {
	h := newHarness(t, 0)
	const n = 12

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		numbers []int64
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := h.orch.Process(context.Background(), h.cfg, invoice())
			if assert.NoError(t, err) {
				mu.Lock()
				numbers = append(numbers, rec.Number)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })
	require.Len(t, numbers, n)
	for i, num := range numbers {
		assert.Equal(t, int64(i+1), num)
	}
	assert.Equal(t, n, h.mock.Len())
}

// ── Errores por etapa ─────────────────────────────────────────────────────────

func TestProcess_ConfiguracionIncompleta(t *testing.T) {
	h := newHarness(t, 0)
	cfg := h.cfg
	cfg.CertPath = ""

	rec, err := h.orch.Process(context.Background(), cfg, invoice())
	assert.Nil(t, rec)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
	assert.Equal(t, billing.StageConfig, stageOf(t, err).Stage)
}

func TestProcess_RangoAgotado(t *testing.T) {
	h := newHarness(t, 10000)

	rec, err := h.orch.Process(context.Background(), h.cfg, invoice())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRangeExhausted)

	se := stageOf(t, err)
	assert.Equal(t, billing.StageSequence, se.Stage)
	assert.Equal(t, domain.ErrRangeExhausted, se.Kind)
	assert.Equal(t, entity.StateDraft, rec.State)
	assert.Equal(t, string(billing.StageSequence), rec.LastStage)
	assert.Zero(t, rec.Number)
}

func TestProcess_CertificadoVencidoNoConsumeNumero(t *testing.T) {
	expired := certificate(t, issuedAt.AddDate(-2, 0, 0), issuedAt.AddDate(0, 0, -1))
	h := newHarness(t, 0, func(d *billing.Dependencies) { d.Certs = staticLoader{cert: expired} })

	rec, err := h.orch.Process(context.Background(), h.cfg, invoice())
	assert.ErrorIs(t, err, domain.ErrCertificate)
	assert.Equal(t, billing.StageCertificate, stageOf(t, err).Stage)
	assert.Equal(t, entity.StateDraft, rec.State)

	res, err := h.allocator.Resolution(context.Background(), "r1")
	require.NoError(t, err)
	assert.Zero(t, res.Cursor)
}

func TestProcess_CertificadoIlegible(t *testing.T) {
	h := newHarness(t, 0, func(d *billing.Dependencies) {
		d.Certs = staticLoader{err: errors.New("contraseña incorrecta")}
	})
	_, err := h.orch.Process(context.Background(), h.cfg, invoice())
	assert.ErrorIs(t, err, domain.ErrCertificate)
}

func TestProcess_CertificadoPorVencerEsAdvertencia(t *testing.T) {
	soon := certificate(t, issuedAt.AddDate(-1, 0, 0), issuedAt.AddDate(0, 0, 10))
	h := newHarness(t, 0, func(d *billing.Dependencies) { d.Certs = staticLoader{cert: soon} })

	rec, err := h.orch.Process(context.Background(), h.cfg, invoice())
	require.NoError(t, err)
	assert.Equal(t, entity.StateApproved, rec.State)
	assert.Contains(t, rec.Warnings, "certificado válido pero expira en 10 días")
}

func TestProcess_ResolucionNoVigente(t *testing.T) {
	h := newHarness(t, 0)
	cfg := h.cfg
	cfg.Resolution.DateTo = time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)

	_, err := h.orch.Process(context.Background(), cfg, invoice())
	assert.ErrorIs(t, err, domain.ErrConfiguration)
	assert.Equal(t, billing.StageConfig, stageOf(t, err).Stage)
}

func TestProcess_ReceptorIncompleto(t *testing.T) {
	h := newHarness(t, 0)
	inv := invoice()
	inv.Receiver.DocumentNumber = ""

	rec, err := h.orch.Process(context.Background(), h.cfg, inv)
	assert.ErrorIs(t, err, domain.ErrBuild)
	assert.Equal(t, entity.StateDraft, rec.State)
}

func TestProcess_QRFallaEsAdvertencia(t *testing.T) {
	h := newHarness(t, 0, func(d *billing.Dependencies) { d.QR = failingQR{} })

	rec, err := h.orch.Process(context.Background(), h.cfg, invoice())
	require.NoError(t, err)
	assert.Equal(t, entity.StateApproved, rec.State)
	assert.Empty(t, rec.QRBase64)
	require.NotEmpty(t, rec.Warnings)
	assert.Contains(t, rec.Warnings[len(rec.Warnings)-1], "QR")
}

// ── Rechazo y reintentos ──────────────────────────────────────────────────────

func rejection() step {
	return step{out: &entity.SubmissionOutcome{
		Valid:             false,
		StatusCode:        "99",
		StatusDescription: "Validación contiene errores en campos mandatorios.",
		Errors:            []string{"Regla: FAJ43b, Rechazo: Nombre del emisor no coincide."},
	}}
}

func TestProcess_QRUsaEnlaceSiFallaElCompleto(t *testing.T) {
	h := newHarness(t, 0, func(d *billing.Dependencies) { d.QR = linkOnlyQR{qr.NewRenderer(0)} })

	rec, err := h.orch.Process(context.Background(), h.cfg, invoice())
	require.NoError(t, err)
	assert.NotEmpty(t, rec.QRBase64)
	require.NotEmpty(t, rec.Warnings)
	assert.Contains(t, rec.Warnings[len(rec.Warnings)-1], "enlace de consulta")
}

func TestProcess_RechazoConservaRespuesta(t *testing.T) {
	sub := &scriptedSubmitter{steps: []step{rejection()}}
	h := newHarness(t, 0, withSubmitter(sub))

	rec, err := h.orch.Process(context.Background(), h.cfg, invoice())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRejection)

	var rej *domain.RejectionError
	require.True(t, errors.As(err, &rej))
	assert.Equal(t, "99", rej.Code)
	assert.Equal(t, []string{"Regla: FAJ43b, Rechazo: Nombre del emisor no coincide."}, rej.Errors)

	assert.Equal(t, entity.StateRejected, rec.State)
	assert.NotNil(t, rec.RejectedAt)
	assert.Equal(t, "99", rec.Outcome.StatusCode)
}

func TestRetry_MismoNumero(t *testing.T) {
	sub := &scriptedSubmitter{steps: []step{rejection()}}
	h := newHarness(t, 0, withSubmitter(sub))
	ctx := context.Background()

	rec, err := h.orch.Process(ctx, h.cfg, invoice())
	require.Error(t, err)

	fixed := invoice()
	fixed.Notes = "Corrección de datos"
	again, err := h.orch.Retry(ctx, rec.ID, h.cfg, &fixed, billing.RetryOptions{})
	require.NoError(t, err)

	assert.Equal(t, entity.StateApproved, again.State)
	assert.Equal(t, int64(1), again.Number)
	assert.Equal(t, expectedCUFE, again.CUFE)
	assert.Equal(t, "Corrección de datos", again.Invoice.Notes)
	assert.Equal(t, []entity.SubmissionState{
		entity.StateSequenced, entity.StateDocumentBuilt, entity.StateSigned, entity.StateSubmitting, entity.StateRejected,
		entity.StateDocumentBuilt, entity.StateSigned, entity.StateSubmitting, entity.StateApproved,
	}, states(again))
}

func TestRetry_NumeroNuevo(t *testing.T) {
	sub := &scriptedSubmitter{steps: []step{rejection()}}
	h := newHarness(t, 0, withSubmitter(sub))
	ctx := context.Background()

	rec, err := h.orch.Process(ctx, h.cfg, invoice())
	require.Error(t, err)

	again, err := h.orch.Retry(ctx, rec.ID, h.cfg, nil, billing.RetryOptions{NewNumber: true})
	require.NoError(t, err)
	assert.Equal(t, int64(2), again.Number)
	assert.Equal(t, "FE2", again.FullNumber)
	assert.NotEqual(t, expectedCUFE, again.CUFE)
	assert.Equal(t, entity.StateSequenced, again.History[5].To)
}

func TestRetry_EnvioPendienteRequiereResubmit(t *testing.T) {
	sub := &scriptedSubmitter{steps: []step{{err: domain.ErrNetwork}}}
	h := newHarness(t, 0, withSubmitter(sub))
	ctx := context.Background()

	rec, err := h.orch.Process(ctx, h.cfg, invoice())
	require.Error(t, err)

	_, err = h.orch.Retry(ctx, rec.ID, h.cfg, nil, billing.RetryOptions{})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestRetry_FallaDeConstruccionConservaNumero(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	broken := invoice()
	broken.Totals.GrandTotal = decimal.NewFromInt(1)
	rec, err := h.orch.Process(ctx, h.cfg, broken)
	require.Error(t, err)
	assert.Equal(t, billing.StageBuild, stageOf(t, err).Stage)
	assert.Equal(t, entity.StateSequenced, rec.State)
	assert.Equal(t, int64(1), rec.Number)

	_, err = h.orch.Retry(ctx, rec.ID, h.cfg, nil, billing.RetryOptions{NewNumber: true})
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	fixed := invoice()
	again, err := h.orch.Retry(ctx, rec.ID, h.cfg, &fixed, billing.RetryOptions{})
	require.NoError(t, err)
	assert.Equal(t, entity.StateApproved, again.State)
	assert.Equal(t, int64(1), again.Number)
	assert.Equal(t, expectedCUFE, again.CUFE)

	next, err := h.orch.Process(ctx, h.cfg, invoice())
	require.NoError(t, err)
	assert.Equal(t, int64(2), next.Number)
}

// flakySigner falla la primera firma y delega las siguientes.
type flakySigner struct {
	next   billing.DocumentSigner
	failed bool
}

func (s *flakySigner) Sign(xml []byte, cufe string, cert *signer.Certificate) ([]byte, error) {
	if !s.failed {
		s.failed = true
		return nil, errors.Join(domain.ErrSigning, errors.New("HSM no disponible"))
	}
	return s.next.Sign(xml, cufe, cert)
}

func TestRetry_FallaDeFirmaConservaNumero(t *testing.T) {
	fs := &flakySigner{next: signer.NewDigitalSignatureService(clock)}
	h := newHarness(t, 0, func(d *billing.Dependencies) { d.Signer = fs })
	ctx := context.Background()

	rec, err := h.orch.Process(ctx, h.cfg, invoice())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSigning)
	assert.Equal(t, entity.StateDocumentBuilt, rec.State)

	again, err := h.orch.Retry(ctx, rec.ID, h.cfg, nil, billing.RetryOptions{})
	require.NoError(t, err)
	assert.Equal(t, entity.StateApproved, again.State)
	assert.Equal(t, int64(1), again.Number)
	assert.Equal(t, []entity.SubmissionState{
		entity.StateSequenced, entity.StateDocumentBuilt,
		entity.StateDocumentBuilt, entity.StateSigned, entity.StateSubmitting, entity.StateApproved,
	}, states(again))
}

func TestRetry_DesdeBorradorAsignaNumero(t *testing.T) {
	loader := &staticLoader{err: errors.New("archivo no encontrado")}
	h := newHarness(t, 0, func(d *billing.Dependencies) { d.Certs = loader })
	ctx := context.Background()

	rec, err := h.orch.Process(ctx, h.cfg, invoice())
	require.Error(t, err)
	assert.Equal(t, entity.StateDraft, rec.State)
	assert.Zero(t, rec.Number)

	loader.cert, loader.err = validCert(t), nil
	again, err := h.orch.Retry(ctx, rec.ID, h.cfg, nil, billing.RetryOptions{})
	require.NoError(t, err)
	assert.Equal(t, entity.StateApproved, again.State)
	assert.Equal(t, int64(1), again.Number)
}

func TestResubmit_TrasFallaDeRed(t *testing.T) {
	sub := &scriptedSubmitter{steps: []step{{err: errors.Join(domain.ErrNetwork, context.DeadlineExceeded)}}}
	h := newHarness(t, 0, withSubmitter(sub))
	ctx := context.Background()

	rec, err := h.orch.Process(ctx, h.cfg, invoice())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNetwork)
	assert.Equal(t, billing.StageSubmit, stageOf(t, err).Stage)
	assert.Equal(t, entity.StateSubmitting, rec.State)
	assert.NotEmpty(t, rec.LastError)

	again, err := h.orch.Resubmit(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.StateApproved, again.State)
	assert.Empty(t, again.LastError)

	require.Len(t, sub.sent, 2)
	assert.Equal(t, sub.sent[0], sub.sent[1])
	assert.Equal(t, int64(1), again.Number)
}

func TestAprobadaCongelada(t *testing.T) {
	h := newHarness(t, 0)
	ctx := context.Background()

	rec, err := h.orch.Process(ctx, h.cfg, invoice())
	require.NoError(t, err)

	_, err = h.orch.Retry(ctx, rec.ID, h.cfg, nil, billing.RetryOptions{NewNumber: true})
	assert.ErrorIs(t, err, domain.ErrConflict)

	_, err = h.orch.Resubmit(ctx, rec.ID)
	assert.ErrorIs(t, err, domain.ErrConflict)

	stored, err := h.store.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.SignedXML, stored.SignedXML)
	assert.Equal(t, rec.CUFE, stored.CUFE)
}

func TestRegistroInexistente(t *testing.T) {
	h := newHarness(t, 0)
	_, err := h.orch.Resubmit(context.Background(), "no-existe")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = h.orch.QueryStatus(context.Background(), "no-existe")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
