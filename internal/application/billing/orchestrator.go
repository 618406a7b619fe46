package billing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jhoicas/Facturacion-api/internal/domain"
	domaindian "github.com/jhoicas/Facturacion-api/internal/domain/dian"
	"github.com/jhoicas/Facturacion-api/internal/domain/entity"
	"github.com/jhoicas/Facturacion-api/internal/infrastructure/dian/signer"
	"github.com/jhoicas/Facturacion-api/internal/infrastructure/qr"
)

// Stage etapa del flujo de facturación electrónica.
type Stage string

const (
	StageConfig      Stage = "CONFIG"
	StageCertificate Stage = "CERTIFICATE"
	StageSequence    Stage = "SEQUENCE"
	StageCUFE        Stage = "CUFE"
	StageBuild       Stage = "BUILD"
	StageSign        Stage = "SIGN"
	StageSubmit      Stage = "SUBMIT"
	StageQuery       Stage = "QUERY"
	StagePersist     Stage = "PERSIST"
)

// usageWarningPercent a partir de este consumo del rango se agrega una advertencia.
const usageWarningPercent = 90

// StageError error de una etapa del flujo. Kind es uno de los errores de domain.
type StageError struct {
	Stage    Stage
	Kind     error
	RecordID string
	Err      error
}

func (e *StageError) Error() string {
	if e.RecordID != "" {
		return fmt.Sprintf("facturación [%s] registro %s: %v", e.Stage, e.RecordID, e.Err)
	}
	return fmt.Sprintf("facturación [%s]: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// RetryOptions opciones de reintento de una factura rechazada.
type RetryOptions struct {
	// NewNumber asigna un consecutivo nuevo; si es false se reutiliza el número del registro.
	NewNumber bool
}

// Dependencies puertos que usa el orquestador.
type Dependencies struct {
	Allocator SequenceAllocator
	Builder   DocumentBuilder
	Certs     CertificateLoader
	Signer    DocumentSigner
	QR        QRRenderer
	Submitter Submitter
	Store     SubmissionStore
}

// Orchestrator ejecuta el ciclo DRAFT → SEQUENCED → DOCUMENT_BUILT → SIGNED → SUBMITTING →
// APPROVED | REJECTED, persistiendo cada transición en el SubmissionStore.
// Las operaciones sobre un mismo registro se serializan.
type Orchestrator struct {
	deps  Dependencies
	now   func() time.Time
	newID func() string
	log   zerolog.Logger

	mu    sync.Mutex
	locks map[string]*recordLock
}

// recordLock mutex de un registro; refs cuenta quienes lo tienen o lo esperan.
type recordLock struct {
	mu   sync.Mutex
	refs int
}

// NewOrchestrator construye el orquestador. QR puede ser nil (sin representación gráfica).
func NewOrchestrator(deps Dependencies, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		deps:  deps,
		now:   time.Now,
		newID: uuid.NewString,
		log:   log.With().Str("component", "facturacion").Logger(),
		locks: make(map[string]*recordLock),
	}
}

// WithClock reemplaza el reloj (pruebas).
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// Process factura inv con la configuración cfg. El emisor, el prefijo y el ambiente salen de cfg.
// Retorna el registro aun cuando hay error, salvo que la configuración sea inválida.
func (o *Orchestrator) Process(ctx context.Context, cfg entity.DianConfig, inv entity.InvoiceData) (*entity.SubmissionRecord, error) {
	if err := cfg.Validate(); err != nil {
		return nil, &StageError{Stage: StageConfig, Kind: domain.ErrConfiguration, Err: err}
	}
	inv = applyConfig(cfg, inv)

	now := o.now()
	rec := &entity.SubmissionRecord{
		ID:           o.newID(),
		ResolutionID: cfg.ResolutionID,
		State:        entity.StateDraft,
		Environment:  cfg.Environment,
		Invoice:      inv,
		Prefix:       inv.Prefix,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if w := cfg.NITWarning(); w != "" {
		rec.Warnings = append(rec.Warnings, w)
		o.log.Warn().Str("record_id", rec.ID).Msg(w)
	}
	if err := o.deps.Store.Save(ctx, rec); err != nil {
		return nil, &StageError{Stage: StagePersist, Kind: domain.Kind(err), Err: err}
	}

	unlock := o.lock(rec.ID)
	defer unlock()

	o.log.Info().Str("record_id", rec.ID).Str("resolution_id", cfg.ResolutionID).Msg("iniciando facturación electrónica")
	cert, err := o.preflight(ctx, cfg, rec)
	if err != nil {
		return rec, err
	}
	return rec, o.run(ctx, cfg, cert, rec, true)
}

// Retry reprocesa un registro REJECTED o uno que quedó detenido antes del envío (DRAFT,
// SEQUENCED, DOCUMENT_BUILT o SIGNED). inv reemplaza la factura del registro; si es nil se
// reutiliza la copia guardada. Desde REJECTED, NewNumber asigna un consecutivo nuevo; un
// registro detenido conserva el consecutivo que ya tiene.
func (o *Orchestrator) Retry(ctx context.Context, recordID string, cfg entity.DianConfig, inv *entity.InvoiceData, opts RetryOptions) (*entity.SubmissionRecord, error) {
	if err := cfg.Validate(); err != nil {
		return nil, &StageError{Stage: StageConfig, Kind: domain.ErrConfiguration, RecordID: recordID, Err: err}
	}
	unlock := o.lock(recordID)
	defer unlock()

	rec, err := o.deps.Store.Get(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if rec.Frozen() {
		return rec, fmt.Errorf("%w: el registro %s ya fue aprobado", domain.ErrConflict, recordID)
	}

	var allocate bool
	switch rec.State {
	case entity.StateRejected:
		allocate = opts.NewNumber
	case entity.StateDraft:
		allocate = true
	case entity.StateSequenced, entity.StateDocumentBuilt, entity.StateSigned:
		if opts.NewNumber {
			return rec, fmt.Errorf("%w: el registro %s conserva el consecutivo %s; el reintento lo reutiliza",
				domain.ErrInvalidTransition, recordID, rec.FullNumber)
		}
	default:
		return rec, fmt.Errorf("%w: el registro %s está en %s; usar Resubmit", domain.ErrInvalidTransition, recordID, rec.State)
	}

	data := rec.Invoice
	if inv != nil {
		data = *inv
	}
	data = applyConfig(cfg, data)
	if !allocate {
		data.Prefix = rec.Prefix
		data.Number = rec.Number
	}
	rec.Invoice = data
	rec.Outcome = nil
	rec.LastError, rec.LastStage = "", ""

	o.log.Info().Str("record_id", rec.ID).Str("state", string(rec.State)).Bool("allocate", allocate).Msg("reintentando factura")
	cert, err := o.preflight(ctx, cfg, rec)
	if err != nil {
		return rec, err
	}
	return rec, o.run(ctx, cfg, cert, rec, allocate)
}

// Resubmit reenvía sin cambios el documento firmado de un registro que quedó en SUBMITTING
// por una falla de red o una respuesta no interpretable.
func (o *Orchestrator) Resubmit(ctx context.Context, recordID string) (*entity.SubmissionRecord, error) {
	unlock := o.lock(recordID)
	defer unlock()

	rec, err := o.deps.Store.Get(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if rec.Frozen() {
		return rec, fmt.Errorf("%w: el registro %s ya fue aprobado", domain.ErrConflict, recordID)
	}
	if rec.State != entity.StateSubmitting || len(rec.SignedXML) == 0 {
		return rec, fmt.Errorf("%w: solo se reenvía desde %s (estado actual %s)", domain.ErrInvalidTransition, entity.StateSubmitting, rec.State)
	}
	o.log.Info().Str("record_id", rec.ID).Str("cufe", rec.CUFE).Msg("reenviando documento firmado")
	return rec, o.send(ctx, rec)
}

// QueryStatus consulta a la DIAN el estado del documento del registro.
func (o *Orchestrator) QueryStatus(ctx context.Context, recordID string) (*entity.StatusOutcome, error) {
	rec, err := o.deps.Store.Get(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if rec.CUFE == "" {
		return nil, fmt.Errorf("%w: el registro %s aún no tiene CUFE", domain.ErrInvalidTransition, recordID)
	}
	out, err := o.deps.Submitter.QueryStatus(ctx, rec.CUFE)
	if err != nil {
		return nil, &StageError{Stage: StageQuery, Kind: domain.Kind(err), RecordID: recordID, Err: err}
	}
	return out, nil
}

// Get devuelve el registro de envío.
func (o *Orchestrator) Get(ctx context.Context, recordID string) (*entity.SubmissionRecord, error) {
	return o.deps.Store.Get(ctx, recordID)
}

// preflight valida lo que no depende del consecutivo: vigencia de la resolución, partes de la
// factura y certificado. Un error aquí no consume numeración.
func (o *Orchestrator) preflight(ctx context.Context, cfg entity.DianConfig, rec *entity.SubmissionRecord) (*signer.Certificate, error) {
	now := o.now()
	if !cfg.Resolution.CoversDate(now) {
		err := fmt.Errorf("%w: la resolución %s no está vigente (%s a %s)", domain.ErrConfiguration,
			cfg.Resolution.ResolutionNumber, cfg.Resolution.DateFrom.Format(time.DateOnly), cfg.Resolution.DateTo.Format(time.DateOnly))
		return nil, o.fail(ctx, rec, StageConfig, err)
	}
	if errs := domaindian.ValidateParties(rec.Invoice.Issuer, rec.Invoice.Receiver); len(errs) > 0 {
		return nil, o.fail(ctx, rec, StageBuild, errors.Join(append([]error{domain.ErrBuild}, errs...)...))
	}

	cert, err := o.deps.Certs.Load(cfg.CertPath, cfg.CertPassword, cfg.CertKeyPath)
	if err != nil {
		if !errors.Is(err, domain.ErrCertificate) {
			err = errors.Join(domain.ErrCertificate, err)
		}
		return nil, o.fail(ctx, rec, StageCertificate, err)
	}
	ok, msg := signer.ValidateCertificate(cert, now)
	if !ok {
		return nil, o.fail(ctx, rec, StageCertificate, fmt.Errorf("%w: %s", domain.ErrCertificate, msg))
	}
	if msg != "" {
		o.warn(rec, msg)
	}
	return cert, nil
}

// run ejecuta las etapas desde SEQUENCED (allocate) o desde DOCUMENT_BUILT (mismo número).
func (o *Orchestrator) run(ctx context.Context, cfg entity.DianConfig, cert *signer.Certificate, rec *entity.SubmissionRecord, allocate bool) error {
	inv := &rec.Invoice

	if allocate {
		n, err := o.deps.Allocator.Allocate(ctx, cfg.ResolutionID)
		if err != nil {
			return o.fail(ctx, rec, StageSequence, err)
		}
		switch {
		case n > cfg.Resolution.RangeTo:
			return o.fail(ctx, rec, StageSequence, fmt.Errorf("%w: consecutivo %d fuera del rango %d-%d", domain.ErrRangeExhausted, n, cfg.Resolution.RangeFrom, cfg.Resolution.RangeTo))
		case n < cfg.Resolution.RangeFrom:
			return o.fail(ctx, rec, StageSequence, fmt.Errorf("%w: consecutivo %d menor al inicio del rango %d", domain.ErrConfiguration, n, cfg.Resolution.RangeFrom))
		}
		inv.Number = n
		rec.Number = n
		rec.Prefix = inv.Prefix
		rec.FullNumber = inv.FullNumber()
		o.checkUsage(ctx, cfg.ResolutionID, rec)
		if err := o.transition(ctx, rec, entity.StateSequenced, "consecutivo "+rec.FullNumber); err != nil {
			return err
		}
	}

	cufe, err := domaindian.Generate(domaindian.CufeParams{
		NumFac:            inv.FullNumber(),
		IssuedAt:          inv.IssuedAt,
		TaxableBase:       inv.Totals.TaxableBase,
		TaxTotal:          inv.Totals.TaxTotal,
		GrandTotal:        inv.Totals.GrandTotal,
		IssuerNIT:         inv.Issuer.NIT,
		ReceiverDocType:   inv.Receiver.DocumentType,
		ReceiverDocNumber: inv.Receiver.DocumentNumber,
		TechnicalKey:      cfg.Resolution.TechnicalKey,
		Environment:       cfg.Environment,
	})
	if err != nil {
		return o.fail(ctx, rec, StageCUFE, err)
	}
	built, err := o.deps.Builder.Build(inv, &cfg.Resolution, cufe)
	if err != nil {
		return o.fail(ctx, rec, StageBuild, err)
	}
	rec.CUFE = cufe
	rec.UnsignedXML = built.XML
	rec.SignedXML = nil
	rec.QRBase64 = ""
	for _, w := range built.Warnings {
		o.warn(rec, w)
	}
	if err := o.transition(ctx, rec, entity.StateDocumentBuilt, "CUFE "+cufe); err != nil {
		return err
	}

	signed, err := o.deps.Signer.Sign(built.XML, cufe, cert)
	if err != nil {
		return o.fail(ctx, rec, StageSign, err)
	}
	rec.SignedXML = signed
	o.renderQR(cfg, rec)
	if err := o.transition(ctx, rec, entity.StateSigned, ""); err != nil {
		return err
	}

	return o.send(ctx, rec)
}

// send pasa a SUBMITTING y envía el documento firmado. Si falla la red el registro queda
// en SUBMITTING para Resubmit.
func (o *Orchestrator) send(ctx context.Context, rec *entity.SubmissionRecord) error {
	if rec.State != entity.StateSubmitting {
		if err := o.transition(ctx, rec, entity.StateSubmitting, ""); err != nil {
			return err
		}
	}
	sentAt := o.now()
	rec.SentAt = &sentAt
	rec.RequestPayload = rec.SignedXML

	out, err := o.deps.Submitter.Submit(ctx, rec.SignedXML, rec.Invoice.Issuer.NIT)
	if err != nil {
		return o.fail(ctx, rec, StageSubmit, err)
	}
	rec.Outcome = out
	rec.ResponsePayload = out.Raw
	rec.LastError, rec.LastStage = "", ""

	if out.Valid {
		at := o.now()
		rec.ApprovedAt = &at
		o.log.Info().Str("record_id", rec.ID).Str("cufe", rec.CUFE).Str("status_code", out.StatusCode).Msg("factura aprobada por la DIAN")
		return o.transition(ctx, rec, entity.StateApproved, out.StatusDescription)
	}

	at := o.now()
	rec.RejectedAt = &at
	rejection := &domain.RejectionError{
		Code:        out.StatusCode,
		Description: out.StatusDescription,
		Message:     out.StatusMessage,
		Errors:      out.Errors,
	}
	if err := o.transition(ctx, rec, entity.StateRejected, out.StatusDescription); err != nil {
		return err
	}
	return o.fail(ctx, rec, StageSubmit, rejection)
}

func (o *Orchestrator) renderQR(cfg entity.DianConfig, rec *entity.SubmissionRecord) {
	if o.deps.QR == nil {
		return
	}
	inv := rec.Invoice
	img, err := o.deps.QR.Render(qr.QRData{
		NumFac:        rec.FullNumber,
		IssuedAt:      inv.IssuedAt,
		IssuerNIT:     inv.Issuer.NIT,
		ReceiverDoc:   inv.Receiver.DocumentNumber,
		Subtotal:      inv.Totals.TaxableBase,
		TaxIVA:        inv.Totals.TaxTotal,
		Total:         inv.Totals.GrandTotal,
		CUFE:          rec.CUFE,
		ValidationURL: cfg.QRURL,
	})
	if err != nil && cfg.QRURL != "" {
		// sin los campos de la factura queda al menos el enlace de consulta
		o.warn(rec, "QR completo no disponible, se usa el enlace de consulta: "+err.Error())
		img, err = o.deps.QR.RenderLink(cfg.QRURL, rec.CUFE)
	}
	if err != nil {
		o.warn(rec, "no se pudo generar el QR: "+err.Error())
		return
	}
	rec.QRBase64 = img.Base64
}

func (o *Orchestrator) checkUsage(ctx context.Context, resolutionID string, rec *entity.SubmissionRecord) {
	res, err := o.deps.Allocator.Resolution(ctx, resolutionID)
	if err != nil || res == nil {
		return
	}
	if res.UsagePercent().IntPart() >= usageWarningPercent {
		o.warn(rec, fmt.Sprintf("la resolución %s lleva %s%% de su rango (%d números disponibles)",
			res.ResolutionNumber, res.UsagePercent().StringFixed(2), res.Available()))
	}
}

func (o *Orchestrator) transition(ctx context.Context, rec *entity.SubmissionRecord, to entity.SubmissionState, detail string) error {
	if !entity.CanTransition(rec.State, to) {
		err := fmt.Errorf("%w: %s → %s", domain.ErrInvalidTransition, rec.State, to)
		return &StageError{Stage: StagePersist, Kind: domain.ErrInvalidTransition, RecordID: rec.ID, Err: err}
	}
	now := o.now()
	rec.History = append(rec.History, entity.StateChange{From: rec.State, To: to, At: now, Detail: detail})
	rec.State = to
	rec.UpdatedAt = now
	if err := o.deps.Store.Save(ctx, rec); err != nil {
		o.log.Error().Err(err).Str("record_id", rec.ID).Str("state", string(to)).Msg("no se pudo persistir la transición")
		return &StageError{Stage: StagePersist, Kind: domain.Kind(err), RecordID: rec.ID, Err: err}
	}
	o.log.Debug().Str("record_id", rec.ID).Str("state", string(to)).Msg("transición")
	return nil
}

// fail registra el error en el registro sin cambiar su estado.
func (o *Orchestrator) fail(ctx context.Context, rec *entity.SubmissionRecord, stage Stage, err error) error {
	se := &StageError{Stage: stage, Kind: domain.Kind(err), RecordID: rec.ID, Err: err}
	rec.LastStage = string(stage)
	rec.LastError = err.Error()
	rec.UpdatedAt = o.now()
	if saveErr := o.deps.Store.Save(ctx, rec); saveErr != nil {
		o.log.Error().Err(saveErr).Str("record_id", rec.ID).Msg("no se pudo persistir el error de etapa")
	}
	ev := o.log.Error()
	if errors.Is(err, domain.ErrRejection) {
		ev = o.log.Warn()
	}
	ev.Err(err).Str("record_id", rec.ID).Str("stage", string(stage)).Str("state", string(rec.State)).Msg("etapa fallida")
	return se
}

func (o *Orchestrator) warn(rec *entity.SubmissionRecord, msg string) {
	rec.Warnings = append(rec.Warnings, msg)
	o.log.Warn().Str("record_id", rec.ID).Msg(msg)
}

// lock serializa las operaciones sobre id. La entrada se elimina cuando nadie la usa.
func (o *Orchestrator) lock(id string) func() {
	o.mu.Lock()
	l, ok := o.locks[id]
	if !ok {
		l = &recordLock{}
		o.locks[id] = l
	}
	l.refs++
	o.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		o.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(o.locks, id)
		}
		o.mu.Unlock()
	}
}

// applyConfig fija en la factura los datos que vienen de la configuración DIAN.
func applyConfig(cfg entity.DianConfig, inv entity.InvoiceData) entity.InvoiceData {
	inv.Issuer = cfg.Issuer
	inv.Prefix = cfg.Resolution.Prefix
	inv.Environment = cfg.Environment
	inv.Lines = append([]entity.InvoiceLine(nil), inv.Lines...)
	return inv
}
