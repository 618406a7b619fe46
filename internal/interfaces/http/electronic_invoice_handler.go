package http

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/Facturacion-api/internal/application/billing"
	"github.com/jhoicas/Facturacion-api/internal/application/dto"
	"github.com/jhoicas/Facturacion-api/internal/domain"
	"github.com/jhoicas/Facturacion-api/internal/domain/entity"
)

// InvoiceService ciclo de facturación electrónica que expone el handler.
type InvoiceService interface {
	Process(ctx context.Context, cfg entity.DianConfig, inv entity.InvoiceData) (*entity.SubmissionRecord, error)
	Retry(ctx context.Context, recordID string, cfg entity.DianConfig, inv *entity.InvoiceData, opts billing.RetryOptions) (*entity.SubmissionRecord, error)
	Resubmit(ctx context.Context, recordID string) (*entity.SubmissionRecord, error)
	QueryStatus(ctx context.Context, recordID string) (*entity.StatusOutcome, error)
	Get(ctx context.Context, recordID string) (*entity.SubmissionRecord, error)
}

// DocumentService descargas del PDF y del XML firmado.
type DocumentService interface {
	DownloadInvoicePDF(ctx context.Context, recordID string) ([]byte, string, error)
	DownloadSignedXML(ctx context.Context, recordID string) ([]byte, string, error)
}

// ElectronicInvoiceHandler maneja /api/invoices/electronic (protegido).
type ElectronicInvoiceHandler struct {
	svc  InvoiceService
	docs DocumentService
	cfg  func() entity.DianConfig
	now  func() time.Time
}

// NewElectronicInvoiceHandler construye el handler. cfg se evalúa en cada petición.
func NewElectronicInvoiceHandler(svc InvoiceService, docs DocumentService, cfg func() entity.DianConfig) *ElectronicInvoiceHandler {
	return &ElectronicInvoiceHandler{svc: svc, docs: docs, cfg: cfg, now: time.Now}
}

// Create godoc
// @Summary      Emitir factura electrónica
// @Description  Asigna consecutivo, calcula el CUFE, firma y envía a la DIAN.
// @Tags         facturacion-electronica
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        body  body  dto.ElectronicInvoiceRequest  true  "adquiriente y líneas"
// @Success      201   {object}  dto.ProcessResponse
// @Failure      400   {object}  dto.ErrorResponse
// @Failure      422   {object}  dto.ProcessResponse
// @Failure      502   {object}  dto.ProcessResponse
// @Router       /api/invoices/electronic [post]
func (h *ElectronicInvoiceHandler) Create(c *fiber.Ctx) error {
	var in dto.ElectronicInvoiceRequest
	if err := c.BodyParser(&in); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "cuerpo inválido"})
	}
	if err := in.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: err.Error()})
	}
	rec, err := h.svc.Process(c.Context(), h.cfg(), in.ToInvoiceData(h.now()))
	return h.processResult(c, fiber.StatusCreated, rec, err)
}

// GetByID godoc
// @Summary      Consultar registro de envío
// @Tags         facturacion-electronica
// @Produce      json
// @Security     BearerAuth
// @Param        id   path  string  true  "ID del registro"
// @Success      200  {object}  dto.SubmissionResponse
// @Failure      404  {object}  dto.ErrorResponse
// @Router       /api/invoices/electronic/{id} [get]
func (h *ElectronicInvoiceHandler) GetByID(c *fiber.Ctx) error {
	rec, err := h.svc.Get(c.Context(), c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(dto.NewSubmissionResponse(rec))
}

// Retry godoc
// @Summary      Reintentar factura rechazada
// @Description  Con new_number=false conserva el consecutivo; con true asigna uno nuevo.
// @Tags         facturacion-electronica
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        id    path  string            true   "ID del registro"
// @Param        body  body  dto.RetryRequest  false  "opciones de reintento"
// @Success      200   {object}  dto.ProcessResponse
// @Failure      409   {object}  dto.ProcessResponse
// @Router       /api/invoices/electronic/{id}/retry [post]
func (h *ElectronicInvoiceHandler) Retry(c *fiber.Ctx) error {
	var in dto.RetryRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&in); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "INVALID_BODY", Message: "cuerpo inválido"})
		}
	}
	var inv *entity.InvoiceData
	if in.Invoice != nil {
		if err := in.Invoice.Validate(); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: err.Error()})
		}
		data := in.Invoice.ToInvoiceData(h.now())
		inv = &data
	}
	rec, err := h.svc.Retry(c.Context(), c.Params("id"), h.cfg(), inv, billing.RetryOptions{NewNumber: in.NewNumber})
	return h.processResult(c, fiber.StatusOK, rec, err)
}

// Resubmit reenvía el documento firmado de un registro que quedó en SUBMITTING.
// POST /api/invoices/electronic/:id/resubmit
func (h *ElectronicInvoiceHandler) Resubmit(c *fiber.Ctx) error {
	rec, err := h.svc.Resubmit(c.Context(), c.Params("id"))
	return h.processResult(c, fiber.StatusOK, rec, err)
}

// Status consulta el estado del documento en la DIAN.
// GET /api/invoices/electronic/:id/status
func (h *ElectronicInvoiceHandler) Status(c *fiber.Ctx) error {
	out, err := h.svc.QueryStatus(c.Context(), c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(out)
}

// PDF descarga la representación gráfica.
// GET /api/invoices/electronic/:id/pdf
func (h *ElectronicInvoiceHandler) PDF(c *fiber.Ctx) error {
	body, name, err := h.docs.DownloadInvoicePDF(c.Context(), c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	c.Set(fiber.HeaderContentType, "application/pdf")
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+name+`"`)
	return c.Send(body)
}

// XML descarga el documento firmado.
// GET /api/invoices/electronic/:id/xml
func (h *ElectronicInvoiceHandler) XML(c *fiber.Ctx) error {
	body, name, err := h.docs.DownloadSignedXML(c.Context(), c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationXMLCharsetUTF8)
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="`+name+`"`)
	return c.Send(body)
}

// processResult responde con el registro aunque haya error de etapa, para que el cliente
// vea el estado y la respuesta de la DIAN.
func (h *ElectronicInvoiceHandler) processResult(c *fiber.Ctx, okStatus int, rec *entity.SubmissionRecord, err error) error {
	if rec == nil {
		if err == nil {
			return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: "sin registro"})
		}
		return writeError(c, err)
	}
	resp := dto.ProcessResponse{Record: dto.NewSubmissionResponse(rec)}
	if err == nil {
		return c.Status(okStatus).JSON(resp)
	}
	status, code := errorStatus(err)
	resp.Error = stageErrorDTO(err, code)
	return c.Status(status).JSON(resp)
}

func stageErrorDTO(err error, code string) *dto.StageErrorDTO {
	out := &dto.StageErrorDTO{Code: code, Message: err.Error()}
	var se *billing.StageError
	if errors.As(err, &se) {
		out.Stage = string(se.Stage)
	}
	var rej *domain.RejectionError
	if errors.As(err, &rej) {
		out.Errors = rej.Errors
	}
	return out
}

func writeError(c *fiber.Ctx, err error) error {
	status, code := errorStatus(err)
	return c.Status(status).JSON(dto.ErrorResponse{Code: code, Message: err.Error()})
}

// errorStatus traduce la taxonomía de errores a HTTP.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return fiber.StatusBadRequest, "VALIDATION"
	case errors.Is(err, domain.ErrNotFound):
		return fiber.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, domain.ErrForbidden):
		return fiber.StatusForbidden, "FORBIDDEN"
	}
	switch domain.Kind(err) {
	case domain.ErrConfiguration:
		return fiber.StatusUnprocessableEntity, "CONFIGURATION"
	case domain.ErrRangeExhausted:
		return fiber.StatusConflict, "RANGE_EXHAUSTED"
	case domain.ErrBuild:
		return fiber.StatusUnprocessableEntity, "BUILD"
	case domain.ErrCertificate:
		return fiber.StatusUnprocessableEntity, "CERTIFICATE"
	case domain.ErrSigning:
		return fiber.StatusInternalServerError, "SIGNING"
	case domain.ErrNetwork:
		return fiber.StatusBadGateway, "DIAN_UNAVAILABLE"
	case domain.ErrMalformedResponse:
		return fiber.StatusBadGateway, "DIAN_MALFORMED_RESPONSE"
	case domain.ErrRejection:
		return fiber.StatusUnprocessableEntity, "DIAN_REJECTED"
	case domain.ErrInvalidTransition:
		return fiber.StatusConflict, "INVALID_TRANSITION"
	case domain.ErrConflict:
		return fiber.StatusConflict, "CONFLICT"
	}
	return fiber.StatusInternalServerError, "INTERNAL"
}
