package dto

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/jhoicas/Facturacion-api/internal/domain"
	"github.com/jhoicas/Facturacion-api/internal/domain/entity"
	"github.com/jhoicas/Facturacion-api/pkg/dian"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// AddressRequest dirección del adquiriente (códigos DANE).
type AddressRequest struct {
	Line           string `json:"line,omitempty"`
	CityCode       string `json:"city_code,omitempty" validate:"omitempty,numeric,len=5"`
	CityName       string `json:"city_name,omitempty"`
	DepartmentCode string `json:"department_code,omitempty" validate:"omitempty,numeric,len=2"`
	DepartmentName string `json:"department_name,omitempty"`
	PostalCode     string `json:"postal_code,omitempty"`
	CountryCode    string `json:"country_code,omitempty" validate:"omitempty,len=2"`
}

// ReceiverRequest adquiriente de la factura.
type ReceiverRequest struct {
	DocumentType   string          `json:"document_type" validate:"required"`
	DocumentNumber string          `json:"document_number" validate:"required"`
	Name           string          `json:"name" validate:"required"`
	Email          string          `json:"email,omitempty" validate:"omitempty,email"`
	Phone          string          `json:"phone,omitempty"`
	Address        *AddressRequest `json:"address,omitempty"`
}

// InvoiceLineRequest línea de la factura; los valores calculados los completa el servidor.
type InvoiceLineRequest struct {
	Description     string          `json:"description" validate:"required"`
	Code            string          `json:"code,omitempty"`
	UnitCode        string          `json:"unit_code,omitempty"`
	Quantity        decimal.Decimal `json:"quantity"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	TaxRate         decimal.Decimal `json:"tax_rate"`
}

// ElectronicInvoiceRequest body de POST /api/invoices/electronic.
// IssuedAt es opcional; si falta se usa la hora del servidor.
type ElectronicInvoiceRequest struct {
	IssuedAt          *time.Time           `json:"issued_at,omitempty"`
	DueDate           *time.Time           `json:"due_date,omitempty"`
	Notes             string               `json:"notes,omitempty"`
	PaymentFormCode   string               `json:"payment_form_code,omitempty" validate:"omitempty,oneof=1 2"`
	PaymentMethodCode string               `json:"payment_method_code,omitempty"`
	Receiver          ReceiverRequest      `json:"receiver"`
	Lines             []InvoiceLineRequest `json:"lines" validate:"required,min=1,dive"`
}

// Validate comprueba el body; los errores envuelven domain.ErrInvalidInput.
func (r ElectronicInvoiceRequest) Validate() error {
	var errs []error
	if err := validate.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return errors.Join(domain.ErrInvalidInput, err)
		}
		for _, fe := range verrs {
			errs = append(errs, fmt.Errorf("campo %s no cumple la regla %q", fe.Namespace(), fe.Tag()))
		}
	}
	if r.PaymentMethodCode != "" {
		if _, ok := dian.PaymentMethodName(r.PaymentMethodCode); !ok {
			errs = append(errs, fmt.Errorf("medio de pago %q no está en el catálogo DIAN", r.PaymentMethodCode))
		}
	}
	if _, ok := dian.IdentificationScheme(r.Receiver.DocumentType); !ok && r.Receiver.DocumentType != "" {
		errs = append(errs, fmt.Errorf("tipo de documento %q no soportado", r.Receiver.DocumentType))
	}
	for i, l := range r.Lines {
		if l.UnitCode != "" && !dian.ValidUnitCode(l.UnitCode) {
			errs = append(errs, fmt.Errorf("línea %d: unidad %q no está en el catálogo DIAN", i+1, l.UnitCode))
		}
		if !l.Quantity.IsPositive() {
			errs = append(errs, fmt.Errorf("línea %d: la cantidad debe ser positiva", i+1))
		}
		if l.UnitPrice.IsNegative() {
			errs = append(errs, fmt.Errorf("línea %d: el precio no puede ser negativo", i+1))
		}
		if l.DiscountPercent.IsNegative() || l.DiscountPercent.GreaterThan(decimal.NewFromInt(100)) {
			errs = append(errs, fmt.Errorf("línea %d: el descuento debe estar entre 0 y 100", i+1))
		}
		if l.TaxRate.IsNegative() {
			errs = append(errs, fmt.Errorf("línea %d: la tarifa de IVA no puede ser negativa", i+1))
		}
	}
	if len(errs) > 0 {
		return errors.Join(append([]error{domain.ErrInvalidInput}, errs...)...)
	}
	return nil
}

// ToInvoiceData convierte el body en la factura del dominio con los totales calculados.
func (r ElectronicInvoiceRequest) ToInvoiceData(now time.Time) entity.InvoiceData {
	lines := make([]entity.InvoiceLine, len(r.Lines))
	for i, l := range r.Lines {
		lines[i] = entity.InvoiceLine{
			Description:     l.Description,
			Code:            l.Code,
			UnitCode:        l.UnitCode,
			Quantity:        l.Quantity,
			UnitPrice:       l.UnitPrice,
			DiscountPercent: l.DiscountPercent,
			TaxRate:         l.TaxRate,
		}
	}
	computed, totals := entity.ComputeTotals(lines)

	issued := now
	if r.IssuedAt != nil && !r.IssuedAt.IsZero() {
		issued = *r.IssuedAt
	}
	receiver := entity.Receiver{
		DocumentType:   r.Receiver.DocumentType,
		DocumentNumber: r.Receiver.DocumentNumber,
		Name:           r.Receiver.Name,
		Email:          r.Receiver.Email,
		Phone:          r.Receiver.Phone,
	}
	if a := r.Receiver.Address; a != nil {
		receiver.Address = entity.Address{
			Line: a.Line, CityCode: a.CityCode, CityName: a.CityName,
			DepartmentCode: a.DepartmentCode, DepartmentName: a.DepartmentName,
			PostalCode: a.PostalCode, CountryCode: a.CountryCode,
		}
	}
	return entity.InvoiceData{
		IssuedAt:          issued,
		DueDate:           r.DueDate,
		Notes:             r.Notes,
		PaymentFormCode:   r.PaymentFormCode,
		PaymentMethodCode: r.PaymentMethodCode,
		Receiver:          receiver,
		Lines:             computed,
		Totals:            totals,
	}
}

// RetryRequest body de POST /api/invoices/electronic/:id/retry.
// Invoice es opcional: si falta se reutiliza la factura del último intento.
type RetryRequest struct {
	NewNumber bool                      `json:"new_number"`
	Invoice   *ElectronicInvoiceRequest `json:"invoice,omitempty"`
}

// TaxBucketResponse IVA por tarifa.
type TaxBucketResponse struct {
	Rate          decimal.Decimal `json:"rate"`
	TaxableAmount decimal.Decimal `json:"taxable_amount"`
	Amount        decimal.Decimal `json:"amount"`
}

// SubmissionResponse registro de envío en respuestas.
type SubmissionResponse struct {
	ID          string                    `json:"id"`
	State       string                    `json:"state"`
	Environment string                    `json:"environment"`
	Prefix      string                    `json:"prefix"`
	Number      int64                     `json:"number,omitempty"`
	FullNumber  string                    `json:"full_number,omitempty"`
	CUFE        string                    `json:"cufe,omitempty"`
	QRBase64    string                    `json:"qr_base64,omitempty"`
	Subtotal    decimal.Decimal           `json:"subtotal"`
	Discount    decimal.Decimal           `json:"discount"`
	TaxTotal    decimal.Decimal           `json:"tax_total"`
	GrandTotal  decimal.Decimal           `json:"grand_total"`
	TaxBuckets  []TaxBucketResponse       `json:"tax_buckets"`
	Outcome     *entity.SubmissionOutcome `json:"outcome,omitempty"`
	LastStage   string                    `json:"last_stage,omitempty"`
	LastError   string                    `json:"last_error,omitempty"`
	Warnings    []string                  `json:"warnings,omitempty"`
	History     []entity.StateChange      `json:"history"`
	CreatedAt   time.Time                 `json:"created_at"`
	UpdatedAt   time.Time                 `json:"updated_at"`
	SentAt      *time.Time                `json:"sent_at,omitempty"`
	ApprovedAt  *time.Time                `json:"approved_at,omitempty"`
	RejectedAt  *time.Time                `json:"rejected_at,omitempty"`
}

// NewSubmissionResponse arma la respuesta a partir del registro.
func NewSubmissionResponse(rec *entity.SubmissionRecord) SubmissionResponse {
	t := rec.Invoice.Totals
	buckets := make([]TaxBucketResponse, 0, len(t.TaxBuckets))
	for _, b := range t.TaxBuckets {
		buckets = append(buckets, TaxBucketResponse{Rate: b.Rate, TaxableAmount: b.TaxableAmount, Amount: b.Amount})
	}
	return SubmissionResponse{
		ID:          rec.ID,
		State:       string(rec.State),
		Environment: rec.Environment,
		Prefix:      rec.Prefix,
		Number:      rec.Number,
		FullNumber:  rec.FullNumber,
		CUFE:        rec.CUFE,
		QRBase64:    rec.QRBase64,
		Subtotal:    t.Subtotal,
		Discount:    t.Discount,
		TaxTotal:    t.TaxTotal,
		GrandTotal:  t.GrandTotal,
		TaxBuckets:  buckets,
		Outcome:     rec.Outcome,
		LastStage:   rec.LastStage,
		LastError:   rec.LastError,
		Warnings:    rec.Warnings,
		History:     rec.History,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
		SentAt:      rec.SentAt,
		ApprovedAt:  rec.ApprovedAt,
		RejectedAt:  rec.RejectedAt,
	}
}

// ProcessResponse respuesta de procesar o reintentar: el registro y, si hubo, el error de etapa.
type ProcessResponse struct {
	Record SubmissionResponse `json:"record"`
	Error  *StageErrorDTO     `json:"error,omitempty"`
}

// StageErrorDTO error de etapa en respuestas.
type StageErrorDTO struct {
	Stage   string   `json:"stage"`
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Errors  []string `json:"errors,omitempty"`
}
