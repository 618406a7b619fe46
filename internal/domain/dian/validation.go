package dian

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/Facturacion-api/internal/domain"
	"github.com/jhoicas/Facturacion-api/internal/domain/entity"
)

// ErrInvalidInvoice agrupa errores de validación de factura.
// Siempre se une con domain.ErrBuild.
var ErrInvalidInvoice = errors.New("factura inválida para DIAN")

// ValidateParties comprueba los campos obligatorios de emisor y adquiriente.
func ValidateParties(issuer entity.Issuer, receiver entity.Receiver) []error {
	var errs []error
	req := func(name, v string) {
		if strings.TrimSpace(v) == "" {
			errs = append(errs, fmt.Errorf("%s es obligatorio", name))
		}
	}
	req("emisor.nit", issuer.NIT)
	req("emisor.razon_social", issuer.LegalName)
	req("emisor.tipo_documento", issuer.DocumentType)
	req("adquiriente.tipo_documento", receiver.DocumentType)
	req("adquiriente.numero_documento", receiver.DocumentNumber)
	req("adquiriente.nombre", receiver.Name)
	return errs
}

// ValidateInvoice valida la factura antes de construir el XML: partes, resolución,
// líneas y el invariante de totales (total = base + Σ impuestos, al centavo).
func ValidateInvoice(inv *entity.InvoiceData, res *entity.ResolutionInfo) error {
	if inv == nil {
		return errors.Join(domain.ErrBuild, ErrInvalidInvoice, errors.New("factura nula"))
	}
	errs := ValidateParties(inv.Issuer, inv.Receiver)

	if inv.Number <= 0 {
		errs = append(errs, errors.New("la factura no tiene consecutivo asignado"))
	}
	if inv.IssuedAt.IsZero() {
		errs = append(errs, errors.New("la fecha de emisión es obligatoria"))
	}
	if res == nil {
		errs = append(errs, errors.New("la resolución de facturación es obligatoria"))
	} else {
		if strings.TrimSpace(res.ResolutionNumber) == "" {
			errs = append(errs, errors.New("resolucion.numero es obligatorio"))
		}
		if inv.Number > 0 && !res.InRange(inv.Number) {
			errs = append(errs, fmt.Errorf("el consecutivo %d está fuera del rango %d-%d", inv.Number, res.RangeFrom, res.RangeTo))
		}
	}

	if len(inv.Lines) == 0 {
		errs = append(errs, errors.New("la factura debe tener al menos una línea"))
	}
	errs = append(errs, checkLines(inv.Lines)...)
	errs = append(errs, checkTotals(inv.Lines, inv.Totals)...)

	if len(errs) > 0 {
		return errors.Join(append([]error{domain.ErrBuild, ErrInvalidInvoice}, errs...)...)
	}
	return nil
}

func checkLines(lines []entity.InvoiceLine) []error {
	var errs []error
	for i, l := range lines {
		n := i + 1
		if strings.TrimSpace(l.Description) == "" {
			errs = append(errs, fmt.Errorf("línea %d: la descripción es obligatoria", n))
		}
		if !l.Quantity.IsPositive() {
			errs = append(errs, fmt.Errorf("línea %d: la cantidad debe ser mayor a cero", n))
		}
		if l.UnitPrice.IsNegative() || l.TaxRate.IsNegative() {
			errs = append(errs, fmt.Errorf("línea %d: precio y tarifa no pueden ser negativos", n))
		}
		want := entity.ComputeLine(l)
		if !l.Total.Equal(want.Total) || !l.Tax.Equal(want.Tax) {
			errs = append(errs, fmt.Errorf("línea %d: total %s no coincide con (cantidad×precio − descuento)×(1+tarifa) = %s",
				n, l.Total.StringFixed(2), want.Total.StringFixed(2)))
		}
	}
	return errs
}

func checkTotals(lines []entity.InvoiceLine, t entity.Totals) []error {
	var errs []error
	if !t.GrandTotal.Equal(t.TaxableBase.Add(t.BucketSum())) {
		errs = append(errs, fmt.Errorf("total (%s) no coincide con base (%s) + impuestos (%s)",
			t.GrandTotal.StringFixed(2), t.TaxableBase.StringFixed(2), t.BucketSum().StringFixed(2)))
	}
	if !t.TaxTotal.Equal(t.BucketSum()) {
		errs = append(errs, fmt.Errorf("total IVA (%s) no coincide con la suma por tarifa (%s)",
			t.TaxTotal.StringFixed(2), t.BucketSum().StringFixed(2)))
	}
	if !t.TaxableBase.Equal(t.Subtotal.Sub(t.Discount)) {
		errs = append(errs, fmt.Errorf("base imponible (%s) no coincide con subtotal − descuento (%s)",
			t.TaxableBase.StringFixed(2), t.Subtotal.Sub(t.Discount).StringFixed(2)))
	}
	var base decimal.Decimal
	for _, l := range lines {
		base = base.Add(l.TaxBase)
	}
	if len(lines) > 0 && !base.Equal(t.TaxableBase) {
		errs = append(errs, fmt.Errorf("base imponible (%s) no coincide con la suma de las líneas (%s)",
			t.TaxableBase.StringFixed(2), base.StringFixed(2)))
	}
	return errs
}
