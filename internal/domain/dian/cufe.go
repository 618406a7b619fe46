// Package dian: cálculo del CUFE (Código Único de Factura Electrónica) según Anexo Técnico DIAN.
// Algoritmo: SHA-384 sobre la concatenación de campos en el orden estricto definido por la DIAN.
package dian

import (
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/Facturacion-api/internal/domain"
)

// CodImpIVA código de impuesto IVA dentro de la cadena CUFE.
const CodImpIVA = "01"

// CufeLength longitud del CUFE en caracteres hexadecimales (384 bits).
const CufeLength = 96

// Colombia no tiene horario de verano: UTC-5 fijo.
var colombiaZone = time.FixedZone("COT", -5*60*60)

// ColombiaZone zona horaria fija usada en fechas DIAN.
func ColombiaZone() *time.Location { return colombiaZone }

// CufeParams datos que entran al CUFE. Cualquier cambio en ellos exige un CUFE nuevo.
type CufeParams struct {
	NumFac            string          // prefijo + número (ej: FE1234)
	IssuedAt          time.Time       // se formatea en UTC-5
	TaxableBase       decimal.Decimal // base imponible
	TaxTotal          decimal.Decimal // total IVA
	GrandTotal        decimal.Decimal // total a pagar
	IssuerNIT         string          // NIT del emisor sin DV
	ReceiverDocType   string          // CC, NIT, CE, ...
	ReceiverDocNumber string
	TechnicalKey      string // clave técnica de la resolución
	Environment       string // "1" producción, "2" pruebas
}

// Generate calcula el CUFE en hexadecimal minúscula (96 caracteres).
// Cadena: NumFac + FecFac + ValBase + "01" + ValIva + ValTotal + NitOfe + TipoDocAdq + NumDocAdq + ClTec + TipoAmb.
// Los montos van en centavos enteros completados con ceros a 15 dígitos.
func Generate(p CufeParams) (string, error) {
	if err := p.validate(); err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(strings.TrimSpace(p.NumFac))
	b.WriteString(FormatTimestamp(p.IssuedAt))
	b.WriteString(cents(p.TaxableBase))
	b.WriteString(CodImpIVA)
	b.WriteString(cents(p.TaxTotal))
	b.WriteString(cents(p.GrandTotal))
	b.WriteString(p.IssuerNIT)
	b.WriteString(p.ReceiverDocType)
	b.WriteString(p.ReceiverDocNumber)
	b.WriteString(p.TechnicalKey)
	b.WriteString(p.Environment)

	hash := sha512.Sum384([]byte(b.String()))
	return hex.EncodeToString(hash[:]), nil
}

// ValidateCUFE indica si s tiene exactamente 96 caracteres hexadecimales.
func ValidateCUFE(s string) bool {
	if len(s) != CufeLength {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

// FormatTimestamp fecha y hora de emisión en formato CUFE: YYYY-MM-DD HH:MM:SS-05:00.
func FormatTimestamp(t time.Time) string {
	return t.In(colombiaZone).Format("2006-01-02 15:04:05") + "-05:00"
}

func (p CufeParams) validate() error {
	var errs []error
	required := []struct{ name, value string }{
		{"NumFac", p.NumFac},
		{"IssuerNIT", p.IssuerNIT},
		{"ReceiverDocType", p.ReceiverDocType},
		{"ReceiverDocNumber", p.ReceiverDocNumber},
		{"TechnicalKey", p.TechnicalKey},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			errs = append(errs, fmt.Errorf("%s es obligatorio para el CUFE", f.name))
		}
	}
	if p.IssuedAt.IsZero() {
		errs = append(errs, errors.New("la fecha de emisión es obligatoria para el CUFE"))
	}
	if p.Environment != "1" && p.Environment != "2" {
		errs = append(errs, fmt.Errorf("ambiente %q inválido (1 producción, 2 pruebas)", p.Environment))
	}
	amounts := []struct {
		name  string
		value decimal.Decimal
	}{{"base", p.TaxableBase}, {"iva", p.TaxTotal}, {"total", p.GrandTotal}}
	for _, a := range amounts {
		if a.value.IsNegative() {
			errs = append(errs, fmt.Errorf("el valor %s no puede ser negativo", a.name))
		}
	}
	if len(errs) > 0 {
		return errors.Join(append([]error{domain.ErrBuild}, errs...)...)
	}
	return nil
}

// cents monto en centavos enteros (truncado) con ceros a la izquierda hasta 15 dígitos.
func cents(d decimal.Decimal) string {
	return fmt.Sprintf("%015d", d.Shift(2).IntPart())
}
