package entity

import (
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Ambientes DIAN (ProfileExecutionID y último campo del CUFE).
const (
	EnvironmentProduction = "1"
	EnvironmentTest       = "2"
)

// InvoiceData es la factura tal como la entrega el módulo de facturación.
// El pipeline solo la lee; Number lo asigna el asignador de consecutivos.
type InvoiceData struct {
	Prefix            string
	Number            int64 // 0 hasta que se asigna el consecutivo
	IssuedAt          time.Time
	DueDate           *time.Time
	Notes             string
	PaymentFormCode   string // 1=Contado, 2=Crédito
	PaymentMethodCode string // 10=Efectivo, 47=Transferencia, ...
	Issuer            Issuer
	Receiver          Receiver
	Lines             []InvoiceLine
	Totals            Totals
	Environment       string // "1" producción, "2" pruebas
}

// FullNumber devuelve prefijo + consecutivo sin separadores (ej: FE1234).
func (d *InvoiceData) FullNumber() string {
	if d.Number <= 0 {
		return ""
	}
	return d.Prefix + strconv.FormatInt(d.Number, 10)
}

// InvoiceLine línea de la factura con sus valores calculados.
type InvoiceLine struct {
	Description     string
	Code            string // SKU o código interno (opcional)
	UnitCode        string // Código de unidad DIAN (94, NIU, KGM, ...)
	Quantity        decimal.Decimal
	UnitPrice       decimal.Decimal
	DiscountPercent decimal.Decimal
	TaxRate         decimal.Decimal // porcentaje: 0, 5, 19

	Subtotal decimal.Decimal // cantidad × precio
	Discount decimal.Decimal // subtotal × descuento%
	TaxBase  decimal.Decimal // subtotal − descuento
	Tax      decimal.Decimal // base × tarifa%
	Total    decimal.Decimal // base + impuesto
}

// TaxBucket total de IVA agrupado por tarifa.
type TaxBucket struct {
	Rate          decimal.Decimal
	TaxableAmount decimal.Decimal
	Amount        decimal.Decimal
}

// Totals totales agregados de la factura.
type Totals struct {
	Subtotal    decimal.Decimal // suma de subtotales de línea
	Discount    decimal.Decimal
	TaxableBase decimal.Decimal // subtotal − descuento
	TaxBuckets  []TaxBucket     // ordenados por tarifa
	TaxTotal    decimal.Decimal
	GrandTotal  decimal.Decimal // base + impuestos
}

// BucketSum suma los impuestos de todas las tarifas.
func (t Totals) BucketSum() decimal.Decimal {
	sum := decimal.Zero
	for _, b := range t.TaxBuckets {
		sum = sum.Add(b.Amount)
	}
	return sum
}

// Bucket devuelve el total de la tarifa indicada (cero si no existe).
func (t Totals) Bucket(rate int64) decimal.Decimal {
	r := decimal.NewFromInt(rate)
	for _, b := range t.TaxBuckets {
		if b.Rate.Equal(r) {
			return b.Amount
		}
	}
	return decimal.Zero
}

var hundred = decimal.NewFromInt(100)

// ComputeLine calcula subtotal, descuento, base, impuesto y total de la línea.
func ComputeLine(l InvoiceLine) InvoiceLine {
	l.Subtotal = l.Quantity.Mul(l.UnitPrice).Round(2)
	l.Discount = decimal.Zero
	if l.DiscountPercent.IsPositive() {
		l.Discount = l.Subtotal.Mul(l.DiscountPercent).Div(hundred).Round(2)
	}
	l.TaxBase = l.Subtotal.Sub(l.Discount)
	l.Tax = l.TaxBase.Mul(l.TaxRate).Div(hundred).Round(2)
	l.Total = l.TaxBase.Add(l.Tax)
	return l
}

// ComputeTotals recalcula cada línea y los totales de la factura.
// Las tarifas 0, 5 y 19 siempre aparecen; cualquier otra se agrega si existe.
func ComputeTotals(lines []InvoiceLine) ([]InvoiceLine, Totals) {
	out := make([]InvoiceLine, len(lines))
	buckets := map[string]*TaxBucket{}
	for _, rate := range []int64{0, 5, 19} {
		r := decimal.NewFromInt(rate)
		buckets[r.String()] = &TaxBucket{Rate: r}
	}

	var t Totals
	for i, l := range lines {
		l = ComputeLine(l)
		out[i] = l
		t.Subtotal = t.Subtotal.Add(l.Subtotal)
		t.Discount = t.Discount.Add(l.Discount)

		key := l.TaxRate.String()
		b, ok := buckets[key]
		if !ok {
			b = &TaxBucket{Rate: l.TaxRate}
			buckets[key] = b
		}
		b.TaxableAmount = b.TaxableAmount.Add(l.TaxBase)
		b.Amount = b.Amount.Add(l.Tax)
	}

	t.TaxableBase = t.Subtotal.Sub(t.Discount)
	for _, b := range buckets {
		t.TaxBuckets = append(t.TaxBuckets, *b)
	}
	sort.Slice(t.TaxBuckets, func(i, j int) bool {
		return t.TaxBuckets[i].Rate.LessThan(t.TaxBuckets[j].Rate)
	})
	t.TaxTotal = t.BucketSum()
	t.GrandTotal = t.TaxableBase.Add(t.TaxTotal)
	return out, t
}

// BuiltDocument XML UBL sin firmar y las advertencias generadas al construirlo.
type BuiltDocument struct {
	XML      []byte
	Warnings []string
}
