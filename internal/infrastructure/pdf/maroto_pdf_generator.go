// Package pdf implementa la generación de la Representación Gráfica de la
// Factura Electrónica DIAN (Resolución 000042/2020, Anexo Técnico 1.9).
//
// Layout de la página A4:
//
//	┌─────────────────────────────────────────────────────────────┐
//	│  HEADER: Razón Social + NIT  │  N° Factura + Fecha          │
//	│  ─────────────────────────────────────────────────────────  │
//	│  EMISOR: Dirección / Tel / Email                             │
//	│  RECEPTOR: Nombre + documento + contacto                     │
//	│  ─────────────────────────────────────────────────────────  │
//	│  TABLA: Cant | Descripción | P.Unit | IVA | Subtotal         │
//	│  ─────────────────────────────────────────────────────────  │
//	│  TOTALES: Subtotal / Descuento / IVA por tarifa / TOTAL      │
//	│  ─────────────────────────────────────────────────────────  │
//	│  FOOTER DIAN: CUFE + QR + Leyenda legal                      │
//	└─────────────────────────────────────────────────────────────┘
package pdf

import (
	"errors"
	"fmt"
	"strings"

	maroto "github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/code"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/line"
	"github.com/johnfercher/maroto/v2/pkg/components/row"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/consts/pagesize"
	"github.com/johnfercher/maroto/v2/pkg/core"
	"github.com/johnfercher/maroto/v2/pkg/props"
	"github.com/shopspring/decimal"

	domaindian "github.com/jhoicas/Facturacion-api/internal/domain/dian"
	"github.com/jhoicas/Facturacion-api/internal/domain/entity"
	"github.com/jhoicas/Facturacion-api/internal/infrastructure/qr"
	"github.com/jhoicas/Facturacion-api/pkg/dian"
)

// ── Paleta de colores ─────────────────────────────────────────────────────────

var (
	colorPrimary = &props.Color{Red: 0, Green: 70, Blue: 127}
	colorGray    = &props.Color{Red: 100, Green: 100, Blue: 100}
	colorWhite   = &props.Color{Red: 255, Green: 255, Blue: 255}
)

// ErrNotSigned el registro todavía no tiene CUFE ni documento firmado.
var ErrNotSigned = errors.New("pdf: la factura aún no está firmada")

// ── Generator ─────────────────────────────────────────────────────────────────

// MarotoPDFGenerator implementa billing.PDFGenerator usando Maroto v2.
type MarotoPDFGenerator struct {
	validationURL string
}

// NewMarotoPDFGenerator construye el generador. validationURL se agrega al QR si no está vacía.
func NewMarotoPDFGenerator(validationURL string) *MarotoPDFGenerator {
	return &MarotoPDFGenerator{validationURL: validationURL}
}

// Generate genera el PDF del registro y devuelve sus bytes.
func (g *MarotoPDFGenerator) Generate(rec *entity.SubmissionRecord) ([]byte, error) {
	if rec == nil || rec.CUFE == "" || len(rec.SignedXML) == 0 {
		return nil, ErrNotSigned
	}
	inv := rec.Invoice

	cfg := config.NewBuilder().
		WithPageSize(pagesize.A4).
		WithLeftMargin(10).WithRightMargin(10).
		WithTopMargin(10).WithBottomMargin(10).
		WithDefaultFont(&props.Font{Family: "helvetica", Size: 9}).
		WithTitle("Factura Electrónica DIAN "+rec.FullNumber, true).
		WithAuthor(inv.Issuer.LegalName, true).
		Build()

	m := maroto.New(cfg)

	m.AddRows(headerRow(rec))
	m.AddRows(line.NewRow(1, props.Line{Color: colorPrimary, Thickness: 0.5}))
	m.AddRows(emisorRow(inv.Issuer))
	m.AddRows(receptorRow(inv.Receiver))
	m.AddRows(paymentRow(inv))
	m.AddRows(line.NewRow(1, props.Line{Color: colorPrimary, Thickness: 0.3}))

	m.AddRows(tableHeaderRow())
	m.AddRows(tableDetailRows(inv.Lines)...)

	m.AddRows(line.NewRow(1, props.Line{Color: colorPrimary, Thickness: 0.3}))
	m.AddRows(totalsRows(inv.Totals)...)

	m.AddRows(line.NewRow(3))
	m.AddRows(line.NewRow(1, props.Line{Color: colorGray, Thickness: 0.3}))
	m.AddRows(g.dianFooterRows(rec)...)

	doc, err := m.Generate()
	if err != nil {
		return nil, fmt.Errorf("pdf: generar documento: %w", err)
	}
	return doc.GetBytes(), nil
}

// FileName nombre de descarga del PDF.
func FileName(rec *entity.SubmissionRecord) string {
	return fmt.Sprintf("factura_%s.pdf", rec.FullNumber)
}

// ── Secciones ─────────────────────────────────────────────────────────────────

// headerRow: Razón social + NIT (izq) y N° Factura + Fecha (der).
func headerRow(rec *entity.SubmissionRecord) core.Row {
	inv := rec.Invoice
	fecha := inv.IssuedAt.In(domaindian.ColombiaZone()).Format("02/01/2006 15:04")

	return row.New(18).Add(
		col.New(7).Add(
			text.New(inv.Issuer.LegalName, props.Text{
				Style: fontstyle.Bold, Size: 13, Color: colorPrimary, Top: 1,
			}),
			text.New("NIT: "+inv.Issuer.NITWithDV(), props.Text{
				Size: 9, Top: 9, Color: colorGray,
			}),
		),
		col.New(5).Add(
			text.New("FACTURA ELECTRÓNICA DE VENTA", props.Text{
				Style: fontstyle.Bold, Size: 8, Align: align.Right,
				Color: colorPrimary, Top: 1,
			}),
			text.New(rec.FullNumber, props.Text{
				Style: fontstyle.Bold, Size: 12, Align: align.Right, Top: 7,
			}),
			text.New("Fecha: "+fecha, props.Text{
				Size: 8, Align: align.Right, Top: 14, Color: colorGray,
			}),
		),
	)
}

// emisorRow: datos del emisor.
func emisorRow(issuer entity.Issuer) core.Row {
	return row.New(12).Add(
		col.New(12).Add(
			text.New("DATOS DEL EMISOR", props.Text{
				Style: fontstyle.Bold, Size: 8, Color: colorPrimary, Top: 1,
			}),
			text.New(fmt.Sprintf("Dirección: %s   |   Tel: %s   |   Email: %s",
				nonEmpty(addressLine(issuer.Address), "—"),
				nonEmpty(issuer.Phone, "—"),
				nonEmpty(issuer.Email, "—"),
			), props.Text{Size: 8, Top: 7, Color: colorGray}),
		),
	)
}

// receptorRow: datos del adquiriente.
func receptorRow(receiver entity.Receiver) core.Row {
	return row.New(14).Add(
		col.New(12).Add(
			text.New("RECEPTOR / ADQUIRIENTE", props.Text{
				Style: fontstyle.Bold, Size: 8, Color: colorPrimary, Top: 1,
			}),
			text.New(receiver.Name, props.Text{
				Style: fontstyle.Bold, Size: 10, Top: 6,
			}),
			text.New(fmt.Sprintf("%s: %s   |   Email: %s   |   Tel: %s",
				receiver.DocumentType,
				receiver.DocumentNumber,
				nonEmpty(receiver.Email, "—"),
				nonEmpty(receiver.Phone, "—"),
			), props.Text{Size: 8, Top: 12, Color: colorGray}),
		),
	)
}

// tableHeaderRow: cabecera de la tabla de detalles.
// paymentRow: forma y medio de pago, con vencimiento si es a crédito.
func paymentRow(inv entity.InvoiceData) core.Row {
	form, _ := dian.PaymentFormName(nonEmpty(inv.PaymentFormCode, dian.PaymentFormContado))
	method, ok := dian.PaymentMethodName(nonEmpty(inv.PaymentMethodCode, dian.PaymentMethodEfectivo))
	if !ok {
		method = inv.PaymentMethodCode
	}
	label := "Forma de pago: " + form + "   Medio: " + method
	if inv.DueDate != nil {
		label += "   Vence: " + inv.DueDate.Format("02/01/2006")
	}
	return row.New(6).Add(
		col.New(12).Add(text.New(label, props.Text{Size: 8, Top: 1, Color: colorGray})),
	)
}

func tableHeaderRow() core.Row {
	h := func(label string, size int, a align.Type) core.Col {
		return col.New(size).Add(text.New(label, props.Text{
			Style: fontstyle.Bold, Size: 8, Align: a,
			Color: colorWhite, Top: 2, Left: 1, Right: 1,
		}))
	}
	return row.New(8).WithStyle(&props.Cell{BackgroundColor: colorPrimary}).Add(
		h("Cant.", 1, align.Center),
		h("Descripción del producto/servicio", 5, align.Left),
		h("Precio Unit.", 2, align.Right),
		h("IVA%", 1, align.Center),
		h("Subtotal", 3, align.Right),
	)
}

// tableDetailRows: una fila por línea.
func tableDetailRows(lines []entity.InvoiceLine) []core.Row {
	result := make([]core.Row, 0, len(lines))
	for _, l := range lines {
		result = append(result, row.New(7).Add(
			col.New(1).Add(text.New(
				l.Quantity.String(),
				props.Text{Size: 8, Align: align.Center, Top: 1},
			)),
			col.New(5).Add(text.New(
				l.Description,
				props.Text{Size: 8, Align: align.Left, Top: 1, Left: 1},
			)),
			col.New(2).Add(text.New(
				money(l.UnitPrice),
				props.Text{Size: 8, Align: align.Right, Top: 1, Right: 1},
			)),
			col.New(1).Add(text.New(
				l.TaxRate.String()+"%",
				props.Text{Size: 8, Align: align.Center, Top: 1},
			)),
			col.New(3).Add(text.New(
				money(l.TaxBase),
				props.Text{Size: 8, Align: align.Right, Top: 1, Right: 1},
			)),
		))
	}
	return result
}

// totalsRows: subtotal, descuento, IVA por tarifa y total a pagar.
func totalsRows(t entity.Totals) []core.Row {
	amountRow := func(label, value string, grand bool) core.Row {
		p := props.Text{Size: 9, Align: align.Right, Right: 1}
		if grand {
			p = props.Text{Style: fontstyle.Bold, Size: 10, Align: align.Right, Color: colorPrimary, Right: 1}
		}
		lp := p
		lp.Style = fontstyle.Bold
		lp.Right = 2
		return row.New(5).Add(
			col.New(6),
			col.New(3).Add(text.New(label, lp)),
			col.New(3).Add(text.New(value, p)),
		)
	}

	rows := []core.Row{amountRow("Subtotal:", money(t.Subtotal), false)}
	if t.Discount.IsPositive() {
		rows = append(rows, amountRow("Descuento:", "-"+money(t.Discount), false))
	}
	for _, b := range t.TaxBuckets {
		if b.Amount.IsZero() {
			continue
		}
		rows = append(rows, amountRow("IVA "+b.Rate.String()+"%:", money(b.Amount), false))
	}
	rows = append(rows, amountRow("TOTAL A PAGAR:", money(t.GrandTotal), true))
	return rows
}

// dianFooterRows: CUFE partido + código QR + leyenda legal.
func (g *MarotoPDFGenerator) dianFooterRows(rec *entity.SubmissionRecord) []core.Row {
	rows := []core.Row{
		row.New(6).Add(col.New(12).Add(
			text.New("INFORMACIÓN ELECTRÓNICA DIAN", props.Text{
				Style: fontstyle.Bold, Size: 8, Color: colorPrimary, Top: 1,
			}),
		)),
		row.New(5).Add(col.New(12).Add(
			text.New("CUFE (Código Único de Factura Electrónica):", props.Text{
				Style: fontstyle.Bold, Size: 7, Top: 1,
			}),
		)),
	}
	for _, chunk := range splitEvery(rec.CUFE, 80) {
		rows = append(rows, row.New(4).Add(col.New(12).Add(
			text.New(chunk, props.Text{Size: 6.5, Color: colorGray, Top: 0.5, Left: 2}),
		)))
	}
	rows = append(rows, row.New(3))

	inv := rec.Invoice
	payload := qr.Payload(qr.QRData{
		NumFac:        rec.FullNumber,
		IssuedAt:      inv.IssuedAt.In(domaindian.ColombiaZone()),
		IssuerNIT:     inv.Issuer.NIT,
		ReceiverDoc:   inv.Receiver.DocumentNumber,
		Subtotal:      inv.Totals.TaxableBase,
		TaxIVA:        inv.Totals.TaxTotal,
		Total:         inv.Totals.GrandTotal,
		CUFE:          rec.CUFE,
		ValidationURL: g.validationURL,
	})
	status := "Estado DIAN: " + string(rec.State)
	if rec.Outcome != nil && rec.Outcome.StatusDescription != "" {
		status += " (" + rec.Outcome.StatusDescription + ")"
	}
	rows = append(rows, row.New(50).Add(
		col.New(4).Add(code.NewQr(payload, props.Rect{
			Percent: 95,
			Center:  true,
		})),
		col.New(8).Add(
			text.New("Escanea el código QR para validar\nesta factura en el Portal DIAN.", props.Text{
				Size: 8, Top: 4, Left: 3, Color: colorGray,
			}),
			text.New(status, props.Text{
				Size: 8, Top: 14, Left: 3, Color: colorGray,
			}),
			text.New("Documento equivalente a\nFACTURA ELECTRÓNICA DE VENTA", props.Text{
				Style: fontstyle.Bold, Size: 10, Top: 22,
				Left: 3, Color: colorPrimary,
			}),
		),
	))

	rows = append(rows, row.New(8).Add(col.New(12).Add(
		text.New(
			"Esta factura electrónica fue generada conforme a la normativa DIAN "+
				"(Decreto 2242/2015, Resolución 000042/2020). "+
				"Conserve este documento como soporte fiscal.",
			props.Text{Size: 6.5, Color: colorGray, Top: 2},
		),
	)))

	return rows
}

// ── helpers ───────────────────────────────────────────────────────────────────

func nonEmpty(s, fallback string) string {
	if s != "" {
		return s
	}
	return fallback
}

func addressLine(a entity.Address) string {
	parts := []string{}
	for _, p := range []string{a.Line, a.CityName, a.DepartmentName} {
		if strings.TrimSpace(p) != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// money formatea en pesos con puntos de miles, sin decimales.
func money(d decimal.Decimal) string {
	s := d.Round(0).Abs().StringFixed(0)
	if d.Round(0).IsNegative() {
		return "-$" + formatMoney(s)
	}
	return "$" + formatMoney(s)
}

// formatMoney inserta puntos de miles en un string numérico sin decimales.
// Ej: "25000" → "25.000", "1000000" → "1.000.000"
func formatMoney(s string) string {
	n := len(s)
	if n <= 3 {
		return s
	}
	buf := make([]byte, 0, n+n/3)
	for i, c := range []byte(s) {
		if i > 0 && (n-i)%3 == 0 {
			buf = append(buf, '.')
		}
		buf = append(buf, c)
	}
	return string(buf)
}

// splitEvery divide s en trozos de max n caracteres.
func splitEvery(s string, n int) []string {
	var parts []string
	for len(s) > n {
		parts = append(parts, s[:n])
		s = s[n:]
	}
	if s != "" {
		parts = append(parts, s)
	}
	return parts
}
