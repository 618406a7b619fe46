// Package qr genera el código QR de la representación gráfica de la factura electrónica.
package qr

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/skip2/go-qrcode"

	domaindian "github.com/jhoicas/Facturacion-api/internal/domain/dian"
)

// DefaultSize lado de la imagen PNG en píxeles.
const DefaultSize = 300

// ErrQR error al generar el código.
var ErrQR = errors.New("qr: no se pudo generar el código")

// QRData campos que la DIAN exige en el QR.
type QRData struct {
	NumFac        string
	IssuedAt      time.Time
	IssuerNIT     string
	ReceiverDoc   string
	Subtotal      decimal.Decimal // ValFac: valor antes de impuestos
	TaxIVA        decimal.Decimal
	OtherTaxes    decimal.Decimal
	Total         decimal.Decimal
	CUFE          string
	ValidationURL string // opcional; se agrega {url}/consulta/{cufe}
}

// Image resultado del render.
type Image struct {
	Payload string
	PNG     []byte
	Base64  string
}

// Renderer genera PNG con corrección de errores alta y versión automática.
type Renderer struct {
	size int
}

// NewRenderer crea el renderer; size <= 0 usa DefaultSize.
func NewRenderer(size int) *Renderer {
	if size <= 0 {
		size = DefaultSize
	}
	return &Renderer{size: size}
}

// Payload arma el texto del QR, una clave por línea. FecFac va en hora de Colombia,
// igual que IssueDate en el XML.
func Payload(d QRData) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "NumFac: %s\n", d.NumFac)
	fmt.Fprintf(&sb, "FecFac: %s\n", d.IssuedAt.In(domaindian.ColombiaZone()).Format(time.DateOnly))
	fmt.Fprintf(&sb, "NitFac: %s\n", d.IssuerNIT)
	fmt.Fprintf(&sb, "DocAdq: %s\n", d.ReceiverDoc)
	fmt.Fprintf(&sb, "ValFac: %s\n", money(d.Subtotal))
	fmt.Fprintf(&sb, "ValIva: %s\n", money(d.TaxIVA))
	fmt.Fprintf(&sb, "ValOtroIm: %s\n", money(d.OtherTaxes))
	fmt.Fprintf(&sb, "ValTotal: %s\n", money(d.Total))
	fmt.Fprintf(&sb, "CUFE: %s", d.CUFE)
	if u := strings.TrimRight(d.ValidationURL, "/"); u != "" {
		fmt.Fprintf(&sb, "\n%s/consulta/%s", u, d.CUFE)
	}
	return sb.String()
}

// Render implementa billing.QRRenderer.
func (r *Renderer) Render(d QRData) (*Image, error) {
	if strings.TrimSpace(d.CUFE) == "" {
		return nil, fmt.Errorf("%w: CUFE vacío", ErrQR)
	}
	return r.encode(Payload(d), qrcode.Highest)
}

// RenderLink QR simple solo con el enlace de consulta DIAN (?documentkey=).
func (r *Renderer) RenderLink(searchURL, cufe string) (*Image, error) {
	if strings.TrimSpace(cufe) == "" {
		return nil, fmt.Errorf("%w: CUFE vacío", ErrQR)
	}
	return r.encode(fmt.Sprintf("%s?documentkey=%s", searchURL, cufe), qrcode.Medium)
}

func (r *Renderer) encode(payload string, level qrcode.RecoveryLevel) (*Image, error) {
	code, err := qrcode.New(payload, level)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQR, err)
	}
	png, err := code.PNG(r.size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrQR, err)
	}
	return &Image{
		Payload: payload,
		PNG:     png,
		Base64:  base64.StdEncoding.EncodeToString(png),
	}, nil
}

func money(d decimal.Decimal) string {
	return d.Round(2).StringFixed(2)
}
