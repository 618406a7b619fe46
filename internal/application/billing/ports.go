package billing

import (
	"context"

	"github.com/jhoicas/Facturacion-api/internal/domain/entity"
	"github.com/jhoicas/Facturacion-api/internal/infrastructure/dian/signer"
	"github.com/jhoicas/Facturacion-api/internal/infrastructure/qr"
)

// SequenceAllocator reserva el siguiente consecutivo de una resolución.
// Debe ser linealizable: dos llamadas concurrentes nunca reciben el mismo número.
// Si el rango se agotó retorna un error que envuelve domain.ErrRangeExhausted sin mover el cursor.
type SequenceAllocator interface {
	Allocate(ctx context.Context, resolutionID string) (int64, error)
	Resolution(ctx context.Context, resolutionID string) (*entity.SequenceResolution, error)
}

// DocumentBuilder construye el XML UBL 2.1 sin firmar.
type DocumentBuilder interface {
	Build(inv *entity.InvoiceData, res *entity.ResolutionInfo, cufe string) (*entity.BuiltDocument, error)
}

// CertificateLoader carga el certificado de firma (PKCS#12 o PEM).
type CertificateLoader interface {
	Load(path, password, keyPath string) (*signer.Certificate, error)
}

// DocumentSigner firma el XML con XAdES-EPES.
type DocumentSigner interface {
	Sign(xml []byte, cufe string, cert *signer.Certificate) ([]byte, error)
}

// QRRenderer genera la imagen QR de la representación gráfica.
type QRRenderer interface {
	Render(data qr.QRData) (*qr.Image, error)
	RenderLink(searchURL, cufe string) (*qr.Image, error)
}

// Submitter envía documentos firmados a la DIAN (SOAP real o mock).
type Submitter interface {
	Submit(ctx context.Context, signedXML []byte, issuerNIT string) (*entity.SubmissionOutcome, error)
	QueryStatus(ctx context.Context, cufe string) (*entity.StatusOutcome, error)
}

// SubmissionStore persiste los registros de envío (callback de persistencia).
// Get retorna domain.ErrNotFound si el registro no existe.
type SubmissionStore interface {
	Save(ctx context.Context, rec *entity.SubmissionRecord) error
	Get(ctx context.Context, id string) (*entity.SubmissionRecord, error)
}

// PDFGenerator genera la representación gráfica de la factura.
type PDFGenerator interface {
	Generate(rec *entity.SubmissionRecord) ([]byte, error)
}
