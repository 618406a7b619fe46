package billing

import (
	"context"
	"fmt"

	"github.com/jhoicas/Facturacion-api/internal/domain"
	"github.com/jhoicas/Facturacion-api/internal/domain/entity"
)

// PDFUseCase genera la representación gráfica (PDF) de una factura electrónica.
// Solo se permite si el registro ya tiene CUFE y documento firmado.
type PDFUseCase struct {
	store     SubmissionStore
	generator PDFGenerator
}

// NewPDFUseCase construye el caso de uso.
func NewPDFUseCase(store SubmissionStore, generator PDFGenerator) *PDFUseCase {
	return &PDFUseCase{store: store, generator: generator}
}

// DownloadInvoicePDF genera el PDF del registro.
//
// Retorna:
//   - (pdfBytes, filename, nil)  si todo sale bien.
//   - domain.ErrNotFound         si el registro no existe.
//   - domain.ErrInvalidInput     si el registro aún no está firmado.
func (uc *PDFUseCase) DownloadInvoicePDF(ctx context.Context, recordID string) (pdfBytes []byte, filename string, err error) {
	rec, err := uc.store.Get(ctx, recordID)
	if err != nil {
		return nil, "", err
	}
	if !signedState(rec.State) || rec.CUFE == "" {
		return nil, "", fmt.Errorf("%w: el registro está en estado %s, espere a que sea firmado antes de descargar el PDF",
			domain.ErrInvalidInput, rec.State)
	}

	pdfBytes, err = uc.generator.Generate(rec)
	if err != nil {
		return nil, "", fmt.Errorf("pdf: generación fallida: %w", err)
	}
	return pdfBytes, fmt.Sprintf("factura_%s.pdf", rec.FullNumber), nil
}

// DownloadSignedXML devuelve el XML firmado del registro.
func (uc *PDFUseCase) DownloadSignedXML(ctx context.Context, recordID string) ([]byte, string, error) {
	rec, err := uc.store.Get(ctx, recordID)
	if err != nil {
		return nil, "", err
	}
	if len(rec.SignedXML) == 0 {
		return nil, "", fmt.Errorf("%w: el registro %s no tiene documento firmado", domain.ErrInvalidInput, recordID)
	}
	return rec.SignedXML, fmt.Sprintf("factura_%s.xml", rec.FullNumber), nil
}

func signedState(s entity.SubmissionState) bool {
	switch s {
	case entity.StateSigned, entity.StateSubmitting, entity.StateApproved, entity.StateRejected:
		return true
	}
	return false
}
