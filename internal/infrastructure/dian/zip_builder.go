package dian

import (
	"archive/zip"
	"bytes"
	"fmt"
	"strings"
	"time"
	"unicode"
)

// Attachment archivo que viaja en SendBillSync (fileName + contentFile).
type Attachment struct {
	FileName string
	Content  []byte
}

// NewAttachment arma el adjunto del documento firmado. Con asZip el XML va dentro de un
// ZIP de una sola entrada con el mismo nombre base. Sin NIT o sin número se usa un nombre
// derivado de la hora.
func NewAttachment(signedXML []byte, issuerNIT, fullNumber string, asZip bool, at time.Time) (Attachment, error) {
	xmlName, zipName := DIANFilenames(issuerNIT, fullNumber)
	if xmlName == "" {
		base := fmt.Sprintf("face_%s_%s", digitsOf(issuerNIT), at.Format("20060102150405"))
		xmlName, zipName = base+".xml", base+".zip"
	}
	if !asZip {
		return Attachment{FileName: xmlName, Content: signedXML}, nil
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.CreateHeader(&zip.FileHeader{Name: xmlName, Method: zip.Deflate, Modified: at})
	if err != nil {
		return Attachment{}, fmt.Errorf("zip %s: %w", zipName, err)
	}
	if _, err := w.Write(signedXML); err != nil {
		return Attachment{}, fmt.Errorf("zip %s: %w", zipName, err)
	}
	if err := zw.Close(); err != nil {
		return Attachment{}, fmt.Errorf("zip %s: %w", zipName, err)
	}
	return Attachment{FileName: zipName, Content: buf.Bytes()}, nil
}

// DIANFilenames nombres del XML y del ZIP: {NIT sin DV}{PREFIJO}{NÚMERO}.
// Ejemplo: 900123456 + FE1 => 900123456FE1.xml. Vacíos si falta el NIT o el número.
func DIANFilenames(issuerNIT, fullNumber string) (xmlName, zipName string) {
	nit, _, _ := strings.Cut(issuerNIT, "-")
	nit = digitsOf(nit)
	num := strings.NewReplacer(" ", "", "-", "").Replace(fullNumber)
	if nit == "" || num == "" {
		return "", ""
	}
	return nit + num + ".xml", nit + num + ".zip"
}

func digitsOf(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, s)
}
