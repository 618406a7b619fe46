package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Errores de dominio (sin dependencias externas).
var (
	ErrNotFound     = errors.New("recurso no encontrado")
	ErrInvalidInput = errors.New("entrada inválida")
	ErrUnauthorized = errors.New("no autorizado")
	ErrForbidden    = errors.New("acceso denegado")
	ErrConflict     = errors.New("conflicto con el estado actual")
)

// Taxonomía de errores del flujo de facturación electrónica.
var (
	// ErrConfiguration: identidad fiscal, resolución o certificado incompletos.
	ErrConfiguration = errors.New("configuración DIAN incompleta")
	// ErrRangeExhausted: se agotó la numeración de la resolución.
	ErrRangeExhausted = errors.New("numeración de la resolución agotada")
	// ErrBuild: datos insuficientes para construir el documento.
	ErrBuild = errors.New("no se pudo construir el documento")
	// ErrCertificate: certificado vencido, ilegible o contraseña incorrecta.
	ErrCertificate = errors.New("certificado digital inválido")
	// ErrSigning: falla en cualquier paso de la firma XAdES.
	ErrSigning = errors.New("error firmando el documento")
	// ErrNetwork: timeout o falla de transporte con la DIAN. Reintentable.
	ErrNetwork = errors.New("error de comunicación con la DIAN")
	// ErrMalformedResponse: la DIAN respondió algo que no se puede interpretar.
	ErrMalformedResponse = errors.New("respuesta de la DIAN no interpretable")
	// ErrRejection: la DIAN rechazó el documento.
	ErrRejection = errors.New("documento rechazado por la DIAN")
	// ErrInvalidTransition: transición de estado no permitida.
	ErrInvalidTransition = errors.New("transición de estado inválida")
)

// RejectionError conserva literalmente la respuesta de rechazo de la DIAN.
type RejectionError struct {
	Code        string
	Description string
	Message     string
	Errors      []string
}

func (e *RejectionError) Error() string {
	var b strings.Builder
	b.WriteString(ErrRejection.Error())
	if e.Code != "" {
		fmt.Fprintf(&b, " [%s]", e.Code)
	}
	if e.Description != "" {
		b.WriteString(": " + e.Description)
	}
	if len(e.Errors) > 0 {
		b.WriteString(". Errores: " + strings.Join(e.Errors, "; "))
	}
	return b.String()
}

// Is permite errors.Is(err, ErrRejection).
func (e *RejectionError) Is(target error) bool {
	return target == ErrRejection
}

// Kind devuelve el error de la taxonomía que corresponde a err (nil si no aplica).
func Kind(err error) error {
	for _, k := range []error{
		ErrConfiguration, ErrRangeExhausted, ErrBuild, ErrCertificate,
		ErrSigning, ErrNetwork, ErrMalformedResponse, ErrRejection,
		ErrInvalidTransition, ErrConflict, ErrNotFound,
	} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
