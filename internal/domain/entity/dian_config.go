package entity

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/jhoicas/Facturacion-api/internal/domain"
	"github.com/jhoicas/Facturacion-api/pkg/dian"
)

// DianConfig configuración activa de facturación electrónica: identidad fiscal,
// resolución, certificado y ambiente. Se valida una sola vez al inicio del flujo.
type DianConfig struct {
	Environment  string `validate:"oneof=1 2"`
	Issuer       Issuer
	ResolutionID string `validate:"required"` // fila del asignador de consecutivos
	Resolution   ResolutionInfo
	CertPath     string `validate:"required"`
	CertPassword string
	CertKeyPath  string // solo para certificados PEM de desarrollo
	QRURL        string `validate:"omitempty,url"`
}

var validate = validator.New()

// Validate comprueba que la configuración esté completa. Los errores envuelven domain.ErrConfiguration.
func (c DianConfig) Validate() error {
	err := validate.Struct(c)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", domain.ErrConfiguration, err)
	}
	errs := []error{domain.ErrConfiguration}
	for _, fe := range verrs {
		errs = append(errs, fmt.Errorf("campo %s no cumple la regla %q", fe.Namespace(), fe.Tag()))
	}
	return errors.Join(errs...)
}

// NITWarning devuelve una advertencia si el dígito de verificación no corresponde al NIT.
func (c DianConfig) NITWarning() string {
	if c.Issuer.DV == "" {
		return ""
	}
	if err := dian.CheckVerificationDigit(c.Issuer.NIT, c.Issuer.DV); err != nil {
		return strings.TrimPrefix(err.Error(), "dian: ")
	}
	return ""
}

// IsProduction indica si la configuración apunta al ambiente de producción.
func (c DianConfig) IsProduction() bool {
	return c.Environment == EnvironmentProduction
}
