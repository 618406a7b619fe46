// Package dian contiene catálogos y validaciones alineados al Anexo Técnico
// de Factura Electrónica de Venta DIAN (Colombia) v1.9.
package dian

import "strings"

// Tabla 17, responsabilidades fiscales del RUT. El anexo las escribe "0-XX";
// aquí se normalizan a "O-XX".
const (
	TaxLevelGranContribuyente  = "O-13"
	TaxLevelAutorretenedor     = "O-15"
	TaxLevelAgenteRetencionIVA = "O-23"
	TaxLevelRegimenSimple      = "O-47"
	TaxLevelResponsableIVA     = "O-48"
	TaxLevelNoResponsableIVA   = "O-49"
	TaxLevelNoAplicaOtros      = "R-99-PN"
)

var fiscalResponsibilities = map[string]string{
	TaxLevelGranContribuyente:  "Gran contribuyente",
	TaxLevelAutorretenedor:     "Autorretenedor",
	TaxLevelAgenteRetencionIVA: "Agente de retención IVA",
	TaxLevelRegimenSimple:      "Régimen simple de tributación",
	TaxLevelResponsableIVA:     "Responsable de IVA",
	TaxLevelNoResponsableIVA:   "No responsable de IVA",
	TaxLevelNoAplicaOtros:      "No aplica - Otros",
}

// NormalizeResponsibility pasa "0-13" a "O-13" y quita espacios.
func NormalizeResponsibility(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if strings.HasPrefix(code, "0-") {
		code = "O-" + code[2:]
	}
	return code
}

// ValidFiscalResponsibility indica si el código está en la tabla 17.
func ValidFiscalResponsibility(code string) bool {
	_, ok := fiscalResponsibilities[NormalizeResponsibility(code)]
	return ok
}

// Tabla 6, unidades de medida (UN/ECE rec. 20) de uso frecuente.
const (
	UnitUnit        = "94"
	UnitPiece       = "NIU"
	UnitKilogram    = "KGM"
	UnitGram        = "GRM"
	UnitLitre       = "LTR"
	UnitMetre       = "MTR"
	UnitSquareMetre = "MTK"
	UnitCubicMetre  = "MTQ"
	UnitDozen       = "DZN"
	UnitHour        = "HUR"
	UnitDay         = "DAY"
	UnitService     = "ZZ"
)

var unitCodes = map[string]bool{
	UnitUnit: true, UnitPiece: true, UnitKilogram: true, UnitGram: true, UnitLitre: true,
	UnitMetre: true, UnitSquareMetre: true, UnitCubicMetre: true, UnitDozen: true,
	UnitHour: true, UnitDay: true, UnitService: true,
}

// ValidUnitCode indica si la unidad está en el catálogo.
func ValidUnitCode(code string) bool { return unitCodes[code] }

// Tabla 14, forma de pago.
const (
	PaymentFormContado = "1"
	PaymentFormCredito = "2"
)

// Tabla 13, medios de pago de uso frecuente.
const (
	PaymentMethodEfectivo       = "10"
	PaymentMethodCheque         = "20"
	PaymentMethodConsignacion   = "42"
	PaymentMethodTransferencia  = "47"
	PaymentMethodTarjetaCredito = "48"
	PaymentMethodTarjetaDebito  = "49"
	PaymentMethodAcuerdo        = "ZZZ"
)

var paymentForms = map[string]string{
	PaymentFormContado: "Contado",
	PaymentFormCredito: "Crédito",
}

var paymentMethods = map[string]string{
	PaymentMethodEfectivo:       "Efectivo",
	PaymentMethodCheque:         "Cheque",
	PaymentMethodConsignacion:   "Consignación",
	PaymentMethodTransferencia:  "Transferencia débito bancaria",
	PaymentMethodTarjetaCredito: "Tarjeta crédito",
	PaymentMethodTarjetaDebito:  "Tarjeta débito",
	PaymentMethodAcuerdo:        "Acuerdo mutuo",
}

// PaymentFormName nombre de la forma de pago.
func PaymentFormName(code string) (string, bool) {
	n, ok := paymentForms[code]
	return n, ok
}

// PaymentMethodName nombre del medio de pago.
func PaymentMethodName(code string) (string, bool) {
	n, ok := paymentMethods[code]
	return n, ok
}

// Tabla 11, tributos.
const (
	TaxCodeIVA     = "01"
	TaxCodeINC     = "04"
	TaxCodeReteIVA = "05"
)

// Tabla 3, tipos de identificación.
const (
	IdentificationTypeTI  = "11"
	IdentificationTypeCC  = "13"
	IdentificationTypeCE  = "22"
	IdentificationTypeNIT = "31" // requiere DV
	IdentificationTypePA  = "41"
)

var identificationSchemes = map[string]string{
	"TI":  IdentificationTypeTI,
	"CC":  IdentificationTypeCC,
	"CE":  IdentificationTypeCE,
	"NIT": IdentificationTypeNIT,
	"PA":  IdentificationTypePA,
}

// IdentificationScheme devuelve el código DIAN del tipo de documento.
// Si el tipo no está en la tabla devuelve CC (13) y ok=false; el llamador debe registrar la advertencia.
func IdentificationScheme(docType string) (code string, ok bool) {
	code, ok = identificationSchemes[strings.ToUpper(strings.TrimSpace(docType))]
	if !ok {
		return IdentificationTypeCC, false
	}
	return code, true
}
