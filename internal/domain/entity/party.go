package entity

// Address dirección en formato DIAN (códigos DANE).
type Address struct {
	Line           string
	CityCode       string // ej: 11001
	CityName       string
	DepartmentCode string // ej: 11
	DepartmentName string
	PostalCode     string
	CountryCode    string // CO por defecto
}

// Issuer identidad fiscal del facturador electrónico.
type Issuer struct {
	DocumentType           string `validate:"required"`
	NIT                    string `validate:"required,numeric"`
	DV                     string `validate:"required,len=1,numeric"`
	LegalName              string `validate:"required"`
	TradeName              string
	Address                Address
	Phone                  string
	Email                  string
	FiscalResponsibilities []string // O-13, O-48, R-99-PN ...
}

// NITWithDV devuelve NIT-DV (ej: 900123456-7).
func (i Issuer) NITWithDV() string {
	if i.DV == "" {
		return i.NIT
	}
	return i.NIT + "-" + i.DV
}

// Receiver adquiriente de la factura.
type Receiver struct {
	DocumentType   string // CC, CE, NIT, PA, TI
	DocumentNumber string
	Name           string
	Email          string
	Phone          string
	Address        Address
}

// IsCompany indica si el adquiriente es persona jurídica.
func (r Receiver) IsCompany() bool {
	return r.DocumentType == "NIT"
}
