// Package dian genera el XML UBL 2.1 de factura electrónica DIAN (Colombia) y lo envía al
// web service SOAP de validación previa, o a un mock en memoria para pruebas.
package dian

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/jhoicas/Facturacion-api/internal/domain"
	domaindian "github.com/jhoicas/Facturacion-api/internal/domain/dian"
	"github.com/jhoicas/Facturacion-api/internal/domain/entity"
	"github.com/jhoicas/Facturacion-api/pkg/dian"
)

const (
	currencyCOP        = "COP"
	defaultUnitCode    = dian.UnitPiece
	dianAgencyID       = "195"
	dianAgencyName     = "CO, DIAN (Dirección de Impuestos y Aduanas Nacionales)"
	invoiceTypeCode    = "01"
	rootID             = "invoice-id"
	defaultCityCode    = "11001"
	defaultCityName    = "Bogotá"
	defaultDeptCode    = "11"
	defaultDeptName    = "Cundinamarca"
	defaultPostalCode  = "110111"
	defaultCountryCode = "CO"
)

// XMLBuilderService construye el XML UBL 2.1 de la factura (sin firma XAdES).
type XMLBuilderService struct {
	ns  Namespaces
	log zerolog.Logger
}

// NewXMLBuilderService crea el servicio con la tabla de namespaces dada.
func NewXMLBuilderService(ns Namespaces, log zerolog.Logger) *XMLBuilderService {
	return &XMLBuilderService{ns: ns, log: log}
}

// Build genera el documento Invoice según UBL 2.1 y extensiones DIAN.
// La factura se valida antes de escribir cualquier byte; un documento inválido no se emite.
func (s *XMLBuilderService) Build(inv *entity.InvoiceData, res *entity.ResolutionInfo, cufe string) (*entity.BuiltDocument, error) {
	if err := domaindian.ValidateInvoice(inv, res); err != nil {
		return nil, err
	}
	if !domaindian.ValidateCUFE(cufe) {
		return nil, errors.Join(domain.ErrBuild, fmt.Errorf("CUFE inválido: se esperaban %d caracteres hex", domaindian.CufeLength))
	}

	b := &ublBuilder{ns: s.ns, inv: inv, res: res, cufe: cufe}
	out, err := b.build()
	if err != nil {
		return nil, errors.Join(domain.ErrBuild, err)
	}
	for _, w := range b.warnings {
		s.log.Warn().Str("factura", inv.FullNumber()).Msg(w)
	}
	return &entity.BuiltDocument{XML: out, Warnings: b.warnings}, nil
}

// ublBuilder estado de una sola construcción.
type ublBuilder struct {
	ns       Namespaces
	inv      *entity.InvoiceData
	res      *entity.ResolutionInfo
	cufe     string
	w        *tokenWriter
	warnings []string
}

func (b *ublBuilder) build() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	b.w = &tokenWriter{enc: enc}

	root := append([]xml.Attr{attr("Id", rootID)}, b.ns.rootAttrs()...)
	b.w.start("Invoice", root...)

	// ext:UBLExtensions siempre como primer hijo de Invoice (el firmador inyecta en la segunda extensión)
	b.writeUBLExtensions()
	b.writeHeader()
	b.writeSupplierParty()
	b.writeCustomerParty()
	b.writePaymentMeans()
	b.writeResolutionReference()
	b.writeTaxTotal()
	b.writeLegalMonetaryTotal()
	for i := range b.inv.Lines {
		b.writeInvoiceLine(i+1, b.inv.Lines[i])
	}

	b.w.end("Invoice")
	if err := b.w.flush(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (b *ublBuilder) warn(format string, args ...any) {
	b.warnings = append(b.warnings, fmt.Sprintf(format, args...))
}

func (b *ublBuilder) writeUBLExtensions() {
	w := b.w
	w.start("ext:UBLExtensions")

	w.start("ext:UBLExtension")
	w.start("ext:ExtensionContent")
	w.start("sts:DianExtensions")
	w.start("sts:InvoiceControl")
	w.text("sts:InvoiceAuthorization", b.res.ResolutionNumber)
	w.start("sts:AuthorizationPeriod")
	w.cbc("StartDate", b.res.DateFrom.Format("2006-01-02"))
	w.cbc("EndDate", b.res.DateTo.Format("2006-01-02"))
	w.end("sts:AuthorizationPeriod")
	w.start("sts:AuthorizedInvoices")
	if b.res.Prefix != "" {
		w.text("sts:Prefix", b.res.Prefix)
	}
	w.text("sts:From", strconv.FormatInt(b.res.RangeFrom, 10))
	w.text("sts:To", strconv.FormatInt(b.res.RangeTo, 10))
	w.end("sts:AuthorizedInvoices")
	w.end("sts:InvoiceControl")
	w.start("sts:InvoiceSource")
	w.cbc("IdentificationCode", defaultCountryCode, attr("listAgencyID", "6"), attr("listAgencyName", "United Nations Economic Commission for Europe"))
	w.end("sts:InvoiceSource")
	w.end("sts:DianExtensions")
	w.end("ext:ExtensionContent")
	w.end("ext:UBLExtension")

	// Placeholder vacío para ds:Signature
	w.start("ext:UBLExtension")
	w.start("ext:ExtensionContent")
	w.end("ext:ExtensionContent")
	w.end("ext:UBLExtension")

	w.end("ext:UBLExtensions")
}

func (b *ublBuilder) writeHeader() {
	w, inv := b.w, b.inv
	issued := inv.IssuedAt.In(domaindian.ColombiaZone())

	w.cbc("UBLVersionID", "UBL 2.1")
	w.cbc("CustomizationID", "10")
	w.cbc("ProfileID", "DIAN 2.1: Factura Electrónica de Venta")
	w.cbc("ProfileExecutionID", inv.Environment)
	w.cbc("ID", inv.FullNumber())
	w.cbc("UUID", b.cufe, attr("schemeID", inv.Environment), attr("schemeName", "CUFE-SHA384"))
	w.cbc("IssueDate", issued.Format("2006-01-02"))
	w.cbc("IssueTime", issued.Format("15:04:05")+"-05:00")
	if inv.DueDate != nil {
		w.cbc("DueDate", inv.DueDate.Format("2006-01-02"))
	}
	w.cbc("InvoiceTypeCode", invoiceTypeCode)
	if strings.TrimSpace(inv.Notes) != "" {
		w.cbc("Note", inv.Notes)
	}
	w.cbc("DocumentCurrencyCode", currencyCOP)
	w.cbc("LineCountNumeric", strconv.Itoa(len(inv.Lines)))
}

func (b *ublBuilder) schemeFor(party, docType string) string {
	code, ok := dian.IdentificationScheme(docType)
	if !ok {
		b.warn("tipo de documento %q del %s no reconocido; se usa %s", docType, party, code)
	}
	return code
}

func (b *ublBuilder) writeSupplierParty() {
	w, is := b.w, b.inv.Issuer
	scheme := b.schemeFor("emisor", is.DocumentType)
	idAttrs := []xml.Attr{
		attr("schemeAgencyID", dianAgencyID),
		attr("schemeAgencyName", dianAgencyName),
		attr("schemeID", is.DV),
		attr("schemeName", scheme),
	}

	w.start("cac:AccountingSupplierParty")
	w.cbc("AdditionalAccountID", "1")
	w.start("cac:Party")

	w.start("cac:PartyIdentification")
	w.cbc("ID", is.NIT, idAttrs...)
	w.end("cac:PartyIdentification")

	name := is.TradeName
	if name == "" {
		name = is.LegalName
	}
	w.start("cac:PartyName")
	w.cbc("Name", name)
	w.end("cac:PartyName")

	w.start("cac:PhysicalLocation")
	b.writeAddress(is.Address, true)
	w.end("cac:PhysicalLocation")

	w.start("cac:PartyTaxScheme")
	w.cbc("RegistrationName", is.LegalName)
	w.cbc("CompanyID", is.NIT, idAttrs...)
	w.cbc("TaxLevelCode", b.responsibilities(), attr("listName", "48"))
	w.start("cac:TaxScheme")
	w.cbc("ID", dian.TaxCodeIVA)
	w.cbc("Name", "IVA")
	w.end("cac:TaxScheme")
	w.end("cac:PartyTaxScheme")

	w.start("cac:PartyLegalEntity")
	w.cbc("RegistrationName", is.LegalName)
	w.cbc("CompanyID", is.NIT, idAttrs...)
	w.end("cac:PartyLegalEntity")

	b.writeContact(is.Phone, is.Email)

	w.end("cac:Party")
	w.end("cac:AccountingSupplierParty")
}

// responsibilities une los códigos de responsabilidad fiscal con ';'.
func (b *ublBuilder) responsibilities() string {
	codes := b.inv.Issuer.FiscalResponsibilities
	if len(codes) == 0 {
		return dian.TaxLevelNoAplicaOtros
	}
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		if !dian.ValidFiscalResponsibility(c) {
			b.warn("responsabilidad fiscal %q no está en la tabla DIAN", c)
		}
		out = append(out, dian.NormalizeResponsibility(c))
	}
	return strings.Join(out, ";")
}

func (b *ublBuilder) writeCustomerParty() {
	w, rc := b.w, b.inv.Receiver
	scheme := b.schemeFor("adquiriente", rc.DocumentType)
	accountID := "2"
	if rc.IsCompany() {
		accountID = "1"
	}
	idAttrs := []xml.Attr{
		attr("schemeAgencyID", dianAgencyID),
		attr("schemeID", strings.ToUpper(strings.TrimSpace(rc.DocumentType))),
		attr("schemeName", scheme),
	}

	w.start("cac:AccountingCustomerParty")
	w.cbc("AdditionalAccountID", accountID)
	w.start("cac:Party")

	w.start("cac:PartyIdentification")
	w.cbc("ID", rc.DocumentNumber, idAttrs...)
	w.end("cac:PartyIdentification")

	w.start("cac:PartyName")
	w.cbc("Name", rc.Name)
	w.end("cac:PartyName")

	if rc.Address.Line != "" {
		w.start("cac:PhysicalLocation")
		b.writeAddress(rc.Address, false)
		w.end("cac:PhysicalLocation")
	}

	w.start("cac:PartyLegalEntity")
	w.cbc("RegistrationName", rc.Name)
	w.cbc("CompanyID", rc.DocumentNumber, idAttrs...)
	w.end("cac:PartyLegalEntity")

	b.writeContact(rc.Phone, rc.Email)

	w.end("cac:Party")
	w.end("cac:AccountingCustomerParty")
}

// writeAddress escribe cac:Address; el emisor completa con Bogotá si faltan datos.
func (b *ublBuilder) writeAddress(a entity.Address, defaults bool) {
	w := b.w
	pick := func(v, def string) string {
		if v == "" && defaults {
			return def
		}
		return v
	}
	country := a.CountryCode
	if country == "" {
		country = defaultCountryCode
	}

	w.start("cac:Address")
	w.cbcOpt("ID", pick(a.CityCode, defaultCityCode))
	w.cbcOpt("CityName", pick(a.CityName, defaultCityName))
	w.cbcOpt("PostalZone", pick(a.PostalCode, defaultPostalCode))
	w.cbcOpt("CountrySubentity", pick(a.DepartmentName, defaultDeptName))
	w.cbcOpt("CountrySubentityCode", pick(a.DepartmentCode, defaultDeptCode))
	if a.Line != "" {
		w.start("cac:AddressLine")
		w.cbc("Line", a.Line)
		w.end("cac:AddressLine")
	}
	w.start("cac:Country")
	w.cbc("IdentificationCode", country)
	if country == defaultCountryCode {
		w.cbc("Name", "Colombia", attr("languageID", "es"))
	}
	w.end("cac:Country")
	w.end("cac:Address")
}

func (b *ublBuilder) writeContact(phone, email string) {
	if phone == "" && email == "" {
		return
	}
	w := b.w
	w.start("cac:Contact")
	w.cbcOpt("Telephone", phone)
	w.cbcOpt("ElectronicMail", email)
	w.end("cac:Contact")
}

// writePaymentMeans forma de pago (1=contado, 2=crédito) y medio (10=efectivo por defecto).
func (b *ublBuilder) writePaymentMeans() {
	w, inv := b.w, b.inv
	form := inv.PaymentFormCode
	if form == "" {
		form = dian.PaymentFormContado
	}
	method := inv.PaymentMethodCode
	if method == "" {
		method = dian.PaymentMethodEfectivo
	}
	w.start("cac:PaymentMeans")
	w.cbc("ID", form)
	w.cbc("PaymentMeansCode", method)
	if form == dian.PaymentFormCredito && inv.DueDate != nil {
		w.cbc("PaymentDueDate", inv.DueDate.Format("2006-01-02"))
	}
	w.end("cac:PaymentMeans")
}

func (b *ublBuilder) writeResolutionReference() {
	w, res := b.w, b.res
	w.start("cac:InvoiceDocumentReference")
	w.cbc("ID", res.ResolutionNumber)
	w.cbc("IssueDate", res.DateFrom.Format("2006-01-02"))
	w.cbc("DocumentDescription", fmt.Sprintf("Prefijo: %s, Rango: %d-%d", res.Prefix, res.RangeFrom, res.RangeTo))
	w.end("cac:InvoiceDocumentReference")
}

// writeTaxTotal un cac:TaxSubtotal por tarifa con base gravable; cada monto sale de su propio campo.
func (b *ublBuilder) writeTaxTotal() {
	w, t := b.w, b.inv.Totals
	w.start("cac:TaxTotal")
	w.amount("TaxAmount", t.TaxTotal)
	for _, bucket := range t.TaxBuckets {
		if bucket.TaxableAmount.IsZero() && bucket.Amount.IsZero() {
			continue
		}
		b.writeTaxSubtotal(bucket.TaxableAmount, bucket.Amount, bucket.Rate)
	}
	w.end("cac:TaxTotal")
}

func (b *ublBuilder) writeTaxSubtotal(base, amount, rate decimal.Decimal) {
	w := b.w
	w.start("cac:TaxSubtotal")
	w.amount("TaxableAmount", base)
	w.amount("TaxAmount", amount)
	w.start("cac:TaxCategory")
	w.cbc("Percent", formatDecimal(rate))
	w.start("cac:TaxScheme")
	w.cbc("ID", dian.TaxCodeIVA)
	w.cbc("Name", "IVA")
	w.end("cac:TaxScheme")
	w.end("cac:TaxCategory")
	w.end("cac:TaxSubtotal")
}

func (b *ublBuilder) writeLegalMonetaryTotal() {
	w, t := b.w, b.inv.Totals
	w.start("cac:LegalMonetaryTotal")
	w.amount("LineExtensionAmount", t.Subtotal)
	w.amount("TaxExclusiveAmount", t.TaxableBase)
	w.amount("TaxInclusiveAmount", t.GrandTotal)
	if t.Discount.IsPositive() {
		w.amount("AllowanceTotalAmount", t.Discount)
	}
	w.amount("PayableAmount", t.GrandTotal)
	w.end("cac:LegalMonetaryTotal")
}

func (b *ublBuilder) writeInvoiceLine(n int, line entity.InvoiceLine) {
	w := b.w
	unit := line.UnitCode
	if unit == "" {
		unit = defaultUnitCode
	} else if !dian.ValidUnitCode(unit) {
		b.warn("línea %d: unidad %q no está en el catálogo DIAN", n, unit)
	}

	w.start("cac:InvoiceLine")
	w.cbc("ID", strconv.Itoa(n))
	w.cbc("InvoicedQuantity", formatDecimal(line.Quantity), attr("unitCode", unit))
	w.amount("LineExtensionAmount", line.Subtotal)

	if line.Discount.IsPositive() {
		w.start("cac:AllowanceCharge")
		w.cbc("ID", "1")
		w.cbc("ChargeIndicator", "false")
		w.cbc("MultiplierFactorNumeric", formatDecimal(line.DiscountPercent))
		w.amount("Amount", line.Discount)
		w.amount("BaseAmount", line.Subtotal)
		w.end("cac:AllowanceCharge")
	}

	if line.TaxRate.IsPositive() {
		w.start("cac:TaxTotal")
		w.amount("TaxAmount", line.Tax)
		b.writeTaxSubtotal(line.TaxBase, line.Tax, line.TaxRate)
		w.end("cac:TaxTotal")
	}

	w.start("cac:Item")
	w.cbc("Description", line.Description)
	if line.Code != "" {
		w.start("cac:StandardItemIdentification")
		w.cbc("ID", line.Code, attr("schemeID", "999"))
		w.end("cac:StandardItemIdentification")
	}
	w.end("cac:Item")

	w.start("cac:Price")
	w.amount("PriceAmount", line.UnitPrice)
	w.cbc("BaseQuantity", formatDecimal(line.Quantity), attr("unitCode", unit))
	w.end("cac:Price")

	w.end("cac:InvoiceLine")
}

func formatDecimal(d decimal.Decimal) string {
	return d.Round(2).StringFixed(2)
}

// tokenWriter envuelve el encoder y conserva el primer error; las escrituras posteriores no hacen nada.
// Los nombres van con prefijo en Local para que el documento use cbc:/cac: y no xmlns por elemento.
type tokenWriter struct {
	enc *xml.Encoder
	err error
}

func (t *tokenWriter) token(tok xml.Token) {
	if t.err != nil {
		return
	}
	t.err = t.enc.EncodeToken(tok)
}

func (t *tokenWriter) start(name string, attrs ...xml.Attr) {
	t.token(xml.StartElement{Name: xml.Name{Local: name}, Attr: attrs})
}

func (t *tokenWriter) end(name string) {
	t.token(xml.EndElement{Name: xml.Name{Local: name}})
}

func (t *tokenWriter) text(name, value string, attrs ...xml.Attr) {
	t.start(name, attrs...)
	t.token(xml.CharData(value))
	t.end(name)
}

func (t *tokenWriter) cbc(local, value string, attrs ...xml.Attr) {
	t.text("cbc:"+local, value, attrs...)
}

// cbcOpt omite el elemento si el valor está vacío.
func (t *tokenWriter) cbcOpt(local, value string) {
	if value != "" {
		t.cbc(local, value)
	}
}

func (t *tokenWriter) amount(local string, d decimal.Decimal) {
	t.cbc(local, formatDecimal(d), attr("currencyID", currencyCOP))
}

func (t *tokenWriter) flush() error {
	if t.err != nil {
		return t.err
	}
	return t.enc.Flush()
}
