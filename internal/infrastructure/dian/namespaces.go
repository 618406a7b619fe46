package dian

import "encoding/xml"

// Namespaces oficiales UBL 2.1 y DIAN que se declaran en la raíz del documento.
// Se pasan explícitamente al builder; no hay registro global de prefijos.
type Namespaces struct {
	Invoice        string // namespace por defecto (UBL Invoice)
	Cac            string // Common Aggregate Components
	Cbc            string // Common Basic Components
	Ext            string // Extension Components
	Sts            string // DIAN Extensions
	Ds             string // XML Digital Signature
	Xades          string // XAdES 1.3.2
	Xades141       string // XAdES 1.4.1
	Xsi            string // XML Schema Instance
	SchemaLocation string
}

// DefaultNamespaces devuelve la tabla del Anexo Técnico.
func DefaultNamespaces() Namespaces {
	return Namespaces{
		Invoice:        "urn:oasis:names:specification:ubl:schema:xsd:Invoice-2",
		Cac:            "urn:oasis:names:specification:ubl:schema:xsd:CommonAggregateComponents-2",
		Cbc:            "urn:oasis:names:specification:ubl:schema:xsd:CommonBasicComponents-2",
		Ext:            "urn:oasis:names:specification:ubl:schema:xsd:CommonExtensionComponents-2",
		Sts:            "dian:gov:co:facturaelectronica:Structures-2-1",
		Ds:             "http://www.w3.org/2000/09/xmldsig#",
		Xades:          "http://uri.etsi.org/01903/v1.3.2#",
		Xades141:       "http://uri.etsi.org/01903/v1.4.1#",
		Xsi:            "http://www.w3.org/2001/XMLSchema-instance",
		SchemaLocation: "urn:oasis:names:specification:ubl:schema:xsd:Invoice-2 http://docs.oasis-open.org/ubl/os-UBL-2.1/xsd/maindoc/UBL-Invoice-2.1.xsd",
	}
}

// rootAttrs declaraciones xmlns de la raíz, en orden fijo.
func (n Namespaces) rootAttrs() []xml.Attr {
	return []xml.Attr{
		attr("xmlns", n.Invoice),
		attr("xmlns:cac", n.Cac),
		attr("xmlns:cbc", n.Cbc),
		attr("xmlns:ds", n.Ds),
		attr("xmlns:ext", n.Ext),
		attr("xmlns:sts", n.Sts),
		attr("xmlns:xades", n.Xades),
		attr("xmlns:xades141", n.Xades141),
		attr("xmlns:xsi", n.Xsi),
		attr("xsi:schemaLocation", n.SchemaLocation),
	}
}

func attr(name, value string) xml.Attr {
	return xml.Attr{Name: xml.Name{Local: name}, Value: value}
}
