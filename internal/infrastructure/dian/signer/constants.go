// Constantes para firma XAdES-EPES (Anexo Técnico 1.9 DIAN).

package signer

// Política de firma DIAN v2 (obligatoria para XAdES-EPES).
const (
	SignaturePolicyURLV2 = "https://facturaelectronica.dian.gov.co/politicadefirma/v2/politicadefirmav2.pdf"
	// SigPolicyHashDigest SHA-256 (Base64) del PDF de la política v2.
	SigPolicyHashDigest = "dMoMvtcG5aIzgYo0tIsSQeVJBDnUnfSOfBpxXrmor0Y="
)

// Namespaces y algoritmos XMLDSig / XAdES.
const (
	NamespaceDS        = "http://www.w3.org/2000/09/xmldsig#"
	NamespaceXAdES     = "http://uri.etsi.org/01903/v1.3.2#"
	AlgExcC14N         = "http://www.w3.org/2001/10/xml-exc-c14n#"
	AlgRSASHA256       = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha256"
	AlgSHA256          = "http://www.w3.org/2001/04/xmlenc#sha256"
	TransformEnveloped = "http://www.w3.org/2000/09/xmldsig#enveloped-signature"
	TypeSignedProps    = "http://uri.etsi.org/01903#SignedProperties"
)

// ExpiryWarningDays umbral de aviso por vencimiento próximo del certificado.
const ExpiryWarningDays = 30

// Ids de los nodos de la firma; todos derivan del CUFE.
func signatureID(cufe string) string { return "xmldsig-" + cufe }
func referenceID(cufe string) string { return "xmldsig-" + cufe + "-ref0" }
func signedPropsID(cufe string) string { return "xmldsig-" + cufe + "-signedprops" }
func signatureValueID(cufe string) string { return "xmldsig-" + cufe + "-sigvalue" }
