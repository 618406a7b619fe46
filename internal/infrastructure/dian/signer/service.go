// Servicio de firma digital XAdES-EPES para factura electrónica DIAN (Anexo 1.9).
// Inyecta <ds:Signature> en el segundo <ext:ExtensionContent> del XML.

package signer

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"

	"github.com/jhoicas/Facturacion-api/internal/domain"
)

var colombiaZone = time.FixedZone("COT", -5*60*60)

// DigitalSignatureService implementa la firma XAdES-EPES e inyecta el nodo en el XML.
type DigitalSignatureService struct {
	now func() time.Time
}

// NewDigitalSignatureService crea el servicio; now nil usa time.Now.
func NewDigitalSignatureService(now func() time.Time) *DigitalSignatureService {
	if now == nil {
		now = time.Now
	}
	return &DigitalSignatureService{now: now}
}

// Sign firma el XML en este orden: esqueleto de firma en el segundo ExtensionContent,
// digest C14N del documento sin la firma, SignedProperties, SignedInfo firmado RSA-SHA256 y KeyInfo.
// Cualquier fallo aborta; nunca se devuelve un documento firmado a medias.
func (s *DigitalSignatureService) Sign(xmlBytes []byte, cufe string, cert *Certificate) ([]byte, error) {
	if len(xmlBytes) == 0 {
		return nil, signingErr(errors.New("XML vacío"))
	}
	if strings.TrimSpace(cufe) == "" {
		return nil, signingErr(errors.New("CUFE vacío"))
	}
	if cert == nil || cert.PrivateKey == nil || cert.Leaf == nil {
		return nil, errors.Join(domain.ErrCertificate, errors.New("el certificado debe incluir llave privada RSA y hoja"))
	}
	now := s.now()
	if ok, msg := ValidateCertificate(cert, now); !ok {
		return nil, errors.Join(domain.ErrCertificate, errors.New(msg))
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(xmlBytes); err != nil {
		return nil, signingErr(fmt.Errorf("parsear XML: %w", err))
	}
	root := doc.Root()
	if root == nil {
		return nil, signingErr(errors.New("documento sin raíz"))
	}
	slot, err := signatureSlot(root)
	if err != nil {
		return nil, signingErr(err)
	}

	// 1) Esqueleto con DigestValue/SignatureValue vacíos, ya inyectado
	sig := buildSkeleton(cufe, cert, now)
	slot.AddChild(sig)

	// 2) Digest del documento con la transformada enveloped (firma removida)
	docDigest, err := documentDigest(root)
	if err != nil {
		return nil, signingErr(err)
	}
	setDigest(sig, referenceID(cufe), docDigest)

	// 3) Digest de SignedProperties
	props := sig.FindElement(".//xades:SignedProperties")
	propsDigest, err := elementDigest(props)
	if err != nil {
		return nil, signingErr(err)
	}
	setDigest(sig, "", propsDigest)

	// 4) SignedInfo canonicalizado y firmado
	signedInfo := sig.FindElement("./ds:SignedInfo")
	canonical, err := canonicalElement(signedInfo)
	if err != nil {
		return nil, signingErr(err)
	}
	hash := sha256.Sum256(canonical)
	value, err := rsa.SignPKCS1v15(rand.Reader, cert.PrivateKey, crypto.SHA256, hash[:])
	if err != nil {
		return nil, signingErr(fmt.Errorf("firmar SignedInfo: %w", err))
	}
	sig.FindElement("./ds:SignatureValue").SetText(base64.StdEncoding.EncodeToString(value))

	out, err := doc.WriteToBytes()
	if err != nil {
		return nil, signingErr(fmt.Errorf("serializar XML firmado: %w", err))
	}
	return out, nil
}

// Verify recalcula los digest y valida SignatureValue con el certificado embebido.
// Devuelve el certificado firmante.
func (s *DigitalSignatureService) Verify(signedXML []byte) (*x509.Certificate, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(signedXML); err != nil {
		return nil, signingErr(fmt.Errorf("parsear XML: %w", err))
	}
	root := doc.Root()
	if root == nil {
		return nil, signingErr(errors.New("documento sin raíz"))
	}
	sig := root.FindElement(".//ds:Signature")
	if sig == nil {
		return nil, signingErr(errors.New("el documento no tiene ds:Signature"))
	}

	certEl := sig.FindElement(".//ds:X509Certificate")
	if certEl == nil {
		return nil, signingErr(errors.New("falta ds:X509Certificate"))
	}
	der, err := base64.StdEncoding.DecodeString(strings.TrimSpace(certEl.Text()))
	if err != nil {
		return nil, signingErr(fmt.Errorf("decodificar certificado: %w", err))
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, signingErr(fmt.Errorf("parsear certificado: %w", err))
	}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, signingErr(errors.New("el certificado no tiene llave RSA"))
	}

	signedInfo := sig.FindElement("./ds:SignedInfo")
	if signedInfo == nil {
		return nil, signingErr(errors.New("falta ds:SignedInfo"))
	}
	for _, ref := range signedInfo.SelectElements("ds:Reference") {
		uri := ref.SelectAttrValue("URI", "")
		var got string
		if uri == "" {
			got, err = documentDigest(root)
		} else {
			target := root.FindElement(fmt.Sprintf(".//*[@Id='%s']", strings.TrimPrefix(uri, "#")))
			if target == nil {
				return nil, signingErr(fmt.Errorf("referencia %s no encontrada", uri))
			}
			got, err = elementDigest(target)
		}
		if err != nil {
			return nil, signingErr(err)
		}
		want := ref.FindElement("./ds:DigestValue")
		if want == nil || strings.TrimSpace(want.Text()) != got {
			return nil, signingErr(fmt.Errorf("digest de la referencia %q no coincide", uri))
		}
	}

	valueEl := sig.FindElement("./ds:SignatureValue")
	if valueEl == nil {
		return nil, signingErr(errors.New("falta ds:SignatureValue"))
	}
	value, err := base64.StdEncoding.DecodeString(strings.TrimSpace(valueEl.Text()))
	if err != nil {
		return nil, signingErr(fmt.Errorf("decodificar SignatureValue: %w", err))
	}
	canonical, err := canonicalElement(signedInfo)
	if err != nil {
		return nil, signingErr(err)
	}
	hash := sha256.Sum256(canonical)
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, hash[:], value); err != nil {
		return nil, signingErr(fmt.Errorf("SignatureValue inválido: %w", err))
	}
	return cert, nil
}

func signingErr(err error) error {
	return errors.Join(domain.ErrSigning, err)
}

// signatureSlot devuelve el segundo ext:ExtensionContent, que debe estar vacío.
func signatureSlot(root *etree.Element) (*etree.Element, error) {
	contents := root.FindElements("./ext:UBLExtensions/ext:UBLExtension/ext:ExtensionContent")
	if len(contents) < 2 {
		return nil, errors.New("no se encontró el segundo ext:ExtensionContent para inyectar la firma")
	}
	slot := contents[1]
	if len(slot.ChildElements()) > 0 {
		return nil, errors.New("el documento ya está firmado")
	}
	for _, tok := range append([]etree.Token(nil), slot.Child...) {
		slot.RemoveChild(tok)
	}
	return slot, nil
}

func buildSkeleton(cufe string, cert *Certificate, now time.Time) *etree.Element {
	sig := etree.NewElement("ds:Signature")
	sig.CreateAttr("xmlns:ds", NamespaceDS)
	sig.CreateAttr("xmlns:xades", NamespaceXAdES)
	sig.CreateAttr("Id", signatureID(cufe))

	si := sig.CreateElement("ds:SignedInfo")
	si.CreateElement("ds:CanonicalizationMethod").CreateAttr("Algorithm", AlgExcC14N)
	si.CreateElement("ds:SignatureMethod").CreateAttr("Algorithm", AlgRSASHA256)

	ref := si.CreateElement("ds:Reference")
	ref.CreateAttr("Id", referenceID(cufe))
	ref.CreateAttr("URI", "")
	tr := ref.CreateElement("ds:Transforms")
	tr.CreateElement("ds:Transform").CreateAttr("Algorithm", TransformEnveloped)
	tr.CreateElement("ds:Transform").CreateAttr("Algorithm", AlgExcC14N)
	ref.CreateElement("ds:DigestMethod").CreateAttr("Algorithm", AlgSHA256)
	ref.CreateElement("ds:DigestValue")

	propsRef := si.CreateElement("ds:Reference")
	propsRef.CreateAttr("Type", TypeSignedProps)
	propsRef.CreateAttr("URI", "#"+signedPropsID(cufe))
	propsRef.CreateElement("ds:DigestMethod").CreateAttr("Algorithm", AlgSHA256)
	propsRef.CreateElement("ds:DigestValue")

	sig.CreateElement("ds:SignatureValue").CreateAttr("Id", signatureValueID(cufe))

	x509Data := sig.CreateElement("ds:KeyInfo").CreateElement("ds:X509Data")
	x509Data.CreateElement("ds:X509Certificate").SetText(base64.StdEncoding.EncodeToString(cert.Leaf.Raw))
	for _, c := range cert.Chain {
		x509Data.CreateElement("ds:X509Certificate").SetText(base64.StdEncoding.EncodeToString(c.Raw))
	}

	qp := sig.CreateElement("ds:Object").CreateElement("xades:QualifyingProperties")
	qp.CreateAttr("Target", "#"+signatureID(cufe))
	props := qp.CreateElement("xades:SignedProperties")
	props.CreateAttr("Id", signedPropsID(cufe))
	ssp := props.CreateElement("xades:SignedSignatureProperties")
	ssp.CreateElement("xades:SigningTime").SetText(now.In(colombiaZone).Format("2006-01-02T15:04:05-07:00"))

	certDigest, issuer, serial := CertDigestAndIssuerSerial(cert.Leaf)
	xc := ssp.CreateElement("xades:SigningCertificate").CreateElement("xades:Cert")
	cd := xc.CreateElement("xades:CertDigest")
	cd.CreateElement("ds:DigestMethod").CreateAttr("Algorithm", AlgSHA256)
	cd.CreateElement("ds:DigestValue").SetText(certDigest)
	is := xc.CreateElement("xades:IssuerSerial")
	is.CreateElement("ds:X509IssuerName").SetText(issuer)
	is.CreateElement("ds:X509SerialNumber").SetText(serial)

	pid := ssp.CreateElement("xades:SignaturePolicyIdentifier").CreateElement("xades:SignaturePolicyId")
	pid.CreateElement("xades:SigPolicyId").CreateElement("xades:Identifier").SetText(SignaturePolicyURLV2)
	ph := pid.CreateElement("xades:SigPolicyHash")
	ph.CreateElement("ds:DigestMethod").CreateAttr("Algorithm", AlgSHA256)
	ph.CreateElement("ds:DigestValue").SetText(SigPolicyHashDigest)

	ssp.CreateElement("xades:SignerRole").CreateElement("xades:ClaimedRoles").
		CreateElement("xades:ClaimedRole").SetText("supplier")
	return sig
}

// setDigest llena el DigestValue de la referencia con Id refID, o la de SignedProperties si refID es vacío.
func setDigest(sig *etree.Element, refID, digest string) {
	for _, ref := range sig.FindElements("./ds:SignedInfo/ds:Reference") {
		if (refID != "" && ref.SelectAttrValue("Id", "") == refID) ||
			(refID == "" && ref.SelectAttrValue("Type", "") == TypeSignedProps) {
			ref.FindElement("./ds:DigestValue").SetText(digest)
		}
	}
}

// documentDigest SHA-256 del documento canonicalizado sin ds:Signature.
func documentDigest(root *etree.Element) (string, error) {
	c := root.Copy()
	if sig := c.FindElement(".//ds:Signature"); sig != nil {
		sig.Parent().RemoveChild(sig)
	}
	return elementDigest(c)
}

func elementDigest(el *etree.Element) (string, error) {
	if el == nil {
		return "", errors.New("elemento a firmar no encontrado")
	}
	canonical, err := canonicalElement(el)
	if err != nil {
		return "", err
	}
	h := sha256.Sum256(canonical)
	return base64.StdEncoding.EncodeToString(h[:]), nil
}

// excC14N canonicalización exclusiva (xml-exc-c14n#) sin InclusiveNamespaces.
var excC14N = dsig.MakeC14N10ExclusiveCanonicalizerWithPrefixList("")

// canonicalElement canonicaliza el elemento como nodo independiente: primero se le declaran los
// namespaces heredados; la canonicalización exclusiva solo emite los prefijos usados.
func canonicalElement(el *etree.Element) ([]byte, error) {
	out, err := excC14N.Canonicalize(detach(el))
	if err != nil {
		return nil, fmt.Errorf("C14N: %w", err)
	}
	return out, nil
}

// detach copia el elemento con las declaraciones xmlns de sus ancestros que no redefine.
func detach(el *etree.Element) *etree.Element {
	c := el.Copy()
	declared := map[string]bool{}
	for _, a := range c.Attr {
		if key, ok := nsDecl(a); ok {
			declared[key] = true
		}
	}
	for p := el.Parent(); p != nil; p = p.Parent() {
		for _, a := range p.Attr {
			key, ok := nsDecl(a)
			if !ok || declared[key] {
				continue
			}
			declared[key] = true
			c.CreateAttr(a.FullKey(), a.Value)
		}
	}
	return c
}

func nsDecl(a etree.Attr) (string, bool) {
	switch {
	case a.Space == "" && a.Key == "xmlns":
		return "xmlns", true
	case a.Space == "xmlns":
		return "xmlns:" + a.Key, true
	}
	return "", false
}
