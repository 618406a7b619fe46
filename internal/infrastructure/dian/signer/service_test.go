package signer_test

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"software.sslmate.com/src/go-pkcs12"

	"github.com/jhoicas/Facturacion-api/internal/domain"
	"github.com/jhoicas/Facturacion-api/internal/infrastructure/dian/signer"
)

const cufe = "79b4358365f5446711a1dad9138917a664ae26383f8fa9b15bb63c1f3934336997ee848ec088e0ba0935c2200fb6b2aa"

const unsignedXML = `<?xml version="1.0" encoding="UTF-8"?>
<Invoice xmlns="urn:oasis:names:specification:ubl:schema:xsd:Invoice-2" xmlns:cbc="urn:oasis:names:specification:ubl:schema:xsd:CommonBasicComponents-2" xmlns:ext="urn:oasis:names:specification:ubl:schema:xsd:CommonExtensionComponents-2" xmlns:ds="http://www.w3.org/2000/09/xmldsig#" xmlns:xades="http://uri.etsi.org/01903/v1.3.2#" Id="invoice-id">
  <ext:UBLExtensions>
    <ext:UBLExtension>
      <ext:ExtensionContent><cbc:Note>control</cbc:Note></ext:ExtensionContent>
    </ext:UBLExtension>
    <ext:UBLExtension>
      <ext:ExtensionContent></ext:ExtensionContent>
    </ext:UBLExtension>
  </ext:UBLExtensions>
  <cbc:ID>FE1</cbc:ID>
  <cbc:UUID>` + cufe + `</cbc:UUID>
  <cbc:PayableAmount currencyID="COP">119000.00</cbc:PayableAmount>
</Invoice>`

var now = time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC)

// ── helpers ───────────────────────────────────────────────────────────────────

func selfSigned(t *testing.T, notBefore, notAfter time.Time) (*rsa.PrivateKey, *x509.Certificate) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(424242),
		Subject:      pkix.Name{CommonName: "Óptica Central SAS", Organization: []string{"Óptica Central"}},
		Issuer:       pkix.Name{CommonName: "CA Pruebas"},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return key, cert
}

func testCertificate(t *testing.T) *signer.Certificate {
	t.Helper()
	key, leaf := selfSigned(t, now.AddDate(-1, 0, 0), now.AddDate(1, 0, 0))
	return signer.NewCertificate(key, leaf)
}

func fixedClock() time.Time { return now }

// ── Sign / Verify ─────────────────────────────────────────────────────────────

func TestSign_RoundTrip(t *testing.T) {
	cert := testCertificate(t)
	svc := signer.NewDigitalSignatureService(fixedClock)

	signed, err := svc.Sign([]byte(unsignedXML), cufe, cert)
	require.NoError(t, err)

	got, err := svc.Verify(signed)
	require.NoError(t, err)
	assert.Equal(t, cert.Leaf.Raw, got.Raw)
}

func TestSign_EstructuraXAdES(t *testing.T) {
	svc := signer.NewDigitalSignatureService(fixedClock)
	signed, err := svc.Sign([]byte(unsignedXML), cufe, testCertificate(t))
	require.NoError(t, err)

	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromBytes(signed))
	contents := doc.FindElements("//ext:ExtensionContent")
	require.Len(t, contents, 2)
	assert.Nil(t, contents[0].FindElement("./ds:Signature"), "la primera extensión no se toca")

	sig := contents[1].FindElement("./ds:Signature")
	require.NotNil(t, sig)
	assert.Equal(t, "xmldsig-"+cufe, sig.SelectAttrValue("Id", ""))

	refs := sig.FindElements("./ds:SignedInfo/ds:Reference")
	require.Len(t, refs, 2)
	assert.Equal(t, "xmldsig-"+cufe+"-ref0", refs[0].SelectAttrValue("Id", ""))
	assert.Equal(t, "#xmldsig-"+cufe+"-signedprops", refs[1].SelectAttrValue("URI", ""))
	for _, r := range refs {
		assert.NotEmpty(t, r.FindElement("./ds:DigestValue").Text())
	}
	assert.NotEmpty(t, sig.FindElement("./ds:SignatureValue").Text())
	assert.NotEmpty(t, sig.FindElement(".//ds:X509Certificate").Text())

	props := sig.FindElement(".//xades:SignedProperties")
	require.NotNil(t, props)
	assert.Equal(t, "xmldsig-"+cufe+"-signedprops", props.SelectAttrValue("Id", ""))
	assert.Equal(t, "2024-03-15T05:30:00-05:00", props.FindElement(".//xades:SigningTime").Text())
	assert.Equal(t, signer.SignaturePolicyURLV2, props.FindElement(".//xades:Identifier").Text())
	assert.Equal(t, signer.SigPolicyHashDigest, props.FindElement(".//xades:SigPolicyHash/ds:DigestValue").Text())
	assert.Equal(t, "424242", props.FindElement(".//ds:X509SerialNumber").Text())
}

func TestVerify_DocumentoAlterado(t *testing.T) {
	svc := signer.NewDigitalSignatureService(fixedClock)
	signed, err := svc.Sign([]byte(unsignedXML), cufe, testCertificate(t))
	require.NoError(t, err)

	tampered := strings.Replace(string(signed), "119000.00", "1.00", 1)
	_, err = svc.Verify([]byte(tampered))
	assert.ErrorIs(t, err, domain.ErrSigning)
}

func TestVerify_SinFirma(t *testing.T) {
	_, err := signer.NewDigitalSignatureService(fixedClock).Verify([]byte(unsignedXML))
	assert.ErrorIs(t, err, domain.ErrSigning)
}

func TestSign_Errores(t *testing.T) {
	svc := signer.NewDigitalSignatureService(fixedClock)

	t.Run("certificado vencido", func(t *testing.T) {
		key, leaf := selfSigned(t, now.AddDate(-2, 0, 0), now.AddDate(0, 0, -1))
		_, err := svc.Sign([]byte(unsignedXML), cufe, signer.NewCertificate(key, leaf))
		assert.ErrorIs(t, err, domain.ErrCertificate)
	})
	t.Run("certificado nil", func(t *testing.T) {
		_, err := svc.Sign([]byte(unsignedXML), cufe, nil)
		assert.ErrorIs(t, err, domain.ErrCertificate)
	})
	t.Run("sin segunda extension", func(t *testing.T) {
		xml := `<Invoice xmlns:ext="urn:x"><ext:UBLExtensions><ext:UBLExtension><ext:ExtensionContent/></ext:UBLExtension></ext:UBLExtensions></Invoice>`
		_, err := svc.Sign([]byte(xml), cufe, testCertificate(t))
		assert.ErrorIs(t, err, domain.ErrSigning)
	})
	t.Run("ya firmado", func(t *testing.T) {
		cert := testCertificate(t)
		signed, err := svc.Sign([]byte(unsignedXML), cufe, cert)
		require.NoError(t, err)
		_, err = svc.Sign(signed, cufe, cert)
		assert.ErrorIs(t, err, domain.ErrSigning)
	})
	t.Run("xml mal formado", func(t *testing.T) {
		_, err := svc.Sign([]byte("<Invoice>"), cufe, testCertificate(t))
		assert.ErrorIs(t, err, domain.ErrSigning)
	})
}

// ── Certificados ──────────────────────────────────────────────────────────────

func TestValidateCertificate(t *testing.T) {
	key, leaf := selfSigned(t, now.AddDate(0, -1, 0), now.AddDate(0, 0, 10))
	cert := signer.NewCertificate(key, leaf)

	ok, msg := signer.ValidateCertificate(cert, now)
	assert.True(t, ok)
	assert.Contains(t, msg, "expira en 10 días")

	ok, msg = signer.ValidateCertificate(cert, now.AddDate(0, 0, -40))
	assert.False(t, ok)
	assert.Contains(t, msg, "aún no es válido")

	ok, _ = signer.ValidateCertificate(cert, now.AddDate(0, 0, 11))
	assert.False(t, ok)

	ok, msg = signer.ValidateCertificate(testCertificate(t), now)
	assert.True(t, ok)
	assert.Empty(t, msg)
}

func writePEM(t *testing.T, dir, name string, blocks ...*pem.Block) string {
	t.Helper()
	var data []byte
	for _, b := range blocks {
		data = append(data, pem.EncodeToMemory(b)...)
	}
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func TestLoadCertificatePEM(t *testing.T) {
	dir := t.TempDir()
	key, leaf := selfSigned(t, now.AddDate(-1, 0, 0), now.AddDate(1, 0, 0))
	certBlock := &pem.Block{Type: "CERTIFICATE", Bytes: leaf.Raw}
	pkcs8, err := x509.MarshalPKCS8PrivateKey(key)
	require.NoError(t, err)
	keyBlock := &pem.Block{Type: "PRIVATE KEY", Bytes: pkcs8}

	t.Run("separados", func(t *testing.T) {
		c, err := signer.LoadCertificatePEM(writePEM(t, dir, "cert.pem", certBlock), writePEM(t, dir, "key.pem", keyBlock))
		require.NoError(t, err)
		assert.Equal(t, leaf.SerialNumber, c.Leaf.SerialNumber)
		assert.Equal(t, leaf.NotAfter, c.NotAfter)
		assert.Contains(t, c.Subject, "Óptica Central SAS")
	})
	t.Run("combinado PKCS1", func(t *testing.T) {
		pkcs1 := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}
		c, err := signer.FileLoader{}.Load(writePEM(t, dir, "both.pem", pkcs1, certBlock), "", "")
		require.NoError(t, err)
		assert.True(t, c.PrivateKey.PublicKey.Equal(&key.PublicKey))
	})
	t.Run("sin llave", func(t *testing.T) {
		_, err := signer.LoadCertificatePEM(writePEM(t, dir, "solo.pem", certBlock), "")
		assert.ErrorIs(t, err, domain.ErrCertificate)
	})
	t.Run("archivo inexistente", func(t *testing.T) {
		_, err := signer.FileLoader{}.Load(filepath.Join(dir, "no.p12"), "x", "")
		assert.ErrorIs(t, err, domain.ErrCertificate)
	})
}

func TestParseP12_Invalido(t *testing.T) {
	_, err := signer.ParseP12([]byte("no es un p12"), "clave")
	assert.ErrorIs(t, err, domain.ErrCertificate)
}

type countingLoader struct {
	calls int
	cert  *signer.Certificate
}

func (l *countingLoader) Load(string, string, string) (*signer.Certificate, error) {
	l.calls++
	return l.cert, nil
}

func TestCachedLoader_ReutilizaMientrasVigente(t *testing.T) {
	inner := &countingLoader{cert: testCertificate(t)}
	clock := now
	l := signer.NewCachedLoader(inner, func() time.Time { return clock })

	for i := 0; i < 3; i++ {
		_, err := l.Load("/certs/empresa.p12", "clave", "")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, inner.calls)

	clock = now.AddDate(2, 0, 0)
	_, err := l.Load("/certs/empresa.p12", "clave", "")
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
}

func writeP12(t *testing.T, enc *pkcs12.Encoder, path string, key *rsa.PrivateKey, leaf *x509.Certificate) {
	t.Helper()
	data, err := enc.Encode(key, leaf, nil, "clave")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))
}

func TestParseP12_HeredadoYModerno(t *testing.T) {
	key, leaf := selfSigned(t, now.AddDate(-1, 0, 0), now.AddDate(1, 0, 0))
	for name, enc := range map[string]*pkcs12.Encoder{
		"heredado 3DES/RC2 MAC SHA-1": pkcs12.Legacy,
		"moderno AES MAC SHA-256":     pkcs12.Modern,
	} {
		t.Run(name, func(t *testing.T) {
			data, err := enc.Encode(key, leaf, nil, "clave")
			require.NoError(t, err)

			c, err := signer.ParseP12(data, "clave")
			require.NoError(t, err)
			assert.Equal(t, leaf.Raw, c.Leaf.Raw)
			assert.True(t, c.PrivateKey.PublicKey.Equal(&key.PublicKey))
			assert.Empty(t, c.Chain)

			_, err = signer.ParseP12(data, "otra")
			assert.ErrorIs(t, err, domain.ErrCertificate)
		})
	}
}

func TestParseP12_GeneradoConOpenSSL3(t *testing.T) {
	data, err := os.ReadFile(filepath.Join("testdata", "openssl3_aes256.p12"))
	require.NoError(t, err)

	c, err := signer.ParseP12(data, "clave")
	require.NoError(t, err)
	assert.Equal(t, int64(777001), c.Leaf.SerialNumber.Int64())
	assert.Contains(t, c.Subject, "Optica Central SAS")
}

func TestFileLoader_P12FirmaConElCertificadoCargado(t *testing.T) {
	key, leaf := selfSigned(t, now.AddDate(-1, 0, 0), now.AddDate(1, 0, 0))
	path := filepath.Join(t.TempDir(), "empresa.p12")
	writeP12(t, pkcs12.Modern, path, key, leaf)

	cert, err := signer.FileLoader{}.Load(path, "clave", "")
	require.NoError(t, err)

	svc := signer.NewDigitalSignatureService(fixedClock)
	signed, err := svc.Sign([]byte(unsignedXML), cufe, cert)
	require.NoError(t, err)

	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromBytes(signed))
	x509El := doc.FindElement("//ds:X509Certificate")
	require.NotNil(t, x509El)
	assert.Equal(t, base64.StdEncoding.EncodeToString(leaf.Raw), strings.TrimSpace(x509El.Text()))

	got, err := svc.Verify(signed)
	require.NoError(t, err)
	assert.Equal(t, leaf.Raw, got.Raw)
}

func TestCachedLoader_ContrasenaIncorrectaNoUsaCache(t *testing.T) {
	key, leaf := selfSigned(t, now.AddDate(-1, 0, 0), now.AddDate(1, 0, 0))
	path := filepath.Join(t.TempDir(), "empresa.p12")
	writeP12(t, pkcs12.Modern, path, key, leaf)
	l := signer.NewCachedLoader(signer.FileLoader{}, fixedClock)

	_, err := l.Load(path, "clave", "")
	require.NoError(t, err)

	_, err = l.Load(path, "incorrecta", "")
	assert.ErrorIs(t, err, domain.ErrCertificate)
}

func TestCachedLoader_RecargaSiCambiaElArchivo(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empresa.p12")
	keyA, leafA := selfSigned(t, now.AddDate(-1, 0, 0), now.AddDate(1, 0, 0))
	writeP12(t, pkcs12.Modern, path, keyA, leafA)
	l := signer.NewCachedLoader(signer.FileLoader{}, fixedClock)

	c, err := l.Load(path, "clave", "")
	require.NoError(t, err)
	assert.Equal(t, leafA.Raw, c.Leaf.Raw)

	keyB, leafB := selfSigned(t, now.AddDate(-1, 0, 0), now.AddDate(2, 0, 0))
	writeP12(t, pkcs12.Modern, path, keyB, leafB)
	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(path, later, later))

	c, err = l.Load(path, "clave", "")
	require.NoError(t, err)
	assert.Equal(t, leafB.Raw, c.Leaf.Raw)
}
