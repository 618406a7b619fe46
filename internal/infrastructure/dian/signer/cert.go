// Carga de certificado desde .p12 (PKCS#12) o par PEM.

package signer

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"software.sslmate.com/src/go-pkcs12"

	"github.com/jhoicas/Facturacion-api/internal/domain"
)

// Certificate certificado de firma ya decodificado. Es de solo lectura tras la carga.
type Certificate struct {
	PrivateKey *rsa.PrivateKey
	Leaf       *x509.Certificate
	Chain      []*x509.Certificate // intermedios, sin la hoja
	NotBefore  time.Time
	NotAfter   time.Time
	Subject    string
	Issuer     string
}

// NewCertificate arma el Certificate a partir de llave y hoja ya parseadas.
func NewCertificate(key *rsa.PrivateKey, leaf *x509.Certificate, chain ...*x509.Certificate) *Certificate {
	return &Certificate{
		PrivateKey: key,
		Leaf:       leaf,
		Chain:      chain,
		NotBefore:  leaf.NotBefore,
		NotAfter:   leaf.NotAfter,
		Subject:    leaf.Subject.String(),
		Issuer:     leaf.Issuer.String(),
	}
}

// DaysRemaining días completos hasta NotAfter (negativo si ya venció).
func (c *Certificate) DaysRemaining(now time.Time) int {
	return int(c.NotAfter.Sub(now).Hours() / 24)
}

// LoadCertificate carga certificado y llave privada desde un archivo .p12/.pfx.
func LoadCertificate(path, password string) (*Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Join(domain.ErrCertificate, fmt.Errorf("leer p12 %s: %w", path, err))
	}
	return ParseP12(data, password)
}

// ParseP12 decodifica un PKCS#12 en memoria, tanto los heredados (3DES/RC2, MAC SHA-1)
// como los de OpenSSL 3 (PBES2/AES, MAC SHA-256). Los certificados adicionales quedan en Chain.
func ParseP12(data []byte, password string) (*Certificate, error) {
	priv, leaf, chain, err := pkcs12.DecodeChain(data, password)
	if err != nil {
		return nil, errors.Join(domain.ErrCertificate, fmt.Errorf("decodificar p12: %w", err))
	}
	key, err := rsaKey(priv)
	if err != nil {
		return nil, err
	}
	if pub, ok := leaf.PublicKey.(*rsa.PublicKey); !ok || !pub.Equal(&key.PublicKey) {
		return nil, errors.Join(domain.ErrCertificate, errors.New("el certificado del p12 no corresponde a la llave privada"))
	}
	return NewCertificate(key, leaf, chain...), nil
}

// LoadCertificatePEM carga certificado y llave desde archivos PEM (separados o combinados).
// Pensado para certificados de desarrollo.
func LoadCertificatePEM(certPath, keyPath string) (*Certificate, error) {
	if keyPath == "" {
		keyPath = certPath
	}
	var blocks []*pem.Block
	for _, p := range uniquePaths(certPath, keyPath) {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, errors.Join(domain.ErrCertificate, fmt.Errorf("leer PEM %s: %w", p, err))
		}
		for {
			var b *pem.Block
			b, data = pem.Decode(data)
			if b == nil {
				break
			}
			blocks = append(blocks, b)
		}
	}
	return fromPEMBlocks(blocks)
}

func uniquePaths(a, b string) []string {
	if a == b {
		return []string{a}
	}
	return []string{a, b}
}

func fromPEMBlocks(blocks []*pem.Block) (*Certificate, error) {
	var (
		key   *rsa.PrivateKey
		certs []*x509.Certificate
	)
	for _, b := range blocks {
		switch {
		case b.Type == "CERTIFICATE":
			c, err := x509.ParseCertificate(b.Bytes)
			if err != nil {
				return nil, errors.Join(domain.ErrCertificate, fmt.Errorf("parsear certificado: %w", err))
			}
			certs = append(certs, c)
		case strings.HasSuffix(b.Type, "PRIVATE KEY"):
			k, err := parsePrivateKey(b.Bytes)
			if err != nil {
				return nil, err
			}
			key = k
		}
	}
	if key == nil {
		return nil, errors.Join(domain.ErrCertificate, errors.New("el archivo no contiene llave privada RSA"))
	}
	if len(certs) == 0 {
		return nil, errors.Join(domain.ErrCertificate, errors.New("el archivo no contiene certificados"))
	}

	// La hoja es el certificado cuya llave pública corresponde a la privada.
	leafIdx := -1
	for i, c := range certs {
		if pub, ok := c.PublicKey.(*rsa.PublicKey); ok && pub.Equal(&key.PublicKey) {
			leafIdx = i
			break
		}
	}
	if leafIdx < 0 {
		return nil, errors.Join(domain.ErrCertificate, errors.New("ningún certificado corresponde a la llave privada"))
	}
	chain := make([]*x509.Certificate, 0, len(certs)-1)
	for i, c := range certs {
		if i != leafIdx {
			chain = append(chain, c)
		}
	}
	return NewCertificate(key, certs[leafIdx], chain...), nil
}

// parsePrivateKey acepta PKCS#1 y PKCS#8.
func parsePrivateKey(der []byte) (*rsa.PrivateKey, error) {
	if k, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return k, nil
	}
	k, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		if _, ecErr := x509.ParseECPrivateKey(der); ecErr == nil {
			return nil, errors.Join(domain.ErrCertificate, errors.New("llave EC no soportada: DIAN exige RSA"))
		}
		return nil, errors.Join(domain.ErrCertificate, fmt.Errorf("parsear llave privada: %w", err))
	}
	return rsaKey(k)
}

func rsaKey(k any) (*rsa.PrivateKey, error) {
	switch key := k.(type) {
	case *rsa.PrivateKey:
		return key, nil
	case *ecdsa.PrivateKey:
		return nil, errors.Join(domain.ErrCertificate, errors.New("llave EC no soportada: DIAN exige RSA"))
	default:
		return nil, errors.Join(domain.ErrCertificate, fmt.Errorf("tipo de llave %T no soportado", key))
	}
}

// ValidateCertificate indica si el certificado es usable en now.
// Fuera de [NotBefore, NotAfter] es inválido; con menos de 30 días restantes es válido con aviso.
func ValidateCertificate(cert *Certificate, now time.Time) (bool, string) {
	if cert == nil || cert.Leaf == nil {
		return false, "certificado no cargado"
	}
	if now.Before(cert.NotBefore) {
		return false, fmt.Sprintf("el certificado aún no es válido; válido desde %s", cert.NotBefore.Format(time.DateOnly))
	}
	if now.After(cert.NotAfter) {
		return false, fmt.Sprintf("el certificado expiró el %s", cert.NotAfter.Format(time.DateOnly))
	}
	if days := cert.DaysRemaining(now); days < ExpiryWarningDays {
		return true, fmt.Sprintf("certificado válido pero expira en %d días", days)
	}
	return true, ""
}

// CertDigestAndIssuerSerial devuelve el digest SHA-256 del certificado (Base64),
// el emisor y el serial en decimal para XAdES.
func CertDigestAndIssuerSerial(cert *x509.Certificate) (digestB64 string, issuerName string, serial string) {
	h := sha256.Sum256(cert.Raw)
	return base64.StdEncoding.EncodeToString(h[:]), cert.Issuer.String(), cert.SerialNumber.String()
}

// FileLoader carga desde disco; .pem/.crt (o con keyPath) como PEM y el resto como PKCS#12.
type FileLoader struct{}

// Load implementa billing.CertificateLoader.
func (FileLoader) Load(path, password, keyPath string) (*Certificate, error) {
	if path == "" {
		return nil, errors.Join(domain.ErrCertificate, errors.New("ruta de certificado vacía"))
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pem", ".crt", ".cer":
		return LoadCertificatePEM(path, keyPath)
	}
	if keyPath != "" {
		return LoadCertificatePEM(path, keyPath)
	}
	return LoadCertificate(path, password)
}

// Loader fuente de certificados que envuelve CachedLoader.
type Loader interface {
	Load(path, password, keyPath string) (*Certificate, error)
}

// CachedLoader reutiliza el certificado mientras no venza y el archivo no cambie.
// La clave de caché incluye el hash de la contraseña: una contraseña distinta vuelve a cargar.
type CachedLoader struct {
	next  Loader
	now   func() time.Time
	mu    sync.Mutex
	cache map[string]cachedCert
}

type cachedCert struct {
	cert  *Certificate
	stamp string
}

// NewCachedLoader envuelve next; now nil usa time.Now.
func NewCachedLoader(next Loader, now func() time.Time) *CachedLoader {
	if now == nil {
		now = time.Now
	}
	return &CachedLoader{next: next, now: now, cache: make(map[string]cachedCert)}
}

// Load devuelve el certificado cacheado o lo carga.
func (l *CachedLoader) Load(path, password, keyPath string) (*Certificate, error) {
	pw := sha256.Sum256([]byte(password))
	key := path + "\x00" + keyPath + "\x00" + hex.EncodeToString(pw[:])
	stamp := fileStamp(path) + "|" + fileStamp(keyPath)

	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.cache[key]; ok && e.stamp == stamp && l.now().Before(e.cert.NotAfter) {
		return e.cert, nil
	}
	c, err := l.next.Load(path, password, keyPath)
	if err != nil {
		delete(l.cache, key)
		return nil, err
	}
	l.cache[key] = cachedCert{cert: c, stamp: stamp}
	return c, nil
}

// fileStamp fecha de modificación y tamaño; vacío si la ruta no existe.
func fileStamp(path string) string {
	if path == "" {
		return ""
	}
	fi, err := os.Stat(path)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("%d:%d", fi.ModTime().UnixNano(), fi.Size())
}
