// certcheck diagnostica el certificado de firma configurado: lo carga con la misma lógica que
// la API, revisa su vigencia y firma y verifica un documento de prueba.
//
// Uso: go run ./cmd/certcheck [ruta.p12] [contraseña]
// Sin argumentos toma DIAN_CERT_PATH, DIAN_CERT_PASSWORD y DIAN_CERT_KEY_PATH.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/jhoicas/Facturacion-api/internal/infrastructure/dian/signer"
	"github.com/jhoicas/Facturacion-api/pkg/config"
)

// probeXML documento mínimo con las dos extensiones UBL; la segunda recibe la firma.
const probeXML = `<?xml version="1.0" encoding="UTF-8"?>
<Invoice xmlns="urn:oasis:names:specification:ubl:schema:xsd:Invoice-2"
         xmlns:ext="urn:oasis:names:specification:ubl:schema:xsd:CommonExtensionComponents-2"
         xmlns:cbc="urn:oasis:names:specification:ubl:schema:xsd:CommonBasicComponents-2">
  <ext:UBLExtensions>
    <ext:UBLExtension><ext:ExtensionContent/></ext:UBLExtension>
    <ext:UBLExtension><ext:ExtensionContent/></ext:UBLExtension>
  </ext:UBLExtensions>
  <cbc:ID>PRUEBA1</cbc:ID>
  <cbc:UUID>certcheck</cbc:UUID>
</Invoice>`

func main() {
	cfg, err := config.Load()
	if err != nil {
		fail("cargar configuración", err)
	}
	certPath, certPass, keyPath := cfg.DIAN.CertPath, cfg.DIAN.CertPassword, cfg.DIAN.CertKeyPath
	if len(os.Args) > 1 {
		certPath, keyPath = os.Args[1], ""
	}
	if len(os.Args) > 2 {
		certPass = os.Args[2]
	}

	fmt.Println("DIAGNÓSTICO DE CERTIFICADO DIAN")
	fmt.Println("-------------------------------")
	fmt.Printf("Archivo: %s\n", certPath)
	if keyPath != "" {
		fmt.Printf("Llave:   %s\n", keyPath)
	}

	if _, err := os.Stat(certPath); err != nil {
		fail("el archivo no existe o no se puede abrir", err)
	}

	cert, err := signer.FileLoader{}.Load(certPath, certPass, keyPath)
	if err != nil {
		fail("contraseña incorrecta o formato no soportado", err)
	}
	now := time.Now()
	fmt.Printf("Sujeto:  %s\n", cert.Subject)
	fmt.Printf("Emisor:  %s\n", cert.Issuer)
	fmt.Printf("Vigencia: %s a %s (%d días restantes)\n",
		cert.NotBefore.Format(time.DateOnly), cert.NotAfter.Format(time.DateOnly), cert.DaysRemaining(now))
	if len(cert.Chain) > 0 {
		fmt.Printf("Cadena:  %d certificado(s) intermedio(s)\n", len(cert.Chain))
	}

	ok, msg := signer.ValidateCertificate(cert, now)
	if !ok {
		fail("certificado no utilizable", fmt.Errorf("%s", msg))
	}
	if msg != "" {
		fmt.Printf("Aviso:   %s\n", msg)
	}

	svc := signer.NewDigitalSignatureService(time.Now)
	signed, err := svc.Sign([]byte(probeXML), "certcheck", cert)
	if err != nil {
		fail("firma XAdES de prueba", err)
	}
	if _, err := svc.Verify(signed); err != nil {
		fail("verificación de la firma de prueba", err)
	}

	fmt.Println("\nOK: el certificado carga, está vigente y firma correctamente.")
}

func fail(step string, err error) {
	fmt.Fprintf(os.Stderr, "\nERROR (%s): %v\n", step, err)
	os.Exit(1)
}
