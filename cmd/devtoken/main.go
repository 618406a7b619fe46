// devtoken emite un JWT firmado con JWT_SECRET para probar la API en local.
//
// Uso: go run ./cmd/devtoken [rol] [user_id]
// rol: admin (defecto), facturador o consulta.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/jhoicas/Facturacion-api/pkg/config"
	"github.com/jhoicas/Facturacion-api/pkg/jwt"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "cargar configuración: %v\n", err)
		os.Exit(1)
	}
	if cfg.JWT.Secret == "" {
		fmt.Fprintln(os.Stderr, "JWT_SECRET no está definido")
		os.Exit(1)
	}

	role := jwt.RoleAdmin
	if len(os.Args) > 1 {
		role = os.Args[1]
	}
	switch role {
	case jwt.RoleAdmin, jwt.RoleFacturador, jwt.RoleConsulta:
	default:
		fmt.Fprintf(os.Stderr, "rol desconocido %q\n", role)
		os.Exit(1)
	}
	userID := uuid.NewString()
	if len(os.Args) > 2 {
		userID = os.Args[2]
	}

	token, err := jwt.Generate(cfg.JWT.Secret, jwt.Identity{
		UserID:    userID,
		CompanyID: cfg.DIAN.Issuer.NIT,
		Role:      role,
	}, cfg.JWT.Issuer, time.Duration(cfg.JWT.Expiration)*time.Minute)
	if err != nil {
		fmt.Fprintf(os.Stderr, "generar token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
