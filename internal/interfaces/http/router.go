package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/Facturacion-api/internal/domain/entity"
	"github.com/jhoicas/Facturacion-api/pkg/jwt"
)

// RouterDeps dependencias para el router.
type RouterDeps struct {
	Invoices  InvoiceService
	Documents DocumentService
	Config    func() entity.DianConfig
	JWTSecret string
}

// Router registra las rutas de la API.
func Router(app *fiber.App, deps RouterDeps) {
	api := app.Group("/api")

	// Rutas protegidas (requieren Bearer Token)
	protected := api.Group("/", AuthMiddleware(deps.JWTSecret))

	anyRole := RequireRole(jwt.RoleAdmin, jwt.RoleFacturador, jwt.RoleConsulta)
	issuers := RequireRole(jwt.RoleAdmin, jwt.RoleFacturador)

	// Facturación electrónica DIAN
	electronic := protected.Group("/invoices/electronic")
	h := NewElectronicInvoiceHandler(deps.Invoices, deps.Documents, deps.Config)
	electronic.Post("/", issuers, h.Create)
	electronic.Get("/:id", anyRole, h.GetByID)
	electronic.Post("/:id/retry", issuers, h.Retry)
	electronic.Post("/:id/resubmit", issuers, h.Resubmit)
	electronic.Get("/:id/status", anyRole, h.Status)
	electronic.Get("/:id/pdf", anyRole, h.PDF)
	electronic.Get("/:id/xml", anyRole, h.XML)
}
