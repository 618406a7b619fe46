package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"

	"github.com/jhoicas/Facturacion-api/internal/application/billing"
	"github.com/jhoicas/Facturacion-api/internal/domain/entity"
	"github.com/jhoicas/Facturacion-api/internal/domain/repository"
	infradian "github.com/jhoicas/Facturacion-api/internal/infrastructure/dian"
	"github.com/jhoicas/Facturacion-api/internal/infrastructure/dian/signer"
	"github.com/jhoicas/Facturacion-api/internal/infrastructure/memory"
	infrapdf "github.com/jhoicas/Facturacion-api/internal/infrastructure/pdf"
	"github.com/jhoicas/Facturacion-api/internal/infrastructure/postgres"
	"github.com/jhoicas/Facturacion-api/internal/infrastructure/qr"
	httpRouter "github.com/jhoicas/Facturacion-api/internal/interfaces/http"
	"github.com/jhoicas/Facturacion-api/pkg/config"
	"github.com/jhoicas/Facturacion-api/pkg/logger"
)

const qrSize = 256

// @title                       Facturación Electrónica API
// @version                     1.0
// @description                 Emisión de facturas electrónicas DIAN: consecutivo, CUFE, UBL 2.1, firma XAdES-EPES y envío SOAP.
// @BasePath                    /
// @securityDefinitions.apikey  BearerAuth
// @in                          header
// @name                        Authorization
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("cargar configuración: " + err.Error())
	}

	log := logger.New(logger.Config{
		Env:   cfg.App.Env,
		Level: cfg.App.LogLevel,
	})
	log.Info().
		Str("env", cfg.App.Env).
		Str("app", cfg.App.Name).
		Str("dian_environment", cfg.DIAN.Environment).
		Bool("dian_mock", cfg.DIAN.UseMock).
		Msg("iniciando aplicación")

	ctx := context.Background()
	dianCfg := cfg.DIAN.DianConfig()

	var (
		allocator billing.SequenceAllocator
		store     billing.SubmissionStore
	)
	if cfg.DB.Enabled() {
		pool, err := postgres.NewPool(ctx, cfg.DB)
		if err != nil {
			log.Fatal().Err(err).Msg("conexión a PostgreSQL")
		}
		defer pool.Close()

		if err := syncResolution(ctx, postgres.NewBillingResolutionRepository(pool), &dianCfg); err != nil {
			log.Fatal().Err(err).Msg("resolución de facturación")
		}
		allocator = postgres.NewSequenceAllocator(pool)
		store = postgres.NewSubmissionRepository(pool)
	} else {
		log.Warn().Msg("sin base de datos configurada: consecutivos y registros en memoria")
		if dianCfg.ResolutionID == "" {
			dianCfg.ResolutionID = resolutionID(dianCfg)
		}
		allocator = memory.NewSequenceAllocator(entity.SequenceResolution{
			ID:             dianCfg.ResolutionID,
			CompanyID:      dianCfg.Issuer.NIT,
			ResolutionInfo: dianCfg.Resolution,
			IsActive:       true,
		})
		store = memory.NewSubmissionStore()
	}

	if err := dianCfg.Validate(); err != nil {
		log.Warn().Err(err).Msg("configuración DIAN incompleta; la emisión fallará hasta completarla")
	}
	if w := dianCfg.NITWarning(); w != "" {
		log.Warn().Msg(w)
	}

	var submitter billing.Submitter
	if cfg.DIAN.UseMock {
		submitter = infradian.NewMockClient(infradian.NewMockStore(), log.Component("dian.mock"))
	} else {
		soap, err := infradian.NewSOAPClient(infradian.SOAPClientConfig{
			Environment:   cfg.DIAN.Environment,
			SendZip:       cfg.DIAN.SendZip,
			Timeout:       cfg.DIAN.Timeout,
			StatusTimeout: cfg.DIAN.StatusTimeout,
		}, log.Component("dian.soap"))
		if err != nil {
			log.Fatal().Err(err).Msg("cliente SOAP DIAN")
		}
		pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := soap.Ping(pingCtx); err != nil {
			log.Warn().Err(err).Str("endpoint", soap.Endpoint()).Msg("el WS de la DIAN no responde")
		}
		cancel()
		submitter = soap
	}

	orchestrator := billing.NewOrchestrator(billing.Dependencies{
		Allocator: allocator,
		Builder:   infradian.NewXMLBuilderService(infradian.DefaultNamespaces(), log.Component("dian.builder")),
		Certs:     signer.NewCachedLoader(signer.FileLoader{}, nil),
		Signer:    signer.NewDigitalSignatureService(time.Now),
		QR:        qr.NewRenderer(qrSize),
		Submitter: submitter,
		Store:     store,
	}, log.Component("billing"))

	// PDF: representación gráfica de la factura electrónica DIAN
	pdfGenerator := infrapdf.NewMarotoPDFGenerator(cfg.DIAN.QRURL)
	documentsUC := billing.NewPDFUseCase(store, pdfGenerator)

	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		ReadTimeout:  time.Second * 10,
		WriteTimeout: cfg.DIAN.Timeout + 10*time.Second,
		IdleTimeout:  time.Second * 60,
	})
	app.Use(recover.New())

	// Swagger UI en local: http://localhost:<port>/docs
	app.Use(swagger.New(swagger.Config{
		BasePath: "/",
		FilePath: "./docs/swagger.json",
		Path:     "docs",
		Title:    "Facturación Electrónica API",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "service": cfg.App.Name, "dian_environment": cfg.DIAN.Environment})
	})

	httpRouter.Router(app, httpRouter.RouterDeps{
		Invoices:  orchestrator,
		Documents: documentsUC,
		Config:    func() entity.DianConfig { return dianCfg },
		JWTSecret: cfg.JWT.Secret,
	})

	go func() {
		if err := app.Listen(cfg.HTTP.Addr()); err != nil {
			log.Error().Err(err).Msg("servidor HTTP finalizado")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("señal de apagado recibida, cerrando servidor...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("apagado del servidor")
	}

	log.Info().Msg("aplicación detenida")
}

// syncResolution registra en la base la resolución del entorno. Si el entorno no trae número
// de resolución, usa la activa de la base para el prefijo configurado.
func syncResolution(ctx context.Context, repo repository.BillingResolutionRepository, cfg *entity.DianConfig) error {
	companyID := cfg.Issuer.NIT
	if cfg.Resolution.ResolutionNumber == "" {
		res, err := repo.GetActiveByCompanyAndPrefix(ctx, companyID, cfg.Resolution.Prefix)
		if err != nil || res == nil {
			return err
		}
		cfg.ResolutionID = res.ID
		cfg.Resolution = res.ResolutionInfo
		return nil
	}
	if cfg.ResolutionID == "" {
		cfg.ResolutionID = resolutionID(*cfg)
	}
	return repo.Create(ctx, &entity.SequenceResolution{
		ID:             cfg.ResolutionID,
		CompanyID:      companyID,
		ResolutionInfo: cfg.Resolution,
		IsActive:       true,
	})
}

// resolutionID id estable derivado de NIT, número de resolución y prefijo.
func resolutionID(cfg entity.DianConfig) string {
	name := cfg.Issuer.NIT + "/" + cfg.Resolution.ResolutionNumber + "/" + cfg.Resolution.Prefix
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}
