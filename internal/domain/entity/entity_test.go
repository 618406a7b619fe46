package entity_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/Facturacion-api/internal/domain"
	"github.com/jhoicas/Facturacion-api/internal/domain/entity"
)

// ── Totales ───────────────────────────────────────────────────────────────────

func TestComputeTotals_UnaLineaIVA19(t *testing.T) {
	lines, totals := entity.ComputeTotals([]entity.InvoiceLine{{
		Description: "Lente",
		Quantity:    decimal.NewFromInt(1),
		UnitPrice:   decimal.NewFromInt(100000),
		TaxRate:     decimal.NewFromInt(19),
	}})

	require.Len(t, lines, 1)
	assert.True(t, totals.TaxableBase.Equal(decimal.NewFromInt(100000)))
	assert.True(t, totals.Bucket(19).Equal(decimal.NewFromInt(19000)))
	assert.True(t, totals.GrandTotal.Equal(decimal.NewFromInt(119000)))
	assert.True(t, lines[0].Total.Equal(decimal.NewFromInt(119000)))
	assert.Len(t, totals.TaxBuckets, 3, "tarifas 0, 5 y 19 siempre presentes")
}

func TestComputeTotals_DescuentoYVariasTarifas(t *testing.T) {
	_, totals := entity.ComputeTotals([]entity.InvoiceLine{
		{Description: "A", Quantity: decimal.NewFromInt(2), UnitPrice: decimal.NewFromInt(50000),
			DiscountPercent: decimal.NewFromInt(10), TaxRate: decimal.NewFromInt(19)},
		{Description: "B", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.NewFromInt(20000),
			TaxRate: decimal.NewFromInt(5)},
		{Description: "C", Quantity: decimal.NewFromInt(3), UnitPrice: decimal.NewFromInt(1000),
			TaxRate: decimal.NewFromInt(8)},
	})

	assert.True(t, totals.Subtotal.Equal(decimal.NewFromInt(123000)))
	assert.True(t, totals.Discount.Equal(decimal.NewFromInt(10000)))
	assert.True(t, totals.TaxableBase.Equal(decimal.NewFromInt(113000)))
	assert.True(t, totals.Bucket(19).Equal(decimal.NewFromInt(17100)))
	assert.True(t, totals.Bucket(5).Equal(decimal.NewFromInt(1000)))
	assert.True(t, totals.Bucket(8).Equal(decimal.NewFromInt(240)))
	assert.True(t, totals.GrandTotal.Equal(totals.TaxableBase.Add(totals.BucketSum())))
	require.Len(t, totals.TaxBuckets, 4)
	assert.True(t, totals.TaxBuckets[2].Rate.Equal(decimal.NewFromInt(8)), "ordenadas por tarifa")
}

func TestFullNumber(t *testing.T) {
	inv := entity.InvoiceData{Prefix: "FE", Number: 1234}
	assert.Equal(t, "FE1234", inv.FullNumber())
	inv.Number = 0
	assert.Empty(t, inv.FullNumber())
}

// ── Resolución ────────────────────────────────────────────────────────────────

func TestSequenceResolution_Helpers(t *testing.T) {
	r := entity.SequenceResolution{ResolutionInfo: entity.ResolutionInfo{RangeFrom: 1, RangeTo: 4}}
	assert.Equal(t, int64(1), r.Next())
	assert.Equal(t, int64(4), r.Available())
	assert.True(t, r.UsagePercent().IsZero())

	r.Cursor = 2
	assert.Equal(t, int64(3), r.Next())
	assert.Equal(t, "50", r.UsagePercent().String())

	r.Cursor = 4
	assert.True(t, r.Exhausted())
	assert.Equal(t, int64(0), r.Available())
}

func TestResolutionInfo_CoversDate(t *testing.T) {
	r := entity.ResolutionInfo{
		DateFrom: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		DateTo:   time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC),
	}
	assert.True(t, r.CoversDate(time.Date(2024, 12, 31, 18, 0, 0, 0, time.UTC)))
	assert.False(t, r.CoversDate(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.False(t, r.CoversDate(time.Date(2023, 12, 31, 23, 0, 0, 0, time.UTC)))
}

// ── Máquina de estados ────────────────────────────────────────────────────────

func TestCanTransition(t *testing.T) {
	ok := [][2]entity.SubmissionState{
		{entity.StateDraft, entity.StateSequenced},
		{entity.StateSequenced, entity.StateDocumentBuilt},
		{entity.StateDocumentBuilt, entity.StateSigned},
		{entity.StateSigned, entity.StateSubmitting},
		{entity.StateSubmitting, entity.StateApproved},
		{entity.StateSubmitting, entity.StateRejected},
		{entity.StateRejected, entity.StateSequenced},
		{entity.StateRejected, entity.StateDocumentBuilt},
		{entity.StateDocumentBuilt, entity.StateDocumentBuilt},
		{entity.StateSigned, entity.StateDocumentBuilt},
	}
	for _, tr := range ok {
		assert.True(t, entity.CanTransition(tr[0], tr[1]), "%s → %s", tr[0], tr[1])
	}

	bad := [][2]entity.SubmissionState{
		{entity.StateDraft, entity.StateDocumentBuilt},
		{entity.StateSequenced, entity.StateSigned},
		{entity.StateSigned, entity.StateApproved},
		{entity.StateApproved, entity.StateSequenced},
		{entity.StateApproved, entity.StateRejected},
		{entity.StateRejected, entity.StateSubmitting},
		{entity.StateSequenced, entity.StateSequenced},
		{entity.StateSubmitting, entity.StateDocumentBuilt},
	}
	for _, tr := range bad {
		assert.False(t, entity.CanTransition(tr[0], tr[1]), "%s → %s", tr[0], tr[1])
	}
}

// ── Configuración ─────────────────────────────────────────────────────────────

func TestDianConfig_Validate(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())

	cfg.Issuer.NIT = ""
	cfg.Resolution.TechnicalKey = ""
	cfg.Environment = "3"
	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
	assert.Contains(t, err.Error(), "NIT")
	assert.Contains(t, err.Error(), "TechnicalKey")
}

func TestDianConfig_NITWarning(t *testing.T) {
	cfg := validConfig()
	assert.Empty(t, cfg.NITWarning())

	cfg.Issuer.DV = "7"
	assert.Contains(t, cfg.NITWarning(), "dígito de verificación")
}

func validConfig() entity.DianConfig {
	return entity.DianConfig{
		Environment: entity.EnvironmentTest,
		Issuer: entity.Issuer{
			DocumentType: "NIT", NIT: "900123456", DV: "8", LegalName: "Óptica Central SAS",
		},
		ResolutionID: "res-1",
		Resolution: entity.ResolutionInfo{
			ResolutionNumber: "18760000001",
			Prefix:           "FE",
			RangeFrom:        1,
			RangeTo:          10000,
			DateFrom:         time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			DateTo:           time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC),
			TechnicalKey:     "ClaveTest123",
		},
		CertPath: "/certs/empresa.p12",
	}
}
