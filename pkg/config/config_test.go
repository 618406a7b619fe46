package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/Facturacion-api/pkg/config"
)

func TestLoad_DIANDesdeEntorno(t *testing.T) {
	t.Setenv("DIAN_ENVIRONMENT", "2")
	t.Setenv("DIAN_NIT", "900123456")
	t.Setenv("DIAN_DV", "8")
	t.Setenv("DIAN_RAZON_SOCIAL", "Óptica Central SAS")
	t.Setenv("DIAN_RESPONSABILIDADES", "O-13, O-48")
	t.Setenv("DIAN_RESOLUCION_ID", "res-1")
	t.Setenv("DIAN_RESOLUCION_NUMERO", "18760000001")
	t.Setenv("DIAN_RESOLUCION_PREFIJO", "FE")
	t.Setenv("DIAN_RESOLUCION_HASTA", "10000")
	t.Setenv("DIAN_RESOLUCION_FECHA_DESDE", "2024-01-01")
	t.Setenv("DIAN_RESOLUCION_FECHA_HASTA", "2025-12-31")
	t.Setenv("DIAN_CLAVE_TECNICA", "ClaveTest123")
	t.Setenv("DIAN_CERT_PATH", "/certs/empresa.p12")
	t.Setenv("DIAN_TIMEOUT_SECONDS", "45")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 45*time.Second, cfg.DIAN.Timeout)
	assert.Equal(t, []string{"O-13", "O-48"}, cfg.DIAN.Issuer.Responsibilities)

	dc := cfg.DIAN.DianConfig()
	assert.Equal(t, "900123456", dc.Issuer.NIT)
	assert.Equal(t, "Bogotá", dc.Issuer.Address.CityName)
	assert.Equal(t, int64(1), dc.Resolution.RangeFrom)
	assert.Equal(t, int64(10000), dc.Resolution.RangeTo)
	assert.Equal(t, time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC), dc.Resolution.DateTo)
	require.NoError(t, dc.Validate())
}

func TestLoad_FechaInvalida(t *testing.T) {
	t.Setenv("DIAN_RESOLUCION_FECHA_DESDE", "01/01/2024")
	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DIAN_RESOLUCION_FECHA_DESDE")
}

func TestDBConfig_Enabled(t *testing.T) {
	assert.False(t, config.DBConfig{}.Enabled())
	assert.True(t, config.DBConfig{Host: "localhost"}.Enabled())
}

func TestLoad_MockApagadoPorDefecto(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)
	assert.False(t, cfg.DIAN.UseMock)
}

func TestLoad_MockEnProduccionFalla(t *testing.T) {
	t.Setenv("DIAN_ENVIRONMENT", "1")
	t.Setenv("DIAN_USE_MOCK", "true")

	_, err := config.Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DIAN_USE_MOCK")
}

func TestLoad_MockEnHabilitacion(t *testing.T) {
	t.Setenv("DIAN_ENVIRONMENT", "2")
	t.Setenv("DIAN_USE_MOCK", "true")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.True(t, cfg.DIAN.UseMock)
}
