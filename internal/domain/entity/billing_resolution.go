package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// ResolutionInfo datos de la resolución de facturación autorizada por la DIAN.
// Es obligatoria en el nodo <sts:DianExtensions> del XML UBL 2.1.
type ResolutionInfo struct {
	ResolutionNumber string    `validate:"required"` // ej: "18764000000001"
	Prefix           string    // Prefijo autorizado (ej: "SETP", "FE")
	RangeFrom        int64     `validate:"gte=1"`
	RangeTo          int64     `validate:"gtefield=RangeFrom"`
	DateFrom         time.Time `validate:"required"`
	DateTo           time.Time `validate:"required,gtfield=DateFrom"`
	TechnicalKey     string    `validate:"required"` // Clave técnica (entra en el CUFE)
}

// CoversDate indica si la vigencia de la resolución incluye t (por fecha calendario).
func (r ResolutionInfo) CoversDate(t time.Time) bool {
	day := truncateDay(t)
	return !day.Before(truncateDay(r.DateFrom)) && !day.After(truncateDay(r.DateTo))
}

// InRange indica si n pertenece al rango autorizado.
func (r ResolutionInfo) InRange(n int64) bool {
	return n >= r.RangeFrom && n <= r.RangeTo
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// SequenceResolution es la resolución con su cursor de numeración.
// Cursor = 0 significa que no se ha emitido ningún número.
// El cursor solo lo modifica el asignador de consecutivos.
type SequenceResolution struct {
	ID        string
	CompanyID string
	ResolutionInfo
	Cursor    int64
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Next devuelve el número que se asignaría a continuación.
func (r SequenceResolution) Next() int64 {
	if r.Cursor == 0 {
		return r.RangeFrom
	}
	return r.Cursor + 1
}

// Exhausted indica que ya no quedan números disponibles.
func (r SequenceResolution) Exhausted() bool {
	return r.Next() > r.RangeTo
}

// Available números que quedan por asignar.
func (r SequenceResolution) Available() int64 {
	if r.Exhausted() {
		return 0
	}
	return r.RangeTo - r.Next() + 1
}

// UsagePercent porcentaje del rango consumido, redondeado a 2 decimales.
func (r SequenceResolution) UsagePercent() decimal.Decimal {
	if r.Cursor == 0 {
		return decimal.Zero
	}
	used := decimal.NewFromInt(r.Cursor - r.RangeFrom + 1)
	total := decimal.NewFromInt(r.RangeTo - r.RangeFrom + 1)
	return used.Div(total).Mul(decimal.NewFromInt(100)).Round(2)
}
