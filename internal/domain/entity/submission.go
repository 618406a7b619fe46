package entity

import "time"

// SubmissionState estado del envío de una factura electrónica.
type SubmissionState string

const (
	StateDraft         SubmissionState = "DRAFT"
	StateSequenced     SubmissionState = "SEQUENCED"
	StateDocumentBuilt SubmissionState = "DOCUMENT_BUILT"
	StateSigned        SubmissionState = "SIGNED"
	StateSubmitting    SubmissionState = "SUBMITTING"
	StateApproved      SubmissionState = "APPROVED"
	StateRejected      SubmissionState = "REJECTED"
)

// transitions transiciones permitidas. REJECTED vuelve a SEQUENCED (número nuevo)
// o a DOCUMENT_BUILT (mismo número, CUFE y firma nuevos). Un registro detenido en
// DOCUMENT_BUILT o SIGNED se reconstruye con su número volviendo a DOCUMENT_BUILT.
var transitions = map[SubmissionState][]SubmissionState{
	StateDraft:         {StateSequenced},
	StateSequenced:     {StateDocumentBuilt},
	StateDocumentBuilt: {StateSigned, StateDocumentBuilt},
	StateSigned:        {StateSubmitting, StateDocumentBuilt},
	StateSubmitting:    {StateApproved, StateRejected},
	StateRejected:      {StateSequenced, StateDocumentBuilt},
}

// CanTransition indica si se puede pasar de from a to.
func CanTransition(from, to SubmissionState) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal indica si el estado ya no admite cambios automáticos.
func (s SubmissionState) Terminal() bool {
	return s == StateApproved || s == StateRejected
}

// StateChange entrada del historial de transiciones.
type StateChange struct {
	From   SubmissionState `json:"from"`
	To     SubmissionState `json:"to"`
	At     time.Time       `json:"at"`
	Detail string          `json:"detail,omitempty"`
}

// SubmissionRecord registro de auditoría de un intento de facturación electrónica.
// Solo lo modifica el orquestador y nunca se elimina.
type SubmissionRecord struct {
	ID           string
	ResolutionID string
	State        SubmissionState
	Environment  string

	Invoice InvoiceData // copia de la factura usada en el último intento

	Prefix      string
	Number      int64
	FullNumber  string
	CUFE        string
	UnsignedXML []byte
	SignedXML   []byte
	QRBase64    string

	RequestPayload  []byte // XML firmado tal como se envió
	ResponsePayload []byte // respuesta cruda de la DIAN
	Outcome         *SubmissionOutcome

	LastStage string // etapa del último error
	LastError string
	Warnings  []string
	History   []StateChange

	CreatedAt  time.Time
	UpdatedAt  time.Time
	SentAt     *time.Time
	ApprovedAt *time.Time
	RejectedAt *time.Time
}

// Frozen indica que el registro ya fue aprobado y no admite cambios.
func (r *SubmissionRecord) Frozen() bool {
	return r.State == StateApproved
}

// SubmissionOutcome respuesta estructurada de SendBillSync.
type SubmissionOutcome struct {
	Valid             bool     `json:"valid"`
	StatusCode        string   `json:"status_code"`
	StatusDescription string   `json:"status_description"`
	StatusMessage     string   `json:"status_message"`
	Errors            []string `json:"errors,omitempty"`
	CUFE              string   `json:"cufe,omitempty"`
	FileName          string   `json:"file_name,omitempty"`
	Raw               []byte   `json:"-"`
}

// StatusOutcome respuesta de GetStatus.
type StatusOutcome struct {
	Found         bool   `json:"found"`
	CUFE          string `json:"cufe"`
	Status        string `json:"status"`
	StatusMessage string `json:"status_message"`
	Raw           []byte `json:"-"`
}
