package dian

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/beevik/etree"
	"github.com/rs/zerolog"
	"golang.org/x/text/encoding/charmap"

	"github.com/jhoicas/Facturacion-api/internal/domain"
	"github.com/jhoicas/Facturacion-api/internal/domain/entity"
)

// ── Constantes de entorno ──────────────────────────────────────────────────────

const (
	SOAPURLTest = "https://vpfe-hab.dian.gov.co/WcfDianCustomerServices.svc"
	SOAPURLProd = "https://vpfe.dian.gov.co/WcfDianCustomerServices.svc"

	soapNS         = "http://schemas.xmlsoap.org/soap/envelope/"
	wcfNS          = "http://wcf.dian.colombia"
	soapActionBase = "http://wcf.dian.colombia/IWcfDianCustomerServices/"

	defaultSubmitTimeout = 60 * time.Second
	defaultStatusTimeout = 30 * time.Second
	pingTimeout          = 10 * time.Second
	maxResponseBytes     = 4 << 20

	// FaultStatusCode código del outcome cuando la DIAN responde con SOAP Fault.
	FaultStatusCode = "FAULT"
)

// EndpointFor devuelve la URL del WS para el ambiente ("1" producción, "2" habilitación).
func EndpointFor(environment string) (string, error) {
	switch environment {
	case entity.EnvironmentProduction:
		return SOAPURLProd, nil
	case entity.EnvironmentTest:
		return SOAPURLTest, nil
	default:
		return "", errors.Join(domain.ErrConfiguration, fmt.Errorf("ambiente DIAN desconocido %q (usar 1 o 2)", environment))
	}
}

// SOAPClientConfig opciones del cliente SOAP.
type SOAPClientConfig struct {
	Environment   string
	Endpoint      string // opcional; reemplaza la URL del ambiente (pruebas con httptest)
	SendZip       bool
	Timeout       time.Duration
	StatusTimeout time.Duration
}

// SOAPClient implementa billing.Submitter contra el WS SOAP de la DIAN.
// El endpoint se fija al construir el cliente y no cambia en ejecución.
type SOAPClient struct {
	endpoint      string
	sendZip       bool
	statusTimeout time.Duration
	httpClient    *http.Client
	now           func() time.Time
	log           zerolog.Logger
}

// NewSOAPClient construye el cliente. El timeout de red por defecto es 60 s porque el WS
// puede tardar varios segundos en validar.
func NewSOAPClient(cfg SOAPClientConfig, log zerolog.Logger) (*SOAPClient, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		var err error
		if endpoint, err = EndpointFor(cfg.Environment); err != nil {
			return nil, err
		}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultSubmitTimeout
	}
	statusTimeout := cfg.StatusTimeout
	if statusTimeout <= 0 {
		statusTimeout = defaultStatusTimeout
	}
	return &SOAPClient{
		endpoint:      endpoint,
		sendZip:       cfg.SendZip,
		statusTimeout: statusTimeout,
		httpClient:    &http.Client{Timeout: timeout},
		now:           time.Now,
		log:           log.With().Str("component", "dian_soap").Logger(),
	}, nil
}

// Endpoint URL en uso.
func (c *SOAPClient) Endpoint() string { return c.endpoint }

// ── Estructuras SOAP ──────────────────────────────────────────────────────────

type soapEnvelope struct {
	XMLName xml.Name `xml:"soap:Envelope"`
	XmlnsS  string   `xml:"xmlns:soap,attr"`
	XmlnsW  string   `xml:"xmlns:wcf,attr"`
	Header  struct{} `xml:"soap:Header"`
	Body    soapBody `xml:"soap:Body"`
}

type soapBody struct {
	Content any
}

func (b soapBody) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	if err := e.EncodeToken(start); err != nil {
		return err
	}
	if err := e.Encode(b.Content); err != nil {
		return err
	}
	return e.EncodeToken(start.End())
}

type sendBillSyncBody struct {
	XMLName     xml.Name `xml:"wcf:SendBillSync"`
	FileName    string   `xml:"wcf:fileName"`
	ContentFile string   `xml:"wcf:contentFile"` // XML o ZIP en Base64
}

type getStatusBody struct {
	XMLName xml.Name `xml:"wcf:GetStatus"`
	TrackID string   `xml:"wcf:trackId"`
}

// ── Estructuras de respuesta SOAP ─────────────────────────────────────────────

type soapResponseEnvelope struct {
	Body soapResponseBody `xml:"Body"`
}

type soapResponseBody struct {
	SendBill  *sendBillSyncResponse `xml:"SendBillSyncResponse"`
	GetStatus *getStatusResponse    `xml:"GetStatusResponse"`
	Fault     *soapFault            `xml:"Fault"`
}

type sendBillSyncResponse struct {
	Result *dianResult `xml:"SendBillSyncResult"`
}

type getStatusResponse struct {
	Result *dianResult `xml:"GetStatusResult"`
}

type dianResult struct {
	IsValid           string         `xml:"IsValid"`
	Status            string         `xml:"Status"`
	StatusCode        string         `xml:"StatusCode"`
	StatusDescription string         `xml:"StatusDescription"`
	StatusMessage     string         `xml:"StatusMessage"`
	XMLDocumentKey    string         `xml:"XmlDocumentKey"`
	ErrorMessages     []errorMessage `xml:"ErrorMessage"`
}

// errorMessage admite texto directo o lista de <string>.
type errorMessage struct {
	Text    string   `xml:",chardata"`
	Strings []string `xml:"string"`
}

// soapFault cubre SOAP 1.1 (faultcode/faultstring) y 1.2 (Code/Reason).
type soapFault struct {
	FaultCode   string `xml:"faultcode"`
	FaultString string `xml:"faultstring"`
	Code        string `xml:"Code>Value"`
	Reason      string `xml:"Reason>Text"`
}

func (f *soapFault) code() string {
	if c := strings.TrimSpace(f.FaultCode); c != "" {
		return c
	}
	return strings.TrimSpace(f.Code)
}

func (f *soapFault) message() string {
	if m := strings.TrimSpace(f.FaultString); m != "" {
		return m
	}
	return strings.TrimSpace(f.Reason)
}

// serverSide indica un fallo del servicio (Server en 1.1, Receiver en 1.2), no del documento.
func (f *soapFault) serverSide() bool {
	code := f.code()
	if i := strings.LastIndex(code, ":"); i >= 0 {
		code = code[i+1:]
	}
	code, _, _ = strings.Cut(code, ".")
	return strings.EqualFold(code, "Server") || strings.EqualFold(code, "Receiver")
}

func (f *soapFault) err() error {
	return fmt.Errorf("SOAP Fault [%s]: %s", f.code(), f.message())
}

func (r *dianResult) errors() []string {
	var out []string
	for _, m := range r.ErrorMessages {
		if t := strings.TrimSpace(m.Text); t != "" {
			out = append(out, t)
		}
		for _, s := range m.Strings {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// ── Submit ────────────────────────────────────────────────────────────────────

// Submit envía el XML firmado con SendBillSync (opcionalmente en ZIP).
// Transporte, timeout, HTTP no exitoso sin Fault o Fault del servidor => domain.ErrNetwork;
// cuerpo no interpretable o sin IsValid => domain.ErrMalformedResponse;
// IsValid=false o Fault del cliente => outcome con Valid=false.
func (c *SOAPClient) Submit(ctx context.Context, signedXML []byte, issuerNIT string) (*entity.SubmissionOutcome, error) {
	if len(signedXML) == 0 {
		return nil, errors.Join(domain.ErrInvalidInput, errors.New("documento firmado vacío"))
	}
	att, err := NewAttachment(signedXML, issuerNIT, documentID(signedXML), c.sendZip, c.now())
	if err != nil {
		return nil, errors.Join(domain.ErrInvalidInput, err)
	}
	fileName := att.FileName

	body := sendBillSyncBody{FileName: fileName, ContentFile: base64.StdEncoding.EncodeToString(att.Content)}
	raw, status, err := c.call(ctx, "SendBillSync", body)
	if err != nil {
		return nil, err
	}
	c.log.Info().Str("file", fileName).Int("http_status", status).Msg("respuesta SendBillSync")

	env, err := decodeEnvelope(raw)
	if err != nil {
		if status >= http.StatusBadRequest {
			return nil, errors.Join(domain.ErrNetwork, fmt.Errorf("HTTP %d", status))
		}
		return nil, errors.Join(domain.ErrMalformedResponse, err)
	}
	if f := env.Body.Fault; f != nil {
		if f.serverSide() {
			return nil, errors.Join(domain.ErrNetwork, f.err())
		}
		return &entity.SubmissionOutcome{
			Valid:             false,
			StatusCode:        FaultStatusCode,
			StatusDescription: f.code(),
			StatusMessage:     f.message(),
			Errors:            []string{f.err().Error()},
			FileName:          fileName,
			Raw:               raw,
		}, nil
	}
	if status < 200 || status >= 300 {
		return nil, errors.Join(domain.ErrNetwork, fmt.Errorf("HTTP %d", status))
	}
	if env.Body.SendBill == nil || env.Body.SendBill.Result == nil {
		return nil, errors.Join(domain.ErrMalformedResponse, errors.New("falta SendBillSyncResult"))
	}
	res := env.Body.SendBill.Result
	isValid := strings.TrimSpace(res.IsValid)
	if !strings.EqualFold(isValid, "true") && !strings.EqualFold(isValid, "false") {
		return nil, errors.Join(domain.ErrMalformedResponse, fmt.Errorf("IsValid ausente o inválido: %q", isValid))
	}
	valid := strings.EqualFold(isValid, "true")
	return &entity.SubmissionOutcome{
		Valid:             valid,
		StatusCode:        strings.TrimSpace(res.StatusCode),
		StatusDescription: strings.TrimSpace(res.StatusDescription),
		StatusMessage:     strings.TrimSpace(res.StatusMessage),
		Errors:            res.errors(),
		CUFE:              strings.TrimSpace(res.XMLDocumentKey),
		FileName:          fileName,
		Raw:               raw,
	}, nil
}

// QueryStatus consulta GetStatus con el CUFE como trackId. Timeout de 30 s.
func (c *SOAPClient) QueryStatus(ctx context.Context, cufe string) (*entity.StatusOutcome, error) {
	ctx, cancel := context.WithTimeout(ctx, c.statusTimeout)
	defer cancel()

	raw, status, err := c.call(ctx, "GetStatus", getStatusBody{TrackID: cufe})
	if err != nil {
		return nil, err
	}
	env, err := decodeEnvelope(raw)
	if err != nil {
		if status >= http.StatusBadRequest {
			return nil, errors.Join(domain.ErrNetwork, fmt.Errorf("HTTP %d", status))
		}
		return nil, errors.Join(domain.ErrMalformedResponse, err)
	}
	if f := env.Body.Fault; f != nil {
		if f.serverSide() {
			return nil, errors.Join(domain.ErrNetwork, f.err())
		}
		return &entity.StatusOutcome{Found: false, CUFE: cufe, StatusMessage: f.message(), Raw: raw}, nil
	}
	if status < 200 || status >= 300 {
		return nil, errors.Join(domain.ErrNetwork, fmt.Errorf("HTTP %d", status))
	}
	if env.Body.GetStatus == nil || env.Body.GetStatus.Result == nil {
		return &entity.StatusOutcome{Found: false, CUFE: cufe, StatusMessage: "No se encontró la factura", Raw: raw}, nil
	}
	res := env.Body.GetStatus.Result
	state := strings.TrimSpace(res.Status)
	if state == "" {
		state = strings.TrimSpace(res.StatusDescription)
	}
	if state == "" {
		state = "Desconocido"
	}
	return &entity.StatusOutcome{
		Found:         true,
		CUFE:          cufe,
		Status:        state,
		StatusMessage: strings.TrimSpace(res.StatusMessage),
		Raw:           raw,
	}, nil
}

// Ping verifica conectividad pidiendo el WSDL.
func (c *SOAPClient) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?wsdl", nil)
	if err != nil {
		return errors.Join(domain.ErrConfiguration, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Join(domain.ErrNetwork, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
	if resp.StatusCode != http.StatusOK {
		return errors.Join(domain.ErrNetwork, fmt.Errorf("WSDL respondió HTTP %d", resp.StatusCode))
	}
	return nil
}

// call envía el envelope y devuelve el cuerpo ya en UTF-8.
func (c *SOAPClient) call(ctx context.Context, action string, content any) ([]byte, int, error) {
	envelope := soapEnvelope{XmlnsS: soapNS, XmlnsW: wcfNS, Body: soapBody{Content: content}}
	payload, err := xml.Marshal(envelope)
	if err != nil {
		return nil, 0, errors.Join(domain.ErrInvalidInput, fmt.Errorf("soap: serializar envelope: %w", err))
	}
	payload = append([]byte(xml.Header), payload...)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, errors.Join(domain.ErrNetwork, fmt.Errorf("soap: crear request: %w", err))
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", soapActionBase+action)

	start := c.now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, errors.Join(domain.ErrNetwork, fmt.Errorf("soap %s: timeout o cancelación: %w", action, ctx.Err()))
		}
		return nil, 0, errors.Join(domain.ErrNetwork, fmt.Errorf("soap %s: llamada HTTP fallida: %w", action, err))
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, resp.StatusCode, errors.Join(domain.ErrNetwork, fmt.Errorf("soap %s: leer respuesta: %w", action, err))
	}
	if isLatin1(resp.Header.Get("Content-Type")) && !bytes.Contains(raw[:min(len(raw), 100)], []byte("encoding=")) {
		if raw, err = charmap.ISO8859_1.NewDecoder().Bytes(raw); err != nil {
			return nil, resp.StatusCode, errors.Join(domain.ErrMalformedResponse, err)
		}
	}
	c.log.Debug().Str("action", action).Dur("elapsed", c.now().Sub(start)).Int("bytes", len(raw)).Msg("llamada SOAP")
	return raw, resp.StatusCode, nil
}

func isLatin1(contentType string) bool {
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	cs := strings.ToLower(params["charset"])
	return cs == "iso-8859-1" || cs == "latin1"
}

// decodeEnvelope parsea la respuesta; las declaradas en ISO-8859-1 se decodifican con charmap.
func decodeEnvelope(raw []byte) (*soapResponseEnvelope, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, errors.New("respuesta vacía")
	}
	dec := xml.NewDecoder(bytes.NewReader(raw))
	dec.CharsetReader = func(label string, input io.Reader) (io.Reader, error) {
		switch strings.ToLower(label) {
		case "iso-8859-1", "latin1":
			return charmap.ISO8859_1.NewDecoder().Reader(input), nil
		case "windows-1252":
			return charmap.Windows1252.NewDecoder().Reader(input), nil
		}
		return nil, fmt.Errorf("charset %q no soportado", label)
	}
	var env soapResponseEnvelope
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("parsear respuesta SOAP: %w", err)
	}
	return &env, nil
}

// documentID lee cbc:ID del documento firmado (vacío si no se encuentra).
func documentID(signedXML []byte) string {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(signedXML); err != nil || doc.Root() == nil {
		return ""
	}
	if el := doc.Root().FindElement("./cbc:ID"); el != nil {
		return strings.TrimSpace(el.Text())
	}
	return ""
}
