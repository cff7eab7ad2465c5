package authorizenet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
)

// API hosts.
const (
	ProductionURL = "https://api.authorize.net"
	SandboxURL    = "https://apitest.authorize.net"

	transactionPath = "/xml/v1/request.api"
	webhooksPath    = "/rest/v1/webhooks"

	maxResponseBytes = 1 << 20
)

var utf8BOM = []byte("\xef\xbb\xbf")

// BaseURL picks the API host. A non-empty override wins.
func BaseURL(live bool, override string) string {
	if override != "" {
		return strings.TrimRight(override, "/")
	}
	if live {
		return ProductionURL
	}
	return SandboxURL
}

// StatusError is a non-2xx answer from the REST webhook API or the
// transaction endpoint.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("authorize.net: unexpected status %d: %s", e.StatusCode, e.Body)
}

// Client speaks the Authorize.net JSON transaction API and the REST webhook
// API for one merchant.
type Client struct {
	baseURL        string
	loginID        string
	transactionKey string
	http           *http.Client
}

func NewClient(baseURL, loginID, transactionKey string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:        strings.TrimRight(baseURL, "/"),
		loginID:        loginID,
		transactionKey: transactionKey,
		http:           httpClient,
	}
}

type merchantAuthentication struct {
	Name           string `json:"name"`
	TransactionKey string `json:"transactionKey"`
}

func (c *Client) auth() merchantAuthentication {
	return merchantAuthentication{Name: c.loginID, TransactionKey: c.transactionKey}
}

// TransactionRequest is a transactionRequestType. The API validates element
// order, so fields follow the schema sequence.
type TransactionRequest struct {
	TransactionType string    `json:"transactionType"`
	Amount          string    `json:"amount,omitempty"`
	Payment         *Payment  `json:"payment,omitempty"`
	RefTransID      string    `json:"refTransId,omitempty"`
	Order           *Order    `json:"order,omitempty"`
	Customer        *Customer `json:"customer,omitempty"`
	BillTo          *BillTo   `json:"billTo,omitempty"`
}

type Payment struct {
	CreditCard *CreditCard `json:"creditCard,omitempty"`
	OpaqueData *OpaqueData `json:"opaqueData,omitempty"`
}

type CreditCard struct {
	CardNumber     string `json:"cardNumber"`
	ExpirationDate string `json:"expirationDate"`
}

type OpaqueData struct {
	DataDescriptor string `json:"dataDescriptor"`
	DataValue      string `json:"dataValue"`
}

type Order struct {
	InvoiceNumber string `json:"invoiceNumber,omitempty"`
	Description   string `json:"description,omitempty"`
}

type Customer struct {
	Type string `json:"type,omitempty"`
	ID   string `json:"id,omitempty"`
}

type BillTo struct {
	FirstName string `json:"firstName,omitempty"`
	Country   string `json:"country,omitempty"`
}

type createTransactionRequest struct {
	MerchantAuthentication merchantAuthentication `json:"merchantAuthentication"`
	TransactionRequest     TransactionRequest     `json:"transactionRequest"`
}

// Messages is the API-level result block of every response.
type Messages struct {
	ResultCode string    `json:"resultCode"`
	Message    []Message `json:"message"`
}

type Message struct {
	Code string `json:"code"`
	Text string `json:"text"`
}

// First returns the leading message, if any.
func (m Messages) First() (Message, bool) {
	if len(m.Message) == 0 {
		return Message{}, false
	}
	return m.Message[0], true
}

type TransactionError struct {
	ErrorCode string `json:"errorCode"`
	ErrorText string `json:"errorText"`
}

// TransactionResponse is the transaction-level outcome of createTransaction.
type TransactionResponse struct {
	ResponseCode  string             `json:"responseCode"`
	AuthCode      string             `json:"authCode"`
	TransID       string             `json:"transId"`
	RefTransID    string             `json:"refTransID"`
	AccountNumber string             `json:"accountNumber"`
	AccountType   string             `json:"accountType"`
	Errors        []TransactionError `json:"errors"`
}

type CreateTransactionResponse struct {
	TransactionResponse *TransactionResponse `json:"transactionResponse"`
	Messages            Messages             `json:"messages"`
}

// CreateTransaction submits a transaction request. The error is non-nil only
// when no readable answer came back.
func (c *Client) CreateTransaction(ctx context.Context, tr TransactionRequest) (*CreateTransactionResponse, error) {
	var out CreateTransactionResponse
	err := c.post(ctx, "createTransactionRequest", createTransactionRequest{
		MerchantAuthentication: c.auth(),
		TransactionRequest:     tr,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

type MaskedCard struct {
	CardNumber     string `json:"cardNumber"`
	ExpirationDate string `json:"expirationDate"`
	CardType       string `json:"cardType"`
}

type MaskedPayment struct {
	CreditCard *MaskedCard `json:"creditCard"`
}

// TransactionDetails is the transaction as getTransactionDetails reports it.
// Amounts arrive as JSON numbers.
type TransactionDetails struct {
	TransID           string          `json:"transId"`
	TransactionStatus string          `json:"transactionStatus"`
	AuthAmount        decimal.Decimal `json:"authAmount"`
	SettleAmount      decimal.Decimal `json:"settleAmount"`
	AuthCode          string          `json:"authCode"`
	Payment           *MaskedPayment  `json:"payment"`
	Order             *Order          `json:"order"`
}

type GetTransactionDetailsResponse struct {
	Transaction *TransactionDetails `json:"transaction"`
	Messages    Messages            `json:"messages"`
}

type getTransactionDetailsRequest struct {
	MerchantAuthentication merchantAuthentication `json:"merchantAuthentication"`
	TransID                string                 `json:"transId"`
}

func (c *Client) GetTransactionDetails(ctx context.Context, transID string) (*GetTransactionDetailsResponse, error) {
	var out GetTransactionDetailsResponse
	err := c.post(ctx, "getTransactionDetailsRequest", getTransactionDetailsRequest{
		MerchantAuthentication: c.auth(),
		TransID:                transID,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) post(ctx context.Context, name string, payload, out any) error {
	body, err := json.Marshal(map[string]any{name: payload})
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+transactionPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s: %w", name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

// Webhook is a registration in the REST webhook API.
type Webhook struct {
	WebhookID  string   `json:"webhookId,omitempty"`
	Name       string   `json:"name,omitempty"`
	Status     string   `json:"status,omitempty"`
	URL        string   `json:"url"`
	EventTypes []string `json:"eventTypes"`
}

func (c *Client) GetWebhook(ctx context.Context, id string) (*Webhook, error) {
	var out Webhook
	if err := c.rest(ctx, http.MethodGet, webhooksPath+"/"+id, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateWebhook(ctx context.Context, w Webhook) (*Webhook, error) {
	var out Webhook
	if err := c.rest(ctx, http.MethodPost, webhooksPath, w, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteWebhook(ctx context.Context, id string) error {
	return c.rest(ctx, http.MethodDelete, webhooksPath+"/"+id, nil, nil)
}

func (c *Client) rest(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode webhook: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.loginID, c.transactionKey)
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	raw = bytes.TrimPrefix(raw, utf8BOM)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
