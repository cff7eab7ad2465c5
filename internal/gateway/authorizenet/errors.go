package authorizenet

import (
	"errors"
	"net/http"
	"strings"

	domainErrors "github.com/cassiomorais/payrecon/internal/domain/errors"
)

const (
	resultOK         = "Ok"
	responseApproved = "1"
	responseDeclined = "2"

	codeConnect            = "E00001"
	codeInvalidCredentials = "E00007"
	codeAlreadySettled     = "E00027"
	codeNotSettled         = "54"
	codeVoidSettled        = "16"
)

// transportError wraps a failure to get a readable answer.
func transportError(err error) error {
	var se *StatusError
	if errors.As(err, &se) && se.StatusCode >= 400 && se.StatusCode < 500 {
		return domainErrors.GatewayBusiness("request_rejected", "Authorize.net rejected the request.", err).
			WithStatus(se.StatusCode)
	}
	return domainErrors.GatewayTransport(codeConnect,
		"Failed to connect to Authorize.net. Please check your credentials or try again later.", err)
}

// messageError maps an API-level error message.
func messageError(m Message) error {
	switch m.Code {
	case codeInvalidCredentials:
		return domainErrors.GatewayBusiness(m.Code, "Invalid Authorize.net credentials provided.", nil).
			WithStatus(http.StatusUnauthorized)
	case "":
		return domainErrors.GatewayTransport(codeConnect, "Unexpected response from Authorize.net.", nil)
	}
	return domainErrors.GatewayBusiness(m.Code, m.Text, nil)
}

// transactionError maps the first transaction-level error.
func transactionError(tr *TransactionResponse) error {
	if len(tr.Errors) == 0 {
		return domainErrors.GatewayBusiness("unknown_error", "Unknown error in transaction response", nil)
	}
	e := tr.Errors[0]
	msg := e.ErrorText
	switch e.ErrorCode {
	case codeNotSettled:
		msg = strings.TrimSpace(msg) + " Transaction may not be settled yet. Consider voiding instead."
	case codeVoidSettled:
		msg = "Unable to void. Transaction has already been settled."
	}
	pe := domainErrors.GatewayBusiness(e.ErrorCode, msg, nil)
	if tr.ResponseCode == responseDeclined {
		return pe.WithStatus(http.StatusPaymentRequired)
	}
	return pe
}

// interpret turns a createTransaction answer into the approved transaction or
// a typed error. The transaction block is returned with the error when
// present so callers can stamp the gateway's ids on failed rows.
func interpret(resp *CreateTransactionResponse) (*TransactionResponse, error) {
	tr := resp.TransactionResponse
	if resp.Messages.ResultCode == resultOK && tr != nil && tr.ResponseCode == responseApproved {
		return tr, nil
	}
	if tr != nil && (len(tr.Errors) > 0 || tr.ResponseCode != "") {
		return tr, transactionError(tr)
	}
	m, _ := resp.Messages.First()
	if resp.Messages.ResultCode == resultOK {
		m = Message{}
	}
	return tr, messageError(m)
}
