package phpmyadmin

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
)

// AuthExtractionError means no usable session could be scraped from the
// console's landing page.
type AuthExtractionError struct {
	Reason string
	Err    error
}

func (e *AuthExtractionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("phpmyadmin: acquire session: %s: %s", e.Reason, e.Err.Error())
	}
	return fmt.Sprintf("phpmyadmin: acquire session: %s", e.Reason)
}

func (e *AuthExtractionError) Unwrap() error {
	return e.Err
}

// ExportTargetEmptyError means there is nothing to export in a database.
type ExportTargetEmptyError struct {
	Database string
}

func (e *ExportTargetEmptyError) Error() string {
	return fmt.Sprintf("phpmyadmin: no tables to export in database %q", e.Database)
}

// NetworkError means a request to the console failed in transport or was
// answered with a non-2xx status.
type NetworkError struct {
	Endpoint string
	// StatusCode is 0 when no response was received.
	StatusCode int
	// Detail is the error message shown by the console, if any.
	Detail string
	Err    error
}

func (e *NetworkError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("phpmyadmin: request %s: %s", e.Endpoint, e.Err.Error())
	}
	if e.Detail != "" {
		return fmt.Sprintf("phpmyadmin: request %s: status %d: %s", e.Endpoint, e.StatusCode, e.Detail)
	}
	return fmt.Sprintf("phpmyadmin: request %s: status %d", e.Endpoint, e.StatusCode)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

const maxDetailLen = 200

// consoleErrorDetail pulls the error message out of an error page the console rendered.
func consoleErrorDetail(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return ""
	}
	text := doc.Find(".alert-danger, div.error, #error_message").First().Text()
	text = strings.Join(strings.Fields(text), " ")
	if len(text) > maxDetailLen {
		cut := maxDetailLen
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut] + "..."
	}
	return text
}

// checkResponse turns transport failures and non-2xx responses into a
// NetworkError. Bodies of failed responses are never scraped for data.
func checkResponse(endpoint string, res *resty.Response, err error) error {
	if err != nil {
		return &NetworkError{Endpoint: endpoint, Err: err}
	}
	if !res.IsSuccess() {
		return &NetworkError{
			Endpoint:   endpoint,
			StatusCode: res.StatusCode(),
			Detail:     consoleErrorDetail(res.Body()),
		}
	}
	return nil
}
