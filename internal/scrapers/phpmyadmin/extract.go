package phpmyadmin

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Extractor pulls the session identifier and the csrf token out of the
// console's landing page.
type Extractor interface {
	SessionCookie(header http.Header) (string, error)
	Token(body []byte) (string, error)
}

var (
	sessionCookieRegex = regexp.MustCompile(`phpMyAdmin=([[:alnum:]]+);`)
	scriptTokenRegex   = regexp.MustCompile(`token:"([[:alnum:]]*)",`)
)

var (
	errNoSetCookie     = errors.New("response has no Set-Cookie header")
	errNoSessionCookie = errors.New("no phpMyAdmin session cookie in Set-Cookie header")
	errNoToken         = errors.New("no token in response body")
)

// ScriptExtractor finds the token in the inline script block the console
// renders its js config into.
type ScriptExtractor struct{}

func (ScriptExtractor) SessionCookie(header http.Header) (string, error) {
	values := header.Values("Set-Cookie")
	if len(values) == 0 {
		return "", errNoSetCookie
	}
	for _, value := range values {
		groups := sessionCookieRegex.FindStringSubmatch(value)
		if len(groups) >= 2 {
			return groups[1], nil
		}
	}
	return "", errNoSessionCookie
}

func (ScriptExtractor) Token(body []byte) (string, error) {
	groups := scriptTokenRegex.FindSubmatch(body)
	if len(groups) < 2 {
		return "", errNoToken
	}
	return string(groups[1]), nil
}

// FormExtractor finds the token in the hidden form input newer consoles
// render on every page.
type FormExtractor struct {
	ScriptExtractor
}

func (FormExtractor) Token(body []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	token := strings.TrimSpace(doc.Find(`input[name="token"]`).First().AttrOr("value", ""))
	if token == "" {
		return "", errNoToken
	}
	return token, nil
}

// ExtractorFor resolves the `token_source` config value.
func ExtractorFor(source string) (Extractor, error) {
	switch source {
	case "", "script":
		return ScriptExtractor{}, nil
	case "form":
		return FormExtractor{}, nil
	}
	return nil, fmt.Errorf("unknown token source %q, expected script or form", source)
}
