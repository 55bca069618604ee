package phpmyadmin

import (
	"context"
	"net/http"
)

// Session is what the console needs to accept a form submission, it is
// only valid for a short while and is fetched fresh for every export.
type Session struct {
	Token         string
	SessionCookie string
}

// Session fetches the landing page with the configured language and scrapes
// the session cookie and csrf token from it.
func (c *Client) Session(ctx context.Context) (Session, error) {
	c.tel.ReportDebug("acquire session", c.lang)

	res, err := c.Http.R().
		SetContext(ctx).
		SetCookie(&http.Cookie{Name: "pma_lang", Value: c.lang}).
		Get("/")
	err = checkResponse("/", res, err)
	if err != nil {
		c.tel.ReportBroken(report_client_session, err)
		return Session{}, &AuthExtractionError{Reason: "fetch landing page", Err: err}
	}

	cookie, err := c.extractor.SessionCookie(res.Header())
	if err != nil {
		c.tel.ReportBroken(report_client_session, err)
		return Session{}, &AuthExtractionError{Reason: "extract session cookie", Err: err}
	}
	token, err := c.extractor.Token(res.Body())
	if err != nil {
		c.tel.ReportBroken(report_client_session, err)
		return Session{}, &AuthExtractionError{Reason: "extract token", Err: err}
	}

	return Session{Token: token, SessionCookie: cookie}, nil
}
