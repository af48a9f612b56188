package httpclient

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
)

// AuthCookie is the cookie the SMAX API expects the bearer token in.
const AuthCookie = "SMAX_AUTH_TOKEN"

const defaultTimeout = time.Second * 10

var (
	ErrUnauthorized        = fmt.Errorf("unauthorized")
	ErrStatusCodeMismatch  = fmt.Errorf("status code mismatch")
	ErrContentTypeMismatch = fmt.Errorf("content type mismatch")
)

// APIError carries the HTTP status code and the raw error body the API responded with.
type APIError struct {
	StatusCode int
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api responded with status code %d: %s", e.StatusCode, e.Body)
}

func newAPIError(resp *fasthttp.Response) *APIError {
	return &APIError{
		StatusCode: resp.StatusCode(),
		Body:       append([]byte(nil), resp.Body()...),
	}
}

// Caller makes JSON requests against the API with a per-call timeout.
// The zero value is not usable, create it with New.
type Caller struct {
	cli     *fasthttp.Client
	timeout time.Duration
}

// New creates a new Caller. A zero timeout falls back to the default of 10 seconds.
// The skipVerify switch disables TLS certificate verification for instances
// running self signed certificates.
func New(timeout time.Duration, skipVerify bool) Caller {
	if timeout == 0 {
		timeout = defaultTimeout
	}
	return Caller{
		cli: &fasthttp.Client{
			TLSConfig: &tls.Config{InsecureSkipVerify: skipVerify},
		},
		timeout: timeout,
	}
}

// Get makes a GET request to the given 'url' with the authorization token.
// 'in' is a pointer to the structure to be deserialized from the received json data.
func (c Caller) Get(token, url string, in any) error {
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)

	req.SetRequestURI(url)
	req.Header.SetMethod("GET")
	req.Header.Set("accept", "application/json")
	setToken(req, token)

	return c.do(req, in)
}

// Post makes a POST request with serialized 'out' structure which is sent to the given 'url'
// with the authorization token.
// 'in' is a pointer to the structure to be deserialized from the received json data.
func (c Caller) Post(token, url string, out, in any) error {
	return c.send("POST", token, url, out, in)
}

// Put makes a PUT request with serialized 'out' structure which is sent to the given 'url'
// with the authorization token.
func (c Caller) Put(token, url string, out, in any) error {
	return c.send("PUT", token, url, out, in)
}

// Delete makes a DELETE request to the given 'url' with the authorization token.
func (c Caller) Delete(token, url string, in any) error {
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)

	req.SetRequestURI(url)
	req.Header.SetMethod("DELETE")
	req.Header.Set("accept", "application/json")
	setToken(req, token)

	return c.do(req, in)
}

// PostText makes a POST request with serialized 'out' structure and returns the response
// body as plain text. The SMAX token endpoint responds with the bearer token as raw text.
func (c Caller) PostText(url string, out any) (string, error) {
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)

	req.SetRequestURI(url)
	req.Header.SetMethod("POST")
	req.Header.SetContentType("application/json")
	raw, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	req.SetBody(raw)

	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	if err := c.cli.DoTimeout(req, resp, c.timeout); err != nil {
		return "", err
	}

	switch resp.StatusCode() {
	case fasthttp.StatusOK, fasthttp.StatusCreated, fasthttp.StatusAccepted:
	case fasthttp.StatusUnauthorized, fasthttp.StatusForbidden:
		return "", errors.Join(ErrUnauthorized, newAPIError(resp))
	default:
		return "", errors.Join(ErrStatusCodeMismatch, newAPIError(resp))
	}

	return strings.TrimSpace(string(resp.Body())), nil
}

func (c Caller) send(method, token, url string, out, in any) error {
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)

	req.SetRequestURI(url)
	req.Header.SetMethod(method)
	req.Header.SetContentType("application/json")
	req.Header.Set("accept", "application/json")
	setToken(req, token)

	raw, err := json.Marshal(out)
	if err != nil {
		return err
	}
	req.SetBody(raw)

	return c.do(req, in)
}

func (c Caller) do(req *fasthttp.Request, in any) error {
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	if err := c.cli.DoTimeout(req, resp, c.timeout); err != nil {
		return fmt.Errorf("request failed %w", err)
	}

	switch resp.StatusCode() {
	case fasthttp.StatusOK, fasthttp.StatusCreated, fasthttp.StatusAccepted:
	case fasthttp.StatusNoContent:
		return nil
	case fasthttp.StatusUnauthorized:
		return errors.Join(ErrUnauthorized, newAPIError(resp))
	default:
		return errors.Join(ErrStatusCodeMismatch, newAPIError(resp))
	}

	if in == nil {
		return nil
	}

	contentType := resp.Header.Peek("Content-Type")
	if bytes.Index(contentType, []byte("application/json")) != 0 {
		return errors.Join(
			ErrContentTypeMismatch,
			fmt.Errorf("expected content type application/json but got %s", contentType))
	}

	return json.Unmarshal(resp.Body(), in)
}

func setToken(req *fasthttp.Request, token string) {
	if token == "" {
		return
	}
	req.Header.SetCookie(AuthCookie, token)
	req.Header.Set("Authorization", "Bearer "+token)
}
