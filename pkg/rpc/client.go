// Package rpc talks to the session-based RPC interface of Lenovo/AMI style BMC web servers.
package rpc

import (
	"bytes"
	"context"
	"crypto/tls"
	stderrors "errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"k8s.io/utils/clock"

	"github.com/davidroman0O/bmcmanager/errors"
	"github.com/davidroman0O/bmcmanager/pkg/log"
	"github.com/davidroman0O/bmcmanager/pkg/retry"
)

// Endpoints of the vendor web server.
const (
	LoginPath    = "/rpc/WEBSES/create.asp"
	ValidatePath = "/rpc/WEBSES/validate.asp"

	loginCookie           = "Language=EN; SessionExpired=true;"
	sessionCreationFailed = "Failure_Session_Creation"
)

// Config configures a Client.
type Config struct {
	// Host is the BMC address, with or without an https:// scheme.
	Host     string
	Username string
	Password string

	// Timeout bounds each HTTP round trip. Defaults to 60s.
	Timeout time.Duration

	// Retry is the login retry policy. Defaults to retry.SessionConfig.
	Retry *retry.Config

	// Clock drives login backoff. Defaults to the real clock.
	Clock clock.Clock

	// HTTPClient replaces the default client, which skips TLS verification.
	HTTPClient *http.Client
}

// Client is a session RPC client for one BMC. It is not safe for concurrent use
// and must not be shared between targets.
type Client struct {
	baseURL  string
	username string
	password string

	http    *http.Client
	retry   retry.Config
	clock   clock.Clock
	session *sessionMachine
	log     log.Logger
}

// New creates a Client. No request is sent until the first call.
func New(cfg Config, logger log.Logger) *Client {
	host := strings.TrimSuffix(cfg.Host, "/")
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "https://" + host
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				// BMCs ship self-signed certificates.
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
			},
		}
	}

	clk := cfg.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	policy := retry.SessionConfig()
	if cfg.Retry != nil {
		policy = *cfg.Retry
	}
	if policy.Sleep == nil {
		policy.Sleep = retry.SleepOn(clk)
	}

	return &Client{
		baseURL:  host,
		username: cfg.Username,
		password: cfg.Password,
		http:     httpClient,
		retry:    policy,
		clock:    clk,
		session:  newSessionMachine(),
		log:      log.OrStd(logger).WithName("rpc").WithValues("host", host),
	}
}

// State returns the current session state.
func (c *Client) State() string {
	return c.session.Current()
}

// Session returns the active session, or nil when not authenticated.
func (c *Client) Session() *Session {
	return c.session.current
}

var errExpiredLogin = stderrors.New("login answered with the session expired page")

// Authenticate creates a session. It is a no-op while a session is active. Only
// the session-expired interstitial is retried. Running out of attempts, an empty
// or malformed login response and the session-creation failure token are fatal.
// A transport error is not: the client stays unauthenticated.
func (c *Client) Authenticate(ctx context.Context) error {
	switch c.session.Current() {
	case StateAuthenticated:
		return nil
	case StateFailed:
		return errors.New(errors.ErrAuthentication, "session establishment already failed")
	}

	form := url.Values{
		"WEBVAR_USERNAME": {c.username},
		"WEBVAR_PASSWORD": {c.password},
	}

	var login Record
	attempt := 0
	policy := c.retry
	policy.OnRetry = func(n int, err error) {
		c.log.Info("login will be retried", "attempt", n, "error", err)
	}
	err := retry.Do(ctx, func(ctx context.Context) error {
		attempt++
		status, body, err := c.post(ctx, LoginPath, strings.NewReader(form.Encode()), map[string]string{
			"Cookie":       loginCookie,
			"Content-Type": "text/plain",
		})
		if err != nil {
			return err
		}
		if status != http.StatusOK {
			return errors.Newf(errors.ErrAuthentication, "login returned HTTP %d", status)
		}
		resp, err := Decode(body)
		if resp.Retryable {
			return retry.NewRetryableError(errExpiredLogin)
		}
		if err != nil {
			c.log.Debug("undecodable login response", "body", body)
			return errors.Wrap(err, errors.ErrAuthentication, "malformed login response")
		}
		if resp.Empty() {
			return errors.New(errors.ErrAuthentication, "empty login response")
		}
		login = resp.First()
		return nil
	}, policy)
	if err != nil {
		// Transport failures leave the client unauthenticated so the next call logs in again.
		if errors.Is(err, errors.ErrConnection) || ctx.Err() != nil {
			return errors.WithContext(
				errors.Wrap(err, errors.ErrConnection, "failed to reach the login endpoint"),
				map[string]interface{}{"attempts": attempt},
			)
		}
		_ = c.session.Event(ctx, EventFail)
		return errors.WithContext(
			errors.Wrap(err, errors.ErrAuthentication, "failed to create session"),
			map[string]interface{}{"attempts": attempt},
		)
	}

	token := login.String("SESSION_COOKIE")
	if token == "" || token == sessionCreationFailed {
		_ = c.session.Event(ctx, EventFail)
		return errors.New(errors.ErrAuthentication, "session creation refused, the session limit was probably reached")
	}

	session := &Session{
		Token:     token,
		CSRFToken: login.String("CSRFTOKEN"),
		CreatedAt: c.clock.Now(),
	}
	if err := c.session.Event(ctx, EventLogin, session); err != nil {
		return errors.Wrap(err, errors.ErrAuthentication, "invalid session transition")
	}
	c.log.Debug("session created", "attempts", attempt)
	return nil
}

// Call invokes /rpc/<name>.asp. A non-200 status or an undecodable body yields an
// empty Response and is only logged. An expired session is renewed once and the
// call repeated. The error is reserved for authentication and transport failures.
func (c *Client) Call(ctx context.Context, name string, params map[string]any) (Response, error) {
	if err := c.Authenticate(ctx); err != nil {
		return Response{}, err
	}

	resp, err := c.call(ctx, name, params)
	if err != nil || !resp.Retryable {
		return resp, err
	}

	c.log.Warn("session expired, renewing", "rpc", name)
	if err := c.session.Event(ctx, EventExpire); err != nil {
		return Response{}, errors.Wrap(err, errors.ErrAuthentication, "invalid session transition")
	}
	if err := c.Authenticate(ctx); err != nil {
		return Response{}, err
	}
	return c.call(ctx, name, params)
}

func (c *Client) call(ctx context.Context, name string, params map[string]any) (Response, error) {
	var body io.Reader
	headers := c.sessionHeaders()
	if len(params) > 0 {
		form := url.Values{}
		for k, v := range params {
			form.Set(k, fmt.Sprint(v))
		}
		body = strings.NewReader(form.Encode())
		headers["Content-Type"] = "application/x-www-form-urlencoded"
	}

	status, text, err := c.post(ctx, "/rpc/"+name+".asp", body, headers)
	if err != nil {
		return Response{}, errors.WithContext(err, map[string]interface{}{"rpc": name})
	}
	if status != http.StatusOK {
		c.log.Error(nil, "rpc call failed", "rpc", name, "status", status)
		return Response{}, nil
	}

	resp, err := Decode(text)
	if err != nil {
		if resp.Retryable {
			c.log.Warn("rpc answered with the session expired page", "rpc", name)
		} else {
			c.log.Error(err, "could not decode rpc response", "rpc", name)
			c.log.Debug("undecodable rpc response", "rpc", name, "body", text)
		}
	}
	return resp, nil
}

// Upload posts a multipart file under the session.
func (c *Client) Upload(ctx context.Context, path, field, filename string, content io.Reader) (int, error) {
	if err := c.Authenticate(ctx); err != nil {
		return 0, err
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile(field, filename)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrInvalidInput, "failed to build upload")
	}
	if _, err := io.Copy(part, content); err != nil {
		return 0, errors.Wrap(err, errors.ErrInvalidInput, "failed to read upload content")
	}
	if err := mw.Close(); err != nil {
		return 0, errors.Wrap(err, errors.ErrInvalidInput, "failed to build upload")
	}

	headers := c.sessionHeaders()
	headers["Content-Type"] = mw.FormDataContentType()

	c.log.Info("uploading file", "path", path, "file", filename, "bytes", buf.Len())
	status, _, err := c.post(ctx, path, &buf, headers)
	return status, err
}

// Validate asks the BMC whether the session is still valid. It reports true on HTTP 200.
func (c *Client) Validate(ctx context.Context) (bool, error) {
	headers := map[string]string{}
	if s := c.session.current; s != nil {
		headers = c.sessionHeaders()
	}
	status, _, err := c.post(ctx, ValidatePath, nil, headers)
	if err != nil {
		return false, err
	}
	return status == http.StatusOK, nil
}

func (c *Client) sessionHeaders() map[string]string {
	s := c.session.current
	if s == nil {
		return map[string]string{}
	}
	return map[string]string{
		"Cookie":    "SessionCookie=" + s.Token,
		"CSRFTOKEN": s.CSRFToken,
	}
}

func (c *Client) post(ctx context.Context, path string, body io.Reader, headers map[string]string) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return 0, "", errors.Wrap(err, errors.ErrInvalidInput, "failed to build request")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, "", errors.Wrap(err, errors.ErrConnection, "request to "+path+" failed")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, "", errors.Wrap(err, errors.ErrConnection, "failed to read response from "+path)
	}
	return resp.StatusCode, string(data), nil
}

// IsConnectionDropped reports whether err is a connection reset or broken pipe.
// BMCs drop connections while flashing without the update having failed.
func IsConnectionDropped(err error) bool {
	return stderrors.Is(err, syscall.ECONNRESET) || stderrors.Is(err, syscall.EPIPE)
}
