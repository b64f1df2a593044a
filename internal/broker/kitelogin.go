package broker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/tidwall/gjson"

	apperrors "alert-trader/internal/errors"
)

const defaultLoginBaseURL = "https://kite.zerodha.com"

// webLogin drives the Kite web login (password then TOTP) to obtain a
// request token without an operator in the loop.
type webLogin struct {
	baseURL    string
	connectURL string
	userID     string
	password   string
	totpSecret string
	timeout    time.Duration
	now        func() time.Time
}

func newWebLogin(cfg KiteConfig, connectURL string) *webLogin {
	base := cfg.LoginBaseURL
	if base == "" {
		base = defaultLoginBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &webLogin{
		baseURL:    strings.TrimRight(base, "/"),
		connectURL: connectURL,
		userID:     cfg.UserID,
		password:   cfg.Password,
		totpSecret: cfg.TOTPSecret,
		timeout:    timeout,
		now:        time.Now,
	}
}

func (w *webLogin) requestToken(ctx context.Context) (string, error) {
	if w.userID == "" || w.password == "" || w.totpSecret == "" {
		return "", fmt.Errorf("user id, password and totp secret are required: %w", apperrors.ErrInvalidCredentials)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return "", err
	}

	var requestToken string
	client := &http.Client{
		Jar:     jar,
		Timeout: w.timeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if tok := req.URL.Query().Get("request_token"); tok != "" {
				requestToken = tok
				return http.ErrUseLastResponse
			}
			if len(via) >= 10 {
				return fmt.Errorf("stopped after %d redirects", len(via))
			}
			return nil
		},
	}

	body, err := w.postForm(ctx, client, "/api/login", url.Values{
		"user_id":  {w.userID},
		"password": {w.password},
	})
	if err != nil {
		return "", fmt.Errorf("password step: %w", err)
	}
	requestID := gjson.GetBytes(body, "data.request_id").String()
	if requestID == "" {
		return "", fmt.Errorf("password step returned no request id: %w", apperrors.ErrInvalidCredentials)
	}

	code, err := totp.GenerateCode(w.totpSecret, w.now())
	if err != nil {
		return "", fmt.Errorf("failed to generate totp: %w", err)
	}
	if _, err := w.postForm(ctx, client, "/api/twofa", url.Values{
		"user_id":     {w.userID},
		"request_id":  {requestID},
		"twofa_value": {code},
		"twofa_type":  {"totp"},
		"skip_totp":   {"true"},
	}); err != nil {
		return "", fmt.Errorf("totp step: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.connectURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("connect step: %w", err)
	}
	resp.Body.Close()

	if requestToken == "" {
		requestToken = resp.Request.URL.Query().Get("request_token")
	}
	if requestToken == "" {
		return "", fmt.Errorf("connect step returned no request token (status %d)", resp.StatusCode)
	}
	return requestToken, nil
}

func (w *webLogin) postForm(ctx context.Context, client *http.Client, path string, form url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if status := gjson.GetBytes(body, "status").String(); resp.StatusCode != http.StatusOK || status != "success" {
		msg := gjson.GetBytes(body, "message").String()
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, apperrors.NewBrokerError("login", msg, apperrors.ErrInvalidCredentials)
	}
	return body, nil
}
