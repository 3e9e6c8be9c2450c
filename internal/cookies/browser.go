package cookies

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"
)

// ExecDriver drives cookie refresh via an external chromedp-style headless
// browser driver binary invoked with os/exec, rather than linking a browser
// automation library into the binary. It mirrors
// refresh_cookies_with_browser()'s stealth profile (spoofed fingerprint,
// geolocation and timezone, navigator.webdriver hidden, cookies scoped to
// the last two labels of the target host) — that profile setup lives in the
// external binary, which receives the request on stdin and returns the
// result as JSON on stdout.
type ExecDriver struct {
	BinPath string
	Timeout time.Duration
}

func NewExecDriver(binPath string) *ExecDriver {
	return &ExecDriver{BinPath: binPath, Timeout: 90 * time.Second}
}

type browserRequest struct {
	URL     string            `json:"url"`
	Cookies map[string]string `json:"cookies"`
}

type browserResponse struct {
	Cookies  map[string]string `json:"cookies"`
	PageText string            `json:"page_text"`
	Error    string            `json:"error,omitempty"`
}

func (d *ExecDriver) Visit(ctx context.Context, serviceURL string, existingCookies map[string]string) (map[string]string, string, error) {
	reqBody, err := json.Marshal(browserRequest{URL: serviceURL, Cookies: existingCookies})
	if err != nil {
		return nil, "", err
	}

	timeout := d.Timeout
	if timeout == 0 {
		timeout = 90 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, d.BinPath)
	cmd.Stdin = bytes.NewReader(reqBody)

	out, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return nil, "", fmt.Errorf("browser driver: %w: %s", err, string(exitErr.Stderr))
		}
		return nil, "", fmt.Errorf("browser driver: %w", err)
	}

	var resp browserResponse
	if err := json.Unmarshal(out, &resp); err != nil {
		return nil, "", fmt.Errorf("browser driver: parse response: %w", err)
	}
	if resp.Error != "" {
		return nil, "", fmt.Errorf("browser driver: %s", resp.Error)
	}
	return resp.Cookies, resp.PageText, nil
}
