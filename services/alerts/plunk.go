package alerts

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/preset/enhancement-gateway/config"
	"github.com/tidwall/sjson"
)

var levelColors = map[Level]string{
	LevelError: "#dc2626",
	LevelWarn:  "#d97706",
	LevelInfo:  "#2563eb",
}

// PlunkNotifier sends alerts as transactional e-mail through Plunk
type PlunkNotifier struct {
	apiKey     string
	baseURL    string
	to         string
	from       string
	httpClient *http.Client
}

// NewPlunkNotifier creates a notifier from the alert configuration
func NewPlunkNotifier(cfg config.AlertsConfig, httpClient *http.Client) *PlunkNotifier {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &PlunkNotifier{
		apiKey:     cfg.PlunkAPIKey,
		baseURL:    strings.TrimRight(cfg.PlunkBaseURL, "/"),
		to:         cfg.Recipient,
		from:       cfg.FromAddress,
		httpClient: httpClient,
	}
}

// Notify sends the alert e-mail
func (n *PlunkNotifier) Notify(ctx context.Context, alert Alert) error {
	body, _ := sjson.SetBytes([]byte(`{}`), "to", n.to)
	body, _ = sjson.SetBytes(body, "subject", subject(alert))
	body, _ = sjson.SetBytes(body, "body", renderHTML(alert))
	body, _ = sjson.SetBytes(body, "subscribed", true)
	if n.from != "" {
		body, _ = sjson.SetBytes(body, "from", n.from)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+"/send", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create plunk request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+n.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send alert e-mail: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("plunk API error: %d - %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

func subject(alert Alert) string {
	return fmt.Sprintf("[%s] Preset alert: %s", strings.ToUpper(string(alert.Level)), alert.Type)
}

func renderHTML(alert Alert) string {
	color, ok := levelColors[alert.Level]
	if !ok {
		color = levelColors[LevelInfo]
	}
	ts := alert.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	var b strings.Builder
	b.WriteString(`<!DOCTYPE html><html><body style="font-family:-apple-system,sans-serif;background:#f8fafc;padding:20px">`)
	fmt.Fprintf(&b, `<div style="max-width:600px;margin:0 auto;background:#fff;border-radius:12px;overflow:hidden">`)
	fmt.Fprintf(&b, `<div style="background:%s;color:#fff;padding:24px"><h2 style="margin:0">%s</h2></div>`,
		color, html.EscapeString(alert.Type))
	fmt.Fprintf(&b, `<div style="padding:24px"><p>%s</p><p style="color:#64748b">%s &middot; %s</p></div>`,
		html.EscapeString(alert.Message), html.EscapeString(string(alert.Level)), ts.UTC().Format(time.RFC3339))
	b.WriteString(`</div></body></html>`)
	return b.String()
}
