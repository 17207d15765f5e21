package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"sigscan/internal/market"
	"sigscan/internal/subscription"
)

// DefaultTelegramBaseURL is the production Bot API endpoint.
const DefaultTelegramBaseURL = "https://api.telegram.org"

// Telegram delivers signals through the Bot API sendMessage method, one
// attempt per signal.
type Telegram struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewTelegram creates a notifier; an empty baseURL selects production.
func NewTelegram(baseURL, token string, timeout time.Duration) *Telegram {
	if baseURL == "" {
		baseURL = DefaultTelegramBaseURL
	}
	return &Telegram{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type sendMessageRequest struct {
	ChatID    int64  `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// Notify sends the rendered signal to the user's chat.
func (t *Telegram) Notify(ctx context.Context, user subscription.UserID, sig *market.Signal) error {
	body, err := json.Marshal(sendMessageRequest{
		ChatID:    int64(user),
		Text:      FormatSignal(sig),
		ParseMode: "HTML",
	})
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("making request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("telegram error: status %d: %s", resp.StatusCode, respBody)
	}
	return nil
}

// FormatSignal renders one signal as a compact HTML alert.
func FormatSignal(sig *market.Signal) string {
	var b strings.Builder

	arrow := "🟢 LONG"
	if sig.Side == market.SideShort {
		arrow = "🔴 SHORT"
	}
	fmt.Fprintf(&b, "<b>%s</b> %s\n", kindTitle(sig.Kind), arrow)
	fmt.Fprintf(&b, "%s · %s · %s\n", strings.ToUpper(string(sig.Exchange)), sig.Symbol, sig.Detail.Timeframe)
	fmt.Fprintf(&b, "Price: %s\n", trimFloat(sig.Price))

	d := sig.Detail
	if d.PriceChangePct != 0 {
		fmt.Fprintf(&b, "Move: %+.2f%%\n", d.PriceChangePct)
	}
	if d.VolMult != 0 {
		fmt.Fprintf(&b, "Volume: x%.1f\n", d.VolMult)
	}
	if d.OIPct != 0 {
		fmt.Fprintf(&b, "OI: %+.2f%%\n", d.OIPct)
	}
	if d.CVDUsd != 0 {
		fmt.Fprintf(&b, "CVD: %s$\n", trimFloat(d.CVDUsd))
	}
	if d.BodyPct != 0 {
		fmt.Fprintf(&b, "Body: %.0f%%\n", d.BodyPct)
	}
	if sig.Kind == market.KindDivergence {
		fmt.Fprintf(&b, "RSI: %.1f → %.1f (lookback %d)\n", d.RSIPrev, d.RSINow, d.Lookback)
		if d.Strict {
			b.WriteString("MACD cross confirmed\n")
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func kindTitle(kind market.SignalKind) string {
	switch kind {
	case market.KindSmartPump:
		return "Smart Pump"
	case market.KindPumpDump:
		return "Pump/Dump"
	case market.KindDivergence:
		return "RSI Divergence"
	}
	return string(kind)
}

func trimFloat(v float64) string {
	s := fmt.Sprintf("%.4f", v)
	s = strings.TrimRight(s, "0")
	return strings.TrimRight(s, ".")
}
