package platforms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"newswatch/internal/types"
	"newswatch/internal/utils"
)

// Notifier delivers messages to the alert channel. Send is fire-and-forget;
// EditPinned reports failure so callers can record it as an incident.
type Notifier interface {
	Send(ctx context.Context, message, correlationID string)
	EditPinned(ctx context.Context, message, correlationID string) error
}

const (
	// MessageLimit is the channel's maximum content length.
	MessageLimit    = 2000
	DefaultUsername = "News Watch"
)

type DiscordConfig struct {
	WebhookURL      string
	Username        string
	APIBase         string
	BotToken        string
	ChannelID       string
	PinnedMessageID string
	MaxAttempts     int
	Timeout         time.Duration
	Clock           utils.Clock
	Logger          *slog.Logger
	Audit           *slog.Logger
	HTTPClient      *http.Client
}

type DiscordPlatform struct {
	webhookURL      string
	username        string
	apiBase         string
	botToken        string
	channelID       string
	pinnedMessageID string
	maxAttempts     int
	httpClient      *http.Client
	clock           utils.Clock
	logger          *slog.Logger
	audit           *slog.Logger
}

type WebhookMessage struct {
	Content  string `json:"content"`
	Username string `json:"username,omitempty"`
}

type EditMessage struct {
	Content string `json:"content"`
}

type DiscordErrorResponse struct {
	Message    string  `json:"message"`
	RetryAfter float64 `json:"retry_after"`
	Global     bool    `json:"global"`
}

func NewDiscordPlatform(cfg DiscordConfig) *DiscordPlatform {
	if cfg.Username == "" {
		cfg.Username = DefaultUsername
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = utils.SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Audit == nil {
		cfg.Audit = cfg.Logger
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &DiscordPlatform{
		webhookURL:      cfg.WebhookURL,
		username:        cfg.Username,
		apiBase:         strings.TrimRight(cfg.APIBase, "/"),
		botToken:        cfg.BotToken,
		channelID:       cfg.ChannelID,
		pinnedMessageID: cfg.PinnedMessageID,
		maxAttempts:     cfg.MaxAttempts,
		httpClient:      cfg.HTTPClient,
		clock:           cfg.Clock,
		logger:          cfg.Logger,
		audit:           cfg.Audit,
	}
}

func (p *DiscordPlatform) Validate() error {
	if p.webhookURL == "" {
		return fmt.Errorf("discord platform: webhook_url is required")
	}
	return nil
}

func (p *DiscordPlatform) Send(ctx context.Context, message, correlationID string) {
	if p.webhookURL == "" {
		p.logger.Warn("Webhook not configured, dropping message", "correlation_id", correlationID)
		return
	}

	for i, chunk := range SplitMessage(message, MessageLimit) {
		payload := WebhookMessage{Content: chunk, Username: p.username}
		if err := p.deliver(ctx, http.MethodPost, p.webhookURL, payload, "", correlationID); err != nil {
			p.logger.Error("Failed to send notification", "correlation_id", correlationID, "part", i+1, "error", err)
			return
		}
	}
}

func (p *DiscordPlatform) EditPinned(ctx context.Context, message, correlationID string) error {
	if p.botToken == "" || p.channelID == "" || p.pinnedMessageID == "" {
		return fmt.Errorf("pinned summary is not configured")
	}

	payload := EditMessage{Content: truncate(message, MessageLimit)}
	if err := p.deliver(ctx, http.MethodPatch, p.pinnedURL(), payload, "Bot "+p.botToken, correlationID); err != nil {
		return fmt.Errorf("failed to edit pinned summary: %w", err)
	}
	return nil
}

func (p *DiscordPlatform) pinnedURL() string {
	if p.apiBase != "" {
		return fmt.Sprintf("%s/channels/%s/messages/%s", p.apiBase, p.channelID, p.pinnedMessageID)
	}
	return discordgo.EndpointChannelMessage(p.channelID, p.pinnedMessageID)
}

// deliver retries rate-limited responses after the advised delay and
// transport errors after 2^attempt seconds. Any other non-2xx ends it.
func (p *DiscordPlatform) deliver(ctx context.Context, method, url string, payload interface{}, auth, correlationID string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < p.maxAttempts; attempt++ {
		wait := time.Duration(math.Pow(2, float64(attempt))) * time.Second

		status, retryAfter, err := p.do(ctx, method, url, body, auth)
		switch {
		case err != nil:
			lastErr = fmt.Errorf("failed to send request: %w", err)
			p.audit.Warn("Delivery transport error", "method", method, "correlation_id", correlationID, "attempt", attempt+1, "error", err)
		case status >= 200 && status < 300:
			p.audit.Info("Delivered", "method", method, "correlation_id", correlationID, "status", status, "attempt", attempt+1)
			return nil
		case status == http.StatusTooManyRequests:
			lastErr = fmt.Errorf("discord API returned %d: %w", status, types.ErrRateLimited)
			if retryAfter > 0 {
				wait = retryAfter
			}
			p.audit.Warn("Delivery rate limited", "method", method, "correlation_id", correlationID, "attempt", attempt+1, "retry_after", wait)
		default:
			p.audit.Error("Delivery rejected", "method", method, "correlation_id", correlationID, "status", status, "attempt", attempt+1)
			return fmt.Errorf("discord API returned status code %d: %w", status, types.ErrNonRetryable)
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		if attempt < p.maxAttempts-1 {
			if err := p.clock.Sleep(ctx, wait); err != nil {
				return err
			}
		}
	}

	p.audit.Error("Delivery abandoned", "method", method, "correlation_id", correlationID, "attempts", p.maxAttempts, "error", lastErr)
	return fmt.Errorf("max attempts (%d) exceeded: %w", p.maxAttempts, lastErr)
}

func (p *DiscordPlatform) do(ctx context.Context, method, url string, body []byte, auth string) (int, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return 0, 0, err
	}

	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return 0, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusTooManyRequests {
		io.Copy(io.Discard, resp.Body)
		return resp.StatusCode, 0, nil
	}

	return resp.StatusCode, parseRetryAfter(resp), nil
}

func parseRetryAfter(resp *http.Response) time.Duration {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var errorResp DiscordErrorResponse
	if json.Unmarshal(data, &errorResp) == nil && errorResp.RetryAfter > 0 {
		return time.Duration(errorResp.RetryAfter * float64(time.Second))
	}

	if header := resp.Header.Get("Retry-After"); header != "" {
		if secs, err := strconv.ParseFloat(header, 64); err == nil && secs > 0 {
			return time.Duration(secs * float64(time.Second))
		}
	}
	return 0
}

func (p *DiscordPlatform) Close(_ context.Context) error {
	p.httpClient.CloseIdleConnections()
	return nil
}
