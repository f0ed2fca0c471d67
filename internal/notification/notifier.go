package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"infra-alert/internal/config"
	"infra-alert/internal/logging"
)

var (
	// ErrDeleteUnsupported is returned by channels that cannot retract a message.
	ErrDeleteUnsupported = errors.New("delete not supported by channel")
	ErrUnknownChannel    = errors.New("unknown notification channel")
)

// DefaultChannel receives recipients written without a "channel:" prefix.
const DefaultChannel = "telegram"

// Handle identifies a delivered message so it can be deleted later.
type Handle string

// Message carries the semantic fields of a notification; channels render it.
type Message struct {
	ID        string
	Level     string
	Text      string
	Source    string
	Count     int
	Timestamp time.Time
}

func (m Message) Critical() bool {
	return m.Level == "critical"
}

// Channel is a messaging transport. target is channel specific: a chat id,
// an email address, or empty for single-destination webhooks.
type Channel interface {
	Name() string
	Send(ctx context.Context, target string, msg Message) (Handle, error)
	Delete(ctx context.Context, target string, h Handle) error
}

// Router resolves "<channel>:<target>" recipients onto registered channels.
type Router struct {
	mu       sync.RWMutex
	channels map[string]Channel
}

func NewRouter(channels ...Channel) *Router {
	r := &Router{channels: make(map[string]Channel)}
	for _, ch := range channels {
		r.Register(ch)
	}
	return r
}

func (r *Router) Name() string { return "router" }

func (r *Router) Register(ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.channels[ch.Name()] = ch
}

// Names lists registered channels in sorted order.
func (r *Router) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.channels))
	for n := range r.channels {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (r *Router) Send(ctx context.Context, recipient string, msg Message) (Handle, error) {
	ch, target, err := r.resolve(recipient)
	if err != nil {
		return "", err
	}
	return ch.Send(ctx, target, msg)
}

func (r *Router) Delete(ctx context.Context, recipient string, h Handle) error {
	ch, target, err := r.resolve(recipient)
	if err != nil {
		return err
	}
	return ch.Delete(ctx, target, h)
}

func (r *Router) resolve(recipient string) (Channel, string, error) {
	name, target := SplitRecipient(recipient)
	r.mu.RLock()
	ch, ok := r.channels[name]
	r.mu.RUnlock()
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", ErrUnknownChannel, name)
	}
	return ch, target, nil
}

// SplitRecipient splits "telegram:123" into ("telegram", "123"). A bare
// numeric id goes to DefaultChannel; any other bare word names a channel.
func SplitRecipient(recipient string) (string, string) {
	recipient = strings.TrimSpace(recipient)
	if i := strings.Index(recipient, ":"); i >= 0 {
		return recipient[:i], recipient[i+1:]
	}
	if isChatID(recipient) {
		return DefaultChannel, recipient
	}
	return recipient, ""
}

func isChatID(s string) bool {
	if s == "" {
		return false
	}
	for i, c := range s {
		if c == '-' && i == 0 {
			continue
		}
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// BuildChannels 根据配置构建所有可用渠道，console 始终存在
func BuildChannels(cfg config.Notifications) *Router {
	r := NewRouter(&ConsoleChannel{})
	if cfg.Telegram.Token != "" {
		r.Register(NewTelegramChannel(cfg.Telegram))
	}
	if cfg.Webhook.URL != "" {
		r.Register(&WebhookChannel{
			URL:     cfg.Webhook.URL,
			Headers: cfg.Webhook.Headers,
			Timeout: config.ParseDuration(cfg.Webhook.Timeout, 5*time.Second),
		})
	}
	if cfg.Feishu.Webhook != "" {
		r.Register(&FeishuChannel{
			Webhook:      cfg.Feishu.Webhook,
			EnableAtAll:  cfg.Feishu.EnableAtAll,
			Timeout:      config.ParseDuration(cfg.Feishu.Timeout, 5*time.Second),
			TitlePrefix:  cfg.Feishu.TitlePrefix,
			ContentIntro: cfg.Feishu.ContentIntro,
		})
	}
	if cfg.DingTalk.Webhook != "" {
		r.Register(&DingTalkChannel{
			Webhook:     cfg.DingTalk.Webhook,
			Secret:      cfg.DingTalk.Secret,
			EnableAtAll: cfg.DingTalk.EnableAtAll,
			Timeout:     config.ParseDuration(cfg.DingTalk.Timeout, 5*time.Second),
		})
	}
	if cfg.WeChat.Webhook != "" {
		r.Register(&WeChatChannel{
			Webhook: cfg.WeChat.Webhook,
			Timeout: config.ParseDuration(cfg.WeChat.Timeout, 5*time.Second),
		})
	}
	if cfg.Email.Host != "" && cfg.Email.From != "" {
		r.Register(NewEmailChannel(cfg.Email))
	}
	return r
}

// Console
type ConsoleChannel struct{}

func (c *ConsoleChannel) Name() string { return "console" }

func (c *ConsoleChannel) Send(ctx context.Context, target string, msg Message) (Handle, error) {
	logging.WithFields(map[string]any{
		"channel": "console",
		"level":   msg.Level,
		"source":  msg.Source,
		"count":   msg.Count,
	}).Info("\n" + Render(msg))
	return Handle(msg.ID), nil
}

func (c *ConsoleChannel) Delete(ctx context.Context, target string, h Handle) error {
	logging.Debugf("console: retract %s", h)
	return nil
}

// Webhook
type WebhookChannel struct {
	URL     string
	Headers map[string]string
	Timeout time.Duration
}

func (w *WebhookChannel) Name() string { return "webhook" }

func (w *WebhookChannel) Send(ctx context.Context, target string, msg Message) (Handle, error) {
	body := map[string]any{
		"id":      msg.ID,
		"title":   Title(msg),
		"level":   msg.Level,
		"source":  msg.Source,
		"count":   msg.Count,
		"message": msg.Text,
		"text":    Render(msg),
		"ts":      msg.Timestamp.Format(time.RFC3339),
	}
	if target != "" {
		body["target"] = target
	}
	if err := postJSON(ctx, w.URL, w.Headers, w.Timeout, body); err != nil {
		return "", fmt.Errorf("webhook: %w", err)
	}
	return Handle(msg.ID), nil
}

func (w *WebhookChannel) Delete(ctx context.Context, target string, h Handle) error {
	return ErrDeleteUnsupported
}

func postJSON(ctx context.Context, url string, headers map[string]string, timeout time.Duration, payload any) error {
	_, err := postJSONBody(ctx, url, headers, timeout, payload)
	return err
}

func postJSONBody(ctx context.Context, url string, headers map[string]string, timeout time.Duration, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode >= 300 {
		return body, fmt.Errorf("status=%d body=%s", resp.StatusCode, string(body))
	}
	return body, nil
}
