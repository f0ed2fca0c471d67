package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"infra-alert/internal/config"
)

// telegramMaxLen is the Bot API limit for a single text message.
const telegramMaxLen = 4096

// TelegramChannel delivers through the Telegram Bot API. target is the chat id.
type TelegramChannel struct {
	Token   string
	APIURL  string
	Timeout time.Duration

	limiter *rate.Limiter
}

func NewTelegramChannel(cfg config.TelegramConfig) *TelegramChannel {
	burst := int(cfg.RateLimit)
	if burst < 1 {
		burst = 1
	}
	return &TelegramChannel{
		Token:   cfg.Token,
		APIURL:  strings.TrimRight(cfg.APIURL, "/"),
		Timeout: config.ParseDuration(cfg.Timeout, 10*time.Second),
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), burst),
	}
}

func (t *TelegramChannel) Name() string { return "telegram" }

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
	ErrorCode   int    `json:"error_code"`
	Result      struct {
		MessageID int64 `json:"message_id"`
	} `json:"result"`
}

func (t *TelegramChannel) Send(ctx context.Context, target string, msg Message) (Handle, error) {
	chatID, err := parseChatID(target)
	if err != nil {
		return "", err
	}
	text := "<pre>" + html.EscapeString(Render(msg)) + "</pre>"
	if len(text) > telegramMaxLen {
		text = "<pre>" + html.EscapeString(clip(msg.Text, 1000)) + "</pre>"
	}
	res, err := t.call(ctx, "sendMessage", map[string]any{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "HTML",
	})
	if err != nil {
		return "", err
	}
	return Handle(strconv.FormatInt(res.Result.MessageID, 10)), nil
}

func (t *TelegramChannel) Delete(ctx context.Context, target string, h Handle) error {
	chatID, err := parseChatID(target)
	if err != nil {
		return err
	}
	messageID, err := strconv.ParseInt(string(h), 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: bad message handle %q", h)
	}
	_, err = t.call(ctx, "deleteMessage", map[string]any{
		"chat_id":    chatID,
		"message_id": messageID,
	})
	return err
}

func (t *TelegramChannel) call(ctx context.Context, method string, payload map[string]any) (*telegramResponse, error) {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("telegram %s: %w", method, err)
		}
	}
	url := fmt.Sprintf("%s/bot%s/%s", t.APIURL, t.Token, method)
	body, err := postJSONBody(ctx, url, nil, t.Timeout, payload)
	// Bot API 失败时返回 4xx，且 body 中带 description
	var res telegramResponse
	if len(body) > 0 {
		if jerr := json.Unmarshal(body, &res); jerr == nil && !res.OK && res.Description != "" {
			return nil, fmt.Errorf("telegram %s: %d %s", method, res.ErrorCode, res.Description)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("telegram %s: %w", method, err)
	}
	if !res.OK {
		return nil, fmt.Errorf("telegram %s: unexpected response", method)
	}
	return &res, nil
}

func parseChatID(target string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(target), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("telegram: invalid chat id %q", target)
	}
	return id, nil
}
