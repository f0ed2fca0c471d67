package notification

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

type DingTalkChannel struct {
	Webhook     string
	Secret      string
	EnableAtAll bool
	Timeout     time.Duration
}

func (d *DingTalkChannel) Name() string { return "dingtalk" }

func (d *DingTalkChannel) Send(ctx context.Context, target string, msg Message) (Handle, error) {
	content := fmt.Sprintf("**🚨 %s**\n\n```\n%s\n```", Title(msg), Render(msg))

	// 钉钉 Markdown 中手动追加 @所有人 提示，仅对 critical 生效
	atAll := d.EnableAtAll && msg.Critical()
	if atAll {
		content += "\n\n@所有人"
	}

	webhookURL := d.Webhook
	if d.Secret != "" {
		webhookURL = d.addSign(webhookURL, d.Secret, time.Now())
	}

	payload := map[string]any{
		"msgtype": "markdown",
		"markdown": map[string]string{
			"title": Title(msg),
			"text":  content,
		},
		"at": map[string]any{
			"isAtAll": atAll,
		},
	}
	body, err := postJSONBody(ctx, webhookURL, nil, d.Timeout, payload)
	if err != nil {
		return "", fmt.Errorf("dingtalk webhook: %w", err)
	}

	// 钉钉即使失败也会返回 200，通过 errcode 判断是否成功
	var res struct {
		ErrCode int    `json:"errcode"`
		ErrMsg  string `json:"errmsg"`
	}
	if err := json.Unmarshal(body, &res); err == nil && res.ErrCode != 0 {
		return "", fmt.Errorf("dingtalk webhook errcode=%d errmsg=%s", res.ErrCode, res.ErrMsg)
	}
	return Handle(msg.ID), nil
}

func (d *DingTalkChannel) Delete(ctx context.Context, target string, h Handle) error {
	return ErrDeleteUnsupported
}

// addSign 按钉钉官方文档对 webhook 进行加签
func (d *DingTalkChannel) addSign(webhookURL, secret string, now time.Time) string {
	timestamp := strconv.FormatInt(now.UnixMilli(), 10)
	stringToSign := timestamp + "\n" + secret

	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(stringToSign))
	sign := base64.StdEncoding.EncodeToString(h.Sum(nil))

	u, err := url.Parse(webhookURL)
	if err != nil {
		return webhookURL
	}
	q := u.Query()
	q.Set("timestamp", timestamp)
	q.Set("sign", sign)
	u.RawQuery = q.Encode()
	return u.String()
}
