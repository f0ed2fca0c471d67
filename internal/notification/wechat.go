package notification

import (
	"context"
	"fmt"
	"time"
)

type WeChatChannel struct {
	Webhook string
	Timeout time.Duration
}

func (w *WeChatChannel) Name() string { return "wechat" }

func (w *WeChatChannel) Send(ctx context.Context, target string, msg Message) (Handle, error) {
	// 企业微信 markdown 不支持代码块，逐行输出
	content := fmt.Sprintf("**🚨 %s**\n> %s\n> Source: %s\n> Time: %s",
		Title(msg), msg.Text, msg.Source, msg.Timestamp.Format("2006-01-02 15:04:05"))
	if msg.ID != "" {
		content += "\n> ID: " + msg.ID
	}
	payload := map[string]any{
		"msgtype": "markdown",
		"markdown": map[string]string{
			"content": content,
		},
	}
	if err := postJSON(ctx, w.Webhook, nil, w.Timeout, payload); err != nil {
		return "", fmt.Errorf("wechat webhook: %w", err)
	}
	return Handle(msg.ID), nil
}

func (w *WeChatChannel) Delete(ctx context.Context, target string, h Handle) error {
	return ErrDeleteUnsupported
}
