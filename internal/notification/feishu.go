package notification

import (
	"context"
	"fmt"
	"time"
)

// 飞书交互式卡片通知（支持 @all）
type FeishuChannel struct {
	Webhook      string
	EnableAtAll  bool
	Timeout      time.Duration
	TitlePrefix  string
	ContentIntro string
}

func (f *FeishuChannel) Name() string { return "feishu" }

func (f *FeishuChannel) Send(ctx context.Context, target string, msg Message) (Handle, error) {
	displayTitle := Title(msg)
	if f.TitlePrefix != "" {
		displayTitle = f.TitlePrefix + " " + displayTitle
	}
	displayTitle = "🚨 " + displayTitle

	text := "```\n" + Render(msg) + "\n```"
	if f.ContentIntro != "" {
		text = f.ContentIntro + "\n\n" + text
	}
	if f.EnableAtAll && msg.Critical() {
		text = text + "\n\n<at id=all></at>"
	}

	// critical 用红色卡片，其余用橙色
	template := "orange"
	if msg.Critical() {
		template = "red"
	}
	payload := map[string]any{
		"msg_type": "interactive",
		"card": map[string]any{
			"header": map[string]any{
				"title": map[string]any{
					"tag":     "plain_text",
					"content": displayTitle,
				},
				"template": template,
			},
			"elements": []map[string]any{
				{
					"tag": "div",
					"text": map[string]any{
						"tag":     "lark_md",
						"content": text,
					},
				},
			},
		},
	}
	if err := postJSON(ctx, f.Webhook, nil, f.Timeout, payload); err != nil {
		return "", fmt.Errorf("feishu webhook: %w", err)
	}
	return Handle(msg.ID), nil
}

func (f *FeishuChannel) Delete(ctx context.Context, target string, h Handle) error {
	return ErrDeleteUnsupported
}
