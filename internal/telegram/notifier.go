package telegram

import (
	"context"
	"fmt"
	"strings"
)

// Notifier posts upload results to a single chat.
type Notifier struct {
	client *Client
	chatID int64
}

func NewNotifier(client *Client, chatID int64) *Notifier {
	return &Notifier{client: client, chatID: chatID}
}

func (n *Notifier) NotifyUploadComplete(ctx context.Context, title, videoURL string) error {
	msg := fmt.Sprintf("✅ *%s* uploaded!\n\n%s", escapeMarkdown(title), videoURL)
	return n.client.SendMessage(ctx, n.chatID, msg)
}

func (n *Notifier) NotifyUploadFailed(ctx context.Context, title string, err error) error {
	msg := fmt.Sprintf("❌ Failed to upload *%s*\n\n%s", escapeMarkdown(title), escapeMarkdown(err.Error()))
	return n.client.SendMessage(ctx, n.chatID, msg)
}

var markdownEscaper = strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[")

func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}
