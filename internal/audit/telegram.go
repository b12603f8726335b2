package audit

import (
	"context"
	"errors"
	"fmt"
	"io"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// DocumentSender is the subset of the Bot API used to upload files.
type DocumentSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier uploads reports to the admin chats.
type TelegramNotifier struct {
	api     DocumentSender
	chatIDs []int64
}

func NewTelegramNotifier(api DocumentSender, chatIDs []int64) *TelegramNotifier {
	return &TelegramNotifier{api: api, chatIDs: chatIDs}
}

func (n *TelegramNotifier) SendDocument(ctx context.Context, filename string, data io.Reader, caption string) error {
	if len(n.chatIDs) == 0 {
		return errors.New("no admin chats configured")
	}
	// Every chat needs its own reader.
	content, err := io.ReadAll(data)
	if err != nil {
		return err
	}

	var errs []error
	for _, chatID := range n.chatIDs {
		if err := ctx.Err(); err != nil {
			return err
		}
		doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{Name: filename, Bytes: content})
		doc.Caption = caption
		if _, err := n.api.Send(doc); err != nil {
			errs = append(errs, fmt.Errorf("chat %d: %w", chatID, err))
		}
	}
	return errors.Join(errs...)
}
