package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"gaia/internal/model"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// LogSink writes every event to the structured log.
type LogSink struct {
	logger zerolog.Logger
}

func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger.With().Str("sink", "log").Logger()}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Deliver(_ context.Context, ev Event) error {
	s.logger.Info().
		Str("type", string(ev.Type)).
		Int64("reservation_id", ev.Reservation.ID).
		Int64("hall_id", ev.Reservation.HallID).
		Str("status", string(ev.Reservation.Status)).
		Str("from", string(ev.From)).
		Msg("reservation event")
	return nil
}

// TelegramSender is the subset of *tgbotapi.BotAPI used for sending.
type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// ActionsFunc lists the actions a staff member may take on a reservation
// in the given status. It drives the inline keyboard.
type ActionsFunc func(status model.Status) []model.Action

// TelegramSink posts events to one staff chat. Each chat gets its own sink
// so the dispatcher retries a failed chat without resending to the others.
type TelegramSink struct {
	api     TelegramSender
	chatID  int64
	loc     *time.Location
	actions ActionsFunc
}

func NewTelegramSink(api TelegramSender, chatID int64, loc *time.Location, actions ActionsFunc) *TelegramSink {
	if loc == nil {
		loc = time.UTC
	}
	return &TelegramSink{api: api, chatID: chatID, loc: loc, actions: actions}
}

// TelegramSinks builds one sink per staff chat.
func TelegramSinks(api TelegramSender, chatIDs []int64, loc *time.Location, actions ActionsFunc) []Sink {
	sinks := make([]Sink, 0, len(chatIDs))
	for _, id := range chatIDs {
		sinks = append(sinks, NewTelegramSink(api, id, loc, actions))
	}
	return sinks
}

func (s *TelegramSink) Name() string { return "telegram" }

var actionTitles = map[model.Action]string{
	model.ActionConfirm: "Подтвердить",
	model.ActionReject:  "Отклонить",
	model.ActionCancel:  "Отменить",
}

// ActionTitle is the button label of an action.
func ActionTitle(a model.Action) string {
	if t, ok := actionTitles[a]; ok {
		return t
	}
	return string(a)
}

// ActionKeyboard builds one row with an info button followed by a button
// per allowed action.
func ActionKeyboard(id int64, allowed []model.Action) *tgbotapi.InlineKeyboardMarkup {
	row := []tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardButtonData("ℹ️", ActionCallback("info", id)),
	}
	for _, a := range allowed {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(ActionTitle(a), ActionCallback(string(a), id)))
	}
	kb := tgbotapi.NewInlineKeyboardMarkup(row)
	return &kb
}

func (s *TelegramSink) Deliver(_ context.Context, ev Event) error {
	msg := tgbotapi.NewMessage(s.chatID, FormatEvent(ev, s.loc))
	if s.actions != nil {
		if allowed := s.actions(ev.Reservation.Status); len(allowed) > 0 {
			msg.ReplyMarkup = ActionKeyboard(ev.Reservation.ID, allowed)
		}
	}
	if _, err := s.api.Send(msg); err != nil {
		return fmt.Errorf("chat %d: %w", s.chatID, classifyTelegram(err))
	}
	return nil
}

func classifyTelegram(err error) error {
	var tgErr *tgbotapi.Error
	if !errors.As(err, &tgErr) {
		return err
	}
	switch tgErr.Code {
	case http.StatusTooManyRequests:
		return &RetryAfterError{Err: err, After: time.Duration(tgErr.RetryAfter) * time.Second}
	case http.StatusBadRequest, http.StatusForbidden:
		return Permanent(err)
	}
	return err
}
