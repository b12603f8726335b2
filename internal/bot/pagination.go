package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gaia/internal/booking"
	"gaia/internal/model"
	"gaia/internal/notify"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	itemsPerPage  = 8
	upcomingDays  = 7
	listFetchSize = 200
	pagePrefix    = "pg"
)

type listKind string

const (
	listDay      listKind = "d"
	listNew      listKind = "n"
	listUpcoming listKind = "u"
)

// listQuery identifies a reservation list so that page buttons can
// re-run it.
type listQuery struct {
	kind listKind
	day  time.Time
}

func (q listQuery) callback(page int) string {
	arg := "-"
	if q.kind == listDay {
		arg = q.day.Format("20060102")
	}
	return fmt.Sprintf("%s:%s:%s:%d", pagePrefix, q.kind, arg, page)
}

func parsePageCallback(data string, loc *time.Location) (listQuery, int, bool) {
	parts := strings.Split(data, ":")
	if len(parts) != 4 || parts[0] != pagePrefix {
		return listQuery{}, 0, false
	}
	page, err := strconv.Atoi(parts[3])
	if err != nil || page < 0 {
		return listQuery{}, 0, false
	}
	q := listQuery{kind: listKind(parts[1])}
	switch q.kind {
	case listDay:
		day, err := time.ParseInLocation("20060102", parts[2], loc)
		if err != nil {
			return listQuery{}, 0, false
		}
		q.day = day
	case listNew, listUpcoming:
	default:
		return listQuery{}, 0, false
	}
	return q, page, true
}

func (b *Bot) title(q listQuery) string {
	switch q.kind {
	case listDay:
		return "Брони на " + q.day.Format("02.01.2006")
	case listNew:
		return "Новые заявки"
	}
	return fmt.Sprintf("Брони на ближайшие %d дней", upcomingDays)
}

func (b *Bot) fetch(ctx context.Context, q listQuery) ([]model.Reservation, error) {
	now := b.now().In(b.loc)
	f := booking.ReservationFilter{Statuses: model.HoldingStatuses, Limit: listFetchSize}
	switch q.kind {
	case listDay:
		f.From, f.To = q.day, q.day.AddDate(0, 0, 1)
	case listNew:
		f.From = now
		f.Statuses = []model.Status{model.StatusNew}
	case listUpcoming:
		f.From, f.To = now, now.AddDate(0, 0, upcomingDays)
	}
	return b.manager.List(ctx, f)
}

func (b *Bot) hallNames(ctx context.Context) map[int64]string {
	names := make(map[int64]string)
	halls, err := b.manager.Halls(ctx)
	if err != nil {
		b.logger.Warn().Err(err).Msg("list halls")
		return names
	}
	for _, h := range halls {
		names[h.ID] = h.Name
	}
	return names
}

// sendList renders one page of a reservation list. A non-zero messageID
// edits the existing message in place.
func (b *Bot) sendList(ctx context.Context, chatID int64, messageID int, q listQuery, page int) {
	rs, err := b.fetch(ctx, q)
	if err != nil {
		b.replyError(ctx, chatID, err)
		return
	}
	if len(rs) == 0 {
		b.reply(chatID, b.title(q)+"\n\nБроней нет.")
		return
	}

	pages := (len(rs) + itemsPerPage - 1) / itemsPerPage
	if page >= pages {
		page = pages - 1
	}
	startIdx := page * itemsPerPage
	endIdx := startIdx + itemsPerPage
	if endIdx > len(rs) {
		endIdx = len(rs)
	}
	halls := b.hallNames(ctx)

	var message strings.Builder
	message.WriteString(b.title(q) + "\n")
	if pages > 1 {
		fmt.Fprintf(&message, "Страница %d из %d\n", page+1, pages)
	}
	message.WriteString("\n")

	var keyboard [][]tgbotapi.InlineKeyboardButton
	for _, r := range rs[startIdx:endIdx] {
		fmt.Fprintf(&message, "#%d %s, %s, %s (%s)\n",
			r.ID, r.Interval.In(b.loc).String(), halls[r.HallID], r.Customer.Name, notify.StatusTitle(r.Status))
		keyboard = append(keyboard, []tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("#%d %s", r.ID, r.Customer.Name), notify.ActionCallback("info", r.ID)),
		})
	}

	var navButtons []tgbotapi.InlineKeyboardButton
	if page > 0 {
		navButtons = append(navButtons, tgbotapi.NewInlineKeyboardButtonData("⬅️ Назад", q.callback(page-1)))
	}
	if endIdx < len(rs) {
		navButtons = append(navButtons, tgbotapi.NewInlineKeyboardButtonData("Вперед ➡️", q.callback(page+1)))
	}
	if len(navButtons) > 0 {
		keyboard = append(keyboard, navButtons)
	}
	markup := tgbotapi.NewInlineKeyboardMarkup(keyboard...)

	var out tgbotapi.Chattable
	if messageID != 0 {
		out = tgbotapi.NewEditMessageTextAndMarkup(chatID, messageID, message.String(), markup)
	} else {
		msg := tgbotapi.NewMessage(chatID, message.String())
		msg.ReplyMarkup = markup
		out = msg
	}
	if _, err := b.tg.Send(out); err != nil {
		b.logger.Warn().Err(err).Int64("chat_id", chatID).Msg("send list failed")
	}
}
