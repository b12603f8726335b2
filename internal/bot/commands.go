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
	"gaia/internal/slots"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

func (b *Bot) sendDay(ctx context.Context, chatID int64, t time.Time) {
	b.sendList(ctx, chatID, 0, listQuery{kind: listDay, day: b.manager.Policy().Day(t)}, 0)
}

// parseDate accepts DD.MM.YYYY and YYYY-MM-DD in the facility zone.
func (b *Bot) parseDate(s string) (time.Time, error) {
	for _, layout := range []string{"02.01.2006", "2006-01-02"} {
		if d, err := time.ParseInLocation(layout, s, b.loc); err == nil {
			return d, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", s)
}

// parseTimeLabel turns "HH:MM-HH:MM" into an interval on date.
func parseTimeLabel(date time.Time, label string) (model.Interval, error) {
	parts := strings.Split(label, "-")
	if len(parts) != 2 {
		return model.Interval{}, fmt.Errorf("invalid time range %q", label)
	}
	var bounds [2]time.Time
	for i, p := range parts {
		t, err := time.Parse("15:04", strings.TrimSpace(p))
		if err != nil {
			return model.Interval{}, err
		}
		bounds[i] = time.Date(date.Year(), date.Month(), date.Day(), t.Hour(), t.Minute(), 0, 0, date.Location())
	}
	return model.NewInterval(bounds[0], bounds[1]), nil
}

func parseID(s string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimPrefix(s, "#"), 10, 64)
	return id, err == nil && id > 0
}

func (b *Bot) handleDate(ctx context.Context, chatID int64, args []string) {
	if len(args) != 1 {
		b.reply(chatID, "Использование: /date ДД.ММ.ГГГГ")
		return
	}
	day, err := b.parseDate(args[0])
	if err != nil {
		b.reply(chatID, "Некорректная дата. Пример: /date 10.03.2026")
		return
	}
	b.sendDay(ctx, chatID, day)
}

func (b *Bot) handleSlots(ctx context.Context, chatID int64, args []string) {
	if len(args) != 2 {
		b.reply(chatID, "Использование: /slots <зал> <ГГГГ-ММ-ДД>")
		return
	}
	hall, err := b.manager.HallBySlug(ctx, args[0])
	if err != nil {
		b.replyError(ctx, chatID, err)
		return
	}
	day, err := b.parseDate(args[1])
	if err != nil {
		b.reply(chatID, "Некорректная дата.")
		return
	}
	all, err := b.manager.DaySlots(ctx, hall.ID, day)
	if err != nil {
		b.replyError(ctx, chatID, err)
		return
	}
	b.reply(chatID, formatDaySlots(hall.Name, day, all, b.loc))
}

func formatDaySlots(hallName string, day time.Time, all []slots.Slot, loc *time.Location) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s, %s\n\n", hallName, day.Format("02.01.2006"))
	if len(all) == 0 {
		sb.WriteString("Нерабочий день.")
		return sb.String()
	}
	var free []model.Interval
	for _, s := range slots.ToSlotInfo(all, loc) {
		mark := "✅"
		if !s.Available {
			mark = "⛔"
		}
		fmt.Fprintf(&sb, "%s %s-%s\n", mark, s.Start, s.End)
	}
	for _, s := range all {
		if s.Available {
			free = append(free, s.Interval)
		}
	}
	runs := slots.MergeConsecutive(free)
	if len(runs) == 0 {
		sb.WriteString("\nСвободных слотов нет.")
		return sb.String()
	}
	sb.WriteString("\nСвободно:")
	for _, r := range runs {
		r = r.In(loc)
		fmt.Fprintf(&sb, "\n%s-%s (%s)", r.Start.Format("15:04"), r.End.Format("15:04"), slots.FormatDuration(r.Duration()))
	}
	return sb.String()
}

func (b *Bot) handleBlock(ctx context.Context, chatID int64, actor booking.Actor, args []string) {
	if len(args) < 3 {
		b.reply(chatID, "Использование: /block <зал> <ГГГГ-ММ-ДД> <ЧЧ:ММ-ЧЧ:ММ> [причина]")
		return
	}
	hall, err := b.manager.HallBySlug(ctx, args[0])
	if err != nil {
		b.replyError(ctx, chatID, err)
		return
	}
	day, err := b.parseDate(args[1])
	if err != nil {
		b.reply(chatID, "Некорректная дата.")
		return
	}
	iv, err := parseTimeLabel(day, args[2])
	if err != nil {
		b.reply(chatID, "Некорректный интервал. Пример: 10:00-12:00")
		return
	}
	block, err := b.manager.CreateBlock(ctx, hall.ID, iv, strings.Join(args[3:], " "), actor)
	if err != nil {
		b.replyError(ctx, chatID, err)
		return
	}
	b.reply(chatID, fmt.Sprintf("Блокировка #%d: %s, %s", block.ID, hall.Name, block.Interval.In(b.loc).String()))
}

func (b *Bot) handleUnblock(ctx context.Context, chatID int64, actor booking.Actor, args []string) {
	if len(args) != 1 {
		b.reply(chatID, "Использование: /unblock <id>")
		return
	}
	id, ok := parseID(args[0])
	if !ok {
		b.reply(chatID, "Некорректный ID.")
		return
	}
	if err := b.manager.RemoveBlock(ctx, id, actor); err != nil {
		b.replyError(ctx, chatID, err)
		return
	}
	b.reply(chatID, fmt.Sprintf("Блокировка #%d снята.", id))
}

func (b *Bot) handleReasonCommand(ctx context.Context, chatID int64, actor booking.Actor, cmd string, action model.Action, args []string) {
	if len(args) < 1 {
		b.reply(chatID, fmt.Sprintf("Использование: %s <id> [причина]", cmd))
		return
	}
	id, ok := parseID(args[0])
	if !ok {
		b.reply(chatID, "Некорректный ID.")
		return
	}
	b.applyAction(ctx, chatID, actor, id, action, strings.Join(args[1:], " "))
}

// sendReservation shows one reservation with the buttons its status allows.
func (b *Bot) sendReservation(ctx context.Context, chatID int64, id int64) {
	r, err := b.manager.Get(ctx, id)
	if err != nil {
		b.replyError(ctx, chatID, err)
		return
	}
	hallName := ""
	if h, err := b.manager.Hall(ctx, r.HallID); err == nil {
		hallName = h.Name
	}
	msg := tgbotapi.NewMessage(chatID, formatReservation(*r, hallName, b.loc))
	if allowed := b.manager.FSM().AllowedActions(r.Status); len(allowed) > 0 {
		msg.ReplyMarkup = notify.ActionKeyboard(r.ID, allowed)
	}
	if _, err := b.tg.Send(msg); err != nil {
		b.logger.Warn().Err(err).Int64("chat_id", chatID).Msg("send reservation failed")
	}
}

func formatReservation(r model.Reservation, hallName string, loc *time.Location) string {
	body := notify.FormatEvent(notify.Event{Type: notify.EventCreated, Reservation: r, HallName: hallName}, loc)
	// Replace the "new reservation" header with the current status.
	if i := strings.IndexByte(body, '\n'); i >= 0 {
		body = body[i+1:]
	}
	header := fmt.Sprintf("Заявка #%d (%s)", r.ID, notify.StatusTitle(r.Status))
	if r.ChangedBy != "" {
		header += fmt.Sprintf("\nИзменил: %s", r.ChangedBy)
	}
	return header + "\n" + body
}

func (b *Bot) handleStaffList(ctx context.Context, chatID int64) {
	staff, err := b.roles.ListStaff(ctx)
	if err != nil {
		b.replyError(ctx, chatID, booking.Transient(err))
		return
	}
	if len(staff) == 0 {
		b.reply(chatID, "Список сотрудников пуст.")
		return
	}
	var sb strings.Builder
	sb.WriteString("Сотрудники:")
	for _, s := range staff {
		fmt.Fprintf(&sb, "\n%s %s (%s)", s.PrincipalID, s.Name, s.Role)
	}
	b.reply(chatID, sb.String())
}

func (b *Bot) handleStaffAdd(ctx context.Context, chatID int64, actor booking.Actor, args []string) {
	if len(args) < 1 {
		b.reply(chatID, "Использование: /staff_add <id> [имя]")
		return
	}
	if _, ok := parseID(args[0]); !ok {
		b.reply(chatID, "Некорректный ID.")
		return
	}
	if err := b.roles.AddStaff(ctx, args[0], strings.Join(args[1:], " "), actor.PrincipalID); err != nil {
		b.replyError(ctx, chatID, err)
		return
	}
	b.reply(chatID, fmt.Sprintf("Сотрудник %s добавлен.", args[0]))
}

func (b *Bot) handleStaffRemove(ctx context.Context, chatID int64, actor booking.Actor, args []string) {
	if len(args) != 1 {
		b.reply(chatID, "Использование: /staff_remove <id>")
		return
	}
	removed, err := b.roles.RemoveStaff(ctx, args[0], actor.PrincipalID)
	if err != nil {
		b.replyError(ctx, chatID, err)
		return
	}
	if !removed {
		b.reply(chatID, "Сотрудник не найден.")
		return
	}
	b.reply(chatID, fmt.Sprintf("Сотрудник %s удален.", args[0]))
}
