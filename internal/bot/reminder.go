package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gaia/internal/booking"
	"gaia/internal/model"
	"gaia/internal/notify"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// StartDigest sends tomorrow's schedule to the admin chats every day at
// the configured hour.
func (b *Bot) StartDigest(ctx context.Context) {
	if len(b.admins) == 0 {
		return
	}

	go func() {
		timer := time.NewTimer(b.timeUntilNextHour(b.digest))
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
				b.sendTomorrowDigest(ctx)
				timer.Reset(b.timeUntilNextHour(b.digest))
			}
		}
	}()
}

func (b *Bot) sendTomorrowDigest(ctx context.Context) {
	day := b.manager.Policy().Day(b.now()).AddDate(0, 0, 1)
	rs, err := b.manager.List(ctx, booking.ReservationFilter{
		From:     day,
		To:       day.AddDate(0, 0, 1),
		Statuses: model.HoldingStatuses,
		Limit:    listFetchSize,
	})
	if err != nil {
		b.logger.Error().Err(err).Msg("digest: list reservations")
		return
	}

	text := formatDigest(day, rs, b.hallNames(ctx), b.loc)
	for _, chatID := range b.admins {
		if _, err := b.tg.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
			b.logger.Warn().Err(err).Int64("chat_id", chatID).Msg("digest: send")
		}
	}
}

func formatDigest(day time.Time, rs []model.Reservation, halls map[int64]string, loc *time.Location) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Завтра, %s: ", day.Format("02.01.2006"))
	if len(rs) == 0 {
		sb.WriteString("броней нет.")
		return sb.String()
	}
	fmt.Fprintf(&sb, "%d брон.", len(rs))
	pending := 0
	for _, r := range rs {
		iv := r.Interval.In(loc)
		fmt.Fprintf(&sb, "\n#%d %s-%s %s, %s (%s)",
			r.ID, iv.Start.Format("15:04"), iv.End.Format("15:04"), halls[r.HallID], r.Customer.Name, notify.StatusTitle(r.Status))
		if r.Status == model.StatusNew {
			pending++
		}
	}
	if pending > 0 {
		fmt.Fprintf(&sb, "\n\nОжидают подтверждения: %d", pending)
	}
	return sb.String()
}

func (b *Bot) timeUntilNextHour(hour int) time.Duration {
	now := b.now().In(b.loc)
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, b.loc)
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next.Sub(now)
}
