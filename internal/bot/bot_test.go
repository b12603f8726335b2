package bot

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"gaia/internal/access"
	"gaia/internal/booking"
	"gaia/internal/memstore"
	"gaia/internal/model"
	"gaia/internal/schedule"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	chatID  int64 = 100
	ownerID int64 = 1
	staffID int64 = 2
	guestID int64 = 3
)

type fakeTelegram struct {
	mu       sync.Mutex
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
}

func (f *fakeTelegram) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c)
	return tgbotapi.Message{MessageID: len(f.sent)}, nil
}

func (f *fakeTelegram) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeTelegram) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return make(chan tgbotapi.Update)
}

func (f *fakeTelegram) SelfUser() tgbotapi.User {
	return tgbotapi.User{UserName: "gaia_test_bot"}
}

func (f *fakeTelegram) last() tgbotapi.Chattable {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return nil
	}
	return f.sent[len(f.sent)-1]
}

func (f *fakeTelegram) lastText() string {
	switch m := f.last().(type) {
	case tgbotapi.MessageConfig:
		return m.Text
	case tgbotapi.EditMessageTextConfig:
		return m.Text
	}
	return ""
}

type fixture struct {
	bot     *Bot
	tg      *fakeTelegram
	manager *booking.Manager
	hall    model.Hall
}

func setup(t *testing.T) *fixture {
	t.Helper()
	store := memstore.New()
	hall := store.PutHall(model.Hall{
		Slug:     "loft",
		Name:     "Лофт",
		IsActive: true,
		Rate:     model.RateConfig{Kind: model.RateFlat, Hourly: model.Units(1000)},
	})
	now := func() time.Time { return time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC) }
	manager := booking.NewManager(store, schedule.Default(time.UTC), nil, booking.Options{Now: now})

	roles := access.NewService([]string{fmt.Sprint(ownerID)}, store, zerolog.Nop())
	require.NoError(t, roles.AddStaff(context.Background(), fmt.Sprint(staffID), "Мария", fmt.Sprint(ownerID)))

	tg := &fakeTelegram{}
	b, err := NewWithTelegramClient(tg, manager, roles, Options{AdminChatIDs: []int64{chatID}, Now: now})
	require.NoError(t, err)
	return &fixture{bot: b, tg: tg, manager: manager, hall: hall}
}

func (f *fixture) send(from int64, text string) string {
	f.bot.handleUpdate(context.Background(), &tgbotapi.Update{Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: from},
		Chat: &tgbotapi.Chat{ID: chatID},
		Text: text,
	}})
	return f.tg.lastText()
}

func (f *fixture) press(from int64, data string) string {
	f.bot.handleUpdate(context.Background(), &tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb",
		From:    &tgbotapi.User{ID: from},
		Message: &tgbotapi.Message{MessageID: 42, Chat: &tgbotapi.Chat{ID: chatID}},
		Data:    data,
	}})
	return f.tg.lastText()
}

func (f *fixture) reserve(t *testing.T, startHour, endHour int) *model.Reservation {
	t.Helper()
	r, err := f.manager.Create(context.Background(), booking.CreateRequest{
		HallID: f.hall.ID,
		Interval: model.NewInterval(
			time.Date(2026, 3, 10, startHour, 0, 0, 0, time.UTC),
			time.Date(2026, 3, 10, endHour, 0, 0, 0, time.UTC),
		),
		Customer: model.Customer{Name: "Иван", Phone: "+79991234567"},
	})
	require.NoError(t, err)
	return r
}

func TestAccess(t *testing.T) {
	f := setup(t)

	assert.Contains(t, f.send(guestID, "/today"), "Нет доступа. Ваш ID: 3")
	assert.Equal(t, "Ваш ID: 3", f.send(guestID, "/id"))
	assert.Contains(t, f.send(guestID, "/help"), "/slots")
	assert.Contains(t, f.send(staffID, "/nonsense"), "Неизвестная команда")
}

func TestSlots(t *testing.T) {
	f := setup(t)

	text := f.send(staffID, "/slots loft 2026-03-10")
	assert.Contains(t, text, "Лофт, 10.03.2026")
	assert.Contains(t, text, "✅ 09:00-10:00")
	assert.Contains(t, text, "Свободно:\n09:00-21:00 (12 часов)")

	f.reserve(t, 10, 12)
	text = f.send(staffID, "/slots loft 10.03.2026")
	assert.Contains(t, text, "⛔ 10:00-11:00")
	assert.Contains(t, text, "09:00-10:00 (1 час)")
	assert.Contains(t, text, "12:00-21:00 (9 часов)")

	assert.Equal(t, "Не найдено.", f.send(staffID, "/slots nowhere 2026-03-10"))
	assert.Contains(t, f.send(staffID, "/slots loft"), "Использование")
}

func TestDayListAndInfo(t *testing.T) {
	f := setup(t)
	r := f.reserve(t, 10, 12)

	text := f.send(staffID, "/date 10.03.2026")
	assert.Contains(t, text, "Брони на 10.03.2026")
	assert.Contains(t, text, fmt.Sprintf("#%d 2026-03-10 10:00-12:00, Лофт, Иван (новая)", r.ID))

	assert.Contains(t, f.send(staffID, "/tomorrow"), "Брони на 10.03.2026")
	assert.Contains(t, f.send(staffID, "/today"), "Броней нет.")
	assert.Contains(t, f.send(staffID, "/new"), "Иван")

	text = f.press(staffID, fmt.Sprintf("res:info:%d", r.ID))
	assert.Contains(t, text, fmt.Sprintf("Заявка #%d (новая)", r.ID))
	assert.Contains(t, text, "Стоимость: 2000.00 (2 ч)")
	msg, ok := f.tg.last().(tgbotapi.MessageConfig)
	require.True(t, ok)
	kb, ok := msg.ReplyMarkup.(*tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	assert.Len(t, kb.InlineKeyboard[0], 4)
}

func TestConfirmAndCancelButtons(t *testing.T) {
	f := setup(t)
	r := f.reserve(t, 10, 12)

	assert.Equal(t, fmt.Sprintf("Заявка #%d: подтверждена", r.ID), f.press(staffID, fmt.Sprintf("res:confirm:%d", r.ID)))
	assert.NotEmpty(t, f.tg.requests)

	assert.Contains(t, f.press(staffID, fmt.Sprintf("res:reject:%d", r.ID)), "Укажите причину")
	assert.Equal(t, "Действие недоступно для текущего статуса заявки.", f.send(staffID, "-"))

	assert.Contains(t, f.press(staffID, fmt.Sprintf("res:cancel:%d", r.ID)), "Укажите причину")
	assert.Equal(t, fmt.Sprintf("Заявка #%d: отменена", r.ID), f.send(staffID, "клиент не пришел"))

	got, err := f.manager.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusCancelled, got.Status)
	assert.Equal(t, "клиент не пришел", got.StatusReason)
	assert.Equal(t, fmt.Sprint(staffID), got.ChangedBy)

	assert.Contains(t, f.press(guestID, fmt.Sprintf("res:confirm:%d", r.ID)), "Нет доступа")
}

func TestPlainTextKeepsNoDialogState(t *testing.T) {
	f := setup(t)
	sent := len(f.tg.sent)

	f.send(guestID, "привет")
	f.send(staffID, "просто текст")
	assert.Zero(t, f.bot.state.len())
	assert.Len(t, f.tg.sent, sent)

	r := f.reserve(t, 10, 12)
	f.press(staffID, fmt.Sprintf("res:cancel:%d", r.ID))
	assert.Equal(t, 1, f.bot.state.len())
	f.send(staffID, "-")
	assert.Zero(t, f.bot.state.len())
}

func TestRejectCommand(t *testing.T) {
	f := setup(t)
	r := f.reserve(t, 10, 12)

	assert.Equal(t, fmt.Sprintf("Заявка #%d: отклонена", r.ID), f.send(ownerID, fmt.Sprintf("/reject %d занято", r.ID)))
	assert.Equal(t, "Не найдено.", f.send(ownerID, "/reject 999"))
	assert.Equal(t, "Некорректный ID.", f.send(ownerID, "/reject abc"))
}

func TestBlockCommands(t *testing.T) {
	f := setup(t)

	text := f.send(staffID, "/block loft 2026-03-10 14:00-16:00 ремонт")
	assert.Contains(t, text, "Блокировка #1: Лофт, 2026-03-10 14:00-16:00")
	assert.Contains(t, f.send(staffID, "/slots loft 2026-03-10"), "⛔ 14:00-15:00")

	assert.Contains(t, f.send(staffID, "/block loft 2026-03-10 15:00-17:00"), "Блокировка #2")
	assert.Equal(t, "Некорректный интервал. Пример: 10:00-12:00", f.send(staffID, "/block loft 2026-03-10 14"))
	assert.Equal(t, "Некорректный интервал.", f.send(staffID, "/block loft 2026-03-10 16:00-14:00"))

	_, err := f.manager.Create(context.Background(), booking.CreateRequest{
		HallID:   f.hall.ID,
		Interval: model.NewInterval(time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC), time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)),
		Customer: model.Customer{Name: "Иван", Phone: "+79991234567"},
	})
	assert.ErrorIs(t, err, booking.ErrBlocked)

	assert.Equal(t, "Блокировка #1 снята.", f.send(staffID, "/unblock 1"))
	assert.Equal(t, "Не найдено.", f.send(staffID, "/unblock 1"))
}

func TestStaffCommands(t *testing.T) {
	f := setup(t)

	assert.Equal(t, "Недостаточно прав.", f.send(staffID, "/staff_add 77 Пётр"))
	assert.Equal(t, "Сотрудник 77 добавлен.", f.send(ownerID, "/staff_add 77 Пётр"))
	assert.Contains(t, f.send(77, "/today"), "Броней нет.")
	assert.Contains(t, f.send(ownerID, "/staff"), "77 Пётр (staff)")

	assert.Equal(t, "Сотрудник 77 удален.", f.send(ownerID, "/staff_remove 77"))
	assert.Equal(t, "Сотрудник не найден.", f.send(ownerID, "/staff_remove 77"))
	assert.Contains(t, f.send(77, "/today"), "Нет доступа")
}

func TestPagination(t *testing.T) {
	f := setup(t)
	for h := 9; h < 21; h++ {
		f.reserve(t, h, h+1)
	}

	text := f.send(staffID, "/date 10.03.2026")
	assert.Contains(t, text, "Страница 1 из 2")
	msg, ok := f.tg.last().(tgbotapi.MessageConfig)
	require.True(t, ok)
	kb := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	nav := kb.InlineKeyboard[len(kb.InlineKeyboard)-1]
	require.Len(t, nav, 1)
	require.NotNil(t, nav[0].CallbackData)
	assert.Equal(t, "pg:d:20260310:1", *nav[0].CallbackData)

	text = f.press(staffID, "pg:d:20260310:1")
	assert.Contains(t, text, "Страница 2 из 2")
	_, isEdit := f.tg.last().(tgbotapi.EditMessageTextConfig)
	assert.True(t, isEdit)
}

func TestParsePageCallback(t *testing.T) {
	q := listQuery{kind: listDay, day: time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)}
	got, page, ok := parsePageCallback(q.callback(3), time.UTC)
	require.True(t, ok)
	assert.Equal(t, 3, page)
	assert.True(t, q.day.Equal(got.day))

	_, _, ok = parsePageCallback(listQuery{kind: listNew}.callback(0), time.UTC)
	assert.True(t, ok)

	for _, bad := range []string{"pg:x:-:0", "pg:d:bad:0", "pg:n:-:-1", "res:info:1"} {
		_, _, ok := parsePageCallback(bad, time.UTC)
		assert.False(t, ok, bad)
	}
}

func TestParseTimeLabel(t *testing.T) {
	date := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	iv, err := parseTimeLabel(date, "10:00-11:30")
	require.NoError(t, err)
	assert.Equal(t, 10, iv.Start.Hour())
	assert.Equal(t, 11, iv.End.Hour())
	assert.Equal(t, 30, iv.End.Minute())

	_, err = parseTimeLabel(date, "10:00")
	assert.Error(t, err)
	_, err = parseTimeLabel(date, "25:00-26:00")
	assert.Error(t, err)
}

func TestSplitCommand(t *testing.T) {
	cmd, args := splitCommand("/Slots@gaia_bot loft  2026-03-10")
	assert.Equal(t, "/slots", cmd)
	assert.Equal(t, []string{"loft", "2026-03-10"}, args)
}

func TestDigest(t *testing.T) {
	f := setup(t)
	r := f.reserve(t, 10, 12)
	_, err := f.manager.Confirm(context.Background(), r.ID, booking.Actor{PrincipalID: "1", Role: model.RoleOwner})
	require.NoError(t, err)
	f.reserve(t, 14, 15)

	f.bot.sendTomorrowDigest(context.Background())
	text := f.tg.lastText()
	assert.Contains(t, text, "Завтра, 10.03.2026: 2 брон.")
	assert.Contains(t, text, fmt.Sprintf("#%d 10:00-12:00 Лофт, Иван (подтверждена)", r.ID))
	assert.Contains(t, text, "Ожидают подтверждения: 1")

	assert.Equal(t, "Завтра, 11.03.2026: броней нет.", formatDigest(time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC), nil, nil, time.UTC))
}

func TestTimeUntilNextHour(t *testing.T) {
	f := setup(t)
	assert.Equal(t, 8*time.Hour, f.bot.timeUntilNextHour(20))
	assert.Equal(t, 21*time.Hour, f.bot.timeUntilNextHour(9))
}
