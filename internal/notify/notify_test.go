package notify

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"gaia/internal/model"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
)

type fakeSink struct {
	mu     sync.Mutex
	errs   []error
	events []Event
	calls  int
}

func (s *fakeSink) Name() string { return "fake" }

func (s *fakeSink) Deliver(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return err
		}
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *fakeSink) snapshot() (int, []Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls, append([]Event(nil), s.events...)
}

func sampleReservation() model.Reservation {
	return model.Reservation{
		ID:     7,
		HallID: 1,
		Customer: model.Customer{
			Name:  "Анна",
			Phone: "+79990001122",
		},
		Interval: model.NewInterval(
			time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC),
			time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC),
		),
		DurationHours: 2,
		TotalPrice:    model.Units(2000),
		Status:        model.StatusNew,
	}
}

func newTestDispatcher(cfg Config, sinks ...Sink) (*Dispatcher, *[]time.Duration) {
	d := NewDispatcher(cfg, nil, nil, sinks...)
	var mu sync.Mutex
	slept := &[]time.Duration{}
	d.sleep = func(ctx context.Context, dur time.Duration) error {
		mu.Lock()
		*slept = append(*slept, dur)
		mu.Unlock()
		return ctx.Err()
	}
	return d, slept
}

func TestDispatcher_DeliversToAllSinks(t *testing.T) {
	a, b := &fakeSink{}, &fakeSink{}
	d, _ := newTestDispatcher(Config{Workers: 1}, a, b)
	d.halls = func(context.Context, int64) (*model.Hall, error) {
		return &model.Hall{ID: 1, Name: "Большой зал"}, nil
	}
	d.Start(context.Background())

	r := sampleReservation()
	d.ReservationCreated(r)
	r.Status = model.StatusConfirmed
	d.ReservationStatusChanged(r, model.StatusNew)
	d.Close(context.Background())

	for _, s := range []*fakeSink{a, b} {
		_, events := s.snapshot()
		require.Len(t, events, 2)
		assert.Equal(t, EventCreated, events[0].Type)
		assert.Equal(t, EventStatusChanged, events[1].Type)
		assert.Equal(t, model.StatusNew, events[1].From)
		assert.Equal(t, "Большой зал", events[1].HallName)
	}
}

func TestDispatcher_RetriesWithConfiguredDelays(t *testing.T) {
	boom := errors.New("boom")
	s := &fakeSink{errs: []error{boom, boom}}
	d, slept := newTestDispatcher(Config{Workers: 1, RetryDelays: []time.Duration{time.Second, 5 * time.Second, 30 * time.Second}}, s)
	d.Start(context.Background())
	d.ReservationCreated(sampleReservation())
	d.Close(context.Background())

	calls, events := s.snapshot()
	assert.Equal(t, 3, calls)
	assert.Len(t, events, 1)
	assert.Equal(t, []time.Duration{time.Second, 5 * time.Second}, *slept)
}

func TestDispatcher_GivesUpAfterRetries(t *testing.T) {
	boom := errors.New("boom")
	s := &fakeSink{errs: []error{boom, boom, boom, boom, boom}}
	d, _ := newTestDispatcher(Config{Workers: 1, RetryDelays: []time.Duration{time.Millisecond, time.Millisecond}}, s)

	err := d.deliver(context.Background(), s, Event{Reservation: sampleReservation()})
	assert.ErrorIs(t, err, boom)
	calls, _ := s.snapshot()
	assert.Equal(t, 3, calls)
}

func TestDispatcher_PermanentErrorStopsRetrying(t *testing.T) {
	s := &fakeSink{errs: []error{Permanent(errors.New("bad request"))}}
	d, slept := newTestDispatcher(Config{Workers: 1}, s)

	err := d.deliver(context.Background(), s, Event{Reservation: sampleReservation()})
	var perm *PermanentError
	assert.ErrorAs(t, err, &perm)
	calls, _ := s.snapshot()
	assert.Equal(t, 1, calls)
	assert.Empty(t, *slept)
}

func TestDispatcher_RetryAfterOverridesDelay(t *testing.T) {
	s := &fakeSink{errs: []error{&RetryAfterError{Err: errors.New("429"), After: 12 * time.Second}}}
	d, slept := newTestDispatcher(Config{Workers: 1, RetryDelays: []time.Duration{time.Second}}, s)

	require.NoError(t, d.deliver(context.Background(), s, Event{Reservation: sampleReservation()}))
	assert.Equal(t, []time.Duration{12 * time.Second}, *slept)
}

func TestDispatcher_EnqueueNeverBlocks(t *testing.T) {
	s := &fakeSink{}
	// Not started: nothing drains the queue.
	d, _ := newTestDispatcher(Config{Workers: 1, QueueSize: 2}, s)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			d.ReservationCreated(sampleReservation())
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("enqueue blocked on a full queue")
	}
	assert.Len(t, d.queue, 2)
}

func TestDispatcher_EnqueueAfterClose(t *testing.T) {
	s := &fakeSink{}
	d, _ := newTestDispatcher(Config{Workers: 1}, s)
	d.Start(context.Background())
	d.Close(context.Background())

	assert.NotPanics(t, func() { d.ReservationCreated(sampleReservation()) })
	calls, _ := s.snapshot()
	assert.Zero(t, calls)
}

func TestFormatEvent(t *testing.T) {
	r := sampleReservation()
	r.Comment = "день рождения"
	text := FormatEvent(Event{Type: EventCreated, Reservation: r, HallName: "Лофт"}, time.UTC)
	assert.Contains(t, text, "Новая заявка #7")
	assert.Contains(t, text, "Зал: Лофт")
	assert.Contains(t, text, "2026-03-10 10:00-12:00")
	assert.Contains(t, text, "2000.00")
	assert.Contains(t, text, "день рождения")

	r.Status = model.StatusRejected
	r.StatusReason = "ремонт"
	text = FormatEvent(Event{Type: EventStatusChanged, Reservation: r, From: model.StatusNew}, time.UTC)
	assert.Contains(t, text, "новая → отклонена")
	assert.Contains(t, text, "Зал: #1")
	assert.Contains(t, text, "Причина: ремонт")
}

func TestActionCallback_RoundTrip(t *testing.T) {
	action, id, ok := ParseActionCallback(ActionCallback("confirm", 42))
	require.True(t, ok)
	assert.Equal(t, "confirm", action)
	assert.Equal(t, int64(42), id)

	for _, bad := range []string{"", "res:confirm", "x:confirm:1", "res:confirm:abc", "res:confirm:0"} {
		_, _, ok := ParseActionCallback(bad)
		assert.False(t, ok, bad)
	}
}

type fakeTelegram struct {
	mu   sync.Mutex
	sent []tgbotapi.MessageConfig
	errs map[int64]error
	// failures makes the next n sends to a chat fail with a retryable error.
	failures map[int64]int
}

func (f *fakeTelegram) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msg, ok := c.(tgbotapi.MessageConfig)
	if !ok {
		return tgbotapi.Message{}, errors.New("unexpected chattable")
	}
	if err := f.errs[msg.ChatID]; err != nil {
		return tgbotapi.Message{}, err
	}
	if f.failures[msg.ChatID] > 0 {
		f.failures[msg.ChatID]--
		return tgbotapi.Message{}, errors.New("connection reset by peer")
	}
	f.sent = append(f.sent, msg)
	return tgbotapi.Message{MessageID: len(f.sent)}, nil
}

func (f *fakeTelegram) perChat() map[int64]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := map[int64]int{}
	for _, m := range f.sent {
		counts[m.ChatID]++
	}
	return counts
}

func TestTelegramSinks_OnePerChatWithActions(t *testing.T) {
	api := &fakeTelegram{}
	sinks := TelegramSinks(api, []int64{100, 200}, time.UTC, func(status model.Status) []model.Action {
		if status == model.StatusNew {
			return []model.Action{model.ActionConfirm, model.ActionReject, model.ActionCancel}
		}
		return nil
	})
	require.Len(t, sinks, 2)

	for _, sink := range sinks {
		require.NoError(t, sink.Deliver(context.Background(), Event{Type: EventCreated, Reservation: sampleReservation()}))
	}
	require.Len(t, api.sent, 2)
	assert.Equal(t, int64(100), api.sent[0].ChatID)
	assert.Equal(t, int64(200), api.sent[1].ChatID)
	kb, ok := api.sent[0].ReplyMarkup.(*tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	require.Len(t, kb.InlineKeyboard, 1)
	assert.Len(t, kb.InlineKeyboard[0], 4)
	assert.Equal(t, "res:confirm:7", *kb.InlineKeyboard[0][1].CallbackData)

	r := sampleReservation()
	r.Status = model.StatusCancelled
	require.NoError(t, sinks[0].Deliver(context.Background(), Event{Type: EventStatusChanged, Reservation: r, From: model.StatusNew}))
	assert.Nil(t, api.sent[2].ReplyMarkup)
}

func TestTelegramSinks_RetryOnlyFailedChat(t *testing.T) {
	api := &fakeTelegram{failures: map[int64]int{2: 1}}
	d, slept := newTestDispatcher(Config{Workers: 1, RetryDelays: []time.Duration{time.Millisecond, time.Millisecond}},
		TelegramSinks(api, []int64{1, 2}, time.UTC, nil)...)
	d.Start(context.Background())
	d.ReservationCreated(sampleReservation())
	d.Close(context.Background())

	assert.Equal(t, map[int64]int{1: 1, 2: 1}, api.perChat())
	assert.Equal(t, []time.Duration{time.Millisecond}, *slept)
}

func TestTelegramSink_ErrorClassification(t *testing.T) {
	tooMany := &tgbotapi.Error{Code: 429, Message: "Too Many Requests", ResponseParameters: tgbotapi.ResponseParameters{RetryAfter: 3}}
	forbidden := &tgbotapi.Error{Code: 403, Message: "Forbidden: bot was blocked by the user"}

	sink := NewTelegramSink(&fakeTelegram{errs: map[int64]error{1: tooMany}}, 1, nil, nil)
	err := sink.Deliver(context.Background(), Event{Reservation: sampleReservation()})
	var ra *RetryAfterError
	require.ErrorAs(t, err, &ra)
	assert.Equal(t, 3*time.Second, ra.After)
	assert.Contains(t, err.Error(), "chat 1")

	sink = NewTelegramSink(&fakeTelegram{errs: map[int64]error{1: forbidden}}, 1, nil, nil)
	err = sink.Deliver(context.Background(), Event{Reservation: sampleReservation()})
	var perm *PermanentError
	assert.ErrorAs(t, err, &perm)
}

type fakeChannel struct {
	published []amqp.Publishing
	keys      []string
	fail      error
}

func (c *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	if c.fail != nil {
		err := c.fail
		c.fail = nil
		return err
	}
	c.keys = append(c.keys, key)
	c.published = append(c.published, msg)
	return nil
}

func (c *fakeChannel) Close() error { return nil }

func TestAMQPSink_PublishesPersistentJSON(t *testing.T) {
	ch := &fakeChannel{fail: errors.New("channel closed")}
	dials := 0
	sink := NewAMQPSink("amqp://test", "reservation.events", func(url, queue string) (AMQPChannel, func() error, error) {
		dials++
		assert.Equal(t, "reservation.events", queue)
		return ch, func() error { return nil }, nil
	})

	err := sink.Deliver(context.Background(), Event{Type: EventCreated, Reservation: sampleReservation()})
	require.Error(t, err)

	require.NoError(t, sink.Deliver(context.Background(), Event{Type: EventCreated, Reservation: sampleReservation()}))
	assert.Equal(t, 2, dials)
	require.Len(t, ch.published, 1)

	msg := ch.published[0]
	assert.Equal(t, "reservation.events", ch.keys[0])
	assert.Equal(t, uint8(amqp.Persistent), msg.DeliveryMode)
	assert.Equal(t, "application/json", msg.ContentType)

	var decoded Event
	require.NoError(t, json.Unmarshal(msg.Body, &decoded))
	assert.Equal(t, int64(7), decoded.Reservation.ID)
	assert.Equal(t, model.Units(2000), decoded.Reservation.TotalPrice)
	require.NoError(t, sink.Close())
}

func TestCustomerNotice(t *testing.T) {
	r := sampleReservation()
	r.Customer.Email = "anna@example.com"
	ev := Event{Type: EventCreated, Reservation: r, HallName: "Лофт"}

	msg, ok := CustomerNotice(ev, time.UTC)
	require.True(t, ok)
	assert.Equal(t, "received", msg.Kind)
	assert.Equal(t, int64(7), msg.ReservationID)
	assert.Equal(t, "anna@example.com", msg.Email)
	assert.Equal(t, "GAIA: ваша заявка на бронирование получена", msg.Subject)
	assert.Contains(t, msg.Text, "Здравствуйте, Анна!")
	assert.Contains(t, msg.Text, "зала «Лофт» принята")
	assert.Contains(t, msg.Text, "Дата и время: 10.03.2026 10:00 - 12:00")
	assert.Contains(t, msg.Text, "Стоимость: 2000.00 руб.")

	r.Status = model.StatusConfirmed
	msg, ok = CustomerNotice(Event{Type: EventStatusChanged, Reservation: r, From: model.StatusNew, HallName: "Лофт"}, time.UTC)
	require.True(t, ok)
	assert.Equal(t, "confirmed", msg.Kind)
	assert.Contains(t, msg.Text, "подтверждено")

	for _, st := range []model.Status{model.StatusCancelled, model.StatusRejected} {
		r.Status = st
		msg, ok = CustomerNotice(Event{Type: EventStatusChanged, Reservation: r, From: model.StatusNew, HallName: "Лофт"}, time.UTC)
		require.True(t, ok)
		assert.Equal(t, "cancelled", msg.Kind)
		assert.Contains(t, msg.Text, "на 10.03.2026 10:00 отменено")
	}

	r.Customer = model.Customer{Name: "Аноним"}
	_, ok = CustomerNotice(Event{Type: EventCreated, Reservation: r}, time.UTC)
	assert.False(t, ok, "no contact")
}

func TestCustomerSink_PublishesNotice(t *testing.T) {
	ch := &fakeChannel{}
	sink := NewCustomerSink("amqp://test", "customer.notifications", func(url, queue string) (AMQPChannel, func() error, error) {
		assert.Equal(t, "customer.notifications", queue)
		return ch, func() error { return nil }, nil
	}, time.UTC)
	assert.Equal(t, "customer", sink.Name())

	r := sampleReservation()
	r.Status = model.StatusRejected
	r.StatusReason = "двойная бронь"
	require.NoError(t, sink.Deliver(context.Background(), Event{Type: EventStatusChanged, Reservation: r, From: model.StatusNew}))
	require.Len(t, ch.published, 1)
	assert.Equal(t, "customer.cancelled", ch.published[0].Type)

	var msg CustomerMessage
	require.NoError(t, json.Unmarshal(ch.published[0].Body, &msg))
	assert.Equal(t, "+79990001122", msg.Phone)
	assert.Contains(t, msg.Text, "зала «#1»")

	r.Customer = model.Customer{Name: "Аноним"}
	require.NoError(t, sink.Deliver(context.Background(), Event{Type: EventCreated, Reservation: r}))
	assert.Len(t, ch.published, 1, "nothing to send without a contact")
	require.NoError(t, sink.Close())
}

type fakeAppender struct {
	rng  string
	rows [][]interface{}
	err  error
}

func (a *fakeAppender) Append(_ context.Context, _, rng string, rows [][]interface{}) error {
	if a.err != nil {
		return a.err
	}
	a.rng = rng
	a.rows = append(a.rows, rows...)
	return nil
}

func TestSheetsSink_AppendsRow(t *testing.T) {
	app := &fakeAppender{}
	sink := NewSheetsSink(app, "sheet-id", "", time.UTC)
	ev := Event{
		Type:        EventCreated,
		Reservation: sampleReservation(),
		HallName:    "Лофт",
		At:          time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
	}
	require.NoError(t, sink.Deliver(context.Background(), ev))

	assert.Equal(t, "Reservations!A:L", app.rng)
	require.Len(t, app.rows, 1)
	row := app.rows[0]
	assert.Equal(t, "2026-03-01 09:30:00", row[0])
	assert.Equal(t, int64(7), row[2])
	assert.Equal(t, "Лофт", row[3])
	assert.Equal(t, "2026-03-10 10:00", row[4])
	assert.Equal(t, "2000.00", row[8])
	assert.Equal(t, "new", row[9])

	app.err = &googleapi.Error{Code: 403, Message: "forbidden"}
	var perm *PermanentError
	assert.ErrorAs(t, sink.Deliver(context.Background(), ev), &perm)

	app.err = &googleapi.Error{Code: 503}
	err := sink.Deliver(context.Background(), ev)
	assert.Error(t, err)
	assert.False(t, errors.As(err, &perm))
}

func TestLogSink(t *testing.T) {
	var buf strings.Builder
	sink := NewLogSink(zerolog.New(&buf))
	require.NoError(t, sink.Deliver(context.Background(), Event{Type: EventCreated, Reservation: sampleReservation()}))
	assert.Contains(t, buf.String(), `"reservation_id":7`)
}
