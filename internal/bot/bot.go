// Package bot is the staff Telegram bot: schedule views, reservation
// decisions, hall blocks and staff management.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gaia/internal/access"
	"gaia/internal/booking"
	"gaia/internal/model"
	"gaia/internal/notify"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type telegramClient interface {
	Send(tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	SelfUser() tgbotapi.User
}

type realTelegramClient struct {
	api *tgbotapi.BotAPI
}

func (c *realTelegramClient) Send(msg tgbotapi.Chattable) (tgbotapi.Message, error) {
	return c.api.Send(msg)
}

func (c *realTelegramClient) Request(msg tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return c.api.Request(msg)
}

func (c *realTelegramClient) GetUpdatesChan(cfg tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return c.api.GetUpdatesChan(cfg)
}

func (c *realTelegramClient) SelfUser() tgbotapi.User {
	return c.api.Self
}

// Roles resolves principals to roles and manages the staff list.
type Roles interface {
	Role(ctx context.Context, principalID string) (model.Role, error)
	AddStaff(ctx context.Context, principalID, name, addedBy string) error
	RemoveStaff(ctx context.Context, principalID, removedBy string) (bool, error)
	ListStaff(ctx context.Context) ([]model.StaffMember, error)
}

type Options struct {
	// AdminChatIDs receive the daily digest.
	AdminChatIDs []int64
	// DigestHour is the local hour of the daily digest.
	DigestHour int
	Now        func() time.Time
	Logger     *zerolog.Logger
}

// Bot serves staff commands over Telegram.
type Bot struct {
	tg      telegramClient
	manager *booking.Manager
	roles   Roles
	state   *stateStore
	loc     *time.Location
	admins  []int64
	digest  int
	now     func() time.Time
	logger  zerolog.Logger
}

// New serves the bot over an authorized Bot API client.
func New(api *tgbotapi.BotAPI, manager *booking.Manager, roles Roles, opts Options) (*Bot, error) {
	if api == nil {
		return nil, errors.New("telegram api is nil")
	}
	return NewWithTelegramClient(&realTelegramClient{api: api}, manager, roles, opts)
}

// NewWithTelegramClient allows injecting a mocked Telegram client for tests.
func NewWithTelegramClient(tg telegramClient, manager *booking.Manager, roles Roles, opts Options) (*Bot, error) {
	if tg == nil {
		return nil, errors.New("telegram client is nil")
	}
	if manager == nil || roles == nil {
		return nil, errors.New("manager and roles are required")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.DigestHour <= 0 || opts.DigestHour > 23 {
		opts.DigestHour = 20
	}
	l := zerolog.Nop()
	if opts.Logger != nil {
		l = *opts.Logger
	}
	return &Bot{
		tg:      tg,
		manager: manager,
		roles:   roles,
		state:   newStateStore(),
		loc:     manager.Policy().Location(),
		admins:  opts.AdminChatIDs,
		digest:  opts.DigestHour,
		now:     opts.Now,
		logger:  l.With().Str("component", "bot").Logger(),
	}, nil
}

// Start polls updates until ctx is done.
func (b *Bot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.tg.GetUpdatesChan(u)
	b.logger.Info().Str("username", b.tg.SelfUser().UserName).Msg("staff bot authorized")

	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			l := b.logger.With().Str("request_id", uuid.NewString()).Logger()
			b.handleUpdate(l.WithContext(ctx), &update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update *tgbotapi.Update) {
	l := zerolog.Ctx(ctx)
	if update.CallbackQuery != nil {
		l.Debug().
			Int64("user_id", update.CallbackQuery.From.ID).
			Str("data", update.CallbackQuery.Data).
			Msg("handling callback query")
		b.handleCallback(ctx, update.CallbackQuery)
		return
	}
	if update.Message != nil && update.Message.From != nil {
		l.Debug().
			Int64("user_id", update.Message.From.ID).
			Str("text", update.Message.Text).
			Msg("handling message")
		b.handleMessage(ctx, update.Message)
	}
}

func principal(userID int64) string {
	return strconv.FormatInt(userID, 10)
}

// actor returns the caller's role, replying and returning ok=false when the
// caller is not staff.
func (b *Bot) actor(ctx context.Context, chatID, userID int64) (booking.Actor, bool) {
	id := principal(userID)
	role, err := b.roles.Role(ctx, id)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("role lookup failed")
		b.reply(chatID, "Сервис временно недоступен, попробуйте позже.")
		return booking.Actor{}, false
	}
	if !role.IsPrivileged() {
		b.reply(chatID, fmt.Sprintf("Нет доступа. Ваш ID: %s", id))
		return booking.Actor{}, false
	}
	return booking.Actor{PrincipalID: id, Role: role}, true
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	text := strings.TrimSpace(msg.Text)
	chatID, userID := msg.Chat.ID, msg.From.ID

	if !strings.HasPrefix(text, "/") {
		if st, ok := b.state.peek(userID); ok && st.Step == stepReason {
			b.finishPendingAction(ctx, chatID, userID, st.Pending, text)
		}
		return
	}

	cmd, args := splitCommand(text)
	switch cmd {
	case "/start", "/help":
		b.state.reset(userID)
		b.reply(chatID, helpText)
		return
	case "/id":
		b.reply(chatID, fmt.Sprintf("Ваш ID: %d", userID))
		return
	case "/cancel":
		b.state.reset(userID)
		b.reply(chatID, "Операция отменена.")
		return
	}

	actor, ok := b.actor(ctx, chatID, userID)
	if !ok {
		return
	}
	b.state.reset(userID)

	switch cmd {
	case "/today":
		b.sendDay(ctx, chatID, b.now())
	case "/tomorrow":
		b.sendDay(ctx, chatID, b.now().AddDate(0, 0, 1))
	case "/date":
		b.handleDate(ctx, chatID, args)
	case "/new":
		b.sendList(ctx, chatID, 0, listQuery{kind: listNew}, 0)
	case "/upcoming":
		b.sendList(ctx, chatID, 0, listQuery{kind: listUpcoming}, 0)
	case "/slots":
		b.handleSlots(ctx, chatID, args)
	case "/block":
		b.handleBlock(ctx, chatID, actor, args)
	case "/unblock":
		b.handleUnblock(ctx, chatID, actor, args)
	case "/reject", "/cancel_res":
		action := model.ActionReject
		if cmd == "/cancel_res" {
			action = model.ActionCancel
		}
		b.handleReasonCommand(ctx, chatID, actor, cmd, action, args)
	case "/staff":
		b.handleStaffList(ctx, chatID)
	case "/staff_add":
		b.handleStaffAdd(ctx, chatID, actor, args)
	case "/staff_remove":
		b.handleStaffRemove(ctx, chatID, actor, args)
	default:
		b.reply(chatID, "Неизвестная команда. /help")
	}
}

func (b *Bot) handleCallback(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	if cq == nil || cq.Message == nil {
		return
	}
	_ = b.answerCallback(cq.ID, "")
	chatID, userID := cq.Message.Chat.ID, cq.From.ID

	actor, ok := b.actor(ctx, chatID, userID)
	if !ok {
		return
	}

	if q, page, ok := parsePageCallback(cq.Data, b.loc); ok {
		b.sendList(ctx, chatID, cq.Message.MessageID, q, page)
		return
	}

	name, id, ok := notify.ParseActionCallback(cq.Data)
	if !ok {
		return
	}
	if name == "info" {
		b.sendReservation(ctx, chatID, id)
		return
	}
	action, err := model.ParseAction(name)
	if err != nil {
		return
	}
	if action == model.ActionConfirm {
		b.applyAction(ctx, chatID, actor, id, action, "")
		return
	}

	// Reject and cancel ask for a reason first.
	b.state.set(userID, userState{
		Step:    stepReason,
		Pending: pendingAction{ReservationID: id, Action: action},
	})
	b.reply(chatID, fmt.Sprintf("Укажите причину для заявки #%d (или «-» без причины, /cancel для отмены).", id))
}

func (b *Bot) finishPendingAction(ctx context.Context, chatID, userID int64, p pendingAction, text string) {
	actor, ok := b.actor(ctx, chatID, userID)
	if !ok {
		b.state.reset(userID)
		return
	}
	reason := text
	if reason == "-" {
		reason = ""
	}
	b.state.reset(userID)
	b.applyAction(ctx, chatID, actor, p.ReservationID, p.Action, reason)
}

// applyAction runs the transition and reports the outcome to the chat.
func (b *Bot) applyAction(ctx context.Context, chatID int64, actor booking.Actor, id int64, action model.Action, reason string) {
	r, err := b.manager.Transition(ctx, id, action, booking.TransitionOptions{Reason: reason, Actor: actor})
	if err != nil {
		b.replyError(ctx, chatID, err)
		return
	}
	b.reply(chatID, fmt.Sprintf("Заявка #%d: %s", r.ID, notify.StatusTitle(r.Status)))
}

// replyError maps engine errors to chat replies.
func (b *Bot) replyError(ctx context.Context, chatID int64, err error) {
	var text string
	switch {
	case errors.Is(err, booking.ErrNotFound):
		text = "Не найдено."
	case errors.Is(err, booking.ErrInvalidTransition):
		text = "Действие недоступно для текущего статуса заявки."
	case errors.Is(err, booking.ErrConflict):
		text = "Интервал пересекается с существующей бронью."
	case errors.Is(err, booking.ErrBlocked):
		text = "Интервал уже заблокирован."
	case errors.Is(err, booking.ErrOutsideBusinessHours):
		text = "Интервал вне рабочего времени."
	case errors.Is(err, booking.ErrInvalidRange):
		text = "Некорректный интервал."
	case access.IsAccessDenied(err):
		text = "Недостаточно прав."
	case errors.Is(err, booking.ErrTransient):
		text = "Сервис временно недоступен, попробуйте позже."
	default:
		zerolog.Ctx(ctx).Error().Err(err).Msg("bot command failed")
		text = "Произошла ошибка."
	}
	b.reply(chatID, text)
}

func (b *Bot) reply(chatID int64, text string) {
	if _, err := b.tg.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		b.logger.Warn().Err(err).Int64("chat_id", chatID).Msg("send failed")
	}
}

func (b *Bot) answerCallback(id, text string) error {
	_, err := b.tg.Request(tgbotapi.NewCallback(id, text))
	return err
}

func splitCommand(text string) (string, []string) {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return "", nil
	}
	cmd := strings.ToLower(fields[0])
	// Strip the @botname suffix used in group chats.
	if i := strings.IndexByte(cmd, '@'); i > 0 {
		cmd = cmd[:i]
	}
	return cmd, fields[1:]
}

const helpText = `Команды:
/today, /tomorrow - брони на день
/date ДД.ММ.ГГГГ - брони на дату
/new - заявки, ожидающие решения
/upcoming - ближайшие брони
/slots <зал> <ГГГГ-ММ-ДД> - свободные слоты
/block <зал> <ГГГГ-ММ-ДД> <ЧЧ:ММ-ЧЧ:ММ> [причина]
/unblock <id блокировки>
/reject <id> [причина], /cancel_res <id> [причина]
/staff, /staff_add <id> [имя], /staff_remove <id>
/id - ваш Telegram ID`
