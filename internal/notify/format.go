package notify

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gaia/internal/model"
)

var statusTitles = map[model.Status]string{
	model.StatusNew:       "новая",
	model.StatusConfirmed: "подтверждена",
	model.StatusCancelled: "отменена",
	model.StatusRejected:  "отклонена",
}

// StatusTitle is the human-readable status used in staff messages.
func StatusTitle(s model.Status) string {
	if t, ok := statusTitles[s]; ok {
		return t
	}
	return string(s)
}

// FormatEvent renders ev as a plain-text staff message in loc.
func FormatEvent(ev Event, loc *time.Location) string {
	r := ev.Reservation
	var sb strings.Builder
	switch ev.Type {
	case EventCreated:
		fmt.Fprintf(&sb, "Новая заявка #%d\n", r.ID)
	default:
		fmt.Fprintf(&sb, "Заявка #%d: %s → %s\n", r.ID, StatusTitle(ev.From), StatusTitle(r.Status))
	}
	fmt.Fprintf(&sb, "Зал: %s\n", hallLabel(ev))
	fmt.Fprintf(&sb, "Время: %s\n", r.Interval.In(loc).String())
	fmt.Fprintf(&sb, "Клиент: %s, %s\n", r.Customer.Name, r.Customer.Phone)
	if r.Customer.Email != "" {
		fmt.Fprintf(&sb, "Email: %s\n", r.Customer.Email)
	}
	fmt.Fprintf(&sb, "Стоимость: %s (%d ч)", r.TotalPrice.String(), r.DurationHours)
	if r.Comment != "" {
		fmt.Fprintf(&sb, "\nКомментарий: %s", r.Comment)
	}
	if r.StatusReason != "" {
		fmt.Fprintf(&sb, "\nПричина: %s", r.StatusReason)
	}
	return sb.String()
}

func hallLabel(ev Event) string {
	if ev.HallName != "" {
		return ev.HallName
	}
	return "#" + strconv.FormatInt(ev.Reservation.HallID, 10)
}

// CustomerMessage is the notice a mailer sends to the customer.
type CustomerMessage struct {
	ReservationID int64  `json:"reservation_id"`
	Kind          string `json:"kind"` // received | confirmed | cancelled
	Name          string `json:"name"`
	Email         string `json:"email,omitempty"`
	Phone         string `json:"phone,omitempty"`
	Subject       string `json:"subject"`
	Text          string `json:"text"`
}

// CustomerNotice builds the customer message for ev. It reports false when
// the event needs no notice or the customer left no contact.
func CustomerNotice(ev Event, loc *time.Location) (CustomerMessage, bool) {
	r := ev.Reservation
	if r.Customer.Email == "" && r.Customer.Phone == "" {
		return CustomerMessage{}, false
	}
	iv := r.Interval.In(loc)
	when := iv.Start.Format("02.01.2006 15:04") + " - " + iv.End.Format("15:04")
	hall := hallLabel(ev)

	msg := CustomerMessage{
		ReservationID: r.ID,
		Name:          r.Customer.Name,
		Email:         r.Customer.Email,
		Phone:         r.Customer.Phone,
	}
	var body strings.Builder
	fmt.Fprintf(&body, "Здравствуйте, %s!\n\n", r.Customer.Name)

	switch {
	case ev.Type == EventCreated:
		msg.Kind = "received"
		msg.Subject = "GAIA: ваша заявка на бронирование получена"
		fmt.Fprintf(&body, "Ваша заявка на бронирование зала «%s» принята.\n", hall)
		fmt.Fprintf(&body, "Дата и время: %s\nСтоимость: %s руб.\n\n", when, r.TotalPrice)
		body.WriteString("Мы свяжемся с вами для подтверждения.")
	case r.Status == model.StatusConfirmed:
		msg.Kind = "confirmed"
		msg.Subject = "GAIA: ваше бронирование подтверждено"
		fmt.Fprintf(&body, "Ваше бронирование зала «%s» подтверждено.\n", hall)
		fmt.Fprintf(&body, "Дата и время: %s\nСтоимость: %s руб.\n\n", when, r.TotalPrice)
		body.WriteString("До встречи в GAIA!")
	case r.Status.IsTerminal():
		msg.Kind = "cancelled"
		msg.Subject = "GAIA: ваше бронирование отменено"
		fmt.Fprintf(&body, "Ваше бронирование зала «%s» на %s отменено.\n\n", hall, iv.Start.Format("02.01.2006 15:04"))
		body.WriteString("Если это ошибка, свяжитесь с нами по телефону или через сайт.")
	default:
		return CustomerMessage{}, false
	}
	msg.Text = body.String()
	return msg, true
}

const callbackPrefix = "res"

// ActionCallback encodes an inline button payload for action on reservation id.
func ActionCallback(action string, id int64) string {
	return callbackPrefix + ":" + action + ":" + strconv.FormatInt(id, 10)
}

// ParseActionCallback is the inverse of ActionCallback.
func ParseActionCallback(data string) (action string, id int64, ok bool) {
	parts := strings.Split(data, ":")
	if len(parts) != 3 || parts[0] != callbackPrefix {
		return "", 0, false
	}
	id, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || id <= 0 {
		return "", 0, false
	}
	return parts[1], id, true
}
