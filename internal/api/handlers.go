package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"gaia/internal/booking"
	"gaia/internal/idempotency"
	"gaia/internal/model"
	"gaia/internal/slots"

	"github.com/rs/zerolog"
)

const dateLayout = "2006-01-02"

// localTimeLayouts are accepted when the client omits the zone offset.
var localTimeLayouts = []string{"2006-01-02T15:04", "2006-01-02T15:04:05", "2006-01-02 15:04"}

// parseTime accepts RFC 3339 or a zone-less local time in loc.
func parseTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	for _, layout := range localTimeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q; expected RFC 3339 or YYYY-MM-DDTHH:MM", s)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

type hallResponse struct {
	ID          int64            `json:"id"`
	Slug        string           `json:"slug"`
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Capacity    int              `json:"capacity"`
	ImageRef    string           `json:"image_ref,omitempty"`
	Rate        model.RateConfig `json:"rate"`
}

// GET /api/halls
func (s *HTTPServer) handleHalls(w http.ResponseWriter, r *http.Request) {
	halls, err := s.manager.Halls(r.Context())
	if err != nil {
		writeBookingError(w, r, err)
		return
	}
	out := make([]hallResponse, 0, len(halls))
	for _, h := range halls {
		out = append(out, hallResponse{
			ID:          h.ID,
			Slug:        h.Slug,
			Name:        h.Name,
			Description: h.Description,
			Capacity:    h.Capacity,
			ImageRef:    h.ImageRef,
			Rate:        h.Rate,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"halls": out})
}

type slotsResponse struct {
	Hall  string           `json:"hall"`
	Date  string           `json:"date"`
	Free  []model.Interval `json:"free"`
	Slots []slots.SlotInfo `json:"slots,omitempty"`
}

// GET /api/halls/{slug}/slots?date=YYYY-MM-DD[&all=true]
func (s *HTTPServer) handleSlots(w http.ResponseWriter, r *http.Request) {
	loc := s.manager.Policy().Location()
	dateStr := r.URL.Query().Get("date")
	if dateStr == "" {
		writeError(w, http.StatusBadRequest, "date is required")
		return
	}
	date, err := time.ParseInLocation(dateLayout, dateStr, loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid date format; expected YYYY-MM-DD")
		return
	}

	hall, err := s.manager.HallBySlug(r.Context(), r.PathValue("slug"))
	if err != nil {
		writeBookingError(w, r, err)
		return
	}
	if !hall.IsActive {
		writeBookingError(w, r, fmt.Errorf("hall %s: %w", hall.Slug, booking.ErrNotFound))
		return
	}

	free, err := s.manager.ListFreeSlots(r.Context(), hall.ID, date)
	if err != nil {
		writeBookingError(w, r, err)
		return
	}
	resp := slotsResponse{Hall: hall.Slug, Date: dateStr, Free: make([]model.Interval, 0, len(free))}
	for _, iv := range free {
		resp.Free = append(resp.Free, iv.In(loc))
	}

	if r.URL.Query().Get("all") == "true" {
		all, err := s.manager.DaySlots(r.Context(), hall.ID, date)
		if err != nil {
			writeBookingError(w, r, err)
			return
		}
		resp.Slots = slots.ToSlotInfo(all, loc)
	}
	writeJSON(w, http.StatusOK, resp)
}

type createReservationRequest struct {
	Hall    string `json:"hall"`
	Start   string `json:"start"`
	End     string `json:"end"`
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Email   string `json:"email,omitempty"`
	Comment string `json:"comment,omitempty"`
}

// POST /api/reservations
func (s *HTTPServer) handleCreateReservation(w http.ResponseWriter, r *http.Request) {
	var req createReservationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Hall == "" || req.Start == "" || req.End == "" {
		writeError(w, http.StatusBadRequest, "hall, start and end are required")
		return
	}

	loc := s.manager.Policy().Location()
	start, err := parseTime(req.Start, loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	end, err := parseTime(req.End, loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	hall, err := s.manager.HallBySlug(r.Context(), req.Hall)
	if err != nil {
		writeBookingError(w, r, err)
		return
	}

	key := strings.TrimSpace(r.Header.Get(HeaderIdempotency))
	if key != "" && s.idem != nil {
		id, claimed, err := s.idem.Claim(r.Context(), key)
		switch {
		case errors.Is(err, idempotency.ErrInProgress):
			writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error(), Code: "in_progress"})
			return
		case err != nil:
			writeBookingError(w, r, booking.Transient(err))
			return
		case !claimed:
			existing, err := s.manager.Get(r.Context(), id)
			if err != nil {
				writeBookingError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, existing)
			return
		}
	}

	res, err := s.manager.Create(r.Context(), booking.CreateRequest{
		HallID:   hall.ID,
		Interval: model.NewInterval(start, end),
		Customer: model.Customer{
			Name:  strings.TrimSpace(req.Name),
			Phone: strings.TrimSpace(req.Phone),
			Email: strings.TrimSpace(req.Email),
		},
		Comment: strings.TrimSpace(req.Comment),
	})
	if key != "" && s.idem != nil {
		if err != nil {
			if relErr := s.idem.Release(r.Context(), key); relErr != nil {
				zerolog.Ctx(r.Context()).Warn().Err(relErr).Msg("release idempotency key")
			}
		} else if cErr := s.idem.Complete(r.Context(), key, res.ID); cErr != nil {
			zerolog.Ctx(r.Context()).Warn().Err(cErr).Int64("reservation_id", res.ID).Msg("record idempotency key")
		}
	}
	if err != nil {
		writeBookingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", r.PathValue("id"))
	}
	return id, nil
}

// GET /api/reservations/{id}
func (s *HTTPServer) handleGetReservation(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.manager.Get(r.Context(), id)
	if err != nil {
		writeBookingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// GET /api/reservations?hall=&from=&to=&status=new,confirmed
func (s *HTTPServer) handleListReservations(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.requireStaff(w, r); !ok {
		return
	}
	q := r.URL.Query()
	loc := s.manager.Policy().Location()

	var f booking.ReservationFilter
	if slug := q.Get("hall"); slug != "" {
		hall, err := s.manager.HallBySlug(r.Context(), slug)
		if err != nil {
			writeBookingError(w, r, err)
			return
		}
		f.HallID = hall.ID
	}
	if v := q.Get("from"); v != "" {
		d, err := time.ParseInLocation(dateLayout, v, loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid from; expected YYYY-MM-DD")
			return
		}
		f.From = d
	}
	if v := q.Get("to"); v != "" {
		d, err := time.ParseInLocation(dateLayout, v, loc)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid to; expected YYYY-MM-DD")
			return
		}
		f.To = d.AddDate(0, 0, 1)
	}
	if v := q.Get("status"); v != "" {
		for _, part := range strings.Split(v, ",") {
			st, err := model.ParseStatus(part)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			f.Statuses = append(f.Statuses, st)
		}
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		f.Limit = n
	}

	list, err := s.manager.List(r.Context(), f)
	if err != nil {
		writeBookingError(w, r, err)
		return
	}
	if list == nil {
		list = []model.Reservation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"reservations": list})
}

type reasonRequest struct {
	Reason string `json:"reason,omitempty"`
}

// POST /api/reservations/{id}/{confirm|reject|cancel}
func (s *HTTPServer) handleTransition(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	action, err := model.ParseAction(r.PathValue("action"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	actor, ok := s.requireStaff(w, r)
	if !ok {
		return
	}

	var body reasonRequest
	if err := decodeJSON(w, r, &body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	res, err := s.manager.Transition(r.Context(), id, action, booking.TransitionOptions{Reason: body.Reason, Actor: actor})
	if err != nil {
		writeBookingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type createBlockRequest struct {
	Start  string `json:"start"`
	End    string `json:"end"`
	Reason string `json:"reason,omitempty"`
}

// POST /api/halls/{slug}/blocks
func (s *HTTPServer) handleCreateBlock(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireStaff(w, r)
	if !ok {
		return
	}
	var req createBlockRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	loc := s.manager.Policy().Location()
	start, err := parseTime(req.Start, loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	end, err := parseTime(req.End, loc)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	hall, err := s.manager.HallBySlug(r.Context(), r.PathValue("slug"))
	if err != nil {
		writeBookingError(w, r, err)
		return
	}
	b, err := s.manager.CreateBlock(r.Context(), hall.ID, model.NewInterval(start, end), req.Reason, actor)
	if err != nil {
		writeBookingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

// DELETE /api/blocks/{id}
func (s *HTTPServer) handleRemoveBlock(w http.ResponseWriter, r *http.Request) {
	actor, ok := s.requireStaff(w, r)
	if !ok {
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.manager.RemoveBlock(r.Context(), id, actor); err != nil {
		writeBookingError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
