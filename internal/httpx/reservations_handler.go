package httpx

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/ariefcatur/go-restaurant-backend/internal/auth"
	"github.com/ariefcatur/go-restaurant-backend/internal/reservations"
)

type ReservationService interface {
	Create(ctx context.Context, in reservations.CreateInput) (*reservations.Reservation, error)
	Cancel(ctx context.Context, id string, actor auth.Actor) (*reservations.Reservation, error)
	UpdateStatus(ctx context.Context, id string, to reservations.Status, actor auth.Actor) (*reservations.Reservation, error)
	ListMine(ctx context.Context, userID string) ([]reservations.Reservation, error)
	ListAll(ctx context.Context) ([]reservations.Reservation, error)
}

type ReservationsHandler struct {
	Svc ReservationService
	Log zerolog.Logger
}

type createReservationReq struct {
	TableID   string    `json:"table_id" validate:"required,uuid"`
	Name      string    `json:"name" validate:"required,max=120"`
	Phone     string    `json:"phone" validate:"required,min=5,max=15"`
	Notes     string    `json:"notes" validate:"max=500"`
	StartTime time.Time `json:"start_time" validate:"required"`
	EndTime   time.Time `json:"end_time" validate:"required"`
}

func (h *ReservationsHandler) Register(r chi.Router) {
	r.Post("/reservations", h.create)
	r.Get("/reservations/me", h.listMine)
	r.Patch("/reservations/{id}/cancel", h.cancel)
	r.With(auth.RequireAdmin).Get("/reservations", h.listAll)
	r.With(auth.RequireAdmin).Patch("/reservations/{id}/status", h.updateStatus)
}

func (h *ReservationsHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createReservationReq
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	a, _ := auth.ActorFrom(r.Context())
	res, err := h.Svc.Create(r.Context(), reservations.CreateInput{
		TableID:   req.TableID,
		UserID:    a.ID,
		Name:      req.Name,
		Phone:     req.Phone,
		Notes:     req.Notes,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
	})
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *ReservationsHandler) listMine(w http.ResponseWriter, r *http.Request) {
	a, _ := auth.ActorFrom(r.Context())
	list, err := h.Svc.ListMine(r.Context(), a.ID)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *ReservationsHandler) listAll(w http.ResponseWriter, r *http.Request) {
	list, err := h.Svc.ListAll(r.Context())
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *ReservationsHandler) cancel(w http.ResponseWriter, r *http.Request) {
	a, _ := auth.ActorFrom(r.Context())
	res, err := h.Svc.Cancel(r.Context(), chi.URLParam(r, "id"), a)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *ReservationsHandler) updateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusReq
	if err := decode(w, r, &req); err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	a, _ := auth.ActorFrom(r.Context())
	res, err := h.Svc.UpdateStatus(r.Context(), chi.URLParam(r, "id"), reservations.Status(req.Status), a)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
