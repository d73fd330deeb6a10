package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/curalink/scheduling/internal/appointment"
	"github.com/curalink/scheduling/internal/delivery"
	"github.com/curalink/scheduling/internal/prescription"
	"github.com/curalink/scheduling/internal/referral"
	"github.com/curalink/scheduling/internal/slot"
)

type RouterConfig struct {
	Slots         *slot.Store
	Appointments  *appointment.Service
	Referrals     *referral.Service
	Prescriptions *prescription.Service
	Deliveries    *delivery.Service
	PgPool        *pgxpool.Pool
	Redis         *redis.Client
	Env           string
	Version       string
	Log           zerolog.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Log))

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	r.Get("/doctors/{doctorID}/slots", availableSlotsHandler(cfg.Slots))

	appts := cfg.Appointments
	r.Route("/appointments", func(r chi.Router) {
		r.Post("/", createAppointmentHandler(appts))
		r.Get("/", listAppointmentsHandler(appts))
		r.Get("/{id}", getAppointmentHandler(appts))
		r.Post("/{id}/confirm-payment", confirmAppointmentPaymentHandler(appts))
		r.Post("/{id}/ready-for-call", appointmentTransitionHandler(func(req *http.Request, id uuid.UUID) (*appointment.Appointment, error) {
			return appts.MarkReadyForCall(req.Context(), id)
		}))
		r.Post("/{id}/start", appointmentTransitionHandler(func(req *http.Request, id uuid.UUID) (*appointment.Appointment, error) {
			return appts.StartConsultation(req.Context(), id)
		}))
		r.Post("/{id}/complete", appointmentTransitionHandler(func(req *http.Request, id uuid.UUID) (*appointment.Appointment, error) {
			return appts.Complete(req.Context(), id)
		}))
		r.Post("/{id}/no-show", appointmentTransitionHandler(func(req *http.Request, id uuid.UUID) (*appointment.Appointment, error) {
			return appts.MarkNoShow(req.Context(), id)
		}))
		r.Post("/{id}/cancel", cancelAppointmentHandler(appts))
		r.Get("/{id}/prescription", getPrescriptionByAppointmentHandler(cfg.Prescriptions))
	})

	refs := cfg.Referrals
	r.Route("/referrals", func(r chi.Router) {
		r.Post("/", createReferralHandler(refs))
		r.Get("/", listReferralsHandler(refs))
		r.Get("/{id}", getReferralHandler(refs))
		r.Post("/{id}/accept", referralTransitionHandler(func(req *http.Request, id uuid.UUID) (*referral.Referral, error) {
			return refs.Accept(req.Context(), id)
		}))
		r.Post("/{id}/reject", referralTransitionHandler(func(req *http.Request, id uuid.UUID) (*referral.Referral, error) {
			return refs.Reject(req.Context(), id)
		}))
		r.Post("/{id}/schedule", scheduleReferralHandler(refs))
		r.Post("/{id}/cancel", referralTransitionHandler(func(req *http.Request, id uuid.UUID) (*referral.Referral, error) {
			return refs.Cancel(req.Context(), id)
		}))
	})

	rx := cfg.Prescriptions
	r.Route("/prescriptions", func(r chi.Router) {
		r.Get("/{id}", getPrescriptionHandler(rx))
		r.Put("/{id}/items", setPrescriptionItemsHandler(rx))
		r.Post("/{id}/submit", prescriptionTransitionHandler(func(req *http.Request, id uuid.UUID) (*prescription.Prescription, error) {
			return rx.SubmitForProcessing(req.Context(), id)
		}))
		r.Post("/{id}/process", prescriptionTransitionHandler(func(req *http.Request, id uuid.UUID) (*prescription.Prescription, error) {
			return rx.BeginProcessing(req.Context(), id)
		}))
		r.Post("/{id}/ready", prescriptionTransitionHandler(func(req *http.Request, id uuid.UUID) (*prescription.Prescription, error) {
			return rx.MarkReady(req.Context(), id)
		}))
		r.Post("/{id}/cancel", prescriptionTransitionHandler(func(req *http.Request, id uuid.UUID) (*prescription.Prescription, error) {
			return rx.Cancel(req.Context(), id)
		}))
		r.Get("/{id}/delivery", getDeliveryByPrescriptionHandler(cfg.Deliveries))
	})

	dlv := cfg.Deliveries
	r.Route("/deliveries", func(r chi.Router) {
		r.Get("/{id}", getDeliveryHandler(dlv))
		r.Post("/{id}/confirm-payment", confirmDeliveryPaymentHandler(dlv))
		r.Post("/{id}/preparing", deliveryTransitionHandler(func(req *http.Request, id uuid.UUID) (*delivery.Delivery, error) {
			return dlv.StartPreparing(req.Context(), id)
		}))
		r.Post("/{id}/ready-for-pickup", deliveryTransitionHandler(func(req *http.Request, id uuid.UUID) (*delivery.Delivery, error) {
			return dlv.MarkReadyForPickup(req.Context(), id)
		}))
		r.Post("/{id}/dispatch", deliveryTransitionHandler(func(req *http.Request, id uuid.UUID) (*delivery.Delivery, error) {
			return dlv.Dispatch(req.Context(), id)
		}))
		r.Post("/{id}/delivered", deliveryTransitionHandler(func(req *http.Request, id uuid.UUID) (*delivery.Delivery, error) {
			return dlv.MarkDelivered(req.Context(), id)
		}))
		r.Post("/{id}/cancel", deliveryTransitionHandler(func(req *http.Request, id uuid.UUID) (*delivery.Delivery, error) {
			return dlv.Cancel(req.Context(), id)
		}))
	})

	return r
}
