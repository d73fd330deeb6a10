package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/curalink/scheduling/internal/appointment"
	"github.com/curalink/scheduling/internal/delivery"
	"github.com/curalink/scheduling/internal/prescription"
	"github.com/curalink/scheduling/internal/referral"
	"github.com/curalink/scheduling/internal/slot"
)

type CreateAppointmentRequest struct {
	SlotID    string `json:"slot_id" validate:"required,uuid4"`
	PatientID string `json:"patient_id" validate:"required,uuid4"`
	Reason    string `json:"reason_for_visit" validate:"required,max=2000"`
}

type ConfirmPaymentRequest struct {
	PaymentMethodToken string `json:"payment_method_token" validate:"required"`
}

type CancelRequest struct {
	Actor string `json:"actor" validate:"required,oneof=patient doctor system"`
}

type CreateReferralRequest struct {
	PatientID         string `json:"patient_id" validate:"required,uuid4"`
	ReferringDoctorID string `json:"referring_doctor_id" validate:"required,uuid4"`
	ReferredDoctorID  string `json:"referred_doctor_id" validate:"required,uuid4"`
	Reason            string `json:"reason_for_referral" validate:"required,max=2000"`
}

type ScheduleReferralRequest struct {
	SlotID string `json:"slot_id" validate:"required,uuid4"`
}

type SetItemsRequest struct {
	Items []PrescriptionItem `json:"items" validate:"required,min=1,dive"`
}

type PrescriptionItem struct {
	MedicationName string `json:"medication_name" validate:"required,max=200"`
	Dosage         string `json:"dosage" validate:"required,max=200"`
	Quantity       int    `json:"quantity" validate:"required,min=1"`
	Instructions   string `json:"instructions" validate:"max=2000"`
}

type SlotResponse struct {
	ID              uuid.UUID `json:"id"`
	DoctorID        uuid.UUID `json:"doctor_id"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	DurationMinutes int       `json:"duration_minutes"`
	Mode            string    `json:"consultation_mode"`
	State           string    `json:"reservation_state"`
}

func toSlotResponse(s slot.TimeSlot) SlotResponse {
	return SlotResponse{
		ID:              s.ID,
		DoctorID:        s.DoctorID,
		StartTime:       s.StartTime,
		EndTime:         s.EndTime,
		DurationMinutes: s.DurationMinutes,
		Mode:            string(s.Mode),
		State:           string(s.State),
	}
}

type AppointmentResponse struct {
	ID              uuid.UUID  `json:"id"`
	PatientID       uuid.UUID  `json:"patient_id"`
	DoctorID        uuid.UUID  `json:"doctor_id"`
	SlotID          uuid.UUID  `json:"slot_id"`
	Status          string     `json:"status"`
	Mode            string     `json:"consultation_mode"`
	ReasonForVisit  string     `json:"reason_for_visit,omitempty"`
	PaymentIntentID *string    `json:"payment_intent_id,omitempty"`
	Amount          int64      `json:"amount"`
	HoldExpiresAt   *time.Time `json:"hold_expires_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:              a.ID,
		PatientID:       a.PatientID,
		DoctorID:        a.DoctorID,
		SlotID:          a.SlotID,
		Status:          string(a.Status),
		Mode:            string(a.Mode),
		ReasonForVisit:  a.ReasonForVisit,
		PaymentIntentID: a.PaymentIntentID,
		Amount:          a.Amount,
		HoldExpiresAt:   a.HoldExpiresAt,
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
}

type ReferralResponse struct {
	ID                  uuid.UUID  `json:"id"`
	PatientID           uuid.UUID  `json:"patient_id"`
	ReferringDoctorID   uuid.UUID  `json:"referring_doctor_id"`
	ReferredDoctorID    uuid.UUID  `json:"referred_doctor_id"`
	Status              string     `json:"status"`
	ReasonForReferral   string     `json:"reason_for_referral,omitempty"`
	IssuedAt            time.Time  `json:"issued_at"`
	ExpiryDate          time.Time  `json:"expiry_date"`
	LinkedAppointmentID *uuid.UUID `json:"linked_appointment_id,omitempty"`
}

func toReferralResponse(r *referral.Referral) ReferralResponse {
	return ReferralResponse{
		ID:                  r.ID,
		PatientID:           r.PatientID,
		ReferringDoctorID:   r.ReferringDoctorID,
		ReferredDoctorID:    r.ReferredDoctorID,
		Status:              string(r.Status),
		ReasonForReferral:   r.ReasonForReferral,
		IssuedAt:            r.IssuedAt,
		ExpiryDate:          r.ExpiryDate,
		LinkedAppointmentID: r.LinkedAppointmentID,
	}
}

type PrescriptionResponse struct {
	ID            uuid.UUID          `json:"id"`
	AppointmentID uuid.UUID          `json:"appointment_id"`
	Status        string             `json:"status"`
	Items         []PrescriptionItem `json:"items,omitempty"`
	ExpiresAt     time.Time          `json:"expires_at"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}

func toPrescriptionResponse(p *prescription.Prescription) PrescriptionResponse {
	items := make([]PrescriptionItem, 0, len(p.Items))
	for _, it := range p.Items {
		items = append(items, PrescriptionItem{
			MedicationName: it.MedicationName,
			Dosage:         it.Dosage,
			Quantity:       it.Quantity,
			Instructions:   it.Instructions,
		})
	}
	return PrescriptionResponse{
		ID:            p.ID,
		AppointmentID: p.AppointmentID,
		Status:        string(p.Status),
		Items:         items,
		ExpiresAt:     p.ExpiresAt,
		CreatedAt:     p.CreatedAt,
		UpdatedAt:     p.UpdatedAt,
	}
}

type DeliveryResponse struct {
	ID              uuid.UUID `json:"id"`
	PrescriptionID  uuid.UUID `json:"prescription_id"`
	Status          string    `json:"status"`
	PaymentIntentID *string   `json:"payment_intent_id,omitempty"`
	Amount          int64     `json:"amount"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func toDeliveryResponse(d *delivery.Delivery) DeliveryResponse {
	return DeliveryResponse{
		ID:              d.ID,
		PrescriptionID:  d.PrescriptionID,
		Status:          string(d.Status),
		PaymentIntentID: d.PaymentIntentID,
		Amount:          d.Amount,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}
