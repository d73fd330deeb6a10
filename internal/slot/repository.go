package slot

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrSlotNotFound    = errors.New("slot not found")
	ErrSlotUnavailable = errors.New("slot is not available")
	ErrHoldExpired     = errors.New("slot hold has expired")
	ErrHoldMismatch    = errors.New("slot is held by another holder")
)

// Repository contains all DB interactions needed by the store. Hold, Book and
// Free are conditional writes: each succeeds for at most one concurrent
// caller and reports ErrSlotUnavailable (or a hold error) when the
// compare-and-swap loses.
type Repository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*TimeSlot, error)

	// Hold transitions FREE->HELD. A lapsed hold counts as FREE.
	Hold(ctx context.Context, slotID, holderID uuid.UUID, heldUntil, now time.Time) (*TimeSlot, error)

	// Book transitions HELD->BOOKED for the live hold owned by holderID.
	Book(ctx context.Context, slotID, holderID uuid.UUID, now time.Time) (*TimeSlot, error)

	// Free reverts HELD->FREE or BOOKED->FREE for holderID. Freeing an
	// already-FREE slot is a no-op.
	Free(ctx context.Context, slotID, holderID uuid.UUID) (*TimeSlot, error)

	// ListAvailable returns FREE slots (lapsed holds included) for the doctor
	// inside [from, to), strictly after afterStart, ordered by start_time
	// ascending, at most limit rows. Keyset cursor for QueryAvailable.
	ListAvailable(ctx context.Context, doctorID uuid.UUID, from, to time.Time, mode ConsultationMode, afterStart time.Time, now time.Time, limit int) ([]TimeSlot, error)

	// FindLapsedHolds returns HELD slots whose hold deadline has passed.
	FindLapsedHolds(ctx context.Context, now time.Time, limit int) ([]TimeSlot, error)

	Insert(ctx context.Context, s *TimeSlot) error

	// ArchivePast removes slots whose end time has passed and that carry no
	// booking.
	ArchivePast(ctx context.Context, now time.Time) (int64, error)
}
