package mempool

const (
	// BPSDenominator represents one hundred percent in basis points.
	BPSDenominator = 10_000
	// DefaultRootReservationBPS reserves ten percent of every block for
	// privileged calls.
	DefaultRootReservationBPS = 1_000
)

// RootQuota encapsulates how much of a block is reserved for the root lane.
type RootQuota struct {
	ReservationBPS uint32
}

// Normalized returns the reservation capped to a valid basis-point range.
// Zero indicates no reservation.
func (q RootQuota) Normalized() uint32 {
	if q.ReservationBPS > BPSDenominator {
		return BPSDenominator
	}
	return q.ReservationBPS
}

// ReservedSlots computes how many call slots are earmarked for the root lane
// in a block bounded by maxCalls. Partial slots round up.
func (q RootQuota) ReservedSlots(maxCalls int) int {
	if maxCalls <= 0 {
		return 0
	}
	reservation := q.Normalized()
	if reservation == 0 {
		return 0
	}
	product := int(reservation) * maxCalls
	slots := product / BPSDenominator
	if product%BPSDenominator != 0 {
		slots++
	}
	if slots > maxCalls {
		return maxCalls
	}
	return slots
}

// WithDefault applies the default reservation when none is configured.
func (q RootQuota) WithDefault() RootQuota {
	if q.ReservationBPS == 0 {
		q.ReservationBPS = DefaultRootReservationBPS
	}
	return q
}
