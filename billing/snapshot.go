package billing

// =============================================================================
// SNAPSHOT - Virtual (recomputed) or sealed (persisted) settlement
// =============================================================================

// Snapshot is what the ledger serves for a (trainer, month). It is exactly
// one of:
//
//   - *VirtualSettlement: computed on read from current source records,
//     status unsealed, never stored
//   - *SealedSettlement: the persisted row, authoritative and immutable
//
// Use a type switch to tell them apart.
type Snapshot interface {
	// View returns the settlement fields common to both variants.
	View() Settlement
	isSnapshot()
}

// VirtualSettlement is the transient "currently owed" projection. Its
// Settlement has no ID and rounded Amounts; Exact keeps full precision.
type VirtualSettlement struct {
	Settlement
	Exact      Amounts
	Collection *Collection
}

func (v *VirtualSettlement) View() Settlement { return v.Settlement }
func (*VirtualSettlement) isSnapshot()        {}

// SealedSettlement wraps a stored, sealed row.
type SealedSettlement struct {
	Settlement
}

func (s *SealedSettlement) View() Settlement { return s.Settlement }
func (*SealedSettlement) isSnapshot()        {}

func newVirtual(col *Collection) *VirtualSettlement {
	exact := col.Amounts()
	return &VirtualSettlement{
		Settlement: Settlement{
			TrainerID: col.TrainerID,
			Month:     col.Month,
			Amounts:   exact.Round(),
			Status:    StatusUnsealed,
			Pricing:   col.Pricing,
			Sources:   col.Sources(),
		},
		Exact:      exact,
		Collection: col,
	}
}
