package billing

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// BLOCK - BlockSize consecutive completed sessions billed as one unit
// =============================================================================

// Block is billable in the month of Date, the date of its closing session.
type Block struct {
	ClientID   ClientID
	SessionIDs []SessionID
	Date       time.Time
	Gross      decimal.Decimal

	// SettlementRef is set when the sessions were stamped by a seal.
	SettlementRef SettlementID
	// Paid is true if any session in the block is stamped.
	Paid bool
}

// BuildBlocks groups a client's completed sessions into blocks.
//
// Sessions are sorted by Number. Everything up to the highest-numbered
// stamped session is the sealed region: stamped sessions there keep the
// blocks of the settlement that stamped them (runs of the same ref, cut
// every BlockSize), and any unstamped session there is carried forward.
// The carried and remaining sessions are then scanned in order; every
// BlockSize-th one closes a block. Trailing sessions that do not fill a
// block produce nothing.
//
// Open blocks therefore never contain a stamped session, even when a later
// pricing version changes BlockSize. Gapped or non-monotonic numbering is
// not detected.
func BuildBlocks(clientID ClientID, sessions []Session, p Pricing) []Block {
	completed := make([]Session, 0, len(sessions))
	for _, s := range sessions {
		if s.Completed {
			completed = append(completed, s)
		}
	}
	sort.SliceStable(completed, func(i, j int) bool {
		return completed[i].Number < completed[j].Number
	})

	lastStamped := -1
	for i, s := range completed {
		if s.Stamped() {
			lastStamped = i
		}
	}

	var (
		blocks  []Block
		run     []Session
		pending []Session
	)
	flushRun := func() {
		for len(run) > 0 {
			n := min(p.BlockSize, len(run))
			blocks = append(blocks, closeBlock(clientID, run[:n], p))
			run = run[n:]
		}
		run = nil
	}
	for _, s := range completed[:lastStamped+1] {
		if !s.Stamped() {
			pending = append(pending, s)
			continue
		}
		if len(run) > 0 && run[0].SettlementRef != s.SettlementRef {
			flushRun()
		}
		run = append(run, s)
	}
	flushRun()

	pending = append(pending, completed[lastStamped+1:]...)
	for len(pending) >= p.BlockSize {
		blocks = append(blocks, closeBlock(clientID, pending[:p.BlockSize], p))
		pending = pending[p.BlockSize:]
	}
	return blocks
}

func closeBlock(clientID ClientID, sessions []Session, p Pricing) Block {
	b := Block{
		ClientID:   clientID,
		SessionIDs: make([]SessionID, len(sessions)),
		Date:       sessions[len(sessions)-1].Date,
		Gross:      p.BlockPrice,
	}
	for i, s := range sessions {
		b.SessionIDs[i] = s.ID
		if s.Stamped() {
			b.Paid = true
			if b.SettlementRef == "" {
				b.SettlementRef = s.SettlementRef
			}
		}
	}
	return b
}

// StampedBy reports whether the block's sessions carry the given settlement ref.
func (b Block) StampedBy(ref SettlementID) bool {
	return ref != "" && b.SettlementRef == ref
}
