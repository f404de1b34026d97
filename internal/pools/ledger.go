package pools

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/packfinderz-pools/internal/allocation"
	"github.com/angelmondragon/packfinderz-pools/pkg/db/models"
	pkgerrors "github.com/angelmondragon/packfinderz-pools/pkg/errors"
)

// CommitmentLedger owns the participant list of one pool and keeps
// CurrentCommitment equal to the sum of active commitments. It is not safe for
// concurrent use; callers hold the pool lock.
type CommitmentLedger struct {
	pool *models.Pool
}

func LedgerFor(pool *models.Pool) *CommitmentLedger {
	return &CommitmentLedger{pool: pool}
}

// Commit adds an active participation for shopID.
func (l *CommitmentLedger) Commit(shopID uuid.UUID, quantity decimal.Decimal, at time.Time) (models.PoolParticipant, error) {
	if !quantity.IsPositive() {
		return models.PoolParticipant{}, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be greater than zero")
	}
	if _, ok := l.find(shopID); ok {
		return models.PoolParticipant{}, errDuplicateParticipant(shopID)
	}
	participant := models.PoolParticipant{
		ID:                uuid.New(),
		PoolID:            l.pool.ID,
		ShopID:            shopID,
		CommittedQuantity: quantity,
		JoinedAt:          at,
	}
	l.pool.Participants = append(l.pool.Participants, participant)
	l.recompute()
	return participant, nil
}

// Withdraw marks the active participation for shopID as withdrawn.
func (l *CommitmentLedger) Withdraw(shopID uuid.UUID, at time.Time) (models.PoolParticipant, error) {
	idx, ok := l.find(shopID)
	if !ok {
		return models.PoolParticipant{}, errParticipantNotFound(shopID)
	}
	withdrawnAt := at
	l.pool.Participants[idx].WithdrawnAt = &withdrawnAt
	l.recompute()
	return l.pool.Participants[idx], nil
}

// WithdrawAll clears every active commitment and returns the withdrawn rows.
func (l *CommitmentLedger) WithdrawAll(at time.Time) []models.PoolParticipant {
	withdrawn := make([]models.PoolParticipant, 0)
	for i := range l.pool.Participants {
		if !l.pool.Participants[i].IsActive() {
			continue
		}
		withdrawnAt := at
		l.pool.Participants[i].WithdrawnAt = &withdrawnAt
		withdrawn = append(withdrawn, l.pool.Participants[i])
	}
	l.recompute()
	return withdrawn
}

// Has reports whether shopID holds an active participation.
func (l *CommitmentLedger) Has(shopID uuid.UUID) bool {
	_, ok := l.find(shopID)
	return ok
}

func (l *CommitmentLedger) Active() []models.PoolParticipant {
	return l.pool.ActiveParticipants()
}

func (l *CommitmentLedger) ActiveCount() int {
	count := 0
	for _, participant := range l.pool.Participants {
		if participant.IsActive() {
			count++
		}
	}
	return count
}

func (l *CommitmentLedger) Total() decimal.Decimal {
	total := decimal.Zero
	for _, participant := range l.pool.Participants {
		if participant.IsActive() {
			total = total.Add(participant.CommittedQuantity)
		}
	}
	return total
}

// Verify checks the stored commitment and the one-active-row-per-shop rule.
func (l *CommitmentLedger) Verify() error {
	seen := make(map[uuid.UUID]struct{})
	for _, participant := range l.pool.Participants {
		if !participant.IsActive() {
			continue
		}
		if _, dup := seen[participant.ShopID]; dup {
			return fmt.Errorf("pool %s has more than one active participation for shop %s", l.pool.ID, participant.ShopID)
		}
		seen[participant.ShopID] = struct{}{}
	}
	if total := l.Total(); !total.Equal(l.pool.CurrentCommitment) {
		return fmt.Errorf("pool %s commitment %s does not match participant total %s", l.pool.ID, l.pool.CurrentCommitment, total)
	}
	return nil
}

// AllocationInput returns the active participants in join order.
func (l *CommitmentLedger) AllocationInput() []allocation.Participant {
	active := l.Active()
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].JoinedAt.Before(active[j].JoinedAt)
	})
	out := make([]allocation.Participant, 0, len(active))
	for _, participant := range active {
		out = append(out, allocation.Participant{
			ShopID:   participant.ShopID,
			Quantity: participant.CommittedQuantity,
			JoinedAt: participant.JoinedAt,
		})
	}
	return out
}

// ApplyShares copies confirmed cost shares onto the matching active participants.
func (l *CommitmentLedger) ApplyShares(shares []allocation.Share) {
	byShop := make(map[uuid.UUID]allocation.Share, len(shares))
	for _, share := range shares {
		byShop[share.ShopID] = share
	}
	for i := range l.pool.Participants {
		participant := &l.pool.Participants[i]
		share, ok := byShop[participant.ShopID]
		if !ok || !participant.IsActive() {
			continue
		}
		participant.GoodsCents = share.GoodsCents
		participant.ShippingCents = share.ShippingCents
		participant.CostShareCents = share.CostShareCents
		participant.SavingsCents = share.SavingsCents
	}
}

func (l *CommitmentLedger) find(shopID uuid.UUID) (int, bool) {
	for i, participant := range l.pool.Participants {
		if participant.ShopID == shopID && participant.IsActive() {
			return i, true
		}
	}
	return -1, false
}

func (l *CommitmentLedger) recompute() {
	l.pool.CurrentCommitment = l.Total()
}
