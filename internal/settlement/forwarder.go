package settlement

import (
	"context"
	"fmt"

	"github.com/angelmondragon/packfinderz-pools/pkg/logger"
)

// Posting is the immutable total handed to the external general ledger.
type Posting struct {
	Reference           Reference
	TotalDueCents       int64
	TotalCollectedCents int64
}

// Poster hands settled totals to the general ledger. Implementations must be idempotent
// per reference.
type Poster interface {
	PostSettlement(ctx context.Context, posting Posting) error
}

// Forwarder posts a reference's totals once every record is settled.
type Forwarder struct {
	poster Poster
	logg   *logger.Logger
}

func NewForwarder(poster Poster, logg *logger.Logger) (*Forwarder, error) {
	if poster == nil {
		return nil, fmt.Errorf("settlement poster required")
	}
	return &Forwarder{poster: poster, logg: logg}, nil
}

func (f *Forwarder) Forward(ctx context.Context, snapshot Snapshot) error {
	if !snapshot.FullySettled {
		return nil
	}
	if f.logg != nil {
		ctx = f.logg.WithFields(ctx, map[string]any{
			"reference":             snapshot.Reference.String(),
			"total_due_cents":       snapshot.TotalDueCents,
			"total_collected_cents": snapshot.TotalCollectedCents,
		})
		f.logg.Info(ctx, "settlement.forward")
	}
	return f.poster.PostSettlement(ctx, Posting{
		Reference:           snapshot.Reference,
		TotalDueCents:       snapshot.TotalDueCents,
		TotalCollectedCents: snapshot.TotalCollectedCents,
	})
}
