package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/ratnakart/api/internal/domain"
	pfirestore "github.com/ratnakart/api/internal/platform/firestore"
	"github.com/ratnakart/api/internal/repositories"
)

const gemsCollection = "gems"

type gemDocument struct {
	SellerID          string    `firestore:"sellerId"`
	Name              string    `firestore:"name"`
	Category          string    `firestore:"category"`
	ImageURL          string    `firestore:"imageUrl,omitempty"`
	Price             float64   `firestore:"price"`
	AvailableQuantity int64     `firestore:"availableQuantity"`
	SoldQuantity      int64     `firestore:"soldQuantity"`
	Active            bool      `firestore:"active"`
	UpdatedAt         time.Time `firestore:"updatedAt"`
}

func (d gemDocument) toDomain(id string) domain.Gem {
	return domain.Gem{
		ID:                id,
		SellerID:          d.SellerID,
		Name:              d.Name,
		Category:          domain.GemCategory(d.Category),
		ImageURL:          d.ImageURL,
		Price:             d.Price,
		AvailableQuantity: d.AvailableQuantity,
		SoldQuantity:      d.SoldQuantity,
		Active:            d.Active,
		UpdatedAt:         d.UpdatedAt,
	}
}

// GemRepository implements repositories.GemRepository on Firestore. Stock
// movements run inside transactions so concurrent checkouts cannot oversell.
type GemRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[gemDocument]
	now      func() time.Time
}

// NewGemRepository constructs a Firestore-backed gem repository.
func NewGemRepository(provider *pfirestore.Provider) (*GemRepository, error) {
	if provider == nil {
		return nil, errors.New("gem repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[gemDocument](provider, gemsCollection, nil, nil)
	return &GemRepository{
		provider: provider,
		base:     base,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// Get loads a gem by ID.
func (r *GemRepository) Get(ctx context.Context, gemID string) (domain.Gem, error) {
	if r == nil || r.base == nil {
		return domain.Gem{}, errors.New("gem repository not initialised")
	}
	id := strings.TrimSpace(gemID)
	if id == "" {
		return domain.Gem{}, repositories.NewInventoryError(repositories.InventoryErrorGemNotFound, "gem id is required", nil)
	}
	doc, err := r.base.Get(ctx, id)
	if err != nil {
		return domain.Gem{}, wrapGemError("gems.get", id, err)
	}
	return doc.Data.toDomain(doc.ID), nil
}

// ReserveAndDebit atomically moves qty units from available to sold stock.
// The transaction re-reads current availability, so the check and the write
// cannot interleave with a competing debit.
func (r *GemRepository) ReserveAndDebit(ctx context.Context, gemID string, qty int64) error {
	if r == nil || r.provider == nil {
		return errors.New("gem repository not initialised")
	}
	id := strings.TrimSpace(gemID)
	if id == "" {
		return repositories.NewInventoryError(repositories.InventoryErrorGemNotFound, "gem id is required", nil)
	}
	if qty <= 0 {
		return repositories.NewInventoryError(repositories.InventoryErrorUnknown, fmt.Sprintf("quantity must be positive, got %d", qty), nil)
	}

	now := r.now()
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, id)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var doc gemDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("firestore gems decode %s: %w", id, err)
		}
		if doc.AvailableQuantity < qty {
			return repositories.NewInventoryError(
				repositories.InventoryErrorInsufficientStock,
				fmt.Sprintf("gem %s has %d units, requested %d", id, doc.AvailableQuantity, qty),
				nil,
			)
		}
		return tx.Update(ref, []firestore.Update{
			{Path: "availableQuantity", Value: doc.AvailableQuantity - qty},
			{Path: "soldQuantity", Value: doc.SoldQuantity + qty},
			{Path: "updatedAt", Value: now},
		})
	})
	if err != nil {
		return wrapGemError("gems.reserve_and_debit", id, err)
	}
	return nil
}

// Restore returns qty units to available stock. Sold stock is reduced but
// never below zero. Restoring a missing gem is a no-op so that cancellations
// always succeed.
func (r *GemRepository) Restore(ctx context.Context, gemID string, qty int64) error {
	if r == nil || r.provider == nil {
		return errors.New("gem repository not initialised")
	}
	id := strings.TrimSpace(gemID)
	if id == "" || qty <= 0 {
		return nil
	}

	now := r.now()
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.base.DocumentRef(ctx, id)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var doc gemDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("firestore gems decode %s: %w", id, err)
		}
		sold := doc.SoldQuantity - qty
		if sold < 0 {
			sold = 0
		}
		return tx.Update(ref, []firestore.Update{
			{Path: "availableQuantity", Value: doc.AvailableQuantity + qty},
			{Path: "soldQuantity", Value: sold},
			{Path: "updatedAt", Value: now},
		})
	})
	if err != nil {
		var repoErr repositories.RepositoryError
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return nil
		}
		return wrapGemError("gems.restore", id, err)
	}
	return nil
}

func wrapGemError(op, gemID string, err error) error {
	if err == nil {
		return nil
	}
	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		if invErr.Op == "" {
			invErr.Op = op
		}
		return invErr
	}
	wrapped := pfirestore.WrapError(op, err)
	var repoErr repositories.RepositoryError
	if errors.As(wrapped, &repoErr) && repoErr.IsNotFound() {
		return repositories.NewInventoryError(repositories.InventoryErrorGemNotFound, fmt.Sprintf("gem %s not found", gemID), wrapped)
	}
	return wrapped
}
