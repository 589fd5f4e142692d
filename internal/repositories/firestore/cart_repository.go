package firestore

import (
	"context"
	"errors"
	"strings"

	pfirestore "github.com/ratnakart/api/internal/platform/firestore"
)

const cartsCollection = "carts"

// CartRepository clears buyer carts after successful checkout or payment.
// Cart contents are written by the storefront; this service only empties
// them, so a missing cart is not an error.
type CartRepository struct {
	base *pfirestore.BaseRepository[map[string]any]
}

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[map[string]any](provider, cartsCollection, pfirestore.MapEncoder[map[string]any](), pfirestore.MapDecoder())
	return &CartRepository{base: base}, nil
}

// Clear removes the buyer's cart document.
func (r *CartRepository) Clear(ctx context.Context, userID string) error {
	if r == nil || r.base == nil {
		return errors.New("cart repository not initialised")
	}
	id := strings.TrimSpace(userID)
	if id == "" {
		return errors.New("cart repository: user id is required")
	}
	ref, err := r.base.DocumentRef(ctx, id)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil {
		wrapped := pfirestore.WrapError("carts.clear", err)
		var repoErr interface{ IsNotFound() bool }
		if errors.As(wrapped, &repoErr) && repoErr.IsNotFound() {
			return nil
		}
		return wrapped
	}
	return nil
}
