//go:build integration

package firestore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ratnakart/api/internal/repositories"
)

func seedGem(t *testing.T, repo *GemRepository, ctx context.Context, id string, available, sold int64) {
	t.Helper()
	ref, err := repo.base.DocumentRef(ctx, id)
	if err != nil {
		t.Fatalf("document ref: %v", err)
	}
	_, err = ref.Set(ctx, gemDocument{
		SellerID:          "seller_1",
		Name:              "Ceylon Sapphire",
		Category:          "cut_polished",
		Price:             25000,
		AvailableQuantity: available,
		SoldQuantity:      sold,
		Active:            true,
		UpdatedAt:         time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed gem: %v", err)
	}
}

func TestGemRepositoryIntegration(t *testing.T) {
	provider := newEmulatorProvider(t, "gem-test")

	repo, err := NewGemRepository(provider)
	if err != nil {
		t.Fatalf("new gem repository: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	t.Run("concurrent debit of last unit", func(t *testing.T) {
		seedGem(t, repo, ctx, "gem_last", 1, 0)

		const workers = 8
		var wg sync.WaitGroup
		wg.Add(workers)
		successes := make(chan struct{}, workers)
		for i := 0; i < workers; i++ {
			go func() {
				defer wg.Done()
				err := repo.ReserveAndDebit(ctx, "gem_last", 1)
				if err == nil {
					successes <- struct{}{}
					return
				}
				var invErr *repositories.InventoryError
				if !errors.As(err, &invErr) || invErr.Code != repositories.InventoryErrorInsufficientStock {
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()
		close(successes)

		won := 0
		for range successes {
			won++
		}
		if won != 1 {
			t.Fatalf("expected exactly one winning debit, got %d", won)
		}

		gem, err := repo.Get(ctx, "gem_last")
		if err != nil {
			t.Fatalf("get gem: %v", err)
		}
		if gem.AvailableQuantity != 0 || gem.SoldQuantity != 1 {
			t.Fatalf("stock after race = available %d sold %d", gem.AvailableQuantity, gem.SoldQuantity)
		}
	})

	t.Run("restore clamps sold at zero", func(t *testing.T) {
		seedGem(t, repo, ctx, "gem_restore", 2, 1)

		if err := repo.Restore(ctx, "gem_restore", 5); err != nil {
			t.Fatalf("restore: %v", err)
		}
		gem, err := repo.Get(ctx, "gem_restore")
		if err != nil {
			t.Fatalf("get gem: %v", err)
		}
		if gem.AvailableQuantity != 7 {
			t.Fatalf("available = %d, want 7", gem.AvailableQuantity)
		}
		if gem.SoldQuantity != 0 {
			t.Fatalf("sold = %d, want clamped 0", gem.SoldQuantity)
		}
	})

	t.Run("restore of missing gem is a no-op", func(t *testing.T) {
		if err := repo.Restore(ctx, "gem_missing", 1); err != nil {
			t.Fatalf("restore missing gem: %v", err)
		}
	})

	t.Run("debit more than available fails without partial write", func(t *testing.T) {
		seedGem(t, repo, ctx, "gem_partial", 3, 0)

		err := repo.ReserveAndDebit(ctx, "gem_partial", 4)
		var invErr *repositories.InventoryError
		if !errors.As(err, &invErr) || invErr.Code != repositories.InventoryErrorInsufficientStock {
			t.Fatalf("expected insufficient stock, got %v", err)
		}
		gem, err := repo.Get(ctx, "gem_partial")
		if err != nil {
			t.Fatalf("get gem: %v", err)
		}
		if gem.AvailableQuantity != 3 || gem.SoldQuantity != 0 {
			t.Fatalf("stock mutated on failed debit: available %d sold %d", gem.AvailableQuantity, gem.SoldQuantity)
		}
	})
}
