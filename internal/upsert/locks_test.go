package upsert

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/dealpool/ingest/internal/platform/models"
	"github.com/dealpool/ingest/internal/platform/models/modelstesting"
	"github.com/dealpool/ingest/internal/platform/storage/storagetesting"
	"github.com/stretchr/testify/assert"
)

func TestUnitLockTableDrainsAfterUpserts(t *testing.T) {
	t.Parallel()

	store := storagetesting.NewMemory()
	ups := New(store)

	// contended and uncontended keys mixed.
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		externalID := fmt.Sprintf("P%d", i)
		for j := 0; j < 3; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()

				candidate := modelstesting.FakeDeal(func(d *models.Deal) {
					d.ShopID = 1
					d.ExternalID = externalID
				})
				_, err := ups.Upsert(context.TODO(), &candidate)
				assert.NoError(t, err, "shouldn't return any error")
			}()
		}
	}
	wg.Wait()

	ups.mu.Lock()
	defer ups.mu.Unlock()
	assert.Empty(t, ups.locks, "finished upserts should leave no lock entries behind")
}
