package workflow_test

import (
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mmdatafocus/supplymap_backend/config"
	"github.com/mmdatafocus/supplymap_backend/workflow"
	"gorm.io/gorm"
)

// concurrentHolders runs two lock holders for the same site and returns the
// highest number seen inside the lock at once.
func concurrentHolders(t *testing.T, siteCode string) int32 {
	t.Helper()
	var inside, maxInside int32
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = workflow.WithSiteFeedLock(config.GetDB(), siteCode, func(tx *gorm.DB) error {
				n := atomic.AddInt32(&inside, 1)
				for {
					m := atomic.LoadInt32(&maxInside)
					if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
						break
					}
				}
				// hold the lock inside a real statement so the transaction is open
				if err := tx.Exec("SELECT 1").Error; err != nil {
					return err
				}
				time.Sleep(300 * time.Millisecond)
				atomic.AddInt32(&inside, -1)
				return nil
			})
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			t.Fatalf("WithSiteFeedLock: %v", err)
		}
	}
	return maxInside
}

func TestWithSiteFeedLock_SerializesSite_Integration(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	t.Run("mysql", func(t *testing.T) {
		startIntegrationDB(t)
		if got := concurrentHolders(t, "OB-01"); got != 1 {
			t.Fatalf("expected one holder at a time, saw %d", got)
		}
	})
	t.Run("postgres", func(t *testing.T) {
		startIntegrationPostgres(t)
		if got := concurrentHolders(t, "OB-01"); got != 1 {
			t.Fatalf("expected one holder at a time, saw %d", got)
		}
	})
}
