package scheduler_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dshills/daer/scheduler"
	"github.com/stretchr/testify/require"
)

func TestRecoverySweeper_SweepsDeadWorkerOnSchedule(t *testing.T) {
	ctx := context.Background()
	q := scheduler.NewMemQueue(10 * time.Millisecond)
	require.NoError(t, q.Enqueue(ctx, scheduler.Job{ID: "j1", ExecutionID: "exec-1"}))
	_, err := q.Claim(ctx, "w1")
	require.NoError(t, err)

	var mu sync.Mutex
	var swept []scheduler.Job
	sweeper := scheduler.NewRecoverySweeper(q, func(jobs []scheduler.Job) {
		mu.Lock()
		defer mu.Unlock()
		swept = append(swept, jobs...)
	})

	require.NoError(t, sweeper.Start(ctx, "@every 20ms"))
	defer sweeper.Stop()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(swept) == 1
	}, time.Second, 10*time.Millisecond)
}
