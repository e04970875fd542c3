package action

import (
	"context"
	"sync"

	"github.com/axondata/desd"
)

// BulkDispatch issues actionName against every named service concurrently,
// bounded by concurrency, and aggregates any per-service failures into a
// single *desd.MultiError. Adapted from the teacher's Manager.execute
// (manager.go): a semaphore plus WaitGroup rather than an unbounded
// goroutine-per-service fan-out, since a large declared service set could
// otherwise open far more spawner directives at once than the connection's
// outbox can usefully pipeline.
func BulkDispatch(ctx context.Context, exec *Executor, services []string, actionName string, concurrency int) error {
	if len(services) == 0 {
		return nil
	}
	if concurrency < 1 {
		concurrency = 1
	}

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	merr := &desd.MultiError{}

	for _, svc := range services {
		wg.Add(1)
		go func(service string) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				mu.Lock()
				merr.Add(ctx.Err())
				mu.Unlock()
				return
			}

			ch, err := exec.Enqueue(ctx, service, actionName)
			if err != nil {
				mu.Lock()
				merr.Add(&desd.OpError{Op: desd.OpDispatch, Target: service, Err: err})
				mu.Unlock()
				return
			}

			select {
			case res := <-ch:
				if res.Err != nil {
					mu.Lock()
					merr.Add(&desd.OpError{Op: desd.OpDispatch, Target: service, Err: res.Err})
					mu.Unlock()
				}
			case <-ctx.Done():
				mu.Lock()
				merr.Add(ctx.Err())
				mu.Unlock()
			}
		}(svc)
	}

	wg.Wait()
	return merr.Err()
}
