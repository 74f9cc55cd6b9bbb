package shutdown

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManager_RunsStagesInOrder(t *testing.T) {
	m := NewManager()
	var (
		mu    sync.Mutex
		order []string
	)
	record := func(name string) Handler {
		return func(context.Context) error {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
			return nil
		}
	}
	m.OnShutdown("store", StageStorage, record("store"))
	m.OnShutdown("http", StageIngress, record("http"))
	m.OnShutdown("supervisor", StageWorkers, func(ctx context.Context) error {
		_ = record("supervisor")(ctx)
		return errors.New("ignored")
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	m.Shutdown(ctx)
	m.Shutdown(ctx)

	assert.Equal(t, []string{"http", "supervisor", "store"}, order)
}

func TestManager_StopsAfterTimeout(t *testing.T) {
	m := NewManager()
	ran := make(chan struct{}, 1)
	m.OnShutdown("slow", StageIngress, func(ctx context.Context) error {
		<-ctx.Done()
		time.Sleep(50 * time.Millisecond)
		return ctx.Err()
	})
	m.OnShutdown("later", StageStorage, func(context.Context) error {
		ran <- struct{}{}
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	m.Shutdown(ctx)

	select {
	case <-ran:
		t.Fatal("later stage ran after timeout")
	default:
	}
}
