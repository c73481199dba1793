//go:build integration

package natskv_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xraph/salvage/kv"
	"github.com/xraph/salvage/kv/natskv"
)

// setupTestStore starts a JetStream-enabled NATS container and returns a
// Store on a fresh bucket. The returned clock pointer drives expiry.
func setupTestStore(t *testing.T) (*natskv.Store, *time.Time) {
	t.Helper()

	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "nats:2.10-alpine",
			Cmd:          []string{"--port", "4222", "--js"},
			ExposedPorts: []string{"4222/tcp"},
			WaitingFor:   wait.ForListeningPort("4222/tcp").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start nats container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "4222")
	if err != nil {
		t.Fatalf("mapped port: %v", err)
	}

	nc, err := nats.Connect(fmt.Sprintf("nats://%s:%s", host, port.Port()))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(nc.Close)

	js, err := jetstream.New(nc)
	if err != nil {
		t.Fatalf("jetstream: %v", err)
	}

	now := time.Now()
	store, err := natskv.New(ctx, js, "salvage_test", time.Hour,
		natskv.WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store, &now
}

func TestStoreGetSetExpiry(t *testing.T) {
	s, now := setupTestStore(t)
	ctx := context.Background()

	if _, err := s.Get(ctx, "ns:missing"); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("Get missing: got %v, want ErrNotFound", err)
	}
	if err := s.Set(ctx, "ns:dlq:a", []byte("payload"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := s.Get(ctx, "ns:dlq:a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "payload" {
		t.Fatalf("Get = %q, want payload", got)
	}

	*now = now.Add(2 * time.Minute)
	if _, err := s.Get(ctx, "ns:dlq:a"); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("Get expired: got %v, want ErrNotFound", err)
	}
}

func TestStoreSetNXTakesOverExpired(t *testing.T) {
	s, now := setupTestStore(t)
	ctx := context.Background()

	ok, err := s.SetNX(ctx, "ns:lock", []byte("a"), time.Second)
	if err != nil || !ok {
		t.Fatalf("first SetNX = %v, %v; want true", ok, err)
	}
	ok, err = s.SetNX(ctx, "ns:lock", []byte("b"), time.Second)
	if err != nil || ok {
		t.Fatalf("held SetNX = %v, %v; want false", ok, err)
	}

	*now = now.Add(2 * time.Second)
	ok, err = s.SetNX(ctx, "ns:lock", []byte("b"), time.Second)
	if err != nil || !ok {
		t.Fatalf("expired SetNX = %v, %v; want true", ok, err)
	}
}

func TestStoreCompareAndDelete(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	if _, err := s.SetNX(ctx, "ns:lock", []byte("owner"), time.Minute); err != nil {
		t.Fatalf("SetNX: %v", err)
	}
	if ok, _ := s.CompareAndDelete(ctx, "ns:lock", []byte("other")); ok {
		t.Fatal("CompareAndDelete with wrong token succeeded")
	}
	if ok, err := s.CompareAndDelete(ctx, "ns:lock", []byte("owner")); err != nil || !ok {
		t.Fatalf("CompareAndDelete = %v, %v; want true", ok, err)
	}
	if ok, err := s.SetNX(ctx, "ns:lock", []byte("next"), time.Minute); err != nil || !ok {
		t.Fatalf("SetNX after release = %v, %v; want true", ok, err)
	}
}

func TestStoreSetNXSingleWinner(t *testing.T) {
	s, _ := setupTestStore(t)
	ctx := context.Background()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.SetNX(ctx, "ns:race", []byte(fmt.Sprint(i)), time.Minute)
			if err != nil {
				t.Errorf("SetNX: %v", err)
				return
			}
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Fatalf("wins = %d, want 1", wins)
	}
}

func TestStoreDeleteAndExpire(t *testing.T) {
	s, now := setupTestStore(t)
	ctx := context.Background()

	if err := s.Delete(ctx, "ns:never"); err != nil {
		t.Fatalf("Delete missing: %v", err)
	}
	if err := s.Set(ctx, "ns:k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Expire(ctx, "ns:k", time.Hour); err != nil {
		t.Fatalf("Expire: %v", err)
	}
	*now = now.Add(10 * time.Minute)
	if _, err := s.Get(ctx, "ns:k"); err != nil {
		t.Fatalf("Get after extended expiry: %v", err)
	}
	if err := s.Delete(ctx, "ns:k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "ns:k"); !errors.Is(err, kv.ErrNotFound) {
		t.Fatalf("Get deleted: got %v", err)
	}
}
