package memory_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	"github.com/vladislavdragonenkov/orders/internal/storage/memory"
)

type manualClock struct {
	now time.Time
}

func (c *manualClock) Now() time.Time { return c.now }

func (c *manualClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newIdempotencyRepo() (*memory.IdempotencyRepository, *manualClock) {
	clock := &manualClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	return memory.NewIdempotencyRepository(memory.WithIdempotencyClock(clock.Now)), clock
}

func TestIdempotencyRepository_ReplaysCreateOrderResponse(t *testing.T) {
	ctx := context.Background()
	repo, clock := newIdempotencyRepo()

	created, err := repo.CreateProcessing(ctx, " create-order-1 ", "hash-create", clock.now.Add(time.Hour))
	if err != nil {
		t.Fatalf("CreateProcessing failed: %v", err)
	}
	if created.Key != "create-order-1" || created.Status != domain.IdempotencyStatusProcessing {
		t.Fatalf("unexpected record: %+v", created)
	}

	body := []byte(`{"order":{"id":"order-1","status":"PENDING","totalItems":2}}`)
	if err := repo.MarkDone(ctx, "create-order-1", body, 0); err != nil {
		t.Fatalf("MarkDone failed: %v", err)
	}
	body[0] = 'x'

	got, err := repo.Get(ctx, "create-order-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != domain.IdempotencyStatusDone {
		t.Fatalf("expected status %s, got %s", domain.IdempotencyStatusDone, got.Status)
	}
	if string(got.ResponseBody) != `{"order":{"id":"order-1","status":"PENDING","totalItems":2}}` {
		t.Fatalf("stored response must not alias the caller buffer, got %s", got.ResponseBody)
	}
}

func TestIdempotencyRepository_DuplicateChangeStatusRequest(t *testing.T) {
	ctx := context.Background()
	repo, clock := newIdempotencyRepo()
	ttl := clock.now.Add(time.Hour)

	if _, err := repo.CreateProcessing(ctx, "pay-order-1", "hash-paid", ttl); err != nil {
		t.Fatalf("CreateProcessing failed: %v", err)
	}
	if _, err := repo.CreateProcessing(ctx, "pay-order-1", "hash-paid", ttl); !errors.Is(err, domain.ErrIdempotencyKeyAlreadyExists) {
		t.Fatalf("expected ErrIdempotencyKeyAlreadyExists, got %v", err)
	}
	if _, err := repo.CreateProcessing(ctx, "pay-order-1", "hash-cancelled", ttl); !errors.Is(err, domain.ErrIdempotencyHashMismatch) {
		t.Fatalf("expected ErrIdempotencyHashMismatch, got %v", err)
	}

	if err := repo.MarkFailed(ctx, "pay-order-1", []byte(`{"code":9}`), 9); err != nil {
		t.Fatalf("MarkFailed failed: %v", err)
	}
	failed, err := repo.Get(ctx, "pay-order-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if failed.Status != domain.IdempotencyStatusFailed || failed.HTTPStatus != 9 {
		t.Fatalf("unexpected failed record: %+v", failed)
	}
}

func TestIdempotencyRepository_RejectsBlankInput(t *testing.T) {
	ctx := context.Background()
	repo, clock := newIdempotencyRepo()

	if _, err := repo.CreateProcessing(ctx, "  ", "hash", clock.now); !errors.Is(err, domain.ErrIdempotencyKeyRequired) {
		t.Fatalf("expected ErrIdempotencyKeyRequired, got %v", err)
	}
	if _, err := repo.CreateProcessing(ctx, "key", " ", clock.now); !errors.Is(err, domain.ErrIdempotencyRequestHashRequired) {
		t.Fatalf("expected ErrIdempotencyRequestHashRequired, got %v", err)
	}
	if err := repo.MarkDone(ctx, "unknown", nil, 0); !errors.Is(err, domain.ErrIdempotencyKeyNotFound) {
		t.Fatalf("expected ErrIdempotencyKeyNotFound, got %v", err)
	}
}

func TestIdempotencyRepository_ZeroTTLUsesDefault(t *testing.T) {
	ctx := context.Background()
	repo, clock := newIdempotencyRepo()

	record, err := repo.CreateProcessing(ctx, "key", "hash", time.Time{})
	if err != nil {
		t.Fatalf("CreateProcessing failed: %v", err)
	}
	if want := clock.now.Add(24 * time.Hour); !record.TTLAt.Equal(want) {
		t.Fatalf("expected ttl %s, got %s", want, record.TTLAt)
	}
}

func TestIdempotencyRepository_ExpiredKeyIsReusable(t *testing.T) {
	ctx := context.Background()
	repo, clock := newIdempotencyRepo()

	if _, err := repo.CreateProcessing(ctx, "create-order-2", "hash-a", clock.now.Add(time.Minute)); err != nil {
		t.Fatalf("CreateProcessing failed: %v", err)
	}
	clock.Advance(time.Minute)

	if _, err := repo.Get(ctx, "create-order-2"); !errors.Is(err, domain.ErrIdempotencyKeyNotFound) {
		t.Fatalf("expected expired key to be invisible, got %v", err)
	}
	created, err := repo.CreateProcessing(ctx, "create-order-2", "hash-b", clock.now.Add(time.Hour))
	if err != nil {
		t.Fatalf("expected expired key to be reusable, got %v", err)
	}
	if created.RequestHash != "hash-b" {
		t.Fatalf("expected new request hash, got %s", created.RequestHash)
	}
}

func TestIdempotencyRepository_DeleteExpiredOldestFirst(t *testing.T) {
	ctx := context.Background()
	repo, clock := newIdempotencyRepo()
	start := clock.now

	ttls := map[string]time.Duration{
		"third":  3 * time.Minute,
		"first":  time.Minute,
		"second": 2 * time.Minute,
		"active": time.Hour,
	}
	for key, ttl := range ttls {
		if _, err := repo.CreateProcessing(ctx, key, "hash-"+key, start.Add(ttl)); err != nil {
			t.Fatalf("CreateProcessing %s failed: %v", key, err)
		}
	}

	clock.Advance(10 * time.Minute)
	removed, err := repo.DeleteExpired(ctx, clock.now, 2)
	if err != nil {
		t.Fatalf("DeleteExpired failed: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected removed=2, got %d", removed)
	}

	// first и second уже удалены, third истекает позже start+2m.
	removed, err = repo.DeleteExpired(ctx, start.Add(2*time.Minute), 0)
	if err != nil {
		t.Fatalf("DeleteExpired failed: %v", err)
	}
	if removed != 0 {
		t.Fatalf("expected oldest keys to go first, removed=%d", removed)
	}

	removed, err = repo.DeleteExpired(ctx, time.Time{}, 0)
	if err != nil {
		t.Fatalf("DeleteExpired failed: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected removed=1 on last pass, got %d", removed)
	}
	if _, err := repo.Get(ctx, "active"); err != nil {
		t.Fatalf("active key must survive cleanup: %v", err)
	}
}
