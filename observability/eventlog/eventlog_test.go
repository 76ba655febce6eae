package eventlog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"voucherchain/core/types"
)

type testEvent struct {
	evt *types.Event
}

func (e testEvent) EventType() string   { return e.evt.Type }
func (e testEvent) Event() *types.Event { return e.evt }

type bareEvent string

func (e bareEvent) EventType() string { return string(e) }

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	store, err := Open(dsn, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func emit(store *Store, eventType string, attrs map[string]string) {
	store.Emit(testEvent{evt: &types.Event{Type: eventType, Attributes: attrs}})
}

func TestStoreAppendAndQuery(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	emit(store, "voucher.committed", map[string]string{"id": "aa", "holder": "vch1buyer"})
	emit(store, "voucher.redeemed", map[string]string{"id": "aa"})
	emit(store, "escrow.withdrawn", map[string]string{"party": "vch1seller", "amount": "5"})
	store.Emit(bareEvent("system.paused"))

	all, err := store.Query(ctx, Filter{})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].Sequence <= all[i-1].Sequence {
			t.Fatalf("entries out of order: %d after %d", all[i].Sequence, all[i-1].Sequence)
		}
	}

	byVoucher, err := store.Query(ctx, Filter{Subject: "aa"})
	if err != nil {
		t.Fatalf("query subject: %v", err)
	}
	if len(byVoucher) != 2 || byVoucher[1].Type != "voucher.redeemed" {
		t.Fatalf("unexpected voucher history: %+v", byVoucher)
	}

	withdrawals, err := store.Query(ctx, Filter{Type: "escrow.withdrawn"})
	if err != nil {
		t.Fatalf("query type: %v", err)
	}
	if len(withdrawals) != 1 || withdrawals[0].Subject != "vch1seller" {
		t.Fatalf("unexpected withdrawals: %+v", withdrawals)
	}
	attrs, err := withdrawals[0].Attributes()
	if err != nil || attrs["amount"] != "5" {
		t.Fatalf("unexpected attributes %v (%v)", attrs, err)
	}

	after, err := store.Query(ctx, Filter{After: all[1].Sequence, Limit: 1})
	if err != nil {
		t.Fatalf("query after: %v", err)
	}
	if len(after) != 1 || after[0].Sequence != all[2].Sequence {
		t.Fatalf("unexpected page: %+v", after)
	}
}

func TestStoreVerifyDetectsTampering(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	emit(store, "escrow.distributed", map[string]string{"id": "bb", "buyerAmount": "10"})
	if err := store.Verify(ctx, Filter{}); err != nil {
		t.Fatalf("verify clean log: %v", err)
	}
	if err := store.DB().Model(&Entry{}).Where("subject = ?", "bb").
		Update("payload", `{"buyerAmount":"1000","id":"bb"}`).Error; err != nil {
		t.Fatalf("tamper: %v", err)
	}
	if err := store.Verify(ctx, Filter{}); !errors.Is(err, ErrDigestMismatch) {
		t.Fatalf("expected digest mismatch, got %v", err)
	}
}

func TestExportParquet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		emit(store, "voucher.finalized", map[string]string{"id": fmt.Sprintf("%02x", i)})
	}
	path := filepath.Join(t.TempDir(), "events.parquet")
	n, err := store.ExportParquet(ctx, path, Filter{Type: "voucher.finalized"})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 rows, got %d", n)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("PAR1")) || !bytes.HasSuffix(data, []byte("PAR1")) {
		t.Fatalf("export is not a parquet file")
	}
}
