package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"voucherchain/native/system"
	"voucherchain/native/voucher"
)

func TestSubscribeEventsBacklogAndLive(t *testing.T) {
	tn := newTestNode(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tn.createSet(t, 1)
	updates, stop, backlog, err := tn.SubscribeEvents(ctx, "")
	require.NoError(t, err)
	defer stop()

	require.NotEmpty(t, backlog)
	var sawCreate bool
	for _, update := range backlog {
		if update.Type == voucher.EventTypeSetCreated {
			sawCreate = true
			require.NotEmpty(t, update.Attributes["setId"])
		}
	}
	require.True(t, sawCreate)

	require.NoError(t, tn.Pause(context.Background(), owner))
	select {
	case update := <-updates:
		require.Equal(t, system.EventTypePaused, update.Type)
		require.Equal(t, backlog[len(backlog)-1].Sequence+1, update.Sequence)
		require.Equal(t, tn.now, update.Timestamp)
	case <-time.After(time.Second):
		t.Fatalf("expected live update")
	}

	_, _, resumed, err := tn.SubscribeEvents(ctx, backlog[len(backlog)-1].Cursor)
	require.NoError(t, err)
	require.Len(t, resumed, 1)
}

func TestSubscribeEventsCancelClosesChannel(t *testing.T) {
	tn := newTestNode(t)
	updates, stop, _, err := tn.SubscribeEvents(context.Background(), "")
	require.NoError(t, err)
	stop()
	stop()
	_, open := <-updates
	require.False(t, open)
	require.NoError(t, tn.Pause(context.Background(), owner))
}
