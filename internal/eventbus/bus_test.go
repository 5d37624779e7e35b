package eventbus

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPublishFiltersByKind(t *testing.T) {
	t.Parallel()
	b := New()
	all, unsubAll := b.Subscribe(4)
	defer unsubAll()
	fails, unsubFails := b.Subscribe(4, PostFailed)
	defer unsubFails()

	b.Publish(Event{Kind: PostStarted})
	b.Publish(Event{Kind: PostFailed, Data: PostInfo{CaptionID: "post1"}})

	require.Len(t, all, 2)
	require.Len(t, fails, 1)
	e := <-fails
	require.Equal(t, PostFailed, e.Kind)
	require.False(t, e.Time.IsZero())
	require.Equal(t, "post1", e.Data.(PostInfo).CaptionID)
}

func TestPublishDropsWhenFull(t *testing.T) {
	t.Parallel()
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Kind: PostStarted})
	b.Publish(Event{Kind: PostStarted})
	b.Publish(Event{Kind: PostStarted})
	require.Equal(t, uint64(2), b.Dropped())
}

func TestUnsubscribeClosesAndIsIdempotent(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()

	_, ok := <-ch
	require.False(t, ok)
	b.Publish(Event{Kind: PostSucceeded})
	require.Zero(t, b.Dropped())
}
