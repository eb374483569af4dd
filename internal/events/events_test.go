package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribeReceivesAllKinds(t *testing.T) {
	t.Parallel()

	bus := NewBus()

	var got []Kind
	bus.Subscribe(func(e Event) {
		got = append(got, e.Kind)
	})

	bus.Publish(Event{Kind: KindStarted, TaskID: "t1"})
	bus.Publish(Event{Kind: KindOutput, TaskID: "t1"})
	bus.Publish(Event{Kind: KindCompleted, TaskID: "t1"})

	assert.Equal(t, []Kind{KindStarted, KindOutput, KindCompleted}, got)
}

func TestSubscribeKindFilters(t *testing.T) {
	t.Parallel()

	bus := NewBus()

	var failed []Event
	bus.SubscribeKind(KindFailed, func(e Event) {
		failed = append(failed, e)
	})

	bus.Publish(Event{Kind: KindStarted, TaskID: "t1"})
	bus.Publish(Event{Kind: KindFailed, TaskID: "t1", Error: "boom"})
	bus.Publish(Event{Kind: KindCompleted, TaskID: "t2"})

	require.Len(t, failed, 1)
	assert.Equal(t, "t1", failed[0].TaskID)
	assert.Equal(t, "boom", failed[0].Error)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	t.Parallel()

	bus := NewBus()

	count := 0
	unsub := bus.Subscribe(func(Event) { count++ })

	bus.Publish(Event{Kind: KindStarted, TaskID: "t1"})
	unsub()
	bus.Publish(Event{Kind: KindStarted, TaskID: "t2"})

	assert.Equal(t, 1, count)
}

func TestDeliveryInSubscriptionOrder(t *testing.T) {
	t.Parallel()

	bus := NewBus()

	var order []string
	bus.Subscribe(func(Event) { order = append(order, "first") })
	bus.SubscribeKind(KindStarted, func(Event) { order = append(order, "second") })
	bus.Subscribe(func(Event) { order = append(order, "third") })

	bus.Publish(Event{Kind: KindStarted, TaskID: "t1"})

	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestPublishStampsOccurredAt(t *testing.T) {
	t.Parallel()

	bus := NewBus()

	var got Event
	bus.Subscribe(func(e Event) { got = e })

	bus.Publish(Event{Kind: KindStarted, TaskID: "t1"})
	assert.False(t, got.OccurredAt.IsZero())
}
