package broker_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/adred-codev/kvmesh/internal/broker"
	"github.com/adred-codev/kvmesh/internal/pb"
)

func recvWithin(t *testing.T, ch <-chan *pb.CommandResponse, d time.Duration) *pb.CommandResponse {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(d):
		t.Fatal("timed out waiting for response")
		return nil
	}
}

func TestSubscribeEmitsIDFirst(t *testing.T) {
	b := broker.New()
	id, ch := b.Subscribe("orders")
	first := recvWithin(t, ch, time.Second)
	require.Equal(t, uint32(200), first.Status)
	require.Len(t, first.Values, 1)
	require.Equal(t, int64(id), first.Values[0].Integer)
}

func TestPublishDeliversToTopicSubscriber(t *testing.T) {
	b := broker.New()
	_, ch := b.Subscribe("orders")
	recvWithin(t, ch, time.Second) // drain the id frame

	b.Publish("orders", []pb.Value{pb.StringValue("created")})
	resp := recvWithin(t, ch, time.Second)
	require.Equal(t, uint32(200), resp.Status)
	require.Equal(t, "created", resp.Values[0].Str)
}

func TestPublishDoesNotCrossTopics(t *testing.T) {
	b := broker.New()
	_, ch := b.Subscribe("orders")
	recvWithin(t, ch, time.Second)

	b.Publish("payments", []pb.Value{pb.StringValue("ignored")})
	select {
	case r := <-ch:
		t.Fatalf("unexpected delivery: %+v", r)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPSubscribeMatchesGlob(t *testing.T) {
	b := broker.New()
	_, ch, err := b.PSubscribe("orders.*")
	require.NoError(t, err)
	recvWithin(t, ch, time.Second)

	b.Publish("orders.created", []pb.Value{pb.StringValue("x")})
	resp := recvWithin(t, ch, time.Second)
	require.Equal(t, "x", resp.Values[0].Str)
}

func TestPSubscribeInvalidPattern(t *testing.T) {
	b := broker.New()
	_, _, err := b.PSubscribe("[")
	require.Error(t, err)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := broker.New()
	id, ch := b.Subscribe("orders")
	recvWithin(t, ch, time.Second)

	require.NoError(t, b.Unsubscribe("orders", id))
	b.Publish("orders", []pb.Value{pb.StringValue("late")})

	select {
	case _, ok := <-ch:
		require.False(t, ok, "channel should be closed after unsubscribe")
	case <-time.After(100 * time.Millisecond):
		t.Fatal("expected channel to be closed")
	}
}

func TestUnsubscribeUnknownIDIsNotFound(t *testing.T) {
	b := broker.New()
	err := b.Unsubscribe("orders", 9999)
	require.Error(t, err)
}

func TestPUnsubscribeStopsDelivery(t *testing.T) {
	b := broker.New()
	id, ch, err := b.PSubscribe("a.*")
	require.NoError(t, err)
	recvWithin(t, ch, time.Second)

	require.NoError(t, b.PUnsubscribe("a.*", id))
	b.Publish("a.b", []pb.Value{pb.StringValue("late")})

	select {
	case _, ok := <-ch:
		require.False(t, ok)
	case <-time.After(100 * time.Millisecond):
		t.Fatal("expected channel to be closed")
	}
}

func TestMultipleSubscribersSameTopic(t *testing.T) {
	b := broker.New()
	_, ch1 := b.Subscribe("orders")
	_, ch2 := b.Subscribe("orders")
	recvWithin(t, ch1, time.Second)
	recvWithin(t, ch2, time.Second)

	b.Publish("orders", []pb.Value{pb.IntegerValue(7)})
	r1 := recvWithin(t, ch1, time.Second)
	r2 := recvWithin(t, ch2, time.Second)
	require.Equal(t, int64(7), r1.Values[0].Integer)
	require.Equal(t, int64(7), r2.Values[0].Integer)
}
