package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/adred-codev/kvmesh/internal/broker"
	"github.com/adred-codev/kvmesh/internal/pb"
	"github.com/adred-codev/kvmesh/internal/service"
	"github.com/adred-codev/kvmesh/internal/storage"
)

func newService(t *testing.T, opts ...func(*service.Builder)) *service.Service {
	t.Helper()
	b := service.NewBuilder()
	for _, opt := range opts {
		opt(b)
	}
	return b.Build(storage.NewMemTable(), broker.New())
}

func only(t *testing.T, ch <-chan *pb.CommandResponse) *pb.CommandResponse {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(time.Second):
		t.Fatal("dispatch did not respond in time")
		return nil
	}
}

func TestHsetThenHget(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	setResp := only(t, svc.Dispatch(ctx, &pb.CommandRequest{
		Kind:  pb.ReqHset,
		Table: "t1",
		Pair:  pb.KvPair{Key: "k1", Value: pb.StringValue("v1")},
		HasPair: true,
	}))
	require.Equal(t, uint32(200), setResp.Status)
	require.True(t, setResp.Values[0].IsNull())

	getResp := only(t, svc.Dispatch(ctx, &pb.CommandRequest{Kind: pb.ReqHget, Table: "t1", Key: "k1"}))
	require.Equal(t, uint32(200), getResp.Status)
	require.Equal(t, "v1", getResp.Values[0].Str)
}

func TestHgetMissingIsNotFound(t *testing.T) {
	svc := newService(t)
	resp := only(t, svc.Dispatch(context.Background(), &pb.CommandRequest{Kind: pb.ReqHget, Table: "t1", Key: "missing"}))
	require.Equal(t, uint32(404), resp.Status)
}

func TestHmgetMissingKeysAreDefaultValues(t *testing.T) {
	svc := newService(t)
	resp := only(t, svc.Dispatch(context.Background(), &pb.CommandRequest{
		Kind:  pb.ReqHmget,
		Table: "t1",
		Keys:  []string{"a", "b"},
	}))
	require.Equal(t, uint32(200), resp.Status)
	require.Len(t, resp.Values, 2)
	require.True(t, resp.Values[0].IsNull())
	require.True(t, resp.Values[1].IsNull())
}

func TestHsetWithoutPairIsBadRequest(t *testing.T) {
	svc := newService(t)
	resp := only(t, svc.Dispatch(context.Background(), &pb.CommandRequest{Kind: pb.ReqHset, Table: "t1"}))
	require.Equal(t, uint32(400), resp.Status)
}

func TestOnReceivedShortCircuitsBeforeStorage(t *testing.T) {
	boom := errors.New("rejected")
	svc := newService(t, func(b *service.Builder) {
		b.OnReceived(func(*pb.CommandRequest) error { return boom })
	})
	resp := only(t, svc.Dispatch(context.Background(), &pb.CommandRequest{Kind: pb.ReqHget, Table: "t1", Key: "k1"}))
	require.Equal(t, uint32(500), resp.Status)
	require.Contains(t, resp.Message, "rejected")
}

func TestOnBeforeSendCanMutateResponse(t *testing.T) {
	svc := newService(t, func(b *service.Builder) {
		b.OnBeforeSend(func(r *pb.CommandResponse) error {
			r.Message = "annotated"
			return nil
		})
	})
	resp := only(t, svc.Dispatch(context.Background(), &pb.CommandRequest{Kind: pb.ReqHexist, Table: "t1", Key: "k1"}))
	require.Equal(t, "annotated", resp.Message)
}

func TestSubscribeThenPublishThenUnsubscribe(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	sub := svc.Dispatch(ctx, &pb.CommandRequest{Kind: pb.ReqSubscribe, Topic: "lobby"})
	first := only(t, sub)
	require.Equal(t, uint32(200), first.Status)
	id := uint32(first.Values[0].Integer)
	require.Greater(t, id, uint32(0))

	pub := svc.Dispatch(ctx, &pb.CommandRequest{Kind: pb.ReqPublish, Topic: "lobby", Values: []pb.Value{pb.StringValue("hello")}})
	only(t, pub)

	delivered := only(t, sub)
	require.Equal(t, "hello", delivered.Values[0].Str)

	unsub := svc.Dispatch(ctx, &pb.CommandRequest{Kind: pb.ReqUnsubscribe, Topic: "lobby", ID: id})
	ack := only(t, unsub)
	require.Equal(t, uint32(200), ack.Status)

	select {
	case _, ok := <-sub:
		require.False(t, ok)
	case <-time.After(200 * time.Millisecond):
		t.Fatal("expected subscription channel to close")
	}
}

func TestContextCancelPrunesSubscriptionWithoutUnsubscribe(t *testing.T) {
	svc := newService(t)
	ctx, cancel := context.WithCancel(context.Background())

	sub := svc.Dispatch(ctx, &pb.CommandRequest{Kind: pb.ReqSubscribe, Topic: "lobby"})
	first := only(t, sub)
	id := uint32(first.Values[0].Integer)

	cancel()

	select {
	case _, ok := <-sub:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("expected subscription channel to close on context cancellation")
	}

	unsub := svc.Dispatch(context.Background(), &pb.CommandRequest{Kind: pb.ReqUnsubscribe, Topic: "lobby", ID: id})
	ack := only(t, unsub)
	require.Equal(t, uint32(404), ack.Status)
}
