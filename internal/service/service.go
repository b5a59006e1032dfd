// Package service implements the command dispatcher and four-phase
// extension pipeline of spec.md §4.7: every CommandRequest is routed by
// its Kind tag to either the storage path or the broker's streaming
// path, wrapped in ordered on_received/on_executed/on_before_send/
// on_after_send hooks that short-circuit to an error response on the
// first failure.
package service

import (
	"context"

	"github.com/adred-codev/kvmesh/internal/broker"
	"github.com/adred-codev/kvmesh/internal/errs"
	"github.com/adred-codev/kvmesh/internal/pb"
	"github.com/adred-codev/kvmesh/internal/storage"
)

// ReceivedHook inspects an incoming request before dispatch.
type ReceivedHook func(*pb.CommandRequest) error

// ExecutedHook inspects the response a command produced.
type ExecutedHook func(*pb.CommandResponse) error

// BeforeSendHook may mutate the response in place before it is emitted.
type BeforeSendHook func(*pb.CommandResponse) error

// AfterSendHook runs once the response has left the pipeline.
type AfterSendHook func() error

type hookSet struct {
	onReceived   []ReceivedHook
	onExecuted   []ExecutedHook
	onBeforeSend []BeforeSendHook
	onAfterSend  []AfterSendHook
}

// Builder accumulates hooks and produces an immutable Service. Hooks run
// in registration order within their phase.
type Builder struct {
	hooks hookSet
}

func NewBuilder() *Builder { return &Builder{} }

func (b *Builder) OnReceived(h ReceivedHook) *Builder {
	b.hooks.onReceived = append(b.hooks.onReceived, h)
	return b
}

func (b *Builder) OnExecuted(h ExecutedHook) *Builder {
	b.hooks.onExecuted = append(b.hooks.onExecuted, h)
	return b
}

func (b *Builder) OnBeforeSend(h BeforeSendHook) *Builder {
	b.hooks.onBeforeSend = append(b.hooks.onBeforeSend, h)
	return b
}

func (b *Builder) OnAfterSend(h AfterSendHook) *Builder {
	b.hooks.onAfterSend = append(b.hooks.onAfterSend, h)
	return b
}

// Build produces an immutable Service bound to store and bc. The
// Builder's hook lists are copied so later mutation of the Builder
// (there is none once Build is called by convention) cannot reach it.
func (b *Builder) Build(store storage.Storage, bc *broker.Broadcaster) *Service {
	return &Service{
		storage:     store,
		broadcaster: bc,
		hooks:       b.hooks,
	}
}

// Service dispatches commands to storage or the broker. One Service is
// constructed per server process and shared by every connection task
// (spec.md §5 "Shared resources").
type Service struct {
	storage     storage.Storage
	broadcaster *broker.Broadcaster
	hooks       hookSet
}

// Dispatch executes req and returns a channel of responses. Non-streaming
// commands yield exactly one response and close the channel immediately;
// Subscribe/PSubscribe yield the subscription id followed by an unbounded
// sequence of published values until Unsubscribe/PUnsubscribe or the
// caller stops reading; Publish/Unsubscribe/PUnsubscribe yield one
// acknowledgement. The dispatch path is chosen by req.Kind, never by
// inspecting the shape of a computed response (spec.md Open Question ii).
func (s *Service) Dispatch(ctx context.Context, req *pb.CommandRequest) <-chan *pb.CommandResponse {
	out := make(chan *pb.CommandResponse, 1)

	if err := runReceived(s.hooks.onReceived, req); err != nil {
		out <- pb.NewResponseFromError(err)
		close(out)
		return out
	}

	if req.Kind.IsStreaming() {
		return s.dispatchStreaming(ctx, req, out)
	}

	resp := s.dispatchStorage(req)
	out <- s.runTail(resp)
	close(out)
	return out
}

func runReceived(hs []ReceivedHook, req *pb.CommandRequest) error {
	for _, h := range hs {
		if err := h(req); err != nil {
			return err
		}
	}
	return nil
}

func runExecuted(hs []ExecutedHook, resp *pb.CommandResponse) error {
	for _, h := range hs {
		if err := h(resp); err != nil {
			return err
		}
	}
	return nil
}

func runBeforeSend(hs []BeforeSendHook, resp *pb.CommandResponse) error {
	for _, h := range hs {
		if err := h(resp); err != nil {
			return err
		}
	}
	return nil
}

func runAfterSend(hs []AfterSendHook) error {
	for _, h := range hs {
		if err := h(); err != nil {
			return err
		}
	}
	return nil
}

// runTail applies on_executed and on_before_send to resp, short-circuiting
// to an error response on the first failure, then runs on_after_send.
// on_after_send's error has no response left to attach to — the pipeline
// has already committed resp for emission — so it is not surfaced on the
// wire, matching the one-way nature of that phase in spec.md §4.7.
func (s *Service) runTail(resp *pb.CommandResponse) *pb.CommandResponse {
	if err := runExecuted(s.hooks.onExecuted, resp); err != nil {
		return pb.NewResponseFromError(err)
	}
	if err := runBeforeSend(s.hooks.onBeforeSend, resp); err != nil {
		return pb.NewResponseFromError(err)
	}
	_ = runAfterSend(s.hooks.onAfterSend)
	return resp
}

func (s *Service) dispatchStorage(req *pb.CommandRequest) *pb.CommandResponse {
	switch req.Kind {
	case pb.ReqHget:
		v, ok := s.storage.Get(req.Table, req.Key)
		if !ok {
			return pb.NewResponseFromError(&errs.NotFound{What: "key " + req.Key})
		}
		return pb.NewResponseValue(v)

	case pb.ReqHmget:
		return pb.NewResponseValues(s.getMany(req.Table, req.Keys))

	case pb.ReqHgetall:
		return pb.NewResponseKvpairs(s.storage.GetAll(req.Table))

	case pb.ReqHset:
		if !req.HasPair {
			return pb.NewResponseFromError(&errs.InvalidCommand{Reason: "hset requires a pair"})
		}
		return pb.NewResponseValue(s.setOne(req.Table, req.Pair))

	case pb.ReqHmset:
		if len(req.Pairs) == 0 {
			return pb.NewResponseFromError(&errs.InvalidCommand{Reason: "hmset requires at least one pair"})
		}
		values := make([]pb.Value, len(req.Pairs))
		for i, p := range req.Pairs {
			values[i] = s.setOne(req.Table, p)
		}
		return pb.NewResponseValues(values)

	case pb.ReqHdel:
		prior, hadPrior := s.storage.Del(req.Table, req.Key)
		if !hadPrior {
			return pb.NewResponseValue(pb.NullValue())
		}
		return pb.NewResponseValue(prior)

	case pb.ReqHmdel:
		values := make([]pb.Value, len(req.Keys))
		for i, k := range req.Keys {
			prior, hadPrior := s.storage.Del(req.Table, k)
			if hadPrior {
				values[i] = prior
			} else {
				values[i] = pb.NullValue()
			}
		}
		return pb.NewResponseValues(values)

	case pb.ReqHexist:
		return pb.NewResponseValue(pb.BoolValue(s.storage.Contains(req.Table, req.Key)))

	case pb.ReqHmexist:
		values := make([]pb.Value, len(req.Keys))
		for i, k := range req.Keys {
			values[i] = pb.BoolValue(s.storage.Contains(req.Table, k))
		}
		return pb.NewResponseValues(values)

	default:
		return pb.NewResponseFromError(&errs.InvalidCommand{Reason: "unrecognized command kind"})
	}
}

func (s *Service) getMany(table string, keys []string) []pb.Value {
	values := make([]pb.Value, len(keys))
	for i, k := range keys {
		if v, ok := s.storage.Get(table, k); ok {
			values[i] = v
		} else {
			values[i] = pb.NullValue()
		}
	}
	return values
}

func (s *Service) setOne(table string, pair pb.KvPair) pb.Value {
	prior, hadPrior := s.storage.Set(table, pair.Key, pair.Value)
	if !hadPrior {
		return pb.NullValue()
	}
	return prior
}

func (s *Service) dispatchStreaming(ctx context.Context, req *pb.CommandRequest, out chan *pb.CommandResponse) <-chan *pb.CommandResponse {
	switch req.Kind {
	case pb.ReqSubscribe:
		id, ch := s.broadcaster.Subscribe(req.Topic)
		topic := req.Topic
		return s.relay(ctx, ch, out, func() { s.broadcaster.Unsubscribe(topic, id) })

	case pb.ReqPSubscribe:
		id, ch, err := s.broadcaster.PSubscribe(req.Pattern)
		if err != nil {
			out <- s.runTail(pb.NewResponseFromError(err))
			close(out)
			return out
		}
		pattern := req.Pattern
		return s.relay(ctx, ch, out, func() { s.broadcaster.PUnsubscribe(pattern, id) })

	case pb.ReqUnsubscribe:
		out <- s.runTail(ackOrError(s.broadcaster.Unsubscribe(req.Topic, req.ID)))
		close(out)
		return out

	case pb.ReqPUnsubscribe:
		out <- s.runTail(ackOrError(s.broadcaster.PUnsubscribe(req.Pattern, req.ID)))
		close(out)
		return out

	case pb.ReqPublish:
		s.broadcaster.Publish(req.Topic, req.Values)
		out <- s.runTail(pb.NewResponseValue(pb.NullValue()))
		close(out)
		return out

	default:
		out <- s.runTail(pb.NewResponseFromError(&errs.InvalidCommand{Reason: "unrecognized streaming command kind"}))
		close(out)
		return out
	}
}

func ackOrError(err error) *pb.CommandResponse {
	if err != nil {
		return pb.NewResponseFromError(err)
	}
	return pb.NewResponseValue(pb.NullValue())
}

// relay pipes src into out on a dedicated goroutine so Dispatch returns
// immediately, applying the pipeline tail only to the subscription's
// first frame (the id acknowledgement) — published values that follow
// are not separate commands and pass through untouched, matching the
// per-command scope of the hook pipeline in spec.md §4.7.
//
// ctx is expected to be scoped to the subscribing stream's own lifetime,
// not the server's. When ctx is cancelled, cleanup runs so the broker's
// topic/pattern sets are pruned. internal/server cancels it when the
// stream's handler exits; after a dropped connection that happens at the
// first published value the handler fails to write.
func (s *Service) relay(ctx context.Context, src <-chan *pb.CommandResponse, out chan *pb.CommandResponse, cleanup func()) <-chan *pb.CommandResponse {
	go func() {
		defer close(out)
		first := true
		for {
			select {
			case <-ctx.Done():
				cleanup()
				return
			case resp, ok := <-src:
				if !ok {
					return
				}
				if first {
					resp = s.runTail(resp)
					first = false
				}
				select {
				case out <- resp:
				case <-ctx.Done():
					cleanup()
					return
				}
			}
		}
	}()
	return out
}
