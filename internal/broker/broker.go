// Package broker implements the in-process pub/sub broker of spec.md
// §4.6: topic and glob-pattern subscriptions, per-subscriber
// backpressure via bounded channels, and lazy pruning of dead
// subscribers. Grounded on the teacher's Broadcast method
// (clone-subscriber-set, release the lock, then send) adapted from a
// websocket fan-out to a typed CommandResponse channel fan-out. Unlike a
// select-with-default send, each send here waits for buffer capacity; a
// send on a closed channel is what marks a subscriber dead.
package broker

import (
	"sync"
	"sync/atomic"

	"github.com/gobwas/glob"

	"github.com/adred-codev/kvmesh/internal/errs"
	"github.com/adred-codev/kvmesh/internal/metrics"
	"github.com/adred-codev/kvmesh/internal/pb"
	"github.com/adred-codev/kvmesh/internal/shardmap"
)

// subscriberBufferSize is the bounded channel capacity per subscription
// (spec.md §4.6).
const subscriberBufferSize = 128

// Broadcaster owns the three tables of spec.md §3: topics, patterns and
// subscriptions. Only subscriptions is a sharded map; topics and patterns
// are each a plain map guarded by a single RWMutex, so every operation on
// one of them takes that table-wide lock. One Broadcaster is created per Service and
// lives for the server process (spec.md §3 "Lifecycles").
type Broadcaster struct {
	nextID        atomic.Uint32
	subscriptions *shardmap.Map[chan *pb.CommandResponse]

	topicsMu sync.RWMutex
	topics   map[string]map[uint32]struct{}

	patternsMu sync.RWMutex
	patterns   map[string]*patternEntry
}

type patternEntry struct {
	glob    glob.Glob
	members map[uint32]struct{}
}

// New constructs an empty Broadcaster.
func New() *Broadcaster {
	return &Broadcaster{
		subscriptions: shardmap.New[chan *pb.CommandResponse](),
		topics:        make(map[string]map[uint32]struct{}),
		patterns:      make(map[string]*patternEntry),
	}
}

func (b *Broadcaster) allocID() uint32 {
	// subID allocation is a process-wide monotonically increasing
	// counter; wrap-around after 2^32 is left undefined (spec.md Open
	// Question (i)).
	return b.nextID.Add(1)
}

// Subscribe creates a subscription to topic and returns its id and
// receive channel. The first value delivered on the channel is always
// CommandResponse{Status:200, Values:[Integer(id)]}.
func (b *Broadcaster) Subscribe(topic string) (uint32, <-chan *pb.CommandResponse) {
	id := b.allocID()
	ch := make(chan *pb.CommandResponse, subscriberBufferSize)
	b.subscriptions.Store(subKey(id), ch)

	b.topicsMu.Lock()
	set, ok := b.topics[topic]
	if !ok {
		set = make(map[uint32]struct{})
		b.topics[topic] = set
	}
	set[id] = struct{}{}
	b.topicsMu.Unlock()

	metrics.SubscriptionsActive.Inc()
	go emitID(ch, id)
	return id, ch
}

// PSubscribe creates a pattern subscription. pattern is compiled once,
// here, at subscribe time (spec.md §4.6 "compiled once at psubscribe
// time").
func (b *Broadcaster) PSubscribe(pattern string) (uint32, <-chan *pb.CommandResponse, error) {
	g, err := glob.Compile(pattern)
	if err != nil {
		return 0, nil, &errs.InvalidCommand{Reason: "bad pattern: " + err.Error()}
	}

	id := b.allocID()
	ch := make(chan *pb.CommandResponse, subscriberBufferSize)
	b.subscriptions.Store(subKey(id), ch)

	b.patternsMu.Lock()
	entry, ok := b.patterns[pattern]
	if !ok {
		entry = &patternEntry{glob: g, members: make(map[uint32]struct{})}
		b.patterns[pattern] = entry
	}
	entry.members[id] = struct{}{}
	b.patternsMu.Unlock()

	metrics.SubscriptionsActive.Inc()
	go emitID(ch, id)
	return id, ch, nil
}

func emitID(ch chan *pb.CommandResponse, id uint32) {
	ch <- pb.NewResponseValue(pb.IntegerValue(int64(id)))
}

// Unsubscribe removes id from topic's subscriber set, closing its
// channel and dropping it from subscriptions. Returns a NotFound error
// if id was not known.
func (b *Broadcaster) Unsubscribe(topic string, id uint32) error {
	b.topicsMu.Lock()
	set, ok := b.topics[topic]
	if !ok || !removeMember(set, id) {
		b.topicsMu.Unlock()
		return &errs.NotFound{What: "subscription"}
	}
	if len(set) == 0 {
		delete(b.topics, topic)
	}
	b.topicsMu.Unlock()

	b.closeSubscription(id)
	return nil
}

// PUnsubscribe removes id from pattern's subscriber set.
func (b *Broadcaster) PUnsubscribe(pattern string, id uint32) error {
	b.patternsMu.Lock()
	entry, ok := b.patterns[pattern]
	if !ok || !removeMember(entry.members, id) {
		b.patternsMu.Unlock()
		return &errs.NotFound{What: "subscription"}
	}
	if len(entry.members) == 0 {
		delete(b.patterns, pattern)
	}
	b.patternsMu.Unlock()

	b.closeSubscription(id)
	return nil
}

func removeMember(set map[uint32]struct{}, id uint32) bool {
	if _, ok := set[id]; !ok {
		return false
	}
	delete(set, id)
	return true
}

func (b *Broadcaster) closeSubscription(id uint32) {
	ch, ok := b.subscriptions.Delete(subKey(id))
	if ok {
		close(ch)
		metrics.SubscriptionsActive.Dec()
	}
}

// Publish delivers values to every subscriber of topic, plus every
// pattern subscriber whose compiled glob matches topic. It returns
// immediately; delivery runs on a goroutine spawned here so a slow
// subscriber never blocks the caller (spec.md §4.6 "Semantics").
func (b *Broadcaster) Publish(topic string, values []pb.Value) {
	metrics.BrokerPublishes.Inc()
	go b.deliver(topic, values)
}

func (b *Broadcaster) deliver(topic string, values []pb.Value) {
	resp := pb.NewResponseValues(values)

	b.topicsMu.RLock()
	topicMembers := cloneSet(b.topics[topic])
	b.topicsMu.RUnlock()
	b.sendToMembers(topicMembers, resp)

	b.patternsMu.RLock()
	var matched []map[uint32]struct{}
	for _, entry := range b.patterns {
		if entry.glob.Match(topic) {
			matched = append(matched, cloneSet(entry.members))
		}
	}
	b.patternsMu.RUnlock()
	for _, members := range matched {
		b.sendToMembers(members, resp)
	}
}

func cloneSet(set map[uint32]struct{}) map[uint32]struct{} {
	out := make(map[uint32]struct{}, len(set))
	for id := range set {
		out[id] = struct{}{}
	}
	return out
}

// sendToMembers blocks per-subscriber on a full channel (bounded-channel
// backpressure, spec.md §4.6). internal/service ties a
// Subscribe/PSubscribe's context to its own stream's lifetime and calls
// Unsubscribe/PUnsubscribe when that context ends, which closes the
// channel and removes the id from topics/patterns. A subscriber whose
// connection dropped is still in members until its stream's handler
// fails to write a delivered value and exits; trySend's recover covers
// a send that races with the resulting close.
func (b *Broadcaster) sendToMembers(members map[uint32]struct{}, resp *pb.CommandResponse) {
	var dead []uint32
	for id := range members {
		ch, ok := b.subscriptions.Load(subKey(id))
		if !ok {
			dead = append(dead, id)
			continue
		}
		if !trySend(ch, resp) {
			dead = append(dead, id)
		}
	}
	for _, id := range dead {
		b.pruneID(id)
	}
}

// trySend recovers from a send on a closed channel (the receiver was
// dropped and Unsubscribe or a prior prune already closed it) and
// otherwise sends, awaiting buffer capacity as spec.md's backpressure
// semantics require.
func trySend(ch chan *pb.CommandResponse, resp *pb.CommandResponse) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	ch <- resp
	return true
}

// pruneID removes a dead subscriber from every topic/pattern set it
// belongs to and from subscriptions, matching spec.md's "broker prunes
// it" lazy-detection rule.
func (b *Broadcaster) pruneID(id uint32) {
	b.topicsMu.Lock()
	for topic, set := range b.topics {
		if _, ok := set[id]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(b.topics, topic)
			}
		}
	}
	b.topicsMu.Unlock()

	b.patternsMu.Lock()
	for pattern, entry := range b.patterns {
		if _, ok := entry.members[id]; ok {
			delete(entry.members, id)
			if len(entry.members) == 0 {
				delete(b.patterns, pattern)
			}
		}
	}
	b.patternsMu.Unlock()
	if _, ok := b.subscriptions.Delete(subKey(id)); ok {
		metrics.SubscriptionsActive.Dec()
	}
	metrics.BrokerDroppedSubscribers.Inc()
}

func subKey(id uint32) string {
	// shardmap keys are strings; encode the uint32 id directly.
	return string([]byte{byte(id >> 24), byte(id >> 16), byte(id >> 8), byte(id)})
}
