// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Graft Contributors

package bus

import (
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/gobwas/glob"
	"github.com/samber/oops"

	"github.com/grafthost/graft/internal/observability"
	"github.com/grafthost/graft/pkg/errutil"
)

// namedChannel holds the multicast handler set for one named channel. The
// payload type is fixed by the first subscriber; later subscribers and
// publishers must match it.
type namedChannel struct {
	name        string // case preserved from the first subscriber
	payloadType reflect.Type
	handlers    []reflect.Value
}

// Named is the open-vocabulary side of the bus: string-keyed channels with
// type-erased multi-subscriber handlers. Channel identity is
// case-insensitive. Reverse-domain names (org.example.channel) are the
// recommended convention to avoid collisions; this is not enforced.
type Named struct {
	logger   *slog.Logger
	failures *errutil.Once

	mu       sync.Mutex
	channels map[string]*namedChannel
}

// NewNamed creates an empty named-channel registry.
func NewNamed(logger *slog.Logger) *Named {
	if logger == nil {
		logger = slog.Default()
	}
	return &Named{
		logger:   logger,
		failures: errutil.NewOnce(),
		channels: make(map[string]*namedChannel),
	}
}

// Subscribe adds a handler for the named channel, creating the channel if it
// does not exist. Duplicate registrations of the identical handler are
// preserved. Subscribing with a payload type different from the channel's
// established type is logged and ignored.
func Subscribe[T any](n *Named, name string, fn func(T)) {
	if fn == nil {
		return
	}
	payloadType := reflect.TypeOf((*T)(nil)).Elem()

	n.mu.Lock()
	defer n.mu.Unlock()

	key := strings.ToLower(name)
	ch, ok := n.channels[key]
	if !ok {
		ch = &namedChannel{name: name, payloadType: payloadType}
		n.channels[key] = ch
	}
	if ch.payloadType != payloadType {
		err := oops.In("bus").
			Code("TYPE_MISMATCH").
			With("channel", ch.name).
			With("expected", ch.payloadType.String()).
			With("got", payloadType.String()).
			New("subscriber payload type conflicts with channel")
		errutil.LogError(n.logger, "named channel subscribe rejected", err)
		return
	}
	ch.handlers = append(ch.handlers, reflect.ValueOf(fn))
}

// Unsubscribe removes the most recently added registration of fn from the
// named channel. When the last handler is removed the channel itself is
// deleted from the registry.
func Unsubscribe[T any](n *Named, name string, fn func(T)) {
	if fn == nil {
		return
	}
	ptr := reflect.ValueOf(fn).Pointer()

	n.mu.Lock()
	defer n.mu.Unlock()

	key := strings.ToLower(name)
	ch, ok := n.channels[key]
	if !ok {
		return
	}
	for i := len(ch.handlers) - 1; i >= 0; i-- {
		if ch.handlers[i].Pointer() == ptr {
			ch.handlers = append(ch.handlers[:i], ch.handlers[i+1:]...)
			break
		}
	}
	if len(ch.handlers) == 0 {
		delete(n.channels, key)
	}
}

// Publish delivers payload to every handler of the named channel. A payload
// whose type does not match the channel's established type is reported and
// dropped; Publish never panics toward the caller and never coerces types.
// Handlers are invoked outside the registry lock so they may subscribe,
// unsubscribe or publish from within their own execution.
func (n *Named) Publish(name string, payload any) {
	payloadValue := reflect.ValueOf(payload)

	n.mu.Lock()
	key := strings.ToLower(name)
	ch, ok := n.channels[key]
	if !ok {
		n.mu.Unlock()
		return
	}
	if payload == nil || payloadValue.Type() != ch.payloadType {
		got := "nil"
		if payload != nil {
			got = payloadValue.Type().String()
		}
		chName, expected := ch.name, ch.payloadType.String()
		n.mu.Unlock()

		observability.RecordBusTypeMismatch(chName)
		err := oops.In("bus").
			Code("TYPE_MISMATCH").
			With("channel", chName).
			With("expected", expected).
			With("got", got).
			New("publish payload type mismatch")
		errutil.LogError(n.logger, "named channel publish dropped", err)
		return
	}
	handlers := make([]reflect.Value, len(ch.handlers))
	copy(handlers, ch.handlers)
	chName := ch.name
	n.mu.Unlock()

	occurrence := newOccurrenceID()
	n.logger.Debug("named publish",
		"channel", chName,
		"occurrence", occurrence.String(),
		"subscribers", len(handlers))
	observability.RecordBusPublish(chName)

	args := []reflect.Value{payloadValue}
	for _, h := range handlers {
		n.invoke(chName, h, args)
	}
}

func (n *Named) invoke(channel string, h reflect.Value, args []reflect.Value) {
	defer func() {
		if r := recover(); r != nil {
			observability.RecordHandlerFailure(channel)
			site := fmt.Sprintf("%s#%x", strings.ToLower(channel), h.Pointer())
			err := oops.In("bus").
				With("channel", channel).
				With("panic", fmt.Sprint(r)).
				New("subscriber panicked")
			n.failures.LogError(n.logger, site, "named channel subscriber failed", err)
		}
	}()
	h.Call(args)
}

// HasSubscribers reports whether the named channel currently exists.
func (n *Named) HasSubscribers(name string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.channels[strings.ToLower(name)]
	return ok
}

// SubscriberCount returns the number of handlers on the named channel,
// zero if the channel does not exist.
func (n *Named) SubscriberCount(name string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	ch, ok := n.channels[strings.ToLower(name)]
	if !ok {
		return 0
	}
	return len(ch.handlers)
}

// ChannelInfo describes one named channel for diagnostics.
type ChannelInfo struct {
	Name        string
	PayloadType string
	Subscribers int
}

// Dump returns diagnostic information for channels whose lower-cased name
// matches the glob pattern. An empty pattern matches everything. Results are
// sorted by name.
func (n *Named) Dump(pattern string) ([]ChannelInfo, error) {
	if pattern == "" {
		pattern = "*"
	}
	g, err := glob.Compile(strings.ToLower(pattern))
	if err != nil {
		return nil, oops.In("bus").With("pattern", pattern).Hint("invalid glob").Wrap(err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	var infos []ChannelInfo
	for key, ch := range n.channels {
		if !g.Match(key) {
			continue
		}
		infos = append(infos, ChannelInfo{
			Name:        ch.name,
			PayloadType: ch.payloadType.String(),
			Subscribers: len(ch.handlers),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}
