package events

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
)

type basicBus struct {
	mtx  sync.RWMutex
	subs map[reflect.Type][]*sub
}

// NewBus returns an in-process Bus.
func NewBus() Bus {
	return &basicBus{subs: make(map[reflect.Type][]*sub)}
}

func (b *basicBus) Subscribe(eventType interface{}, opts ...SubscriptionOpt) (Subscription, error) {
	settings := subSettings{buffer: defaultBufSize}
	for _, opt := range opts {
		if err := opt(&settings); err != nil {
			return nil, err
		}
	}

	evts, ok := eventType.([]interface{})
	if !ok {
		evts = []interface{}{eventType}
	}
	typs := make([]reflect.Type, 0, len(evts))
	for _, evt := range evts {
		typ := reflect.TypeOf(evt)
		if typ == nil || typ.Kind() != reflect.Ptr {
			return nil, errors.New("subscribe called with non-pointer type")
		}
		typs = append(typs, typ)
	}

	s := &sub{
		bus:     b,
		ch:      make(chan interface{}, settings.buffer),
		typs:    typs,
		matches: settings.matches,
	}

	b.mtx.Lock()
	defer b.mtx.Unlock()
	for _, typ := range typs {
		b.subs[typ] = append(b.subs[typ], s)
	}
	return s, nil
}

func (b *basicBus) Emit(evt interface{}) {
	b.mtx.RLock()
	defer b.mtx.RUnlock()

	for _, s := range b.subs[reflect.TypeOf(evt)] {
		if s.accepts(evt) {
			s.ch <- evt
		}
	}
}

func (b *basicBus) remove(s *sub) {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	for _, typ := range s.typs {
		subs := b.subs[typ]
		for i := range subs {
			if subs[i] == s {
				b.subs[typ] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		if len(b.subs[typ]) == 0 {
			delete(b.subs, typ)
		}
	}
}

type sub struct {
	bus       *basicBus
	ch        chan interface{}
	typs      []reflect.Type
	matches   []fieldMatch
	closeOnce sync.Once
}

func (s *sub) Out() <-chan interface{} {
	return s.ch
}

// Close unsubscribes. Events still in flight are drained so that a
// blocked Emit can finish and release the bus.
func (s *sub) Close() error {
	s.closeOnce.Do(func() {
		done := make(chan struct{})
		go func() {
			for {
				select {
				case <-s.ch:
				case <-done:
					return
				}
			}
		}()
		s.bus.remove(s)
		close(done)
	})
	return nil
}

func (s *sub) accepts(evt interface{}) bool {
	if len(s.matches) == 0 {
		return true
	}
	val := reflect.Indirect(reflect.ValueOf(evt))
	for _, m := range s.matches {
		f := val.FieldByName(m.field)
		if !f.IsValid() || fmt.Sprint(f.Interface()) != m.value {
			return false
		}
	}
	return true
}
