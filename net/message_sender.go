package net

import (
	"context"
	"errors"
	"sync"

	"github.com/cpacia/xmrescrow/net/pb"
	ggio "github.com/gogo/protobuf/io"
	inet "github.com/libp2p/go-libp2p-core/network"
	peer "github.com/libp2p/go-libp2p-core/peer"
)

// maxStreamFailures is how many failed writes a peer's stream may see
// before we stop reusing streams and open one per message.
const maxStreamFailures = 3

var (
	// ErrContextDone is returned when the context passed to a send
	// expires before the write finishes.
	ErrContextDone = errors.New("write context closed")

	// ErrSenderInvalid is returned by a stream sender that was dropped
	// after its peer disconnected.
	ErrSenderInvalid = errors.New("message sender has been invalidated")
)

// streamSender writes delimited messages to one peer, reusing a single
// outbound stream while it stays healthy.
type streamSender struct {
	mtx      sync.Mutex
	ns       *NetworkService
	peer     peer.ID
	stream   inet.Stream
	writer   ggio.WriteCloser
	failures int
	dead     bool
}

// senderFor returns the sender for p, opening a stream if we don't have
// one yet.
func (ns *NetworkService) senderFor(ctx context.Context, p peer.ID) (*streamSender, error) {
	ns.msMtx.Lock()
	if s, ok := ns.senders[p]; ok {
		ns.msMtx.Unlock()
		return s, nil
	}
	s := &streamSender{ns: ns, peer: p}
	ns.senders[p] = s
	ns.msMtx.Unlock()

	s.mtx.Lock()
	err := s.openWithContext(ctx)
	s.mtx.Unlock()
	if err == nil {
		return s, nil
	}

	ns.msMtx.Lock()
	defer ns.msMtx.Unlock()
	if cur, ok := ns.senders[p]; ok {
		// Another caller replaced us while we were dialing.
		if cur != s {
			return cur, nil
		}
		delete(ns.senders, p)
	}
	return nil, err
}

// dropSender kills the sender for p. It's called when the peer
// disconnects so a stale stream is never reused.
func (ns *NetworkService) dropSender(p peer.ID) {
	ns.msMtx.Lock()
	s, ok := ns.senders[p]
	delete(ns.senders, p)
	ns.msMtx.Unlock()
	if ok {
		s.mtx.Lock()
		s.kill()
		s.mtx.Unlock()
	}
}

func (s *streamSender) kill() {
	s.dead = true
	s.reset()
}

func (s *streamSender) reset() {
	if s.stream != nil {
		s.stream.Reset()
		s.stream = nil
		s.writer = nil
	}
}

// openWithContext opens the stream unless ctx or the service finishes
// first, in which case the sender is killed. Must be called with mtx held.
func (s *streamSender) openWithContext(ctx context.Context) error {
	if ctx.Err() != nil {
		s.kill()
		return ErrContextDone
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.open()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			s.kill()
		}
		return err
	case <-ctx.Done():
	case <-s.ns.ctx.Done():
	}
	s.kill()
	return ErrContextDone
}

func (s *streamSender) open() error {
	if s.dead {
		return ErrSenderInvalid
	}
	if s.stream != nil {
		return nil
	}
	stream, err := s.ns.host.NewStream(s.ns.ctx, s.peer, s.ns.protocolID)
	if err != nil {
		return err
	}
	s.stream = stream
	s.writer = ggio.NewDelimitedWriter(stream)
	return nil
}

// send writes msg to the peer. A failed write is retried once on a fresh
// stream.
func (s *streamSender) send(ctx context.Context, msg *pb.Message) error {
	s.mtx.Lock()
	defer s.mtx.Unlock()

	if ctx.Err() != nil {
		return ErrContextDone
	}

	for attempt := 0; ; attempt++ {
		if err := s.open(); err != nil {
			return err
		}
		err := s.write(ctx, msg)
		if err == nil {
			break
		}
		s.reset()
		if err == ErrContextDone || attempt > 0 {
			log.Debugf("Error writing message to %s: %s", s.peer, err)
			return err
		}
		s.failures++
	}

	if s.failures > maxStreamFailures {
		s.stream.Close()
		s.stream = nil
		s.writer = nil
	}
	return nil
}

func (s *streamSender) write(ctx context.Context, msg *pb.Message) error {
	w := s.writer
	errCh := make(chan error, 1)
	go func() {
		errCh <- w.WriteMsg(msg)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return ErrContextDone
	}
}
