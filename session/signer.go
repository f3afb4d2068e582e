/*************************************************************************
 * HORACE - host-observation capture and forward pipeline.
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 *************************************************************************/

package session

import (
	"crypto/ed25519"
	"sync"
	"time"
)

// signRequest is one (seqnum, hash) offer made to the signer.
type signRequest struct {
	seqnum uint64
	hash   []byte
}

// SignatureFunc receives a completed signature for delivery, typically
// as a record on the signature control channel.
type SignatureFunc func(seqnum uint64, sig []byte)

// Signer asynchronously signs (seqnum, hash) pairs offered by the
// pipeline. The signature covers the hash bytes only; the seqnum is
// passed to deliver beside it but is not itself signed. It holds only
// the most recently offered pair: if a newer
// offer arrives while a signature is in flight, the older one is
// silently dropped, so that signing never slows down capture.
type Signer struct {
	key     ed25519.PrivateKey
	delay   time.Duration
	deliver SignatureFunc

	mu      sync.Mutex
	cond    *sync.Cond
	pending *signRequest
	closed  bool
}

// NewSigner starts a signer goroutine using key, imposing a fixed
// per-signature delay (simulating hardware-token latency; zero is
// valid) before delivering each signature via deliver.
func NewSigner(key ed25519.PrivateKey, delay time.Duration, deliver SignatureFunc) *Signer {
	s := &Signer{key: key, delay: delay, deliver: deliver}
	s.cond = sync.NewCond(&s.mu)
	go s.run()
	return s
}

// Offer replaces any pending signing request with (seqnum, hash).
func (s *Signer) Offer(seqnum uint64, hash []byte) {
	s.mu.Lock()
	s.pending = &signRequest{seqnum: seqnum, hash: append([]byte(nil), hash...)}
	s.mu.Unlock()
	s.cond.Signal()
}

// Close stops the signer goroutine after any in-flight signature.
func (s *Signer) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cond.Signal()
}

func (s *Signer) run() {
	for {
		s.mu.Lock()
		for s.pending == nil && !s.closed {
			s.cond.Wait()
		}
		if s.closed && s.pending == nil {
			s.mu.Unlock()
			return
		}
		req := s.pending
		s.pending = nil
		s.mu.Unlock()

		if s.delay > 0 {
			time.Sleep(s.delay)
		}
		sig := ed25519.Sign(s.key, req.hash)
		s.deliver(req.seqnum, sig)

		s.mu.Lock()
		if s.closed && s.pending == nil {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
	}
}
