package http

import (
	"crypto/tls"
	"net/http/httptrace"
	"sync"
	"time"
)

// Timing is the phase breakdown of one request.
//
// Connecting covers DNS, TCP connect and TLS handshake and is zero on a
// reused connection. Waiting runs from the request being written to the
// first response byte. Receiving is the time spent reading the body.
type Timing struct {
	Start      time.Time
	Connecting time.Duration
	Waiting    time.Duration
	Receiving  time.Duration
	Total      time.Duration
}

// phaseTracer collects httptrace events. Dial callbacks may fire from
// transport goroutines, so every field is guarded.
type phaseTracer struct {
	mu sync.Mutex

	start        time.Time
	connectStart time.Time
	connectEnd   time.Time
	wroteRequest time.Time
	firstByte    time.Time
}

func newPhaseTracer(start time.Time) *phaseTracer {
	return &phaseTracer{start: start}
}

func (p *phaseTracer) clientTrace() *httptrace.ClientTrace {
	return &httptrace.ClientTrace{
		DNSStart: func(httptrace.DNSStartInfo) {
			p.markConnectStart()
		},
		ConnectStart: func(string, string) {
			p.markConnectStart()
		},
		ConnectDone: func(_, _ string, err error) {
			if err == nil {
				p.markConnectEnd()
			}
		},
		TLSHandshakeDone: func(_ tls.ConnectionState, err error) {
			if err == nil {
				p.markConnectEnd()
			}
		},
		WroteRequest: func(httptrace.WroteRequestInfo) {
			p.mu.Lock()
			p.wroteRequest = time.Now()
			p.mu.Unlock()
		},
		GotFirstResponseByte: func() {
			p.mu.Lock()
			p.firstByte = time.Now()
			p.mu.Unlock()
		},
	}
}

func (p *phaseTracer) markConnectStart() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.connectStart.IsZero() {
		p.connectStart = time.Now()
	}
}

func (p *phaseTracer) markConnectEnd() {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	if now.After(p.connectEnd) {
		p.connectEnd = now
	}
}

// timing computes the phases once the response headers have arrived.
func (p *phaseTracer) timing() Timing {
	p.mu.Lock()
	defer p.mu.Unlock()

	t := Timing{Start: p.start}
	if !p.connectStart.IsZero() && p.connectEnd.After(p.connectStart) {
		t.Connecting = p.connectEnd.Sub(p.connectStart)
	}

	waitFrom := p.wroteRequest
	if waitFrom.IsZero() {
		waitFrom = p.start
	}
	if !p.firstByte.IsZero() && p.firstByte.After(waitFrom) {
		t.Waiting = p.firstByte.Sub(waitFrom)
	}
	return t
}
