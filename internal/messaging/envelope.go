package messaging

import (
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
)

// Header names for the retry envelope. Headers are the sole store for
// retry state: there is no side channel tracking attempt counts, so the
// state must survive every republish.
const (
	HeaderAttemptCount  = "Loom-Attempt-Count"
	HeaderLastError     = "Loom-Last-Error"
	HeaderOriginSubject = "Loom-Origin-Subject"
	HeaderNotBefore     = "Loom-Not-Before"
	HeaderDLQReason     = "Loom-Dead-Letter-Reason"
)

// Envelope is the per-message delivery metadata carried across republishes.
// A missing header decodes to the zero value, so a freshly published batch
// with no headers is a valid envelope at attempt 0.
type Envelope struct {
	// AttemptCount starts at 0 and is incremented exactly once per
	// republish-as-retry.
	AttemptCount int

	// LastError is overwritten on each failed attempt.
	LastError string

	// OriginSubject is the working subject the message belongs to. It is
	// set on the first retry and immutable afterwards.
	OriginSubject string

	// NotBefore gates processing eligibility: a consumer receiving the
	// message before this instant delays redelivery instead of processing.
	NotBefore time.Time

	// DLQReason is set only on dead-letter records.
	DLQReason string
}

// ParseEnvelope decodes the retry envelope from message headers.
// Unparseable values fall back to zero values rather than failing: a
// damaged envelope must not take down the consumer.
func ParseEnvelope(h nats.Header) Envelope {
	var env Envelope
	if h == nil {
		return env
	}
	if v := h.Get(HeaderAttemptCount); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			env.AttemptCount = n
		}
	}
	env.LastError = h.Get(HeaderLastError)
	env.OriginSubject = h.Get(HeaderOriginSubject)
	if v := h.Get(HeaderNotBefore); v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			env.NotBefore = t
		}
	}
	env.DLQReason = h.Get(HeaderDLQReason)
	return env
}

// Header encodes the envelope as message headers.
func (e Envelope) Header() nats.Header {
	h := nats.Header{}
	h.Set(HeaderAttemptCount, strconv.Itoa(e.AttemptCount))
	if e.LastError != "" {
		h.Set(HeaderLastError, e.LastError)
	}
	if e.OriginSubject != "" {
		h.Set(HeaderOriginSubject, e.OriginSubject)
	}
	if !e.NotBefore.IsZero() {
		h.Set(HeaderNotBefore, e.NotBefore.UTC().Format(time.RFC3339Nano))
	}
	if e.DLQReason != "" {
		h.Set(HeaderDLQReason, e.DLQReason)
	}
	return h
}
