// Package telemetry records non-identifying diagnostics about update
// failures. Only a one-way digest of the error message is ever kept,
// never the raw message or any payload derived from it.
package telemetry

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/siid-ide/update-agent/internal/logging"
)

var log = logging.L("telemetry")

// Reporter accumulates hashed failure records for the process lifetime.
type Reporter struct {
	mu      sync.Mutex
	records []Record
}

// Record is a single hashed failure observation.
type Record struct {
	// Event names the failure site, e.g. "update:error" or "update:download".
	Event string
	// MessageHash is the hex SHA-256 of the error message.
	MessageHash string
}

func NewReporter() *Reporter {
	return &Reporter{}
}

// RecordError hashes err's message and stores the digest under event.
// A nil err is ignored.
func (r *Reporter) RecordError(event string, err error) {
	if err == nil {
		return
	}

	digest := HashMessage(err.Error())

	r.mu.Lock()
	r.records = append(r.records, Record{Event: event, MessageHash: digest})
	r.mu.Unlock()

	log.Debug("recorded failure", "event", event, "messageHash", digest)
}

// Records returns a copy of everything recorded so far.
func (r *Reporter) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Record, len(r.records))
	copy(out, r.records)
	return out
}

// HashMessage returns the hex SHA-256 digest of msg.
func HashMessage(msg string) string {
	sum := sha256.Sum256([]byte(msg))
	return hex.EncodeToString(sum[:])
}
