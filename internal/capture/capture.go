// Package capture records raw webhook deliveries to disk so they can be replayed as
// fixtures.
package capture

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/omnirouter/internal/logging"
)

// Recorder writes deliveries under <dir>/<session>/<namespace>/. A nil Recorder, or one
// built with an empty dir, records nothing.
type Recorder struct {
	dir       string
	sessionID string
	seq       atomic.Uint64
	logger    logging.Logger
}

// NewRecorder returns nil when dir is empty.
func NewRecorder(dir string, logger logging.Logger) *Recorder {
	if strings.TrimSpace(dir) == "" {
		return nil
	}
	return &Recorder{
		dir:       dir,
		sessionID: time.Now().Format("20060102-150405"),
		logger:    logging.Component(logger, "capture"),
	}
}

// Enabled reports whether deliveries are being recorded.
func (r *Recorder) Enabled() bool {
	return r != nil && r.dir != ""
}

// Delivery is the on-disk form of one captured webhook POST.
type Delivery struct {
	Platform       string              `json:"platform"`
	OrganizationID int64               `json:"organization_id"`
	Headers        map[string][]string `json:"headers"`
	Body           json.RawMessage     `json:"body,omitempty"`
	RawBody        string              `json:"raw_body,omitempty"` // set when the body is not JSON
	ReceivedAt     time.Time           `json:"received_at"`
}

// RecordDelivery stores a delivery as indented JSON. Failures are logged but otherwise
// ignored.
func (r *Recorder) RecordDelivery(d Delivery, body []byte) {
	if !r.Enabled() {
		return
	}
	if json.Valid(body) {
		d.Body = json.RawMessage(body)
	} else {
		d.RawBody = string(body)
	}

	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		r.logger.Warn().Err(err).Str("platform", d.Platform).Msg("failed to marshal captured delivery")
		return
	}
	r.writeFile(strings.ToLower(d.Platform), "delivery", "json", data)
}

// Path returns where the next file for namespace would be written, minus the filename.
func (r *Recorder) Path(namespace string) string {
	if !r.Enabled() {
		return ""
	}
	return filepath.Join(r.dir, r.sessionID, namespace)
}

func (r *Recorder) writeFile(namespace, category, ext string, data []byte) {
	dir := r.Path(namespace)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		r.logger.Warn().Err(err).Str("dir", dir).Msg("failed to create capture directory")
		return
	}

	seq := r.seq.Add(1)
	path := filepath.Join(dir, fmt.Sprintf("%s-%04d.%s", category, seq, ext))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		r.logger.Warn().Err(err).Str("path", path).Msg("failed to write capture file")
		return
	}

	r.logger.Debug().Str("path", path).Msg("captured delivery")
}
