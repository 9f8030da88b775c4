// Package publisher turns dumps into notifications.
package publisher

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/JakeFAU/biodumpy/internal/biodumpy"
)

// DumpEvent is the message body published for every dump.
type DumpEvent struct {
	JobID     string    `json:"job_id,omitempty"`
	Module    string    `json:"module"`
	Name      string    `json:"name"`
	URI       string    `json:"uri"`
	Format    string    `json:"format"`
	Records   int       `json:"records"`
	Bytes     int       `json:"bytes"`
	Hash      string    `json:"hash"`
	Bulk      bool      `json:"bulk"`
	WrittenAt time.Time `json:"written_at"`
}

// Attributes are copied into Pub/Sub message attributes.
func (e DumpEvent) Attributes() map[string]string {
	attrs := map[string]string{
		"module": e.Module,
		"format": e.Format,
		"bulk":   strconv.FormatBool(e.Bulk),
	}
	if e.JobID != "" {
		attrs["job_id"] = e.JobID
	}
	return attrs
}

// Notifier publishes a DumpEvent for every recorded dump.
type Notifier struct {
	pub   biodumpy.Publisher
	topic string
}

// NewNotifier wires a publisher to a topic name.
func NewNotifier(pub biodumpy.Publisher, topic string) *Notifier {
	return &Notifier{pub: pub, topic: topic}
}

// RecordDump implements biodumpy.DumpRecorder.
func (n *Notifier) RecordDump(ctx context.Context, dump biodumpy.Dump) error {
	event := DumpEvent{
		JobID:     dump.JobID,
		Module:    dump.Module,
		Name:      dump.Name,
		URI:       dump.URI,
		Format:    string(dump.Format),
		Records:   dump.Records,
		Bytes:     dump.Bytes,
		Hash:      dump.Hash,
		Bulk:      dump.Bulk,
		WrittenAt: dump.WrittenAt,
	}
	if _, err := n.pub.Publish(ctx, n.topic, event); err != nil {
		return fmt.Errorf("publish dump event: %w", err)
	}
	return nil
}
