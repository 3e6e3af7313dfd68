// SPDX-License-Identifier: MIT

package outbox

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/caioferrari/zapbridge/internal/log"
	"github.com/caioferrari/zapbridge/internal/metrics"
)

const defaultPollInterval = 2 * time.Second

// SendFunc delivers one message and returns the protocol message ID.
type SendFunc func(ctx context.Context, to, body string) (string, error)

// Drainer polls the slot on a fixed interval and delivers pending entries
// through the outbound dispatcher. A filesystem watcher on the slot's
// directory triggers immediate drains; the ticker remains the guarantee.
type Drainer struct {
	slot     *Slot
	send     SendFunc
	interval time.Duration
	log      zerolog.Logger
}

// DrainerOption configures a Drainer.
type DrainerOption func(*Drainer)

// WithPollInterval overrides the fixed poll interval.
func WithPollInterval(d time.Duration) DrainerOption {
	return func(dr *Drainer) {
		if d > 0 {
			dr.interval = d
		}
	}
}

// NewDrainer creates a Drainer delivering through send.
func NewDrainer(slot *Slot, send SendFunc, opts ...DrainerOption) *Drainer {
	dr := &Drainer{
		slot:     slot,
		send:     send,
		interval: defaultPollInterval,
		log:      log.WithComponent("outbox"),
	}
	for _, opt := range opts {
		opt(dr)
	}
	return dr
}

// Run drains until ctx is cancelled. Errors are retried on the next tick;
// Run itself only returns on shutdown.
func (d *Drainer) Run(ctx context.Context) error {
	watcher := d.newWatcher()
	if watcher != nil {
		defer watcher.Close()
	}

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.DrainOnce(ctx)
		case ev, ok := <-watcherEvents(watcher):
			if !ok {
				watcher = nil
				continue
			}
			if ev.Name == d.slot.Path() && ev.Op.Has(fsnotify.Create|fsnotify.Write|fsnotify.Rename) {
				d.DrainOnce(ctx)
			}
		case err, ok := <-watcherErrors(watcher):
			if !ok {
				watcher = nil
				continue
			}
			d.log.Warn().Err(err).Msg("outbox watcher error")
		}
	}
}

// newWatcher is best-effort: polling alone satisfies the delivery contract.
func (d *Drainer) newWatcher() *fsnotify.Watcher {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		d.log.Warn().Err(err).Msg("outbox watcher unavailable, falling back to polling only")
		return nil
	}
	if err := watcher.Add(filepath.Dir(d.slot.Path())); err != nil {
		d.log.Warn().Err(err).
			Str(log.FieldPath, d.slot.Path()).
			Msg("cannot watch outbox directory, falling back to polling only")
		watcher.Close()
		return nil
	}
	return watcher
}

func watcherEvents(w *fsnotify.Watcher) <-chan fsnotify.Event {
	if w == nil {
		return nil
	}
	return w.Events
}

func watcherErrors(w *fsnotify.Watcher) <-chan error {
	if w == nil {
		return nil
	}
	return w.Errors
}

// DrainOnce performs one drain attempt. The slot is deleted only after the
// send is confirmed; on failure it stays for the next tick. Malformed
// entries are logged and discarded: retrying them would loop forever
// without ever delivering.
func (d *Drainer) DrainOnce(ctx context.Context) {
	entry, err := d.slot.Read()
	switch {
	case errors.Is(err, ErrEmpty):
		metrics.RecordQueueDrain("empty")
		return
	case errors.Is(err, ErrMalformed):
		metrics.RecordQueueDrain("malformed")
		d.log.Error().Err(err).
			Str(log.FieldEvent, "outbox.malformed").
			Msg("discarding malformed outbox entry")
		if err := d.slot.Delete(); err != nil {
			d.log.Error().Err(err).Msg("failed to discard malformed outbox entry")
		}
		return
	case err != nil:
		metrics.RecordQueueDrain("failed")
		d.log.Error().Err(err).Msg("failed to read outbox slot")
		return
	}

	messageID, err := d.send(ctx, entry.To, entry.Message)
	if err != nil {
		metrics.RecordQueueDrain("failed")
		d.log.Warn().Err(err).
			Str(log.FieldEvent, "outbox.send_failed").
			Msg("pending message not delivered, will retry")
		return
	}

	// Delete strictly after send confirmation: a crash here costs at most
	// one duplicate send, never a lost message.
	if err := d.slot.Delete(); err != nil {
		metrics.RecordQueueDrain("failed")
		d.log.Error().Err(err).
			Str(log.FieldMessageID, messageID).
			Msg("sent pending message but failed to clear slot")
		return
	}

	metrics.RecordQueueDrain("sent")
	d.log.Info().
		Str(log.FieldEvent, "outbox.drained").
		Str(log.FieldMessageID, messageID).
		Msg("pending message delivered")
}
