package app

import (
	"context"
	"encoding/json"
	"time"

	"unsealer/internal/countdown"
	"unsealer/internal/eventbus"
	"unsealer/internal/journal"
	logx "unsealer/pkg/logx"
)

var eventKinds = map[eventbus.Type]journal.Kind{
	eventbus.Unsealed:       journal.KindUnsealed,
	eventbus.Rollover:       journal.KindRollover,
	eventbus.ConfigInvalid:  journal.KindConfigInvalid,
	eventbus.ConfigRestored: journal.KindConfigRestored,
	eventbus.Resumed:        journal.KindResumed,
}

// entryFor maps a bus event to a journal entry. ok is false for events the
// journal does not keep.
func entryFor(e eventbus.Event) (journal.Entry, bool) {
	kind, ok := eventKinds[e.Type]
	if !ok {
		return journal.Entry{}, false
	}
	ent := journal.Entry{At: e.Time.UTC(), Kind: kind}
	if tr, ok := e.Data.(countdown.Transition); ok {
		ent.Target = tr.Target
		tr.Target = time.Time{}
		if b, err := json.Marshal(tr); err == nil && string(b) != "{}" {
			ent.Detail = string(b)
		}
	}
	return ent, true
}

// record appends countdown events to the journal until ctx ends. Append
// failures are logged (throttled) and never stop the loop.
func record(ctx context.Context, events <-chan eventbus.Event, j journal.Journal, log logx.Logger) {
	warn := logx.NewThrottle(log, 30*time.Second)
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			ent, keep := entryFor(e)
			if !keep {
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
			if _, err := j.Append(wctx, ent); err != nil {
				warn.Warn("journal append failed", logx.String("kind", string(ent.Kind)), logx.Err(err))
			}
			cancel()
		}
	}
}
