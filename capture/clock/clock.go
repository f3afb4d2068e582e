/*************************************************************************
 * HORACE - host-observation capture and forward pipeline.
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 *************************************************************************/

// Package clock implements the simplest capture source: a periodic
// timestamp event, used both as a heartbeat and as a reference
// implementation of the EventReader capability.
package clock

import (
	"context"
	"time"

	"github.com/gdshaw/horace/herrors"
	"github.com/gdshaw/horace/record"
)

// Reader emits one timestamp event every poll interval.
type Reader struct {
	channel int64
	poll    time.Duration
	next    time.Time
}

// New constructs a clock reader on the given event channel, firing
// every poll interval (default handled by the caller; zero means
// fire immediately and only once per Call).
func New(channel int64, poll time.Duration) *Reader {
	return &Reader{channel: channel, poll: poll, next: time.Now()}
}

// ReadEvent blocks until the next poll interval elapses or ctx is
// cancelled, then returns a timestamp event.
func (r *Reader) ReadEvent(ctx context.Context) (*record.Record, error) {
	select {
	case <-ctx.Done():
		return nil, herrors.New(herrors.Terminate, ctx.Err())
	default:
	}
	now := time.Now()
	if now.Before(r.next) {
		timer := time.NewTimer(r.next.Sub(now))
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, herrors.New(herrors.Terminate, ctx.Err())
		case <-timer.C:
		}
	}
	ts := record.TimestampFromTime(time.Now())
	r.next = r.next.Add(r.poll)
	attrs := record.NewAttributeList(record.NewTimestampAttribute(record.AttrTS, ts))
	return record.NewRecord(r.channel, attrs), nil
}

// Close is a no-op; the clock reader owns no resources.
func (r *Reader) Close() error { return nil }
