/*************************************************************************
 * HORACE - host-observation capture and forward pipeline.
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 *************************************************************************/

package clock

import (
	"context"
	"testing"
	"time"

	"github.com/gdshaw/horace/record"
)

func TestReadEventFiresOnChannel(t *testing.T) {
	r := New(5, time.Millisecond)
	ctx := context.Background()
	rec, err := r.ReadEvent(ctx)
	if err != nil {
		t.Fatalf("ReadEvent: %v", err)
	}
	if rec.Channel() != 5 {
		t.Fatalf("expected channel 5, got %d", rec.Channel())
	}
	if !rec.Attributes().Contains(record.AttrTS) {
		t.Fatal("expected a timestamp attribute")
	}
}

func TestReadEventRespectsContextCancellation(t *testing.T) {
	r := New(0, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := r.ReadEvent(ctx); err == nil {
		t.Fatal("expected an error from a cancelled context")
	}
}

func TestReadEventTimestampsNonDecreasing(t *testing.T) {
	r := New(0, 10*time.Millisecond)
	ctx := context.Background()
	first, err := r.ReadEvent(ctx)
	if err != nil {
		t.Fatalf("ReadEvent: %v", err)
	}
	second, err := r.ReadEvent(ctx)
	if err != nil {
		t.Fatalf("ReadEvent: %v", err)
	}
	firstTS := firstAttr(t, first).Value()
	secondTS := firstAttr(t, second).Value()
	if !firstTS.Before(secondTS) && !firstTS.Equal(secondTS) {
		t.Fatalf("expected non-decreasing timestamps, got %s then %s", firstTS, secondTS)
	}
}

func firstAttr(t *testing.T, rec *record.Record) *record.TimestampAttribute {
	t.Helper()
	attr, err := rec.Attributes().FindOne(record.AttrTS)
	if err != nil {
		t.Fatalf("FindOne(AttrTS): %v", err)
	}
	ts, ok := attr.(*record.TimestampAttribute)
	if !ok {
		t.Fatalf("expected *record.TimestampAttribute, got %T", attr)
	}
	return ts
}
