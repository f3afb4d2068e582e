/*************************************************************************
 * HORACE - host-observation capture and forward pipeline.
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 *************************************************************************/

package endpoint

import (
	"context"
	"path/filepath"

	"github.com/gosimple/slug"

	"github.com/gdshaw/horace/record"
	"github.com/gdshaw/horace/spool"
)

func init() {
	Register("file", SchemeEntry{
		SessionWriter: openFileSessionWriter,
		SessionReader: openFileSessionReader,
	})
	Register("spool", SchemeEntry{
		SessionWriter: openFileSessionWriter,
		SessionReader: openFileSessionReader,
	})
}

// fileSessionWriter adapts a spool.Writer to the SessionWriter
// capability. The session's source ID selects the per-source
// subdirectory under the endpoint's path, per the spool's
// <root>/<source-id>/ layout.
type fileSessionWriter struct {
	w *spool.Writer
}

func openFileSessionWriter(ep *Endpoint, sourceID string) (SessionWriter, error) {
	// Source IDs are operator-chosen and may contain characters unsafe
	// for a directory name (slashes, spaces, leading dots); slug them
	// so the on-disk layout stays a single flat level under ep.Path.
	dir := filepath.Join(ep.Path, slug.Make(sourceID))
	w, err := spool.OpenWriter(dir, ep.Filesize)
	if err != nil {
		return nil, err
	}
	return &fileSessionWriter{w: w}, nil
}

func (f *fileSessionWriter) Write(rec *record.Record) error {
	if rec.Channel() == record.ChannelSession {
		return f.w.StartSession(rec)
	}
	if rec.Channel() == record.ChannelSessionEnd {
		return f.w.EndSession(rec)
	}
	if rec.Channel() == record.ChannelSync {
		if err := f.w.Write(rec); err != nil {
			return err
		}
		return f.w.Sync()
	}
	return f.w.Write(rec)
}

func (f *fileSessionWriter) Writable() bool { return f.w.Writable() }

// ReadAck is not supported by a bare spoolfile destination: acks flow
// back out-of-band from whatever consumes the spool.
func (f *fileSessionWriter) ReadAck(ctx context.Context) (*record.Record, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (f *fileSessionWriter) Close() error { return f.w.Close() }

// fileSessionReader adapts a spool.Reader to the SessionReader
// capability.
type fileSessionReader struct {
	r *spool.Reader
}

func openFileSessionReader(ep *Endpoint) (SessionReader, error) {
	r, err := spool.OpenReader(ep.Path, ep.NoDelete)
	if err != nil {
		return nil, err
	}
	return &fileSessionReader{r: r}, nil
}

func (f *fileSessionReader) Read(ctx context.Context, resolver record.FormatResolver) (*record.Record, error) {
	return f.r.Read(ctx, resolver)
}

func (f *fileSessionReader) WriteAck(rec *record.Record) error {
	if rec.Channel() == record.ChannelAck {
		return f.r.Ack()
	}
	return nil
}

func (f *fileSessionReader) Reset() error {
	f.r.Reset()
	return nil
}

func (f *fileSessionReader) Close() error { return f.r.Close() }
