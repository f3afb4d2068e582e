/*************************************************************************
 * HORACE - host-observation capture and forward pipeline.
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 *************************************************************************/

package endpoint

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gdshaw/horace/record"
)

func TestParseRejectsMissingScheme(t *testing.T) {
	_, err := Parse("/just/a/path")
	assert.Error(t, err)
}

func TestParseDefaults(t *testing.T) {
	ep, err := Parse("file:///var/spool/horace")
	require.NoError(t, err)
	assert.Equal(t, 3600, ep.Poll)
	assert.EqualValues(t, 16*1024*1024, ep.Filesize)
	assert.False(t, ep.NoDelete)
	assert.False(t, ep.Diode)
	assert.Zero(t, ep.Rate)
}

func TestParseQueryParams(t *testing.T) {
	ep, err := Parse("file:///var/spool/horace?poll=5&filesize=1MiB&nodelete=true&snaplen=128&diode=1&rate=200")
	require.NoError(t, err)
	assert.Equal(t, 5, ep.Poll)
	assert.EqualValues(t, 1024*1024, ep.Filesize)
	assert.True(t, ep.NoDelete)
	assert.Equal(t, 128, ep.Snaplen)
	assert.True(t, ep.Diode)
	assert.Equal(t, 200.0, ep.Rate)
}

func TestParseRejectsInvalidRate(t *testing.T) {
	_, err := Parse("file:///tmp?rate=-1")
	assert.Error(t, err)
	_, err = Parse("file:///tmp?rate=notanumber")
	assert.Error(t, err)
}

func TestParseRejectsInvalidFilesize(t *testing.T) {
	_, err := Parse("file:///tmp?filesize=notasize")
	assert.Error(t, err)
}

func TestParseHostAndPath(t *testing.T) {
	ep, err := Parse("udp://127.0.0.1:5514/ignored")
	require.NoError(t, err)
	assert.Equal(t, "udp", ep.Scheme)
	assert.Equal(t, "127.0.0.1:5514", ep.Host)
	assert.Equal(t, "/ignored", ep.Path)
}

// stubEventReader and friends let the dispatch tests exercise
// Register/lookup without depending on any concrete scheme package,
// which would otherwise import this package back.
type stubEventReader struct{}

func (stubEventReader) ReadEvent(ctx context.Context) (*record.Record, error) { return nil, nil }
func (stubEventReader) Close() error                                         { return nil }

func TestRegisterAndOpenEventReader(t *testing.T) {
	Register("stubscheme", SchemeEntry{
		EventReader: func(ep *Endpoint) (EventReader, error) {
			return stubEventReader{}, nil
		},
	})
	ep, err := Parse("stubscheme:///whatever")
	require.NoError(t, err)
	r, err := OpenEventReader(ep)
	require.NoError(t, err)
	assert.NotNil(t, r)
}

func TestOpenUnsupportedCapabilityFails(t *testing.T) {
	Register("readonlyscheme", SchemeEntry{
		EventReader: func(ep *Endpoint) (EventReader, error) {
			return stubEventReader{}, nil
		},
	})
	ep, err := Parse("readonlyscheme:///whatever")
	require.NoError(t, err)
	_, err = OpenSessionWriter(ep, "source")
	assert.ErrorIs(t, err, ErrUnsupportedCapability)
}

func TestOpenUnknownSchemeFails(t *testing.T) {
	ep, err := Parse("totallyunknownscheme:///whatever")
	require.NoError(t, err)
	_, err = OpenEventReader(ep)
	assert.Error(t, err)
}
