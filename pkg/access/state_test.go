// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-eseaccess.
//
// go-eseaccess is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package access

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdleIffNoHolder(t *testing.T) {
	s := IdleState()
	assert.True(t, s.Has(Idle))
	assert.True(t, s.IsIdle())

	for _, f := range flagOrder {
		withF := s.With(f)
		assert.False(t, withF.Has(Idle), "Idle must clear when %s is set", f)
		assert.True(t, withF.Has(f))

		back := withF.Without(f)
		assert.True(t, back.Has(Idle), "Idle must return when %s is cleared", f)
	}
}

func TestIdleCannotBeStored(t *testing.T) {
	s := Of(Wired).With(Idle)
	assert.False(t, s.Has(Idle))
	assert.Equal(t, []Flag{Wired}, s.Holders())

	s = s.Without(Idle)
	assert.True(t, s.Has(Wired))
}

func TestSyncFlagsDoNotAffectIdle(t *testing.T) {
	s := IdleState().WithSync(WiredSvddSyncStart)
	assert.True(t, s.IsIdle())
	assert.True(t, s.Syncing())
	assert.False(t, s.Settled().Syncing())
}

func TestString(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{IdleState(), "{Idle}"},
		{Of(Wired), "{Wired}"},
		{Of(Spi, Wired), "{Wired|Spi}"},
		{Of(Wired, SpiPriority), "{Wired|SpiPriority}"},
		{Of(Wired).WithSync(WiredSvddSyncStart), "{Wired/WiredSvddSyncStart}"},
		{Of(Spi).WithSync(SpiSvddSyncStart).WithSync(SpiSvddSyncEnd), "{Spi/SpiSvddSyncStart|SpiSvddSyncEnd}"},
	}
	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.state.String())
		})
	}
}

func TestHeadline(t *testing.T) {
	assert.Equal(t, Idle, IdleState().Headline())
	assert.Equal(t, Wired, Of(Wired).Headline())
	assert.Equal(t, SpiPriority, Of(Wired, SpiPriority).Headline())
	assert.Equal(t, Download, Of(Wired, Download).Headline())
	assert.Equal(t, JcopDownload, Of(Download, JcopDownload).Headline())
}

func TestValidate(t *testing.T) {
	legal := []State{
		IdleState(),
		Of(Wired),
		Of(Spi),
		Of(Wired, Spi),
		Of(Wired, SpiPriority),
		Of(Wired, Download),
		Of(Download, JcopDownload),
		Of(Wired).WithSync(WiredSvddSyncStart).WithSync(WiredSvddSyncEnd),
	}
	for _, s := range legal {
		assert.NoError(t, s.Validate(), s.String())
	}

	illegal := []State{
		Of(Spi, SpiPriority),
		Of(Spi, Download),
		Of(SpiPriority, JcopDownload),
		Of(Wired).WithSync(WiredSvddSyncEnd),
		IdleState().WithSync(SpiSvddSyncEnd),
	}
	for _, s := range illegal {
		err := s.Validate()
		require.Error(t, err, s.String())
		var invErr *InvariantError
		assert.True(t, errors.As(err, &invErr))
	}
}

func TestMustValidatePanics(t *testing.T) {
	assert.Panics(t, func() { Of(Spi, Download).MustValidate() })
	assert.NotPanics(t, func() { Of(Wired, Spi).MustValidate() })
}

func TestBitsRoundTrip(t *testing.T) {
	states := []State{
		IdleState(),
		Of(Wired, SpiPriority),
		Of(Wired, Download, JcopDownload),
		Of(Spi).WithSync(SpiSvddSyncStart),
	}
	for _, s := range states {
		decoded, err := FromBits(s.Bits())
		require.NoError(t, err)
		assert.True(t, s.Equal(decoded), "%s != %s", s, decoded)
	}
}

func TestBitsValues(t *testing.T) {
	assert.Equal(t, BitIdle, IdleState().Bits())
	assert.Equal(t, BitWired|BitSpi, Of(Wired, Spi).Bits())
	assert.Equal(t, BitWired|BitWiredSvddSyncStart, Of(Wired).WithSync(WiredSvddSyncStart).Bits())
}

func TestFromBitsRejectsInconsistentIdle(t *testing.T) {
	_, err := FromBits(BitIdle | BitWired)
	assert.Error(t, err)

	_, err = FromBits(0)
	assert.Error(t, err)

	_, err = FromBits(0x0020)
	assert.Error(t, err)
}

func TestJSON(t *testing.T) {
	s := Of(Wired, Spi)
	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `{"bits":1536,"holders":["Wired","Spi"]}`, string(data))

	var decoded State
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, s.Equal(decoded))
}
