package uf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/radar-grid-etl/internal/domain"
)

var volumeTime = time.Date(2011, 1, 9, 18, 30, 5, 0, time.UTC)

// testVolume has two sweeps of four rays and five gates. Gate 4 of every ray
// is missing.
func testVolume() *domain.Volume {
	v := &domain.Volume{
		Site:  domain.Site{Name: "KTLX", Latitude: 35.333, Longitude: -97.2775, Altitude: 370},
		Range: []float64{2125, 2375, 2625, 2875, 3125},
	}
	for s, angle := range []float64{0.5, 1.45} {
		sw := domain.Sweep{
			Number:       s + 1,
			FixedAngle:   angle,
			Elevation:    []float64{angle, angle, angle, angle},
			Azimuth:      []float64{0, 90, 180, 270},
			Reflectivity: domain.NewMaskedArray(4, 5),
		}
		for r := 0; r < 4; r++ {
			for g := 0; g < 4; g++ {
				sw.Reflectivity.Set(r, g, float64(10*s+r)+float64(g)/4-2)
			}
		}
		v.Sweeps = append(v.Sweeps, sw)
	}
	return v
}

func encode(t *testing.T, e Encoder, v *domain.Volume) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, e.Encode(&buf, v))
	return buf.Bytes()
}

func TestRoundTrip(t *testing.T) {
	for _, pad := range []int{0, 2, 4} {
		t.Run(fmt.Sprintf("padding %d", pad), func(t *testing.T) {
			in := testVolume()
			data := encode(t, Encoder{Padding: pad, Time: volumeTime, Radar: "TEST"}, in)

			out, err := NewDecoder().DecodeBytes(context.Background(), data)
			require.NoError(t, err)

			assert.Equal(t, "CZ", out.Field)
			assert.Equal(t, "KTLX", out.Site.Name)
			assert.InDelta(t, in.Site.Latitude, out.Site.Latitude, 1e-4)
			assert.InDelta(t, in.Site.Longitude, out.Site.Longitude, 1e-4)
			assert.InDelta(t, 370.0, out.Site.Altitude, 1e-9)
			assert.Equal(t, in.Range, out.Range)
			require.Equal(t, 2, out.SweepCount())

			for s := range in.Sweeps {
				want, got := in.Sweeps[s], out.Sweeps[s]
				assert.Equal(t, want.Number, got.Number)
				assert.InDelta(t, want.FixedAngle, got.FixedAngle, 1.0/64)
				assert.Equal(t, want.Azimuth, got.Azimuth)
				assert.Equal(t, want.Reflectivity.Mask, got.Reflectivity.Mask)
				for i := range want.Reflectivity.Data {
					assert.InDelta(t, want.Reflectivity.Data[i], got.Reflectivity.Data[i], 0.005)
				}
			}
		})
	}
}

func TestDecode_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aaa.uf")
	require.NoError(t, Encoder{Time: volumeTime}.WriteFile(path, testVolume()))

	v, err := NewDecoder("cz").Decode(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, path, v.Source)
	assert.Equal(t, 2, v.SweepCount())
}

func TestDecode_FallsBackToSecondField(t *testing.T) {
	data := encode(t, Encoder{Field: "DZ", Time: volumeTime}, testVolume())

	v, err := NewDecoder("CZ", "DZ").DecodeBytes(context.Background(), data)
	require.NoError(t, err)
	assert.Equal(t, "DZ", v.Field)
}

func TestDecode_MissingField(t *testing.T) {
	data := encode(t, Encoder{Field: "VR", Time: volumeTime}, testVolume())

	_, err := NewDecoder().DecodeBytes(context.Background(), data)

	var de *domain.DecodeError
	require.True(t, errors.As(err, &de))
	assert.Contains(t, err.Error(), "none of fields CZ, DZ present (have VR)")
}

func TestDecode_Errors(t *testing.T) {
	good := encode(t, Encoder{Time: volumeTime}, testVolume())

	cases := map[string][]byte{
		"empty":     nil,
		"not uf":    []byte("this is not a radar file at all"),
		"truncated": good[:len(good)-7],
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "bad.uf")
			require.NoError(t, os.WriteFile(path, data, 0o644))

			_, err := NewDecoder().Decode(context.Background(), path)

			var de *domain.DecodeError
			require.True(t, errors.As(err, &de), "want DecodeError, got %v", err)
			assert.Equal(t, path, de.Source)
		})
	}
}

func TestDecode_MissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope.uf")

	_, err := NewDecoder().Decode(context.Background(), path)

	var de *domain.DecodeError
	require.True(t, errors.As(err, &de))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestDecode_ContextCancelled(t *testing.T) {
	data := encode(t, Encoder{Time: volumeTime}, testVolume())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewDecoder().DecodeBytes(ctx, data)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEncode_Rejects(t *testing.T) {
	var buf bytes.Buffer

	err := Encoder{Field: "CZX"}.Encode(&buf, testVolume())
	assert.ErrorContains(t, err, "two characters")

	err = Encoder{Padding: 3}.Encode(&buf, testVolume())
	assert.ErrorContains(t, err, "padding")

	err = Encoder{}.Encode(&buf, &domain.Volume{})
	assert.ErrorContains(t, err, "no sweeps")
}

func TestEncode_ClampsAndMasksNaN(t *testing.T) {
	v := testVolume()
	v.Sweeps[0].Reflectivity.Set(0, 0, 1000)
	v.Sweeps[0].Reflectivity.Set(0, 1, math.NaN())

	out, err := NewDecoder().DecodeBytes(context.Background(), encode(t, Encoder{Time: volumeTime}, v))
	require.NoError(t, err)

	val, ok := out.Sweeps[0].Reflectivity.At(0, 0)
	require.True(t, ok)
	assert.InDelta(t, 327.67, val, 1e-9)
	_, ok = out.Sweeps[0].Reflectivity.At(0, 1)
	assert.False(t, ok)
}

func TestDegrees(t *testing.T) {
	for _, v := range []float64{0, 35.333, -97.4625, -0.5, 179.99999} {
		d, m, s := splitDegrees(v)
		assert.InDelta(t, v, degrees(d, m, s), 1e-4, "value %v", v)
	}
}
