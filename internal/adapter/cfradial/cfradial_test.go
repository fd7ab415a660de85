package cfradial

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/radar-grid-etl/internal/domain"
)

func testVolume() *domain.Volume {
	v := &domain.Volume{
		Site:  domain.Site{Name: "KVNX", Latitude: 36.7406, Longitude: -98.1278, Altitude: 378},
		Range: []float64{1000, 1250, 1500},
	}
	for s, n := range []int{3, 5} {
		sw := domain.Sweep{
			Number:       s + 1,
			FixedAngle:   0.5 + float64(s),
			Elevation:    make([]float64, n),
			Azimuth:      make([]float64, n),
			Reflectivity: domain.NewMaskedArray(n, 3),
		}
		for r := 0; r < n; r++ {
			sw.Azimuth[r] = float64(r) * 360 / float64(n)
			sw.Elevation[r] = sw.FixedAngle
			for g := 0; g < 2; g++ {
				sw.Reflectivity.Set(r, g, float64(s*10+r)+float64(g)/2)
			}
		}
		v.Sweeps = append(v.Sweeps, sw)
	}
	return v
}

func TestRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan.nc")
	in := testVolume()
	require.NoError(t, WriteFile(path, in, ""))

	out, err := NewDecoder().Decode(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, path, out.Source)
	assert.Equal(t, "DBZ", out.Field)
	assert.Equal(t, "KVNX", out.Site.Name)
	assert.InDelta(t, 36.7406, out.Site.Latitude, 1e-9)
	assert.InDelta(t, -98.1278, out.Site.Longitude, 1e-9)
	assert.Equal(t, in.Range, out.Range)
	require.Equal(t, 2, out.SweepCount())

	for s := range in.Sweeps {
		want, got := in.Sweeps[s], out.Sweeps[s]
		assert.Equal(t, want.Number, got.Number)
		assert.InDelta(t, want.FixedAngle, got.FixedAngle, 1e-6)
		require.Len(t, got.Azimuth, len(want.Azimuth))
		for r := range want.Azimuth {
			assert.InDelta(t, want.Azimuth[r], got.Azimuth[r], 1e-4)
		}
		assert.Equal(t, want.Reflectivity.Mask, got.Reflectivity.Mask)
		for i := range want.Reflectivity.Data {
			if !want.Reflectivity.Mask[i] {
				assert.InDelta(t, want.Reflectivity.Data[i], got.Reflectivity.Data[i], 1e-6)
			}
		}
	}
}

func TestDecode_NamedField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan.nc")
	require.NoError(t, WriteFile(path, testVolume(), "CZ"))

	v, err := NewDecoder("CZ").Decode(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "CZ", v.Field)

	_, err = NewDecoder("ZDR").Decode(context.Background(), path)
	var de *domain.DecodeError
	require.True(t, errors.As(err, &de))
	assert.Contains(t, de.Error(), "none of fields ZDR present")
}

func TestDecode_NotNetCDF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.nc")
	require.NoError(t, os.WriteFile(path, []byte("definitely not netcdf"), 0o644))

	_, err := NewDecoder().Decode(context.Background(), path)

	var de *domain.DecodeError
	require.True(t, errors.As(err, &de), "want DecodeError, got %v", err)
	assert.Equal(t, path, de.Source)
}

func TestDecode_MissingFile(t *testing.T) {
	_, err := NewDecoder().Decode(context.Background(), filepath.Join(t.TempDir(), "none.nc"))

	var de *domain.DecodeError
	require.True(t, errors.As(err, &de))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestWriteFile_RejectsInvalidVolume(t *testing.T) {
	err := WriteFile(filepath.Join(t.TempDir(), "x.nc"), &domain.Volume{}, "")
	assert.ErrorContains(t, err, "no sweeps")
}

func TestToFloats(t *testing.T) {
	got, err := toFloats([]uint8{0xff, 2})
	require.NoError(t, err)
	assert.Equal(t, []float64{-1, 2}, got)

	_, err = toFloats("text")
	assert.Error(t, err)

	_, ok := attrFloat(nil)
	assert.False(t, ok)
}
