package cfradial

import (
	"errors"
	"fmt"
	"math"
	"os"

	"github.com/ctessum/cdf"

	"github.com/couchcryptid/radar-grid-etl/internal/domain"
)

const (
	packedScale = 0.01
	packedFill  = int16(math.MinInt16)
)

// WriteFile stores v at path as a CfRadial-1 file. Reflectivity is packed as
// int16 hundredths of dBZ under the variable named field (default DBZ).
func WriteFile(path string, v *domain.Volume, field string) (err error) {
	if err := v.Validate(); err != nil {
		return fmt.Errorf("write cfradial: %w", err)
	}
	if field == "" {
		field = "DBZ"
	}
	rays := 0
	for _, s := range v.Sweeps {
		rays += s.Rays()
	}
	gates := len(v.Range)
	if rays == 0 || gates == 0 {
		return errors.New("write cfradial: volume has no rays or gates")
	}

	h := cdf.NewHeader([]string{dimTime, dimRange, dimSweep}, []int{rays, gates, len(v.Sweeps)})
	h.AddAttribute("", "Conventions", "CF/Radial")
	h.AddAttribute("", "instrument_name", v.Site.Name)
	h.AddVariable(varLatitude, nil, []float64{0})
	h.AddVariable(varLongitude, nil, []float64{0})
	h.AddVariable(varAltitude, nil, []float64{0})
	h.AddVariable(varRange, []string{dimRange}, []float32{0})
	h.AddAttribute(varRange, "units", "meters")
	h.AddVariable(varAzimuth, []string{dimTime}, []float32{0})
	h.AddAttribute(varAzimuth, "units", "degrees")
	h.AddVariable(varElevation, []string{dimTime}, []float32{0})
	h.AddAttribute(varElevation, "units", "degrees")
	h.AddVariable(varSweepNum, []string{dimSweep}, []int32{0})
	h.AddVariable(varSweepStart, []string{dimSweep}, []int32{0})
	h.AddVariable(varSweepEnd, []string{dimSweep}, []int32{0})
	h.AddVariable(varFixedAngle, []string{dimSweep}, []float32{0})
	h.AddVariable(field, []string{dimTime, dimRange}, []int16{0})
	h.AddAttribute(field, "units", "dBZ")
	h.AddAttribute(field, "scale_factor", []float64{packedScale})
	h.AddAttribute(field, "add_offset", []float64{0})
	h.AddAttribute(field, "_FillValue", []int16{packedFill})
	h.Define()

	fh, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := fh.Close(); err == nil {
			err = cerr
		}
	}()
	f, err := cdf.Create(fh, h)
	if err != nil {
		return fmt.Errorf("write cfradial header: %w", err)
	}

	az := make([]float32, 0, rays)
	elev := make([]float32, 0, rays)
	refl := make([]int16, 0, rays*gates)
	numbers := make([]int32, len(v.Sweeps))
	starts := make([]int32, len(v.Sweeps))
	ends := make([]int32, len(v.Sweeps))
	fixed := make([]float32, len(v.Sweeps))
	for i, s := range v.Sweeps {
		numbers[i] = int32(s.Number)
		starts[i] = int32(len(az))
		ends[i] = int32(len(az) + s.Rays() - 1)
		fixed[i] = float32(s.FixedAngle)
		for r := range s.Azimuth {
			az = append(az, float32(s.Azimuth[r]))
			e := s.FixedAngle
			if r < len(s.Elevation) {
				e = s.Elevation[r]
			}
			elev = append(elev, float32(e))
			for g := 0; g < gates; g++ {
				refl = append(refl, pack(s.Reflectivity.At(r, g)))
			}
		}
	}
	rng := make([]float32, gates)
	for g, x := range v.Range {
		rng[g] = float32(x)
	}

	writes := []struct {
		name string
		data any
	}{
		{varLatitude, []float64{v.Site.Latitude}},
		{varLongitude, []float64{v.Site.Longitude}},
		{varAltitude, []float64{v.Site.Altitude}},
		{varRange, rng},
		{varAzimuth, az},
		{varElevation, elev},
		{varSweepNum, numbers},
		{varSweepStart, starts},
		{varSweepEnd, ends},
		{varFixedAngle, fixed},
		{field, refl},
	}
	for _, w := range writes {
		if _, err := f.Writer(w.name, nil, nil).Write(w.data); err != nil {
			return fmt.Errorf("write cfradial %s: %w", w.name, err)
		}
	}
	return nil
}

func pack(v float64, valid bool) int16 {
	if !valid || math.IsNaN(v) {
		return packedFill
	}
	q := math.Round(v / packedScale)
	return int16(math.Max(math.Min(q, math.MaxInt16), math.MinInt16+1))
}
