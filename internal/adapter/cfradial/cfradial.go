// Package cfradial reads and writes radar volumes stored as CfRadial-1
// NetCDF classic files.
//
// Rays run along the time dimension and gates along range. Sweeps are
// contiguous ray ranges given by sweep_start_ray_index and
// sweep_end_ray_index (inclusive).
package cfradial

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/ctessum/cdf"

	"github.com/couchcryptid/radar-grid-etl/internal/domain"
)

// Variable names.
const (
	varAzimuth    = "azimuth"
	varElevation  = "elevation"
	varRange      = "range"
	varFixedAngle = "fixed_angle"
	varSweepStart = "sweep_start_ray_index"
	varSweepEnd   = "sweep_end_ray_index"
	varSweepNum   = "sweep_number"
	varLatitude   = "latitude"
	varLongitude  = "longitude"
	varAltitude   = "altitude"

	dimTime  = "time"
	dimRange = "range"
	dimSweep = "sweep"
)

// DefaultFields are the reflectivity variable names tried when none are
// configured.
var DefaultFields = []string{"DBZ", "DBZH", "reflectivity", "CZ", "DZ"}

// Decoder implements domain.RadarDecoder for CfRadial files.
type Decoder struct {
	fields []string
}

// NewDecoder returns a Decoder reading the first of fields present in the
// file, or DefaultFields when none are given.
func NewDecoder(fields ...string) *Decoder {
	var want []string
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			want = append(want, f)
		}
	}
	if len(want) == 0 {
		want = DefaultFields
	}
	return &Decoder{fields: want}
}

// Decode reads the CfRadial file at path.
func (d *Decoder) Decode(ctx context.Context, path string) (v *domain.Volume, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, &domain.DecodeError{Source: path, Err: err}
	}
	defer f.Close()

	// The NetCDF reader panics on some malformed headers.
	defer func() {
		if r := recover(); r != nil {
			v, err = nil, &domain.DecodeError{Source: path, Err: fmt.Errorf("malformed file: %v", r)}
		}
	}()

	v, err = d.decode(f)
	if err != nil {
		return nil, &domain.DecodeError{Source: path, Err: err}
	}
	v.Source = path
	return v, nil
}

func (d *Decoder) decode(f *os.File) (*domain.Volume, error) {
	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	nc, err := cdf.Open(f)
	if err != nil {
		return nil, fmt.Errorf("open netcdf: %w", err)
	}
	r := reader{nc: nc, size: st.Size()}

	field := ""
	for _, name := range d.fields {
		if nc.Header.Lengths(name) != nil {
			field = name
			break
		}
	}
	if field == "" {
		return nil, fmt.Errorf("none of fields %s present", strings.Join(d.fields, ", "))
	}

	az, err := r.floats(varAzimuth)
	if err != nil {
		return nil, err
	}
	elev, err := r.floats(varElevation)
	if err != nil {
		return nil, err
	}
	rng, err := r.floats(varRange)
	if err != nil {
		return nil, err
	}
	starts, err := r.floats(varSweepStart)
	if err != nil {
		return nil, err
	}
	ends, err := r.floats(varSweepEnd)
	if err != nil {
		return nil, err
	}
	fixed, err := r.floats(varFixedAngle)
	if err != nil {
		return nil, err
	}
	numbers, err := r.optionalFloats(varSweepNum)
	if err != nil {
		return nil, err
	}
	refl, err := r.floats(field)
	if err != nil {
		return nil, err
	}

	rays, gates := len(az), len(rng)
	switch {
	case len(elev) != rays:
		return nil, fmt.Errorf("%d elevations for %d rays", len(elev), rays)
	case len(refl) != rays*gates:
		return nil, fmt.Errorf("%s has %d values, want %d rays x %d gates", field, len(refl), rays, gates)
	case len(starts) != len(ends) || len(fixed) != len(starts):
		return nil, errors.New("sweep variables disagree in length")
	}

	v := &domain.Volume{
		Site:  r.site(),
		Field: field,
		Range: rng,
	}
	for s := range starts {
		lo, hi := int(starts[s]), int(ends[s])
		if lo < 0 || hi < lo || hi >= rays {
			return nil, fmt.Errorf("sweep %d spans rays %d..%d of %d", s, lo, hi, rays)
		}
		n := hi - lo + 1
		sw := domain.Sweep{
			Number:       s,
			FixedAngle:   fixed[s],
			Elevation:    append([]float64(nil), elev[lo:hi+1]...),
			Azimuth:      append([]float64(nil), az[lo:hi+1]...),
			Reflectivity: domain.NewMaskedArray(n, gates),
		}
		if s < len(numbers) {
			sw.Number = int(numbers[s])
		}
		for i := 0; i < n; i++ {
			for g := 0; g < gates; g++ {
				if val := refl[(lo+i)*gates+g]; !math.IsNaN(val) {
					sw.Reflectivity.Set(i, g, val)
				}
			}
		}
		v.Sweeps = append(v.Sweeps, sw)
	}
	if err := v.Validate(); err != nil {
		return nil, err
	}
	return v, nil
}

// reader reads whole variables as float64, applying CF packing attributes.
// Fill values come back as NaN.
type reader struct {
	nc   *cdf.File
	size int64
}

func (r reader) optionalFloats(name string) ([]float64, error) {
	if r.nc.Header.Lengths(name) == nil {
		return nil, nil
	}
	return r.floats(name)
}

func (r reader) floats(name string) ([]float64, error) {
	h := r.nc.Header
	lengths := h.Lengths(name)
	if lengths == nil {
		return nil, fmt.Errorf("variable %s missing", name)
	}
	lengths = append([]int(nil), lengths...)
	if h.IsRecordVariable(name) {
		lengths[0] = int(h.NumRecs(r.size))
	}
	n := 1
	for _, l := range lengths {
		n *= l
	}
	if n == 0 {
		return nil, nil
	}

	var begin, end []int
	if len(lengths) > 0 {
		begin = make([]int, len(lengths))
		end = make([]int, len(lengths))
		for i, l := range lengths {
			end[i] = l - 1
		}
	}
	rd := r.nc.Reader(name, begin, end)
	buf := rd.Zero(n)
	if _, err := rd.Read(buf); err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	out, err := toFloats(buf)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}

	fill, hasFill := attrFloat(h.GetAttribute(name, "_FillValue"))
	if !hasFill {
		fill, hasFill = attrFloat(h.GetAttribute(name, "missing_value"))
	}
	scale, ok := attrFloat(h.GetAttribute(name, "scale_factor"))
	if !ok {
		scale = 1
	}
	offset, _ := attrFloat(h.GetAttribute(name, "add_offset"))
	for i, x := range out {
		if hasFill && x == fill {
			out[i] = math.NaN()
			continue
		}
		out[i] = x*scale + offset
	}
	return out, nil
}

func (r reader) site() domain.Site {
	first := func(name string) float64 {
		vals, err := r.optionalFloats(name)
		if err != nil || len(vals) == 0 || math.IsNaN(vals[0]) {
			return 0
		}
		return vals[0]
	}
	s := domain.Site{
		Latitude:  first(varLatitude),
		Longitude: first(varLongitude),
		Altitude:  first(varAltitude),
	}
	for _, attr := range []string{"instrument_name", "site_name"} {
		if name, ok := r.nc.Header.GetAttribute("", attr).(string); ok && name != "" {
			s.Name = strings.TrimRight(name, "\x00 ")
			break
		}
	}
	return s
}

func toFloats(buf any) ([]float64, error) {
	switch b := buf.(type) {
	case []float64:
		return b, nil
	case []float32:
		return widen(b), nil
	case []int32:
		return widen(b), nil
	case []int16:
		return widen(b), nil
	case []uint8:
		// NetCDF BYTE is signed.
		out := make([]float64, len(b))
		for i, x := range b {
			out[i] = float64(int8(x))
		}
		return out, nil
	}
	return nil, fmt.Errorf("unsupported type %T", buf)
}

func widen[T float32 | int32 | int16](in []T) []float64 {
	out := make([]float64, len(in))
	for i, x := range in {
		out[i] = float64(x)
	}
	return out
}

// attrFloat returns the first element of a numeric attribute.
func attrFloat(a any) (float64, bool) {
	vals, err := toFloats(a)
	if err != nil || len(vals) == 0 {
		return 0, false
	}
	return vals[0], true
}

var _ domain.RadarDecoder = (*Decoder)(nil)
