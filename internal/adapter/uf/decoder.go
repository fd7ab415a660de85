package uf

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/couchcryptid/radar-grid-etl/internal/domain"
)

// Decoder implements domain.RadarDecoder for UF files.
type Decoder struct {
	fields []string
}

// NewDecoder returns a Decoder that reads the first of fields present in the
// volume. With no fields it reads CZ, falling back to DZ.
func NewDecoder(fields ...string) *Decoder {
	var want []string
	for _, f := range fields {
		if f = strings.ToUpper(strings.TrimSpace(f)); f != "" {
			want = append(want, f)
		}
	}
	if len(want) == 0 {
		want = []string{"CZ", "DZ"}
	}
	return &Decoder{fields: want}
}

// Decode reads the UF file at path.
func (d *Decoder) Decode(ctx context.Context, path string) (*domain.Volume, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &domain.DecodeError{Source: path, Err: err}
	}
	v, err := d.DecodeBytes(ctx, data)
	if err != nil {
		var de *domain.DecodeError
		if errors.As(err, &de) {
			de.Source = path
			return nil, de
		}
		return nil, err
	}
	v.Source = path
	return v, nil
}

// DecodeBytes decodes an in-memory UF file. Context errors are returned as is;
// everything else is a *domain.DecodeError.
func (d *Decoder) DecodeBytes(ctx context.Context, data []byte) (*domain.Volume, error) {
	recs, err := splitRecords(data)
	if err != nil {
		return nil, &domain.DecodeError{Err: err}
	}

	first, err := parseRay(recs[0], d.fields, "")
	if err != nil {
		return nil, &domain.DecodeError{Err: fmt.Errorf("record 1: %w", err)}
	}

	v := &domain.Volume{
		Site:  first.site,
		Field: first.field,
	}
	rays := make([]ray, 0, len(recs))
	rays = append(rays, first)
	for i, rec := range recs[1:] {
		if i%512 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		r, err := parseRay(rec, nil, first.field)
		if err != nil {
			return nil, &domain.DecodeError{Err: fmt.Errorf("record %d: %w", i+2, err)}
		}
		rays = append(rays, r)
	}

	gates := 0
	for _, r := range rays {
		gates = max(gates, len(r.values))
	}
	if gates == 0 {
		return nil, &domain.DecodeError{Err: fmt.Errorf("field %s has no gates", first.field)}
	}
	v.Range = make([]float64, gates)
	for g := range v.Range {
		v.Range[g] = first.firstGate + float64(g)*first.spacing
	}

	// Consecutive rays sharing a sweep number form one sweep.
	for start := 0; start < len(rays); {
		end := start + 1
		for end < len(rays) && rays[end].sweep == rays[start].sweep {
			end++
		}
		v.Sweeps = append(v.Sweeps, buildSweep(rays[start:end], gates))
		start = end
	}

	if err := v.Validate(); err != nil {
		return nil, &domain.DecodeError{Err: err}
	}
	return v, nil
}

func buildSweep(rays []ray, gates int) domain.Sweep {
	s := domain.Sweep{
		Number:       rays[0].sweep,
		FixedAngle:   rays[0].fixedAngle,
		Elevation:    make([]float64, len(rays)),
		Azimuth:      make([]float64, len(rays)),
		Reflectivity: domain.NewMaskedArray(len(rays), gates),
	}
	for i, r := range rays {
		s.Azimuth[i] = r.azimuth
		s.Elevation[i] = r.elevation
		for g, val := range r.values {
			if !r.missing[g] {
				s.Reflectivity.Set(i, g, val)
			}
		}
	}
	return s
}

// ray is the decoded content of one record.
type ray struct {
	sweep      int
	azimuth    float64
	elevation  float64
	fixedAngle float64
	site       domain.Site

	field     string
	firstGate float64 // metres
	spacing   float64 // metres
	values    []float64
	missing   []bool
}

// parseRay decodes rec. When field is empty the first of prefer present in
// the record is used; otherwise field must be present.
func parseRay(rec record, prefer []string, field string) (ray, error) {
	if rec.words() < mandatoryHeaderWords {
		return ray{}, errShortRecord
	}
	r := ray{
		sweep:      int(rec.mustWord(wordSweepNumber)),
		azimuth:    float64(rec.mustWord(wordAzimuth)) / angleScale,
		elevation:  float64(rec.mustWord(wordElevation)) / angleScale,
		fixedAngle: float64(rec.mustWord(wordFixedAngle)) / angleScale,
		site: domain.Site{
			Name: rec.text(wordSiteName, 4),
			Latitude: degrees(rec.mustWord(wordLatDegrees), rec.mustWord(wordLatDegrees+1),
				rec.mustWord(wordLatDegrees+2)),
			Longitude: degrees(rec.mustWord(wordLonDegrees), rec.mustWord(wordLonDegrees+1),
				rec.mustWord(wordLonDegrees+2)),
			Altitude: float64(rec.mustWord(wordAltitude)),
		},
	}
	if r.azimuth < 0 {
		r.azimuth += 360
	}
	missing := rec.mustWord(wordMissing)

	fields, err := fieldTable(rec)
	if err != nil {
		return ray{}, err
	}
	if field == "" {
		for _, name := range prefer {
			if _, ok := fields[name]; ok {
				field = name
				break
			}
		}
		if field == "" {
			return ray{}, fmt.Errorf("none of fields %s present (have %s)",
				strings.Join(prefer, ", "), strings.Join(fieldNames(fields), ", "))
		}
	}
	pos, ok := fields[field]
	if !ok {
		return ray{}, fmt.Errorf("field %s missing", field)
	}
	r.field = field

	hdr := make([]int16, fieldHeaderWords)
	for k := range hdr {
		if hdr[k], err = rec.word(pos + k); err != nil {
			return ray{}, fmt.Errorf("field %s header: %w", field, err)
		}
	}
	scale := float64(hdr[fieldScale])
	if scale == 0 {
		return ray{}, fmt.Errorf("field %s has zero scale", field)
	}
	r.firstGate = float64(hdr[fieldRangeKm])*1000 + float64(hdr[fieldAdjustM])
	r.spacing = float64(hdr[fieldSpacingM])
	if r.spacing <= 0 {
		return ray{}, fmt.Errorf("field %s has gate spacing %v", field, r.spacing)
	}

	n := int(hdr[fieldGates])
	if n < 0 {
		return ray{}, fmt.Errorf("field %s has %d gates", field, n)
	}
	data := int(hdr[fieldDataPos])
	r.values = make([]float64, n)
	r.missing = make([]bool, n)
	for g := 0; g < n; g++ {
		raw, err := rec.word(data + g)
		if err != nil {
			return ray{}, fmt.Errorf("field %s gate %d: %w", field, g, err)
		}
		if raw == missing {
			r.missing[g] = true
			continue
		}
		r.values[g] = float64(raw) / scale
	}
	return r, nil
}

// fieldTable maps field names to field header positions from the data header.
func fieldTable(rec record) (map[string]int, error) {
	dh := int(rec.mustWord(wordDataHeaderPos))
	if dh <= mandatoryHeaderWords {
		return nil, fmt.Errorf("data header at word %d", dh)
	}
	count, err := rec.word(dh + 2)
	if err != nil {
		return nil, fmt.Errorf("data header: %w", err)
	}
	if count < 0 {
		return nil, fmt.Errorf("data header lists %d fields", count)
	}
	out := make(map[string]int, int(count))
	for k := 0; k < int(count); k++ {
		at := dh + 3 + 2*k
		if _, err := rec.word(at + 1); err != nil {
			return nil, fmt.Errorf("data header field %d: %w", k, err)
		}
		out[rec.text(at, 1)] = int(rec.mustWord(at + 1))
	}
	return out, nil
}

func fieldNames(m map[string]int) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

var _ domain.RadarDecoder = (*Decoder)(nil)
