package uf

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/couchcryptid/radar-grid-etl/internal/domain"
)

// Encoder writes volumes as single-field UF files.
type Encoder struct {
	Field   string    // field name, two characters; default CZ
	Scale   int16     // stored value = physical * Scale; default 100
	Missing int16     // default -32768
	Padding int       // Fortran record marker bytes: 0, 2 or 4
	Radar   string    // radar name, up to 8 characters
	Time    time.Time // volume time; zero means domain.Now()
}

// Layout of the records this encoder writes.
const (
	encDataHeaderPos  = mandatoryHeaderWords + 1
	encFieldHeaderPos = encDataHeaderPos + 5
	encDataPos        = encFieldHeaderPos + fieldHeaderWords
)

func (e Encoder) withDefaults() Encoder {
	if e.Field == "" {
		e.Field = "CZ"
	}
	if e.Scale == 0 {
		e.Scale = 100
	}
	if e.Missing == 0 {
		e.Missing = math.MinInt16
	}
	if e.Time.IsZero() {
		e.Time = domain.Now()
	}
	return e
}

// Encode writes v to w, one record per ray.
func (e Encoder) Encode(w io.Writer, v *domain.Volume) error {
	e = e.withDefaults()
	if len(e.Field) != 2 {
		return fmt.Errorf("encode: field name %q must be two characters", e.Field)
	}
	if e.Padding != 0 && e.Padding != 2 && e.Padding != 4 {
		return fmt.Errorf("encode: padding %d, want 0, 2 or 4", e.Padding)
	}
	if err := v.Validate(); err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	gates := len(v.Range)
	if gates < 2 {
		return errors.New("encode: need at least two gates")
	}
	if encDataPos+gates-1 > math.MaxInt16 {
		return fmt.Errorf("encode: %d gates do not fit a record", gates)
	}

	bw := bufio.NewWriter(w)
	recNo := 0
	for si, s := range v.Sweeps {
		number := s.Number
		if number == 0 {
			number = si + 1
		}
		for ri := range s.Azimuth {
			recNo++
			elev := s.FixedAngle
			if ri < len(s.Elevation) {
				elev = s.Elevation[ri]
			}
			rec := e.record(v, s, ri, number, recNo, elev)
			if err := e.writeRecord(bw, rec); err != nil {
				return fmt.Errorf("encode sweep %d ray %d: %w", si, ri, err)
			}
		}
	}
	return bw.Flush()
}

func (e Encoder) record(v *domain.Volume, s domain.Sweep, ri, sweepNumber, recNo int, elev float64) []int16 {
	gates := len(v.Range)
	words := make([]int16, encDataPos-1+gates)
	set := func(pos int, val int16) { words[pos-1] = val }
	setText := func(pos, n int, txt string) {
		b := make([]byte, 2*n)
		for i := range b {
			b[i] = ' '
		}
		copy(b, txt)
		for k := 0; k < n; k++ {
			words[pos-1+k] = int16(binary.BigEndian.Uint16(b[2*k:]))
		}
	}
	angle := func(deg float64) int16 { return int16(math.Round(deg * angleScale)) }

	setText(wordMagic, 1, "UF")
	set(wordRecordLength, int16(len(words)))
	set(wordOptionalPos, encDataHeaderPos)
	set(wordLocalUsePos, encDataHeaderPos)
	set(wordDataHeaderPos, encDataHeaderPos)
	set(wordRecordNumber, int16(recNo))
	set(wordVolumeNumber, 1)
	set(wordRayNumber, int16(ri+1))
	set(wordRayRecord, 1)
	set(wordSweepNumber, int16(sweepNumber))
	setText(wordRadarName, 4, e.Radar)
	setText(wordSiteName, 4, v.Site.Name)
	d, m, sec := splitDegrees(v.Site.Latitude)
	set(wordLatDegrees, d)
	set(wordLatDegrees+1, m)
	set(wordLatDegrees+2, sec)
	d, m, sec = splitDegrees(v.Site.Longitude)
	set(wordLonDegrees, d)
	set(wordLonDegrees+1, m)
	set(wordLonDegrees+2, sec)
	set(wordAltitude, int16(math.Round(v.Site.Altitude)))
	t := e.Time.UTC()
	for k, val := range []int{t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second()} {
		set(wordYear+k, int16(val))
	}
	setText(wordTimeZone, 1, "UT")
	az := math.Mod(math.Mod(s.Azimuth[ri], 360)+360, 360)
	set(wordAzimuth, angle(az))
	set(wordElevation, angle(elev))
	set(wordSweepMode, 1) // PPI
	set(wordFixedAngle, angle(s.FixedAngle))
	for k, val := range []int{t.Year(), int(t.Month()), t.Day()} {
		set(wordGenYear+k, int16(val))
	}
	setText(wordGenFacility, 4, "RADARGRD")
	set(wordMissing, e.Missing)

	set(encDataHeaderPos, 1)   // fields in ray
	set(encDataHeaderPos+1, 1) // records in ray
	set(encDataHeaderPos+2, 1) // fields in this record
	setText(encDataHeaderPos+3, 1, e.Field)
	set(encDataHeaderPos+4, encFieldHeaderPos)

	r0 := v.Range[0]
	km := math.Floor(r0 / 1000)
	spacing := int16(math.Round(v.Range[1] - v.Range[0]))
	fh := encFieldHeaderPos
	set(fh+fieldDataPos, encDataPos)
	set(fh+fieldScale, e.Scale)
	set(fh+fieldRangeKm, int16(km))
	set(fh+fieldAdjustM, int16(math.Round(r0-km*1000)))
	set(fh+fieldSpacingM, spacing)
	set(fh+fieldGates, int16(gates))
	set(fh+fieldGateDepth, spacing)
	set(fh+fieldBeamWidthH, angle(1))
	set(fh+fieldBeamWidthV, angle(1))

	scale := float64(e.Scale)
	for g := 0; g < gates; g++ {
		val, ok := s.Reflectivity.At(ri, g)
		raw := e.Missing
		if ok && !math.IsNaN(val) {
			q := math.Round(val * scale)
			q = math.Max(math.Min(q, math.MaxInt16), math.MinInt16+1)
			raw = int16(q)
		}
		set(encDataPos+g, raw)
	}
	return words
}

func (e Encoder) writeRecord(w io.Writer, words []int16) error {
	n := 2 * len(words)
	buf := make([]byte, 0, n+2*e.Padding)
	buf = e.appendMarker(buf, n)
	for _, wd := range words {
		buf = binary.BigEndian.AppendUint16(buf, uint16(wd))
	}
	buf = e.appendMarker(buf, n)
	_, err := w.Write(buf)
	return err
}

func (e Encoder) appendMarker(buf []byte, n int) []byte {
	switch e.Padding {
	case 2:
		return binary.BigEndian.AppendUint16(buf, uint16(n))
	case 4:
		return binary.BigEndian.AppendUint32(buf, uint32(n))
	}
	return buf
}

// WriteFile encodes v into a new file at path.
func (e Encoder) WriteFile(path string, v *domain.Volume) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return e.Encode(f, v)
}
