// Package uf reads and writes radar volumes in Universal Format (UF).
//
// A UF file is a sequence of records, one per ray. Each record is a run of
// big-endian 16-bit words made of a mandatory header, an optional header, a
// data header listing the fields present, and one field header plus gate data
// per field. Word positions below are 1-based as in the format description.
// Files written by Fortran tools wrap each record in 2- or 4-byte length
// markers; the decoder detects which from the first record.
package uf

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Mandatory header word positions.
const (
	wordMagic         = 1
	wordRecordLength  = 2
	wordOptionalPos   = 3
	wordLocalUsePos   = 4
	wordDataHeaderPos = 5
	wordRecordNumber  = 6
	wordVolumeNumber  = 7
	wordRayNumber     = 8
	wordRayRecord     = 9
	wordSweepNumber   = 10
	wordRadarName     = 11 // 4 words
	wordSiteName      = 15 // 4 words
	wordLatDegrees    = 19
	wordLonDegrees    = 22
	wordAltitude      = 25
	wordYear          = 26
	wordTimeZone      = 32
	wordAzimuth       = 33
	wordElevation     = 34
	wordSweepMode     = 35
	wordFixedAngle    = 36
	wordGenYear       = 38
	wordGenFacility   = 41 // 4 words
	wordMissing       = 45

	mandatoryHeaderWords = 45
)

// Field header word offsets, relative to the field header position.
const (
	fieldDataPos    = 0
	fieldScale      = 1
	fieldRangeKm    = 2
	fieldAdjustM    = 3
	fieldSpacingM   = 4
	fieldGates      = 5
	fieldGateDepth  = 6
	fieldBeamWidthH = 7
	fieldBeamWidthV = 8

	fieldHeaderWords = 19
)

// angleScale converts the header's fixed-point angles (degrees*64).
const angleScale = 64.0

var magic = [2]byte{'U', 'F'}

var errShortRecord = errors.New("record shorter than its header claims")

// record is one UF record without any Fortran length markers.
type record []byte

// word returns the signed 16-bit value at 1-based position pos.
func (r record) word(pos int) (int16, error) {
	i := 2 * (pos - 1)
	if pos < 1 || i+2 > len(r) {
		return 0, fmt.Errorf("word %d: %w", pos, errShortRecord)
	}
	return int16(binary.BigEndian.Uint16(r[i:])), nil
}

// mustWord is word for positions already bounds-checked by the caller.
func (r record) mustWord(pos int) int16 {
	return int16(binary.BigEndian.Uint16(r[2*(pos-1):]))
}

// text returns n words starting at pos as an ASCII string, trailing blanks
// and NULs removed.
func (r record) text(pos, n int) string {
	b := r[2*(pos-1) : 2*(pos-1+n)]
	end := len(b)
	for end > 0 && (b[end-1] == ' ' || b[end-1] == 0) {
		end--
	}
	return string(b[:end])
}

// words returns the record length in words.
func (r record) words() int { return len(r) / 2 }

// detectPadding reports how many marker bytes precede each record: 0, 2 or 4.
func detectPadding(data []byte) (int, error) {
	for _, pad := range []int{0, 2, 4} {
		if len(data) >= pad+2 && data[pad] == magic[0] && data[pad+1] == magic[1] {
			return pad, nil
		}
	}
	return 0, errors.New("not a UF file: missing \"UF\" marker")
}

// splitRecords cuts data into records, dropping Fortran length markers.
func splitRecords(data []byte) ([]record, error) {
	pad, err := detectPadding(data)
	if err != nil {
		return nil, err
	}
	var out []record
	for pos := 0; pos < len(data); {
		start := pos + pad
		if start+4 > len(data) {
			// Trailing filler after the last record.
			break
		}
		if data[start] != magic[0] || data[start+1] != magic[1] {
			return nil, fmt.Errorf("record %d at byte %d: missing \"UF\" marker", len(out)+1, start)
		}
		n := int(binary.BigEndian.Uint16(data[start+2:]))
		end := start + 2*n
		if n < mandatoryHeaderWords || end > len(data) {
			return nil, fmt.Errorf("record %d at byte %d: %w", len(out)+1, start, errShortRecord)
		}
		out = append(out, record(data[start:end]))
		pos = end + pad
	}
	if len(out) == 0 {
		return nil, errors.New("no records")
	}
	return out, nil
}

// degrees converts a signed degrees/minutes/seconds*64 triple.
func degrees(d, m, s int16) float64 {
	return float64(d) + float64(m)/60 + float64(s)/angleScale/3600
}

// splitDegrees is the inverse of degrees. All three parts carry the sign.
func splitDegrees(v float64) (d, m, s int16) {
	sign := 1.0
	if v < 0 {
		sign, v = -1, -v
	}
	whole := int(v)
	rem := (v - float64(whole)) * 60
	mins := int(rem)
	secs := int((rem-float64(mins))*60*angleScale + 0.5)
	if secs >= 60*int(angleScale) {
		secs -= 60 * int(angleScale)
		mins++
	}
	if mins >= 60 {
		mins -= 60
		whole++
	}
	return int16(sign * float64(whole)), int16(sign * float64(mins)), int16(sign * float64(secs))
}
