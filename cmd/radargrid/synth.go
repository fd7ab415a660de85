package main

import (
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"github.com/couchcryptid/radar-grid-etl/internal/adapter/cfradial"
	"github.com/couchcryptid/radar-grid-etl/internal/adapter/uf"
	"github.com/couchcryptid/radar-grid-etl/internal/domain"
)

// synthOptions shape a generated scan tree.
type synthOptions struct {
	Year     int
	Months   int
	Days     int
	Files    int
	Format   string // uf or cfradial
	Seed     uint64
	Fallback bool // add a single-ray sweep to the first scan
	Corrupt  bool // add an undecodable scan to the first day
}

const (
	synthRays        = 360
	synthGates       = 460
	synthGateSpacing = 250.0 // metres
	synthNoise       = 1.5   // dBZ
)

var synthAngles = []float64{0.5, 1.5, 2.4, 3.4}

var synthSite = domain.Site{Name: "KTLX", Latitude: 35.333, Longitude: -97.2775, Altitude: 370}

// stormCell is a gaussian reflectivity core.
type stormCell struct {
	x, y  float64 // metres from the radar
	peak  float64 // dBZ
	sigma float64 // metres
}

// synthesize writes a MM/DD/ tree of scans under root and returns the
// relative paths written, in order.
func synthesize(root string, opts synthOptions) ([]string, error) {
	ext := defaultExtension(opts.Format)
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))

	var written []string
	first := true
	for m := 1; m <= opts.Months; m++ {
		for d := 1; d <= opts.Days; d++ {
			dayDir := filepath.Join(root, fmt.Sprintf("%02d", m), fmt.Sprintf("%02d", d))
			if err := os.MkdirAll(dayDir, 0o755); err != nil {
				return written, fmt.Errorf("create %s: %w", dayDir, err)
			}

			for f := 0; f < opts.Files; f++ {
				at := time.Date(opts.Year, time.Month(m), d, 0, 0, 0, 0, time.UTC).
					Add(time.Duration(f) * 5 * time.Minute)
				name := fmt.Sprintf("%s%s%s", synthSite.Name, at.Format("20060102_150405"), ext)

				v := synthVolume(rng, opts.Fallback && first)
				if err := writeSynthScan(filepath.Join(dayDir, name), v, opts.Format, at); err != nil {
					return written, err
				}
				written = append(written, filepath.ToSlash(filepath.Join(fmt.Sprintf("%02d", m), fmt.Sprintf("%02d", d), name)))
				first = false
			}

			if opts.Corrupt && m == 1 && d == 1 {
				name := "corrupt" + ext
				if err := os.WriteFile(filepath.Join(dayDir, name), []byte("truncated radar scan"), 0o644); err != nil {
					return written, fmt.Errorf("write %s: %w", name, err)
				}
				written = append(written, "01/01/"+name)
			}
		}
	}
	return written, nil
}

func writeSynthScan(path string, v *domain.Volume, format string, at time.Time) error {
	switch format {
	case "uf":
		return uf.Encoder{Radar: synthSite.Name, Time: at}.WriteFile(path, v)
	case "cfradial":
		return cfradial.WriteFile(path, v, "DBZ")
	default:
		return fmt.Errorf("unknown input format %q", format)
	}
}

// synthVolume builds one volume of storm cells over low noise. With fallback
// set, a trailing sweep of a single ray is appended.
func synthVolume(rng *rand.Rand, fallback bool) *domain.Volume {
	cells := make([]stormCell, 2+rng.IntN(4))
	for i := range cells {
		cells[i] = stormCell{
			x:     (rng.Float64()*2 - 1) * 90000,
			y:     (rng.Float64()*2 - 1) * 90000,
			peak:  35 + rng.Float64()*25,
			sigma: 4000 + rng.Float64()*10000,
		}
	}

	v := &domain.Volume{Site: synthSite, Field: "CZ", Range: make([]float64, synthGates)}
	for g := range v.Range {
		v.Range[g] = synthGateSpacing/2 + float64(g)*synthGateSpacing
	}

	for i, angle := range synthAngles {
		v.Sweeps = append(v.Sweeps, synthSweep(rng, i+1, angle, synthRays, v.Range, cells))
	}
	if fallback {
		v.Sweeps = append(v.Sweeps, synthSweep(rng, len(synthAngles)+1, 4.3, 1, v.Range, cells))
	}
	return v
}

func synthSweep(rng *rand.Rand, number int, angle float64, rays int, ranges []float64, cells []stormCell) domain.Sweep {
	sw := domain.Sweep{
		Number:       number,
		FixedAngle:   angle,
		Elevation:    make([]float64, rays),
		Azimuth:      make([]float64, rays),
		Reflectivity: domain.NewMaskedArray(rays, len(ranges)),
	}
	cosEl := math.Cos(angle * math.Pi / 180)
	// Higher tilts overshoot the cores.
	falloff := math.Exp(-angle / 6)

	for r := 0; r < rays; r++ {
		az := float64(r) * 360 / float64(rays)
		sw.Azimuth[r] = az
		sw.Elevation[r] = angle + rng.NormFloat64()*0.05
		sinAz, cosAz := math.Sincos(az * math.Pi / 180)

		for g, slant := range ranges {
			ground := slant * cosEl
			x, y := ground*sinAz, ground*cosAz
			dbz := rng.NormFloat64() * synthNoise
			for _, c := range cells {
				d2 := (x-c.x)*(x-c.x) + (y-c.y)*(y-c.y)
				dbz = math.Max(dbz, c.peak*falloff*math.Exp(-d2/(2*c.sigma*c.sigma)))
			}
			if dbz < -3 {
				continue // no echo
			}
			sw.Reflectivity.Set(r, g, math.Round(dbz*100)/100)
		}
	}
	return sw
}
