// Package domain models weather-radar volume scans and the gridded
// maximum-reflectivity product derived from them.
//
// # Data Source
//
// Volume scans are produced by a ground radar once every few minutes and stored
// one file per scan in a dated tree:
//
//	<source_root>/<MM>/<DD>/<scan>.uf
//
// A scan is a sequence of sweeps at increasing elevation angles. Each sweep is a
// set of rays (one per azimuth step) and each ray holds one value per range
// gate. Decoding a file into a [Volume] is the job of a [RadarDecoder].
//
// # Radar Conventions
//
// Angles:
//
//	Azimuth is measured clockwise from north in degrees, [0, 360).
//	Elevation and fixed angle are degrees above the horizon.
//
// Reflectivity:
//
//	Values are in dBZ. Cells the radar did not measure (below noise, clutter
//	filtered, or beyond the unambiguous range) are marked invalid in the
//	field's mask rather than given a sentinel value.
//
// Gate ranges:
//
//	Range to the centre of each gate in metres, shared by every sweep of a
//	volume.
//
// # Grid Conventions
//
// The product grid is fixed for a whole batch so artifacts are stackable:
//
//	shape   (z, y, x) = (1, 256, 256)
//	z       0 .. 2000 m above the radar
//	y, x    -128 km .. +128 km from the radar, north and east positive
//
// Grid values are stored row-major with row index y (south to north) and
// column index x (west to east): vals[i*nx + j].
//
// # Reduction
//
// Every sweep of a scan is projected onto the grid at the geometry of the
// lowest sweep (the template sweep, see [ExtractSweep]) and the per-cell
// maximum over all sweeps is kept by [MaxReducer]. A cell is invalid in the
// result only when no sweep produced a value for it.
package domain
