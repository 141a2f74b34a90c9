// Package geoindex implements a bucketed spherical-geometry index: points
// are quantized onto a lat/lon grid, each bucket holds the record ids that
// fall in it, and range/nearest-neighbor queries expand outward from the
// query point's bucket using haversine distance (spec §4.3).
package geoindex

import (
	"database/sql"
	"fmt"
	"math"
	"sort"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"qminer/internal/logging"
)

// earthRadiusMeters is the mean Earth radius used by the haversine
// formula; the original uses the same constant (qminer_core.cpp TGeoIndex).
const earthRadiusMeters = 6371000.0

// DefaultPrecision is the default bucket edge length in degrees.
const DefaultPrecision = 1e-6

// Point is a (lat,lon) pair in decimal degrees.
type Point struct {
	Lat float64
	Lon float64
}

type bucketKey struct {
	latIdx int64
	lonIdx int64
}

// GeoIndex is a SQLite-backed quantized-bucket spatial index.
type GeoIndex struct {
	mu        sync.RWMutex
	db        *sql.DB
	precision float64
	readOnly  bool
	log       *logging.Logger
}

// Open creates or opens a GeoIndex at path. precision <= 0 uses
// DefaultPrecision.
func Open(path string, readOnly bool, precision float64) (*GeoIndex, error) {
	if precision <= 0 {
		precision = DefaultPrecision
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open geo index database %s: %w", path, err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	if !readOnly {
		if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS geo_points (
			rec_id INTEGER PRIMARY KEY,
			lat REAL NOT NULL,
			lon REAL NOT NULL,
			lat_idx INTEGER NOT NULL,
			lon_idx INTEGER NOT NULL
		)`); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create geo_points table: %w", err)
		}
		if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS geo_bucket_idx ON geo_points (lat_idx, lon_idx)`); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create geo bucket index: %w", err)
		}
	}
	return &GeoIndex{
		db:        db,
		precision: precision,
		readOnly:  readOnly,
		log:       logging.Get(logging.CategoryGeo),
	}, nil
}

func (g *GeoIndex) Close() error { return g.db.Close() }

func (g *GeoIndex) bucketOf(p Point) bucketKey {
	return bucketKey{
		latIdx: int64(math.Floor(p.Lat / g.precision)),
		lonIdx: int64(math.Floor(p.Lon / g.precision)),
	}
}

// Add indexes recID at p, replacing any previous location for that id.
func (g *GeoIndex) Add(recID uint64, p Point) error {
	if g.readOnly {
		return fmt.Errorf("geo index is read-only")
	}
	timer := logging.StartTimer(logging.CategoryGeo, "add")
	defer timer.Stop()

	b := g.bucketOf(p)
	g.mu.Lock()
	defer g.mu.Unlock()
	_, err := g.db.Exec(`INSERT INTO geo_points (rec_id, lat, lon, lat_idx, lon_idx) VALUES (?,?,?,?,?)
		ON CONFLICT(rec_id) DO UPDATE SET lat=excluded.lat, lon=excluded.lon, lat_idx=excluded.lat_idx, lon_idx=excluded.lon_idx`,
		recID, p.Lat, p.Lon, b.latIdx, b.lonIdx)
	if err != nil {
		return fmt.Errorf("failed to add geo point for record %d: %w", recID, err)
	}
	return nil
}

// Del removes recID from the index.
func (g *GeoIndex) Del(recID uint64) error {
	if g.readOnly {
		return fmt.Errorf("geo index is read-only")
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, err := g.db.Exec(`DELETE FROM geo_points WHERE rec_id = ?`, recID); err != nil {
		return fmt.Errorf("failed to delete geo point for record %d: %w", recID, err)
	}
	return nil
}

// haversineMeters returns the great-circle distance between two points.
func haversineMeters(a, b Point) float64 {
	lat1, lon1 := a.Lat*math.Pi/180, a.Lon*math.Pi/180
	lat2, lon2 := b.Lat*math.Pi/180, b.Lon*math.Pi/180
	dLat := lat2 - lat1
	dLon := lon2 - lon1
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMeters * math.Asin(math.Sqrt(h))
}

// degreesForMeters approximates how many degrees of latitude correspond to
// radiusMeters, used to bound the bucket-scan window for Range/NN.
func degreesForMeters(radiusMeters float64) float64 {
	return radiusMeters / (earthRadiusMeters * math.Pi / 180)
}

type hit struct {
	recID    uint64
	distance float64
}

// Range returns every record within radiusMeters of center, sorted by
// ascending record id (spec §4.3; a caller truncating at a limit keeps
// the lowest ids, not the nearest hits).
func (g *GeoIndex) Range(center Point, radiusMeters float64) ([]uint64, error) {
	timer := logging.StartTimer(logging.CategoryGeo, "range")
	defer timer.Stop()

	degSpan := degreesForMeters(radiusMeters)
	hits, err := g.scanWindow(center, degSpan, func(p Point) (float64, bool) {
		d := haversineMeters(center, p)
		return d, d <= radiusMeters
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].recID < hits[j].recID })
	out := make([]uint64, len(hits))
	for i, h := range hits {
		out[i] = h.recID
	}
	return out, nil
}

// NN returns the k nearest records to center.
func (g *GeoIndex) NN(center Point, k int) ([]uint64, error) {
	timer := logging.StartTimer(logging.CategoryGeo, "nn")
	defer timer.Stop()

	// Expand the search window geometrically until it holds at least k
	// candidates (or the whole table has been scanned).
	degSpan := g.precision * 4
	var hits []hit
	for {
		var err error
		hits, err = g.scanWindow(center, degSpan, func(p Point) (float64, bool) {
			return haversineMeters(center, p), true
		})
		if err != nil {
			return nil, err
		}
		if len(hits) >= k || degSpan > 360 {
			break
		}
		degSpan *= 4
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].distance < hits[j].distance })
	if len(hits) > k {
		hits = hits[:k]
	}
	out := make([]uint64, len(hits))
	for i, h := range hits {
		out[i] = h.recID
	}
	return out, nil
}

// scanWindow loads every point whose bucket falls within degSpan degrees
// of center's bucket and applies keep to decide inclusion/distance.
func (g *GeoIndex) scanWindow(center Point, degSpan float64, keep func(Point) (float64, bool)) ([]hit, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	b := g.bucketOf(center)
	spanBuckets := int64(math.Ceil(degSpan/g.precision)) + 1
	rows, err := g.db.Query(`SELECT rec_id, lat, lon FROM geo_points
		WHERE lat_idx BETWEEN ? AND ? AND lon_idx BETWEEN ? AND ?`,
		b.latIdx-spanBuckets, b.latIdx+spanBuckets, b.lonIdx-spanBuckets, b.lonIdx+spanBuckets)
	if err != nil {
		return nil, fmt.Errorf("failed to scan geo window: %w", err)
	}
	defer rows.Close()

	var hits []hit
	for rows.Next() {
		var recID uint64
		var p Point
		if err := rows.Scan(&recID, &p.Lat, &p.Lon); err != nil {
			return nil, fmt.Errorf("failed to scan geo row: %w", err)
		}
		if d, ok := keep(p); ok {
			hits = append(hits, hit{recID: recID, distance: d})
		}
	}
	return hits, rows.Err()
}
