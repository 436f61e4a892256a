package store

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"sync/atomic"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/neotalk/edge-ai/pkg/models"
)

// Telemetry keys are device\x00metric\x00ts(8B BE nanos)seq(4B BE).
// The sequence counter preserves insertion order for duplicate timestamps.
var tsSeq atomic.Uint32

func seriesPrefix(deviceID, metric string) []byte {
	buf := make([]byte, 0, len(deviceID)+len(metric)+2)
	buf = append(buf, deviceID...)
	buf = append(buf, 0)
	buf = append(buf, metric...)
	buf = append(buf, 0)
	return buf
}

func seriesKey(deviceID, metric string, ts time.Time) []byte {
	key := seriesPrefix(deviceID, metric)
	var stamp [12]byte
	binary.BigEndian.PutUint64(stamp[:8], uint64(ts.UnixNano()))
	binary.BigEndian.PutUint32(stamp[8:], tsSeq.Add(1))
	return append(key, stamp[:]...)
}

// WriteTelemetry appends a point to the per-(device, metric) series.
func (s *Store) WriteTelemetry(deviceID, metric string, point models.TelemetryPoint) error {
	if point.Timestamp.IsZero() {
		point.Timestamp = time.Now()
	}
	value, err := json.Marshal(point)
	if err != nil {
		return &StoreError{Kind: KindIO, Table: TableTelemetry, Err: err}
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(TableTelemetry))
		if b == nil {
			return errors.New("no such table")
		}
		return b.Put(seriesKey(deviceID, metric, point.Timestamp), value)
	})
	if err != nil {
		return ioErr(TableTelemetry, err)
	}
	return nil
}

// QueryTelemetry returns points in [start, end] for the series, oldest first.
func (s *Store) QueryTelemetry(deviceID, metric string, start, end time.Time) ([]models.TelemetryPoint, error) {
	prefix := seriesPrefix(deviceID, metric)
	var points []models.TelemetryPoint

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(TableTelemetry))
		if b == nil {
			return errors.New("no such table")
		}
		c := b.Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var p models.TelemetryPoint
			if err := json.Unmarshal(v, &p); err != nil {
				s.logger.Warn("skipping corrupt telemetry row", "device", deviceID, "metric", metric, "error", err)
				continue
			}
			if !start.IsZero() && p.Timestamp.Before(start) {
				continue
			}
			if !end.IsZero() && p.Timestamp.After(end) {
				continue
			}
			points = append(points, p)
		}
		return nil
	})
	if err != nil {
		return nil, ioErr(TableTelemetry, err)
	}
	return points, nil
}

// LatestTelemetry returns the newest n points for the series, newest first.
func (s *Store) LatestTelemetry(deviceID, metric string, n int) ([]models.TelemetryPoint, error) {
	if n <= 0 {
		return nil, nil
	}
	prefix := seriesPrefix(deviceID, metric)
	var points []models.TelemetryPoint

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(TableTelemetry))
		if b == nil {
			return errors.New("no such table")
		}
		c := b.Cursor()

		// Position at the last key of the series: seek just past the prefix,
		// then step back.
		upper := append(append([]byte(nil), prefix...), 0xFF)
		k, v := c.Seek(upper)
		if k == nil {
			k, v = c.Last()
		} else {
			k, v = c.Prev()
		}
		for ; k != nil && bytes.HasPrefix(k, prefix) && len(points) < n; k, v = c.Prev() {
			var p models.TelemetryPoint
			if err := json.Unmarshal(v, &p); err != nil {
				s.logger.Warn("skipping corrupt telemetry row", "device", deviceID, "metric", metric, "error", err)
				continue
			}
			points = append(points, p)
		}
		return nil
	})
	if err != nil {
		return nil, ioErr(TableTelemetry, err)
	}
	return points, nil
}

// LatestValue returns the most recent numeric value for (device, metric).
// It satisfies the rule engine's value provider contract.
func (s *Store) LatestValue(deviceID, metric string) (float64, bool) {
	points, err := s.LatestTelemetry(deviceID, metric, 1)
	if err != nil || len(points) == 0 {
		return 0, false
	}
	return points[0].Value, true
}
