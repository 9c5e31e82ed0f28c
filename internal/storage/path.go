package storage

import (
	"fmt"
	"path"
	"regexp"
	"strconv"
	"time"
)

var (
	pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)
	archiveNamePattern   = regexp.MustCompile(`^part-([0-9]+)-([0-9]{5,})\.parquet$`)
	markerNamePattern    = regexp.MustCompile(`^through-([0-9]+)$`)
)

const watermarkDir = "_watermark"

// BuildArchivePath names the archive holding records up to and including
// through. Keys sort by date partition, then by watermark.
func BuildArchivePath(dataset string, through time.Time, count int) (string, error) {
	if err := validatePathComponent(dataset, "dataset"); err != nil {
		return "", err
	}
	if count <= 0 {
		return "", fmt.Errorf("archive record count must be > 0")
	}
	ts := through.UTC()
	return path.Join(
		dataset,
		fmt.Sprintf("date=%04d-%02d-%02d", ts.Year(), ts.Month(), ts.Day()),
		fmt.Sprintf("part-%d-%05d.parquet", ts.UnixMilli(), count),
	), nil
}

// ArchiveWatermark recovers the through time encoded by BuildArchivePath.
func ArchiveWatermark(key string) (time.Time, bool) {
	matches := archiveNamePattern.FindStringSubmatch(path.Base(key))
	if matches == nil {
		return time.Time{}, false
	}
	millis, err := strconv.ParseInt(matches[1], 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(millis).UTC(), true
}

// BuildWatermarkPath names the marker recording how far a dataset has been
// archived. Markers never match ArchiveWatermark, so retention leaves them.
func BuildWatermarkPath(dataset string, through time.Time) (string, error) {
	if err := validatePathComponent(dataset, "dataset"); err != nil {
		return "", err
	}
	return path.Join(dataset, watermarkDir, fmt.Sprintf("through-%d", through.UTC().UnixMilli())), nil
}

// MarkerWatermark recovers the time encoded by BuildWatermarkPath.
func MarkerWatermark(key string) (time.Time, bool) {
	if path.Base(path.Dir(key)) != watermarkDir {
		return time.Time{}, false
	}
	matches := markerNamePattern.FindStringSubmatch(path.Base(key))
	if matches == nil {
		return time.Time{}, false
	}
	millis, err := strconv.ParseInt(matches[1], 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(millis).UTC(), true
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
