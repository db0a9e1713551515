package data

import (
	"errors"
	"strconv"
	"strings"
)

// Record is one line of the manifest: an item id plus its download status.
type Record struct {
	ID     int
	Status Status
}

// Status is the download state of a manifest record.
type Status string

const (
	StatusPending    Status = "Pending"
	StatusDownloaded Status = "Downloaded"
)

var (
	ErrManifestMissing = errors.New("manifest file not found")
	ErrInvalidLine     = errors.New("manifest line is not an id")
)

// statusMarker is the on-disk prefix for downloaded records. Its absence
// means pending. The manifest file is the only persisted source of truth
// for status; everything else is corroborating evidence.
const statusMarker = "#"

// ParseLine decodes one manifest line. Blank lines yield ErrInvalidLine;
// callers decide whether to tolerate or drop them.
func ParseLine(line string) (Record, error) {
	line = strings.TrimSpace(line)
	st := StatusPending
	if strings.HasPrefix(line, statusMarker) {
		st = StatusDownloaded
		line = strings.TrimSpace(strings.TrimPrefix(line, statusMarker))
	}
	id, err := strconv.Atoi(line)
	if err != nil {
		return Record{}, ErrInvalidLine
	}
	return Record{ID: id, Status: st}, nil
}

// Line encodes the record in manifest form, without a trailing newline.
func (r Record) Line() string {
	if r.Status == StatusDownloaded {
		return statusMarker + strconv.Itoa(r.ID)
	}
	return strconv.Itoa(r.ID)
}
