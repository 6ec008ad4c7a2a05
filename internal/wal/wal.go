// Package wal provides the segmented write-ahead log behind the log-backed
// event store. Every mutation of the store is appended as one record and
// fsynced before the mutation is acknowledged.
package wal

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Op identifies the kind of mutation an entry records.
type Op string

const (
	OpAdd    Op = "add"
	OpDelete Op = "del"
)

const headerSize = 8

// WAL is an append-only sequence of size-bounded segment files.
type WAL struct {
	dir        string
	segment    *os.File
	segmentID  uint64
	offset     int64
	maxSegSize int64
	currentLSN uint64
	lsnSegment uint64 // segment holding currentLSN
	logger     *slog.Logger
	mu         sync.Mutex
}

// Entry is a single WAL record. Add entries carry the event payload,
// delete entries carry the LSNs of the add entries they cancel.
type Entry struct {
	LSN       uint64          `json:"lsn"`
	Op        Op              `json:"op"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Targets   []uint64        `json:"targets,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// Open opens the log in dir, creating the directory if needed. A truncated
// record at the tail of the newest segment is cut off so that appends
// continue from the last complete record.
func Open(dir string, maxSegSize int64, logger *slog.Logger) (*WAL, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create WAL directory: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	w := &WAL{
		dir:        dir,
		maxSegSize: maxSegSize,
		logger:     logger,
	}

	if err := w.recoverTail(); err != nil {
		return nil, err
	}

	if err := w.openSegment(); err != nil {
		return nil, err
	}

	return w, nil
}

// recoverTail finds the newest segment and the highest LSN on disk.
func (w *WAL) recoverTail() error {
	ids, err := listSegments(w.dir)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	for _, id := range ids {
		entries, _, err := w.readSegment(id)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if e.LSN > w.currentLSN {
				w.currentLSN = e.LSN
				w.lsnSegment = id
			}
		}
	}

	last := ids[len(ids)-1]
	w.segmentID = last

	_, validEnd, err := w.readSegment(last)
	if err != nil {
		return err
	}
	path := segmentPath(w.dir, last)
	stat, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat segment: %w", err)
	}
	if stat.Size() > validEnd {
		w.logger.Warn("truncating incomplete WAL tail",
			"segment", filepath.Base(path), "from", stat.Size(), "to", validEnd)
		if err := os.Truncate(path, validEnd); err != nil {
			return fmt.Errorf("failed to truncate segment: %w", err)
		}
	}
	return nil
}

// openSegment opens the current segment file for writing.
func (w *WAL) openSegment() error {
	file, err := os.OpenFile(segmentPath(w.dir, w.segmentID), os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("failed to open segment file: %w", err)
	}

	offset, err := file.Seek(0, io.SeekEnd)
	if err != nil {
		file.Close()
		return fmt.Errorf("failed to seek segment: %w", err)
	}

	w.segment = file
	w.offset = offset
	return nil
}

// Append assigns the next LSN to entry, writes it and returns the LSN
// together with the segment the entry landed in.
func (w *WAL) Append(entry *Entry) (uint64, uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.segment == nil {
		return 0, 0, fmt.Errorf("wal: closed")
	}

	entry.LSN = w.currentLSN + 1

	data, err := json.Marshal(entry)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to serialize entry: %w", err)
	}

	segID := w.segmentID
	if err := w.writeEntry(data); err != nil {
		return 0, 0, err
	}
	w.currentLSN = entry.LSN
	w.lsnSegment = segID

	return entry.LSN, segID, nil
}

// writeEntry writes [length:4][crc32:4][payload] and fsyncs.
func (w *WAL) writeEntry(data []byte) error {
	buf := make([]byte, headerSize+len(data))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(data)))
	binary.LittleEndian.PutUint32(buf[4:8], crc32.ChecksumIEEE(data))
	copy(buf[headerSize:], data)

	if _, err := w.segment.Write(buf); err != nil {
		return fmt.Errorf("failed to write entry: %w", err)
	}

	if err := w.segment.Sync(); err != nil {
		return fmt.Errorf("failed to fsync: %w", err)
	}

	w.offset += int64(len(buf))

	if w.offset >= w.maxSegSize {
		if err := w.rotateSegment(); err != nil {
			return err
		}
	}
	return nil
}

// RotateSegment closes the current segment and opens a new one.
func (w *WAL) RotateSegment() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rotateSegment()
}

func (w *WAL) rotateSegment() error {
	if w.segment != nil {
		if err := w.segment.Close(); err != nil {
			return fmt.Errorf("failed to close segment: %w", err)
		}
	}
	w.segmentID++
	return w.openSegment()
}

// CurrentLSN returns the highest assigned LSN.
func (w *WAL) CurrentLSN() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.currentLSN
}

// CurrentSegment returns the id of the segment receiving appends.
func (w *WAL) CurrentSegment() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.segmentID
}

// Segments lists the ids of all segments on disk, oldest first.
func (w *WAL) Segments() ([]uint64, error) {
	return listSegments(w.dir)
}

// Replay calls fn for every valid entry in LSN order along with the id of
// the segment holding it. Records that fail the CRC check are skipped.
func (w *WAL) Replay(fn func(segmentID uint64, e *Entry) error) error {
	ids, err := listSegments(w.dir)
	if err != nil {
		return err
	}
	for _, id := range ids {
		entries, _, err := w.readSegment(id)
		if err != nil {
			return err
		}
		for _, e := range entries {
			if err := fn(id, e); err != nil {
				return err
			}
		}
	}
	return nil
}

// Reclaimable reports whether segment id may be removed. The active
// segment and the segment holding the highest LSN are always kept, so the
// LSN sequence survives a restart.
func (w *WAL) Reclaimable(id uint64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return id < w.segmentID && id < w.lsnSegment
}

// RemoveSegment deletes a closed segment.
func (w *WAL) RemoveSegment(id uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if id >= w.segmentID || id >= w.lsnSegment {
		return fmt.Errorf("wal: segment %d is still needed", id)
	}
	if err := os.Remove(segmentPath(w.dir, id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove segment: %w", err)
	}
	return nil
}

// Close fsyncs and closes the current segment.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.segment != nil {
		if err := w.segment.Sync(); err != nil {
			return fmt.Errorf("failed to fsync on close: %w", err)
		}
		if err := w.segment.Close(); err != nil {
			return fmt.Errorf("failed to close segment: %w", err)
		}
		w.segment = nil
	}
	return nil
}

func (w *WAL) readSegment(id uint64) ([]*Entry, int64, error) {
	return ReadEntries(segmentPath(w.dir, id), w.logger)
}

// ReadEntries reads all entries from a segment file. It also returns the
// offset just past the last complete record.
func ReadEntries(path string, logger *slog.Logger) ([]*Entry, int64, error) {
	if logger == nil {
		logger = slog.Default()
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open segment: %w", err)
	}
	defer file.Close()

	var (
		entries []*Entry
		offset  int64
		header  [headerSize]byte
	)
	for {
		if _, err := io.ReadFull(file, header[:]); err != nil {
			// EOF or a partial header: the tail was never completed
			break
		}
		length := binary.LittleEndian.Uint32(header[0:4])
		crc := binary.LittleEndian.Uint32(header[4:8])

		data := make([]byte, length)
		if _, err := io.ReadFull(file, data); err != nil {
			break
		}
		recordStart := offset
		offset += int64(headerSize) + int64(length)

		if crc32.ChecksumIEEE(data) != crc {
			logger.Warn("WAL CRC mismatch, skipping entry",
				"segment", filepath.Base(path), "offset", recordStart)
			continue
		}

		var entry Entry
		if err := json.Unmarshal(data, &entry); err != nil {
			logger.Warn("WAL entry not decodable, skipping",
				"segment", filepath.Base(path), "offset", recordStart, "error", err)
			continue
		}
		entries = append(entries, &entry)
	}

	return entries, offset, nil
}

func segmentPath(dir string, id uint64) string {
	return filepath.Join(dir, fmt.Sprintf("wal_%016x.log", id))
}

func listSegments(dir string) ([]uint64, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read WAL directory: %w", err)
	}

	var ids []uint64
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		name := file.Name()
		if len(name) != 24 || name[:4] != "wal_" || name[20:] != ".log" {
			continue
		}
		var id uint64
		if _, err := fmt.Sscanf(name[4:20], "%016x", &id); err == nil {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}
