package feedback

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/ledgerlens/ledgerlens/internal/observability"
)

// FileLog stores one JSON record per line. Each append is a single write of
// a complete line under the log's mutex.
type FileLog struct {
	path   string
	mu     sync.Mutex
	logger *slog.Logger
}

func NewFileLog(path string, logger *slog.Logger) (*FileLog, error) {
	if path == "" {
		return nil, fmt.Errorf("feedback log path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create feedback log dir: %w", err)
		}
	}
	return &FileLog{path: path, logger: observability.Component(logger, "feedback_filelog")}, nil
}

func (l *FileLog) Append(ctx context.Context, record Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	line, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode feedback record: %w", err)
	}
	if len(line) > MaxRecordBytes {
		return fmt.Errorf("%w: %d bytes encoded, limit %d", ErrRecordTooLarge, len(line), MaxRecordBytes)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	file, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open feedback log: %w", err)
	}
	if _, err := file.Write(line); err != nil {
		_ = file.Close()
		return fmt.Errorf("append feedback record: %w", err)
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		return fmt.Errorf("sync feedback log: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close feedback log: %w", err)
	}
	return nil
}

// List reads every readable record. Malformed lines, including a torn last
// line, are skipped and counted in the log.
func (l *FileLog) List(ctx context.Context) ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	file, err := os.Open(l.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []Record{}, nil
		}
		return nil, fmt.Errorf("open feedback log: %w", err)
	}
	defer func() { _ = file.Close() }()

	records := make([]Record, 0)
	skipped := 0
	reader := bufio.NewReaderSize(file, 64*1024)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line, overlong, err := readLine(reader, MaxRecordBytes)
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read feedback log: %w", err)
		}
		switch {
		case overlong:
			skipped++
		case len(bytes.TrimSpace(line)) > 0:
			var record Record
			if jsonErr := json.Unmarshal(line, &record); jsonErr != nil || !record.usable() {
				skipped++
			} else {
				records = append(records, record)
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
	}
	if skipped > 0 {
		l.logger.Warn("skipped unreadable feedback records", "path", l.path, "skipped", skipped)
	}
	return records, nil
}

// readLine returns the next line without its newline. A line longer than
// limit is consumed whole and reported as overlong instead of buffered.
func readLine(r *bufio.Reader, limit int) ([]byte, bool, error) {
	var line []byte
	overlong := false
	for {
		chunk, err := r.ReadSlice('\n')
		if !overlong {
			if len(line)+len(chunk) > limit+1 {
				overlong = true
				line = nil
			} else {
				line = append(line, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return bytes.TrimSuffix(line, []byte("\n")), overlong, err
	}
}
