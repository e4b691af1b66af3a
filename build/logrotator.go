package build

import (
	"compress/gzip"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jrick/logrotate/rotator"
	"github.com/klauspost/compress/zstd"
)

// RotatingLogWriter writes log lines to a size capped file, rolling over to
// compressed archives. Until InitLogRotator is called writes are discarded.
type RotatingLogWriter struct {
	rotator *rotator.Rotator
}

// NewRotatingLogWriter returns a writer without a backing file.
func NewRotatingLogWriter() *RotatingLogWriter {
	return &RotatingLogWriter{}
}

// newCompressor returns the compressor applied to rolled log files.
func newCompressor(name string) (rotator.Compressor, error) {
	switch name {
	case Gzip:
		return gzip.NewWriter(nil), nil

	case Zstd:
		c, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("unable to create zstd "+
				"compressor: %w", err)
		}

		return c, nil

	default:
		return nil, fmt.Errorf("unknown log compressor: %v", name)
	}
}

// InitLogRotator opens logFile, creating its directory if needed. Rolled files
// are kept next to it. The writer must be closed on exit.
func (r *RotatingLogWriter) InitLogRotator(cfg *FileLoggerConfig,
	logFile string) error {

	compressor, err := newCompressor(cfg.Compressor)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(logFile), 0700); err != nil {
		return fmt.Errorf("unable to create log directory: %w", err)
	}

	// MaxLogFileSize is in MB, the rotator threshold in KB.
	r.rotator, err = rotator.New(
		logFile, int64(cfg.MaxLogFileSize*1024), false, cfg.MaxLogFiles,
	)
	if err != nil {
		return fmt.Errorf("unable to create log rotator: %w", err)
	}
	r.rotator.SetCompressor(compressor, logCompressors[cfg.Compressor])

	return nil
}

// Write implements io.Writer.
func (r *RotatingLogWriter) Write(b []byte) (int, error) {
	if r.rotator == nil {
		return len(b), nil
	}

	return r.rotator.Write(b)
}

// Close flushes and closes the log file, if one was opened.
func (r *RotatingLogWriter) Close() error {
	if r.rotator == nil {
		return nil
	}

	return r.rotator.Close()
}
