package logging

import (
	"io"
	"sync"

	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// writerAppender encodes entries with the console encoder and writes them to an io.Writer.
type writerAppender struct {
	mu      sync.Mutex
	encoder zapcore.Encoder
	out     io.Writer
}

// NewWriterAppender returns an appender that writes tab separated console lines to w.
func NewWriterAppender(w io.Writer) Appender {
	return &writerAppender{
		encoder: zapcore.NewConsoleEncoder(NewZapLoggerConfig().EncoderConfig),
		out:     w,
	}
}

// Write outputs the log entry to the underlying writer.
func (wa *writerAppender) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	buf, err := wa.encoder.EncodeEntry(entry, fields)
	if err != nil {
		return err
	}
	defer buf.Free()

	wa.mu.Lock()
	defer wa.mu.Unlock()
	_, err = wa.out.Write(buf.Bytes())
	return err
}

// Sync flushes the writer if it supports syncing.
func (wa *writerAppender) Sync() error {
	if syncer, ok := wa.out.(interface{ Sync() error }); ok {
		return syncer.Sync()
	}
	return nil
}

// FileAppenderConfig controls log file rotation.
type FileAppenderConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

type fileAppender struct {
	Appender
	file *lumberjack.Logger
}

// NewFileAppender returns an appender writing to a size-rotated log file. Zero values keep
// lumberjack's defaults.
func NewFileAppender(cfg FileAppenderConfig) Appender {
	file := &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	return &fileAppender{Appender: NewWriterAppender(file), file: file}
}

// Sync closes the current file handle; lumberjack reopens it on the next write.
func (fa *fileAppender) Sync() error {
	return fa.file.Close()
}
