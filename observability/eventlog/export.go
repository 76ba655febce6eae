package eventlog

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
)

type parquetRow struct {
	Sequence   int64  `parquet:"name=sequence, type=INT64"`
	Type       string `parquet:"name=type, type=BYTE_ARRAY, convertedtype=UTF8"`
	Subject    string `parquet:"name=subject, type=BYTE_ARRAY, convertedtype=UTF8"`
	Payload    string `parquet:"name=payload, type=BYTE_ARRAY, convertedtype=UTF8"`
	Digest     string `parquet:"name=digest, type=BYTE_ARRAY, convertedtype=UTF8"`
	RecordedAt string `parquet:"name=recorded_at, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// ExportParquet writes the entries matching filter to a snappy-compressed
// parquet file at path and returns how many rows were written.
func (s *Store) ExportParquet(ctx context.Context, path string, filter Filter) (int, error) {
	entries, err := s.Query(ctx, filter)
	if err != nil {
		return 0, err
	}
	file, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("eventlog: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(parquetRow), 1)
	if err != nil {
		file.Close()
		return 0, fmt.Errorf("eventlog: parquet schema: %w", err)
	}
	pw.RowGroupSize = 64 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, entry := range entries {
		row := &parquetRow{
			Sequence:   int64(entry.Sequence),
			Type:       entry.Type,
			Subject:    entry.Subject,
			Payload:    entry.Payload,
			Digest:     entry.Digest,
			RecordedAt: entry.RecordedAt.UTC().Format(time.RFC3339),
		}
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			file.Close()
			return 0, fmt.Errorf("eventlog: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return 0, fmt.Errorf("eventlog: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return 0, fmt.Errorf("eventlog: close parquet file: %w", err)
	}
	return len(entries), nil
}
