package indexer

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
	"gorm.io/gorm"
)

const exportBatchSize = 500

type parquetEvent struct {
	Height     int64  `parquet:"name=height, type=INT64"`
	Position   int32  `parquet:"name=position, type=INT32"`
	Type       string `parquet:"name=type, type=BYTE_ARRAY, convertedtype=UTF8"`
	Attributes string `parquet:"name=attributes, type=BYTE_ARRAY, convertedtype=UTF8"`
	RecordedAt string `parquet:"name=recorded_at, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// ExportParquet streams every event matching filter to w as a Parquet file,
// ignoring filter.Limit. It returns the number of rows written.
func (ix *Indexer) ExportParquet(ctx context.Context, w io.Writer, filter Filter) (int, error) {
	pw, err := writer.NewParquetWriter(writerfile.NewWriterFile(w), new(parquetEvent), 1)
	if err != nil {
		return 0, fmt.Errorf("indexer: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	query := ix.db.WithContext(ctx).Model(&EventRecord{})
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if filter.FromHeight > 0 {
		query = query.Where("height >= ?", filter.FromHeight)
	}
	if filter.ToHeight > 0 {
		query = query.Where("height <= ?", filter.ToHeight)
	}

	written := 0
	var rows []EventRecord
	result := query.Order("height ASC").Order("position ASC").FindInBatches(&rows, exportBatchSize, func(tx *gorm.DB, batch int) error {
		for _, row := range rows {
			if err := pw.Write(&parquetEvent{
				Height:     int64(row.Height),
				Position:   int32(row.Position),
				Type:       row.Type,
				Attributes: row.Attributes,
				RecordedAt: row.CreatedAt.UTC().Format(time.RFC3339Nano),
			}); err != nil {
				return fmt.Errorf("indexer: parquet write: %w", err)
			}
			written++
		}
		return nil
	})
	if result.Error != nil {
		_ = pw.WriteStop()
		return written, result.Error
	}
	if err := pw.WriteStop(); err != nil {
		return written, fmt.Errorf("indexer: parquet flush: %w", err)
	}
	return written, nil
}
