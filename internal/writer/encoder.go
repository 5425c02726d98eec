package writer

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/newthinker/tickflow/internal/core"
	"github.com/parquet-go/parquet-go"
)

// Supported batch formats.
const (
	FormatParquet = "parquet"
	FormatJSONL   = "jsonl"
)

// Encoder turns one flushed batch into file contents.
type Encoder interface {
	Extension() string
	Encode(records []core.CleanTick) ([]byte, error)
}

// NewEncoder returns the encoder for format; empty selects parquet.
func NewEncoder(format string) (Encoder, error) {
	switch format {
	case FormatParquet, "":
		return ParquetEncoder{}, nil
	case FormatJSONL:
		return JSONLEncoder{}, nil
	default:
		return nil, core.WrapError(core.ErrConfigInvalid, fmt.Errorf("unknown batch format %q", format))
	}
}

// Row is the columnar layout of a CleanTick. Timestamps are Unix nanoseconds.
type Row struct {
	Source       string   `parquet:"source"`
	Symbol       string   `parquet:"symbol"`
	Price        float64  `parquet:"price"`
	Volume       float64  `parquet:"volume"`
	Turnover     float64  `parquet:"turnover"`
	Timestamp    int64    `parquet:"timestamp"`
	IngestedAt   int64    `parquet:"ingested_at"`
	CleanedAt    int64    `parquet:"cleaned_at"`
	QualityFlags []string `parquet:"quality_flags,list"`
}

// ToRow flattens a tick.
func ToRow(t core.CleanTick) Row {
	return Row{
		Source:       t.Source,
		Symbol:       t.Symbol,
		Price:        t.Price,
		Volume:       t.Volume,
		Turnover:     t.Turnover,
		Timestamp:    t.Timestamp.UnixNano(),
		IngestedAt:   t.IngestedAt.UnixNano(),
		CleanedAt:    t.CleanedAt.UnixNano(),
		QualityFlags: append([]string{}, t.QualityFlags...),
	}
}

// ParquetEncoder writes a single parquet file per batch.
type ParquetEncoder struct{}

func (ParquetEncoder) Extension() string { return FormatParquet }

func (ParquetEncoder) Encode(records []core.CleanTick) ([]byte, error) {
	rows := make([]Row, len(records))
	for i, r := range records {
		rows[i] = ToRow(r)
	}
	var buf bytes.Buffer
	if err := parquet.Write(&buf, rows); err != nil {
		return nil, fmt.Errorf("encoding parquet batch: %w", err)
	}
	return buf.Bytes(), nil
}

// JSONLEncoder writes one JSON object per line.
type JSONLEncoder struct{}

func (JSONLEncoder) Extension() string { return FormatJSONL }

func (JSONLEncoder) Encode(records []core.CleanTick) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return nil, fmt.Errorf("encoding jsonl record %s: %w", r.Symbol, err)
		}
	}
	return buf.Bytes(), nil
}
