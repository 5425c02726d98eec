package writer

import (
	"bytes"
	"strconv"
	"testing"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/require"
)

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}

func readParquet(t *testing.T, data []byte) []Row {
	t.Helper()
	rows, err := parquet.Read[Row](bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	return rows
}
