package archive

import (
	"testing"

	"github.com/newthinker/tickflow/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen(t *testing.T) {
	s, err := Open(TypeLocalFS, t.TempDir(), S3Config{})
	require.NoError(t, err)
	assert.IsType(t, &LocalFS{}, s)

	s, err = Open(TypeS3, "", S3Config{Bucket: "ticks", Endpoint: "http://localhost:9000"})
	require.NoError(t, err)
	assert.IsType(t, &S3Storage{}, s)

	_, err = Open("ftp", "", S3Config{})
	assert.ErrorIs(t, err, core.ErrConfigInvalid)
}
