package factory

import (
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/loykin/keepr/internal/history/opensearch"
	"github.com/loykin/keepr/internal/history/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSinkFromDSN(t *testing.T) {
	ctx := context.Background()

	s, err := NewSinkFromDSN(ctx, "sqlite://"+filepath.Join(t.TempDir(), "h.db"))
	require.NoError(t, err)
	assert.IsType(t, &sqlite.Sink{}, s)
	_ = s.(io.Closer).Close()

	s, err = NewSinkFromDSN(ctx, filepath.Join(t.TempDir(), "plain.db"))
	require.NoError(t, err)
	assert.IsType(t, &sqlite.Sink{}, s)
	_ = s.(io.Closer).Close()

	s, err = NewSinkFromDSN(ctx, "opensearch://localhost:9200/events")
	require.NoError(t, err)
	assert.IsType(t, &opensearch.Sink{}, s)

	_, err = NewSinkFromDSN(ctx, "opensearch:///events")
	assert.Error(t, err)

	_, err = NewSinkFromDSN(ctx, "")
	assert.Error(t, err)

	_, err = NewSinkFromDSN(ctx, "mysql://host/db")
	assert.Error(t, err)
}
