package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tapline/internal/db"
	"tapline/internal/domain"
)

func TestOpenSeedsReferenceDataOnce(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	rt, err := Open(ctx, dir, nil)
	require.NoError(t, err)
	assert.Equal(t, db.SQLite, rt.Dialect)
	n, err := rt.Engine.Repo.CountReferenceData(ctx)
	require.NoError(t, err)
	assert.Positive(t, n)

	_, path, err := rt.Engine.Categorise(domain.Categorisation{AbsenceReason: "R17"})
	require.NoError(t, err)
	assert.Len(t, path, 4)
	require.NoError(t, rt.Close())

	rt, err = Open(ctx, dir, nil)
	require.NoError(t, err)
	defer rt.Close()
	again, err := rt.Engine.Repo.CountReferenceData(ctx)
	require.NoError(t, err)
	assert.Equal(t, n, again)
}
