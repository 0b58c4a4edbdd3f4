package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/equipment-manuals/internal/resolver"
)

func TestNewPatternStoreWithPoolValidatesTable(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewPatternStoreWithPool(mock, "bad;table")
	require.Error(t, err)
	_, err = NewPatternStoreWithPool(nil, "")
	require.Error(t, err)

	store, err := NewPatternStoreWithPool(mock, "")
	require.NoError(t, err)
	assert.Equal(t, "manual_patterns", store.table)
}

func TestSavePatternUpsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPatternStoreWithPool(mock, "manual_patterns")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	rule := resolver.PatternRule{
		Manufacturer: "Henny-Penny",
		Prefix:       "HEN-",
		Transforms:   []resolver.Transform{resolver.TransformUpper, resolver.TransformSeries},
		Suffixes:     []string{"spm", "pm"},
		UpdatedAt:    now,
	}

	mock.ExpectExec("INSERT INTO manual_patterns").
		WithArgs(
			"henny-penny",
			"HEN-",
			[]byte(`["upper","series"]`),
			[]byte(`["spm","pm"]`),
			[]byte(`[]`),
			now,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Save(context.Background(), rule))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSavePatternRequiresManufacturer(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPatternStoreWithPool(mock, "")
	require.NoError(t, err)
	require.Error(t, store.Save(context.Background(), resolver.PatternRule{}))
}

func TestLoadPattern(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPatternStoreWithPool(mock, "manual_patterns")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	rows := mock.NewRows([]string{"prefix", "transforms", "suffixes", "series", "updated_at"}).
		AddRow("HEN-", []byte(`["upper","bogus","series"]`), []byte(`["pm"]`), []byte(`["{model}-600"]`), now)
	mock.ExpectQuery("SELECT prefix, transforms, suffixes, series, updated_at FROM manual_patterns").
		WithArgs("henny-penny").
		WillReturnRows(rows)

	rule, ok, err := store.Load(context.Background(), "HENNY-PENNY")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "henny-penny", rule.Manufacturer)
	assert.Equal(t, "HEN-", rule.Prefix)
	assert.Equal(t, []resolver.Transform{resolver.TransformUpper, resolver.TransformSeries}, rule.Transforms)
	assert.Equal(t, []string{"pm"}, rule.Suffixes)
	assert.Equal(t, []string{"{model}-600"}, rule.Series)
	assert.Equal(t, now, rule.UpdatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadPatternMissing(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPatternStoreWithPool(mock, "manual_patterns")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT prefix").WithArgs("pitco").WillReturnError(pgx.ErrNoRows)
	_, ok, err := store.Load(context.Background(), "pitco")
	require.NoError(t, err)
	assert.False(t, ok)

	mock.ExpectQuery("SELECT prefix").WithArgs("pitco").WillReturnError(errors.New("conn reset"))
	_, _, err = store.Load(context.Background(), "pitco")
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewPatternStoreWithPool(mock, "manual_patterns")
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS manual_patterns").WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}
