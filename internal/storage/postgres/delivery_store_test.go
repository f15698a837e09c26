package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func TestAppendInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	runID := uuid.New()
	now := time.Unix(1700000000, 0).UTC()
	store, err := NewDeliveryStoreWithPool(mock, "", runID, fixedClock{now: now})
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO deliveries").
		WithArgs(runID, "abc", "2cba8153f2ff", now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Append(context.Background(), "abc", "2cba8153f2ff"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendWrapsExecErrors(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewDeliveryStoreWithPool(mock, "harvest_rows", uuid.New(), fixedClock{})
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO harvest_rows").
		WithArgs(pgxmock.AnyArg(), "abc", "x", pgxmock.AnyArg()).
		WillReturnError(errors.New("conn reset"))

	err = store.Append(context.Background(), "abc", "x")
	require.ErrorContains(t, err, "insert delivery: conn reset")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewDeliveryStoreValidation(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewDeliveryStoreWithPool(nil, "", uuid.New(), fixedClock{})
	require.Error(t, err)
	_, err = NewDeliveryStoreWithPool(mock, "bad-name;drop", uuid.New(), fixedClock{})
	require.ErrorContains(t, err, "invalid table name")
	_, err = NewDeliveryStoreWithPool(mock, "", uuid.New(), nil)
	require.Error(t, err)
	_, err = NewDeliveryStore(context.Background(), Config{}, uuid.New(), fixedClock{})
	require.ErrorContains(t, err, "postgres_dsn")
}
