package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/spectrail/specwatch/internal/product"
)

func TestUpsertWritesRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewSnapshotStoreWithPool(mock, "product_snapshots")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	snap := product.Snapshot{
		URL:             "https://shop.example.com/faucets/kf-100",
		ImageReference:  "https://cdn.example.com/kf-100.jpg",
		Type:            "Faucet",
		Description:     "Chrome kitchen faucet",
		ModelNo:         "KF-100",
		Quantity:        2,
		ConfidenceScore: 0.9,
		Verified:        true,
		LastChecked:     &now,
	}

	mock.ExpectExec("INSERT INTO product_snapshots").
		WithArgs(
			snap.URL,
			snap.ImageReference,
			snap.Type,
			snap.Description,
			snap.ModelNo,
			snap.Quantity,
			snap.ConfidenceScore,
			snap.Verified,
			snap.LastChecked,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Upsert(context.Background(), snap))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertRequiresURL(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewSnapshotStoreWithPool(mock, "product_snapshots")
	require.NoError(t, err)
	require.Error(t, store.Upsert(context.Background(), product.Snapshot{}))
}

func TestGetReturnsStoredSnapshot(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewSnapshotStoreWithPool(mock, "product_snapshots")
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	url := "https://shop.example.com/faucets/kf-100"
	rows := pgxmock.NewRows([]string{
		"url", "image_reference", "product_type", "description", "model_no",
		"quantity", "confidence_score", "verified", "last_checked",
	}).AddRow(url, "https://cdn.example.com/kf-100.jpg", "Faucet", "Chrome kitchen faucet", "KF-100", 2, 0.9, true, &now)

	mock.ExpectQuery("SELECT (.+) FROM product_snapshots").
		WithArgs(url).
		WillReturnRows(rows)

	snap, err := store.Get(context.Background(), url)
	require.NoError(t, err)
	require.NotNil(t, snap)
	require.Equal(t, "Faucet", snap.Type)
	require.Equal(t, "KF-100", snap.ModelNo)
	require.Equal(t, now, *snap.LastChecked)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMissingReturnsNil(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewSnapshotStoreWithPool(mock, "product_snapshots")
	require.NoError(t, err)

	mock.ExpectQuery("SELECT (.+) FROM product_snapshots").
		WithArgs("https://shop.example.com/missing").
		WillReturnRows(pgxmock.NewRows([]string{
			"url", "image_reference", "product_type", "description", "model_no",
			"quantity", "confidence_score", "verified", "last_checked",
		}))

	snap, err := store.Get(context.Background(), "https://shop.example.com/missing")
	require.NoError(t, err)
	require.Nil(t, snap)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRejectsInvalidTableName(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	_, err = NewSnapshotStoreWithPool(mock, "snapshots; DROP TABLE")
	require.Error(t, err)
}
