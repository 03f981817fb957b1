package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/cryptopulse/internal/domain"
	"github.com/sawpanic/cryptopulse/internal/money"
)

func TestUpsertFundingPoints_UsesCoalesceOnConflict(t *testing.T) {
	g, mock := newMockGateway(t)
	ts := domain.AlignToMinute(time.Now())

	rate, err := money.FromString("0.0001")
	require.NoError(t, err)

	row := domain.FundingPoint{
		Time:        ts,
		MarketID:    7,
		FundingRate: rate,
		// Premium, MarkPrice, etc left absent (money.Optional zero value):
		// the query must coalesce those against the stored row rather than
		// writing NULL over them.
	}

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO funding_points")
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = g.UpsertFundingPoints(context.Background(), 7, []domain.FundingPoint{row})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Contains(t, upsertFundingSQL, "COALESCE(EXCLUDED.premium, funding_points.premium)")
}

func TestUpsertFundingPoints_RejectsUnalignedTime(t *testing.T) {
	g, mock := newMockGateway(t)
	row := domain.FundingPoint{Time: time.Now(), MarketID: 7}

	err := g.UpsertFundingPoints(context.Background(), 7, []domain.FundingPoint{row})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
