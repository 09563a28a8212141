package db_test

import (
	"bytes"
	"testing"

	"promotion_engine/internal/db"
	"promotion_engine/internal/domain"
	"promotion_engine/internal/testutil"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// captureLogs redirects the standard logrus logger for the duration of the test
func captureLogs(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	std := logrus.StandardLogger()
	prev := std.Out
	std.SetOutput(&buf)
	t.Cleanup(func() { std.SetOutput(prev) })
	return &buf
}

func TestRecordNotFoundIsNotLogged(t *testing.T) {
	gdb := testutil.NewDB(t)
	logs := captureLogs(t)

	var score domain.PromotionScore
	err := gdb.Where("entity_type = ? AND entity_id = ?", domain.EntityTour, "missing").Take(&score).Error
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
	require.Empty(t, logs.String())
}

func TestQueryErrorsAreLogged(t *testing.T) {
	gdb := testutil.NewDB(t)
	logs := captureLogs(t)

	err := gdb.Exec("SELECT * FROM no_such_table").Error
	require.Error(t, err)
	require.Contains(t, logs.String(), "no_such_table")
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := db.Open("postgres", "")
	require.Error(t, err)
}
