package interceptors

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polisai/interpose/internal/orders"
)

func decodeRecords(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var records []map[string]any
	sc := bufio.NewScanner(buf)
	for sc.Scan() {
		var rec map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &rec))
		records = append(records, rec)
	}
	return records
}

func TestLoggingRecordsCalls(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	svc := newOrders(t, orders.NewMemoryService(), Logging(logger, LoggingOptions{Level: slog.LevelInfo, Arguments: true}))

	ok, err := svc.PlaceOrder(3)
	require.NoError(t, err)
	require.True(t, ok)
	_, err = svc.Get(context.Background(), 99)
	require.ErrorIs(t, err, orders.ErrNotFound)

	records := decodeRecords(t, &buf)
	require.Len(t, records, 4)

	assert.Equal(t, "Call started", records[0]["msg"])
	assert.Equal(t, "OrderService.PlaceOrder", records[0]["method"])
	assert.Equal(t, []any{float64(3)}, records[0]["args"])
	assert.Equal(t, "Call completed", records[1]["msg"])
	assert.Equal(t, "INFO", records[1]["level"])
	assert.Equal(t, records[0]["call_id"], records[1]["call_id"])
	assert.NotEmpty(t, records[1]["call_id"])

	assert.Equal(t, []any{float64(99)}, records[2]["args"], "contexts are not logged")
	assert.Equal(t, "Call failed", records[3]["msg"])
	assert.Equal(t, "ERROR", records[3]["level"])
	assert.Contains(t, records[3]["error"], "order not found")
	assert.NotEqual(t, records[0]["call_id"], records[2]["call_id"])
}

func TestLoggingRepanics(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	svc := newOrders(t, panickingService{}, Logging(logger, LoggingOptions{}))

	assert.PanicsWithValue(t, "boom", func() { svc.Count() })
	records := decodeRecords(t, &buf)
	require.Len(t, records, 1)
	assert.Equal(t, "Call panicked", records[0]["msg"])
	assert.Equal(t, "boom", records[0]["panic"])
}

type panickingService struct{ orders.OrderService }

func (panickingService) Count() int { panic("boom") }
