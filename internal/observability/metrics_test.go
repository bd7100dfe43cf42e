package observability

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordDBQuery(t *testing.T) {
	errsBefore := testutil.ToFloat64(DefaultMetrics.DBQueryErrors.WithLabelValues("postgres", "sales_insert"))

	RecordDBQuery("postgres", "sales_insert", 0.01, nil)
	RecordDBQuery("postgres", "sales_insert", 0.02, errors.New("connection reset"))

	got := testutil.ToFloat64(DefaultMetrics.DBQueryErrors.WithLabelValues("postgres", "sales_insert"))
	if got != errsBefore+1 {
		t.Errorf("error counter %v, want %v", got, errsBefore+1)
	}
	if n := testutil.CollectAndCount(DefaultMetrics.DBQueryDuration); n == 0 {
		t.Error("duration histogram recorded nothing")
	}
}
