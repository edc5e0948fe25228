package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandler(t *testing.T) {
	handler := Handler()
	require.NotNil(t, handler)

	RecordCleaned(1)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "records_cleaned_total")
}

func TestRecordRequest(t *testing.T) {
	before := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("POST", "/api/v1/check", "429"))
	RecordRequest("POST", "/api/v1/check", 429, 10*time.Millisecond)
	after := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("POST", "/api/v1/check", "429"))

	assert.Equal(t, before+1, after)
}

func TestRecordCheck(t *testing.T) {
	allowed := ChecksTotal.WithLabelValues("metrics-test", OutcomeAllowed)
	denied := ChecksTotal.WithLabelValues("metrics-test", OutcomeDenied)
	a0, d0 := testutil.ToFloat64(allowed), testutil.ToFloat64(denied)

	RecordCheck("metrics-test", true)
	RecordCheck("metrics-test", false)
	RecordCheck("metrics-test", false)

	assert.Equal(t, a0+1, testutil.ToFloat64(allowed))
	assert.Equal(t, d0+2, testutil.ToFloat64(denied))
}

func TestRecordPenalty(t *testing.T) {
	c := PenaltiesTotal.WithLabelValues("metrics-test")
	before := testutil.ToFloat64(c)

	RecordPenalty("metrics-test")

	assert.Equal(t, before+1, testutil.ToFloat64(c))
}

func TestRecordQuota(t *testing.T) {
	c := QuotaChecksTotal.WithLabelValues("daily", OutcomeDenied)
	before := testutil.ToFloat64(c)

	RecordQuota("daily", false)

	assert.Equal(t, before+1, testutil.ToFloat64(c))
}

func TestRecordStoreError(t *testing.T) {
	c := StoreErrorsTotal.WithLabelValues("write")
	before := testutil.ToFloat64(c)

	RecordStoreError("write")
	RecordStoreOp("write", time.Millisecond)

	assert.Equal(t, before+1, testutil.ToFloat64(c))
}

func TestRecordCleaned(t *testing.T) {
	before := testutil.ToFloat64(RecordsCleanedTotal)

	RecordCleaned(3)
	RecordCleaned(0)
	RecordCleaned(-1)

	assert.Equal(t, before+3, testutil.ToFloat64(RecordsCleanedTotal))
}
