package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/assay-api/internal/api/shared"
	"github.com/phrazzld/assay-api/internal/platform/logger"
)

func TestTrace(t *testing.T) {
	t.Parallel()
	log, buf := logger.NewTestLogger()

	var traceID string
	handler := Trace(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID = shared.GetTraceID(r.Context())
		logger.FromContext(r.Context()).Info("inside handler")
		shared.RespondWithError(w, r, http.StatusTeapot, "nope")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/tokens/x", nil))

	require.Len(t, traceID, 2*shared.TraceIDLength)
	assert.Equal(t, traceID, rr.Header().Get(TraceHeader))
	assert.Contains(t, rr.Body.String(), traceID, "error bodies carry the trace id")

	inside := buf.EntriesWithMessage("inside handler")
	require.Len(t, inside, 1)
	assert.Equal(t, traceID, inside[0]["trace_id"])

	completed := buf.EntriesWithMessage("request completed")
	require.Len(t, completed, 1)
	assert.EqualValues(t, http.StatusTeapot, completed[0]["status"])
}
