package httpserver

import (
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/civictwin/Main/simulation/internal/config"
	"github.com/civictwin/Main/simulation/internal/models"
)

func TestRespondJSONUnencodablePayload(t *testing.T) {
	rec := httptest.NewRecorder()
	respondJSON(rec, http.StatusOK, models.TimeSeries{models.MetricAvgIncome: {1, math.Inf(1)}})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal error"}`, rec.Body.String())
}

func TestRespondJSONWritesBody(t *testing.T) {
	rec := httptest.NewRecorder()
	respondJSON(rec, http.StatusAccepted, map[string]int{"n": 3})
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"n":3}`, rec.Body.String())
}

func TestRequestTimeoutOnlyForPool(t *testing.T) {
	cases := map[string]time.Duration{
		"":       0,
		"inline": 0,
		"pool":   time.Minute,
	}
	for executor, want := range cases {
		s := New(config.Config{Executor: executor, RequestTimeout: time.Minute}, nil, nil, nil, nil)
		assert.Equal(t, want, s.requestTimeout(), executor)
	}
}
