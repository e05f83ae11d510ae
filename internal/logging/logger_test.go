package logging

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	log := newWithOutput(&buf, "quiz", "debug", "json")
	log.WithField("user_id", "tg:1").Info("hello")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "hello", line["message"])
	assert.Equal(t, "quiz", line["service"])
	assert.Equal(t, "tg:1", line["user_id"])
	assert.Equal(t, logrus.DebugLevel, log.Logger.GetLevel())
}

func TestNewDefaultsToInfo(t *testing.T) {
	log := newWithOutput(&bytes.Buffer{}, "quiz", "loud", "")
	assert.Equal(t, logrus.InfoLevel, log.Logger.GetLevel())
}

func TestMiddlewareLogsServerErrors(t *testing.T) {
	var buf bytes.Buffer
	log := newWithOutput(&buf, "quiz", "info", "json")
	handler := Middleware(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/quizzes", nil))

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "http request failed", line["message"])
	assert.EqualValues(t, 503, line["status"])
}
