package logging

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewParsesLevelAndFormat(t *testing.T) {
	var buf bytes.Buffer
	l := New("debug", "json", &buf)
	assert.Equal(t, logrus.DebugLevel, l.GetLevel())
	l.WithField("k", "v").Info("hello")
	assert.Contains(t, buf.String(), `"k":"v"`)

	assert.Equal(t, logrus.InfoLevel, New("nope", "text", &buf).GetLevel())
}

func TestContextRoundTrip(t *testing.T) {
	log, _ := test.NewNullLogger()
	entry := log.WithField("request_id", "abc")
	assert.Equal(t, entry, FromContext(ToContext(context.Background(), entry), nil))

	fallback := log.WithField("x", 1)
	assert.Equal(t, fallback, FromContext(context.Background(), fallback))
}

func TestRequestLoggerTagsEntries(t *testing.T) {
	log, hook := test.NewNullLogger()
	e := echo.New()
	e.Use(middleware.RequestID())
	e.Use(RequestLogger(log))
	e.GET("/boom", func(c echo.Context) error {
		FromContext(c.Request().Context(), nil).Info("inside")
		return echo.NewHTTPError(http.StatusConflict, "nope")
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusConflict, rec.Code)

	entries := hook.AllEntries()
	require.Len(t, entries, 2)
	assert.Equal(t, "inside", entries[0].Message)
	assert.NotEmpty(t, entries[0].Data["request_id"])
	assert.Equal(t, entries[0].Data["request_id"], entries[1].Data["request_id"])
	assert.Equal(t, http.StatusConflict, entries[1].Data["status"])
}

func TestWatermillAdapter(t *testing.T) {
	log, hook := test.NewNullLogger()
	a := NewWatermill(log).With(watermill.LogFields{"topic": "seats"})
	a.Error("publish failed", errors.New("down"), watermill.LogFields{"n": 1})

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.ErrorLevel, hook.LastEntry().Level)
	assert.Equal(t, "seats", hook.LastEntry().Data["topic"])
	assert.Equal(t, 1, hook.LastEntry().Data["n"])
}
