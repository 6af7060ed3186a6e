package tariff

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awaistahir/tou-shift/internal/bus"
	"github.com/awaistahir/tou-shift/internal/engine"
)

const payload = `{
	"day": {"time": "06:00 - 18:00", "rate": 10},
	"peak": {"time": "18:00 - 22:00", "rate": 30},
	"off_peak": {"time": "22:00 - 06:00", "rate": 5}
}`

func defaultSpec() engine.TouSpec {
	return engine.TouSpec{
		Day:     engine.BandRange{Start: "05:30", End: "18:30", Price: 35},
		Peak:    engine.BandRange{Start: "18:30", End: "22:30", Price: 67},
		OffPeak: engine.BandRange{Start: "22:30", End: "05:30", Price: 21},
	}
}

type failingSource struct{ err error }

func (f failingSource) Fetch(context.Context) (engine.TouSpec, error) {
	return engine.TouSpec{}, f.err
}

type fakeSubscriber struct {
	topic   string
	handler bus.Handler
}

func (f *fakeSubscriber) Subscribe(topic string, h bus.Handler) error {
	f.topic, f.handler = topic, h
	return nil
}

func TestFallbackUsesFirstWorkingSource(t *testing.T) {
	spec, err := Parse([]byte(payload))
	require.NoError(t, err)

	f := NewFallback(defaultSpec(), zerolog.Nop()).
		Add("mqtt", failingSource{err: ErrNoTariff}).
		Add("static", StaticSource(spec))

	tr, err := f.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "static", tr.Origin)
	assert.Equal(t, 30.0, tr.Prices[18].Price)
}

func TestFallbackSkipsUnresolvableTariff(t *testing.T) {
	bad := defaultSpec()
	bad.Day.Start = "25:00"

	f := NewFallback(defaultSpec(), zerolog.Nop()).Add("bad", StaticSource(bad))
	tr, err := f.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "default", tr.Origin)
	assert.Equal(t, engine.BandPeak, tr.Prices[19].Band)
}

func TestFallbackBadDefault(t *testing.T) {
	bad := defaultSpec()
	bad.Peak.End = "nope"

	_, err := NewFallback(bad, zerolog.Nop()).Resolve(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, engine.ErrConfig))
}

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tariff.json")
	require.NoError(t, os.WriteFile(path, []byte(payload), 0o644))

	spec, err := FileSource(path).Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "18:00", spec.Peak.Start)

	_, err = FileSource(filepath.Join(t.TempDir(), "missing.json")).Fetch(context.Background())
	assert.Error(t, err)
}

func TestMQTTSource(t *testing.T) {
	src := NewMQTTSource(time.Second, zerolog.Nop())
	sub := &fakeSubscriber{}
	require.NoError(t, src.Listen(sub, "tariff/tou"))
	assert.Equal(t, "tariff/tou", sub.topic)

	var updates int
	src.OnUpdate(func(engine.TouSpec) { updates++ })

	sub.handler("tariff/tou", []byte(`{"day": 1}`))
	assert.True(t, src.Received().IsZero())

	sub.handler("tariff/tou", []byte(payload))
	spec, err := src.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5.0, spec.OffPeak.Price)
	assert.Equal(t, 1, updates)
	assert.False(t, src.Received().IsZero())
}

func TestMQTTSourceWaitsForFirstTariff(t *testing.T) {
	src := NewMQTTSource(time.Second, zerolog.Nop())
	go func() {
		time.Sleep(20 * time.Millisecond)
		src.Handle("tariff/tou", []byte(payload))
	}()

	spec, err := src.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10.0, spec.Day.Price)
}

func TestMQTTSourceTimeout(t *testing.T) {
	src := NewMQTTSource(10*time.Millisecond, zerolog.Nop())
	_, err := src.Fetch(context.Background())
	assert.ErrorIs(t, err, ErrNoTariff)
}

func TestHTTPSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tariff" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(payload))
	}))
	defer srv.Close()

	spec, err := NewHTTPSource(srv.URL + "/tariff").Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "22:00", spec.OffPeak.Start)

	_, err = NewHTTPSource(srv.URL + "/other").Fetch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}
