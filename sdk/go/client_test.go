package seisreviewsdk

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"seisreview/internal/db"
	"seisreview/internal/domain"
	"seisreview/internal/engine"
	"seisreview/internal/migrate"
	"seisreview/internal/server"
)

const catalog = `events:
  - id: 21
    occurred_at: 2025-01-05T03:00:00Z
    coordinates: "-33.45, -70.66"
    magnitude: 5.1
    richter_value: 5.1
    richter_description: Moderate
    classification: Shallow
    origin: Tectonic
    reach: Local
    stations:
      - station: ST-2
        samples:
          - {wavelength: 0.5, frequency: 9.1, velocity: 6.2}
      - station: ST-1
        samples:
          - {wavelength: 0.7, frequency: 8.4, velocity: 6.0}
          - {wavelength: 0.6, frequency: 8.8, velocity: 6.1}
  - id: 22
    occurred_at: 2025-01-06T03:00:00Z
    coordinates: "-33.02, -71.55"
    magnitude: 3.3
`

func newCatalogServer(t *testing.T) *httptest.Server {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	require.NoError(t, migrate.Migrate(ctx, conn))
	e := engine.New(conn)
	cat, err := engine.ParseCatalog([]byte(catalog))
	require.NoError(t, err)
	_, err = e.Seed(ctx, cat, "seeder")
	require.NoError(t, err)
	handler, err := server.New(server.Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     server.AuthConfig{JWTSecret: "sdk-secret", AllowOperatorHeader: true},
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestReviewRoundTrip(t *testing.T) {
	srv := newCatalogServer(t)
	ctx := context.Background()
	c := New(srv.URL+"/v0", "ana")

	evs, err := c.ListUnreviewedEvents(ctx)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, int64(21), evs[0].ID)
	assert.Equal(t, 5.1, evs[0].Magnitude)

	require.NoError(t, c.ClaimEvent(ctx, 21))

	rc, err := c.FetchRecordedClassification(ctx, 21)
	require.NoError(t, err)
	assert.Equal(t, "Shallow", rc.Classification)
	assert.Equal(t, "5.1 (Moderate)", rc.RichterClassification)

	sets, err := c.FetchStationWaveforms(ctx, 21)
	require.NoError(t, err)
	require.Len(t, sets, 2)
	assert.Equal(t, "ST-2", sets[0].Station)
	assert.Equal(t, "ST-1", sets[1].Station)
	require.Len(t, sets[1].Samples, 2)
	assert.Equal(t, 0.7, sets[1].Samples[0].Wavelength)
	assert.Equal(t, 0.6, sets[1].Samples[1].Wavelength)

	require.NoError(t, c.RejectEvent(ctx, 21))

	all, err := c.AllEvents(ctx, "rejected")
	require.NoError(t, err)
	require.Len(t, all.Items, 1)
	assert.Equal(t, 1, all.Stats["rejected"])
	assert.Equal(t, 1, all.Stats["auto_detected"])

	page, err := c.Audit(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, page.Items, 3)
	assert.Equal(t, "event.rejected", page.Items[2].Type)
	assert.Zero(t, page.NextAfter)
}

func TestClaimConflictSurfacesAPIError(t *testing.T) {
	srv := newCatalogServer(t)
	ctx := context.Background()
	require.NoError(t, New(srv.URL+"/v0", "ana").ClaimEvent(ctx, 22))

	err := New(srv.URL+"/v0", "luis").ClaimEvent(ctx, 22)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.True(t, apiErr.Conflict())
	assert.Equal(t, "not_claimable", apiErr.Code)
	assert.NotEmpty(t, apiErr.Message)

	err = New(srv.URL+"/v0", "luis").RejectEvent(ctx, 22)
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "not_holder", apiErr.Code)
}

func TestBearerTokenPreferredOverHeader(t *testing.T) {
	srv := newCatalogServer(t)
	token, err := server.MintToken("sdk-secret", "marta", time.Hour, time.Now())
	require.NoError(t, err)
	c := New(srv.URL+"/v0", "ignored")
	c.BearerToken = token
	require.NoError(t, c.ClaimEvent(context.Background(), 21))

	page, err := c.Audit(context.Background(), 0, 0)
	require.NoError(t, err)
	require.NotEmpty(t, page.Items)
	assert.Equal(t, "marta", page.Items[len(page.Items)-1].OperatorID)
}

func TestNonEnvelopeErrorKeepsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gateway down", http.StatusBadGateway)
	}))
	defer srv.Close()
	err := New(srv.URL, "ana").ClaimEvent(context.Background(), 1)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Empty(t, apiErr.Code)
	assert.Contains(t, apiErr.Error(), "gateway down")
}

func TestFreshClientServesConcurrentFetches(t *testing.T) {
	srv := newCatalogServer(t)
	c := New(srv.URL+"/v0", "ana")
	require.NotNil(t, c.HTTPClient)

	var (
		wg      sync.WaitGroup
		rc      domain.RecordedClassification
		sets    []domain.StationWaveformSet
		rcErr   error
		setsErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		rc, rcErr = c.FetchRecordedClassification(context.Background(), 21)
	}()
	go func() {
		defer wg.Done()
		sets, setsErr = c.FetchStationWaveforms(context.Background(), 21)
	}()
	wg.Wait()
	require.NoError(t, rcErr)
	require.NoError(t, setsErr)
	assert.Equal(t, "Shallow", rc.Classification)
	assert.Len(t, sets, 2)
}

func TestTimeoutBoundsEachRequest(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)
	c := New(srv.URL, "ana")
	c.Timeout = 50 * time.Millisecond
	err := c.Health(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}
