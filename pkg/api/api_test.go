package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	json "github.com/goccy/go-json"

	"fittrail/pkg/database"
	"fittrail/pkg/importer"
	"fittrail/pkg/model"
)

const gpxFixture = `<?xml version="1.0" encoding="UTF-8"?>
<gpx xmlns="http://www.topografix.com/GPX/1/1" version="1.1" creator="test">
  <trk><type>running</type><trkseg>
    <trkpt lat="59.3300" lon="18.0600"><ele>12</ele><time>2024-05-01T04:00:00Z</time></trkpt>
    <trkpt lat="59.3305" lon="18.0605"><ele>13</ele><time>2024-05-01T04:00:10Z</time></trkpt>
    <trkpt lat="59.3310" lon="18.0610"><ele>14</ele><time>2024-05-01T04:00:20Z</time></trkpt>
    <trkpt lat="59.3315" lon="18.0615"><ele>15</ele><time>2024-05-01T04:00:30Z</time></trkpt>
  </trkseg></trk>
</gpx>`

func newTestServer(t *testing.T, cacheTTL time.Duration) (*httptest.Server, *Handler) {
	t.Helper()
	cfg := database.Config{DBType: "sqlite", DBPath: filepath.Join(t.TempDir(), "api.sqlite")}
	db, err := database.NewDatabase(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.InitSchema(cfg))

	handler := NewHandler(db, &importer.Importer{DB: db}, 2000, cacheTTL)
	t.Cleanup(handler.Close)
	srv := httptest.NewServer(handler.Router())
	t.Cleanup(srv.Close)
	return srv, handler
}

func importFixture(t *testing.T, h *Handler) int64 {
	t.Helper()
	path := filepath.Join(t.TempDir(), "run.gpx")
	require.NoError(t, os.WriteFile(path, []byte(gpxFixture), 0o644))
	report, err := h.Importer.ImportPath(context.Background(), path, false)
	require.NoError(t, err)
	require.Equal(t, 1, report.Imported)

	activities, err := h.DB.ListActivities(context.Background(), time.Time{}, time.Time{}, "")
	require.NoError(t, err)
	require.Len(t, activities, 1)
	return activities[0].ID
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

// TestListActivitiesEndpoint serves imported activities newest first with
// the sport filter applied server-side.
func TestListActivitiesEndpoint(t *testing.T) {
	srv, h := newTestServer(t, 0)
	importFixture(t, h)

	var activities []model.Activity
	status := getJSON(t, srv.URL+"/api/activities", &activities)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, activities, 1)
	assert.Equal(t, "running", activities[0].Sport)

	var filtered []model.Activity
	status = getJSON(t, srv.URL+"/api/activities?sport=cycling", &filtered)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, filtered)
}

// TestActivityDetailEndpoint returns the full payload and 404 for unknown
// IDs.
func TestActivityDetailEndpoint(t *testing.T) {
	srv, h := newTestServer(t, 0)
	id := importFixture(t, h)

	var detail struct {
		Activity    *model.Activity    `json:"activity"`
		Samples     []model.Sample     `json:"samples"`
		RoutePoints []model.RoutePoint `json:"route_points"`
	}
	status := getJSON(t, fmt.Sprintf("%s/api/activities/%d", srv.URL, id), &detail)
	require.Equal(t, http.StatusOK, status)
	require.NotNil(t, detail.Activity)
	assert.Len(t, detail.Samples, 4)
	assert.Len(t, detail.RoutePoints, 4)

	status = getJSON(t, srv.URL+"/api/activities/999999", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status = getJSON(t, srv.URL+"/api/activities/not-a-number", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

// TestSeriesDownsampling bounds the response size via the max parameter
// while keeping the endpoints of the series.
func TestSeriesDownsampling(t *testing.T) {
	srv, h := newTestServer(t, 0)
	id := importFixture(t, h)

	var samples []model.Sample
	status := getJSON(t, fmt.Sprintf("%s/api/activities/%d/samples?max=2", srv.URL, id), &samples)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, samples, 2)
	assert.Equal(t, 0.0, samples[0].ElapsedTimeS)
	assert.Equal(t, 30.0, samples[1].ElapsedTimeS)

	var route []model.RoutePoint
	status = getJSON(t, fmt.Sprintf("%s/api/activities/%d/route?max=2", srv.URL, id), &route)
	require.Equal(t, http.StatusOK, status)
	require.Len(t, route, 2)
	assert.Equal(t, 0, route[0].Sequence)
	assert.Equal(t, 3, route[1].Sequence)
}

// TestImportEndpoint triggers a batch over HTTP and invalidates cached
// lists so the new activity is visible immediately.
func TestImportEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, time.Minute)

	// Warm the cache with an empty listing.
	var before []model.Activity
	status := getJSON(t, srv.URL+"/api/activities", &before)
	require.Equal(t, http.StatusOK, status)
	require.Empty(t, before)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "run.gpx"), []byte(gpxFixture), 0o644))

	resp, err := http.Post(srv.URL+"/api/import?path="+dir, "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var report importer.Report
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&report))
	assert.Equal(t, 1, report.Imported)
	assert.NotEmpty(t, report.BatchID)

	var after []model.Activity
	status = getJSON(t, srv.URL+"/api/activities", &after)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, after, 1)

	// Missing path parameter is a client error.
	resp, err = http.Post(srv.URL+"/api/import", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
