package importer

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"fittrail/pkg/database"
)

const gpxRun = `<?xml version="1.0" encoding="UTF-8"?>
<gpx xmlns="http://www.topografix.com/GPX/1/1" version="1.1" creator="test">
  <trk><type>running</type><trkseg>
    <trkpt lat="59.3300" lon="18.0600"><ele>12</ele><time>2024-05-01T04:00:00Z</time></trkpt>
    <trkpt lat="59.3305" lon="18.0605"><ele>13</ele><time>2024-05-01T04:00:10Z</time></trkpt>
    <trkpt lat="59.3310" lon="18.0610"><ele>14</ele><time>2024-05-01T04:00:20Z</time></trkpt>
  </trkseg></trk>
</gpx>`

const tcxRide = `<?xml version="1.0" encoding="UTF-8"?>
<TrainingCenterDatabase xmlns="http://www.garmin.com/xmlschemas/TrainingCenterDatabase/v2">
  <Activities><Activity Sport="Biking">
    <Id>2024-05-02T05:00:00Z</Id>
    <Lap StartTime="2024-05-02T05:00:00Z">
      <TotalTimeSeconds>600</TotalTimeSeconds>
      <DistanceMeters>4000</DistanceMeters>
      <Track>
        <Trackpoint><Time>2024-05-02T05:00:00Z</Time></Trackpoint>
        <Trackpoint><Time>2024-05-02T05:10:00Z</Time></Trackpoint>
      </Track>
    </Lap>
  </Activity></Activities>
</TrainingCenterDatabase>`

func newTestImporter(t *testing.T) *Importer {
	t.Helper()
	cfg := database.Config{DBType: "sqlite", DBPath: filepath.Join(t.TempDir(), "test.sqlite")}
	db, err := database.NewDatabase(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.InitSchema(cfg))
	return &Importer{DB: db, Workers: 2}
}

func zeroTime() time.Time { return time.Time{} }

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// TestImportDirectory walks a mixed directory: valid files import, a
// corrupt one is recorded without stopping the batch, and unrelated files
// are ignored entirely.
func TestImportDirectory(t *testing.T) {
	imp := newTestImporter(t)
	dir := t.TempDir()
	writeFile(t, dir, "run.gpx", gpxRun)
	writeFile(t, dir, "ride.tcx", tcxRide)
	corrupt := writeFile(t, dir, "broken.gpx", "<gpx><trk><trkseg>")
	writeFile(t, dir, "notes.txt", "not an activity")

	report, err := imp.ImportPath(context.Background(), dir, false)
	require.NoError(t, err)

	assert.NotEmpty(t, report.BatchID)
	assert.Equal(t, 2, report.Imported)
	assert.Equal(t, 0, report.Duplicates)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, corrupt, report.Failed[0].Path)
	assert.NotEmpty(t, report.Failed[0].Reason)

	activities, err := imp.DB.ListActivities(context.Background(), zeroTime(), zeroTime(), "")
	require.NoError(t, err)
	assert.Len(t, activities, 2)
}

// TestImportIdempotence re-runs the same batch and expects duplicates, not
// new rows.
func TestImportIdempotence(t *testing.T) {
	imp := newTestImporter(t)
	dir := t.TempDir()
	writeFile(t, dir, "run.gpx", gpxRun)
	writeFile(t, dir, "ride.tcx", tcxRide)

	first, err := imp.ImportPath(context.Background(), dir, false)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Imported)

	second, err := imp.ImportPath(context.Background(), dir, false)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Imported)
	assert.Equal(t, 2, second.Duplicates)

	activities, err := imp.DB.ListActivities(context.Background(), zeroTime(), zeroTime(), "")
	require.NoError(t, err)
	assert.Len(t, activities, 2)
}

// TestRenamedCopyIsDuplicate pins content-addressed identity: the same
// bytes under another name are one activity.
func TestRenamedCopyIsDuplicate(t *testing.T) {
	imp := newTestImporter(t)
	dir := t.TempDir()
	writeFile(t, dir, "run.gpx", gpxRun)
	writeFile(t, dir, "run-copy.gpx", gpxRun)

	report, err := imp.ImportPath(context.Background(), dir, false)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Imported)
	assert.Equal(t, 1, report.Duplicates)
}

// TestForceReimport replaces the stored activity wholesale instead of
// skipping it, leaving exactly one row per fingerprint.
func TestForceReimport(t *testing.T) {
	imp := newTestImporter(t)
	dir := t.TempDir()
	path := writeFile(t, dir, "run.gpx", gpxRun)

	_, err := imp.ImportPath(context.Background(), path, false)
	require.NoError(t, err)

	report, err := imp.ImportPath(context.Background(), path, true)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Imported)
	assert.Equal(t, 0, report.Duplicates)

	activities, err := imp.DB.ListActivities(context.Background(), zeroTime(), zeroTime(), "")
	require.NoError(t, err)
	require.Len(t, activities, 1)

	// Child rows belong to the replacement only.
	var count int
	require.NoError(t, imp.DB.DB.QueryRow(`SELECT COUNT(*) FROM samples`).Scan(&count))
	assert.Equal(t, 3, count)
}

// TestImportExplicitFileIgnoresExtension sniffs content for directly named
// files so a renamed download still imports.
func TestImportExplicitFileIgnoresExtension(t *testing.T) {
	imp := newTestImporter(t)
	path := writeFile(t, t.TempDir(), "export.dat", gpxRun)

	report, err := imp.ImportPath(context.Background(), path, false)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Imported)
}

// TestImportMissingPath surfaces a bad path as an error, not an empty
// report.
func TestImportMissingPath(t *testing.T) {
	imp := newTestImporter(t)
	_, err := imp.ImportPath(context.Background(), "/does/not/exist", false)
	require.Error(t, err)
}

// TestFingerprintStability pins the SHA-256 hex form.
func TestFingerprintStability(t *testing.T) {
	assert.Equal(t,
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		Fingerprint(nil))
	assert.Equal(t, Fingerprint([]byte(gpxRun)), Fingerprint([]byte(gpxRun)))
	assert.NotEqual(t, Fingerprint([]byte(gpxRun)), Fingerprint([]byte(tcxRide)))
}
