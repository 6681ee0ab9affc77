package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"fittrail/pkg/model"
)

// childBatchSize bounds multi-row VALUES inserts. 200 rows of 11 columns
// stays well under every driver's bind-parameter limit.
const childBatchSize = 200

// activityColumns keeps the column order in one place so insert and scan
// cannot drift apart.
const activityColumns = `id, external_id, content_fingerprint, source_format, sport, sub_sport,
start_time, local_timezone, elapsed_time_s, moving_time_s, distance_m, avg_speed_mps,
avg_pace_s_per_km, avg_heart_rate, max_heart_rate, avg_power_w, max_power_w,
elevation_gain_m, elevation_loss_m, calories, source_file_path, ingested_at`

// SaveActivity persists an activity with its samples, route points and laps
// in one transaction: all rows commit or none do. A fingerprint collision —
// including the race where two importers carry the same file — rolls the
// transaction back and surfaces as ErrDuplicateActivity. Every other
// failure is a storage error.
func (db *Database) SaveActivity(
	ctx context.Context,
	activity *model.Activity,
	samples []model.Sample,
	routePoints []model.RoutePoint,
	laps []model.Lap,
) (int64, error) {
	tx, err := db.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, wrapStorage(err)
	}
	defer tx.Rollback()

	id := <-db.idGenerator
	if err := db.insertActivity(ctx, tx, id, activity); err != nil {
		if isUniqueViolation(err) {
			return 0, ErrDuplicateActivity
		}
		return 0, wrapStorage(fmt.Errorf("insert activity: %w", err))
	}
	if err := db.insertSamples(ctx, tx, id, samples); err != nil {
		return 0, wrapStorage(fmt.Errorf("insert samples: %w", err))
	}
	if err := db.insertRoutePoints(ctx, tx, id, routePoints); err != nil {
		return 0, wrapStorage(fmt.Errorf("insert route points: %w", err))
	}
	if err := db.insertLaps(ctx, tx, id, laps); err != nil {
		return 0, wrapStorage(fmt.Errorf("insert laps: %w", err))
	}
	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return 0, ErrDuplicateActivity
		}
		return 0, wrapStorage(err)
	}
	return id, nil
}

func (db *Database) insertActivity(ctx context.Context, tx *sql.Tx, id int64, a *model.Activity) error {
	next := newPlaceholderGenerator(db.Driver)
	holders := make([]string, 22)
	for i := range holders {
		holders[i] = next()
	}
	query := fmt.Sprintf(`INSERT INTO activities (%s) VALUES (%s)`,
		activityColumns, strings.Join(holders, ","))
	_, err := tx.ExecContext(ctx, query,
		id, a.ExternalID, a.ContentFingerprint, string(a.SourceFormat), a.Sport, a.SubSport,
		a.StartTime.UTC().Unix(), a.LocalTimezone, a.ElapsedTimeS, nullFloat(a.MovingTimeS),
		nullFloat(a.DistanceM), nullFloat(a.AvgSpeedMps), nullFloat(a.AvgPaceSPerKm),
		nullInt(a.AvgHeartRate), nullInt(a.MaxHeartRate), nullFloat(a.AvgPowerW),
		nullFloat(a.MaxPowerW), nullFloat(a.ElevationGainM), nullFloat(a.ElevationLossM),
		nullInt(a.Calories), a.SourceFilePath, a.IngestedAt.UTC().Unix())
	return err
}

func (db *Database) insertSamples(ctx context.Context, tx *sql.Tx, activityID int64, samples []model.Sample) error {
	for start := 0; start < len(samples); start += childBatchSize {
		end := start + childBatchSize
		if end > len(samples) {
			end = len(samples)
		}
		chunk := samples[start:end]

		next := newPlaceholderGenerator(db.Driver)
		rows := make([]string, 0, len(chunk))
		args := make([]any, 0, len(chunk)*11)
		for _, s := range chunk {
			holders := make([]string, 11)
			for i := range holders {
				holders[i] = next()
			}
			rows = append(rows, "("+strings.Join(holders, ",")+")")
			args = append(args, <-db.idGenerator, activityID, s.ElapsedTimeS,
				nullFloat(s.Latitude), nullFloat(s.Longitude), nullFloat(s.AltitudeM),
				nullInt(s.HeartRate), nullFloat(s.PowerW), nullInt(s.Cadence),
				nullFloat(s.SpeedMps), nullFloat(s.TemperatureC))
		}
		query := `INSERT INTO samples
  (id, activity_id, elapsed_time_s, latitude, longitude, altitude_m, heart_rate, power_w, cadence, speed_mps, temperature_c)
VALUES ` + strings.Join(rows, ",")
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return err
		}
	}
	return nil
}

func (db *Database) insertRoutePoints(ctx context.Context, tx *sql.Tx, activityID int64, points []model.RoutePoint) error {
	for start := 0; start < len(points); start += childBatchSize {
		end := start + childBatchSize
		if end > len(points) {
			end = len(points)
		}
		chunk := points[start:end]

		next := newPlaceholderGenerator(db.Driver)
		rows := make([]string, 0, len(chunk))
		args := make([]any, 0, len(chunk)*6)
		for _, p := range chunk {
			holders := make([]string, 6)
			for i := range holders {
				holders[i] = next()
			}
			rows = append(rows, "("+strings.Join(holders, ",")+")")
			args = append(args, <-db.idGenerator, activityID, p.Sequence,
				p.Latitude, p.Longitude, nullFloat(p.AltitudeM))
		}
		query := `INSERT INTO route_points (id, activity_id, sequence, latitude, longitude, altitude_m)
VALUES ` + strings.Join(rows, ",")
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return err
		}
	}
	return nil
}

func (db *Database) insertLaps(ctx context.Context, tx *sql.Tx, activityID int64, laps []model.Lap) error {
	for _, lap := range laps {
		next := newPlaceholderGenerator(db.Driver)
		holders := make([]string, 10)
		for i := range holders {
			holders[i] = next()
		}
		query := fmt.Sprintf(`INSERT INTO laps
  (id, activity_id, lap_index, start_time, elapsed_time_s, distance_m, avg_speed_mps, avg_heart_rate, max_heart_rate, avg_power_w)
VALUES (%s)`, strings.Join(holders, ","))
		var startTime any
		if !lap.StartTime.IsZero() {
			startTime = lap.StartTime.UTC().Unix()
		}
		if _, err := tx.ExecContext(ctx, query,
			<-db.idGenerator, activityID, lap.LapIndex, startTime, lap.ElapsedTimeS,
			nullFloat(lap.DistanceM), nullFloat(lap.AvgSpeedMps),
			nullInt(lap.AvgHeartRate), nullInt(lap.MaxHeartRate), nullFloat(lap.AvgPowerW)); err != nil {
			return err
		}
	}
	return nil
}

// ExistsByFingerprint answers the deduplication gate's pre-parse probe.
func (db *Database) ExistsByFingerprint(ctx context.Context, fingerprint string) (bool, error) {
	next := newPlaceholderGenerator(db.Driver)
	query := fmt.Sprintf(`SELECT id FROM activities WHERE content_fingerprint = %s`, next())
	var id int64
	err := db.DB.QueryRowContext(ctx, query, fingerprint).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, wrapStorage(err)
	}
	return true, nil
}

// DeleteActivityByFingerprint removes an activity and all of its children
// in one transaction. Forced reimport relies on this being a full replace:
// partial overwrites are never attempted. Returns false when nothing was
// stored under the fingerprint.
func (db *Database) DeleteActivityByFingerprint(ctx context.Context, fingerprint string) (bool, error) {
	tx, err := db.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, wrapStorage(err)
	}
	defer tx.Rollback()

	next := newPlaceholderGenerator(db.Driver)
	query := fmt.Sprintf(`SELECT id FROM activities WHERE content_fingerprint = %s`, next())
	var id int64
	err = tx.QueryRowContext(ctx, query, fingerprint).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, wrapStorage(err)
	}

	// Children first so the delete also works where FK enforcement is off.
	for _, table := range []string{"samples", "route_points", "laps"} {
		next = newPlaceholderGenerator(db.Driver)
		stmt := fmt.Sprintf(`DELETE FROM %s WHERE activity_id = %s`, table, next())
		if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
			return false, wrapStorage(fmt.Errorf("delete %s: %w", table, err))
		}
	}
	next = newPlaceholderGenerator(db.Driver)
	stmt := fmt.Sprintf(`DELETE FROM activities WHERE id = %s`, next())
	if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
		return false, wrapStorage(fmt.Errorf("delete activity: %w", err))
	}
	if err := tx.Commit(); err != nil {
		return false, wrapStorage(err)
	}
	return true, nil
}

// ListActivities returns summaries ordered by start time descending — the
// calendar view's query. Children are intentionally not loaded here; a
// single activity's sample set can run to tens of thousands of rows, so
// detail loading is a separate call.
func (db *Database) ListActivities(ctx context.Context, from, to time.Time, sport string) ([]model.Activity, error) {
	next := newPlaceholderGenerator(db.Driver)
	conditions := make([]string, 0, 3)
	args := make([]any, 0, 3)

	if !from.IsZero() {
		conditions = append(conditions, fmt.Sprintf("start_time >= %s", next()))
		args = append(args, from.UTC().Unix())
	}
	if !to.IsZero() {
		// Exclusive end so date math stays consistent with time.Time ranges.
		conditions = append(conditions, fmt.Sprintf("start_time < %s", next()))
		args = append(args, to.UTC().Unix())
	}
	if sport != "" {
		conditions = append(conditions, fmt.Sprintf("sport = %s", next()))
		args = append(args, sport)
	}

	query := fmt.Sprintf(`SELECT %s FROM activities`, activityColumns)
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY start_time DESC, id DESC"

	rows, err := db.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapStorage(fmt.Errorf("list activities: %w", err))
	}
	defer rows.Close()

	activities := make([]model.Activity, 0)
	for rows.Next() {
		activity, err := scanActivity(rows)
		if err != nil {
			return nil, wrapStorage(fmt.Errorf("scan activity: %w", err))
		}
		activities = append(activities, activity)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStorage(err)
	}
	return activities, nil
}

// GetActivityDetail loads one activity with its full sample series, route
// geometry and laps, each in their canonical order.
func (db *Database) GetActivityDetail(ctx context.Context, id int64) (*model.Activity, []model.Sample, []model.RoutePoint, []model.Lap, error) {
	next := newPlaceholderGenerator(db.Driver)
	query := fmt.Sprintf(`SELECT %s FROM activities WHERE id = %s`, activityColumns, next())
	row := db.DB.QueryRowContext(ctx, query, id)
	activity, err := scanActivity(row)
	if err == sql.ErrNoRows {
		return nil, nil, nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, nil, nil, wrapStorage(fmt.Errorf("load activity: %w", err))
	}

	samples, err := db.loadSamples(ctx, id)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	routePoints, err := db.loadRoutePoints(ctx, id)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	laps, err := db.loadLaps(ctx, id)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	return &activity, samples, routePoints, laps, nil
}

func (db *Database) loadSamples(ctx context.Context, activityID int64) ([]model.Sample, error) {
	next := newPlaceholderGenerator(db.Driver)
	query := fmt.Sprintf(`SELECT activity_id, elapsed_time_s, latitude, longitude, altitude_m,
  heart_rate, power_w, cadence, speed_mps, temperature_c
FROM samples WHERE activity_id = %s ORDER BY elapsed_time_s, id`, next())
	rows, err := db.DB.QueryContext(ctx, query, activityID)
	if err != nil {
		return nil, wrapStorage(fmt.Errorf("load samples: %w", err))
	}
	defer rows.Close()

	samples := make([]model.Sample, 0)
	for rows.Next() {
		var (
			s                  model.Sample
			lat, lon, alt      sql.NullFloat64
			power, speed, temp sql.NullFloat64
			heartRate, cadence sql.NullInt64
		)
		if err := rows.Scan(&s.ActivityID, &s.ElapsedTimeS, &lat, &lon, &alt,
			&heartRate, &power, &cadence, &speed, &temp); err != nil {
			return nil, wrapStorage(fmt.Errorf("scan sample: %w", err))
		}
		s.Latitude = floatPtrOf(lat)
		s.Longitude = floatPtrOf(lon)
		s.AltitudeM = floatPtrOf(alt)
		s.HeartRate = intPtrOf(heartRate)
		s.PowerW = floatPtrOf(power)
		s.Cadence = intPtrOf(cadence)
		s.SpeedMps = floatPtrOf(speed)
		s.TemperatureC = floatPtrOf(temp)
		samples = append(samples, s)
	}
	return samples, rows.Err()
}

func (db *Database) loadRoutePoints(ctx context.Context, activityID int64) ([]model.RoutePoint, error) {
	next := newPlaceholderGenerator(db.Driver)
	query := fmt.Sprintf(`SELECT activity_id, sequence, latitude, longitude, altitude_m
FROM route_points WHERE activity_id = %s ORDER BY sequence`, next())
	rows, err := db.DB.QueryContext(ctx, query, activityID)
	if err != nil {
		return nil, wrapStorage(fmt.Errorf("load route points: %w", err))
	}
	defer rows.Close()

	points := make([]model.RoutePoint, 0)
	for rows.Next() {
		var (
			p   model.RoutePoint
			alt sql.NullFloat64
		)
		if err := rows.Scan(&p.ActivityID, &p.Sequence, &p.Latitude, &p.Longitude, &alt); err != nil {
			return nil, wrapStorage(fmt.Errorf("scan route point: %w", err))
		}
		p.AltitudeM = floatPtrOf(alt)
		points = append(points, p)
	}
	return points, rows.Err()
}

func (db *Database) loadLaps(ctx context.Context, activityID int64) ([]model.Lap, error) {
	next := newPlaceholderGenerator(db.Driver)
	query := fmt.Sprintf(`SELECT activity_id, lap_index, start_time, elapsed_time_s, distance_m,
  avg_speed_mps, avg_heart_rate, max_heart_rate, avg_power_w
FROM laps WHERE activity_id = %s ORDER BY lap_index`, next())
	rows, err := db.DB.QueryContext(ctx, query, activityID)
	if err != nil {
		return nil, wrapStorage(fmt.Errorf("load laps: %w", err))
	}
	defer rows.Close()

	laps := make([]model.Lap, 0)
	for rows.Next() {
		var (
			lap             model.Lap
			startTime       sql.NullInt64
			distance, speed sql.NullFloat64
			avgHR, maxHR    sql.NullInt64
			power           sql.NullFloat64
		)
		if err := rows.Scan(&lap.ActivityID, &lap.LapIndex, &startTime, &lap.ElapsedTimeS,
			&distance, &speed, &avgHR, &maxHR, &power); err != nil {
			return nil, wrapStorage(fmt.Errorf("scan lap: %w", err))
		}
		if startTime.Valid {
			lap.StartTime = time.Unix(startTime.Int64, 0).UTC()
		}
		lap.DistanceM = floatPtrOf(distance)
		lap.AvgSpeedMps = floatPtrOf(speed)
		lap.AvgHeartRate = intPtrOf(avgHR)
		lap.MaxHeartRate = intPtrOf(maxHR)
		lap.AvgPowerW = floatPtrOf(power)
		laps = append(laps, lap)
	}
	return laps, rows.Err()
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanActivity(row rowScanner) (model.Activity, error) {
	var (
		a                                 model.Activity
		externalID, sport, subSport       sql.NullString
		localTZ, sourcePath, sourceFormat sql.NullString
		startTime, ingestedAt             int64
		movingTime, distance, avgSpeed    sql.NullFloat64
		avgPace, avgPower, maxPower       sql.NullFloat64
		elevGain, elevLoss                sql.NullFloat64
		avgHR, maxHR, calories            sql.NullInt64
	)
	err := row.Scan(&a.ID, &externalID, &a.ContentFingerprint, &sourceFormat, &sport, &subSport,
		&startTime, &localTZ, &a.ElapsedTimeS, &movingTime, &distance, &avgSpeed,
		&avgPace, &avgHR, &maxHR, &avgPower, &maxPower,
		&elevGain, &elevLoss, &calories, &sourcePath, &ingestedAt)
	if err != nil {
		return a, err
	}
	a.ExternalID = externalID.String
	a.SourceFormat = model.SourceFormat(sourceFormat.String)
	a.Sport = sport.String
	a.SubSport = subSport.String
	a.StartTime = time.Unix(startTime, 0).UTC()
	a.LocalTimezone = localTZ.String
	a.MovingTimeS = floatPtrOf(movingTime)
	a.DistanceM = floatPtrOf(distance)
	a.AvgSpeedMps = floatPtrOf(avgSpeed)
	a.AvgPaceSPerKm = floatPtrOf(avgPace)
	a.AvgHeartRate = intPtrOf(avgHR)
	a.MaxHeartRate = intPtrOf(maxHR)
	a.AvgPowerW = floatPtrOf(avgPower)
	a.MaxPowerW = floatPtrOf(maxPower)
	a.ElevationGainM = floatPtrOf(elevGain)
	a.ElevationLossM = floatPtrOf(elevLoss)
	a.Calories = intPtrOf(calories)
	a.SourceFilePath = sourcePath.String
	a.IngestedAt = time.Unix(ingestedAt, 0).UTC()
	return a, nil
}

// nullFloat and nullInt keep "never measured" distinct from zero on the
// write path; the *Of helpers mirror them when scanning.
func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func floatPtrOf(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

func intPtrOf(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}
