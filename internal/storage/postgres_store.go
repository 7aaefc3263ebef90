package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/Slamanii/Ride-hailing/internal/models"
)

const uniqueViolation = "23505"

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// quick ping
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

// Migrate runs a schema script, typically migrations/001_create_trips.sql.
func (p *PostgresStore) Migrate(ctx context.Context, script string) error {
	_, err := p.db.ExecContext(ctx, script)
	return err
}

func (p *PostgresStore) Close() error { return p.db.Close() }

// SaveTrip serializes concurrent inserts for one driver with a transaction
// scoped advisory lock, then checks the cap and the per-request uniqueness.
func (p *PostgresStore) SaveTrip(ctx context.Context, t *models.Trip, maxOngoing int) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, t.DriverID); err != nil {
		return fmt.Errorf("lock driver: %w", err)
	}
	var ongoing int
	if err := tx.QueryRowContext(ctx, `SELECT count(*) FROM trips WHERE driver_id=$1 AND status='ongoing'`, t.DriverID).Scan(&ongoing); err != nil {
		return fmt.Errorf("count ongoing: %w", err)
	}
	if ongoing >= maxOngoing {
		return ErrDriverAtCapacity
	}

	items, err := json.Marshal(t.Items)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO trips(id, reference, request_id, rider_id, driver_id,
		pickup_lat, pickup_lon, dropoff_lat, dropoff_lon, driver_lat, driver_lon,
		status, started_at, ended_at, distance_km, items, fare_estimate, fare_settlement,
		rider_key, driver_key, rider_email, vehicle_class, settlement_ref, cancel_reason)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24)`,
		t.ID, t.Reference, t.RequestID, t.RiderID, t.DriverID,
		t.Pickup.Lat, t.Pickup.Lon, t.Dropoff.Lat, t.Dropoff.Lon, t.DriverLocation.Lat, t.DriverLocation.Lon,
		string(t.Status), t.StartedAt, t.EndedAt, t.DistanceKm, items, t.FareEstimate, t.FareSettlement,
		t.RiderKey, t.DriverKey, t.RiderEmail, string(t.VehicleClass), t.SettlementRef, t.CancelReason)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ErrDuplicateTrip
		}
		return err
	}
	return tx.Commit()
}

// TrackTrip only touches the driver position, and only while the trip is
// ongoing, so it cannot undo a concurrent completion or cancellation.
func (p *PostgresStore) TrackTrip(ctx context.Context, id string, loc models.Coord) error {
	res, err := p.db.ExecContext(ctx, `UPDATE trips SET driver_lat=$1, driver_lon=$2
		WHERE id=$3 AND status='ongoing'`, loc.Lat, loc.Lon, id)
	if err != nil {
		return err
	}
	return p.checkTransition(ctx, res, id)
}

func (p *PostgresStore) FinishTrip(ctx context.Context, t *models.Trip) error {
	res, err := p.db.ExecContext(ctx, `UPDATE trips SET status=$1, ended_at=$2, driver_lat=$3, driver_lon=$4,
		fare_settlement=$5, cancel_reason=$6 WHERE id=$7 AND status='ongoing'`,
		string(t.Status), t.EndedAt, t.DriverLocation.Lat, t.DriverLocation.Lon,
		t.FareSettlement, t.CancelReason, t.ID)
	if err != nil {
		return err
	}
	return p.checkTransition(ctx, res, t.ID)
}

// checkTransition tells a missing trip apart from one that already left
// the ongoing state when a guarded update matched no row.
func (p *PostgresStore) checkTransition(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil || n > 0 {
		return err
	}
	var exists bool
	if err := p.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM trips WHERE id=$1)`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return models.ErrTripTerminal
}

func (p *PostgresStore) RecordSettlement(ctx context.Context, id, ref string) error {
	res, err := p.db.ExecContext(ctx, `UPDATE trips SET settlement_ref=$1 WHERE id=$2 AND settlement_ref=''`, ref, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil || n > 0 {
		return err
	}
	if _, err := p.GetTrip(ctx, id); err != nil {
		return err
	}
	return ErrAlreadySettled
}

const tripColumns = `id, reference, request_id, rider_id, driver_id,
	pickup_lat, pickup_lon, dropoff_lat, dropoff_lon, driver_lat, driver_lon,
	status, started_at, ended_at, distance_km, items, fare_estimate, fare_settlement,
	rider_key, driver_key, rider_email, vehicle_class, settlement_ref, cancel_reason`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrip(row rowScanner) (*models.Trip, error) {
	var (
		t          models.Trip
		status     string
		class      string
		items      []byte
		endedAt    sql.NullTime
		settlement sql.NullInt64
	)
	err := row.Scan(&t.ID, &t.Reference, &t.RequestID, &t.RiderID, &t.DriverID,
		&t.Pickup.Lat, &t.Pickup.Lon, &t.Dropoff.Lat, &t.Dropoff.Lon, &t.DriverLocation.Lat, &t.DriverLocation.Lon,
		&status, &t.StartedAt, &endedAt, &t.DistanceKm, &items, &t.FareEstimate, &settlement,
		&t.RiderKey, &t.DriverKey, &t.RiderEmail, &class, &t.SettlementRef, &t.CancelReason)
	if err != nil {
		return nil, err
	}
	t.Status = models.TripStatus(status)
	t.VehicleClass = models.VehicleClass(class)
	if endedAt.Valid {
		v := endedAt.Time
		t.EndedAt = &v
	}
	if settlement.Valid {
		v := settlement.Int64
		t.FareSettlement = &v
	}
	if len(items) > 0 {
		if err := json.Unmarshal(items, &t.Items); err != nil {
			return nil, fmt.Errorf("decode trip items: %w", err)
		}
	}
	return &t, nil
}

func (p *PostgresStore) GetTrip(ctx context.Context, id string) (*models.Trip, error) {
	t, err := scanTrip(p.db.QueryRowContext(ctx, `SELECT `+tripColumns+` FROM trips WHERE id=$1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

func (p *PostgresStore) GetTripByReference(ctx context.Context, reference string) (*models.Trip, error) {
	t, err := scanTrip(p.db.QueryRowContext(ctx, `SELECT `+tripColumns+` FROM trips WHERE reference=$1`, reference))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return t, err
}

func (p *PostgresStore) OngoingTripCount(ctx context.Context, driverID string) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `SELECT count(*) FROM trips WHERE driver_id=$1 AND status='ongoing'`, driverID).Scan(&n)
	return n, err
}

func (p *PostgresStore) OngoingTripsForDriver(ctx context.Context, driverID string) ([]*models.Trip, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+tripColumns+` FROM trips WHERE driver_id=$1 AND status='ongoing'`, driverID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Trip
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (p *PostgresStore) CountOngoingTrips(ctx context.Context) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `SELECT count(*) FROM trips WHERE status='ongoing'`).Scan(&n)
	return n, err
}

func (p *PostgresStore) SaveRideRequest(ctx context.Context, r *models.RideRequest) error {
	items, err := json.Marshal(r.Items)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `INSERT INTO ride_requests(id, rider_id, pickup_lat, pickup_lon, pickup_name,
		dropoff_lat, dropoff_lon, dropoff_name, ride_class, payment_method, items,
		distance_km, estimated_minutes, estimated_price, created_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
		r.ID, r.RiderID, r.Pickup.Lat, r.Pickup.Lon, r.Pickup.Name,
		r.Dropoff.Lat, r.Dropoff.Lon, r.Dropoff.Name, string(r.RideClass), r.PaymentMethod, items,
		r.DistanceKm, r.EstimatedMinutes, r.EstimatedPrice, r.CreatedAt)
	return err
}

func (p *PostgresStore) GetRideRequest(ctx context.Context, id string) (*models.RideRequest, error) {
	var (
		r     models.RideRequest
		class string
		items []byte
	)
	err := p.db.QueryRowContext(ctx, `SELECT id, rider_id, pickup_lat, pickup_lon, pickup_name,
		dropoff_lat, dropoff_lon, dropoff_name, ride_class, payment_method, items,
		distance_km, estimated_minutes, estimated_price, created_at FROM ride_requests WHERE id=$1`, id).
		Scan(&r.ID, &r.RiderID, &r.Pickup.Lat, &r.Pickup.Lon, &r.Pickup.Name,
			&r.Dropoff.Lat, &r.Dropoff.Lon, &r.Dropoff.Name, &class, &r.PaymentMethod, &items,
			&r.DistanceKm, &r.EstimatedMinutes, &r.EstimatedPrice, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if r.RideClass, err = models.ParseRideClass(class); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(items, &r.Items); err != nil {
		return nil, fmt.Errorf("decode request items: %w", err)
	}
	return &r, nil
}

func (p *PostgresStore) SaveRider(ctx context.Context, r *models.Rider) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO riders(id, identity_key, name, email, phone) VALUES($1,$2,$3,$4,$5)
		ON CONFLICT (id) DO UPDATE SET identity_key=EXCLUDED.identity_key, name=EXCLUDED.name, email=EXCLUDED.email, phone=EXCLUDED.phone`,
		r.ID, r.IdentityKey, r.Name, r.Email, r.Phone)
	return err
}

func (p *PostgresStore) GetRider(ctx context.Context, id string) (*models.Rider, error) {
	var r models.Rider
	err := p.db.QueryRowContext(ctx, `SELECT id, identity_key, name, email, phone FROM riders WHERE id=$1`, id).
		Scan(&r.ID, &r.IdentityKey, &r.Name, &r.Email, &r.Phone)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &r, err
}

func (p *PostgresStore) ListRiders(ctx context.Context, limit int) ([]models.Rider, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id, identity_key, name, email, phone FROM riders ORDER BY id LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []models.Rider{}
	for rows.Next() {
		var r models.Rider
		if err := rows.Scan(&r.ID, &r.IdentityKey, &r.Name, &r.Email, &r.Phone); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) CountRiders(ctx context.Context) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `SELECT count(*) FROM riders`).Scan(&n)
	return n, err
}
