package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"github.com/Slamanii/Ride-hailing/internal/geo"
	"github.com/Slamanii/Ride-hailing/internal/models"
)

// PostgresStore also serves as a geo.Directory when no Redis is configured.
var _ geo.Directory = (*PostgresStore)(nil)

func (p *PostgresStore) Upsert(ctx context.Context, d models.Driver) error {
	if d.Status == "" {
		d.Status = models.DriverOffline
	}
	_, err := p.db.ExecContext(ctx, `INSERT INTO drivers(id, identity_key, name, email, phone, vehicle, license_number,
		vehicle_class, status, lat, lon, updated_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,now())
		ON CONFLICT (id) DO UPDATE SET identity_key=EXCLUDED.identity_key, name=EXCLUDED.name, email=EXCLUDED.email,
		phone=EXCLUDED.phone, vehicle=EXCLUDED.vehicle, license_number=EXCLUDED.license_number,
		vehicle_class=EXCLUDED.vehicle_class, status=EXCLUDED.status, lat=EXCLUDED.lat, lon=EXCLUDED.lon, updated_at=now()`,
		d.ID, d.IdentityKey, d.Name, d.Email, d.Phone, d.Vehicle, d.LicenseNumber,
		string(d.VehicleClass), string(d.Status), d.Loc.Lat, d.Loc.Lon)
	return err
}

func (p *PostgresStore) UpdateLocation(ctx context.Context, driverID string, loc models.Coord) error {
	return p.touch(ctx, `UPDATE drivers SET lat=$1, lon=$2, updated_at=now() WHERE id=$3`, loc.Lat, loc.Lon, driverID)
}

func (p *PostgresStore) SetStatus(ctx context.Context, driverID string, status models.DriverStatus) error {
	return p.touch(ctx, `UPDATE drivers SET status=$1, updated_at=now() WHERE id=$2`, string(status), driverID)
}

func (p *PostgresStore) touch(ctx context.Context, q string, args ...any) error {
	res, err := p.db.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return geo.ErrUnknownDriver
	}
	return nil
}

const driverColumns = `id, identity_key, name, email, phone, vehicle, license_number, vehicle_class, status, lat, lon, updated_at`

func scanDriver(row rowScanner) (models.Driver, error) {
	var (
		d      models.Driver
		class  string
		status string
	)
	err := row.Scan(&d.ID, &d.IdentityKey, &d.Name, &d.Email, &d.Phone, &d.Vehicle, &d.LicenseNumber,
		&class, &status, &d.Loc.Lat, &d.Loc.Lon, &d.Updated)
	if err != nil {
		return models.Driver{}, err
	}
	d.VehicleClass = models.VehicleClass(class)
	d.Status = models.DriverStatus(status)
	return d, nil
}

func (p *PostgresStore) Get(ctx context.Context, driverID string) (models.Driver, error) {
	d, err := scanDriver(p.db.QueryRowContext(ctx, `SELECT `+driverColumns+` FROM drivers WHERE id=$1`, driverID))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Driver{}, geo.ErrUnknownDriver
	}
	return d, err
}

// AvailableDrivers samples up to limit available drivers of the given classes.
func (p *PostgresStore) AvailableDrivers(ctx context.Context, classes []models.VehicleClass, limit int) ([]models.Driver, error) {
	names := make([]string, len(classes))
	for i, c := range classes {
		names[i] = string(c)
	}
	rows, err := p.db.QueryContext(ctx, `SELECT `+driverColumns+` FROM drivers
		WHERE status='available' AND vehicle_class = ANY($1) ORDER BY random() LIMIT $2`,
		pq.Array(names), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDrivers(rows)
}

func scanDrivers(rows *sql.Rows) ([]models.Driver, error) {
	out := []models.Driver{}
	for rows.Next() {
		d, err := scanDriver(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (p *PostgresStore) List(ctx context.Context, limit int) ([]models.Driver, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+driverColumns+` FROM drivers ORDER BY id LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDrivers(rows)
}

func (p *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `SELECT count(*) FROM drivers`).Scan(&n)
	return n, err
}
