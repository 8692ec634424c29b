package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/micro-ha/follower-watch/internal/model"
)

const (
	clusterMatchDegrees = 0.001
	clusterRadiusMeters = 100.0
)

// TouchLocationCluster records a visit to the cluster around pos, creating
// one when no existing cluster is within about a hundred meters.
func (r *Repository) TouchLocationCluster(ctx context.Context, pos model.Position, at time.Time) (model.LocationCluster, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.LocationCluster{}, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		SELECT id, latitude, longitude, radius_meters, visit_count, first_visit, last_visit, label
		FROM location_clusters
		WHERE ABS(latitude - ?) < ? AND ABS(longitude - ?) < ?
		ORDER BY last_visit DESC
		LIMIT 1`,
		pos.Latitude, clusterMatchDegrees, pos.Longitude, clusterMatchDegrees,
	)
	cluster, err := scanCluster(row)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		cluster = model.LocationCluster{
			Center:       model.Position{Latitude: pos.Latitude, Longitude: pos.Longitude},
			RadiusMeters: clusterRadiusMeters,
			VisitCount:   1,
			FirstVisit:   at.UTC(),
			LastVisit:    at.UTC(),
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO location_clusters (latitude, longitude, radius_meters, visit_count, first_visit, last_visit)
			VALUES (?, ?, ?, ?, ?, ?)`,
			cluster.Center.Latitude, cluster.Center.Longitude, cluster.RadiusMeters, cluster.VisitCount,
			formatTime(at), formatTime(at),
		)
		if err != nil {
			return model.LocationCluster{}, err
		}
		if cluster.ID, err = res.LastInsertId(); err != nil {
			return model.LocationCluster{}, err
		}
	case err != nil:
		return model.LocationCluster{}, err
	default:
		cluster.VisitCount++
		if at.After(cluster.LastVisit) {
			cluster.LastVisit = at.UTC()
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE location_clusters SET visit_count = ?, last_visit = ? WHERE id = ?`,
			cluster.VisitCount, formatTime(cluster.LastVisit), cluster.ID,
		); err != nil {
			return model.LocationCluster{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return model.LocationCluster{}, err
	}
	return cluster, nil
}

func (r *Repository) ListLocationClusters(ctx context.Context) ([]model.LocationCluster, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, latitude, longitude, radius_meters, visit_count, first_visit, last_visit, label
		FROM location_clusters
		ORDER BY visit_count DESC, last_visit DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []model.LocationCluster{}
	for rows.Next() {
		cluster, err := scanCluster(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, cluster)
	}
	return items, rows.Err()
}

func scanCluster(row rowScanner) (model.LocationCluster, error) {
	var (
		c                     model.LocationCluster
		firstVisit, lastVisit string
		label                 sql.NullString
	)
	if err := row.Scan(
		&c.ID, &c.Center.Latitude, &c.Center.Longitude, &c.RadiusMeters, &c.VisitCount, &firstVisit, &lastVisit, &label,
	); err != nil {
		return model.LocationCluster{}, err
	}
	c.FirstVisit = parseTime(firstVisit)
	c.LastVisit = parseTime(lastVisit)
	c.Label = fromNull(label)
	return c, nil
}
