package catalog

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/signalsfoundry/skywatch/model"
)

const archiveSchema = `
create table if not exists catalog_fetches (
	id integer primary key,
	group_name text not null,
	source text,
	fetched_at datetime not null,
	content_hash text not null,
	skipped integer not null default 0
);
create index if not exists idx_catalog_fetches_group on catalog_fetches(group_name, fetched_at);
create table if not exists element_sets (
	id integer primary key,
	fetch_id integer not null,
	norad_id integer not null,
	name text,
	object_id text,
	epoch datetime,
	line1 text not null,
	line2 text not null,
	inclination_deg float,
	raan_deg float,
	eccentricity float,
	mean_motion float,
	altitude_km float,
	period_min float,
	foreign key (fetch_id) references catalog_fetches(id)
);
create index if not exists idx_element_sets_fetch on element_sets(fetch_id);
`

// Archive keeps fetched catalogs in a SQLite file so a restart or an
// outage can fall back to the last good generation.
type Archive struct {
	db *sql.DB
}

// OpenArchive opens (creating if needed) the archive at path.
func OpenArchive(path string) (*Archive, error) {
	db, err := sql.Open("sqlite3", "file:"+path+"?cache=shared&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(archiveSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create archive schema: %w", err)
	}
	return &Archive{db: db}, nil
}

// Close releases the database handle.
func (a *Archive) Close() error { return a.db.Close() }

// ContentHash fingerprints the element lines of a catalog.
func ContentHash(c *model.Catalog) string {
	h := sha256.New()
	for _, s := range c.Sets {
		h.Write([]byte(s.Line1))
		h.Write([]byte{'\n'})
		h.Write([]byte(s.Line2))
		h.Write([]byte{'\n'})
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// Save stores c and returns its fetch id. When the group's latest stored
// generation has identical content only its timestamp is refreshed.
func (a *Archive) Save(ctx context.Context, c *model.Catalog) (int64, error) {
	if c == nil {
		return 0, errors.New("nil catalog")
	}
	hash := ContentHash(c)

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var (
		latestID   int64
		latestHash string
	)
	err = tx.QueryRowContext(ctx,
		`select id, content_hash from catalog_fetches where group_name = ? order by fetched_at desc, id desc limit 1`,
		c.Group,
	).Scan(&latestID, &latestHash)
	switch {
	case err == nil && latestHash == hash:
		if _, err := tx.ExecContext(ctx,
			`update catalog_fetches set fetched_at = ?, source = ?, skipped = ? where id = ?`,
			c.FetchedAt.UTC(), c.Source, c.Skipped, latestID,
		); err != nil {
			return 0, fmt.Errorf("touch fetch: %w", err)
		}
		return latestID, tx.Commit()
	case err != nil && !errors.Is(err, sql.ErrNoRows):
		return 0, fmt.Errorf("query latest fetch: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`insert into catalog_fetches(group_name, source, fetched_at, content_hash, skipped) values(?, ?, ?, ?, ?)`,
		c.Group, c.Source, c.FetchedAt.UTC(), hash, c.Skipped,
	)
	if err != nil {
		return 0, fmt.Errorf("insert fetch: %w", err)
	}
	fetchID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("fetch id: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `insert into element_sets(
		fetch_id,
		norad_id,
		name,
		object_id,
		epoch,
		line1,
		line2,
		inclination_deg,
		raan_deg,
		eccentricity,
		mean_motion,
		altitude_km,
		period_min
	) values(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, fmt.Errorf("prepare element insert: %w", err)
	}
	defer stmt.Close()

	for _, s := range c.Sets {
		if _, err := stmt.ExecContext(ctx,
			fetchID,
			s.NoradID,
			s.Name,
			s.ObjectID,
			s.Epoch.UTC(),
			s.Line1,
			s.Line2,
			s.InclinationDeg,
			s.RAANDeg,
			s.Eccentricity,
			s.MeanMotion,
			s.ApproxAltitudeKm(),
			s.PeriodMinutes(),
		); err != nil {
			return 0, fmt.Errorf("insert element %d: %w", s.NoradID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return fetchID, nil
}

// LoadLatest returns the most recent generation stored for group, or
// ErrNoArchive.
func (a *Archive) LoadLatest(ctx context.Context, group string) (*model.Catalog, error) {
	c := &model.Catalog{Group: group}
	var (
		fetchID int64
		source  sql.NullString
	)
	err := a.db.QueryRowContext(ctx,
		`select id, source, fetched_at, skipped from catalog_fetches where group_name = ? order by fetched_at desc, id desc limit 1`,
		group,
	).Scan(&fetchID, &source, &c.FetchedAt, &c.Skipped)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w for group %q", ErrNoArchive, group)
	}
	if err != nil {
		return nil, fmt.Errorf("query latest fetch: %w", err)
	}
	c.Source = source.String

	rows, err := a.db.QueryContext(ctx,
		`select norad_id, name, object_id, epoch, line1, line2, inclination_deg, raan_deg, eccentricity, mean_motion
		from element_sets where fetch_id = ? order by id`,
		fetchID,
	)
	if err != nil {
		return nil, fmt.Errorf("query elements: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			s              model.OrbitalElementSet
			name, objectID sql.NullString
			epoch          sql.NullTime
		)
		if err := rows.Scan(&s.NoradID, &name, &objectID, &epoch, &s.Line1, &s.Line2,
			&s.InclinationDeg, &s.RAANDeg, &s.Eccentricity, &s.MeanMotion); err != nil {
			return nil, fmt.Errorf("scan element: %w", err)
		}
		s.Name, s.ObjectID = name.String, objectID.String
		if epoch.Valid {
			s.Epoch = epoch.Time.UTC()
		}
		c.Sets = append(c.Sets, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate elements: %w", err)
	}
	c.FetchedAt = c.FetchedAt.UTC()
	return c, nil
}

// Prune deletes all but the newest keep generations of group and returns
// how many generations were removed.
func (a *Archive) Prune(ctx context.Context, group string, keep int) (int64, error) {
	if keep < 1 {
		keep = 1
	}
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	const stale = `select id from catalog_fetches where group_name = ?
		order by fetched_at desc, id desc limit -1 offset ?`
	if _, err := tx.ExecContext(ctx,
		`delete from element_sets where fetch_id in (`+stale+`)`, group, keep,
	); err != nil {
		return 0, fmt.Errorf("prune elements: %w", err)
	}
	res, err := tx.ExecContext(ctx, `delete from catalog_fetches where id in (`+stale+`)`, group, keep)
	if err != nil {
		return 0, fmt.Errorf("prune fetches: %w", err)
	}
	n, _ := res.RowsAffected()
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return n, nil
}

// Generations returns how many fetches are stored for group.
func (a *Archive) Generations(ctx context.Context, group string) (int, error) {
	var n int
	err := a.db.QueryRowContext(ctx, `select count(*) from catalog_fetches where group_name = ?`, group).Scan(&n)
	return n, err
}
