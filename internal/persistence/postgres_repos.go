package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"narrativeos/internal/core"
)

// scanner is satisfied by *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

// postgresRawItemRepo implements RawItemRepository for PostgreSQL
type postgresRawItemRepo struct {
	db *sql.DB
}

const rawItemColumns = `id, title, content, source, source_type, url, published_at, ingested_at`

func (r *postgresRawItemRepo) Create(ctx context.Context, item *core.RawItem) error {
	query := `
		INSERT INTO raw_items (` + rawItemColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	ingested := item.IngestedAt
	if ingested.IsZero() {
		ingested = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, query,
		item.ID, item.Title, item.Content, item.Source, string(item.SourceType),
		item.URL, item.Timestamp.UTC(), ingested,
	)
	return classify(err, "raw item "+item.ID)
}

func (r *postgresRawItemRepo) Get(ctx context.Context, id string) (*core.RawItem, error) {
	query := `SELECT ` + rawItemColumns + ` FROM raw_items WHERE id = $1`
	item, err := scanRawItem(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, classify(err, "raw item "+id)
	}
	return item, nil
}

func (r *postgresRawItemRepo) ListSince(ctx context.Context, since time.Time, limit int) ([]core.RawItem, error) {
	query := `SELECT ` + rawItemColumns + ` FROM raw_items WHERE published_at >= $1 ORDER BY published_at DESC, id`
	args := []any{since.UTC()}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list raw items: %w", err)
	}
	defer rows.Close()

	var items []core.RawItem
	for rows.Next() {
		item, err := scanRawItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

func scanRawItem(row scanner) (*core.RawItem, error) {
	var item core.RawItem
	var sourceType string
	err := row.Scan(&item.ID, &item.Title, &item.Content, &item.Source, &sourceType,
		&item.URL, &item.Timestamp, &item.IngestedAt)
	if err != nil {
		return nil, err
	}
	item.SourceType = core.SourceType(sourceType)
	return &item, nil
}

// postgresUnitRepo implements UnitRepository for PostgreSQL
type postgresUnitRepo struct {
	db *sql.DB
}

const unitColumns = `id, raw_item_id, title, summary, sentiment, entities, keywords, conflict, embedding, source_type, source, published_at`

func (r *postgresUnitRepo) Create(ctx context.Context, unit *core.NarrativeUnit) error {
	entitiesJSON, err := json.Marshal(nonNil(unit.Entities))
	if err != nil {
		return fmt.Errorf("failed to marshal entities: %w", err)
	}
	keywordsJSON, err := json.Marshal(nonNil(unit.Keywords))
	if err != nil {
		return fmt.Errorf("failed to marshal keywords: %w", err)
	}
	var embedding any
	if unit.HasEmbedding() {
		raw, err := json.Marshal(unit.Embedding)
		if err != nil {
			return fmt.Errorf("failed to marshal embedding: %w", err)
		}
		embedding = raw
	}

	query := `
		INSERT INTO narrative_units (` + unitColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = r.db.ExecContext(ctx, query,
		unit.ID, unit.RawItemID, unit.Title, unit.Summary, string(unit.Sentiment),
		entitiesJSON, keywordsJSON, unit.Conflict, embedding,
		string(unit.SourceType), unit.Source, unit.Timestamp.UTC(),
	)
	return classify(err, "unit for raw item "+unit.RawItemID)
}

func (r *postgresUnitRepo) Get(ctx context.Context, id string) (*core.NarrativeUnit, error) {
	query := `SELECT ` + unitColumns + ` FROM narrative_units WHERE id = $1`
	unit, err := scanUnit(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, classify(err, "unit "+id)
	}
	return unit, nil
}

func (r *postgresUnitRepo) ExistingRawItemIDs(ctx context.Context, rawItemIDs []string) (map[string]bool, error) {
	out := make(map[string]bool)
	if len(rawItemIDs) == 0 {
		return out, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT raw_item_id FROM narrative_units WHERE raw_item_id = ANY($1)`, pq.Array(rawItemIDs))
	if err != nil {
		return nil, fmt.Errorf("existing units: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}

func (r *postgresUnitRepo) ListByIDs(ctx context.Context, ids []string) ([]core.NarrativeUnit, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + unitColumns + ` FROM narrative_units WHERE id = ANY($1)`
	return r.list(ctx, query, pq.Array(ids))
}

func (r *postgresUnitRepo) ListSince(ctx context.Context, since time.Time, withEmbedding bool) ([]core.NarrativeUnit, error) {
	query := `SELECT ` + unitColumns + ` FROM narrative_units WHERE published_at >= $1`
	if withEmbedding {
		query += ` AND embedding IS NOT NULL`
	}
	query += ` ORDER BY published_at ASC, id ASC`
	return r.list(ctx, query, since.UTC())
}

func (r *postgresUnitRepo) ListRecent(ctx context.Context, limit int) ([]core.NarrativeUnit, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT ` + unitColumns + ` FROM narrative_units ORDER BY published_at DESC, id LIMIT $1`
	return r.list(ctx, query, limit)
}

func (r *postgresUnitRepo) list(ctx context.Context, query string, args ...any) ([]core.NarrativeUnit, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list units: %w", err)
	}
	defer rows.Close()

	var units []core.NarrativeUnit
	for rows.Next() {
		unit, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		units = append(units, *unit)
	}
	return units, rows.Err()
}

func scanUnit(row scanner) (*core.NarrativeUnit, error) {
	var unit core.NarrativeUnit
	var sentiment, sourceType string
	var entitiesJSON, keywordsJSON, embeddingJSON []byte
	var conflict sql.NullString

	err := row.Scan(&unit.ID, &unit.RawItemID, &unit.Title, &unit.Summary, &sentiment,
		&entitiesJSON, &keywordsJSON, &conflict, &embeddingJSON,
		&sourceType, &unit.Source, &unit.Timestamp)
	if err != nil {
		return nil, err
	}

	unit.Sentiment = core.Sentiment(sentiment)
	unit.SourceType = core.SourceType(sourceType)
	if conflict.Valid {
		unit.Conflict = &conflict.String
	}
	if err := json.Unmarshal(entitiesJSON, &unit.Entities); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entities: %w", err)
	}
	if err := json.Unmarshal(keywordsJSON, &unit.Keywords); err != nil {
		return nil, fmt.Errorf("failed to unmarshal keywords: %w", err)
	}
	if len(embeddingJSON) > 0 {
		if err := json.Unmarshal(embeddingJSON, &unit.Embedding); err != nil {
			return nil, fmt.Errorf("failed to unmarshal embedding: %w", err)
		}
	}
	return &unit, nil
}

// postgresClusterRepo implements ClusterRepository for PostgreSQL
type postgresClusterRepo struct {
	db *sql.DB
}

const clusterColumns = `id, name, description, method, member_unit_ids, cached_report, report_timestamp, created_at`

func (r *postgresClusterRepo) Create(ctx context.Context, cluster *core.NarrativeCluster) error {
	if len(cluster.MemberUnitIDs) == 0 {
		return fmt.Errorf("cluster %s has no members", cluster.ID)
	}
	membersJSON, err := json.Marshal(cluster.MemberUnitIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal members: %w", err)
	}

	query := `
		INSERT INTO narrative_clusters (` + clusterColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = r.db.ExecContext(ctx, query,
		cluster.ID, cluster.Name, cluster.Description, string(cluster.Method), membersJSON,
		cluster.CachedReport, cluster.ReportTimestamp, cluster.CreatedAt.UTC(),
	)
	return classify(err, "cluster "+cluster.ID)
}

func (r *postgresClusterRepo) Get(ctx context.Context, id string) (*core.NarrativeCluster, error) {
	query := `SELECT ` + clusterColumns + ` FROM narrative_clusters WHERE id = $1`
	cluster, err := scanCluster(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, classify(err, "cluster "+id)
	}
	return cluster, nil
}

func (r *postgresClusterRepo) List(ctx context.Context, since time.Time, limit int) ([]core.NarrativeCluster, error) {
	query := `SELECT ` + clusterColumns + ` FROM narrative_clusters WHERE created_at >= $1 ORDER BY created_at DESC, seq DESC`
	args := []any{since.UTC()}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list clusters: %w", err)
	}
	defer rows.Close()

	var clusters []core.NarrativeCluster
	for rows.Next() {
		cluster, err := scanCluster(rows)
		if err != nil {
			return nil, err
		}
		clusters = append(clusters, *cluster)
	}
	return clusters, rows.Err()
}

func (r *postgresClusterRepo) Latest(ctx context.Context) (*core.NarrativeCluster, error) {
	query := `SELECT ` + clusterColumns + ` FROM narrative_clusters ORDER BY created_at DESC, seq DESC LIMIT 1`
	cluster, err := scanCluster(r.db.QueryRowContext(ctx, query))
	if err != nil {
		return nil, classify(err, "latest cluster")
	}
	return cluster, nil
}

func (r *postgresClusterRepo) UpdateReport(ctx context.Context, id, content string, at time.Time) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE narrative_clusters SET cached_report = $2, report_timestamp = $3 WHERE id = $1`,
		id, content, at.UTC())
	if err != nil {
		return classify(err, "cluster "+id)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("cluster %s: %w", id, ErrNotFound)
	}
	return nil
}

func scanCluster(row scanner) (*core.NarrativeCluster, error) {
	var cluster core.NarrativeCluster
	var method string
	var membersJSON []byte
	var report sql.NullString
	var reportAt sql.NullTime

	err := row.Scan(&cluster.ID, &cluster.Name, &cluster.Description, &method, &membersJSON,
		&report, &reportAt, &cluster.CreatedAt)
	if err != nil {
		return nil, err
	}

	cluster.Method = core.ClusterMethod(method)
	if err := json.Unmarshal(membersJSON, &cluster.MemberUnitIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal members: %w", err)
	}
	if report.Valid {
		cluster.CachedReport = &report.String
	}
	if reportAt.Valid {
		cluster.ReportTimestamp = &reportAt.Time
	}
	return &cluster, nil
}

// postgresSnapshotRepo implements SnapshotRepository for PostgreSQL
type postgresSnapshotRepo struct {
	db *sql.DB
}

func (r *postgresSnapshotRepo) Append(ctx context.Context, s *core.IndexSnapshot) error {
	query := `
		INSERT INTO index_snapshots (cluster_id, taken_at, strength, sentiment_score, velocity,
			media_coverage, social_heat, consistency, lifecycle)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := r.db.ExecContext(ctx, query,
		s.ClusterID, s.Timestamp.UTC(), s.Strength, s.SentimentScore, s.Velocity,
		s.MediaCoverage, s.SocialHeat, s.Consistency, string(s.Lifecycle),
	)
	return classify(err, "snapshot for cluster "+s.ClusterID)
}

func (r *postgresSnapshotRepo) Latest(ctx context.Context, clusterID string, n int) ([]core.IndexSnapshot, error) {
	if n <= 0 {
		n = 100
	}
	query := `
		SELECT cluster_id, taken_at, strength, sentiment_score, velocity,
			media_coverage, social_heat, consistency, lifecycle
		FROM index_snapshots
		WHERE cluster_id = $1
		ORDER BY taken_at DESC, id DESC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, clusterID, n)
	if err != nil {
		return nil, fmt.Errorf("latest snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []core.IndexSnapshot
	for rows.Next() {
		var s core.IndexSnapshot
		var lifecycle string
		if err := rows.Scan(&s.ClusterID, &s.Timestamp, &s.Strength, &s.SentimentScore, &s.Velocity,
			&s.MediaCoverage, &s.SocialHeat, &s.Consistency, &lifecycle); err != nil {
			return nil, err
		}
		s.Lifecycle = core.Lifecycle(lifecycle)
		snapshots = append(snapshots, s)
	}
	return snapshots, rows.Err()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
