package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/bidscope/internal/core/domain"
)

// DocumentRepository stores documents, content-addressed versions and
// segments. Each segment carries a generated tsvector so the lexical index
// never lags behind inserts.
type DocumentRepository struct {
	db *sql.DB
}

func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *DocumentRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026101601)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	namespace TEXT NOT NULL,
	owner_id TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_owner ON documents(owner_id, namespace);

CREATE TABLE IF NOT EXISTS document_versions (
	id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	content_hash TEXT NOT NULL,
	size_bytes BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	UNIQUE (document_id, content_hash)
);

CREATE INDEX IF NOT EXISTS idx_document_versions_document ON document_versions(document_id, created_at DESC);

CREATE TABLE IF NOT EXISTS segments (
	id TEXT PRIMARY KEY,
	version_id TEXT NOT NULL REFERENCES document_versions(id) ON DELETE CASCADE,
	position INTEGER NOT NULL,
	text TEXT NOT NULL,
	page_start INTEGER NOT NULL DEFAULT 0,
	page_end INTEGER NOT NULL DEFAULT 0,
	heading_path JSONB NOT NULL DEFAULT '[]'::jsonb,
	kind TEXT NOT NULL,
	search_vector TSVECTOR GENERATED ALWAYS AS (to_tsvector('simple', text)) STORED,
	UNIQUE (version_id, position)
);

CREATE INDEX IF NOT EXISTS idx_segments_search ON segments USING GIN (search_vector);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *DocumentRepository) CreateDocument(ctx context.Context, namespace, ownerID string) (string, error) {
	id := uuid.NewString()
	_, err := r.db.ExecContext(ctx, `
INSERT INTO documents (id, namespace, owner_id, created_at)
VALUES ($1,$2,$3,$4)
`, id, namespace, ownerID, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("insert document: %w", err)
	}
	return id, nil
}

// CreateVersion inserts a version or returns the one already stored for the
// same document and content hash.
func (r *DocumentRepository) CreateVersion(ctx context.Context, documentID, contentHash string, sizeBytes int64) (string, bool, error) {
	if contentHash == "" {
		return "", false, domain.WrapError(domain.ErrInvalidInput, "create version", errors.New("content hash is empty"))
	}
	var (
		versionID string
		inserted  bool
	)
	// xmax = 0 only for the row version written by this statement's insert.
	err := r.db.QueryRowContext(ctx, `
INSERT INTO document_versions (id, document_id, content_hash, size_bytes, created_at)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (document_id, content_hash) DO UPDATE SET content_hash = EXCLUDED.content_hash
RETURNING id, (xmax = 0)
`, uuid.NewString(), documentID, contentHash, sizeBytes, time.Now().UTC()).Scan(&versionID, &inserted)
	if err != nil {
		return "", false, fmt.Errorf("upsert document version: %w", err)
	}
	return versionID, inserted, nil
}

func (r *DocumentRepository) CreateSegments(ctx context.Context, versionID string, segments []domain.Segment) (int, error) {
	if len(segments) == 0 {
		return 0, nil
	}
	if err := domain.CheckSegmentOrder(segments); err != nil {
		return 0, err
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin segments tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO segments (id, version_id, position, text, page_start, page_end, heading_path, kind)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
`)
	if err != nil {
		return 0, fmt.Errorf("prepare segment insert: %w", err)
	}
	defer stmt.Close()

	for _, seg := range segments {
		id := seg.ID
		if id == "" {
			id = uuid.NewString()
		}
		headingPath := seg.HeadingPath
		if headingPath == nil {
			headingPath = []string{}
		}
		headingJSON, err := json.Marshal(headingPath)
		if err != nil {
			return 0, fmt.Errorf("marshal heading path: %w", err)
		}
		kind := seg.Kind
		if kind == "" {
			kind = domain.SegmentOther
		}
		if _, err := stmt.ExecContext(ctx, id, versionID, seg.Position, seg.Text, seg.PageStart, seg.PageEnd, headingJSON, string(kind)); err != nil {
			return 0, fmt.Errorf("insert segment %d: %w", seg.Position, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit segments tx: %w", err)
	}
	return len(segments), nil
}

const segmentColumns = `id, version_id, position, text, page_start, page_end, heading_path, kind`

func (r *DocumentRepository) QuerySegmentsByVersion(ctx context.Context, versionID string) ([]domain.Segment, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+segmentColumns+`
FROM segments
WHERE version_id = $1
ORDER BY position ASC
`, versionID)
	if err != nil {
		return nil, fmt.Errorf("query segments by version: %w", err)
	}
	defer rows.Close()
	return scanSegments(rows)
}

// GetSegments loads segments by id. Order of the result is unspecified.
func (r *DocumentRepository) GetSegments(ctx context.Context, ids []string) ([]domain.Segment, error) {
	if len(ids) == 0 {
		return []domain.Segment{}, nil
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+segmentColumns+`
FROM segments
WHERE id = ANY($1)
`, ids)
	if err != nil {
		return nil, fmt.Errorf("query segments by id: %w", err)
	}
	defer rows.Close()
	return scanSegments(rows)
}

func (r *DocumentRepository) LexicalSearch(ctx context.Context, versionIDs []string, query string, limit int) ([]domain.LexicalHit, error) {
	tsQuery := lexicalQuery(query)
	if len(versionIDs) == 0 || limit <= 0 || tsQuery == "" {
		return []domain.LexicalHit{}, nil
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, version_id, ts_rank_cd(search_vector, q) AS score
FROM segments, to_tsquery('simple', $2) AS q
WHERE version_id = ANY($1) AND search_vector @@ q
ORDER BY score DESC, id ASC
LIMIT $3
`, versionIDs, tsQuery, limit)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}
	defer rows.Close()

	hits := make([]domain.LexicalHit, 0, limit)
	for rows.Next() {
		var hit domain.LexicalHit
		if err := rows.Scan(&hit.SegmentID, &hit.VersionID, &hit.Score); err != nil {
			return nil, fmt.Errorf("scan lexical hit: %w", err)
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lexical hits: %w", err)
	}
	return hits, nil
}

// ResolveVersions returns the latest version of every document the entity
// owns, optionally restricted to namespaces listed in docTypes.
func (r *DocumentRepository) ResolveVersions(ctx context.Context, entityID string, docTypes []string) ([]domain.VersionRef, error) {
	if docTypes == nil {
		docTypes = []string{}
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT DISTINCT ON (v.document_id) v.id, v.document_id, d.namespace
FROM document_versions v
JOIN documents d ON d.id = v.document_id
WHERE d.owner_id = $1 AND (cardinality($2::text[]) = 0 OR d.namespace = ANY($2))
ORDER BY v.document_id, v.created_at DESC
`, entityID, docTypes)
	if err != nil {
		return nil, fmt.Errorf("resolve versions: %w", err)
	}
	defer rows.Close()

	refs := make([]domain.VersionRef, 0)
	for rows.Next() {
		var ref domain.VersionRef
		if err := rows.Scan(&ref.VersionID, &ref.DocumentID, &ref.Namespace); err != nil {
			return nil, fmt.Errorf("scan version ref: %w", err)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate version refs: %w", err)
	}
	return refs, nil
}

// lexicalQuery turns free text into an OR tsquery so a segment matching any
// query term is a candidate; ts_rank_cd still favours segments matching more.
func lexicalQuery(query string) string {
	terms := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]struct{}, len(terms))
	out := make([]string, 0, len(terms))
	for _, term := range terms {
		if _, ok := seen[term]; ok {
			continue
		}
		seen[term] = struct{}{}
		out = append(out, term)
	}
	return strings.Join(out, " | ")
}

type segmentScanner interface {
	Scan(dest ...any) error
}

func scanSegment(row segmentScanner) (domain.Segment, error) {
	var (
		seg         domain.Segment
		headingJSON []byte
		kind        string
	)
	if err := row.Scan(&seg.ID, &seg.VersionID, &seg.Position, &seg.Text, &seg.PageStart, &seg.PageEnd, &headingJSON, &kind); err != nil {
		return domain.Segment{}, err
	}
	if len(headingJSON) > 0 {
		if err := json.Unmarshal(headingJSON, &seg.HeadingPath); err != nil {
			return domain.Segment{}, fmt.Errorf("unmarshal heading path: %w", err)
		}
	}
	seg.Kind = domain.ParseSegmentKind(kind)
	return seg, nil
}

func scanSegments(rows *sql.Rows) ([]domain.Segment, error) {
	out := make([]domain.Segment, 0)
	for rows.Next() {
		seg, err := scanSegment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		out = append(out, seg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate segments: %w", err)
	}
	return out, nil
}
