package storage

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/facefind/internal/config"
	"github.com/your-org/facefind/internal/models"
)

//go:embed schema.sql
var schemaSQL string

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// EnsureSchema applies the embedded DDL with the vector columns sized to
// the configured embedding dimensionality. All statements are idempotent so
// running it on every startup is safe. When the tables already exist with a
// different vector size it fails here, instead of letting every embedding
// insert die later with a dimension error.
func (s *PostgresStore) EnsureSchema(ctx context.Context, embeddingDim int) error {
	if embeddingDim <= 0 {
		return fmt.Errorf("ensure schema: embedding dim must be positive, got %d", embeddingDim)
	}
	if _, err := s.pool.Exec(ctx, renderSchema(embeddingDim)); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	for _, table := range []string{"photo_embeddings", "user_embeddings"} {
		// pgvector stores the dimension as the column's typmod.
		var dim int
		err := s.pool.QueryRow(ctx,
			`SELECT atttypmod FROM pg_attribute
			 WHERE attrelid = $1::regclass AND attname = 'embedding'`,
			table).Scan(&dim)
		if err != nil {
			return fmt.Errorf("inspect %s.embedding: %w", table, err)
		}
		if dim != embeddingDim {
			return fmt.Errorf("%s.embedding has %d dimensions, config wants %d; migrate the table first",
				table, dim, embeddingDim)
		}
	}
	return nil
}

func renderSchema(embeddingDim int) string {
	return fmt.Sprintf(schemaSQL, embeddingDim)
}

// --- Photos ---

const photoColumns = `id, event_id, uploader_id, raw_key, display_key, width, height,
	captured_at, status, retry_count, processing_error, faces_count, created_at, updated_at`

func scanPhoto(row pgx.Row) (*models.Photo, error) {
	p := &models.Photo{}
	err := row.Scan(&p.ID, &p.EventID, &p.UploaderID, &p.RawKey, &p.DisplayKey,
		&p.Width, &p.Height, &p.CapturedAt, &p.Status, &p.RetryCount,
		&p.ProcessingError, &p.FacesCount, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *PostgresStore) CreatePhoto(ctx context.Context, p *models.Photo) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	p.Status = models.PhotoStatusPending
	err := s.pool.QueryRow(ctx,
		`INSERT INTO photos (id, event_id, uploader_id, raw_key, captured_at, status)
		 VALUES ($1, $2, $3, $4, $5, $6) RETURNING created_at, updated_at`,
		p.ID, p.EventID, p.UploaderID, p.RawKey, p.CapturedAt, p.Status,
	).Scan(&p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create photo: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPhoto(ctx context.Context, id uuid.UUID) (*models.Photo, error) {
	p, err := scanPhoto(s.pool.QueryRow(ctx,
		`SELECT `+photoColumns+` FROM photos WHERE id = $1`, id))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get photo: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) ListEventPhotos(ctx context.Context, eventID uuid.UUID, status models.PhotoStatus, limit, offset int) ([]models.Photo, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+photoColumns+` FROM photos
		 WHERE event_id = $1 AND status = $2
		 ORDER BY created_at DESC LIMIT $3 OFFSET $4`,
		eventID, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list event photos: %w", err)
	}
	defer rows.Close()

	var photos []models.Photo
	for rows.Next() {
		p, err := scanPhoto(rows)
		if err != nil {
			return nil, fmt.Errorf("scan photo: %w", err)
		}
		photos = append(photos, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list event photos: %w", err)
	}
	return photos, nil
}

// ClaimPhotoForProcessing atomically moves a pending photo to processing.
// Returns nil without error when the photo is not pending, so duplicate
// queue deliveries become no-ops instead of double work.
func (s *PostgresStore) ClaimPhotoForProcessing(ctx context.Context, id uuid.UUID) (*models.Photo, error) {
	p, err := scanPhoto(s.pool.QueryRow(ctx,
		`UPDATE photos SET status = $2, updated_at = NOW()
		 WHERE id = $1 AND status = $3
		 RETURNING `+photoColumns,
		id, models.PhotoStatusProcessing, models.PhotoStatusPending))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("claim photo: %w", err)
	}
	return p, nil
}

// MarkPhotoReady finishes processing in a single update so the status flip
// is the last visible write: once a reader sees ready, the display key,
// dimensions and faces count are already in place.
func (s *PostgresStore) MarkPhotoReady(ctx context.Context, id uuid.UUID, displayKey string, width, height, facesCount int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE photos
		 SET display_key = $2, width = $3, height = $4, faces_count = $5,
		     processing_error = '', status = $6, updated_at = NOW()
		 WHERE id = $1 AND status = $7`,
		id, displayKey, width, height, facesCount,
		models.PhotoStatusReady, models.PhotoStatusProcessing)
	if err != nil {
		return fmt.Errorf("mark photo ready: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("photo %s not in processing", id)
	}
	return nil
}

// MarkPhotoFailed records a processing failure and decides the photo's fate:
// back to pending while retries remain, terminally failed once the budget is
// spent. The budget lives in the row, so it survives worker restarts.
// Returns the resulting status and retry count.
func (s *PostgresStore) MarkPhotoFailed(ctx context.Context, id uuid.UUID, procErr string, maxRetries int) (models.PhotoStatus, int, error) {
	var status models.PhotoStatus
	var retries int
	err := s.pool.QueryRow(ctx,
		`UPDATE photos
		 SET retry_count = retry_count + 1, processing_error = $2,
		     status = CASE WHEN retry_count + 1 >= $3 THEN $4 ELSE $5 END,
		     updated_at = NOW()
		 WHERE id = $1 AND status = $6
		 RETURNING status, retry_count`,
		id, procErr, maxRetries,
		models.PhotoStatusFailed, models.PhotoStatusPending, models.PhotoStatusProcessing,
	).Scan(&status, &retries)
	if err != nil {
		if err == pgx.ErrNoRows {
			return "", 0, fmt.Errorf("photo %s not in processing", id)
		}
		return "", 0, fmt.Errorf("mark photo failed: %w", err)
	}
	return status, retries, nil
}

// HidePhoto removes a ready photo from listings without touching its data.
func (s *PostgresStore) HidePhoto(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE photos SET status = $2, updated_at = NOW() WHERE id = $1 AND status = $3`,
		id, models.PhotoStatusHidden, models.PhotoStatusReady)
	if err != nil {
		return fmt.Errorf("hide photo: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("photo %s not ready", id)
	}
	return nil
}

// DeletePhoto tombstones the photo and drops its embeddings and claims.
// The returned photo carries the object keys the caller must remove from
// blob storage.
func (s *PostgresStore) DeletePhoto(ctx context.Context, id uuid.UUID) (*models.Photo, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin delete photo: %w", err)
	}
	defer tx.Rollback(ctx)

	p, err := scanPhoto(tx.QueryRow(ctx,
		`UPDATE photos SET status = $2, updated_at = NOW()
		 WHERE id = $1 AND status <> $2
		 RETURNING `+photoColumns,
		id, models.PhotoStatusDeleted))
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("delete photo: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM photo_embeddings WHERE photo_id = $1`, id); err != nil {
		return nil, fmt.Errorf("delete photo embeddings: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM claims WHERE photo_id = $1`, id); err != nil {
		return nil, fmt.Errorf("delete photo claims: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit delete photo: %w", err)
	}
	return p, nil
}

// --- Photo embeddings ---

// AddPhotoEmbeddings stores every face found in a photo. Append-only; rows
// disappear only through the photo's delete cascade.
func (s *PostgresStore) AddPhotoEmbeddings(ctx context.Context, photoID uuid.UUID, embeddings [][]float32) error {
	if len(embeddings) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, emb := range embeddings {
		batch.Queue(
			`INSERT INTO photo_embeddings (id, photo_id, embedding) VALUES ($1, $2, $3)`,
			uuid.New(), photoID, pgvector.NewVector(emb))
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range embeddings {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("add photo embedding: %w", err)
		}
	}
	return nil
}

// CandidatePhotoEmbeddings returns the face embeddings of ready photos,
// optionally scoped to one event. This is the pool find-me queries rank.
func (s *PostgresStore) CandidatePhotoEmbeddings(ctx context.Context, eventID *uuid.UUID) ([]models.Candidate, error) {
	query := `SELECT pe.photo_id, pe.embedding
		 FROM photo_embeddings pe
		 JOIN photos p ON p.id = pe.photo_id
		 WHERE p.status = $1`
	args := []interface{}{models.PhotoStatusReady}
	if eventID != nil {
		query += ` AND p.event_id = $2`
		args = append(args, *eventID)
	}
	query += ` ORDER BY p.created_at DESC, pe.created_at`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("candidate embeddings: %w", err)
	}
	defer rows.Close()

	var candidates []models.Candidate
	for rows.Next() {
		var c models.Candidate
		var vec pgvector.Vector
		if err := rows.Scan(&c.PhotoID, &vec); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		c.Embedding = vec.Slice()
		candidates = append(candidates, c)
	}
	// A connection drop mid-scan must not pass off a truncated pool as the
	// full candidate set.
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("candidate embeddings: %w", err)
	}
	return candidates, nil
}

// --- User embeddings ---

// ReplaceActiveUserEmbedding registers a new reference embedding and retires
// the previous one in the same transaction. The partial unique index on
// (user_id) WHERE is_active backstops the invariant under races.
func (s *PostgresStore) ReplaceActiveUserEmbedding(ctx context.Context, userID uuid.UUID, embedding []float32) (*models.UserEmbedding, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin replace embedding: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE user_embeddings SET is_active = FALSE WHERE user_id = $1 AND is_active`,
		userID); err != nil {
		return nil, fmt.Errorf("retire active embedding: %w", err)
	}

	ue := &models.UserEmbedding{
		ID:        uuid.New(),
		UserID:    userID,
		Embedding: embedding,
		IsActive:  true,
	}
	err = tx.QueryRow(ctx,
		`INSERT INTO user_embeddings (id, user_id, embedding, is_active)
		 VALUES ($1, $2, $3, TRUE) RETURNING created_at`,
		ue.ID, ue.UserID, pgvector.NewVector(embedding),
	).Scan(&ue.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert user embedding: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit replace embedding: %w", err)
	}
	return ue, nil
}

// ActiveUserEmbeddings returns the user's current reference embeddings.
// At most one row today; the slice shape leaves room for multi-pose
// registration later.
func (s *PostgresStore) ActiveUserEmbeddings(ctx context.Context, userID uuid.UUID) ([][]float32, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT embedding FROM user_embeddings WHERE user_id = $1 AND is_active ORDER BY created_at`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("active user embeddings: %w", err)
	}
	defer rows.Close()

	var embeddings [][]float32
	for rows.Next() {
		var vec pgvector.Vector
		if err := rows.Scan(&vec); err != nil {
			return nil, fmt.Errorf("scan user embedding: %w", err)
		}
		embeddings = append(embeddings, vec.Slice())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("active user embeddings: %w", err)
	}
	return embeddings, nil
}

// --- Claims ---

func (s *PostgresStore) CreateClaim(ctx context.Context, photoID, userID uuid.UUID, matchScore *float32) (*models.Claim, error) {
	c := &models.Claim{
		ID:         uuid.New(),
		PhotoID:    photoID,
		UserID:     userID,
		Status:     models.ClaimStatusPending,
		MatchScore: matchScore,
	}
	// Re-claiming the same photo returns the existing row untouched.
	err := s.pool.QueryRow(ctx,
		`INSERT INTO claims (id, photo_id, user_id, status, match_score)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (photo_id, user_id) DO UPDATE SET updated_at = claims.updated_at
		 RETURNING id, status, match_score, created_at, updated_at`,
		c.ID, c.PhotoID, c.UserID, c.Status, c.MatchScore,
	).Scan(&c.ID, &c.Status, &c.MatchScore, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("create claim: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) UpdateClaimStatus(ctx context.Context, id uuid.UUID, status models.ClaimStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE claims SET status = $2, updated_at = NOW() WHERE id = $1`,
		id, status)
	if err != nil {
		return fmt.Errorf("update claim: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("claim not found")
	}
	return nil
}

func (s *PostgresStore) ListUserClaims(ctx context.Context, userID uuid.UUID) ([]models.Claim, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, photo_id, user_id, status, match_score, created_at, updated_at
		 FROM claims WHERE user_id = $1 ORDER BY created_at DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("list user claims: %w", err)
	}
	defer rows.Close()
	return collectClaims(rows)
}

func (s *PostgresStore) ListPhotoClaims(ctx context.Context, photoID uuid.UUID) ([]models.Claim, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, photo_id, user_id, status, match_score, created_at, updated_at
		 FROM claims WHERE photo_id = $1 ORDER BY created_at DESC`,
		photoID)
	if err != nil {
		return nil, fmt.Errorf("list photo claims: %w", err)
	}
	defer rows.Close()
	return collectClaims(rows)
}

func collectClaims(rows pgx.Rows) ([]models.Claim, error) {
	var claims []models.Claim
	for rows.Next() {
		var c models.Claim
		if err := rows.Scan(&c.ID, &c.PhotoID, &c.UserID, &c.Status,
			&c.MatchScore, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan claim: %w", err)
		}
		claims = append(claims, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read claims: %w", err)
	}
	return claims, nil
}

// --- Stats ---

// PhotoStatusCounts reports per-status photo counts for an event.
func (s *PostgresStore) PhotoStatusCounts(ctx context.Context, eventID uuid.UUID) (map[models.PhotoStatus]int, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM photos WHERE event_id = $1 GROUP BY status`,
		eventID)
	if err != nil {
		return nil, fmt.Errorf("photo status counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[models.PhotoStatus]int)
	for rows.Next() {
		var st models.PhotoStatus
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[st] = n
	}
	return counts, nil
}
