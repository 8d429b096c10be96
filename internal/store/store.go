package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/repoqa/repoqa/pkg/models"
)

const (
	// writeBatchSize is the number of chunks inserted per statement.
	writeBatchSize = 50

	// DefaultTopK is the number of neighbors fetched when none is requested.
	DefaultTopK = 8

	// MinSimilarity is the floor below which retrieved chunks are dropped.
	MinSimilarity = 0.5
)

// Store provides methods to interact with the database.
type Store struct {
	pool *pgxpool.Pool
}

// ChunkStore defines the methods that the Store must implement.
type ChunkStore interface {
	Migrate(ctx context.Context, dim int) error
	Write(ctx context.Context, embedded []models.EmbeddedChunk, opts WriteOpts) (WriteResult, error)
	Search(ctx context.Context, vec []float32, opts SearchOpts) ([]models.RetrievedChunk, int, error)
	GetRepoIndex(ctx context.Context, repoID string) (models.RepoIndex, bool, error)
	ListRepos(ctx context.Context) ([]models.RepoIndex, error)
	DeleteRepo(ctx context.Context, repoID string) (int, error)
	Ping(ctx context.Context) error
}

// New creates a new Store instance connected to the given database URL.
func New(ctx context.Context, url string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{pool: p}, nil
}

func (s *Store) Close() { s.pool.Close() }

// Migrate applies necessary database migrations and schema setup.
func (s *Store) Migrate(ctx context.Context, dim int) error {
	q := `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS code_chunks (
  id          TEXT PRIMARY KEY,
  repo_id     TEXT NOT NULL,
  file_path   TEXT NOT NULL,
  language    TEXT NOT NULL DEFAULT '',
  content     TEXT NOT NULL,
  start_line  INT NOT NULL,
  end_line    INT NOT NULL,
  symbol_name TEXT,
  chunk_index INT NOT NULL DEFAULT 0,
  embedding   vector(%d),
  embedded_at TIMESTAMP WITH TIME ZONE
);

CREATE INDEX IF NOT EXISTS code_chunks_repo_id_idx
  ON code_chunks (repo_id);

CREATE INDEX IF NOT EXISTS code_chunks_embedding_idx
  ON code_chunks USING hnsw (embedding vector_cosine_ops)
  WITH (m = 16, ef_construction = 64);

CREATE TABLE IF NOT EXISTS repo_index (
  repo_id         TEXT PRIMARY KEY,
  commit_hash     TEXT,
  default_branch  TEXT NOT NULL DEFAULT 'main',
  size_kb         INT NOT NULL DEFAULT 0,
  file_count      INT NOT NULL DEFAULT 0,
  chunk_count     INT NOT NULL DEFAULT 0,
  embedding_model TEXT NOT NULL DEFAULT '',
  updated_at      TIMESTAMP WITH TIME ZONE DEFAULT now()
);
`
	_, err := s.pool.Exec(ctx, fmt.Sprintf(q, dim))
	return err
}

// WriteOpts carries the repository context for a write.
type WriteOpts struct {
	Meta           models.RepoMeta
	CommitHash     string // empty means unknown; forces the upsert strategy
	EmbeddingModel string
}

// WriteResult reports what a write did.
type WriteResult struct {
	Strategy      string `json:"strategy"`
	ChunksWritten int    `json:"chunksWritten"`
	ChunksDeleted int    `json:"chunksDeleted"`
	DurationMS    int64  `json:"durationMs"`
}

// Write persists embedded chunks for a repository. The strategy is picked from
// the commit hash: a matching stored hash skips the write entirely, a new or
// changed hash deletes and reinserts, and an unknown hash upserts per chunk.
// The repo_index row is only updated after every chunk batch has succeeded.
func (s *Store) Write(ctx context.Context, embedded []models.EmbeddedChunk, opts WriteOpts) (WriteResult, error) {
	start := time.Now()
	repoID := opts.Meta.RepoID
	if repoID == "" {
		return WriteResult{}, errors.New("write: missing repo id")
	}

	prior, found, err := s.GetRepoIndex(ctx, repoID)
	if err != nil {
		return WriteResult{}, fmt.Errorf("load repo index for %s: %w", repoID, err)
	}

	strategy := pickStrategy(found, prior.CommitHash, opts.CommitHash)
	if strategy == models.StrategySkipped {
		return WriteResult{
			Strategy:   models.StrategySkipped,
			DurationMS: time.Since(start).Milliseconds(),
		}, nil
	}

	res := WriteResult{Strategy: strategy}
	if strategy == models.StrategyFullReindex {
		tag, err := s.pool.Exec(ctx, `DELETE FROM code_chunks WHERE repo_id = $1`, repoID)
		if err != nil {
			return WriteResult{}, fmt.Errorf("delete chunks for %s: %w", repoID, err)
		}
		res.ChunksDeleted = int(tag.RowsAffected())
	}

	for i := 0; i < len(embedded); i += writeBatchSize {
		end := i + writeBatchSize
		if end > len(embedded) {
			end = len(embedded)
		}
		n, err := s.writeBatch(ctx, embedded[i:end], strategy)
		if err != nil {
			return WriteResult{}, fmt.Errorf("write batch at offset %d: %w", i, err)
		}
		res.ChunksWritten += n
	}

	if err := s.upsertRepoIndex(ctx, opts); err != nil {
		return WriteResult{}, fmt.Errorf("upsert repo index for %s: %w", repoID, err)
	}

	res.DurationMS = time.Since(start).Milliseconds()
	return res, nil
}

// pickStrategy decides what a write does from the stored and incoming commit
// hashes. An unknown incoming hash can never match a stored one, so it upserts.
func pickStrategy(found bool, storedHash, commitHash string) string {
	if commitHash == "" {
		return models.StrategyUpsert
	}
	if found && storedHash == commitHash {
		return models.StrategySkipped
	}
	return models.StrategyFullReindex
}

// writeBatch inserts one batch with a single multi-row statement.
func (s *Store) writeBatch(ctx context.Context, batch []models.EmbeddedChunk, strategy string) (int, error) {
	args := make([]any, 0, len(batch)*insertCols)
	for _, ec := range batch {
		var symbol any
		if ec.Chunk.SymbolName != "" {
			symbol = ec.Chunk.SymbolName
		}
		args = append(args,
			ec.Chunk.ID, ec.Chunk.RepoID, ec.Chunk.FilePath, ec.Chunk.Language, ec.Chunk.Content,
			ec.Chunk.StartLine, ec.Chunk.EndLine, symbol, ec.Chunk.ChunkIndex,
			pgvector.NewVector(ec.Embedding), ec.EmbeddedAt,
		)
	}

	tag, err := s.pool.Exec(ctx, batchInsertSQL(len(batch), strategy), args...)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

const insertCols = 11

// batchInsertSQL builds the multi-row insert statement for n chunks. The
// conflict clause depends on the strategy: upsert refreshes content and
// embedding, full-reindex skips rows that already exist.
func batchInsertSQL(n int, strategy string) string {
	var sb strings.Builder
	sb.WriteString(`INSERT INTO code_chunks (
  id, repo_id, file_path, language, content,
  start_line, end_line, symbol_name, chunk_index, embedding, embedded_at
) VALUES `)

	for i := 0; i < n; i++ {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * insertCols
		sb.WriteString(fmt.Sprintf("($%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d)",
			base+1, base+2, base+3, base+4, base+5, base+6,
			base+7, base+8, base+9, base+10, base+11))
	}

	if strategy == models.StrategyUpsert {
		sb.WriteString(`
ON CONFLICT (id) DO UPDATE SET
  content     = EXCLUDED.content,
  embedding   = EXCLUDED.embedding,
  embedded_at = EXCLUDED.embedded_at`)
	} else {
		sb.WriteString(` ON CONFLICT (id) DO NOTHING`)
	}
	return sb.String()
}

// upsertRepoIndex records the repository's index state. chunk_count is read
// back from code_chunks so the upsert strategy counts pre-existing rows too.
func (s *Store) upsertRepoIndex(ctx context.Context, opts WriteOpts) error {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM code_chunks WHERE repo_id = $1`, opts.Meta.RepoID).Scan(&count)
	if err != nil {
		return err
	}

	const q = `
INSERT INTO repo_index (
  repo_id, commit_hash, default_branch, size_kb, file_count,
  chunk_count, embedding_model, updated_at
) VALUES ($1, NULLIF($2,''), $3, $4, $5, $6, $7, now())
ON CONFLICT (repo_id) DO UPDATE SET
  commit_hash     = NULLIF($2,''),
  default_branch  = EXCLUDED.default_branch,
  size_kb         = EXCLUDED.size_kb,
  file_count      = EXCLUDED.file_count,
  chunk_count     = EXCLUDED.chunk_count,
  embedding_model = EXCLUDED.embedding_model,
  updated_at      = now();`

	_, err = s.pool.Exec(ctx, q,
		opts.Meta.RepoID, opts.CommitHash, opts.Meta.DefaultBranch,
		opts.Meta.SizeKB, opts.Meta.FileCount, count, opts.EmbeddingModel,
	)
	return err
}

// SearchOpts restricts a nearest-neighbor search.
type SearchOpts struct {
	RepoID string
	TopK   int // <= 0 falls back to DefaultTopK
}

// Search runs an approximate nearest-neighbor query over one repository's
// chunks. It returns the surviving chunks ordered by similarity descending
// and the candidate count before the similarity floor was applied.
func (s *Store) Search(ctx context.Context, vec []float32, opts SearchOpts) ([]models.RetrievedChunk, int, error) {
	topK := opts.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}

	const q = `
SELECT file_path, start_line, end_line, COALESCE(symbol_name, ''), content, language,
       1 - (embedding <=> $1) AS score
FROM code_chunks
WHERE repo_id = $2 AND embedding IS NOT NULL
ORDER BY embedding <=> $1
LIMIT $3`

	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(vec), opts.RepoID, topK)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []models.RetrievedChunk
	candidates := 0
	for rows.Next() {
		var rc models.RetrievedChunk
		if err := rows.Scan(
			&rc.FilePath, &rc.StartLine, &rc.EndLine, &rc.SymbolName,
			&rc.Content, &rc.Language, &rc.Score,
		); err != nil {
			return nil, 0, err
		}
		candidates++
		if rc.Score < MinSimilarity {
			continue
		}
		out = append(out, rc)
	}
	return out, candidates, rows.Err()
}

// GetRepoIndex fetches the index row for a repository.
func (s *Store) GetRepoIndex(ctx context.Context, repoID string) (models.RepoIndex, bool, error) {
	const q = `
SELECT repo_id, COALESCE(commit_hash, ''), default_branch, size_kb,
       file_count, chunk_count, embedding_model, updated_at
FROM repo_index
WHERE repo_id = $1`

	var ri models.RepoIndex
	err := s.pool.QueryRow(ctx, q, repoID).Scan(
		&ri.RepoID, &ri.CommitHash, &ri.DefaultBranch, &ri.SizeKB,
		&ri.FileCount, &ri.ChunkCount, &ri.EmbeddingModel, &ri.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.RepoIndex{}, false, nil
		}
		return models.RepoIndex{}, false, err
	}
	return ri, true, nil
}

// ListRepos returns every indexed repository, most recently updated first.
func (s *Store) ListRepos(ctx context.Context) ([]models.RepoIndex, error) {
	const q = `
SELECT repo_id, COALESCE(commit_hash, ''), default_branch, size_kb,
       file_count, chunk_count, embedding_model, updated_at
FROM repo_index
ORDER BY updated_at DESC`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var repos []models.RepoIndex
	for rows.Next() {
		var ri models.RepoIndex
		if err := rows.Scan(
			&ri.RepoID, &ri.CommitHash, &ri.DefaultBranch, &ri.SizeKB,
			&ri.FileCount, &ri.ChunkCount, &ri.EmbeddingModel, &ri.UpdatedAt,
		); err != nil {
			return nil, err
		}
		repos = append(repos, ri)
	}
	return repos, rows.Err()
}

// DeleteRepo removes a repository's chunks and index row. Returns the number
// of chunks deleted.
func (s *Store) DeleteRepo(ctx context.Context, repoID string) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM code_chunks WHERE repo_id = $1`, repoID)
	if err != nil {
		return 0, err
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM repo_index WHERE repo_id = $1`, repoID); err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// Ping checks the database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}
