package models

import "time"

// RawFile is a repository file as fetched, before filtering.
type RawFile struct {
	Path      string
	Content   []byte
	SizeBytes int
}

// CodeChunk is a contiguous slice of a source file destined for embedding.
type CodeChunk struct {
	ID         string `json:"id"`
	RepoID     string `json:"repoId"`
	FilePath   string `json:"filePath"`
	Language   string `json:"language"`
	Content    string `json:"content"`
	StartLine  int    `json:"startLine"`
	EndLine    int    `json:"endLine"`
	SymbolName string `json:"symbolName,omitempty"`
	ChunkIndex int    `json:"chunkIndex"`
}

// EmbeddedChunk pairs a chunk with its unit-length embedding vector.
type EmbeddedChunk struct {
	Chunk      CodeChunk
	Embedding  []float32
	EmbeddedAt time.Time
}

// RepoMeta describes a GitHub repository at fetch time.
type RepoMeta struct {
	RepoID        string `json:"repoId"`
	Owner         string `json:"owner"`
	Name          string `json:"name"`
	DefaultBranch string `json:"defaultBranch"`
	SizeKB        int    `json:"sizeKB"`
	FileCount     int    `json:"fileCount"`
}

// RepoIndex is the bookkeeping row kept per indexed repository.
// CommitHash is empty when the head commit could not be resolved at index time.
type RepoIndex struct {
	RepoID         string    `json:"repoId"`
	CommitHash     string    `json:"commitHash,omitempty"`
	DefaultBranch  string    `json:"defaultBranch"`
	SizeKB         int       `json:"sizeKB"`
	FileCount      int       `json:"fileCount"`
	ChunkCount     int       `json:"chunkCount"`
	EmbeddingModel string    `json:"embeddingModel"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// RetrievedChunk is a stored chunk returned by similarity search.
type RetrievedChunk struct {
	FilePath   string  `json:"filePath"`
	StartLine  int     `json:"startLine"`
	EndLine    int     `json:"endLine"`
	SymbolName string  `json:"symbolName,omitempty"`
	Content    string  `json:"content"`
	Language   string  `json:"language"`
	Score      float64 `json:"score"`
}

// Write strategies reported by the vector store writer.
const (
	StrategySkipped     = "skipped"
	StrategyFullReindex = "full-reindex"
	StrategyUpsert      = "upsert"
)

// JobState enumerates index job lifecycle states.
type JobState string

const (
	JobQueued    JobState = "queued"
	JobActive    JobState = "active"
	JobCompleted JobState = "completed"
	JobFailed    JobState = "failed"
)

// IndexJobData is the payload carried by an index-repo job.
type IndexJobData struct {
	GithubURL   string `json:"githubUrl"`
	GithubToken string `json:"githubToken,omitempty"`
	RequestedBy string `json:"requestedBy,omitempty"`
}

// IndexJobResult is what a completed index job reports back.
type IndexJobResult struct {
	RepoID          string `json:"repoId"`
	Strategy        string `json:"strategy"`
	ChunksWritten   int    `json:"chunksWritten"`
	TotalDurationMS int64  `json:"totalDurationMs"`
}

// Job is a snapshot of a durable index-repo job.
type Job struct {
	ID         string          `json:"jobId"`
	Data       IndexJobData    `json:"data"`
	State      JobState        `json:"state"`
	Progress   int             `json:"progress"`
	Attempts   int             `json:"attempts"`
	Result     *IndexJobResult `json:"result,omitempty"`
	FailReason string          `json:"failReason,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}
