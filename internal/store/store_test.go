package store

import (
	"fmt"
	"strings"
	"testing"

	"github.com/repoqa/repoqa/pkg/models"
)

func TestBatchInsertSQLPlaceholders(t *testing.T) {
	for _, n := range []int{1, 2, 50} {
		q := batchInsertSQL(n, models.StrategyFullReindex)

		last := fmt.Sprintf("$%d", n*insertCols)
		if !strings.Contains(q, last) {
			t.Errorf("n=%d: expected placeholder %s in statement", n, last)
		}
		over := fmt.Sprintf("$%d", n*insertCols+1)
		if strings.Contains(q, over) {
			t.Errorf("n=%d: unexpected placeholder %s", n, over)
		}
		if got := strings.Count(q, "("); got < n {
			t.Errorf("n=%d: expected %d value tuples, found %d open parens", n, n, got)
		}
	}
}

func TestBatchInsertSQLConflictClause(t *testing.T) {
	upsert := batchInsertSQL(3, models.StrategyUpsert)
	if !strings.Contains(upsert, "DO UPDATE SET") {
		t.Error("upsert statement missing DO UPDATE SET")
	}
	for _, col := range []string{"content", "embedding", "embedded_at"} {
		if !strings.Contains(upsert, "EXCLUDED."+col) {
			t.Errorf("upsert statement does not update %s", col)
		}
	}
	if strings.Contains(upsert, "start_line = EXCLUDED") {
		t.Error("upsert must not rewrite line spans")
	}

	reindex := batchInsertSQL(3, models.StrategyFullReindex)
	if !strings.Contains(reindex, "DO NOTHING") {
		t.Error("full-reindex statement missing DO NOTHING")
	}
	if strings.Contains(reindex, "DO UPDATE") {
		t.Error("full-reindex statement must not update existing rows")
	}
}

func TestPickStrategy(t *testing.T) {
	tests := []struct {
		name       string
		found      bool
		storedHash string
		commitHash string
		want       string
	}{
		{"no commit hash", false, "", "", models.StrategyUpsert},
		{"no commit hash with prior index", true, "abc123", "", models.StrategyUpsert},
		{"first index of repo", false, "", "abc123", models.StrategyFullReindex},
		{"commit changed", true, "abc123", "def456", models.StrategyFullReindex},
		{"commit unchanged", true, "abc123", "abc123", models.StrategySkipped},
		{"prior hash unknown", true, "", "abc123", models.StrategyFullReindex},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := pickStrategy(tt.found, tt.storedHash, tt.commitHash); got != tt.want {
				t.Errorf("pickStrategy(%v, %q, %q) = %q, want %q",
					tt.found, tt.storedHash, tt.commitHash, got, tt.want)
			}
		})
	}
}

func TestSearchOptsDefaults(t *testing.T) {
	if DefaultTopK != 8 {
		t.Errorf("DefaultTopK = %d, want 8", DefaultTopK)
	}
	if MinSimilarity != 0.5 {
		t.Errorf("MinSimilarity = %v, want 0.5", MinSimilarity)
	}
	if writeBatchSize != 50 {
		t.Errorf("writeBatchSize = %d, want 50", writeBatchSize)
	}
}
