package records

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

const searchResultLimit = 20

// SearchNotes runs a prefix match over note titles and contents through the
// notes_fts index and returns up to 20 ranked hits. The join back to notes
// keeps tombstoned rows out of the results even though their index rows
// still exist.
func (s *Store) SearchNotes(ctx context.Context, namespace Namespace, query string) ([]SearchResult, error) {
	results := make([]SearchResult, 0, searchResultLimit)
	if strings.TrimSpace(query) == "" {
		return results, nil
	}

	if err := s.db.WithContext(ctx).Raw(
		`SELECT f.id AS id, f.title AS title,
		        snippet(notes_fts, 3, '<mark>', '</mark>', '...', 20) AS snippet
		 FROM notes_fts f
		 JOIN notes n ON n.sync_key = f.sync_key AND n.id = f.id
		 WHERE f.sync_key = ? AND notes_fts MATCH ? AND n.is_deleted = 0
		 ORDER BY rank
		 LIMIT ?`,
		namespace.String(), ftsPrefixQuery(query), searchResultLimit,
	).Scan(&results).Error; err != nil {
		s.logError(opSearchNotes, "query_failed", err, zap.String("namespace", namespace.String()))
		return nil, newStoreError(opSearchNotes, "query_failed", err)
	}
	return results, nil
}

// ftsPrefixQuery escapes embedded quotes and appends the trailing wildcard
// so user input cannot produce malformed FTS5 syntax.
func ftsPrefixQuery(query string) string {
	return `"` + strings.ReplaceAll(query, `"`, `""`) + `"*`
}
