package knowledge

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"unicode"

	_ "modernc.org/sqlite"

	"github.com/agenthands/tsgcopilot/internal/core/model"
)

// Hit is one ranked search result. Score lies in [0, 1], higher is better;
// nodes that match no query term score 0.
type Hit struct {
	ID    string
	Score float64
}

// Index is an in-memory SQLite FTS5 index over guide nodes. Matches are
// ranked by bm25 with title and intent weighted over action and output.
type Index struct {
	db *sql.DB
}

func NewIndex(ctx context.Context) (*Index, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	// every connection to :memory: is its own database
	db.SetMaxOpenConns(1)

	schema := `
	CREATE VIRTUAL TABLE guide_fts USING fts5(
		id UNINDEXED,
		monitor UNINDEXED,
		is_first UNINDEXED,
		title,
		intent,
		body,
		tokenize='porter unicode61'
	);
	`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create index schema: %w", err)
	}
	return &Index{db: db}, nil
}

// Reset replaces the indexed nodes. Insertion order breaks score ties.
func (x *Index) Reset(ctx context.Context, nodes []*model.Node) error {
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reindex: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM guide_fts`); err != nil {
		return fmt.Errorf("clear index: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO guide_fts (id, monitor, is_first, title, intent, body)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, n := range nodes {
		first := "0"
		if n.First() {
			first = "1"
		}
		if _, err := stmt.ExecContext(ctx, n.ID, n.Monitor, first, n.Title, n.Intent, n.Action+"\n"+n.Output); err != nil {
			return fmt.Errorf("index node %s: %w", n.ID, err)
		}
	}
	return tx.Commit()
}

// Search returns every node passing the filter: term matches first by bm25,
// then the rest in insertion order.
func (x *Index) Search(ctx context.Context, q Query) ([]Hit, error) {
	first := "0"
	if q.Filter.FirstOnly {
		first = "1"
	}
	filterArgs := []any{q.Filter.Monitor, q.Filter.Monitor, first}

	var hits []Hit
	seen := make(map[string]bool)
	if match := ftsQuery(q.Text); match != "" {
		rows, err := x.db.QueryContext(ctx, `
			SELECT id, bm25(guide_fts, 0.0, 0.0, 0.0, 2.0, 2.0, 1.0) AS score
			FROM guide_fts
			WHERE guide_fts MATCH ?
				AND (? = '' OR monitor = ?)
				AND (? = '0' OR is_first = '1')
			ORDER BY score, rowid`, append([]any{match}, filterArgs...)...)
		if err != nil {
			return nil, fmt.Errorf("match guides: %w", err)
		}
		var ranks []float64
		for rows.Next() {
			var id string
			var rank float64
			if err := rows.Scan(&id, &rank); err != nil {
				_ = rows.Close()
				return nil, fmt.Errorf("scan match: %w", err)
			}
			hits = append(hits, Hit{ID: id})
			ranks = append(ranks, rank)
			seen[id] = true
		}
		err = rows.Err()
		_ = rows.Close()
		if err != nil {
			return nil, fmt.Errorf("match guides: %w", err)
		}
		normalize(hits, ranks)
	}

	rows, err := x.db.QueryContext(ctx, `
		SELECT id FROM guide_fts
		WHERE (? = '' OR monitor = ?)
			AND (? = '0' OR is_first = '1')
		ORDER BY rowid`, filterArgs...)
	if err != nil {
		return nil, fmt.Errorf("list guides: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan guide: %w", err)
		}
		if !seen[id] {
			hits = append(hits, Hit{ID: id})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if q.Limit > 0 && len(hits) > q.Limit {
		hits = hits[:q.Limit]
	}
	return hits, nil
}

func (x *Index) Close() error {
	return x.db.Close()
}

// normalize maps bm25 ranks (negative, lower is better) onto (0, 1].
func normalize(hits []Hit, ranks []float64) {
	if len(ranks) == 0 {
		return
	}
	best := ranks[0]
	for i := range hits {
		if best >= 0 {
			hits[i].Score = 1
			continue
		}
		if s := ranks[i] / best; s > 0 {
			hits[i].Score = s
		}
	}
}

// ftsQuery quotes each word of text and joins them with OR, so any shared
// term is a match and punctuation never reaches the FTS5 query parser.
func ftsQuery(text string) string {
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for i, w := range words {
		words[i] = `"` + w + `"`
	}
	return strings.Join(words, " OR ")
}
