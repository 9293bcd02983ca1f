// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Trust Dental Contributors

package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"

	"github.com/trustdental/isaac/internal/tools"
	isaacerr "github.com/trustdental/isaac/pkg/errors"
)

// Compile-time interface check.
var _ tools.KnowledgeTool = (*LiteratureStore)(nil)

// literatureLimit caps how many entries a lookup returns.
const literatureLimit = 5

// Entry is one indexed piece of recognized dental or medical literature.
type Entry struct {
	Topic    string
	Content  string
	Citation string
}

// LiteratureStore is a local literature index backing KNOWLEDGE_LOOKUP
// when no remote retrieval endpoint is configured. Keyword search runs
// over an FTS5 table; an optional embedder adds semantic search through
// an "evidence" vec0 index.
type LiteratureStore struct {
	db         *sql.DB
	embed      Embedder
	dimensions int
}

// LiteratureOption configures a LiteratureStore.
type LiteratureOption func(*LiteratureStore)

// WithLiteratureEmbedder enables semantic retrieval through the evidence
// index.
func WithLiteratureEmbedder(embed Embedder, dimensions int) LiteratureOption {
	return func(s *LiteratureStore) {
		s.embed = embed
		s.dimensions = dimensions
	}
}

// NewLiteratureStore opens (or creates) the literature database at dbPath
// and initialises the entry and FTS tables, plus the evidence vec0 index
// when an embedder is configured.
func NewLiteratureStore(dbPath string, opts ...LiteratureOption) (*LiteratureStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, isaacerr.Wrap(err, isaacerr.CodeRecordStoreOpen, "opening literature db")
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, isaacerr.Wrap(err, isaacerr.CodeRecordStoreOpen, "pinging literature db")
	}

	s := &LiteratureStore{db: db}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *LiteratureStore) migrate() error {
	const entriesDDL = `
CREATE TABLE IF NOT EXISTS literature_entries (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	topic    TEXT NOT NULL,
	content  TEXT NOT NULL,
	citation TEXT NOT NULL
)`
	if _, err := s.db.Exec(entriesDDL); err != nil {
		return isaacerr.Wrap(err, isaacerr.CodeRecordStoreOpen, "creating literature_entries table")
	}

	const ftsDDL = `
CREATE VIRTUAL TABLE IF NOT EXISTS literature_fts USING fts5(
	topic, content, content='literature_entries', content_rowid='id'
)`
	if _, err := s.db.Exec(ftsDDL); err != nil {
		return isaacerr.Wrap(err, isaacerr.CodeRecordStoreOpen, "creating literature_fts table")
	}

	if s.embed != nil {
		ddl := fmt.Sprintf(
			`CREATE VIRTUAL TABLE IF NOT EXISTS evidence USING vec0(id TEXT PRIMARY KEY, embedding float[%d])`,
			s.dimensions,
		)
		if _, err := s.db.Exec(ddl); err != nil {
			return isaacerr.Wrap(err, isaacerr.CodeRecordStoreOpen, "creating evidence index")
		}
	}
	return nil
}

// Add indexes a literature entry for keyword and, when an embedder is
// configured, semantic lookup.
func (s *LiteratureStore) Add(ctx context.Context, entry Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return isaacerr.Wrap(err, isaacerr.CodeRecordStoreWrite, "beginning transaction")
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO literature_entries(topic, content, citation) VALUES (?, ?, ?)`,
		entry.Topic, entry.Content, entry.Citation)
	if err != nil {
		return isaacerr.Wrap(err, isaacerr.CodeRecordStoreWrite, "inserting literature entry")
	}
	rowID, err := res.LastInsertId()
	if err != nil {
		return isaacerr.Wrap(err, isaacerr.CodeRecordStoreWrite, "reading entry id")
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO literature_fts(rowid, topic, content) VALUES (?, ?, ?)`,
		rowID, entry.Topic, entry.Content); err != nil {
		return isaacerr.Wrap(err, isaacerr.CodeRecordStoreWrite, "indexing entry text")
	}

	if s.embed != nil {
		embedding, err := s.embed(ctx, entry.Topic+"\n"+entry.Content)
		if err != nil {
			return isaacerr.Wrap(err, isaacerr.CodeRecordStoreWrite, "embedding entry")
		}
		blob, err := sqlite_vec.SerializeFloat32(embedding)
		if err != nil {
			return isaacerr.Wrap(err, isaacerr.CodeRecordStoreWrite, "serializing embedding")
		}
		key := fmt.Sprintf("%d", rowID)
		if _, err := tx.ExecContext(ctx, `DELETE FROM evidence WHERE id = ?`, key); err != nil {
			return isaacerr.Wrap(err, isaacerr.CodeRecordStoreWrite, "clearing evidence entry")
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO evidence(id, embedding) VALUES (?, ?)`, key, blob); err != nil {
			return isaacerr.Wrap(err, isaacerr.CodeRecordStoreWrite, "indexing entry vector")
		}
	}

	if err := tx.Commit(); err != nil {
		return isaacerr.Wrap(err, isaacerr.CodeRecordStoreWrite, "committing entry")
	}
	return nil
}

// Lookup searches the literature index. Keyword hits rank by bm25; when
// keyword search finds nothing and an embedder is configured, semantic
// search over the evidence index runs instead. Zero hits report
// not_found, so unverified terms surface as unrecognized rather than
// guessed at.
func (s *LiteratureStore) Lookup(ctx context.Context, query string) (tools.Response, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return tools.Response{Tool: tools.KnowledgeLookup, Success: false, ErrorKind: tools.ErrorNotFound}, nil
	}

	results, err := s.byKeyword(ctx, query)
	if err != nil {
		return tools.Response{}, err
	}
	if len(results) == 0 && s.embed != nil {
		results, err = s.byEvidence(ctx, query)
		if err != nil {
			return tools.Response{}, err
		}
	}

	if len(results) == 0 {
		return tools.Response{
			Tool: tools.KnowledgeLookup, Query: query,
			Success: false, ErrorKind: tools.ErrorNotFound,
		}, nil
	}
	return tools.Response{
		Tool: tools.KnowledgeLookup, Query: query,
		Success: true, Results: results,
	}, nil
}

func (s *LiteratureStore) byKeyword(ctx context.Context, query string) ([]tools.Result, error) {
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}

	const q = `SELECT e.topic, e.content, e.citation, bm25(literature_fts) AS rank
FROM literature_fts
JOIN literature_entries e ON e.id = literature_fts.rowid
WHERE literature_fts MATCH ?
ORDER BY rank
LIMIT ?`
	rows, err := s.db.QueryContext(ctx, q, match, literatureLimit)
	if err != nil {
		return nil, isaacerr.Wrap(err, isaacerr.CodeRecordStoreRead, "searching literature text")
	}
	defer func() { _ = rows.Close() }()

	var results []tools.Result
	for rows.Next() {
		var (
			entry Entry
			rank  float64
		)
		if err := rows.Scan(&entry.Topic, &entry.Content, &entry.Citation, &rank); err != nil {
			return nil, isaacerr.Wrap(err, isaacerr.CodeRecordStoreRead, "scanning literature hit")
		}
		results = append(results, tools.Result{
			Text:     entry.Topic + ": " + entry.Content,
			Citation: entry.Citation,
			// bm25 ranks are negative, more negative is better.
			Score: -rank,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, isaacerr.Wrap(err, isaacerr.CodeRecordStoreRead, "iterating literature hits")
	}
	return results, nil
}

func (s *LiteratureStore) byEvidence(ctx context.Context, query string) ([]tools.Result, error) {
	embedding, err := s.embed(ctx, query)
	if err != nil {
		return nil, isaacerr.Wrap(err, isaacerr.CodeRecordStoreRead, "embedding query")
	}
	blob, err := sqlite_vec.SerializeFloat32(embedding)
	if err != nil {
		return nil, isaacerr.Wrap(err, isaacerr.CodeRecordStoreRead, "serializing query vector")
	}

	const q = `SELECT e.topic, e.content, e.citation, v.distance
FROM evidence v
JOIN literature_entries e ON e.id = CAST(v.id AS INTEGER)
WHERE v.embedding MATCH ? AND k = ?
ORDER BY v.distance`
	rows, err := s.db.QueryContext(ctx, q, blob, literatureLimit)
	if err != nil {
		return nil, isaacerr.Wrap(err, isaacerr.CodeRecordStoreRead, "searching evidence index")
	}
	defer func() { _ = rows.Close() }()

	var (
		results []tools.Result
		best    = -1.0
	)
	for rows.Next() {
		var (
			entry Entry
			dist  float64
		)
		if err := rows.Scan(&entry.Topic, &entry.Content, &entry.Citation, &dist); err != nil {
			return nil, isaacerr.Wrap(err, isaacerr.CodeRecordStoreRead, "scanning evidence hit")
		}
		if best < 0 {
			best = dist
		}
		// Keep neighbours near the best match only; a far hit is not
		// recognized literature for this query.
		if dist > best*1.25 {
			break
		}
		results = append(results, tools.Result{
			Text:     entry.Topic + ": " + entry.Content,
			Citation: entry.Citation,
			Score:    1.0 / (1.0 + dist),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, isaacerr.Wrap(err, isaacerr.CodeRecordStoreRead, "iterating evidence hits")
	}
	return results, nil
}

// ftsQuery turns free text into an FTS5 OR query of quoted terms, so
// punctuation in user queries cannot break the match syntax.
func ftsQuery(query string) string {
	fields := strings.FieldsFunc(query, func(r rune) bool {
		return !('a' <= r && r <= 'z' || 'A' <= r && r <= 'Z' || '0' <= r && r <= '9')
	})
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		terms = append(terms, `"`+f+`"`)
	}
	return strings.Join(terms, " OR ")
}

// Close closes the underlying database connection.
func (s *LiteratureStore) Close() error {
	return s.db.Close()
}
