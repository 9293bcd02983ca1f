// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Trust Dental Contributors

// Package sqlite implements the patient record store backing
// RECORD_LOOKUP: a SQLite database holding record sections, with a vec0
// virtual table ("trust" index) for semantic retrieval when no exact
// identifier or name matches.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/trustdental/isaac/internal/tools"
	isaacerr "github.com/trustdental/isaac/pkg/errors"
)

func init() {
	sqlite_vec.Auto()
}

// Compile-time interface check.
var _ tools.RecordTool = (*RecordStore)(nil)

// Embedder turns record text into a vector for the trust index. A nil
// Embedder disables semantic search; identifier and name retrieval still
// work.
type Embedder func(ctx context.Context, text string) ([]float32, error)

// Section is one chunk of a patient record.
type Section struct {
	PatientID   string
	PatientName string
	Title       string
	Content     string
}

// RecordStore retrieves patient records by identifier, name, or semantic
// search over record content.
type RecordStore struct {
	db         *sql.DB
	embed      Embedder
	dimensions int
	// semanticK is how many nearest sections a semantic search inspects
	// before deciding whether the hits agree on a single patient.
	semanticK int
}

// Option configures a RecordStore.
type Option func(*RecordStore)

// WithEmbedder enables semantic retrieval through the trust index.
func WithEmbedder(embed Embedder, dimensions int) Option {
	return func(s *RecordStore) {
		s.embed = embed
		s.dimensions = dimensions
	}
}

// NewRecordStore opens (or creates) the record database at dbPath and
// initialises the section table and the trust vec0 index.
func NewRecordStore(dbPath string, opts ...Option) (*RecordStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, isaacerr.Wrap(err, isaacerr.CodeRecordStoreOpen, "opening record db")
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, isaacerr.Wrap(err, isaacerr.CodeRecordStoreOpen, "pinging record db")
	}

	s := &RecordStore{db: db, semanticK: 8}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *RecordStore) migrate() error {
	const sectionsDDL = `
CREATE TABLE IF NOT EXISTS record_sections (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	patient_id   TEXT NOT NULL,
	patient_name TEXT NOT NULL,
	title        TEXT NOT NULL,
	content      TEXT NOT NULL
)`
	if _, err := s.db.Exec(sectionsDDL); err != nil {
		return isaacerr.Wrap(err, isaacerr.CodeRecordStoreOpen, "creating record_sections table")
	}
	if _, err := s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_sections_patient ON record_sections(patient_id)`); err != nil {
		return isaacerr.Wrap(err, isaacerr.CodeRecordStoreOpen, "creating patient index")
	}

	if s.embed != nil {
		ddl := fmt.Sprintf(
			`CREATE VIRTUAL TABLE IF NOT EXISTS trust USING vec0(id TEXT PRIMARY KEY, embedding float[%d])`,
			s.dimensions,
		)
		if _, err := s.db.Exec(ddl); err != nil {
			return isaacerr.Wrap(err, isaacerr.CodeRecordStoreOpen, "creating trust index")
		}
	}
	return nil
}

// Add stores a record section and, when an embedder is configured,
// indexes its content in the trust index.
func (s *RecordStore) Add(ctx context.Context, sec Section) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return isaacerr.Wrap(err, isaacerr.CodeRecordStoreWrite, "beginning transaction")
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO record_sections(patient_id, patient_name, title, content) VALUES (?, ?, ?, ?)`,
		sec.PatientID, sec.PatientName, sec.Title, sec.Content)
	if err != nil {
		return isaacerr.Wrap(err, isaacerr.CodeRecordStoreWrite, "inserting record section")
	}

	if s.embed != nil {
		rowID, err := res.LastInsertId()
		if err != nil {
			return isaacerr.Wrap(err, isaacerr.CodeRecordStoreWrite, "reading section id")
		}
		embedding, err := s.embed(ctx, sec.Title+"\n"+sec.Content)
		if err != nil {
			return isaacerr.Wrap(err, isaacerr.CodeRecordStoreWrite, "embedding section")
		}
		blob, err := sqlite_vec.SerializeFloat32(embedding)
		if err != nil {
			return isaacerr.Wrap(err, isaacerr.CodeRecordStoreWrite, "serializing embedding")
		}
		// vec0 does not support ON CONFLICT; delete first for upsert.
		key := fmt.Sprintf("%d", rowID)
		if _, err := tx.ExecContext(ctx, `DELETE FROM trust WHERE id = ?`, key); err != nil {
			return isaacerr.Wrap(err, isaacerr.CodeRecordStoreWrite, "clearing trust entry")
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO trust(id, embedding) VALUES (?, ?)`, key, blob); err != nil {
			return isaacerr.Wrap(err, isaacerr.CodeRecordStoreWrite, "indexing section")
		}
	}

	if err := tx.Commit(); err != nil {
		return isaacerr.Wrap(err, isaacerr.CodeRecordStoreWrite, "committing section")
	}
	return nil
}

// Retrieve resolves an identifier to exactly one patient record. Lookup
// order: exact patient ID, then name match, then semantic search over
// section content. Zero matches report not_found; matches spanning more
// than one patient report ambiguous.
func (s *RecordStore) Retrieve(ctx context.Context, identifier string) (tools.Response, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return tools.Response{Tool: tools.RecordLookup, Success: false, ErrorKind: tools.ErrorNotFound}, nil
	}

	if resp, ok, err := s.byPatientID(ctx, identifier); err != nil || ok {
		return resp, err
	}
	if resp, ok, err := s.byName(ctx, identifier); err != nil || ok {
		return resp, err
	}
	if s.embed != nil {
		if resp, ok, err := s.bySemantic(ctx, identifier); err != nil || ok {
			return resp, err
		}
	}

	return tools.Response{
		Tool: tools.RecordLookup, Query: identifier,
		Success: false, ErrorKind: tools.ErrorNotFound,
	}, nil
}

func (s *RecordStore) byPatientID(ctx context.Context, id string) (tools.Response, bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT patient_id, patient_name, title, content FROM record_sections WHERE patient_id = ? COLLATE NOCASE ORDER BY id`,
		id)
	if err != nil {
		return tools.Response{}, false, isaacerr.Wrap(err, isaacerr.CodeRecordStoreRead, "querying by patient id")
	}
	defer func() { _ = rows.Close() }()
	return s.collect(rows, id)
}

func (s *RecordStore) byName(ctx context.Context, name string) (tools.Response, bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT patient_id, patient_name, title, content FROM record_sections WHERE patient_name LIKE ? ORDER BY id`,
		"%"+name+"%")
	if err != nil {
		return tools.Response{}, false, isaacerr.Wrap(err, isaacerr.CodeRecordStoreRead, "querying by patient name")
	}
	defer func() { _ = rows.Close() }()
	return s.collect(rows, name)
}

func (s *RecordStore) bySemantic(ctx context.Context, query string) (tools.Response, bool, error) {
	embedding, err := s.embed(ctx, query)
	if err != nil {
		return tools.Response{}, false, isaacerr.Wrap(err, isaacerr.CodeRecordStoreRead, "embedding query")
	}
	blob, err := sqlite_vec.SerializeFloat32(embedding)
	if err != nil {
		return tools.Response{}, false, isaacerr.Wrap(err, isaacerr.CodeRecordStoreRead, "serializing query vector")
	}

	const q = `SELECT s.patient_id, s.patient_name, s.title, s.content, t.distance
FROM trust t
JOIN record_sections s ON s.id = CAST(t.id AS INTEGER)
WHERE t.embedding MATCH ? AND k = ?
ORDER BY t.distance`
	rows, err := s.db.QueryContext(ctx, q, blob, s.semanticK)
	if err != nil {
		return tools.Response{}, false, isaacerr.Wrap(err, isaacerr.CodeRecordStoreRead, "searching trust index")
	}
	defer func() { _ = rows.Close() }()

	// Keep only hits close to the best match; distant sections from other
	// patients are noise, not ambiguity.
	var (
		results  []tools.Result
		patients = map[string]string{}
		ref      tools.RecordRef
		best     = -1.0
	)
	for rows.Next() {
		var (
			sec  Section
			dist float64
		)
		if err := rows.Scan(&sec.PatientID, &sec.PatientName, &sec.Title, &sec.Content, &dist); err != nil {
			return tools.Response{}, false, isaacerr.Wrap(err, isaacerr.CodeRecordStoreRead, "scanning trust hit")
		}
		if best < 0 {
			best = dist
		}
		if dist > best*1.25 {
			break
		}
		patients[sec.PatientID] = sec.PatientName
		ref = tools.RecordRef{Handle: sec.PatientID, PatientName: sec.PatientName}
		results = append(results, tools.Result{
			Text:     sec.Title + ": " + sec.Content,
			Citation: "record:" + sec.PatientID,
		})
	}
	if err := rows.Err(); err != nil {
		return tools.Response{}, false, isaacerr.Wrap(err, isaacerr.CodeRecordStoreRead, "iterating trust hits")
	}

	switch len(patients) {
	case 0:
		return tools.Response{}, false, nil
	case 1:
		return tools.Response{
			Tool: tools.RecordLookup, Query: query,
			Success: true, Record: &ref, Results: results,
		}, true, nil
	default:
		return tools.Response{
			Tool: tools.RecordLookup, Query: query,
			Success: false, ErrorKind: tools.ErrorAmbiguous,
		}, true, nil
	}
}

// collect scans matched sections into a response, requiring all hits to
// agree on one patient.
func (s *RecordStore) collect(rows *sql.Rows, query string) (tools.Response, bool, error) {
	var (
		results  []tools.Result
		patients = map[string]string{}
		ref      tools.RecordRef
	)
	for rows.Next() {
		var sec Section
		if err := rows.Scan(&sec.PatientID, &sec.PatientName, &sec.Title, &sec.Content); err != nil {
			return tools.Response{}, false, isaacerr.Wrap(err, isaacerr.CodeRecordStoreRead, "scanning record section")
		}
		patients[sec.PatientID] = sec.PatientName
		ref = tools.RecordRef{Handle: sec.PatientID, PatientName: sec.PatientName}
		results = append(results, tools.Result{
			Text:     sec.Title + ": " + sec.Content,
			Citation: "record:" + sec.PatientID,
		})
	}
	if err := rows.Err(); err != nil {
		return tools.Response{}, false, isaacerr.Wrap(err, isaacerr.CodeRecordStoreRead, "iterating record sections")
	}

	switch len(patients) {
	case 0:
		return tools.Response{}, false, nil
	case 1:
		return tools.Response{
			Tool: tools.RecordLookup, Query: query,
			Success: true, Record: &ref, Results: results,
		}, true, nil
	default:
		return tools.Response{
			Tool: tools.RecordLookup, Query: query,
			Success: false, ErrorKind: tools.ErrorAmbiguous,
		}, true, nil
	}
}

// Close closes the underlying database connection.
func (s *RecordStore) Close() error {
	return s.db.Close()
}
