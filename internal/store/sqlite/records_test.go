// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Trust Dental Contributors

package sqlite

import (
	"context"
	"hash/fnv"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trustdental/isaac/internal/tools"
)

// wordEmbed is a deterministic bag-of-words embedding so semantic tests
// need no model: shared words produce nearby vectors.
func wordEmbed(_ context.Context, text string) ([]float32, error) {
	const dim = 32
	vec := make([]float32, dim)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(strings.Trim(w, ".,:;?!")))
		vec[h.Sum32()%dim]++
	}
	return vec, nil
}

func newTestStore(t *testing.T) *RecordStore {
	t.Helper()
	s, err := NewRecordStore(filepath.Join(t.TempDir(), "records.db"), WithEmbedder(wordEmbed, 32))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seed(t *testing.T, s *RecordStore) {
	t.Helper()
	ctx := context.Background()
	sections := []Section{
		{PatientID: "DEN1-2D1AF6-T32", PatientName: "John Doe", Title: "History", Content: "Crown prep on tooth 14, code D2740. Allergic to penicillin."},
		{PatientID: "DEN1-2D1AF6-T32", PatientName: "John Doe", Title: "Radiographs", Content: "Periapical radiolucency at tooth 30, failed implant at site 30."},
		{PatientID: "DEN1-9C44B1-T18", PatientName: "Jane Doe", Title: "History", Content: "Orthodontic consult, Class II malocclusion."},
		{PatientID: "DEN1-77AB02-T07", PatientName: "Maria Santos", Title: "Perio", Content: "Generalized moderate periodontitis, 5mm pockets."},
	}
	for _, sec := range sections {
		require.NoError(t, s.Add(ctx, sec))
	}
}

func TestRetrieveByPatientID(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	seed(t, s)

	resp, err := s.Retrieve(context.Background(), "DEN1-2D1AF6-T32")

	require.NoError(t, err)
	require.True(t, resp.Success)
	require.NotNil(t, resp.Record)
	assert.Equal(t, "John Doe", resp.Record.PatientName)
	assert.Len(t, resp.Results, 2)
}

func TestRetrieveByName(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	seed(t, s)

	resp, err := s.Retrieve(context.Background(), "Maria Santos")

	require.NoError(t, err)
	require.True(t, resp.Success)
	assert.Equal(t, "DEN1-77AB02-T07", resp.Record.Handle)
}

func TestRetrieveAmbiguousName(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	seed(t, s)

	// "Doe" matches John Doe and Jane Doe.
	resp, err := s.Retrieve(context.Background(), "Doe")

	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, tools.ErrorAmbiguous, resp.ErrorKind)
	assert.Nil(t, resp.Record)
}

func TestRetrieveSemanticFallback(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	seed(t, s)

	resp, err := s.Retrieve(context.Background(), "failed implant at site 30")

	require.NoError(t, err)
	if assert.True(t, resp.Success) {
		assert.Equal(t, "DEN1-2D1AF6-T32", resp.Record.Handle)
	}
}

func TestRetrieveNotFound(t *testing.T) {
	t.Parallel()

	s, err := NewRecordStore(filepath.Join(t.TempDir(), "empty.db"))
	require.NoError(t, err)
	defer s.Close()

	resp, err := s.Retrieve(context.Background(), "Nobody Here")

	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, tools.ErrorNotFound, resp.ErrorKind)
}

func TestRetrieveEmptyIdentifier(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)

	resp, err := s.Retrieve(context.Background(), "   ")

	require.NoError(t, err)
	assert.Equal(t, tools.ErrorNotFound, resp.ErrorKind)
}
