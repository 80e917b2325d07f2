package catalog

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantforge/alphagate/internal/domain"
)

const sampleYAML = `
operators:
  - name: rank
    category: Cross Sectional
    scope: REGULAR
    arity: 1
  - name: signed_power
    category: Arithmetic
    scope: "REGULAR, COMBO"
    nArgs: "2"
  - name: combo_blend
    scope: [combo]
  - name: log
    category: Arithmetic
datasets:
  - id: pv1
    name: Price Volume Data
    category: Price Volume
    subcategory_id: pv-price-volume
fields:
  - id: close
    dataset_id: pv1
    type: matrix
`

func writeCatalog(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestFileProvider_YAML(t *testing.T) {
	p := &FileProvider{Path: writeCatalog(t, sampleYAML)}
	snap, err := p.Snapshot(context.Background())
	require.NoError(t, err)

	rank, ok := snap.Operator("rank")
	require.True(t, ok)
	require.NotNil(t, rank.ArityHint)
	assert.Equal(t, 1, *rank.ArityHint)
	assert.Equal(t, []domain.Scope{domain.ScopeRegular}, rank.Scopes)

	sp, ok := snap.Operator("signed_power")
	require.True(t, ok)
	assert.Equal(t, []domain.Scope{domain.ScopeCombo, domain.ScopeRegular}, sp.Scopes)
	require.NotNil(t, sp.ArityHint)
	assert.Equal(t, 2, *sp.ArityHint)

	cb, _ := snap.Operator("combo_blend")
	assert.Equal(t, []domain.Scope{domain.ScopeCombo}, cb.Scopes)

	lg, _ := snap.Operator("log")
	assert.Nil(t, lg.Scopes)
	assert.Nil(t, lg.ArityHint)

	f, ok := snap.Field("close")
	require.True(t, ok)
	assert.Equal(t, domain.TypeMatrix, f.Type)
}

func TestParse_JSONDocument(t *testing.T) {
	snap, err := Parse([]byte(`{"operators":[{"name":"rank","scope":["REGULAR"]}],"fields":[{"id":"close","type":"MATRIX"}]}`))
	require.NoError(t, err)
	_, ok := snap.Operator("rank")
	assert.True(t, ok)
}

func TestParse_Errors(t *testing.T) {
	_, err := Parse([]byte("operators: [}"))
	assert.True(t, errors.Is(err, domain.ErrCatalogLoad), "got %v", err)

	_, err = Parse([]byte("datasets: []"))
	assert.True(t, errors.Is(err, domain.ErrCatalogEmpty), "got %v", err)

	_, err = Parse([]byte("operators:\n  - name: rank\n    arity: two\n"))
	assert.Error(t, err)
}

func TestFileProvider_Missing(t *testing.T) {
	p := &FileProvider{Path: filepath.Join(t.TempDir(), "missing.yaml")}
	_, err := p.Snapshot(context.Background())
	assert.True(t, errors.Is(err, domain.ErrCatalogLoad))
}
