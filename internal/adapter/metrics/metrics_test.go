package metrics

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"annotator/internal/domain"
)

func TestWriteTextfile(t *testing.T) {
	RecordChunk(domain.ChunkSucceeded)
	RecordTokens("gpt-4o-mini", 120, 30)
	RecordRepair(domain.FixStats{Fixed: 2, Unfixable: 1})

	path := filepath.Join(t.TempDir(), "annotator.prom")
	require.NoError(t, WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `annotator_pipeline_chunk_ops_total{status="success"}`)
	assert.Contains(t, string(data), `annotator_llm_token_ops_total{direction="input",model="gpt-4o-mini"}`)
	assert.Contains(t, string(data), `annotator_repair_entity_ops_total{outcome="fixed"}`)
}
