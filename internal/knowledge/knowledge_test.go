package knowledge

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/tsgcopilot/internal/config"
	"github.com/agenthands/tsgcopilot/internal/core/model"
	"github.com/agenthands/tsgcopilot/internal/driver"
)

func guideNodes() []*model.Node {
	return []*model.Node{
		{Type: "steps", Title: "Disk Full", Intent: "Check disk usage on the node", Action: "run df -h", IsFirst: "Yes", Monitor: "m-disk"},
		{Type: "steps", Title: "Disk Full", Intent: "Clean temporary files", Action: "rm -rf /tmp/*", IsFirst: "No", Monitor: "m-disk"},
		{Type: "steps", Title: "High Latency", Intent: "Inspect request latency dashboards", Action: "open grafana", IsFirst: "Yes", Monitor: "m-lat"},
		{Type: "faq", Title: "High Latency", Intent: "What is p99 latency", Action: "the 99th percentile"},
	}
}

func TestTable(t *testing.T) {
	nodes := guideNodes()
	table := NewTable(nodes...)
	assert.Equal(t, 4, table.Len())

	id := NodeID(nodes[0])
	assert.Equal(t, id, NodeID(nodes[0].Clone()), "ids are deterministic")

	got, ok := table.Get(id)
	require.True(t, ok)
	assert.Equal(t, "Disk Full", got.Title)
	got.Title = "mutated"
	again, _ := table.Get(id)
	assert.Equal(t, "Disk Full", again.Title)

	// re-adding keeps the position
	table.Add(nodes[0])
	assert.Equal(t, 4, table.Len())
	assert.Equal(t, id, table.Nodes()[0].ID)

	resolved := table.Resolve([]string{"missing", id})
	require.Len(t, resolved, 1)
	assert.Equal(t, id, resolved[0].ID)
}

func newTableRetriever(t *testing.T, table *Table) *TableRetriever {
	t.Helper()
	r := NewTableRetriever(table, nil)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestTableRetrieverRanksByRelevance(t *testing.T) {
	table := NewTable(guideNodes()...)
	r := newTableRetriever(t, table)

	ids, err := r.Search(context.Background(), Query{Text: "latency is too high", Limit: 2})
	require.NoError(t, err)
	require.Len(t, ids, 2)
	for _, id := range ids {
		n, _ := table.Get(id)
		assert.Equal(t, "High Latency", n.Title)
	}
}

func TestTableRetrieverStemsTerms(t *testing.T) {
	table := NewTable(
		&model.Node{ID: "disk", Title: "Disk", Intent: "check disk usage"},
		&model.Node{ID: "svc", Title: "Service", Intent: "restart service"},
	)
	r := newTableRetriever(t, table)

	ids, err := r.Search(context.Background(), Query{Text: "restarting services"})
	require.NoError(t, err)
	assert.Equal(t, []string{"svc", "disk"}, ids, "matches rank before unmatched nodes")
}

func TestTableRetrieverFilter(t *testing.T) {
	table := NewTable(guideNodes()...)
	r := newTableRetriever(t, table)

	ids, err := r.Search(context.Background(), Query{Filter: Filter{Monitor: "m-disk", FirstOnly: true}})
	require.NoError(t, err)
	require.Len(t, ids, 1)
	n, _ := table.Get(ids[0])
	assert.Equal(t, "Check disk usage on the node", n.Intent)

	ids, err = r.Search(context.Background(), Query{Text: "latency", Filter: Filter{Monitor: "m-disk"}})
	require.NoError(t, err)
	assert.Len(t, ids, 2, "filter applies to matched and unmatched nodes")

	ids, err = r.Search(context.Background(), Query{Filter: Filter{Monitor: "unknown"}})
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestTableRetrieverReindexesOnAdd(t *testing.T) {
	table := NewTable(guideNodes()...)
	r := newTableRetriever(t, table)

	ids, err := r.Search(context.Background(), Query{Text: "certificate expired", Limit: 1})
	require.NoError(t, err)
	n, _ := table.Get(ids[0])
	assert.NotEqual(t, "Certificate Expiry", n.Title)

	id := table.Add(&model.Node{Type: "steps", Title: "Certificate Expiry", Intent: "Renew the expired certificate"})
	ids, err = r.Search(context.Background(), Query{Text: "certificate expired", Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{id}, ids)
}

func TestTableRetrieverQuotesPunctuation(t *testing.T) {
	r := newTableRetriever(t, NewTable(guideNodes()...))
	ids, err := r.Search(context.Background(), Query{Text: `disk "full" AND (NOT) * -x:y`})
	require.NoError(t, err)
	assert.NotEmpty(t, ids)
}

func TestTableRetrieverCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTableRetriever(t, NewTable()).Search(ctx, Query{Text: "x"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFTSQuery(t *testing.T) {
	assert.Equal(t, `"disk" OR "full" OR "node1"`, ftsQuery("disk full, node1?"))
	assert.Equal(t, `"a" OR "b"`, ftsQuery(`"a" (b)`))
	assert.Empty(t, ftsQuery(" -- "))
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Zero(t, Cosine([]float32{1}, []float32{1, 2}))
	assert.Zero(t, Cosine([]float32{0, 0}, []float32{1, 2}))
}

func TestGraphRetrieverSearch(t *testing.T) {
	keys := []string{"uuid", "title", "intent", "action", "embedding"}
	mockDriver := &MockDriver{
		MockResult: neo4j.EagerResult{
			Records: []*neo4j.Record{
				record(keys, "a", "Disk Full", "check disk", "df", []any{0.0, 1.0}),
				record(keys, "b", "High Latency", "inspect latency", "grafana", []any{1.0, 0.0}),
			},
		},
	}
	embedder := &MockEmbedder{Vector: []float32{1, 0}}
	r := NewGraphRetriever(mockDriver, embedder, 2, nil)

	ids, err := r.Search(context.Background(), Query{Text: "latency", Filter: Filter{Monitor: "m-lat", FirstOnly: true}, Limit: 5})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, ids)

	params := mockDriver.ParamsFor("MATCH (n:GuideNode)")
	require.Len(t, params, 1)
	assert.Equal(t, "m-lat", params[0]["monitor"])
	assert.Equal(t, true, params[0]["first_only"])
}

func TestGraphRetrieverSearchWithoutEmbedding(t *testing.T) {
	keys := []string{"uuid", "title", "intent", "action", "embedding"}
	mockDriver := &MockDriver{
		MockResult: neo4j.EagerResult{
			Records: []*neo4j.Record{
				record(keys, "a", "Disk Full", "check disk", "df", nil),
				record(keys, "b", "High Latency", "inspect latency", "grafana", nil),
			},
		},
	}
	r := NewGraphRetriever(mockDriver, &MockEmbedder{Err: errors.New("down")}, 2, nil)

	ids, err := r.Search(context.Background(), Query{Text: "disk", Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids)
}

func TestGraphRetrieverEmbedsCandidatesWithoutVectors(t *testing.T) {
	keys := []string{"uuid", "title", "intent", "action", "embedding"}
	mockDriver := &MockDriver{
		MockResult: neo4j.EagerResult{
			Records: []*neo4j.Record{
				record(keys, "a", "Disk Full", "check disk", "df", nil),
				record(keys, "b", "High Latency", "inspect latency", "grafana", nil),
			},
		},
	}
	embedder := &MockEmbedder{Vectors: map[string][]float32{
		"slow requests":                          {1, 0},
		"Disk Full\ncheck disk\ndf":              {0, 1},
		"High Latency\ninspect latency\ngrafana": {1, 0},
	}}
	r := NewGraphRetriever(mockDriver, embedder, 2, nil)

	ids, err := r.Search(context.Background(), Query{Text: "slow requests"})
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, ids)
}

func TestGraphRetrieverSearchError(t *testing.T) {
	r := NewGraphRetriever(&MockDriver{Err: errors.New("db error")}, nil, 1, nil)
	_, err := r.Search(context.Background(), Query{Text: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db error")
}

func TestGraphRetrieverHydrate(t *testing.T) {
	keys := []string{"uuid", "type", "title", "intent", "action", "output", "default_parameters", "monitor", "is_first"}
	mockDriver := &MockDriver{
		MockResult: neo4j.EagerResult{
			Records: []*neo4j.Record{
				record(keys, "a", "steps", "Disk Full", "check", "df <path>", "", `{"<path>": "/var"}`, "m-disk", true),
				record(keys, "b", "steps", "Disk Full", "clean", "rm", "", "", "m-disk", false),
			},
		},
	}
	table, err := NewGraphRetriever(mockDriver, nil, 1, nil).Hydrate(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, table.Len())

	a, ok := table.Get("a")
	require.True(t, ok)
	assert.True(t, a.First())
	assert.Equal(t, model.Params{"<path>": "/var"}, a.DefaultParameters)
	b, _ := table.Get("b")
	assert.False(t, b.First())

	_, err = NewGraphRetriever(&MockDriver{}, nil, 1, nil).Hydrate(context.Background())
	assert.ErrorIs(t, err, ErrNoGuides)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "disk_full.json"), []byte(`[
		{"#type#": "steps", "#title#": "", "#intent#": "check", "#action#": "df", "#output#": "", "#default_parameters#": "", "#isfirst#": "Yes"},
		{"#type#": "steps", "#title#": "Disk", "#intent#": "clean", "#action#": "rm", "#output#": "", "#default_parameters#": {"<dir>": "/tmp"}, "#isfirst#": "No"}
	]`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "latency.yaml"), []byte(`
extracted_elements:
  - "#type#": faq
    "#intent#": what is p99
    "#action#": the 99th percentile
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	nodes, err := Load(dir)
	require.NoError(t, err)
	require.Len(t, nodes, 3)
	assert.Equal(t, "disk_full", nodes[0].Title)
	assert.Nil(t, nodes[0].DefaultParameters)
	assert.Equal(t, "Disk", nodes[1].Title)
	assert.Equal(t, "/tmp", nodes[1].DefaultParameters["<dir>"])
	assert.Equal(t, "latency", nodes[2].Title)
	assert.Equal(t, "faq", nodes[2].Type)

	table, err := LoadTable(filepath.Join(dir, "disk_full.json"))
	require.NoError(t, err)
	assert.Equal(t, 2, table.Len())
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)

	_, err = Load(t.TempDir())
	assert.ErrorIs(t, err, ErrNoGuides)

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0o644))
	_, err = Load(bad)
	assert.Error(t, err)
}

func TestIngest(t *testing.T) {
	mockDriver := &MockDriver{}
	ing := NewIngester(mockDriver, &MockEmbedder{Vector: []float32{0.5}}, 2, nil)

	nodes := guideNodes()
	nodes[0].DefaultParameters = model.Params{"<node>": "n1"}
	ids, err := ing.Ingest(context.Background(), nodes)
	require.NoError(t, err)
	require.Len(t, ids, 4)
	assert.Equal(t, NodeID(nodes[0]), ids[0])
	assert.True(t, mockDriver.Indexed)

	saved := mockDriver.ParamsFor("MERGE (n:GuideNode")
	require.Len(t, saved, 4)
	for _, p := range saved {
		assert.Equal(t, []float32{0.5}, p["embedding"])
	}

	links := mockDriver.ParamsFor(driver.LinkGuideStepsQuery)
	require.Len(t, links, 1, "only consecutive steps of one guide are linked")
	assert.Equal(t, ids[0], links[0]["source_uuid"])
	assert.Equal(t, ids[1], links[0]["target_uuid"])
}

func TestIngestError(t *testing.T) {
	ing := NewIngester(&MockDriver{Err: errors.New("db error")}, nil, 1, nil)
	_, err := ing.Ingest(context.Background(), guideNodes())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db error")
}

const sampleGuide = `# Terminology

## Node
A machine in the cluster.

# How to Investigate Disk Full

## 1. Check usage

### Intent

Check disk usage.

### Action

` + "```bash\ndf -h /var/lib/node-7\n```" + `

### Output

-If **usage above 90%**, then **clean temporary files** [CONTINUE]

## 2. Clean

### Intent

Clean temporary files.

### Action

Remove old files.
`

func TestParseMarkdown(t *testing.T) {
	elems := ParseMarkdown(sampleGuide)
	require.Len(t, elems, 3)

	assert.Equal(t, "terminology", elems[0].Type)
	assert.Equal(t, "Node", elems[0].Intent)
	assert.Equal(t, "A machine in the cluster.", elems[0].Action)

	assert.Equal(t, "steps", elems[1].Type)
	assert.Equal(t, "Check disk usage.", elems[1].Intent)
	assert.Contains(t, elems[1].Action, "df -h")
	assert.Contains(t, elems[1].Output, "[CONTINUE]")

	assert.Equal(t, "Clean temporary files.", elems[2].Intent)
	assert.Empty(t, elems[2].Output)
}

func TestConvertWithoutLLM(t *testing.T) {
	r := NewReformulator(nil, config.Default().Prompts, 1, nil)
	r.Monitors["disk_full"] = "m-disk"

	nodes, err := r.Convert(context.Background(), "disk_full", sampleGuide, false)
	require.NoError(t, err)
	require.Len(t, nodes, 3)
	for _, n := range nodes {
		assert.Equal(t, "disk_full", n.Title)
		assert.Equal(t, "m-disk", n.Monitor)
	}
	assert.False(t, nodes[0].First())
	assert.True(t, nodes[1].First())
	assert.Equal(t, "disk_full\nCheck disk usage.", nodes[1].Intent)
	assert.False(t, nodes[2].First())
}

func TestConvertWithLLM(t *testing.T) {
	mock := &MockLLM{ResponseQueue: []string{
		`{"extracted_elements": [{"#type#": "Steps", "#title#": "x", "#intent#": "check", "#action#": "` + "```df -h /var```" + `", "#output#": ""}]}`,
		`{"#CODE_TEMPLATE#": "` + "```df -h <path>```" + `", "#DEFAULT_PARAMETERS#": {"<path>": "/var"}}`,
	}}
	r := NewReformulator(mock, config.Default().Prompts, 1, nil)

	nodes, err := r.Convert(context.Background(), "disk", "# anything", true)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "steps", nodes[0].Type)
	assert.Equal(t, "```df -h <path>```", nodes[0].Action)
	assert.Equal(t, model.Params{"<path>": "/var"}, nodes[0].DefaultParameters)
	assert.Equal(t, "disk\ncheck\n\n```df -h /var```", nodes[0].Render())
}

func TestConvertFallsBackToParser(t *testing.T) {
	mock := &MockLLM{Response: "Sorry, I cannot give a confident answer"}
	r := NewReformulator(mock, config.Default().Prompts, 2, nil)

	nodes, err := r.Convert(context.Background(), "disk_full", sampleGuide, true)
	require.NoError(t, err)
	require.Len(t, nodes, 3)
	assert.Contains(t, nodes[1].Action, "df -h /var/lib/node-7", "declined templates keep the code")
}

func TestTemplatizeMergesParameters(t *testing.T) {
	mock := &MockLLM{ResponseQueue: []string{
		`{"#CODE_TEMPLATE#": "A <x>", "#DEFAULT_PARAMETERS#": {"<x>": "1"}}`,
		`{"#CODE_TEMPLATE#": "B <x> <y>", "#DEFAULT_PARAMETERS#": {"<x>": "2", "<y>": "3"}}`,
	}}
	r := NewReformulator(mock, config.Default().Prompts, 1, nil)

	out, params, err := r.Templatize(context.Background(), "one ```a 1``` two ```b 2 3```")
	require.NoError(t, err)
	assert.Equal(t, "one A <x> two B <x> <y>", out)
	assert.Equal(t, model.Params{"<x>": "1", "<y>": "3"}, params)

	out, params, err = r.Templatize(context.Background(), "no code")
	require.NoError(t, err)
	assert.Equal(t, "no code", out)
	assert.Nil(t, params)
}

func TestIsNoAnswer(t *testing.T) {
	assert.True(t, IsNoAnswer("Sorry, I cannot give a confident answer."))
	assert.True(t, IsNoAnswer("Could you please share more?"))
	assert.False(t, IsNoAnswer(`{"#CODE_TEMPLATE#": "x"}`))
}
