package application

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/sawpanic/cnmfsns/internal/blob"
	"github.com/sawpanic/cnmfsns/internal/cnmfresult"
	"github.com/sawpanic/cnmfsns/internal/config"
	"github.com/sawpanic/cnmfsns/internal/odg"
	"github.com/sawpanic/cnmfsns/internal/persistence/sqlstore"
	"github.com/sawpanic/cnmfsns/internal/registry"
)

var testGenes = []string{"G1", "G2", "G3", "G4", "G5", "G6", "G7", "G8", "G9", "G10"}

// shared is a program present in both test datasets
var shared = []float64{1, 3, 2, 8, 5, 4, 9, 7, 6, 10}

// writeContainer encodes a k=2 container whose first program is shared.
func writeContainer(t *testing.T, dir, name string, second []float64) string {
	t.Helper()
	spectra := mat.NewDense(2, len(testGenes), nil)
	spectra.SetRow(0, shared)
	spectra.SetRow(1, second)
	c := &cnmfresult.Container{
		Name:    name,
		Genes:   map[cnmfresult.SpectraKind][]string{cnmfresult.Consensus: testGenes},
		Samples: []string{"c1", "c2"},
		Ranks: []cnmfresult.Rank{{
			K:         2,
			Threshold: 0.1,
			Spectra:   map[cnmfresult.SpectraKind]*mat.Dense{cnmfresult.Consensus: spectra},
			Usage:     mat.NewDense(2, 2, []float64{1, 0, 0, 1}),
		}},
	}
	path := filepath.Join(dir, name+cnmfresult.FileExt)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, cnmfresult.Encode(f, c))
	return path
}

// sourceDir holds atlas and tumor containers; tumor ships its own genestats.
func sourceDir(t *testing.T) (string, []string) {
	t.Helper()
	dir := t.TempDir()
	atlas := writeContainer(t, dir, "atlas", []float64{5, 5, 1, 1, 2, 9, 3, 3, 0, 1})
	tumor := writeContainer(t, dir, "tumor", []float64{0, 1, 0, 2, 0, 3, 0, 4, 0, 5})

	var b strings.Builder
	b.WriteString("\todscore\tvscore\tselected\n")
	for i, g := range testGenes {
		fmt.Fprintf(&b, "%s\t%d\t%d\tTrue\n", g, len(testGenes)-i, i)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tumor"+GeneStatsExt), []byte(b.String()), 0644))
	return dir, []string{atlas, tumor}
}

func newService(t *testing.T, d Deps) *Service {
	t.Helper()
	d.Logger = zerolog.Nop()
	return NewService(d)
}

func initialized(t *testing.T, svc *Service) string {
	t.Helper()
	_, files := sourceDir(t)
	out := filepath.Join(t.TempDir(), "integration")
	_, err := svc.Initialize(context.Background(), InitializeRequest{OutputDir: out, Files: files})
	require.NoError(t, err)
	return out
}

func TestInitializeFromFiles(t *testing.T) {
	svc := newService(t, Deps{})
	_, files := sourceDir(t)
	out := filepath.Join(t.TempDir(), "integration")

	res, err := svc.Initialize(context.Background(), InitializeRequest{OutputDir: out, Files: files})
	require.NoError(t, err)
	assert.Equal(t, 2, res.ColorsAdded)

	reg, err := registry.LoadFile(filepath.Join(out, ConfigFile))
	require.NoError(t, err)
	assert.Equal(t, []string{"atlas", "tumor"}, reg.Names())
	atlas, _ := reg.Get("atlas")
	assert.Equal(t, filepath.Join(DatasetsDir, "atlas.cnmf.zst"), atlas.Filename)
	assert.Equal(t, registry.PaletteColor(0), atlas.Color)
	assert.FileExists(t, filepath.Join(out, atlas.Filename))

	// atlas had no table: seeded with every gene selected
	seeded, err := odg.ReadTableFile(GeneStatsPath(out, "atlas"))
	require.NoError(t, err)
	assert.Equal(t, testGenes, seeded.Selected())

	// tumor's own table was copied
	copied, err := odg.ReadTableFile(GeneStatsPath(out, "tumor"))
	require.NoError(t, err)
	assert.True(t, copied.HasScore(odg.ModelCNMF))

	for _, method := range []string{"pearson", "spearman"} {
		data, err := os.ReadFile(res.Distributions[method])
		require.NoError(t, err)
		var dist Distribution
		require.NoError(t, json.Unmarshal(data, &dist))
		assert.Equal(t, method, dist.Method)
		assert.Equal(t, 4, dist.GEPs)
		assert.Len(t, dist.Coefficients, 6)
		assert.Len(t, dist.Histogram.Counts, histogramBins)
		assert.InDelta(t, 1.0, dist.Coefficients[len(dist.Coefficients)-1], 1e-9)
		assert.Contains(t, dist.Quantiles, "p50")
	}

	data, err := os.ReadFile(res.OverlapPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"pairwise"`)

	for _, d := range []string{DatasetsDir, DistributionsDir, GenesDir, NetworksDir} {
		assert.DirExists(t, filepath.Join(out, d))
	}

	snap, err := svc.Metrics().Snapshot()
	require.NoError(t, err)
	assert.Equal(t, 2.0, snap["cnmfsns_datasets"])
	assert.Equal(t, 1.0, snap[`cnmfsns_pipeline_steps_total{status="success",step="copy_datasets"}`])
	assert.Equal(t, 1.0, snap[`cnmfsns_pipeline_steps_total{status="success",step="gene_overlap"}`])
}

func TestInitializeFromSpecResolvesRelativePaths(t *testing.T) {
	svc := newService(t, Deps{})
	dir, _ := sourceDir(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "atlas.metadata.txt"), []byte("\tdonor\nc1\td1\nc2\td2\n"), 0644))
	spec := filepath.Join(dir, "datasets.toml")
	require.NoError(t, os.WriteFile(spec, []byte(`
[datasets.atlas]
filename = "atlas.cnmf.zst"
metadata = "atlas.metadata.txt"
color = "black"

[datasets.tumor]
filename = "tumor.cnmf.zst"
`), 0644))

	out := filepath.Join(t.TempDir(), "integration")
	res, err := svc.Initialize(context.Background(), InitializeRequest{OutputDir: out, SpecPath: spec})
	require.NoError(t, err)
	assert.Equal(t, 1, res.ColorsAdded)

	atlas, _ := res.Registry.Get("atlas")
	assert.Equal(t, "black", atlas.Color)
	assert.Equal(t, filepath.Join(DatasetsDir, "atlas.metadata.txt"), atlas.Metadata)
	assert.FileExists(t, filepath.Join(out, atlas.Metadata))
}

func TestInitializeConfigConflict(t *testing.T) {
	svc := newService(t, Deps{})
	_, err := svc.Initialize(context.Background(), InitializeRequest{
		OutputDir: t.TempDir(),
		SpecPath:  "datasets.toml",
		Files:     []string{"a.cnmf.zst"},
	})
	assert.ErrorIs(t, err, registry.ErrConfigConflict)

	snap, err := svc.Metrics().Snapshot()
	require.NoError(t, err)
	assert.Equal(t, 1.0, snap[`cnmfsns_pipeline_steps_total{status="error",step="load_registry"}`])
}

func TestInitializeOverExistingDirectory(t *testing.T) {
	svc := newService(t, Deps{})
	_, files := sourceDir(t)
	out := t.TempDir()

	_, err := svc.Initialize(context.Background(), InitializeRequest{OutputDir: out, Files: files})
	require.NoError(t, err)
	_, err = svc.Initialize(context.Background(), InitializeRequest{OutputDir: out, Files: files})
	require.NoError(t, err)
}

func TestSelectGenes(t *testing.T) {
	svc := newService(t, Deps{})
	out := initialized(t, svc)

	res, err := svc.SelectGenes(context.Background(), SelectRequest{
		OutputDir: out, Dataset: "tumor", Method: "default_topn", Value: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"G1", "G2", "G3"}, res.Genes)

	tbl, err := odg.ReadTableFile(GeneStatsPath(out, "tumor"))
	require.NoError(t, err)
	assert.Equal(t, []string{"G1", "G2", "G3"}, tbl.Selected())

	snap, err := svc.Metrics().Snapshot()
	require.NoError(t, err)
	assert.Equal(t, 3.0, snap[`cnmfsns_genes_selected{method="default_topn"}`])
}

func TestSelectGenesFromList(t *testing.T) {
	svc := newService(t, Deps{})
	out := initialized(t, svc)
	list := filepath.Join(t.TempDir(), "genes.txt")
	require.NoError(t, os.WriteFile(list, []byte("g4\nG4\nG9\n"), 0644))

	res, err := svc.SelectGenes(context.Background(), SelectRequest{
		TablePath: GeneStatsPath(out, "atlas"), Method: "genes_file", GeneList: list,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"G4", "G9"}, res.Genes)

	_, err = svc.SelectGenes(context.Background(), SelectRequest{
		TablePath: GeneStatsPath(out, "atlas"), Method: "genes_file",
	})
	assert.Error(t, err)
}

func TestSelectGenesEmptyLeavesTableUntouched(t *testing.T) {
	svc := newService(t, Deps{})
	out := initialized(t, svc)
	path := GeneStatsPath(out, "tumor")
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	_, err = svc.SelectGenes(context.Background(), SelectRequest{
		TablePath: path, Method: "default_minscore", Value: 1000,
	})
	assert.ErrorIs(t, err, odg.ErrEmptySelection)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestSelectGenesRejectsUnknownMethod(t *testing.T) {
	svc := newService(t, Deps{})
	_, err := svc.SelectGenes(context.Background(), SelectRequest{TablePath: "x.tsv", Method: "median"})
	assert.ErrorIs(t, err, odg.ErrUnknownMethod)
}

func TestCreateNetwork(t *testing.T) {
	svc := newService(t, Deps{})
	out := initialized(t, svc)

	res, err := svc.CreateNetwork(context.Background(), NetworkRequest{OutputDir: out, Method: "pearson", MinCorr: 0.99})
	require.NoError(t, err)
	assert.False(t, res.Persisted)
	assert.Equal(t, filepath.Join(out, NetworksDir, "pearson_0.99.json"), res.EdgesPath)

	data, err := os.ReadFile(res.EdgesPath)
	require.NoError(t, err)
	var doc NetworkDocument
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, res.RunID.String(), doc.RunID)
	assert.Len(t, doc.GEPs, 4)
	require.NotEmpty(t, doc.Edges)

	found := false
	for _, e := range doc.Edges {
		if e.Source.Program == 1 && e.Target.Program == 1 && e.CrossDataset {
			found = true
			assert.InDelta(t, 1.0, e.Weight, 1e-9)
		}
	}
	assert.True(t, found, "shared program must be linked across datasets")
}

func TestCreateNetworkPersistsRun(t *testing.T) {
	ctx := context.Background()
	store, err := sqlstore.Open(ctx, sqlstore.Config{Driver: "sqlite", DSN: ":memory:", QueryTimeout: 5 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Migrate(ctx))

	svc := newService(t, Deps{Networks: store})
	out := initialized(t, svc)

	res, err := svc.CreateNetwork(ctx, NetworkRequest{OutputDir: out, Method: "spearman", MinCorr: -1})
	require.NoError(t, err)
	require.True(t, res.Persisted)

	run, err := store.GetRun(ctx, res.RunID)
	require.NoError(t, err)
	assert.Equal(t, "spearman", run.Method)
	assert.Equal(t, "atlas,tumor", run.Datasets)
	assert.Equal(t, len(res.Network.Edges()), run.Edges)

	edges, err := store.ListEdges(ctx, res.RunID, 0)
	require.NoError(t, err)
	assert.Len(t, edges, run.Edges)
}

func TestCreateNetworkRanksFilter(t *testing.T) {
	svc := newService(t, Deps{})
	out := initialized(t, svc)

	_, err := svc.CreateNetwork(context.Background(), NetworkRequest{
		OutputDir: out, Method: "pearson", MinCorr: 0.5, Ranks: map[string][]int{"atlas": {7}},
	})
	assert.Error(t, err)
}

func TestCreateNetworkUnknownMethod(t *testing.T) {
	svc := newService(t, Deps{})
	_, err := svc.CreateNetwork(context.Background(), NetworkRequest{OutputDir: t.TempDir(), Method: "kendall"})
	assert.Error(t, err)
}

func writeResultDir(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "tumor")
	require.NoError(t, os.MkdirAll(dir, 0755))
	write := func(name, body string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0644))
	}
	write("tumor.spectra.k_2.dt_0_1.consensus.txt", "\tGENE1\tGENE2\tGENE3\n1\t1\t2\t3\n2\t3\t2\t1\n")
	write("tumor.usages.k_2.dt_0_1.consensus.txt", "\t1\t2\ncell1\t0.5\t0.5\ncell2\t1\t0\n")
	return dir
}

func TestCreateContainer(t *testing.T) {
	ctx := context.Background()
	store := blob.NewMemory()
	svc := newService(t, Deps{Store: store})
	dir := writeResultDir(t)

	receipt, err := svc.CreateContainer(ctx, CreateContainerRequest{Dir: dir, DeleteSource: true})
	require.NoError(t, err)
	assert.Equal(t, "tumor.cnmf.zst", receipt.Key())
	assert.NoDirExists(t, dir)

	c, err := cnmfresult.Open(ctx, store, receipt.Key())
	require.NoError(t, err)
	assert.Equal(t, []int{2}, c.Ks())
	assert.Equal(t, []string{"cell1", "cell2"}, c.Samples)
}

func TestCreateContainerKeepsSourceByDefault(t *testing.T) {
	svc := newService(t, Deps{Store: blob.NewMemory()})
	dir := writeResultDir(t)

	receipt, err := svc.CreateContainer(context.Background(), CreateContainerRequest{Dir: dir, Key: "runs/t.cnmf.zst"})
	require.NoError(t, err)
	assert.Equal(t, "runs/t.cnmf.zst", receipt.Key())
	assert.DirExists(t, dir)
}

func TestCreateContainerLoadFailureKeepsSource(t *testing.T) {
	svc := newService(t, Deps{Store: blob.NewMemory()})
	dir := writeResultDir(t)
	dt := 2.0

	_, err := svc.CreateContainer(context.Background(), CreateContainerRequest{Dir: dir, Threshold: &dt, DeleteSource: true})
	assert.ErrorIs(t, err, cnmfresult.ErrMissingFile)
	assert.DirExists(t, dir)
}

func TestCreateContainerNeedsStore(t *testing.T) {
	svc := newService(t, Deps{})
	_, err := svc.CreateContainer(context.Background(), CreateContainerRequest{Dir: t.TempDir()})
	assert.Error(t, err)
}

func TestNewServiceDefaultsConfig(t *testing.T) {
	svc := NewService(Deps{Logger: zerolog.Nop()})
	assert.Equal(t, config.Default(), svc.cfg)
	assert.NotNil(t, svc.Metrics())
}
