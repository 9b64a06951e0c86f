package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/cnmfsns/internal/odg"
)

func TestParseRanks(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    map[string][]int
		wantErr bool
	}{
		{name: "none", args: nil, want: nil},
		{name: "single", args: []string{"--ranks", "tumor=5"}, want: map[string][]int{"tumor": {5}}},
		{name: "list and repeat", args: []string{"--ranks", "tumor=5, 7", "--ranks", "atlas=3"}, want: map[string][]int{"tumor": {5, 7}, "atlas": {3}}},
		{name: "missing equals", args: []string{"--ranks", "tumor"}, wantErr: true},
		{name: "bad rank", args: []string{"--ranks", "tumor=x"}, wantErr: true},
		{name: "zero rank", args: []string{"--ranks", "tumor=0"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := newCreateNetworkCmd()
			require.NoError(t, cmd.Flags().Parse(tt.args))
			got, err := parseRanks(cmd.Flags(), "ranks")
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSelectODGCommand(t *testing.T) {
	dir := t.TempDir()
	table := filepath.Join(dir, "tumor.genestats.tsv")
	require.NoError(t, os.WriteFile(table, []byte("\todscore\tselected\nA\t1\tFalse\nB\t3\tFalse\nC\t2\tTrue\n"), 0644))
	textfile := filepath.Join(dir, "metrics.prom")

	root := newRootCmd()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs([]string{
		"select-odg", "--table", table, "--method", "default_topn", "--param", "2",
		"--config", filepath.Join(dir, "absent.yaml"), "--metrics-textfile", textfile,
	})
	require.NoError(t, root.Execute())
	assert.Contains(t, stdout.String(), "Selected 2 genes with default_topn")

	tbl, err := odg.ReadTableFile(table)
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "C"}, tbl.Selected())
	assert.FileExists(t, textfile)
}

func TestSelectODGCommandDefaults(t *testing.T) {
	dir := t.TempDir()
	table := filepath.Join(dir, "tumor.genestats.tsv")
	require.NoError(t, os.WriteFile(table, []byte("\todscore\tselected\nA\t0.5\tTrue\nB\t1\tFalse\nC\t2\tFalse\n"), 0644))

	root := newRootCmd()
	var stdout bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"select-odg", "--table", table, "--config", filepath.Join(dir, "absent.yaml")})
	require.NoError(t, root.Execute())
	assert.Contains(t, stdout.String(), "Selected 2 genes with default_minscore")

	tbl, err := odg.ReadTableFile(table)
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "C"}, tbl.Selected())
}

func TestSelectODGCommandFailure(t *testing.T) {
	dir := t.TempDir()
	root := newRootCmd()
	var stderr bytes.Buffer
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&stderr)
	root.SetArgs([]string{"select-odg", "--table", filepath.Join(dir, "missing.tsv"), "--config", filepath.Join(dir, "absent.yaml")})
	assert.Error(t, root.Execute())
	assert.Contains(t, stderr.String(), "command failed")
}

func TestInitializeRequiresOutputDir(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"initialize", "a.cnmf.zst"})
	assert.Error(t, root.Execute())
}
