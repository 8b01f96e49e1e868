package main

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCSV(t *testing.T, path string, rows [][]string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, csv.NewWriter(f).WriteAll(rows))
}

func setupDataset(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	movies := filepath.Join(dir, "movies.csv")
	credits := filepath.Join(dir, "credits.csv")

	writeCSV(t, movies, [][]string{
		{"id", "title", "overview", "genres", "keywords"},
		{"1", "Alien", "Crew meets alien in space", `[{"name": "Science Fiction"}]`, `[{"name": "space"}]`},
		{"2", "Aliens", "Marines fight alien swarm in space", `[{"name": "Science Fiction"}]`, `[{"name": "space"}]`},
		{"3", "Notting Hill", "Bookseller falls for actress", `[{"name": "Romance"}]`, `[{"name": "london"}]`},
	})
	writeCSV(t, credits, [][]string{
		{"movie_id", "title", "cast", "crew"},
		{"348", "Alien", `[{"name": "Sigourney Weaver", "order": 0}]`, `[{"name": "Ridley Scott", "job": "Director"}]`},
		{"679", "Aliens", `[{"name": "Sigourney Weaver", "order": 0}]`, `[{"name": "James Cameron", "job": "Director"}]`},
		{"509", "Notting Hill", `[{"name": "Julia Roberts", "order": 0}]`, `[{"name": "Roger Michell", "job": "Director"}]`},
	})

	t.Setenv("DATASET_MOVIES_PATH", movies)
	t.Setenv("DATASET_CREDITS_PATH", credits)
	t.Setenv("STORAGE_DIR", filepath.Join(dir, "artifacts"))
	t.Setenv("STORAGE_BACKEND", "file")
	t.Setenv("POSTER_PROVIDER", "none")
	t.Setenv("CORPUS_WORKERS", "2")
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestBuildAndRecommend(t *testing.T) {
	setupDataset(t)

	out, err := run(t, "build")
	require.NoError(t, err)
	assert.Contains(t, out, "items       3")

	out, err = run(t, "recommend", "--json", "-k", "2", "Alien")
	require.NoError(t, err)

	var rows []recommendOutput
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, "Aliens", rows[0].Title)
	assert.Equal(t, 679, rows[0].ID)
	assert.Equal(t, 1, rows[0].Rank)
	assert.Equal(t, "Notting Hill", rows[1].Title)

	_, err = run(t, "recommend", "--json", "Predator")
	assert.Error(t, err)
}

func TestNewStore(t *testing.T) {
	setupDataset(t)

	_, err := run(t, "build", "extra")
	assert.Error(t, err)

	t.Setenv("STORAGE_BACKEND", "bogus")
	_, err = run(t, "build")
	assert.ErrorContains(t, err, "unknown storage backend")
}
