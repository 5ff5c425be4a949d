package spectrumfile

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRecord() *Record {
	return &Record{
		Stepname:          "fast",
		Stage:             3,
		DtS:               1e-3,
		Frequencies:       []float64{0, 1, 2},
		PxxN:              4,
		PxxSum:            []float64{4, 8, 12},
		Skip:              true,
		StepsizeBinsCount: []int64{1, 2},
		StepsizeBinsV:     []float64{0, 1e-8},
		SamplesV:          []float64{0.5, -0.5},
	}
}

func TestFilename(t *testing.T) {
	assert.Equal(t, "densitystep_fast_03.json", Filename("fast", 3, false, false))
	assert.Equal(t, "densitystep_fast_03_SKIP.json", Filename("fast", 3, true, false))
	assert.Equal(t, "densitystep_slow_12.json.zst", Filename("slow", 12, false, true))
}

func TestRecordAverage(t *testing.T) {
	rec := testRecord()
	assert.Equal(t, []float64{1, 2, 3}, rec.Average())
	assert.InDelta(t, 1.0, rec.Df(), 1e-12)

	rec.PxxN = 0
	assert.Nil(t, rec.Average())
}

func TestRecordValidate(t *testing.T) {
	require.NoError(t, testRecord().Validate())

	rec := testRecord()
	rec.PxxSum = rec.PxxSum[:2]
	assert.ErrorIs(t, rec.Validate(), ErrInvalidRecord)

	rec = testRecord()
	rec.DtS = 0
	assert.ErrorIs(t, rec.Validate(), ErrInvalidRecord)

	rec = testRecord()
	rec.Stepname = ""
	assert.ErrorIs(t, rec.Validate(), ErrInvalidRecord)
}

func TestStoreSaveLoad(t *testing.T) {
	for _, compress := range []bool{false, true} {
		dir := filepath.Join(t.TempDir(), "capture")
		store, err := NewStore(dir, compress)
		require.NoError(t, err)

		rec := testRecord()
		require.NoError(t, store.Save(rec))

		rec.PxxN = 5
		rec.PxxSum = []float64{5, 10, 15}
		require.NoError(t, store.Save(rec), "save overwrites")

		paths, err := List(dir)
		require.NoError(t, err)
		require.Len(t, paths, 1, "no temporary files left behind")
		assert.Equal(t, store.Path(rec), paths[0])

		loaded, err := Load(paths[0])
		require.NoError(t, err)
		assert.Equal(t, rec, loaded)
	}
}

func TestStoreRejectsInvalidRecord(t *testing.T) {
	store, err := NewStore(t.TempDir(), false)
	require.NoError(t, err)

	rec := testRecord()
	rec.Frequencies = nil
	assert.ErrorIs(t, store.Save(rec), ErrInvalidRecord)
}

func TestLoadCorrupt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, Filename("fast", 0, false, false))
	require.NoError(t, os.WriteFile(path, []byte(`{"stepname": "fast", "stage":`), 0o644))

	_, err := Load(path)
	assert.Error(t, err)

	zpath := filepath.Join(dir, Filename("fast", 1, false, true))
	require.NoError(t, os.WriteFile(zpath, []byte("not zstd"), 0o644))

	_, err = Load(zpath)
	assert.Error(t, err)
}

func TestListFiltersForeignFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{
		"densitystep_b_01.json",
		"densitystep_a_00.json.zst",
		"summary_lsd.json",
		"densitystep_c_00.txt",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("{}"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "densitystep_dir.json"), 0o755))

	paths, err := List(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "densitystep_a_00.json.zst"),
		filepath.Join(dir, "densitystep_b_01.json"),
	}, paths)
}

func TestListKeepsNewestFilePerStage(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for i, name := range []string{
		"densitystep_fast_00.json.zst",
		"densitystep_fast_00.json",
		"densitystep_fast_01.json",
		"densitystep_fast_01_SKIP.json",
	} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))
		mtime := base.Add(time.Duration(i%2) * time.Minute)
		require.NoError(t, os.Chtimes(path, mtime, mtime))
	}

	paths, err := List(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "densitystep_fast_00.json"),
		filepath.Join(dir, "densitystep_fast_01_SKIP.json"),
	}, paths)
}

func TestMustCodecPanicsOnSetupError(t *testing.T) {
	assert.Equal(t, 3, mustCodec(3, nil))
	assert.PanicsWithValue(t, "spectrumfile: zstd setup: bad level", func() {
		mustCodec[*int](nil, errors.New("bad level"))
	})
}
