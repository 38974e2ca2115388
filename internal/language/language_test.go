package language

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetect(t *testing.T) {
	tests := []struct {
		name  string
		files fstest.MapFS
		want  string
		found bool
	}{
		{
			name:  "ruby",
			files: fstest.MapFS{"scraper.rb": {Data: []byte("puts 1")}},
			want:  "ruby",
			found: true,
		},
		{
			name:  "python with extras",
			files: fstest.MapFS{"scraper.py": {}, "README.md": {}, "requirements.txt": {}},
			want:  "python",
			found: true,
		},
		{
			name:  "probe order wins",
			files: fstest.MapFS{"scraper.js": {}, "scraper.php": {}},
			want:  "php",
			found: true,
		},
		{
			name:  "nested entrypoint is ignored",
			files: fstest.MapFS{"lib/scraper.rb": {}},
		},
		{
			name:  "empty tree",
			files: fstest.MapFS{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, ok := Detect(tt.files, Supported)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.want, l.Key)
		})
	}
}

func TestDetectCustomSet(t *testing.T) {
	shell := Language{Key: "shell", Entrypoint: "scraper.sh"}
	files := fstest.MapFS{"scraper.sh": {}, "scraper.rb": {}}

	l, ok := Detect(files, []Language{shell})
	require.True(t, ok)
	assert.Equal(t, "shell", l.Key)
}

func TestLookup(t *testing.T) {
	l, err := Lookup("perl", Supported)
	require.NoError(t, err)
	assert.Equal(t, "scraper.pl", l.Entrypoint)

	_, err = Lookup("cobol", Supported)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDisjunction(t *testing.T) {
	assert.Equal(t, "", Disjunction(nil))
	assert.Equal(t, "a", Disjunction([]string{"a"}))
	assert.Equal(t, "a or b", Disjunction([]string{"a", "b"}))
	assert.Equal(t, "a, b, or c", Disjunction([]string{"a", "b", "c"}))
}

func TestMissingEntrypointMessage(t *testing.T) {
	assert.Equal(t,
		"Can't find scraper code. Rename your scraper file to scraper.rb, scraper.php, scraper.py, scraper.pl, or scraper.js",
		MissingEntrypointMessage(Supported),
	)
}

func TestEveryLanguageHasProcfile(t *testing.T) {
	for _, l := range Supported {
		assert.Contains(t, l.Procfile, "scraper:", l.Key)
		assert.NotContains(t, l.Defaults, ProcfileName, l.Key)
	}
}
