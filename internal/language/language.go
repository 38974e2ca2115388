// Package language describes the closed set of scraper languages morph
// can build and run, and detects which one a source tree uses.
package language

import (
	"errors"
	"io/fs"
	"strings"
)

// ProcfileName is the process-declaration file. It is always
// replaced with the language default so the scraper process
// is started the same way regardless of user content.
const ProcfileName = "Procfile"

// Language is one supported scraper language.
type Language struct {
	// Key is the stable identifier of the language.
	Key string
	// Name is the human readable name.
	Name string
	// Entrypoint is the file that identifies the language
	// and where execution begins.
	Entrypoint string
	// Procfile is the content of the process-declaration
	// file for this language.
	Procfile string
	// Defaults are configuration files copied into the build
	// when the scraper does not supply its own.
	Defaults map[string]string
}

var (
	Ruby = Language{
		Key:        "ruby",
		Name:       "Ruby",
		Entrypoint: "scraper.rb",
		Procfile:   "scraper: bundle exec ruby -r/usr/local/lib/prerun.rb scraper.rb\n",
		Defaults: map[string]string{
			"Gemfile":      "source \"https://rubygems.org\"\n\nruby \"3.2.2\"\n\ngem \"scraperwiki\", git: \"https://github.com/openaustralia/scraperwiki-ruby.git\", branch: \"morph_defaults\"\ngem \"mechanize\"\n",
			"Gemfile.lock": "GIT\n  remote: https://github.com/openaustralia/scraperwiki-ruby.git\n  revision: fc50176812505e463077d5c673d504a6a234aa78\n  branch: morph_defaults\n  specs:\n    scraperwiki (3.0.1)\n      httpclient\n      sqlite_magic\n",
		},
	}
	PHP = Language{
		Key:        "php",
		Name:       "PHP",
		Entrypoint: "scraper.php",
		Procfile:   "scraper: php -d include_path=.:/app/vendor/openaustralia/scraperwiki scraper.php\n",
		Defaults: map[string]string{
			"composer.json": "{\n  \"require\": {\n    \"openaustralia/scraperwiki\": \"dev-master\"\n  }\n}\n",
		},
	}
	Python = Language{
		Key:        "python",
		Name:       "Python",
		Entrypoint: "scraper.py",
		Procfile:   "scraper: python -u scraper.py\n",
		Defaults: map[string]string{
			"requirements.txt": "scraperwiki==0.5.1\nlxml==4.9.3\ncssselect==1.2.0\n",
			"runtime.txt":      "python-3.11.6\n",
		},
	}
	Perl = Language{
		Key:        "perl",
		Name:       "Perl",
		Entrypoint: "scraper.pl",
		Procfile:   "scraper: perl -Mlib=/app/local/lib/perl5 scraper.pl\n",
		Defaults: map[string]string{
			"cpanfile": "requires 'Database::DumpTruck';\nrequires 'LWP::Simple';\n",
			"app.psgi": "",
		},
	}
	NodeJS = Language{
		Key:        "nodejs",
		Name:       "Node.js",
		Entrypoint: "scraper.js",
		Procfile:   "scraper: node --expose-gc scraper.js\n",
		Defaults: map[string]string{
			"package.json": "{\n  \"name\": \"scraper\",\n  \"private\": true,\n  \"dependencies\": {\n    \"sqlite3\": \"latest\"\n  }\n}\n",
		},
	}
)

// Supported is every language morph can run, in the order
// they are probed.
var Supported = []Language{Ruby, PHP, Python, Perl, NodeJS}

// ErrNotFound is returned by Lookup for an unknown key.
var ErrNotFound = errors.New("language not found")

// Detect returns the first language whose entrypoint exists
// at the root of fsys.
func Detect(fsys fs.FS, langs []Language) (Language, bool) {
	for _, l := range langs {
		info, err := fs.Stat(fsys, l.Entrypoint)
		if err == nil && info.Mode().IsRegular() {
			return l, true
		}
	}
	return Language{}, false
}

// Lookup returns the language with the given key.
func Lookup(key string, langs []Language) (Language, error) {
	for _, l := range langs {
		if l.Key == key {
			return l, nil
		}
	}
	return Language{}, ErrNotFound
}

// Entrypoints lists the entrypoint filenames of langs.
func Entrypoints(langs []Language) []string {
	names := make([]string, 0, len(langs))
	for _, l := range langs {
		names = append(names, l.Entrypoint)
	}
	return names
}

// Disjunction joins items as a human readable "a, b, or c" list.
func Disjunction(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	case 2:
		return items[0] + " or " + items[1]
	default:
		return strings.Join(items[:len(items)-1], ", ") + ", or " + items[len(items)-1]
	}
}

// MissingEntrypointMessage explains to a scraper author which
// files morph looks for.
func MissingEntrypointMessage(langs []Language) string {
	return "Can't find scraper code. Rename your scraper file to " + Disjunction(Entrypoints(langs))
}
