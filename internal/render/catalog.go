package render

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"text/template"

	"golang.org/x/text/language"
)

// DefaultLocale is the catalog every lookup falls back to.
const DefaultLocale = "en"

//go:embed templates/*.json
var builtin embed.FS

type localeFile struct {
	Labels   map[string]string `json:"labels"`
	Messages map[string]string `json:"messages"`
}

// Catalog holds parsed message templates per locale.
type Catalog struct {
	labels  map[string]map[string]string
	tmpls   map[string]map[string]*template.Template
	tags    []language.Tag
	names   []string
	matcher language.Matcher
}

// LoadCatalog reads every <locale>.json at the root of fsys. The default
// locale must be present.
func LoadCatalog(fsys fs.FS) (*Catalog, error) {
	files, err := fs.Glob(fsys, "*.json")
	if err != nil {
		return nil, err
	}
	sort.Strings(files)

	c := &Catalog{
		labels: map[string]map[string]string{},
		tmpls:  map[string]map[string]*template.Template{},
	}
	for _, name := range files {
		raw, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, err
		}
		var lf localeFile
		if err := json.Unmarshal(raw, &lf); err != nil {
			return nil, fmt.Errorf("render: %s: %w", name, err)
		}
		loc := strings.TrimSuffix(path.Base(name), ".json")
		set := make(map[string]*template.Template, len(lf.Messages))
		for key, body := range lf.Messages {
			t, err := template.New(loc + "/" + key).Option("missingkey=error").Parse(body)
			if err != nil {
				return nil, fmt.Errorf("render: %s/%s: %w", loc, key, err)
			}
			set[key] = t
		}
		c.tmpls[loc] = set
		c.labels[loc] = lf.Labels
		if tag, err := language.Parse(loc); err == nil {
			c.tags = append(c.tags, tag)
			c.names = append(c.names, loc)
		}
	}
	if _, ok := c.tmpls[DefaultLocale]; !ok {
		return nil, fmt.Errorf("render: default locale %q missing", DefaultLocale)
	}
	c.matcher = language.NewMatcher(c.tags)
	return c, nil
}

// MustDefaultCatalog loads the templates compiled into the binary.
func MustDefaultCatalog() *Catalog {
	sub, err := fs.Sub(builtin, "templates")
	if err != nil {
		panic(err)
	}
	c, err := LoadCatalog(sub)
	if err != nil {
		panic(err)
	}
	return c
}

// Locales lists the loaded locales.
func (c *Catalog) Locales() []string {
	out := make([]string, 0, len(c.tmpls))
	for k := range c.tmpls {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Match picks the closest loaded locale, or DefaultLocale when none is a
// confident match.
func (c *Catalog) Match(locale string) string {
	if locale == "" {
		return DefaultLocale
	}
	if _, ok := c.tmpls[locale]; ok {
		return locale
	}
	tag, err := language.Parse(locale)
	if err != nil {
		return DefaultLocale
	}
	_, idx, conf := c.matcher.Match(tag)
	if conf >= language.High && idx < len(c.names) {
		return c.names[idx]
	}
	return DefaultLocale
}

// Label returns a localized word, falling back to the default locale and
// then to the key itself.
func (c *Catalog) Label(locale, key string) string {
	if v := c.labels[locale][key]; v != "" {
		return v
	}
	if v := c.labels[DefaultLocale][key]; v != "" {
		return v
	}
	return key
}

// Text executes template key for locale, then for the default locale. ok is
// false when neither produced output.
func (c *Catalog) Text(locale, key string, data any) (string, bool) {
	for _, loc := range []string{c.Match(locale), DefaultLocale} {
		t, found := c.tmpls[loc][key]
		if !found {
			continue
		}
		var buf bytes.Buffer
		if err := t.Execute(&buf, data); err != nil {
			continue
		}
		return buf.String(), true
	}
	return "", false
}
