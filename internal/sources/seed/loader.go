package seed

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var templateVar = regexp.MustCompile(`\{\{[^}]+\}\}`)

// Loader reads the optional sites.yaml that pins sites at startup
type Loader struct {
	filePath string
}

// NewLoader creates a new seed loader
func NewLoader(filePath string) *Loader {
	return &Loader{
		filePath: filePath,
	}
}

// Load reads and parses the seed file
func (l *Loader) Load() (Config, error) {
	data, err := os.ReadFile(l.filePath)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read seed file: %w", err)
	}

	// Deployment templates leave {{VAR}} placeholders; they become empty values.
	data = stripTemplateVariables(data)

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("failed to parse seed yaml: %w", err)
	}

	return config, nil
}

// Entries validates the entries. Entries whose URL is empty (ex: an unset
// template variable) are skipped and reported; anything else invalid fails.
func (c Config) Entries() (sites []SiteEntry, skipped []string, err error) {
	seen := make(map[string]struct{}, len(c.Sites))
	for i, e := range c.Sites {
		e.ID = strings.TrimSpace(e.ID)
		e.URL = strings.TrimSpace(e.URL)

		if e.ID == "" {
			return nil, nil, fmt.Errorf("entry %d: missing id", i)
		}
		if _, dup := seen[e.ID]; dup {
			return nil, nil, fmt.Errorf("entry %d: duplicate id %q", i, e.ID)
		}
		seen[e.ID] = struct{}{}

		if e.URL == "" {
			skipped = append(skipped, e.ID)
			continue
		}
		u, perr := url.ParseRequestURI(e.URL)
		if perr != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, nil, fmt.Errorf("entry %d (%s): invalid url %q", i, e.ID, e.URL)
		}
		sites = append(sites, e)
	}
	return sites, skipped, nil
}

// stripTemplateVariables replaces {{...}} placeholders with an empty string
func stripTemplateVariables(data []byte) []byte {
	return templateVar.ReplaceAll(data, []byte(`""`))
}
