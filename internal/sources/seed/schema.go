package seed

// Config is the top-level structure of sites.yaml
//
//	sites:
//	  - id: "12"
//	    url: https://shop.example.com
type Config struct {
	Sites []SiteEntry `yaml:"sites"`
}

// SiteEntry is one pinned site
type SiteEntry struct {
	ID  string `yaml:"id"`
	URL string `yaml:"url"`
}
