package harvest

import (
	"encoding/xml"
	"fmt"
)

// sitemapURLSet matches the standard sitemap <urlset> document.
type sitemapURLSet struct {
	XMLName xml.Name     `xml:"urlset"`
	URLs    []sitemapURL `xml:"url"`
}

type sitemapURL struct {
	Loc string `xml:"loc"`
}

// parseSitemap returns every <loc> in a sitemap document, in order.
func parseSitemap(body []byte) ([]string, error) {
	var set sitemapURLSet
	if err := xml.Unmarshal(body, &set); err != nil {
		return nil, fmt.Errorf("parse sitemap: %w", err)
	}
	var locs []string
	for _, u := range set.URLs {
		if u.Loc != "" {
			locs = append(locs, u.Loc)
		}
	}
	return locs, nil
}
