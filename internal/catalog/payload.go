package catalog

// Payload is the catalog response body.
type Payload struct {
	Result Result `json:"result"`
}

// Result wraps the published links.
type Result struct {
	Links []Link `json:"links"`
}

// Link is one published build.
type Link struct {
	DownloadType string `json:"downloadType"`
	DownloadURL  string `json:"downloadUrl"`
}

// Lookup returns the download URL published for downloadType.
func (p *Payload) Lookup(downloadType string) (string, bool) {
	if p == nil {
		return "", false
	}

	for _, link := range p.Result.Links {
		if link.DownloadType == downloadType && link.DownloadURL != "" {
			return link.DownloadURL, true
		}
	}

	return "", false
}
