package model

import "time"

// SearchResult is one hit returned by a search backend.
type SearchResult struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	Snippet     string `json:"snippet"`
	DisplayHost string `json:"displayHost"`
}

// PageContent is a fetched page reduced to plain text.
type PageContent struct {
	URL        string    `json:"url"`
	Title      string    `json:"title"`
	Text       string    `json:"text"`
	StatusCode int       `json:"statusCode,omitempty"`
	Source     string    `json:"source,omitempty"`
	FetchedAt  time.Time `json:"fetchedAt"`
}

// Link is an anchor found on a page.
type Link struct {
	URL  string `json:"url"`
	Text string `json:"text"`
}
