package sources

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

type opmlDocument struct {
	XMLName xml.Name `xml:"opml"`
	Body    opmlBody `xml:"body"`
}

type opmlBody struct {
	Outlines []opmlOutline `xml:"outline"`
}

type opmlOutline struct {
	Title    string        `xml:"title,attr"`
	Text     string        `xml:"text,attr"`
	XMLURL   string        `xml:"xmlUrl,attr"`
	Outlines []opmlOutline `xml:"outline"`
}

// ParseOPML returns the feed URLs of every outline, nested ones included, in
// document order.
func ParseOPML(data []byte) ([]string, error) {
	var doc opmlDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse OPML: %w", err)
	}

	var urls []string
	extractFeedURLs(&urls, doc.Body.Outlines)
	return urls, nil
}

func extractFeedURLs(result *[]string, outlines []opmlOutline) {
	for _, outline := range outlines {
		if outline.XMLURL != "" {
			*result = append(*result, outline.XMLURL)
		}
		if len(outline.Outlines) > 0 {
			extractFeedURLs(result, outline.Outlines)
		}
	}
}

// LoadOPML reads an OPML subscription list from a local path or an http(s) URL.
func LoadOPML(ctx context.Context, client *http.Client, location string) ([]string, error) {
	var data []byte
	var err error
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		data, err = fetchOPML(ctx, client, location)
	} else {
		data, err = os.ReadFile(location)
		if err != nil {
			err = fmt.Errorf("failed to read OPML file: %w", err)
		}
	}
	if err != nil {
		return nil, err
	}
	return ParseOPML(data)
}

func fetchOPML(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build OPML request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch OPML: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch OPML: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read OPML response: %w", err)
	}
	return data, nil
}
