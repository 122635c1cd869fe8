package source

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"time"
)

// DefaultFetchTimeout bounds the connection and response headers of a
// remote import. The body streams without a deadline.
const DefaultFetchTimeout = 30 * time.Second

var contentTypes = map[string]Format{
	"text/csv":             FormatCSV,
	"application/csv":      FormatCSV,
	"application/json":     FormatJSON,
	"application/x-ndjson": FormatJSON,

	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": FormatXLSX,
}

// OpenURL downloads url and returns a reader over its rows. The format is,
// in order: the explicit one, the URL extension, the response Content-Type,
// then a sniff of the first bytes.
func OpenURL(ctx context.Context, client *http.Client, url string, format Format) (RowReader, error) {
	if client == nil {
		client = &http.Client{Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			ResponseHeaderTimeout: DefaultFetchTimeout,
		}}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()
		return nil, fmt.Errorf("fetch %s: HTTP %d: %s", url, resp.StatusCode, body)
	}

	br := bufio.NewReader(resp.Body)
	if format == "" {
		format = detectRemote(url, resp.Header.Get("Content-Type"), br)
	}
	rows, err := NewReader(readCloser{br, resp.Body}, format)
	if err != nil {
		resp.Body.Close()
		return nil, err
	}
	return rows, nil
}

func detectRemote(url, contentType string, br *bufio.Reader) Format {
	if f, err := DetectFormat(url); err == nil {
		return f
	}
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		if f, ok := contentTypes[mt]; ok {
			return f
		}
	}
	head, _ := br.Peek(512)
	return Sniff(head)
}

// readCloser reads through the buffer and closes the response body.
type readCloser struct {
	*bufio.Reader
	body io.Closer
}

func (r readCloser) Close() error { return r.body.Close() }
