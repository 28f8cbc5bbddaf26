package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"invoice-extraction-pipeline/internal/domain"
	"invoice-extraction-pipeline/internal/domain/ports/adapter"
)

var _ adapter.BlobStore = (*HTTPStore)(nil)

// HTTPStore fetches blobs over HTTP. A reference is either an absolute URL
// or a key resolved against the configured base URL. Transport errors map
// onto the domain sentinels the orchestrator keys its terminal reasons on.
type HTTPStore struct {
	base   string
	client *http.Client
}

func NewHTTPStore(baseURL string, timeout time.Duration) *HTTPStore {
	return &HTTPStore{
		base:   strings.TrimRight(baseURL, "/"),
		client: &http.Client{Timeout: timeout},
	}
}

func (s *HTTPStore) Fetch(ctx context.Context, ref string) ([]byte, string, error) {
	target := ref
	if !strings.HasPrefix(ref, "http://") && !strings.HasPrefix(ref, "https://") {
		if s.base == "" {
			return nil, "", domain.ErrInvalidArgument
		}
		target = s.base + "/" + url.PathEscape(ref)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		var ue *url.Error
		if errors.As(err, &ue) && ue.Timeout() {
			return nil, "", domain.ErrBlobTimeout
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, "", domain.ErrBlobTimeout
		}
		return nil, "", err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, "", domain.ErrBlobNotFound
	case resp.StatusCode >= 300:
		return nil, "", fmt.Errorf("blob fetch http %d", resp.StatusCode)
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	mime := resp.Header.Get("Content-Type")
	if mime == "" {
		mime = http.DetectContentType(b)
	}
	return b, mime, nil
}
