package datafetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"strings"
)

// FSFetcher serves documents from a file system, typically the directory the
// ETL job publishes into. ETags are content hashes, so conditional requests
// behave the same as against a static HTTP origin.
type FSFetcher struct {
	fsys    fs.FS
	maxBody int64
}

// NewFSFetcher creates a fetcher over fsys.
func NewFSFetcher(fsys fs.FS) *FSFetcher {
	return &FSFetcher{fsys: fsys, maxBody: DefaultMaxBodySize}
}

// Fetch reads the document at req.Path.
func (f *FSFetcher) Fetch(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ValidatePath(req.Path); err != nil {
		return nil, err
	}

	name := strings.TrimPrefix(req.Path, "/")
	if !fs.ValidPath(name) {
		return nil, &FetchError{Kind: KindClient, Message: "invalid path", Path: req.Path, StatusCode: http.StatusBadRequest}
	}

	data, err := fs.ReadFile(f.fsys, name)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, &FetchError{Kind: KindClient, Message: "document not found", Path: req.Path, StatusCode: http.StatusNotFound}
	case errors.Is(err, fs.ErrPermission):
		return nil, &FetchError{Kind: KindClient, Message: "document not readable", Path: req.Path, StatusCode: http.StatusForbidden, Cause: err}
	case err != nil:
		return nil, &FetchError{Kind: KindTransient, Message: "read document", Path: req.Path, Cause: err}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if int64(len(data)) > f.maxBody {
		return nil, &FetchError{Kind: KindParse, Message: "payload too large", Path: req.Path}
	}

	etag := contentETag(data)
	if req.ETag != "" && req.ETag == etag {
		return &Response{ETag: etag, StatusCode: http.StatusNotModified, NotModified: true}, nil
	}
	if !json.Valid(data) {
		return nil, &FetchError{Kind: KindParse, Message: "invalid JSON payload", Path: req.Path}
	}
	return &Response{Payload: data, ETag: etag, StatusCode: http.StatusOK}, nil
}

func contentETag(data []byte) string {
	sum := sha256.Sum256(data)
	return `"` + hex.EncodeToString(sum[:16]) + `"`
}
