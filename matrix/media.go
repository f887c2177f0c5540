// Copyright 2026 The Palaver Authors
// SPDX-License-Identifier: Apache-2.0

package matrix

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/palaver-im/palaver/lib/ref"
)

// UploadMedia uploads content to the homeserver's media repository and
// returns the mxc:// URI for referencing it from events. filename is
// optional; contentType defaults to application/octet-stream when
// empty.
func (s *Session) UploadMedia(ctx context.Context, content io.Reader, contentType, filename string) (ref.MXCURI, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	query := url.Values{}
	if filename != "" {
		query.Set("filename", filename)
	}

	var response UploadResponse
	err := s.callJSON(ctx, CallOptions{
		Method:      http.MethodPost,
		Prefix:      MediaPrefix,
		Path:        "/upload",
		Query:       query,
		Body:        content,
		ContentType: contentType,
	}, &response)
	if err != nil {
		return ref.MXCURI{}, fmt.Errorf("matrix: media upload failed: %w", err)
	}
	return response.ContentURI, nil
}

// DownloadMedia fetches the raw bytes of an uploaded piece of media.
func (s *Session) DownloadMedia(ctx context.Context, uri ref.MXCURI) ([]byte, error) {
	if uri.IsZero() {
		return nil, validationErrorf("empty content URI")
	}
	body, err := s.call(ctx, CallOptions{
		Method:      http.MethodGet,
		Prefix:      MediaPrefix,
		Path:        "/download/" + url.PathEscape(uri.Server()) + "/" + url.PathEscape(uri.MediaID()),
		RawResponse: true,
	})
	if err != nil {
		return nil, fmt.Errorf("matrix: media download of %q failed: %w", uri, err)
	}
	return body, nil
}

// ThumbnailMedia fetches a server-generated thumbnail of an uploaded
// image. method must be "scale" or "crop".
func (s *Session) ThumbnailMedia(ctx context.Context, uri ref.MXCURI, width, height int, method string) ([]byte, error) {
	if uri.IsZero() {
		return nil, validationErrorf("empty content URI")
	}
	if method != "scale" && method != "crop" {
		return nil, validationErrorf("thumbnail method %q: must be \"scale\" or \"crop\"", method)
	}
	query := url.Values{}
	query.Set("width", strconv.Itoa(width))
	query.Set("height", strconv.Itoa(height))
	query.Set("method", method)

	body, err := s.call(ctx, CallOptions{
		Method:      http.MethodGet,
		Prefix:      MediaPrefix,
		Path:        "/thumbnail/" + url.PathEscape(uri.Server()) + "/" + url.PathEscape(uri.MediaID()),
		Query:       query,
		RawResponse: true,
	})
	if err != nil {
		return nil, fmt.Errorf("matrix: thumbnail of %q failed: %w", uri, err)
	}
	return body, nil
}
