package matrix

import (
	"bytes"
	"context"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path/filepath"

	"github.com/pkg/errors"
	"maunium.net/go/mautrix/id"
)

const defaultContentType = "application/octet-stream"

// contentTypeFor guesses the MIME type from the filename's extension.
func contentTypeFor(filename string) string {
	if t := mime.TypeByExtension(filepath.Ext(filename)); t != "" {
		return t
	}
	return defaultContentType
}

// uploadRequest builds a replayable media upload. Seekable content is rewound before each
// attempt; anything else is buffered once.
func (c *Client) uploadRequest(asUser id.UserID, filename string, content io.Reader, size int64) (*request, error) {
	q := url.Values{}
	q.Set("filename", filename)

	req := &request{
		op:            "upload media",
		method:        http.MethodPost,
		url:           c.serverURL + mediaUploadPath + "?" + c.authQuery(asUser, q).Encode(),
		contentType:   contentTypeFor(filename),
		contentLength: size,
	}

	if seeker, ok := content.(io.ReadSeeker); ok {
		req.body = func() (io.Reader, error) {
			if _, err := seeker.Seek(0, io.SeekStart); err != nil {
				return nil, err
			}
			return io.LimitReader(seeker, size), nil
		}
		return req, nil
	}

	data, err := io.ReadAll(io.LimitReader(content, size))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read upload content")
	}
	if int64(len(data)) != size {
		return nil, errors.Errorf("upload content is %d bytes, expected %d", len(data), size)
	}
	req.body = func() (io.Reader, error) { return bytes.NewReader(data), nil }
	return req, nil
}

// UploadMedia uploads content to the media repository and returns its mxc URI.
func (u *UserClient) UploadMedia(ctx context.Context, filename string, content io.Reader, size int64) (id.ContentURIString, error) {
	if err := u.EnsureRegistered(ctx); err != nil {
		return "", err
	}
	req, err := u.client.uploadRequest(u.userID, filename, content, size)
	if err != nil {
		return "", err
	}
	res, err := u.client.do(ctx, req)
	if err != nil {
		return "", err
	}
	if err := res.Err(); err != nil {
		return "", err
	}
	var resp struct {
		ContentURI id.ContentURIString `json:"content_uri"`
	}
	if err := res.Decode(&resp); err != nil {
		return "", err
	}
	return resp.ContentURI, nil
}

// UploadMedia uploads as the appservice sender.
func (c *Client) UploadMedia(ctx context.Context, filename string, content io.Reader, size int64) (id.ContentURIString, error) {
	return c.Bot().UploadMedia(ctx, filename, content, size)
}
