package network

import (
	"context"
	"net/http"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sensorsync/go-collector-sync/upload"
)

// StatusRequest asks the collector how much of the session at record.Location it received.
func (c *Client) StatusRequest(ctx context.Context, token string, record upload.Record) (upload.StatusResult, error) {
	if record.Location == "" {
		return upload.StatusResult{}, upload.ErrMissingLocation
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPut, record.Location, nil)
	if err != nil {
		return upload.StatusResult{}, err
	}
	setAuthorization(req, token)
	req.Header.Set("Content-Range", statusContentRange(record.Size()))
	req.ContentLength = 0

	resp, err := c.do(c.announceClient, req, "Status", false)
	if err != nil {
		return upload.StatusResult{}, err
	}
	defer c.closeBody(resp.Body)

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		return upload.StatusResult{Kind: upload.StatusFinished}, nil
	case http.StatusPermanentRedirect:
		offset := resumeOffset(resp.Header.Get("Range"), record.Size())
		return upload.StatusResult{Kind: upload.StatusResume, Offset: offset}, nil
	case http.StatusNotFound:
		return upload.StatusResult{Kind: upload.StatusAborted}, nil
	default:
		return upload.StatusResult{}, unwrapError(resp)
	}
}
