package network

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sensorsync/go-collector-sync/upload"
)

// PreRequest announces the upload of record to the collector.
func (c *Client) PreRequest(ctx context.Context, token string, record upload.Record) (upload.PreRequestResult, error) {
	if record.Size() == 0 {
		return upload.PreRequestResult{}, upload.ErrEmptyPayload
	}

	body, err := json.Marshal(metaDataFields(record))
	if err != nil {
		return upload.PreRequestResult{}, fmt.Errorf("encode metadata: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/measurements"), body)
	if err != nil {
		return upload.PreRequestResult{}, err
	}
	setAuthorization(req, token)
	req.Header.Set("Content-Type", metaDataContentType)
	req.Header.Set("x-upload-content-length", strconv.FormatInt(record.Size(), 10))
	req.Header.Set("x-upload-content-type", payloadContentType)

	resp, err := c.do(c.announceClient, req, "Pre-request", true)
	if err != nil {
		return upload.PreRequestResult{}, err
	}
	defer c.closeBody(resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
		location := resp.Header.Get("Location")
		if location == "" {
			return upload.PreRequestResult{}, upload.ErrNoLocation
		}
		resolved, err := c.resolveLocation(location)
		if err != nil {
			return upload.PreRequestResult{}, err
		}
		return upload.PreRequestResult{Kind: upload.PreRequestSuccess, Location: resolved}, nil
	case http.StatusConflict:
		return upload.PreRequestResult{Kind: upload.PreRequestExists}, nil
	case http.StatusPreconditionFailed:
		return upload.PreRequestResult{}, upload.ErrUploadNotAccepted
	default:
		return upload.PreRequestResult{}, unwrapError(resp)
	}
}
