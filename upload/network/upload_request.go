package network

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sensorsync/go-collector-sync/upload"
)

// UploadRequest transfers the payload of record, starting at record.ResumeOffset, to the session at record.Location.
func (c *Client) UploadRequest(ctx context.Context, token string, record upload.Record) (upload.Record, error) {
	if record.Location == "" {
		return record, upload.ErrMissingLocation
	}

	total := record.Size()
	if total == 0 {
		return record, upload.ErrEmptyPayload
	}

	offset := record.ResumeOffset
	if offset < 0 || offset >= total {
		return record, fmt.Errorf("resume offset %d out of range for %d bytes", offset, total)
	}
	chunk := record.Payload[offset:]

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPut, record.Location, chunk)
	if err != nil {
		return record, err
	}
	setAuthorization(req, token)
	for k, v := range metaDataFields(record) {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", payloadContentType)
	req.Header.Set("Content-Range", uploadContentRange(offset, total))
	req.Header.Set("Content-Length", strconv.Itoa(len(chunk)))
	req.ContentLength = int64(len(chunk))

	resp, err := c.do(c.transferClient, req, "Upload", false)
	if err != nil {
		return record, err
	}
	defer c.closeBody(resp.Body)

	if resp.StatusCode != http.StatusCreated {
		return record, unwrapError(resp)
	}

	return record, nil
}
