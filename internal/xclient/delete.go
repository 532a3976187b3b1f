package xclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"tidemark/internal/metrics"
	"tidemark/internal/model"
)

// quirkSignature identifies a specific transient 400 the remote service
// emits when the bookmarked tweet was deleted at source. Observed
// behavior, not documented API: such responses are compensated as
// success and flagged APIQuirk. Match this exact signature only; other
// 400s stay failures.
const quirkSignature = "ReferencedTweetNotFound"

type deleteRequest struct {
	Variables struct {
		TweetID string `json:"tweet_id"`
	} `json:"variables"`
	QueryID string `json:"queryId"`
}

type deleteResponse struct {
	Data struct {
		TweetBookmarkDelete string `json:"tweet_bookmark_delete"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// DeleteBookmark issues one remote delete. Outcome classification:
// 2xx with the "Done" confirmation is success; 404 is success flagged
// AlreadyDeleted (remote absence is the desired end state); a 400
// matching quirkSignature is success flagged APIQuirk; any other
// non-2xx is a failure carried in the result. 429 is returned as a
// RateLimitedError for the caller to handle.
func (c *Client) DeleteBookmark(ctx context.Context, id string) (model.DeleteResult, error) {
	res := model.DeleteResult{ID: id}
	var body deleteRequest
	body.Variables.TweetID = id
	body.QueryID = deleteQueryID
	bb, _ := json.Marshal(body)

	u := fmt.Sprintf("%s/%s/DeleteBookmark", c.baseURL, deleteQueryID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(bb))
	if err != nil {
		return res, err
	}
	req.Header.Set("Content-Type", "application/json")
	if err := c.authorize(ctx, req); err != nil {
		return res, err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return res, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return res, fmt.Errorf("bookmark delete: %w", err)
	}
	defer resp.Body.Close()
	rb, _ := io.ReadAll(resp.Body)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		metrics.RateLimitHits.Inc()
		metrics.Deletes.WithLabelValues("rate_limited").Inc()
		return res, &RateLimitedError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	case resp.StatusCode == http.StatusNotFound:
		res.Success = true
		res.AlreadyDeleted = true
		metrics.Deletes.WithLabelValues("already_deleted").Inc()
		return res, nil
	case resp.StatusCode == http.StatusBadRequest && strings.Contains(string(rb), quirkSignature):
		res.Success = true
		res.APIQuirk = true
		metrics.Deletes.WithLabelValues("quirk").Inc()
		return res, nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		res.Error = remoteErrorMessage(rb)
		if res.Error == "" {
			res.Error = fmt.Sprintf("remote status %d", resp.StatusCode)
		}
		metrics.Deletes.WithLabelValues("failed").Inc()
		return res, nil
	}

	var dr deleteResponse
	if err := json.Unmarshal(rb, &dr); err != nil || dr.Data.TweetBookmarkDelete != "Done" {
		res.Error = remoteErrorMessage(rb)
		if res.Error == "" {
			res.Error = "unexpected response shape"
		}
		metrics.Deletes.WithLabelValues("failed").Inc()
		return res, nil
	}
	res.Success = true
	metrics.Deletes.WithLabelValues("ok").Inc()
	return res, nil
}

func remoteErrorMessage(body []byte) string {
	var dr deleteResponse
	if err := json.Unmarshal(body, &dr); err == nil && len(dr.Errors) > 0 {
		return dr.Errors[0].Message
	}
	return ""
}
