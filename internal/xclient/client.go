package xclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"tidemark/internal/metrics"
	"tidemark/internal/model"
	"tidemark/internal/util"
)

const (
	bookmarksQueryID = "tmd4ifV8RHltzn8ymGg1aw"
	deleteQueryID    = "Wlmlj2-xzyS1GN3a6cj-mQ"
)

// bookmarkFeatures is the fixed feature-flag map the bookmarks timeline
// endpoint requires for a usable response shape.
var bookmarkFeatures = map[string]bool{
	"graphql_timeline_v2_bookmark_timeline":                             true,
	"responsive_web_graphql_timeline_navigation_enabled":                true,
	"responsive_web_graphql_skip_user_profile_image_extensions_enabled": false,
	"responsive_web_edit_tweet_api_enabled":                             true,
	"view_counts_everywhere_api_enabled":                                true,
	"longform_notetweets_consumption_enabled":                           true,
	"tweet_awards_web_tipping_enabled":                                  false,
	"freedom_of_speech_not_reach_fetch_enabled":                         true,
	"standardized_nudges_misinfo":                                       true,
	"longform_notetweets_rich_text_read_enabled":                        true,
	"responsive_web_enhance_cards_enabled":                              false,
}

// Client fetches and deletes bookmarks against the remote GraphQL API.
type Client struct {
	baseURL    string
	creds      CredentialProvider
	httpClient *http.Client
	limiter    *rate.Limiter
	lg         *zap.Logger
}

func NewClient(creds CredentialProvider, lg *zap.Logger) *Client {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Client{
		baseURL:    "https://x.com/i/api/graphql",
		creds:      creds,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		limiter:    newDefaultLimiter(),
		lg:         lg,
	}
}

func (c *Client) authorize(ctx context.Context, req *http.Request) error {
	cr, err := c.creds.Credentials(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAuthRequired, err)
	}
	if cr.Bearer == "" {
		return ErrAuthRequired
	}
	req.Header.Set("Authorization", "Bearer "+cr.Bearer)
	req.Header.Set("X-Csrf-Token", cr.CSRF)
	req.Header.Set("Accept", "application/json")
	return nil
}

// FetchBookmarks retrieves one page of the bookmarks timeline and
// normalizes it. An empty cursor starts from the top; an empty
// NextCursor in the result means no more pages. A malformed body
// degrades to an empty terminal page rather than an error.
func (c *Client) FetchBookmarks(ctx context.Context, count int, cursor string) (model.Page, error) {
	variables := map[string]any{
		"count":                  count,
		"includePromotedContent": false,
	}
	if cursor != "" {
		variables["cursor"] = cursor
	}
	vb, _ := json.Marshal(variables)
	fb, _ := json.Marshal(bookmarkFeatures)
	q := url.Values{}
	q.Set("variables", string(vb))
	q.Set("features", string(fb))
	u := fmt.Sprintf("%s/%s/Bookmarks?%s", c.baseURL, bookmarksQueryID, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return model.Page{}, err
	}
	if err := c.authorize(ctx, req); err != nil {
		return model.Page{}, err
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return model.Page{}, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return model.Page{}, fmt.Errorf("bookmarks fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests {
		metrics.RateLimitHits.Inc()
		return model.Page{}, &RateLimitedError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return model.Page{}, fmt.Errorf("bookmarks fetch: remote status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.Page{}, fmt.Errorf("bookmarks fetch: %w", err)
	}
	var raw timelineResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		// A single malformed page means "done", not a crash.
		c.lg.Warn("malformed bookmarks page, treating as end of data", zap.Error(err))
		return model.Page{}, nil
	}
	page := normalize(raw)
	metrics.PagesFetched.Inc()
	if page.NextCursor == cursor {
		// Remote echoed our cursor back; stop instead of looping forever.
		c.lg.Warn("cursor cycle detected, terminating pagination", zap.String("cursor", cursor))
		page.NextCursor = ""
	}
	return page, nil
}

// Wire shapes for the nested timeline payload. Only the fields the
// normalizer touches are declared.

type timelineResponse struct {
	Data struct {
		BookmarkTimelineV2 struct {
			Timeline struct {
				Instructions []instruction `json:"instructions"`
			} `json:"timeline"`
		} `json:"bookmark_timeline_v2"`
	} `json:"data"`
}

type instruction struct {
	Type    string  `json:"type"`
	Entries []entry `json:"entries"`
}

type entry struct {
	EntryID string `json:"entryId"`
	Content struct {
		EntryType   string `json:"entryType"`
		Value       string `json:"value"`
		CursorType  string `json:"cursorType"`
		ItemContent struct {
			TweetResults struct {
				Result tweetResult `json:"result"`
			} `json:"tweet_results"`
		} `json:"itemContent"`
	} `json:"content"`
}

type tweetResult struct {
	RestID string `json:"rest_id"`
	Core   struct {
		UserResults struct {
			Result struct {
				RestID string `json:"rest_id"`
				Legacy struct {
					ScreenName      string `json:"screen_name"`
					ProfileImageURL string `json:"profile_image_url_https"`
				} `json:"legacy"`
			} `json:"result"`
		} `json:"user_results"`
	} `json:"core"`
	Legacy tweetLegacy `json:"legacy"`
}

type tweetLegacy struct {
	FullText          string      `json:"full_text"`
	CreatedAt         string      `json:"created_at"`
	FavoriteCount     int         `json:"favorite_count"`
	RetweetCount      int         `json:"retweet_count"`
	ReplyCount        int         `json:"reply_count"`
	IsQuoteStatus     bool        `json:"is_quote_status"`
	QuotedStatusID    string      `json:"quoted_status_id_str"`
	InReplyToStatusID string      `json:"in_reply_to_status_id_str"`
	Entities          mediaHolder `json:"entities"`
	ExtendedEntities  mediaHolder `json:"extended_entities"`
}

type mediaHolder struct {
	Media []struct {
		Type     string `json:"type"`
		MediaURL string `json:"media_url_https"`
	} `json:"media"`
}

// legacyTimeFormat is the tweet created_at encoding, e.g.
// "Wed Oct 10 20:19:24 +0000 2018".
const legacyTimeFormat = time.RubyDate

// normalize extracts bookmarks and the next-page cursor from the raw
// timeline. Entries missing an id or text are dropped silently.
func normalize(raw timelineResponse) model.Page {
	var page model.Page
	for _, ins := range raw.Data.BookmarkTimelineV2.Timeline.Instructions {
		if ins.Type != "TimelineAddEntries" {
			continue
		}
		for _, e := range ins.Entries {
			if strings.HasPrefix(e.EntryID, "cursor-bottom") {
				page.NextCursor = e.Content.Value
				continue
			}
			tr := e.Content.ItemContent.TweetResults.Result
			if tr.RestID == "" || tr.Legacy.FullText == "" {
				continue
			}
			b := model.Bookmark{
				ID:          tr.RestID,
				Text:        tr.Legacy.FullText,
				Author:      tr.Core.UserResults.Result.Legacy.ScreenName,
				AuthorID:    tr.Core.UserResults.Result.RestID,
				AvatarURL:   tr.Core.UserResults.Result.Legacy.ProfileImageURL,
				Likes:       tr.Legacy.FavoriteCount,
				Retweets:    tr.Legacy.RetweetCount,
				Replies:     tr.Legacy.ReplyCount,
				IsQuote:     tr.Legacy.IsQuoteStatus,
				QuotedTweet: tr.Legacy.QuotedStatusID,
				ReplyTo:     tr.Legacy.InReplyToStatusID,
				IsReply:     tr.Legacy.InReplyToStatusID != "",
				MediaURLs:   extractMedia(tr.Legacy),
			}
			if t, err := time.Parse(legacyTimeFormat, tr.Legacy.CreatedAt); err == nil {
				b.CreatedAt = t.UTC()
			}
			page.Bookmarks = append(page.Bookmarks, b)
		}
	}
	return page
}

// extractMedia merges still-image and video-thumbnail URLs and
// de-duplicates them.
func extractMedia(l tweetLegacy) []string {
	var urls []string
	for _, m := range l.Entities.Media {
		urls = append(urls, m.MediaURL)
	}
	for _, m := range l.ExtendedEntities.Media {
		urls = append(urls, m.MediaURL)
	}
	return util.Dedupe(urls)
}
