package model

import "time"

// Bookmark is one remotely-bookmarked tweet held in the local store.
// ID is remote-assigned and unique; TextTokens is derived from Text and
// never supplied by callers.
type Bookmark struct {
	ID          string    `json:"id"`
	Text        string    `json:"text"`
	Author      string    `json:"author"`
	AuthorID    string    `json:"author_id"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	BookmarkTS  time.Time `json:"bookmark_timestamp"`
	Tags        []string  `json:"tags"`
	TextTokens  []string  `json:"text_tokens"`
	MediaURLs   []string  `json:"media_urls"`
	Likes       int       `json:"likes"`
	Retweets    int       `json:"retweets"`
	Replies     int       `json:"replies"`
	QuotedTweet string    `json:"quoted_tweet,omitempty"`
	ReplyTo     string    `json:"reply_to,omitempty"`
	IsQuote     bool      `json:"is_quote"`
	IsReply     bool      `json:"is_reply"`
}

// Page is one normalized page of the remote bookmarks timeline.
// An empty NextCursor means there are no more pages.
type Page struct {
	Bookmarks  []Bookmark
	NextCursor string
}

// DeleteResult classifies the outcome of one remote delete call.
type DeleteResult struct {
	ID             string `json:"id"`
	Success        bool   `json:"success"`
	AlreadyDeleted bool   `json:"already_deleted,omitempty"`
	APIQuirk       bool   `json:"api_quirk,omitempty"`
	Error          string `json:"error,omitempty"`
}

// BulkSummary accumulates one bulk-delete run.
// Successful includes quirk-compensated deletes; AlreadyDeleted counts
// remote 404s. Successful+Failed+AlreadyDeleted always equals Total.
type BulkSummary struct {
	Total          int      `json:"total"`
	Successful     int      `json:"successful"`
	Failed         int      `json:"failed"`
	AlreadyDeleted int      `json:"already_deleted"`
	Errors         []string `json:"errors,omitempty"`
}

// SyncSummary reports one sync pass.
type SyncSummary struct {
	Delta      bool          `json:"delta"`
	Pages      int           `json:"pages"`
	Fetched    int           `json:"fetched"`
	Stored     int           `json:"stored"`
	Duplicates int           `json:"duplicates"`
	Duration   time.Duration `json:"duration"`
}

// StoreStats reports table counts and schema state.
type StoreStats struct {
	Bookmarks     int  `json:"bookmarks"`
	TagEntries    int  `json:"tag_entries"`
	SchemaVersion int  `json:"schema_version"`
	Ready         bool `json:"ready"`
}
