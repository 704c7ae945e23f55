package record

import (
	"encoding/json"
	"strings"
	"time"
)

// Reason says why a raw line was dropped. The empty Reason means the
// record was accepted. Skips are expected and counted, never errors.
type Reason string

const (
	ReasonNone         Reason = ""
	ReasonMalformed    Reason = "malformed"
	ReasonMissingID    Reason = "missing_id"
	ReasonDeleted      Reason = "deleted"
	ReasonBot          Reason = "bot_author"
	ReasonBadTimestamp Reason = "bad_timestamp"
	ReasonOutsideYear  Reason = "outside_year"
	// ReasonUnknownPost is applied by the persister, not here: a comment
	// whose post is not in storage is dropped to protect referential
	// integrity.
	ReasonUnknownPost Reason = "unknown_post"
)

// deleted/removed sentinels used by Reddit for tombstoned content.
var sentinels = map[string]bool{
	"[deleted]": true,
	"[removed]": true,
}

// botAuthors are system accounts whose content carries no demand signal.
var botAuthors = map[string]bool{
	"AutoModerator": true,
	"RemindMeBot":   true,
	"sneakpeekbot":  true,
	"B0tRank":       true,
}

// Filters restricts which records are accepted. The zero value accepts
// everything that passes the content-quality checks.
type Filters struct {
	// Year keeps only records created within this calendar year (UTC).
	// Zero disables the filter.
	Year int
}

func (f Filters) inYear(t time.Time) bool {
	if f.Year == 0 {
		return true
	}
	return t.Year() == f.Year
}

type rawPost struct {
	ID          string    `json:"id"`
	Subreddit   string    `json:"subreddit"`
	Title       string    `json:"title"`
	SelfText    string    `json:"selftext"`
	Author      string    `json:"author"`
	CreatedUTC  epochTime `json:"created_utc"`
	Score       float64   `json:"score"`
	URL         string    `json:"url"`
	NumComments float64   `json:"num_comments"`
}

type rawComment struct {
	ID               string    `json:"id"`
	LinkID           string    `json:"link_id"`
	ParentID         string    `json:"parent_id"`
	Author           string    `json:"author"`
	Body             string    `json:"body"`
	CreatedUTC       epochTime `json:"created_utc"`
	Score            float64   `json:"score"`
	Controversiality float64   `json:"controversiality"`
}

// clean returns "" for deleted/removed sentinel text.
func clean(s string) string {
	if sentinels[strings.TrimSpace(s)] {
		return ""
	}
	return s
}

// NormalizePost maps one raw submission line to a Post or a skip reason.
// A sentinel selftext clears the body but keeps the post: the title still
// carries signal.
func NormalizePost(line string, f Filters) (*Post, Reason) {
	var raw rawPost
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return nil, ReasonMalformed
	}
	if raw.ID == "" {
		return nil, ReasonMissingID
	}
	if botAuthors[raw.Author] {
		return nil, ReasonBot
	}
	if f.Year != 0 {
		if !raw.CreatedUTC.Valid {
			return nil, ReasonBadTimestamp
		}
		if !f.inYear(raw.CreatedUTC.Time) {
			return nil, ReasonOutsideYear
		}
	}
	return &Post{
		ID:          raw.ID,
		Subreddit:   raw.Subreddit,
		Title:       raw.Title,
		Body:        clean(raw.SelfText),
		Author:      raw.Author,
		CreatedUTC:  raw.CreatedUTC.Time,
		Score:       int64(raw.Score),
		URL:         raw.URL,
		NumComments: int64(raw.NumComments),
	}, ReasonNone
}

// NormalizeComment maps one raw comment line to a Comment or a skip
// reason. Comments whose body is a tombstone or empty are dropped: they
// contribute nothing to activity signals or retrieval.
func NormalizeComment(line string, f Filters) (*Comment, Reason) {
	var raw rawComment
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return nil, ReasonMalformed
	}
	if raw.ID == "" {
		return nil, ReasonMissingID
	}
	body := clean(raw.Body)
	if strings.TrimSpace(body) == "" {
		return nil, ReasonDeleted
	}
	if botAuthors[raw.Author] {
		return nil, ReasonBot
	}
	if f.Year != 0 {
		if !raw.CreatedUTC.Valid {
			return nil, ReasonBadTimestamp
		}
		if !f.inYear(raw.CreatedUTC.Time) {
			return nil, ReasonOutsideYear
		}
	}

	// link_id arrives as "t3_<postid>".
	postID := strings.TrimPrefix(raw.LinkID, "t3_")

	parentType := ""
	if len(raw.ParentID) >= 2 {
		parentType = raw.ParentID[:2]
	}

	return &Comment{
		ID:               raw.ID,
		PostID:           postID,
		ParentID:         raw.ParentID,
		ParentType:       parentType,
		Author:           raw.Author,
		Body:             body,
		CreatedUTC:       raw.CreatedUTC.Time,
		Score:            int64(raw.Score),
		Controversiality: int64(raw.Controversiality),
	}, ReasonNone
}
