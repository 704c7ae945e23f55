// Package record defines the two canonical record shapes extracted from
// Reddit dump lines (Post, Comment) and the pure normalization that maps a
// raw JSON line into one of them or a skip reason. Normalization has no
// side effects: the dry-run counting path and the real write path share it
// and must agree exactly on what would be written.
package record

import (
	"strconv"
	"strings"
	"time"
)

// Post is a canonical submission row.
type Post struct {
	ID          string
	Subreddit   string
	Title       string
	Body        string // empty when absent or a deleted/removed sentinel
	Author      string
	CreatedUTC  time.Time
	Score       int64
	URL         string
	NumComments int64
}

// Comment is a canonical comment row. PostID is the owning submission;
// ParentID/ParentType point at the direct parent (another comment or the
// post itself).
type Comment struct {
	ID               string
	PostID           string
	ParentID         string
	ParentType       string // "t1" = comment, "t3" = post
	Author           string
	Body             string
	CreatedUTC       time.Time
	Score            int64
	Controversiality int64
}

// epochTime unmarshals a Unix epoch given as a JSON number or a quoted
// string, both of which occur in the dumps. Unparseable values leave
// Valid false rather than failing the whole record.
type epochTime struct {
	Time  time.Time
	Valid bool
}

func (e *epochTime) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	e.Time = time.Unix(int64(f), 0).UTC()
	e.Valid = true
	return nil
}
