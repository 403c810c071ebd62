// Package archive parses exported social-activity archives and folds them
// into per-person aggregates.
//
// Each archive file is a JavaScript assignment wrapping a JSON array:
//
//	window.YTD.<key>.part0 = [ {...}, ... ]
//
// The parser treats this as a strict two-part grammar: a fixed-prefix match,
// then a JSON array parse. Anything else is rejected rather than salvaged.
package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
)

// ParseError indicates a malformed archive file. It is fatal to that file's
// ingestion; other files continue.
type ParseError struct {
	Key    string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("archive %s: %s: %v", e.Key, e.Reason, e.Err)
	}
	return fmt.Sprintf("archive %s: %s", e.Key, e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Account is a follower or following entry.
type Account struct {
	AccountID string `json:"accountId"`
	UserLink  string `json:"userLink"`
}

// Mention is an embedded user mention inside a post.
type Mention struct {
	IDStr      string `json:"id_str"`
	ScreenName string `json:"screen_name"`
	Name       string `json:"name"`
}

// Post is one post from the archive, with the fields the pipeline uses.
type Post struct {
	FullText string `json:"full_text"`
	Entities struct {
		UserMentions []Mention `json:"user_mentions"`
	} `json:"entities"`
	RetweetCount  Count  `json:"retweet_count"`
	FavoriteCount Count  `json:"favorite_count"`
	CreatedAt     string `json:"created_at"`
}

// Count accepts both JSON numbers and the quoted numbers archive exports use.
type Count int

func (c *Count) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*c = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	*c = Count(n)
	return nil
}

// Record is the tagged union of archive record kinds. Exactly one field is
// non-nil.
type Record struct {
	Follower  *Account
	Following *Account
	Post      *Post
}

// Keys of the nested object inside each array element.
const (
	KeyFollower  = "follower"
	KeyFollowing = "following"
	KeyTweet     = "tweet"
)

// prefixPattern matches the assignment wrapper, anchored at the start:
// <namespace>.<file-key>.part<digits> =
var prefixPattern = regexp.MustCompile(`^\s*window\.YTD\.(\w+)\.part(\d+)\s*=\s*`)

// ParseFile strips the assignment wrapper from one archive file and parses
// the remainder as a JSON array of records with the given nested key.
// Elements missing the key are skipped and counted in the second return.
func ParseFile(r io.Reader, key string) ([]Record, int, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, 0, &ParseError{Key: key, Reason: "read failed", Err: err}
	}

	loc := prefixPattern.FindSubmatchIndex(raw)
	if loc == nil {
		return nil, 0, &ParseError{Key: key, Reason: "missing assignment prefix"}
	}
	fileKey := string(raw[loc[2]:loc[3]])
	if fileKey != expectedFileKey(key) {
		return nil, 0, &ParseError{Key: key, Reason: fmt.Sprintf("unexpected file key %q", fileKey)}
	}

	var elements []map[string]json.RawMessage
	if err := json.Unmarshal(raw[loc[1]:], &elements); err != nil {
		return nil, 0, &ParseError{Key: key, Reason: "invalid JSON array", Err: err}
	}

	records := make([]Record, 0, len(elements))
	skipped := 0
	for _, el := range elements {
		inner, ok := el[key]
		if !ok {
			skipped++
			continue
		}
		rec, err := decodeRecord(key, inner)
		if err != nil {
			skipped++
			continue
		}
		records = append(records, rec)
	}
	return records, skipped, nil
}

// expectedFileKey maps the record key to the wrapper's file key; the tweet
// archive file is named "tweets" while its elements nest under "tweet".
func expectedFileKey(key string) string {
	if key == KeyTweet {
		return "tweets"
	}
	return key
}

func decodeRecord(key string, inner json.RawMessage) (Record, error) {
	switch key {
	case KeyFollower:
		var a Account
		if err := json.Unmarshal(inner, &a); err != nil {
			return Record{}, err
		}
		if a.AccountID == "" {
			return Record{}, fmt.Errorf("follower without accountId")
		}
		return Record{Follower: &a}, nil
	case KeyFollowing:
		var a Account
		if err := json.Unmarshal(inner, &a); err != nil {
			return Record{}, err
		}
		if a.AccountID == "" {
			return Record{}, fmt.Errorf("following without accountId")
		}
		return Record{Following: &a}, nil
	case KeyTweet:
		var p Post
		if err := json.Unmarshal(inner, &p); err != nil {
			return Record{}, err
		}
		return Record{Post: &p}, nil
	default:
		return Record{}, fmt.Errorf("unknown record key %q", key)
	}
}
