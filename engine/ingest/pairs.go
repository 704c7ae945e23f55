package ingest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nybblers/redditdemand/pkg/fn"
)

// Pair is one subreddit's dump files: submissions plus (optionally) its
// comments. Dumps follow the <subreddit>_submissions.zst /
// <subreddit>_comments.zst naming convention; plain .jsonl files are
// accepted too.
type Pair struct {
	Subreddit   string
	Submissions string // path; always set
	Comments    string // path; empty when no comments file exists
}

var containerSuffixes = []string{".zst", ".jsonl", ".json"}

// trimContainer strips a recognized container extension from a file name.
func trimContainer(name string) (string, bool) {
	for _, suffix := range containerSuffixes {
		if strings.HasSuffix(name, suffix) {
			return strings.TrimSuffix(name, suffix), true
		}
	}
	return name, false
}

// FindPairs scans dir for dump files and groups them by subreddit, sorted
// by subreddit name. A comments file without a matching submissions file
// is an error: its rows could never satisfy the post foreign key.
func FindPairs(dir string) ([]Pair, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("ingest: scan %s: %w", dir, err)
	}

	dumps := fn.Filter(entries, func(e os.DirEntry) bool {
		if e.IsDir() {
			return false
		}
		_, ok := trimContainer(e.Name())
		return ok
	})

	byName := make(map[string]*Pair)
	var orphanComments []string
	for _, e := range dumps {
		base, _ := trimContainer(e.Name())
		path := filepath.Join(dir, e.Name())
		switch {
		case strings.HasSuffix(base, "_submissions"):
			name := strings.TrimSuffix(base, "_submissions")
			pairFor(byName, name).Submissions = path
		case strings.HasSuffix(base, "_comments"):
			name := strings.TrimSuffix(base, "_comments")
			pairFor(byName, name).Comments = path
		}
	}

	var pairs []Pair
	for name, p := range byName {
		if p.Submissions == "" {
			orphanComments = append(orphanComments, name)
			continue
		}
		pairs = append(pairs, *p)
	}
	if len(orphanComments) > 0 {
		sort.Strings(orphanComments)
		return nil, fmt.Errorf("ingest: comments without submissions in %s: %s",
			dir, strings.Join(orphanComments, ", "))
	}

	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Subreddit < pairs[j].Subreddit })
	return pairs, nil
}

func pairFor(m map[string]*Pair, name string) *Pair {
	if p, ok := m[name]; ok {
		return p
	}
	p := &Pair{Subreddit: name}
	m[name] = p
	return p
}
