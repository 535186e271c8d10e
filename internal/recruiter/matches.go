package recruiter

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/mitchellh/mapstructure"
)

const apiMatchesPath = "/matches"

type Matches []*Match

// Match is a candidate profile found for a job description.
type Match struct {
	ID    string  `mapstructure:"id"`
	Name  string  `mapstructure:"name"`
	Title string  `mapstructure:"title"`
	Score float64 `mapstructure:"score"`
}

// SearchMatches looks up candidate profiles for the job description query.
// Results are ordered by score, best first.
func (c *Client) SearchMatches(ctx context.Context, query string) (Matches, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, errors.New("matches query is required")
	}

	q := url.Values{}
	q.Add("query", query)
	q.Add("per_page", perPage)

	items, err := c.GetItems(ctx, c.APIURL+apiMatchesPath, q)
	if err != nil {
		return nil, err
	}

	var matches Matches
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &matches,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(items); err != nil {
		return nil, fmt.Errorf("decode matches: %w", err)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})

	return matches, nil
}

func (m Matches) IDs() []string {
	ids := make([]string, 0, len(m))
	for _, match := range m {
		ids = append(ids, match.ID)
	}
	return ids
}
