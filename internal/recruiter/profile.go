package recruiter

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const apiProfilePath = "/profiles/%s"

// Profile is the candidate profile a scoped conversation is about.
type Profile struct {
	ID    string
	Name  string
	Title string
	Raw   map[string]interface{}
}

// Profile fetches the candidate profile with id.
func (c *Client) Profile(ctx context.Context, id string) (*Profile, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("profile id is required")
	}

	path := fmt.Sprintf(apiProfilePath, url.PathEscape(id))

	raw := make(map[string]interface{})
	if err := c.getJSON(ctx, c.APIURL+path, nil, &raw); err != nil {
		return nil, err
	}

	p := &Profile{
		ID:    valueAsString(raw["id"]),
		Name:  firstString(raw, "name", "full_name"),
		Title: firstString(raw, "title", "headline", "position"),
		Raw:   raw,
	}
	if p.ID == "" {
		p.ID = id
	}

	return p, nil
}

// CandidateName returns the name used in the scoping turn.
func (p *Profile) CandidateName() string {
	if p == nil {
		return ""
	}
	return strings.TrimSpace(p.Name)
}

func firstString(raw map[string]interface{}, keys ...string) string {
	for _, k := range keys {
		if v := valueAsString(raw[k]); v != "" {
			return v
		}
	}
	return ""
}

func valueAsString(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return strings.TrimSpace(fmt.Sprint(val))
	}
}
