package graph

import (
	"context"
)

// PageOptions bounds pagination. MaxPages of zero means unlimited.
type PageOptions struct {
	MaxPages int
}

// GetAll follows the server's next-page link until none remains, returning
// the concatenation of every page's item array in server order. A page with
// zero items does not terminate the walk while a next link is present.
func (c *Client) GetAll(ctx context.Context, path string, opts PageOptions) ([]map[string]any, error) {
	var items []map[string]any
	next := path
	pages := 0

	for next != "" {
		resp, err := c.Get(ctx, next)
		if err != nil {
			return nil, err
		}
		items = append(items, Items(resp)...)
		pages++
		if opts.MaxPages > 0 && pages >= opts.MaxPages {
			break
		}
		next = NextLink(resp)
	}
	return items, nil
}

// Items extracts the item array from a collection response. Graph and the
// Defender API both use "value".
func Items(resp map[string]any) []map[string]any {
	raw, ok := resp["value"].([]any)
	if !ok {
		return nil
	}
	items := make([]map[string]any, 0, len(raw))
	for _, v := range raw {
		if m, ok := v.(map[string]any); ok {
			items = append(items, m)
		}
	}
	return items
}

// NextLink returns the opaque next-page URL, tolerating the casing variants
// different API surfaces emit.
func NextLink(resp map[string]any) string {
	for _, key := range []string{"@odata.nextLink", "odata.nextLink", "nextLink"} {
		if s, ok := resp[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
