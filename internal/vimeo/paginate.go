package vimeo

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
)

type page[T any] struct {
	Total  int `json:"total"`
	Page   int `json:"page"`
	Data   []T `json:"data"`
	Paging struct {
		Next string `json:"next"`
	} `json:"paging"`
}

// Paginate walks a collection endpoint page by page, calling fn for every
// item, until the response carries no next link. Items are not counted
// against "total": the collection may change while it is being walked.
func Paginate[T any](ctx context.Context, c *Client, operation, path string, query url.Values, fn func(T) error) error {
	params := url.Values{}
	for k, vs := range query {
		params[k] = vs
	}

	params.Set("per_page", strconv.Itoa(PageSize))

	next := path
	seen := map[string]bool{}

	for pageNum := 1; next != ""; pageNum++ {
		if seen[next] {
			return fmt.Errorf("%s: paging loop detected at %s", operation, next)
		}

		seen[next] = true

		var p page[T]
		if err := c.get(ctx, operation, next, params, &p); err != nil {
			return fmt.Errorf("%s: page %d: %w", operation, pageNum, err)
		}

		for _, item := range p.Data {
			if err := fn(item); err != nil {
				return err
			}
		}

		next = p.Paging.Next
		// next links already carry per_page, fields and the cursor.
		params = nil
	}

	return nil
}
