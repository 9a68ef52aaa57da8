package github

import (
	"github.com/google/go-github/v66/github"
)

// PageSize is the number of items requested per page on list endpoints
const PageSize = 100

// PageFetcher fetches a single page of results
type PageFetcher[T any] func(opts github.ListOptions) ([]T, error)

// CollectPages requests pages of PageSize items starting at page 1 until a
// page returns fewer than PageSize items, and returns all items in order.
func CollectPages[T any](fetch PageFetcher[T]) ([]T, error) {
	var all []T

	for page := 1; ; page++ {
		items, err := fetch(github.ListOptions{Page: page, PerPage: PageSize})
		if err != nil {
			return nil, err
		}

		all = append(all, items...)

		if len(items) < PageSize {
			return all, nil
		}
	}
}
