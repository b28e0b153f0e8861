package collections

import "githubie.shikanime.studio/internal/types"

// DefaultPageSize is the number of repositories each page adds.
const DefaultPageSize = 10

// Page returns the first page*size repositories, pages being 1-based and
// cumulative, and whether more remain.
func Page(repos []types.Repository, page, size int) ([]types.Repository, bool) {
	if size <= 0 {
		size = DefaultPageSize
	}
	if page < 1 {
		page = 1
	}
	end := page * size
	if end >= len(repos) {
		return repos, false
	}
	return repos[:end], true
}
