// Package utils holds small helpers shared by the HTTP and service layers.
package utils

import (
	"math"
	"strconv"
)

// AtoiDefault parses s as a decimal int, returning def when s is empty or
// not a number.
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// ClampPage parses page and page_size query values. size defaults to
// defSize and is held within [1, maxSize]. page is held within
// [1, MaxPage(size)] so the row offset cannot overflow.
func ClampPage(pageRaw, sizeRaw string, defSize, maxSize int) (page, size int) {
	size = AtoiDefault(sizeRaw, defSize)
	if size < 1 {
		size = 1
	}
	if maxSize > 0 && size > maxSize {
		size = maxSize
	}
	page = AtoiDefault(pageRaw, 1)
	if page < 1 {
		page = 1
	}
	if maxPage := MaxPage(size); page > maxPage {
		page = maxPage
	}
	return page, size
}

// MaxPage is the largest page whose offset (page-1)*size fits in an int.
func MaxPage(size int) int {
	if size < 1 {
		return math.MaxInt
	}
	return math.MaxInt/size + 1
}
