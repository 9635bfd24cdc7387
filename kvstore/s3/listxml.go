package s3

import (
	"fmt"
	"strconv"
	"strings"
)

// listPage holds the fields of one ListObjectsV2 response page.
type listPage struct {
	keys      []string
	truncated bool
	token     string
}

// parseListPage extracts the listing fields by textual tag matching, not
// schema-aware parsing. KeyCount drives the number of Contents blocks
// consumed; the Contents scan and the truncation fields each start from
// the opening ListBucketResult tag, so their relative order does not
// matter. A response that violates this shape is a terminal error, not a
// retry.
func parseListPage(payload string) (listPage, error) {
	var page listPage
	pos, err := findTag(payload, "<ListBucketResult", 0)
	if err != nil {
		return page, err
	}
	countText, _, err := getTag(payload, "<KeyCount>", "</KeyCount>", pos)
	if err != nil {
		return page, err
	}
	count, err := strconv.Atoi(countText)
	if err != nil {
		return page, fmt.Errorf("s3: list: malformed KeyCount %q", countText)
	}
	cursor := pos
	for k := 0; k < count; k++ {
		contentsPos, err := findTag(payload, "<Contents>", cursor)
		if err != nil {
			return page, err
		}
		key, next, err := getTag(payload, "<Key>", "</Key>", contentsPos)
		if err != nil {
			return page, err
		}
		cursor = next
		page.keys = append(page.keys, key)
	}
	truncatedText, _, err := getTag(payload, "<IsTruncated>", "</IsTruncated>", pos)
	if err != nil {
		return page, err
	}
	if truncatedText == "true" {
		token, _, err := getTag(payload, "<NextContinuationToken>", "</NextContinuationToken>", pos)
		if err != nil {
			return page, err
		}
		page.truncated = true
		page.token = token
	}
	return page, nil
}

// findTag returns the index just past the first occurrence of tag at or
// after pos.
func findTag(payload, tag string, pos int) (int, error) {
	idx := strings.Index(payload[pos:], tag)
	if idx < 0 {
		return 0, fmt.Errorf("s3: list: malformed response, missing %s", tag)
	}
	return pos + idx + len(tag), nil
}

// getTag returns the text between the open and close tags, searching from
// pos, together with the index just past the close tag.
func getTag(payload, open, close string, pos int) (string, int, error) {
	start, err := findTag(payload, open, pos)
	if err != nil {
		return "", 0, err
	}
	end := strings.Index(payload[start:], close)
	if end < 0 {
		return "", 0, fmt.Errorf("s3: list: malformed response, missing %s", close)
	}
	return payload[start : start+end], start + end + len(close), nil
}
