package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
)

const (
	defaultPage  = 1
	defaultLimit = 10
	maxLimit     = 1000
)

// envelope is the shape of every JSON response the API produces.
type envelope struct {
	Status     int         `json:"status"`
	Message    string      `json:"message"`
	Data       any         `json:"data"`
	Pagination *pagination `json:"pagination,omitempty"`
}

type pagination struct {
	Page    int     `json:"page"`
	Limit   int     `json:"limit"`
	Pages   int     `json:"pages"`
	Records int     `json:"records"`
	Prev    *string `json:"prev"`
	Next    *string `json:"next"`
}

func writeJSON(resp http.ResponseWriter, env envelope) {
	body, err := json.Marshal(env)
	if err != nil {
		// Our response types always marshal, so this is a bug.
		panic(fmt.Sprintf("failed to encode response: %s", err))
	}
	resp.Header().Set("Content-Type", "application/json")
	resp.Header().Set("Content-Length", strconv.Itoa(len(body)))
	resp.WriteHeader(env.Status)
	resp.Write(body)
}

func writeSuccess(resp http.ResponseWriter, message string, data any) {
	writeJSON(resp, envelope{
		Status:  http.StatusOK,
		Message: message,
		Data:    data,
	})
}

func writeError(resp http.ResponseWriter, status int, message string) {
	writeJSON(resp, envelope{
		Status:  status,
		Message: message,
	})
}

// pageParams reads the optional "page" and "limit" query arguments. ok is
// false if neither is present, in which case the caller should respond
// with the complete list.
func pageParams(req *http.Request) (page, limit int, ok bool, err error) {
	query := req.URL.Query()
	rawPage, rawLimit := query.Get("page"), query.Get("limit")
	if rawPage == "" && rawLimit == "" {
		return 0, 0, false, nil
	}
	page, limit = defaultPage, defaultLimit
	if rawPage != "" {
		page, err = strconv.Atoi(rawPage)
		if err != nil || page < 1 {
			return 0, 0, true, fmt.Errorf("page must be a positive integer")
		}
	}
	if rawLimit != "" {
		limit, err = strconv.Atoi(rawLimit)
		if err != nil || limit < 1 || limit > maxLimit {
			return 0, 0, true, fmt.Errorf("limit must be an integer between 1 and %d", maxLimit)
		}
	}
	return page, limit, true, nil
}

// paginate returns the items on the given page along with the metadata
// describing it. prev and next link to basePath with the neighbouring page
// numbers, when those pages exist.
func paginate[T any](items []T, page, limit int, basePath string) ([]T, *pagination) {
	records := len(items)
	pages := records / limit
	if records%limit != 0 {
		pages++
	}
	ret := &pagination{
		Page:    page,
		Limit:   limit,
		Pages:   pages,
		Records: records,
	}
	if page > 1 {
		prev := fmt.Sprintf("%s?page=%d&limit=%d", basePath, page-1, limit)
		ret.Prev = &prev
	}
	if page < pages {
		next := fmt.Sprintf("%s?page=%d&limit=%d", basePath, page+1, limit)
		ret.Next = &next
	}

	// Compare page numbers before multiplying so that huge page numbers
	// can't overflow.
	if records == 0 || page-1 > (records-1)/limit {
		return []T{}, ret
	}
	start := (page - 1) * limit
	end := min(start+limit, records)
	return items[start:end], ret
}
