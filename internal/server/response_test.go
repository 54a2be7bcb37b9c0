package server

import (
	"fmt"
	"math"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestPaginate(t *testing.T) {
	str := func(s string) *string { return &s }
	items := []int{1, 2, 3, 4, 5, 6, 7}

	tests := map[string]struct {
		page, limit int
		wantItems   []int
		want        *pagination
	}{
		"first": {
			page: 1, limit: 3,
			wantItems: []int{1, 2, 3},
			want:      &pagination{Page: 1, Limit: 3, Pages: 3, Records: 7, Next: str("/r?page=2&limit=3")},
		},
		"last partial": {
			page: 3, limit: 3,
			wantItems: []int{7},
			want:      &pagination{Page: 3, Limit: 3, Pages: 3, Records: 7, Prev: str("/r?page=2&limit=3")},
		},
		"beyond end": {
			page: 5, limit: 3,
			wantItems: []int{},
			want:      &pagination{Page: 5, Limit: 3, Pages: 3, Records: 7, Prev: str("/r?page=4&limit=3")},
		},
		"huge page": {
			page: math.MaxInt, limit: 3,
			wantItems: []int{},
			want:      &pagination{Page: math.MaxInt, Limit: 3, Pages: 3, Records: 7, Prev: str(fmt.Sprintf("/r?page=%d&limit=3", math.MaxInt-1))},
		},
		"limit beyond records": {
			page: 3, limit: maxLimit,
			wantItems: []int{},
			want:      &pagination{Page: 3, Limit: maxLimit, Pages: 1, Records: 7, Prev: str(fmt.Sprintf("/r?page=2&limit=%d", maxLimit))},
		},
		"single page": {
			page: 1, limit: 10,
			wantItems: items,
			want:      &pagination{Page: 1, Limit: 10, Pages: 1, Records: 7},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			gotItems, got := paginate(items, test.page, test.limit, "/r")
			if diff := cmp.Diff(test.wantItems, gotItems); diff != "" {
				t.Errorf("wrong items\n%s", diff)
			}
			if diff := cmp.Diff(test.want, got); diff != "" {
				t.Errorf("wrong pagination\n%s", diff)
			}
		})
	}
}

func TestPageParams(t *testing.T) {
	tests := map[string]struct {
		query                string
		wantPage, wantLimit  int
		wantPaged, wantError bool
	}{
		"none":          {query: "", wantPaged: false},
		"page only":     {query: "?page=3", wantPage: 3, wantLimit: defaultLimit, wantPaged: true},
		"limit only":    {query: "?limit=25", wantPage: defaultPage, wantLimit: 25, wantPaged: true},
		"both":          {query: "?page=2&limit=5", wantPage: 2, wantLimit: 5, wantPaged: true},
		"zero page":     {query: "?page=0", wantPaged: true, wantError: true},
		"invalid limit": {query: "?limit=lots", wantPaged: true, wantError: true},
		"huge limit":    {query: "?page=3&limit=9223372036854775807", wantPaged: true, wantError: true},
		"limit at max":  {query: "?limit=1000", wantPage: defaultPage, wantLimit: maxLimit, wantPaged: true},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/api/v1/registry"+test.query, nil)
			page, limit, paged, err := pageParams(req)
			if test.wantError {
				if err == nil {
					t.Fatal("unexpected success")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if page != test.wantPage || limit != test.wantLimit || paged != test.wantPaged {
				t.Errorf("got page=%d limit=%d paged=%t", page, limit, paged)
			}
		})
	}
}
