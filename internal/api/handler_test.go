package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestParsePagination(t *testing.T) {
	tests := []struct {
		query      string
		wantLimit  int
		wantOffset int
		wantErr    string // "" = no error, "*" = any error
	}{
		{query: "", wantLimit: DefaultLimit},
		{query: "limit=25&offset=50", wantLimit: 25, wantOffset: 50},
		{query: "limit=0", wantLimit: DefaultLimit},
		{query: "limit=1000", wantLimit: MaxLimit},
		{query: "offset=7", wantLimit: DefaultLimit, wantOffset: 7},
		{query: "limit=1001", wantErr: "limit exceeds maximum of 1000"},
		{query: "limit=-5", wantErr: "*"},
		{query: "offset=-1", wantErr: "*"},
		{query: "limit=ten", wantErr: "*"},
		{query: "offset=1.5", wantErr: "*"},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/backlog?"+tt.query, nil)

			limit, offset, err := parsePagination(req)

			switch tt.wantErr {
			case "":
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if limit != tt.wantLimit || offset != tt.wantOffset {
					t.Errorf("got limit=%d offset=%d, want limit=%d offset=%d", limit, offset, tt.wantLimit, tt.wantOffset)
				}
			case "*":
				if err == nil {
					t.Fatal("expected an error")
				}
			default:
				if err == nil || err.Error() != tt.wantErr {
					t.Errorf("error = %v, want %q", err, tt.wantErr)
				}
			}
		})
	}
}
