package pagination

import (
	"errors"
	"slices"
	"testing"
)

type idRecord struct {
	ID int `json:"id"`
}

func TestDecodeRecords(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    []int
		wantErr bool
	}{
		{name: "array", body: `[{"id":1},{"id":2},{"id":3}]`, want: []int{1, 2, 3}},
		{name: "empty array", body: `[]`, want: []int{}},
		{name: "object keeps document order", body: `{"z":{"id":9},"a":{"id":1}}`, want: []int{9, 1}},
		{name: "empty object", body: `{}`, want: []int{}},
		{name: "surrounding whitespace", body: " \n[{\"id\":4}]\n", want: []int{4}},
		{name: "scalar", body: `42`, wantErr: true},
		{name: "string", body: `"page"`, wantErr: true},
		{name: "not json", body: `not json`, wantErr: true},
		{name: "empty body", body: ``, wantErr: true},
		{name: "truncated", body: `[{"id":1},`, wantErr: true},
		{name: "wrong record type", body: `[{"id":"one"}]`, wantErr: true},
		{name: "trailing data", body: `[{"id":1}] [{"id":2}]`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, err := decodeRecords[idRecord]([]byte(tt.body))
			if tt.wantErr {
				if !errors.Is(err, ErrMalformedBody) {
					t.Fatalf("decodeRecords() error = %v, want ErrMalformedBody", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("decodeRecords() error = %v", err)
			}
			if records == nil {
				t.Fatal("decodeRecords() = nil, want non-nil slice")
			}
			ids := make([]int, len(records))
			for i, r := range records {
				ids[i] = r.ID
			}
			if !slices.Equal(ids, tt.want) {
				t.Errorf("decodeRecords() ids = %v, want %v", ids, tt.want)
			}
		})
	}
}

func TestDecodeRecords_RawMessage(t *testing.T) {
	records, err := decodeRecords[map[string]any]([]byte(`[{"name":"Portico 1","piani":3}]`))
	if err != nil {
		t.Fatalf("decodeRecords() error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("len(records) = %d, want 1", len(records))
	}
	if records[0]["name"] != "Portico 1" {
		t.Errorf("name = %v, want Portico 1", records[0]["name"])
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateIdle, "idle"},
		{StateEstimating, "estimating"},
		{StateAwaitingHeaders, "awaiting_headers"},
		{StateAwaitingBody, "awaiting_body"},
		{StateSleeping, "sleeping"},
		{StateDone, "done"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
