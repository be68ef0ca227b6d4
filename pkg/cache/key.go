package cache

import (
	"fmt"
	"strings"

	"github.com/Sternrassler/leaky-pager/pkg/query"
)

// KeyPrefix starts every page key.
const KeyPrefix = "pager:page"

// PageKey identifies one cached page.
type PageKey struct {
	// Namespace separates upstream servers, usually the host of the base URL.
	Namespace string

	// Query selects the page. It is normalized before rendering.
	Query query.Query
}

// String generates a deterministic cache key string.
// Format: pager:page[:namespace]:fields=a,b:page=N:size=M
//
// Example:
//
//	pager:page:127.0.0.1:8080:fields=*:page=0:size=10
func (k PageKey) String() string {
	q := k.Query.Normalize()

	parts := []string{KeyPrefix}
	if ns := strings.TrimSpace(k.Namespace); ns != "" {
		parts = append(parts, ns)
	}

	fields := "*"
	if len(q.Fields) > 0 {
		fields = strings.Join(q.Fields, ",")
	}
	parts = append(parts,
		"fields="+fields,
		fmt.Sprintf("page=%d", q.Page),
		fmt.Sprintf("size=%d", q.PageSize),
	)

	return strings.Join(parts, ":")
}
