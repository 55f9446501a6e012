package storage

import (
	"fmt"
	"strings"
	"testing"
)

func TestRenderSchemaSizesVectorColumns(t *testing.T) {
	for _, dim := range []int{128, 512, 1024} {
		ddl := renderSchema(dim)
		want := fmt.Sprintf("VECTOR(%d)", dim)
		if got := strings.Count(ddl, want); got != 2 {
			t.Errorf("dim %d: %s occurs %d times, want photo and user columns", dim, want, got)
		}
		if strings.Contains(ddl, "%") {
			t.Errorf("dim %d: unexpanded placeholder left in DDL", dim)
		}
	}
}
