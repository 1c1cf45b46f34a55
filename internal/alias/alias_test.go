package alias

import (
	"strings"
	"testing"
)

func TestGenerateShape(t *testing.T) {
	for i := 0; i < 50; i++ {
		a := Generate()
		parts := strings.SplitN(a, " ", 2)
		if len(parts) != 2 {
			t.Fatalf("alias %q is not adjective + surname", a)
		}
	}
}
