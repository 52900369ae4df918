package api

import (
	"context"
	"errors"
	"testing"

	"github.com/hyperengineering/vitalsync/internal/lists"
)

func TestListFromContext(t *testing.T) {
	l, err := lists.NewRegistry(true).Get("vitals")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	got, err := ListFromContext(WithList(context.Background(), l))
	if err != nil || got != l {
		t.Errorf("ListFromContext = %v, %v; want attached list", got, err)
	}

	if _, err := ListFromContext(context.Background()); !errors.Is(err, ErrNoListInContext) {
		t.Errorf("err = %v, want ErrNoListInContext", err)
	}
	if _, err := ListFromContext(WithList(context.Background(), nil)); !errors.Is(err, ErrNoListInContext) {
		t.Errorf("nil list: err = %v, want ErrNoListInContext", err)
	}
}
