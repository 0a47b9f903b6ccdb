package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func paramsFor(t *testing.T, target string) Params {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	return FromContext(e.NewContext(req, rec))
}

func TestFromContext_Defaults(t *testing.T) {
	pg := paramsFor(t, "/sessions")
	if pg.Limit != DefaultLimit {
		t.Fatalf("expected default limit %d, got %d", DefaultLimit, pg.Limit)
	}
	if pg.Offset != 0 {
		t.Fatalf("expected offset 0, got %d", pg.Offset)
	}
}

func TestFromContext_CapsLimit(t *testing.T) {
	pg := paramsFor(t, "/sessions?limit=5000&offset=40")
	if pg.Limit != MaxLimit {
		t.Fatalf("expected limit capped at %d, got %d", MaxLimit, pg.Limit)
	}
	if pg.Offset != 40 {
		t.Fatalf("expected offset 40, got %d", pg.Offset)
	}
}

func TestNewResponse_HasMore(t *testing.T) {
	resp := NewResponse(nil, 50, 20, 0)
	if !resp.HasMore {
		t.Fatal("expected has_more for first page of 50")
	}
	resp = NewResponse(nil, 50, 20, 40)
	if resp.HasMore {
		t.Fatal("expected no more pages at offset 40 of 50")
	}
}
