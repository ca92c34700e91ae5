package server

import (
	"context"
	"io"
	"net"
	"testing"

	"github.com/cmux/cmuxd/internal/backend"
	"github.com/cmux/cmuxd/internal/errs"
	"github.com/cmux/cmuxd/internal/mux"
)

// fakeBackend serves a fixed, in-memory summary list for exercising id
// resolution without a real sandbox lifecycle underneath.
type fakeBackend struct {
	summaries []backend.Summary
}

func (f *fakeBackend) Create(ctx context.Context, req backend.CreateRequest) (backend.Summary, error) {
	return backend.Summary{}, nil
}
func (f *fakeBackend) List(ctx context.Context) ([]backend.Summary, error) { return f.summaries, nil }
func (f *fakeBackend) Get(ctx context.Context, id string) (backend.Summary, bool) {
	for _, s := range f.summaries {
		if s.ID == id {
			return s, true
		}
	}
	return backend.Summary{}, false
}
func (f *fakeBackend) Exec(ctx context.Context, id string, req backend.ExecRequest) (backend.ExecResponse, error) {
	return backend.ExecResponse{}, nil
}
func (f *fakeBackend) Attach(ctx context.Context, id string, conn backend.WSConn, opts backend.AttachOptions) error {
	return nil
}
func (f *fakeBackend) Proxy(ctx context.Context, id string, port int, conn backend.WSConn) error {
	return nil
}
func (f *fakeBackend) UploadArchive(ctx context.Context, id string, body io.Reader) error { return nil }
func (f *fakeBackend) Delete(ctx context.Context, id string) (backend.Summary, bool, error) {
	return backend.Summary{}, false, nil
}
func (f *fakeBackend) PruneOrphaned(ctx context.Context, req backend.PruneRequest) (backend.PruneResponse, error) {
	return backend.PruneResponse{}, nil
}
func (f *fakeBackend) AwaitServicesReady(ctx context.Context, id string, req backend.AwaitRequest) (backend.AwaitResponse, error) {
	return backend.AwaitResponse{}, nil
}
func (f *fakeBackend) MuxAttach(ctx context.Context, conn net.Conn, hub *mux.Hub) error { return nil }

const (
	idAlpha = "aaaa1111-1111-1111-1111-111111111111"
	idBeta  = "bbbb2222-2222-2222-2222-222222222222"
)

func newTestServer() *Server {
	return &Server{Backend: &fakeBackend{summaries: []backend.Summary{
		{ID: idAlpha, Index: 0, Name: "alpha"},
		{ID: idBeta, Index: 1, Name: "beta"},
	}}}
}

func TestResolveIDFullUUID(t *testing.T) {
	s := newTestServer()
	id, err := resolveID(context.Background(), s, idAlpha)
	if err != nil || id != idAlpha {
		t.Fatalf("resolveID(%q) = %q, %v", idAlpha, id, err)
	}
}

func TestResolveIDUnknownUUID(t *testing.T) {
	s := newTestServer()
	_, err := resolveID(context.Background(), s, "99999999-9999-9999-9999-999999999999")
	if errs.KindOf(err) != errs.KindNotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestResolveIDByIndex(t *testing.T) {
	s := newTestServer()
	id, err := resolveID(context.Background(), s, "1")
	if err != nil || id != idBeta {
		t.Fatalf("resolveID(\"1\") = %q, %v, want %q", id, err, idBeta)
	}
}

func TestResolveIDByIndexNotFound(t *testing.T) {
	s := newTestServer()
	_, err := resolveID(context.Background(), s, "42")
	if errs.KindOf(err) != errs.KindNotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestResolveIDByHexPrefix(t *testing.T) {
	s := newTestServer()
	id, err := resolveID(context.Background(), s, "bbbb")
	if err != nil || id != idBeta {
		t.Fatalf("resolveID(\"bbbb\") = %q, %v, want %q", id, err, idBeta)
	}
}

func TestResolveIDAmbiguousPrefix(t *testing.T) {
	s := &Server{Backend: &fakeBackend{summaries: []backend.Summary{
		{ID: "aaaa1111-0000-0000-0000-000000000000"},
		{ID: "aaaa2222-0000-0000-0000-000000000000"},
	}}}
	_, err := resolveID(context.Background(), s, "aaaa")
	if errs.KindOf(err) != errs.KindInvalidRequest {
		t.Fatalf("expected InvalidRequest for ambiguous prefix, got %v", err)
	}
}

func TestResolveIDInvalidCharacters(t *testing.T) {
	s := newTestServer()
	_, err := resolveID(context.Background(), s, "not-hex-!!")
	if errs.KindOf(err) != errs.KindInvalidRequest {
		t.Fatalf("expected InvalidRequest, got %v", err)
	}
}

func TestIsHexPrefix(t *testing.T) {
	valid := []string{"a", "1234abcd", "AAAA", "aa-bb"}
	for _, v := range valid {
		if !isHexPrefix(v) {
			t.Errorf("isHexPrefix(%q) = false, want true", v)
		}
	}
	invalid := []string{"", "xyz", "12g4", "has space"}
	for _, v := range invalid {
		if isHexPrefix(v) {
			t.Errorf("isHexPrefix(%q) = true, want false", v)
		}
	}
}
