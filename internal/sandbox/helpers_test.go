package sandbox

import "testing"

func TestParseResizeLine(t *testing.T) {
	rows, cols, ok := parseResizeLine("resize:24:80")
	if !ok || rows != 24 || cols != 80 {
		t.Fatalf("parseResizeLine = %d, %d, %v, want 24, 80, true", rows, cols, ok)
	}
}

func TestParseResizeLineTrimsWhitespace(t *testing.T) {
	rows, cols, ok := parseResizeLine("  resize:10:20  \n")
	if !ok || rows != 10 || cols != 20 {
		t.Fatalf("parseResizeLine = %d, %d, %v", rows, cols, ok)
	}
}

func TestParseResizeLineRejectsOtherPrefixes(t *testing.T) {
	if _, _, ok := parseResizeLine("hello world"); ok {
		t.Fatal("expected ok=false for non-resize line")
	}
}

func TestParseResizeLineRejectsMalformedNumbers(t *testing.T) {
	cases := []string{"resize:abc:80", "resize:24:xyz", "resize:24", "resize:24:80:1"}
	for _, c := range cases {
		if _, _, ok := parseResizeLine(c); ok {
			t.Errorf("parseResizeLine(%q) ok = true, want false", c)
		}
	}
}

func TestToUTF8LossyPassesValidUTF8Through(t *testing.T) {
	in := []byte("hello world")
	if got := toUTF8Lossy(in); got != "hello world" {
		t.Fatalf("toUTF8Lossy = %q", got)
	}
}

func TestToUTF8LossyReplacesInvalidBytes(t *testing.T) {
	in := []byte{'o', 'k', 0xff, 0xfe, 'd', 'o', 'n', 'e'}
	got := toUTF8Lossy(in)
	if got[:2] != "ok" || got[len(got)-4:] != "done" {
		t.Fatalf("toUTF8Lossy = %q, want ok...done with replacement runes in between", got)
	}
}

func TestIfaceNamesShortID(t *testing.T) {
	host, ns := ifaceNames("ab")
	if host != "vethh-ab" || ns != "vethn-ab" {
		t.Fatalf("ifaceNames(short) = %q, %q", host, ns)
	}
}

func TestIfaceNamesTruncatesAndStripsDashes(t *testing.T) {
	host, ns := ifaceNames("aaaa1111-bbbb-2222-cccc-333333333333")
	if host != "vethh-aaaa1111" {
		t.Fatalf("host = %q, want vethh-aaaa1111", host)
	}
	if ns != "vethn-aaaa1111" {
		t.Fatalf("ns = %q, want vethn-aaaa1111", ns)
	}
}

func TestShortID(t *testing.T) {
	if got := shortID("aaaa1111-bbbb-2222-cccc-333333333333"); got != "aaaa1111" {
		t.Fatalf("shortID = %q, want aaaa1111", got)
	}
	if got := shortID("ab"); got != "ab" {
		t.Fatalf("shortID(short) = %q, want ab", got)
	}
}

func TestUnderWorkspaceRoot(t *testing.T) {
	root := "/var/lib/cmux/sandboxes"
	cases := []struct {
		workspace string
		want      bool
	}{
		{"/var/lib/cmux/sandboxes/abc/workspace", true},
		{"/var/lib/cmux/sandboxes", true},
		{"/var/lib/other/workspace", false},
		{"/var/lib/cmux/sandboxes-evil/workspace", false},
	}
	for _, c := range cases {
		if got := underWorkspaceRoot(root, c.workspace); got != c.want {
			t.Errorf("underWorkspaceRoot(%q) = %v, want %v", c.workspace, got, c.want)
		}
	}
}
