package content

import (
	"strings"
	"testing"
)

func TestPlainTextStripsMarkup(t *testing.T) {
	t.Parallel()

	html := `
	<div class="post">
	  <h2>Launch   day</h2>
	  <script>track()</script>
	  <p>The <b>new</b> model ships
	  today.</p>
	  <style>.x{}</style>
	</div>`

	got := PlainText(html)
	if got != "Launch day The new model ships today." {
		t.Fatalf("unexpected text: %q", got)
	}
}

func TestPlainTextEmpty(t *testing.T) {
	t.Parallel()

	if got := PlainText("   "); got != "" {
		t.Fatalf("expected empty text, got %q", got)
	}
}

func TestExcerptCutsOnWordBoundary(t *testing.T) {
	t.Parallel()

	got := Excerpt("<p>alpha beta gamma delta</p>", 13)
	if got != "alpha beta…" {
		t.Fatalf("unexpected excerpt: %q", got)
	}
	if !strings.HasPrefix(Excerpt("<p>short</p>", 100), "short") {
		t.Fatalf("short input should not be truncated")
	}
}
