package sanitize

import (
	"html"
	"strings"
	"testing"

	"mealscan-gateway/internal/nutrition"
)

func TestTextStripsMarkup(t *testing.T) {
	cases := map[string]string{
		"Grilled chicken":                          "Grilled chicken",
		"<b>Rice</b>":                              "Rice",
		"<script>alert(1)</script>Salad":           "Salad",
		`<img src=x onerror="alert(1)">Apple`:      "Apple",
		"Mac &amp; cheese":                         "Mac & cheese",
		"  Beans \n\t on   toast ":                 "Beans on toast",
		"Soup\x00\x07":                             "Soup",
		"&lt;script&gt;alert(1)&lt;/script&gt;Pie": "Pie",
	}

	for in, want := range cases {
		if got := Text(in); got != want {
			t.Errorf("Text(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTextIdempotent(t *testing.T) {
	inputs := []string{
		"",
		"Fish & chips",
		"<p>Pasta <i>al dente</i></p>",
		"&amp;amp;lt;b&amp;amp;gt;x",
		"Café au lait",
		"a < b > c",
	}
	for _, in := range inputs {
		once := Text(in)
		if twice := Text(once); twice != once {
			t.Errorf("not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}

func TestTextDeeplyEscapedMarkup(t *testing.T) {
	const raw = "<script>alert(1)</script>Pie"
	for _, depth := range []int{maxPasses, maxPasses + 1, 3 * maxPasses} {
		in := raw
		for i := 0; i < depth; i++ {
			in = html.EscapeString(in)
		}

		once := Text(in)
		if strings.ContainsAny(once, "<>") {
			t.Fatalf("depth %d: markup survived: %q", depth, once)
		}
		if twice := Text(once); twice != once {
			t.Fatalf("depth %d: not idempotent: %q then %q", depth, once, twice)
		}
		if depth == maxPasses && once != "Pie" {
			t.Fatalf("depth %d: got %q, want %q", depth, once, "Pie")
		}
	}
}

func TestResultSanitizesAllTextFields(t *testing.T) {
	r := &nutrition.Result{
		Items: []nutrition.Item{{Name: "<b>Toast</b>", Unit: "<i>slice</i>"}},
		Notes: "<script>steal()</script>looks tasty",
	}
	Result(r)

	if r.Items[0].Name != "Toast" || r.Items[0].Unit != "slice" {
		t.Fatalf("item not sanitized: %#v", r.Items[0])
	}
	if strings.Contains(r.Notes, "steal") || r.Notes != "looks tasty" {
		t.Fatalf("notes not sanitized: %q", r.Notes)
	}

	Result(nil)
}
