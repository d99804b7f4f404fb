package outbound

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitMessage_ShortTextUnchanged(t *testing.T) {
	got := SplitMessage("  hello  ", 100)
	if len(got) != 1 || got[0] != "  hello  " {
		t.Errorf("SplitMessage() = %q, want the input untouched", got)
	}
}

func TestSplitMessage_HardCut(t *testing.T) {
	text := strings.Repeat("x", 9000)
	got := SplitMessage(text, 4000)
	if len(got) != 3 {
		t.Fatalf("got %d chunks, want 3", len(got))
	}
	for i, want := range []int{4000, 4000, 1000} {
		if len(got[i]) != want {
			t.Errorf("chunk %d len = %d, want %d", i, len(got[i]), want)
		}
	}
}

func TestSplitMessage_PrefersParagraph(t *testing.T) {
	a := strings.Repeat("a", 50)
	b := strings.Repeat("b", 30)
	text := a + "\nline\n\n" + b + " " + strings.Repeat("c", 40)
	got := SplitMessage(text, 100)
	if len(got) != 2 {
		t.Fatalf("got %d chunks: %q", len(got), got)
	}
	if got[0] != a+"\nline" {
		t.Errorf("chunk 0 = %q, want break at the paragraph", got[0])
	}
}

func TestSplitMessage_FallsBackToNewlineThenSpace(t *testing.T) {
	text := strings.Repeat("a", 40) + "\n" + strings.Repeat("b", 80)
	got := SplitMessage(text, 100)
	if got[0] != strings.Repeat("a", 40) {
		t.Errorf("newline break: chunk 0 = %q", got[0])
	}

	text = strings.Repeat("a", 40) + " " + strings.Repeat("b", 80)
	got = SplitMessage(text, 100)
	if got[0] != strings.Repeat("a", 40) {
		t.Errorf("space break: chunk 0 = %q", got[0])
	}

	// A break point before 30% of the limit is too small: hard cut instead.
	text = strings.Repeat("a", 20) + " " + strings.Repeat("b", 100)
	got = SplitMessage(text, 100)
	if utf8.RuneCountInString(got[0]) != 100 {
		t.Errorf("early space: chunk 0 len = %d, want hard cut at 100", len(got[0]))
	}
}

func TestSplitMessage_BreaksBeforeFence(t *testing.T) {
	words := strings.TrimSpace(strings.Repeat("word ", 10))
	block := "```\n" + strings.Repeat("0123456789\n", 10) + "```"
	text := words + "\n" + block
	got := SplitMessage(text, 100)

	if len(got) != 2 {
		t.Fatalf("got %d chunks: %q", len(got), got)
	}
	if got[0] != words {
		t.Errorf("chunk 0 = %q, want the prose before the fence", got[0])
	}
	if got[1] != block {
		t.Errorf("chunk 1 = %q, want the whole fenced block", got[1])
	}
}

func TestSplitMessage_KeepsFenceWholeWhenOpeningEarly(t *testing.T) {
	block := "```go\n" + strings.Repeat("code line\n", 12) + "```\n"
	text := "short\n" + block + "after the block"
	got := SplitMessage(text, 100)

	if len(got) != 2 {
		t.Fatalf("got %d chunks: %q", len(got), got)
	}
	if got[0] != strings.TrimSpace("short\n"+block) {
		t.Errorf("chunk 0 = %q, want prose plus the complete block", got[0])
	}
	if got[1] != "after the block" {
		t.Errorf("chunk 1 = %q", got[1])
	}
}

func TestSplitMessage_UnterminatedFenceHardCuts(t *testing.T) {
	text := "```\n" + strings.Repeat("y", 300)
	got := SplitMessage(text, 100)
	for i, c := range got {
		if n := utf8.RuneCountInString(c); n > 100 {
			t.Errorf("chunk %d len = %d > 100", i, n)
		}
	}
}

func TestSplitMessage_CountsRunes(t *testing.T) {
	text := strings.Repeat("é", 250)
	got := SplitMessage(text, 100)
	if len(got) != 3 {
		t.Fatalf("got %d chunks, want 3", len(got))
	}
	if n := utf8.RuneCountInString(got[0]); n != 100 {
		t.Errorf("chunk 0 = %d runes, want 100", n)
	}
}

func TestSplitMessage_PreservesWordsAndBounds(t *testing.T) {
	for _, maxLen := range []int{50, 97, 200} {
		var b strings.Builder
		for i := 0; i < 300; i++ {
			fmt.Fprintf(&b, "w%d", i)
			switch {
			case i%17 == 0:
				b.WriteString("\n\n")
			case i%5 == 0:
				b.WriteString("\n")
			default:
				b.WriteString(" ")
			}
		}
		text := b.String()
		chunks := SplitMessage(text, maxLen)

		for i, c := range chunks {
			if n := utf8.RuneCountInString(c); n > maxLen {
				t.Errorf("max %d: chunk %d len %d", maxLen, i, n)
			}
		}
		got := strings.Fields(strings.Join(chunks, " "))
		want := strings.Fields(text)
		if strings.Join(got, " ") != strings.Join(want, " ") {
			t.Errorf("max %d: words changed after split", maxLen)
		}
	}
}

func TestSplitMessage_FencesStayBalanced(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 6; i++ {
		fmt.Fprintf(&b, "Paragraph %d explains the next snippet in a few words.\n\n", i)
		b.WriteString("```\n")
		for j := 0; j < 4+i; j++ {
			fmt.Fprintf(&b, "line %d of block %d\n", j, i)
		}
		b.WriteString("```\n\n")
	}
	for _, c := range SplitMessage(b.String(), 120) {
		if strings.Count(c, "```")%2 != 0 {
			t.Errorf("chunk splits a fenced block:\n%s", c)
		}
	}
}
