package chunker

import (
	"errors"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/WessleyAI/regcheck/engine/classify"
	"github.com/WessleyAI/regcheck/engine/domain"
)

var corpusWords = []string{
	"controller", "processor", "shall", "ensure", "personal", "data", "is", "encrypted",
	"at", "rest", "and", "in", "transit", "records", "retention", "period", "seven",
	"years", "access", "logs", "audit", "breach", "notification", "within", "72", "hours",
}

func genText(rng *rand.Rand, words int) string {
	var b strings.Builder
	for i := 0; i < words; i++ {
		b.WriteString(corpusWords[rng.Intn(len(corpusWords))])
		switch {
		case i%41 == 40:
			b.WriteString(".\n\n")
		case i%17 == 16:
			b.WriteString(". ")
		case i%7 == 6:
			b.WriteString(", ")
		default:
			b.WriteString(" ")
		}
	}
	return b.String()
}

func checkSegments(t *testing.T, text string, segs []Segment, size, overlap int, c Counter) {
	t.Helper()
	if len(segs) == 0 {
		t.Fatal("no segments")
	}
	if segs[0].Start != 0 || segs[len(segs)-1].End != len(text) {
		t.Fatalf("segments do not span input: [%d,%d) of %d", segs[0].Start, segs[len(segs)-1].End, len(text))
	}
	for i, s := range segs {
		if s.Text != text[s.Start:s.End] {
			t.Fatalf("segment %d text does not match its offsets", i)
		}
		if n := c.Count(s.Text); n > size {
			t.Fatalf("segment %d has %d tokens > %d", i, n, size)
		}
		if i == 0 {
			continue
		}
		prev := segs[i-1]
		if s.Start > prev.End {
			t.Fatalf("gap between segments %d and %d", i-1, i)
		}
		if s.Start <= prev.Start || s.End <= prev.End {
			t.Fatalf("segment %d does not advance", i)
		}
		shared := text[s.Start:prev.End]
		if n := c.Count(shared); n > overlap {
			t.Fatalf("overlap %d..%d has %d tokens > %d", i-1, i, n, overlap)
		}
		if overlap > 0 && shared == "" {
			t.Fatalf("segments %d and %d do not overlap", i-1, i)
		}
	}
}

func TestSplitCoverageAndOverlap(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	sizes := []struct{ size, overlap int }{
		{50, 10}, {40, 39}, {100, 20}, {25, 1}, {300, 60},
	}
	for _, sz := range sizes {
		sp, err := NewSplitter(sz.size, sz.overlap, HeuristicCounter{}, nil)
		if err != nil {
			t.Fatalf("NewSplitter(%d,%d): %v", sz.size, sz.overlap, err)
		}
		for trial := 0; trial < 5; trial++ {
			text := genText(rng, 200+rng.Intn(800))
			checkSegments(t, text, sp.Split(text), sz.size, sz.overlap, HeuristicCounter{})
		}
	}
}

func TestSplitNoOverlap(t *testing.T) {
	sp, _ := NewSplitter(30, 0, nil, nil)
	text := genText(rand.New(rand.NewSource(1)), 300)
	segs := sp.Split(text)
	for i := 1; i < len(segs); i++ {
		if (HeuristicCounter{}).Count(text[segs[i].Start:segs[i-1].End]) != 0 {
			t.Fatalf("zero overlap configured but segments %d,%d share tokens", i-1, i)
		}
	}
}

func TestSplitPathological(t *testing.T) {
	sp, _ := NewSplitter(20, 5, HeuristicCounter{}, nil)
	text := strings.Repeat("x", 2000)
	segs := sp.Split(text)
	if len(segs) < 2 {
		t.Fatalf("expected many segments, got %d", len(segs))
	}
	checkSegments(t, text, segs, 20, 5, HeuristicCounter{})
}

func TestSplitShortAndEmpty(t *testing.T) {
	sp, _ := NewSplitter(1000, 200, nil, nil)
	if segs := sp.Split("   \n "); segs != nil {
		t.Errorf("blank input should give no segments, got %d", len(segs))
	}
	segs := sp.Split("Section 1: All data must be encrypted.")
	if len(segs) != 1 {
		t.Fatalf("short text should give one segment, got %d", len(segs))
	}
}

func TestSplitPrefersParagraphs(t *testing.T) {
	para := strings.TrimSpace(strings.Repeat("alpha beta gamma delta. ", 6))
	text := para + "\n\n" + para + "\n\n" + para
	n := HeuristicCounter{}.Count(para + "\n\n")
	sp, _ := NewSplitter(n+2, 2, nil, nil)
	segs := sp.Split(text)
	if !strings.HasSuffix(segs[0].Text, "\n\n") {
		t.Errorf("first segment should end on a paragraph break: %q", segs[0].Text)
	}
}

func TestOptionsValidate(t *testing.T) {
	cases := []struct {
		size, overlap int
		ok            bool
	}{
		{1000, 200, true},
		{10, 0, true},
		{10, 10, false},
		{10, 11, false},
		{0, 0, false},
		{10, -1, false},
	}
	for _, tc := range cases {
		err := Options{ChunkSize: tc.size, Overlap: tc.overlap}.Validate()
		if (err == nil) != tc.ok {
			t.Errorf("Validate(%d,%d) = %v", tc.size, tc.overlap, err)
		}
		if err != nil && !errors.Is(err, domain.ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	}
	if _, err := New(Options{ChunkSize: 100, Overlap: 100}, nil); err == nil {
		t.Error("New should reject overlap >= chunk size")
	}
}

func TestClean(t *testing.T) {
	got := Clean("  Hello,\n\n  world! $%^ (ok) — über\t")
	if got != "Hello, world! (ok) über" {
		t.Errorf("Clean = %q", got)
	}
	if Clean("[]{}") != "" {
		t.Error("only disallowed characters should clean to empty")
	}
}

func TestAssemble(t *testing.T) {
	got := Assemble(domain.PageText{2: "B  b", 1: "A", 3: " \n "})
	want := "[PAGE 1]\nA\n\n[PAGE 2]\nB b"
	if got != want {
		t.Errorf("Assemble = %q, want %q", got, want)
	}
}

func twoPageDoc() (domain.SourceDocument, string) {
	pages := domain.PageText{
		1: "Section 1: All data must be encrypted.",
		2: "Section 2: Access logs must be retained for 7 years.",
	}
	doc := domain.NewSourceDocument("/corpus/policy.pdf", []byte("pdf-bytes"))
	return doc, Assemble(pages)
}

func TestChunkOnePerPage(t *testing.T) {
	ck, err := New(DefaultOptions(), classify.New(nil))
	if err != nil {
		t.Fatal(err)
	}
	doc, text := twoPageDoc()
	chunks := ck.Chunk(doc, text)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if c.PageNumber == nil || *c.PageNumber != i+1 {
			t.Errorf("chunk %d page = %v", i, c.PageNumber)
		}
		if c.Type != domain.ChunkRegulatoryRule {
			t.Errorf("chunk %d type = %s", i, c.Type)
		}
		if c.Index != i || c.DocumentName != "corpus/policy.pdf" || c.SourceFileHash != doc.Hash {
			t.Errorf("chunk %d metadata wrong: %+v", i, c)
		}
		if strings.Contains(c.Content, "[PAGE") {
			t.Errorf("page marker leaked into content: %q", c.Content)
		}
	}
	if chunks[0].Content != "Section 1: All data must be encrypted." {
		t.Errorf("content = %q", chunks[0].Content)
	}
	if chunks[1].WordCount != 10 {
		t.Errorf("word count = %d", chunks[1].WordCount)
	}
}

func TestChunkIDsStable(t *testing.T) {
	ck, _ := New(DefaultOptions(), nil)
	ck.now = func() time.Time { return time.Unix(0, 0) }
	doc, text := twoPageDoc()
	a := ck.Chunk(doc, text)
	b := ck.Chunk(doc, text)
	for i := range a {
		if a[i].ID != b[i].ID {
			t.Errorf("chunk %d id changed: %s vs %s", i, a[i].ID, b[i].ID)
		}
	}

	changed := strings.Replace(text, "7 years", "10 years", 1)
	c := ck.Chunk(doc, changed)
	if c[0].ID != a[0].ID {
		t.Error("unchanged page should keep its id")
	}
	if c[1].ID == a[1].ID {
		t.Error("changed content should change the id")
	}
}

func TestChunkWithoutMarkers(t *testing.T) {
	ck, _ := New(Options{ChunkSize: 20, Overlap: 5}, nil)
	doc := domain.NewSourceDocument("notes.txt", nil)
	text := Clean(genText(rand.New(rand.NewSource(3)), 120))
	chunks := ck.Chunk(doc, text)
	if len(chunks) < 2 {
		t.Fatalf("expected several chunks, got %d", len(chunks))
	}
	for _, c := range chunks {
		if c.PageNumber != nil {
			t.Fatalf("unmarked text should have nil page, got %d", *c.PageNumber)
		}
		if c.Type != domain.ChunkGeneral {
			t.Fatalf("nil classifier should label general, got %s", c.Type)
		}
	}
}

func TestChunkEmpty(t *testing.T) {
	ck, _ := New(DefaultOptions(), nil)
	if got := ck.Chunk(domain.SourceDocument{Name: "x"}, ""); len(got) != 0 {
		t.Errorf("empty text should give no chunks, got %d", len(got))
	}
}

func TestSummarize(t *testing.T) {
	ck, _ := New(DefaultOptions(), classify.New(nil))
	doc, text := twoPageDoc()
	st := Summarize(ck.Chunk(doc, text))
	if st.TotalChunks != 2 || st.Pages != 2 || st.ByType[domain.ChunkRegulatoryRule] != 2 {
		t.Errorf("stats = %+v", st)
	}
	if st.AvgTokens <= 0 {
		t.Error("expected positive average")
	}
	if Summarize(nil).AvgTokens != 0 {
		t.Error("empty stats should have zero average")
	}
}

func TestHeuristicCounter(t *testing.T) {
	c := HeuristicCounter{}
	cases := map[string]int{
		"":               0,
		"a":              1,
		"data":           1,
		"encryption":     3,
		"Section 1: ok.": 6,
		"   ":            0,
		"über-alles":     4,
	}
	for in, want := range cases {
		if got := c.Count(in); got != want {
			t.Errorf("Count(%q) = %d, want %d", in, got, want)
		}
	}
}

func TestNewCounter(t *testing.T) {
	c, err := NewCounter("heuristic")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := c.(HeuristicCounter); !ok {
		t.Errorf("got %T", c)
	}
}
