package cli

import (
	"strings"
	"testing"

	"batchqa/internal/tracker"
)

func TestNormalizeSubmitInput(t *testing.T) {
	t.Parallel()

	files, prompts, err := normalizeSubmitInput([]string{" f1 ", "", "f2"}, []string{"  what?  ", " "})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if len(files) != 2 || files[0] != "f1" || files[1] != "f2" {
		t.Fatalf("expected [f1 f2], got %v", files)
	}
	if len(prompts) != 1 || prompts[0] != "what?" {
		t.Fatalf("expected [what?], got %v", prompts)
	}

	if _, _, err := normalizeSubmitInput([]string{" "}, []string{"q"}); err == nil || !strings.Contains(err.Error(), "--file") {
		t.Fatalf("expected missing file error, got %v", err)
	}
	if _, _, err := normalizeSubmitInput([]string{"f1"}, nil); err == nil || !strings.Contains(err.Error(), "--prompt") {
		t.Fatalf("expected missing prompt error, got %v", err)
	}
}

func TestProgressLine(t *testing.T) {
	t.Parallel()
	done, total := 1, 4
	r := tracker.Request{
		ID:             "abcdef0123456789",
		Status:         tracker.StatusProcessing,
		Progress:       50,
		FileIDs:        []string{"a", "b", "c", "d"},
		CompletedFiles: &done,
		TotalFiles:     &total,
	}
	line := progressLine(r)
	if !strings.HasPrefix(line, "abcdef01 [##########..........]") {
		t.Fatalf("unexpected bar: %q", line)
	}
	if !strings.Contains(line, " 50% 1/4 files  processing") {
		t.Fatalf("unexpected counters: %q", line)
	}

	r.Progress = 130
	if !strings.Contains(progressLine(r), "[####################]") {
		t.Fatalf("expected full bar when progress overflows, got %q", progressLine(r))
	}
}
