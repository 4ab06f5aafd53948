package capture

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"testing"
)

func TestTruncateBytes(t *testing.T) {
	t.Run("no_truncation_when_within_limit", func(t *testing.T) {
		input := []byte("hello world")
		out, truncated, origLen, hash := truncateBytes(input, len(input))

		if truncated {
			t.Fatalf("expected truncated=false, got true")
		}
		if origLen != len(input) {
			t.Fatalf("expected original size %d, got %d", len(input), origLen)
		}
		if hash != "" {
			t.Fatalf("expected empty hash, got %q", hash)
		}
		if string(out) != string(input) {
			t.Fatalf("expected output %q, got %q", string(input), string(out))
		}
	})

	t.Run("truncate_large_slice", func(t *testing.T) {
		input := []byte("hello world")
		maxBytes := 5
		expectedHash := sha256.Sum256(input)
		out, truncated, origLen, hash := truncateBytes(input, maxBytes)

		if !truncated {
			t.Fatalf("expected truncated=true, got false")
		}
		if origLen != len(input) {
			t.Fatalf("expected original size %d, got %d", len(input), origLen)
		}
		if string(out) != "hello" {
			t.Fatalf("expected output %q, got %q", "hello", string(out))
		}
		if hash != hex.EncodeToString(expectedHash[:]) {
			t.Fatalf("unexpected hash %q", hash)
		}
	})
}

func TestTruncateStringBytes(t *testing.T) {
	t.Run("delegates_to_shared_byte_truncator", func(t *testing.T) {
		input := "hello world"
		maxBytes := 5
		expected, expectedTruncated, expectedLen, expectedHash := truncateBytes([]byte(input), maxBytes)

		out, truncated, origLen, hash := truncateStringBytes(input, maxBytes)

		if out != string(expected) {
			t.Fatalf("expected output %q, got %q", string(expected), out)
		}
		if truncated != expectedTruncated {
			t.Fatalf("expected truncated=%v, got %v", expectedTruncated, truncated)
		}
		if origLen != expectedLen {
			t.Fatalf("expected original size %d, got %d", expectedLen, origLen)
		}
		if hash != expectedHash {
			t.Fatalf("expected hash %q, got %q", expectedHash, hash)
		}
	})

	t.Run("non_ascii_is_truncated_by_bytes", func(t *testing.T) {
		input := "😀😀" // each rune is 4 bytes
		out, _, _, _ := truncateStringBytes(input, 5)
		if len([]byte(out)) != 5 {
			t.Fatalf("expected byte length 5, got %d", len([]byte(out)))
		}
	})
}

func TestTruncateText(t *testing.T) {
	t.Run("drops_partial_rune", func(t *testing.T) {
		out, truncated, size, _ := truncateText([]byte("ab😀"), 4)
		if !truncated {
			t.Fatalf("expected truncated=true")
		}
		if out != "ab" {
			t.Fatalf("expected %q, got %q", "ab", out)
		}
		if size != 6 {
			t.Fatalf("expected original size 6, got %d", size)
		}
	})
}

func TestTruncateURL(t *testing.T) {
	long := "https://x.test/" + strings.Repeat("a", 3000)
	if got := truncateURL(long, 2000); len([]rune(got)) != 2000 {
		t.Fatalf("expected 2000 chars, got %d", len([]rune(got)))
	}
	if got := truncateURL("https://x.test/a", 2000); got != "https://x.test/a" {
		t.Fatalf("short url changed: %q", got)
	}
}

func TestTruncateHeaders(t *testing.T) {
	small := map[string]string{"Accept": "application/json"}
	out, truncated := truncateHeaders(small, 2048)
	if truncated || len(out) != 1 {
		t.Fatalf("expected small headers untouched, got %v truncated=%v", out, truncated)
	}

	big := map[string]string{
		"A-Header": "short",
		"B-Header": strings.Repeat("x", 3000),
		"C-Header": "also short",
	}
	out, truncated = truncateHeaders(big, 2048)
	if !truncated {
		t.Fatalf("expected truncated=true")
	}
	if _, ok := out["B-Header"]; ok {
		t.Fatalf("oversized header should be dropped")
	}
	if out["A-Header"] != "short" || out["C-Header"] != "also short" {
		t.Fatalf("expected small headers kept, got %v", out)
	}
}
