package model

import (
	"errors"
	"fmt"
	"testing"
)

func TestAPIError_Error(t *testing.T) {
	err := NewEntryNotFoundError("abc")
	want := "[ENTRY_NOT_FOUND] 指定されたエントリが見つかりません: abc"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestAPIError_IsMatchesByCode(t *testing.T) {
	wrapped := fmt.Errorf("エントリの更新に失敗しました: %w", NewEntryNotFoundError("abc"))

	if !errors.Is(wrapped, ErrEntryNotFound) {
		t.Error("errors.Is(wrapped, ErrEntryNotFound) = false, want true")
	}
	if errors.Is(wrapped, ErrStoreWriteFailed) {
		t.Error("errors.Is(wrapped, ErrStoreWriteFailed) = true, want false")
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		in      string
		wantErr bool
	}{
		{"2025-03-08", false},
		{"2025-3-8", true},
		{"03/08/2025", true},
		{"", true},
		{"2025-02-30", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			_, err := ParseDate(tt.in)
			if (err != nil) != tt.wantErr {
				t.Errorf("ParseDate(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
		})
	}
}

func TestCandidate_Label(t *testing.T) {
	c := Candidate{Title: "Alien", ReleaseDate: "1979-05-25"}
	if got := c.Label(); got != "Alien (1979)" {
		t.Errorf("Label() = %q, want %q", got, "Alien (1979)")
	}
	c.ReleaseDate = ""
	if got := c.Label(); got != "Alien" {
		t.Errorf("Label() = %q, want %q", got, "Alien")
	}
}

func TestDateLabel(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"2026-10-17", "October 17, 2026"},
		{"2025-03-08", "March 8, 2025"},
		{"not-a-date", "not-a-date"},
	}
	for _, tt := range tests {
		if got := DateLabel(tt.in); got != tt.want {
			t.Errorf("DateLabel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
