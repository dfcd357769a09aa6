package metadata

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/hitoshi/movienight/internal/model"
)

func pop(v float64) *float64 { return &v }

func TestRankCandidates_PopularityDescendingMissingLast(t *testing.T) {
	in := []model.Candidate{
		{ExternalID: 1, Popularity: nil},
		{ExternalID: 2, Popularity: pop(10)},
		{ExternalID: 3, Popularity: pop(50)},
		{ExternalID: 4, Popularity: nil},
		{ExternalID: 5, Popularity: pop(10)},
	}

	got := RankCandidates(in)

	ids := make([]int64, len(got))
	for i, c := range got {
		ids[i] = c.ExternalID
	}
	if diff := cmp.Diff([]int64{3, 2, 5, 1, 4}, ids); diff != "" {
		t.Errorf("RankCandidates order mismatch (-want +got):\n%s", diff)
	}
	if in[0].ExternalID != 1 {
		t.Error("RankCandidates は入力スライスを変更してはならない")
	}
}

func TestRankCandidates_Empty(t *testing.T) {
	if got := RankCandidates(nil); len(got) != 0 {
		t.Errorf("len = %d, want 0", len(got))
	}
}
