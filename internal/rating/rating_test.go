package rating

import (
	"math"
	"testing"
)

func approxEqual(a, b, tolerance float64) bool {
	return math.Abs(a-b) <= tolerance
}

func TestWinProbabilityEvenMatch(t *testing.T) {
	p := winProbability(1600, 1600)
	if !approxEqual(p, 0.5, 1e-9) {
		t.Fatalf("expected 0.5 for equal ratings, got %v", p)
	}
}

func TestWinProbabilityFavorsHigherRating(t *testing.T) {
	p := winProbability(2000, 1600)
	if p <= 0.5 {
		t.Fatalf("expected higher-rated player to have >50%% win probability, got %v", p)
	}
}

func TestCalcDeltaSymmetricAtEvenOdds(t *testing.T) {
	dw, dl := calcDelta(1600, 1600, 32)
	if dw != 16 {
		t.Errorf("expected winner delta of 16 at even odds, got %v", dw)
	}
	if dl != -16 {
		t.Errorf("expected loser delta of -16 at even odds, got %v", dl)
	}
}

func TestCalcDeltaMatchesWorkedExample(t *testing.T) {
	// winners avg 1700, losers avg 1500, K=32: E_w ~= 0.7597, Delta_w=+24, Delta_l=-24.
	dw, dl := calcDelta(1700, 1500, 32)
	if dw != 24 {
		t.Errorf("expected winner delta of 24, got %v", dw)
	}
	if dl != -24 {
		t.Errorf("expected loser delta of -24, got %v", dl)
	}
}

func TestCalcDeltaFavoriteGainsMoreThanUnderdog(t *testing.T) {
	favoriteWin, _ := calcDelta(2000, 1200, 32)
	underdogWin, _ := calcDelta(1200, 2000, 32)
	if favoriteWin <= underdogWin {
		t.Fatalf("expected a favored winner's gain (%v) to exceed an underdog's gain (%v)", favoriteWin, underdogWin)
	}
}

func TestHasDuplicateNameHash(t *testing.T) {
	a := &playerRecord{nameHash: "aaa"}
	b := &playerRecord{nameHash: "aaa"}
	c := &playerRecord{nameHash: "bbb"}

	if !hasDuplicateNameHash([]*playerRecord{a, b}) {
		t.Error("expected duplicate name hashes to be detected")
	}
	if hasDuplicateNameHash([]*playerRecord{a, c}) {
		t.Error("did not expect distinct name hashes to be flagged as duplicate")
	}
}

func TestUpdateGameRatingsSkipsOnDuplicateLineup(t *testing.T) {
	e := New(nil, 32, 900000, 1000, nil)
	dup := &playerRecord{nameHash: "same", rating: 1600}
	dup2 := &playerRecord{nameHash: "same", rating: 1600}
	loser := &playerRecord{nameHash: "loser", rating: 1600}

	col := map[string]*playerRecord{"same": dup, "loser": loser}
	e.updateGameRatings(col, []*playerRecord{dup, dup2}, []*playerRecord{loser})

	if dup.total != 0 {
		t.Fatalf("expected no rating change when winners contain a duplicate name hash, got total=%d", dup.total)
	}
}

func TestUpdateGameRatingsAppliesSymmetricDelta(t *testing.T) {
	e := New(nil, 32, 900000, 1000, nil)
	winner := &playerRecord{nameHash: "w", rating: 1600, highest: 1600, lowest: 1600}
	loser := &playerRecord{nameHash: "l", rating: 1600, highest: 1600, lowest: 1600}

	col := map[string]*playerRecord{"w": winner, "l": loser}
	e.updateGameRatings(col, []*playerRecord{winner}, []*playerRecord{loser})

	if winner.rating != 1616 {
		t.Errorf("expected winner rating 1616, got %v", winner.rating)
	}
	if loser.rating != 1584 {
		t.Errorf("expected loser rating 1584, got %v", loser.rating)
	}
	if winner.wins != 1 || winner.total != 1 {
		t.Errorf("expected winner wins/total incremented, got wins=%d total=%d", winner.wins, winner.total)
	}
	if loser.streak != 0 {
		t.Errorf("expected loser streak reset to 0, got %d", loser.streak)
	}
	if winner.streak != 1 {
		t.Errorf("expected winner streak incremented to 1, got %d", winner.streak)
	}
}
