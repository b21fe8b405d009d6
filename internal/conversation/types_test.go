package conversation

import "testing"

func TestTierValid(t *testing.T) {
	tests := []struct {
		tier Tier
		want bool
	}{
		{TierFree, true},
		{TierPlus, true},
		{TierPro, true},
		{Tier(""), false},
		{Tier("platinum"), false},
	}
	for _, tt := range tests {
		if got := tt.tier.Valid(); got != tt.want {
			t.Errorf("Tier(%q).Valid() = %v, want %v", tt.tier, got, tt.want)
		}
	}
}

func TestFeedbackLabelValid(t *testing.T) {
	for _, l := range []FeedbackLabel{FeedbackHelpful, FeedbackTooLong, FeedbackTooShort, FeedbackOffTopic} {
		if !l.Valid() {
			t.Errorf("FeedbackLabel(%q).Valid() = false, want true", l)
		}
	}
	if FeedbackLabel("meh").Valid() {
		t.Error(`FeedbackLabel("meh").Valid() = true, want false`)
	}
}

func TestOrEmptyMap(t *testing.T) {
	if m := orEmptyMap(nil); m == nil || len(m) != 0 {
		t.Errorf("orEmptyMap(nil) = %v, want empty map", m)
	}
	in := map[string]any{"k": "v"}
	if m := orEmptyMap(in); len(m) != 1 {
		t.Errorf("orEmptyMap(%v) = %v, want unchanged", in, m)
	}
}
