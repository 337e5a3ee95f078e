package channel

import "testing"

func TestBaseChannel_IsAllowed(t *testing.T) {
	cases := []struct {
		name      string
		allowList []string
		senderID  string
		want      bool
	}{
		{"empty list allows everyone", nil, "123", true},
		{"exact match", []string{"123"}, "123", true},
		{"no match", []string{"123"}, "456", false},
		{"at-prefix trimmed", []string{"@alice"}, "alice", true},
		{"composite id part", []string{"123"}, "123|alice", true},
		{"composite user part", []string{"alice"}, "123|alice", true},
		{"composite no match", []string{"bob"}, "123|alice", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			allowList := make(map[string]bool)
			for _, id := range tc.allowList {
				allowList[id] = true
			}
			b := &BaseChannel{AllowList: allowList}
			if got := b.IsAllowed(tc.senderID); got != tc.want {
				t.Errorf("IsAllowed(%q) = %v, want %v", tc.senderID, got, tc.want)
			}
		})
	}
}
