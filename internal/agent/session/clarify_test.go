package session

import "testing"

func TestIsClarificationRequest(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"I need more information about the node", true},
		{"COULD YOU paste the logs", true},
		{"Can you provide the deployment name?", true},
		{"could you", true},
		{"The pod is OOMKilled; raise the memory limit", false},
		{"Can you restart it", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsClarificationRequest(tt.text); got != tt.want {
			t.Errorf("IsClarificationRequest(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}
