package discord

import (
	"testing"

	"github.com/bwmarrin/discordgo"
)

func TestPermissionChecker(t *testing.T) {
	t.Parallel()

	gm := &discordgo.Member{Roles: []string{"role-456", "role-123"}}
	player := &discordgo.Member{Roles: []string{"role-456"}}

	tests := []struct {
		name    string
		roleID  string
		member  *discordgo.Member
		command string
		want    bool
	}{
		{"gm runs gm", "role-123", gm, "gm", true},
		{"player runs gm", "role-123", player, "gm", false},
		{"player runs combat", "role-123", player, "combat", false},
		{"player runs drop", "role-123", player, "drop", false},
		{"player runs hello", "role-123", player, "hello", true},
		{"dm has no member", "role-123", nil, "ungm", false},
		{"dm runs lookup", "role-123", nil, "lookup", true},
		{"no role configured", "", nil, "combat", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p := NewPermissionChecker(tt.roleID)
			if got := p.Allowed(tt.member, tt.command); got != tt.want {
				t.Errorf("Allowed(%q) = %v, want %v", tt.command, got, tt.want)
			}
		})
	}
}
