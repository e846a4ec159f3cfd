package discord

import (
	"slices"

	"github.com/bwmarrin/discordgo"
)

// gmCommands are the chat commands reserved for the GM role.
var gmCommands = []string{"gm", "ungm", "combat", "drop"}

// PermissionChecker decides who may run GM commands.
type PermissionChecker struct {
	gmRoleID string
}

// NewPermissionChecker returns a checker for the given role. An empty role
// lets everyone act as GM.
func NewPermissionChecker(gmRoleID string) *PermissionChecker {
	return &PermissionChecker{gmRoleID: gmRoleID}
}

// IsGM reports whether member holds the GM role. A nil member, as in
// direct messages, is never a GM unless no role is configured.
func (p *PermissionChecker) IsGM(member *discordgo.Member) bool {
	if p.gmRoleID == "" {
		return true
	}
	if member == nil {
		return false
	}
	return slices.Contains(member.Roles, p.gmRoleID)
}

// Allowed reports whether member may run the chat command named command.
func (p *PermissionChecker) Allowed(member *discordgo.Member, command string) bool {
	if !slices.Contains(gmCommands, command) {
		return true
	}
	return p.IsGM(member)
}
