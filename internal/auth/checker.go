package auth

import (
	"fmt"
	"slices"

	"github.com/bwmarrin/discordgo"
)

// RoleChecker decides whether a guild member holds the configured
// moderator role.
type RoleChecker struct {
	authRoleID string
}

// NewRoleChecker creates a new RoleChecker. It requires a non-empty role ID.
func NewRoleChecker(authRoleID string) (*RoleChecker, error) {
	if authRoleID == "" {
		return nil, fmt.Errorf("auth role ID cannot be empty")
	}
	return &RoleChecker{authRoleID: authRoleID}, nil
}

// IsAuthorized reports whether the member carries the moderator role.
// A nil member (e.g. a DM author) is never authorized.
func (c *RoleChecker) IsAuthorized(member *discordgo.Member) bool {
	if member == nil {
		return false
	}
	return slices.Contains(member.Roles, c.authRoleID)
}
