package library

import (
	"fmt"
	"strings"

	"wildfire_crew/internal/domain"
)

var roleBlurbs = map[domain.Role]string{
	domain.RoleFirefighter: "Firefighter agents are general purpose agents with decent speed and observation capabilities. They can move, cut trees, spray water, and rescue civilians.",
	domain.RoleBulldozer:   "Bulldozer agents are specialized agents with exceptional tree-cutting abilities but limited speed.",
	domain.RoleDrone:       "Drone agents are specialized recon agents with exceptional speed and observations.",
	domain.RoleHelicopter:  "Helicopter agents are general support agents with exceptional speed and observations. They can move, pick up and drop off Firefighter Agents, and deploy water.",
}

// Blurb is the one paragraph capability summary of a role used in team
// composition prompts.
func Blurb(role domain.Role) string {
	return roleBlurbs[role]
}

// Describe renders the option vocabulary of a role as prompt text.
func Describe(c Capability) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s Agent actions:\n", c.Role().Title())
	for _, entry := range c.Vocabulary() {
		fmt.Fprintf(&b, "    - type %d %s", int(entry.Kind), entry.Name)
		if entry.Params != "" {
			fmt.Fprintf(&b, " (params: %s)", entry.Params)
		}
		fmt.Fprintf(&b, ": %s\n", entry.Text)
	}
	return b.String()
}

// DescribeRole is Describe for a role looked up in the registry.
func DescribeRole(role domain.Role) string {
	c, err := For(role)
	if err != nil {
		return ""
	}
	return Describe(c)
}
