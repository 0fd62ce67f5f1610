package room

import (
	"fmt"
	"math/rand/v2"
)

// Member colours, assigned round-robin by join order
var Palette = []string{
	"#ef4444", "#f59e0b", "#10b981", "#3b82f6", "#8b5cf6",
	"#ec4899", "#14b8a6", "#f43f5e", "#22c55e", "#06b6d4",
}

// Picks a colour for the idx-th member. Colours repeat once membership
// exceeds the palette.
func GenerateColor(idx int) string {
	return colorFrom(Palette, idx)
}

func colorFrom(palette []string, idx int) string {
	if idx < 0 {
		idx = -idx
	}
	return palette[idx%len(palette)]
}

var animals = []string{"Fox", "Panda", "Otter", "Hawk", "Wolf", "Lion", "Tiger", "Falcon"}

// Returns a display name like "Otter417" for users who join without one
func GenerateUsername() string {
	return fmt.Sprintf("%s%d", animals[rand.IntN(len(animals))], rand.IntN(900)+100)
}
