package event

import (
	"fmt"
	"hash/fnv"
)

// ColorFromSeed derives a stable #RRGGBB color for authors without one.
func ColorFromSeed(seed string) string {
	h := fnv.New32a()
	h.Write([]byte(seed))
	sum := h.Sum32()
	return fmt.Sprintf("#%02X%02X%02X", byte(sum>>16), byte(sum>>8), byte(sum))
}
