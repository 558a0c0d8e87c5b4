package tracking

import (
	"fmt"
	"math/rand"
)

var (
	nameAdjectives = []string{
		"amazing", "bold", "bright", "calm", "clever", "crisp", "daring", "eager",
		"gentle", "glowing", "honest", "keen", "lucky", "mellow", "nimble", "quiet",
		"rare", "silent", "smiling", "sturdy", "swift", "tender", "vivid", "wise",
	}
	nameNouns = []string{
		"ant", "bass", "bird", "colt", "crane", "deer", "dove", "finch",
		"fox", "gull", "hare", "hawk", "koi", "lark", "lynx", "mole",
		"owl", "panda", "seal", "shark", "sloth", "snail", "wasp", "wolf",
	}
)

// GenerateRunName returns a readable name such as "swift-owl-42" for runs
// created without one
func GenerateRunName() string {
	return fmt.Sprintf("%s-%s-%d",
		nameAdjectives[rand.Intn(len(nameAdjectives))],
		nameNouns[rand.Intn(len(nameNouns))],
		rand.Intn(1000))
}
