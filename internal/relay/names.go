package relay

import (
	"fmt"

	"lukechampine.com/frand"
)

var adjectives = []string{
	"Brave", "Clever", "Sleepy", "Swift", "Bold", "Curious", "Gentle", "Noble",
	"Fluffy", "Quiet", "Cheerful", "Calm", "Proud", "Wise", "Happy", "Lucky",
	"Sneaky", "Bright", "Golden", "Tiny", "Giant", "Patient", "Nimble", "Jolly",
}

var animals = []string{
	"Lion", "Giraffe", "Elephant", "Chick", "Rooster", "Panda", "Otter", "Fox",
	"Tanuki", "Crane", "Hare", "Monkey", "Owl", "Badger", "Koala", "Penguin",
	"Zebra", "Hippo", "Squirrel", "Hedgehog", "Deer", "Seal", "Wolf", "Bear",
}

// RandomName returns a name like "SleepyGiraffe42" for players who did not
// pick one.
func RandomName() string {
	return fmt.Sprintf("%s%s%d",
		adjectives[frand.Intn(len(adjectives))],
		animals[frand.Intn(len(animals))],
		frand.Intn(100))
}
