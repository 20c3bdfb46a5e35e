package presence

import (
	"fmt"
	"math/rand"
)

var aliasAdjectives = []string{
	"tiny", "happy", "sleepy", "fluffy", "sparkly", "cheery", "silly", "jolly", "cozy", "shiny",
	"golden", "silver", "crimson", "emerald", "purple", "blue", "red", "green", "bright", "gentle",
	"brave", "calm", "swift", "silent", "noisy", "bouncy", "fuzzy", "plucky", "merry", "peppy",
}

var aliasAnimals = []string{
	"kitten", "puppy", "bunny", "panda", "koala", "fox", "otter", "hedgehog", "squirrel", "hamster",
	"chick", "duckling", "fawn", "foal", "lamb", "calf", "porcupine", "raccoon", "skunk", "mole",
	"mouse", "rat", "ferret", "weasel", "beaver", "seahorse", "starfish", "dolphin", "whale", "narwhal",
	"penguin", "flamingo", "pelican", "swallow", "sparrow", "robin", "toucan", "parrot", "canary", "cockatoo",
}

// RandomAlias generates a human-readable display alias for an anonymous
// session, e.g. "swift-otter-83". Aliases are not unique identifiers — the
// session ID is — they only make partners easier to refer to in the UI.
func RandomAlias() string {
	adj := aliasAdjectives[rand.Intn(len(aliasAdjectives))]
	animal := aliasAnimals[rand.Intn(len(aliasAnimals))]
	return fmt.Sprintf("%s-%s-%d", adj, animal, rand.Intn(100))
}
