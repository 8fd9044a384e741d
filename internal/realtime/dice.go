package realtime

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"regexp"
	"strconv"
	"strings"
)

const (
	maxDiceCount = 100
	maxDiceSides = 1000
)

var diceNotation = regexp.MustCompile(`^(\d{0,3})d(\d{1,4})([+-]\d{1,4})?$`)

// ErrInvalidDice is returned for notation that does not parse or exceeds
// the count and side limits.
var ErrInvalidDice = errors.New("invalid dice notation")

// DiceRoll is the published body of a roll frame.
type DiceRoll struct {
	Notation string `json:"notation"`
	Sides    int    `json:"sides"`
	Results  []int  `json:"results"`
	Modifier int    `json:"modifier,omitempty"`
	Total    int    `json:"total"`
}

// RollNotation rolls standard NdM+K notation ("d20", "3d6+2").
func RollNotation(rng *rand.Rand, notation string) (DiceRoll, error) {
	notation = strings.ToLower(strings.TrimSpace(notation))
	match := diceNotation.FindStringSubmatch(notation)
	if match == nil {
		return DiceRoll{}, fmt.Errorf("%w: %q", ErrInvalidDice, notation)
	}

	count := 1
	if match[1] != "" {
		count, _ = strconv.Atoi(match[1])
	}
	sides, _ := strconv.Atoi(match[2])
	modifier := 0
	if match[3] != "" {
		modifier, _ = strconv.Atoi(match[3])
	}
	if count < 1 || count > maxDiceCount || sides < 2 || sides > maxDiceSides {
		return DiceRoll{}, fmt.Errorf("%w: %q", ErrInvalidDice, notation)
	}

	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}

	roll := DiceRoll{Notation: notation, Sides: sides, Results: make([]int, count), Modifier: modifier}
	for i := range roll.Results {
		value := rng.IntN(sides) + 1
		roll.Results[i] = value
		roll.Total += value
	}
	roll.Total += modifier
	return roll, nil
}
