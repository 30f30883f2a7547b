package storage

import "math/rand/v2"

// villeArenas lists the arenas of each sector of the Ville and the game
// objects in each arena.
var villeArenas = map[string]map[string][]string{
	"Oak Hill College": {
		"hallway":   {},
		"library":   {"library sofa", "library table", "bookshelf"},
		"classroom": {"blackboard", "classroom podium", "classroom student seating"},
	},
	"Dorm for Oak Hill College": {
		"garden":           {"dorm garden"},
		"woman's bathroom": {"toilet", "shower", "bathroom sink"},
		"common room":      {"common room sofa", "pool table", "common room table"},
		"man's bathroom":   {"shower", "bathroom sink", "toilet"},
	},
	"The Willows Market and Pharmacy": {
		"store": {
			"grocery store shelf",
			"behind the grocery counter",
			"grocery store counter",
			"pharmacy store shelf",
			"pharmacy store counter",
			"behind the pharmacy counter",
		},
	},
	"Harvey Oak Supply Store": {
		"supply store": {"supply store product shelf", "behind the supply store counter", "supply store counter"},
	},
	"Johnson Park": {
		"park": {"park garden"},
	},
	"The Rose and Crown Pub": {
		"pub": {
			"shelf",
			"refrigerator",
			"bar customer seating",
			"behind the bar counter",
			"kitchen sink",
			"cooking area",
			"microphone",
		},
	},
	"Hobbs Cafe": {
		"cafe": {
			"refrigerator",
			"cafe customer seating",
			"cooking area",
			"kitchen sink",
			"behind the cafe counter",
			"piano",
		},
	},
}

// newSpatialMemory gives a persona knowledge of every arena of the Ville
// and a random subset of the objects in each.
func newSpatialMemory(rng *rand.Rand) map[string]map[string][]string {
	memory := make(map[string]map[string][]string, len(villeArenas))
	for sector, arenas := range villeArenas {
		known := make(map[string][]string, len(arenas))
		for arena, objects := range arenas {
			n := rng.IntN(len(objects) + 1)
			picked := make([]string, 0, n)
			for _, i := range rng.Perm(len(objects))[:n] {
				picked = append(picked, objects[i])
			}
			known[arena] = picked
		}
		memory[sector] = known
	}
	return memory
}
