package compact

// Entity fields kept by compaction. Anything else on a character, such as
// derived caches or UI transients, does not survive a compact/expand cycle.
var entityAllowList = []string{
	"id",
	"name",
	"class",
	"level",
	"age",
	"appearance",
	"backstory",
	"attributes",
	"stats",
	"skills",
	"powers",
	"version",
	"created",
	"updated",
}

var inventoryLists = []string{"weapons", "armor", "gear", "backpack"}

var socialLists = []string{"allies", "rivals"}

// EntityBaselineVersion is assigned to expanded entities that carry no version.
const EntityBaselineVersion = "1.0"

const (
	defaultStatValue = 10
	timestampLayout  = "2006-01-02T15:04:05.000Z07:00"
)

var statNames = []string{"health", "stamina", "resolve"}

var powerTiers = []string{"tier1", "tier2", "tier3", "tier4"}

func reduceEntity(entity map[string]any) map[string]any {
	reduced := make(map[string]any, len(entityAllowList)+1)
	for _, field := range entityAllowList {
		if value, ok := entity[field]; ok {
			reduced[field] = value
		}
	}
	if inventory, ok := entity["inventory"].(map[string]any); ok {
		reduced["inventory"] = reduceInventory(inventory)
	}
	return reduced
}

// reduceInventory normalizes an inventory block: the four item lists and
// the social block with its two lists are always present, missing ones
// empty. Unknown keys are dropped.
func reduceInventory(inventory map[string]any) map[string]any {
	reduced := make(map[string]any, len(inventoryLists)+1)
	for _, list := range inventoryLists {
		reduced[list] = listOrEmpty(inventory[list])
	}

	social, _ := inventory["social"].(map[string]any)
	kept := make(map[string]any, len(socialLists))
	for _, list := range socialLists {
		kept[list] = listOrEmpty(social[list])
	}
	reduced["social"] = kept
	return reduced
}

func listOrEmpty(value any) any {
	if value == nil {
		return []any{}
	}
	return value
}

// entityDefaults returns a fresh set of structural defaults. now fills the
// created and updated timestamps.
func entityDefaults(now string) map[string]any {
	stats := make(map[string]any, len(statNames))
	for _, name := range statNames {
		stats[name] = map[string]any{"current": defaultStatValue, "max": defaultStatValue}
	}

	powers := make(map[string]any, len(powerTiers)+1)
	for _, tier := range powerTiers {
		powers[tier] = ""
	}
	powers["techniques"] = []any{}

	inventory := make(map[string]any, len(inventoryLists)+1)
	for _, list := range inventoryLists {
		inventory[list] = []any{}
	}
	social := make(map[string]any, len(socialLists))
	for _, list := range socialLists {
		social[list] = []any{}
	}
	inventory["social"] = social

	return map[string]any{
		"attributes": map[string]any{},
		"stats":      stats,
		"skills":     []any{},
		"powers":     powers,
		"inventory":  inventory,
		"version":    EntityBaselineVersion,
		"created":    now,
		"updated":    now,
	}
}

// expandEntity overlays stored top-level fields onto the defaults. Present
// fields are never replaced. A stored inventory is normalized so a partial
// block still carries every list.
func expandEntity(stored map[string]any, now string) map[string]any {
	entity := entityDefaults(now)
	for field, value := range stored {
		entity[field] = value
	}
	if inventory, ok := stored["inventory"].(map[string]any); ok {
		entity["inventory"] = reduceInventory(inventory)
	}
	return entity
}
