package storage

// Listing is the result of List.
type Listing struct {
	Public  []string `json:"public_experiments"`
	Private []string `json:"private_experiments"`
}

// Meta is the decoded reverie/meta.json. Fields written by the simulation
// itself are kept as-is.
type Meta map[string]any

// Owner returns the meta owner. The bool is false when the field is absent
// or not a string.
func (m Meta) Owner() (string, bool) {
	owner, ok := m["owner"].(string)
	return owner, ok
}

// Parent returns the meta parent, or "" when absent.
func (m Meta) Parent() string {
	parent, _ := m["parent"].(string) //nolint:errcheck // absent reads as ""
	return parent
}

// Character describes one persona of a new experiment.
type Character struct {
	Name         string `json:"name"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
	Age          int    `json:"age"`
	Innate       string `json:"innate"`
	Learned      string `json:"learned"`
	Currently    string `json:"currently"`
	Lifestyle    string `json:"lifestyle"`
	LivingArea   string `json:"living_area"`
	DailyPlanReq string `json:"daily_plan_req"`

	// Starting tile. Nil picks a random coordinate.
	CoordinatesX *int `json:"coordinates_x,omitempty"`
	CoordinatesY *int `json:"coordinates_y,omitempty"`
}

// CreateRequest describes a new experiment template.
type CreateRequest struct {
	SimCode    string      `json:"sim_code"`
	MazeName   string      `json:"maze_name"`
	StartDate  string      `json:"start_date"`
	Characters []Character `json:"characters"`
	Steps      *int        `json:"steps"`
	SecPerStep *int        `json:"sec_per_step"`
	Owner      string      `json:"owner"`
}

// Detail is the result of Detail.
type Detail struct {
	ScratchDataCollection []map[string]any `json:"scratch_data_collection"`
	Config                Meta             `json:"config"`
}

// ParentInfo is the result of ParentCheck. An experiment is a template
// when it is its own parent.
type ParentInfo struct {
	Parent     string `json:"parent"`
	IsTemplate bool   `json:"isTemplate"`
}

// PersonaName pairs a persona's name with its underscored asset name.
type PersonaName struct {
	Name        string `json:"name"`
	Underscored string `json:"underscored"`
}

// PersonaPosition is a persona's tile in the latest environment file.
type PersonaPosition struct {
	Name string  `json:"name"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

// ReplayContext is what the replay viewer needs to render an experiment.
type ReplayContext struct {
	SimCode        string            `json:"sim_code"`
	Step           int               `json:"step"`
	PersonaNames   []PersonaName     `json:"persona_names"`
	PersonaInitPos []PersonaPosition `json:"persona_init_pos"`
	Mode           string            `json:"mode"`
}
