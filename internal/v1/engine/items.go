package engine

// Item is an interactive object occupying one cell of the room. Fields are
// tagged to match the checkpoint representation exactly, since the
// checkpoint file marshals Items directly (the merged `get_room` response
// carries only each item's name and position).
type Item struct {
	Name             string `json:"name"`
	Uses             int    `json:"uses"`
	UseMessage       string `json:"use_message"`
	EmptyMessage     string `json:"empty_message"`
	ConflictMessage  string `json:"conflict_message"`
	EmptiedThisRound bool   `json:"emptied_this_round"`
}

// clone returns a copy so that handing out a template never lets two cells
// share mutable state.
func (i Item) clone() *Item {
	c := i
	return &c
}

// defaultItemTemplates mirrors INTERACTIVE_ITEMS from the source engine.
func defaultItemTemplates() []Item {
	return []Item{
		{
			Name:            "chest",
			Uses:            10,
			UseMessage:      "you put your hand in the box and get a surprise",
			EmptyMessage:    "you put your hand in an empty box",
			ConflictMessage: "you put your hand in the box and feel someone else's hand",
		},
		{
			Name:            "fire",
			Uses:            5,
			UseMessage:      "ow thats hot",
			EmptyMessage:    "someone cooked here",
			ConflictMessage: "you approach the fire but it is too crowded and you cannot find a spot",
		},
	}
}

// defaultFailMessages mirrors INTERACT_FAIL_MESSAGES.
func defaultFailMessages() []string {
	return []string{
		"you tried but there was nothing there",
		"you reach out and are disappointed",
		"you interact with the floor",
		"you tried to become one with the floor",
		"slow it down, not right now",
	}
}

// defaultCoOccupantMessages mirrors INTERACT_ON_OTHER_USER. Each entry is
// formatted with the grammar-joined list of co-located client ids.
func defaultCoOccupantMessages() []string {
	return []string{
		"You look at %s awkwardly",
		"%s stare at you, you cant help but notice their concerned looks",
		"%s turn to look at you",
		"...hi!",
		"WHAT ARE YOU LOOKING AT?!?",
	}
}

// joinClients formats a list of client ids using the source's grammar rule:
// one name bare, two space-joined, three or more comma-joined with the last
// prefixed by "and".
func joinClients(ids []string) string {
	switch len(ids) {
	case 0:
		return ""
	case 1:
		return ids[0]
	case 2:
		return ids[0] + " " + ids[1]
	default:
		joined := ids[0]
		for _, id := range ids[1 : len(ids)-1] {
			joined += ", " + id
		}
		joined += ", and " + ids[len(ids)-1]
		return joined
	}
}
