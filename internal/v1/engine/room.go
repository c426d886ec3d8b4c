package engine

import (
	"fmt"
)

// Response is the generic JSON-shaped reply every command handler returns.
// Using a loose map instead of per-command structs mirrors the source's
// untyped dict responses and keeps framing/serialization in one place.
type Response map[string]any

// MutatingMethods are the commands that change room state and therefore get
// appended to the durability log (spec.md §4.3). get_room is deliberately
// excluded: it is a read-only snapshot.
var MutatingMethods = map[string]bool{
	"add_client": true,
	"up":         true,
	"down":       true,
	"left":       true,
	"right":      true,
	"interact":   true,
}

// Engine is the single-room state machine: a position->item map and a
// client->position map, plus the command handlers spec.md §4.2 describes.
// It is deliberately not reentrant (spec.md §4.2, "Concurrency contract");
// callers are expected to invoke it from a single goroutine, which the room
// server in internal/v1/server guarantees.
type Engine struct {
	cfg     Config
	room    map[string]*Item
	clients map[string]string
}

// New constructs a room with the source's initial layout: one random item
// template at a uniformly chosen cell, plus a fixed chest at (1,1) that
// overwrites the random placement if they collide.
func New(cfg Config) *Engine {
	e := &Engine{
		cfg:     cfg,
		room:    make(map[string]*Item),
		clients: make(map[string]string),
	}
	x := cfg.Rand.Intn(cfg.Dimension + 1)
	y := cfg.Rand.Intn(cfg.Dimension + 1)
	template := cfg.ItemTemplates[cfg.Rand.Intn(len(cfg.ItemTemplates))]
	e.room[Position{X: x, Y: y}.String()] = template.clone()
	e.room["1:1"] = e.cfg.chest().clone()
	return e
}

// Board returns the live position->item map, for checkpoint serialization.
// Callers must not retain it across a mutating command.
func (e *Engine) Board() map[string]*Item { return e.room }

// Clients returns the live client->position map, for checkpoint
// serialization.
func (e *Engine) Clients() map[string]string { return e.clients }

// LoadCheckpoint overwrites the engine's room/client state, as the durability
// layer does on startup replay (spec.md §4.3). Empty maps are treated as "no
// data" and leave the current state untouched, matching the source's
// behavior of keeping the randomly generated room when the checkpoint is
// missing or empty.
func (e *Engine) LoadCheckpoint(room map[string]*Item, clients map[string]string) {
	if len(room) > 0 {
		e.room = room
	}
	if len(clients) > 0 {
		e.clients = clients
	}
}

// AddClient idempotently inserts a client at the room center.
func (e *Engine) AddClient(client string) Response {
	if pos, ok := e.clients[client]; ok {
		return Response{"client_id": client, "pos": pos}
	}
	pos := e.cfg.center().String()
	e.clients[client] = pos
	return Response{"client_id": client, "pos": pos}
}

// move applies (dx, dy) to the client's position, clamping to the room
// bounds. It reports whether the horizontal axis was clamped, i.e. whether
// the client tried to exit the room on the x axis. Vertical clamping never
// signals an exit (spec.md §4.2, "Clamping rule" and §9 on suppressed
// vertical exits).
func (e *Engine) move(client string, dx, dy int) bool {
	pos, err := ParsePosition(e.clients[client])
	if err != nil {
		// Malformed stored position should never happen in practice; treat
		// as the room center rather than crashing a live room.
		pos = e.cfg.center()
	}
	desiredX := pos.X + dx
	desiredY := pos.Y + dy
	newX := clamp(desiredX, e.cfg.Dimension)
	newY := clamp(desiredY, e.cfg.Dimension)
	e.clients[client] = Position{X: newX, Y: newY}.String()
	return newX != desiredX
}

// Up moves a client up one tile.
func (e *Engine) Up(client string) Response {
	if _, ok := e.clients[client]; !ok {
		return Response{"error": "client not in room"}
	}
	e.move(client, 0, 1)
	return Response{"success": "move up"}
}

// Down moves a client down one tile.
func (e *Engine) Down(client string) Response {
	if _, ok := e.clients[client]; !ok {
		return Response{"error": "client not in room"}
	}
	e.move(client, 0, -1)
	return Response{"success": "move down"}
}

// Left moves a client left one tile, signaling a room exit if it was
// clamped at x=0.
func (e *Engine) Left(client string) Response {
	if _, ok := e.clients[client]; !ok {
		return Response{"error": "client not in room"}
	}
	if e.move(client, -1, 0) {
		return Response{"success": "exit left"}
	}
	return Response{"success": "move left"}
}

// Right moves a client right one tile, signaling a room exit if it was
// clamped at x=D.
func (e *Engine) Right(client string) Response {
	if _, ok := e.clients[client]; !ok {
		return Response{"error": "client not in room"}
	}
	if e.move(client, 1, 0) {
		return Response{"success": "exit right"}
	}
	return Response{"success": "move right"}
}

// Interact implements spec.md §4.2's interact rule: consume a use from the
// item at the client's position, or fall back to a fail/co-occupant flavor
// message when the cell is empty of items.
func (e *Engine) Interact(client string) Response {
	pos := e.clients[client]
	item, ok := e.room[pos]
	if !ok {
		return Response{"msg": e.interactEmptyCell(client, pos)}
	}
	if item.EmptiedThisRound {
		return Response{"msg": item.ConflictMessage}
	}
	if item.Uses == 0 {
		return Response{"msg": item.EmptyMessage}
	}
	item.Uses--
	msg := item.UseMessage
	if item.Uses == 0 {
		item.EmptiedThisRound = true
	}
	return Response{"msg": msg}
}

func (e *Engine) interactEmptyCell(client, pos string) string {
	var others []string
	for id, p := range e.clients {
		if id != client && p == pos {
			others = append(others, id)
		}
	}
	if len(others) == 0 {
		return e.cfg.FailMessages[e.cfg.Rand.Intn(len(e.cfg.FailMessages))]
	}
	template := e.cfg.CoOccupantMessages[e.cfg.Rand.Intn(len(e.cfg.CoOccupantMessages))]
	if !containsVerb(template) {
		return template
	}
	return fmt.Sprintf(template, joinClients(others))
}

// containsVerb reports whether the template actually has a %s placeholder;
// a couple of the flavor strings ("...hi!", "WHAT ARE YOU LOOKING AT?!?")
// don't reference the co-occupants at all.
func containsVerb(template string) bool {
	for i := 0; i+1 < len(template); i++ {
		if template[i] == '%' && template[i+1] == 's' {
			return true
		}
	}
	return false
}

// ClearEmptyMarkers resets every item's emptied_this_round flag at the end
// of a tick (spec.md §4.2, "Tick boundary").
func (e *Engine) ClearEmptyMarkers() {
	for _, item := range e.room {
		item.EmptiedThisRound = false
	}
}

// GetRoom returns a read-only snapshot merging item positions (keyed by
// item name) with the given alive-client positions (keyed by client id).
// spec.md §9 flags the name/id key collision risk in the source; callers
// are expected to use client ids that cannot collide with item template
// names (chest, fire).
func (e *Engine) GetRoom(aliveClients map[string]string) Response {
	merged := make(map[string]string, len(e.room)+len(aliveClients))
	for pos, item := range e.room {
		merged[item.Name] = pos
	}
	for id, pos := range aliveClients {
		merged[id] = pos
	}
	return Response{"room": merged}
}

// Dispatch routes a mutating command to its handler by name. method must be
// one of MutatingMethods; get_room is handled separately by the caller
// because it needs the connection table's alive-client view rather than a
// single client argument (spec.md §4.4).
func (e *Engine) Dispatch(method, client string) (Response, bool) {
	switch method {
	case "add_client":
		return e.AddClient(client), true
	case "up":
		return e.Up(client), true
	case "down":
		return e.Down(client), true
	case "left":
		return e.Left(client), true
	case "right":
		return e.Right(client), true
	case "interact":
		return e.Interact(client), true
	default:
		return nil, false
	}
}
