package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPlacesChest(t *testing.T) {
	e := New(DefaultConfigSeeded(1))
	chest, ok := e.Board()["1:1"]
	require.True(t, ok)
	assert.Equal(t, "chest", chest.Name)
	assert.Equal(t, 10, chest.Uses)
}

func TestAddClientIsIdempotent(t *testing.T) {
	e := New(DefaultConfigSeeded(2))
	first := e.AddClient("alice")
	second := e.AddClient("alice")
	assert.Equal(t, first, second)
	assert.Equal(t, "4:4", first["pos"])
}

func TestUnknownClientMovesReturnError(t *testing.T) {
	e := New(DefaultConfigSeeded(3))
	resp := e.Up("ghost")
	assert.Contains(t, resp, "error")
}

func TestMoveClampsAtLowerBound(t *testing.T) {
	cfg := DefaultConfigSeeded(4)
	e := New(cfg)
	e.AddClient("alice")
	for i := 0; i < cfg.Dimension+5; i++ {
		e.Down("alice")
	}
	pos, err := ParsePosition(e.Clients()["alice"])
	require.NoError(t, err)
	assert.Equal(t, 0, pos.Y)
}

func TestMoveClampsAtUpperBoundAndDoesNotSignalVerticalExit(t *testing.T) {
	cfg := DefaultConfigSeeded(5)
	e := New(cfg)
	e.AddClient("alice")
	var last Response
	for i := 0; i < cfg.Dimension+5; i++ {
		last = e.Up("alice")
	}
	pos, err := ParsePosition(e.Clients()["alice"])
	require.NoError(t, err)
	assert.Equal(t, cfg.Dimension, pos.Y)
	assert.Equal(t, "move up", last["success"])
}

func TestRightSignalsExitOnlyAtBoundary(t *testing.T) {
	cfg := DefaultConfigSeeded(6)
	e := New(cfg)
	e.AddClient("alice")
	resp := e.Right("alice")
	assert.Equal(t, "move right", resp["success"])

	for i := 0; i < cfg.Dimension; i++ {
		resp = e.Right("alice")
	}
	assert.Equal(t, "exit right", resp["success"])
}

func TestLeftSignalsExitAtZero(t *testing.T) {
	cfg := DefaultConfigSeeded(7)
	e := New(cfg)
	e.AddClient("alice")
	var resp Response
	for i := 0; i < cfg.Dimension+2; i++ {
		resp = e.Left("alice")
	}
	assert.Equal(t, "exit left", resp["success"])
}

func TestInteractConsumesUsesThenEmpties(t *testing.T) {
	cfg := DefaultConfigSeeded(8)
	e := New(cfg)
	e.AddClient("alice")
	e.clients["alice"] = "1:1"

	chest := e.Board()["1:1"]
	chest.Uses = 1

	resp := e.Interact("alice")
	assert.Equal(t, "you put your hand in the box and get a surprise", resp["msg"])
	assert.Equal(t, 0, chest.Uses)
	assert.True(t, chest.EmptiedThisRound)

	resp = e.Interact("alice")
	assert.Equal(t, "you put your hand in the box and feel someone else's hand", resp["msg"])

	e.ClearEmptyMarkers()
	resp = e.Interact("alice")
	assert.Equal(t, "you put your hand in an empty box", resp["msg"])
}

func TestInteractOnEmptyCellWithNoOthersUsesFailMessage(t *testing.T) {
	cfg := DefaultConfigSeeded(9)
	e := New(cfg)
	e.AddClient("alice")
	e.clients["alice"] = "7:7"

	resp := e.Interact("alice")
	msg, ok := resp["msg"].(string)
	require.True(t, ok)
	assert.Contains(t, cfg.FailMessages, msg)
}

func TestInteractOnEmptyCellWithOthersJoinsNames(t *testing.T) {
	cfg := DefaultConfigSeeded(10)
	cfg.CoOccupantMessages = []string{"You look at %s awkwardly"}
	e := New(cfg)
	delete(e.room, "7:7")
	e.clients["alice"] = "7:7"
	e.clients["bob"] = "7:7"
	e.clients["carol"] = "7:7"

	resp := e.Interact("alice")
	msg, ok := resp["msg"].(string)
	require.True(t, ok)
	assert.NotEmpty(t, msg)
	assert.Contains(t, msg, "bob")
	assert.Contains(t, msg, "carol")
	assert.NotContains(t, msg, "alice")
}

func TestJoinClientsGrammar(t *testing.T) {
	assert.Equal(t, "", joinClients(nil))
	assert.Equal(t, "bob", joinClients([]string{"bob"}))
	assert.Equal(t, "bob carol", joinClients([]string{"bob", "carol"}))
	assert.Equal(t, "bob, carol, and dan", joinClients([]string{"bob", "carol", "dan"}))
}

func TestGetRoomMergesItemsAndAliveClients(t *testing.T) {
	e := New(DefaultConfigSeeded(11))
	e.AddClient("alice")
	alive := map[string]string{"alice": e.Clients()["alice"]}

	resp := e.GetRoom(alive)
	room, ok := resp["room"].(map[string]string)
	require.True(t, ok)
	assert.Equal(t, alive["alice"], room["alice"])
	assert.Contains(t, room, "chest")
}

func TestGetRoomOmitsDeadClients(t *testing.T) {
	e := New(DefaultConfigSeeded(12))
	e.AddClient("alice")
	e.AddClient("bob")

	resp := e.GetRoom(map[string]string{"alice": e.Clients()["alice"]})
	room := resp["room"].(map[string]string)
	assert.Contains(t, room, "alice")
	assert.NotContains(t, room, "bob")
}

func TestLoadCheckpointIgnoresEmptyMaps(t *testing.T) {
	e := New(DefaultConfigSeeded(13))
	before := e.Clients()
	e.LoadCheckpoint(nil, nil)
	assert.Equal(t, before, e.Clients())
}

func TestLoadCheckpointReplacesState(t *testing.T) {
	e := New(DefaultConfigSeeded(14))
	room := map[string]*Item{"2:2": {Name: "fire", Uses: 1}}
	clients := map[string]string{"zed": "2:2"}
	e.LoadCheckpoint(room, clients)
	assert.Equal(t, room, e.Board())
	assert.Equal(t, clients, e.Clients())
}

func TestDispatchRoutesKnownMethods(t *testing.T) {
	e := New(DefaultConfigSeeded(15))
	resp, ok := e.Dispatch("add_client", "alice")
	require.True(t, ok)
	assert.Contains(t, resp, "pos")

	_, ok = e.Dispatch("get_room", "alice")
	assert.False(t, ok)
}

func TestMutatingMethodsMatchesDispatchSurface(t *testing.T) {
	for method := range MutatingMethods {
		_, ok := (&Engine{clients: map[string]string{}, room: map[string]*Item{}, cfg: DefaultConfigSeeded(16)}).Dispatch(method, "x")
		assert.True(t, ok, "method %s should be dispatchable", method)
	}
}
