// Package durability implements the room's persistence layer: an
// append-only command log plus a periodic two-line JSON checkpoint, and the
// startup replay that rebuilds engine state from them (spec.md §4.3).
package durability

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"roomcluster/internal/v1/engine"
	"roomcluster/internal/v1/wire"
)

// DefaultCheckpointThreshold matches the source's log_length > 100 trigger.
const DefaultCheckpointThreshold = 100

// Log is an append-only command journal. Every mutating command is appended
// as one JSON line and fsynced before the room replies to its caller, so a
// crash never loses an acknowledged command (spec.md §4.3, "Durability
// contract").
type Log struct {
	file   *os.File
	length int
}

// OpenLog opens (creating if necessary) the log file at path in
// append-and-read mode, matching the source's 'a+' file mode.
func OpenLog(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log %s: %w", path, err)
	}
	return &Log{file: f}, nil
}

// ReadAll reads every line currently in the log, for startup replay. The
// file offset is left at the end of the file afterward so subsequent
// Append calls keep appending in order.
func (l *Log) ReadAll() ([][]byte, error) {
	if _, err := l.file.Seek(0, 0); err != nil {
		return nil, err
	}
	var lines [][]byte
	scanner := bufio.NewScanner(l.file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := make([]byte, len(scanner.Bytes()))
		copy(line, scanner.Bytes())
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if _, err := l.file.Seek(0, 2); err != nil {
		return nil, err
	}
	return lines, nil
}

// Append writes data as one line, flushes, and fsyncs before returning, then
// increments the in-memory line count the caller uses to decide when to
// checkpoint.
func (l *Log) Append(data []byte) error {
	if _, err := l.file.Write(append(data, '\n')); err != nil {
		return err
	}
	if err := l.file.Sync(); err != nil {
		return err
	}
	l.length++
	return nil
}

// Length returns the number of lines appended since the last truncate.
func (l *Log) Length() int { return l.length }

// Truncate empties the log file; called right after a checkpoint has been
// written, since the checkpoint now captures everything the log recorded.
func (l *Log) Truncate() error {
	if err := l.file.Truncate(0); err != nil {
		return err
	}
	if _, err := l.file.Seek(0, 0); err != nil {
		return err
	}
	l.length = 0
	return nil
}

// Close closes the underlying file.
func (l *Log) Close() error { return l.file.Close() }

// Checkpoint is the two-line JSON snapshot of room state: the first line is
// the room (position->item map), the second is the clients
// (client->position map) (spec.md §4.3, "Checkpoint format").
type Checkpoint struct {
	path string
}

// NewCheckpoint returns a Checkpoint bound to path.
func NewCheckpoint(path string) *Checkpoint {
	return &Checkpoint{path: path}
}

// Write atomically replaces the checkpoint file: write to path+".new", then
// rename over path. A reader can never observe a half-written checkpoint.
func (c *Checkpoint) Write(room map[string]*engine.Item, clients map[string]string) error {
	tmp := c.path + ".new"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create checkpoint temp file: %w", err)
	}

	roomLine, err := json.Marshal(room)
	if err != nil {
		f.Close()
		return fmt.Errorf("marshal room: %w", err)
	}
	clientsLine, err := json.Marshal(clients)
	if err != nil {
		f.Close()
		return fmt.Errorf("marshal clients: %w", err)
	}

	if _, err := f.Write(append(roomLine, '\n')); err != nil {
		f.Close()
		return err
	}
	if _, err := f.Write(append(clientsLine, '\n')); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	return os.Rename(tmp, c.path)
}

// Load reads the checkpoint file, returning nil maps (not an error) if it
// does not exist yet, matching the source's FileNotFoundError handling.
func (c *Checkpoint) Load() (map[string]*engine.Item, map[string]string, error) {
	f, err := os.Open(c.path)
	if os.IsNotExist(err) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, err
	}
	if len(lines) != 2 {
		return nil, nil, fmt.Errorf("malformed checkpoint file %s: expected 2 lines, got %d", c.path, len(lines))
	}

	var room map[string]*engine.Item
	var clients map[string]string
	if err := json.Unmarshal([]byte(lines[0]), &room); err != nil {
		return nil, nil, fmt.Errorf("malformed checkpoint room line: %w", err)
	}
	if err := json.Unmarshal([]byte(lines[1]), &clients); err != nil {
		return nil, nil, fmt.Errorf("malformed checkpoint clients line: %w", err)
	}
	return room, clients, nil
}

// Store ties an engine to its log and checkpoint, replaying history on
// startup and triggering checkpoints as the log grows (spec.md §4.3).
type Store struct {
	Engine    *engine.Engine
	log       *Log
	ckpt      *Checkpoint
	threshold int
}

// Open loads the checkpoint (if any) into eng, replays every command the log
// recorded since that checkpoint, and returns a Store ready to durably
// dispatch new commands.
func Open(eng *engine.Engine, logPath, ckptPath string, threshold int) (*Store, error) {
	ckpt := NewCheckpoint(ckptPath)
	room, clients, err := ckpt.Load()
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	eng.LoadCheckpoint(room, clients)

	log, err := OpenLog(logPath)
	if err != nil {
		return nil, err
	}

	lines, err := log.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	for _, line := range lines {
		req, client, err := wire.ParseRequest(line)
		if err != nil {
			// A hand-edited or corrupted log line should not prevent the
			// room from starting; the source drops it with a warning too.
			continue
		}
		eng.Dispatch(req.Method, client)
	}

	if threshold <= 0 {
		threshold = DefaultCheckpointThreshold
	}
	return &Store{Engine: eng, log: log, ckpt: ckpt, threshold: threshold}, nil
}

// Dispatch runs a command through the engine and, if it mutated state,
// durably appends it to the log before returning — the response is only
// handed back to the caller once the command is safely on disk. checkpoint
// triggers automatically once the log has grown past the threshold.
func (s *Store) Dispatch(req wire.Request, client string) (engine.Response, bool, error) {
	resp, ok := s.Engine.Dispatch(req.Method, client)
	if !ok {
		return nil, false, nil
	}
	if !engine.MutatingMethods[req.Method] {
		return resp, true, nil
	}
	if _, rejected := resp["error"]; rejected {
		return resp, true, nil
	}

	raw, err := json.Marshal(req)
	if err != nil {
		return resp, true, fmt.Errorf("marshal command for log: %w", err)
	}
	if err := s.log.Append(raw); err != nil {
		return resp, true, fmt.Errorf("append to log: %w", err)
	}
	if s.log.Length() > s.threshold {
		if err := s.Checkpoint(); err != nil {
			return resp, true, err
		}
	}
	return resp, true, nil
}

// Checkpoint writes the current engine state to disk and truncates the log.
func (s *Store) Checkpoint() error {
	if err := s.ckpt.Write(s.Engine.Board(), s.Engine.Clients()); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return s.log.Truncate()
}

// Close releases the underlying log file.
func (s *Store) Close() error { return s.log.Close() }
