package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zstd"

	"territorybeacons.dev/internal/sim/territory"
)

const Version = 1

type Header struct {
	Version     int       `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	Territories int       `json:"territories"`
	Players     int       `json:"players"`
}

type LastSeenV1 struct {
	Player territory.PlayerID
	AtMS   int64
}

// SnapshotV1 is a full export of territories and last-seen times.
type SnapshotV1 struct {
	Header      Header
	Territories []territory.Record
	LastSeen    []LastSeenV1
}

func New(recs []territory.Record, seen map[territory.PlayerID]time.Time, now time.Time) SnapshotV1 {
	s := SnapshotV1{
		Header: Header{
			Version:     Version,
			CreatedAt:   now.UTC(),
			Territories: len(recs),
			Players:     len(seen),
		},
		Territories: recs,
	}
	for id, at := range seen {
		s.LastSeen = append(s.LastSeen, LastSeenV1{Player: id, AtMS: at.UnixMilli()})
	}
	return s
}

func (s SnapshotV1) LastSeenMap() map[territory.PlayerID]time.Time {
	out := make(map[territory.PlayerID]time.Time, len(s.LastSeen))
	for _, e := range s.LastSeen {
		out[e.Player] = time.UnixMilli(e.AtMS)
	}
	return out
}

// Write stores snap as a JSON header line followed by a gob body, zstd
// compressed.
func Write(path string, snap SnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 64*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return f.Sync()
}

func Read(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 64*1024)
	line, err := br.ReadBytes('\n')
	if err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}
	var h Header
	if err := json.Unmarshal(line, &h); err != nil {
		return snap, fmt.Errorf("decode header: %w", err)
	}
	if h.Version != Version {
		return snap, fmt.Errorf("unsupported snapshot version %d", h.Version)
	}
	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	return snap, nil
}
