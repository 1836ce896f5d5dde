// Package file implements chunked file transfers: offers, in-memory chunk
// assembly, and hand-off of completed payloads to an injected sink.
// Datagrams may reorder, so a chunk arriving before its offer starts an
// implicit transfer that the offer fills in later.
package file

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

var (
	ErrBadChunkIndex      = errors.New("chunk index out of range")
	ErrChunkCountMismatch = errors.New("total chunk count does not match transfer")
)

// DefaultChunkSize is the raw payload size per FILE_CHUNK before base64.
const DefaultChunkSize = 1024

// Offer describes an announced transfer.
type Offer struct {
	ID          string
	From        string
	Name        string
	MIME        string
	Description string
	Size        int64
	TotalChunks int
	Timestamp   int64
}

// Sink receives completed payloads. Persisting them (or not) is the
// sink's business; the engine only assembles bytes in memory.
type Sink interface {
	StoreFile(offer Offer, data []byte) error
}

type incoming struct {
	offer    Offer
	hasOffer bool
	chunks   [][]byte
	received int
}

// Manager tracks incoming transfers keyed by FILEID.
type Manager struct {
	mu        sync.Mutex
	sink      Sink
	incoming  map[string]*incoming
	completed []Offer
}

func NewManager(sink Sink) *Manager {
	return &Manager{sink: sink, incoming: make(map[string]*incoming)}
}

// AddOffer records an announced transfer. A repeated offer for a FILEID
// already in flight only refreshes the metadata.
func (m *Manager) AddOffer(offer Offer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	in, ok := m.incoming[offer.ID]
	if !ok {
		in = &incoming{chunks: make([][]byte, offer.TotalChunks)}
		m.incoming[offer.ID] = in
	}
	if len(in.chunks) == 0 && offer.TotalChunks > 0 {
		in.chunks = make([][]byte, offer.TotalChunks)
	}
	in.offer = offer
	in.hasOffer = true
}

// AddChunk stores one decoded chunk. Duplicates are idempotent. When the
// last chunk lands the payload is assembled, handed to the sink, and the
// transfer record dropped; done=true reports exactly that event.
func (m *Manager) AddChunk(fileID, from string, index, total int, data []byte) (done bool, err error) {
	if total <= 0 || index < 0 || index >= total {
		return false, ErrBadChunkIndex
	}

	m.mu.Lock()
	in, ok := m.incoming[fileID]
	if !ok {
		// Chunk raced ahead of its offer.
		in = &incoming{
			offer:  Offer{ID: fileID, From: from, Name: fileID, TotalChunks: total},
			chunks: make([][]byte, total),
		}
		m.incoming[fileID] = in
	}
	if len(in.chunks) == 0 {
		// The offer does not announce a chunk count; the first chunk does.
		in.chunks = make([][]byte, total)
		in.offer.TotalChunks = total
	}
	if len(in.chunks) != total {
		m.mu.Unlock()
		return false, ErrChunkCountMismatch
	}
	if in.chunks[index] != nil {
		m.mu.Unlock()
		return false, nil
	}
	in.chunks[index] = data
	in.received++
	if in.received < total {
		m.mu.Unlock()
		return false, nil
	}

	// Assemble and release the record before the sink call, so the sink
	// never runs under the manager lock.
	var payload []byte
	for _, c := range in.chunks {
		payload = append(payload, c...)
	}
	offer := in.offer
	offer.Size = int64(len(payload))
	delete(m.incoming, fileID)
	m.completed = append(m.completed, offer)
	sink := m.sink
	m.mu.Unlock()

	if sink != nil {
		if err := sink.StoreFile(offer, payload); err != nil {
			return true, fmt.Errorf("store %s: %w", offer.Name, err)
		}
	}
	return true, nil
}

// Progress reports received/total chunks for an in-flight transfer.
func (m *Manager) Progress(fileID string) (received, total int, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	in, ok := m.incoming[fileID]
	if !ok {
		return 0, 0, false
	}
	return in.received, len(in.chunks), true
}

// Pending lists the offers still being assembled, sorted by FILEID.
func (m *Manager) Pending() []Offer {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Offer, 0, len(m.incoming))
	for id, in := range m.incoming {
		o := in.offer
		o.ID = id
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Completed lists finished transfers in completion order.
func (m *Manager) Completed() []Offer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Offer(nil), m.completed...)
}

// Split cuts a payload into chunks of at most chunkSize bytes. An empty
// payload still yields one (empty) chunk so a zero-byte file completes.
func Split(data []byte, chunkSize int) [][]byte {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if len(data) == 0 {
		return [][]byte{{}}
	}
	var out [][]byte
	for len(data) > 0 {
		n := chunkSize
		if n > len(data) {
			n = len(data)
		}
		out = append(out, data[:n])
		data = data[n:]
	}
	return out
}

// DirSink writes completed files into a directory, the collaborator the
// engine hands payloads to by default. Filenames are sanitized to their
// base name so a hostile FILENAME cannot escape the directory.
type DirSink struct {
	Dir string
}

func (s DirSink) StoreFile(offer Offer, data []byte) error {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return err
	}
	name := filepath.Base(offer.Name)
	if name == "." || name == string(filepath.Separator) || name == "" {
		name = offer.ID
	}
	return os.WriteFile(filepath.Join(s.Dir, name), data, 0o644)
}
