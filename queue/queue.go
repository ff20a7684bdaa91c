// Package queue implements the durable queue store: named multi-writer,
// multi-reader queues of (message, metadata) entries backed by the
// filesystem. Each entry is a JSON metadata sidecar plus a raw message
// payload; all writes are atomic (temp file + rename) and a claimed entry
// is moved into a processing directory so no other consumer can see it.
package queue

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/trevor/mailman3/helpers"
	"github.com/trevor/mailman3/message"
	"github.com/trevor/mailman3/pkg/metrics"
)

// Standard queue names.
const (
	In      = "in"
	Out     = "out"
	Archive = "archive"
	Shunt   = "shunt"
)

// Queue metadata keys.
const (
	MetaListname     = "listname"
	MetaReceivedTime = "received_time"
	MetaOriginalSize = "original_size"
	MetaContentHash  = "content_hash"
	MetaLastError    = "last_error"
	MetaRecipients   = "recipients"
)

// Entry is one queued message's bookkeeping record.
type Entry struct {
	ID         string            `json:"id"`
	Queue      string            `json:"queue"`
	EnqueuedAt time.Time         `json:"enqueued_at"`
	Retries    int               `json:"retries"`
	Metadata   map[string]string `json:"metadata"`
}

// Store manages the named queues under one base directory.
type Store struct {
	basePath string

	mu     sync.Mutex
	queues map[string]*Queue
}

// NewStore opens (creating if needed) a queue store rooted at basePath.
func NewStore(basePath string) (*Store, error) {
	if basePath == "" {
		return nil, fmt.Errorf("queue base path cannot be empty")
	}
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create queue directory %s: %w", basePath, err)
	}
	return &Store{
		basePath: basePath,
		queues:   make(map[string]*Queue),
	}, nil
}

// Queue returns the named queue, creating its directories on first use.
func (s *Store) Queue(name string) (*Queue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if q, ok := s.queues[name]; ok {
		return q, nil
	}
	q := &Queue{
		name:          name,
		pendingDir:    filepath.Join(s.basePath, name, "pending"),
		processingDir: filepath.Join(s.basePath, name, "processing"),
	}
	for _, dir := range []string{q.pendingDir, q.processingDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	s.queues[name] = q
	return q, nil
}

// Queue is one named durable queue.
type Queue struct {
	name          string
	pendingDir    string
	processingDir string
	mu            sync.Mutex
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

// Enqueue atomically adds a message with its metadata. The entry ID embeds
// the enqueue timestamp so directory order approximates FIFO.
func (q *Queue) Enqueue(msg *message.Message, meta map[string]string) (*Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	payload := msg.Bytes()

	metadata := make(map[string]string, len(meta)+1)
	for k, v := range meta {
		metadata[k] = v
	}
	if _, ok := metadata[MetaContentHash]; !ok {
		metadata[MetaContentHash] = helpers.HashContent(payload)
	}

	entry := &Entry{
		ID:         fmt.Sprintf("%020d-%s", now.UnixNano(), uuid.New().String()),
		Queue:      q.name,
		EnqueuedAt: now,
		Metadata:   metadata,
	}

	if err := q.writeEntry(q.pendingDir, entry, payload); err != nil {
		metrics.QueueOperations.WithLabelValues(q.name, "enqueue", "error").Inc()
		return nil, err
	}
	metrics.QueueOperations.WithLabelValues(q.name, "enqueue", "success").Inc()
	return entry, nil
}

// Claim moves the oldest pending entry into the processing directory and
// returns it with its message. Returns (nil, nil, nil) when the queue is
// empty. A claimed entry is invisible to other consumers until Finish,
// Release, or MoveTo is called for it.
func (q *Queue) Claim() (*Entry, *message.Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries, err := os.ReadDir(q.pendingDir)
	if err != nil {
		metrics.QueueOperations.WithLabelValues(q.name, "claim", "error").Inc()
		return nil, nil, fmt.Errorf("failed to read pending directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".json" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		metadataPath := filepath.Join(q.pendingDir, name)
		var entry Entry
		if err := readJSON(metadataPath, &entry); err != nil {
			// A half-written sidecar from a crashed writer; skip it.
			continue
		}

		messagePath := filepath.Join(q.pendingDir, entry.ID+".msg")
		payload, err := os.ReadFile(messagePath)
		if err != nil {
			continue
		}

		procMetadata := filepath.Join(q.processingDir, entry.ID+".json")
		procMessage := filepath.Join(q.processingDir, entry.ID+".msg")
		if err := os.Rename(metadataPath, procMetadata); err != nil {
			continue
		}
		if err := os.Rename(messagePath, procMessage); err != nil {
			os.Rename(procMetadata, metadataPath)
			continue
		}

		msg, err := message.Parse(payload)
		if err != nil {
			metrics.QueueOperations.WithLabelValues(q.name, "claim", "error").Inc()
			return nil, nil, fmt.Errorf("failed to parse queued message %s: %w", entry.ID, err)
		}

		metrics.QueueOperations.WithLabelValues(q.name, "claim", "success").Inc()
		metrics.QueueEntryAge.WithLabelValues(q.name).Observe(time.Since(entry.EnqueuedAt).Seconds())
		return &entry, msg, nil
	}

	return nil, nil, nil
}

// Finish removes a claimed entry for good.
func (q *Queue) Finish(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, path := range []string{
		filepath.Join(q.processingDir, id+".json"),
		filepath.Join(q.processingDir, id+".msg"),
	} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			metrics.QueueOperations.WithLabelValues(q.name, "finish", "error").Inc()
			return fmt.Errorf("failed to remove %s: %w", path, err)
		}
	}
	metrics.QueueOperations.WithLabelValues(q.name, "finish", "success").Inc()
	return nil
}

// Release moves a claimed entry back into pending, making it claimable
// again without touching its retry counter.
func (q *Queue) Release(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, ext := range []string{".json", ".msg"} {
		src := filepath.Join(q.processingDir, id+ext)
		dst := filepath.Join(q.pendingDir, id+ext)
		if err := os.Rename(src, dst); err != nil {
			metrics.QueueOperations.WithLabelValues(q.name, "release", "error").Inc()
			return fmt.Errorf("failed to release %s: %w", id, err)
		}
	}
	metrics.QueueOperations.WithLabelValues(q.name, "release", "success").Inc()
	return nil
}

// MoveTo re-enqueues a claimed entry (with a possibly rewritten message)
// into another queue. A non-empty lastError is recorded in the entry
// metadata and bumps the retry counter; this is how failed entries land in
// the shunt queue.
func (q *Queue) MoveTo(dst *Queue, entry *Entry, msg *message.Message, lastError string) error {
	moved := *entry
	moved.Queue = dst.name
	moved.Metadata = make(map[string]string, len(entry.Metadata)+1)
	for k, v := range entry.Metadata {
		moved.Metadata[k] = v
	}
	if lastError != "" {
		moved.Retries++
		moved.Metadata[MetaLastError] = lastError
	}

	dst.mu.Lock()
	err := dst.writeEntry(dst.pendingDir, &moved, msg.Bytes())
	dst.mu.Unlock()
	if err != nil {
		metrics.QueueOperations.WithLabelValues(q.name, "move", "error").Inc()
		return fmt.Errorf("failed to move %s to %s: %w", entry.ID, dst.name, err)
	}

	// The entry was claimed by this consumer, so nothing else touches its
	// processing files.
	q.mu.Lock()
	for _, ext := range []string{".json", ".msg"} {
		os.Remove(filepath.Join(q.processingDir, entry.ID+ext))
	}
	q.mu.Unlock()
	metrics.QueueOperations.WithLabelValues(q.name, "move", "success").Inc()
	return nil
}

// Stats reports the number of pending and in-processing entries.
func (q *Queue) Stats() (pending, processing int, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	pending, err = countDir(q.pendingDir, ".json")
	if err != nil {
		return 0, 0, err
	}
	processing, err = countDir(q.processingDir, ".json")
	if err != nil {
		return 0, 0, err
	}

	metrics.QueueDepth.WithLabelValues(q.name, "pending").Set(float64(pending))
	metrics.QueueDepth.WithLabelValues(q.name, "processing").Set(float64(processing))
	return pending, processing, nil
}

// writeEntry writes the payload first, then the metadata sidecar; a sidecar
// is only visible once its payload is durable. Callers hold q.mu.
func (q *Queue) writeEntry(dir string, entry *Entry, payload []byte) error {
	messagePath := filepath.Join(dir, entry.ID+".msg")
	if err := writeFileAtomic(messagePath, payload); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}

	jsonBytes, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		os.Remove(messagePath)
		return err
	}
	metadataPath := filepath.Join(dir, entry.ID+".json")
	if err := writeFileAtomic(metadataPath, jsonBytes); err != nil {
		os.Remove(messagePath)
		return fmt.Errorf("failed to write metadata: %w", err)
	}
	return nil
}

// writeFileAtomic writes data to a file atomically using temp file + rename.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, ".tmp-")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func countDir(dir string, ext string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == ext {
			count++
		}
	}
	return count, nil
}

// SizeMetadata formats a payload size for the original_size metadata key.
func SizeMetadata(n int) string {
	return strconv.Itoa(n)
}
