// Package storage implements the data store: per-owner JSON property
// documents and suffix-typed blobs persisted under an execution folder.
//
// Records are addressed by (ownerKind, ownerID) and live at
// <root>/<ownerKind>/<ownerID>/. ownerKind is either "node" or
// "package"; ownerID is the node id or package id. Each record has:
//
//	properties.json       a single JSON object, written atomically
//	data/<key>.binary      an opaque byte blob
//	data/<key>.text        an opaque string blob
//
// A key carries exactly one of the two suffixes at a time; setting a
// text blob removes any existing binary blob for that key and vice
// versa. Reads against a record that was never written return an empty
// map or an "unset" result rather than an error -- this package never
// requires the caller to pre-create a record.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/loomgraph/loom/pkg/metrics"
	"github.com/loomgraph/loom/pkg/types"
)

// OwnerKind distinguishes the two classes of record owner.
type OwnerKind string

const (
	OwnerNode    OwnerKind = "node"
	OwnerPackage OwnerKind = "package"
)

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// Store is the data store contract consumed by the wrapper layer.
//
// SetProperty accepts Unset and SetData accepts PayloadUnset
// (distinguished sentinels, see below) to delete a key; this mirrors the "value=unset removes the
// key" contract from the design rather than overloading nil, since nil
// is itself a valid JSON property value.
type Store interface {
	GetProperty(kind OwnerKind, ownerID, name string) (value any, ok bool, err error)
	SetProperty(kind OwnerKind, ownerID, name string, value any) error
	GetProperties(kind OwnerKind, ownerID string) (map[string]any, error)
	SetProperties(kind OwnerKind, ownerID string, values map[string]any) error

	GetData(kind OwnerKind, ownerID, key string) (payload any, kindOfPayload PayloadKind, ok bool, err error)
	SetData(kind OwnerKind, ownerID, key string, payload any, kindOfPayload PayloadKind) error

	// DeleteOwner removes every persisted record for one owner -- used
	// when a node is removed from the topology.
	DeleteOwner(kind OwnerKind, ownerID string) error

	Close() error
}

// PayloadKind distinguishes the two blob payload encodings.
type PayloadKind int

const (
	PayloadBinary PayloadKind = iota
	PayloadText
	PayloadUnset
)

// Unset is passed to SetProperty to delete a property key.
var Unset = struct{}{}

// FileStore is the filesystem-backed Store implementation rooted at one
// execution folder.
type FileStore struct {
	root string
	mu   sync.Mutex // serializes writes; see package doc for the atomic-replace contract
}

// NewFileStore creates (if necessary) the execution folder root and
// returns a Store over it.
func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create execution folder %q: %w", root, err)
	}
	return &FileStore{root: root}, nil
}

func (s *FileStore) ownerDir(kind OwnerKind, ownerID string) string {
	return filepath.Join(s.root, string(kind), ownerID)
}

func (s *FileStore) propertiesPath(kind OwnerKind, ownerID string) string {
	return filepath.Join(s.ownerDir(kind, ownerID), "properties.json")
}

func (s *FileStore) dataDir(kind OwnerKind, ownerID string) string {
	return filepath.Join(s.ownerDir(kind, ownerID), "data")
}

func validateKey(key string) error {
	if !keyPattern.MatchString(key) {
		return &types.InvalidKeyError{Key: key}
	}
	return nil
}

// GetProperties returns the full JSON document for one owner, or an
// empty map if the owner has never written one.
func (s *FileStore) GetProperties(kind OwnerKind, ownerID string) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readProperties(kind, ownerID)
}

func (s *FileStore) readProperties(kind OwnerKind, ownerID string) (map[string]any, error) {
	data, err := os.ReadFile(s.propertiesPath(kind, ownerID))
	if os.IsNotExist(err) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read properties for %s/%s: %w", kind, ownerID, err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode properties for %s/%s: %w", kind, ownerID, err)
	}
	return doc, nil
}

// GetProperty returns the decoded value of a single property, or
// ok=false if it is unset.
func (s *FileStore) GetProperty(kind OwnerKind, ownerID, name string) (any, bool, error) {
	doc, err := s.GetProperties(kind, ownerID)
	if err != nil {
		return nil, false, err
	}
	v, ok := doc[name]
	return v, ok, nil
}

// SetProperties merges values into the owner's JSON document. A value
// of Unset removes the corresponding key.
func (s *FileStore) SetProperties(kind OwnerKind, ownerID string, values map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readProperties(kind, ownerID)
	if err != nil {
		return err
	}
	for k, v := range values {
		if v == Unset {
			delete(doc, k)
			continue
		}
		doc[k] = v
	}
	return s.writeProperties(kind, ownerID, doc)
}

// SetProperty merges a single key into the owner's JSON document.
func (s *FileStore) SetProperty(kind OwnerKind, ownerID, name string, value any) error {
	return s.SetProperties(kind, ownerID, map[string]any{name: value})
}

func (s *FileStore) writeProperties(kind OwnerKind, ownerID string, doc map[string]any) error {
	dir := s.ownerDir(kind, ownerID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create owner directory %q: %w", dir, err)
	}
	encoded, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode properties for %s/%s: %w", kind, ownerID, err)
	}
	if err := atomicWrite(s.propertiesPath(kind, ownerID), encoded, 0o644); err != nil {
		return err
	}
	metrics.DataStoreWritesTotal.WithLabelValues(string(kind)).Inc()
	return nil
}

// GetData returns the blob stored under key, decoded according to
// whichever suffix file is present. ok is false if neither exists.
func (s *FileStore) GetData(kind OwnerKind, ownerID, key string) (any, PayloadKind, bool, error) {
	if err := validateKey(key); err != nil {
		return nil, PayloadUnset, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.dataDir(kind, ownerID)
	if data, err := os.ReadFile(filepath.Join(dir, key+".binary")); err == nil {
		return data, PayloadBinary, true, nil
	} else if !os.IsNotExist(err) {
		return nil, PayloadUnset, false, fmt.Errorf("failed to read blob %s/%s/%s: %w", kind, ownerID, key, err)
	}
	if data, err := os.ReadFile(filepath.Join(dir, key+".text")); err == nil {
		return string(data), PayloadText, true, nil
	} else if !os.IsNotExist(err) {
		return nil, PayloadUnset, false, fmt.Errorf("failed to read blob %s/%s/%s: %w", kind, ownerID, key, err)
	}
	return nil, PayloadUnset, false, nil
}

// SetData writes (or, for PayloadUnset, removes) the blob at key,
// always leaving at most one of the two suffix files behind.
func (s *FileStore) SetData(kind OwnerKind, ownerID, key string, payload any, payloadKind PayloadKind) error {
	if err := validateKey(key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := s.dataDir(kind, ownerID)
	binaryPath := filepath.Join(dir, key+".binary")
	textPath := filepath.Join(dir, key+".text")

	switch payloadKind {
	case PayloadUnset:
		_ = os.Remove(binaryPath)
		_ = os.Remove(textPath)
		metrics.DataStoreWritesTotal.WithLabelValues(string(kind)).Inc()
		return nil
	case PayloadBinary:
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create data directory %q: %w", dir, err)
		}
		bytesPayload, ok := payload.([]byte)
		if !ok {
			return fmt.Errorf("binary payload for key %q must be []byte", key)
		}
		if err := atomicWrite(binaryPath, bytesPayload, 0o644); err != nil {
			return err
		}
		_ = os.Remove(textPath)
		metrics.DataStoreWritesTotal.WithLabelValues(string(kind)).Inc()
		return nil
	case PayloadText:
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create data directory %q: %w", dir, err)
		}
		text, ok := payload.(string)
		if !ok {
			return fmt.Errorf("text payload for key %q must be string", key)
		}
		if err := atomicWrite(textPath, []byte(text), 0o644); err != nil {
			return err
		}
		_ = os.Remove(binaryPath)
		metrics.DataStoreWritesTotal.WithLabelValues(string(kind)).Inc()
		return nil
	default:
		return fmt.Errorf("unknown payload kind %d", payloadKind)
	}
}

// DeleteOwner removes the entire per-owner directory tree, including
// properties and all blobs.
func (s *FileStore) DeleteOwner(kind OwnerKind, ownerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.RemoveAll(s.ownerDir(kind, ownerID)); err != nil {
		return fmt.Errorf("failed to delete owner %s/%s: %w", kind, ownerID, err)
	}
	return nil
}

// Close is a no-op for the filesystem store; it exists so Store can be
// swapped for a transactional implementation without changing callers.
func (s *FileStore) Close() error {
	return nil
}

// atomicWrite writes data to a temp file in the same directory then
// renames it into place, so a concurrent reader never observes a
// partially written file.
func atomicWrite(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file in %q: %w", dir, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op if rename succeeded

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %q: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %q: %w", tmpPath, err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("failed to chmod %q: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename %q to %q: %w", tmpPath, path, err)
	}
	return nil
}
