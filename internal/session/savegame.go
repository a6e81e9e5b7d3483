package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/MrWong99/murmur/internal/world"
	"github.com/MrWong99/murmur/pkg/memory"
	"github.com/MrWong99/murmur/pkg/memory/flat"
	"github.com/MrWong99/murmur/pkg/provider/embeddings"
)

// Savegame file names. Per character there is also <npc_id>.index (the
// index blob, in-process backends only) and <npc_id>.json (the sidecar).
const (
	StateFile    = "state.json"
	ManifestFile = "manifest.json"
)

// ErrNoSave is returned when a directory holds no savegame.
var ErrNoSave = errors.New("session: no savegame")

// Manifest describes how a savegame's memories were embedded.
type Manifest struct {
	// Namespace prefixes the index namespace of every character, so
	// persisted backends reattach to the same rows after a restart.
	Namespace string `json:"namespace"`

	// EmbeddingModel and Dimensions pin the vector space of the save.
	EmbeddingModel string `json:"embedding_model,omitempty"`
	Dimensions     int    `json:"dimensions,omitempty"`

	// Tick is the simulation time the save was written at.
	Tick int64 `json:"simulation_time"`
}

// Memory opens per-character memory stores. The zero value gives characters
// no vector memory; their plain memory log still works.
type Memory struct {
	Embedder embeddings.Provider

	// Index opens the similarity index of one character. Defaults to the
	// in-process flat index.
	Index memory.IndexFactory
}

// Enabled reports whether characters get vector stores.
func (m Memory) Enabled() bool { return m.Embedder != nil }

func (m Memory) open(ctx context.Context, namespace, npcID string) (*memory.Store, error) {
	factory := m.Index
	if factory == nil {
		factory = flat.Factory
	}
	dims := m.Embedder.Dimensions()
	idx, err := factory(ctx, namespace+"/"+npcID, dims)
	if err != nil {
		return nil, fmt.Errorf("session: open index for %q: %w", npcID, err)
	}
	if idx.Dimensions() != dims {
		return nil, fmt.Errorf("session: index for %q has %d dimensions, embedder %d: %w",
			npcID, idx.Dimensions(), dims, memory.ErrDimensionMismatch)
	}
	return memory.NewStore(npcID, m.Embedder, idx), nil
}

// attach gives every character without a store a fresh one.
func (m Memory) attach(ctx context.Context, st *world.State, namespace string) error {
	if !m.Enabled() {
		return nil
	}
	for _, id := range st.CharacterIDs() {
		c, _ := st.Character(id)
		if c.Memory != nil {
			continue
		}
		store, err := m.open(ctx, namespace, id)
		if err != nil {
			return err
		}
		c.Memory = store
	}
	return nil
}

// ── Writing ─────────────────────────────────────────────────────────────────

// Save writes st to dir: the world state, the manifest and, per character
// with a store, the sidecar plus the index blob where the index lives in
// process memory. Each file is replaced atomically. The manifest's Tick and
// Dimensions are filled in from st.
func Save(dir string, man Manifest, st *world.State) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("session: save: %w", err)
	}

	man.Tick = st.Tick
	for _, id := range st.CharacterIDs() {
		if err := checkFileName(id); err != nil {
			return err
		}
		c, _ := st.Character(id)
		if c.Memory == nil {
			continue
		}
		if idx := c.Memory.Index(); idx != nil {
			man.Dimensions = idx.Dimensions()
			if snap, ok := idx.(memory.Snapshotter); ok {
				if err := writeFile(filepath.Join(dir, id+".index"), snap.WriteSnapshot); err != nil {
					return err
				}
			}
		}
		err := writeFile(filepath.Join(dir, id+".json"), func(w io.Writer) error {
			return c.Memory.WriteSidecar(w, st.Tick)
		})
		if err != nil {
			return err
		}
	}

	if err := writeFile(filepath.Join(dir, ManifestFile), func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(man)
	}); err != nil {
		return err
	}
	// state.json last: a directory with a state file is a complete save.
	return writeFile(filepath.Join(dir, StateFile), st.Encode)
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("session: write %s: %w", path, err)
	}
	tmp := f.Name()
	werr := write(f)
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr == nil {
		werr = os.Rename(tmp, path)
	}
	if werr != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("session: write %s: %w", path, werr)
	}
	return nil
}

func checkFileName(npcID string) error {
	if !filepath.IsLocal(npcID) || filepath.Base(npcID) != npcID {
		return fmt.Errorf("session: character id %q is not usable as a file name", npcID)
	}
	return nil
}

// ── Reading ─────────────────────────────────────────────────────────────────

// HasSave reports whether dir holds a savegame.
func HasSave(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, StateFile))
	return err == nil
}

// Load reads the savegame in dir and reattaches memory stores through mem.
// fallbackNamespace is used for saves written without a manifest. A save
// embedded with a different dimensionality than mem's embedder is rejected
// with memory.ErrDimensionMismatch.
func Load(ctx context.Context, dir string, mem Memory, fallbackNamespace string) (*world.State, Manifest, error) {
	f, err := os.Open(filepath.Join(dir, StateFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, Manifest{}, fmt.Errorf("%w in %s", ErrNoSave, dir)
	}
	if err != nil {
		return nil, Manifest{}, fmt.Errorf("session: load: %w", err)
	}
	st, err := world.Decode(f)
	f.Close()
	if err != nil {
		return nil, Manifest{}, fmt.Errorf("session: load %s: %w", dir, err)
	}

	man, err := readManifest(dir)
	if err != nil {
		return nil, Manifest{}, err
	}
	if man.Namespace == "" {
		man.Namespace = fallbackNamespace
	}
	if !mem.Enabled() {
		return st, man, nil
	}
	if want := mem.Embedder.Dimensions(); man.Dimensions != 0 && man.Dimensions != want {
		return nil, Manifest{}, fmt.Errorf("session: save %s has %d dimensions, embedder %d: %w",
			dir, man.Dimensions, want, memory.ErrDimensionMismatch)
	}

	for _, id := range st.CharacterIDs() {
		if err := checkFileName(id); err != nil {
			return nil, Manifest{}, err
		}
		store, err := mem.open(ctx, man.Namespace, id)
		if err != nil {
			return nil, Manifest{}, err
		}
		if err := restoreStore(ctx, dir, store); err != nil {
			return nil, Manifest{}, err
		}
		c, _ := st.Character(id)
		c.Memory = store
	}
	return st, man, nil
}

func readManifest(dir string) (Manifest, error) {
	var man Manifest
	b, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if errors.Is(err, fs.ErrNotExist) {
		return man, nil
	}
	if err != nil {
		return man, fmt.Errorf("session: load manifest: %w", err)
	}
	if err := json.Unmarshal(b, &man); err != nil {
		return man, fmt.Errorf("session: load manifest: %w", err)
	}
	return man, nil
}

// restoreStore loads the index blob (if the index keeps one) and then the
// sidecar. Missing files leave the store empty.
func restoreStore(ctx context.Context, dir string, store *memory.Store) error {
	id := store.Owner()
	if snap, ok := store.Index().(memory.Snapshotter); ok {
		err := readFile(filepath.Join(dir, id+".index"), snap.ReadSnapshot)
		if err != nil {
			return err
		}
	}
	return readFile(filepath.Join(dir, id+".json"), func(r io.Reader) error {
		sc, err := memory.ReadSidecar(r)
		if err != nil {
			return err
		}
		return store.Restore(ctx, sc)
	})
}

func readFile(path string, read func(io.Reader) error) error {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("session: read %s: %w", path, err)
	}
	defer f.Close()
	if err := read(f); err != nil {
		return fmt.Errorf("session: read %s: %w", path, err)
	}
	return nil
}
