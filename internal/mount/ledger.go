package mount

import (
	"os"
	"sort"
	"sync"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/thoreinstein/borgsnap/internal/errors"
	"github.com/thoreinstein/borgsnap/pkg/fileutil"
)

// Record is one active mount binding in the persisted ledger.
// Records are written before the corresponding mount is attempted and
// removed after the unmount succeeds, so crash recovery always sees a
// superset of what is actually mounted.
type Record struct {
	// Dataset is the dataset whose snapshot is mounted. For descendant
	// mounts this is the parent dataset driving the pipeline.
	Dataset string `toml:"dataset"`

	// Label is the rotation label of the mounted capture.
	Label string `toml:"label"`

	// Snapshot is the full snapshot name mounted at Path.
	Snapshot string `toml:"snapshot"`

	// Path is the mount point.
	Path string `toml:"path"`

	// Seq orders records by creation. Teardown runs in reverse Seq order.
	Seq int `toml:"seq"`

	// MountedAt is when the record was written.
	MountedAt time.Time `toml:"mounted_at"`
}

// ledgerFile is the on-disk TOML shape.
type ledgerFile struct {
	Bindings []Record `toml:"binding"`
}

// Ledger persists active mount bindings to a TOML file with atomic writes.
type Ledger struct {
	path string
	mu   sync.Mutex
}

// NewLedger creates a ledger stored at path. The file is created lazily on
// the first append; a missing file reads as an empty ledger.
func NewLedger(path string) *Ledger {
	return &Ledger{path: path}
}

// Append records a binding and returns it with its sequence number set.
func (l *Ledger) Append(rec Record) (Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	recs, err := l.load()
	if err != nil {
		return Record{}, err
	}

	rec.Seq = nextSeq(recs)
	rec.MountedAt = time.Now().UTC()
	recs = append(recs, rec)

	if err := l.save(recs); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// Remove drops the record with the given mount path, if present.
func (l *Ledger) Remove(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	recs, err := l.load()
	if err != nil {
		return err
	}

	kept := recs[:0]
	for _, r := range recs {
		if r.Path != path {
			kept = append(kept, r)
		}
	}
	return l.save(kept)
}

// Active returns all recorded bindings ordered by creation.
func (l *Ledger) Active() ([]Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.load()
}

func (l *Ledger) load() ([]Record, error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "reading mount ledger")
	}

	var f ledgerFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrap(err, "parsing mount ledger")
	}

	sort.Slice(f.Bindings, func(i, j int) bool { return f.Bindings[i].Seq < f.Bindings[j].Seq })
	return f.Bindings, nil
}

func (l *Ledger) save(recs []Record) error {
	return fileutil.AtomicWriteTOML(l.path, ledgerFile{Bindings: recs}, 0600)
}

func nextSeq(recs []Record) int {
	max := 0
	for _, r := range recs {
		if r.Seq > max {
			max = r.Seq
		}
	}
	return max + 1
}
