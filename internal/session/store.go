// Package session persists the resumable run state, keyed by document
// identity. Saves replace the whole record so a crash can never leave a
// half-written session to resume from.
package session

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/doctag-cli/internal/model"
)

// ErrNotFound is returned by Load when no session exists for the key.
var ErrNotFound = eris.New("session: not found")

// Store is the persistence interface for run state. Save overwrites the
// record wholesale; there is no append-only log.
type Store interface {
	Load(ctx context.Context, key string) (*model.Session, error)
	Save(ctx context.Context, key string, sess *model.Session) error
	Clear(ctx context.Context, key string) error
	Close() error
}

// Lister is implemented by stores that can enumerate every session.
// The sessions CLI subcommands rely on it.
type Lister interface {
	List(ctx context.Context) ([]model.Session, error)
}

// LoadOrCreate returns the stored session for the document when its identity
// matches, otherwise discards any stale record and starts a fresh session.
func LoadOrCreate(ctx context.Context, store Store, doc model.DocumentIdentity) (*model.Session, bool, error) {
	key := doc.Key()
	sess, err := store.Load(ctx, key)
	switch {
	case eris.Is(err, ErrNotFound):
	case err != nil:
		return nil, false, err
	case sess.Document.Matches(doc) && !sess.Completed:
		return sess, true, nil
	default:
		if err := store.Clear(ctx, key); err != nil {
			return nil, false, err
		}
	}

	return &model.Session{
		ID:        uuid.NewString(),
		Document:  doc,
		UpdatedAt: time.Now().UTC(),
	}, false, nil
}
