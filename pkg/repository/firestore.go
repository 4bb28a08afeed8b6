package repository

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/jrodrigosm/llm-user-memory/pkg/model"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultFirestoreCollection = "profiles"
	defaultFirestoreDocument   = "default"
)

// firestoreProfile is the document layout in Firestore
type firestoreProfile struct {
	Content    string    `firestore:"content"`
	Checkpoint string    `firestore:"checkpoint"`
	UpdatedAt  time.Time `firestore:"updated_at"`
}

// Firestore stores the profile as one Firestore document. Commits run inside
// a transaction, which gives the compare-and-commit for free.
type Firestore struct {
	client     *firestore.Client
	collection string
	document   string
}

var _ Repository = (*Firestore)(nil)

// FirestoreOption is a functional option for Firestore
type FirestoreOption func(*Firestore)

// WithFirestoreCollection overrides the collection name
func WithFirestoreCollection(name string) FirestoreOption {
	return func(r *Firestore) {
		r.collection = name
	}
}

// WithFirestoreDocument overrides the document ID (one per user)
func WithFirestoreDocument(id string) FirestoreOption {
	return func(r *Firestore) {
		r.document = id
	}
}

// NewFirestore creates a new Firestore repository
func NewFirestore(ctx context.Context, projectID, databaseID string, opts ...FirestoreOption) (*Firestore, error) {
	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("project", projectID),
			goerr.V("database", databaseID))
	}

	r := &Firestore{
		client:     client,
		collection: defaultFirestoreCollection,
		document:   defaultFirestoreDocument,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Close releases the underlying client
func (r *Firestore) Close() error {
	return r.client.Close()
}

func (r *Firestore) ref() *firestore.DocumentRef {
	return r.client.Collection(r.collection).Doc(r.document)
}

func (r *Firestore) Load(ctx context.Context) (*model.Profile, error) {
	snap, err := r.ref().Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return &model.Profile{}, nil
		}
		return nil, goerr.Wrap(transient(err), "failed to get profile document")
	}
	return decodeSnapshot(snap)
}

func (r *Firestore) CommitIfCheckpoint(ctx context.Context, expected model.EntryID, content string, next model.EntryID) (bool, error) {
	if err := checkAdvance(expected, next); err != nil {
		return false, err
	}

	var committed bool
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		committed = false

		current, err := r.getInTx(tx)
		if err != nil {
			return err
		}
		if current.Checkpoint != expected {
			return nil
		}

		committed = true
		return tx.Set(r.ref(), &firestoreProfile{
			Content:    content,
			Checkpoint: string(next),
			UpdatedAt:  time.Now().UTC(),
		})
	})
	if err != nil {
		return false, goerr.Wrap(transient(err), "failed to commit profile",
			goerr.V("expected", expected),
			goerr.V("next", next))
	}

	return committed, nil
}

func (r *Firestore) Clear(ctx context.Context, keepCheckpoint bool) error {
	err := r.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		cleared := &firestoreProfile{UpdatedAt: time.Now().UTC()}
		if keepCheckpoint {
			current, err := r.getInTx(tx)
			if err != nil {
				return err
			}
			cleared.Checkpoint = string(current.Checkpoint)
		}
		return tx.Set(r.ref(), cleared)
	})
	if err != nil {
		return goerr.Wrap(transient(err), "failed to clear profile")
	}
	return nil
}

func (r *Firestore) getInTx(tx *firestore.Transaction) (*model.Profile, error) {
	snap, err := tx.Get(r.ref())
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return &model.Profile{}, nil
		}
		return nil, err
	}
	return decodeSnapshot(snap)
}

func decodeSnapshot(snap *firestore.DocumentSnapshot) (*model.Profile, error) {
	var doc firestoreProfile
	if err := snap.DataTo(&doc); err != nil {
		return nil, goerr.Wrap(err, "failed to decode profile document")
	}
	return &model.Profile{
		Content:    doc.Content,
		Checkpoint: model.EntryID(doc.Checkpoint),
		UpdatedAt:  doc.UpdatedAt,
	}, nil
}
