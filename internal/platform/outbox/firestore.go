// Package outbox contains the Firestore-backed durable outbox: the per-key
// FIFO fallback queue for clients that are temporarily offline.
package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	"github.com/sanushilshad/vitis-sub000/pkg/notify"
)

const notificationsSubcollection = "notifications"

// storedNotification is the document layout of one outbox row. Rows are
// inserted and deleted, never updated in place.
type storedNotification struct {
	QueuedAt  time.Time `firestore:"queued_at"`
	Key       string    `firestore:"connection_key"`
	Action    string    `firestore:"action"`
	Payload   []byte    `firestore:"payload"`
	CreatedOn time.Time `firestore:"created_on"`
}

// FirestoreOutbox implements notify.Outbox on Google Cloud Firestore. Rows
// live under {collection}/{connection key}/notifications/{envelope id},
// ordered by queued_at within their key.
type FirestoreOutbox struct {
	client         *firestore.Client
	collectionName string
	logger         *slog.Logger
}

// NewFirestoreOutbox is the constructor for the FirestoreOutbox.
func NewFirestoreOutbox(client *firestore.Client, collectionName string, logger *slog.Logger) (*FirestoreOutbox, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client cannot be nil")
	}
	if collectionName == "" {
		return nil, fmt.Errorf("collectionName cannot be empty")
	}
	return &FirestoreOutbox{
		client:         client,
		collectionName: collectionName,
		logger:         logger.With("component", "firestore_outbox", "collection", collectionName),
	}, nil
}

func (s *FirestoreOutbox) keyCollection(key notify.ConnectionKey) *firestore.CollectionRef {
	return s.client.Collection(s.collectionName).Doc(string(key)).Collection(notificationsSubcollection)
}

func toStored(env *notify.Envelope) *storedNotification {
	return &storedNotification{
		QueuedAt:  time.Now().UTC(),
		Key:       string(env.Key),
		Action:    env.Action.String(),
		Payload:   env.Payload,
		CreatedOn: env.CreatedOn,
	}
}

func (m *storedNotification) toEnvelope(id string) (*notify.Envelope, error) {
	action, err := notify.ParseActionType(m.Action)
	if err != nil {
		return nil, err
	}
	return &notify.Envelope{
		ID:        id,
		Key:       notify.ConnectionKey(m.Key),
		Action:    action,
		Payload:   m.Payload,
		CreatedOn: m.CreatedOn,
	}, nil
}

// Enqueue inserts one row for the envelope's key. The envelope ID doubles as
// the document ID, so a retried enqueue of the same envelope is a no-op
// conflict rather than a duplicate row.
func (s *FirestoreOutbox) Enqueue(ctx context.Context, env *notify.Envelope) error {
	log := s.logger.With("key", env.Key)

	docRef := s.keyCollection(env.Key).Doc(env.ID)
	if _, err := docRef.Create(ctx, toStored(env)); err != nil {
		log.Error("Failed to enqueue notification to outbox", "err", err)
		return fmt.Errorf("enqueue outbox row %s: %w", env.ID, err)
	}
	log.Debug("Enqueued notification to outbox", "doc_id", docRef.ID)
	return nil
}

// DrainForKey reads every row for the key in created-on order inside one
// transaction, hands each envelope to deliver, and deletes the rows. Any
// error aborts the whole drain. Firestore serializes transactions that touch
// the same documents, so concurrent drains of one key cannot both commit a
// delete of the same row; the losing transaction retries against an empty
// set. Delivery happens inside the transaction, so a retried transaction can
// re-deliver a row: the channel is at-least-once by contract.
func (s *FirestoreOutbox) DrainForKey(ctx context.Context, key notify.ConnectionKey, deliver func(env *notify.Envelope)) (int, error) {
	collectionRef := s.keyCollection(key)
	log := s.logger.With("key", key)

	var drained int
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		drained = 0
		query := collectionRef.OrderBy("queued_at", firestore.Asc)
		docSnaps, err := tx.Documents(query).GetAll()
		if err != nil {
			return err
		}

		for _, doc := range docSnaps {
			var stored storedNotification
			if err := doc.DataTo(&stored); err != nil {
				return fmt.Errorf("unmarshal outbox row %s: %w", doc.Ref.ID, err)
			}
			env, err := stored.toEnvelope(doc.Ref.ID)
			if err != nil {
				return fmt.Errorf("decode outbox row %s: %w", doc.Ref.ID, err)
			}

			deliver(env)
			if err := tx.Delete(doc.Ref); err != nil {
				return err
			}
			drained++
		}
		return nil
	})
	if err != nil {
		log.Error("Outbox drain transaction failed", "err", err)
		return 0, fmt.Errorf("drain outbox for key %s: %w", key, err)
	}

	if drained > 0 {
		log.Debug("Drained outbox rows", "count", drained)
	}
	return drained, nil
}

// RetrieveBatch fetches up to limit rows for the key, oldest first, without
// removing them.
func (s *FirestoreOutbox) RetrieveBatch(ctx context.Context, key notify.ConnectionKey, limit int) ([]*notify.QueuedNotification, error) {
	log := s.logger.With("key", key)

	query := s.keyCollection(key).OrderBy("queued_at", firestore.Asc).Limit(limit)
	docSnaps, err := query.Documents(ctx).GetAll()
	if err != nil {
		log.Error("Failed to retrieve outbox batch", "err", err)
		return nil, fmt.Errorf("retrieve outbox batch: %w", err)
	}

	notifications := make([]*notify.QueuedNotification, 0, len(docSnaps))
	for _, doc := range docSnaps {
		var stored storedNotification
		if err := doc.DataTo(&stored); err != nil {
			log.Error("Failed to unmarshal outbox row, skipping", "err", err, "doc_id", doc.Ref.ID)
			continue
		}
		env, err := stored.toEnvelope(doc.Ref.ID)
		if err != nil {
			log.Error("Failed to decode outbox row, skipping", "err", err, "doc_id", doc.Ref.ID)
			continue
		}
		notifications = append(notifications, &notify.QueuedNotification{ID: doc.Ref.ID, Envelope: env})
	}
	return notifications, nil
}

// DeleteDelivered permanently removes rows by ID after confirmed delivery.
func (s *FirestoreOutbox) DeleteDelivered(ctx context.Context, key notify.ConnectionKey, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	log := s.logger.With("key", key)
	collectionRef := s.keyCollection(key)

	bulkWriter := s.client.BulkWriter(ctx)
	var firstErr error
	for _, id := range ids {
		if _, err := bulkWriter.Delete(collectionRef.Doc(id)); err != nil {
			log.Error("Failed to enqueue outbox row for deletion", "err", err, "doc_id", id)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	bulkWriter.End()

	if firstErr != nil {
		return fmt.Errorf("delete delivered outbox rows: %w", firstErr)
	}
	log.Info("Deleted delivered outbox rows", "count", len(ids))
	return nil
}

// PendingKeys lists up to limit keys that have outbox documents. Parent docs
// are never written, so DocumentRefs is the only way to find the keys that
// exist purely as subcollection anchors.
func (s *FirestoreOutbox) PendingKeys(ctx context.Context, limit int) ([]notify.ConnectionKey, error) {
	refs := s.client.Collection(s.collectionName).DocumentRefs(ctx)

	keys := make([]notify.ConnectionKey, 0, limit)
	for len(keys) < limit {
		ref, err := refs.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			s.logger.Error("Failed to iterate pending outbox keys", "err", err)
			return nil, fmt.Errorf("list pending outbox keys: %w", err)
		}
		keys = append(keys, notify.ConnectionKey(ref.ID))
	}
	return keys, nil
}
