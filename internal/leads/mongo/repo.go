// Package mongo stores leads as documents in a "customers" collection with
// call logs embedded as an array.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"crm-calls/internal/leads"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	CollectionCustomers = "customers"

	// maxUpdateAttempts bounds the version-guarded retry loop of UpdateCallLog.
	maxUpdateAttempts = 5
)

// Open connects to uri and pings the primary.
func Open(ctx context.Context, uri string) (*mongo.Client, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetBSONOptions(&options.BSONOptions{DefaultDocumentM: true})
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo: connect: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo: ping: %w", err)
	}
	return client, nil
}

// leadDoc is the stored shape of a lead.
type leadDoc struct {
	ID         primitive.ObjectID `bson:"_id,omitempty"`
	leads.Lead `bson:",inline"`
}

func (d leadDoc) lead() leads.Lead {
	l := d.Lead
	l.ID = d.ID.Hex()
	if l.CallLogs == nil {
		l.CallLogs = []leads.CallLogEntry{}
	}
	return l
}

type Repo struct {
	coll  *mongo.Collection
	clock func() time.Time
}

func New(db *mongo.Database) *Repo {
	return &Repo{coll: db.Collection(CollectionCustomers), clock: time.Now}
}

// EnsureIndexes creates the unique email index and the callId lookup index.
func (r *Repo) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "email", Value: 1}},
			Options: options.Index().SetUnique(true).
				SetPartialFilterExpression(bson.M{"email": bson.M{"$gt": ""}}),
		},
		{Keys: bson.D{{Key: "callLogs.callId", Value: 1}}},
		{Keys: bson.D{{Key: "user", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("mongo: ensure indexes: %w", err)
	}
	return nil
}

func (r *Repo) ValidID(id string) bool {
	return primitive.IsValidObjectID(id)
}

func (r *Repo) CreateLead(ctx context.Context, l leads.Lead) (leads.Lead, error) {
	if strings.TrimSpace(l.Name) == "" {
		return leads.Lead{}, leads.ErrInvalidLead
	}
	l.Email = strings.ToLower(strings.TrimSpace(l.Email))
	if l.Status == "" {
		l.Status = leads.LeadStatusUntouched
	}
	now := r.clock().UTC()
	if l.CreatedAt.IsZero() {
		l.CreatedAt = now
	}
	l.UpdatedAt = now
	if l.CallLogs == nil {
		l.CallLogs = []leads.CallLogEntry{}
	}

	doc := leadDoc{ID: primitive.NewObjectID(), Lead: l}
	if l.ID != "" {
		oid, err := primitive.ObjectIDFromHex(l.ID)
		if err != nil {
			return leads.Lead{}, leads.ErrInvalidLead
		}
		doc.ID = oid
	}
	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return leads.Lead{}, leads.ErrDuplicateEmail
		}
		return leads.Lead{}, fmt.Errorf("mongo: insert lead: %w", err)
	}
	return doc.lead(), nil
}

func (r *Repo) GetLead(ctx context.Context, id string) (leads.Lead, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return leads.Lead{}, leads.ErrLeadNotFound
	}
	return r.findOne(ctx, bson.M{"_id": oid}, leads.ErrLeadNotFound)
}

func (r *Repo) findOne(ctx context.Context, filter bson.M, notFound error) (leads.Lead, error) {
	var doc leadDoc
	err := r.coll.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return leads.Lead{}, notFound
	}
	if err != nil {
		return leads.Lead{}, fmt.Errorf("mongo: find lead: %w", err)
	}
	return doc.lead(), nil
}

func (r *Repo) SetLeadStatus(ctx context.Context, leadID string, status leads.LeadStatus) error {
	oid, err := primitive.ObjectIDFromHex(leadID)
	if err != nil {
		return leads.ErrLeadNotFound
	}
	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": oid}, bson.M{"$set": bson.M{
		"status":    status,
		"updatedAt": r.clock().UTC(),
	}})
	if err != nil {
		return fmt.Errorf("mongo: set lead status: %w", err)
	}
	if res.MatchedCount == 0 {
		return leads.ErrLeadNotFound
	}
	return nil
}

// AppendCallLog pushes entry unless the lead already holds its callId.
func (r *Repo) AppendCallLog(ctx context.Context, leadID string, entry leads.CallLogEntry, status leads.LeadStatus, at time.Time) error {
	oid, err := primitive.ObjectIDFromHex(leadID)
	if err != nil {
		return leads.ErrLeadNotFound
	}
	set := bson.M{"lastCallAt": at.UTC(), "updatedAt": r.clock().UTC()}
	if status != "" {
		set["status"] = status
	}
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": oid, "callLogs.callId": bson.M{"$ne": entry.CallID}},
		bson.M{
			"$push": bson.M{"callLogs": withDefaults(entry)},
			"$inc":  bson.M{"totalCalls": 1},
			"$set":  set,
		})
	if err != nil {
		return fmt.Errorf("mongo: append call log: %w", err)
	}
	if res.MatchedCount == 0 {
		if _, err := r.GetLead(ctx, leadID); err != nil {
			return err
		}
		return leads.ErrDuplicateCallID
	}
	return nil
}

// UpdateCallLog rewrites one array element under an optimistic version guard.
// A concurrent write to the same element makes the guard miss and the whole
// read-modify-write is retried; writes to sibling elements never conflict.
func (r *Repo) UpdateCallLog(ctx context.Context, leadID, callID string, fn leads.MutateFunc) (leads.Lead, leads.CallLogEntry, error) {
	oid, err := primitive.ObjectIDFromHex(leadID)
	if err != nil {
		return leads.Lead{}, leads.CallLogEntry{}, leads.ErrLeadNotFound
	}

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		lead, err := r.findOne(ctx, bson.M{"_id": oid}, leads.ErrLeadNotFound)
		if err != nil {
			return leads.Lead{}, leads.CallLogEntry{}, err
		}
		idx := lead.FindCallLog(callID)
		if idx < 0 {
			return leads.Lead{}, leads.CallLogEntry{}, leads.ErrCallNotFound
		}

		prev := lead.CallLogs[idx].Version
		entry := lead.CallLogs[idx].Clone()
		change, err := fn(lead.Clone(), &entry)
		if err != nil {
			return leads.Lead{}, leads.CallLogEntry{}, err
		}
		if entry.CallID != callID {
			if other := lead.FindCallLog(entry.CallID); other >= 0 && other != idx {
				return leads.Lead{}, leads.CallLogEntry{}, leads.ErrDuplicateCallID
			}
		}
		entry.Version = prev + 1

		now := r.clock().UTC()
		set := bson.M{"callLogs.$": withDefaults(entry), "updatedAt": now}
		if change.LeadStatus != "" {
			set["status"] = change.LeadStatus
		}
		res, err := r.coll.UpdateOne(ctx, elementFilter(oid, callID, prev), bson.M{"$set": set})
		if err != nil {
			return leads.Lead{}, leads.CallLogEntry{}, fmt.Errorf("mongo: update call log %s: %w", callID, err)
		}
		if res.MatchedCount == 0 {
			continue
		}

		lead.CallLogs[idx] = entry
		if change.LeadStatus != "" {
			lead.Status = change.LeadStatus
		}
		lead.UpdatedAt = now
		return lead, entry.Clone(), nil
	}
	return leads.Lead{}, leads.CallLogEntry{}, leads.ErrConcurrentUpdate
}

// elementFilter matches the lead only while its callID element is still at
// version. Entries written before versioning have no version field.
func elementFilter(oid primitive.ObjectID, callID string, version int64) bson.M {
	var v any = version
	if version == 0 {
		v = bson.M{"$in": bson.A{int64(0), nil}}
	}
	return bson.M{
		"_id":      oid,
		"callLogs": bson.M{"$elemMatch": bson.M{"callId": callID, "version": v}},
	}
}

func (r *Repo) FindLeadByCallID(ctx context.Context, callID string) (leads.Lead, error) {
	return r.findOne(ctx, bson.M{"callLogs.callId": callID}, leads.ErrCallNotFound)
}

func (r *Repo) ListCallLogs(ctx context.Context, ownerID string) ([]leads.CallLogView, error) {
	cur, err := r.coll.Find(ctx, bson.M{
		"user":     ownerID,
		"callLogs": bson.M{"$exists": true, "$ne": bson.A{}},
	}, options.Find().SetProjection(bson.M{
		"name": 1, "email": 1, "phone": 1, "user": 1, "callLogs": 1,
	}))
	if err != nil {
		return nil, fmt.Errorf("mongo: list call logs: %w", err)
	}
	defer cur.Close(ctx)

	out := make([]leads.CallLogView, 0)
	for cur.Next(ctx) {
		var doc leadDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("mongo: decode lead: %w", err)
		}
		out = append(out, leads.Views(doc.lead())...)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("mongo: list call logs: %w", err)
	}
	leads.SortNewestFirst(out)
	return out, nil
}

func (r *Repo) ForEachLeadWithCallLogs(ctx context.Context, fn func(leads.Lead) error) error {
	cur, err := r.coll.Find(ctx, bson.M{"callLogs.0": bson.M{"$exists": true}})
	if err != nil {
		return fmt.Errorf("mongo: scan leads: %w", err)
	}
	defer cur.Close(ctx)

	for cur.Next(ctx) {
		var doc leadDoc
		if err := cur.Decode(&doc); err != nil {
			return fmt.Errorf("mongo: decode lead: %w", err)
		}
		if err := fn(doc.lead()); err != nil {
			return err
		}
	}
	return cur.Err()
}

// RewriteCallLogs replaces the whole callLogs array under a guard on its
// length and on every element's callId and version. An append or element
// update that lands after the read makes the guard miss, and the rewrite is
// recomputed from a fresh read.
func (r *Repo) RewriteCallLogs(ctx context.Context, leadID string, fn leads.RewriteFunc) (bool, error) {
	oid, err := primitive.ObjectIDFromHex(leadID)
	if err != nil {
		return false, leads.ErrLeadNotFound
	}

	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		lead, err := r.findOne(ctx, bson.M{"_id": oid}, leads.ErrLeadNotFound)
		if err != nil {
			return false, err
		}
		rw, ok := fn(lead.Clone())
		if !ok {
			return false, nil
		}
		if err := leads.CheckRewrite(lead, rw); err != nil {
			return false, err
		}

		docs := make([]leads.CallLogEntry, len(rw.Entries))
		for i, e := range rw.Entries {
			docs[i] = withDefaults(e)
			docs[i].Version = lead.CallLogs[i].Version + 1
		}
		set := bson.M{
			"callLogs":   docs,
			"totalCalls": rw.TotalCalls,
			"updatedAt":  r.clock().UTC(),
		}
		update := bson.M{"$set": set}
		if rw.LastCallAt != nil {
			set["lastCallAt"] = rw.LastCallAt.UTC()
		} else {
			update["$unset"] = bson.M{"lastCallAt": ""}
		}

		res, err := r.coll.UpdateOne(ctx, snapshotFilter(oid, lead.CallLogs), update)
		if err != nil {
			return false, fmt.Errorf("mongo: rewrite call logs: %w", err)
		}
		if res.MatchedCount == 1 {
			return true, nil
		}
	}
	return false, leads.ErrConcurrentUpdate
}

// snapshotFilter matches the lead only while its callLogs array still holds
// exactly entries, each at the version read.
func snapshotFilter(oid primitive.ObjectID, entries []leads.CallLogEntry) bson.M {
	f := bson.M{
		"_id":      oid,
		"callLogs": bson.M{"$size": len(entries)},
	}
	for i, e := range entries {
		prefix := "callLogs." + strconv.Itoa(i)
		f[prefix+".callId"] = e.CallID
		if e.Version == 0 {
			f[prefix+".version"] = bson.M{"$in": bson.A{int64(0), nil}}
		} else {
			f[prefix+".version"] = e.Version
		}
	}
	return f
}

// withDefaults fills the fields every stored entry must carry so array
// queries and decoders never see null slices.
func withDefaults(e leads.CallLogEntry) leads.CallLogEntry {
	if e.Direction == "" {
		e.Direction = leads.DirectionOutbound
	}
	if e.Events == nil {
		e.Events = []leads.RawEvent{}
	}
	if e.CallHistory == nil {
		e.CallHistory = []leads.HistoryEntry{}
	}
	return e
}
