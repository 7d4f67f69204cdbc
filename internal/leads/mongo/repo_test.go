package mongo

import (
	"testing"

	"crm-calls/internal/leads"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestValidID(t *testing.T) {
	r := &Repo{}
	if !r.ValidID(primitive.NewObjectID().Hex()) {
		t.Fatalf("expected object id to be valid")
	}
	for _, id := range []string{"", "abc", "123e4567-e89b-12d3-a456-426614174000"} {
		if r.ValidID(id) {
			t.Fatalf("expected %q to be invalid", id)
		}
	}
}

func TestElementFilter_LegacyEntriesMatchVersionZero(t *testing.T) {
	oid := primitive.NewObjectID()

	f := elementFilter(oid, "c1", 0)
	elem := f["callLogs"].(bson.M)["$elemMatch"].(bson.M)
	in, ok := elem["version"].(bson.M)
	if !ok {
		t.Fatalf("expected $in clause for version 0, got %v", elem["version"])
	}
	if vals := in["$in"].(bson.A); len(vals) != 2 || vals[1] != nil {
		t.Fatalf("unexpected $in values: %v", vals)
	}

	f = elementFilter(oid, "c1", 4)
	elem = f["callLogs"].(bson.M)["$elemMatch"].(bson.M)
	if elem["version"] != int64(4) || elem["callId"] != "c1" || f["_id"] != oid {
		t.Fatalf("unexpected filter: %v", f)
	}
}

func TestLeadDoc_RoundTrip(t *testing.T) {
	oid := primitive.NewObjectID()
	in := leadDoc{ID: oid, Lead: leads.Lead{
		OwnerID: "u1",
		Name:    "Ada",
		Status:  leads.LeadStatusHPL,
		CallLogs: []leads.CallLogEntry{withDefaults(leads.CallLogEntry{
			CallID:   "c1",
			Status:   leads.CallStatusInitiated,
			Metadata: map[string]any{"leadId": "l1"},
			Version:  2,
		})},
	}}
	raw, err := bson.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var probe bson.M
	if err := bson.Unmarshal(raw, &probe); err != nil {
		t.Fatalf("unmarshal probe: %v", err)
	}
	if probe["user"] != "u1" {
		t.Fatalf("expected owner stored as user, got %v", probe["user"])
	}
	if _, ok := probe["ID"]; ok {
		t.Fatalf("lead id must not be stored alongside _id")
	}

	var out leadDoc
	if err := bson.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	l := out.lead()
	if l.ID != oid.Hex() || len(l.CallLogs) != 1 {
		t.Fatalf("unexpected lead: %+v", l)
	}
	e := l.CallLogs[0]
	if e.Version != 2 || e.Direction != leads.DirectionOutbound || e.Events == nil {
		t.Fatalf("unexpected entry: %+v", e)
	}
}

func TestWithDefaults_KeepsSetFields(t *testing.T) {
	e := withDefaults(leads.CallLogEntry{Direction: leads.DirectionInbound})
	if e.Direction != leads.DirectionInbound || e.CallHistory == nil || e.Events == nil {
		t.Fatalf("unexpected entry: %+v", e)
	}
}

func TestSnapshotFilter_GuardsLengthAndVersions(t *testing.T) {
	oid := primitive.NewObjectID()
	f := snapshotFilter(oid, []leads.CallLogEntry{
		{CallID: "c1"},
		{CallID: "c2", Version: 3},
	})

	if f["_id"] != oid {
		t.Fatalf("unexpected id: %v", f["_id"])
	}
	if size := f["callLogs"].(bson.M)["$size"]; size != 2 {
		t.Fatalf("expected $size 2, got %v", size)
	}
	if f["callLogs.0.callId"] != "c1" || f["callLogs.1.callId"] != "c2" {
		t.Fatalf("expected positional callId guards, got %v", f)
	}
	if _, ok := f["callLogs.0.version"].(bson.M); !ok {
		t.Fatalf("expected legacy version clause for c1, got %v", f["callLogs.0.version"])
	}
	if f["callLogs.1.version"] != int64(3) {
		t.Fatalf("expected version 3 for c2, got %v", f["callLogs.1.version"])
	}

	empty := snapshotFilter(oid, nil)
	if size := empty["callLogs"].(bson.M)["$size"]; size != 0 {
		t.Fatalf("expected $size 0 for empty log, got %v", size)
	}
}
