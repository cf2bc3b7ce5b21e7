package scanner

import (
	"fmt"
	"testing"
	"time"

	"github.com/matterctl/mdnsscan/pkg/mcastnet"
	"github.com/matterctl/mdnsscan/pkg/mdnswire"
	"github.com/matterctl/mdnsscan/pkg/monoclock"
)

func newTestScheduler(clock monoclock.Clock, transport mcastnet.Transport) *QueryScheduler {
	return NewQueryScheduler(clock, mdnswire.NewDNSCodec(), transport, 1500, 1500*time.Millisecond, 3600*time.Second, testLogger())
}

func TestSchedulerSetQueryRecordsBroadcastsImmediately(t *testing.T) {
	clock := monoclock.NewFakeClock(0)
	transport := mcastnet.NewFakeTransport()
	s := newTestScheduler(clock, transport)

	s.SetQueryRecords("q1", []mdnswire.Question{{Name: "_matterc._udp.local", Type: mdnswire.TypePTR, Class: mdnswire.ClassIN}}, nil)

	if transport.SentCount() != 1 {
		t.Fatalf("SentCount() = %d, want 1 immediate broadcast", transport.SentCount())
	}
}

func TestSchedulerBackoffLaw(t *testing.T) {
	clock := monoclock.NewFakeClock(0)
	transport := mcastnet.NewFakeTransport()
	s := newTestScheduler(clock, transport)

	s.SetQueryRecords("q1", []mdnswire.Question{{Name: "x.local", Type: mdnswire.TypePTR, Class: mdnswire.ClassIN}}, nil)
	if transport.SentCount() != 1 {
		t.Fatalf("after SetQueryRecords: SentCount() = %d, want 1", transport.SentCount())
	}

	clock.Advance(1500 * time.Millisecond)
	if transport.SentCount() != 2 {
		t.Fatalf("after 1.5s: SentCount() = %d, want 2", transport.SentCount())
	}

	clock.Advance(3 * time.Second)
	if transport.SentCount() != 3 {
		t.Fatalf("after +3s: SentCount() = %d, want 3", transport.SentCount())
	}

	clock.Advance(6 * time.Second)
	if transport.SentCount() != 4 {
		t.Fatalf("after +6s: SentCount() = %d, want 4", transport.SentCount())
	}
}

func TestSchedulerRemoveQueryStopsBroadcasting(t *testing.T) {
	clock := monoclock.NewFakeClock(0)
	transport := mcastnet.NewFakeTransport()
	s := newTestScheduler(clock, transport)

	s.SetQueryRecords("q1", []mdnswire.Question{{Name: "x.local", Type: mdnswire.TypePTR, Class: mdnswire.ClassIN}}, nil)
	s.RemoveQuery("q1")

	before := transport.SentCount()
	clock.Advance(1 * time.Hour)
	if transport.SentCount() != before {
		t.Errorf("SentCount() grew after RemoveQuery, %d -> %d", before, transport.SentCount())
	}
}

func TestSchedulerSetQueryRecordsNoOpWhenNoNewQueries(t *testing.T) {
	clock := monoclock.NewFakeClock(0)
	transport := mcastnet.NewFakeTransport()
	s := newTestScheduler(clock, transport)

	q := mdnswire.Question{Name: "x.local", Type: mdnswire.TypePTR, Class: mdnswire.ClassIN}
	s.SetQueryRecords("q1", []mdnswire.Question{q}, nil)
	sentAfterFirst := transport.SentCount()

	s.SetQueryRecords("q1", []mdnswire.Question{q}, nil)
	if transport.SentCount() != sentAfterFirst {
		t.Errorf("SentCount() changed on duplicate SetQueryRecords, %d -> %d", sentAfterFirst, transport.SentCount())
	}
}

func TestSchedulerFragmentationRespectsMaxMessageSize(t *testing.T) {
	clock := monoclock.NewFakeClock(0)
	transport := mcastnet.NewFakeTransport()
	s := NewQueryScheduler(clock, mdnswire.NewDNSCodec(), transport, 512, 1500*time.Millisecond, 3600*time.Second, testLogger())

	queries := []mdnswire.Question{{Name: "_matterc._udp.local", Type: mdnswire.TypePTR, Class: mdnswire.ClassIN}}
	var answers []mdnswire.Record
	for i := 0; i < 20; i++ {
		answers = append(answers, mdnswire.Record{
			Name: "_matterc._udp.local", Type: mdnswire.TypePTR, TTL: 4500,
			Value: mdnswire.Value{Target: fmt.Sprintf("INSTANCE%020d._matterc._udp.local", i)},
		})
	}
	s.SetQueryRecords("q1", queries, answers)

	if transport.SentCount() < 2 {
		t.Fatalf("SentCount() = %d, want ≥2 fragments for 20 answers at 512-byte cap", transport.SentCount())
	}
	codec := mdnswire.NewDNSCodec()
	for i, sent := range transport.Sent {
		if len(sent) > 512 {
			t.Errorf("fragment %d is %d bytes, exceeds 512-byte max", i, len(sent))
		}
		msg, err := codec.Decode(sent)
		if err != nil || msg == nil {
			t.Fatalf("fragment %d failed to decode: %v", i, err)
		}
		wantType := mdnswire.TruncatedQuery
		if i == len(transport.Sent)-1 {
			wantType = mdnswire.Query
		}
		if msg.Type != wantType {
			t.Errorf("fragment %d type = %v, want %v", i, msg.Type, wantType)
		}
		if len(msg.Queries) != 1 {
			t.Errorf("fragment %d carries %d queries, want 1 (repeated in every fragment)", i, len(msg.Queries))
		}
	}
}

func TestSchedulerKnownAnswerGrowthDeduplicates(t *testing.T) {
	clock := monoclock.NewFakeClock(0)
	transport := mcastnet.NewFakeTransport()
	s := newTestScheduler(clock, transport)

	rec := mdnswire.Record{Name: "x.local", Type: mdnswire.TypePTR, TTL: 100, Value: mdnswire.Value{Target: "y.local"}}
	s.SetQueryRecords("q1", []mdnswire.Question{{Name: "x.local", Type: mdnswire.TypePTR, Class: mdnswire.ClassIN}}, []mdnswire.Record{rec})
	s.SetQueryRecords("q1", []mdnswire.Question{{Name: "z.local", Type: mdnswire.TypePTR, Class: mdnswire.ClassIN}}, []mdnswire.Record{rec})

	_, answers := s.flatten()
	if len(answers) != 1 {
		t.Fatalf("known-answer list = %d entries, want 1 (duplicate suppressed)", len(answers))
	}
}
