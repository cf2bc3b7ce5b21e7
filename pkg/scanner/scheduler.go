package scanner

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/matterctl/mdnsscan/pkg/mcastnet"
	"github.com/matterctl/mdnsscan/pkg/mdnswire"
	"github.com/matterctl/mdnsscan/pkg/monoclock"
)

type activeQuery struct {
	queryId string
	queries []mdnswire.Question
	answers []mdnswire.Record
}

// QueryScheduler implements spec §4.5: it owns the active query set and the
// single re-broadcast timer. Like RecordCache, it owns no lock of its own.
type QueryScheduler struct {
	clock     monoclock.Clock
	codec     mdnswire.Codec
	transport mcastnet.Transport
	logger    *slog.Logger

	maxMessageSize  int
	initialInterval time.Duration
	maxInterval     time.Duration

	active       map[string]*activeQuery
	nextInterval time.Duration
	timer        monoclock.Timer
}

// NewQueryScheduler constructs a scheduler with no active queries.
func NewQueryScheduler(clock monoclock.Clock, codec mdnswire.Codec, transport mcastnet.Transport, maxMessageSize int, initialInterval, maxInterval time.Duration, logger *slog.Logger) *QueryScheduler {
	return &QueryScheduler{
		clock:           clock,
		codec:           codec,
		transport:       transport,
		logger:          logger,
		maxMessageSize:  maxMessageSize,
		initialInterval: initialInterval,
		maxInterval:     maxInterval,
		active:          map[string]*activeQuery{},
		nextInterval:    initialInterval,
	}
}

// HasActiveQuery reports whether queryId currently has an ActiveQuery.
func (s *QueryScheduler) HasActiveQuery(queryId string) bool {
	_, ok := s.active[queryId]
	return ok
}

// AllKnownAnswers flattens the answer lists of every active query, giving
// the correlator its "formerAnswers" context (spec §4.6 step 3).
func (s *QueryScheduler) AllKnownAnswers() []mdnswire.Record {
	var out []mdnswire.Record
	for _, id := range s.sortedIDs() {
		out = append(out, s.active[id].answers...)
	}
	return out
}

// SetQueryRecords implements spec §4.5 setQueryRecords. It returns the
// error, if any, from the immediate broadcast it triggers.
func (s *QueryScheduler) SetQueryRecords(queryId string, queries []mdnswire.Question, knownAnswers []mdnswire.Record) error {
	aq, exists := s.active[queryId]
	if exists {
		fresh := diffQuestions(aq.queries, queries)
		if len(fresh) == 0 {
			return nil
		}
		aq.queries = append(aq.queries, fresh...)
	} else {
		aq = &activeQuery{queryId: queryId, queries: dedupQuestions(queries)}
		s.active[queryId] = aq
	}
	aq.answers = appendKnownAnswers(aq.answers, knownAnswers)

	s.nextInterval = s.initialInterval
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	return s.fire()
}

// RemoveQuery implements spec §4.5 removeQuery.
func (s *QueryScheduler) RemoveQuery(queryId string) {
	if _, ok := s.active[queryId]; !ok {
		return
	}
	delete(s.active, queryId)
	if len(s.active) == 0 {
		if s.timer != nil {
			s.timer.Stop()
			s.timer = nil
		}
		s.nextInterval = s.initialInterval
	}
}

// fire implements one broadcast per spec §4.5's numbered steps: reschedule
// first (using the current interval before doubling it), then assemble and
// send.
func (s *QueryScheduler) fire() error {
	if len(s.active) == 0 {
		return nil
	}

	delay := s.nextInterval
	s.nextInterval = minDuration(s.nextInterval*2, s.maxInterval)
	s.timer = s.clock.AfterFunc(delay, func() {
		if err := s.fire(); err != nil {
			s.logger.Warn("mdns scheduled broadcast failed", "err", err)
		}
	})

	queries, answers := s.flatten()
	err := s.sendFragments(queries, answers)
	if err != nil {
		s.logger.Warn("mdns broadcast send failed", "err", err)
	}
	return err
}

func (s *QueryScheduler) flatten() ([]mdnswire.Question, []mdnswire.Record) {
	var queries []mdnswire.Question
	var answers []mdnswire.Record
	for _, id := range s.sortedIDs() {
		aq := s.active[id]
		queries = append(queries, aq.queries...)
		answers = append(answers, aq.answers...)
	}
	return dedupQuestions(queries), answers
}

func (s *QueryScheduler) sortedIDs() []string {
	ids := make([]string, 0, len(s.active))
	for id := range s.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// sendFragments implements spec §4.5 step 3-5: pack known answers into
// successive messages bounded by maxMessageSize, all but the last carrying
// TruncatedQuery.
func (s *QueryScheduler) sendFragments(queries []mdnswire.Question, answers []mdnswire.Record) error {
	emptyMsg := &mdnswire.Message{Type: mdnswire.Query, TransactionID: 0, Queries: queries}
	emptyEncoded, err := s.codec.Encode(emptyMsg)
	if err != nil {
		return fmt.Errorf("mdns scheduler: encode empty message: %w", err)
	}
	emptyLen := len(emptyEncoded)

	var fragments [][]mdnswire.Record
	cur := []mdnswire.Record{}
	curLen := emptyLen

	for _, ans := range answers {
		recBytes, err := s.codec.EncodeRecord(&ans)
		if err != nil {
			s.logger.Warn("mdns scheduler: dropping unencodable known answer", "name", ans.Name, "err", err)
			continue
		}
		added := len(recBytes)

		if len(cur) == 0 {
			if curLen+added > s.maxMessageSize {
				s.logger.Warn("mdns scheduler: oversized single answer sent anyway", "name", ans.Name, "size", curLen+added)
			}
			cur = append(cur, ans)
			curLen += added
			continue
		}

		if curLen+added > s.maxMessageSize {
			fragments = append(fragments, cur)
			cur = []mdnswire.Record{ans}
			curLen = emptyLen + added
			continue
		}
		cur = append(cur, ans)
		curLen += added
	}
	fragments = append(fragments, cur)

	for i, frag := range fragments {
		msgType := mdnswire.Query
		if i != len(fragments)-1 {
			msgType = mdnswire.TruncatedQuery
		}
		msg := &mdnswire.Message{Type: msgType, TransactionID: 0, Queries: queries, Answers: frag}
		data, err := s.codec.Encode(msg)
		if err != nil {
			return fmt.Errorf("mdns scheduler: encode fragment: %w", err)
		}
		if err := s.transport.Send(data); err != nil {
			return fmt.Errorf("mdns scheduler: send fragment: %w", err)
		}
	}
	return nil
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

// diffQuestions returns the entries of candidate not equal in
// (Name, Type, Class) to any entry of existing.
func diffQuestions(existing, candidate []mdnswire.Question) []mdnswire.Question {
	seen := map[mdnswire.Question]bool{}
	for _, q := range existing {
		seen[q] = true
	}
	var out []mdnswire.Question
	for _, q := range candidate {
		if !seen[q] {
			seen[q] = true
			out = append(out, q)
		}
	}
	return out
}

func dedupQuestions(qs []mdnswire.Question) []mdnswire.Question {
	seen := map[mdnswire.Question]bool{}
	var out []mdnswire.Question
	for _, q := range qs {
		if !seen[q] {
			seen[q] = true
			out = append(out, q)
		}
	}
	return out
}

// appendKnownAnswers appends add to existing, deduplicating by
// (name, recordType, rdata) per spec §9.
func appendKnownAnswers(existing, add []mdnswire.Record) []mdnswire.Record {
	seen := map[string]bool{}
	for _, r := range existing {
		seen[recordKey(r)] = true
	}
	for _, r := range add {
		k := recordKey(r)
		if seen[k] {
			continue
		}
		seen[k] = true
		existing = append(existing, r)
	}
	return existing
}

func recordKey(r mdnswire.Record) string {
	switch r.Type {
	case mdnswire.TypeA, mdnswire.TypeAAAA:
		return fmt.Sprintf("%s|%s|%s", r.Name, r.Type, r.Value.IP.String())
	case mdnswire.TypeSRV:
		return fmt.Sprintf("%s|%s|%s:%d", r.Name, r.Type, r.Value.Target, r.Value.Port)
	case mdnswire.TypePTR:
		return fmt.Sprintf("%s|%s|%s", r.Name, r.Type, r.Value.Target)
	case mdnswire.TypeTXT:
		return fmt.Sprintf("%s|%s|%v", r.Name, r.Type, r.Value.Text)
	default:
		return fmt.Sprintf("%s|%s", r.Name, r.Type)
	}
}
