package redis

import (
	"context"

	"github.com/redis/rueidis"

	"github.com/kailas-cloud/credex/internal/db"
)

// XAdd appends an entry to a stream and returns its server-assigned id.
func (s *Store) XAdd(ctx context.Context, key string, fields map[string]string) (string, error) {
	b := s.b().Xadd().Key(key).Id("*").FieldValue()
	for f, v := range fields {
		b = b.FieldValue(f, v)
	}
	id, err := s.do(ctx, b.Build()).ToString()
	if err != nil {
		return "", &db.Error{Op: db.OpXAdd, Err: err}
	}
	return id, nil
}

// XRange reads entries with ids in [start, end], at most count when count > 0.
func (s *Store) XRange(ctx context.Context, key, start, end string, count int) ([]db.StreamEntry, error) {
	var cmd rueidis.Completed
	if count > 0 {
		cmd = s.b().Xrange().Key(key).Start(start).End(end).Count(int64(count)).Build()
	} else {
		cmd = s.b().Xrange().Key(key).Start(start).End(end).Build()
	}

	entries, err := s.do(ctx, cmd).AsXRange()
	if err != nil {
		return nil, &db.Error{Op: db.OpXRange, Err: err}
	}

	out := make([]db.StreamEntry, len(entries))
	for i, e := range entries {
		out[i] = db.StreamEntry{ID: e.ID, Fields: e.FieldValues}
	}
	return out, nil
}

// XTrimMinID drops all entries with ids below minID.
func (s *Store) XTrimMinID(ctx context.Context, key, minID string) error {
	cmd := s.b().Xtrim().Key(key).Minid().Threshold(minID).Build()
	if err := s.do(ctx, cmd).Error(); err != nil {
		return &db.Error{Op: db.OpXTrim, Err: err}
	}
	return nil
}
