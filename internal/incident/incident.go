// Package incident resolves incident ids to their records.
package incident

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/agenthands/tsgcopilot/internal/core/model"
	"github.com/agenthands/tsgcopilot/internal/driver"
)

var ErrNotFound = errors.New("incident not found")

type Lookup interface {
	Get(ctx context.Context, id string) (*model.Incident, error)
}

// GraphLookup reads incidents stored as :Incident nodes.
type GraphLookup struct {
	Driver driver.GraphDriver
}

func NewGraphLookup(d driver.GraphDriver) *GraphLookup {
	return &GraphLookup{Driver: d}
}

func (l *GraphLookup) Get(ctx context.Context, id string) (*model.Incident, error) {
	res, err := l.Driver.ExecuteQuery(ctx, driver.GetIncidentQuery, map[string]interface{}{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get incident %s: %w", id, err)
	}
	if len(res.Records) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	rec := res.Records[0]
	return &model.Incident{
		ID:        str(rec, "id"),
		Title:     str(rec, "title"),
		Summary:   str(rec, "summary"),
		MonitorID: str(rec, "monitor_id"),
		Start:     timestamp(rec, "start"),
		End:       timestamp(rec, "end"),
	}, nil
}

// Save writes an incident record.
func (l *GraphLookup) Save(ctx context.Context, inc *model.Incident) error {
	params := map[string]interface{}{
		"id":         inc.ID,
		"title":      inc.Title,
		"summary":    inc.Summary,
		"monitor_id": inc.MonitorID,
		"start":      inc.Start.UTC().Format(time.RFC3339),
		"end":        "",
	}
	if !inc.End.IsZero() {
		params["end"] = inc.End.UTC().Format(time.RFC3339)
	}
	if _, err := l.Driver.ExecuteQuery(ctx, driver.SaveIncidentQuery, params); err != nil {
		return fmt.Errorf("save incident %s: %w", inc.ID, err)
	}
	return nil
}

func str(rec *neo4j.Record, key string) string {
	v, _ := rec.Get(key)
	s, _ := v.(string)
	return s
}

func timestamp(rec *neo4j.Record, key string) time.Time {
	v, _ := rec.Get(key)
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		if err == nil {
			return parsed
		}
	}
	return time.Time{}
}

// Static serves incidents from memory.
type Static struct {
	mu        sync.RWMutex
	incidents map[string]model.Incident
}

func NewStatic(incidents ...model.Incident) *Static {
	s := &Static{incidents: make(map[string]model.Incident, len(incidents))}
	for _, inc := range incidents {
		s.incidents[inc.ID] = inc
	}
	return s
}

func (s *Static) Put(inc model.Incident) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.incidents[inc.ID] = inc
}

func (s *Static) Get(ctx context.Context, id string) (*model.Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inc, ok := s.incidents[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return &inc, nil
}
