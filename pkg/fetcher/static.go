package fetcher

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ruslano69/datasync/pkg/core/dataset"
)

// Static отдает заранее заданные наборы. Используется в тестах и демо.
type Static struct {
	name   string
	sets   map[string]*dataset.Dataset
	logger zerolog.Logger
	now    func() time.Time
}

// NewStatic создает источник с наборами по именам интерфейсов
func NewStatic(name string, sets map[string]*dataset.Dataset) *Static {
	if name == "" {
		name = "static"
	}
	return &Static{name: name, sets: sets, logger: zerolog.Nop(), now: time.Now}
}

// newStaticFromParams:
//
//	params:
//	  interfaces:
//	    prices:
//	      - {id: 1, price: 10.5}
//	      - {id: 2, price: 11}
func newStaticFromParams(_ context.Context, params map[string]any, logger zerolog.Logger) (Fetcher, error) {
	raw, ok := params["interfaces"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("static fetcher requires 'interfaces' mapping")
	}
	sets := make(map[string]*dataset.Dataset, len(raw))
	for iface, v := range raw {
		list, ok := v.([]any)
		if !ok {
			return nil, fmt.Errorf("interface %s: expected list of rows, got %T", iface, v)
		}
		records := make([]map[string]any, len(list))
		for i, item := range list {
			rec, ok := item.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("interface %s row %d: expected mapping, got %T", iface, i, item)
			}
			records[i] = rec
		}
		sets[iface] = dataset.FromRecords(nil, records)
	}
	s := NewStatic("static", sets)
	s.logger = logger
	return s, nil
}

func (s *Static) Name() string { return s.name }

// Fetch возвращает копию набора интерфейса
func (s *Static) Fetch(ctx context.Context, iface string, params map[string]any) (*Result, error) {
	ds, ok := s.sets[iface]
	if !ok {
		return nil, unknownInterface("fetcher.static", iface, s.Interfaces())
	}
	out := ds.Clone()
	if out == nil {
		out = &dataset.Dataset{}
	}
	s.logger.Debug().Str("interface", iface).Int("rows", out.Len()).Msg("static dataset served")
	return &Result{Dataset: out, Metadata: newMetadata(s.name, iface, params, out, s.now())}, nil
}

func (s *Static) Interfaces() []string {
	return sortedKeys(s.sets)
}
