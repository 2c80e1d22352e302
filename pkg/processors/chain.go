package processors

import (
	"context"

	"github.com/ruslano69/datasync/pkg/core/dataset"
	"github.com/ruslano69/datasync/pkg/core/syncerr"
)

// Chain выполняет процессоры по порядку, передавая результат дальше.
// Сам является и Processor, и Cleaner.
type Chain struct {
	name  string
	steps []Processor
}

func NewChain(steps ...Processor) *Chain {
	return &Chain{steps: steps}
}

// Name - имя очистителя, собравшего цепочку, или "chain"
func (c *Chain) Name() string {
	if c.name == "" {
		return "chain"
	}
	return c.name
}

func (c *Chain) Add(p Processor) { c.steps = append(c.steps, p) }

func (c *Chain) Len() int { return len(c.steps) }

func (c *Chain) Names() []string {
	names := make([]string, 0, len(c.steps))
	for _, p := range c.steps {
		names = append(names, p.Name())
	}
	return names
}

// Process работает с копией ds. nil считается пустым набором.
// Ошибка шага оборачивается как KindProcessing с его номером и именем.
func (c *Chain) Process(ctx context.Context, ds *dataset.Dataset, meta dataset.Metadata) (*dataset.Dataset, error) {
	const op = "processors.chain"
	out := &dataset.Dataset{}
	if ds != nil {
		out = ds.Clone()
	}
	for i, step := range c.steps {
		if err := ctx.Err(); err != nil {
			return nil, syncerr.Wrap(syncerr.KindProcessing, op, err)
		}
		next, err := step.Process(ctx, out, meta)
		if err != nil {
			return nil, syncerr.Wrapf(syncerr.KindProcessing, op, err, "step %d (%s)", i, step.Name())
		}
		out = next
	}
	return out, nil
}

func (c *Chain) Clean(ctx context.Context, ds *dataset.Dataset, meta dataset.Metadata) (*dataset.Dataset, error) {
	return c.Process(ctx, ds, meta)
}
