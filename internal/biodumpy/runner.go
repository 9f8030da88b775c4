package biodumpy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
)

// RunnerConfig controls Runner behavior.
type RunnerConfig struct {
	// ContinueOnError keeps the loop going after a module fails.
	ContinueOnError bool
	// JobID is stamped on every Dump when the run belongs to a job.
	JobID string
}

// Deps are the collaborators a Runner writes through.
type Deps struct {
	Store     BlobStore
	Hasher    Hasher
	Clock     Clock
	Recorders []DumpRecorder
	Observers []Observer
	Logger    *zap.Logger
}

// Runner drives every input over every element and dumps the results.
type Runner struct {
	inputs []Input
	deps   Deps
	cfg    RunnerConfig
	logger *zap.Logger
	sleep  func(ctx context.Context, d time.Duration) error
}

// NewRunner constructs a Runner. Inputs run in the order given.
func NewRunner(inputs []Input, deps Deps, cfg RunnerConfig) (*Runner, error) {
	if len(inputs) == 0 {
		return nil, errors.New("no input modules configured")
	}
	if deps.Store == nil {
		return nil, errors.New("blob store is required")
	}
	if deps.Clock == nil {
		deps.Clock = systemClock{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		inputs: inputs,
		deps:   deps,
		cfg:    cfg,
		logger: logger.Named("runner"),
		sleep:  sleepContext,
	}, nil
}

// Start processes elements in order. The returned error aggregates every
// module failure; the summary is valid even when an error is returned.
func (r *Runner) Start(ctx context.Context, elements []Element, outputTemplate string) (Summary, error) {
	date := r.deps.Clock.Now().Format(DateLayout)
	bulk := make(map[string]Payload, len(r.inputs))
	for _, in := range r.inputs {
		if in.Settings().Bulk {
			bulk[in.Name()] = Payload{}
		}
	}

	var (
		summary Summary
		errs    *multierror.Error
	)
	queue := make([]Element, 0, len(elements))
	for _, el := range elements {
		if !el.IsZero() {
			queue = append(queue, el)
		}
	}

	for i, el := range queue {
		if err := ctx.Err(); err != nil {
			return summary, multierror.Append(errs, err).ErrorOrNil()
		}
		summary.Elements++
		r.notifyStarted(el, i, len(queue))
		for _, in := range r.inputs {
			name := in.Name()
			settings := in.Settings()
			payload, err := in.Download(ctx, el)
			if err != nil {
				summary.Failures++
				modErr := &ModuleError{Module: name, Query: el.Query, Err: err}
				errs = multierror.Append(errs, modErr)
				r.notifyFinished(name, el, 0, err)
				if errors.Is(err, ErrNotFound) {
					r.logger.Warn("no records", zap.String("module", name), zap.String("query", el.Query))
				} else {
					r.logger.Error("module download failed",
						zap.String("module", name), zap.String("query", el.Query), zap.Error(err))
				}
				if !r.cfg.ContinueOnError {
					return summary, errs.ErrorOrNil()
				}
			} else {
				summary.Records += len(payload)
				r.notifyFinished(name, el, len(payload), nil)
				if settings.Bulk {
					bulk[name] = append(bulk[name], payload...)
				} else {
					path := RenderPath(outputTemplate, date, name, el.FileName(), settings.Format)
					dump, dumpErr := r.dump(ctx, name, el.FileName(), path, settings.Format, payload, false)
					if dumpErr != nil {
						return summary, multierror.Append(errs, dumpErr).ErrorOrNil()
					}
					summary.Dumps = append(summary.Dumps, dump)
				}
			}
			if settings.Sleep > 0 {
				if err := r.sleep(ctx, settings.Sleep); err != nil {
					return summary, multierror.Append(errs, err).ErrorOrNil()
				}
			}
		}
	}

	for _, in := range r.inputs {
		settings := in.Settings()
		if !settings.Bulk {
			continue
		}
		name := in.Name()
		path := RenderPath(outputTemplate, date, name, BulkName, settings.Format)
		dump, err := r.dump(ctx, name, BulkName, path, settings.Format, bulk[name], true)
		if err != nil {
			return summary, multierror.Append(errs, err).ErrorOrNil()
		}
		summary.Dumps = append(summary.Dumps, dump)
	}
	return summary, errs.ErrorOrNil()
}

func (r *Runner) dump(
	ctx context.Context,
	module, name, path string,
	format OutputFormat,
	payload Payload,
	isBulk bool,
) (Dump, error) {
	data, err := Encode(format, payload)
	if err != nil {
		return Dump{}, fmt.Errorf("encode %s dump %s: %w", module, path, err)
	}
	uri, err := r.deps.Store.PutObject(ctx, path, format.ContentType(), bytes.NewReader(data))
	if err != nil {
		return Dump{}, fmt.Errorf("write %s: %w", path, err)
	}
	dump := Dump{
		JobID:     r.cfg.JobID,
		Module:    module,
		Name:      name,
		Path:      path,
		URI:       uri,
		Format:    format,
		Records:   len(payload),
		Bytes:     len(data),
		Bulk:      isBulk,
		WrittenAt: r.deps.Clock.Now().UTC(),
	}
	if r.deps.Hasher != nil {
		if dump.Hash, err = r.deps.Hasher.Hash(data); err != nil {
			return Dump{}, fmt.Errorf("hash %s: %w", path, err)
		}
	}
	r.logger.Info("dump written",
		zap.String("module", module),
		zap.String("uri", uri),
		zap.Int("records", dump.Records))

	for _, rec := range r.deps.Recorders {
		if err := rec.RecordDump(ctx, dump); err != nil {
			r.logger.Error("record dump failed", zap.String("uri", uri), zap.Error(err))
		}
	}
	for _, obs := range r.deps.Observers {
		obs.Dumped(dump)
	}
	return dump, nil
}

func (r *Runner) notifyStarted(el Element, index, total int) {
	for _, obs := range r.deps.Observers {
		obs.ElementStarted(el, index, total)
	}
}

func (r *Runner) notifyFinished(module string, el Element, records int, err error) {
	for _, obs := range r.deps.Observers {
		obs.ModuleFinished(module, el, records, err)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
