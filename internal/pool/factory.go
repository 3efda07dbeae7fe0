// Package pool opens the source and destination connection pools and hands
// out per-table connections to the transfer pipeline.
package pool

import (
	"context"
	"fmt"

	"github.com/johndauphine/mssql-pg-geocopy/internal/dbconfig"
	"github.com/johndauphine/mssql-pg-geocopy/internal/source"
	"github.com/johndauphine/mssql-pg-geocopy/internal/target"
	"github.com/johndauphine/mssql-pg-geocopy/internal/transfer"
)

// Pools holds both sides of a run.
type Pools struct {
	Source *source.Pool
	Target *target.Pool
}

// Open connects to the source and target. maxConns bounds each pool; one
// connection per side is used per concurrently running table.
func Open(ctx context.Context, src *dbconfig.SourceConfig, tgt *dbconfig.TargetConfig, maxConns int) (*Pools, error) {
	sp, err := source.NewPool(ctx, src, maxConns)
	if err != nil {
		return nil, fmt.Errorf("connecting to source %s:%d: %w", src.Host, src.Port, err)
	}
	tp, err := target.NewPool(ctx, tgt, maxConns)
	if err != nil {
		sp.Close()
		return nil, fmt.Errorf("connecting to target %s:%d: %w", tgt.Host, tgt.Port, err)
	}
	return &Pools{Source: sp, Target: tp}, nil
}

// Close closes both pools.
func (p *Pools) Close() {
	if p.Source != nil {
		p.Source.Close()
	}
	if p.Target != nil {
		p.Target.Close()
	}
}

// Sources returns a transfer.SourceFunc reserving one source connection per call.
func (p *Pools) Sources() transfer.SourceFunc {
	return SourceFunc(p.Source)
}

// Sessions returns a transfer.SessionFunc opening one destination transaction per call.
func (p *Pools) Sessions() transfer.SessionFunc {
	return SessionFunc(p.Target)
}

// SourceFunc adapts a source pool to the pipeline.
func SourceFunc(sp *source.Pool) transfer.SourceFunc {
	return func(ctx context.Context) (transfer.RowSource, error) {
		r, err := sp.Open(ctx)
		if err != nil {
			return nil, err
		}
		return r, nil
	}
}

// SessionFunc adapts a target pool to the pipeline.
func SessionFunc(tp *target.Pool) transfer.SessionFunc {
	return func(ctx context.Context) (transfer.Session, error) {
		s, err := tp.Begin(ctx)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

var (
	_ transfer.RowSource = (*source.Reader)(nil)
	_ transfer.Session   = (*target.Session)(nil)
)
