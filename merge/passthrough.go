package merge

import (
	"context"
	"log/slog"

	"github.com/syssam/bulkmerge"
	"github.com/syssam/bulkmerge/dialect"
)

// Passthrough executes each mutation's command on its own.
type Passthrough struct {
	dialect string
	log     *slog.Logger
}

// NewPassthrough returns a Passthrough for the given dialect.
func NewPassthrough(dialectName string, opts ...Option) *Passthrough {
	o := newOptions(opts)
	return &Passthrough{dialect: dialect.Normalize(dialectName), log: o.logger}
}

// Merge implements the Merger interface.
func (p *Passthrough) Merge(ctx context.Context, ex dialect.ExecQuerier, muts []*bulkmerge.EntityMutation) (int64, error) {
	var total int64
	for _, m := range muts {
		n, err := RunCommand(ctx, ex, p.dialect, p.log, m.Command)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// RunCommand renders cmd for the dialect and executes it.
func RunCommand(ctx context.Context, ex dialect.ExecQuerier, dialectName string, log *slog.Logger, cmd *bulkmerge.CommandDescriptor) (int64, error) {
	query, args, err := cmd.Render(dialectName, bulkmerge.RenderArgs, 0)
	if err != nil {
		return 0, err
	}
	if log != nil {
		log.DebugContext(ctx, "exec", "sql", query, "args", args)
	}
	return Exec(ctx, ex, query, args)
}
