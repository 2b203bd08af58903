// Package batch runs parameterised queries over large key sets in chunks
// that stay under the SQL engine's bound-parameter ceiling.
package batch

import (
	"context"
	"fmt"
	"strings"
)

// DefaultLimit is SQLite's historical SQLITE_MAX_VARIABLE_NUMBER.
const DefaultLimit = 999

// Formatter builds the query text for one chunk from its placeholder list.
type Formatter func(placeholders string) string

// Placeholders renders n bind groups of the given width:
// "?,?,?" for width 1 and "(?,?),(?,?)" for width 2.
func Placeholders(n, width int) string {
	if n <= 0 || width <= 0 {
		return ""
	}
	group := "?"
	if width > 1 {
		group = "(" + strings.TrimSuffix(strings.Repeat("?,", width), ",") + ")"
	}
	return strings.TrimSuffix(strings.Repeat(group+",", n), ",")
}

// ChunkSize returns how many width-wide tuples fit under limit parameters.
func ChunkSize(limit, width int) (int, error) {
	if width <= 0 {
		return 0, fmt.Errorf("batch: invalid tuple width %d", width)
	}
	size := limit / width
	if size < 1 {
		return 0, fmt.Errorf("batch: limit %d too small for tuple width %d", limit, width)
	}
	return size, nil
}

// Fold partitions elems into chunks, runs query once per chunk in input
// order and passes each result to visit before the next chunk starts.
// bind must return exactly width arguments per element. An empty elems is
// a no-op. The first error from query or visit aborts the fold.
func Fold[T, R any](
	ctx context.Context,
	limit int,
	elems []T,
	width int,
	bind func(T) []any,
	format Formatter,
	query func(ctx context.Context, q string, args []any) (R, error),
	visit func(R) error,
) error {
	if len(elems) == 0 {
		return nil
	}
	size, err := ChunkSize(limit, width)
	if err != nil {
		return err
	}

	for start := 0; start < len(elems); start += size {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+size, len(elems))
		chunk := elems[start:end]

		args := make([]any, 0, len(chunk)*width)
		for _, e := range chunk {
			vals := bind(e)
			if len(vals) != width {
				return fmt.Errorf("batch: bind returned %d values, want %d", len(vals), width)
			}
			args = append(args, vals...)
		}

		res, err := query(ctx, format(Placeholders(len(chunk), width)), args)
		if err != nil {
			return err
		}
		if visit != nil {
			if err := visit(res); err != nil {
				return err
			}
		}
	}
	return nil
}

// Exec is Fold for statements without a result.
func Exec[T any](
	ctx context.Context,
	limit int,
	elems []T,
	width int,
	bind func(T) []any,
	format Formatter,
	exec func(ctx context.Context, q string, args []any) error,
) error {
	return Fold(ctx, limit, elems, width, bind, format,
		func(ctx context.Context, q string, args []any) (struct{}, error) {
			return struct{}{}, exec(ctx, q, args)
		}, nil)
}

// One binds a single value.
func One[T any](v T) []any { return []any{v} }

// Pair is a two-column tuple.
type Pair struct {
	A, B string
}

// Bind returns the pair's bind arguments.
func (p Pair) Bind() []any { return []any{p.A, p.B} }
