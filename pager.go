package mql

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// PageHandler receives result pages in order. Returning an error stops the
// drain.
type PageHandler func(page *ResultPage) error

// Pager reads the pages of a successful query job.
type Pager struct {
	transport Transport
}

// NewPager creates a Pager over t.
func NewPager(t Transport) *Pager {
	return &Pager{transport: t}
}

// FetchAll reads every page of the job described by last and concatenates
// them in fetch order. last must be a StatusSuccessful snapshot; anything
// else is a KindInvalidState error and no page is requested. An empty result
// is a table with no rows.
func (p *Pager) FetchAll(ctx context.Context, last *JobStatusSnapshot) (*Table, error) {
	table := &Table{Rows: make([]Row, 0)}
	first := true
	err := p.Drain(ctx, last, func(page *ResultPage) error {
		if first {
			table.Columns = page.Columns
			first = false
		}
		table.Rows = append(table.Rows, page.Rows...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return table, nil
}

// Drain streams the pages of the job described by last to handler without
// accumulating them. Pages are fetched one at a time: a cursor is only valid
// once the page before it has been served. The first page fixes the schema;
// a later page that declares a different one, or a cursor that does not move
// forward, is a KindProtocol error.
func (p *Pager) Drain(ctx context.Context, last *JobStatusSnapshot, handler PageHandler) error {
	const op = "get page"

	if last == nil {
		return &Error{Kind: KindInvalidState, Op: op, Message: "no status snapshot has been observed"}
	}
	id := last.JobID
	if last.Status != StatusSuccessful {
		return &Error{
			Kind:    KindInvalidState,
			JobID:   id,
			Op:      op,
			Message: fmt.Sprintf("results can only be fetched for a %s job, last status was %s", StatusSuccessful, last.Status),
		}
	}

	var schema []Column
	cursor := 0
	for pageNum := 0; ; pageNum++ {
		if err := ctx.Err(); err != nil {
			return canceledError(op, id, err)
		}

		page, err := p.transport.GetPage(ctx, id, cursor)
		if err != nil {
			return wrapCallError(ctx, op, id, err)
		}
		if page == nil {
			return &Error{Kind: KindProtocol, JobID: id, Op: op, Message: fmt.Sprintf("empty response for cursor %d", cursor)}
		}

		if pageNum == 0 {
			schema = page.Columns
		} else if len(page.Columns) > 0 && !sameSchema(schema, page.Columns) {
			return &Error{
				Kind:    KindProtocol,
				JobID:   id,
				Op:      op,
				Message: fmt.Sprintf("page at cursor %d has schema %v, expected %v", cursor, page.Columns, schema),
			}
		}
		if len(schema) > 0 {
			for i, row := range page.Rows {
				if len(row) != len(schema) {
					return &Error{
						Kind:    KindProtocol,
						JobID:   id,
						Op:      op,
						Message: fmt.Sprintf("row %d at cursor %d has %d values for %d columns", i, cursor, len(row), len(schema)),
					}
				}
			}
		}

		log.Debug().Str("job_id", id.String()).Int("cursor", cursor).Int("rows", len(page.Rows)).
			Bool("has_more", page.HasMore()).Msg("fetched result page")

		if handler != nil {
			if err := handler(page); err != nil {
				return fmt.Errorf("page handler returned error for job %s: %w", id, err)
			}
		}

		if !page.HasMore() {
			return nil
		}
		if *page.NextCursor <= cursor {
			return &Error{
				Kind:    KindProtocol,
				JobID:   id,
				Op:      op,
				Message: fmt.Sprintf("next cursor %d does not advance past %d", *page.NextCursor, cursor),
			}
		}
		cursor = *page.NextCursor
	}
}
