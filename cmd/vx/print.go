package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/goccy/go-json"

	"github.com/vanderheijden86/vizexplore/pkg/control"
	"github.com/vanderheijden86/vizexplore/pkg/explore"
)

// printOutput is what -print writes.
type printOutput struct {
	URL              string              `json:"url"`
	FormData         map[string]any      `json:"form_data"`
	Stale            bool                `json:"stale"`
	ValidationErrors map[string][]string `json:"validation_errors,omitempty"`
	Columns          []string            `json:"columns,omitempty"`
	Rows             [][]any             `json:"rows,omitempty"`
	Query            string              `json:"query,omitempty"`
	Error            string              `json:"error,omitempty"`
}

// runPrint waits for the initial query, persists the history entry and
// prints the outcome.
func runPrint(ctx context.Context, a *app, w io.Writer, timeout time.Duration) error {
	r, err := awaitQuery(ctx, a.session, timeout)
	if err != nil {
		return err
	}
	a.session.FlushHistory()
	return writeOutput(w, buildOutput(a.session, r))
}

// awaitQuery returns the first render with no query in flight.
func awaitQuery(ctx context.Context, s *explore.Session, timeout time.Duration) (explore.Render, error) {
	done := make(chan explore.Render, 1)
	unsub := s.Subscribe(func(r explore.Render) {
		if r.Querying {
			return
		}
		select {
		case done <- r:
		default:
		}
	})
	defer unsub()

	// The query may have finished before the subscription.
	if !s.Querying() {
		snap := s.Snapshot()
		res, err := s.Result()
		return explore.Render{
			Snapshot:         snap,
			Stale:            s.IsStale(),
			Result:           res,
			Err:              err,
			ValidationErrors: control.ValidationErrors(snap),
		}, nil
	}

	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-done:
		return r, nil
	case <-timer.C:
		return explore.Render{}, errors.New("timed out waiting for the query")
	case <-ctx.Done():
		return explore.Render{}, ctx.Err()
	}
}

func buildOutput(s *explore.Session, r explore.Render) printOutput {
	out := printOutput{
		URL:              s.Window().Location().String(),
		FormData:         s.Definition().Persistable(),
		Stale:            r.Stale,
		ValidationErrors: r.ValidationErrors,
		Columns:          r.Result.Columns,
		Rows:             r.Result.Rows,
		Query:            r.Result.Query,
	}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return out
}

func writeOutput(w io.Writer, out printOutput) error {
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
