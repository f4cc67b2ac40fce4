package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rickgao/rtlink/internal/codec"
	"github.com/rickgao/rtlink/internal/connection"
	"github.com/rickgao/rtlink/internal/realtime"
)

// printEvents writes each inbound message as one JSON line until ctx is done
// or the stream completes. Decode failures are reported and skipped; a
// terminal stream error is returned.
func printEvents(ctx context.Context, w io.Writer, sub *realtime.Subscription) error {
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.C():
			if !ok {
				return nil
			}
			if ev.Err != nil {
				if errors.Is(ev.Err, connection.ErrDecode) {
					fmt.Fprintf(w, "# %v\n", ev.Err)
					continue
				}
				return ev.Err
			}
			line, err := codec.EncodeString(ev.Value)
			if err != nil {
				return err
			}
			fmt.Fprintln(w, line)
		}
	}
}
