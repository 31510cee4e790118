package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"

	"github.com/gofiber/fiber/v2"

	"github.com/ludoarena/battle-coordinator/internal/battle"
)

// StreamBattle streams committed snapshots over SSE: the current one first,
// then every new version as it commits. The subscription is released when the
// client disconnects.
func (s *Server) StreamBattle(c *fiber.Ctx) error {
	id := c.Params("id")
	store := s.engine.Store()

	// reject unknown ids before switching to a stream response
	if _, err := store.Get(c.UserContext(), id); err != nil {
		return writeErr(c, err)
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	reqCtx := c.Context()
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			<-reqCtx.Done()
			cancel()
		}()

		// subscribe before the initial read so no commit lands in between
		updates, err := store.Watch(ctx, id)
		if err != nil {
			return
		}
		var sent int64
		if b, err := store.Get(ctx, id); err == nil {
			if !writeEvent(w, b) {
				return
			}
			sent = b.Version
		}
		for b := range updates {
			if b.Version <= sent {
				continue
			}
			if !writeEvent(w, b) {
				return
			}
			sent = b.Version
		}
	})
	return nil
}

func writeEvent(w *bufio.Writer, b *battle.Battle) bool {
	payload, err := json.Marshal(b)
	if err != nil {
		return false
	}
	fmt.Fprintf(w, "event: battle\ndata: %s\n\n", payload)
	return w.Flush() == nil
}
