package events

import (
	"context"
	"log"
	"time"
)

// emitTimeout bounds a single async emit.
const emitTimeout = 5 * time.Second

// EmitAsync runs Emit in a goroutine so the lifecycle call is not blocked.
// The goroutine uses context.Background() with emitTimeout so request
// cancellation does not abort an in-flight emit. Errors are logged.
func EmitAsync(emitter Emitter, event *RoleEvent) {
	if emitter == nil || event == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), emitTimeout)
		defer cancel()
		if err := emitter.Emit(ctx, event); err != nil {
			log.Printf("events: async emit failed: %v", err)
		}
	}()
}
