package journal

import (
	"context"

	"github.com/cortexlab/cortex/internal/bus"
	"github.com/cortexlab/cortex/internal/connectors"
)

// WriteQueue serialises journal writes from async events.
type WriteQueue interface {
	Enqueue(name string, fn func(context.Context) error) bool
}

// StartProjection copies command results and connection changes from the
// event bus into the journal until ctx is cancelled.
func StartProjection(ctx context.Context, b bus.MessageBus, queue WriteQueue, repo *Repo) {
	commandSub := b.Subscribe(connectors.TopicCommandResult)
	statusSub := b.Subscribe(connectors.TopicConnStatus)

	go func() {
		defer b.Unsubscribe(commandSub, connectors.TopicCommandResult)
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-commandSub:
				if !ok {
					return
				}
				res, ok := raw.(connectors.CommandResult)
				if !ok {
					continue
				}
				queue.Enqueue("insert_command", func(writeCtx context.Context) error {
					return repo.InsertCommand(writeCtx, res)
				})
			}
		}
	}()

	go func() {
		defer b.Unsubscribe(statusSub, connectors.TopicConnStatus)
		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-statusSub:
				if !ok {
					return
				}
				status, ok := raw.(connectors.ConnectionStatus)
				if !ok {
					continue
				}
				queue.Enqueue("insert_connection_event", func(writeCtx context.Context) error {
					return repo.InsertConnection(writeCtx, status)
				})
			}
		}
	}()
}
