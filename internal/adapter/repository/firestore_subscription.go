package repository

import (
	"context"
	"log"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"lovelink/internal/domain/repository"
)

// toFirestore swaps the store-neutral timestamp sentinel for Firestore's.
func toFirestore(fields repository.Fields) map[string]interface{} {
	return repository.Resolve(fields, firestore.ServerTimestamp)
}

// watchQuery runs a snapshot listener on its own goroutine until the returned function
// is called or ctx ends. The client library reconnects on its own; an error that reaches
// us is terminal and is only logged.
func watchQuery(ctx context.Context, query firestore.Query, label string, fn func([]*firestore.DocumentSnapshot)) repository.Unsubscribe {
	ctx, cancel := context.WithCancel(ctx)
	it := query.Snapshots(ctx)

	go func() {
		defer it.Stop()
		for {
			snap, err := it.Next()
			if err != nil {
				logListenerEnd(ctx, label, err)
				return
			}
			docs, err := snap.Documents.GetAll()
			if err != nil {
				log.Printf("Snapshot listener %s: failed to read documents: %v", label, err)
				continue
			}
			if ctx.Err() != nil {
				return
			}
			fn(docs)
		}
	}()

	return stopWith(ctx, cancel)
}

func logListenerEnd(ctx context.Context, label string, err error) {
	if ctx.Err() != nil || status.Code(err) == codes.Canceled {
		return
	}
	log.Printf("Snapshot listener %s stopped: %v", label, err)
}
