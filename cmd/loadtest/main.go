package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"schoolchat/internal/logger"
	"schoolchat/internal/messenger"
	"schoolchat/internal/models"
	"schoolchat/internal/session"
)

var log = logger.New("LOADTEST")

type opts struct {
	baseURL   string
	users     int
	rate      int
	duration  time.Duration
	batchSize int
}

func main() {
	var o opts
	flag.StringVar(&o.baseURL, "api", "http://localhost:8080/api", "REST base URL")
	flag.IntVar(&o.users, "users", 200, "number of simulated users, paired student/teacher")
	flag.IntVar(&o.rate, "rate", 1, "messages per second per user")
	flag.DurationVar(&o.duration, "duration", time.Minute, "simulation length")
	flag.IntVar(&o.batchSize, "batch", 50, "users registered in parallel")
	flag.Parse()

	if o.users < 2 {
		o.users = 2
	}
	if o.rate < 1 {
		o.rate = 1
	}
	if o.batchSize < 1 {
		o.batchSize = 1
	}

	log.Info("Starting load test with %d users, %d messages per second per user, for %v", o.users, o.rate, o.duration)
	log.Info("IMPORTANT: Make sure to start the server with the -loadtest flag:")
	log.Info("  go run ./cmd/server -loadtest")

	ctx := context.Background()
	run := time.Now().Unix()

	start := time.Now()
	clients := registerAll(ctx, o, run)
	registration := time.Since(start)
	ok := 0
	for _, c := range clients {
		if c != nil {
			ok++
		}
	}
	log.Info("Registered %d/%d users in %v (%.2f users/sec)", ok, o.users, registration, float64(ok)/registration.Seconds())
	if ok < o.users/2 {
		log.Fatal(fmt.Errorf("%d of %d registrations failed", o.users-ok, o.users), "Too many registration failures, aborting load test")
	}
	defer func() {
		for _, c := range clients {
			if c != nil {
				c.Detach()
			}
		}
	}()

	pairs := pairUp(ctx, clients)
	log.Info("Connected %d pairs", len(pairs))

	stats := &Stats{}
	var wg sync.WaitGroup
	begin := time.Now()
	for _, p := range pairs {
		wg.Add(2)
		go simulate(ctx, p[0], o, stats, &wg)
		go simulate(ctx, p[1], o, stats, &wg)
	}
	wg.Wait()

	stats.report(time.Since(begin))
}

func registerAll(ctx context.Context, o opts, run int64) []*messenger.Messenger {
	clients := make([]*messenger.Messenger, o.users)
	sem := make(chan struct{}, o.batchSize)
	var wg sync.WaitGroup
	var errMu sync.Mutex
	errCount := 0

	for i := 0; i < o.users; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()

			role := models.RoleStudent
			if i%2 == 1 {
				role = models.RoleTeacher
			}
			m, err := messenger.New(session.New(), messenger.Options{APIBaseURL: o.baseURL, Logger: logger.Discard()})
			if err == nil {
				err = m.Register(ctx, models.RegisterRequest{
					Name:     fmt.Sprintf("Load User %d", i),
					Email:    fmt.Sprintf("loadtest_%d_%d@school.test", run, i),
					Password: "testpass123",
					Role:     role,
				})
			}
			if err == nil {
				err = m.Attach(ctx)
			}
			if err != nil {
				errMu.Lock()
				errCount++
				if errCount <= 10 {
					log.Warn("user %d: %v", i, err)
				}
				errMu.Unlock()
				return
			}
			clients[i] = m
		}(i)
	}
	wg.Wait()
	return clients
}

// pairUp connects each student with the teacher registered right after it.
func pairUp(ctx context.Context, clients []*messenger.Messenger) [][2]*messenger.Messenger {
	var pairs [][2]*messenger.Messenger
	for i := 0; i+1 < len(clients); i += 2 {
		a, b := clients[i], clients[i+1]
		if a == nil || b == nil {
			continue
		}
		if err := a.RequestConnection(ctx, b.Session.UserID()); err != nil {
			continue
		}
		reqs, err := b.Graph.PendingRequests(ctx)
		if err != nil || len(reqs) == 0 {
			continue
		}
		if err := b.Respond(ctx, reqs[0].ID, true); err != nil {
			continue
		}
		if err := a.OpenPeer(ctx, b.Session.UserID()); err != nil {
			continue
		}
		if err := b.OpenPeer(ctx, a.Session.UserID()); err != nil {
			continue
		}
		pairs = append(pairs, [2]*messenger.Messenger{a, b})
	}
	return pairs
}

func simulate(ctx context.Context, me *messenger.Messenger, o opts, stats *Stats, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(time.Second / time.Duration(o.rate))
	defer ticker.Stop()
	end := time.Now().Add(o.duration)

	for time.Now().Before(end) {
		<-ticker.C

		if rand.Float32() < 0.5 {
			start := time.Now()
			_, err := me.SendText(ctx, fmt.Sprintf("Test message at %s", start.Format(time.RFC3339Nano)))
			if err != nil {
				stats.recordError()
				continue
			}
			stats.recordSuccess(time.Since(start), WriteOperation)
		} else {
			start := time.Now()
			if err := me.Conversation.Refresh(ctx); err != nil {
				stats.recordError()
				continue
			}
			stats.recordSuccess(time.Since(start), ReadOperation)
		}
	}
}
