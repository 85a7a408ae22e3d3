package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/ticksync/ticksync/internal/core/observability/log"
	"github.com/ticksync/ticksync/internal/core/transport"
	"github.com/ticksync/ticksync/internal/core/transport/ws"
	"github.com/ticksync/ticksync/pkg/statehash"
)

const replHelp = `commands:
  /post <room> <json>    publish an event
  /load <room> <from>    stream the backlog from an index
  /watch <room>          print the room's live posts
  /unwatch <room>        stop watching
  /digest <room>         fingerprint of the posts seen so far
  /time                  estimated broker time
  /ping                  last probe round-trip
  /quit`

// repl is a transport-level poking tool: it prints every delivered
// post and keeps them around for digesting.
type repl struct {
	tr *ws.Transport

	mu   sync.Mutex
	seen map[string]map[int64]json.RawMessage
}

func replCmd() *cobra.Command {
	var url string

	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Interactive client against a broker",
		RunE: func(cmd *cobra.Command, _ []string) error {
			tr, err := ws.Dial(cmd.Context(), url, ws.DefaultConfig(), log.Nop())
			if err != nil {
				return err
			}
			defer tr.Close()

			r := &repl{tr: tr, seen: make(map[string]map[int64]json.RawMessage)}
			return r.run(cmd.Context())
		},
	}

	cmd.Flags().StringVarP(&url, "url", "u", "ws://127.0.0.1:8080/ws", "broker WebSocket URL")
	return cmd
}

func (r *repl) run(_ context.Context) error {
	fmt.Println(replHelp)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" {
			return nil
		}
		r.dispatch(line)
	}
	return scanner.Err()
}

func (r *repl) dispatch(line string) {
	fields := strings.SplitN(line, " ", 3)
	switch fields[0] {
	case "/post":
		if len(fields) < 3 {
			fmt.Println("usage: /post <room> <json>")
			return
		}
		if !json.Valid([]byte(fields[2])) {
			fmt.Println("payload is not valid JSON")
			return
		}
		name, err := r.tr.Post(fields[1], json.RawMessage(fields[2]))
		if err != nil {
			fmt.Println("post failed:", err)
			return
		}
		fmt.Println("posted as", name)

	case "/load":
		if len(fields) < 2 {
			fmt.Println("usage: /load <room> <from>")
			return
		}
		from := int64(0)
		if len(fields) == 3 {
			v, err := strconv.ParseInt(fields[2], 10, 64)
			if err != nil {
				fmt.Println("bad index:", err)
				return
			}
			from = v
		}
		r.ensureWatch(fields[1])
		if err := r.tr.Load(fields[1], from); err != nil {
			fmt.Println("load failed:", err)
		}

	case "/watch":
		if len(fields) < 2 {
			fmt.Println("usage: /watch <room>")
			return
		}
		r.ensureWatch(fields[1])

	case "/unwatch":
		if len(fields) < 2 {
			fmt.Println("usage: /unwatch <room>")
			return
		}
		if err := r.tr.Unwatch(fields[1]); err != nil {
			fmt.Println("unwatch failed:", err)
		}

	case "/digest":
		if len(fields) < 2 {
			fmt.Println("usage: /digest <room>")
			return
		}
		r.mu.Lock()
		posts := r.seen[fields[1]]
		sum, err := statehash.Sum(posts)
		r.mu.Unlock()
		if err != nil {
			fmt.Println("digest failed:", err)
			return
		}
		fmt.Printf("%s: %d posts, digest %s\n", fields[1], len(posts), sum)

	case "/time":
		t, err := r.tr.ServerTime()
		if err != nil {
			fmt.Println("not synced yet:", err)
			return
		}
		fmt.Println(t)

	case "/ping":
		rtt, ok := r.tr.Ping()
		if !ok {
			fmt.Println("no probe completed yet")
			return
		}
		fmt.Printf("%dms\n", rtt)

	default:
		fmt.Println(replHelp)
	}
}

func (r *repl) ensureWatch(room string) {
	err := r.tr.Watch(room, func(p transport.Post) {
		r.mu.Lock()
		posts := r.seen[p.Room]
		if posts == nil {
			posts = make(map[int64]json.RawMessage)
			r.seen[p.Room] = posts
		}
		posts[p.Index] = p.Data
		r.mu.Unlock()
		fmt.Printf("[%s #%d] %s (name %s, server %d, client %d)\n",
			p.Room, p.Index, string(p.Data), p.Name, p.ServerTime, p.ClientTime)
	})
	if err != nil && err != transport.ErrDuplicateHandler {
		fmt.Println("watch failed:", err)
	}
}
