package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/liangmanlin/readline"

	"github.com/freekieb7/burrow/http"
	"github.com/freekieb7/burrow/websocket"
)

func main() {
	var opts http.ClientOptions
	flag.StringVar(&opts.Host, "host", "127.0.0.1", "server host")
	flag.IntVar(&opts.Port, "port", 8080, "server port")
	flag.BoolVar(&opts.TLS, "tls", false, "connect with TLS")
	flag.StringVar(&opts.ClientCert, "cert", "", "PEM file with the client certificate and key")
	flag.StringVar(&opts.ServerCert, "server-cert", "", "PEM file with the pinned server certificate")
	flag.Parse()

	l, err := readline.NewEx(&readline.Config{
		Prompt:              fmt.Sprintf("(%s:%d)\033[31m>\033[0m ", opts.Host, opts.Port),
		AutoComplete:        readline.NewPrefixCompleter(completions()...),
		InterruptPrompt:     "^C",
		EOFPrompt:           "exit",
		HistorySearchFold:   true,
		FuncFilterInputRune: filterInput,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer l.Close()

	s := &session{opts: opts, out: l.Stderr()}
	defer s.closeWebSocket()

	fmt.Fprintln(l.Stderr(), "\nwelcome to the burrow shell")
	fmt.Fprintln(l.Stderr(), "command: help for more information")

	for {
		line, err := l.Readline()
		if err == readline.ErrInterrupt {
			if len(line) == 0 {
				break
			}
			continue
		} else if err == io.EOF {
			break
		}

		if !s.execute(context.Background(), line) {
			break
		}
	}
}

func filterInput(r rune) (rune, bool) {
	switch r {
	// block CtrlZ feature
	case readline.CharCtrlZ:
		return r, false
	}
	return r, true
}

// session holds the open websocket, if any.
type session struct {
	opts http.ClientOptions
	out  io.Writer
	ws   *http.Conn
}

// execute runs one command line and reports whether the shell continues.
func (s *session) execute(ctx context.Context, line string) bool {
	cmd, arg := parseCommand(line)
	switch cmd {
	case "":
	case "help":
		fmt.Fprintln(s.out, "commands:\n"+strings.Join(help, "\n"))
	case "quit", "exit":
		return false
	case "get":
		s.get(ctx, arg)
	case "ws":
		s.openWebSocket(ctx, arg)
	case "send":
		s.send(arg)
	case "close":
		s.closeWebSocket()
	default:
		fmt.Fprintf(s.out, "unknown command %q, try help\n", cmd)
	}
	return true
}

func (s *session) get(ctx context.Context, path string) {
	c, err := http.Download(ctx, s.opts, "GET %s HTTP/1.1\r\nHost: %s\r\nConnection: close\r\n\r\n", requestPath(path), s.opts.Host)
	if err != nil {
		fmt.Fprintln(s.out, err)
		return
	}
	defer c.Close()

	resp := c.ResponseInfo()
	fmt.Fprintf(s.out, "%s %d %s\n", resp.Proto, resp.StatusCode, resp.Status)
	if _, err := io.Copy(s.out, c); err != nil {
		fmt.Fprintln(s.out, err)
	}
	fmt.Fprintln(s.out)
}

func (s *session) openWebSocket(ctx context.Context, path string) {
	if s.ws != nil {
		fmt.Fprintln(s.out, "a websocket is already open, close it first")
		return
	}

	handler := http.WebSocketClientHandler{
		Data: func(c *http.Conn, flags byte, payload []byte, data any) bool {
			if websocket.Opcode(flags&0x0f) == websocket.OpBinary {
				fmt.Fprintf(s.out, "< %d bytes\n", len(payload))
			} else {
				fmt.Fprintf(s.out, "< %s\n", payload)
			}
			return true
		},
		Close: func(c *http.Conn, data any) {
			fmt.Fprintln(s.out, "websocket closed")
		},
	}

	c, err := http.DialWebSocket(ctx, s.opts, requestPath(path), "", handler, nil)
	if err != nil {
		fmt.Fprintln(s.out, err)
		return
	}
	s.ws = c
}

func (s *session) send(text string) {
	if s.ws == nil {
		fmt.Fprintln(s.out, "no websocket open, use ws <path>")
		return
	}
	if err := s.ws.WebSocketClientWrite(websocket.OpText, []byte(text)); err != nil {
		fmt.Fprintln(s.out, err)
		s.ws.Close()
		s.ws = nil
	}
}

func (s *session) closeWebSocket() {
	if s.ws == nil {
		return
	}
	s.ws.Close()
	s.ws = nil
}
